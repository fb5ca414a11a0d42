package config

import (
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Model != "gpt-4o-mini" {
		t.Errorf("model = %q", cfg.Model)
	}
	if cfg.BatchSize != 20 || cfg.MaxAttempts != 3 {
		t.Errorf("batch_size = %d, max_attempts = %d", cfg.BatchSize, cfg.MaxAttempts)
	}
	if cfg.CompletionWindow != "24h" {
		t.Errorf("completion_window = %q", cfg.CompletionWindow)
	}
	if cfg.Delays.AfterSuccess != 30*time.Second ||
		cfg.Delays.AfterFailure != 60*time.Second ||
		cfg.Delays.RetryPass != 60*time.Second {
		t.Errorf("delays = %+v", cfg.Delays)
	}
	if cfg.Payloads.MaxBytes != 20*1024*1024 || cfg.Payloads.MaxPromptChars != 4000 {
		t.Errorf("payloads = %+v", cfg.Payloads)
	}
	if cfg.Records.ImageColumn == "" || cfg.Records.PromptColumn == "" {
		t.Errorf("records = %+v", cfg.Records)
	}
}

func TestResolveEnvVars(t *testing.T) {
	t.Run("expands env var references", func(t *testing.T) {
		t.Setenv("TEST_ROUNDUP_KEY", "sk-test-123")
		if got := ResolveEnvVars("${TEST_ROUNDUP_KEY}"); got != "sk-test-123" {
			t.Errorf("got %q", got)
		}
	})

	t.Run("plain strings pass through", func(t *testing.T) {
		if got := ResolveEnvVars("sk-literal"); got != "sk-literal" {
			t.Errorf("got %q", got)
		}
		if got := ResolveEnvVars(""); got != "" {
			t.Errorf("got %q", got)
		}
	})

	t.Run("unset vars expand to empty", func(t *testing.T) {
		if got := ResolveEnvVars("${DEFINITELY_NOT_SET_XYZ}"); got != "" {
			t.Errorf("got %q", got)
		}
	})

	t.Run("mixed content", func(t *testing.T) {
		t.Setenv("TEST_ROUNDUP_HOST", "example.com")
		if got := ResolveEnvVars("https://${TEST_ROUNDUP_HOST}/v1"); got != "https://example.com/v1" {
			t.Errorf("got %q", got)
		}
	})
}

func TestResolveAPIKey(t *testing.T) {
	t.Setenv("TEST_ROUNDUP_API_KEY", "sk-from-env")
	cfg := DefaultConfig()
	cfg.Gateway.APIKey = "${TEST_ROUNDUP_API_KEY}"
	if got := cfg.ResolveAPIKey(); got != "sk-from-env" {
		t.Errorf("got %q", got)
	}
}
