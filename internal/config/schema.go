package config

import "time"

// Config holds roundup configuration.
// Loaded from ./roundup.yaml or ~/.roundup/config.yaml.
type Config struct {
	Model            string      `mapstructure:"model" yaml:"model"`
	BatchSize        int         `mapstructure:"batch_size" yaml:"batch_size"`
	MaxAttempts      int         `mapstructure:"max_attempts" yaml:"max_attempts"`
	CompletionWindow string      `mapstructure:"completion_window" yaml:"completion_window"`
	OutputDir        string      `mapstructure:"output_dir" yaml:"output_dir"`
	Gateway          GatewayCfg  `mapstructure:"gateway" yaml:"gateway"`
	Delays           DelaysCfg   `mapstructure:"delays" yaml:"delays"`
	Records          RecordsCfg  `mapstructure:"records" yaml:"records"`
	Payloads         PayloadsCfg `mapstructure:"payloads" yaml:"payloads"`
}

// GatewayCfg configures the batch submission gateway client.
type GatewayCfg struct {
	APIKey         string        `mapstructure:"api_key" yaml:"api_key"` // supports ${ENV_VAR} syntax
	BaseURL        string        `mapstructure:"base_url" yaml:"base_url"`
	RequestTimeout time.Duration `mapstructure:"request_timeout" yaml:"request_timeout"`
	UploadRetries  uint          `mapstructure:"upload_retries" yaml:"upload_retries"`
	PollInterval   time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`
	JobTimeout     time.Duration `mapstructure:"job_timeout" yaml:"job_timeout"`
}

// DelaysCfg holds the fixed inter-job delays. Deliberately not exponential:
// the workload is human-supervised and low-concurrency, and the only
// consumer of these timings is rate-limit courtesy toward the provider.
type DelaysCfg struct {
	AfterSuccess time.Duration `mapstructure:"after_success" yaml:"after_success"`
	AfterFailure time.Duration `mapstructure:"after_failure" yaml:"after_failure"`
	RetryPass    time.Duration `mapstructure:"retry_pass" yaml:"retry_pass"`
}

// RecordsCfg names the columns of the record table.
type RecordsCfg struct {
	ImageColumn  string `mapstructure:"image_column" yaml:"image_column"`
	PromptColumn string `mapstructure:"prompt_column" yaml:"prompt_column"`
}

// PayloadsCfg bounds per-record payloads.
type PayloadsCfg struct {
	MaxBytes       int64 `mapstructure:"max_bytes" yaml:"max_bytes"`
	MaxPromptChars int   `mapstructure:"max_prompt_chars" yaml:"max_prompt_chars"`
}

// DefaultConfig returns configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Model:            "gpt-4o-mini",
		BatchSize:        20,
		MaxAttempts:      3,
		CompletionWindow: "24h",
		OutputDir:        "batch_results",
		Gateway: GatewayCfg{
			APIKey:         "${OPENAI_API_KEY}",
			RequestTimeout: 120 * time.Second,
			UploadRetries:  3,
			PollInterval:   30 * time.Second,
			JobTimeout:     10 * time.Minute,
		},
		Delays: DelaysCfg{
			AfterSuccess: 30 * time.Second,
			AfterFailure: 60 * time.Second,
			RetryPass:    60 * time.Second,
		},
		Records: RecordsCfg{
			ImageColumn:  "Image Path",
			PromptColumn: "Content of P*",
		},
		Payloads: PayloadsCfg{
			MaxBytes:       20 * 1024 * 1024,
			MaxPromptChars: 4000,
		},
	}
}
