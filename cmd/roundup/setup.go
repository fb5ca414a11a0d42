package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	"github.com/jackzampolin/roundup/internal/config"
	"github.com/jackzampolin/roundup/internal/costs"
	"github.com/jackzampolin/roundup/internal/encoder"
	"github.com/jackzampolin/roundup/internal/gateway"
	"github.com/jackzampolin/roundup/internal/ledger"
	"github.com/jackzampolin/roundup/internal/orchestrator"
	"github.com/jackzampolin/roundup/internal/reconcile"
	"github.com/jackzampolin/roundup/internal/records"
)

// loadTable reads the record table using the configured column names.
func loadTable(cfg *config.Config, path string) (*records.Table, error) {
	table, err := records.Load(path, cfg.Records.ImageColumn, cfg.Records.PromptColumn)
	if err != nil {
		return nil, err
	}
	if table.Len() == 0 {
		return nil, fmt.Errorf("record table %s has no records", path)
	}
	return table, nil
}

// buildRunner wires the orchestrator against the real gateway.
func buildRunner(cfg *config.Config, led *ledger.Ledger, table *records.Table, dir, model string) (*orchestrator.Runner, error) {
	apiKey := cfg.ResolveAPIKey()
	if apiKey == "" {
		return nil, fmt.Errorf("no API key configured: set OPENAI_API_KEY or gateway.api_key")
	}

	tracker, err := costs.NewTracker(dir)
	if err != nil {
		return nil, err
	}

	gw := gateway.NewOpenAI(gateway.OpenAIConfig{
		APIKey:         apiKey,
		BaseURL:        cfg.Gateway.BaseURL,
		RequestTimeout: cfg.Gateway.RequestTimeout,
		UploadRetries:  cfg.Gateway.UploadRetries,
	})

	return orchestrator.New(orchestrator.Config{
		Ledger:           led,
		Gateway:          gw,
		Table:            table,
		Dir:              dir,
		Model:            model,
		CompletionWindow: cfg.CompletionWindow,
		EncodeOpts: encoder.Options{
			MaxBytes:       cfg.Payloads.MaxBytes,
			MaxPromptChars: cfg.Payloads.MaxPromptChars,
		},
		PollInterval: cfg.Gateway.PollInterval,
		JobTimeout:   cfg.Gateway.JobTimeout,
		Delays: orchestrator.Delays{
			AfterSuccess: cfg.Delays.AfterSuccess,
			AfterFailure: cfg.Delays.AfterFailure,
			RetryPass:    cfg.Delays.RetryPass,
		},
		Costs:  tracker,
		Logger: slog.Default(),
	}), nil
}

// resultFiles loads every result file in the run directory in lexical
// order. Lexical order is the documented duplicate tie-break for merges.
func resultFiles(dir string) ([]reconcile.File, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "batch_results_*.jsonl"))
	if err != nil {
		return nil, err
	}
	sort.Strings(paths)

	files := make([]reconcile.File, 0, len(paths))
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			return nil, fmt.Errorf("failed to read result file %s: %w", p, err)
		}
		files = append(files, reconcile.File{Name: filepath.Base(p), Data: data})
	}
	return files, nil
}

// missingRowsPath is the handoff artifact between merge and rescue.
func missingRowsPath(dir string) string {
	return filepath.Join(dir, "missing_rows.txt")
}
