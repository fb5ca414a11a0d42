package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/roundup/internal/api"
	"github.com/jackzampolin/roundup/internal/ledger"
)

var (
	retryModel string
	retryDir   string
)

var retryCmd = &cobra.Command{
	Use:   "retry <records.csv> [job-names...]",
	Short: "Re-run failed or timed-out jobs",
	Long: `Retry re-runs every Failed or TimedOut job that still has attempts
remaining, with the longer retry-pass delay between jobs. Naming jobs
explicitly resets their attempt counters first (manual override for jobs
that exhausted their attempts).`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true

		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		table, err := loadTable(cfg, args[0])
		if err != nil {
			return err
		}

		dir := retryDir
		if dir == "" {
			dir = cfg.OutputDir
		}
		model := retryModel
		if model == "" {
			model = cfg.Model
		}

		led, err := ledger.Load(dir)
		if err != nil {
			return err
		}
		if len(led.Jobs) == 0 {
			return fmt.Errorf("no ledger found in %s; run first", dir)
		}

		runner, err := buildRunner(cfg, led, table, dir, model)
		if err != nil {
			return err
		}

		if err := runner.RetryFailed(cmd.Context(), args[1:]); err != nil {
			return err
		}

		summary := runner.Summarize()
		if err := api.Output(summary); err != nil {
			return err
		}
		if n := len(summary.Unfinished); n > 0 {
			return fmt.Errorf("%d of %d jobs did not complete", n, summary.Counts.Total)
		}
		return nil
	},
}

func init() {
	retryCmd.Flags().StringVar(&retryModel, "model", "", "model to request (default from config)")
	retryCmd.Flags().StringVar(&retryDir, "output-dir", "", "run directory (default from config)")
}
