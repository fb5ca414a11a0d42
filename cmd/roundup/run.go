package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/roundup/internal/api"
	"github.com/jackzampolin/roundup/internal/ledger"
	"github.com/jackzampolin/roundup/internal/planner"
)

var (
	runBatchSize int
	runModel     string
	runStart     int
	runEnd       int
	runDir       string
)

var runCmd = &cobra.Command{
	Use:   "run <records.csv>",
	Short: "Plan jobs over the record table and execute them",
	Long: `Run partitions the record rows in [--start, --end) into jobs of
--batch-size rows, adds any jobs not already present in the ledger, and
executes every runnable job in order. The ledger is persisted after every
status transition, so an interrupted run resumes where it left off.

Exits non-zero if any job remains non-completed.`,
	Args: cobra.ExactArgs(1),
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

		dir := runDir
		if dir == "" {
			dir = cfg.OutputDir
		}
		model := runModel
		if model == "" {
			model = cfg.Model
		}
		size := runBatchSize
		if size <= 0 {
			size = cfg.BatchSize
		}
		end := runEnd
		if end <= 0 || end > table.Len() {
			end = table.Len()
		}

		led, err := ledger.Load(dir)
		if err != nil {
			return err
		}
		if added := planner.Plan(led, runStart, end, size, cfg.MaxAttempts); added > 0 {
			if err := led.Save(); err != nil {
				return err
			}
		}

		runner, err := buildRunner(cfg, led, table, dir, model)
		if err != nil {
			return err
		}

		if err := runner.RunAll(cmd.Context()); err != nil {
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
	runCmd.Flags().IntVar(&runBatchSize, "batch-size", 0, "rows per job (default from config)")
	runCmd.Flags().StringVar(&runModel, "model", "", "model to request (default from config)")
	runCmd.Flags().IntVar(&runStart, "start", 0, "first row index to process (0-based, inclusive)")
	runCmd.Flags().IntVar(&runEnd, "end", 0, "row index to stop before (0 = end of table)")
	runCmd.Flags().StringVar(&runDir, "output-dir", "", "run directory (default from config)")
}
