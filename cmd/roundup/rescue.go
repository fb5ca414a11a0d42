package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/roundup/internal/api"
	"github.com/jackzampolin/roundup/internal/ledger"
	"github.com/jackzampolin/roundup/internal/planner"
	"github.com/jackzampolin/roundup/internal/records"
)

var (
	rescueBatchSize int
	rescueModel     string
	rescueDir       string
)

var rescueCmd = &cobra.Command{
	Use:   "rescue <records.csv>",
	Short: "Submit new jobs covering the rows a merge reported missing",
	Long: `Rescue reads the missing-rows file written by merge, groups the
missing rows into new jobs, and executes them. This is the retry-round
loop: run, merge, rescue, merge again, until nothing is missing.`,
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

		dir := rescueDir
		if dir == "" {
			dir = cfg.OutputDir
		}
		model := rescueModel
		if model == "" {
			model = cfg.Model
		}
		size := rescueBatchSize
		if size <= 0 {
			size = cfg.BatchSize
		}

		missing, err := records.ReadMissing(missingRowsPath(dir))
		if err != nil {
			return fmt.Errorf("no missing-rows file; run merge first: %w", err)
		}
		if len(missing) == 0 {
			fmt.Println("nothing to rescue: missing-rows file is empty")
			return nil
		}

		led, err := ledger.Load(dir)
		if err != nil {
			return err
		}
		if added := planner.PlanIndices(led, missing, size, cfg.MaxAttempts); added > 0 {
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
	rescueCmd.Flags().IntVar(&rescueBatchSize, "batch-size", 0, "rows per job (default from config)")
	rescueCmd.Flags().StringVar(&rescueModel, "model", "", "model to request (default from config)")
	rescueCmd.Flags().StringVar(&rescueDir, "output-dir", "", "run directory (default from config)")
}
