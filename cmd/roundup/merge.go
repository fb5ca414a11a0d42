package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/roundup/internal/api"
	"github.com/jackzampolin/roundup/internal/reconcile"
	"github.com/jackzampolin/roundup/internal/records"
)

var mergeDir string

var mergeCmd = &cobra.Command{
	Use:   "merge <records.csv> <output.csv>",
	Short: "Reconcile downloaded result files onto the record table",
	Long: `Merge parses every result file in the run directory (lexical order,
last write wins for duplicate rows), writes the reconciled table, and —
when rows are missing — writes their 1-based numbers to the missing-rows
file for the next rescue round.

The merge is recomputed from scratch every time, so the output always
reflects the full current set of result files. Missing rows are reported,
not an error.`,
	Args: cobra.ExactArgs(2),
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

		dir := mergeDir
		if dir == "" {
			dir = cfg.OutputDir
		}

		files, err := resultFiles(dir)
		if err != nil {
			return err
		}
		if len(files) == 0 {
			return fmt.Errorf("no result files found in %s", dir)
		}

		res := reconcile.Merge(table, files, slog.Default())

		if err := records.WriteReconciled(args[1], table, res.Rows); err != nil {
			return err
		}
		slog.Info("reconciled table written", "path", args[1],
			"completed", res.Stats.Completed, "missing", res.Stats.Missing)

		if res.Stats.Missing > 0 {
			if err := records.WriteMissing(missingRowsPath(dir), res.MissingRows); err != nil {
				return err
			}
			slog.Warn("missing rows recorded", "path", missingRowsPath(dir), "count", res.Stats.Missing)
		}

		return api.Output(res.Stats)
	},
}

func init() {
	mergeCmd.Flags().StringVar(&mergeDir, "output-dir", "", "run directory (default from config)")
}
