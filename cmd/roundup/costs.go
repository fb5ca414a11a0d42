package main

import (
	"github.com/spf13/cobra"

	"github.com/jackzampolin/roundup/internal/api"
	"github.com/jackzampolin/roundup/internal/costs"
)

var costsDir string

var costsCmd = &cobra.Command{
	Use:   "costs",
	Short: "Show accumulated spend estimates for the current run",
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		dir := costsDir
		if dir == "" {
			dir = cfg.OutputDir
		}

		tracker, err := costs.NewTracker(dir)
		if err != nil {
			return err
		}
		return api.Output(tracker.Summary())
	},
}

func init() {
	costsCmd.Flags().StringVar(&costsDir, "output-dir", "", "run directory (default from config)")
}
