package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/roundup/internal/api"
	"github.com/jackzampolin/roundup/internal/ledger"
)

var statusDir string

// jobStatus is the per-job view printed by the status command.
type jobStatus struct {
	Name     string `json:"name" yaml:"name"`
	Rows     string `json:"rows" yaml:"rows"`
	Status   string `json:"status" yaml:"status"`
	Attempts string `json:"attempts" yaml:"attempts"`
	BatchID  string `json:"batch_id,omitempty" yaml:"batch_id,omitempty"`
	Error    string `json:"error,omitempty" yaml:"error,omitempty"`
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the job ledger for the current run",
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		dir := statusDir
		if dir == "" {
			dir = cfg.OutputDir
		}

		led, err := ledger.Load(dir)
		if err != nil {
			return err
		}

		jobs := make([]jobStatus, 0, len(led.Jobs))
		for _, j := range led.Jobs {
			jobs = append(jobs, jobStatus{
				Name:     j.Name,
				Rows:     fmt.Sprintf("%d-%d", j.StartIndex+1, j.EndIndex),
				Status:   string(j.Status),
				Attempts: fmt.Sprintf("%d/%d", j.Attempts, j.MaxAttempts),
				BatchID:  j.BatchID,
				Error:    j.ErrorMsg,
			})
		}

		return api.Output(struct {
			Counts ledger.Counts `json:"counts" yaml:"counts"`
			Jobs   []jobStatus   `json:"jobs" yaml:"jobs"`
		}{led.Counts(), jobs})
	},
}

func init() {
	statusCmd.Flags().StringVar(&statusDir, "output-dir", "", "run directory (default from config)")
}
