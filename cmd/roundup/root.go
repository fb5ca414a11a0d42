package main

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/roundup/internal/api"
	"github.com/jackzampolin/roundup/internal/config"
	"github.com/jackzampolin/roundup/version"
)

var (
	cfgFile      string
	outputFormat string
	verbose      bool
)

var rootCmd = &cobra.Command{
	Use:   "roundup",
	Short: "Batch inference orchestrator with a persisted job ledger",
	Long: `Roundup submits large image+text request sets to the OpenAI Batch API,
tracks every chunk as a job in a persisted ledger, and reconciles downloaded
results back onto the original record table.

The workflow:
  - run: plan jobs over the record table and execute them
  - retry: re-run failed or timed-out jobs
  - merge: reconcile result files onto the table, reporting missing rows
  - rescue: submit new jobs covering only the missing rows`,
	Version: version.GitRelease,
}

func init() {
	rootCmd.PersistentFlags().StringVar(
		&cfgFile, "config", "", "config file (default: ./roundup.yaml or ~/.roundup/config.yaml)",
	)
	rootCmd.PersistentFlags().StringVarP(
		&outputFormat, "output", "o", "yaml", "output format: yaml or json",
	)
	rootCmd.PersistentFlags().BoolVarP(
		&verbose, "verbose", "v", false, "enable debug logging",
	)

	// Set output format and logger before any command runs
	rootCmd.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		api.SetOutputFormat(outputFormat)

		level := slog.LevelInfo
		if verbose {
			level = slog.LevelDebug
		}
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
	}

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(retryCmd)
	rootCmd.AddCommand(rescueCmd)
	rootCmd.AddCommand(mergeCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(costsCmd)
	rootCmd.AddCommand(versionCmd)
}

// loadConfig builds the config manager for the current invocation. Edits to
// the config file mid-run are picked up for the next command; the running
// pass keeps the settings it started with, so a reload is logged rather
// than applied silently.
func loadConfig() (*config.Config, error) {
	cm, err := config.NewManager(cfgFile)
	if err != nil {
		return nil, err
	}
	cm.OnChange(func(c *config.Config) {
		slog.Info("configuration file changed; new settings apply to the next command",
			"model", c.Model, "batch_size", c.BatchSize)
	})
	cm.WatchConfig()
	return cm.Get(), nil
}
