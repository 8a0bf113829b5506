package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/workbell/alarm-board/internal/config"
	"github.com/workbell/alarm-board/internal/service/board"
	"github.com/workbell/alarm-board/internal/version"
)

var (
	// configPath to the configuration YAML file.
	configPath string
	// dataFile path where scheduled alarms are persisted.
	dataFile string
	// logLevel overrides the configured log level.
	logLevel string
	// dryRun keeps all messaging in memory.
	dryRun bool

	// rootCmd represents the base command for running the alarm board service.
	rootCmd = &cobra.Command{
		Use:   "alarm-board",
		Short: "Run the alarm board service.",
		Long: `Starts the alarm board service that schedules alarms and keeps destination dashboards current.

Alarms are created against a destination and fire staged warnings until the deadline.
Each destination with pending alarms carries a single dashboard view that is kept up to date.
Scheduled alarms are persisted to a JSON file and resume counting down after a restart.`,
		Args: cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			// Setup graceful shutdown handling.
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
			defer stop()

			options := &board.Options{
				ConfigPath: configPath,
				DataFile:   dataFile,
				LogLevel:   logLevel,
				DryRun:     dryRun,
			}

			return board.Run(ctx, options)
		},
	}
)

// Execute runs the alarm-board CLI and exits with non-zero status on error.
func Execute() {
	version.AttachCobraVersionCommand(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	// Setup command flags with consistent naming and descriptions.
	rootCmd.Flags().StringVarP(&configPath, "config", "c", config.DefaultConfigFilename, "path to configuration file")
	rootCmd.Flags().StringVarP(&dataFile, "data-file", "s", "", "path to persist scheduled alarms, defaults to the settings file value")
	rootCmd.Flags().StringVarP(&logLevel, "log-level", "l", "", "log level override (debug, info, warn, error)")
	rootCmd.Flags().BoolVar(&dryRun, "dry-run", false, "keep messaging in memory, nothing reaches the platform")
}
