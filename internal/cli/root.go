// Package cli provides the command-line interface for kbsync.
package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/raphaelgruber/kbsync/internal/app"
	"github.com/raphaelgruber/kbsync/internal/config"
	"github.com/raphaelgruber/kbsync/internal/models"
	"github.com/raphaelgruber/kbsync/internal/reconcile"
)

// jobSource is what the jobs command needs from the ingestion service.
type jobSource interface {
	ListJobs(ctx context.Context) ([]models.IngestionJob, error)
	GetJob(ctx context.Context, jobID string) (models.IngestionJob, error)
}

// runner executes one reconciliation.
type runner interface {
	RunOnce(ctx context.Context) (reconcile.Summary, error)
}

var (
	// Version is set at build time.
	Version = "0.1.0"

	// Global flags
	verbose bool

	// Wired by PersistentPreRunE; tests assign fakes directly.
	cfg         config.Config
	application *app.App
	jobs        jobSource
	store       app.Store
	reconciler  runner

	logCleanup = func() error { return nil }
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "kbsync",
	Short: "Knowledge base ingestion reconciliation",
	Long: `kbsync keeps tracked document records in step with knowledge base
ingestion jobs.

Each run lists recent ingestion jobs, updates the sync status of every
document that needs it, resubmits failed ingestions with exponential
backoff and publishes run metrics.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Skip wiring for version and help commands
		if cmd.Name() == "version" || cmd.Name() == "help" {
			return nil
		}

		var err error
		cfg, err = config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		if verbose {
			cfg.LogLevel = slog.LevelDebug
		}

		var logger *slog.Logger
		logger, logCleanup = config.SetupLogger(cfg.LogFile, cfg.LogLevel)
		slog.SetDefault(logger)

		application, err = app.New(cmd.Context(), cfg, logger)
		if err != nil {
			return err
		}
		jobs = application.Jobs
		store = application.Store
		reconciler = application
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if application != nil {
			if err := application.Close(context.Background()); err != nil {
				fmt.Fprintf(os.Stderr, "Warning: failed to close store: %v\n", err)
			}
		}
		if err := logCleanup(); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to close log file: %v\n", err)
		}
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "kbsync %s\n", Version)
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	// Add subcommands
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(jobsCmd)
	rootCmd.AddCommand(documentsCmd)
	rootCmd.AddCommand(trackCmd)
	rootCmd.AddCommand(untrackCmd)
	rootCmd.AddCommand(resetRetriesCmd)
	rootCmd.AddCommand(versionCmd)
}
