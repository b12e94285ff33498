package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run one reconciliation and print the summary",
	Long: `Run a single reconciliation: list ingestion jobs, update document
statuses, resubmit eligible failed documents and publish metrics.

The summary is printed as JSON. The command fails only when the ingestion
job listing is unavailable.

Examples:
  kbsync run
  kbsync run -v`,
	Args: cobra.NoArgs,
	RunE: runRun,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Reconcile on a schedule and serve health, status and metrics",
	Long: `Run reconciliation every KBSYNC_INTERVAL (default 5m, with jitter) and
serve HTTP on KBSYNC_LISTEN_ADDR:

  GET  /health   liveness
  GET  /status   last run summary and call latencies
  GET  /metrics  Prometheus metrics
  POST /run      trigger a run now`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return application.Serve(cmd.Context(), Version)
	},
}

func runRun(cmd *cobra.Command, args []string) error {
	summary, err := reconciler.RunOnce(cmd.Context())
	if err != nil {
		return fmt.Errorf("reconcile: %w", err)
	}

	out, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		return fmt.Errorf("encode summary: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(out))
	return nil
}
