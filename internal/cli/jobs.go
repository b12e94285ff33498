package cli

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/raphaelgruber/kbsync/internal/models"
)

var jobsCmd = &cobra.Command{
	Use:   "jobs [job-id]",
	Short: "List or inspect ingestion jobs",
	Long: `List recent knowledge base ingestion jobs or inspect a specific job by ID.

Examples:
  kbsync jobs              # List recent jobs
  kbsync jobs ABCDEF1234   # Show details for one job`,
	Args: cobra.MaximumNArgs(1),
	RunE: runJobs,
}

func runJobs(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	// If job ID provided, show that specific job
	if len(args) == 1 {
		return showJob(ctx, out, args[0])
	}

	return listJobs(ctx, out)
}

func listJobs(ctx context.Context, out io.Writer) error {
	list, err := jobs.ListJobs(ctx)
	if err != nil {
		return fmt.Errorf("list jobs: %w", err)
	}

	if len(list) == 0 {
		fmt.Fprintln(out, "No jobs found")
		return nil
	}

	p := newPrinter(out)
	fmt.Fprintf(out, "%-14s %-12s %-20s %s\n", "ID", "STATUS", "STARTED", "DURATION")
	fmt.Fprintln(out, "------------------------------------------------------------------")

	for _, job := range list {
		duration := ""
		if job.Status.Terminal() {
			duration = job.Duration().Round(time.Second).String()
		}
		fmt.Fprintf(out, "%-14s %s %-20s %s\n",
			job.JobID,
			p.jobStatus(job.Status, 12),
			job.StartedAt.Local().Format("2006-01-02 15:04:05"),
			duration)
	}

	return nil
}

func showJob(ctx context.Context, out io.Writer, jobID string) error {
	job, err := jobs.GetJob(ctx, jobID)
	if err != nil {
		return fmt.Errorf("get job: %w", err)
	}

	p := newPrinter(out)
	fmt.Fprintf(out, "Job:      %s\n", job.JobID)
	fmt.Fprintf(out, "Status:   %s\n", p.jobStatus(job.Status, 0))
	fmt.Fprintf(out, "Started:  %s\n", job.StartedAt.Local().Format(time.RFC3339))
	fmt.Fprintf(out, "Updated:  %s\n", job.UpdatedAt.Local().Format(time.RFC3339))
	if job.Status.Terminal() {
		fmt.Fprintf(out, "Duration: %s\n", job.Duration().Round(time.Second))
	}
	if job.Description != "" {
		fmt.Fprintf(out, "Description: %s\n", job.Description)
	}

	if s := job.Statistics; s != nil {
		fmt.Fprintln(out, "\nStatistics:")
		fmt.Fprintf(out, "  Scanned:   %d\n", s.DocumentsScanned)
		fmt.Fprintf(out, "  Indexed:   %d (%d new, %d modified)\n", s.DocumentsIndexed(), s.NewDocumentsIndexed, s.ModifiedDocumentsIndexed)
		fmt.Fprintf(out, "  Deleted:   %d\n", s.DocumentsDeleted)
		fmt.Fprintf(out, "  Failed:    %d\n", s.DocumentsFailed)
	}

	if job.Status == models.JobStatusFailed && len(job.FailureReasons) > 0 {
		fmt.Fprintln(out, "\nFailure reasons:")
		for _, reason := range job.FailureReasons {
			fmt.Fprintf(out, "  - %s\n", p.render(p.theme.errorStyle(), reason))
		}
	}

	return nil
}
