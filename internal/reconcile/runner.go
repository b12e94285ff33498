package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/raphaelgruber/kbsync/internal/metrics"
	"github.com/raphaelgruber/kbsync/internal/models"
)

// ErrJobsUnavailable is returned when a run aborts because the job listing failed.
var ErrJobsUnavailable = errors.New("ingestion jobs unavailable")

// JobSource lists recent ingestion jobs and starts new ones.
type JobSource interface {
	ListJobs(ctx context.Context) ([]models.IngestionJob, error)
	StartJob(ctx context.Context, description string) models.SubmitResult
}

// DocumentStore reads and updates tracked documents.
// Writes must fail when the record no longer exists.
type DocumentStore interface {
	DocumentsNeedingStatusUpdate(ctx context.Context) ([]models.TrackedDocument, error)
	DocumentsByJobID(ctx context.Context, jobID string) ([]models.TrackedDocument, error)
	UpdateStatus(ctx context.Context, documentID string, status models.KBStatus, syncDate time.Time, jobID string) error
	IncrementRetry(ctx context.Context, documentID string, retryCount int, retryDate time.Time, status models.KBStatus) error
}

// MetricsPublisher reports run outcomes. Implementations must not fail the run.
type MetricsPublisher interface {
	Publish(ctx context.Context, report metrics.RunReport)
	PublishFailure(ctx context.Context, cause error)
}

// Summary is the outcome of one run.
type Summary struct {
	RunID               string    `json:"runId"`
	JobsProcessed       int       `json:"jobsProcessed"`
	DocumentsUpdated    int       `json:"documentsUpdated"`
	FailedJobsProcessed int       `json:"failedJobsProcessed"`
	ProcessingTimeMs    int64     `json:"processingTimeMs"`
	Timestamp           time.Time `json:"timestamp"`
}

// Runner executes reconciliation runs.
type Runner struct {
	jobs      JobSource
	store     DocumentStore
	publisher MetricsPublisher
	retry     RetryPolicy
	logger    *slog.Logger
	collector *metrics.Collector
	clock     func() time.Time
}

// Option configures a Runner.
type Option func(*Runner)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(r *Runner) {
		r.logger = logger
	}
}

// WithRetryPolicy overrides DefaultRetryPolicy.
func WithRetryPolicy(p RetryPolicy) Option {
	return func(r *Runner) {
		r.retry = p
	}
}

// WithCollector attaches the latency collector shared with the adapters.
// It is reset at the start of every run and its snapshot is published.
func WithCollector(c *metrics.Collector) Option {
	return func(r *Runner) {
		r.collector = c
	}
}

// WithClock overrides time.Now.
func WithClock(clock func() time.Time) Option {
	return func(r *Runner) {
		r.clock = clock
	}
}

// NewRunner creates a Runner. publisher may be nil.
func NewRunner(jobs JobSource, store DocumentStore, publisher MetricsPublisher, opts ...Option) *Runner {
	r := &Runner{
		jobs:      jobs,
		store:     store,
		publisher: publisher,
		retry:     DefaultRetryPolicy(),
		logger:    slog.Default(),
		clock:     time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run performs one reconciliation: list jobs, update document statuses,
// resubmit failed documents and publish metrics.
//
// If the job listing fails nothing is written, a failure metric is emitted and
// the returned error wraps ErrJobsUnavailable. Any other failure is logged and
// skipped.
func (r *Runner) Run(ctx context.Context) (Summary, error) {
	start := r.clock()
	now := start.UTC()
	runID := uuid.NewString()
	logger := r.logger.With("run_id", runID)

	if r.collector != nil {
		r.collector.Reset()
	}

	logger.Info("reconciliation started")

	jobs, err := r.jobs.ListJobs(ctx)
	if err != nil {
		logger.Error("failed to list ingestion jobs, aborting run", "error", err)
		if r.publisher != nil {
			r.publisher.PublishFailure(ctx, err)
		}
		return Summary{}, fmt.Errorf("%w: %w", ErrJobsUnavailable, err)
	}

	buckets := ClassifyJobs(jobs)
	logger.Info("classified ingestion jobs",
		"completed", len(buckets.Completed),
		"failed", len(buckets.Failed),
		"in_progress", len(buckets.InProgress),
		"other", buckets.Other)

	updated := r.updateStatuses(ctx, logger, buckets, now)
	retried := r.retryFailed(ctx, logger, buckets.Failed, now)

	elapsed := r.clock().Sub(start)
	summary := Summary{
		RunID:               runID,
		JobsProcessed:       len(jobs),
		DocumentsUpdated:    updated,
		FailedJobsProcessed: retried,
		ProcessingTimeMs:    elapsed.Milliseconds(),
		Timestamp:           now,
	}

	if r.publisher != nil {
		r.publisher.Publish(ctx, r.report(buckets, summary, elapsed))
	}

	logger.Info("reconciliation complete",
		"jobs_processed", summary.JobsProcessed,
		"documents_updated", summary.DocumentsUpdated,
		"failed_jobs_processed", summary.FailedJobsProcessed,
		"duration_ms", summary.ProcessingTimeMs)
	return summary, nil
}

// updateStatuses applies engine decisions to the candidate documents and
// returns the number of successful writes. A failed candidate scan skips the
// step.
func (r *Runner) updateStatuses(ctx context.Context, logger *slog.Logger, buckets JobBuckets, now time.Time) int {
	docs, err := r.store.DocumentsNeedingStatusUpdate(ctx)
	if err != nil {
		logger.Error("failed to load documents needing status update, skipping status step", "error", err)
		return 0
	}

	decisions := Reconcile(buckets, docs)
	logger.Debug("reconciliation decisions", "candidates", len(docs), "writes", len(decisions))

	updated := 0
	for _, d := range decisions {
		if ctx.Err() != nil {
			logger.Warn("status step interrupted", "updated", updated, "pending", len(decisions)-updated, "error", ctx.Err())
			break
		}
		if err := r.store.UpdateStatus(ctx, d.DocumentID, d.To, now, d.JobID); err != nil {
			logger.Error("failed to update document status",
				"document_id", d.DocumentID, "status", d.To, "error", err)
			continue
		}
		logger.Info("updated document status",
			"document_id", d.DocumentID, "from", d.From, "to", d.To,
			"job_id", d.JobID, "rule", d.Rule)
		updated++
	}
	return updated
}

func (r *Runner) report(b JobBuckets, s Summary, elapsed time.Duration) metrics.RunReport {
	report := metrics.RunReport{
		CompletedJobs:    len(b.Completed),
		FailedJobs:       len(b.Failed),
		InProgressJobs:   len(b.InProgress),
		OtherJobs:        b.Other,
		DocumentsUpdated: s.DocumentsUpdated,
		RetriesSubmitted: s.FailedJobsProcessed,
		ProcessingTime:   elapsed,
		Timestamp:        s.Timestamp,
	}
	for _, job := range b.Completed {
		report.JobDurations = append(report.JobDurations, metrics.JobDuration{
			JobID:    job.JobID,
			Duration: job.Duration(),
		})
		if job.Statistics != nil {
			report.DocumentsScanned += job.Statistics.DocumentsScanned
			report.DocumentsIndexed += job.Statistics.DocumentsIndexed()
			report.DocumentsFailed += job.Statistics.DocumentsFailed
		}
	}
	if r.collector != nil {
		snap := r.collector.Snapshot()
		report.Latencies = &snap
	}
	return report
}
