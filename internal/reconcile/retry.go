package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/raphaelgruber/kbsync/internal/models"
)

// Retry policy defaults.
const (
	DefaultMaxRetries = 3
	DefaultBaseDelay  = time.Second
)

// maxBackoffShift keeps BaseDelay << shift from overflowing time.Duration.
const maxBackoffShift = 30

// RetryPolicy bounds how often and how soon a failed document is resubmitted.
type RetryPolicy struct {
	MaxRetries int
	BaseDelay  time.Duration
}

// DefaultRetryPolicy returns three attempts starting at one second.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxRetries: DefaultMaxRetries, BaseDelay: DefaultBaseDelay}
}

// BackoffDelay returns BaseDelay * 2^retryCount.
func (p RetryPolicy) BackoffDelay(retryCount int) time.Duration {
	if retryCount < 0 {
		retryCount = 0
	}
	if retryCount > maxBackoffShift {
		retryCount = maxBackoffShift
	}
	return p.BaseDelay << retryCount
}

// Eligible reports whether doc may be resubmitted at now: it has retries left
// and more than the backoff delay has passed since the last attempt.
// A document never retried counts its last attempt at the Unix epoch.
func (p RetryPolicy) Eligible(doc models.TrackedDocument, now time.Time) bool {
	if doc.RetryCount >= p.MaxRetries {
		return false
	}
	last := time.Unix(0, 0).UTC()
	if doc.LastRetryDate != nil {
		last = *doc.LastRetryDate
	}
	return now.Sub(last) > p.BackoffDelay(doc.RetryCount)
}

// retryFailed resubmits eligible documents of every failed job and returns the
// number of accepted submissions.
func (r *Runner) retryFailed(ctx context.Context, logger *slog.Logger, failed []models.IngestionJob, now time.Time) int {
	submitted := 0
	for _, job := range failed {
		if ctx.Err() != nil {
			logger.Warn("retry step interrupted", "submitted", submitted, "error", ctx.Err())
			return submitted
		}

		docs, err := r.store.DocumentsByJobID(ctx, job.JobID)
		if err != nil {
			logger.Error("failed to load documents for failed job", "job_id", job.JobID, "error", err)
			continue
		}

		for _, doc := range docs {
			// Synced is sticky; a later failed job must not pull it back to pending.
			if doc.KnowledgeBaseStatus == models.KBStatusSynced {
				continue
			}
			if !r.retry.Eligible(doc, now) {
				logger.Debug("document not eligible for retry",
					"document_id", doc.DocumentID, "retry_count", doc.RetryCount)
				continue
			}
			if r.resubmit(ctx, logger, job, doc, now) {
				submitted++
			}
		}
	}
	return submitted
}

// resubmit starts a new ingestion job for doc and records the attempt.
func (r *Runner) resubmit(ctx context.Context, logger *slog.Logger, job models.IngestionJob, doc models.TrackedDocument, now time.Time) bool {
	attempt := doc.RetryCount + 1
	res := r.jobs.StartJob(ctx, fmt.Sprintf("Retry ingestion for document %s (attempt %d of %d)", doc.DocumentID, attempt, r.retry.MaxRetries))

	switch res.Outcome {
	case models.SubmitOK:
		if err := r.store.IncrementRetry(ctx, doc.DocumentID, attempt, now, models.KBStatusPending); err != nil {
			logger.Error("retry submitted but bookkeeping failed",
				"document_id", doc.DocumentID, "new_job_id", res.JobID, "error", err)
			return true
		}
		logger.Info("resubmitted failed document",
			"document_id", doc.DocumentID, "failed_job_id", job.JobID,
			"new_job_id", res.JobID, "attempt", attempt)
		return true
	case models.SubmitConflict:
		logger.Debug("ingestion job already running, retry skipped", "document_id", doc.DocumentID)
		return false
	default:
		logger.Error("failed to resubmit document", "document_id", doc.DocumentID, "error", res.Err)
		return false
	}
}
