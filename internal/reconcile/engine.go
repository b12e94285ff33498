// Package reconcile derives each tracked document's knowledge base status
// from recent ingestion job outcomes and retries failed ingestions.
//
// A run is safe to repeat: a document is only written when its derived status
// differs from the stored one or it has never been synced, and a synced
// document is never moved back to another status.
package reconcile

import (
	"slices"

	"github.com/raphaelgruber/kbsync/internal/models"
)

// JobBuckets groups jobs by outcome, newest first.
type JobBuckets struct {
	Completed  []models.IngestionJob // COMPLETE, by UpdatedAt desc
	Failed     []models.IngestionJob // FAILED, by UpdatedAt desc
	InProgress []models.IngestionJob // IN_PROGRESS, by StartedAt desc
	Other      int                   // STARTING, STOPPING, STOPPED
}

// Total returns the number of jobs that take part in reconciliation.
func (b JobBuckets) Total() int {
	return len(b.Completed) + len(b.Failed) + len(b.InProgress)
}

// ClassifyJobs partitions jobs by status. Jobs in other statuses are counted
// but do not influence any decision.
func ClassifyJobs(jobs []models.IngestionJob) JobBuckets {
	var b JobBuckets
	for _, job := range jobs {
		switch job.Status {
		case models.JobStatusComplete:
			b.Completed = append(b.Completed, job)
		case models.JobStatusFailed:
			b.Failed = append(b.Failed, job)
		case models.JobStatusInProgress:
			b.InProgress = append(b.InProgress, job)
		default:
			b.Other++
		}
	}

	byUpdated := func(x, y models.IngestionJob) int { return y.UpdatedAt.Compare(x.UpdatedAt) }
	slices.SortStableFunc(b.Completed, byUpdated)
	slices.SortStableFunc(b.Failed, byUpdated)
	slices.SortStableFunc(b.InProgress, func(x, y models.IngestionJob) int {
		return y.StartedAt.Compare(x.StartedAt)
	})
	return b
}

// Rule names which priority rule produced a decision.
type Rule string

const (
	RuleCompleted  Rule = "completed"
	RuleInProgress Rule = "in_progress"
	RuleFailed     Rule = "failed"
)

// Decision is a status write the engine wants to make.
type Decision struct {
	DocumentID string
	From       models.KBStatus
	To         models.KBStatus
	JobID      string
	Rule       Rule
}

// Decide applies the priority rules to one document:
//
//  1. the latest completed job finished at or after the upload: synced
//  2. otherwise, any job in progress: ingesting
//  3. otherwise, only failed jobs exist: failed
//
// A synced document is never changed. The second return value is false when
// no rule applies.
//
// Rule 1 compares only timestamps; it assumes a job that finished after the
// upload picked the document up.
func Decide(b JobBuckets, doc models.TrackedDocument) (Decision, bool) {
	if doc.KnowledgeBaseStatus == models.KBStatusSynced {
		return Decision{}, false
	}

	d := Decision{DocumentID: doc.DocumentID, From: doc.KnowledgeBaseStatus}

	if len(b.Completed) > 0 {
		latest := b.Completed[0]
		if !latest.UpdatedAt.Before(doc.UploadDate) {
			d.To, d.JobID, d.Rule = models.KBStatusSynced, latest.JobID, RuleCompleted
			return d, true
		}
	}

	if len(b.InProgress) > 0 {
		d.To, d.JobID, d.Rule = models.KBStatusIngesting, b.InProgress[0].JobID, RuleInProgress
		return d, true
	}

	if len(b.Failed) > 0 && len(b.Completed) == 0 {
		d.To, d.JobID, d.Rule = models.KBStatusFailed, b.Failed[0].JobID, RuleFailed
		return d, true
	}

	return Decision{}, false
}

// Reconcile returns the writes needed for docs: decisions whose target differs
// from the stored status, or whose document has never been synced.
func Reconcile(b JobBuckets, docs []models.TrackedDocument) []Decision {
	var out []Decision
	for _, doc := range docs {
		d, ok := Decide(b, doc)
		if !ok {
			continue
		}
		if d.To != doc.KnowledgeBaseStatus || doc.NeverSynced() {
			out = append(out, d)
		}
	}
	return out
}
