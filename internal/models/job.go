// Package models defines the records exchanged between the knowledge base
// ingestion service, the document store and the reconciliation engine.
package models

import (
	"errors"
	"fmt"
	"time"
)

// JobStatus is the lifecycle state of a knowledge base ingestion job.
type JobStatus string

const (
	JobStatusStarting   JobStatus = "STARTING"
	JobStatusInProgress JobStatus = "IN_PROGRESS"
	JobStatusComplete   JobStatus = "COMPLETE"
	JobStatusFailed     JobStatus = "FAILED"
	JobStatusStopping   JobStatus = "STOPPING"
	JobStatusStopped    JobStatus = "STOPPED"
)

// Valid reports whether s is a status the ingestion service can return.
func (s JobStatus) Valid() bool {
	switch s {
	case JobStatusStarting, JobStatusInProgress, JobStatusComplete,
		JobStatusFailed, JobStatusStopping, JobStatusStopped:
		return true
	}
	return false
}

// Terminal reports whether the job will not change status again.
func (s JobStatus) Terminal() bool {
	return s == JobStatusComplete || s == JobStatusFailed || s == JobStatusStopped
}

// JobStatistics holds the document counters reported for an ingestion job.
type JobStatistics struct {
	DocumentsScanned         int64 `json:"documents_scanned"`
	NewDocumentsIndexed      int64 `json:"new_documents_indexed"`
	ModifiedDocumentsIndexed int64 `json:"modified_documents_indexed"`
	DocumentsDeleted         int64 `json:"documents_deleted"`
	DocumentsFailed          int64 `json:"documents_failed"`
	MetadataDocumentsScanned int64 `json:"metadata_documents_scanned"`
	MetadataDocumentsUpdated int64 `json:"metadata_documents_updated"`
}

// DocumentsIndexed returns new plus modified indexed documents.
func (s JobStatistics) DocumentsIndexed() int64 {
	return s.NewDocumentsIndexed + s.ModifiedDocumentsIndexed
}

// IngestionJob is a read-only view of a job owned by the ingestion service.
type IngestionJob struct {
	JobID          string         `json:"job_id"`
	Status         JobStatus      `json:"status"`
	Description    string         `json:"description,omitempty"`
	StartedAt      time.Time      `json:"started_at"`
	UpdatedAt      time.Time      `json:"updated_at"` // Completion time for terminal states
	FailureReasons []string       `json:"failure_reasons,omitempty"`
	Statistics     *JobStatistics `json:"statistics,omitempty"`
}

// ErrInvalidJob is returned when a job from the ingestion service is missing
// required fields.
var ErrInvalidJob = errors.New("invalid ingestion job")

// Validate checks required fields. Called when a job crosses the adapter boundary.
func (j IngestionJob) Validate() error {
	if j.JobID == "" {
		return fmt.Errorf("%w: missing job id", ErrInvalidJob)
	}
	if !j.Status.Valid() {
		return fmt.Errorf("%w: job %s has unknown status %q", ErrInvalidJob, j.JobID, j.Status)
	}
	if j.StartedAt.IsZero() {
		return fmt.Errorf("%w: job %s has no start time", ErrInvalidJob, j.JobID)
	}
	if j.UpdatedAt.IsZero() {
		return fmt.Errorf("%w: job %s has no update time", ErrInvalidJob, j.JobID)
	}
	return nil
}

// Duration returns the time between start and the last update.
// For completed jobs this is the ingestion run time.
func (j IngestionJob) Duration() time.Duration {
	if j.UpdatedAt.Before(j.StartedAt) {
		return 0
	}
	return j.UpdatedAt.Sub(j.StartedAt)
}
