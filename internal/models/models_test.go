package models

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIngestionJobValidate(t *testing.T) {
	start := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	valid := IngestionJob{
		JobID:     "job-1",
		Status:    JobStatusComplete,
		StartedAt: start,
		UpdatedAt: start.Add(time.Minute),
	}

	tests := []struct {
		name   string
		mutate func(j *IngestionJob)
		ok     bool
	}{
		{"valid", func(j *IngestionJob) {}, true},
		{"missing id", func(j *IngestionJob) { j.JobID = "" }, false},
		{"unknown status", func(j *IngestionJob) { j.Status = "DONE" }, false},
		{"no start time", func(j *IngestionJob) { j.StartedAt = time.Time{} }, false},
		{"no update time", func(j *IngestionJob) { j.UpdatedAt = time.Time{} }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			job := valid
			tt.mutate(&job)
			err := job.Validate()
			if tt.ok {
				assert.NoError(t, err)
				return
			}
			assert.True(t, errors.Is(err, ErrInvalidJob), "expected ErrInvalidJob, got %v", err)
		})
	}
}

func TestIngestionJobDuration(t *testing.T) {
	start := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	job := IngestionJob{StartedAt: start, UpdatedAt: start.Add(90 * time.Second)}
	assert.Equal(t, 90*time.Second, job.Duration())

	// Clock skew between start and update never yields a negative duration
	job.UpdatedAt = start.Add(-time.Second)
	assert.Equal(t, time.Duration(0), job.Duration())
}

func TestJobStatusTerminal(t *testing.T) {
	assert.True(t, JobStatusComplete.Terminal())
	assert.True(t, JobStatusFailed.Terminal())
	assert.True(t, JobStatusStopped.Terminal())
	assert.False(t, JobStatusInProgress.Terminal())
	assert.False(t, JobStatusStarting.Terminal())
}

func TestParseKBStatus(t *testing.T) {
	st, err := ParseKBStatus("")
	require.NoError(t, err)
	assert.Equal(t, KBStatusPending, st)

	st, err = ParseKBStatus("synced")
	require.NoError(t, err)
	assert.Equal(t, KBStatusSynced, st)

	_, err = ParseKBStatus("archived")
	assert.Error(t, err)
}

func TestTrackedDocumentNormalize(t *testing.T) {
	upload := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

	t.Run("missing status defaults to pending", func(t *testing.T) {
		doc := TrackedDocument{DocumentID: "d1", UploadDate: upload}
		require.NoError(t, doc.Normalize())
		assert.Equal(t, KBStatusPending, doc.KnowledgeBaseStatus)
	})

	t.Run("unknown status rejected", func(t *testing.T) {
		doc := TrackedDocument{DocumentID: "d1", UploadDate: upload, KnowledgeBaseStatus: "archived"}
		assert.ErrorIs(t, doc.Normalize(), ErrInvalidDocument)
	})

	t.Run("missing id rejected", func(t *testing.T) {
		doc := TrackedDocument{UploadDate: upload}
		assert.ErrorIs(t, doc.Normalize(), ErrInvalidDocument)
	})

	t.Run("negative retry count rejected", func(t *testing.T) {
		doc := TrackedDocument{DocumentID: "d1", UploadDate: upload, RetryCount: -1}
		assert.ErrorIs(t, doc.Normalize(), ErrInvalidDocument)
	})

	t.Run("missing upload date rejected", func(t *testing.T) {
		doc := TrackedDocument{DocumentID: "d1"}
		assert.ErrorIs(t, doc.Normalize(), ErrInvalidDocument)
	})
}

func TestNewTrackedDocument(t *testing.T) {
	upload := time.Date(2025, 3, 1, 9, 0, 0, 0, time.FixedZone("CET", 3600))
	doc := NewTrackedDocument("d1", "report.pdf", upload)

	assert.Equal(t, KBStatusPending, doc.KnowledgeBaseStatus)
	assert.Equal(t, 0, doc.RetryCount)
	assert.True(t, doc.NeverSynced())
	assert.Equal(t, time.UTC, doc.UploadDate.Location())
}

func TestSubmitResult(t *testing.T) {
	assert.Equal(t, "ok", Submitted("job-9").Outcome.String())
	assert.Equal(t, "job-9", Submitted("job-9").JobID)
	assert.Equal(t, "conflict", Conflicted().Outcome.String())

	res := SubmitFailed(errors.New("boom"))
	assert.Equal(t, SubmitError, res.Outcome)
	assert.EqualError(t, res.Err, "boom")
}
