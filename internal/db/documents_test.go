package db

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/surrealdb/surrealdb.go"
	surrealmodels "github.com/surrealdb/surrealdb.go/pkg/models"

	"github.com/raphaelgruber/kbsync/internal/models"
)

var uploaded = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

func strPtr(s string) *string { return &s }

func TestDocumentRecordConversion(t *testing.T) {
	synced := uploaded.Add(time.Hour)
	size := int64(4096)

	rec := documentRecord{
		ID:                  surrealmodels.NewRecordID("kb_document", "doc-1"),
		FileName:            "handbook.pdf",
		KnowledgeBaseStatus: strPtr("synced"),
		IngestionJobID:      strPtr("job-1"),
		LastSyncDate:        &synced,
		RetryCount:          2,
		UploadDate:          uploaded,
		FileSize:            &size,
		ContentType:         strPtr("application/pdf"),
	}

	doc, err := rec.document()
	require.NoError(t, err)
	assert.Equal(t, "doc-1", doc.DocumentID)
	assert.Equal(t, models.KBStatusSynced, doc.KnowledgeBaseStatus)
	assert.Equal(t, "job-1", doc.IngestionJobID)
	assert.Equal(t, &synced, doc.LastSyncDate)
	assert.Equal(t, 2, doc.RetryCount)
	assert.EqualValues(t, 4096, doc.FileSize)
	assert.Equal(t, "application/pdf", doc.ContentType)
	assert.Empty(t, doc.S3Key)
}

func TestDocumentRecordDefaultsAndRejects(t *testing.T) {
	tests := []struct {
		name       string
		rec        documentRecord
		wantErr    bool
		wantStatus models.KBStatus
	}{
		{
			name:       "missing status is pending",
			rec:        documentRecord{ID: surrealmodels.NewRecordID("kb_document", "d1"), UploadDate: uploaded},
			wantStatus: models.KBStatusPending,
		},
		{
			name:    "unknown status",
			rec:     documentRecord{ID: surrealmodels.NewRecordID("kb_document", "d1"), KnowledgeBaseStatus: strPtr("archived"), UploadDate: uploaded},
			wantErr: true,
		},
		{
			name:    "missing upload date",
			rec:     documentRecord{ID: surrealmodels.NewRecordID("kb_document", "d1")},
			wantErr: true,
		},
		{
			name:    "numeric record id",
			rec:     documentRecord{ID: surrealmodels.NewRecordID("kb_document", 42), UploadDate: uploaded},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc, err := tt.rec.document()
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, models.ErrInvalidDocument)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantStatus, doc.KnowledgeBaseStatus)
		})
	}
}

func TestDocumentContent(t *testing.T) {
	doc := models.NewTrackedDocument("d1", "notes.txt", uploaded)
	content := documentContent(doc)

	assert.Equal(t, "notes.txt", content["file_name"])
	assert.Equal(t, "pending", content["knowledge_base_status"])
	assert.Equal(t, 0, content["retry_count"])
	assert.Equal(t, uploaded, content["upload_date"])
	for _, optional := range []string{"ingestion_job_id", "last_sync_date", "last_retry_date", "file_size", "s3_key"} {
		assert.NotContains(t, content, optional)
	}

	doc.S3Key = "uploads/notes.txt"
	doc.FileSize = 12
	content = documentContent(doc)
	assert.Equal(t, "uploads/notes.txt", content["s3_key"])
	assert.EqualValues(t, 12, content["file_size"])
}

func TestWrapQueryError(t *testing.T) {
	assert.Nil(t, wrapQueryError(nil))

	exists := &surrealdb.QueryError{Message: "Database record `kb_document:d1` already exists"}
	assert.ErrorIs(t, wrapQueryError(exists), models.ErrDocumentExists)

	conflict := &surrealdb.QueryError{Message: "Transaction conflict: Resource busy"}
	assert.ErrorIs(t, wrapQueryError(conflict), ErrTransactionConflict)

	plain := errors.New("connection reset")
	assert.Equal(t, plain, wrapQueryError(plain))
}

func TestDocumentIDRejectsNonStringKeys(t *testing.T) {
	id, err := documentID(surrealmodels.NewRecordID("kb_document", "doc-1"))
	require.NoError(t, err)
	assert.Equal(t, "doc-1", id)

	_, err = documentID(surrealmodels.NewRecordID("kb_document", 42))
	assert.Error(t, err)
}
