package models

import (
	"errors"
	"fmt"
	"time"
)

// KBStatus is the knowledge base sync state of a tracked document.
type KBStatus string

const (
	KBStatusPending   KBStatus = "pending"
	KBStatusIngesting KBStatus = "ingesting"
	KBStatusSynced    KBStatus = "synced"
	KBStatusFailed    KBStatus = "failed"
)

// Valid reports whether s is a known document status.
func (s KBStatus) Valid() bool {
	switch s {
	case KBStatusPending, KBStatusIngesting, KBStatusSynced, KBStatusFailed:
		return true
	}
	return false
}

// NeedsRefresh reports whether documents in this status are re-evaluated on every run.
func (s KBStatus) NeedsRefresh() bool {
	return s == KBStatusPending || s == KBStatusIngesting || s == KBStatusFailed
}

// ParseKBStatus parses a status string. Empty input yields pending.
func ParseKBStatus(s string) (KBStatus, error) {
	if s == "" {
		return KBStatusPending, nil
	}
	st := KBStatus(s)
	if !st.Valid() {
		return "", fmt.Errorf("unknown knowledge base status %q", s)
	}
	return st, nil
}

// TrackedDocument is the per-document sync record owned by this service.
type TrackedDocument struct {
	DocumentID          string     `json:"document_id"`
	FileName            string     `json:"file_name"`
	KnowledgeBaseStatus KBStatus   `json:"knowledge_base_status"`
	IngestionJobID      string     `json:"ingestion_job_id,omitempty"` // Empty when never associated
	LastSyncDate        *time.Time `json:"last_sync_date,omitempty"`
	RetryCount          int        `json:"retry_count"`
	LastRetryDate       *time.Time `json:"last_retry_date,omitempty"`
	UploadDate          time.Time  `json:"upload_date"`

	// Upload metadata, carried through but not used for reconciliation.
	FileSize    int64  `json:"file_size,omitempty"`
	ContentType string `json:"content_type,omitempty"`
	S3Key       string `json:"s3_key,omitempty"`
	UploadedBy  string `json:"uploaded_by,omitempty"`
}

// Sentinel errors shared by the document stores.
var (
	// ErrInvalidDocument is returned when a stored record cannot be used by the engine.
	ErrInvalidDocument = errors.New("invalid tracked document")

	// ErrDocumentNotFound is returned when a write or lookup targets a missing record.
	ErrDocumentNotFound = errors.New("document not found")

	// ErrDocumentExists is returned when creating a record whose id is taken.
	ErrDocumentExists = errors.New("document already exists")
)

// Normalize validates a record read from a store and fills defaults.
// A missing status is treated as pending.
func (d *TrackedDocument) Normalize() error {
	if d.DocumentID == "" {
		return fmt.Errorf("%w: missing document id", ErrInvalidDocument)
	}
	status, err := ParseKBStatus(string(d.KnowledgeBaseStatus))
	if err != nil {
		return fmt.Errorf("%w: document %s: %v", ErrInvalidDocument, d.DocumentID, err)
	}
	d.KnowledgeBaseStatus = status
	if d.RetryCount < 0 {
		return fmt.Errorf("%w: document %s has negative retry count %d", ErrInvalidDocument, d.DocumentID, d.RetryCount)
	}
	if d.UploadDate.IsZero() {
		return fmt.Errorf("%w: document %s has no upload date", ErrInvalidDocument, d.DocumentID)
	}
	return nil
}

// NeverSynced reports whether reconciliation has not yet written this record.
func (d TrackedDocument) NeverSynced() bool {
	return d.LastSyncDate == nil || d.LastSyncDate.IsZero()
}

// NewTrackedDocument creates the initial pending record for an uploaded file.
func NewTrackedDocument(id, fileName string, uploadDate time.Time) TrackedDocument {
	return TrackedDocument{
		DocumentID:          id,
		FileName:            fileName,
		KnowledgeBaseStatus: KBStatusPending,
		UploadDate:          uploadDate.UTC(),
	}
}
