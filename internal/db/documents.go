package db

import (
	"context"
	"fmt"
	"time"

	"github.com/surrealdb/surrealdb.go"
	surrealmodels "github.com/surrealdb/surrealdb.go/pkg/models"

	"github.com/raphaelgruber/kbsync/internal/metrics"
	"github.com/raphaelgruber/kbsync/internal/models"
)

// documentRecord is the kb_document row as returned by SurrealDB.
type documentRecord struct {
	ID                  surrealmodels.RecordID `json:"id"`
	FileName            string                 `json:"file_name"`
	KnowledgeBaseStatus *string                `json:"knowledge_base_status,omitempty"`
	IngestionJobID      *string                `json:"ingestion_job_id,omitempty"`
	LastSyncDate        *time.Time             `json:"last_sync_date,omitempty"`
	RetryCount          int                    `json:"retry_count"`
	LastRetryDate       *time.Time             `json:"last_retry_date,omitempty"`
	UploadDate          time.Time              `json:"upload_date"`
	FileSize            *int64                 `json:"file_size,omitempty"`
	ContentType         *string                `json:"content_type,omitempty"`
	S3Key               *string                `json:"s3_key,omitempty"`
	UploadedBy          *string                `json:"uploaded_by,omitempty"`
}

func (r documentRecord) document() (models.TrackedDocument, error) {
	id, err := documentID(r.ID)
	if err != nil {
		return models.TrackedDocument{}, fmt.Errorf("%w: %v", models.ErrInvalidDocument, err)
	}
	doc := models.TrackedDocument{
		DocumentID:          id,
		FileName:            r.FileName,
		KnowledgeBaseStatus: models.KBStatus(deref(r.KnowledgeBaseStatus)),
		IngestionJobID:      deref(r.IngestionJobID),
		LastSyncDate:        r.LastSyncDate,
		RetryCount:          r.RetryCount,
		LastRetryDate:       r.LastRetryDate,
		UploadDate:          r.UploadDate,
		ContentType:         deref(r.ContentType),
		S3Key:               deref(r.S3Key),
		UploadedBy:          deref(r.UploadedBy),
	}
	if r.FileSize != nil {
		doc.FileSize = *r.FileSize
	}
	if err := doc.Normalize(); err != nil {
		return models.TrackedDocument{}, err
	}
	return doc, nil
}

// documentID extracts the string key of a kb_document record.
func documentID(id surrealmodels.RecordID) (string, error) {
	s, ok := id.ID.(string)
	if !ok {
		return "", fmt.Errorf("unexpected record key type %T", id.ID)
	}
	return s, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// documentContent builds the CREATE content for a new record. Optional
// fields are left out so the schema stores NONE.
func documentContent(doc models.TrackedDocument) map[string]any {
	content := map[string]any{
		"file_name":             doc.FileName,
		"knowledge_base_status": string(doc.KnowledgeBaseStatus),
		"retry_count":           doc.RetryCount,
		"upload_date":           doc.UploadDate.UTC(),
	}
	if doc.IngestionJobID != "" {
		content["ingestion_job_id"] = doc.IngestionJobID
	}
	if doc.LastSyncDate != nil {
		content["last_sync_date"] = doc.LastSyncDate.UTC()
	}
	if doc.LastRetryDate != nil {
		content["last_retry_date"] = doc.LastRetryDate.UTC()
	}
	if doc.FileSize > 0 {
		content["file_size"] = doc.FileSize
	}
	if doc.ContentType != "" {
		content["content_type"] = doc.ContentType
	}
	if doc.S3Key != "" {
		content["s3_key"] = doc.S3Key
	}
	if doc.UploadedBy != "" {
		content["uploaded_by"] = doc.UploadedBy
	}
	return content
}

// selectDocuments runs a SELECT and decodes rows, skipping invalid ones.
func (c *Client) selectDocuments(ctx context.Context, sql string, vars map[string]any) ([]models.TrackedDocument, error) {
	start := time.Now()
	results, err := surrealdb.Query[[]documentRecord](ctx, c.db, sql, vars)
	c.record(metrics.OpStoreScan, start)
	if err != nil {
		return nil, wrapQueryError(err)
	}
	if results == nil || len(*results) == 0 {
		return []models.TrackedDocument{}, nil
	}

	rows := (*results)[0].Result
	docs := make([]models.TrackedDocument, 0, len(rows))
	for _, row := range rows {
		doc, err := row.document()
		if err != nil {
			c.logger.Warn("skipping invalid document record", "record", row.ID.String(), "error", err)
			continue
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

// updateDocument runs an UPDATE on a single record. UPDATE never creates
// records, so an empty result means the document is gone.
func (c *Client) updateDocument(ctx context.Context, documentID, set string, vars map[string]any) error {
	vars["id"] = documentID

	start := time.Now()
	results, err := surrealdb.Query[[]documentRecord](ctx, c.db,
		`UPDATE type::record("kb_document", $id) SET `+set, vars)
	c.record(metrics.OpStoreWrite, start)
	if err != nil {
		return wrapQueryError(err)
	}
	if results == nil || len(*results) == 0 || len((*results)[0].Result) == 0 {
		return fmt.Errorf("%w: %s", models.ErrDocumentNotFound, documentID)
	}
	return nil
}

// DocumentsNeedingStatusUpdate returns documents in a non-terminal status or
// never touched by reconciliation.
func (c *Client) DocumentsNeedingStatusUpdate(ctx context.Context) ([]models.TrackedDocument, error) {
	docs, err := c.selectDocuments(ctx, `
		SELECT * FROM kb_document
		WHERE knowledge_base_status IN $statuses
			OR knowledge_base_status = NONE
			OR last_sync_date = NONE
	`, map[string]any{
		"statuses": []string{
			string(models.KBStatusPending),
			string(models.KBStatusIngesting),
			string(models.KBStatusFailed),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("select documents needing status update: %w", err)
	}
	return docs, nil
}

// DocumentsByJobID returns documents last associated with the given job.
func (c *Client) DocumentsByJobID(ctx context.Context, jobID string) ([]models.TrackedDocument, error) {
	docs, err := c.selectDocuments(ctx, `
		SELECT * FROM kb_document WHERE ingestion_job_id = $job_id
	`, map[string]any{"job_id": jobID})
	if err != nil {
		return nil, fmt.Errorf("select documents for job %s: %w", jobID, err)
	}
	return docs, nil
}

// ListDocuments returns all documents, newest upload first, optionally
// restricted to one status.
func (c *Client) ListDocuments(ctx context.Context, status models.KBStatus) ([]models.TrackedDocument, error) {
	statusClause := ""
	vars := map[string]any{}
	if status != "" {
		statusClause = "WHERE knowledge_base_status = $status"
		vars["status"] = string(status)
	}

	docs, err := c.selectDocuments(ctx, fmt.Sprintf(`
		SELECT * FROM kb_document %s ORDER BY upload_date DESC
	`, statusClause), vars)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	return docs, nil
}

// GetDocument returns a single document.
func (c *Client) GetDocument(ctx context.Context, documentID string) (models.TrackedDocument, error) {
	results, err := surrealdb.Query[[]documentRecord](ctx, c.db, `
		SELECT * FROM type::record("kb_document", $id)
	`, map[string]any{"id": documentID})
	if err != nil {
		return models.TrackedDocument{}, fmt.Errorf("get document %s: %w", documentID, err)
	}
	if results == nil || len(*results) == 0 || len((*results)[0].Result) == 0 {
		return models.TrackedDocument{}, fmt.Errorf("%w: %s", models.ErrDocumentNotFound, documentID)
	}
	return (*results)[0].Result[0].document()
}

// UpdateStatus records a reconciliation decision.
func (c *Client) UpdateStatus(ctx context.Context, documentID string, status models.KBStatus, syncDate time.Time, jobID string) error {
	set := "knowledge_base_status = $status, last_sync_date = $sync_date, ingestion_job_id = NONE"
	vars := map[string]any{
		"status":    string(status),
		"sync_date": syncDate.UTC(),
	}
	if jobID != "" {
		set = "knowledge_base_status = $status, last_sync_date = $sync_date, ingestion_job_id = $job_id"
		vars["job_id"] = jobID
	}

	if err := c.updateDocument(ctx, documentID, set, vars); err != nil {
		return fmt.Errorf("update status of %s: %w", documentID, err)
	}
	return nil
}

// IncrementRetry records a retry submission for a document.
func (c *Client) IncrementRetry(ctx context.Context, documentID string, retryCount int, retryDate time.Time, status models.KBStatus) error {
	err := c.updateDocument(ctx, documentID,
		"retry_count = $retry_count, last_retry_date = $retry_date, knowledge_base_status = $status",
		map[string]any{
			"retry_count": retryCount,
			"retry_date":  retryDate.UTC(),
			"status":      string(status),
		})
	if err != nil {
		return fmt.Errorf("increment retry of %s: %w", documentID, err)
	}
	return nil
}

// ResetRetries clears the retry bookkeeping of a document and puts it back
// to pending so the next run re-evaluates it.
func (c *Client) ResetRetries(ctx context.Context, documentID string) error {
	err := c.updateDocument(ctx, documentID,
		"retry_count = 0, last_retry_date = NONE, knowledge_base_status = $status",
		map[string]any{"status": string(models.KBStatusPending)})
	if err != nil {
		return fmt.Errorf("reset retries of %s: %w", documentID, err)
	}
	return nil
}

// CreateDocument stores a new record. It fails with models.ErrDocumentExists
// if the id is already tracked.
func (c *Client) CreateDocument(ctx context.Context, doc models.TrackedDocument) error {
	if err := doc.Normalize(); err != nil {
		return err
	}

	start := time.Now()
	_, err := surrealdb.Query[[]documentRecord](ctx, c.db, `
		CREATE type::record("kb_document", $id) CONTENT $content
	`, map[string]any{
		"id":      doc.DocumentID,
		"content": documentContent(doc),
	})
	c.record(metrics.OpStoreWrite, start)
	if err != nil {
		return fmt.Errorf("create document %s: %w", doc.DocumentID, wrapQueryError(err))
	}
	return nil
}

// DeleteDocument removes a record.
func (c *Client) DeleteDocument(ctx context.Context, documentID string) error {
	start := time.Now()
	results, err := surrealdb.Query[[]documentRecord](ctx, c.db, `
		DELETE type::record("kb_document", $id) RETURN BEFORE
	`, map[string]any{"id": documentID})
	c.record(metrics.OpStoreWrite, start)
	if err != nil {
		return fmt.Errorf("delete document %s: %w", documentID, err)
	}
	if results == nil || len(*results) == 0 || len((*results)[0].Result) == 0 {
		return fmt.Errorf("%w: %s", models.ErrDocumentNotFound, documentID)
	}
	return nil
}

func (c *Client) record(op string, start time.Time) {
	if c.collector != nil {
		c.collector.RecordTiming(op, time.Since(start))
	}
}
