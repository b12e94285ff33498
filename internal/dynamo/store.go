// Package dynamo stores tracked documents in a DynamoDB table keyed by documentId.
package dynamo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/raphaelgruber/kbsync/internal/metrics"
	"github.com/raphaelgruber/kbsync/internal/models"
)

// Attribute names in the documents table.
const (
	attrDocumentID    = "documentId"
	attrStatus        = "knowledgeBaseStatus"
	attrJobID         = "ingestionJobId"
	attrLastSyncDate  = "lastSyncDate"
	attrRetryCount    = "retryCount"
	attrLastRetryDate = "lastRetryDate"
)

// API is the subset of the DynamoDB client used by Store.
// *dynamodb.Client satisfies it.
type API interface {
	dynamodb.ScanAPIClient
	dynamodb.QueryAPIClient
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
}

// Config names the table and the optional job id index.
type Config struct {
	Table string
	// JobIndex is a GSI with ingestionJobId as partition key. When empty,
	// lookups by job id fall back to a filtered scan.
	JobIndex string
}

// Store reads and writes tracked documents.
type Store struct {
	api       API
	cfg       Config
	logger    *slog.Logger
	collector *metrics.Collector
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

// WithCollector records call latencies into the given collector.
func WithCollector(collector *metrics.Collector) Option {
	return func(s *Store) {
		s.collector = collector
	}
}

// New creates a store around an API implementation.
func New(api API, cfg Config, opts ...Option) *Store {
	s := &Store{
		api:    api,
		cfg:    cfg,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NewFromConfig creates a store backed by the AWS SDK. A non-empty endpoint
// overrides the service endpoint, e.g. for DynamoDB Local.
func NewFromConfig(awsCfg aws.Config, endpoint string, cfg Config, opts ...Option) *Store {
	client := dynamodb.NewFromConfig(awsCfg, func(o *dynamodb.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
	})
	return New(client, cfg, opts...)
}

// documentItem is the table representation of a tracked document.
type documentItem struct {
	DocumentID          string     `dynamodbav:"documentId"`
	FileName            string     `dynamodbav:"fileName,omitempty"`
	KnowledgeBaseStatus string     `dynamodbav:"knowledgeBaseStatus,omitempty"`
	IngestionJobID      string     `dynamodbav:"ingestionJobId,omitempty"`
	LastSyncDate        *time.Time `dynamodbav:"lastSyncDate,omitempty"`
	RetryCount          int        `dynamodbav:"retryCount"`
	LastRetryDate       *time.Time `dynamodbav:"lastRetryDate,omitempty"`
	UploadDate          time.Time  `dynamodbav:"uploadDate"`
	FileSize            int64      `dynamodbav:"fileSize,omitempty"`
	ContentType         string     `dynamodbav:"contentType,omitempty"`
	S3Key               string     `dynamodbav:"s3Key,omitempty"`
	UploadedBy          string     `dynamodbav:"uploadedBy,omitempty"`
}

func itemFromDocument(d models.TrackedDocument) documentItem {
	return documentItem{
		DocumentID:          d.DocumentID,
		FileName:            d.FileName,
		KnowledgeBaseStatus: string(d.KnowledgeBaseStatus),
		IngestionJobID:      d.IngestionJobID,
		LastSyncDate:        d.LastSyncDate,
		RetryCount:          d.RetryCount,
		LastRetryDate:       d.LastRetryDate,
		UploadDate:          d.UploadDate,
		FileSize:            d.FileSize,
		ContentType:         d.ContentType,
		S3Key:               d.S3Key,
		UploadedBy:          d.UploadedBy,
	}
}

func (i documentItem) document() models.TrackedDocument {
	return models.TrackedDocument{
		DocumentID:          i.DocumentID,
		FileName:            i.FileName,
		KnowledgeBaseStatus: models.KBStatus(i.KnowledgeBaseStatus),
		IngestionJobID:      i.IngestionJobID,
		LastSyncDate:        i.LastSyncDate,
		RetryCount:          i.RetryCount,
		LastRetryDate:       i.LastRetryDate,
		UploadDate:          i.UploadDate,
		FileSize:            i.FileSize,
		ContentType:         i.ContentType,
		S3Key:               i.S3Key,
		UploadedBy:          i.UploadedBy,
	}
}

// decode converts raw items to documents, skipping rows that fail validation.
func (s *Store) decode(items []map[string]types.AttributeValue) []models.TrackedDocument {
	docs := make([]models.TrackedDocument, 0, len(items))
	for _, raw := range items {
		var item documentItem
		if err := attributevalue.UnmarshalMap(raw, &item); err != nil {
			s.logger.Warn("skipping undecodable document record", "document_id", rawID(raw), "error", err)
			continue
		}
		doc := item.document()
		if err := doc.Normalize(); err != nil {
			s.logger.Warn("skipping invalid document record", "document_id", item.DocumentID, "error", err)
			continue
		}
		docs = append(docs, doc)
	}
	return docs
}

func rawID(item map[string]types.AttributeValue) string {
	if v, ok := item[attrDocumentID].(*types.AttributeValueMemberS); ok {
		return v.Value
	}
	return ""
}

func documentKey(id string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		attrDocumentID: &types.AttributeValueMemberS{Value: id},
	}
}

// DocumentsNeedingStatusUpdate returns documents in a non-terminal status or
// never touched by reconciliation.
func (s *Store) DocumentsNeedingStatusUpdate(ctx context.Context) ([]models.TrackedDocument, error) {
	status := expression.Name(attrStatus)
	filter := status.In(
		expression.Value(models.KBStatusPending),
		expression.Value(models.KBStatusIngesting),
		expression.Value(models.KBStatusFailed),
	).Or(
		expression.AttributeNotExists(expression.Name(attrLastSyncDate)),
		expression.AttributeNotExists(status),
	)

	docs, err := s.scan(ctx, &filter)
	if err != nil {
		return nil, fmt.Errorf("scan documents needing status update: %w", err)
	}
	return docs, nil
}

// DocumentsByJobID returns documents last associated with the given job.
func (s *Store) DocumentsByJobID(ctx context.Context, jobID string) ([]models.TrackedDocument, error) {
	if s.cfg.JobIndex == "" {
		filter := expression.Name(attrJobID).Equal(expression.Value(jobID))
		docs, err := s.scan(ctx, &filter)
		if err != nil {
			return nil, fmt.Errorf("scan documents for job %s: %w", jobID, err)
		}
		return docs, nil
	}

	expr, err := expression.NewBuilder().
		WithKeyCondition(expression.Key(attrJobID).Equal(expression.Value(jobID))).
		Build()
	if err != nil {
		return nil, fmt.Errorf("build job query: %w", err)
	}

	start := time.Now()
	defer s.record(metrics.OpStoreScan, start)

	var items []map[string]types.AttributeValue
	paginator := dynamodb.NewQueryPaginator(s.api, &dynamodb.QueryInput{
		TableName:                 aws.String(s.cfg.Table),
		IndexName:                 aws.String(s.cfg.JobIndex),
		KeyConditionExpression:    expr.KeyCondition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("query documents for job %s: %w", jobID, err)
		}
		items = append(items, page.Items...)
	}
	return s.decode(items), nil
}

// ListDocuments returns all documents, optionally restricted to one status.
func (s *Store) ListDocuments(ctx context.Context, status models.KBStatus) ([]models.TrackedDocument, error) {
	var filter *expression.ConditionBuilder
	if status != "" {
		f := expression.Name(attrStatus).Equal(expression.Value(status))
		filter = &f
	}
	docs, err := s.scan(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	return docs, nil
}

func (s *Store) scan(ctx context.Context, filter *expression.ConditionBuilder) ([]models.TrackedDocument, error) {
	input := &dynamodb.ScanInput{TableName: aws.String(s.cfg.Table)}
	if filter != nil {
		expr, err := expression.NewBuilder().WithFilter(*filter).Build()
		if err != nil {
			return nil, fmt.Errorf("build filter: %w", err)
		}
		input.FilterExpression = expr.Filter()
		input.ExpressionAttributeNames = expr.Names()
		input.ExpressionAttributeValues = expr.Values()
	}

	start := time.Now()
	defer s.record(metrics.OpStoreScan, start)

	var items []map[string]types.AttributeValue
	paginator := dynamodb.NewScanPaginator(s.api, input)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		items = append(items, page.Items...)
	}
	return s.decode(items), nil
}

// UpdateStatus records a reconciliation decision. The write fails with
// models.ErrDocumentNotFound if the record was deleted meanwhile.
func (s *Store) UpdateStatus(ctx context.Context, documentID string, status models.KBStatus, syncDate time.Time, jobID string) error {
	update := expression.
		Set(expression.Name(attrStatus), expression.Value(status)).
		Set(expression.Name(attrLastSyncDate), expression.Value(syncDate.UTC()))
	if jobID != "" {
		update = update.Set(expression.Name(attrJobID), expression.Value(jobID))
	} else {
		update = update.Remove(expression.Name(attrJobID))
	}

	if err := s.updateExisting(ctx, documentID, update); err != nil {
		return fmt.Errorf("update status of %s: %w", documentID, err)
	}
	return nil
}

// IncrementRetry records a retry submission for a document.
func (s *Store) IncrementRetry(ctx context.Context, documentID string, retryCount int, retryDate time.Time, status models.KBStatus) error {
	update := expression.
		Set(expression.Name(attrRetryCount), expression.Value(retryCount)).
		Set(expression.Name(attrLastRetryDate), expression.Value(retryDate.UTC())).
		Set(expression.Name(attrStatus), expression.Value(status))

	if err := s.updateExisting(ctx, documentID, update); err != nil {
		return fmt.Errorf("increment retry of %s: %w", documentID, err)
	}
	return nil
}

// ResetRetries clears the retry bookkeeping of a document and puts it back
// to pending so the next run re-evaluates it.
func (s *Store) ResetRetries(ctx context.Context, documentID string) error {
	update := expression.
		Set(expression.Name(attrRetryCount), expression.Value(0)).
		Set(expression.Name(attrStatus), expression.Value(models.KBStatusPending)).
		Remove(expression.Name(attrLastRetryDate))

	if err := s.updateExisting(ctx, documentID, update); err != nil {
		return fmt.Errorf("reset retries of %s: %w", documentID, err)
	}
	return nil
}

func (s *Store) updateExisting(ctx context.Context, documentID string, update expression.UpdateBuilder) error {
	expr, err := expression.NewBuilder().
		WithUpdate(update).
		WithCondition(expression.AttributeExists(expression.Name(attrDocumentID))).
		Build()
	if err != nil {
		return fmt.Errorf("build update: %w", err)
	}

	start := time.Now()
	_, err = s.api.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(s.cfg.Table),
		Key:                       documentKey(documentID),
		UpdateExpression:          expr.Update(),
		ConditionExpression:       expr.Condition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
	})
	s.record(metrics.OpStoreWrite, start)
	return wrapConditionError(err)
}

// CreateDocument stores a new record. It fails with models.ErrDocumentExists
// if the id is already tracked.
func (s *Store) CreateDocument(ctx context.Context, doc models.TrackedDocument) error {
	if err := doc.Normalize(); err != nil {
		return err
	}
	item, err := attributevalue.MarshalMap(itemFromDocument(doc))
	if err != nil {
		return fmt.Errorf("marshal document %s: %w", doc.DocumentID, err)
	}
	expr, err := expression.NewBuilder().
		WithCondition(expression.AttributeNotExists(expression.Name(attrDocumentID))).
		Build()
	if err != nil {
		return fmt.Errorf("build condition: %w", err)
	}

	start := time.Now()
	_, err = s.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:                aws.String(s.cfg.Table),
		Item:                     item,
		ConditionExpression:      expr.Condition(),
		ExpressionAttributeNames: expr.Names(),
	})
	s.record(metrics.OpStoreWrite, start)
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return fmt.Errorf("%w: %s", models.ErrDocumentExists, doc.DocumentID)
		}
		return fmt.Errorf("put document %s: %w", doc.DocumentID, err)
	}
	return nil
}

// GetDocument returns a single document.
func (s *Store) GetDocument(ctx context.Context, documentID string) (models.TrackedDocument, error) {
	out, err := s.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.cfg.Table),
		Key:            documentKey(documentID),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return models.TrackedDocument{}, fmt.Errorf("get document %s: %w", documentID, err)
	}
	if len(out.Item) == 0 {
		return models.TrackedDocument{}, fmt.Errorf("%w: %s", models.ErrDocumentNotFound, documentID)
	}

	var item documentItem
	if err := attributevalue.UnmarshalMap(out.Item, &item); err != nil {
		return models.TrackedDocument{}, fmt.Errorf("decode document %s: %w", documentID, err)
	}
	doc := item.document()
	if err := doc.Normalize(); err != nil {
		return models.TrackedDocument{}, err
	}
	return doc, nil
}

// DeleteDocument removes a record.
func (s *Store) DeleteDocument(ctx context.Context, documentID string) error {
	expr, err := expression.NewBuilder().
		WithCondition(expression.AttributeExists(expression.Name(attrDocumentID))).
		Build()
	if err != nil {
		return fmt.Errorf("build condition: %w", err)
	}

	start := time.Now()
	_, err = s.api.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName:                aws.String(s.cfg.Table),
		Key:                      documentKey(documentID),
		ConditionExpression:      expr.Condition(),
		ExpressionAttributeNames: expr.Names(),
	})
	s.record(metrics.OpStoreWrite, start)
	if err := wrapConditionError(err); err != nil {
		return fmt.Errorf("delete document %s: %w", documentID, err)
	}
	return nil
}

// wrapConditionError maps a failed existence condition to models.ErrDocumentNotFound.
func wrapConditionError(err error) error {
	if err == nil {
		return nil
	}
	var ccf *types.ConditionalCheckFailedException
	if errors.As(err, &ccf) {
		return fmt.Errorf("%w: %s", models.ErrDocumentNotFound, ccf.ErrorMessage())
	}
	return err
}

func (s *Store) record(op string, start time.Time) {
	if s.collector != nil {
		s.collector.RecordTiming(op, time.Since(start))
	}
}
