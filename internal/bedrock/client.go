// Package bedrock reads and starts knowledge base ingestion jobs through the
// Bedrock Agent API.
package bedrock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockagent"
	"github.com/aws/aws-sdk-go-v2/service/bedrockagent/types"
	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/raphaelgruber/kbsync/internal/metrics"
	"github.com/raphaelgruber/kbsync/internal/models"
)

const (
	// DefaultMaxJobs is the number of most recent jobs considered per run.
	DefaultMaxJobs = 50
	// DefaultThrottleDelay is the pause before the single listing retry.
	DefaultThrottleDelay = 2 * time.Second

	// DefaultDetailRate is the per-second budget for per-job detail lookups.
	DefaultDetailRate = 5

	// maxDescriptionLen is the service limit for job descriptions.
	maxDescriptionLen = 200
)

// API is the subset of the bedrockagent client used here.
// *bedrockagent.Client satisfies it.
type API interface {
	ListIngestionJobs(ctx context.Context, params *bedrockagent.ListIngestionJobsInput, optFns ...func(*bedrockagent.Options)) (*bedrockagent.ListIngestionJobsOutput, error)
	GetIngestionJob(ctx context.Context, params *bedrockagent.GetIngestionJobInput, optFns ...func(*bedrockagent.Options)) (*bedrockagent.GetIngestionJobOutput, error)
	StartIngestionJob(ctx context.Context, params *bedrockagent.StartIngestionJobInput, optFns ...func(*bedrockagent.Options)) (*bedrockagent.StartIngestionJobOutput, error)
}

// Config identifies the knowledge base data source to observe.
type Config struct {
	KnowledgeBaseID string
	DataSourceID    string
	MaxJobs         int
	ThrottleDelay   time.Duration
	DetailRate      float64 // GetIngestionJob calls per second during ListJobs
}

// Client lists and starts ingestion jobs for one data source.
type Client struct {
	api       API
	cfg       Config
	logger    *slog.Logger
	collector *metrics.Collector
	limiter   *rate.Limiter
}

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithCollector records call latencies into the given collector.
func WithCollector(collector *metrics.Collector) Option {
	return func(c *Client) {
		c.collector = collector
	}
}

// NewClient creates a client around an API implementation.
func NewClient(api API, cfg Config, opts ...Option) *Client {
	if cfg.MaxJobs <= 0 {
		cfg.MaxJobs = DefaultMaxJobs
	}
	if cfg.ThrottleDelay <= 0 {
		cfg.ThrottleDelay = DefaultThrottleDelay
	}
	if cfg.DetailRate <= 0 {
		cfg.DetailRate = DefaultDetailRate
	}
	c := &Client{
		api:     api,
		cfg:     cfg,
		logger:  slog.Default(),
		limiter: rate.NewLimiter(rate.Limit(cfg.DetailRate), 1),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// NewFromConfig creates a client backed by the AWS SDK.
func NewFromConfig(awsCfg aws.Config, cfg Config, opts ...Option) *Client {
	return NewClient(bedrockagent.NewFromConfig(awsCfg), cfg, opts...)
}

// ListJobs returns the most recent ingestion jobs, newest first, each enriched
// with failure reasons and statistics from a per-job lookup.
//
// A throttled listing is retried once after a fixed delay. If that also fails
// the error wraps ErrUpstreamUnavailable. A failed per-job lookup keeps the
// summary data for that job.
func (c *Client) ListJobs(ctx context.Context) ([]models.IngestionJob, error) {
	summaries, err := backoff.Retry(ctx, func() ([]types.IngestionJobSummary, error) {
		out, err := c.listOnce(ctx)
		if err == nil {
			return out, nil
		}
		if errors.Is(err, ErrThrottled) {
			return nil, err
		}
		return nil, backoff.Permanent(err)
	},
		backoff.WithBackOff(backoff.NewConstantBackOff(c.cfg.ThrottleDelay)),
		backoff.WithMaxTries(2),
		backoff.WithNotify(func(err error, delay time.Duration) {
			c.logger.Warn("ingestion job listing throttled, retrying", "delay", delay, "error", err)
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUpstreamUnavailable, err)
	}

	jobs := make([]models.IngestionJob, 0, len(summaries))
	for _, s := range summaries {
		job := jobFromSummary(s)

		// The summary already carries status and timestamps, which is all the
		// engine needs; a failed lookup only loses statistics and failure reasons.
		detail, err := c.detail(ctx, job.JobID)
		if err != nil {
			c.logger.Warn("failed to fetch ingestion job details, using summary", "job_id", job.JobID, "error", err)
		} else {
			job = detail
		}

		if err := job.Validate(); err != nil {
			c.logger.Warn("skipping invalid ingestion job", "job_id", job.JobID, "error", err)
			continue
		}
		jobs = append(jobs, job)
	}

	c.logger.Debug("listed ingestion jobs", "count", len(jobs))
	return jobs, nil
}

// listOnce performs a single ListIngestionJobs call.
func (c *Client) listOnce(ctx context.Context) ([]types.IngestionJobSummary, error) {
	start := time.Now()
	out, err := c.api.ListIngestionJobs(ctx, &bedrockagent.ListIngestionJobsInput{
		KnowledgeBaseId: aws.String(c.cfg.KnowledgeBaseID),
		DataSourceId:    aws.String(c.cfg.DataSourceID),
		MaxResults:      aws.Int32(int32(c.cfg.MaxJobs)),
		SortBy: &types.IngestionJobSortBy{
			Attribute: types.IngestionJobSortByAttributeStartedAt,
			Order:     types.SortOrderDescending,
		},
	})
	c.record(metrics.OpBedrockList, start)
	if err != nil {
		return nil, fmt.Errorf("list ingestion jobs: %w", wrapAPIError(err))
	}
	return out.IngestionJobSummaries, nil
}

// detail paces per-job lookups so a full listing stays under the API rate limit.
func (c *Client) detail(ctx context.Context, jobID string) (models.IngestionJob, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return models.IngestionJob{}, fmt.Errorf("wait for rate limiter: %w", err)
	}
	return c.GetJob(ctx, jobID)
}

// GetJob fetches a single job with its failure reasons and statistics.
func (c *Client) GetJob(ctx context.Context, jobID string) (models.IngestionJob, error) {
	start := time.Now()
	out, err := c.api.GetIngestionJob(ctx, &bedrockagent.GetIngestionJobInput{
		KnowledgeBaseId: aws.String(c.cfg.KnowledgeBaseID),
		DataSourceId:    aws.String(c.cfg.DataSourceID),
		IngestionJobId:  aws.String(jobID),
	})
	c.record(metrics.OpBedrockGet, start)
	if err != nil {
		return models.IngestionJob{}, fmt.Errorf("get ingestion job %s: %w", jobID, wrapAPIError(err))
	}
	if out.IngestionJob == nil {
		return models.IngestionJob{}, fmt.Errorf("get ingestion job %s: empty response", jobID)
	}
	return jobFromDetail(*out.IngestionJob), nil
}

// StartJob asks the service to start a new ingestion job for the data source.
// A job already running is reported as a conflict, not an error.
func (c *Client) StartJob(ctx context.Context, description string) models.SubmitResult {
	if len(description) > maxDescriptionLen {
		description = description[:maxDescriptionLen]
	}

	start := time.Now()
	out, err := c.api.StartIngestionJob(ctx, &bedrockagent.StartIngestionJobInput{
		KnowledgeBaseId: aws.String(c.cfg.KnowledgeBaseID),
		DataSourceId:    aws.String(c.cfg.DataSourceID),
		Description:     aws.String(description),
		ClientToken:     aws.String(uuid.NewString()),
	})
	c.record(metrics.OpBedrockStart, start)
	if err != nil {
		err = wrapAPIError(err)
		if errors.Is(err, ErrConflict) {
			return models.Conflicted()
		}
		return models.SubmitFailed(fmt.Errorf("start ingestion job: %w", err))
	}

	var jobID string
	if out.IngestionJob != nil {
		jobID = aws.ToString(out.IngestionJob.IngestionJobId)
	}
	c.logger.Info("started ingestion job", "job_id", jobID, "description", description)
	return models.Submitted(jobID)
}

func (c *Client) record(op string, start time.Time) {
	if c.collector != nil {
		c.collector.RecordTiming(op, time.Since(start))
	}
}

func jobFromSummary(s types.IngestionJobSummary) models.IngestionJob {
	return models.IngestionJob{
		JobID:       aws.ToString(s.IngestionJobId),
		Status:      models.JobStatus(s.Status),
		Description: aws.ToString(s.Description),
		StartedAt:   aws.ToTime(s.StartedAt),
		UpdatedAt:   aws.ToTime(s.UpdatedAt),
	}
}

func jobFromDetail(j types.IngestionJob) models.IngestionJob {
	job := models.IngestionJob{
		JobID:       aws.ToString(j.IngestionJobId),
		Status:      models.JobStatus(j.Status),
		Description: aws.ToString(j.Description),
		StartedAt:   aws.ToTime(j.StartedAt),
		UpdatedAt:   aws.ToTime(j.UpdatedAt),
	}
	if job.Status == models.JobStatusFailed && len(j.FailureReasons) > 0 {
		job.FailureReasons = append([]string(nil), j.FailureReasons...)
	}
	if j.Statistics != nil {
		job.Statistics = &models.JobStatistics{
			DocumentsScanned:         j.Statistics.NumberOfDocumentsScanned,
			NewDocumentsIndexed:      j.Statistics.NumberOfNewDocumentsIndexed,
			ModifiedDocumentsIndexed: j.Statistics.NumberOfModifiedDocumentsIndexed,
			DocumentsDeleted:         j.Statistics.NumberOfDocumentsDeleted,
			DocumentsFailed:          j.Statistics.NumberOfDocumentsFailed,
			MetadataDocumentsScanned: j.Statistics.NumberOfMetadataDocumentsScanned,
			MetadataDocumentsUpdated: j.Statistics.NumberOfMetadataDocumentsModified,
		}
	}
	return job
}
