// Package app wires configuration, adapters and the reconciliation runner
// into a ready-to-use application for the CLI and Lambda entry points.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/raphaelgruber/kbsync/internal/bedrock"
	"github.com/raphaelgruber/kbsync/internal/config"
	"github.com/raphaelgruber/kbsync/internal/db"
	"github.com/raphaelgruber/kbsync/internal/dynamo"
	"github.com/raphaelgruber/kbsync/internal/metrics"
	"github.com/raphaelgruber/kbsync/internal/models"
	"github.com/raphaelgruber/kbsync/internal/reconcile"
	"github.com/raphaelgruber/kbsync/internal/scheduler"
	"github.com/raphaelgruber/kbsync/internal/server"
)

// Store is the document store surface shared by both backends: what the
// runner needs plus the operator commands.
type Store interface {
	reconcile.DocumentStore
	ListDocuments(ctx context.Context, status models.KBStatus) ([]models.TrackedDocument, error)
	GetDocument(ctx context.Context, documentID string) (models.TrackedDocument, error)
	CreateDocument(ctx context.Context, doc models.TrackedDocument) error
	DeleteDocument(ctx context.Context, documentID string) error
	ResetRetries(ctx context.Context, documentID string) error
}

// App holds the wired components.
type App struct {
	Config    config.Config
	Logger    *slog.Logger
	Collector *metrics.Collector
	Registry  *prometheus.Registry
	Jobs      *bedrock.Client
	Store     Store
	Publisher *metrics.Publisher
	Runner    *reconcile.Runner

	closers []func(context.Context) error
}

// New validates cfg and builds every component. Call Close when done.
func New(ctx context.Context, cfg config.Config, logger *slog.Logger) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWSRegion))
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}

	a := &App{
		Config:    cfg,
		Logger:    logger,
		Collector: metrics.NewCollector(),
		Registry:  prometheus.NewRegistry(),
	}

	a.Jobs = bedrock.NewFromConfig(awsCfg, bedrock.Config{
		KnowledgeBaseID: cfg.KnowledgeBaseID,
		DataSourceID:    cfg.DataSourceID,
		MaxJobs:         cfg.MaxJobs,
		ThrottleDelay:   cfg.ThrottleRetryDelay,
		DetailRate:      float64(cfg.JobDetailRate),
	}, bedrock.WithLogger(logger), bedrock.WithCollector(a.Collector))

	if err := a.openStore(ctx, awsCfg); err != nil {
		return nil, err
	}

	sinks := metrics.MultiSink{metrics.NewPrometheusSink(a.Registry)}
	if cfg.MetricsEnabled {
		sinks = append(sinks, metrics.NewCloudWatchSinkFromConfig(awsCfg, cfg.MetricsNamespace))
	}
	a.Publisher = metrics.NewPublisher(sinks, logger)

	a.Runner = reconcile.NewRunner(a.Jobs, a.Store, a.Publisher,
		reconcile.WithLogger(logger),
		reconcile.WithCollector(a.Collector),
		reconcile.WithRetryPolicy(reconcile.RetryPolicy{
			MaxRetries: cfg.MaxRetries,
			BaseDelay:  cfg.RetryBaseDelay,
		}),
	)

	logger.Debug("application initialized",
		"store_backend", cfg.StoreBackend,
		"knowledge_base_id", cfg.KnowledgeBaseID,
		"metrics_enabled", cfg.MetricsEnabled)
	return a, nil
}

func (a *App) openStore(ctx context.Context, awsCfg aws.Config) error {
	switch a.Config.StoreBackend {
	case config.BackendDynamoDB:
		a.Store = dynamo.NewFromConfig(awsCfg, a.Config.DynamoEndpoint, dynamo.Config{
			Table:    a.Config.DocumentsTable,
			JobIndex: a.Config.JobIndexName,
		}, dynamo.WithLogger(a.Logger), dynamo.WithCollector(a.Collector))
		return nil

	case config.BackendSurrealDB:
		client, err := db.NewClient(ctx, db.Config{
			URL:       a.Config.SurrealDBURL,
			Namespace: a.Config.SurrealDBNamespace,
			Database:  a.Config.SurrealDBDatabase,
			Username:  a.Config.SurrealDBUser,
			Password:  a.Config.SurrealDBPass,
			AuthLevel: a.Config.SurrealDBAuthLevel,
		}, a.Logger, db.WithCollector(a.Collector))
		if err != nil {
			return fmt.Errorf("connect to database: %w", err)
		}
		if err := client.InitSchema(ctx); err != nil {
			_ = client.Close(ctx)
			return fmt.Errorf("initialize schema: %w", err)
		}
		a.Store = client
		a.closers = append(a.closers, client.Close)
		return nil

	default:
		return fmt.Errorf("unknown store backend %q", a.Config.StoreBackend)
	}
}

// Close releases store connections.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	for _, c := range a.closers {
		errs = append(errs, c(ctx))
	}
	return errors.Join(errs...)
}

// Serve runs the scheduler and the HTTP server until ctx is cancelled or
// either of them fails.
func (a *App) Serve(ctx context.Context, version string) error {
	sched := scheduler.New(a.Runner, a.Config.Interval,
		scheduler.WithRunTimeout(a.Config.RunTimeout),
		scheduler.WithLogger(a.Logger))
	srv := server.New(version, sched, a.Collector, a.Registry, a.Logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return sched.Start(gctx)
	})
	g.Go(func() error {
		return srv.Run(gctx, a.Config.ListenAddr)
	})

	a.Logger.Info("serving",
		"addr", a.Config.ListenAddr,
		"interval", a.Config.Interval,
		"run_timeout", a.Config.RunTimeout)
	return g.Wait()
}

// RunOnce executes a single reconciliation bounded by the configured run timeout.
func (a *App) RunOnce(ctx context.Context) (reconcile.Summary, error) {
	if a.Config.RunTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.Config.RunTimeout)
		defer cancel()
	}
	start := time.Now()
	summary, err := a.Runner.Run(ctx)
	a.Logger.Debug("run finished", "elapsed", time.Since(start), "error", err)
	return summary, err
}
