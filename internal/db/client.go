// Package db stores tracked documents in SurrealDB over an auto-reconnecting
// WebSocket connection.
package db

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/surrealdb/surrealdb.go"
	"github.com/surrealdb/surrealdb.go/contrib/rews"
	"github.com/surrealdb/surrealdb.go/pkg/connection"
	"github.com/surrealdb/surrealdb.go/pkg/connection/gorillaws"
	"github.com/surrealdb/surrealdb.go/pkg/logger"
	"github.com/surrealdb/surrealdb.go/surrealcbor"

	"github.com/raphaelgruber/kbsync/internal/metrics"
)

// WSS upgrades fail if ALPN settles on HTTP/2.
func init() {
	gorillaws.DefaultDialer.TLSClientConfig = &tls.Config{
		NextProtos: []string{"http/1.1"},
	}
}

const (
	defaultDialTimeout   = 5 * time.Second
	defaultMaxReconnects = 10
)

// Config holds SurrealDB connection configuration.
type Config struct {
	URL       string
	Namespace string
	Database  string
	Username  string
	Password  string
	AuthLevel string // "root" or "database"

	DialTimeout   time.Duration
	MaxReconnects int
}

func (c Config) auth() surrealdb.Auth {
	if c.AuthLevel == "database" {
		return surrealdb.Auth{
			Namespace: c.Namespace,
			Database:  c.Database,
			Username:  c.Username,
			Password:  c.Password,
		}
	}
	return surrealdb.Auth{Username: c.Username, Password: c.Password}
}

// Client is the SurrealDB-backed document store.
type Client struct {
	conn      *rews.Connection[*gorillaws.Connection]
	db        *surrealdb.DB
	logger    *slog.Logger
	collector *metrics.Collector
}

// Option configures a Client.
type Option func(*Client)

// WithCollector records query latencies into the given collector.
func WithCollector(collector *metrics.Collector) Option {
	return func(c *Client) {
		c.collector = collector
	}
}

// NewClient connects, signs in and selects the configured namespace and database.
func NewClient(ctx context.Context, cfg Config, log *slog.Logger, opts ...Option) (*Client, error) {
	if log == nil {
		log = slog.Default()
	}
	log = log.With("component", "surrealdb")

	conn := dial(cfg, logger.New(log.Handler()))
	log.Info("connecting", "url", cfg.URL)
	if err := conn.Connect(ctx); err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}

	db, err := open(ctx, conn, cfg)
	if err != nil {
		_ = conn.Close(ctx)
		return nil, err
	}

	log.Info("connected", "namespace", cfg.Namespace, "database", cfg.Database, "auth_level", cfg.AuthLevel)
	c := &Client{conn: conn, db: db, logger: log}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func dial(cfg Config, sdkLogger logger.Logger) *rews.Connection[*gorillaws.Connection] {
	timeout := cfg.DialTimeout
	if timeout <= 0 {
		timeout = defaultDialTimeout
	}
	reconnects := cfg.MaxReconnects
	if reconnects <= 0 {
		reconnects = defaultMaxReconnects
	}

	// surrealcbor understands SurrealDB datetime and record id tags.
	codec := surrealcbor.New()
	baseURL := strings.TrimSuffix(cfg.URL, "/rpc")

	conn := rews.New(
		func(context.Context) (*gorillaws.Connection, error) {
			return gorillaws.New(&connection.Config{
				BaseURL:     baseURL,
				Marshaler:   codec,
				Unmarshaler: codec,
				Logger:      sdkLogger,
			}), nil
		},
		timeout,
		codec,
		sdkLogger,
	)

	retryer := rews.NewExponentialBackoffRetryer()
	retryer.InitialDelay = time.Second
	retryer.MaxDelay = 30 * time.Second
	retryer.Multiplier = 2.0
	retryer.MaxRetries = reconnects
	conn.Retryer = retryer
	return conn
}

func open(ctx context.Context, conn *rews.Connection[*gorillaws.Connection], cfg Config) (*surrealdb.DB, error) {
	db, err := surrealdb.FromConnection(ctx, conn)
	if err != nil {
		return nil, fmt.Errorf("from connection: %w", err)
	}
	if _, err := db.SignIn(ctx, cfg.auth()); err != nil {
		return nil, fmt.Errorf("signin as %s: %w", cfg.Username, err)
	}
	if err := db.Use(ctx, cfg.Namespace, cfg.Database); err != nil {
		return nil, fmt.Errorf("use %s/%s: %w", cfg.Namespace, cfg.Database, err)
	}
	return db, nil
}

// Close closes the SurrealDB connection.
func (c *Client) Close(ctx context.Context) error {
	c.logger.Debug("closing connection")
	return c.conn.Close(ctx)
}

// InitSchema defines the kb_document table and its indexes. It is idempotent.
func (c *Client) InitSchema(ctx context.Context) error {
	if _, err := surrealdb.Query[any](ctx, c.db, SchemaSQL, nil); err != nil {
		return fmt.Errorf("init schema: %w", err)
	}
	c.logger.Debug("schema ready")
	return nil
}

// WipeData deletes all tracked documents while preserving schema.
// Use for testing only.
func (c *Client) WipeData(ctx context.Context) error {
	c.logger.Warn("wiping all tracked documents")
	if _, err := surrealdb.Query[any](ctx, c.db, "DELETE kb_document", nil); err != nil {
		return fmt.Errorf("delete kb_document: %w", err)
	}
	return nil
}
