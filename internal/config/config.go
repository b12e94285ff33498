// Package config loads kbsync configuration from the environment and an
// optional YAML file.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Store backends.
const (
	BackendDynamoDB  = "dynamodb"
	BackendSurrealDB = "surrealdb"
)

// Config holds all configuration values.
// It is built once at process start and passed to every component.
type Config struct {
	// AWS
	AWSRegion string `yaml:"aws_region"`

	// Knowledge base
	KnowledgeBaseID string `yaml:"knowledge_base_id"`
	DataSourceID    string `yaml:"data_source_id"`
	MaxJobs         int    `yaml:"max_jobs"`
	JobDetailRate   int    `yaml:"job_detail_rate"`

	// Document store
	StoreBackend   string `yaml:"store_backend"`
	DocumentsTable string `yaml:"documents_table"`
	JobIndexName   string `yaml:"job_index_name"`
	DynamoEndpoint string `yaml:"dynamo_endpoint"`

	// SurrealDB connection
	SurrealDBURL       string `yaml:"surrealdb_url"`
	SurrealDBNamespace string `yaml:"surrealdb_namespace"`
	SurrealDBDatabase  string `yaml:"surrealdb_database"`
	SurrealDBUser      string `yaml:"surrealdb_user"`
	SurrealDBPass      string `yaml:"surrealdb_pass"`
	SurrealDBAuthLevel string `yaml:"surrealdb_auth_level"`

	// Retry policy
	MaxRetries         int           `yaml:"max_retries"`
	RetryBaseDelay     time.Duration `yaml:"retry_base_delay"`
	ThrottleRetryDelay time.Duration `yaml:"throttle_retry_delay"`

	// Metrics
	MetricsEnabled   bool   `yaml:"metrics_enabled"`
	MetricsNamespace string `yaml:"metrics_namespace"`

	// Scheduling (serve mode)
	Interval   time.Duration `yaml:"interval"`
	RunTimeout time.Duration `yaml:"run_timeout"`
	ListenAddr string        `yaml:"listen_addr"`

	// Logging
	LogFile  string     `yaml:"log_file"`
	LogLevel slog.Level `yaml:"-"`
}

// Load reads configuration from environment variables, then applies the YAML
// file named by KBSYNC_CONFIG_FILE if set. File values override the environment.
func Load() (Config, error) {
	cfg := FromEnv()

	if path := os.Getenv("KBSYNC_CONFIG_FILE"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
		if err := cfg.ApplyYAML(data); err != nil {
			return Config{}, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	return cfg, nil
}

// FromEnv reads configuration from environment variables with defaults.
func FromEnv() Config {
	return Config{
		AWSRegion: getEnv("AWS_REGION", "us-east-1"),

		KnowledgeBaseID: getEnv("KNOWLEDGE_BASE_ID", ""),
		DataSourceID:    getEnv("DATA_SOURCE_ID", ""),
		MaxJobs:         getEnvInt("KBSYNC_MAX_JOBS", 50),
		JobDetailRate:   getEnvInt("KBSYNC_JOB_DETAIL_RATE", 5),

		StoreBackend:   getEnv("KBSYNC_STORE_BACKEND", BackendDynamoDB),
		DocumentsTable: getEnv("DOCUMENTS_TABLE", "documents"),
		JobIndexName:   getEnv("DOCUMENTS_JOB_INDEX", ""),
		DynamoEndpoint: getEnv("DYNAMODB_ENDPOINT", ""),

		SurrealDBURL:       getEnv("SURREALDB_URL", "ws://localhost:8000/rpc"),
		SurrealDBNamespace: getEnv("SURREALDB_NAMESPACE", "kbsync"),
		SurrealDBDatabase:  getEnv("SURREALDB_DATABASE", "documents"),
		SurrealDBUser:      getEnv("SURREALDB_USER", "root"),
		SurrealDBPass:      getEnv("SURREALDB_PASS", "root"),
		SurrealDBAuthLevel: getEnv("SURREALDB_AUTH_LEVEL", "root"),

		MaxRetries:         getEnvInt("KBSYNC_MAX_RETRIES", 3),
		RetryBaseDelay:     getEnvDuration("KBSYNC_RETRY_BASE_DELAY", time.Second),
		ThrottleRetryDelay: getEnvDuration("KBSYNC_THROTTLE_RETRY_DELAY", 2*time.Second),

		MetricsEnabled:   getEnv("KBSYNC_METRICS_ENABLED", "true") == "true",
		MetricsNamespace: getEnv("KBSYNC_METRICS_NAMESPACE", "KnowledgeBase/Ingestion"),

		Interval:   getEnvDuration("KBSYNC_INTERVAL", 5*time.Minute),
		RunTimeout: getEnvDuration("KBSYNC_RUN_TIMEOUT", 5*time.Minute),
		ListenAddr: getEnv("KBSYNC_LISTEN_ADDR", ":8485"),

		LogFile:  getEnv("KBSYNC_LOG_FILE", "/tmp/kbsync.log"),
		LogLevel: ParseLogLevel(getEnv("KBSYNC_LOG_LEVEL", "INFO")),
	}
}

// fileConfig adds the fields that are spelled differently in the YAML file.
// yaml.v3 parses duration strings such as "90s" directly into time.Duration.
type fileConfig struct {
	Config   `yaml:",inline"`
	LogLevel string `yaml:"log_level"`
}

// ApplyYAML overlays the fields present in data onto c.
func (c *Config) ApplyYAML(data []byte) error {
	fc := fileConfig{Config: *c}
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return err
	}
	if fc.LogLevel != "" {
		fc.Config.LogLevel = ParseLogLevel(fc.LogLevel)
	}
	*c = fc.Config
	return nil
}

// Validate reports configuration that would make a run impossible.
func (c Config) Validate() error {
	var errs []error
	if c.KnowledgeBaseID == "" {
		errs = append(errs, errors.New("KNOWLEDGE_BASE_ID is required"))
	}
	if c.DataSourceID == "" {
		errs = append(errs, errors.New("DATA_SOURCE_ID is required"))
	}
	switch c.StoreBackend {
	case BackendDynamoDB:
		if c.DocumentsTable == "" {
			errs = append(errs, errors.New("DOCUMENTS_TABLE is required for the dynamodb backend"))
		}
	case BackendSurrealDB:
		if c.SurrealDBURL == "" {
			errs = append(errs, errors.New("SURREALDB_URL is required for the surrealdb backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown store backend %q", c.StoreBackend))
	}
	if c.MaxJobs <= 0 || c.MaxJobs > 1000 {
		errs = append(errs, fmt.Errorf("max jobs must be between 1 and 1000, got %d", c.MaxJobs))
	}
	if c.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("max retries must not be negative, got %d", c.MaxRetries))
	}
	if c.RetryBaseDelay <= 0 {
		errs = append(errs, errors.New("retry base delay must be positive"))
	}
	return errors.Join(errs...)
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		slog.Warn("invalid integer in environment, using default", "key", key, "value", val, "default", defaultVal)
		return defaultVal
	}
	return n
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		slog.Warn("invalid duration in environment, using default", "key", key, "value", val, "default", defaultVal)
		return defaultVal
	}
	return d
}

// ParseLogLevel maps a level name to a slog.Level, defaulting to INFO.
func ParseLogLevel(s string) slog.Level {
	switch strings.ToUpper(s) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
