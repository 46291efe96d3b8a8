package core

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// BaseConfig holds configuration shared by the worker and the ingest
// driver. Values are loaded from environment variables; missing required
// values fail at startup rather than mid-run.
//
// Environment variables:
//   - AWS_REGION (default "us-east-1")
//   - S3_BUCKET (required)
//   - DDB_RUNS_TABLE (required)
//   - DDB_TILEJOBS_TABLE (required)
//   - PIPELINE_SECRETS_ID (required)
//   - JOB_STALE_LOCK_SECONDS (default 900)
//   - PIPELINE_MAX_RETRIES (default 3)
//   - PIPELINE_REQUEST_TIMEOUT (seconds, default 10)
//   - LOG_LEVEL (default INFO)
type BaseConfig struct {
	AWSRegion           string
	S3Bucket            string
	RunsTable           string
	TileJobsTable       string
	SecretsID           string
	JobStaleLockSeconds int64
	MaxRetries          int
	RequestTimeout      time.Duration
	LogLevel            string
}

// WorkerConfig is the tile worker configuration. The worker long-polls
// the tile jobs queue directly, so it needs the queue URL and the
// visibility timeout it budgets each message against.
type WorkerConfig struct {
	BaseConfig
	TileJobsQueueURL         string
	VisibilityTimeoutSeconds int64
}

// IngestionConfig is the ingest driver configuration; it additionally
// requires the tile jobs queue URL.
type IngestionConfig struct {
	BaseConfig
	TileJobsQueueURL string
}

func requireEnv(name string) (string, error) {
	value := os.Getenv(name)
	if value == "" {
		return "", fmt.Errorf("%w: %s", ErrMissingConfiguration, name)
	}
	return value, nil
}

func envOrDefault(name, fallback string) string {
	if value := os.Getenv(name); value != "" {
		return value
	}
	return fallback
}

func loadBaseConfig() (BaseConfig, error) {
	var cfg BaseConfig
	var err error

	cfg.AWSRegion = envOrDefault("AWS_REGION", "us-east-1")

	if cfg.S3Bucket, err = requireEnv("S3_BUCKET"); err != nil {
		return cfg, err
	}
	if cfg.RunsTable, err = requireEnv("DDB_RUNS_TABLE"); err != nil {
		return cfg, err
	}
	if cfg.TileJobsTable, err = requireEnv("DDB_TILEJOBS_TABLE"); err != nil {
		return cfg, err
	}
	if cfg.SecretsID, err = requireEnv("PIPELINE_SECRETS_ID"); err != nil {
		return cfg, err
	}

	lockSeconds, err := strconv.ParseInt(envOrDefault("JOB_STALE_LOCK_SECONDS", "900"), 10, 64)
	if err != nil {
		return cfg, fmt.Errorf("invalid JOB_STALE_LOCK_SECONDS: %w", err)
	}
	cfg.JobStaleLockSeconds = lockSeconds

	maxRetries, err := strconv.Atoi(envOrDefault("PIPELINE_MAX_RETRIES", "3"))
	if err != nil {
		return cfg, fmt.Errorf("invalid PIPELINE_MAX_RETRIES: %w", err)
	}
	cfg.MaxRetries = maxRetries

	timeoutSeconds, err := strconv.ParseFloat(envOrDefault("PIPELINE_REQUEST_TIMEOUT", "10"), 64)
	if err != nil {
		return cfg, fmt.Errorf("invalid PIPELINE_REQUEST_TIMEOUT: %w", err)
	}
	cfg.RequestTimeout = time.Duration(timeoutSeconds * float64(time.Second))

	cfg.LogLevel = envOrDefault("LOG_LEVEL", "INFO")

	return cfg, nil
}

// LoadWorkerConfig loads the worker configuration from the environment.
// SQS_VISIBILITY_TIMEOUT_SECONDS defaults to 180 and should match the
// queue's configured visibility timeout.
func LoadWorkerConfig() (*WorkerConfig, error) {
	base, err := loadBaseConfig()
	if err != nil {
		return nil, err
	}
	queueURL, err := requireEnv("TILE_JOBS_QUEUE_URL")
	if err != nil {
		return nil, err
	}
	visibility, err := strconv.ParseInt(envOrDefault("SQS_VISIBILITY_TIMEOUT_SECONDS", "180"), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid SQS_VISIBILITY_TIMEOUT_SECONDS: %w", err)
	}
	return &WorkerConfig{
		BaseConfig:               base,
		TileJobsQueueURL:         queueURL,
		VisibilityTimeoutSeconds: visibility,
	}, nil
}

// LoadIngestionConfig loads the ingest driver configuration from the
// environment, including TILE_JOBS_QUEUE_URL.
func LoadIngestionConfig() (*IngestionConfig, error) {
	base, err := loadBaseConfig()
	if err != nil {
		return nil, err
	}
	queueURL, err := requireEnv("TILE_JOBS_QUEUE_URL")
	if err != nil {
		return nil, err
	}
	return &IngestionConfig{BaseConfig: base, TileJobsQueueURL: queueURL}, nil
}
