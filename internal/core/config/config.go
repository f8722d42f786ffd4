package config

import (
	"time"

	"github.com/vietddude/writer/internal/durable"
	"github.com/vietddude/writer/internal/infra/downstream"
	redisclient "github.com/vietddude/writer/internal/infra/redis"
	"github.com/vietddude/writer/internal/infra/storage/postgres"
)

// AppConfig represents the top-level configuration.
type AppConfig struct {
	Server          ServerConfig       `yaml:"server"`
	Logging         LoggingConfig      `yaml:"logging"`
	Database        postgres.Config    `yaml:"database"`
	Redis           redisclient.Config `yaml:"redis"`
	Downstream      downstream.Config  `yaml:"downstream"`
	Engine          EngineConfig       `yaml:"engine"`
	SubmissionRetry RetryConfig        `yaml:"submission_retry"`
	Ingest          IngestConfig       `yaml:"ingest"`
	Retention       RetentionConfig    `yaml:"retention"`
}

// ServerConfig holds HTTP and gRPC server settings.
type ServerConfig struct {
	Port     int `yaml:"port"`
	GRPCPort int `yaml:"grpc_port"` // 0 = disabled
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// EngineConfig tunes the durable engine.
type EngineConfig struct {
	durable.Config `yaml:",inline"`
	// LockTTL bounds how long one process may hold an instance lock.
	LockTTL time.Duration `yaml:"lock_ttl"`
}

// RetryConfig is the in-place retry policy of record submission.
type RetryConfig struct {
	FirstInterval time.Duration `yaml:"first_interval"`
	Coefficient   float64       `yaml:"coefficient"`
	MaxInterval   time.Duration `yaml:"max_interval"`
	MaxAttempts   int           `yaml:"max_attempts"`
}

// Policy converts the config to an engine retry policy.
func (c RetryConfig) Policy() durable.RetryPolicy {
	return durable.RetryPolicy{
		MaxAttempts:        c.MaxAttempts,
		FirstRetryInterval: c.FirstInterval,
		MaxRetryInterval:   c.MaxInterval,
		BackoffCoefficient: c.Coefficient,
	}
}

// IngestConfig controls the pub/sub intake.
type IngestConfig struct {
	Enabled bool   `yaml:"enabled"`
	Channel string `yaml:"channel"`
}

// RetentionConfig controls pruning of finished instances.
type RetentionConfig struct {
	Period   time.Duration `yaml:"period"` // 0 = keep forever
	Interval time.Duration `yaml:"interval"`
}
