package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/vietddude/writer/internal/durable"
	"github.com/vietddude/writer/internal/ingest"
	"github.com/vietddude/writer/internal/orchestration"
)

// Load reads configuration from a YAML file.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg AppConfig
	// Expand environment variables in the YAML content
	expandedData := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.applyDefaults()
	if bound := cfg.MinLockTTL(); cfg.Engine.LockTTL < bound {
		return nil, fmt.Errorf("engine.lock_ttl %v is below the %v a single record execution may take", cfg.Engine.LockTTL, bound)
	}
	return &cfg, nil
}

// lockTTLMargin covers store round trips around the retried calls.
const lockTTLMargin = 5 * time.Minute

// MinLockTTL is the longest a single record execution can hold its instance
// lock: every submission attempt timing out, the backoff between them, the
// status write retries, plus a margin. A lock that expires sooner lets a
// second process run the same instance.
func (cfg *AppConfig) MinLockTTL() time.Duration {
	submission := cfg.SubmissionRetry.Policy()
	attempts := submission.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	total := time.Duration(attempts)*cfg.Downstream.Timeout + retryWait(submission) + retryWait(orchestration.StatusRetryPolicy)
	return total + lockTTLMargin
}

func retryWait(p durable.RetryPolicy) time.Duration {
	var d time.Duration
	for i := 1; i < p.MaxAttempts; i++ {
		d += p.Delay(i)
	}
	return d
}

func (cfg *AppConfig) applyDefaults() {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Downstream.Timeout == 0 {
		cfg.Downstream.Timeout = 30 * time.Second
	}
	if cfg.Redis.KeyPrefix == "" {
		cfg.Redis.KeyPrefix = "writer"
	}

	engine := durable.DefaultConfig()
	if cfg.Engine.Workers == 0 {
		cfg.Engine.Workers = engine.Workers
	}
	if cfg.Engine.TimerPollInterval == 0 {
		cfg.Engine.TimerPollInterval = engine.TimerPollInterval
	}
	if cfg.Engine.TimerBatchSize == 0 {
		cfg.Engine.TimerBatchSize = engine.TimerBatchSize
	}
	if cfg.Engine.AwaitPollInterval == 0 {
		cfg.Engine.AwaitPollInterval = engine.AwaitPollInterval
	}
	submission := orchestration.SubmissionRetryPolicy
	if cfg.SubmissionRetry.FirstInterval == 0 {
		cfg.SubmissionRetry.FirstInterval = submission.FirstRetryInterval
	}
	if cfg.SubmissionRetry.Coefficient == 0 {
		cfg.SubmissionRetry.Coefficient = submission.BackoffCoefficient
	}
	if cfg.SubmissionRetry.MaxInterval == 0 {
		cfg.SubmissionRetry.MaxInterval = submission.MaxRetryInterval
	}
	if cfg.SubmissionRetry.MaxAttempts == 0 {
		cfg.SubmissionRetry.MaxAttempts = submission.MaxAttempts
	}

	if cfg.Ingest.Channel == "" {
		cfg.Ingest.Channel = ingest.DefaultChannel
	}
	if cfg.Engine.LockTTL == 0 {
		cfg.Engine.LockTTL = cfg.MinLockTTL()
	}
	if cfg.Retention.Interval == 0 {
		cfg.Retention.Interval = time.Hour
	}
}
