package orchestration

import (
	"time"

	"github.com/vietddude/writer/internal/durable"
)

// MaxFailCount is the number of failed submission rounds a record may
// accumulate while still being resubmitted.
const MaxFailCount = 3

// RetryStrategy decides how long a record waits between submission rounds.
type RetryStrategy interface {
	// GetDelay returns the wait after the record's failCount-th failed round.
	GetDelay(failCount int) time.Duration
}

// StagedBackoff looks the delay up in a fixed table indexed by fail count.
type StagedBackoff struct {
	Stages  []time.Duration
	Default time.Duration
}

// DefaultBackoff waits 10, 20 and 30 minutes after the first, second and
// third failure, and 5 minutes for any other count.
func DefaultBackoff() *StagedBackoff {
	return &StagedBackoff{
		Stages:  []time.Duration{10 * time.Minute, 20 * time.Minute, 30 * time.Minute},
		Default: 5 * time.Minute,
	}
}

func (s *StagedBackoff) GetDelay(failCount int) time.Duration {
	if failCount >= 1 && failCount <= len(s.Stages) {
		return s.Stages[failCount-1]
	}
	return s.Default
}

// SubmissionRetryPolicy is the in-place retry applied to every submission
// round: 5s, 10s, 20s ... capped at 5m, at most 10 attempts.
var SubmissionRetryPolicy = durable.RetryPolicy{
	MaxAttempts:        10,
	FirstRetryInterval: 5 * time.Second,
	MaxRetryInterval:   5 * time.Minute,
	BackoffCoefficient: 2.0,
}

// StatusRetryPolicy applies to status persistence.
var StatusRetryPolicy = durable.RetryPolicy{
	MaxAttempts:        5,
	FirstRetryInterval: time.Second,
	MaxRetryInterval:   30 * time.Second,
	BackoffCoefficient: 2.0,
}
