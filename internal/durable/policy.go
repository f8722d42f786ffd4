package durable

import (
	"time"

	"github.com/sethvargo/go-retry"
)

// RetryPolicy bounds the in-place retries of one activity call.
type RetryPolicy struct {
	MaxAttempts        int
	FirstRetryInterval time.Duration
	MaxRetryInterval   time.Duration
	BackoffCoefficient float64
}

// DefaultRetryPolicy is applied to activities called without WithRetryPolicy.
var DefaultRetryPolicy = RetryPolicy{
	MaxAttempts:        3,
	FirstRetryInterval: 1 * time.Second,
	MaxRetryInterval:   30 * time.Second,
	BackoffCoefficient: 2.0,
}

// NoRetry runs an activity exactly once.
var NoRetry = RetryPolicy{MaxAttempts: 1}

// Delay returns the wait before retry number attempt (1-based).
func (p RetryPolicy) Delay(attempt int) time.Duration {
	coefficient := p.BackoffCoefficient
	if coefficient < 1 {
		coefficient = 1
	}
	d := p.FirstRetryInterval
	for i := 1; i < attempt; i++ {
		d = time.Duration(float64(d) * coefficient)
		if p.MaxRetryInterval > 0 && d >= p.MaxRetryInterval {
			return p.MaxRetryInterval
		}
	}
	if p.MaxRetryInterval > 0 && d > p.MaxRetryInterval {
		return p.MaxRetryInterval
	}
	return d
}

// backoff builds a fresh go-retry backoff. Backoffs are stateful, so every
// activity call needs its own.
func (p RetryPolicy) backoff() retry.Backoff {
	attempt := 0
	b := retry.BackoffFunc(func() (time.Duration, bool) {
		attempt++
		return p.Delay(attempt), false
	})
	maxAttempts := p.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return retry.WithMaxRetries(uint64(maxAttempts-1), b)
}
