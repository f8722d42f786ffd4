package durable

import (
	"testing"
	"time"
)

func TestRetryPolicy_Delay(t *testing.T) {
	p := RetryPolicy{
		MaxAttempts:        10,
		FirstRetryInterval: 5 * time.Second,
		MaxRetryInterval:   5 * time.Minute,
		BackoffCoefficient: 2.0,
	}

	expected := []time.Duration{
		5 * time.Second,
		10 * time.Second,
		20 * time.Second,
		40 * time.Second,
		80 * time.Second,
		160 * time.Second,
		5 * time.Minute,
		5 * time.Minute,
		5 * time.Minute,
	}
	for i, want := range expected {
		if got := p.Delay(i + 1); got != want {
			t.Errorf("attempt %d: expected %v, got %v", i+1, want, got)
		}
	}
}

func TestRetryPolicy_BackoffStopsAfterMaxAttempts(t *testing.T) {
	p := RetryPolicy{MaxAttempts: 3, FirstRetryInterval: time.Millisecond, BackoffCoefficient: 2}
	b := p.backoff()

	retries := 0
	for {
		if _, stop := b.Next(); stop {
			break
		}
		retries++
		if retries > 10 {
			t.Fatal("backoff never stopped")
		}
	}
	if retries != 2 {
		t.Errorf("expected 2 retries for 3 attempts, got %d", retries)
	}

	if _, stop := NoRetry.backoff().Next(); !stop {
		t.Error("expected NoRetry to stop immediately")
	}
}
