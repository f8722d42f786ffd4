package durable

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/vietddude/writer/internal/metrics"
)

type callOptions struct {
	policy RetryPolicy
}

// CallOption configures one activity call.
type CallOption func(*callOptions)

func WithRetryPolicy(p RetryPolicy) CallOption {
	return func(o *callOptions) { o.policy = p }
}

// CallActivity invokes the named activity, retrying it in place under the
// retry policy. Once the policy is exhausted it returns *ActivityError.
// Both outcomes are checkpointed, so replays return them without invoking
// the activity again.
func CallActivity[O any](wf *Context, name string, input any, opts ...CallOption) (O, error) {
	var out O
	err := wf.callActivity(name, input, &out, opts)
	return out, err
}

func (c *Context) callActivity(name string, input any, out any, opts []CallOption) error {
	seq, cp, err := c.next(KindActivity, name)
	if err != nil {
		return err
	}
	if cp != nil {
		return decodeActivity(cp, out)
	}

	act, ok := c.engine.registry.activity(name)
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownActivity, name)
	}

	o := callOptions{policy: DefaultRetryPolicy}
	for _, opt := range opts {
		opt(&o)
	}

	payload, err := json.Marshal(input)
	if err != nil {
		return fmt.Errorf("marshal input for activity %q: %w", name, err)
	}

	result, attempts, runErr := c.engine.invokeActivity(c.ctx, name, act, payload, o.policy)
	if runErr != nil && c.ctx.Err() != nil {
		// Shutdown mid-call: leave it unrecorded so the next run retries it.
		return c.ctx.Err()
	}

	rec := Checkpoint{
		Seq:       seq,
		Kind:      KindActivity,
		Name:      name,
		Attempts:  attempts,
		CreatedAt: c.engine.clock.Now(),
	}
	if runErr != nil {
		rec.Error = runErr.Error()
	} else {
		rec.Result = result
	}
	if err := c.record(rec); err != nil {
		return err
	}
	return decodeActivity(&rec, out)
}

func decodeActivity(cp *Checkpoint, out any) error {
	if cp.Error != "" {
		return &ActivityError{Activity: cp.Name, Attempts: cp.Attempts, Message: cp.Error}
	}
	if len(cp.Result) == 0 {
		return nil
	}
	if err := json.Unmarshal(cp.Result, out); err != nil {
		return fmt.Errorf("decode result of activity %q: %w", cp.Name, err)
	}
	return nil
}

func (e *Engine) invokeActivity(
	ctx context.Context,
	name string,
	act activityFunc,
	payload []byte,
	policy RetryPolicy,
) ([]byte, int, error) {
	var (
		result   []byte
		attempts int
	)

	err := retry.Do(ctx, policy.backoff(), func(ctx context.Context) error {
		attempts++
		start := time.Now()
		out, err := act(ctx, payload)
		metrics.ActivityLatency.WithLabelValues(name).Observe(time.Since(start).Seconds())
		if err != nil {
			metrics.ActivityAttempts.WithLabelValues(name, "failure").Inc()
			e.logger.Warn("activity attempt failed",
				"activity", name,
				"attempt", attempts,
				"max_attempts", policy.MaxAttempts,
				"error", err,
			)
			return retry.RetryableError(err)
		}
		metrics.ActivityAttempts.WithLabelValues(name, "success").Inc()
		result = out
		return nil
	})
	return result, attempts, err
}
