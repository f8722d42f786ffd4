package durable_test

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/vietddude/writer/internal/durable"
	"github.com/vietddude/writer/internal/infra/storage/memory"
)

// =============================================================================
// Fake clock
// =============================================================================

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// =============================================================================
// Log capture
// =============================================================================

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// =============================================================================
// Harness
// =============================================================================

type harness struct {
	engine *durable.Engine
	store  *memory.DurableStore
	clock  *fakeClock
}

func newHarness(t *testing.T, out io.Writer) *harness {
	t.Helper()
	if out == nil {
		out = io.Discard
	}
	store := memory.NewDurableStore(memory.NewMemoryStorage())
	return newHarnessWithStore(t, store, newFakeClock(), out)
}

func newHarnessWithStore(t *testing.T, store *memory.DurableStore, clock *fakeClock, out io.Writer) *harness {
	t.Helper()
	engine := durable.NewEngine(store,
		durable.WithConfig(durable.Config{Workers: 8, AwaitPollInterval: 10 * time.Millisecond}),
		durable.WithClock(clock),
		durable.WithLogger(slog.New(slog.NewTextHandler(out, &slog.HandlerOptions{Level: slog.LevelInfo}))),
	)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = engine.Stop(ctx)
	})
	return &harness{engine: engine, store: store, clock: clock}
}

func (h *harness) idle(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := h.engine.WaitIdle(ctx); err != nil {
		t.Fatalf("engine did not become idle: %v", err)
	}
}

// advance moves the clock and fires every timer that became due.
func (h *harness) advance(t *testing.T, d time.Duration) int {
	t.Helper()
	h.clock.Advance(d)
	fired, err := h.engine.FireDueTimers(context.Background())
	if err != nil {
		t.Fatalf("fire timers: %v", err)
	}
	h.idle(t)
	return fired
}

func (h *harness) instance(t *testing.T, id string) *durable.Instance {
	t.Helper()
	inst, err := h.engine.GetInstance(context.Background(), id)
	if err != nil {
		t.Fatalf("get instance %s: %v", id, err)
	}
	return inst
}

var fastRetry = durable.RetryPolicy{
	MaxAttempts:        3,
	FirstRetryInterval: time.Millisecond,
	MaxRetryInterval:   2 * time.Millisecond,
	BackoffCoefficient: 2,
}
