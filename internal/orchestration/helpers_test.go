package orchestration_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/vietddude/writer/internal/core/domain"
	"github.com/vietddude/writer/internal/durable"
	"github.com/vietddude/writer/internal/infra/storage/memory"
	"github.com/vietddude/writer/internal/orchestration"
)

// =============================================================================
// Scripted submitter
// =============================================================================

type step struct {
	outcome domain.SubmissionOutcome
	err     error
}

var (
	accepted    = step{outcome: domain.SubmissionOutcome{Succeeded: true, StatusCode: 200}}
	rejected    = step{outcome: domain.SubmissionOutcome{StatusCode: 422, ErrorDetail: "invalid cdr"}}
	unavailable = step{err: errors.New("service unavailable")}
)

// innerAttempts is the in-place retry budget used by the test workflows.
const innerAttempts = 2

// failedRound is one submission round that exhausts the in-place retries.
func failedRound() []step {
	round := make([]step, innerAttempts)
	for i := range round {
		round[i] = unavailable
	}
	return round
}

func script(rounds ...[]step) []step {
	var out []step
	for _, r := range rounds {
		out = append(out, r...)
	}
	return out
}

type scriptedSubmitter struct {
	mu       sync.Mutex
	scripts  map[string][]step
	fallback map[string]step
	calls    map[string]int
}

func newScriptedSubmitter() *scriptedSubmitter {
	return &scriptedSubmitter{
		scripts:  make(map[string][]step),
		fallback: make(map[string]step),
		calls:    make(map[string]int),
	}
}

// Script sets the responses for a record; once they run out the fallback
// (default accepted) answers every call.
func (s *scriptedSubmitter) Script(recordID string, steps []step) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scripts[recordID] = steps
}

func (s *scriptedSubmitter) Fallback(recordID string, st step) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fallback[recordID] = st
}

func (s *scriptedSubmitter) Calls(recordID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[recordID]
}

func (s *scriptedSubmitter) Submit(ctx context.Context, rec domain.Record) (domain.SubmissionOutcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls[rec.ID]++

	if queue := s.scripts[rec.ID]; len(queue) > 0 {
		s.scripts[rec.ID] = queue[1:]
		return queue[0].outcome, queue[0].err
	}
	if st, ok := s.fallback[rec.ID]; ok {
		return st.outcome, st.err
	}
	return accepted.outcome, accepted.err
}

// =============================================================================
// Recording repository
// =============================================================================

type recordingRepo struct {
	*memory.RecordRepo
	mu      sync.Mutex
	history map[string][]domain.Record
}

func (r *recordingRepo) UpdateStatus(ctx context.Context, rec domain.Record) error {
	r.mu.Lock()
	r.history[rec.ID] = append(r.history[rec.ID], rec)
	r.mu.Unlock()
	return r.RecordRepo.UpdateStatus(ctx, rec)
}

func (r *recordingRepo) History(recordID string) []domain.Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.Record(nil), r.history[recordID]...)
}

// =============================================================================
// Fake clock
// =============================================================================

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if t.After(c.now) {
		c.now = t
	}
}

// =============================================================================
// Environment
// =============================================================================

type env struct {
	engine    *durable.Engine
	store     *memory.DurableStore
	repo      *recordingRepo
	submitter *scriptedSubmitter
	clock     *fakeClock
}

func newEnv(t *testing.T) *env {
	t.Helper()

	mem := memory.NewMemoryStorage()
	e := &env{
		store:     memory.NewDurableStore(mem),
		repo:      &recordingRepo{RecordRepo: memory.NewRecordRepo(mem), history: make(map[string][]domain.Record)},
		submitter: newScriptedSubmitter(),
		clock:     &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)},
	}
	e.engine = durable.NewEngine(e.store,
		durable.WithConfig(durable.Config{Workers: 16, AwaitPollInterval: 10 * time.Millisecond}),
		durable.WithClock(e.clock),
		durable.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)

	workflows := &orchestration.Workflows{
		SubmissionPolicy: durable.RetryPolicy{
			MaxAttempts:        innerAttempts,
			FirstRetryInterval: time.Millisecond,
			MaxRetryInterval:   time.Millisecond,
			BackoffCoefficient: 1,
		},
		StatusPolicy: durable.NoRetry,
		Backoff:      orchestration.DefaultBackoff(),
	}
	orchestration.Register(e.engine, workflows, &orchestration.Activities{
		Submitter: e.submitter,
		Records:   e.repo,
		Instances: e.store,
	})

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = e.engine.Stop(ctx)
	})
	return e
}

func (e *env) idle(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.engine.WaitIdle(ctx); err != nil {
		t.Fatalf("engine did not become idle: %v", err)
	}
}

// drain fires timers in due order until none are left and returns the
// waits observed, measured from the moment each timer was the earliest.
func (e *env) drain(t *testing.T) []time.Duration {
	t.Helper()
	e.idle(t)

	var waits []time.Duration
	for i := 0; i < 200; i++ {
		timers := e.store.PendingTimers()
		if len(timers) == 0 {
			return waits
		}
		next := timers[0]
		waits = append(waits, next.DueAt.Sub(e.clock.Now()))
		e.clock.Set(next.DueAt)
		if _, err := e.engine.FireDueTimers(context.Background()); err != nil {
			t.Fatalf("fire timers: %v", err)
		}
		e.idle(t)
	}
	t.Fatal("timers never drained")
	return nil
}

func (e *env) runRecord(t *testing.T, in domain.OrchestrationInput) (domain.OrchestrationOutput, []time.Duration) {
	t.Helper()
	id := orchestration.RecordInstanceID(in.RecordID)
	if _, err := e.engine.StartInstance(context.Background(), orchestration.WorkflowProcessRecord, id, in); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	waits := e.drain(t)
	return e.output(t, id), waits
}

func (e *env) output(t *testing.T, instanceID string) domain.OrchestrationOutput {
	t.Helper()
	inst, err := e.engine.GetInstance(context.Background(), instanceID)
	if err != nil {
		t.Fatalf("get instance: %v", err)
	}
	out, err := durable.Output[domain.OrchestrationOutput](inst)
	if err != nil {
		t.Fatalf("instance %s did not complete: %v (state %s)", instanceID, err, inst.State)
	}
	return out
}
