package durable

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/vietddude/writer/internal/metrics"
)

// Config tunes the engine.
type Config struct {
	// Workers bounds concurrently executing instances.
	Workers int `yaml:"workers"`
	// TimerPollInterval is how often due timers are fired. Zero disables
	// the poller; timers then fire only through FireDueTimers.
	TimerPollInterval time.Duration `yaml:"timer_poll_interval"`
	TimerBatchSize    int           `yaml:"timer_batch_size"`
	// AwaitPollInterval bounds how long AwaitCompletion waits between store
	// reads, and how soon a locked instance is retried.
	AwaitPollInterval time.Duration `yaml:"await_poll_interval"`
}

// DefaultConfig returns the engine defaults.
func DefaultConfig() Config {
	return Config{
		Workers:           64,
		TimerPollInterval: time.Second,
		TimerBatchSize:    100,
		AwaitPollInterval: time.Second,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Workers <= 0 {
		c.Workers = d.Workers
	}
	if c.TimerPollInterval < 0 {
		c.TimerPollInterval = 0
	}
	if c.TimerBatchSize <= 0 {
		c.TimerBatchSize = d.TimerBatchSize
	}
	if c.AwaitPollInterval <= 0 {
		c.AwaitPollInterval = d.AwaitPollInterval
	}
	return c
}

// Option configures an Engine.
type Option func(*Engine)

func WithConfig(cfg Config) Option {
	return func(e *Engine) { e.cfg = cfg.withDefaults() }
}

func WithClock(c Clock) Option {
	return func(e *Engine) { e.clock = c }
}

func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithLocker serializes instance executions across processes.
func WithLocker(l Locker) Option {
	return func(e *Engine) { e.locker = l }
}

// Engine executes registered workflows against a Store.
type Engine struct {
	store    Store
	registry *registry
	cfg      Config
	clock    Clock
	logger   *slog.Logger
	locker   Locker
	sem      *semaphore.Weighted

	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	mu       sync.Mutex
	running  map[string]bool
	rerun    map[string]bool
	inflight int
	stopped  bool
	waiters  map[string]chan struct{}
}

// NewEngine creates an engine. Workflows and activities must be registered
// before Start.
func NewEngine(store Store, opts ...Option) *Engine {
	e := &Engine{
		store:    store,
		registry: newRegistry(),
		cfg:      DefaultConfig(),
		clock:    SystemClock,
		logger:   slog.Default(),
		running:  make(map[string]bool),
		rerun:    make(map[string]bool),
		waiters:  make(map[string]chan struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.With("component", "durable")
	e.sem = semaphore.NewWeighted(int64(e.cfg.Workers))
	e.baseCtx, e.cancel = context.WithCancel(context.Background())
	return e
}

// Start resumes every non-terminal instance and starts the timer poller.
func (e *Engine) Start(ctx context.Context) error {
	resumed, err := e.ResumeAll(ctx)
	if err != nil {
		return err
	}
	e.logger.Info("engine started",
		"resumed", resumed,
		"workers", e.cfg.Workers,
		"timer_poll_interval", e.cfg.TimerPollInterval,
	)

	if e.cfg.TimerPollInterval > 0 {
		e.mu.Lock()
		if !e.stopped {
			e.wg.Add(1)
			go e.pollTimers(ctx)
		}
		e.mu.Unlock()
	}
	return nil
}

// Stop cancels in-flight executions and waits for them to unwind.
// Interrupted instances stay non-terminal and are resumed by the next Start.
func (e *Engine) Stop(ctx context.Context) error {
	e.mu.Lock()
	e.stopped = true
	e.mu.Unlock()
	e.cancel()

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		e.logger.Info("engine stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ResumeAll dispatches every non-terminal instance in the store.
func (e *Engine) ResumeAll(ctx context.Context) (int, error) {
	active, err := e.store.ListActive(ctx)
	if err != nil {
		return 0, fmt.Errorf("list active instances: %w", err)
	}
	for _, inst := range active {
		e.dispatch(inst.ID)
	}
	return len(active), nil
}

// StartInstance creates and dispatches an instance of the named workflow.
// Starting an id that already exists is a no-op returning the stored
// instance.
func (e *Engine) StartInstance(ctx context.Context, kind, instanceID string, input any) (*Instance, error) {
	payload, err := json.Marshal(input)
	if err != nil {
		return nil, fmt.Errorf("marshal input: %w", err)
	}
	return e.start(ctx, kind, instanceID, "", payload)
}

func (e *Engine) start(ctx context.Context, kind, instanceID, parentID string, payload []byte) (*Instance, error) {
	if instanceID == "" {
		return nil, errors.New("durable: empty instance id")
	}
	if _, ok := e.registry.workflow(kind); !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownWorkflow, kind)
	}

	now := e.clock.Now()
	inst := &Instance{
		ID:        instanceID,
		Kind:      kind,
		ParentID:  parentID,
		State:     StatePending,
		Input:     payload,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := e.store.CreateInstance(ctx, inst); err != nil {
		if !errors.Is(err, ErrInstanceExists) {
			return nil, fmt.Errorf("create instance %s: %w", instanceID, err)
		}
		existing, getErr := e.store.GetInstance(ctx, instanceID)
		if getErr != nil {
			return nil, getErr
		}
		e.logger.Debug("instance already exists", "instance_id", instanceID, "state", existing.State)
		return existing, nil
	}

	metrics.InstancesStarted.WithLabelValues(kind).Inc()
	e.logger.Debug("instance created", "instance_id", instanceID, "workflow", kind, "parent_id", parentID)
	e.dispatch(instanceID)
	return inst, nil
}

// GetInstance reads an instance from the store.
func (e *Engine) GetInstance(ctx context.Context, instanceID string) (*Instance, error) {
	return e.store.GetInstance(ctx, instanceID)
}

// AwaitCompletion blocks until the instance is terminal or ctx is done.
func (e *Engine) AwaitCompletion(ctx context.Context, instanceID string) (*Instance, error) {
	for {
		ch := e.waiter(instanceID)

		inst, err := e.store.GetInstance(ctx, instanceID)
		if err != nil {
			return nil, err
		}
		if inst.State.Terminal() {
			return inst, nil
		}

		timer := time.NewTimer(e.cfg.AwaitPollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-ch:
		case <-timer.C:
		}
		timer.Stop()
	}
}

// WaitIdle blocks until no instance is executing or queued for execution.
// Suspended instances do not count.
func (e *Engine) WaitIdle(ctx context.Context) error {
	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()
	for {
		e.mu.Lock()
		n := e.inflight
		e.mu.Unlock()
		if n == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// FireDueTimers fires timers due at the current clock time and resumes
// their instances. It returns the number of timers fired.
func (e *Engine) FireDueTimers(ctx context.Context) (int, error) {
	now := e.clock.Now()
	timers, err := e.store.DueTimers(ctx, now, e.cfg.TimerBatchSize)
	if err != nil {
		return 0, fmt.Errorf("load due timers: %w", err)
	}

	fired := 0
	for _, t := range timers {
		cp := Checkpoint{Seq: t.Seq, Kind: KindTimer, Name: timerName, CreatedAt: now}
		if err := e.store.SaveCheckpoint(ctx, t.InstanceID, cp); err != nil {
			return fired, fmt.Errorf("checkpoint timer %s/%d: %w", t.InstanceID, t.Seq, err)
		}
		if err := e.store.DeleteTimer(ctx, t.InstanceID, t.Seq); err != nil {
			return fired, fmt.Errorf("delete timer %s/%d: %w", t.InstanceID, t.Seq, err)
		}
		metrics.TimersFired.Inc()
		e.logger.Debug("timer fired", "instance_id", t.InstanceID, "seq", t.Seq, "due_at", t.DueAt)
		e.dispatch(t.InstanceID)
		fired++
	}
	return fired, nil
}

func (e *Engine) pollTimers(ctx context.Context) {
	defer e.wg.Done()

	ticker := time.NewTicker(e.cfg.TimerPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-e.baseCtx.Done():
			return
		case <-ticker.C:
			if _, err := e.FireDueTimers(e.baseCtx); err != nil && e.baseCtx.Err() == nil {
				e.logger.Error("failed to fire due timers", "error", err)
			}
		}
	}
}

// dispatch schedules an execution of the instance. A dispatch for an
// instance that is already executing is coalesced into one rerun.
func (e *Engine) dispatch(instanceID string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.stopped {
		return
	}
	if e.running[instanceID] {
		e.rerun[instanceID] = true
		return
	}
	e.running[instanceID] = true
	e.inflight++
	e.wg.Add(1)
	go e.run(instanceID)
}

func (e *Engine) run(instanceID string) {
	defer e.wg.Done()

	for {
		if err := e.sem.Acquire(e.baseCtx, 1); err != nil {
			e.release(instanceID)
			return
		}
		e.execute(e.baseCtx, instanceID)
		e.sem.Release(1)

		e.mu.Lock()
		if e.rerun[instanceID] && !e.stopped {
			delete(e.rerun, instanceID)
			e.mu.Unlock()
			continue
		}
		e.mu.Unlock()
		e.release(instanceID)
		return
	}
}

func (e *Engine) release(instanceID string) {
	e.mu.Lock()
	delete(e.running, instanceID)
	delete(e.rerun, instanceID)
	e.inflight--
	e.mu.Unlock()
}

func (e *Engine) retryLater(instanceID string) {
	time.AfterFunc(e.cfg.AwaitPollInterval, func() { e.dispatch(instanceID) })
}

func (e *Engine) execute(ctx context.Context, instanceID string) {
	if e.locker != nil {
		release, ok, err := e.locker.TryLock(ctx, instanceID)
		if err != nil && ctx.Err() == nil {
			e.logger.Error("failed to lock instance", "instance_id", instanceID, "error", err)
		}
		if err != nil || !ok {
			if ctx.Err() == nil {
				e.retryLater(instanceID)
			}
			return
		}
		defer release()
	}

	inst, err := e.store.GetInstance(ctx, instanceID)
	if err != nil {
		if ctx.Err() == nil {
			e.logger.Error("failed to load instance", "instance_id", instanceID, "error", err)
		}
		return
	}
	if inst.State.Terminal() {
		return
	}

	fn, ok := e.registry.workflow(inst.Kind)
	if !ok {
		e.finish(ctx, inst, nil, fmt.Errorf("%w: %q", ErrUnknownWorkflow, inst.Kind))
		return
	}

	checkpoints, err := e.store.LoadCheckpoints(ctx, instanceID)
	if err != nil {
		if ctx.Err() == nil {
			e.logger.Error("failed to load checkpoints", "instance_id", instanceID, "error", err)
		}
		return
	}

	if inst.State != StateRunning {
		inst.State = StateRunning
		inst.UpdatedAt = e.clock.Now()
		if err := e.store.UpdateInstance(ctx, inst); err != nil {
			if ctx.Err() == nil {
				e.logger.Error("failed to mark instance running", "instance_id", instanceID, "error", err)
			}
			return
		}
	}

	metrics.InstanceExecutions.WithLabelValues(inst.Kind).Inc()
	wf := newContext(ctx, e, inst, checkpoints)
	output, runErr := e.invokeWorkflow(fn, wf, inst.Input)

	switch {
	case errors.Is(runErr, ErrSuspended):
		inst.State = StateSuspended
		inst.UpdatedAt = e.clock.Now()
		if err := e.store.UpdateInstance(ctx, inst); err != nil && ctx.Err() == nil {
			e.logger.Error("failed to suspend instance", "instance_id", instanceID, "error", err)
		}
	case runErr != nil && ctx.Err() != nil:
		e.logger.Debug("execution interrupted", "instance_id", instanceID, "error", runErr)
	default:
		e.finish(ctx, inst, output, runErr)
	}
}

func (e *Engine) invokeWorkflow(fn workflowFunc, wf *Context, input []byte) (output []byte, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("workflow panic: %v", r)
		}
	}()
	return fn(wf, input)
}

func (e *Engine) finish(ctx context.Context, inst *Instance, output []byte, runErr error) {
	now := e.clock.Now()
	inst.UpdatedAt = now
	inst.CompletedAt = &now
	if runErr != nil {
		inst.State = StateFailed
		inst.Error = runErr.Error()
		e.logger.Error("instance failed", "instance_id", inst.ID, "workflow", inst.Kind, "error", runErr)
	} else {
		inst.State = StateCompleted
		inst.Output = output
		e.logger.Debug("instance completed", "instance_id", inst.ID, "workflow", inst.Kind)
	}

	if err := e.store.UpdateInstance(ctx, inst); err != nil {
		if ctx.Err() == nil {
			e.logger.Error("failed to persist terminal state", "instance_id", inst.ID, "error", err)
		}
		return
	}

	metrics.InstancesFinished.WithLabelValues(inst.Kind, string(inst.State)).Inc()
	e.notify(inst.ID)
	if inst.ParentID != "" {
		e.dispatch(inst.ParentID)
	}
}

func (e *Engine) waiter(instanceID string) chan struct{} {
	e.mu.Lock()
	defer e.mu.Unlock()
	ch, ok := e.waiters[instanceID]
	if !ok {
		ch = make(chan struct{})
		e.waiters[instanceID] = ch
	}
	return ch
}

func (e *Engine) notify(instanceID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if ch, ok := e.waiters[instanceID]; ok {
		close(ch)
		delete(e.waiters, instanceID)
	}
}
