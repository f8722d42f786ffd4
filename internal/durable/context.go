package durable

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/vietddude/writer/internal/metrics"
)

const timerName = "timer"

// Context is handed to workflow functions. It is not safe for use outside
// the goroutine running the workflow.
type Context struct {
	ctx         context.Context
	engine      *Engine
	instance    *Instance
	checkpoints map[int]Checkpoint
	seq         int
	lastSeq     int
	logger      *slog.Logger
}

func newContext(ctx context.Context, e *Engine, inst *Instance, checkpoints map[int]Checkpoint) *Context {
	wf := &Context{
		ctx:         ctx,
		engine:      e,
		instance:    inst,
		checkpoints: checkpoints,
		lastSeq:     -1,
	}
	for seq := range checkpoints {
		if seq > wf.lastSeq {
			wf.lastSeq = seq
		}
	}
	wf.logger = slog.New(&replayHandler{inner: e.logger.Handler(), wf: wf}).With(
		"instance_id", inst.ID,
		"workflow", inst.Kind,
	)
	return wf
}

// Context returns the execution context. It is cancelled on engine shutdown.
func (c *Context) Context() context.Context { return c.ctx }

func (c *Context) InstanceID() string { return c.instance.ID }

// IsReplaying reports whether recorded calls lie ahead of the workflow,
// meaning the code now running already ran in an earlier execution.
func (c *Context) IsReplaying() bool { return c.seq <= c.lastSeq }

// Logger returns a logger that discards records while replaying.
func (c *Context) Logger() *slog.Logger { return c.logger }

// CreateTimer suspends the workflow until d has elapsed. The first call
// persists the timer and returns ErrSuspended; once the timer has fired the
// same call returns nil on replay.
func (c *Context) CreateTimer(d time.Duration) error {
	seq, cp, err := c.next(KindTimer, timerName)
	if err != nil {
		return err
	}
	if cp != nil {
		return nil
	}

	t := Timer{InstanceID: c.instance.ID, Seq: seq, DueAt: c.engine.clock.Now().Add(d)}
	if err := c.engine.store.ScheduleTimer(c.ctx, t); err != nil {
		return fmt.Errorf("schedule timer: %w", err)
	}
	metrics.TimersScheduled.Inc()
	c.engine.logger.Debug("timer scheduled", "instance_id", c.instance.ID, "seq", seq, "due_at", t.DueAt)
	return ErrSuspended
}

// next assigns the next sequence number and returns the checkpoint recorded
// for it, if any.
func (c *Context) next(kind CallKind, name string) (int, *Checkpoint, error) {
	seq := c.seq
	c.seq++

	cp, ok := c.checkpoints[seq]
	if !ok {
		return seq, nil, nil
	}
	if cp.Kind != kind || cp.Name != name {
		return seq, nil, fmt.Errorf("%w: call %d is %s %q, recorded %s %q",
			ErrNondeterministic, seq, kind, name, cp.Kind, cp.Name)
	}
	return seq, &cp, nil
}

func (c *Context) record(cp Checkpoint) error {
	if err := c.engine.store.SaveCheckpoint(c.ctx, c.instance.ID, cp); err != nil {
		return fmt.Errorf("save checkpoint %d: %w", cp.Seq, err)
	}
	c.checkpoints[cp.Seq] = cp
	return nil
}
