package durable

import (
	"context"
	"time"
)

// Store persists instances, checkpoints and timers.
//
// Implementations must be safe for concurrent use. CreateInstance must be
// atomic create-if-absent, returning ErrInstanceExists for a taken id.
// ScheduleTimer must keep an existing timer for the same (instance, seq)
// so that a replay does not push the due time forward.
type Store interface {
	CreateInstance(ctx context.Context, inst *Instance) error
	GetInstance(ctx context.Context, id string) (*Instance, error)
	UpdateInstance(ctx context.Context, inst *Instance) error
	// ListActive returns every instance that is not terminal.
	ListActive(ctx context.Context) ([]*Instance, error)
	// PruneTerminal deletes terminal instances completed before the cutoff,
	// together with their checkpoints.
	PruneTerminal(ctx context.Context, before time.Time) (int, error)

	SaveCheckpoint(ctx context.Context, instanceID string, cp Checkpoint) error
	LoadCheckpoints(ctx context.Context, instanceID string) (map[int]Checkpoint, error)

	ScheduleTimer(ctx context.Context, t Timer) error
	DueTimers(ctx context.Context, now time.Time, limit int) ([]Timer, error)
	DeleteTimer(ctx context.Context, instanceID string, seq int) error
}

// Locker serializes executions of one instance across processes that share
// a Store. The returned release function must be called when ok is true.
type Locker interface {
	TryLock(ctx context.Context, instanceID string) (release func(), ok bool, err error)
}
