package durable

import (
	"errors"
	"fmt"
)

var (
	// ErrSuspended is returned by durable calls that cannot complete yet.
	// Workflows must return it unchanged.
	ErrSuspended = errors.New("durable: instance suspended")

	ErrInstanceExists   = errors.New("durable: instance already exists")
	ErrInstanceNotFound = errors.New("durable: instance not found")
	ErrUnknownWorkflow  = errors.New("durable: unknown workflow")
	ErrUnknownActivity  = errors.New("durable: unknown activity")

	// ErrNondeterministic means a replay issued a different durable call
	// than the one recorded at the same sequence number.
	ErrNondeterministic = errors.New("durable: nondeterministic workflow")
)

// ActivityError is returned by CallActivity after the retry policy is
// exhausted. It is recorded in the checkpoint, so replays observe the same
// failure without invoking the activity again.
type ActivityError struct {
	Activity string
	Attempts int
	Message  string
}

func (e *ActivityError) Error() string {
	return fmt.Sprintf("activity %s failed after %d attempt(s): %s", e.Activity, e.Attempts, e.Message)
}

// ChildError reports a child instance that ended in the failed state.
type ChildError struct {
	InstanceID string
	Message    string
}

func (e *ChildError) Error() string {
	return fmt.Sprintf("child instance %s failed: %s", e.InstanceID, e.Message)
}
