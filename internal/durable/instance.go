package durable

import (
	"encoding/json"
	"fmt"
	"time"
)

// InstanceState is the lifecycle state of a workflow instance.
type InstanceState string

const (
	StatePending   InstanceState = "pending"
	StateRunning   InstanceState = "running"
	StateSuspended InstanceState = "suspended"
	StateCompleted InstanceState = "completed"
	StateFailed    InstanceState = "failed"
)

// Terminal reports whether the instance will never execute again.
func (s InstanceState) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

// Instance is the persisted header of one workflow execution.
type Instance struct {
	ID          string          `json:"id"`
	Kind        string          `json:"kind"`
	ParentID    string          `json:"parent_id,omitempty"`
	State       InstanceState   `json:"state"`
	Input       json.RawMessage `json:"input,omitempty"`
	Output      json.RawMessage `json:"output,omitempty"`
	Error       string          `json:"error,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
}

// Output decodes the output of a completed instance.
func Output[O any](inst *Instance) (O, error) {
	var out O
	if inst.State == StateFailed {
		return out, &ChildError{InstanceID: inst.ID, Message: inst.Error}
	}
	if inst.State != StateCompleted {
		return out, fmt.Errorf("instance %s is %s", inst.ID, inst.State)
	}
	if len(inst.Output) == 0 {
		return out, nil
	}
	if err := json.Unmarshal(inst.Output, &out); err != nil {
		return out, fmt.Errorf("decode output of %s: %w", inst.ID, err)
	}
	return out, nil
}

// CallKind identifies the type of durable call behind a checkpoint.
type CallKind string

const (
	KindActivity   CallKind = "activity"
	KindTimer      CallKind = "timer"
	KindChildStart CallKind = "child_start"
	KindChildAwait CallKind = "child_await"
)

// Checkpoint is the recorded result of one durable call.
type Checkpoint struct {
	Seq       int             `json:"seq"`
	Kind      CallKind        `json:"kind"`
	Name      string          `json:"name"`
	Result    json.RawMessage `json:"result,omitempty"`
	Error     string          `json:"error,omitempty"`
	Attempts  int             `json:"attempts,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// Timer is a pending durable timer of an instance.
type Timer struct {
	InstanceID string    `json:"instance_id"`
	Seq        int       `json:"seq"`
	DueAt      time.Time `json:"due_at"`
}
