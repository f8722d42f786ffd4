package durable

import (
	"encoding/json"
	"fmt"
)

// ChildResult is the outcome of one awaited child instance. Err is a
// *ChildError when the child failed.
type ChildResult[O any] struct {
	InstanceID string
	Output     O
	Err        error
}

// StartChild creates a child instance whose completion resumes the
// calling workflow. Starting an existing id is a no-op.
func StartChild(wf *Context, kind, instanceID string, input any) error {
	seq, cp, err := wf.next(KindChildStart, instanceID)
	if err != nil {
		return err
	}
	if cp != nil {
		return nil
	}

	payload, err := json.Marshal(input)
	if err != nil {
		return fmt.Errorf("marshal input for child %s: %w", instanceID, err)
	}
	if _, err := wf.engine.start(wf.ctx, kind, instanceID, wf.instance.ID, payload); err != nil {
		return fmt.Errorf("start child %s: %w", instanceID, err)
	}

	return wf.record(Checkpoint{
		Seq:       seq,
		Kind:      KindChildStart,
		Name:      instanceID,
		CreatedAt: wf.engine.clock.Now(),
	})
}

// AwaitAll waits for every listed child to reach a terminal state and
// returns their results in the same order. While any child is still
// running it returns ErrSuspended; the workflow is resumed when a child
// finishes. Children are checked in order and the scan stops at the first
// one still running, so each resume reads the store only for children it
// can record.
func AwaitAll[O any](wf *Context, instanceIDs []string) ([]ChildResult[O], error) {
	results := make([]ChildResult[O], len(instanceIDs))

	for i, id := range instanceIDs {
		seq, cp, err := wf.next(KindChildAwait, id)
		if err != nil {
			return nil, err
		}

		if cp == nil {
			child, err := wf.engine.store.GetInstance(wf.ctx, id)
			if err != nil {
				return nil, fmt.Errorf("await child %s: %w", id, err)
			}
			if !child.State.Terminal() {
				return nil, ErrSuspended
			}
			rec := Checkpoint{
				Seq:       seq,
				Kind:      KindChildAwait,
				Name:      id,
				Result:    child.Output,
				CreatedAt: wf.engine.clock.Now(),
			}
			if child.State == StateFailed {
				rec.Error = child.Error
				if rec.Error == "" {
					rec.Error = "failed"
				}
			}
			if err := wf.record(rec); err != nil {
				return nil, err
			}
			cp = &rec
		}

		results[i].InstanceID = id
		if cp.Error != "" {
			results[i].Err = &ChildError{InstanceID: id, Message: cp.Error}
			continue
		}
		if len(cp.Result) > 0 {
			if err := json.Unmarshal(cp.Result, &results[i].Output); err != nil {
				return nil, fmt.Errorf("decode output of child %s: %w", id, err)
			}
		}
	}

	return results, nil
}
