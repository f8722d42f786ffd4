package durable

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

type workflowFunc func(wf *Context, input []byte) ([]byte, error)

type activityFunc func(ctx context.Context, input []byte) ([]byte, error)

type registry struct {
	mu         sync.RWMutex
	workflows  map[string]workflowFunc
	activities map[string]activityFunc
}

func newRegistry() *registry {
	return &registry{
		workflows:  make(map[string]workflowFunc),
		activities: make(map[string]activityFunc),
	}
}

func (r *registry) workflow(name string) (workflowFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.workflows[name]
	return fn, ok
}

func (r *registry) activity(name string) (activityFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.activities[name]
	return fn, ok
}

// RegisterWorkflow registers a typed workflow under name. Input and output
// cross the store as JSON. Registering the same name twice replaces the
// earlier function.
func RegisterWorkflow[I, O any](e *Engine, name string, fn func(wf *Context, input I) (O, error)) {
	runner := func(wf *Context, raw []byte) ([]byte, error) {
		var in I
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &in); err != nil {
				return nil, fmt.Errorf("unmarshal input for workflow %q: %w", name, err)
			}
		}
		out, err := fn(wf, in)
		if err != nil {
			return nil, err
		}
		return json.Marshal(out)
	}

	e.registry.mu.Lock()
	e.registry.workflows[name] = runner
	e.registry.mu.Unlock()
}

// RegisterActivity registers a typed activity under name.
func RegisterActivity[I, O any](e *Engine, name string, fn func(ctx context.Context, input I) (O, error)) {
	runner := func(ctx context.Context, raw []byte) ([]byte, error) {
		var in I
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &in); err != nil {
				return nil, fmt.Errorf("unmarshal input for activity %q: %w", name, err)
			}
		}
		out, err := fn(ctx, in)
		if err != nil {
			return nil, err
		}
		return json.Marshal(out)
	}

	e.registry.mu.Lock()
	e.registry.activities[name] = runner
	e.registry.mu.Unlock()
}
