// Package durable is a small checkpoint-replay execution engine.
//
// A workflow is ordinary Go code that receives a *Context. Every durable
// call it makes (CallActivity, CreateTimer, StartChild, AwaitAll) is given
// a sequence number and its result is checkpointed in a Store. When an
// instance resumes, after a timer fires, a child finishes or the process
// restarts, the workflow function runs again from the top and completed
// calls return their recorded results instead of executing.
//
// Workflow code must therefore be deterministic: the order and names of
// durable calls must not depend on anything except the input and the
// results of earlier durable calls. A mismatch is reported as
// ErrNondeterministic and fails the instance.
//
// Timers never hold a goroutine. CreateTimer persists the due time and
// returns ErrSuspended, which the workflow returns unchanged; the engine
// records the instance as suspended and the timer poller resumes it.
package durable
