// Package tracker enforces exactly-once completion of dispatched requests.
package tracker

import (
	"sync"
	"sync/atomic"

	"github.com/inference-sim/replay-client/replay"
)

const (
	stateUncompleted int32 = iota
	stateCompleted
)

// Snapshot is a point-in-time view of the completion counters.
type Snapshot struct {
	Registered int64
	Completed  int64
	Ratio      float64 // Completed / Registered; 0 when nothing is registered
}

// CompletionTracker records the Uncompleted -> Completed transition of each
// RequestID. Each id owns its own atomic state word, so concurrent
// completions of different ids never contend on a shared lock.
type CompletionTracker struct {
	states     sync.Map // replay.RequestID -> *atomic.Int32
	registered atomic.Int64
	completed  atomic.Int64
}

// New returns an empty tracker.
func New() *CompletionTracker {
	return &CompletionTracker{}
}

// Register marks id as Uncompleted. Registering an id twice is a
// *replay.ScheduleViolation.
func (t *CompletionTracker) Register(id replay.RequestID) error {
	state := new(atomic.Int32)
	if _, loaded := t.states.LoadOrStore(id, state); loaded {
		return &replay.ScheduleViolation{ID: id, Reason: "registered twice"}
	}
	t.registered.Add(1)
	return nil
}

// Complete moves id from Uncompleted to Completed. Completing an
// unregistered or already completed id is a *replay.ScheduleViolation.
func (t *CompletionTracker) Complete(id replay.RequestID) error {
	v, ok := t.states.Load(id)
	if !ok {
		return &replay.ScheduleViolation{ID: id, Reason: "completed but never registered"}
	}
	if !v.(*atomic.Int32).CompareAndSwap(stateUncompleted, stateCompleted) {
		return &replay.ScheduleViolation{ID: id, Reason: "already completed"}
	}
	t.completed.Add(1)
	return nil
}

// IsCompleted reports whether id has completed. Unregistered ids report false.
func (t *CompletionTracker) IsCompleted(id replay.RequestID) bool {
	v, ok := t.states.Load(id)
	return ok && v.(*atomic.Int32).Load() == stateCompleted
}

// Snapshot returns the current counters. Completed is read before
// Registered, so Ratio never exceeds 1 under concurrent updates.
func (t *CompletionTracker) Snapshot() Snapshot {
	completed := t.completed.Load()
	registered := t.registered.Load()
	s := Snapshot{Registered: registered, Completed: completed}
	if registered > 0 {
		s.Ratio = float64(completed) / float64(registered)
	}
	return s
}
