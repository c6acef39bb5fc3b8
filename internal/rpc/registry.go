package rpc

import (
	"fmt"
	"sync"
	"time"

	"github.com/roach88/debtsync/internal/metrics"
	"github.com/roach88/debtsync/internal/task"
)

// outcome is the single resolution of a pending call.
type outcome struct {
	result task.Result
	err    error
}

// pendingCall is one entry of the pending-call table.
//
// ch has capacity 1 and receives exactly one outcome: only the goroutine that
// removed the entry from the table sends on it.
type pendingCall struct {
	task    task.Name
	ch      chan outcome
	timer   *time.Timer
	started time.Time
}

// registry maps correlation ids to pending calls.
//
// INVARIANTS:
//   - An entry is removed at most once; resolve returns true only for the remover.
//   - The remover stops the deadline timer and delivers the outcome.
//   - After closeAll, add refuses new entries.
type registry struct {
	mu     sync.Mutex
	calls  map[string]*pendingCall
	closed error
}

func newRegistry() *registry {
	return &registry{calls: make(map[string]*pendingCall)}
}

// add registers a call and arms its deadline timer. When the timer fires the
// call resolves with a timeout Error unless something else resolved it first.
func (r *registry) add(id string, name task.Name, timeout time.Duration) (*pendingCall, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed != nil {
		return nil, r.closed
	}
	if _, exists := r.calls[id]; exists {
		return nil, fmt.Errorf("correlation id %q already pending", id)
	}

	pc := &pendingCall{
		task:    name,
		ch:      make(chan outcome, 1),
		started: time.Now(),
	}
	// The timer callback takes r.mu, so it cannot observe the entry before
	// pc.timer is assigned below.
	pc.timer = time.AfterFunc(timeout, func() {
		r.resolve(id, outcome{err: newTimeoutError(name, id)})
	})
	r.calls[id] = pc
	metrics.RPCPending.Inc()
	return pc, nil
}

// resolve removes the entry for id and delivers o to its waiter.
// Returns false if no entry exists (already resolved, or never registered).
func (r *registry) resolve(id string, o outcome) bool {
	r.mu.Lock()
	pc, ok := r.calls[id]
	if ok {
		delete(r.calls, id)
		metrics.RPCPending.Dec()
	}
	r.mu.Unlock()

	if !ok {
		return false
	}
	pc.timer.Stop()
	pc.ch <- o
	return true
}

// closeAll resolves every pending call with a protocol error carrying cause
// and refuses further registrations.
func (r *registry) closeAll(cause error) {
	r.mu.Lock()
	if r.closed == nil {
		r.closed = cause
	}
	calls := r.calls
	r.calls = make(map[string]*pendingCall)
	metrics.RPCPending.Sub(float64(len(calls)))
	r.mu.Unlock()

	for id, pc := range calls {
		pc.timer.Stop()
		pc.ch <- outcome{err: newProtocolError(pc.task, id, "transport closed", cause)}
	}
}

// len returns the number of pending calls.
func (r *registry) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}
