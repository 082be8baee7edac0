// Package queue implements the bounded per-agent FIFO (spec.md §4.3)
// that the HTTP long-poll transport drains from; no other transport
// uses it.
package queue

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/openagents/network/internal/event"
)

// DefaultCapacity is the default per-agent queue depth before the
// oldest unread event is dropped to make room for a new one.
const DefaultCapacity = 1000

// ErrBusy is returned by Poll when another call is already waiting on
// the same queue (spec.md §4.3: "at most one waiter per agent; a
// second poll while one is pending returns Busy").
var ErrBusy = errors.New("queue: a poll is already pending for this agent")

// AgentQueue is a bounded, drop-oldest FIFO of events addressed to a
// single agent. It is safe for concurrent use from any number of
// goroutines; Poll itself enforces the single-waiter rule, rejecting
// a second concurrent call with ErrBusy instead of queueing behind it.
type AgentQueue struct {
	mu       sync.Mutex
	cond     *sync.Cond
	items    []*event.Event
	capacity int
	dropped  uint64
	closed   bool
	waiting  bool
}

// New creates an AgentQueue with the given capacity; capacity <= 0
// falls back to DefaultCapacity.
func New(capacity int) *AgentQueue {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	q := &AgentQueue{capacity: capacity}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Enqueue appends e to the tail, dropping the oldest unread event
// (and incrementing DroppedCount) if the queue is already at
// capacity. Enqueue on a closed queue is a silent no-op: the agent
// has disconnected and nothing will ever drain it.
func (q *AgentQueue) Enqueue(e *event.Event) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	if len(q.items) >= q.capacity {
		q.items = q.items[1:]
		q.dropped++
	}
	q.items = append(q.items, e)
	q.cond.Signal()
}

// Poll removes up to max events, blocking until at least one is
// available, wait elapses, ctx is cancelled, or the queue is closed.
// A zero wait returns immediately with whatever is already queued.
// At most one Poll call may be pending per queue at a time; a second,
// concurrent Poll returns ErrBusy immediately instead of queueing
// behind the first (spec.md §4.3).
func (q *AgentQueue) Poll(ctx context.Context, max int, wait time.Duration) ([]*event.Event, error) {
	if max <= 0 {
		max = 1
	}
	deadline := time.Now().Add(wait)

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.waiting {
		return nil, ErrBusy
	}
	q.waiting = true
	defer func() { q.waiting = false }()

	for len(q.items) == 0 && !q.closed {
		if wait <= 0 {
			return nil, nil
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, nil
		}
		if err := q.waitWithTimeout(ctx, remaining); err != nil {
			return nil, err
		}
	}

	n := len(q.items)
	if n > max {
		n = max
	}
	out := append([]*event.Event(nil), q.items[:n]...)
	q.items = q.items[n:]
	return out, nil
}

// waitWithTimeout blocks on q.cond until signalled, ctx is done, or
// timeout elapses. q.mu must be held on entry and is held on return.
func (q *AgentQueue) waitWithTimeout(ctx context.Context, timeout time.Duration) error {
	timer := time.AfterFunc(timeout, func() { q.cond.Broadcast() })
	defer timer.Stop()

	if ctx != nil && ctx.Done() != nil {
		stop := context.AfterFunc(ctx, func() { q.cond.Broadcast() })
		defer stop()
	}

	q.cond.Wait()

	if ctx != nil {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
	}
	return nil
}

// DroppedCount reports how many events have been silently evicted by
// overflow since the queue was created.
func (q *AgentQueue) DroppedCount() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}

// Len reports the number of events currently queued.
func (q *AgentQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Close marks the queue closed and wakes any blocked Poll; subsequent
// Enqueue calls are no-ops and a pending or future Poll returns
// immediately with whatever remains queued.
func (q *AgentQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	q.cond.Broadcast()
}
