package backpressure

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/streamweaver-io/streamweaver/internal/events"
)

// Policy decides what happens when a full queue receives another event.
type Policy string

const (
	// Block waits for space; ordering preserved, no drops.
	Block Policy = "block"
	// DropOldest evicts the head to admit the new event.
	DropOldest Policy = "drop_oldest"
	// DropNewest discards the incoming event.
	DropNewest Policy = "drop_newest"
)

// ErrTimeout is returned by Get when the deadline expires before an event
// arrives.
var ErrTimeout = errors.New("queue get timed out")

// Queue is a bounded FIFO of events with configurable overflow behavior.
// A max size of 0 means unbounded. Safe for concurrent use; the stream loop
// is the single consumer, producers may be many.
type Queue struct {
	mu      sync.Mutex
	items   []events.Event
	maxSize int
	policy  Policy
	dropped int64

	// single-slot wakeup signals; coalesced wakeups are fine because
	// waiters re-check state in a loop
	notEmpty chan struct{}
	notFull  chan struct{}
}

// New creates a queue with the given bound and overflow policy.
func New(maxSize int, policy Policy) *Queue {
	return &Queue{
		maxSize:  maxSize,
		policy:   policy,
		notEmpty: make(chan struct{}, 1),
		notFull:  make(chan struct{}, 1),
	}
}

// Put enqueues an event. It reports whether the event was accepted: false
// means a DropNewest overflow. Under the Block policy a full queue suspends
// the caller until space frees up or ctx is done; on cancellation the event
// is not enqueued, not counted as dropped, and the context error is returned.
func (q *Queue) Put(ctx context.Context, ev events.Event) (bool, error) {
	for {
		q.mu.Lock()
		if q.maxSize <= 0 || len(q.items) < q.maxSize {
			q.items = append(q.items, ev)
			q.mu.Unlock()
			signal(q.notEmpty)
			return true, nil
		}

		switch q.policy {
		case DropOldest:
			copy(q.items, q.items[1:])
			q.items[len(q.items)-1] = ev
			q.dropped++
			q.mu.Unlock()
			signal(q.notEmpty)
			return true, nil
		case DropNewest:
			q.dropped++
			q.mu.Unlock()
			return false, nil
		default: // Block
			q.mu.Unlock()
			select {
			case <-ctx.Done():
				return false, ctx.Err()
			case <-q.notFull:
			}
		}
	}
}

// Get dequeues the next event in FIFO order. A timeout of 0 waits until ctx
// is done; otherwise ErrTimeout is returned once the deadline passes.
func (q *Queue) Get(ctx context.Context, timeout time.Duration) (events.Event, error) {
	var deadline <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		deadline = timer.C
	}

	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			ev := q.items[0]
			q.items = q.items[1:]
			if len(q.items) == 0 {
				q.items = nil
			} else {
				// more work pending, keep the consumer side signalled
				signal(q.notEmpty)
			}
			q.mu.Unlock()
			signal(q.notFull)
			return ev, nil
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return events.Event{}, ctx.Err()
		case <-deadline:
			return events.Event{}, ErrTimeout
		case <-q.notEmpty:
		}
	}
}

// Len returns the number of queued events.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Empty reports whether the queue holds no events.
func (q *Queue) Empty() bool { return q.Len() == 0 }

// Full reports whether the queue is at capacity. Unbounded queues are never
// full.
func (q *Queue) Full() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.maxSize > 0 && len(q.items) >= q.maxSize
}

// MaxSize returns the configured bound (0 = unbounded).
func (q *Queue) MaxSize() int { return q.maxSize }

// DroppedCount returns the number of events dropped since the last reset.
func (q *Queue) DroppedCount() int64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}

// ResetDroppedCount zeroes the drop counter and returns the previous value.
func (q *Queue) ResetDroppedCount() int64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := q.dropped
	q.dropped = 0
	return n
}

// Clear removes all queued events and returns how many were removed.
func (q *Queue) Clear() int {
	q.mu.Lock()
	n := len(q.items)
	q.items = nil
	q.mu.Unlock()
	signal(q.notFull)
	return n
}

func signal(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}
