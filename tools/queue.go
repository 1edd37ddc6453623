package tools

import (
	"context"
	"sync"

	"github.com/bt-bridge/gemini-live/shared"
)

// OverflowPolicy decides what Put does on a full bounded queue.
type OverflowPolicy int

const (
	// OverflowBlock makes Put wait for room. Nothing is ever dropped.
	OverflowBlock OverflowPolicy = iota
	// OverflowDropOldest evicts the head to make room for the new item.
	OverflowDropOldest
)

func (p OverflowPolicy) String() string {
	switch p {
	case OverflowBlock:
		return "block"
	case OverflowDropOldest:
		return "drop_oldest"
	default:
		return "unknown"
	}
}

// Queue is a FIFO whose blocking operations honour context cancellation.
// A capacity of zero means unbounded.
type Queue[T any] struct {
	mu       sync.Mutex
	items    []T
	capacity int
	policy   OverflowPolicy
	changed  chan struct{}
	closed   bool
	dropped  int
}

func NewBoundedQueue[T any](capacity int, policy OverflowPolicy) *Queue[T] {
	if capacity <= 0 {
		capacity = 1
	}
	return &Queue[T]{
		items:    make([]T, 0, capacity),
		capacity: capacity,
		policy:   policy,
		changed:  make(chan struct{}),
	}
}

func NewUnboundedQueue[T any]() *Queue[T] {
	return &Queue[T]{changed: make(chan struct{})}
}

// notify wakes every waiter. Callers hold mu.
func (q *Queue[T]) notify() {
	close(q.changed)
	q.changed = make(chan struct{})
}

func (q *Queue[T]) full() bool {
	return q.capacity > 0 && len(q.items) >= q.capacity
}

// Put appends v, waiting for room when the queue is bounded, full and uses
// OverflowBlock.
func (q *Queue[T]) Put(ctx context.Context, v T) error {
	q.mu.Lock()
	for {
		if q.closed {
			q.mu.Unlock()
			return shared.ErrQueueClosed
		}
		if !q.full() {
			break
		}
		if q.policy == OverflowDropOldest {
			q.popLocked()
			q.dropped++
			break
		}
		wait := q.changed
		q.mu.Unlock()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-wait:
		}
		q.mu.Lock()
	}
	q.items = append(q.items, v)
	q.notify()
	q.mu.Unlock()
	return nil
}

// Get removes the head, waiting while the queue is empty.
func (q *Queue[T]) Get(ctx context.Context) (T, error) {
	q.mu.Lock()
	for len(q.items) == 0 {
		if q.closed {
			q.mu.Unlock()
			var zero T
			return zero, shared.ErrQueueClosed
		}
		wait := q.changed
		q.mu.Unlock()
		select {
		case <-ctx.Done():
			var zero T
			return zero, ctx.Err()
		case <-wait:
		}
		q.mu.Lock()
	}
	v := q.popLocked()
	q.notify()
	q.mu.Unlock()
	return v, nil
}

func (q *Queue[T]) popLocked() T {
	var zero T
	v := q.items[0]
	q.items[0] = zero
	q.items = q.items[1:]
	return v
}

// Flush discards every queued item and reports how many were discarded.
func (q *Queue[T]) Flush() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := len(q.items)
	if n == 0 {
		return 0
	}
	clear(q.items)
	q.items = q.items[:0]
	q.notify()
	return n
}

func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *Queue[T]) Cap() int {
	return q.capacity
}

// Dropped counts items evicted by OverflowDropOldest.
func (q *Queue[T]) Dropped() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}

// Close wakes all waiters. Get keeps draining what is left; Put fails.
func (q *Queue[T]) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	q.notify()
}
