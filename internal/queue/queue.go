// Package queue provides the mutex-guarded buffers the recorder backends use
// between the game loop and their writers.
package queue

import (
	"sync"
)

// Queue is a FIFO buffer safe for concurrent use. A bounded queue discards
// its oldest items once full so a stalled writer cannot grow memory without
// limit.
type Queue[T any] struct {
	mu      sync.Mutex
	items   []T
	limit   int
	dropped uint64
}

// New creates an unbounded queue.
func New[T any]() *Queue[T] {
	return NewBounded[T](0)
}

// NewBounded creates a queue holding at most limit items. A limit of zero
// or less means unbounded.
func NewBounded[T any](limit int) *Queue[T] {
	if limit < 0 {
		limit = 0
	}
	return &Queue[T]{limit: limit}
}

// Push appends items, evicting the oldest when over the limit. It returns
// how many items were evicted by this call.
func (q *Queue[T]) Push(items ...T) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(q.items, items...)
	return q.trim()
}

// Requeue puts items back at the front, ahead of anything pushed since they
// were drained. Over the limit, the oldest of the combined items go.
func (q *Queue[T]) Requeue(items ...T) int {
	if len(items) == 0 {
		return 0
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(append(make([]T, 0, len(items)+len(q.items)), items...), q.items...)
	return q.trim()
}

func (q *Queue[T]) trim() int {
	if q.limit == 0 || len(q.items) <= q.limit {
		return 0
	}
	over := len(q.items) - q.limit
	q.items = append(q.items[:0:0], q.items[over:]...)
	q.dropped += uint64(over)
	return over
}

// Drain returns all items and leaves the queue empty.
func (q *Queue[T]) Drain() []T {
	q.mu.Lock()
	defer q.mu.Unlock()
	result := q.items
	q.items = nil
	return result
}

// Snapshot returns a copy of the buffered items without removing them.
func (q *Queue[T]) Snapshot() []T {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]T(nil), q.items...)
}

// Len returns the number of buffered items.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Empty reports whether nothing is buffered.
func (q *Queue[T]) Empty() bool {
	return q.Len() == 0
}

// Dropped returns the total number of evicted items.
func (q *Queue[T]) Dropped() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}
