// Package queue provides the write-behind batch queue used by the database writers.
package queue

import (
	"sync"
)

// Queue is a thread-safe FIFO batch queue. With a positive limit it keeps
// only the newest limit items, discarding the oldest on overflow.
type Queue[T any] struct {
	mu      sync.Mutex
	items   []T
	limit   int
	dropped uint64
}

// New creates a new empty queue. limit <= 0 means unbounded.
func New[T any](limit int) *Queue[T] {
	return &Queue[T]{
		items: make([]T, 0),
		limit: limit,
	}
}

// Push appends items, trimming the oldest when over the limit.
func (q *Queue[T]) Push(items ...T) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(q.items, items...)
	q.trim()
}

// Requeue puts a failed batch back in front of anything pushed since, so
// write order is preserved.
func (q *Queue[T]) Requeue(items []T) {
	if len(items) == 0 {
		return
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	merged := make([]T, 0, len(items)+len(q.items))
	merged = append(merged, items...)
	q.items = append(merged, q.items...)
	q.trim()
}

func (q *Queue[T]) trim() {
	if q.limit <= 0 || len(q.items) <= q.limit {
		return
	}
	over := len(q.items) - q.limit
	q.dropped += uint64(over)
	q.items = append(q.items[:0:0], q.items[over:]...)
}

// Len returns the number of items in the queue.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Empty returns true if the queue has no items.
func (q *Queue[T]) Empty() bool {
	return q.Len() == 0
}

// Dropped returns how many items were discarded because of the limit.
func (q *Queue[T]) Dropped() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}

// Drain returns all items and clears the queue.
func (q *Queue[T]) Drain() []T {
	q.mu.Lock()
	defer q.mu.Unlock()
	result := q.items
	q.items = make([]T, 0, cap(q.items))
	return result
}
