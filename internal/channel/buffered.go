package channel

import "sync"

// Buffered is a bounded channel that drops new values when full.
type Buffered[T any] struct {
	mu     sync.Mutex
	ch     chan T
	closed bool
}

// NewBuffered creates a new buffered channel with the given size
func NewBuffered[T any](size int) *Buffered[T] {
	if size < 1 {
		size = 1
	}
	return &Buffered[T]{ch: make(chan T, size)}
}

// Send queues v. Returns false if the buffer is full or the channel is closed.
func (b *Buffered[T]) Send(v T) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return false
	}
	select {
	case b.ch <- v:
		return true
	default:
		return false
	}
}

// Receive returns the receive-only channel
func (b *Buffered[T]) Receive() <-chan T {
	return b.ch
}

// Len returns the number of items currently in the buffer
func (b *Buffered[T]) Len() int {
	return len(b.ch)
}

// Close closes the channel. Safe to call more than once.
func (b *Buffered[T]) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.closed {
		b.closed = true
		close(b.ch)
	}
}
