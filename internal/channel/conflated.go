package channel

import "sync"

// Conflated holds at most one pending value. A new Send replaces a value
// the receiver has not picked up yet, so readers always see the newest one.
type Conflated[T any] struct {
	mu       sync.Mutex
	ch       chan T
	closed   bool
	replaced uint64
}

// NewConflated creates an empty conflating channel.
func NewConflated[T any]() *Conflated[T] {
	return &Conflated[T]{ch: make(chan T, 1)}
}

// Send stores v, discarding any unread value. Returns false once closed.
func (c *Conflated[T]) Send(v T) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case <-c.ch:
		c.replaced++
	default:
	}
	c.ch <- v
	return true
}

// Receive returns the receive-only channel
func (c *Conflated[T]) Receive() <-chan T {
	return c.ch
}

// Len is 1 while a value is waiting, else 0.
func (c *Conflated[T]) Len() int {
	return len(c.ch)
}

// Replaced counts values overwritten before they were read.
func (c *Conflated[T]) Replaced() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.replaced
}

// Close closes the channel. Safe to call more than once.
func (c *Conflated[T]) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.ch)
	}
}
