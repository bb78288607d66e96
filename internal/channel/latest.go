package channel

import "sync"

// Latest holds at most one value. Send never blocks: a value that has not
// been received yet is replaced by the new one. Sends after Close are dropped.
type Latest[T any] struct {
	mu     sync.Mutex
	ch     chan T
	closed bool
}

// NewLatest creates an empty Latest.
func NewLatest[T any]() *Latest[T] {
	return &Latest[T]{ch: make(chan T, 1)}
}

// Send stores v, discarding any pending value.
func (l *Latest[T]) Send(v T) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}
	select {
	case <-l.ch:
	default:
	}
	l.ch <- v
}

// TryReceive takes the pending value, if any, without blocking.
func (l *Latest[T]) TryReceive() (T, bool) {
	select {
	case v, ok := <-l.ch:
		return v, ok
	default:
		var zero T
		return zero, false
	}
}

// Receive returns the receive-only channel
func (l *Latest[T]) Receive() <-chan T {
	return l.ch
}

// Len returns 1 when a value is pending
func (l *Latest[T]) Len() int {
	return len(l.ch)
}

// Close discards any pending value and closes the channel. Further calls
// are no-ops.
func (l *Latest[T]) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}
	l.closed = true
	select {
	case <-l.ch:
	default:
	}
	close(l.ch)
}
