// Package channel provides generic channel wrappers used between the input,
// relay and simulator goroutines.
package channel

// Receiver provides read access to a channel.
type Receiver[T any] interface {
	Receive() <-chan T
	Len() int
}

// Sender provides write access to a channel.
type Sender[T any] interface {
	Send(T)
}

// Channel combines read and write access.
type Channel[T any] interface {
	Receiver[T]
	Sender[T]
	Close()
}

// Mailbox is a channel polled by a ticker rather than drained by a loop.
type Mailbox[T any] interface {
	Sender[T]
	TryReceive() (T, bool)
	Close()
}

// Outbox is a channel whose producers must never block.
type Outbox[T any] interface {
	Receiver[T]
	TrySend(T) bool
}

var (
	_ Mailbox[int] = (*Latest[int])(nil)
	_ Outbox[int]  = (*Buffered[int])(nil)
)
