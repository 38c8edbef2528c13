package core

import "errors"

// Frame is a raw encoded signaling message.
type Frame []byte

var (
	ErrBackpressure = errors.New("backpressure")
	ErrConnClosed   = errors.New("connection closed")
)

// SignalConnection abstracts for a system messaging transport
// Owned by the adapter; the adapter must Close() it.
type SignalConnection interface {
	// TrySend queues f without blocking; ErrBackpressure when the queue is full.
	TrySend(f Frame) error
	Close()
}
