package core

import (
	"context"

	"github.com/dkeye/huddle/internal/domain"
)

// MediaEngine is the routing engine seen from the signaling layer.
// Calls taking a context may block and are the only suspension points of a request.
type MediaEngine interface {
	// CreateRouter returns a fresh routing context for one room.
	CreateRouter(ctx context.Context) (Router, error)
}

// Router is a room's routing context. Owned by the Room, closed exactly once.
type Router interface {
	ID() string
	Capabilities() domain.RTPCapabilities
	CreateTransport(ctx context.Context, dir domain.Direction) (Transport, error)
	// CanConsume reports whether a device with caps can receive the producer.
	CanConsume(producerID domain.ProducerID, caps domain.RTPCapabilities) bool
	// Close releases every transport created by the router.
	Close()
}

type Transport interface {
	ID() domain.TransportID
	Direction() domain.Direction
	Params() domain.TransportParams
	Connect(ctx context.Context, params domain.ConnectParams) error
	Produce(ctx context.Context, opts ProduceOptions) (Producer, error)
	Consume(ctx context.Context, opts ConsumeOptions) (Consumer, error)
	// Close closes the transport and every producer and consumer bound to it.
	Close()
}

type ProduceOptions struct {
	Kind          domain.MediaKind
	RTPParameters domain.RTPParameters
}

type ConsumeOptions struct {
	ProducerID   domain.ProducerID
	Capabilities domain.RTPCapabilities
	Paused       bool
}

type Producer interface {
	ID() domain.ProducerID
	Kind() domain.MediaKind
	RTPParameters() domain.RTPParameters
	Close()
}

type Consumer interface {
	ID() domain.ConsumerID
	ProducerID() domain.ProducerID
	Kind() domain.MediaKind
	RTPParameters() domain.RTPParameters
	Paused() bool
	Resume(ctx context.Context) error
	Close()
}
