package ports

import (
	"context"

	"tipcast/internal/core/domain"
)

// WorkerOptions configures one engine worker. Port ranges of distinct
// workers must not overlap.
type WorkerOptions struct {
	MinPort uint16
	MaxPort uint16
}

// RouterOptions configures the per-room router.
type RouterOptions struct {
	// Codecs the room negotiates, e.g. "opus", "vp8". Empty means engine
	// defaults.
	Codecs []string
}

// TransportOptions configures a transport on a router.
type TransportOptions struct {
	Direction domain.TransportDirection
}

// TransportConnectParams carries the client's DTLS handshake material.
type TransportConnectParams struct {
	DTLSFingerprint string
	DTLSRole        string
}

// ProducerParams describes the media a performer wants to publish.
type ProducerParams struct {
	MimeType  string
	ClockRate uint32
	Channels  uint16
}

// ConsumerCapabilities describes what a consuming client can receive.
type ConsumerCapabilities struct {
	MimeTypes []string
}

// Engine is the SFU engine collaborator. The control plane wraps it and
// never touches media bits itself.
type Engine interface {
	CreateWorker(ctx context.Context, opts WorkerOptions) (EngineWorker, error)
}

// EngineWorker is one processing unit of the engine, bound to a disjoint
// port range.
type EngineWorker interface {
	ID() string
	CreateRouter(ctx context.Context, opts RouterOptions) (Router, error)
	// OnDied registers a handler for a fatal worker crash. The handler may
	// be invoked from an engine-owned goroutine.
	OnDied(fn func(err error))
	Close() error
}

// Router coordinates capability negotiation between producers and consumers
// of one room.
type Router interface {
	ID() string
	CreateTransport(ctx context.Context, opts TransportOptions) (Transport, error)
	CanConsume(producerID string, caps ConsumerCapabilities) bool
	Close() error
}

// Transport is one secured media channel between a participant and its
// worker.
type Transport interface {
	ID() string
	Connect(ctx context.Context, params TransportConnectParams) error
	Produce(ctx context.Context, kind domain.MediaKind, params ProducerParams) (Producer, error)
	Consume(ctx context.Context, producerID string, caps ConsumerCapabilities) (Consumer, error)
	// OnClosed fires when the engine tears the transport down from its side.
	OnClosed(fn func())
	Close() error
}

// Producer is a published media track.
type Producer interface {
	ID() string
	Kind() domain.MediaKind
	OnClosed(fn func())
	Close() error
}

// Consumer is a subscription to another participant's producer.
type Consumer interface {
	ID() string
	ProducerID() string
	OnClosed(fn func())
	Close() error
}
