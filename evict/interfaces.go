package evict

import (
	"context"

	"github.com/evictbus/evictbus/types"
)

// Logger defines the interface for logging in the eviction coordinator.
type Logger interface {
	// Debug logs a debug message.
	Debug(msg string, args ...any)

	// Info logs an info message.
	Info(msg string, args ...any)

	// Warn logs a warning message.
	Warn(msg string, args ...any)

	// Error logs an error message.
	Error(msg string, args ...any)
}

// Marshaller defines the interface for encoding events for the wire.
type Marshaller interface {
	// Marshal serializes a value to bytes.
	Marshal(v any) ([]byte, error)

	// Unmarshal deserializes a value from bytes.
	Unmarshal(data []byte, v any) error
}

// CacheManager is the local cache this coordinator mutates. The
// coordinator only evicts; it never reads or writes cached values.
type CacheManager interface {
	// EvictEntity removes a single cached instance.
	EvictEntity(entityClass, entityID string) error

	// EvictEntityCache removes every cached instance of a type.
	EvictEntityCache(entityClass string) error

	// EvictRegion removes a named cache region.
	EvictRegion(region string) error

	// EvictAll removes everything.
	EvictAll() error

	// Contains reports whether an instance is currently cached.
	Contains(entityClass, entityID string) bool
}

// TypeRegistry resolves logical type names carried by remote events back
// to types known to this node. Resolution failure is reported distinctly
// from "known but not cached".
type TypeRegistry interface {
	// Resolve returns the registered descriptor for a logical type name.
	// Returns ErrTypeNotRegistered when the name is unknown.
	Resolve(name string) (TypeDescriptor, error)
}

// TypeDescriptor describes a registered entity type.
type TypeDescriptor struct {
	// Name is the logical type name used on the wire.
	Name string

	// Regions lists cache regions invalidated together with the type.
	Regions []string
}

// Event is an alias for types.Event.
type Event = types.Event

// Listener receives inbound eviction events from a provider subscription.
type Listener func(event types.Event)

// Broadcaster is the send half of a transport. Provider satisfies it;
// the batch optimizer and retry handler depend on nothing more.
type Broadcaster interface {
	// Broadcast publishes an eviction event to every other node.
	Broadcast(ctx context.Context, event types.Event) error
}

// Provider is a pluggable transport that can broadcast and receive
// eviction events. Implementations must be safe for concurrent use.
type Provider interface {
	Broadcaster

	// Type identifies the transport variant ("redis", "nats", "local").
	Type() string

	// Available performs a live connectivity probe with a bounded
	// timeout. It never panics and reports false on any error.
	Available(ctx context.Context) bool

	// Subscribe registers a listener for inbound events. Idempotent:
	// registering twice does not create a duplicate subscription.
	// Events originating from this node are filtered out, and duplicate
	// deliveries of the same event id are suppressed.
	Subscribe(listener Listener) error

	// Initialize prepares transport resources. Idempotent.
	Initialize(ctx context.Context) error

	// Shutdown releases transport resources and unregisters listeners.
	// Idempotent; Broadcast after Shutdown fails with ErrProviderClosed.
	Shutdown() error

	// Stats returns a point-in-time snapshot.
	Stats() ProviderStats
}

// ProviderSelector picks the transport the coordinator should use.
type ProviderSelector interface {
	// SelectBestAvailable returns the highest-priority available
	// provider. The local no-op provider is always available, so this
	// never returns nil.
	SelectBestAvailable(ctx context.Context) Provider
}

// Batcher coalesces bursts of evictions into merged broadcasts.
type Batcher interface {
	// Add hands an event to the optimizer. In batch mode the event is
	// queued for a merged flush; otherwise it is broadcast immediately.
	Add(ctx context.Context, event types.Event)

	// StartBatch enters (or nests into) batching mode.
	StartBatch()

	// EndBatch leaves one nesting level, flushing on the outermost exit.
	EndBatch()
}

// ProviderStats is a read-only snapshot of a provider's counters.
type ProviderStats struct {
	Type              string
	NodeID            string
	Available         bool
	EvictionsSent     int64
	EvictionsReceived int64
	Deduplicated      int64
}

// Metrics exposes coordinator-level observability hooks. A NoopMetrics
// implementation is provided and used by default.
type Metrics interface {
	EvictionApplied()
	EvictionBroadcast()
	EvictionReceived()
	BroadcastFailure()
	RetryScheduled()
	DeadLettered()
	BatchFlushed(events int)
	HeartbeatSent()
	HeartbeatReceived()
}

// NoopMetrics is a drop-in Metrics implementation that does nothing.
type NoopMetrics struct{}

func (NoopMetrics) EvictionApplied()   {}
func (NoopMetrics) EvictionBroadcast() {}
func (NoopMetrics) EvictionReceived()  {}
func (NoopMetrics) BroadcastFailure()  {}
func (NoopMetrics) RetryScheduled()    {}
func (NoopMetrics) DeadLettered()      {}
func (NoopMetrics) BatchFlushed(int)   {}
func (NoopMetrics) HeartbeatSent()     {}
func (NoopMetrics) HeartbeatReceived() {}

var _ Metrics = NoopMetrics{}
