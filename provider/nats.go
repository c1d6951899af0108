package provider

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/nats-io/nats.go"

	"github.com/evictbus/evictbus/evict"
	"github.com/evictbus/evictbus/types"
)

// NATSConfig configures the NATS subject provider.
type NATSConfig struct {
	// URL is the NATS server URL (e.g., nats.DefaultURL).
	URL string

	// Subject is the subject eviction events travel on.
	Subject string

	// NodeID identifies this node for self-echo suppression and
	// outbound event stamping.
	NodeID string

	// Marshaller encodes events for the wire. If nil, defaults to JSON.
	Marshaller evict.Marshaller

	// Logger is used for listener diagnostics. If nil, defaults to no-op.
	Logger evict.Logger
}

// NATSProvider broadcasts eviction events over a NATS subject. It covers
// the same role a distributed topic bus (Hazelcast topic, Infinispan
// cluster bus) plays in other stacks.
type NATSProvider struct {
	url        string
	subject    string
	nodeID     string
	marshaller evict.Marshaller
	logger     evict.Logger
	inbound    *inbound

	mu          sync.Mutex
	conn        *nats.Conn
	sub         *nats.Subscription
	initialized bool
	closed      bool

	sent int64
}

// NewNATSProvider creates a NATS-backed provider. The connection is
// established lazily by the first Available probe or Initialize call.
func NewNATSProvider(cfg NATSConfig) *NATSProvider {
	if cfg.Marshaller == nil {
		cfg.Marshaller = evict.NewJSONMarshaller()
	}
	if cfg.Logger == nil {
		cfg.Logger = evict.NewNoOpLogger()
	}

	return &NATSProvider{
		url:        cfg.URL,
		subject:    cfg.Subject,
		nodeID:     cfg.NodeID,
		marshaller: cfg.Marshaller,
		logger:     cfg.Logger,
		inbound:    newInbound(cfg.NodeID),
	}
}

// Type returns "nats".
func (np *NATSProvider) Type() string {
	return TypeNATS
}

// ensureConn dials the server on first use. Callers must hold np.mu.
func (np *NATSProvider) ensureConn() error {
	if np.closed {
		return evict.ErrProviderClosed
	}
	if np.conn != nil {
		// The client reconnects on its own (MaxReconnects is unbounded).
		// Dialing a replacement would orphan the old connection together
		// with the subscription it owns, so a disconnected client is
		// reported unavailable until it recovers.
		if np.conn.Status() == nats.CONNECTED {
			return nil
		}
		return fmt.Errorf("%w: nats connection is %v", evict.ErrProviderUnavailable, np.conn.Status())
	}

	conn, err := nats.Connect(np.url,
		nats.Name("evictbus-"+np.nodeID),
		nats.Timeout(defaultProbeTimeout),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return fmt.Errorf("%w: %v", evict.ErrProviderUnavailable, err)
	}
	np.conn = conn
	return nil
}

// Available probes connectivity with a bounded round trip. It reports
// false on any error and never panics.
func (np *NATSProvider) Available(ctx context.Context) bool {
	np.mu.Lock()
	defer np.mu.Unlock()

	if err := np.ensureConn(); err != nil {
		return false
	}
	return np.conn.FlushTimeout(defaultProbeTimeout) == nil
}

// Broadcast publishes the event to the subject with the node id stamped
// onto a copy; the caller's event is never mutated.
func (np *NATSProvider) Broadcast(ctx context.Context, event types.Event) error {
	np.mu.Lock()
	if err := np.ensureConn(); err != nil {
		np.mu.Unlock()
		return err
	}
	conn := np.conn
	np.mu.Unlock()

	stamped := event.WithNode(np.nodeID)
	data, err := np.marshaller.Marshal(stamped)
	if err != nil {
		return fmt.Errorf("encode eviction event: %w", err)
	}

	if err := conn.Publish(np.subject, data); err != nil {
		return fmt.Errorf("%w: %v", evict.ErrProviderUnavailable, err)
	}

	atomic.AddInt64(&np.sent, 1)
	return nil
}

// Subscribe registers the listener for inbound evictions. Idempotent.
func (np *NATSProvider) Subscribe(listener evict.Listener) error {
	np.mu.Lock()
	defer np.mu.Unlock()
	if np.closed {
		return evict.ErrProviderClosed
	}
	np.inbound.setListener(listener)
	return nil
}

// Initialize connects and opens the subject subscription. Idempotent.
func (np *NATSProvider) Initialize(ctx context.Context) error {
	np.mu.Lock()
	defer np.mu.Unlock()

	if np.closed {
		return evict.ErrProviderClosed
	}
	if np.initialized {
		return nil
	}
	if err := np.ensureConn(); err != nil {
		return err
	}

	sub, err := np.conn.Subscribe(np.subject, np.onMessage)
	if err != nil {
		return fmt.Errorf("%w: %v", evict.ErrProviderUnavailable, err)
	}

	np.sub = sub
	np.initialized = true
	return nil
}

// onMessage decodes an inbound message and runs the shared receive path.
// Malformed or empty payloads are skipped without crashing the handler.
func (np *NATSProvider) onMessage(msg *nats.Msg) {
	if len(msg.Data) == 0 {
		return
	}

	var event types.Event
	if err := np.marshaller.Unmarshal(msg.Data, &event); err != nil {
		np.logger.Warn("skipping malformed eviction payload", "error", err)
		return
	}

	np.inbound.deliver(event)
}

// Shutdown unsubscribes and closes the connection. Idempotent; Broadcast
// afterwards fails cleanly.
func (np *NATSProvider) Shutdown() error {
	np.mu.Lock()
	defer np.mu.Unlock()

	if np.closed {
		return nil
	}
	np.closed = true
	np.inbound.setListener(nil)

	if np.sub != nil {
		_ = np.sub.Unsubscribe()
		np.sub = nil
	}
	if np.conn != nil {
		np.conn.Close()
		np.conn = nil
	}
	return nil
}

// Stats returns a point-in-time snapshot. Availability is probed live.
func (np *NATSProvider) Stats() evict.ProviderStats {
	received, deduped := np.inbound.stats()
	return evict.ProviderStats{
		Type:              TypeNATS,
		NodeID:            np.nodeID,
		Available:         np.Available(context.Background()),
		EvictionsSent:     atomic.LoadInt64(&np.sent),
		EvictionsReceived: received,
		Deduplicated:      deduped,
	}
}

var _ evict.Provider = (*NATSProvider)(nil)
