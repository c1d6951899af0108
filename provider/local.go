package provider

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/evictbus/evictbus/evict"
	"github.com/evictbus/evictbus/types"
)

// LocalProvider is the no-op transport. It is always available and is the
// guaranteed fallback when no distributed backend can be reached:
// broadcasts are counted but go nowhere, and nothing is ever received
// unless injected explicitly.
type LocalProvider struct {
	nodeID  string
	inbound *inbound

	mu     sync.Mutex
	closed bool

	sent int64
}

// NewLocalProvider creates a local no-op provider for the given node.
func NewLocalProvider(nodeID string) *LocalProvider {
	return &LocalProvider{
		nodeID:  nodeID,
		inbound: newInbound(nodeID),
	}
}

// Type returns "local".
func (lp *LocalProvider) Type() string {
	return TypeLocal
}

// Available always reports true.
func (lp *LocalProvider) Available(ctx context.Context) bool {
	return true
}

// Broadcast counts the event and discards it. After Shutdown it fails
// like a real transport would.
func (lp *LocalProvider) Broadcast(ctx context.Context, event types.Event) error {
	lp.mu.Lock()
	closed := lp.closed
	lp.mu.Unlock()
	if closed {
		return evict.ErrProviderClosed
	}

	atomic.AddInt64(&lp.sent, 1)
	return nil
}

// Subscribe registers the listener. Nothing arrives on its own; use
// Inject to simulate inbound traffic.
func (lp *LocalProvider) Subscribe(listener evict.Listener) error {
	lp.mu.Lock()
	defer lp.mu.Unlock()
	if lp.closed {
		return evict.ErrProviderClosed
	}
	lp.inbound.setListener(listener)
	return nil
}

// Inject feeds an event through the inbound path as if it had arrived
// over a real transport. Used by embedded setups and tests.
func (lp *LocalProvider) Inject(event types.Event) {
	lp.mu.Lock()
	closed := lp.closed
	lp.mu.Unlock()
	if closed {
		return
	}
	lp.inbound.deliver(event)
}

// Initialize is a no-op for the local transport.
func (lp *LocalProvider) Initialize(ctx context.Context) error {
	lp.mu.Lock()
	defer lp.mu.Unlock()
	if lp.closed {
		return evict.ErrProviderClosed
	}
	return nil
}

// Shutdown marks the provider closed and drops the listener. Idempotent.
func (lp *LocalProvider) Shutdown() error {
	lp.mu.Lock()
	defer lp.mu.Unlock()
	if lp.closed {
		return nil
	}
	lp.closed = true
	lp.inbound.setListener(nil)
	return nil
}

// Stats returns a point-in-time snapshot.
func (lp *LocalProvider) Stats() evict.ProviderStats {
	received, deduped := lp.inbound.stats()
	return evict.ProviderStats{
		Type:              TypeLocal,
		NodeID:            lp.nodeID,
		Available:         true,
		EvictionsSent:     atomic.LoadInt64(&lp.sent),
		EvictionsReceived: received,
		Deduplicated:      deduped,
	}
}

var _ evict.Provider = (*LocalProvider)(nil)
