// Package provider implements the pluggable eviction transports: a local
// no-op variant, Redis pub/sub and NATS, plus the factory that selects
// the best available one.
package provider

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/evictbus/evictbus/evict"
	"github.com/evictbus/evictbus/types"
)

const (
	// TypeLocal is the no-op fallback transport.
	TypeLocal = "local"

	// TypeRedis is the Redis pub/sub transport.
	TypeRedis = "redis"

	// TypeNATS is the NATS subject transport.
	TypeNATS = "nats"
)

const (
	// dedupCapacity bounds the event-id deduplication cache.
	dedupCapacity = 10000

	// dedupTTL expires dedup entries so the cache cannot pin ids forever.
	dedupTTL = time.Minute

	defaultProbeTimeout     = 2 * time.Second
	defaultBroadcastTimeout = 5 * time.Second
)

// inbound is the receive path shared by every transport: it suppresses
// self-echoes, deduplicates redundant deliveries of the same event id and
// fans in to the single registered listener.
type inbound struct {
	nodeID string
	dedup  *expirable.LRU[string, struct{}]

	mu       sync.RWMutex
	listener evict.Listener

	received int64
	deduped  int64
}

func newInbound(nodeID string) *inbound {
	return &inbound{
		nodeID: nodeID,
		dedup:  expirable.NewLRU[string, struct{}](dedupCapacity, nil, dedupTTL),
	}
}

// setListener registers the listener. Idempotent: a second registration
// replaces the first instead of duplicating deliveries.
func (in *inbound) setListener(l evict.Listener) {
	in.mu.Lock()
	in.listener = l
	in.mu.Unlock()
}

// deliver runs the inbound filters and, if the event survives them,
// hands it to the listener.
func (in *inbound) deliver(event types.Event) {
	if event.NodeID != "" && event.NodeID == in.nodeID {
		return
	}

	if event.EventID != "" {
		if _, seen := in.dedup.Get(event.EventID); seen {
			atomic.AddInt64(&in.deduped, 1)
			return
		}
		in.dedup.Add(event.EventID, struct{}{})
	}

	atomic.AddInt64(&in.received, 1)

	in.mu.RLock()
	listener := in.listener
	in.mu.RUnlock()

	if listener != nil {
		listener(event)
	}
}

func (in *inbound) stats() (received, deduped int64) {
	return atomic.LoadInt64(&in.received), atomic.LoadInt64(&in.deduped)
}

// withTimeout applies a default timeout when the caller's context has no
// deadline, so a hung broker cannot stall the calling goroutine.
func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, d)
}
