package provider

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/redis/go-redis/v9"

	"github.com/evictbus/evictbus/evict"
	"github.com/evictbus/evictbus/types"
)

// RedisConfig configures the Redis pub/sub provider.
type RedisConfig struct {
	// Addr is the Redis server address (e.g., "localhost:6379").
	Addr string

	// Password is the optional Redis password.
	Password string

	// DB is the Redis database number.
	DB int

	// Channel is the pub/sub channel eviction events travel on.
	Channel string

	// NodeID identifies this node for self-echo suppression and
	// outbound event stamping.
	NodeID string

	// Marshaller encodes events for the wire. If nil, defaults to JSON.
	Marshaller evict.Marshaller

	// Logger is used for listener-loop diagnostics. If nil, defaults
	// to no-op.
	Logger evict.Logger
}

// RedisProvider broadcasts eviction events over a Redis pub/sub channel.
type RedisProvider struct {
	client     *redis.Client
	channel    string
	nodeID     string
	marshaller evict.Marshaller
	logger     evict.Logger
	inbound    *inbound

	// mu guards the lifecycle transitions: Initialize, Subscribe and
	// Shutdown mutate transport registrations that are not safe for
	// concurrent setup and teardown.
	mu          sync.Mutex
	pubsub      *redis.PubSub
	initialized bool
	closed      bool
	done        chan struct{}
	wg          sync.WaitGroup

	sent int64
}

// NewRedisProvider creates a Redis-backed provider. The connection is
// probed lazily by Available rather than at construction time.
func NewRedisProvider(cfg RedisConfig) *RedisProvider {
	if cfg.Marshaller == nil {
		cfg.Marshaller = evict.NewJSONMarshaller()
	}
	if cfg.Logger == nil {
		cfg.Logger = evict.NewNoOpLogger()
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	return &RedisProvider{
		client:     client,
		channel:    cfg.Channel,
		nodeID:     cfg.NodeID,
		marshaller: cfg.Marshaller,
		logger:     cfg.Logger,
		inbound:    newInbound(cfg.NodeID),
		done:       make(chan struct{}),
	}
}

// Type returns "redis".
func (rp *RedisProvider) Type() string {
	return TypeRedis
}

// Available pings the Redis server with a bounded timeout. It reports
// false on any error and never panics.
func (rp *RedisProvider) Available(ctx context.Context) bool {
	rp.mu.Lock()
	closed := rp.closed
	rp.mu.Unlock()
	if closed {
		return false
	}

	ctx, cancel := withTimeout(ctx, defaultProbeTimeout)
	defer cancel()

	return rp.client.Ping(ctx).Err() == nil
}

// Broadcast publishes the event to the channel with the node id stamped
// onto a copy; the caller's event is never mutated.
func (rp *RedisProvider) Broadcast(ctx context.Context, event types.Event) error {
	rp.mu.Lock()
	closed := rp.closed
	rp.mu.Unlock()
	if closed {
		return evict.ErrProviderClosed
	}

	stamped := event.WithNode(rp.nodeID)
	data, err := rp.marshaller.Marshal(stamped)
	if err != nil {
		return fmt.Errorf("encode eviction event: %w", err)
	}

	ctx, cancel := withTimeout(ctx, defaultBroadcastTimeout)
	defer cancel()

	if err := rp.client.Publish(ctx, rp.channel, data).Err(); err != nil {
		return fmt.Errorf("%w: %v", evict.ErrProviderUnavailable, err)
	}

	atomic.AddInt64(&rp.sent, 1)
	return nil
}

// Subscribe registers the listener for inbound evictions. Idempotent.
func (rp *RedisProvider) Subscribe(listener evict.Listener) error {
	rp.mu.Lock()
	defer rp.mu.Unlock()
	if rp.closed {
		return evict.ErrProviderClosed
	}
	rp.inbound.setListener(listener)
	return nil
}

// Initialize opens the pub/sub subscription and starts the listener
// loop. Idempotent.
func (rp *RedisProvider) Initialize(ctx context.Context) error {
	rp.mu.Lock()
	defer rp.mu.Unlock()

	if rp.closed {
		return evict.ErrProviderClosed
	}
	if rp.initialized {
		return nil
	}

	rp.pubsub = rp.client.Subscribe(ctx, rp.channel)
	rp.initialized = true

	rp.wg.Add(1)
	go rp.listen(rp.pubsub)

	return nil
}

// listen consumes pub/sub messages until shutdown. Malformed or empty
// payloads are skipped; they must never crash the loop.
func (rp *RedisProvider) listen(pubsub *redis.PubSub) {
	defer rp.wg.Done()

	ch := pubsub.Channel()

	for {
		select {
		case <-rp.done:
			return
		case msg, ok := <-ch:
			if !ok || msg == nil {
				return
			}
			if msg.Payload == "" {
				continue
			}

			var event types.Event
			if err := rp.marshaller.Unmarshal([]byte(msg.Payload), &event); err != nil {
				rp.logger.Warn("skipping malformed eviction payload", "error", err)
				continue
			}

			rp.inbound.deliver(event)
		}
	}
}

// Shutdown stops the listener loop, closes the subscription and the
// client connection. Idempotent; Broadcast afterwards fails cleanly.
func (rp *RedisProvider) Shutdown() error {
	rp.mu.Lock()
	if rp.closed {
		rp.mu.Unlock()
		return nil
	}
	rp.closed = true
	pubsub := rp.pubsub
	rp.pubsub = nil
	rp.inbound.setListener(nil)
	close(rp.done)
	rp.mu.Unlock()

	if pubsub != nil {
		_ = pubsub.Close()
	}
	rp.wg.Wait()

	return rp.client.Close()
}

// Stats returns a point-in-time snapshot. Availability is probed live.
func (rp *RedisProvider) Stats() evict.ProviderStats {
	received, deduped := rp.inbound.stats()
	return evict.ProviderStats{
		Type:              TypeRedis,
		NodeID:            rp.nodeID,
		Available:         rp.Available(context.Background()),
		EvictionsSent:     atomic.LoadInt64(&rp.sent),
		EvictionsReceived: received,
		Deduplicated:      deduped,
	}
}

var _ evict.Provider = (*RedisProvider)(nil)
