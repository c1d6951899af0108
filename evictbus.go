// Package evictbus coordinates cache eviction across a cluster: when an
// entity changes on one node, the eviction is applied to the local cache
// and broadcast so every other node's cache converges. Transports are
// pluggable (Redis pub/sub, NATS, local no-op fallback); failed
// broadcasts are retried with a bounded dead-letter queue; heartbeats
// over the same transport feed a cluster health verdict.
package evictbus

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/evictbus/evictbus/batch"
	"github.com/evictbus/evictbus/cachemgr"
	"github.com/evictbus/evictbus/cluster"
	"github.com/evictbus/evictbus/evict"
	"github.com/evictbus/evictbus/provider"
	"github.com/evictbus/evictbus/retry"
	"github.com/evictbus/evictbus/types"
)

// Config configures a Manager instance.
type Config struct {
	// Mode selects the eviction mode: LOCAL, DISTRIBUTED, AUTO or
	// DISABLED. Defaults to AUTO.
	Mode Mode

	// NodeID is the unique identifier for this node. If empty, a stable
	// id is generated once at construction.
	NodeID string

	// ProviderType forces a specific transport ("redis", "nats",
	// "local") instead of priority-based selection.
	ProviderType string

	// RedisAddr enables the Redis provider (e.g., "localhost:6379").
	RedisAddr string

	// RedisPassword is the optional Redis password.
	RedisPassword string

	// RedisDB is the Redis database number.
	RedisDB int

	// NATSURL enables the NATS provider (e.g., "nats://localhost:4222").
	NATSURL string

	// Channel is the pub/sub channel (or NATS subject) eviction events
	// travel on.
	Channel string

	// SerializationFormat specifies the wire encoding ("json" or
	// "msgpack"). Ignored when Marshaller is set.
	SerializationFormat string

	// Marshaller overrides the wire encoder.
	Marshaller Marshaller

	// CacheManager is the local cache the coordinator mutates. If nil,
	// a Ristretto-backed manager with default sizing is created and
	// owned by the Manager.
	CacheManager CacheManager

	// Registry resolves logical type names on inbound remote events.
	// If nil, an empty registry is created; register types on it via
	// Manager.Registry().
	Registry *evict.Registry

	// RetryMaxAttempts is the per-event retry budget.
	RetryMaxAttempts int

	// RetryDelay is the period between retry processing passes.
	RetryDelay time.Duration

	// BatchThreshold forces a flush when this many events are pending
	// inside an open batch.
	BatchThreshold int

	// BatchMaxDelay bounds how long batching may withhold an event.
	BatchMaxDelay time.Duration

	// HeartbeatInterval is the heartbeat broadcast period.
	HeartbeatInterval time.Duration

	// HeartbeatTimeout removes peers silent for longer than this.
	HeartbeatTimeout time.Duration

	// Logger is the logger for all components. If nil, defaults to no-op.
	Logger Logger

	// Metrics receives observability callbacks. If nil, defaults to no-op.
	Metrics Metrics
}

// DefaultConfig returns default coordinator configuration.
func DefaultConfig() Config {
	return Config{
		Mode:                ModeAuto,
		Channel:             "evictbus:evictions",
		SerializationFormat: "json",
		RetryMaxAttempts:    retry.DefaultMaxAttempts,
		RetryDelay:          retry.DefaultInterval,
		BatchThreshold:      batch.DefaultThreshold,
		BatchMaxDelay:       batch.DefaultMaxDelay,
		HeartbeatInterval:   cluster.DefaultInterval,
		HeartbeatTimeout:    cluster.DefaultInactivityTimeout,
	}
}

// Manager is the explicitly constructed coordinator instance. It is
// built by the application's composition root and passed by reference
// to any code that needs to trigger eviction; there is no global
// singleton.
type Manager struct {
	cfg      Config
	strategy *evict.Strategy
	batcher  *batch.Optimizer
	retrier  *retry.Handler
	monitor  *cluster.Monitor
	factory  *provider.Factory
	registry *evict.Registry

	// ownedCache is non-nil when the Manager created the default cache
	// manager and must close it.
	ownedCache *cachemgr.RistrettoManager

	closed int32
}

// New creates and initializes a Manager.
func New(cfg Config) (*Manager, error) {
	if cfg.Mode == "" {
		cfg.Mode = ModeAuto
	}
	if cfg.NodeID == "" {
		cfg.NodeID = uuid.NewString()
	}
	if cfg.Channel == "" {
		cfg.Channel = "evictbus:evictions"
	}
	if cfg.Logger == nil {
		cfg.Logger = evict.NewNoOpLogger()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = evict.NoopMetrics{}
	}
	if cfg.Registry == nil {
		cfg.Registry = evict.NewRegistry()
	}

	marshaller := cfg.Marshaller
	if marshaller == nil {
		var err error
		marshaller, err = evict.GetMarshaller(cfg.SerializationFormat)
		if err != nil {
			return nil, err
		}
	}

	m := &Manager{cfg: cfg, registry: cfg.Registry}

	cacheManager := cfg.CacheManager
	if cacheManager == nil {
		owned, err := cachemgr.NewRistrettoManager(cachemgr.DefaultConfig())
		if err != nil {
			return nil, fmt.Errorf("create default cache manager: %w", err)
		}
		m.ownedCache = owned
		cacheManager = owned
	}

	providers, err := buildProviders(cfg, marshaller)
	if err != nil {
		return nil, err
	}
	m.factory = provider.NewFactory(cfg.Logger, providers...)

	// Releases whatever New built before an error exit.
	abort := func() {
		for _, p := range providers {
			_ = p.Shutdown()
		}
		m.closeOwned()
	}

	var selector evict.ProviderSelector = m.factory
	if cfg.ProviderType != "" {
		forced, err := m.factory.Get(cfg.ProviderType)
		if err != nil {
			abort()
			return nil, err
		}
		selector = fixedSelector{forced}
	}

	m.retrier = retry.NewHandler(retry.Options{
		Source:      m.activeBroadcaster,
		MaxAttempts: cfg.RetryMaxAttempts,
		Interval:    cfg.RetryDelay,
		Logger:      cfg.Logger,
		Metrics:     cfg.Metrics,
	})

	m.batcher = batch.NewOptimizer(batch.Options{
		Broadcaster: broadcasterFunc(m.broadcast),
		OnFailure:   m.retrier.Schedule,
		Threshold:   cfg.BatchThreshold,
		MaxDelay:    cfg.BatchMaxDelay,
		Logger:      cfg.Logger,
		Metrics:     cfg.Metrics,
	})

	m.monitor = cluster.NewMonitor(cluster.Options{
		NodeID:            cfg.NodeID,
		Source:            m.activeBroadcaster,
		Interval:          cfg.HeartbeatInterval,
		InactivityTimeout: cfg.HeartbeatTimeout,
		Logger:            cfg.Logger,
		Metrics:           cfg.Metrics,
	})

	m.strategy, err = evict.NewStrategy(evict.Options{
		Mode:               cfg.Mode,
		NodeID:             cfg.NodeID,
		CacheManager:       cacheManager,
		Registry:           cfg.Registry,
		Selector:           selector,
		Batcher:            m.batcher,
		OnBroadcastFailure: m.retrier.Schedule,
		OnHeartbeat:        m.monitor.ObserveHeartbeat,
		Logger:             cfg.Logger,
		Metrics:            cfg.Metrics,
	})
	if err != nil {
		abort()
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), evict.DefaultProbeTimeout*3)
	defer cancel()
	if err := m.strategy.Initialize(ctx); err != nil {
		abort()
		return nil, err
	}

	m.batcher.Start()
	if m.strategy.Mode() == ModeDistributed {
		m.retrier.Start()
		m.monitor.Start()
	}

	return m, nil
}

// buildProviders constructs the transport providers in priority order:
// redis, then nats, then the local fallback, which is always last so
// selection can never come up empty.
func buildProviders(cfg Config, marshaller Marshaller) ([]evict.Provider, error) {
	var providers []evict.Provider

	if cfg.RedisAddr != "" {
		providers = append(providers, provider.NewRedisProvider(provider.RedisConfig{
			Addr:       cfg.RedisAddr,
			Password:   cfg.RedisPassword,
			DB:         cfg.RedisDB,
			Channel:    cfg.Channel,
			NodeID:     cfg.NodeID,
			Marshaller: marshaller,
			Logger:     cfg.Logger,
		}))
	} else if cfg.ProviderType == provider.TypeRedis {
		return nil, fmt.Errorf("%w: redis provider forced but RedisAddr is empty", evict.ErrInvalidConfig)
	}

	if cfg.NATSURL != "" {
		providers = append(providers, provider.NewNATSProvider(provider.NATSConfig{
			URL:        cfg.NATSURL,
			Subject:    cfg.Channel,
			NodeID:     cfg.NodeID,
			Marshaller: marshaller,
			Logger:     cfg.Logger,
		}))
	} else if cfg.ProviderType == provider.TypeNATS {
		return nil, fmt.Errorf("%w: nats provider forced but NATSURL is empty", evict.ErrInvalidConfig)
	}

	providers = append(providers, provider.NewLocalProvider(cfg.NodeID))
	return providers, nil
}

// activeBroadcaster yields the strategy's current provider, or nil when
// running local-only. Resolved per call so retries and heartbeats follow
// the live provider state.
func (m *Manager) activeBroadcaster() evict.Broadcaster {
	p := m.strategy.Provider()
	if p == nil {
		return nil
	}
	return p
}

// broadcast routes an outbound event through the active provider.
func (m *Manager) broadcast(ctx context.Context, event types.Event) error {
	p := m.strategy.Provider()
	if p == nil {
		return evict.ErrProviderUnavailable
	}
	return p.Broadcast(ctx, event)
}

// Evict removes an entity from the local cache and, in distributed
// operation, broadcasts the eviction. An empty entityID evicts the
// entire type's cache. Never fails the caller.
func (m *Manager) Evict(ctx context.Context, entityClass, entityID string) {
	m.strategy.Evict(ctx, entityClass, entityID)
}

// EvictWithOperation is Evict with an explicit operation classification.
func (m *Manager) EvictWithOperation(ctx context.Context, entityClass, entityID string, op types.Operation) {
	m.strategy.EvictWithOperation(ctx, entityClass, entityID, op)
}

// EvictRegion removes a named cache region locally and across the cluster.
func (m *Manager) EvictRegion(ctx context.Context, region string) {
	m.strategy.EvictRegion(ctx, region)
}

// EvictAll clears the local cache entirely.
func (m *Manager) EvictAll() {
	m.strategy.EvictAll()
}

// StartBatch enters (or nests into) batching mode: subsequent evictions
// are coalesced until the matching EndBatch.
func (m *Manager) StartBatch() {
	m.batcher.StartBatch()
}

// EndBatch leaves one batch nesting level, flushing merged evictions on
// the outermost exit.
func (m *Manager) EndBatch() {
	m.batcher.EndBatch()
}

// ProcessRetries runs one retry pass immediately, in addition to the
// periodic background processing.
func (m *Manager) ProcessRetries(ctx context.Context) {
	m.retrier.ProcessRetries(ctx)
}

// ReprocessDeadLetters drains the dead-letter queue back into the retry
// queue and returns the number of events re-queued.
func (m *Manager) ReprocessDeadLetters() int {
	return m.retrier.ReprocessDeadLetters()
}

// Registry returns the entity type registry so the composition root can
// register cacheable types.
func (m *Manager) Registry() *evict.Registry {
	return m.registry
}

// NodeID returns this node's identifier.
func (m *Manager) NodeID() string {
	return m.cfg.NodeID
}

// Mode returns the effective eviction mode after AUTO resolution.
func (m *Manager) Mode() Mode {
	return m.strategy.Mode()
}

// ClusterStatus reports the cluster health verdict for an external
// health check.
func (m *Manager) ClusterStatus() cluster.ClusterStatus {
	return m.monitor.Status()
}

// RetryStatistics reports retry and dead-letter queue state.
func (m *Manager) RetryStatistics() retry.Stats {
	return m.retrier.Stats()
}

// BatchStatistics reports batch optimizer state.
func (m *Manager) BatchStatistics() batch.Stats {
	return m.batcher.Stats()
}

// ProviderReport probes every registered transport and returns their
// stats snapshots.
func (m *Manager) ProviderReport(ctx context.Context) []evict.ProviderStats {
	return m.factory.Report(ctx)
}

// Close shuts the coordinator down: pending batches are flushed, the
// background loops stop and every transport is released. Idempotent and
// safe to call from any goroutine.
func (m *Manager) Close() error {
	if !atomic.CompareAndSwapInt32(&m.closed, 0, 1) {
		return nil
	}

	m.batcher.Shutdown()
	m.monitor.Shutdown()
	m.retrier.Shutdown()

	err := m.strategy.Shutdown()

	// Non-selected providers still hold client connections.
	for _, t := range m.factory.Types() {
		if p, gerr := m.factory.Get(t); gerr == nil {
			_ = p.Shutdown()
		}
	}

	m.closeOwned()
	return err
}

func (m *Manager) closeOwned() {
	if m.ownedCache != nil {
		m.ownedCache.Close()
	}
}

// fixedSelector always selects the forced provider.
type fixedSelector struct {
	p evict.Provider
}

func (fs fixedSelector) SelectBestAvailable(ctx context.Context) evict.Provider {
	return fs.p
}

// broadcasterFunc adapts a function to the Broadcaster interface.
type broadcasterFunc func(ctx context.Context, event types.Event) error

func (f broadcasterFunc) Broadcast(ctx context.Context, event types.Event) error {
	return f(ctx, event)
}
