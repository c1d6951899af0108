package evict

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/evictbus/evictbus/types"
)

// Strategy orchestrates local eviction versus cluster broadcast depending
// on the configured mode. It is also the receiver for remote events: the
// provider delivers inbound evictions to OnEvictionEvent.
type Strategy struct {
	options Options
	logger  Logger
	metrics Metrics

	mu       sync.RWMutex
	provider Provider
	// effective is the mode after AUTO resolution at Initialize time.
	effective Mode

	initialized int32
	closed      int32
}

// NewStrategy creates an eviction strategy. Initialize must be called
// before the strategy broadcasts anything; until then it behaves as
// local-only.
func NewStrategy(opts Options) (*Strategy, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if opts.Mode == "" {
		opts.Mode = ModeAuto
	}
	if opts.Logger == nil {
		opts.Logger = NewNoOpLogger()
	}
	if opts.Metrics == nil {
		opts.Metrics = NoopMetrics{}
	}

	return &Strategy{
		options:   opts,
		logger:    opts.Logger,
		metrics:   opts.Metrics,
		effective: opts.Mode,
	}, nil
}

// Initialize selects the transport provider, initializes it and
// subscribes the strategy as its listener. A missing or unavailable
// provider is tolerated: the strategy logs and proceeds in degraded,
// local-only operation.
func (s *Strategy) Initialize(ctx context.Context) error {
	if !atomic.CompareAndSwapInt32(&s.initialized, 0, 1) {
		return nil
	}

	if s.options.Mode == ModeDisabled || s.options.Mode == ModeLocal {
		s.setState(nil, s.options.Mode)
		return nil
	}

	provider := s.options.Selector.SelectBestAvailable(ctx)
	if provider == nil {
		s.logger.Warn("no transport provider available, degrading to local-only eviction")
		s.setState(nil, ModeLocal)
		return nil
	}

	if err := provider.Initialize(ctx); err != nil {
		s.logger.Warn("provider initialization failed, degrading to local-only eviction",
			"provider", provider.Type(), "error", err)
		s.setState(nil, ModeLocal)
		return nil
	}

	if err := provider.Subscribe(s.OnEvictionEvent); err != nil {
		s.logger.Warn("provider subscription failed, degrading to local-only eviction",
			"provider", provider.Type(), "error", err)
		s.setState(nil, ModeLocal)
		return nil
	}

	effective := s.options.Mode
	if effective == ModeAuto {
		if provider.Type() == "local" {
			effective = ModeLocal
		} else {
			effective = ModeDistributed
		}
	}
	s.setState(provider, effective)

	s.logger.Info("eviction strategy initialized",
		"mode", string(effective), "provider", provider.Type(), "node", s.options.NodeID)
	return nil
}

func (s *Strategy) setState(p Provider, m Mode) {
	s.mu.Lock()
	s.provider = p
	s.effective = m
	s.mu.Unlock()
}

// Mode returns the effective mode after AUTO resolution.
func (s *Strategy) Mode() Mode {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.effective
}

// Provider returns the active transport provider, or nil in local-only
// operation.
func (s *Strategy) Provider() Provider {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.provider
}

// NodeID returns this node's identifier.
func (s *Strategy) NodeID() string {
	return s.options.NodeID
}

// Evict removes an entity from the local cache and, in distributed
// operation, broadcasts the eviction to the cluster. An empty entityID
// evicts the entire type's cache. Failures never propagate to the
// caller: a cache-coherency problem must not fail the business mutation
// that triggered it.
func (s *Strategy) Evict(ctx context.Context, entityClass, entityID string) {
	op := types.Update
	if entityID == "" {
		op = types.BulkUpdate
	}
	s.evict(ctx, types.NewEvent(entityClass, entityID, op))
}

// EvictWithOperation is Evict with an explicit operation classification.
func (s *Strategy) EvictWithOperation(ctx context.Context, entityClass, entityID string, op types.Operation) {
	s.evict(ctx, types.NewEvent(entityClass, entityID, op))
}

// EvictRegion removes a named cache region locally and, in distributed
// operation, broadcasts the region eviction.
func (s *Strategy) EvictRegion(ctx context.Context, region string) {
	s.evict(ctx, types.NewRegionEvent(region, types.BulkUpdate))
}

// EvictAll clears the local cache entirely. The clear is not broadcast:
// a full flush is an administrative action on one node, not a data
// mutation the cluster must converge on.
func (s *Strategy) EvictAll() {
	if atomic.LoadInt32(&s.closed) != 0 || s.Mode() == ModeDisabled {
		return
	}
	if err := s.options.CacheManager.EvictAll(); err != nil {
		s.logger.Error("full cache clear failed", "error", err)
	}
}

func (s *Strategy) evict(ctx context.Context, event types.Event) {
	if atomic.LoadInt32(&s.closed) != 0 {
		return
	}

	mode := s.Mode()
	if mode == ModeDisabled {
		return
	}

	// Local mutation first. A local failure is logged but never blocks
	// the broadcast: local and remote coherency are independent concerns.
	if err := s.applyLocal(event); err != nil {
		s.logger.Error("local eviction failed",
			"class", event.EntityClass, "id", event.EntityID, "error", err)
	} else {
		s.metrics.EvictionApplied()
	}

	if mode != ModeDistributed {
		return
	}

	if s.options.Batcher != nil {
		s.options.Batcher.Add(ctx, event)
		return
	}

	provider := s.Provider()
	if provider == nil {
		return
	}
	if err := provider.Broadcast(ctx, event); err != nil {
		s.metrics.BroadcastFailure()
		s.logger.Warn("eviction broadcast failed",
			"class", event.EntityClass, "id", event.EntityID, "error", err)
		if s.options.OnBroadcastFailure != nil {
			s.options.OnBroadcastFailure(event, err)
		}
		return
	}
	s.metrics.EvictionBroadcast()
}

// OnEvictionEvent is the inbound path: the provider invokes it for every
// event received from the cluster. Self-echoes are already filtered by
// the provider, but the check is repeated here since listeners can also
// be wired directly in tests and embedded setups.
func (s *Strategy) OnEvictionEvent(event types.Event) {
	if atomic.LoadInt32(&s.closed) != 0 {
		return
	}
	if event.NodeID != "" && event.NodeID == s.options.NodeID {
		return
	}

	if event.IsHeartbeat() {
		if s.options.OnHeartbeat != nil {
			s.options.OnHeartbeat(event)
		}
		return
	}

	s.metrics.EvictionReceived()

	if event.Region != "" {
		if err := s.options.CacheManager.EvictRegion(event.Region); err != nil {
			s.logger.Error("remote region eviction failed", "region", event.Region, "error", err)
		}
		return
	}

	if event.EntityClass == "" {
		s.logger.Warn("remote event carries no entity class, clearing local cache",
			"event", event.EventID, "node", event.NodeID)
		s.clearAll()
		return
	}

	desc, err := s.resolve(event.EntityClass)
	if err != nil {
		// An unresolvable type can mean a schema or version mismatch
		// across nodes. Clearing everything trades throughput for
		// correctness; silently dropping the event could leave stale
		// data visible indefinitely.
		s.logger.Warn("cannot resolve remote entity class, clearing local cache",
			"class", event.EntityClass, "node", event.NodeID, "error", err)
		s.clearAll()
		return
	}

	if event.EntityID == "" {
		if err := s.options.CacheManager.EvictEntityCache(desc.Name); err != nil {
			s.logger.Error("remote type eviction failed", "class", desc.Name, "error", err)
		}
	} else {
		if err := s.options.CacheManager.EvictEntity(desc.Name, event.EntityID); err != nil {
			s.logger.Error("remote entity eviction failed",
				"class", desc.Name, "id", event.EntityID, "error", err)
		}
	}

	// Query-style regions tied to the type are invalidated alongside it.
	for _, region := range desc.Regions {
		if err := s.options.CacheManager.EvictRegion(region); err != nil {
			s.logger.Error("remote region eviction failed", "region", region, "error", err)
		}
	}
}

func (s *Strategy) resolve(name string) (TypeDescriptor, error) {
	if s.options.Registry == nil {
		return TypeDescriptor{}, ErrTypeNotRegistered
	}
	return s.options.Registry.Resolve(name)
}

func (s *Strategy) clearAll() {
	if err := s.options.CacheManager.EvictAll(); err != nil {
		s.logger.Error("full cache clear failed", "error", err)
	}
}

func (s *Strategy) applyLocal(event types.Event) error {
	cm := s.options.CacheManager
	switch {
	case event.Region != "":
		return cm.EvictRegion(event.Region)
	case event.EntityID == "":
		return cm.EvictEntityCache(event.EntityClass)
	default:
		return cm.EvictEntity(event.EntityClass, event.EntityID)
	}
}

// Shutdown releases the provider. Idempotent: repeated calls shut the
// provider down exactly once, and Evict after Shutdown is a no-op.
func (s *Strategy) Shutdown() error {
	if !atomic.CompareAndSwapInt32(&s.closed, 0, 1) {
		return nil
	}

	provider := s.Provider()
	s.setState(nil, ModeDisabled)

	if provider != nil {
		return provider.Shutdown()
	}
	return nil
}
