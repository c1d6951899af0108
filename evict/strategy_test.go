package evict

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/evictbus/evictbus/types"
)

// fakeCacheManager records eviction calls.
type fakeCacheManager struct {
	mu            sync.Mutex
	entities      []string
	entityCaches  []string
	regions       []string
	clears        int
	failEvictions bool
}

func (f *fakeCacheManager) EvictEntity(entityClass, entityID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failEvictions {
		return errors.New("cache manager failure")
	}
	f.entities = append(f.entities, entityClass+":"+entityID)
	return nil
}

func (f *fakeCacheManager) EvictEntityCache(entityClass string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entityCaches = append(f.entityCaches, entityClass)
	return nil
}

func (f *fakeCacheManager) EvictRegion(region string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.regions = append(f.regions, region)
	return nil
}

func (f *fakeCacheManager) EvictAll() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.clears++
	return nil
}

func (f *fakeCacheManager) Contains(entityClass, entityID string) bool {
	return false
}

// fakeProvider records broadcasts and simulates a transport.
type fakeProvider struct {
	mu           sync.Mutex
	providerType string
	broadcasts   []types.Event
	listener     Listener
	initialized  int
	shutdowns    int
	broadcastErr error
}

func (f *fakeProvider) Type() string {
	if f.providerType == "" {
		return "fake"
	}
	return f.providerType
}

func (f *fakeProvider) Available(ctx context.Context) bool { return true }

func (f *fakeProvider) Broadcast(ctx context.Context, event types.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.broadcastErr != nil {
		return f.broadcastErr
	}
	f.broadcasts = append(f.broadcasts, event)
	return nil
}

func (f *fakeProvider) Subscribe(listener Listener) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listener = listener
	return nil
}

func (f *fakeProvider) Initialize(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.initialized++
	return nil
}

func (f *fakeProvider) Shutdown() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.shutdowns++
	return nil
}

func (f *fakeProvider) Stats() ProviderStats {
	return ProviderStats{Type: f.Type(), Available: true}
}

func (f *fakeProvider) broadcastCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.broadcasts)
}

// fixedSelector always returns the given provider.
type fixedSelector struct {
	p Provider
}

func (s fixedSelector) SelectBestAvailable(ctx context.Context) Provider { return s.p }

func newTestStrategy(t *testing.T, mode Mode, p Provider) (*Strategy, *fakeCacheManager) {
	t.Helper()

	cm := &fakeCacheManager{}
	registry := NewRegistry()
	registry.RegisterName("User")

	s, err := NewStrategy(Options{
		Mode:         mode,
		NodeID:       "A",
		CacheManager: cm,
		Registry:     registry,
		Selector:     fixedSelector{p},
	})
	if err != nil {
		t.Fatalf("NewStrategy failed: %v", err)
	}
	if err := s.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	return s, cm
}

func TestDistributedEvictionAppliesLocallyAndBroadcasts(t *testing.T) {
	p := &fakeProvider{}
	s, cm := newTestStrategy(t, ModeDistributed, p)

	s.Evict(context.Background(), "User", "42")

	if len(cm.entities) != 1 || cm.entities[0] != "User:42" {
		t.Fatalf("expected one local eviction of User:42, got %v", cm.entities)
	}
	if p.broadcastCount() != 1 {
		t.Fatalf("expected one broadcast, got %d", p.broadcastCount())
	}
	event := p.broadcasts[0]
	if event.EntityClass != "User" || event.EntityID != "42" {
		t.Fatalf("unexpected broadcast event: %+v", event)
	}
}

func TestLocalModeNeverBroadcasts(t *testing.T) {
	p := &fakeProvider{}
	s, cm := newTestStrategy(t, ModeLocal, p)

	s.Evict(context.Background(), "User", "42")

	if len(cm.entities) != 1 {
		t.Fatalf("expected one local eviction, got %v", cm.entities)
	}
	if p.broadcastCount() != 0 {
		t.Fatalf("LOCAL mode must not broadcast, got %d", p.broadcastCount())
	}
}

func TestDisabledModeIsNoOp(t *testing.T) {
	p := &fakeProvider{}
	s, cm := newTestStrategy(t, ModeDisabled, p)

	s.Evict(context.Background(), "User", "42")

	if len(cm.entities) != 0 {
		t.Fatalf("DISABLED mode must not touch the local cache, got %v", cm.entities)
	}
	if p.broadcastCount() != 0 {
		t.Fatalf("DISABLED mode must not broadcast, got %d", p.broadcastCount())
	}
}

func TestAutoModeResolvesToLocalForLocalProvider(t *testing.T) {
	p := &fakeProvider{providerType: "local"}
	s, _ := newTestStrategy(t, ModeAuto, p)

	if s.Mode() != ModeLocal {
		t.Fatalf("AUTO with a local provider should resolve to LOCAL, got %s", s.Mode())
	}
}

func TestAutoModeResolvesToDistributedForRealProvider(t *testing.T) {
	p := &fakeProvider{providerType: "redis"}
	s, _ := newTestStrategy(t, ModeAuto, p)

	if s.Mode() != ModeDistributed {
		t.Fatalf("AUTO with a real provider should resolve to DISTRIBUTED, got %s", s.Mode())
	}
}

func TestLocalFailureDoesNotBlockBroadcast(t *testing.T) {
	p := &fakeProvider{}
	s, cm := newTestStrategy(t, ModeDistributed, p)
	cm.failEvictions = true

	s.Evict(context.Background(), "User", "42")

	if p.broadcastCount() != 1 {
		t.Fatalf("a local eviction failure must not prevent the broadcast, got %d", p.broadcastCount())
	}
}

func TestEvictWithEmptyIDEvictsWholeType(t *testing.T) {
	p := &fakeProvider{}
	s, cm := newTestStrategy(t, ModeDistributed, p)

	s.Evict(context.Background(), "User", "")

	if len(cm.entityCaches) != 1 || cm.entityCaches[0] != "User" {
		t.Fatalf("expected a full-type eviction of User, got %v", cm.entityCaches)
	}
}

func TestInboundSelfEchoIgnored(t *testing.T) {
	p := &fakeProvider{}
	s, cm := newTestStrategy(t, ModeDistributed, p)

	event := types.NewEvent("User", "42", types.Update).WithNode("A")
	s.OnEvictionEvent(event)

	if len(cm.entities) != 0 {
		t.Fatalf("a node's own event must be ignored, got %v", cm.entities)
	}
}

func TestInboundEvictsEntity(t *testing.T) {
	p := &fakeProvider{}
	s, cm := newTestStrategy(t, ModeDistributed, p)

	s.OnEvictionEvent(types.NewEvent("User", "42", types.Update).WithNode("B"))

	if len(cm.entities) != 1 || cm.entities[0] != "User:42" {
		t.Fatalf("expected remote eviction of User:42, got %v", cm.entities)
	}
}

func TestInboundEmptyIDEvictsType(t *testing.T) {
	p := &fakeProvider{}
	s, cm := newTestStrategy(t, ModeDistributed, p)

	s.OnEvictionEvent(types.NewEvent("User", "", types.BulkUpdate).WithNode("B"))

	if len(cm.entityCaches) != 1 || cm.entityCaches[0] != "User" {
		t.Fatalf("expected a full-type eviction, got %v", cm.entityCaches)
	}
}

func TestInboundRegionOverridesType(t *testing.T) {
	p := &fakeProvider{}
	s, cm := newTestStrategy(t, ModeDistributed, p)

	s.OnEvictionEvent(types.NewRegionEvent("query.users", types.BulkUpdate).WithNode("B"))

	if len(cm.regions) != 1 || cm.regions[0] != "query.users" {
		t.Fatalf("expected region eviction, got %v", cm.regions)
	}
	if len(cm.entities) != 0 || len(cm.entityCaches) != 0 {
		t.Fatal("region events must not target entities")
	}
}

func TestInboundUnresolvableTypeClearsEverything(t *testing.T) {
	p := &fakeProvider{}
	s, cm := newTestStrategy(t, ModeDistributed, p)

	s.OnEvictionEvent(types.NewEvent("Ghost", "1", types.Update).WithNode("B"))

	if cm.clears != 1 {
		t.Fatalf("an unresolvable type must fall back to a full clear, got %d clears", cm.clears)
	}
	if len(cm.entities) != 0 {
		t.Fatalf("no targeted eviction expected, got %v", cm.entities)
	}
}

func TestInboundHeartbeatRoutedNotEvicted(t *testing.T) {
	p := &fakeProvider{}
	cm := &fakeCacheManager{}
	var heartbeats []types.Event

	s, err := NewStrategy(Options{
		Mode:         ModeDistributed,
		NodeID:       "A",
		CacheManager: cm,
		Selector:     fixedSelector{p},
		OnHeartbeat:  func(event Event) { heartbeats = append(heartbeats, event) },
	})
	if err != nil {
		t.Fatalf("NewStrategy failed: %v", err)
	}
	if err := s.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}

	s.OnEvictionEvent(types.NewHeartbeat("B"))

	if len(heartbeats) != 1 {
		t.Fatalf("expected one routed heartbeat, got %d", len(heartbeats))
	}
	if cm.clears != 0 || len(cm.entities) != 0 || len(cm.entityCaches) != 0 {
		t.Fatal("heartbeats must never trigger evictions")
	}
}

func TestTypeRegionsEvictedWithEntity(t *testing.T) {
	p := &fakeProvider{}
	cm := &fakeCacheManager{}
	registry := NewRegistry()
	registry.Register(TypeDescriptor{Name: "User", Regions: []string{"query.users"}})

	s, err := NewStrategy(Options{
		Mode:         ModeDistributed,
		NodeID:       "A",
		CacheManager: cm,
		Registry:     registry,
		Selector:     fixedSelector{p},
	})
	if err != nil {
		t.Fatalf("NewStrategy failed: %v", err)
	}
	if err := s.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}

	s.OnEvictionEvent(types.NewEvent("User", "42", types.Update).WithNode("B"))

	if len(cm.regions) != 1 || cm.regions[0] != "query.users" {
		t.Fatalf("regions tied to the type should be invalidated alongside it, got %v", cm.regions)
	}
}

func TestShutdownIdempotentAndEvictAfterShutdownSafe(t *testing.T) {
	p := &fakeProvider{}
	s, cm := newTestStrategy(t, ModeDistributed, p)

	if err := s.Shutdown(); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}
	if err := s.Shutdown(); err != nil {
		t.Fatalf("repeated Shutdown failed: %v", err)
	}
	if p.shutdowns != 1 {
		t.Fatalf("provider must be shut down exactly once, got %d", p.shutdowns)
	}

	before := len(cm.entities)
	s.Evict(context.Background(), "User", "42")
	if len(cm.entities) != before {
		t.Fatal("Evict after Shutdown must be a no-op")
	}
	if p.broadcastCount() != 0 {
		t.Fatal("Evict after Shutdown must not reach the provider")
	}
}

func TestEvictionIdempotence(t *testing.T) {
	p := &fakeProvider{}
	s, cm := newTestStrategy(t, ModeDistributed, p)

	// Evicting the same entity repeatedly and in any interleaving ends
	// in the same "not cached" state.
	s.Evict(context.Background(), "User", "42")
	s.Evict(context.Background(), "User", "42")
	s.OnEvictionEvent(types.NewEvent("User", "42", types.Delete).WithNode("B"))

	if cm.Contains("User", "42") {
		t.Fatal("entity must not be cached after any eviction sequence")
	}
}

func TestDirectBroadcastFailureRoutedToHandler(t *testing.T) {
	p := &fakeProvider{broadcastErr: errors.New("transport down")}
	cm := &fakeCacheManager{}
	registry := NewRegistry()
	registry.RegisterName("User")

	var mu sync.Mutex
	var failed []Event
	s, err := NewStrategy(Options{
		Mode:         ModeDistributed,
		NodeID:       "A",
		CacheManager: cm,
		Registry:     registry,
		Selector:     fixedSelector{p},
		OnBroadcastFailure: func(event Event, cause error) {
			mu.Lock()
			failed = append(failed, event)
			mu.Unlock()
		},
	})
	if err != nil {
		t.Fatalf("NewStrategy failed: %v", err)
	}
	if err := s.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}

	s.Evict(context.Background(), "User", "42")

	mu.Lock()
	defer mu.Unlock()
	if len(failed) != 1 {
		t.Fatalf("expected the failed broadcast handed to the failure hook once, got %d", len(failed))
	}
	if failed[0].EntityClass != "User" || failed[0].EntityID != "42" {
		t.Fatalf("unexpected failed event: %+v", failed[0])
	}
}
