// Package cachemgr provides local cache manager implementations the
// eviction coordinator mutates through the evict.CacheManager interface.
// The coordinator itself never reads cached values; the owning
// application populates these caches and wires them in.
package cachemgr

import (
	"sync"

	"github.com/dgraph-io/ristretto"

	"github.com/evictbus/evictbus/evict"
)

// Config configures a local cache manager.
type Config struct {
	// NumCounters is the number of frequency counters (Ristretto only).
	// Recommended: 10 * expected entries.
	NumCounters int64

	// MaxCost is the maximum total cost of cached items (Ristretto only).
	MaxCost int64

	// BufferItems is the eviction buffer size (Ristretto only).
	BufferItems int64

	// MaxSize is the maximum number of entries (LRU only).
	MaxSize int
}

// DefaultConfig returns defaults sized for a typical entity cache.
func DefaultConfig() Config {
	return Config{
		NumCounters: 1e6,
		MaxCost:     1 << 28, // 256MB
		BufferItems: 64,
		MaxSize:     10000,
	}
}

// RistrettoManager is a Ristretto-backed cache manager. Ristretto cannot
// enumerate its keys, so a key index is maintained alongside for
// type-wide and region-wide eviction. An index entry whose value was
// already evicted by Ristretto is harmless: evicting an absent key is a
// no-op.
type RistrettoManager struct {
	cache *ristretto.Cache

	mu       sync.Mutex
	byClass  map[string]map[string]struct{}
	byRegion map[string]map[string]struct{}
}

// NewRistrettoManager creates a Ristretto-backed cache manager.
func NewRistrettoManager(cfg Config) (*RistrettoManager, error) {
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: cfg.NumCounters,
		MaxCost:     cfg.MaxCost,
		BufferItems: cfg.BufferItems,
	})
	if err != nil {
		return nil, err
	}

	return &RistrettoManager{
		cache:    cache,
		byClass:  make(map[string]map[string]struct{}),
		byRegion: make(map[string]map[string]struct{}),
	}, nil
}

// Put stores an entity instance.
func (rm *RistrettoManager) Put(entityClass, entityID string, value any, cost int64) {
	key := entityKey(entityClass, entityID)
	rm.cache.Set(key, value, cost)

	rm.mu.Lock()
	ids, ok := rm.byClass[entityClass]
	if !ok {
		ids = make(map[string]struct{})
		rm.byClass[entityClass] = ids
	}
	ids[entityID] = struct{}{}
	rm.mu.Unlock()
}

// PutRegion stores an entry in a named region.
func (rm *RistrettoManager) PutRegion(region, key string, value any, cost int64) {
	full := regionKey(region, key)
	rm.cache.Set(full, value, cost)

	rm.mu.Lock()
	keys, ok := rm.byRegion[region]
	if !ok {
		keys = make(map[string]struct{})
		rm.byRegion[region] = keys
	}
	keys[key] = struct{}{}
	rm.mu.Unlock()
}

// Get retrieves an entity instance.
func (rm *RistrettoManager) Get(entityClass, entityID string) (any, bool) {
	return rm.cache.Get(entityKey(entityClass, entityID))
}

// GetRegion retrieves an entry from a named region.
func (rm *RistrettoManager) GetRegion(region, key string) (any, bool) {
	return rm.cache.Get(regionKey(region, key))
}

// EvictEntity removes a single cached instance.
func (rm *RistrettoManager) EvictEntity(entityClass, entityID string) error {
	rm.cache.Del(entityKey(entityClass, entityID))

	rm.mu.Lock()
	if ids, ok := rm.byClass[entityClass]; ok {
		delete(ids, entityID)
	}
	rm.mu.Unlock()
	return nil
}

// EvictEntityCache removes every cached instance of a type.
func (rm *RistrettoManager) EvictEntityCache(entityClass string) error {
	rm.mu.Lock()
	ids := rm.byClass[entityClass]
	delete(rm.byClass, entityClass)
	rm.mu.Unlock()

	for id := range ids {
		rm.cache.Del(entityKey(entityClass, id))
	}
	return nil
}

// EvictRegion removes a named cache region.
func (rm *RistrettoManager) EvictRegion(region string) error {
	rm.mu.Lock()
	keys := rm.byRegion[region]
	delete(rm.byRegion, region)
	rm.mu.Unlock()

	for key := range keys {
		rm.cache.Del(regionKey(region, key))
	}
	return nil
}

// EvictAll removes everything.
func (rm *RistrettoManager) EvictAll() error {
	rm.cache.Clear()

	rm.mu.Lock()
	rm.byClass = make(map[string]map[string]struct{})
	rm.byRegion = make(map[string]map[string]struct{})
	rm.mu.Unlock()
	return nil
}

// Contains reports whether an instance is currently cached.
func (rm *RistrettoManager) Contains(entityClass, entityID string) bool {
	_, ok := rm.cache.Get(entityKey(entityClass, entityID))
	return ok
}

// Close releases the underlying cache.
func (rm *RistrettoManager) Close() {
	rm.cache.Close()
}

var _ evict.CacheManager = (*RistrettoManager)(nil)

// Keys use a NUL separator so class and id values containing ':' cannot
// collide.
func entityKey(entityClass, entityID string) string {
	return "e\x00" + entityClass + "\x00" + entityID
}

func regionKey(region, key string) string {
	return "r\x00" + region + "\x00" + key
}
