package cachemgr

import (
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/evictbus/evictbus/evict"
)

// LRUManager is a golang-lru backed cache manager. The LRU can enumerate
// its keys, so type-wide and region-wide eviction walk the key set with
// a prefix match instead of a side index.
type LRUManager struct {
	cache *lru.Cache[string, any]
}

// NewLRUManager creates an LRU-backed cache manager.
func NewLRUManager(cfg Config) (*LRUManager, error) {
	size := cfg.MaxSize
	if size <= 0 {
		size = DefaultConfig().MaxSize
	}
	cache, err := lru.New[string, any](size)
	if err != nil {
		return nil, err
	}
	return &LRUManager{cache: cache}, nil
}

// Put stores an entity instance.
func (lm *LRUManager) Put(entityClass, entityID string, value any) {
	lm.cache.Add(entityKey(entityClass, entityID), value)
}

// PutRegion stores an entry in a named region.
func (lm *LRUManager) PutRegion(region, key string, value any) {
	lm.cache.Add(regionKey(region, key), value)
}

// Get retrieves an entity instance.
func (lm *LRUManager) Get(entityClass, entityID string) (any, bool) {
	return lm.cache.Get(entityKey(entityClass, entityID))
}

// GetRegion retrieves an entry from a named region.
func (lm *LRUManager) GetRegion(region, key string) (any, bool) {
	return lm.cache.Get(regionKey(region, key))
}

// EvictEntity removes a single cached instance.
func (lm *LRUManager) EvictEntity(entityClass, entityID string) error {
	lm.cache.Remove(entityKey(entityClass, entityID))
	return nil
}

// EvictEntityCache removes every cached instance of a type.
func (lm *LRUManager) EvictEntityCache(entityClass string) error {
	lm.removePrefix("e\x00" + entityClass + "\x00")
	return nil
}

// EvictRegion removes a named cache region.
func (lm *LRUManager) EvictRegion(region string) error {
	lm.removePrefix("r\x00" + region + "\x00")
	return nil
}

// EvictAll removes everything.
func (lm *LRUManager) EvictAll() error {
	lm.cache.Purge()
	return nil
}

// Contains reports whether an instance is currently cached.
func (lm *LRUManager) Contains(entityClass, entityID string) bool {
	return lm.cache.Contains(entityKey(entityClass, entityID))
}

// Len returns the number of resident entries.
func (lm *LRUManager) Len() int {
	return lm.cache.Len()
}

func (lm *LRUManager) removePrefix(prefix string) {
	for _, key := range lm.cache.Keys() {
		if strings.HasPrefix(key, prefix) {
			lm.cache.Remove(key)
		}
	}
}

var _ evict.CacheManager = (*LRUManager)(nil)
