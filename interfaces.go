package evictbus

import (
	"github.com/evictbus/evictbus/evict"
	"github.com/evictbus/evictbus/types"
)

// Logger is an alias for evict.Logger.
type Logger = evict.Logger

// Marshaller is an alias for evict.Marshaller.
type Marshaller = evict.Marshaller

// CacheManager is an alias for evict.CacheManager.
type CacheManager = evict.CacheManager

// TypeRegistry is an alias for evict.TypeRegistry.
type TypeRegistry = evict.TypeRegistry

// TypeDescriptor is an alias for evict.TypeDescriptor.
type TypeDescriptor = evict.TypeDescriptor

// Provider is an alias for evict.Provider.
type Provider = evict.Provider

// ProviderStats is an alias for evict.ProviderStats.
type ProviderStats = evict.ProviderStats

// Metrics is an alias for evict.Metrics.
type Metrics = evict.Metrics

// Mode is an alias for evict.Mode.
type Mode = evict.Mode

// Event is an alias for types.Event.
type Event = types.Event

// Eviction modes.
const (
	ModeLocal       = evict.ModeLocal
	ModeDistributed = evict.ModeDistributed
	ModeAuto        = evict.ModeAuto
	ModeDisabled    = evict.ModeDisabled
)
