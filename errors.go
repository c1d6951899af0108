package evictbus

import "github.com/evictbus/evictbus/evict"

// ErrInvalidConfig is returned when the configuration is invalid.
var ErrInvalidConfig = evict.ErrInvalidConfig

// ErrTypeNotRegistered is returned when a remote event carries a logical
// type name unknown to this node.
var ErrTypeNotRegistered = evict.ErrTypeNotRegistered

// ErrProviderClosed is returned when a broadcast is attempted on a
// provider that has been shut down.
var ErrProviderClosed = evict.ErrProviderClosed

// ErrProviderNotFound is returned when a forced provider type is not
// registered.
var ErrProviderNotFound = evict.ErrProviderNotFound

// ErrProviderUnavailable is returned when the transport backend cannot
// be reached.
var ErrProviderUnavailable = evict.ErrProviderUnavailable
