package evict

import "errors"

// ErrInvalidConfig is returned when options are invalid.
var ErrInvalidConfig = errors.New("invalid eviction configuration")

// ErrTypeNotRegistered is returned by a TypeRegistry when a logical type
// name carried by a remote event is unknown to this node.
var ErrTypeNotRegistered = errors.New("entity type not registered")

// ErrProviderClosed is returned when a broadcast is attempted on a
// provider that has been shut down.
var ErrProviderClosed = errors.New("provider is shut down")

// ErrProviderNotFound is returned when a specific provider type was
// requested but no provider of that type is registered.
var ErrProviderNotFound = errors.New("provider not found")

// ErrProviderUnavailable is returned when a broadcast is attempted while
// the transport backend cannot be reached.
var ErrProviderUnavailable = errors.New("provider unavailable")
