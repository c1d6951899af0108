package evict

import (
	"time"
)

// Mode controls how the strategy balances local eviction and broadcast.
type Mode string

const (
	// ModeLocal evicts the local cache only and never broadcasts.
	ModeLocal Mode = "LOCAL"

	// ModeDistributed evicts locally and broadcasts to the cluster.
	ModeDistributed Mode = "DISTRIBUTED"

	// ModeAuto resolves to LOCAL or DISTRIBUTED at initialization time
	// depending on whether a real distributed provider is available.
	ModeAuto Mode = "AUTO"

	// ModeDisabled turns eviction off entirely.
	ModeDisabled Mode = "DISABLED"
)

// Options configures a Strategy instance.
type Options struct {
	// Mode selects the eviction mode. Defaults to AUTO.
	Mode Mode

	// NodeID is the unique identifier for this node, used for self-echo
	// suppression and heartbeat attribution.
	NodeID string

	// CacheManager is the local cache the strategy mutates.
	CacheManager CacheManager

	// Registry resolves logical type names on inbound remote events.
	// If nil, every inbound class is treated as unresolvable and
	// triggers the full-cache-clear fallback.
	Registry TypeRegistry

	// Selector picks the transport provider at initialization time.
	Selector ProviderSelector

	// Batcher coalesces outbound events. If nil, events are broadcast
	// directly through the selected provider and failures are handed to
	// OnBroadcastFailure.
	Batcher Batcher

	// OnBroadcastFailure receives events whose direct broadcast failed,
	// typically a retry handler's Schedule. Only consulted when Batcher is
	// nil; a batcher routes its own flush failures. If both are nil,
	// failed broadcasts are logged and lost.
	OnBroadcastFailure func(event Event, cause error)

	// OnHeartbeat receives inbound heartbeat events. If nil, heartbeats
	// are silently discarded after filtering.
	OnHeartbeat func(event Event)

	// Logger is the logger for the strategy. If nil, defaults to no-op.
	Logger Logger

	// Metrics receives observability callbacks. If nil, defaults to no-op.
	Metrics Metrics
}

// Validate validates the options.
func (o *Options) Validate() error {
	switch o.Mode {
	case ModeLocal, ModeDistributed, ModeAuto, ModeDisabled, "":
	default:
		return ErrInvalidConfig
	}
	if o.NodeID == "" {
		return ErrInvalidConfig
	}
	if o.CacheManager == nil {
		return ErrInvalidConfig
	}
	if o.Mode != ModeDisabled && o.Mode != ModeLocal && o.Selector == nil {
		return ErrInvalidConfig
	}
	return nil
}

// Defaults applied by NewStrategy when fields are unset.
const (
	// DefaultProbeTimeout bounds transport availability probes.
	DefaultProbeTimeout = 2 * time.Second

	// DefaultBroadcastTimeout bounds a single broadcast attempt.
	DefaultBroadcastTimeout = 5 * time.Second
)
