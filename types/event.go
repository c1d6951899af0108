package types

import (
	"time"

	"github.com/nats-io/nuid"
)

// Operation classifies the mutation that triggered an eviction.
type Operation string

const (
	Insert     Operation = "INSERT"
	Update     Operation = "UPDATE"
	Delete     Operation = "DELETE"
	BulkUpdate Operation = "BULK_UPDATE"
	BulkDelete Operation = "BULK_DELETE"

	// Ping is reserved for cluster heartbeats and never targets an entity.
	Ping Operation = "PING"
)

// HeartbeatClass is the entity-class marker carried by heartbeat events.
const HeartbeatClass = "HEARTBEAT"

// Event describes a single cache eviction to apply locally and, in
// distributed mode, to broadcast to every other node in the cluster.
// Events are value objects: once created they are never mutated, so they
// are safe to hand across goroutine boundaries.
type Event struct {
	// EntityClass is the logical type name being evicted. Empty means a
	// structural event such as a heartbeat.
	EntityClass string `json:"entityClass,omitempty"`

	// EntityID is the specific instance key. Empty means "evict the
	// entire type's cache".
	EntityID string `json:"entityId,omitempty"`

	// Region is an optional named cache region. When set it overrides
	// class/id targeting.
	Region string `json:"region,omitempty"`

	// Operation is the semantic classification of the mutation.
	Operation Operation `json:"operation"`

	// NodeID identifies the origin node. It is stamped at broadcast time
	// and used for self-echo suppression on the receiving side.
	NodeID string `json:"nodeId,omitempty"`

	// Timestamp is the creation time in epoch milliseconds.
	Timestamp int64 `json:"timestamp"`

	// EventID is a unique id used to deduplicate redundant network
	// deliveries. Generated once at creation.
	EventID string `json:"eventId"`
}

// NewEvent creates an eviction event for an entity class and optional id.
func NewEvent(entityClass, entityID string, op Operation) Event {
	return Event{
		EntityClass: entityClass,
		EntityID:    entityID,
		Operation:   op,
		Timestamp:   time.Now().UnixMilli(),
		EventID:     nuid.Next(),
	}
}

// NewRegionEvent creates an eviction event targeting a named cache region.
func NewRegionEvent(region string, op Operation) Event {
	return Event{
		Region:    region,
		Operation: op,
		Timestamp: time.Now().UnixMilli(),
		EventID:   nuid.Next(),
	}
}

// NewHeartbeat creates a heartbeat event for the given node.
func NewHeartbeat(nodeID string) Event {
	return Event{
		EntityClass: HeartbeatClass,
		Operation:   Ping,
		NodeID:      nodeID,
		Timestamp:   time.Now().UnixMilli(),
		EventID:     nuid.Next(),
	}
}

// WithNode returns a copy of the event with the origin node id attached.
// The receiver is left untouched (copy-on-broadcast).
func (e Event) WithNode(nodeID string) Event {
	e.NodeID = nodeID
	return e
}

// IsHeartbeat reports whether the event is a cluster heartbeat rather than
// a real eviction.
func (e Event) IsHeartbeat() bool {
	return e.Operation == Ping || e.EntityClass == HeartbeatClass
}

// IsBulk reports whether the event came from a bulk mutation.
func (e Event) IsBulk() bool {
	return e.Operation == BulkUpdate || e.Operation == BulkDelete
}

// TargetsFullClass reports whether the event evicts an entire type's cache
// rather than a single instance.
func (e Event) TargetsFullClass() bool {
	return e.EntityID == "" && e.Region == ""
}
