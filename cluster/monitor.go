// Package cluster tracks peer liveness: it broadcasts heartbeats over
// the eviction transport and turns the heartbeats it receives into a
// cluster health verdict for an external health check.
package cluster

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/evictbus/evictbus/evict"
	"github.com/evictbus/evictbus/types"
)

// Health is the computed cluster verdict.
type Health string

const (
	// Standalone means no peers are known.
	Standalone Health = "STANDALONE"

	// Healthy means every known peer is active.
	Healthy Health = "HEALTHY"

	// Degraded means more than half of the known peers are active.
	Degraded Health = "DEGRADED"

	// Critical means half or fewer of the known peers are active.
	Critical Health = "CRITICAL"
)

const (
	// DefaultInterval is the heartbeat broadcast period.
	DefaultInterval = 10 * time.Second

	// DefaultInactivityTimeout is how long a silent peer stays known
	// before the sweep removes it.
	DefaultInactivityTimeout = 30 * time.Second
)

// NodeStatus describes one remote node as last observed. Instances are
// owned by the Monitor; Status returns defensive copies.
type NodeStatus struct {
	NodeID         string
	LastSeen       time.Time
	Active         bool
	HeartbeatCount int64
}

// ClusterStatus is the health snapshot exposed to health endpoints.
type ClusterStatus struct {
	NodeID             string
	KnownNodes         int
	ActiveNodes        int
	HeartbeatsSent     int64
	HeartbeatsReceived int64
	SyncHealth         Health
	Nodes              []NodeStatus
}

// Options configures a Monitor.
type Options struct {
	// NodeID overrides the generated node identifier.
	NodeID string

	// Source yields the transport heartbeats are broadcast through.
	Source func() evict.Broadcaster

	// Interval is the heartbeat period. Zero means DefaultInterval.
	Interval time.Duration

	// InactivityTimeout removes peers silent for longer than this.
	// Zero means DefaultInactivityTimeout.
	InactivityTimeout time.Duration

	// Logger defaults to no-op.
	Logger evict.Logger

	// Metrics defaults to no-op.
	Metrics evict.Metrics
}

// Monitor exchanges heartbeats with the rest of the cluster and keeps a
// per-peer liveness map. The node id is generated exactly once at
// construction so the node always recognizes its own heartbeats for the
// lifetime of the process.
type Monitor struct {
	nodeID   string
	source   func() evict.Broadcaster
	interval time.Duration
	timeout  time.Duration
	logger   evict.Logger
	metrics  evict.Metrics

	// now is replaceable in tests.
	now func() time.Time

	mu    sync.RWMutex
	nodes map[string]*NodeStatus

	heartbeatsSent     int64
	heartbeatsReceived int64

	done    chan struct{}
	wg      sync.WaitGroup
	started int32
	closed  int32
}

// NewMonitor creates a cluster sync monitor. Call Start to run the
// heartbeat and sweep loops.
func NewMonitor(opts Options) *Monitor {
	if opts.NodeID == "" {
		opts.NodeID = uuid.NewString()
	}
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.InactivityTimeout <= 0 {
		opts.InactivityTimeout = DefaultInactivityTimeout
	}
	if opts.Logger == nil {
		opts.Logger = evict.NewNoOpLogger()
	}
	if opts.Metrics == nil {
		opts.Metrics = evict.NoopMetrics{}
	}

	return &Monitor{
		nodeID:   opts.NodeID,
		source:   opts.Source,
		interval: opts.Interval,
		timeout:  opts.InactivityTimeout,
		logger:   opts.Logger,
		metrics:  opts.Metrics,
		now:      time.Now,
		nodes:    make(map[string]*NodeStatus),
		done:     make(chan struct{}),
	}
}

// NodeID returns this node's stable identifier.
func (m *Monitor) NodeID() string {
	return m.nodeID
}

// Start launches the heartbeat and sweep loops. Idempotent.
func (m *Monitor) Start() {
	if !atomic.CompareAndSwapInt32(&m.started, 0, 1) {
		return
	}
	m.wg.Add(1)
	go m.loop()
}

func (m *Monitor) loop() {
	defer m.wg.Done()

	heartbeat := time.NewTicker(m.interval)
	defer heartbeat.Stop()

	sweep := time.NewTicker(m.timeout / 2)
	defer sweep.Stop()

	for {
		select {
		case <-m.done:
			return
		case <-heartbeat.C:
			m.SendHeartbeat(context.Background())
		case <-sweep.C:
			m.Sweep()
		}
	}
}

// SendHeartbeat broadcasts one heartbeat. A send failure is logged, not
// propagated, and does not prevent the next scheduled heartbeat.
func (m *Monitor) SendHeartbeat(ctx context.Context) {
	var broadcaster evict.Broadcaster
	if m.source != nil {
		broadcaster = m.source()
	}
	if broadcaster == nil {
		return
	}

	if err := broadcaster.Broadcast(ctx, types.NewHeartbeat(m.nodeID)); err != nil {
		m.logger.Warn("heartbeat broadcast failed", "node", m.nodeID, "error", err)
		return
	}

	atomic.AddInt64(&m.heartbeatsSent, 1)
	m.metrics.HeartbeatSent()
}

// ObserveHeartbeat records a heartbeat received from a remote node,
// creating its status entry on first contact. Heartbeats carrying this
// node's own id are ignored.
func (m *Monitor) ObserveHeartbeat(event types.Event) {
	if !event.IsHeartbeat() || event.NodeID == "" || event.NodeID == m.nodeID {
		return
	}

	m.mu.Lock()
	status, ok := m.nodes[event.NodeID]
	if !ok {
		status = &NodeStatus{NodeID: event.NodeID}
		m.nodes[event.NodeID] = status
		m.logger.Info("new cluster node observed", "node", event.NodeID)
	}
	status.LastSeen = m.now()
	status.Active = true
	status.HeartbeatCount++
	m.mu.Unlock()

	atomic.AddInt64(&m.heartbeatsReceived, 1)
	m.metrics.HeartbeatReceived()
}

// Sweep removes peers whose last heartbeat exceeds the inactivity
// timeout. The node ids are snapshotted before iterating, so a peer
// added concurrently is neither visited twice nor missed.
func (m *Monitor) Sweep() {
	m.mu.RLock()
	ids := make([]string, 0, len(m.nodes))
	for id := range m.nodes {
		ids = append(ids, id)
	}
	m.mu.RUnlock()

	cutoff := m.now().Add(-m.timeout)

	for _, id := range ids {
		m.mu.Lock()
		status, ok := m.nodes[id]
		if ok && status.LastSeen.Before(cutoff) {
			delete(m.nodes, id)
			m.logger.Warn("cluster node timed out", "node", id, "lastSeen", status.LastSeen)
		}
		m.mu.Unlock()
	}
}

// Status computes the current cluster health verdict with defensive
// copies of every node entry.
func (m *Monitor) Status() ClusterStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()

	cutoff := m.now().Add(-m.timeout)

	known := len(m.nodes)
	active := 0
	nodes := make([]NodeStatus, 0, known)
	for _, status := range m.nodes {
		copied := *status
		copied.Active = !status.LastSeen.Before(cutoff)
		if copied.Active {
			active++
		}
		nodes = append(nodes, copied)
	}

	health := Standalone
	switch {
	case known == 0:
		health = Standalone
	case active == known:
		health = Healthy
	case active*2 > known:
		health = Degraded
	default:
		health = Critical
	}

	return ClusterStatus{
		NodeID:             m.nodeID,
		KnownNodes:         known,
		ActiveNodes:        active,
		HeartbeatsSent:     atomic.LoadInt64(&m.heartbeatsSent),
		HeartbeatsReceived: atomic.LoadInt64(&m.heartbeatsReceived),
		SyncHealth:         health,
		Nodes:              nodes,
	}
}

// Shutdown stops the heartbeat and sweep loops. Idempotent.
func (m *Monitor) Shutdown() {
	if !atomic.CompareAndSwapInt32(&m.closed, 0, 1) {
		return
	}
	close(m.done)
	if atomic.LoadInt32(&m.started) == 1 {
		m.wg.Wait()
	}
}
