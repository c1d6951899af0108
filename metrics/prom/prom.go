// Package prom exports the eviction coordinator's observability hooks
// as Prometheus metrics.
package prom

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/evictbus/evictbus/evict"
)

// Adapter implements evict.Metrics and exports Prometheus counters.
// Safe for concurrent use; all Prometheus metric types are goroutine-safe.
type Adapter struct {
	applied      prometheus.Counter
	broadcast    prometheus.Counter
	received     prometheus.Counter
	failures     prometheus.Counter
	retries      prometheus.Counter
	deadLettered prometheus.Counter
	flushes      prometheus.Counter
	flushedEv    prometheus.Counter
	hbSent       prometheus.Counter
	hbReceived   prometheus.Counter
}

// New constructs a Prometheus metrics adapter.
//   - reg:         registry to register metrics with (nil => prometheus.DefaultRegisterer)
//   - ns:          Prometheus namespace
//   - constLabels: static labels applied to all metrics (may be nil)
func New(reg prometheus.Registerer, ns string, constLabels prometheus.Labels) *Adapter {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	counter := func(name, help string) prometheus.Counter {
		return prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   ns,
			Subsystem:   "evictbus",
			Name:        name,
			Help:        help,
			ConstLabels: constLabels,
		})
	}

	a := &Adapter{
		applied:      counter("evictions_applied_total", "Local cache evictions applied"),
		broadcast:    counter("evictions_broadcast_total", "Eviction events broadcast to the cluster"),
		received:     counter("evictions_received_total", "Eviction events received from the cluster"),
		failures:     counter("broadcast_failures_total", "Failed eviction broadcasts"),
		retries:      counter("retries_scheduled_total", "Eviction events scheduled for retry"),
		deadLettered: counter("dead_lettered_total", "Eviction events moved to the dead-letter queue"),
		flushes:      counter("batch_flushes_total", "Batch flushes"),
		flushedEv:    counter("batch_flushed_events_total", "Events emitted by batch flushes"),
		hbSent:       counter("heartbeats_sent_total", "Heartbeats broadcast"),
		hbReceived:   counter("heartbeats_received_total", "Heartbeats received from peers"),
	}

	reg.MustRegister(a.applied, a.broadcast, a.received, a.failures,
		a.retries, a.deadLettered, a.flushes, a.flushedEv, a.hbSent, a.hbReceived)
	return a
}

// EvictionApplied increments the local eviction counter.
func (a *Adapter) EvictionApplied() { a.applied.Inc() }

// EvictionBroadcast increments the broadcast counter.
func (a *Adapter) EvictionBroadcast() { a.broadcast.Inc() }

// EvictionReceived increments the inbound eviction counter.
func (a *Adapter) EvictionReceived() { a.received.Inc() }

// BroadcastFailure increments the failure counter.
func (a *Adapter) BroadcastFailure() { a.failures.Inc() }

// RetryScheduled increments the retry counter.
func (a *Adapter) RetryScheduled() { a.retries.Inc() }

// DeadLettered increments the dead-letter counter.
func (a *Adapter) DeadLettered() { a.deadLettered.Inc() }

// BatchFlushed records one flush emitting the given number of events.
func (a *Adapter) BatchFlushed(events int) {
	a.flushes.Inc()
	a.flushedEv.Add(float64(events))
}

// HeartbeatSent increments the outbound heartbeat counter.
func (a *Adapter) HeartbeatSent() { a.hbSent.Inc() }

// HeartbeatReceived increments the inbound heartbeat counter.
func (a *Adapter) HeartbeatReceived() { a.hbReceived.Inc() }

// Compile-time check: ensure Adapter implements evict.Metrics.
var _ evict.Metrics = (*Adapter)(nil)
