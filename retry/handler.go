// Package retry gives failed eviction broadcasts a bounded second life:
// a capped retry queue, periodic re-attempts through the active
// transport, and a capped dead-letter queue for events that exhaust
// their retry budget.
package retry

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/evictbus/evictbus/evict"
	"github.com/evictbus/evictbus/types"
)

const (
	// DefaultMaxQueueSize caps the retry queue.
	DefaultMaxQueueSize = 5000

	// DefaultMaxDeadLetterSize caps the dead-letter queue.
	DefaultMaxDeadLetterSize = 1000

	// DefaultMaxAttempts is the retry budget per event.
	DefaultMaxAttempts = 5

	// DefaultInterval is the period between retry processing passes.
	DefaultInterval = 5 * time.Second

	// HardMaxAttempts bounds the configured budget so a misconfiguration
	// cannot cause unbounded retry loops.
	HardMaxAttempts = 100

	broadcastTimeout = 5 * time.Second
)

// FailedEviction wraps an event whose broadcast failed, together with
// its retry bookkeeping. Instances are owned exclusively by the Handler
// and never escape except as snapshot copies.
type FailedEviction struct {
	Event     types.Event
	LastError string
	FailedAt  time.Time
	Attempts  int
}

// BroadcasterSource returns the currently active transport, or nil when
// the node is running local-only. Resolved on every attempt so retries
// follow provider failover.
type BroadcasterSource func() evict.Broadcaster

// Options configures a Handler.
type Options struct {
	// Source yields the transport used for re-attempts.
	Source BroadcasterSource

	// MaxAttempts is the per-event retry budget. Values above
	// HardMaxAttempts are clamped. Zero means DefaultMaxAttempts.
	MaxAttempts int

	// Interval is the period between processing passes. Zero means
	// DefaultInterval.
	Interval time.Duration

	// MaxQueueSize caps the retry queue. Zero means DefaultMaxQueueSize.
	MaxQueueSize int

	// MaxDeadLetterSize caps the DLQ. Zero means DefaultMaxDeadLetterSize.
	MaxDeadLetterSize int

	// Logger defaults to no-op.
	Logger evict.Logger

	// Metrics defaults to no-op.
	Metrics evict.Metrics
}

// Stats is a point-in-time snapshot of the handler.
type Stats struct {
	RetryQueueSize      int
	DeadLetterQueueSize int
	MaxQueueSize        int
	MaxDeadLetterSize   int
	MaxAttempts         int
	Dropped             int64
	DeadLettered        int64
	Recovered           int64
}

// Handler is the bounded retry / dead-letter pipeline. The two queues
// have independent locks to avoid a single point of contention; the
// retry lock is never acquired while the dead-letter lock is held.
type Handler struct {
	source      BroadcasterSource
	maxAttempts int
	interval    time.Duration
	maxQueue    int
	maxDLQ      int
	logger      evict.Logger
	metrics     evict.Metrics

	// retryMu guards queue and queueCount together: the tracked count
	// shadows the slice length for O(1) capacity checks and must be
	// updated in the same critical section.
	retryMu    sync.Mutex
	queue      []*FailedEviction
	queueCount int

	dlqMu    sync.Mutex
	dlq      []*FailedEviction
	dlqCount int

	dropped      int64
	deadLettered int64
	recovered    int64

	done    chan struct{}
	wg      sync.WaitGroup
	started int32
	closed  int32
}

// NewHandler creates a retry handler. Call Start to run the periodic
// processing loop.
func NewHandler(opts Options) *Handler {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = DefaultMaxAttempts
	}
	if opts.MaxAttempts > HardMaxAttempts {
		opts.MaxAttempts = HardMaxAttempts
	}
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.MaxQueueSize <= 0 {
		opts.MaxQueueSize = DefaultMaxQueueSize
	}
	if opts.MaxDeadLetterSize <= 0 {
		opts.MaxDeadLetterSize = DefaultMaxDeadLetterSize
	}
	if opts.Logger == nil {
		opts.Logger = evict.NewNoOpLogger()
	}
	if opts.Metrics == nil {
		opts.Metrics = evict.NoopMetrics{}
	}

	return &Handler{
		source:      opts.Source,
		maxAttempts: opts.MaxAttempts,
		interval:    opts.Interval,
		maxQueue:    opts.MaxQueueSize,
		maxDLQ:      opts.MaxDeadLetterSize,
		logger:      opts.Logger,
		metrics:     opts.Metrics,
		done:        make(chan struct{}),
	}
}

// Start launches the periodic processing loop. Idempotent.
func (h *Handler) Start() {
	if !atomic.CompareAndSwapInt32(&h.started, 0, 1) {
		return
	}
	h.wg.Add(1)
	go h.loop()
}

func (h *Handler) loop() {
	defer h.wg.Done()

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-h.done:
			return
		case <-ticker.C:
			h.ProcessRetries(context.Background())
		}
	}
}

// Schedule enqueues a failed broadcast for retry. When the queue is full
// the event is dropped; the drop is logged and counted, never silent.
func (h *Handler) Schedule(event types.Event, cause error) {
	if atomic.LoadInt32(&h.closed) != 0 {
		atomic.AddInt64(&h.dropped, 1)
		return
	}

	failed := &FailedEviction{
		Event:     event,
		LastError: cause.Error(),
		FailedAt:  time.Now(),
		Attempts:  0,
	}

	if !h.enqueue(failed) {
		h.logger.Warn("retry queue full, dropping eviction event",
			"class", event.EntityClass, "id", event.EntityID, "event", event.EventID)
		return
	}
	h.metrics.RetryScheduled()
}

// enqueue adds to the retry queue subject to capacity. Returns false and
// counts a drop when the queue is full.
func (h *Handler) enqueue(failed *FailedEviction) bool {
	h.retryMu.Lock()
	defer h.retryMu.Unlock()

	if h.queueCount != len(h.queue) {
		// Tracked count drifted from the queue. Log and realign rather
		// than crash: a forced reset could itself race.
		h.logger.Warn("retry queue counter drift detected",
			"tracked", h.queueCount, "actual", len(h.queue))
		h.queueCount = len(h.queue)
	}

	if h.queueCount >= h.maxQueue {
		atomic.AddInt64(&h.dropped, 1)
		return false
	}

	h.queue = append(h.queue, failed)
	h.queueCount++
	return true
}

// ProcessRetries drains the current queue contents into a working batch
// and re-attempts each item, so arrivals during processing are neither
// starved nor double-processed. Exhausted items move to the DLQ.
func (h *Handler) ProcessRetries(ctx context.Context) {
	h.retryMu.Lock()
	batch := h.queue
	h.queue = nil
	h.queueCount = 0
	h.retryMu.Unlock()

	if len(batch) == 0 {
		return
	}

	for _, failed := range batch {
		if failed.Attempts >= h.maxAttempts {
			h.deadLetter(failed)
			continue
		}

		if err := h.attempt(ctx, failed.Event); err != nil {
			failed.Attempts++
			if failed.Attempts > HardMaxAttempts {
				failed.Attempts = HardMaxAttempts
			}
			failed.LastError = err.Error()
			failed.FailedAt = time.Now()

			if !h.enqueue(failed) {
				h.logger.Warn("retry queue full, dropping eviction event after failed retry",
					"class", failed.Event.EntityClass, "event", failed.Event.EventID,
					"attempts", failed.Attempts)
			}
			continue
		}

		atomic.AddInt64(&h.recovered, 1)
	}
}

func (h *Handler) attempt(ctx context.Context, event types.Event) error {
	var broadcaster evict.Broadcaster
	if h.source != nil {
		broadcaster = h.source()
	}
	if broadcaster == nil {
		return evict.ErrProviderUnavailable
	}

	ctx, cancel := context.WithTimeout(ctx, broadcastTimeout)
	defer cancel()

	return broadcaster.Broadcast(ctx, event)
}

// deadLetter moves an exhausted item to the DLQ, evicting the oldest
// entry when the DLQ is full.
func (h *Handler) deadLetter(failed *FailedEviction) {
	h.dlqMu.Lock()
	defer h.dlqMu.Unlock()

	if h.dlqCount != len(h.dlq) {
		h.logger.Warn("dead-letter queue counter drift detected",
			"tracked", h.dlqCount, "actual", len(h.dlq))
		h.dlqCount = len(h.dlq)
	}

	if h.dlqCount >= h.maxDLQ && len(h.dlq) > 0 {
		evicted := h.dlq[0]
		h.dlq = h.dlq[1:]
		h.dlqCount--
		h.logger.Warn("dead-letter queue full, evicting oldest entry",
			"class", evicted.Event.EntityClass, "event", evicted.Event.EventID)
	}

	h.dlq = append(h.dlq, failed)
	h.dlqCount++
	atomic.AddInt64(&h.deadLettered, 1)
	h.metrics.DeadLettered()

	h.logger.Warn("eviction event exhausted retry budget, dead-lettered",
		"class", failed.Event.EntityClass, "id", failed.Event.EntityID,
		"event", failed.Event.EventID, "attempts", failed.Attempts, "lastError", failed.LastError)
}

// ReprocessDeadLetters drains the DLQ, resets each item's attempt
// counter and re-feeds it into the retry queue. Items that do not fit
// are dropped with a logged warning. Returns the number re-queued.
func (h *Handler) ReprocessDeadLetters() int {
	h.dlqMu.Lock()
	drained := h.dlq
	h.dlq = nil
	h.dlqCount = 0
	h.dlqMu.Unlock()

	// The retry lock is only taken after the dead-letter lock has been
	// released, preserving the lock-ordering rule.
	requeued := 0
	for _, failed := range drained {
		failed.Attempts = 0
		if !h.enqueue(failed) {
			h.logger.Warn("retry queue full, dropping dead-letter entry on reprocess",
				"class", failed.Event.EntityClass, "event", failed.Event.EventID)
			continue
		}
		requeued++
	}

	if requeued > 0 {
		h.logger.Info("dead-letter queue reprocessed", "requeued", requeued, "drained", len(drained))
	}
	return requeued
}

// DeadLetters returns a defensive copy of the current DLQ contents for
// inspection.
func (h *Handler) DeadLetters() []FailedEviction {
	h.dlqMu.Lock()
	defer h.dlqMu.Unlock()

	out := make([]FailedEviction, len(h.dlq))
	for i, failed := range h.dlq {
		out[i] = *failed
	}
	return out
}

// Shutdown stops the processing loop. Queued items are intentionally
// left in place so a final ProcessRetries or inspection can still see
// them. Idempotent.
func (h *Handler) Shutdown() {
	if !atomic.CompareAndSwapInt32(&h.closed, 0, 1) {
		return
	}
	close(h.done)
	if atomic.LoadInt32(&h.started) == 1 {
		h.wg.Wait()
	}
}

// Stats returns a point-in-time snapshot.
func (h *Handler) Stats() Stats {
	h.retryMu.Lock()
	queueSize := h.queueCount
	h.retryMu.Unlock()

	h.dlqMu.Lock()
	dlqSize := h.dlqCount
	h.dlqMu.Unlock()

	return Stats{
		RetryQueueSize:      queueSize,
		DeadLetterQueueSize: dlqSize,
		MaxQueueSize:        h.maxQueue,
		MaxDeadLetterSize:   h.maxDLQ,
		MaxAttempts:         h.maxAttempts,
		Dropped:             atomic.LoadInt64(&h.dropped),
		DeadLettered:        atomic.LoadInt64(&h.deadLettered),
		Recovered:           atomic.LoadInt64(&h.recovered),
	}
}
