// Package batch coalesces bursts of eviction events into merged
// broadcasts so a bulk update does not flood the transport with one
// message per row.
package batch

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/evictbus/evictbus/evict"
	"github.com/evictbus/evictbus/types"
)

// DefaultMaxDelay bounds how long batching may withhold visibility of a
// change before the auto-flush timer forces a broadcast.
const DefaultMaxDelay = 500 * time.Millisecond

// DefaultThreshold is the pending-event count that forces an early flush
// inside an open batch.
const DefaultThreshold = 100

// Options configures an Optimizer.
type Options struct {
	// Broadcaster is the transport merged events are flushed to.
	Broadcaster evict.Broadcaster

	// OnFailure is invoked when a broadcast fails; the composition root
	// wires it to the retry handler. If nil, failures are only logged.
	OnFailure func(event types.Event, err error)

	// Threshold forces a flush when this many events are pending inside
	// a batch. Zero means DefaultThreshold.
	Threshold int

	// MaxDelay is the auto-flush interval. Zero means DefaultMaxDelay.
	MaxDelay time.Duration

	// Logger defaults to no-op.
	Logger evict.Logger

	// Metrics defaults to no-op.
	Metrics evict.Metrics
}

// Stats is a point-in-time snapshot of the optimizer.
type Stats struct {
	BatchMode         bool
	Depth             int
	Pending           int
	Flushes           int64
	DroppedAfterClose int64
}

// Optimizer maintains a re-entrant batch context. While a batch is open,
// events are queued and merged on flush; outside a batch they are
// broadcast immediately. An auto-flush timer bounds how long queued
// events can be withheld.
type Optimizer struct {
	broadcaster evict.Broadcaster
	onFailure   func(event types.Event, err error)
	threshold   int
	maxDelay    time.Duration
	logger      evict.Logger
	metrics     evict.Metrics

	mu      sync.Mutex
	depth   int
	pending []types.Event

	closed  int32
	done    chan struct{}
	wg      sync.WaitGroup
	started int32

	flushes           int64
	droppedAfterClose int64
}

// NewOptimizer creates a batch optimizer. Call Start to run the
// auto-flush timer.
func NewOptimizer(opts Options) *Optimizer {
	if opts.Threshold <= 0 {
		opts.Threshold = DefaultThreshold
	}
	if opts.MaxDelay <= 0 {
		opts.MaxDelay = DefaultMaxDelay
	}
	if opts.Logger == nil {
		opts.Logger = evict.NewNoOpLogger()
	}
	if opts.Metrics == nil {
		opts.Metrics = evict.NoopMetrics{}
	}

	return &Optimizer{
		broadcaster: opts.Broadcaster,
		onFailure:   opts.OnFailure,
		threshold:   opts.Threshold,
		maxDelay:    opts.MaxDelay,
		logger:      opts.Logger,
		metrics:     opts.Metrics,
		done:        make(chan struct{}),
	}
}

// Start launches the auto-flush timer. Idempotent.
func (o *Optimizer) Start() {
	if !atomic.CompareAndSwapInt32(&o.started, 0, 1) {
		return
	}
	o.wg.Add(1)
	go o.autoFlushLoop()
}

func (o *Optimizer) autoFlushLoop() {
	defer o.wg.Done()

	ticker := time.NewTicker(o.maxDelay)
	defer ticker.Stop()

	for {
		select {
		case <-o.done:
			return
		case <-ticker.C:
			o.Flush(context.Background())
		}
	}
}

// StartBatch enters (or nests into) batching mode.
func (o *Optimizer) StartBatch() {
	o.mu.Lock()
	o.depth++
	o.mu.Unlock()
}

// EndBatch leaves one nesting level and flushes on the outermost exit.
// An unmatched call is logged and leaves the depth at zero.
func (o *Optimizer) EndBatch() {
	o.mu.Lock()
	if o.depth == 0 {
		o.mu.Unlock()
		o.logger.Warn("endBatch called without a matching startBatch")
		return
	}
	o.depth--
	flush := o.depth == 0
	o.mu.Unlock()

	if flush {
		o.Flush(context.Background())
	}
}

// Add hands an event to the optimizer. Inside a batch the event is
// queued; otherwise it is broadcast immediately. After Shutdown events
// are dropped silently and only counted, since shutdown typically races
// with in-flight application shutdown hooks.
func (o *Optimizer) Add(ctx context.Context, event types.Event) {
	if atomic.LoadInt32(&o.closed) != 0 {
		atomic.AddInt64(&o.droppedAfterClose, 1)
		return
	}

	o.mu.Lock()
	if o.depth > 0 {
		o.pending = append(o.pending, event)
		overflow := len(o.pending) >= o.threshold
		o.mu.Unlock()
		if overflow {
			o.Flush(ctx)
		}
		return
	}
	o.mu.Unlock()

	o.send(ctx, event)
}

// Flush merges and broadcasts all pending events. Safe to call at any
// time, including while a batch is still open.
func (o *Optimizer) Flush(ctx context.Context) {
	o.mu.Lock()
	if len(o.pending) == 0 {
		o.mu.Unlock()
		return
	}
	queued := o.pending
	o.pending = nil
	o.mu.Unlock()

	merged := merge(queued, o.logger)

	for _, event := range merged {
		o.send(ctx, event)
	}

	atomic.AddInt64(&o.flushes, 1)
	o.metrics.BatchFlushed(len(merged))
}

// merge coalesces queued events. Per entity class: any full-type entry
// collapses the whole class into a single bulk eviction; otherwise the
// per-id events pass through. Region events are deduplicated per region
// name. Events with neither class nor region are skipped.
func merge(queued []types.Event, logger evict.Logger) []types.Event {
	var out []types.Event

	fullClass := make(map[string]bool)
	for _, ev := range queued {
		if ev.Region == "" && ev.EntityClass != "" && ev.EntityID == "" {
			fullClass[ev.EntityClass] = true
		}
	}

	emittedClass := make(map[string]bool)
	emittedRegion := make(map[string]bool)

	for _, ev := range queued {
		switch {
		case ev.Region != "":
			if emittedRegion[ev.Region] {
				continue
			}
			emittedRegion[ev.Region] = true
			out = append(out, ev)

		case ev.EntityClass == "":
			logger.Warn("skipping batched event with no entity class", "event", ev.EventID)

		case fullClass[ev.EntityClass]:
			if emittedClass[ev.EntityClass] {
				continue
			}
			emittedClass[ev.EntityClass] = true
			out = append(out, types.NewEvent(ev.EntityClass, "", types.BulkUpdate))

		default:
			out = append(out, ev)
		}
	}

	return out
}

func (o *Optimizer) send(ctx context.Context, event types.Event) {
	if o.broadcaster == nil {
		return
	}
	if err := o.broadcaster.Broadcast(ctx, event); err != nil {
		o.metrics.BroadcastFailure()
		if o.onFailure != nil {
			o.onFailure(event, err)
		} else {
			o.logger.Warn("eviction broadcast failed",
				"class", event.EntityClass, "id", event.EntityID, "error", err)
		}
		return
	}
	o.metrics.EvictionBroadcast()
}

// Shutdown flushes any pending batch, stops the auto-flush timer and
// marks the optimizer closed. Idempotent.
func (o *Optimizer) Shutdown() {
	if !atomic.CompareAndSwapInt32(&o.closed, 0, 1) {
		return
	}

	close(o.done)
	if atomic.LoadInt32(&o.started) == 1 {
		o.wg.Wait()
	}

	o.Flush(context.Background())
}

// Stats returns a point-in-time snapshot.
func (o *Optimizer) Stats() Stats {
	o.mu.Lock()
	depth := o.depth
	pending := len(o.pending)
	o.mu.Unlock()

	return Stats{
		BatchMode:         depth > 0,
		Depth:             depth,
		Pending:           pending,
		Flushes:           atomic.LoadInt64(&o.flushes),
		DroppedAfterClose: atomic.LoadInt64(&o.droppedAfterClose),
	}
}

var _ evict.Batcher = (*Optimizer)(nil)
