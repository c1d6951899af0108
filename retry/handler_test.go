package retry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/evictbus/evictbus/evict"
	"github.com/evictbus/evictbus/types"
)

// flakyBroadcaster fails until told otherwise and counts attempts.
type flakyBroadcaster struct {
	mu       sync.Mutex
	attempts int
	fail     bool
}

func (f *flakyBroadcaster) Broadcast(ctx context.Context, event types.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attempts++
	if f.fail {
		return errors.New("transport down")
	}
	return nil
}

func (f *flakyBroadcaster) attemptCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.attempts
}

func newTestHandler(b evict.Broadcaster, opts Options) *Handler {
	opts.Source = func() evict.Broadcaster { return b }
	// The background loop is deliberately not started; tests drive
	// ProcessRetries directly.
	return NewHandler(opts)
}

func TestRetrySucceedsAndRemoves(t *testing.T) {
	b := &flakyBroadcaster{}
	h := newTestHandler(b, Options{})

	h.Schedule(types.NewEvent("User", "1", types.Update), errors.New("initial failure"))
	h.ProcessRetries(context.Background())

	stats := h.Stats()
	if stats.RetryQueueSize != 0 {
		t.Fatalf("successful retry must leave the queue empty, got %d", stats.RetryQueueSize)
	}
	if stats.Recovered != 1 {
		t.Fatalf("expected 1 recovered, got %d", stats.Recovered)
	}
	if b.attemptCount() != 1 {
		t.Fatalf("expected 1 attempt, got %d", b.attemptCount())
	}
}

func TestExhaustionProducesExactlyOneDeadLetter(t *testing.T) {
	b := &flakyBroadcaster{fail: true}
	h := newTestHandler(b, Options{MaxAttempts: 3})

	h.Schedule(types.NewEvent("User", "1", types.Update), errors.New("initial failure"))

	// Each pass re-attempts once; the pass after the budget is reached
	// dead-letters the event instead of attempting again.
	for i := 0; i < 6; i++ {
		h.ProcessRetries(context.Background())
	}

	stats := h.Stats()
	if stats.DeadLetterQueueSize != 1 {
		t.Fatalf("expected exactly one dead-letter entry, got %d", stats.DeadLetterQueueSize)
	}
	if stats.RetryQueueSize != 0 {
		t.Fatalf("exhausted event must leave the retry queue, got %d", stats.RetryQueueSize)
	}
	if b.attemptCount() != 3 {
		t.Fatalf("expected exactly maxAttempts=3 attempts, got %d", b.attemptCount())
	}

	// Further passes must not attempt the dead-lettered event again.
	h.ProcessRetries(context.Background())
	if b.attemptCount() != 3 {
		t.Fatalf("dead-lettered events must see zero further attempts, got %d", b.attemptCount())
	}
}

func TestRetryQueueNeverExceedsCapacity(t *testing.T) {
	b := &flakyBroadcaster{fail: true}
	h := newTestHandler(b, Options{MaxQueueSize: 10})

	for i := 0; i < 50; i++ {
		h.Schedule(types.NewEvent("User", fmt.Sprint(i), types.Update), errors.New("failure"))
	}

	stats := h.Stats()
	if stats.RetryQueueSize > 10 {
		t.Fatalf("retry queue exceeded its cap: %d", stats.RetryQueueSize)
	}
	if stats.Dropped != 40 {
		t.Fatalf("excess items must be counted as dropped, got %d", stats.Dropped)
	}
}

func TestDeadLetterQueueEvictsOldestWhenFull(t *testing.T) {
	b := &flakyBroadcaster{fail: true}
	h := newTestHandler(b, Options{MaxAttempts: 1, MaxDeadLetterSize: 5})

	for i := 0; i < 20; i++ {
		h.Schedule(types.NewEvent("User", fmt.Sprint(i), types.Update), errors.New("failure"))
	}
	// First pass consumes the budget, second dead-letters everything.
	h.ProcessRetries(context.Background())
	h.ProcessRetries(context.Background())

	stats := h.Stats()
	if stats.DeadLetterQueueSize > 5 {
		t.Fatalf("DLQ exceeded its cap: %d", stats.DeadLetterQueueSize)
	}

	// The survivors are the newest entries.
	letters := h.DeadLetters()
	if len(letters) != 5 {
		t.Fatalf("expected 5 dead letters, got %d", len(letters))
	}
	if letters[len(letters)-1].Event.EntityID != "19" {
		t.Fatalf("expected the newest entry to survive, got %s", letters[len(letters)-1].Event.EntityID)
	}
}

func TestReprocessDeadLettersResetsAttempts(t *testing.T) {
	b := &flakyBroadcaster{fail: true}
	h := newTestHandler(b, Options{MaxAttempts: 1})

	h.Schedule(types.NewEvent("User", "1", types.Update), errors.New("failure"))
	h.ProcessRetries(context.Background())
	h.ProcessRetries(context.Background())

	if h.Stats().DeadLetterQueueSize != 1 {
		t.Fatalf("expected a dead-lettered event, got %d", h.Stats().DeadLetterQueueSize)
	}

	requeued := h.ReprocessDeadLetters()
	if requeued != 1 {
		t.Fatalf("expected 1 requeued, got %d", requeued)
	}
	if h.Stats().DeadLetterQueueSize != 0 {
		t.Fatal("reprocessing must drain the DLQ")
	}

	// The backend recovers; the reprocessed event now goes through.
	b.mu.Lock()
	b.fail = false
	b.mu.Unlock()

	h.ProcessRetries(context.Background())
	if h.Stats().Recovered != 1 {
		t.Fatalf("reprocessed event should broadcast after reset, got %+v", h.Stats())
	}
}

func TestMaxAttemptsHardCap(t *testing.T) {
	h := NewHandler(Options{MaxAttempts: 10000})
	if h.Stats().MaxAttempts != HardMaxAttempts {
		t.Fatalf("configured budget must be clamped to %d, got %d", HardMaxAttempts, h.Stats().MaxAttempts)
	}
}

func TestScheduleAfterShutdownCountsDrop(t *testing.T) {
	b := &flakyBroadcaster{}
	h := newTestHandler(b, Options{})

	h.Shutdown()
	h.Shutdown() // idempotent

	h.Schedule(types.NewEvent("User", "1", types.Update), errors.New("failure"))
	if h.Stats().Dropped != 1 {
		t.Fatalf("post-shutdown schedules must be counted as dropped, got %d", h.Stats().Dropped)
	}
}

func TestNilBroadcasterKeepsEventQueued(t *testing.T) {
	h := NewHandler(Options{Source: func() evict.Broadcaster { return nil }})

	h.Schedule(types.NewEvent("User", "1", types.Update), errors.New("failure"))
	h.ProcessRetries(context.Background())

	if h.Stats().RetryQueueSize != 1 {
		t.Fatalf("with no transport the event stays queued, got %d", h.Stats().RetryQueueSize)
	}
}

// countingMetrics records the retry-scheduled callback count.
type countingMetrics struct {
	evict.NoopMetrics
	mu        sync.Mutex
	scheduled int
}

func (c *countingMetrics) RetryScheduled() {
	c.mu.Lock()
	c.scheduled++
	c.mu.Unlock()
}

func TestDroppedEventsNotCountedAsScheduled(t *testing.T) {
	b := &flakyBroadcaster{fail: true}
	m := &countingMetrics{}
	h := newTestHandler(b, Options{MaxQueueSize: 2, Metrics: m})

	for i := 0; i < 5; i++ {
		h.Schedule(types.NewEvent("User", fmt.Sprintf("%d", i), types.Update), errors.New("transport down"))
	}

	stats := h.Stats()
	if stats.RetryQueueSize != 2 {
		t.Fatalf("expected the queue capped at 2, got %d", stats.RetryQueueSize)
	}
	if stats.Dropped != 3 {
		t.Fatalf("expected 3 dropped, got %d", stats.Dropped)
	}

	m.mu.Lock()
	scheduled := m.scheduled
	m.mu.Unlock()
	if scheduled != 2 {
		t.Fatalf("only enqueued events count as scheduled, got %d", scheduled)
	}
}
