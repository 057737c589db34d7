// Package worker drains the ingestion queue and applies counting to each message.
package worker

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/okian/potally/internal/adapters/mq/queue"
	"github.com/okian/potally/internal/domain/match"
	"github.com/okian/potally/pkg/logger"
	"github.com/okian/potally/pkg/metrics"
)

// Event abstracts what workers read off the queue.
type Event = queue.Event

// Counter is the store side of ingestion.
type Counter interface {
	Increment(ctx context.Context, userID string) (int64, error)
	Flush(ctx context.Context) error
}

// Deduper remembers message ids that were already counted.
type Deduper interface {
	SeenAndRecord(ctx context.Context, id string) bool
	Unrecord(ctx context.Context, id string)
}

// Queue defines how workers receive events.
type Queue interface {
	Dequeue(ctx context.Context) <-chan Event
}

// Worker processes events one at a time.
type Worker interface {
	// Run starts the worker loop until ctx is canceled or the queue closes.
	Run(ctx context.Context)
	// Shutdown stops the loop and waits for the current event to finish.
	Shutdown(ctx context.Context) error
}

// Stats is a point-in-time view of worker activity.
type Stats struct {
	Processed      int64 // events fully handled, including skipped ones
	Counted        int64
	Errors         int64
	DiscardThrough uint64
}

// InMemoryWorker is the single serial consumer of the ingestion queue.
//
// Hold parks the worker between events; DiscardThrough drops every event
// whose sequence number is at or below a threshold.
type InMemoryWorker struct {
	queue   Queue
	counter Counter
	deduper Deduper
	policy  atomic.Pointer[match.Policy]
	name    string

	gate           sync.Mutex
	discardThrough atomic.Uint64

	processed atomic.Int64
	counted   atomic.Int64
	errors    atomic.Int64

	shutdown     chan struct{}
	shutdownOnce sync.Once
	done         chan struct{}

	logger logger.Logger
}

// NewInMemoryWorker creates a new worker with configuration options.
func NewInMemoryWorker(q Queue, counter Counter, deduper Deduper, opts ...Option) *InMemoryWorker {
	w := &InMemoryWorker{
		queue:    q,
		counter:  counter,
		deduper:  deduper,
		name:     "worker",
		shutdown: make(chan struct{}),
		done:     make(chan struct{}),
		logger:   logger.Get().Named("worker"),
	}
	w.policy.Store(&match.Policy{Matcher: match.MustNew(match.DefaultToken), CommandPrefix: "!"})

	for _, opt := range opts {
		opt(w)
	}
	if w.name != "worker" {
		w.logger = w.logger.Named(w.name)
	}
	return w
}

// SetPolicy swaps the counting policy, e.g. once the bot's own id is known.
func (w *InMemoryWorker) SetPolicy(p match.Policy) {
	w.policy.Store(&p)
}

// Policy returns the current counting policy.
func (w *InMemoryWorker) Policy() match.Policy {
	return *w.policy.Load()
}

// Hold waits for the current event to finish and keeps the worker parked
// until the returned release func is called. Release is idempotent.
func (w *InMemoryWorker) Hold() (release func()) {
	w.gate.Lock()
	return sync.OnceFunc(w.gate.Unlock)
}

// DiscardThrough drops every later-dequeued event with Seq <= seq.
// The threshold only moves forward.
func (w *InMemoryWorker) DiscardThrough(seq uint64) {
	for {
		cur := w.discardThrough.Load()
		if seq <= cur || w.discardThrough.CompareAndSwap(cur, seq) {
			return
		}
	}
}

// Stats returns worker counters.
func (w *InMemoryWorker) Stats() Stats {
	return Stats{
		Processed:      w.processed.Load(),
		Counted:        w.counted.Load(),
		Errors:         w.errors.Load(),
		DiscardThrough: w.discardThrough.Load(),
	}
}

// Run starts the worker loop.
func (w *InMemoryWorker) Run(ctx context.Context) {
	defer close(w.done)

	events := w.queue.Dequeue(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.shutdown:
			return
		case event, ok := <-events:
			if !ok {
				return
			}
			w.gate.Lock()
			if err := w.processEvent(ctx, event); err != nil {
				w.logger.Error(ctx, "error processing message", logger.Error(err))
			}
			w.gate.Unlock()
		}
	}
}

// Done is closed when Run returns.
func (w *InMemoryWorker) Done() <-chan struct{} { return w.done }

// Shutdown gracefully stops the worker.
func (w *InMemoryWorker) Shutdown(ctx context.Context) error {
	w.shutdownOnce.Do(func() { close(w.shutdown) })

	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
		w.logger.Warn(ctx, "shutdown timed out")
		return fmt.Errorf("shutdown timed out: %w", ctx.Err())
	}
}

// processEvent applies the counting policy to one message.
func (w *InMemoryWorker) processEvent(ctx context.Context, event Event) error { //nolint:gocritic // hugeParam: Event is passed by value over the channel
	start := time.Now()
	defer func() {
		w.processed.Add(1)
		metrics.RecordWorkerLatency(float64(time.Since(start).Microseconds()) / 1000)
	}()

	if event.Seq != 0 && event.Seq <= w.discardThrough.Load() {
		metrics.RecordMessageDiscarded()
		return nil
	}

	if verdict := w.Policy().Evaluate(event); verdict != match.Counted {
		metrics.RecordMessageIgnored(verdict.String())
		return nil
	}

	if event.ID != "" && w.deduper.SeenAndRecord(ctx, event.ID) {
		metrics.RecordMessageDuplicate()
		return nil
	}
	metrics.RecordMessageMatched()

	n, err := w.counter.Increment(ctx, event.Author.ID)
	if err == nil {
		w.counted.Add(1)
		metrics.RecordIncrement()
		return nil
	}

	w.errors.Add(1)
	metrics.RecordWorkerError()
	if n == 0 {
		// Nothing was counted, so a redelivery may try again.
		w.deduper.Unrecord(ctx, event.ID)
		return fmt.Errorf("count message %s: %w", event.ID, err)
	}

	// Counted in memory but not durable: retry the write, never the increment.
	w.counted.Add(1)
	metrics.RecordIncrement()
	w.logger.Warn(ctx, "count not persisted, retrying write",
		logger.String("message_id", event.ID),
		logger.String("user_id", event.Author.ID),
		logger.Error(err),
	)
	if ferr := w.counter.Flush(ctx); ferr != nil {
		return fmt.Errorf("persist count for message %s: %w", event.ID, ferr)
	}
	return nil
}
