// Package service owns the counting pipeline: store, ingestion queue, worker
// and the resync protocol. Platform adapters and the HTTP API depend on it.
package service

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	eventqueue "github.com/okian/potally/internal/adapters/mq/queue"
	"github.com/okian/potally/internal/adapters/mq/worker"
	"github.com/okian/potally/internal/adapters/repository"
	"github.com/okian/potally/internal/domain/dedupe"
	"github.com/okian/potally/internal/domain/match"
	"github.com/okian/potally/internal/domain/model"
	"github.com/okian/potally/internal/domain/ranking"
	"github.com/okian/potally/internal/domain/resync"
	"github.com/okian/potally/pkg/logger"
	"github.com/okian/potally/pkg/metrics"
)

const drainTimeout = 5 * time.Second

// RunResult describes one resync run.
type RunResult struct {
	ID        string        `json:"id"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
	Users     int           `json:"users"`
	Total     int64         `json:"total"`
	Scanned   int           `json:"scanned"`
	Pages     int           `json:"pages"`
	Policy    BufferPolicy  `json:"policy"`
	// DiscardedThrough is the last queue sequence dropped by the commit.
	DiscardedThrough uint64 `json:"discarded_through,omitempty"`
	Error            string `json:"error,omitempty"`
}

// Service implements the counting engine behind every adapter.
type Service struct {
	mu sync.RWMutex

	// Core components
	backend repository.Backend
	store   *repository.CounterStore
	deduper dedupe.Deduper
	queue   *eventqueue.InMemoryQueue
	worker  *worker.InMemoryWorker
	matcher *match.Matcher

	// Configuration
	token         string
	commandPrefix string
	selfID        string
	queueSize     int
	dedupeSize    int
	pageSize      int
	bufferPolicy  BufferPolicy

	// Resync
	resyncMu   sync.Mutex
	resyncing  atomic.Bool
	lastResync *RunResult

	// State
	started bool
	runCtx  context.Context
	cancel  context.CancelFunc

	logger logger.Logger
}

// New constructs a new Service with default configuration.
func New(opts ...Option) *Service {
	s := &Service{
		token:         match.DefaultToken,
		commandPrefix: "!",
		queueSize:     4096,
		dedupeSize:    50_000,
		pageSize:      100,
		bufferPolicy:  BufferDiscard,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start builds the components and starts the worker.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}
	if s.logger == nil {
		s.logger = logger.Get().Named("service")
	}

	matcher, err := match.New(s.token)
	if err != nil {
		return fmt.Errorf("token %q: %w", s.token, err)
	}
	if _, err := ParseBufferPolicy(string(s.bufferPolicy)); err != nil {
		return err
	}
	if s.backend == nil {
		s.backend = repository.NewFileBackend(repository.DefaultFilePath)
	}

	s.logger.Info(ctx, "starting counter service...")

	s.runCtx, s.cancel = context.WithCancel(ctx)
	s.matcher = matcher
	s.store = repository.NewCounterStore(s.runCtx, s.backend)
	s.deduper = dedupe.NewInMemoryDeduper(dedupe.WithMaxSize(s.dedupeSize))
	s.queue = eventqueue.NewInMemoryQueue(eventqueue.WithCapacity(s.queueSize))
	s.worker = worker.NewInMemoryWorker(s.queue, s.store, s.deduper,
		worker.WithName("ingest"),
		worker.WithPolicy(s.policyLocked()),
	)
	go s.worker.Run(s.runCtx)

	s.started = true
	s.logger.Info(ctx, "counter service started",
		logger.String("token", s.token),
		logger.Int("trackedUsers", s.store.Count(ctx)),
		logger.Int("queueSize", s.queueSize),
		logger.Int("dedupeSize", s.dedupeSize),
		logger.String("bufferPolicy", string(s.bufferPolicy)),
	)
	return nil
}

// Stop drains the queue, flushes the store and releases the backend.
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return
	}
	ctx := context.Background()
	s.logger.Info(ctx, "stopping counter service...")

	_ = s.queue.Close()
	select {
	case <-s.worker.Done():
	case <-time.After(drainTimeout):
		sctx, cancel := context.WithTimeout(ctx, time.Second)
		if err := s.worker.Shutdown(sctx); err != nil {
			s.logger.Warn(ctx, "worker did not stop", logger.Error(err))
		}
		cancel()
	}
	s.cancel()

	if err := s.store.Close(); err != nil {
		s.logger.Error(ctx, "closing counter store", logger.Error(err))
	}

	s.started = false
	s.logger.Info(ctx, "counter service stopped")
}

// SetSelfID tells the service the bot's own user id so its messages never count.
func (s *Service) SetSelfID(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.selfID = id
	if s.started {
		s.worker.SetPolicy(s.policyLocked())
	}
}

func (s *Service) policyLocked() match.Policy {
	return match.Policy{Matcher: s.matcher, CommandPrefix: s.commandPrefix, SelfID: s.selfID}
}

// Token returns the tracked token.
func (s *Service) Token() string { return s.token }

// CommandPrefix returns the command prefix.
func (s *Service) CommandPrefix() string { return s.commandPrefix }

// Observe submits a new channel message for counting. It never blocks; it
// returns false when the message was not accepted.
func (s *Service) Observe(ctx context.Context, msg model.Message) bool { //nolint:gocritic // hugeParam: queued by value
	s.mu.RLock()
	defer s.mu.RUnlock()

	metrics.RecordMessageObserved()
	if !s.started {
		return false
	}
	if !s.queue.Enqueue(ctx, msg) {
		s.logger.Warn(ctx, "ingestion queue refused message",
			logger.String("message_id", msg.ID),
			logger.Int("queued", s.queue.Len(ctx)),
		)
		return false
	}
	return true
}

// Count returns userID's current count.
func (s *Service) Count(ctx context.Context, userID string) int64 {
	store := s.currentStore()
	if store == nil {
		return 0
	}
	return store.Get(ctx, userID)
}

// Leaderboard ranks the current snapshot. Names are left for the caller to resolve.
func (s *Service) Leaderboard(ctx context.Context, limit int, requester string) (ranking.Result, error) {
	store := s.currentStore()
	if store == nil {
		return ranking.Result{}, ErrNotStarted
	}
	return ranking.Rank(store.Snapshot(ctx), limit, requester), nil
}

// Rank returns userID's 1-based rank, 0 when the user has no record.
func (s *Service) Rank(ctx context.Context, userID string) (int, int64, error) {
	store := s.currentStore()
	if store == nil {
		return 0, 0, ErrNotStarted
	}
	res := ranking.Rank(store.Snapshot(ctx), ranking.MinLimit, userID)
	return res.RequesterRank, res.RequesterCount, nil
}

// Snapshot returns every record in first-insertion order.
func (s *Service) Snapshot(ctx context.Context) []model.CounterRecord {
	store := s.currentStore()
	if store == nil {
		return nil
	}
	return store.Snapshot(ctx)
}

func (s *Service) currentStore() *repository.CounterStore {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.started {
		return nil
	}
	return s.store
}

// Resync rebuilds all counts from history and waits for the result.
func (s *Service) Resync(ctx context.Context, provider resync.HistoryProvider) (RunResult, error) {
	if !s.resyncMu.TryLock() {
		return RunResult{}, ErrResyncInProgress
	}
	defer s.resyncMu.Unlock()
	return s.runResync(ctx, uuid.NewString(), provider)
}

// ResyncAsync starts a resync in the background bound to the service
// lifetime and returns its run id.
func (s *Service) ResyncAsync(provider resync.HistoryProvider) (string, error) {
	s.mu.RLock()
	started, ctx := s.started, s.runCtx
	s.mu.RUnlock()
	if !started {
		return "", ErrNotStarted
	}
	if !s.resyncMu.TryLock() {
		return "", ErrResyncInProgress
	}
	id := uuid.NewString()
	go func() {
		defer s.resyncMu.Unlock()
		_, _ = s.runResync(ctx, id, provider)
	}()
	return id, nil
}

// LastResync returns the most recent finished run, if any.
func (s *Service) LastResync() (RunResult, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.lastResync == nil {
		return RunResult{}, false
	}
	return *s.lastResync, true
}

// runResync holds the worker, rebuilds, commits and releases. Callers hold resyncMu.
func (s *Service) runResync(ctx context.Context, id string, provider resync.HistoryProvider) (RunResult, error) {
	s.mu.RLock()
	started := s.started
	store, q, w, dd, policy := s.store, s.queue, s.worker, s.deduper, s.bufferPolicy
	s.mu.RUnlock()
	if !started {
		return RunResult{}, ErrNotStarted
	}

	s.resyncing.Store(true)
	defer s.resyncing.Store(false)

	run := RunResult{ID: id, StartedAt: time.Now(), Policy: policy}
	log := s.logger.Named("resync")
	log.Info(ctx, "resync started", logger.String("run_id", id))

	result := "failed"
	defer func() {
		run.Duration = time.Since(run.StartedAt)
		metrics.RecordResync(result)
		metrics.RecordResyncDuration(float64(run.Duration.Milliseconds()))
		s.mu.Lock()
		last := run
		s.lastResync = &last
		s.mu.Unlock()
	}()

	release := w.Hold()
	defer release()

	rebuilt, err := resync.New(w.Policy(),
		resync.WithPageSize(s.pageSize),
		resync.WithLogger(log),
	).Rebuild(ctx, provider)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			result = "cancelled"
		}
		run.Error = err.Error()
		log.Warn(ctx, "resync aborted, counts unchanged", logger.String("run_id", id), logger.Error(err))
		return run, fmt.Errorf("resync %s: %w", id, err)
	}
	metrics.RecordResyncScanned(rebuilt.Scanned)
	run.Scanned, run.Pages = rebuilt.Scanned, rebuilt.Pages

	if err := store.Replace(ctx, rebuilt.Counts); err != nil {
		run.Error = err.Error()
		log.Error(ctx, "resync commit failed, counts unchanged", logger.String("run_id", id), logger.Error(err))
		return run, fmt.Errorf("resync %s: %w", id, err)
	}
	dd.Record(ctx, rebuilt.Matched...)
	if policy == BufferDiscard {
		run.DiscardedThrough = q.LastSeq()
		w.DiscardThrough(run.DiscardedThrough)
	}

	result = "success"
	run.Users, run.Total = len(rebuilt.Counts), rebuilt.Total()
	log.Info(ctx, "resync committed",
		logger.String("run_id", id),
		logger.Int("users", run.Users),
		logger.Int64("total", run.Total),
		logger.Int("scanned", run.Scanned),
		logger.Int("pages", run.Pages),
	)
	return run, nil
}

// GetStats returns service statistics for monitoring.
func (s *Service) GetStats() map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ctx := context.Background()
	stats := map[string]interface{}{
		"started":      s.started,
		"token":        s.token,
		"queueSize":    s.queueSize,
		"dedupeSize":   s.dedupeSize,
		"bufferPolicy": string(s.bufferPolicy),
		"resyncing":    s.resyncing.Load(),
	}

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	metrics.UpdateSystemMemoryUsage(mem.Alloc)
	metrics.UpdateSystemGoroutineCount(runtime.NumGoroutine())

	if s.started {
		ws := s.worker.Stats()
		stats["queueLength"] = s.queue.Len(ctx)
		stats["trackedUsers"] = s.store.Count(ctx)
		stats["pendingWrites"] = s.store.Pending()
		stats["dedupeEntries"] = s.deduper.Size()
		stats["processed"] = ws.Processed
		stats["counted"] = ws.Counted
		stats["workerErrors"] = ws.Errors
	}
	if s.lastResync != nil {
		stats["lastResync"] = *s.lastResync
	}
	return stats
}
