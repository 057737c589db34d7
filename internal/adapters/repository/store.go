package repository

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/okian/potally/internal/domain/model"
	"github.com/okian/potally/pkg/logger"
	"github.com/okian/potally/pkg/metrics"
)

const defaultMetricsUpdateInterval = 10 * time.Second

// Backend is the durable side of a CounterStore.
type Backend interface {
	// Load returns the stored records in first-insertion order.
	// Missing state is not an error and yields no records.
	Load(ctx context.Context) ([]model.CounterRecord, error)
	// Save replaces the stored state with records atomically.
	Save(ctx context.Context, records []model.CounterRecord) error
	Close() error
}

// recordWriter is implemented by backends that can upsert a single record
// without rewriting the whole state.
type recordWriter interface {
	Put(ctx context.Context, rec model.CounterRecord) error
}

// CounterStore is the in-memory user id -> count mapping mirrored to a Backend.
//
// Mutations are serialized and hold writeMu across the durable write. Reads
// take mu only and never wait on I/O.
type CounterStore struct {
	backend               Backend
	logger                logger.Logger
	metricsUpdateInterval time.Duration

	writeMu sync.Mutex
	dirty   map[string]struct{}
	closed  bool
	// fullSave forces the next write to replace the durable state, set when
	// Load fell back to empty over state that could not be read.
	fullSave bool

	mu     sync.RWMutex
	counts map[string]int64
	order  []string

	stop     chan struct{}
	stopOnce sync.Once
}

// NewCounterStore creates a store over backend and loads its durable state.
func NewCounterStore(ctx context.Context, backend Backend, opts ...Option) *CounterStore {
	s := &CounterStore{
		backend:               backend,
		logger:                logger.Get().Named("store"),
		metricsUpdateInterval: defaultMetricsUpdateInterval,
		dirty:                 make(map[string]struct{}),
		counts:                make(map[string]int64),
		stop:                  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.Load(ctx)
	go s.startMetricsUpdater(ctx)
	return s
}

// Load reads the durable state into memory and returns it. Unreadable or
// malformed state is logged and yields an empty store.
func (s *CounterStore) Load(ctx context.Context) []model.CounterRecord {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.fullSave = false
	records, err := s.backend.Load(ctx)
	if err != nil {
		s.logger.Warn(ctx, "counter state unreadable, starting empty", logger.Error(err))
		metrics.RecordStoreLoadFailure()
		records = nil
		s.fullSave = true
	}
	counts, order, err := normalize(records)
	if err != nil {
		s.logger.Warn(ctx, "counter state malformed, starting empty", logger.Error(err))
		metrics.RecordStoreLoadFailure()
		counts, order = make(map[string]int64), nil
		s.fullSave = true
	}

	s.mu.Lock()
	s.counts, s.order = counts, order
	out := s.snapshotLocked()
	s.mu.Unlock()

	clear(s.dirty)
	metrics.UpdateTrackedUsers(len(order))
	return out
}

// Increment adds one to userID's count and writes it back durably.
// The new count is returned even when the write fails; in that case the
// error wraps ErrPersist and the record stays pending until Flush succeeds.
func (s *CounterStore) Increment(ctx context.Context, userID string) (int64, error) {
	if userID == "" {
		return 0, fmt.Errorf("%w: empty user id", ErrInvalidRecord)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if s.closed {
		return 0, ErrClosed
	}

	s.mu.Lock()
	n, ok := s.counts[userID]
	if !ok {
		s.order = append(s.order, userID)
	}
	n++
	s.counts[userID] = n
	tracked := len(s.order)
	s.mu.Unlock()
	metrics.UpdateTrackedUsers(tracked)

	s.dirty[userID] = struct{}{}
	if err := s.persistLocked(ctx); err != nil {
		metrics.RecordStoreWriteError("increment")
		s.logger.Warn(ctx, "increment not persisted",
			logger.String("user_id", userID),
			logger.Int("pending", len(s.dirty)),
			logger.Error(err),
		)
		return n, fmt.Errorf("%w: increment %s: %w", ErrPersist, userID, err)
	}
	return n, nil
}

// Flush writes every pending record. It is a no-op when nothing is pending.
func (s *CounterStore) Flush(ctx context.Context) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if err := s.persistLocked(ctx); err != nil {
		metrics.RecordStoreWriteError("flush")
		return fmt.Errorf("%w: flush: %w", ErrPersist, err)
	}
	return nil
}

// Pending returns how many records are not yet durable.
func (s *CounterStore) Pending() int {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return len(s.dirty)
}

// Replace swaps the whole mapping. The backend commits first; memory is
// swapped only after that, so a failed Replace leaves the previous content.
func (s *CounterStore) Replace(ctx context.Context, records []model.CounterRecord) error {
	counts, order, err := normalize(records)
	if err != nil {
		return err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if s.closed {
		return ErrClosed
	}

	start := time.Now()
	err = s.backend.Save(ctx, toRecords(order, counts))
	metrics.RecordStoreWriteLatency(sinceMs(start))
	if err != nil {
		metrics.RecordStoreWriteError("replace")
		return fmt.Errorf("%w: replace: %w", ErrPersist, err)
	}

	s.mu.Lock()
	s.counts, s.order = counts, order
	s.mu.Unlock()

	clear(s.dirty)
	s.fullSave = false
	metrics.UpdateTrackedUsers(len(order))
	return nil
}

// Get returns userID's count, 0 when absent.
func (s *CounterStore) Get(ctx context.Context, userID string) int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.counts[userID]
}

// Snapshot returns a copy of all records in first-insertion order.
func (s *CounterStore) Snapshot(ctx context.Context) []model.CounterRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked()
}

// Count returns the number of tracked users.
func (s *CounterStore) Count(ctx context.Context) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.order)
}

// Close flushes pending records and closes the backend.
func (s *CounterStore) Close() error {
	s.stopOnce.Do(func() { close(s.stop) })

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true

	var flushErr error
	if err := s.persistLocked(context.Background()); err != nil {
		metrics.RecordStoreWriteError("close")
		flushErr = fmt.Errorf("%w: close: %w", ErrPersist, err)
	}
	return errors.Join(flushErr, s.backend.Close())
}

// persistLocked writes pending records. Callers hold writeMu, which is the
// only lock under which counts and order change, so they are read without mu.
// After a failed Load the first write replaces the whole durable state so
// row-level backends drop the rows memory no longer has.
func (s *CounterStore) persistLocked(ctx context.Context) error {
	if len(s.dirty) == 0 {
		return nil
	}
	start := time.Now()
	defer func() { metrics.RecordStoreWriteLatency(sinceMs(start)) }()

	w, ok := s.backend.(recordWriter)
	if !ok || s.fullSave {
		if err := s.backend.Save(ctx, toRecords(s.order, s.counts)); err != nil {
			return err
		}
		clear(s.dirty)
		s.fullSave = false
		return nil
	}

	if len(s.dirty) == 1 {
		for id := range s.dirty {
			if err := w.Put(ctx, model.CounterRecord{UserID: id, Count: s.counts[id]}); err != nil {
				return err
			}
			delete(s.dirty, id)
		}
		return nil
	}
	// Several pending records: write them in insertion order so row-level
	// backends append new users in the same order as memory.
	for _, id := range s.order {
		if _, pending := s.dirty[id]; !pending {
			continue
		}
		if err := w.Put(ctx, model.CounterRecord{UserID: id, Count: s.counts[id]}); err != nil {
			return err
		}
		delete(s.dirty, id)
	}
	return nil
}

func (s *CounterStore) snapshotLocked() []model.CounterRecord {
	return toRecords(s.order, s.counts)
}

// startMetricsUpdater refreshes store gauges until ctx ends or the store closes.
func (s *CounterStore) startMetricsUpdater(ctx context.Context) {
	ticker := time.NewTicker(s.metricsUpdateInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stop:
			return
		case <-ticker.C:
			metrics.UpdateTrackedUsers(s.Count(ctx))
		}
	}
}

// normalize validates records and merges duplicate ids by summing, keeping
// the first position.
func normalize(records []model.CounterRecord) (map[string]int64, []string, error) {
	counts := make(map[string]int64, len(records))
	order := make([]string, 0, len(records))
	for _, r := range records {
		if r.UserID == "" {
			return nil, nil, fmt.Errorf("%w: empty user id", ErrInvalidRecord)
		}
		if r.Count < 0 {
			return nil, nil, fmt.Errorf("%w: negative count %d for %s", ErrInvalidRecord, r.Count, r.UserID)
		}
		if _, ok := counts[r.UserID]; !ok {
			order = append(order, r.UserID)
		}
		counts[r.UserID] += r.Count
	}
	return counts, order, nil
}

func toRecords(order []string, counts map[string]int64) []model.CounterRecord {
	out := make([]model.CounterRecord, len(order))
	for i, id := range order {
		out[i] = model.CounterRecord{UserID: id, Count: counts[id]}
	}
	return out
}

func sinceMs(start time.Time) float64 {
	return float64(time.Since(start).Microseconds()) / 1000
}
