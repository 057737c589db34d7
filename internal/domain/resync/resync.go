package resync

import (
	"context"
	"fmt"

	"github.com/okian/potally/internal/domain/match"
	"github.com/okian/potally/internal/domain/model"
	"github.com/okian/potally/pkg/logger"
)

const defaultPageSize = 100

// HistoryProvider pages backward through a channel's history.
//
// Page returns up to limit messages older than the message with id before,
// newest first. An empty before starts at the newest message. An empty page
// marks the end of history.
type HistoryProvider interface {
	Page(ctx context.Context, before string, limit int) ([]model.Message, error)
}

// Result is a fully rebuilt tally.
type Result struct {
	// Counts holds one record per author with at least one match, in the
	// order authors were first seen while scanning.
	Counts []model.CounterRecord
	// Matched lists the ids of every message that was counted.
	Matched []string
	Scanned int
	Pages   int
}

// Total returns the sum of all counts.
func (r Result) Total() int64 {
	var n int64
	for _, rec := range r.Counts {
		n += rec.Count
	}
	return n
}

// Resynchronizer rebuilds counts from history using the live counting policy.
type Resynchronizer struct {
	policy   match.Policy
	pageSize int
	logger   logger.Logger
}

// New creates a Resynchronizer that evaluates history with policy.
func New(policy match.Policy, opts ...Option) *Resynchronizer {
	r := &Resynchronizer{
		policy:   policy,
		pageSize: defaultPageSize,
		logger:   logger.Get().Named("resync"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Rebuild scans the whole history and returns a fresh tally. On any error,
// including cancellation, no partial result is returned.
func (r *Resynchronizer) Rebuild(ctx context.Context, provider HistoryProvider) (Result, error) {
	var (
		res    Result
		index  = make(map[string]int)
		before string
	)

	for {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}

		page, err := provider.Page(ctx, before, r.pageSize)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return Result{}, ctxErr
			}
			return Result{}, fmt.Errorf("%w: page %d: %w", ErrHistory, res.Pages+1, err)
		}
		if len(page) == 0 {
			break
		}
		res.Pages++

		for i := range page {
			msg := page[i]
			res.Scanned++
			if r.policy.Evaluate(msg) != match.Counted {
				continue
			}
			pos, ok := index[msg.Author.ID]
			if !ok {
				pos = len(res.Counts)
				index[msg.Author.ID] = pos
				res.Counts = append(res.Counts, model.CounterRecord{UserID: msg.Author.ID})
			}
			res.Counts[pos].Count++
			res.Matched = append(res.Matched, msg.ID)
		}

		next := page[len(page)-1].ID
		if next == before {
			return Result{}, fmt.Errorf("%w: at %q", ErrStalledCursor, next)
		}
		before = next
	}

	r.logger.Debug(ctx, "history rebuilt",
		logger.Int("pages", res.Pages),
		logger.Int("scanned", res.Scanned),
		logger.Int("users", len(res.Counts)),
	)
	return res, nil
}
