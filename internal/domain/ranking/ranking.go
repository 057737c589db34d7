// Package ranking derives the leaderboard view from a counter snapshot.
package ranking

import (
	"context"
	"fmt"
	"sort"

	"github.com/okian/potally/internal/domain/model"
	"github.com/okian/potally/pkg/metrics"
)

// Leaderboard size bounds.
const (
	DefaultLimit = 3
	MinLimit     = 1
	MaxLimit     = 25
)

// Entry is one ranked leaderboard row.
type Entry struct {
	Rank        int    `json:"rank"`
	UserID      string `json:"user_id"`
	Count       int64  `json:"count"`
	DisplayName string `json:"display_name,omitempty"`
}

// Result is the ranked top slice plus the requester's own standing.
type Result struct {
	Limit     int     `json:"limit"`
	Entries   []Entry `json:"entries"`
	Requester string  `json:"requester,omitempty"`
	// RequesterRank is the 1-based position in the full ordering, 0 when unranked.
	RequesterRank  int   `json:"requester_rank"`
	RequesterCount int64 `json:"requester_count"`
}

// Ranked reports whether the requester has a record.
func (r Result) Ranked() bool { return r.RequesterRank > 0 }

// Directory resolves user ids to display names.
type Directory interface {
	DisplayName(ctx context.Context, userID string) (string, error)
}

// ClampLimit bounds a requested leaderboard size to [MinLimit, MaxLimit].
func ClampLimit(limit int) int {
	switch {
	case limit < MinLimit:
		return MinLimit
	case limit > MaxLimit:
		return MaxLimit
	default:
		return limit
	}
}

// Rank orders snapshot by count descending, keeping snapshot order between
// equal counts, and returns the first limit rows together with the
// requester's position in the complete ordering.
func Rank(snapshot []model.CounterRecord, limit int, requester string) Result {
	limit = ClampLimit(limit)

	sorted := make([]model.CounterRecord, len(snapshot))
	copy(sorted, snapshot)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Count > sorted[j].Count
	})

	top := limit
	if top > len(sorted) {
		top = len(sorted)
	}
	res := Result{
		Limit:     limit,
		Entries:   make([]Entry, 0, top),
		Requester: requester,
	}
	for i := 0; i < top; i++ {
		res.Entries = append(res.Entries, Entry{Rank: i + 1, UserID: sorted[i].UserID, Count: sorted[i].Count})
	}

	if requester != "" {
		for i, rec := range sorted {
			if rec.UserID == requester {
				res.RequesterRank = i + 1
				res.RequesterCount = rec.Count
				break
			}
		}
	}
	return res
}

// UnknownName is the label used when a user can no longer be resolved.
func UnknownName(userID string) string {
	return fmt.Sprintf("Unknown User (%s)", userID)
}

// Resolve fills DisplayName for every entry. Entries whose lookup fails stay
// in place under the UnknownName label.
func Resolve(ctx context.Context, res Result, dir Directory) Result {
	out := res
	out.Entries = make([]Entry, len(res.Entries))
	copy(out.Entries, res.Entries)

	for i := range out.Entries {
		e := &out.Entries[i]
		if dir == nil {
			e.DisplayName = UnknownName(e.UserID)
			continue
		}
		name, err := dir.DisplayName(ctx, e.UserID)
		if err != nil || name == "" {
			metrics.RecordIdentityLookupFailure()
			e.DisplayName = UnknownName(e.UserID)
			continue
		}
		e.DisplayName = name
	}
	return out
}
