package resync

import (
	"context"

	"github.com/okian/potally/internal/domain/model"
)

// SliceHistory serves an in-memory history, newest message first.
type SliceHistory []model.Message

// Page implements HistoryProvider.
func (h SliceHistory) Page(ctx context.Context, before string, limit int) ([]model.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	start := 0
	if before != "" {
		start = len(h)
		for i := range h {
			if h[i].ID == before {
				start = i + 1
				break
			}
		}
	}
	if start >= len(h) {
		return nil, nil
	}
	end := start + limit
	if limit <= 0 || end > len(h) {
		end = len(h)
	}
	out := make([]model.Message, end-start)
	copy(out, h[start:end])
	return out, nil
}
