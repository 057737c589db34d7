package api

import (
	"context"
	"net/http"
	"strconv"

	"github.com/okian/potally/internal/domain/ranking"
)

// LeaderboardDependencies defines the interface for leaderboard operations.
type LeaderboardDependencies interface {
	Leaderboard(ctx context.Context, limit int, requester string) (ranking.Result, error)
}

// LeaderboardHandler handles leaderboard requests.
type LeaderboardHandler struct {
	deps         LeaderboardDependencies
	defaultLimit int
}

// NewLeaderboardHandler creates a new leaderboard handler.
func NewLeaderboardHandler(deps LeaderboardDependencies, defaultLimit int) *LeaderboardHandler {
	return &LeaderboardHandler{
		deps:         deps,
		defaultLimit: ranking.ClampLimit(defaultLimit),
	}
}

// HandleGetLeaderboard handles GET /leaderboard?limit=N[&requester=id].
// A missing or unparsable limit falls back to the default; others are clamped.
func (h *LeaderboardHandler) HandleGetLeaderboard(w http.ResponseWriter, r *http.Request) {
	const op = "api.get_leaderboard"
	if r.Method != http.MethodGet {
		http.NotFound(w, r)
		return
	}
	q := r.URL.Query()
	limit, err := strconv.Atoi(q.Get("limit"))
	if err != nil {
		limit = h.defaultLimit
	}
	res, err := h.deps.Leaderboard(r.Context(), limit, q.Get("requester"))
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "unavailable", WrapKind(op, ErrUnavailable, err))
		return
	}
	if res.Entries == nil {
		res.Entries = []ranking.Entry{}
	}
	writeJSON(w, http.StatusOK, res)
}
