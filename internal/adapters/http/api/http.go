// Package api exposes the operational HTTP surface: metrics, stats,
// leaderboard and rank queries, and the resync trigger.
package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/okian/potally/internal/domain/ranking"
)

// Dependencies required by HTTP handlers. Using an interface bundle keeps
// the handler layer loosely coupled to implementations in other packages.
type Dependencies interface {
	LeaderboardDependencies
	RankDependencies
	ResyncTrigger
	StatsProvider
}

// Server wires HTTP routes for the business API.
type Server struct {
	healthHandler      *HealthHandler
	statsHandler       *StatsHandler
	leaderboardHandler *LeaderboardHandler
	rankHandler        *RankHandler
	resyncHandler      *ResyncHandler
}

// Option configures the Server.
type Option func(*serverOptions)

type serverOptions struct {
	adminToken   string
	defaultLimit int
}

// WithAdminToken enables POST /resync for bearers of token.
func WithAdminToken(token string) Option {
	return func(o *serverOptions) { o.adminToken = token }
}

// WithDefaultLimit sets the leaderboard size used when none is requested.
func WithDefaultLimit(n int) Option {
	return func(o *serverOptions) {
		if n > 0 {
			o.defaultLimit = n
		}
	}
}

// NewServer creates a new API server with all handlers.
func NewServer(deps Dependencies, opts ...Option) *Server {
	o := serverOptions{defaultLimit: ranking.DefaultLimit}
	for _, opt := range opts {
		opt(&o)
	}
	return &Server{
		healthHandler:      NewHealthHandler(),
		statsHandler:       NewStatsHandler(deps),
		leaderboardHandler: NewLeaderboardHandler(deps, o.defaultLimit),
		rankHandler:        NewRankHandler(deps),
		resyncHandler:      NewResyncHandler(deps, o.adminToken),
	}
}

// Register attaches all HTTP routes to mux.
func (s *Server) Register(ctx context.Context, mux *http.ServeMux) {
	mux.HandleFunc("/healthz", MetricsMiddleware(s.healthHandler.HandleHealth, "healthz"))
	mux.HandleFunc("/stats", MetricsMiddleware(s.statsHandler.HandleStats, "stats"))
	mux.HandleFunc("/leaderboard", MetricsMiddleware(s.leaderboardHandler.HandleGetLeaderboard, "leaderboard"))
	mux.HandleFunc("/rank/", MetricsMiddleware(s.rankHandler.HandleGetRank, "rank"))
	mux.HandleFunc("/resync", MetricsMiddleware(s.resyncHandler.HandlePostResync, "resync"))
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code string, err error) {
	msg := http.StatusText(status)
	if err != nil {
		msg = err.Error()
	}
	writeJSON(w, status, errorResponse{Code: code, Message: msg})
}
