package api

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"
)

// ErrResyncBusy is returned by a ResyncTrigger while a run is in progress.
var ErrResyncBusy = errors.New("resync already in progress")

// ResyncTrigger starts a background resync and returns its run id.
// Implementations return an error matching ErrResyncBusy while one runs.
type ResyncTrigger interface {
	TriggerResync() (string, error)
}

type resyncResponse struct {
	Status string `json:"status"`
	RunID  string `json:"run_id"`
}

// ResyncHandler handles resync requests.
type ResyncHandler struct {
	deps  ResyncTrigger
	token string
}

// NewResyncHandler creates a resync handler. An empty token disables it.
func NewResyncHandler(deps ResyncTrigger, token string) *ResyncHandler {
	return &ResyncHandler{deps: deps, token: token}
}

// HandlePostResync handles POST /resync with a bearer token.
func (h *ResyncHandler) HandlePostResync(w http.ResponseWriter, r *http.Request) {
	const op = "api.post_resync"
	if r.Method != http.MethodPost || h.token == "" {
		http.NotFound(w, r)
		return
	}
	if !h.authorized(r) {
		w.Header().Set("WWW-Authenticate", `Bearer realm="potally"`)
		writeError(w, http.StatusUnauthorized, "unauthorized", NewKind(op, ErrUnauthorized))
		return
	}

	id, err := h.deps.TriggerResync()
	switch {
	case errors.Is(err, ErrResyncBusy):
		writeError(w, http.StatusConflict, "resync_in_progress", WrapKind(op, ErrConflict, err))
	case err != nil:
		writeError(w, http.StatusServiceUnavailable, "unavailable", WrapKind(op, ErrUnavailable, err))
	default:
		writeJSON(w, http.StatusAccepted, resyncResponse{Status: "accepted", RunID: id})
	}
}

func (h *ResyncHandler) authorized(r *http.Request) bool {
	got, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(strings.TrimSpace(got)), []byte(h.token)) == 1
}
