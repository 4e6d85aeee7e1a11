package api

import (
	"context"
	"net/http"

	"github.com/okian/contestboard/internal/domain/types"
)

// CacheDependencies defines the interface for rank cache administration.
type CacheDependencies interface {
	InvalidateCache(ctx context.Context, contestID string) error
	CacheStatus(ctx context.Context, contestID string) (types.CacheStatus, error)
}

// CacheHandler handles rank cache requests.
type CacheHandler struct {
	deps CacheDependencies
}

// NewCacheHandler creates a new cache handler.
func NewCacheHandler(deps CacheDependencies) *CacheHandler {
	return &CacheHandler{deps: deps}
}

// HandleInvalidate handles DELETE /contests/{contestID}/leaderboard/cache.
func (h *CacheHandler) HandleInvalidate(w http.ResponseWriter, r *http.Request) {
	const op = "api.invalidate_cache"
	if err := h.deps.InvalidateCache(r.Context(), r.PathValue("contestID")); err != nil {
		writeError(w, Wrap(op, err))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleStatus handles GET /contests/{contestID}/leaderboard/cache.
func (h *CacheHandler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	const op = "api.cache_status"
	status, err := h.deps.CacheStatus(r.Context(), r.PathValue("contestID"))
	if err != nil {
		writeError(w, Wrap(op, err))
		return
	}
	writeJSON(w, http.StatusOK, status)
}
