package handlers

import (
	"net/http"

	"protoscribe/internal/cache"
	"protoscribe/pkg/logging"

	"go.uber.org/zap"
)

// CacheAdminHandler exposes the cache stats snapshot and targeted clears
// on the admin surface.
type CacheAdminHandler struct {
	Store cache.Store
}

func NewCacheAdminHandler(store cache.Store) *CacheAdminHandler {
	return &CacheAdminHandler{Store: store}
}

// GetStats handles GET /v1/cache/stats.
func (h *CacheAdminHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Store.Stats())
}

// Clear handles POST /v1/cache/clear. An optional ?namespace= query
// parameter restricts the clear to one cache domain; without it the
// entire cache is dropped.
func (h *CacheAdminHandler) Clear(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	namespace := r.URL.Query().Get("namespace")

	if err := h.Store.Clear(ctx, namespace); err != nil {
		logging.L(ctx).Error("cache clear failed",
			zap.String("namespace", namespace),
			zap.Error(err),
		)
		writeError(w, http.StatusInternalServerError, "cache clear failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":    "cleared",
		"namespace": namespace,
	})
}
