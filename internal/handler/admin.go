package handler

import (
	"net/http"
)

// CacheStats serves GET /admin/cache.
func (h *Handler) CacheStats(w http.ResponseWriter, r *http.Request) {
	if !h.signedIn(w, r) {
		return
	}
	writeJSON(w, http.StatusOK, h.Cache.Stats())
}

// CacheClear serves POST /admin/cache/clear. It empties the response cache
// and the per-stop stop-time cache.
func (h *Handler) CacheClear(w http.ResponseWriter, r *http.Request) {
	if !h.signedIn(w, r) {
		return
	}
	if h.Schedule != nil {
		h.Schedule.Clear()
	} else {
		h.Cache.Clear()
	}
	h.logger.Info("cache cleared", "user", UserID(r.Context()))
	writeJSON(w, http.StatusOK, h.Cache.Stats())
}

func (h *Handler) signedIn(w http.ResponseWriter, r *http.Request) bool {
	if UserID(r.Context()) == 0 {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "Sign in required."})
		return false
	}
	return true
}
