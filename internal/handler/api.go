package handler

import (
	"database/sql"
	"errors"
	"net/http"
	"strings"

	"github.com/twpayne/go-polyline"

	"gotransit/internal/planner"
)

const suggestLimit = 10

// Stops serves GET /api/stops?q= with stop suggestions, one per name.
func (h *Handler) Stops(w http.ResponseWriter, r *http.Request) {
	q := strings.TrimSpace(r.URL.Query().Get("q"))
	if len(q) < 2 {
		writeJSON(w, http.StatusOK, []any{})
		return
	}
	stops, err := h.Service.SuggestStops(r.Context(), q, suggestLimit)
	if err != nil {
		h.logger.Error("suggesting stops", "query", q, "error", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "Stop search is unavailable right now."})
		return
	}
	writeJSON(w, http.StatusOK, stops)
}

type shapeResponse struct {
	TripID   string `json:"tripId"`
	ShapeID  string `json:"shapeId"`
	Polyline string `json:"polyline"`
}

// TripShape serves GET /api/trips/{id}/shape as an encoded polyline.
func (h *Handler) TripShape(w http.ResponseWriter, r *http.Request) {
	tripID := r.PathValue("id")
	if h.Shapes == nil {
		http.NotFound(w, r)
		return
	}
	shapeID, points, err := h.Shapes.ShapeForTrip(r.Context(), tripID)
	switch {
	case errors.Is(err, sql.ErrNoRows), errors.Is(err, planner.ErrNoShape):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "No shape for trip " + tripID})
		return
	case err != nil:
		h.logger.Error("loading trip shape", "trip", tripID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Shape lookup failed."})
		return
	}
	writeJSON(w, http.StatusOK, shapeResponse{
		TripID:   tripID,
		ShapeID:  shapeID,
		Polyline: string(polyline.EncodeCoords(points)),
	})
}
