package api

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ashureev/patchbot/internal/domain"
)

const (
	healthTimeout      = 2 * time.Second
	defaultRecentLimit = 10
	maxRecentLimit     = 100
)

// RegisterRoutes registers the admin routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Get("/stats", h.Stats)
		r.Get("/dispatches", h.Dispatches)
	})
}

// Healthz reports whether the database answers.
func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
	defer cancel()

	if err := h.repo.Ping(ctx); err != nil {
		slog.Warn("Health check failed", "error", err)
		JSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "database": "down"})
		return
	}
	JSON(w, http.StatusOK, map[string]string{"status": "ok", "database": "up"})
}

type statsResponse struct {
	ActiveSessions  int            `json:"active_sessions"`
	SessionsByState map[string]int `json:"sessions_by_state"`
	Bridges         int            `json:"bridges"`
	UsersTotal      int            `json:"users_total"`
	UsersActive24h  int            `json:"users_active_24h"`
	UptimeSeconds   int64          `json:"uptime_seconds"`
}

// Stats returns live session counts and user totals.
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	now := h.now()
	total, active, err := h.repo.CountUsers(r.Context(), now.Add(-24*time.Hour))
	if err != nil {
		slog.Error("Failed to count users", "error", err)
		Error(w, http.StatusInternalServerError, "failed to load stats")
		return
	}

	byState := make(map[string]int)
	for state, n := range h.sessions.CountByState() {
		byState[state.String()] = n
	}
	resp := statsResponse{
		ActiveSessions:  h.sessions.Len(),
		SessionsByState: byState,
		UsersTotal:      total,
		UsersActive24h:  active,
		UptimeSeconds:   int64(now.Sub(h.started).Seconds()),
	}
	if h.bridges != nil {
		resp.Bridges = h.bridges()
	}
	JSON(w, http.StatusOK, resp)
}

// Dispatches returns the newest dispatch history entries. The optional
// limit query parameter is capped at 100.
func (h *Handler) Dispatches(w http.ResponseWriter, r *http.Request) {
	limit := defaultRecentLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			Error(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxRecentLimit)
	}

	recs, err := h.repo.RecentDispatches(r.Context(), limit)
	if err != nil {
		slog.Error("Failed to load dispatch history", "error", err)
		Error(w, http.StatusInternalServerError, "failed to load dispatches")
		return
	}
	if recs == nil {
		recs = []domain.DispatchRecord{}
	}
	JSON(w, http.StatusOK, map[string]interface{}{"dispatches": recs})
}
