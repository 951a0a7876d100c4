// Package api provides the HTTP handlers of the admin surface.
package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/ashureev/patchbot/internal/session"
	"github.com/ashureev/patchbot/internal/store"
)

// Handler provides common handler utilities.
type Handler struct {
	repo     store.Repository
	sessions *session.Store
	bridges  func() int
	started  time.Time
	now      func() time.Time
}

// NewHandler creates a new Handler with common dependencies. bridges reports
// the number of connected bridges and may be nil.
func NewHandler(repo store.Repository, sessions *session.Store, bridges func() int) *Handler {
	return &Handler{
		repo:     repo,
		sessions: sessions,
		bridges:  bridges,
		started:  time.Now(),
		now:      time.Now,
	}
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}
