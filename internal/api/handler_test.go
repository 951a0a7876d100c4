//nolint:revive // "api" package name is intentionally concise for this layer.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ashureev/patchbot/internal/domain"
	"github.com/ashureev/patchbot/internal/session"
)

type fakeRepo struct {
	mu         sync.Mutex
	pingErr    error
	users      map[string]*domain.User
	dispatches []domain.DispatchRecord
	lastLimit  int
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{users: make(map[string]*domain.User)}
}

func (f *fakeRepo) TouchUser(_ context.Context, userID, username string, seen time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.users[userID] = &domain.User{UserID: userID, Username: username, LastSeenAt: seen, CreatedAt: seen, UpdatedAt: seen}
	return nil
}

func (f *fakeRepo) GetUser(_ context.Context, userID string) (*domain.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	user := f.users[userID]
	if user == nil {
		return nil, nil
	}
	copy := *user
	return &copy, nil
}

func (f *fakeRepo) CountUsers(_ context.Context, activeSince time.Time) (int, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	active := 0
	for _, u := range f.users {
		if !u.LastSeenAt.Before(activeSince) {
			active++
		}
	}
	return len(f.users), active, nil
}

func (f *fakeRepo) ListTriggers(context.Context, string) ([]time.Time, error) { return nil, nil }

func (f *fakeRepo) AddTrigger(context.Context, string, time.Time) error { return nil }

func (f *fakeRepo) PruneTriggers(context.Context, string, time.Time) (int64, error) { return 0, nil }

func (f *fakeRepo) CleanupTriggers(context.Context, time.Time) (int64, error) { return 0, nil }

func (f *fakeRepo) RecordDispatch(_ context.Context, rec *domain.DispatchRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dispatches = append([]domain.DispatchRecord{*rec}, f.dispatches...)
	return nil
}

func (f *fakeRepo) RecentDispatches(_ context.Context, limit int) ([]domain.DispatchRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastLimit = limit
	return f.dispatches[:min(limit, len(f.dispatches))], nil
}

func (f *fakeRepo) CleanupDispatches(context.Context, time.Duration) (int64, error) { return 0, nil }

func (f *fakeRepo) Ping(context.Context) error { return f.pingErr }

func (f *fakeRepo) Close() error { return nil }

func newTestRouter(repo *fakeRepo, sessions *session.Store) (*Handler, http.Handler) {
	h := NewHandler(repo, sessions, func() int { return 2 })
	r := chi.NewRouter()
	r.Get("/healthz", h.Healthz)
	h.RegisterRoutes(r)
	return h, r
}

func TestJSON(t *testing.T) {
	w := httptest.NewRecorder()
	data := map[string]string{"foo": "bar"}

	JSON(w, http.StatusOK, data)

	resp := w.Result()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected status 200, got %d", resp.StatusCode)
	}

	var got map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}

	if got["foo"] != "bar" {
		t.Errorf("Expected foo=bar, got %v", got["foo"])
	}
}

func TestError(t *testing.T) {
	w := httptest.NewRecorder()

	Error(w, http.StatusBadRequest, "nope")

	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400, got %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Expected JSON content type, got %q", ct)
	}
	var got map[string]string
	if err := json.NewDecoder(w.Body).Decode(&got); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if got["error"] != "nope" {
		t.Errorf("Expected error=nope, got %v", got["error"])
	}
}

func TestHealthz(t *testing.T) {
	repo := newFakeRepo()
	_, router := newTestRouter(repo, session.NewStore())

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}

	repo.pingErr = errors.New("database is locked")
	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("Expected status 503, got %d", w.Code)
	}
}

func TestStats(t *testing.T) {
	repo := newFakeRepo()
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	_ = repo.TouchUser(context.Background(), "1", "alice", now.Add(-time.Hour))
	_ = repo.TouchUser(context.Background(), "2", "bob", now.Add(-48*time.Hour))

	sessions := session.NewStore()
	sessions.Put(domain.NewSession("1", now))
	sessions.Put(domain.NewSession("3", now))

	h, router := newTestRouter(repo, sessions)
	h.now = func() time.Time { return now }
	h.started = now.Add(-time.Minute)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/stats", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}

	var got statsResponse
	if err := json.NewDecoder(w.Body).Decode(&got); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if got.ActiveSessions != 2 || got.SessionsByState["AWAIT_VERSION"] != 2 {
		t.Errorf("Unexpected session counts: %+v", got)
	}
	if got.UsersTotal != 2 || got.UsersActive24h != 1 {
		t.Errorf("Unexpected user counts: total=%d active=%d", got.UsersTotal, got.UsersActive24h)
	}
	if got.Bridges != 2 || got.UptimeSeconds != 60 {
		t.Errorf("Unexpected bridges/uptime: %d/%d", got.Bridges, got.UptimeSeconds)
	}
}

func TestDispatches(t *testing.T) {
	repo := newFakeRepo()
	for i := 0; i < 3; i++ {
		_ = repo.RecordDispatch(context.Background(), &domain.DispatchRecord{
			UserID: "1", Codename: "marble", APILevel: "35", Outcome: domain.OutcomeComplete,
		})
	}
	_, router := newTestRouter(repo, session.NewStore())

	tests := []struct {
		query     string
		wantCode  int
		wantLimit int
		wantLen   int
	}{
		{query: "", wantCode: http.StatusOK, wantLimit: defaultRecentLimit, wantLen: 3},
		{query: "?limit=2", wantCode: http.StatusOK, wantLimit: 2, wantLen: 2},
		{query: "?limit=5000", wantCode: http.StatusOK, wantLimit: maxRecentLimit, wantLen: 3},
		{query: "?limit=zero", wantCode: http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			w := httptest.NewRecorder()
			router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/dispatches"+tt.query, nil))
			if w.Code != tt.wantCode {
				t.Fatalf("Expected status %d, got %d", tt.wantCode, w.Code)
			}
			if tt.wantCode != http.StatusOK {
				return
			}
			var got struct {
				Dispatches []domain.DispatchRecord `json:"dispatches"`
			}
			if err := json.NewDecoder(w.Body).Decode(&got); err != nil {
				t.Fatalf("Failed to decode response: %v", err)
			}
			if len(got.Dispatches) != tt.wantLen || repo.lastLimit != tt.wantLimit {
				t.Errorf("Expected %d records with limit %d, got %d with limit %d",
					tt.wantLen, tt.wantLimit, len(got.Dispatches), repo.lastLimit)
			}
		})
	}
}
