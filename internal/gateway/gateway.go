package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/ashureev/patchbot/internal/api"
	"github.com/ashureev/patchbot/internal/domain"
	"github.com/ashureev/patchbot/internal/engine"
	"github.com/ashureev/patchbot/internal/identity"
)

// MaxFrameBytes bounds one inbound frame or webhook body. Artifacts travel
// inline, so it must fit the largest jar.
const MaxFrameBytes = 64 << 20

const (
	writeTimeout = 10 * time.Second
	touchTimeout = 5 * time.Second
)

// Submitter queues an event for the engine.
type Submitter interface {
	Submit(ev domain.Event, reply engine.ReplyFunc) (<-chan struct{}, error)
}

// UserTracker records that a user was seen.
type UserTracker interface {
	TouchUser(ctx context.Context, userID, username string, seen time.Time) error
}

// Handler serves the bridge endpoints.
type Handler struct {
	submitter     Submitter
	users         UserTracker
	registry      *Registry
	allowedOrigin string
	logger        *slog.Logger

	// routes remembers the bridge that last delivered each user's events.
	routesMu sync.RWMutex
	routes   map[string]string
}

// NewHandler creates a gateway handler. users may be nil.
func NewHandler(submitter Submitter, users UserTracker, registry *Registry, allowedOrigin string, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	if registry == nil {
		registry = NewRegistry()
	}
	return &Handler{
		submitter:     submitter,
		users:         users,
		registry:      registry,
		allowedOrigin: allowedOrigin,
		logger:        logger.With("component", "gateway"),
		routes:        make(map[string]string),
	}
}

// Registry returns the connection registry.
func (h *Handler) Registry() *Registry {
	return h.registry
}

// Notify pushes an unsolicited reply to the bridge that last carried the
// user's events. It reports false when no WebSocket bridge can reach the user.
func (h *Handler) Notify(userID string, reply domain.Reply) bool {
	h.routesMu.RLock()
	bridgeID, ok := h.routes[userID]
	h.routesMu.RUnlock()
	if !ok {
		return false
	}
	ws := h.registry.Get(bridgeID)
	if ws == nil {
		return false
	}
	h.send(ws, h.logger.With("bridge_id", bridgeID), frame{Type: "reply", UserID: userID, Reply: &reply})
	return true
}

func (h *Handler) route(userID, bridgeID string) {
	h.routesMu.Lock()
	h.routes[userID] = bridgeID
	h.routesMu.Unlock()
}

// frame is the envelope exchanged over the WebSocket.
type frame struct {
	Type    string        `json:"type"`
	Event   *domain.Event `json:"event,omitempty"`
	UserID  string        `json:"user_id,omitempty"`
	EventID string        `json:"event_id,omitempty"`
	Reply   *domain.Reply `json:"reply,omitempty"`
	Error   string        `json:"error,omitempty"`
}

// eventsResponse is the webhook response body.
type eventsResponse struct {
	EventID string         `json:"event_id"`
	Replies []domain.Reply `json:"replies"`
}

func validateEvent(ev *domain.Event) error {
	if strings.TrimSpace(ev.UserID) == "" {
		return errors.New("event has no user_id")
	}
	switch ev.Kind {
	case domain.EventText, domain.EventCommand, domain.EventCallback, domain.EventFile:
	default:
		return fmt.Errorf("unknown event kind %q", ev.Kind)
	}
	return nil
}

// accept stamps an id on ev and records the user's activity.
func (h *Handler) accept(ev *domain.Event) {
	ev.ID = uuid.NewString()
	if h.users == nil || ev.FromBot {
		return
	}
	userID, username := ev.UserID, ev.Username
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), touchTimeout)
		defer cancel()
		if err := h.users.TouchUser(ctx, userID, username, time.Now()); err != nil {
			h.logger.Warn("Failed to update last seen", "user_id", userID, "error", err)
		}
	}()
}

// Events handles POST /gateway/events: one event in, its replies out.
func (h *Handler) Events(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, MaxFrameBytes)

	var ev domain.Event
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
		api.Error(w, http.StatusBadRequest, "invalid event body")
		return
	}
	if err := validateEvent(&ev); err != nil {
		api.Error(w, http.StatusBadRequest, err.Error())
		return
	}
	h.accept(&ev)

	var mu sync.Mutex
	replies := []domain.Reply{}
	done, err := h.submitter.Submit(ev, func(reply domain.Reply) {
		mu.Lock()
		defer mu.Unlock()
		replies = append(replies, reply)
	})
	if err != nil {
		h.logger.Warn("Event rejected", "event_id", ev.ID, "error", err)
		api.Error(w, http.StatusServiceUnavailable, "engine is shutting down")
		return
	}

	select {
	case <-done:
	case <-r.Context().Done():
		h.logger.Info("Client left before event completed", "event_id", ev.ID, "user_id", ev.UserID)
		return
	}

	mu.Lock()
	defer mu.Unlock()
	api.JSON(w, http.StatusOK, eventsResponse{EventID: ev.ID, Replies: replies})
}

// ServeHTTP upgrades a bridge connection to a WebSocket.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	bridgeID := identity.BridgeIDFromContext(r.Context())
	logger := h.logger.With("bridge_id", bridgeID)
	logger.Info("WebSocket connection request", "ip", identity.IPFromRequest(r))

	if !h.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		logger.Error("Failed to accept WebSocket", "error", err)
		return
	}
	ws.SetReadLimit(MaxFrameBytes)
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "bridge session ended"); closeErr != nil {
			logger.Debug("Failed to close websocket", "error", closeErr)
		}
	}()

	h.registry.Register(bridgeID, ws)
	defer h.registry.Unregister(bridgeID, ws)

	h.readLoop(r.Context(), bridgeID, ws, logger)
	logger.Info("Bridge session ended")
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || h.allowedOrigin == "" || h.allowedOrigin == "*" {
		return true
	}
	if origin == h.allowedOrigin {
		return true
	}
	h.logger.Warn("WebSocket origin rejected", "origin", origin, "allowed", h.allowedOrigin)
	return false
}

func (h *Handler) readLoop(ctx context.Context, bridgeID string, ws *websocket.Conn, logger *slog.Logger) {
	for {
		_, message, err := ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 {
				logger.Debug("WebSocket closed by bridge")
			} else if ctx.Err() == nil {
				logger.Warn("WebSocket read error", "error", err)
			}
			return
		}

		var msg frame
		if err := json.Unmarshal(message, &msg); err != nil {
			h.send(ws, logger, frame{Type: "error", Error: "invalid frame"})
			continue
		}

		switch msg.Type {
		case "event":
			h.submitFrame(bridgeID, ws, logger, msg.Event)
		case "ping":
			h.send(ws, logger, frame{Type: "pong"})
		default:
			h.send(ws, logger, frame{Type: "error", Error: fmt.Sprintf("unknown frame type %q", msg.Type)})
		}
	}
}

func (h *Handler) submitFrame(bridgeID string, ws *websocket.Conn, logger *slog.Logger, ev *domain.Event) {
	if ev == nil {
		h.send(ws, logger, frame{Type: "error", Error: "event frame without event"})
		return
	}
	if err := validateEvent(ev); err != nil {
		h.send(ws, logger, frame{Type: "error", Error: err.Error()})
		return
	}
	h.accept(ev)
	h.route(ev.UserID, bridgeID)

	userID, eventID := ev.UserID, ev.ID
	_, err := h.submitter.Submit(*ev, func(reply domain.Reply) {
		h.send(ws, logger, frame{Type: "reply", UserID: userID, EventID: eventID, Reply: &reply})
	})
	if err != nil {
		logger.Warn("Event rejected", "event_id", eventID, "error", err)
		h.send(ws, logger, frame{Type: "error", EventID: eventID, Error: "engine is shutting down"})
		return
	}
	h.send(ws, logger, frame{Type: "ack", UserID: userID, EventID: eventID})
}

// send writes one frame. Replies arrive from engine goroutines, so a write
// may race a closing connection; those failures are only logged.
func (h *Handler) send(ws *websocket.Conn, logger *slog.Logger, f frame) {
	data, err := json.Marshal(f)
	if err != nil {
		logger.Error("Failed to encode frame", "type", f.Type, "error", err)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	if err := ws.Write(ctx, websocket.MessageText, data); err != nil {
		logger.Debug("WebSocket write error", "type", f.Type, "error", err)
	}
}
