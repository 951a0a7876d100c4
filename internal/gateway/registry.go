// Package gateway accepts events from the messaging bridge over WebSocket or
// plain HTTP and hands them to the conversation engine.
package gateway

import (
	"log/slog"
	"sync"

	"github.com/coder/websocket"
)

// Registry tracks the open bridge connections.
type Registry struct {
	mu     sync.RWMutex
	active map[string]*websocket.Conn
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		active: make(map[string]*websocket.Conn),
	}
}

// Get returns the connection of a bridge.
func (r *Registry) Get(bridgeID string) *websocket.Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.active[bridgeID]
}

// Register adds a bridge connection, closing any connection it replaces.
func (r *Registry) Register(bridgeID string, conn *websocket.Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, exists := r.active[bridgeID]; exists && existing != conn {
		// Close waits for the peer's handshake; do not hold the lock for it.
		go func() { _ = existing.Close(websocket.StatusNormalClosure, "connection replaced") }()
	}
	r.active[bridgeID] = conn
	slog.Info("Bridge connected", "bridge_id", bridgeID)
}

// Unregister removes conn if it is still the bridge's current connection.
func (r *Registry) Unregister(bridgeID string, conn *websocket.Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if current, exists := r.active[bridgeID]; exists && current == conn {
		delete(r.active, bridgeID)
		slog.Info("Bridge disconnected", "bridge_id", bridgeID)
	}
}

// Len returns the number of connected bridges.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.active)
}

// CloseAll terminates every bridge connection.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	active := r.active
	r.active = make(map[string]*websocket.Conn)
	r.mu.Unlock()

	for id, conn := range active {
		_ = conn.Close(websocket.StatusGoingAway, "server shutting down")
		slog.Info("Bridge connection closed", "bridge_id", id)
	}
}
