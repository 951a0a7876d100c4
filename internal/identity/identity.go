// Package identity attaches the calling bridge's identity to requests.
package identity

import (
	"context"
	"net"
	"net/http"
	"regexp"
	"strings"
)

const (
	BridgeHeaderName     = "X-Bridge-ID"
	DefaultBridgeIDValue = "default"
)

type contextKey int

const (
	bridgeIDKey contextKey = iota
	remoteIPKey
)

var bridgeIDPattern = regexp.MustCompile(`^[A-Za-z0-9._:-]{1,128}$`)

// BridgeIDFromContext extracts the bridge ID from the request context.
func BridgeIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(bridgeIDKey).(string); ok {
		return v
	}
	return DefaultBridgeIDValue
}

// RemoteIPFromContext extracts the caller IP from the request context.
func RemoteIPFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(remoteIPKey).(string); ok {
		return v
	}
	return ""
}

// WithBridgeID returns a context carrying id.
func WithBridgeID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, bridgeIDKey, sanitizeBridgeID(id))
}

func sanitizeBridgeID(id string) string {
	id = strings.TrimSpace(id)
	if id == "" || !bridgeIDPattern.MatchString(id) {
		return DefaultBridgeIDValue
	}
	return id
}

func bridgeIDFromRequest(r *http.Request) string {
	id := r.Header.Get(BridgeHeaderName)
	if id == "" {
		id = r.URL.Query().Get("bridge_id")
	}
	return id
}

// Middleware injects the bridge ID and caller IP.
func Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := WithBridgeID(r.Context(), bridgeIDFromRequest(r))
			ctx = context.WithValue(ctx, remoteIPKey, IPFromRequest(r))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// IPFromRequest returns a normalized remote IP for request tracing.
func IPFromRequest(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
