package identity

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMiddlewareBridgeID(t *testing.T) {
	tests := []struct {
		name   string
		header string
		query  string
		want   string
	}{
		{name: "header", header: "tg-bridge-1", want: "tg-bridge-1"},
		{name: "query", query: "bridge.two", want: "bridge.two"},
		{name: "missing", want: DefaultBridgeIDValue},
		{name: "invalid", header: "bad id/../", want: DefaultBridgeIDValue},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got, ip string
			h := Middleware()(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
				got = BridgeIDFromContext(r.Context())
				ip = RemoteIPFromContext(r.Context())
			}))

			target := "/gateway/ws"
			if tt.query != "" {
				target += "?bridge_id=" + tt.query
			}
			req := httptest.NewRequest(http.MethodGet, target, nil)
			req.RemoteAddr = "10.0.0.7:51234"
			if tt.header != "" {
				req.Header.Set(BridgeHeaderName, tt.header)
			}
			h.ServeHTTP(httptest.NewRecorder(), req)

			assert.Equal(t, tt.want, got)
			assert.Equal(t, "10.0.0.7", ip)
		})
	}
}
