package health

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

func startServer(t *testing.T, check Check) (*Server, string) {
	t.Helper()
	s := NewServer(check, slog.New(slog.NewTextHandler(io.Discard, nil)))
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- s.Serve(lis) }()
	t.Cleanup(func() {
		s.Shutdown()
		assert.NoError(t, <-done)
	})
	return s, lis.Addr().String()
}

func TestProbeFollowsCheck(t *testing.T) {
	var failing atomic.Bool
	s, addr := startServer(t, func(context.Context) error {
		if failing.Load() {
			return errors.New("database is locked")
		}
		return nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	status, err := Probe(ctx, addr, ServiceName)
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, status, "not serving before the first check")

	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, s.Refresh(ctx))
	status, err = Probe(ctx, addr, "")
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, status)

	failing.Store(true)
	s.Refresh(ctx)
	status, err = Probe(ctx, addr, ServiceName)
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, status)
}

func TestProbeUnknownService(t *testing.T) {
	_, addr := startServer(t, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := Probe(ctx, addr, "other")
	assert.Error(t, err)
}

func TestWatchStopsWithContext(t *testing.T) {
	var calls atomic.Int32
	s, _ := startServer(t, func(context.Context) error {
		calls.Add(1)
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Watch(ctx, 10*time.Millisecond)
		close(done)
	}()

	require.Eventually(t, func() bool { return calls.Load() >= 2 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Watch did not return after cancel")
	}
}
