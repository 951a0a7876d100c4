package retry

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashureev/patchbot/internal/domain"
)

func recordingPolicy(cfg Config) (*Policy, *[]time.Duration) {
	p := NewPolicy(cfg, nil)
	var slept []time.Duration
	p.sleep = func(_ context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}
	return p, &slept
}

func TestDelayDoublesAndCaps(t *testing.T) {
	p := NewPolicy(Config{MaxAttempts: 5, BaseDelay: time.Second, MaxDelay: 30 * time.Second}, nil)

	assert.Equal(t, time.Second, p.Delay(1))
	assert.Equal(t, 2*time.Second, p.Delay(2))
	assert.Equal(t, 4*time.Second, p.Delay(3))
	assert.Equal(t, 16*time.Second, p.Delay(5))
	assert.Equal(t, 30*time.Second, p.Delay(6))
	assert.Equal(t, 30*time.Second, p.Delay(40))
}

func TestDoRetriesTransientUntilSuccess(t *testing.T) {
	p, slept := recordingPolicy(Config{MaxAttempts: 5, BaseDelay: time.Second, MaxDelay: 30 * time.Second})

	calls := 0
	attempts, err := p.Do(context.Background(), func(_ context.Context, attempt int) error {
		calls++
		assert.Equal(t, calls, attempt)
		if attempt < 3 {
			return &HTTPStatusError{StatusCode: 503, Body: "busy"}
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, *slept)
}

func TestDoStopsOnPermanentStatus(t *testing.T) {
	p, slept := recordingPolicy(Config{MaxAttempts: 5, BaseDelay: time.Second})

	attempts, err := p.Do(context.Background(), func(context.Context, int) error {
		return &HTTPStatusError{StatusCode: 422, Body: "bad input"}
	})

	require.Error(t, err)
	assert.Equal(t, 1, attempts)
	assert.Empty(t, *slept)
}

func TestDoExhaustsAttempts(t *testing.T) {
	p, slept := recordingPolicy(Config{MaxAttempts: 3, BaseDelay: time.Second, MaxDelay: 30 * time.Second})

	attempts, err := p.Do(context.Background(), func(context.Context, int) error {
		return &HTTPStatusError{StatusCode: 502}
	})

	var statusErr *HTTPStatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, 502, statusErr.StatusCode)
	assert.Equal(t, 3, attempts)
	assert.Len(t, *slept, 2)
}

func TestDoAppliesAttemptTimeout(t *testing.T) {
	p, _ := recordingPolicy(Config{MaxAttempts: 2})
	p.AttemptTimeout = LinearTimeout(10*time.Millisecond, 10*time.Millisecond)

	var deadlines []time.Duration
	_, err := p.Do(context.Background(), func(ctx context.Context, _ int) error {
		deadline, ok := ctx.Deadline()
		require.True(t, ok)
		deadlines = append(deadlines, time.Until(deadline))
		<-ctx.Done()
		return ctx.Err()
	})

	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Len(t, deadlines, 2)
	assert.Greater(t, deadlines[1], deadlines[0]-time.Millisecond)
}

func TestDoDoesNotRetryAfterCancel(t *testing.T) {
	p, slept := recordingPolicy(Config{MaxAttempts: 5, BaseDelay: time.Second})
	ctx, cancel := context.WithCancel(context.Background())

	attempts, err := p.Do(ctx, func(context.Context, int) error {
		cancel()
		return &HTTPStatusError{StatusCode: 503}
	})

	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, attempts)
	assert.Empty(t, *slept)
}

func TestLinearTimeout(t *testing.T) {
	timeout := LinearTimeout(120*time.Second, 30*time.Second)
	assert.Equal(t, 120*time.Second, timeout(1))
	assert.Equal(t, 240*time.Second, timeout(5))
}

func TestKind(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want domain.RemoteErrorKind
	}{
		{"status", fmt.Errorf("wrapped: %w", &HTTPStatusError{StatusCode: 500}), domain.RemoteHTTPStatus},
		{"deadline", &url.Error{Op: "Post", URL: "http://x", Err: context.DeadlineExceeded}, domain.RemoteTimeout},
		{"refused", &url.Error{Op: "Post", URL: "http://x", Err: &net.OpError{Op: "dial", Err: errors.New("connection refused")}}, domain.RemoteNetwork},
		{"decode", errors.New("invalid character"), domain.RemoteProtocol},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Kind(tt.err))
		})
	}
}

func TestTransient(t *testing.T) {
	for _, code := range []int{429, 502, 503, 504} {
		assert.True(t, Transient(&HTTPStatusError{StatusCode: code}), code)
	}
	for _, code := range []int{400, 401, 404, 422, 500} {
		assert.False(t, Transient(&HTTPStatusError{StatusCode: code}), code)
	}
	assert.True(t, Transient(context.DeadlineExceeded))
	assert.False(t, Transient(errors.New("invalid character")))
}

func TestRemoteError(t *testing.T) {
	err := RemoteError("upload", 5, &HTTPStatusError{StatusCode: 503, Body: "down"})
	assert.Equal(t, domain.RemoteHTTPStatus, err.Kind)
	assert.Equal(t, 503, err.StatusCode)
	assert.Equal(t, 5, err.Attempts)
	assert.Equal(t, "down", err.Message)

	again := RemoteError("other", 1, fmt.Errorf("wrap: %w", err))
	assert.Same(t, err, again)
}
