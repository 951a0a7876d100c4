package worker

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCleaner struct {
	mu             sync.Mutex
	triggerBefore  []time.Time
	dispatchTTLs   []time.Duration
	triggerErrs    []error
	dispatchResult int64
}

func (f *fakeCleaner) CleanupTriggers(_ context.Context, before time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.triggerBefore = append(f.triggerBefore, before)
	if len(f.triggerErrs) > 0 {
		err := f.triggerErrs[0]
		f.triggerErrs = f.triggerErrs[1:]
		return 0, err
	}
	return 2, nil
}

func (f *fakeCleaner) CleanupDispatches(_ context.Context, ttl time.Duration) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dispatchTTLs = append(f.dispatchTTLs, ttl)
	return f.dispatchResult, nil
}

type fakeReaper struct {
	ttls  []time.Duration
	users []string
}

func (f *fakeReaper) ReapIdle(_ time.Time, ttl time.Duration) []string {
	f.ttls = append(f.ttls, ttl)
	return f.users
}

func quiet() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestSweep(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	repo := &fakeCleaner{}
	reaper := &fakeReaper{users: []string{"1", "2"}}
	var reaped []string

	w := New(repo, reaper, Config{SessionIdleTTL: time.Hour, HistoryRetention: 720 * time.Hour},
		func(userID string) { reaped = append(reaped, userID) }, quiet())
	w.now = func() time.Time { return now }

	w.Sweep(context.Background())

	assert.Equal(t, []time.Duration{time.Hour}, reaper.ttls)
	assert.Equal(t, []string{"1", "2"}, reaped)
	assert.Equal(t, []time.Time{now.Add(-48 * time.Hour)}, repo.triggerBefore)
	assert.Equal(t, []time.Duration{720 * time.Hour}, repo.dispatchTTLs)
}

func TestSweepDisabledParts(t *testing.T) {
	repo := &fakeCleaner{}
	reaper := &fakeReaper{users: []string{"1"}}

	w := New(repo, reaper, Config{}, nil, quiet())
	w.Sweep(context.Background())

	assert.Empty(t, reaper.ttls, "idle reaping is off without a ttl")
	assert.Empty(t, repo.dispatchTTLs, "history is kept without a retention")
	assert.Len(t, repo.triggerBefore, 1)
}

func TestSweepRetriesBusyDatabase(t *testing.T) {
	repo := &fakeCleaner{triggerErrs: []error{errors.New("database is locked"), errors.New("SQLITE_BUSY")}}
	w := New(repo, nil, Config{}, nil, quiet())

	w.Sweep(context.Background())
	assert.Len(t, repo.triggerBefore, 3)
}

func TestWithBusyRetryStopsOnPermanentError(t *testing.T) {
	calls := 0
	_, err := withBusyRetry(context.Background(), quiet(), "op", func() (int64, error) {
		calls++
		return 0, errors.New("no such table")
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "op after 1 attempts")
	assert.Equal(t, 1, calls)
}

func TestRunStopsWithContext(t *testing.T) {
	repo := &fakeCleaner{}
	w := New(repo, nil, Config{Interval: 5 * time.Millisecond}, nil, quiet())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		repo.mu.Lock()
		defer repo.mu.Unlock()
		return len(repo.triggerBefore) >= 2
	}, 2*time.Second, 5*time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop")
	}
}
