// Package worker runs the periodic housekeeping of the service.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ashureev/patchbot/internal/shared"
)

const (
	// DefaultInterval is the sweep period.
	DefaultInterval = 5 * time.Minute
	// triggerRetention keeps two days of triggers so the current calendar
	// day is intact in every time zone.
	triggerRetention = 48 * time.Hour
)

// Cleaner removes expired rows.
type Cleaner interface {
	CleanupTriggers(ctx context.Context, before time.Time) (int64, error)
	CleanupDispatches(ctx context.Context, ttl time.Duration) (int64, error)
}

// Reaper cancels idle sessions.
type Reaper interface {
	ReapIdle(now time.Time, ttl time.Duration) []string
}

// ReapCallback is called for every session the worker cancelled.
type ReapCallback func(userID string)

// Config tunes the worker.
type Config struct {
	Interval time.Duration
	// SessionIdleTTL enables idle session reaping when positive.
	SessionIdleTTL time.Duration
	// HistoryRetention bounds dispatch history; zero keeps everything.
	HistoryRetention time.Duration
}

// TTLWorker sweeps expired rate-window rows, old history and idle sessions.
type TTLWorker struct {
	repo   Cleaner
	reaper Reaper
	cfg    Config
	onReap ReapCallback
	now    func() time.Time
	logger *slog.Logger
}

// New creates a worker. reaper and onReap may be nil.
func New(repo Cleaner, reaper Reaper, cfg Config, onReap ReapCallback, logger *slog.Logger) *TTLWorker {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &TTLWorker{
		repo:   repo,
		reaper: reaper,
		cfg:    cfg,
		onReap: onReap,
		now:    time.Now,
		logger: logger.With("component", "ttl_worker"),
	}
}

// Start runs the worker in a background goroutine until ctx is done.
func (w *TTLWorker) Start(ctx context.Context) {
	go w.Run(ctx)
}

// Run sweeps every interval until ctx is done.
func (w *TTLWorker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.cfg.Interval)
	defer ticker.Stop()
	w.logger.Info("TTL worker started",
		"interval", w.cfg.Interval,
		"session_idle_ttl", w.cfg.SessionIdleTTL,
		"history_retention", w.cfg.HistoryRetention)

	for {
		select {
		case <-ticker.C:
			w.Sweep(ctx)
		case <-ctx.Done():
			w.logger.Info("TTL worker shutting down", "reason", ctx.Err())
			return
		}
	}
}

// Sweep runs one housekeeping pass.
func (w *TTLWorker) Sweep(ctx context.Context) {
	now := w.now()

	if w.reaper != nil && w.cfg.SessionIdleTTL > 0 {
		reaped := w.reaper.ReapIdle(now, w.cfg.SessionIdleTTL)
		for _, userID := range reaped {
			if w.onReap != nil {
				w.onReap(userID)
			}
		}
		if len(reaped) > 0 {
			w.logger.Info("TTL worker reaped idle sessions", "count", len(reaped))
		}
	}

	deleted, err := withBusyRetry(ctx, w.logger, "cleanup triggers", func() (int64, error) {
		return w.repo.CleanupTriggers(ctx, now.Add(-triggerRetention))
	})
	if err != nil {
		w.logger.Error("TTL worker failed to clean up triggers", "error", err)
	} else if deleted > 0 {
		w.logger.Info("TTL worker removed old triggers", "count", deleted)
	}

	if w.cfg.HistoryRetention <= 0 {
		return
	}
	deleted, err = withBusyRetry(ctx, w.logger, "cleanup dispatches", func() (int64, error) {
		return w.repo.CleanupDispatches(ctx, w.cfg.HistoryRetention)
	})
	if err != nil {
		w.logger.Error("TTL worker failed to clean up dispatch history", "error", err)
	} else if deleted > 0 {
		w.logger.Info("TTL worker removed old dispatch history", "count", deleted)
	}
}

// withBusyRetry retries fn with exponential backoff while SQLite reports a
// locked database.
func withBusyRetry(ctx context.Context, logger *slog.Logger, op string, fn func() (int64, error)) (int64, error) {
	maxRetries := 3
	baseDelay := 50 * time.Millisecond

	for i := 0; i < maxRetries; i++ {
		n, err := fn()
		if err == nil {
			return n, nil
		}

		if shared.IsSQLiteConflictError(err) && i < maxRetries-1 {
			delay := baseDelay * time.Duration(1<<i) // 50ms, 100ms, 200ms
			logger.Debug("TTL worker: database locked, retrying", "op", op, "attempt", i+1, "delay", delay)
			select {
			case <-ctx.Done():
				return 0, ctx.Err()
			case <-time.After(delay):
			}
			continue
		}

		return 0, fmt.Errorf("%s after %d attempts: %w", op, i+1, err)
	}
	return 0, nil
}
