// Package ratelimit caps accepted dispatches per user per calendar day.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// DefaultDailyLimit is the number of dispatches a user may trigger per day.
const DefaultDailyLimit = 3

// ErrLimitExceeded is returned by Check when the user has no dispatches left.
var ErrLimitExceeded = errors.New("daily dispatch limit reached")

// TriggerLog persists accepted dispatch timestamps per user.
type TriggerLog interface {
	ListTriggers(ctx context.Context, userID string) ([]time.Time, error)
	AddTrigger(ctx context.Context, userID string, at time.Time) error
	PruneTriggers(ctx context.Context, userID string, before time.Time) (int64, error)
}

// Usage is a user's position in the current window.
type Usage struct {
	Used    int
	Limit   int
	ResetAt time.Time
}

// Remaining returns how many dispatches are left today.
func (u Usage) Remaining() int {
	return max(u.Limit-u.Used, 0)
}

// Limiter enforces the daily cap. Windows are calendar days in loc.
type Limiter struct {
	log   TriggerLog
	limit int
	loc   *time.Location
	now   func() time.Time

	mu sync.Mutex
}

// New creates a limiter. A nil loc means the local time zone.
func New(log TriggerLog, limit int, loc *time.Location) *Limiter {
	if limit <= 0 {
		limit = DefaultDailyLimit
	}
	if loc == nil {
		loc = time.Local
	}
	return &Limiter{log: log, limit: limit, loc: loc, now: time.Now}
}

// SetClock replaces the time source.
func (l *Limiter) SetClock(now func() time.Time) {
	l.mu.Lock()
	l.now = now
	l.mu.Unlock()
}

// Check drops timestamps from previous days and reports the user's usage.
// It returns ErrLimitExceeded when the cap is reached; nothing is recorded.
func (l *Limiter) Check(ctx context.Context, userID string) (Usage, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	usage, err := l.usage(ctx, userID)
	if err != nil {
		return Usage{}, err
	}
	if usage.Used >= usage.Limit {
		return usage, ErrLimitExceeded
	}
	return usage, nil
}

// Record appends an accepted dispatch at the current time.
func (l *Limiter) Record(ctx context.Context, userID string) (Usage, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.log.AddTrigger(ctx, userID, l.now()); err != nil {
		return Usage{}, fmt.Errorf("record dispatch: %w", err)
	}
	return l.usage(ctx, userID)
}

func (l *Limiter) usage(ctx context.Context, userID string) (Usage, error) {
	start, next := l.window()
	if _, err := l.log.PruneTriggers(ctx, userID, start); err != nil {
		return Usage{}, fmt.Errorf("prune rate window: %w", err)
	}
	triggers, err := l.log.ListTriggers(ctx, userID)
	if err != nil {
		return Usage{}, fmt.Errorf("load rate window: %w", err)
	}

	used := 0
	for _, ts := range triggers {
		if !ts.Before(start) && ts.Before(next) {
			used++
		}
	}
	return Usage{Used: used, Limit: l.limit, ResetAt: next}, nil
}

// window returns the start of today and of tomorrow in the limiter's zone.
func (l *Limiter) window() (time.Time, time.Time) {
	now := l.now().In(l.loc)
	start := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, l.loc)
	return start, start.AddDate(0, 0, 1)
}
