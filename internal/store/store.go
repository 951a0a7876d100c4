// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"time"

	"github.com/ashureev/patchbot/internal/domain"
)

// Repository defines the interface for persisting users, rate windows and
// dispatch history.
type Repository interface {
	// TouchUser creates the user on first contact and bumps last_seen_at.
	TouchUser(ctx context.Context, userID, username string, seen time.Time) error

	// GetUser retrieves a user by their user ID. It returns nil, nil when
	// the user is unknown.
	GetUser(ctx context.Context, userID string) (*domain.User, error)

	// CountUsers returns the number of known users and those seen since the
	// given time.
	CountUsers(ctx context.Context, activeSince time.Time) (total int, active int, err error)

	// ListTriggers returns the user's accepted dispatch timestamps, oldest first.
	ListTriggers(ctx context.Context, userID string) ([]time.Time, error)

	// AddTrigger appends an accepted dispatch timestamp.
	AddTrigger(ctx context.Context, userID string, at time.Time) error

	// PruneTriggers drops the user's timestamps older than before.
	PruneTriggers(ctx context.Context, userID string, before time.Time) (int64, error)

	// CleanupTriggers drops every timestamp older than before.
	CleanupTriggers(ctx context.Context, before time.Time) (int64, error)

	// RecordDispatch stores one history entry.
	RecordDispatch(ctx context.Context, rec *domain.DispatchRecord) error

	// RecentDispatches returns the newest history entries, newest first.
	RecentDispatches(ctx context.Context, limit int) ([]domain.DispatchRecord, error)

	// CleanupDispatches removes history entries older than ttl.
	CleanupDispatches(ctx context.Context, ttl time.Duration) (int64, error)

	// Ping verifies database connectivity and returns an error if the database is unreachable.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
