package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/ashureev/patchbot/internal/domain"
	"github.com/ashureev/patchbot/internal/shared"
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db        *sql.DB
	triggerMu sync.Mutex // Serializes rate window writes to prevent SQLITE_BUSY
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (Repository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// Open database with WAL mode for better concurrency.
	dsn := dbPath + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS users (
		user_id TEXT PRIMARY KEY,
		username TEXT NOT NULL DEFAULT '',
		last_seen_at INTEGER NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_users_last_seen ON users(last_seen_at);

	CREATE TABLE IF NOT EXISTS dispatch_triggers (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id TEXT NOT NULL,
		triggered_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_triggers_user ON dispatch_triggers(user_id, triggered_at);

	CREATE TABLE IF NOT EXISTS dispatches (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		codename TEXT NOT NULL,
		device_name TEXT NOT NULL,
		version TEXT NOT NULL,
		api_level TEXT NOT NULL,
		workflow TEXT NOT NULL,
		outcome TEXT NOT NULL,
		error TEXT,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_dispatches_created ON dispatches(created_at);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// TouchUser creates the user on first contact and bumps last_seen_at.
func (s *SQLiteStore) TouchUser(ctx context.Context, userID, username string, seen time.Time) error {
	query := `
	INSERT INTO users (user_id, username, last_seen_at, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?)
	ON CONFLICT(user_id) DO UPDATE SET
		username = CASE WHEN excluded.username = '' THEN users.username ELSE excluded.username END,
		last_seen_at = excluded.last_seen_at,
		updated_at = excluded.updated_at`

	ts := seen.Unix()
	if _, err := s.db.ExecContext(ctx, query, userID, username, ts, ts, ts); err != nil {
		return fmt.Errorf("touch user: %w", err)
	}
	return nil
}

// GetUser retrieves a user by their user ID.
func (s *SQLiteStore) GetUser(ctx context.Context, userID string) (*domain.User, error) {
	query := `
		SELECT user_id, username, last_seen_at, created_at, updated_at
		FROM users WHERE user_id = ?`

	var user domain.User
	var lastSeen, createdAt, updatedAt int64
	err := s.db.QueryRowContext(ctx, query, userID).Scan(
		&user.UserID, &user.Username, &lastSeen, &createdAt, &updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan user row: %w", err)
	}

	user.LastSeenAt = time.Unix(lastSeen, 0)
	user.CreatedAt = time.Unix(createdAt, 0)
	user.UpdatedAt = time.Unix(updatedAt, 0)
	return &user, nil
}

// CountUsers returns the number of known users and those seen since activeSince.
func (s *SQLiteStore) CountUsers(ctx context.Context, activeSince time.Time) (int, int, error) {
	query := `SELECT COUNT(*), COALESCE(SUM(CASE WHEN last_seen_at >= ? THEN 1 ELSE 0 END), 0) FROM users`
	var total, active int
	if err := s.db.QueryRowContext(ctx, query, activeSince.Unix()).Scan(&total, &active); err != nil {
		return 0, 0, fmt.Errorf("count users: %w", err)
	}
	return total, active, nil
}

// ListTriggers returns the user's accepted dispatch timestamps, oldest first.
func (s *SQLiteStore) ListTriggers(ctx context.Context, userID string) ([]time.Time, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT triggered_at FROM dispatch_triggers WHERE user_id = ? ORDER BY triggered_at, id`, userID)
	if err != nil {
		return nil, fmt.Errorf("query triggers: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close trigger rows", "error", closeErr)
		}
	}()

	var out []time.Time
	for rows.Next() {
		var ts int64
		if err := rows.Scan(&ts); err != nil {
			return nil, fmt.Errorf("scan trigger row: %w", err)
		}
		out = append(out, time.Unix(ts, 0))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate triggers: %w", err)
	}
	return out, nil
}

// AddTrigger appends an accepted dispatch timestamp.
// Implements retry logic with exponential backoff to handle SQLITE_BUSY errors.
func (s *SQLiteStore) AddTrigger(ctx context.Context, userID string, at time.Time) error {
	maxRetries := 3
	baseDelay := 100 * time.Millisecond

	for i := 0; i < maxRetries; i++ {
		err := s.addTriggerOnce(ctx, userID, at)
		if err == nil {
			return nil
		}

		if shared.IsSQLiteConflictError(err) && i < maxRetries-1 {
			delay := baseDelay * time.Duration(1<<i) // exponential backoff: 100ms, 200ms, 400ms
			slog.Debug("AddTrigger failed with SQLITE_BUSY, retrying",
				"user_id", userID,
				"attempt", i+1,
				"delay", delay)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			continue
		}

		// Non-retryable error or max retries exceeded
		return fmt.Errorf("failed to add trigger for %s after %d attempts: %w", userID, i+1, err)
	}

	return nil
}

func (s *SQLiteStore) addTriggerOnce(ctx context.Context, userID string, at time.Time) error {
	s.triggerMu.Lock()
	defer s.triggerMu.Unlock()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO dispatch_triggers (user_id, triggered_at) VALUES (?, ?)`, userID, at.Unix())
	if err != nil {
		return fmt.Errorf("insert trigger: %w", err)
	}
	return nil
}

// PruneTriggers drops the user's timestamps older than before.
func (s *SQLiteStore) PruneTriggers(ctx context.Context, userID string, before time.Time) (int64, error) {
	s.triggerMu.Lock()
	defer s.triggerMu.Unlock()

	result, err := s.db.ExecContext(ctx,
		`DELETE FROM dispatch_triggers WHERE user_id = ? AND triggered_at < ?`, userID, before.Unix())
	if err != nil {
		return 0, fmt.Errorf("prune triggers: %w", err)
	}
	return result.RowsAffected()
}

// CleanupTriggers drops every timestamp older than before.
func (s *SQLiteStore) CleanupTriggers(ctx context.Context, before time.Time) (int64, error) {
	s.triggerMu.Lock()
	defer s.triggerMu.Unlock()

	result, err := s.db.ExecContext(ctx, `DELETE FROM dispatch_triggers WHERE triggered_at < ?`, before.Unix())
	if err != nil {
		return 0, fmt.Errorf("cleanup triggers: %w", err)
	}
	return result.RowsAffected()
}

// RecordDispatch stores one history entry. Empty IDs and timestamps are
// filled in.
func (s *SQLiteStore) RecordDispatch(ctx context.Context, rec *domain.DispatchRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}

	query := `
	INSERT INTO dispatches (id, user_id, codename, device_name, version, api_level, workflow, outcome, error, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	var errText interface{}
	if rec.Error != "" {
		errText = rec.Error
	}

	_, err := s.db.ExecContext(ctx, query,
		rec.ID, rec.UserID, rec.Codename, rec.DeviceName, rec.Version,
		rec.APILevel, rec.Workflow, string(rec.Outcome), errText, rec.CreatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("insert dispatch: %w", err)
	}
	return nil
}

// RecentDispatches returns the newest history entries, newest first.
func (s *SQLiteStore) RecentDispatches(ctx context.Context, limit int) ([]domain.DispatchRecord, error) {
	query := `
		SELECT id, user_id, codename, device_name, version, api_level, workflow, outcome, error, created_at
		FROM dispatches ORDER BY created_at DESC, rowid DESC LIMIT ?`

	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("query dispatches: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close dispatch rows", "error", closeErr)
		}
	}()

	var out []domain.DispatchRecord
	for rows.Next() {
		var rec domain.DispatchRecord
		var outcome string
		var errText sql.NullString
		var createdAt int64
		if err := rows.Scan(
			&rec.ID, &rec.UserID, &rec.Codename, &rec.DeviceName, &rec.Version,
			&rec.APILevel, &rec.Workflow, &outcome, &errText, &createdAt,
		); err != nil {
			return nil, fmt.Errorf("scan dispatch row: %w", err)
		}
		rec.Outcome = domain.DispatchOutcome(outcome)
		rec.Error = errText.String
		rec.CreatedAt = time.Unix(createdAt, 0)
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate dispatches: %w", err)
	}
	return out, nil
}

// CleanupDispatches removes history entries older than ttl.
func (s *SQLiteStore) CleanupDispatches(ctx context.Context, ttl time.Duration) (int64, error) {
	threshold := time.Now().Add(-ttl).Unix()
	result, err := s.db.ExecContext(ctx, `DELETE FROM dispatches WHERE created_at < ?`, threshold)
	if err != nil {
		return 0, fmt.Errorf("cleanup dispatches: %w", err)
	}
	return result.RowsAffected()
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}
