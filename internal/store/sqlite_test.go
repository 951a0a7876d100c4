package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashureev/patchbot/internal/domain"
)

func newTestStore(t *testing.T) Repository {
	t.Helper()
	repo, err := NewSQLite(filepath.Join(t.TempDir(), "nested", "patchbot.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })
	return repo
}

func TestTouchUser(t *testing.T) {
	repo := newTestStore(t)
	ctx := context.Background()
	first := time.Unix(1_700_000_000, 0)

	require.NoError(t, repo.TouchUser(ctx, "42", "alice", first))
	require.NoError(t, repo.TouchUser(ctx, "42", "", first.Add(time.Hour)))

	user, err := repo.GetUser(ctx, "42")
	require.NoError(t, err)
	require.NotNil(t, user)
	assert.Equal(t, "alice", user.Username)
	assert.Equal(t, first.Add(time.Hour).Unix(), user.LastSeenAt.Unix())
	assert.Equal(t, first.Unix(), user.CreatedAt.Unix())

	missing, err := repo.GetUser(ctx, "nobody")
	require.NoError(t, err)
	assert.Nil(t, missing)

	require.NoError(t, repo.TouchUser(ctx, "7", "bob", first))
	total, active, err := repo.CountUsers(ctx, first.Add(30*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	assert.Equal(t, 1, active)
}

func TestTriggers(t *testing.T) {
	repo := newTestStore(t)
	ctx := context.Background()
	day := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)

	require.NoError(t, repo.AddTrigger(ctx, "42", day.Add(-2*time.Hour)))
	require.NoError(t, repo.AddTrigger(ctx, "42", day.Add(time.Hour)))
	require.NoError(t, repo.AddTrigger(ctx, "42", day.Add(2*time.Hour)))
	require.NoError(t, repo.AddTrigger(ctx, "7", day.Add(-time.Hour)))

	got, err := repo.ListTriggers(ctx, "42")
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.True(t, got[0].Before(got[1]))

	pruned, err := repo.PruneTriggers(ctx, "42", day)
	require.NoError(t, err)
	assert.Equal(t, int64(1), pruned)

	got, err = repo.ListTriggers(ctx, "42")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.True(t, got[0].Equal(day.Add(time.Hour)))
	assert.True(t, got[1].Equal(day.Add(2*time.Hour)))

	cleaned, err := repo.CleanupTriggers(ctx, day)
	require.NoError(t, err)
	assert.Equal(t, int64(1), cleaned)
}

func TestDispatchHistory(t *testing.T) {
	repo := newTestStore(t)
	ctx := context.Background()
	now := time.Now().Truncate(time.Second)

	old := &domain.DispatchRecord{
		UserID: "42", Codename: "marble", DeviceName: "POCO F5", Version: "OS1.0",
		APILevel: "34", Workflow: "android14.yml", Outcome: domain.OutcomeFailed,
		Error: "github: HTTP 422", CreatedAt: now.Add(-48 * time.Hour),
	}
	fresh := &domain.DispatchRecord{
		UserID: "42", Codename: "marble", DeviceName: "POCO F5", Version: "OS2.0",
		APILevel: "35", Workflow: "android15.yml", Outcome: domain.OutcomeComplete,
		CreatedAt: now,
	}
	require.NoError(t, repo.RecordDispatch(ctx, old))
	require.NoError(t, repo.RecordDispatch(ctx, fresh))
	assert.NotEmpty(t, old.ID)
	assert.NotEqual(t, old.ID, fresh.ID)

	recent, err := repo.RecentDispatches(ctx, 10)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, fresh.ID, recent[0].ID)
	assert.Equal(t, domain.OutcomeComplete, recent[0].Outcome)
	assert.Empty(t, recent[0].Error)
	assert.Equal(t, "github: HTTP 422", recent[1].Error)

	deleted, err := repo.CleanupDispatches(ctx, 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	recent, err = repo.RecentDispatches(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, recent, 1)
}
