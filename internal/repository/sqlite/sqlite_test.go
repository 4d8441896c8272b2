package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deepsense/sandboxd/internal/apperror"
	"github.com/deepsense/sandboxd/internal/model"
	"github.com/deepsense/sandboxd/internal/repository"
)

// newTestDB opens a throwaway database file. A file, not ":memory:":
// the sql pool opens multiple connections and each in-memory connection
// would get its own empty database.
func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestExecutionStore_CreateAndGet(t *testing.T) {
	store := newTestDB(t).Executions()
	ctx := context.Background()

	rec := &model.ExecutionRecord{
		ID:          "sess-1",
		Language:    "python",
		State:       "Completed",
		ExitCode:    0,
		Duration:    1500 * time.Millisecond,
		StdoutBytes: 42,
		ImageCount:  2,
	}
	require.NoError(t, store.Create(ctx, rec))
	assert.False(t, rec.CreatedAt.IsZero(), "Create should stamp CreatedAt")

	got, err := store.GetByID(ctx, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, "python", got.Language)
	assert.Equal(t, "Completed", got.State)
	assert.Equal(t, 1500*time.Millisecond, got.Duration)
	assert.Equal(t, 42, got.StdoutBytes)
	assert.Equal(t, 2, got.ImageCount)
}

func TestExecutionStore_GetMissing(t *testing.T) {
	store := newTestDB(t).Executions()

	_, err := store.GetByID(context.Background(), "nope")
	assert.ErrorIs(t, err, apperror.ErrNotFound)
}

func TestExecutionStore_ListNewestFirst(t *testing.T) {
	store := newTestDB(t).Executions()
	ctx := context.Background()

	base := time.Now().UTC().Truncate(time.Second)
	for i, id := range []string{"old", "mid", "new"} {
		require.NoError(t, store.Create(ctx, &model.ExecutionRecord{
			ID:        id,
			Language:  "python",
			State:     "Completed",
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}))
	}

	records, err := store.List(ctx, repository.ListOptions{Limit: 2})
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "new", records[0].ID)
	assert.Equal(t, "mid", records[1].ID)

	// Offset-based pagination continues where the first page stopped.
	records, err = store.List(ctx, repository.ListOptions{Limit: 2, Offset: 2})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "old", records[0].ID)
}

func TestAPIKeyStore_UpsertAndGet(t *testing.T) {
	store := newTestDB(t).APIKeys()
	ctx := context.Background()

	key := &model.APIKey{Name: "ci", SecretHash: "hash-1"}
	require.NoError(t, store.Upsert(ctx, key))
	assert.NotEmpty(t, key.ID, "Upsert should mint an id when absent")

	got, err := store.GetByID(ctx, key.ID)
	require.NoError(t, err)
	assert.Equal(t, "ci", got.Name)
	assert.Equal(t, "hash-1", got.SecretHash)
	assert.Nil(t, got.LastUsedAt)
}

func TestAPIKeyStore_UpsertReplacesSecret(t *testing.T) {
	// The bootstrap path re-seeds the same key id on every start.
	store := newTestDB(t).APIKeys()
	ctx := context.Background()

	require.NoError(t, store.Upsert(ctx, &model.APIKey{ID: "boot", Name: "bootstrap", SecretHash: "h1"}))
	require.NoError(t, store.Upsert(ctx, &model.APIKey{ID: "boot", Name: "bootstrap", SecretHash: "h2"}))

	got, err := store.GetByID(ctx, "boot")
	require.NoError(t, err)
	assert.Equal(t, "h2", got.SecretHash)
}

func TestAPIKeyStore_TouchLastUsed(t *testing.T) {
	store := newTestDB(t).APIKeys()
	ctx := context.Background()

	require.NoError(t, store.Upsert(ctx, &model.APIKey{ID: "k", Name: "n", SecretHash: "h"}))
	require.NoError(t, store.TouchLastUsed(ctx, "k"))

	got, err := store.GetByID(ctx, "k")
	require.NoError(t, err)
	require.NotNil(t, got.LastUsedAt)
	assert.WithinDuration(t, time.Now().UTC(), *got.LastUsedAt, time.Minute)
}

func TestAPIKeyStore_GetMissing(t *testing.T) {
	store := newTestDB(t).APIKeys()

	_, err := store.GetByID(context.Background(), "ghost")
	assert.ErrorIs(t, err, apperror.ErrNotFound)
}
