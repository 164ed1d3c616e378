package session

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/apluslms/static-file-host/internal/db"
	"github.com/apluslms/static-file-host/internal/manifest"
	"github.com/apluslms/static-file-host/internal/syncerr"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	database, err := db.NewSqliteDB(db.WithPath(filepath.Join(t.TempDir(), "sessions.db")))
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })

	store, err := NewStore(database)
	require.NoError(t, err)
	return store
}

func newSession(collection string, createdAt time.Time) *Session {
	return &Session{
		ID:                  uuid.NewString(),
		Collection:          collection,
		CreatedAt:           createdAt,
		ClaimedIndexModTime: 200,
		BaseIndexModTime:    100,
		Existed:             true,
		StagingDir:          "/data/temp_" + collection,
		Delta: &manifest.Delta{
			New:     manifest.Manifest{"a.txt": {ModTime: 5, Signature: "sha256:aa"}},
			Updated: manifest.Manifest{},
			Keep:    []string{"index.html"},
			Remove:  []string{"old.txt"},
		},
	}
}

func TestStore_CreateGet(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	created := time.Date(2024, 1, 1, 10, 0, 0, 42, time.UTC)
	s := newSession("course-a", created)
	require.NoError(t, store.Create(ctx, s))

	got, err := store.Get(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, s.Collection, got.Collection)
	assert.True(t, got.CreatedAt.Equal(created))
	assert.Equal(t, int64(200), got.ClaimedIndexModTime)
	assert.Equal(t, int64(100), got.BaseIndexModTime)
	assert.True(t, got.Existed)
	assert.False(t, got.Completed)
	assert.Equal(t, s.Delta, got.Delta)
	assert.Equal(t, filepath.Join(s.StagingDir, "tree"), got.TreeDir())

	_, err = store.Get(ctx, "missing")
	assert.ErrorIs(t, err, syncerr.NotFound)
}

func TestStore_CompleteAndDelete(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	s := newSession("course-a", time.Now())
	require.NoError(t, store.Create(ctx, s))
	require.NoError(t, store.MarkCompleted(ctx, s.ID))

	got, err := store.Get(ctx, s.ID)
	require.NoError(t, err)
	assert.True(t, got.Completed)

	require.NoError(t, store.Delete(ctx, s.ID))
	require.NoError(t, store.Delete(ctx, s.ID))
	assert.ErrorIs(t, store.MarkCompleted(ctx, s.ID), syncerr.NotFound)
}

func TestStore_Listing(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	now := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

	old := newSession("a", now.Add(-48*time.Hour))
	recent := newSession("a", now.Add(-time.Hour))
	other := newSession("b", now.Add(-72*time.Hour))
	for _, s := range []*Session{old, recent, other} {
		require.NoError(t, store.Create(ctx, s))
	}

	expired, err := store.ListCreatedBefore(ctx, now.Add(-24*time.Hour))
	require.NoError(t, err)
	require.Len(t, expired, 2)
	assert.Equal(t, other.ID, expired[0].ID)
	assert.Equal(t, old.ID, expired[1].ID)

	byCollection, err := store.ListByCollection(ctx, "a")
	require.NoError(t, err)
	assert.Len(t, byCollection, 2)

	n, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	dirs, err := store.StagingDirs(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"/data/temp_a", "/data/temp_a", "/data/temp_b"}, dirs)
}

func TestStore_ConcurrentCreate(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, store.Create(ctx, newSession("c", time.Now())))
		}()
	}
	wg.Wait()

	n, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 50, n)
}
