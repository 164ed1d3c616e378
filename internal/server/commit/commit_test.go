package commit

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/apluslms/static-file-host/internal/archive"
	"github.com/apluslms/static-file-host/internal/db"
	"github.com/apluslms/static-file-host/internal/manifest"
	"github.com/apluslms/static-file-host/internal/server/collection"
	"github.com/apluslms/static-file-host/internal/server/session"
	"github.com/apluslms/static-file-host/internal/server/staging"
	"github.com/apluslms/static-file-host/internal/syncerr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const course = "course"

var t0 = time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)

type fixture struct {
	mgr         *Manager
	coord       *staging.Coordinator
	sessions    *session.Store
	collections *collection.Store
	client      string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	root := t.TempDir()

	database, err := db.NewSqliteDB(db.WithPath(filepath.Join(root, "sessions.db")))
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })

	sessions, err := session.NewStore(database)
	require.NoError(t, err)
	collections, err := collection.NewStore(collection.Config{
		Root:        filepath.Join(root, "collections"),
		LockTimeout: 200 * time.Millisecond,
	})
	require.NoError(t, err)

	coord := staging.New(collections, sessions)
	mgr := New(collections, sessions, coord, Config{IndexFile: manifest.DefaultIndexFile, VerifyChecksums: true})

	return &fixture{
		mgr:         mgr,
		coord:       coord,
		sessions:    sessions,
		collections: collections,
		client:      filepath.Join(root, "client"),
	}
}

// write creates or replaces a client file with the given mtime.
func (f *fixture) write(t *testing.T, rel, content string, mtime time.Time) {
	t.Helper()
	path := filepath.Join(f.client, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	require.NoError(t, os.Chtimes(path, mtime, mtime))
}

func (f *fixture) remove(t *testing.T, rel string) {
	t.Helper()
	require.NoError(t, os.Remove(filepath.Join(f.client, filepath.FromSlash(rel))))
}

// stage runs the diff and upload steps against the client directory and
// returns the completed session.
func (f *fixture) stage(t *testing.T) *session.Session {
	t.Helper()
	ctx := context.Background()

	client, err := manifest.Build(f.client)
	require.NoError(t, err)
	current, exists, err := f.collections.Manifest(course)
	require.NoError(t, err)
	plan, err := manifest.NewPlan(client, current, exists, manifest.DefaultIndexFile)
	require.NoError(t, err)

	sess, err := f.coord.BeginSession(ctx, course, plan)
	require.NoError(t, err)

	if uploads := plan.Delta.Uploads(); len(uploads) > 0 {
		var buf bytes.Buffer
		require.NoError(t, archive.Write(&buf, f.client, uploads))
		_, err := f.coord.ReceiveArchive(ctx, refOf(sess), 0, &buf, true)
		require.NoError(t, err)
	}

	sess, err = f.sessions.Get(ctx, sess.ID)
	require.NoError(t, err)
	return sess
}

func refOf(sess *session.Session) staging.Ref {
	return staging.Ref{Collection: sess.Collection, SessionID: sess.ID, IndexModTime: sess.ClaimedIndexModTime, HasIndexTime: true}
}

func (f *fixture) live(t *testing.T, rel string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(f.collections.Path(course), filepath.FromSlash(rel)))
	require.NoError(t, err)
	return string(data)
}

func TestFinalize_FirstPublish(t *testing.T) {
	f := newFixture(t)
	f.write(t, "index.html", "v1", t0)
	f.write(t, "css/site.css", "body{}", t0)

	sess := f.stage(t)
	res, err := f.mgr.Finalize(context.Background(), refOf(sess))
	require.NoError(t, err)

	assert.True(t, res.Created)
	assert.Equal(t, 2, res.Files)
	assert.Equal(t, t0.UnixNano(), res.IndexModTime)
	assert.Equal(t, "v1", f.live(t, "index.html"))
	assert.Equal(t, "body{}", f.live(t, "css/site.css"))
	assert.NoDirExists(t, sess.StagingDir)

	m, exists, err := f.collections.Manifest(course)
	require.NoError(t, err)
	assert.True(t, exists)
	assert.Len(t, m, 2)

	_, err = f.sessions.Get(context.Background(), sess.ID)
	assert.ErrorIs(t, err, syncerr.NotFound)
}

func TestFinalize_UpdateKeepRemove(t *testing.T) {
	f := newFixture(t)
	f.write(t, "index.html", "v1", t0)
	f.write(t, "keep.txt", "keep", t0)
	f.write(t, "gone.txt", "gone", t0)
	_, err := f.mgr.Finalize(context.Background(), refOf(f.stage(t)))
	require.NoError(t, err)

	t1 := t0.Add(time.Hour)
	f.write(t, "index.html", "v2", t1)
	f.write(t, "new.txt", "new", t1)
	f.remove(t, "gone.txt")

	sess := f.stage(t)
	assert.Equal(t, []string{"keep.txt"}, sess.Delta.Keep)
	assert.Equal(t, []string{"gone.txt"}, sess.Delta.Remove)

	res, err := f.mgr.Finalize(context.Background(), refOf(sess))
	require.NoError(t, err)
	assert.False(t, res.Created)
	assert.Equal(t, 2, res.Uploaded)
	assert.Equal(t, 1, res.Removed)

	assert.Equal(t, "v2", f.live(t, "index.html"))
	assert.Equal(t, "keep", f.live(t, "keep.txt"))
	assert.Equal(t, "new", f.live(t, "new.txt"))
	assert.NoFileExists(t, filepath.Join(f.collections.Path(course), "gone.txt"))

	m, _, err := f.collections.Manifest(course)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"index.html", "keep.txt", "new.txt"}, m.Paths())
	assert.Equal(t, t1.UnixNano(), m["index.html"].ModTime)
}

func TestFinalize_ConcurrentSessionsLastLoses(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.write(t, "index.html", "v1", t0)
	_, err := f.mgr.Finalize(ctx, refOf(f.stage(t)))
	require.NoError(t, err)

	f.write(t, "index.html", "v2", t0.Add(time.Minute))
	first := f.stage(t)
	f.write(t, "index.html", "v3", t0.Add(2*time.Minute))
	second := f.stage(t)

	_, err = f.mgr.Finalize(ctx, refOf(second))
	require.NoError(t, err)

	_, err = f.mgr.Finalize(ctx, refOf(first))
	assert.ErrorIs(t, err, syncerr.StaleVersion)
	assert.NoDirExists(t, first.StagingDir)
	assert.Equal(t, "v3", f.live(t, "index.html"))
}

func TestFinalize_CollectionCreatedMeanwhile(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.write(t, "index.html", "v1", t0)
	a := f.stage(t)
	b := f.stage(t)

	_, err := f.mgr.Finalize(ctx, refOf(a))
	require.NoError(t, err)
	_, err = f.mgr.Finalize(ctx, refOf(b))
	assert.ErrorIs(t, err, syncerr.StaleVersion)
}

func TestFinalize_Incomplete(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.write(t, "index.html", "v1", t0)

	client, err := manifest.Build(f.client)
	require.NoError(t, err)
	plan, err := manifest.NewPlan(client, nil, false, manifest.DefaultIndexFile)
	require.NoError(t, err)
	sess, err := f.coord.BeginSession(ctx, course, plan)
	require.NoError(t, err)

	_, err = f.mgr.Finalize(ctx, refOf(sess))
	assert.ErrorIs(t, err, syncerr.Protocol)
	assert.ErrorIs(t, err, syncerr.ErrUploadIncomplete)
	assert.DirExists(t, sess.StagingDir)
}

func TestFinalize_WrongCollectionOrIndex(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.write(t, "index.html", "v1", t0)
	sess := f.stage(t)

	ref := refOf(sess)
	ref.Collection = "other"
	_, err := f.mgr.Finalize(ctx, ref)
	assert.ErrorIs(t, err, syncerr.NotFound)

	ref = refOf(sess)
	ref.IndexModTime = 1
	_, err = f.mgr.Finalize(ctx, ref)
	assert.ErrorIs(t, err, syncerr.Protocol)
}

func TestFinalize_ChecksumMismatchKeepsLiveTree(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.write(t, "index.html", "v1", t0)
	_, err := f.mgr.Finalize(ctx, refOf(f.stage(t)))
	require.NoError(t, err)

	f.write(t, "index.html", "v2", t0.Add(time.Hour))
	sess := f.stage(t)
	require.NoError(t, os.WriteFile(filepath.Join(sess.TreeDir(), "index.html"), []byte("tampered"), 0o644))

	_, err = f.mgr.Finalize(ctx, refOf(sess))
	assert.ErrorIs(t, err, syncerr.Commit)
	assert.Equal(t, "v1", f.live(t, "index.html"))
	assert.DirExists(t, sess.StagingDir)
}

func TestFinalize_PrunesExtraneousStagedFiles(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.write(t, "index.html", "v1", t0)
	sess := f.stage(t)
	require.NoError(t, os.WriteFile(filepath.Join(sess.TreeDir(), "stray.txt"), []byte("x"), 0o644))

	_, err := f.mgr.Finalize(ctx, refOf(sess))
	require.NoError(t, err)
	assert.NoFileExists(t, filepath.Join(f.collections.Path(course), "stray.txt"))
}

func TestFinalize_LockedCollection(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.write(t, "index.html", "v1", t0)
	sess := f.stage(t)

	unlock, err := f.collections.Lock(ctx, course)
	require.NoError(t, err)
	defer unlock()

	_, err = f.mgr.Finalize(ctx, refOf(sess))
	assert.ErrorIs(t, err, syncerr.Concurrency)
}

// faultyFS forces the three-step swap and can fail chosen renames.
type faultyFS struct {
	osFS
	renames  int
	failNth  int
	failWith error
}

func (f *faultyFS) Exchange(a, b string) error {
	return errExchangeUnsupported
}

func (f *faultyFS) Rename(oldpath, newpath string) error {
	f.renames++
	if f.renames == f.failNth {
		return f.failWith
	}
	return f.osFS.Rename(oldpath, newpath)
}

func TestFinalize_RenameFallback(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.write(t, "index.html", "v1", t0)
	_, err := f.mgr.Finalize(ctx, refOf(f.stage(t)))
	require.NoError(t, err)

	f.mgr.fs = &faultyFS{}
	f.write(t, "index.html", "v2", t0.Add(time.Hour))
	sess := f.stage(t)
	_, err = f.mgr.Finalize(ctx, refOf(sess))
	require.NoError(t, err)
	assert.Equal(t, "v2", f.live(t, "index.html"))
	assert.NoDirExists(t, sess.StagingDir)
}

func TestFinalize_SwapFailureRollsBack(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.write(t, "index.html", "v1", t0)
	_, err := f.mgr.Finalize(ctx, refOf(f.stage(t)))
	require.NoError(t, err)

	f.mgr.fs = &faultyFS{failNth: 2, failWith: errors.New("disk on fire")}
	f.write(t, "index.html", "v2", t0.Add(time.Hour))
	sess := f.stage(t)

	_, err = f.mgr.Finalize(ctx, refOf(sess))
	assert.ErrorIs(t, err, syncerr.Commit)
	assert.Equal(t, "v1", f.live(t, "index.html"))

	m, _, err := f.collections.LoadManifest(course)
	require.NoError(t, err)
	assert.Equal(t, t0.UnixNano(), m["index.html"].ModTime)
}
