package client

import (
	"context"
	"errors"
	"math/rand"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/apluslms/static-file-host/internal/client/packer"
	"github.com/apluslms/static-file-host/internal/db"
	"github.com/apluslms/static-file-host/internal/manifest"
	"github.com/apluslms/static-file-host/internal/server"
	"github.com/apluslms/static-file-host/internal/server/publish"
	"github.com/apluslms/static-file-host/internal/server/sweeper"
	"github.com/apluslms/static-file-host/internal/syncerr"
)

const testCollection = "course"

var baseTime = time.Unix(1_700_000_000, 0)

type harness struct {
	live   string
	site   string
	client *Client
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	cfg := &server.Config{
		HTTP: server.HTTPConfig{
			Addr:          server.DefaultAddr,
			MaxChunkSize:  "1KiB",
			MaxUploadSize: "1MiB",
		},
		DataDir: t.TempDir(),
		Publish: publish.Config{
			IndexFile:       manifest.DefaultIndexFile,
			VerifyChecksums: true,
			LockTimeout:     time.Second,
			Sweeper:         sweeper.Config{Interval: time.Hour, Retention: 24 * time.Hour},
		},
	}
	require.NoError(t, cfg.Resolve())
	require.NoError(t, cfg.Validate())

	database, err := db.NewSqliteDB(db.WithPath(cfg.SessionsDBPath()))
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })

	svc, err := server.NewServices(cfg, database)
	require.NoError(t, err)
	handler, err := server.SetupRoutes(cfg, svc)
	require.NoError(t, err)

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	site := t.TempDir()
	c, err := New(&Config{
		Root:       site,
		ServerURL:  srv.URL,
		Collection: testCollection,
		Packer: packer.Options{
			LargeThreshold: 2048,
			SmallThreshold: 1024,
			ChunkSize:      1024,
			TempDir:        t.TempDir(),
		},
	})
	require.NoError(t, err)

	return &harness{
		live:   filepath.Join(cfg.Publish.CollectionsDir, testCollection),
		site:   site,
		client: c,
	}
}

func (h *harness) write(t *testing.T, rel, content string, mtime time.Time) {
	t.Helper()
	p := filepath.Join(h.site, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	require.NoError(t, os.Chtimes(p, mtime, mtime))
}

func (h *harness) published(t *testing.T, rel string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(h.live, filepath.FromSlash(rel)))
	require.NoError(t, err)
	return string(data)
}

func noise(seed int64, n int) string {
	b := make([]byte, n)
	rand.New(rand.NewSource(seed)).Read(b)
	return string(b)
}

func TestSync_PublishThenUpdate(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.write(t, "index.html", "<h1>v1</h1>", baseTime)
	h.write(t, "css/site.css", "body{}", baseTime)
	h.write(t, "old.html", "gone soon", baseTime)
	h.write(t, "media/clip.bin", noise(1, 5000), baseTime)

	res, err := h.client.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, res.Files)
	assert.Equal(t, "<h1>v1</h1>", h.published(t, "index.html"))
	assert.Equal(t, noise(1, 5000), h.published(t, "media/clip.bin"))

	later := baseTime.Add(time.Minute)
	h.write(t, "index.html", "<h1>v2</h1>", later)
	h.write(t, "css/site.css", "body{color:red}", later)
	require.NoError(t, os.Remove(filepath.Join(h.site, "old.html")))

	res, err = h.client.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Files)
	assert.Equal(t, 2, res.Uploaded)
	assert.Equal(t, 1, res.Removed)
	assert.Equal(t, "<h1>v2</h1>", h.published(t, "index.html"))
	assert.Equal(t, "body{color:red}", h.published(t, "css/site.css"))
	assert.NoFileExists(t, filepath.Join(h.live, "old.html"))
	assert.NoFileExists(t, filepath.Join(h.site, ProcessFileName))
}

func TestSync_StaleVersion(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.write(t, "index.html", "<h1>v1</h1>", baseTime)

	_, err := h.client.Sync(ctx)
	require.NoError(t, err)

	// content changed but the index is not newer
	h.write(t, "index.html", "<h1>older build</h1>", baseTime)
	_, err = h.client.Sync(ctx)
	require.Error(t, err)
	assert.True(t, errors.Is(err, syncerr.StaleVersion))
	assert.Equal(t, "<h1>v1</h1>", h.published(t, "index.html"))
}

func TestUploadThenPublish(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.write(t, "index.html", "<h1>v1</h1>", baseTime)

	_, err := h.client.Publish(ctx)
	assert.ErrorIs(t, err, ErrNoProcess)

	up, err := h.client.Upload(ctx)
	require.NoError(t, err)
	assert.False(t, up.Exists)
	assert.Equal(t, []string{"index.html"}, up.Uploaded)
	assert.Equal(t, baseTime.UnixNano(), up.Process.IndexMtime)

	pending, err := h.client.Pending()
	require.NoError(t, err)
	assert.Equal(t, up.Process.ProcessID, pending.ProcessID)
	assert.NoDirExists(t, h.live)

	res, err := h.client.Publish(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Files)
	assert.Equal(t, "<h1>v1</h1>", h.published(t, "index.html"))

	_, err = h.client.Pending()
	assert.ErrorIs(t, err, ErrNoProcess)
}

func TestUpload_RequiresIndex(t *testing.T) {
	h := newHarness(t)
	h.write(t, "about.html", "about", baseTime)

	_, err := h.client.Upload(context.Background())
	require.Error(t, err)
	assert.Equal(t, syncerr.KindManifest, syncerr.KindOf(err))
}

func TestStatus(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.write(t, "index.html", "<h1>v1</h1>", baseTime)
	h.write(t, "js/app.js", "let a", baseTime)

	st, err := h.client.Status(ctx)
	require.NoError(t, err)
	assert.False(t, st.Exists)
	assert.True(t, st.Changed())
	assert.Contains(t, st.Tree(), "not published")

	_, err = h.client.Sync(ctx)
	require.NoError(t, err)

	later := baseTime.Add(time.Hour)
	h.write(t, "index.html", "<h1>v2</h1>", later)
	h.write(t, "img/logo.svg", "<svg/>", later)
	require.NoError(t, os.Remove(filepath.Join(h.site, "js", "app.js")))

	st, err = h.client.Status(ctx)
	require.NoError(t, err)
	assert.True(t, st.Exists)
	assert.False(t, st.Stale)

	tree := st.Tree()
	assert.Contains(t, tree, markUpdated+"index.html")
	assert.Contains(t, tree, "img/")
	assert.Contains(t, tree, markNew+"logo.svg")
	assert.Contains(t, tree, markRemoved+"app.js")
	assert.True(t, strings.HasPrefix(tree, testCollection))
}

func TestDeleteAndList(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.write(t, "index.html", "<h1>v1</h1>", baseTime)
	h.write(t, "extra/notes.txt", "notes", baseTime)

	_, err := h.client.Sync(ctx)
	require.NoError(t, err)

	list, err := h.client.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{testCollection}, list.Collections)

	_, err = h.client.Delete(ctx, "extra/notes.txt")
	require.NoError(t, err)
	assert.NoFileExists(t, filepath.Join(h.live, "extra", "notes.txt"))

	_, err = h.client.Delete(ctx, "")
	require.NoError(t, err)
	assert.NoDirExists(t, h.live)

	list, err = h.client.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, list.Collections)
}

func TestIgnoreEvent(t *testing.T) {
	c := &Client{config: &Config{Root: "/site"}}
	assert.True(t, c.ignoreEvent("/site/"+ProcessFileName))
	assert.True(t, c.ignoreEvent("/site/.git/index"))
	assert.True(t, c.ignoreEvent("/elsewhere/x"))
	assert.False(t, c.ignoreEvent("/site/css/site.css"))
}

func TestConfig_Validate(t *testing.T) {
	site := t.TempDir()
	cfg := &Config{Root: site, ServerURL: "http://localhost:8080", Collection: "c"}
	require.NoError(t, cfg.Validate())
	assert.Equal(t, manifest.DefaultIndexFile, cfg.IndexFile)
	assert.Equal(t, DefaultWatchDebounce, cfg.Debounce)

	missing := &Config{Root: filepath.Join(site, "nope"), ServerURL: "http://localhost:8080", Collection: "c"}
	assert.Error(t, missing.Validate())

	noURL := &Config{Root: site, Collection: "c"}
	assert.Error(t, noURL.Validate())
}
