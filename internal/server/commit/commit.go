// Package commit publishes a completed staging tree as the live tree of a
// collection.
package commit

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/apluslms/static-file-host/internal/manifest"
	"github.com/apluslms/static-file-host/internal/server/collection"
	"github.com/apluslms/static-file-host/internal/server/session"
	"github.com/apluslms/static-file-host/internal/server/staging"
	"github.com/apluslms/static-file-host/internal/syncerr"
	"github.com/apluslms/static-file-host/internal/utils"
)

type Config struct {
	IndexFile       string
	VerifyChecksums bool
}

// Result summarises a successful publish.
type Result struct {
	Collection   string `json:"collection"`
	IndexModTime int64  `json:"index_mtime"`
	Files        int    `json:"files"`
	Uploaded     int    `json:"uploaded"`
	Removed      int    `json:"removed"`
	Created      bool   `json:"created"`
}

type Manager struct {
	collections *collection.Store
	sessions    *session.Store
	staging     *staging.Coordinator
	cfg         Config
	fs          fsOps
}

func New(collections *collection.Store, sessions *session.Store, coord *staging.Coordinator, cfg Config) *Manager {
	return &Manager{
		collections: collections,
		sessions:    sessions,
		staging:     coord,
		cfg:         cfg,
		fs:          osFS{},
	}
}

// Finalize publishes the session's staging tree. It holds the collection
// lock for the whole step and re-checks freshness under it: a session whose
// base version moved on is discarded with a StaleVersion error. Any failure
// before the swap leaves the live tree untouched.
func (m *Manager) Finalize(ctx context.Context, ref staging.Ref) (*Result, error) {
	sess, err := m.session(ctx, ref)
	if err != nil {
		return nil, err
	}
	if !sess.Completed {
		return nil, syncerr.E(syncerr.KindProtocol, "finalize", syncerr.ErrUploadIncomplete)
	}

	unlock, err := m.collections.Lock(ctx, sess.Collection)
	if err != nil {
		return nil, err
	}
	defer unlock()

	// a parallel finalize of the same session may have won the lock
	if sess, err = m.session(ctx, ref); err != nil {
		return nil, err
	}

	start := time.Now()
	current, exists, err := m.collections.LoadManifest(sess.Collection)
	if err != nil {
		return nil, syncerr.E(syncerr.KindCommit, "finalize", err)
	}

	if err := m.checkFresh(sess, current, exists); err != nil {
		if dErr := m.staging.Discard(ctx, sess); dErr != nil {
			slog.Warn("discard stale session", "session", sess.ID, "error", dErr)
		}
		return nil, err
	}

	merged := sess.Delta.Apply(current)
	if err := m.assemble(sess, merged); err != nil {
		return nil, err
	}
	if err := m.swap(sess, exists); err != nil {
		return nil, err
	}
	m.collections.Invalidate(sess.Collection)

	if err := m.staging.Discard(ctx, sess); err != nil {
		slog.Warn("post-commit cleanup", "session", sess.ID, "error", err)
	}

	result := &Result{
		Collection: sess.Collection,
		Files:      len(merged),
		Uploaded:   len(sess.Delta.New) + len(sess.Delta.Updated),
		Removed:    len(sess.Delta.Remove),
		Created:    !exists,
	}
	result.IndexModTime, _ = manifest.Version(merged, m.cfg.IndexFile)

	slog.Info("collection published", "collection", sess.Collection, "session", sess.ID,
		"files", result.Files, "uploaded", result.Uploaded, "removed", result.Removed,
		"took", time.Since(start))
	return result, nil
}

func (m *Manager) session(ctx context.Context, ref staging.Ref) (*session.Session, error) {
	sess, err := m.sessions.Get(ctx, ref.SessionID)
	if err != nil {
		return nil, err
	}
	if sess.Collection != ref.Collection {
		return nil, syncerr.Errorf(syncerr.KindNotFound, "finalize", "unknown session %q", ref.SessionID)
	}
	if ref.HasIndexTime && !manifest.SameTime(ref.IndexModTime, sess.ClaimedIndexModTime) {
		return nil, syncerr.Errorf(syncerr.KindProtocol, "finalize",
			"index mtime %d does not match session index mtime %d", ref.IndexModTime, sess.ClaimedIndexModTime)
	}
	return sess, nil
}

func (m *Manager) checkFresh(sess *session.Session, current manifest.Manifest, exists bool) error {
	if exists != sess.Existed {
		state := "created"
		if !exists {
			state = "deleted"
		}
		return syncerr.Errorf(syncerr.KindStaleVersion, "finalize",
			"collection %q was %s while the upload was in progress", sess.Collection, state)
	}
	if !exists {
		return nil
	}

	base, _ := manifest.Version(current, m.cfg.IndexFile)
	if !manifest.SameTime(base, sess.BaseIndexModTime) {
		return syncerr.Errorf(syncerr.KindStaleVersion, "finalize",
			"collection %q was published by another upload", sess.Collection)
	}
	if !manifest.Newer(sess.ClaimedIndexModTime, base) {
		return syncerr.Errorf(syncerr.KindStaleVersion, "finalize",
			"client version is not newer than the published version")
	}
	return nil
}

// assemble turns the staging tree into the complete next tree: unchanged
// files are linked in from the live tree, anything not in merged is pruned,
// uploads are verified and the manifest is written.
func (m *Manager) assemble(sess *session.Session, merged manifest.Manifest) error {
	tree := sess.TreeDir()
	live := m.collections.Path(sess.Collection)

	uploads := make(manifest.Manifest, len(sess.Delta.New)+len(sess.Delta.Updated))
	for p, e := range sess.Delta.New {
		uploads[p] = e
	}
	for p, e := range sess.Delta.Updated {
		uploads[p] = e
	}

	for p := range merged {
		if _, ok := uploads[p]; ok {
			continue
		}
		src := filepath.Join(live, filepath.FromSlash(p))
		dst := filepath.Join(tree, filepath.FromSlash(p))
		if err := m.fs.Link(src, dst); err != nil {
			return syncerr.E(syncerr.KindCommit, "finalize", fmt.Errorf("keep %s: %w", p, err))
		}
	}

	if err := prune(tree, merged); err != nil {
		return syncerr.E(syncerr.KindCommit, "finalize", err)
	}

	for p, e := range uploads {
		path := filepath.Join(tree, filepath.FromSlash(p))
		if !utils.FileExists(path) {
			return syncerr.Errorf(syncerr.KindCommit, "finalize", "uploaded file %s is missing from staging", p)
		}
		want, ok := e.Checksum()
		if !m.cfg.VerifyChecksums || !ok {
			continue
		}
		got, err := utils.FileHash(path)
		if err != nil {
			return syncerr.E(syncerr.KindCommit, "finalize", err)
		}
		if got != want {
			return syncerr.Errorf(syncerr.KindCommit, "finalize", "checksum mismatch for %s", p)
		}
	}

	if err := merged.Save(filepath.Join(tree, collection.ManifestFileName)); err != nil {
		return syncerr.E(syncerr.KindCommit, "finalize", err)
	}
	return nil
}

// prune removes every regular file below tree that merged does not list.
func prune(tree string, merged manifest.Manifest) error {
	return filepath.WalkDir(tree, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(tree, path)
		if err != nil {
			return err
		}
		if _, ok := merged[filepath.ToSlash(rel)]; ok {
			return nil
		}
		slog.Debug("prune staged file", "path", rel)
		return os.Remove(path)
	})
}

// swap makes the staging tree live. Afterwards the previous tree, if any,
// sits inside the session's staging directory.
func (m *Manager) swap(sess *session.Session, exists bool) error {
	tree := sess.TreeDir()
	live := m.collections.Path(sess.Collection)

	if !exists {
		if err := m.fs.Rename(tree, live); err != nil {
			return syncerr.E(syncerr.KindCommit, "swap", err)
		}
		return nil
	}

	err := m.fs.Exchange(tree, live)
	if err == nil {
		return nil
	}
	if !errors.Is(err, errExchangeUnsupported) {
		return syncerr.E(syncerr.KindCommit, "swap", err)
	}

	previous := filepath.Join(sess.StagingDir, "previous")
	if err := m.fs.Rename(live, previous); err != nil {
		return syncerr.E(syncerr.KindCommit, "swap", err)
	}
	if err := m.fs.Rename(tree, live); err != nil {
		if rbErr := m.fs.Rename(previous, live); rbErr != nil {
			slog.Error("swap rollback failed", "collection", sess.Collection, "previous", previous, "error", rbErr)
			return syncerr.E(syncerr.KindCommit, "swap", errors.Join(err, rbErr))
		}
		return syncerr.E(syncerr.KindCommit, "swap", err)
	}
	return nil
}
