// Package publish ties the diff, upload and finalize steps together behind
// the operations the HTTP handlers call.
package publish

import (
	"context"
	"io"
	"log/slog"

	"github.com/jmoiron/sqlx"

	"github.com/apluslms/static-file-host/internal/manifest"
	"github.com/apluslms/static-file-host/internal/server/collection"
	"github.com/apluslms/static-file-host/internal/server/commit"
	"github.com/apluslms/static-file-host/internal/server/session"
	"github.com/apluslms/static-file-host/internal/server/staging"
	"github.com/apluslms/static-file-host/internal/server/sweeper"
	"github.com/apluslms/static-file-host/internal/syncerr"
)

// DiffResult answers a diff request: what the client has to upload and the
// session the uploads belong to.
type DiffResult struct {
	Exists    bool              `json:"exists"`
	SessionID string            `json:"sessionId"`
	New       manifest.Manifest `json:"files_new"`
	Updated   manifest.Manifest `json:"files_update"`
	Keep      []string          `json:"files_keep"`
	Remove    []string          `json:"files_remove"`
}

type PublishService struct {
	config      *Config
	collections *collection.Store
	sessions    *session.Store
	staging     *staging.Coordinator
	commit      *commit.Manager
	sweeper     *sweeper.Sweeper
}

func NewPublishService(config *Config, db *sqlx.DB) (*PublishService, error) {
	collections, err := collection.NewStore(collection.Config{
		Root:        config.CollectionsDir,
		LockTimeout: config.LockTimeout,
		CacheSize:   config.ManifestCacheSize,
		CacheTTL:    config.ManifestCacheTTL,
	})
	if err != nil {
		return nil, err
	}

	sessions, err := session.NewStore(db)
	if err != nil {
		return nil, err
	}

	coord := staging.New(collections, sessions)
	return &PublishService{
		config:      config,
		collections: collections,
		sessions:    sessions,
		staging:     coord,
		commit: commit.New(collections, sessions, coord, commit.Config{
			IndexFile:       config.IndexFile,
			VerifyChecksums: config.VerifyChecksums,
		}),
		sweeper: sweeper.New(collections, sessions, config.Sweeper, nil),
	}, nil
}

func (s *PublishService) Start(ctx context.Context) error {
	slog.Debug("publish service start", "collections", s.config.CollectionsDir, "index", s.config.IndexFile)
	return s.sweeper.Start(ctx)
}

func (s *PublishService) Shutdown(ctx context.Context) error {
	slog.Debug("publish service shutdown")
	s.sweeper.Stop()
	return nil
}

// Diff compares the client manifest with the published one and opens an
// upload session for the result.
func (s *PublishService) Diff(ctx context.Context, name string, client manifest.Manifest) (*DiffResult, error) {
	if err := collection.ValidateName(name); err != nil {
		return nil, err
	}
	if err := client.Validate(); err != nil {
		return nil, syncerr.E(syncerr.KindManifest, "diff", err)
	}

	current, exists, err := s.collections.Manifest(name)
	if err != nil {
		return nil, syncerr.E(syncerr.KindCommit, "diff", err)
	}

	plan, err := manifest.NewPlan(client, current, exists, s.config.IndexFile)
	if err != nil {
		return nil, err
	}

	sess, err := s.staging.BeginSession(ctx, name, plan)
	if err != nil {
		return nil, err
	}

	return &DiffResult{
		Exists:    plan.Exists,
		SessionID: sess.ID,
		New:       plan.Delta.New,
		Updated:   plan.Delta.Updated,
		Keep:      plan.Delta.Keep,
		Remove:    plan.Delta.Remove,
	}, nil
}

func (s *PublishService) UploadChunk(ctx context.Context, ref staging.Ref, chunk staging.Chunk, body io.Reader) (*staging.Receipt, error) {
	return s.staging.ReceiveChunk(ctx, ref, chunk, body)
}

func (s *PublishService) UploadArchive(ctx context.Context, ref staging.Ref, fileIndex int, body io.Reader, lastFile bool) (*staging.Receipt, error) {
	return s.staging.ReceiveArchive(ctx, ref, fileIndex, body, lastFile)
}

func (s *PublishService) Finalize(ctx context.Context, ref staging.Ref) (*commit.Result, error) {
	return s.commit.Finalize(ctx, ref)
}

// Manifest returns the published manifest of a collection.
func (s *PublishService) Manifest(name string) (manifest.Manifest, error) {
	if err := collection.ValidateName(name); err != nil {
		return nil, err
	}
	m, exists, err := s.collections.Manifest(name)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, syncerr.Errorf(syncerr.KindNotFound, "manifest", "collection %q does not exist", name)
	}
	return m, nil
}

func (s *PublishService) Collections() ([]string, error) {
	return s.collections.List()
}

func (s *PublishService) DeleteCollection(ctx context.Context, name string) error {
	return s.collections.Delete(ctx, name)
}

func (s *PublishService) DeleteFile(ctx context.Context, name, path string) error {
	if err := collection.ValidateName(name); err != nil {
		return err
	}
	return s.collections.DeleteFile(ctx, name, path)
}

// PendingSessions returns the number of sessions not yet finalized or swept.
func (s *PublishService) PendingSessions(ctx context.Context) (int, error) {
	return s.sessions.Count(ctx)
}
