// Package staging assembles uploaded content into per-session staging trees.
package staging

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"

	"github.com/apluslms/static-file-host/internal/archive"
	"github.com/apluslms/static-file-host/internal/manifest"
	"github.com/apluslms/static-file-host/internal/server/collection"
	"github.com/apluslms/static-file-host/internal/server/session"
	"github.com/apluslms/static-file-host/internal/syncerr"
	"github.com/apluslms/static-file-host/internal/utils"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
)

// Ref identifies the session an upload request belongs to, together with
// the tree version the client claims on that request.
type Ref struct {
	Collection   string
	SessionID    string
	IndexModTime int64
	HasIndexTime bool
}

// Chunk describes one piece of a chunked compressed file.
type Chunk struct {
	FileIndex  int
	ChunkIndex int
	ChunkSize  int64
	// Offset is the start of the chunk in the compressed stream, -1 if unknown.
	Offset   int64
	Last     bool
	LastFile bool
}

func (c Chunk) offset() int64 {
	if c.Offset >= 0 {
		return c.Offset
	}
	return int64(c.ChunkIndex) * c.ChunkSize
}

// Receipt reports what an upload request did to the session.
type Receipt struct {
	Completed bool
	Duplicate bool
	Extracted int
}

type Option func(*Coordinator)

func WithClock(clock clockwork.Clock) Option {
	return func(c *Coordinator) {
		c.clock = clock
	}
}

func WithIDGenerator(gen func() string) Option {
	return func(c *Coordinator) {
		c.newID = gen
	}
}

// Coordinator allocates staging directories and receives payloads into them.
type Coordinator struct {
	collections *collection.Store
	sessions    *session.Store
	clock       clockwork.Clock
	newID       func() string
	locks       *sessionLocks
}

func New(collections *collection.Store, sessions *session.Store, opts ...Option) *Coordinator {
	c := &Coordinator{
		collections: collections,
		sessions:    sessions,
		clock:       clockwork.NewRealClock(),
		newID:       uuid.NewString,
		locks:       newSessionLocks(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BeginSession records a new session for plan and creates its staging area.
// Sessions with nothing to upload start out completed.
func (c *Coordinator) BeginSession(ctx context.Context, name string, plan *manifest.Plan) (*session.Session, error) {
	id := c.newID()
	sess := &session.Session{
		ID:                  id,
		Collection:          name,
		CreatedAt:           c.clock.Now().UTC(),
		ClaimedIndexModTime: plan.Claimed,
		BaseIndexModTime:    plan.Base,
		Existed:             plan.Exists,
		StagingDir:          c.collections.StagingPath(name, id),
		Delta:               plan.Delta,
		Completed:           !plan.Delta.HasUploads(),
	}

	for _, dir := range []string{sess.TreeDir(), sess.BlobsDir()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			os.RemoveAll(sess.StagingDir)
			return nil, fmt.Errorf("create staging dir: %w", err)
		}
	}

	if err := c.sessions.Create(ctx, sess); err != nil {
		os.RemoveAll(sess.StagingDir)
		return nil, err
	}

	slog.Info("session begin", "collection", name, "session", id,
		"new", len(plan.Delta.New), "update", len(plan.Delta.Updated),
		"keep", len(plan.Delta.Keep), "remove", len(plan.Delta.Remove))
	return sess, nil
}

// open loads the session under its lock and checks the request against it.
func (c *Coordinator) open(ctx context.Context, ref Ref) (*session.Session, func(), error) {
	unlock := c.locks.lock(ref.SessionID)

	sess, err := c.sessions.Get(ctx, ref.SessionID)
	if err != nil {
		unlock()
		return nil, nil, err
	}
	if sess.Collection != ref.Collection {
		unlock()
		return nil, nil, syncerr.Errorf(syncerr.KindNotFound, "upload", "unknown session %q", ref.SessionID)
	}
	if ref.HasIndexTime && !manifest.SameTime(ref.IndexModTime, sess.ClaimedIndexModTime) {
		unlock()
		return nil, nil, syncerr.Errorf(syncerr.KindProtocol, "upload",
			"index mtime %d does not match session index mtime %d", ref.IndexModTime, sess.ClaimedIndexModTime)
	}
	return sess, unlock, nil
}

func blobPath(sess *session.Session, fileIndex int) string {
	return filepath.Join(sess.BlobsDir(), strconv.Itoa(fileIndex)+".tar.gz")
}

func donePath(sess *session.Session, fileIndex int) string {
	return filepath.Join(sess.BlobsDir(), strconv.Itoa(fileIndex)+".done")
}

// ReceiveChunk appends a chunk to the file's compressed blob when its offset
// equals the bytes received so far. Re-sent chunks are acknowledged without
// being written again; gaps and partial overlaps are protocol errors. The
// last chunk triggers extraction into the staging tree.
func (c *Coordinator) ReceiveChunk(ctx context.Context, ref Ref, chunk Chunk, body io.Reader) (*Receipt, error) {
	if chunk.FileIndex < 0 || chunk.ChunkIndex < 0 || chunk.ChunkSize <= 0 {
		return nil, syncerr.Errorf(syncerr.KindProtocol, "receive chunk",
			"invalid chunk header: file %d chunk %d size %d", chunk.FileIndex, chunk.ChunkIndex, chunk.ChunkSize)
	}

	sess, unlock, err := c.open(ctx, ref)
	if err != nil {
		return nil, err
	}
	defer unlock()

	if utils.FileExists(donePath(sess, chunk.FileIndex)) {
		return &Receipt{Duplicate: true, Completed: sess.Completed}, nil
	}
	if sess.Completed {
		return nil, syncerr.Errorf(syncerr.KindProtocol, "receive chunk", "session %s is already complete", sess.ID)
	}

	data, err := io.ReadAll(io.LimitReader(body, chunk.ChunkSize+1))
	if err != nil {
		return nil, syncerr.E(syncerr.KindUpload, "receive chunk", err)
	}
	if int64(len(data)) > chunk.ChunkSize {
		return nil, syncerr.Errorf(syncerr.KindProtocol, "receive chunk",
			"chunk body exceeds declared chunk size %d", chunk.ChunkSize)
	}

	blob := blobPath(sess, chunk.FileIndex)
	var received int64
	if info, err := os.Stat(blob); err == nil {
		received = info.Size()
	}

	offset := chunk.offset()
	end := offset + int64(len(data))
	duplicate := false

	switch {
	case offset == received:
		if err := appendFile(blob, data); err != nil {
			return nil, fmt.Errorf("append chunk: %w", err)
		}
		received = end
	case end <= received:
		duplicate = true
		slog.Debug("duplicate chunk", "session", sess.ID, "file", chunk.FileIndex, "offset", offset)
	default:
		return nil, syncerr.Errorf(syncerr.KindProtocol, "receive chunk",
			"file %d chunk %d: offset %d does not match received length %d",
			chunk.FileIndex, chunk.ChunkIndex, offset, received)
	}

	if !chunk.Last || end != received {
		return &Receipt{Duplicate: duplicate}, nil
	}

	return c.extract(ctx, sess, chunk.FileIndex, blob, chunk.LastFile)
}

// ReceiveArchive stores a whole compressed payload and extracts it. A
// negative fileIndex disables duplicate detection.
func (c *Coordinator) ReceiveArchive(ctx context.Context, ref Ref, fileIndex int, body io.Reader, lastFile bool) (*Receipt, error) {
	sess, unlock, err := c.open(ctx, ref)
	if err != nil {
		return nil, err
	}
	defer unlock()

	if fileIndex >= 0 && utils.FileExists(donePath(sess, fileIndex)) {
		return &Receipt{Duplicate: true, Completed: sess.Completed}, nil
	}
	if sess.Completed {
		return nil, syncerr.Errorf(syncerr.KindProtocol, "receive archive", "session %s is already complete", sess.ID)
	}

	tmp, err := os.CreateTemp(sess.BlobsDir(), "archive-*.tar.gz")
	if err != nil {
		return nil, fmt.Errorf("create archive blob: %w", err)
	}
	if _, err := io.Copy(tmp, body); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return nil, syncerr.E(syncerr.KindUpload, "receive archive", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return nil, err
	}

	return c.extract(ctx, sess, fileIndex, tmp.Name(), lastFile)
}

// extract unpacks blob into the staging tree. The blob is removed whatever
// the outcome; the staging tree is left for the sweeper on failure.
func (c *Coordinator) extract(ctx context.Context, sess *session.Session, fileIndex int, blob string, lastFile bool) (*Receipt, error) {
	files, err := archive.ExtractFile(blob, sess.TreeDir())
	if rmErr := os.Remove(blob); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
		slog.Warn("remove blob", "path", blob, "error", rmErr)
	}
	if err != nil {
		return nil, syncerr.E(syncerr.KindExtraction, "extract", err)
	}

	if fileIndex >= 0 {
		if err := os.WriteFile(donePath(sess, fileIndex), nil, 0o644); err != nil {
			return nil, fmt.Errorf("mark file %d done: %w", fileIndex, err)
		}
	}

	receipt := &Receipt{Extracted: len(files)}
	if lastFile {
		if err := c.sessions.MarkCompleted(ctx, sess.ID); err != nil {
			return nil, err
		}
		receipt.Completed = true
		slog.Info("session upload complete", "collection", sess.Collection, "session", sess.ID)
	}
	return receipt, nil
}

// Discard removes a session's staging area and its record.
func (c *Coordinator) Discard(ctx context.Context, sess *session.Session) error {
	if err := os.RemoveAll(sess.StagingDir); err != nil {
		return fmt.Errorf("remove staging dir: %w", err)
	}
	return c.sessions.Delete(ctx, sess.ID)
}

func appendFile(path string, data []byte) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
