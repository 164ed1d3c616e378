// Package session persists upload sessions between the diff request and finalize.
package session

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/apluslms/static-file-host/internal/manifest"
	"github.com/apluslms/static-file-host/internal/syncerr"
	"github.com/goccy/go-json"
	"github.com/jmoiron/sqlx"
)

const Schema = `
CREATE TABLE IF NOT EXISTS upload_sessions (
	id TEXT PRIMARY KEY,
	collection TEXT NOT NULL,
	created_at INTEGER NOT NULL,
	claimed_index_mtime INTEGER NOT NULL,
	base_index_mtime INTEGER NOT NULL,
	existed INTEGER NOT NULL,
	staging_dir TEXT NOT NULL,
	delta TEXT NOT NULL,
	completed INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_upload_sessions_collection ON upload_sessions(collection);
CREATE INDEX IF NOT EXISTS idx_upload_sessions_created_at ON upload_sessions(created_at);
`

// Session is one upload attempt against a collection.
type Session struct {
	ID         string
	Collection string
	CreatedAt  time.Time
	// ClaimedIndexModTime is the client tree version the upload claims to carry.
	ClaimedIndexModTime int64
	// BaseIndexModTime is the published version the delta was computed against.
	BaseIndexModTime int64
	// Existed records whether the collection was published when the session began.
	Existed    bool
	StagingDir string
	Delta      *manifest.Delta
	Completed  bool
}

// TreeDir holds the replacement tree being assembled.
func (s *Session) TreeDir() string {
	return filepath.Join(s.StagingDir, "tree")
}

// BlobsDir holds compressed uploads waiting for extraction.
func (s *Session) BlobsDir() string {
	return filepath.Join(s.StagingDir, "blobs")
}

type row struct {
	ID                string `db:"id"`
	Collection        string `db:"collection"`
	CreatedAt         int64  `db:"created_at"`
	ClaimedIndexMtime int64  `db:"claimed_index_mtime"`
	BaseIndexMtime    int64  `db:"base_index_mtime"`
	Existed           bool   `db:"existed"`
	StagingDir        string `db:"staging_dir"`
	Delta             string `db:"delta"`
	Completed         bool   `db:"completed"`
}

func (r *row) session() (*Session, error) {
	var delta manifest.Delta
	if err := json.Unmarshal([]byte(r.Delta), &delta); err != nil {
		return nil, fmt.Errorf("decode delta of session %s: %w", r.ID, err)
	}
	return &Session{
		ID:                  r.ID,
		Collection:          r.Collection,
		CreatedAt:           time.Unix(0, r.CreatedAt).UTC(),
		ClaimedIndexModTime: r.ClaimedIndexMtime,
		BaseIndexModTime:    r.BaseIndexMtime,
		Existed:             r.Existed,
		StagingDir:          r.StagingDir,
		Delta:               &delta,
		Completed:           r.Completed,
	}, nil
}

const selectColumns = `SELECT id, collection, created_at, claimed_index_mtime, base_index_mtime,
	existed, staging_dir, delta, completed FROM upload_sessions`

// Store keeps sessions in sqlite so they survive server restarts.
type Store struct {
	db *sqlx.DB
}

func NewStore(db *sqlx.DB) (*Store, error) {
	if _, err := db.Exec(Schema); err != nil {
		return nil, fmt.Errorf("init session schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (st *Store) Create(ctx context.Context, s *Session) error {
	delta, err := json.Marshal(s.Delta)
	if err != nil {
		return fmt.Errorf("encode delta: %w", err)
	}

	_, err = st.db.ExecContext(ctx,
		`INSERT INTO upload_sessions (id, collection, created_at, claimed_index_mtime, base_index_mtime,
			existed, staging_dir, delta, completed) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.ID, s.Collection, s.CreatedAt.UnixNano(), s.ClaimedIndexModTime, s.BaseIndexModTime,
		s.Existed, s.StagingDir, string(delta), s.Completed,
	)
	if err != nil {
		return fmt.Errorf("insert session %s: %w", s.ID, err)
	}
	return nil
}

// Get returns the session or a NotFound error.
func (st *Store) Get(ctx context.Context, id string) (*Session, error) {
	var r row
	err := st.db.GetContext(ctx, &r, selectColumns+` WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, syncerr.Errorf(syncerr.KindNotFound, "get session", "unknown session %q", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get session %s: %w", id, err)
	}
	return r.session()
}

func (st *Store) MarkCompleted(ctx context.Context, id string) error {
	res, err := st.db.ExecContext(ctx, `UPDATE upload_sessions SET completed = 1 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("complete session %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return syncerr.Errorf(syncerr.KindNotFound, "complete session", "unknown session %q", id)
	}
	return nil
}

// Delete removes the session row. Deleting an unknown session is not an error.
func (st *Store) Delete(ctx context.Context, id string) error {
	if _, err := st.db.ExecContext(ctx, `DELETE FROM upload_sessions WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete session %s: %w", id, err)
	}
	return nil
}

func (st *Store) ListByCollection(ctx context.Context, collection string) ([]*Session, error) {
	return st.list(ctx, selectColumns+` WHERE collection = ? ORDER BY created_at`, collection)
}

// ListCreatedBefore returns sessions older than t, oldest first.
func (st *Store) ListCreatedBefore(ctx context.Context, t time.Time) ([]*Session, error) {
	return st.list(ctx, selectColumns+` WHERE created_at < ? ORDER BY created_at`, t.UnixNano())
}

// StagingDirs returns the staging directory of every recorded session.
func (st *Store) StagingDirs(ctx context.Context) ([]string, error) {
	var dirs []string
	if err := st.db.SelectContext(ctx, &dirs, `SELECT staging_dir FROM upload_sessions`); err != nil {
		return nil, fmt.Errorf("list staging dirs: %w", err)
	}
	return dirs, nil
}

func (st *Store) list(ctx context.Context, query string, args ...any) ([]*Session, error) {
	var rows []row
	if err := st.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}

	sessions := make([]*Session, 0, len(rows))
	for i := range rows {
		s, err := rows[i].session()
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, s)
	}
	return sessions, nil
}

func (st *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := st.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM upload_sessions`); err != nil {
		return 0, err
	}
	return n, nil
}
