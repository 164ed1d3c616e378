// Package db opens the sqlite database that records upload sessions.
package db

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/apluslms/static-file-host/internal/utils"
)

const (
	memoryPath         = ":memory:"
	defaultBusyTimeout = 5 * time.Second
	// concurrent finalizers of different collections share one file
	defaultMaxOpenConns = 8
)

type options struct {
	path        string
	busyTimeout time.Duration
	schemas     []string
}

type SqliteOption func(*options)

// WithPath sets the database file. ":memory:" keeps everything in memory.
func WithPath(path string) SqliteOption {
	return func(o *options) {
		o.path = path
	}
}

// WithBusyTimeout bounds how long a writer waits for the database lock.
func WithBusyTimeout(d time.Duration) SqliteOption {
	return func(o *options) {
		o.busyTimeout = d
	}
}

// WithSchema runs idempotent DDL after the connection is opened.
func WithSchema(ddl string) SqliteOption {
	return func(o *options) {
		o.schemas = append(o.schemas, ddl)
	}
}

func pragmas(busyTimeout time.Duration) string {
	return strings.Join([]string{
		"PRAGMA journal_mode=WAL;",
		fmt.Sprintf("PRAGMA busy_timeout=%d;", busyTimeout.Milliseconds()),
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA temp_store=MEMORY;",
	}, "\n")
}

// NewSqliteDB opens a sqlite database, creating the file and its parent
// directory when missing.
func NewSqliteDB(opts ...SqliteOption) (*sqlx.DB, error) {
	o := &options{path: memoryPath, busyTimeout: defaultBusyTimeout}
	for _, opt := range opts {
		opt(o)
	}

	dsn, maxOpen := memoryPath, 1 // each pooled connection would get its own empty in-memory database
	if o.path != memoryPath {
		if err := utils.EnsureParent(o.path); err != nil {
			return nil, fmt.Errorf("ensure parent directory: %w", err)
		}
		dsn, maxOpen = fmt.Sprintf("file:%s?_txlock=immediate&mode=rwc", o.path), defaultMaxOpenConns
	}

	slog.Debug("db open", "driver", driverID, "path", o.path)
	db, err := sqlx.Connect(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(maxOpen)

	if _, err := db.Exec(pragmas(o.busyTimeout)); err != nil {
		db.Close()
		return nil, fmt.Errorf("set pragmas: %w", err)
	}
	for _, ddl := range o.schemas {
		if _, err := db.Exec(ddl); err != nil {
			db.Close()
			return nil, fmt.Errorf("apply schema: %w", err)
		}
	}
	return db, nil
}
