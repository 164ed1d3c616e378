// Package sweeper removes abandoned upload sessions and staging directories.
package sweeper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/apluslms/static-file-host/internal/server/collection"
	"github.com/apluslms/static-file-host/internal/server/session"
	"github.com/apluslms/static-file-host/internal/syncerr"
	"github.com/jonboulle/clockwork"
)

const (
	DefaultInterval  = 24 * time.Hour
	DefaultRetention = 24 * time.Hour
	MinRetention     = time.Hour
)

type Config struct {
	Interval  time.Duration `mapstructure:"interval"`
	Retention time.Duration `mapstructure:"retention"`
}

func (c *Config) Validate() error {
	if c.Interval <= 0 {
		return fmt.Errorf("sweep interval must be positive, got %s", c.Interval)
	}
	if c.Retention < MinRetention {
		return fmt.Errorf("staging retention must be at least %s, got %s", MinRetention, c.Retention)
	}
	return nil
}

// Result counts what a single pass removed.
type Result struct {
	Sessions int
	Dirs     int
}

type Sweeper struct {
	collections *collection.Store
	sessions    *session.Store
	cfg         Config
	clock       clockwork.Clock

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func New(collections *collection.Store, sessions *session.Store, cfg Config, clock clockwork.Clock) *Sweeper {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Sweeper{
		collections: collections,
		sessions:    sessions,
		cfg:         cfg,
		clock:       clock,
	}
}

// Start runs one pass right away and then one per interval until Stop or
// until ctx is done. Failures are logged, never returned.
func (s *Sweeper) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return errors.New("sweeper already running")
	}

	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	ticker := s.clock.NewTicker(s.cfg.Interval)
	go func() {
		defer close(s.done)
		defer ticker.Stop()

		s.run(ctx)
		for {
			select {
			case <-ctx.Done():
				slog.Debug("sweeper stopped")
				return
			case <-ticker.Chan():
				s.run(ctx)
			}
		}
	}()

	slog.Debug("sweeper started", "interval", s.cfg.Interval, "retention", s.cfg.Retention)
	return nil
}

func (s *Sweeper) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
}

func (s *Sweeper) run(ctx context.Context) {
	start := s.clock.Now()
	res, err := s.Sweep(ctx)
	if err != nil {
		slog.Error("sweeper", "error", err)
	}
	if res.Sessions > 0 || res.Dirs > 0 {
		slog.Info("sweeper pass", "sessions", res.Sessions, "dirs", res.Dirs, "took", s.clock.Since(start))
	}
}

// Sweep makes a single pass. Sessions older than the retention period are
// dropped together with their staging directories, then staging
// directories that no session owns and that were last modified before the
// retention period are removed. A collection that is locked is skipped until the next pass.
func (s *Sweeper) Sweep(ctx context.Context) (Result, error) {
	var res Result
	var errs []error
	cutoff := s.clock.Now().Add(-s.cfg.Retention)

	expired, err := s.sessions.ListCreatedBefore(ctx, cutoff)
	if err != nil {
		return res, fmt.Errorf("list expired sessions: %w", err)
	}

	for _, sess := range expired {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		removed, err := s.dropSession(ctx, sess)
		if err != nil {
			errs = append(errs, fmt.Errorf("session %s: %w", sess.ID, err))
			continue
		}
		if removed {
			res.Sessions++
		}
	}

	owned, err := s.sessions.StagingDirs(ctx)
	if err != nil {
		errs = append(errs, err)
		return res, errors.Join(errs...)
	}
	ownedSet := mapset.NewThreadUnsafeSet(owned...)

	entries, err := s.collections.StagingEntries()
	if err != nil {
		errs = append(errs, fmt.Errorf("list staging dirs: %w", err))
		return res, errors.Join(errs...)
	}
	for _, e := range entries {
		if ownedSet.Contains(e.Path) || !e.ModTime.Before(cutoff) {
			continue
		}
		if err := os.RemoveAll(e.Path); err != nil {
			errs = append(errs, fmt.Errorf("remove %s: %w", e.Name, err))
			continue
		}
		slog.Debug("sweeper removed staging dir", "dir", e.Name, "modtime", e.ModTime)
		res.Dirs++
	}

	return res, errors.Join(errs...)
}

func (s *Sweeper) dropSession(ctx context.Context, sess *session.Session) (bool, error) {
	unlock, err := s.collections.Lock(ctx, sess.Collection)
	if errors.Is(err, syncerr.Concurrency) {
		slog.Debug("sweeper skipped busy collection", "collection", sess.Collection, "session", sess.ID)
		return false, nil
	}
	if err != nil {
		return false, err
	}
	defer unlock()

	if err := os.RemoveAll(sess.StagingDir); err != nil {
		return false, err
	}
	if err := s.sessions.Delete(ctx, sess.ID); err != nil {
		return false, err
	}
	slog.Debug("sweeper dropped session", "collection", sess.Collection, "session", sess.ID, "created", sess.CreatedAt)
	return true, nil
}
