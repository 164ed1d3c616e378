// Package collection owns the published trees and their manifests.
package collection

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/apluslms/static-file-host/internal/manifest"
	"github.com/apluslms/static-file-host/internal/syncerr"
	"github.com/apluslms/static-file-host/internal/utils"
	"github.com/gofrs/flock"
	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"
)

const (
	// ManifestFileName lives inside the published tree so both move together.
	ManifestFileName = ".manifest.json"
	StagingPrefix    = "temp_"
	locksDirName     = ".locks"
	lockRetryDelay   = 50 * time.Millisecond
)

var validName = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]{0,127}$`)

// ValidateName rejects identifiers that are not safe as a single directory name.
func ValidateName(name string) error {
	if !validName.MatchString(name) || strings.HasPrefix(name, StagingPrefix) {
		return syncerr.Errorf(syncerr.KindProtocol, "collection", "invalid collection name %q", name)
	}
	return nil
}

type Config struct {
	Root        string
	LockTimeout time.Duration
	CacheSize   int
	CacheTTL    time.Duration
}

// Store manages <root>/<collection> trees, their staging siblings and locks.
type Store struct {
	root        string
	locksDir    string
	lockTimeout time.Duration
	cache       *expirable.LRU[string, manifest.Manifest]

	// gens counts invalidations per collection; a load that overlaps one
	// must not be cached.
	mu   sync.Mutex
	gens map[string]uint64
}

func NewStore(cfg Config) (*Store, error) {
	if cfg.Root == "" {
		return nil, errors.New("collection root is required")
	}
	if cfg.LockTimeout <= 0 {
		cfg.LockTimeout = 5 * time.Second
	}
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = 128
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 10 * time.Minute
	}

	s := &Store{
		root:        cfg.Root,
		locksDir:    filepath.Join(cfg.Root, locksDirName),
		lockTimeout: cfg.LockTimeout,
		cache:       expirable.NewLRU[string, manifest.Manifest](cfg.CacheSize, nil, cfg.CacheTTL),
		gens:        make(map[string]uint64),
	}
	if err := utils.EnsureDir(s.locksDir); err != nil {
		return nil, fmt.Errorf("create collection root: %w", err)
	}
	return s, nil
}

func (s *Store) Root() string {
	return s.root
}

// Path is the live directory of a collection.
func (s *Store) Path(name string) string {
	return filepath.Join(s.root, name)
}

// ManifestPath is the persisted manifest of a collection.
func (s *Store) ManifestPath(name string) string {
	return filepath.Join(s.Path(name), ManifestFileName)
}

// StagingPath is the per-session working area, a sibling of the live tree
// so the final rename never crosses filesystems.
func (s *Store) StagingPath(name, sessionID string) string {
	return filepath.Join(s.root, StagingPrefix+name+"_"+sessionID)
}

func (s *Store) Exists(name string) bool {
	return utils.DirExists(s.Path(name))
}

// Manifest returns the published manifest, served from cache when possible.
// The returned map is shared and must not be modified.
func (s *Store) Manifest(name string) (manifest.Manifest, bool, error) {
	if m, ok := s.cache.Get(name); ok {
		return m, true, nil
	}

	gen := s.generation(name)
	m, exists, err := s.LoadManifest(name)
	if err != nil || !exists {
		return m, exists, err
	}
	s.cacheIfCurrent(name, gen, m)
	return m, true, nil
}

func (s *Store) generation(name string) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gens[name]
}

// cacheIfCurrent stores m unless the collection was invalidated after gen
// was read, in which case m may predate the change.
func (s *Store) cacheIfCurrent(name string, gen uint64, m manifest.Manifest) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gens[name] != gen {
		return false
	}
	s.cache.Add(name, m)
	return true
}

// LoadManifest reads the manifest from disk, bypassing the cache. A
// collection directory without a manifest file has an empty manifest.
func (s *Store) LoadManifest(name string) (manifest.Manifest, bool, error) {
	if !s.Exists(name) {
		return nil, false, nil
	}
	m, err := manifest.Load(s.ManifestPath(name))
	if errors.Is(err, os.ErrNotExist) {
		return manifest.Manifest{}, true, nil
	}
	if err != nil {
		return nil, true, err
	}
	return m, true, nil
}

// Invalidate drops the cached manifest after the live tree changed.
func (s *Store) Invalidate(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gens[name]++
	s.cache.Remove(name)
}

// Lock takes the exclusive per-collection lock, waiting at most the
// configured timeout. Contention yields a Concurrency error.
func (s *Store) Lock(ctx context.Context, name string) (unlock func(), err error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}

	lockCtx, cancel := context.WithTimeout(ctx, s.lockTimeout)
	defer cancel()

	fl := flock.New(filepath.Join(s.locksDir, name+".lock"))
	locked, err := fl.TryLockContext(lockCtx, lockRetryDelay)
	if err != nil && !errors.Is(err, context.DeadlineExceeded) {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("lock collection %s: %w", name, err)
	}
	if !locked {
		return nil, syncerr.Errorf(syncerr.KindConcurrency, "lock", "collection %q is busy, retry later", name)
	}

	return func() {
		if err := fl.Unlock(); err != nil {
			slog.Error("collection unlock", "collection", name, "error", err)
		}
	}, nil
}

// List returns the names of published collections.
func (s *Store) List() ([]string, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, err
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() || utils.IsHidden(e.Name()) || strings.HasPrefix(e.Name(), StagingPrefix) {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names, nil
}

// Delete removes a published collection. The tree is first renamed into a
// staging name so it disappears in one step; a failed removal is left for
// the sweeper.
func (s *Store) Delete(ctx context.Context, name string) error {
	unlock, err := s.Lock(ctx, name)
	if err != nil {
		return err
	}
	defer unlock()

	if !s.Exists(name) {
		return syncerr.Errorf(syncerr.KindNotFound, "delete collection", "collection %q does not exist", name)
	}

	trash := s.StagingPath(name, "deleted-"+uuid.NewString())
	if err := os.Rename(s.Path(name), trash); err != nil {
		return syncerr.E(syncerr.KindCommit, "delete collection", err)
	}
	s.Invalidate(name)

	if err := os.RemoveAll(trash); err != nil {
		slog.Warn("collection delete leftover", "collection", name, "path", trash, "error", err)
	}
	return nil
}

// DeleteFile removes one published file and its manifest entry under the
// collection lock. The manifest is rewritten before the file goes away.
func (s *Store) DeleteFile(ctx context.Context, name, rel string) error {
	cleaned, err := utils.CleanRelPath(rel)
	if err != nil || utils.HasHiddenElem(cleaned) {
		return syncerr.Errorf(syncerr.KindProtocol, "delete file", "invalid file path %q", rel)
	}

	unlock, err := s.Lock(ctx, name)
	if err != nil {
		return err
	}
	defer unlock()

	m, exists, err := s.LoadManifest(name)
	if err != nil {
		return fmt.Errorf("delete file: %w", err)
	}
	if !exists {
		return syncerr.Errorf(syncerr.KindNotFound, "delete file", "collection %q does not exist", name)
	}
	if _, ok := m[cleaned]; !ok {
		return syncerr.Errorf(syncerr.KindNotFound, "delete file", "%q is not part of collection %q", cleaned, name)
	}

	updated := m.Clone()
	delete(updated, cleaned)
	if err := updated.Save(s.ManifestPath(name)); err != nil {
		return syncerr.E(syncerr.KindCommit, "delete file", err)
	}
	s.Invalidate(name)

	target := filepath.Join(s.Path(name), filepath.FromSlash(cleaned))
	if err := os.Remove(target); err != nil && !errors.Is(err, os.ErrNotExist) {
		return syncerr.E(syncerr.KindCommit, "delete file", err)
	}
	return nil
}

// StagingEntry is a staging directory found on disk.
type StagingEntry struct {
	Name    string
	Path    string
	ModTime time.Time
}

// StagingEntries lists every directory using the staging naming convention.
func (s *Store) StagingEntries() ([]StagingEntry, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, err
	}

	var out []StagingEntry
	for _, e := range entries {
		if !e.IsDir() || !strings.HasPrefix(e.Name(), StagingPrefix) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		out = append(out, StagingEntry{
			Name:    e.Name(),
			Path:    filepath.Join(s.root, e.Name()),
			ModTime: info.ModTime(),
		})
	}
	return out, nil
}
