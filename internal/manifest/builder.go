package manifest

import (
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/apluslms/static-file-host/internal/syncerr"
	"github.com/apluslms/static-file-host/internal/utils"
	"github.com/spf13/afero"
)

// Builder walks a directory tree and records every visible regular file.
type Builder struct {
	fs       afero.Fs
	excludes []string
	useRules bool
}

type BuilderOption func(*Builder)

// WithFs replaces the OS filesystem, mostly for tests.
func WithFs(fs afero.Fs) BuilderOption {
	return func(b *Builder) {
		b.fs = fs
	}
}

// WithExcludes adds doublestar patterns matched against relative paths.
func WithExcludes(patterns ...string) BuilderOption {
	return func(b *Builder) {
		b.excludes = append(b.excludes, patterns...)
	}
}

// WithIgnoreRules enables the root ignore file and the default ignore lines.
func WithIgnoreRules() BuilderOption {
	return func(b *Builder) {
		b.useRules = true
	}
}

func NewBuilder(opts ...BuilderOption) *Builder {
	b := &Builder{fs: afero.NewOsFs()}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Build returns the manifest of root. Hidden files are skipped and hidden
// directories are not descended into.
func (b *Builder) Build(root string) (Manifest, error) {
	info, err := b.fs.Stat(root)
	if err != nil {
		return nil, syncerr.E(syncerr.KindTraversal, "build manifest", err)
	}
	if !info.IsDir() {
		return nil, syncerr.Errorf(syncerr.KindTraversal, "build manifest", "%s is not a directory", root)
	}

	var ignore *IgnoreList
	if b.useRules || len(b.excludes) > 0 {
		ignore = loadIgnoreList(b.fs, root, b.excludes)
		if !b.useRules {
			ignore.rules = nil
		}
	}

	m := Manifest{}
	err = afero.Walk(b.fs, root, func(path string, info fs.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if path == root {
			return nil
		}

		if utils.IsHidden(info.Name()) {
			if info.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)

		if ignore != nil && ignore.ShouldIgnore(rel, info.IsDir()) {
			if info.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		if info.IsDir() {
			return nil
		}
		if !info.Mode().IsRegular() {
			slog.Debug("manifest skip non-regular file", "path", rel, "mode", info.Mode().String())
			return nil
		}

		sum, err := b.checksum(path)
		if err != nil {
			return fmt.Errorf("hash %s: %w", rel, err)
		}
		m[rel] = Entry{ModTime: info.ModTime().UnixNano(), Signature: ChecksumPrefix + sum}
		return nil
	})
	if err != nil {
		return nil, syncerr.E(syncerr.KindTraversal, "build manifest", err)
	}

	return m, nil
}

func (b *Builder) checksum(path string) (string, error) {
	f, err := b.fs.OpenFile(path, os.O_RDONLY, 0)
	if err != nil {
		return "", err
	}
	defer f.Close()
	return utils.ReaderHash(f)
}

// Build is a shortcut for NewBuilder().Build(root).
func Build(root string) (Manifest, error) {
	return NewBuilder().Build(root)
}
