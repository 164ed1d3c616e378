package publish

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/apluslms/static-file-host/internal/server/sweeper"
)

type Config struct {
	// CollectionsDir holds the live trees and the staging directories.
	CollectionsDir    string         `mapstructure:"collections_dir"`
	IndexFile         string         `mapstructure:"index_file"`
	VerifyChecksums   bool           `mapstructure:"verify_checksums"`
	LockTimeout       time.Duration  `mapstructure:"lock_timeout"`
	ManifestCacheSize int            `mapstructure:"manifest_cache_size"`
	ManifestCacheTTL  time.Duration  `mapstructure:"manifest_cache_ttl"`
	Sweeper           sweeper.Config `mapstructure:"sweeper"`
}

func (c *Config) Validate() error {
	if c.CollectionsDir == "" {
		return fmt.Errorf("publish `collections_dir` is required")
	}
	if !filepath.IsAbs(c.CollectionsDir) {
		return fmt.Errorf("publish `collections_dir` must be an absolute path, got %q", c.CollectionsDir)
	}
	if c.LockTimeout <= 0 {
		return fmt.Errorf("publish `lock_timeout` must be positive")
	}
	if err := c.Sweeper.Validate(); err != nil {
		return fmt.Errorf("publish sweeper: %w", err)
	}
	return nil
}
