package server

import (
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/dustin/go-humanize"

	"github.com/apluslms/static-file-host/internal/server/auth"
	"github.com/apluslms/static-file-host/internal/server/publish"
	"github.com/apluslms/static-file-host/internal/utils"
)

const (
	DefaultAddr          = "127.0.0.1:8080"
	DefaultMaxChunkSize  = "16MiB"
	DefaultMaxUploadSize = "256MiB"
	DefaultRateLimit     = "1200-M"
	sessionsDBName       = "sessions.db"
	collectionsDirName   = "collections"
)

type Config struct {
	HTTP     HTTPConfig     `mapstructure:"http"`
	DataDir  string         `mapstructure:"data_dir"`
	LogDir   string         `mapstructure:"log_dir"`
	LogLevel string         `mapstructure:"log_level"`
	Auth     auth.Config    `mapstructure:"auth"`
	Publish  publish.Config `mapstructure:"publish"`
}

type HTTPConfig struct {
	Addr     string `mapstructure:"addr"`
	CertFile string `mapstructure:"cert_file"`
	KeyFile  string `mapstructure:"key_file"`
	// RateLimit per client IP in limiter notation; empty disables limiting.
	RateLimit   string   `mapstructure:"rate_limit"`
	CORSOrigins []string `mapstructure:"cors_origins"`
	// Sizes are human readable, e.g. "16MiB".
	MaxChunkSize  string `mapstructure:"max_chunk_size"`
	MaxUploadSize string `mapstructure:"max_upload_size"`
}

func (c *HTTPConfig) TLSEnabled() bool {
	return c.CertFile != "" && c.KeyFile != ""
}

func (c *HTTPConfig) ChunkLimit() (int64, error) {
	return parseSize("max_chunk_size", c.MaxChunkSize)
}

func (c *HTTPConfig) UploadLimit() (int64, error) {
	return parseSize("max_upload_size", c.MaxUploadSize)
}

func parseSize(name, value string) (int64, error) {
	n, err := humanize.ParseBytes(value)
	if err != nil {
		return 0, fmt.Errorf("http `%s`: %w", name, err)
	}
	if n == 0 {
		return 0, fmt.Errorf("http `%s` must be positive", name)
	}
	return int64(n), nil
}

// Resolve expands paths and fills values derived from the data directory.
func (c *Config) Resolve() error {
	if c.DataDir == "" {
		return errors.New("`data_dir` is required")
	}
	dataDir, err := utils.ResolvePath(c.DataDir)
	if err != nil {
		return fmt.Errorf("resolve data_dir: %w", err)
	}
	c.DataDir = dataDir

	if c.LogDir == "" {
		c.LogDir = filepath.Join(c.DataDir, "logs")
	} else if c.LogDir, err = utils.ResolvePath(c.LogDir); err != nil {
		return fmt.Errorf("resolve log_dir: %w", err)
	}

	if c.Publish.CollectionsDir == "" {
		c.Publish.CollectionsDir = filepath.Join(c.DataDir, collectionsDirName)
	} else if c.Publish.CollectionsDir, err = utils.ResolvePath(c.Publish.CollectionsDir); err != nil {
		return fmt.Errorf("resolve collections_dir: %w", err)
	}
	return nil
}

func (c *Config) Validate() error {
	if c.HTTP.Addr == "" {
		return errors.New("http `addr` is required")
	}
	if (c.HTTP.CertFile == "") != (c.HTTP.KeyFile == "") {
		return errors.New("http `cert_file` and `key_file` must be set together")
	}
	chunk, err := c.HTTP.ChunkLimit()
	if err != nil {
		return err
	}
	upload, err := c.HTTP.UploadLimit()
	if err != nil {
		return err
	}
	if upload < chunk {
		return fmt.Errorf("http `max_upload_size` (%s) is smaller than `max_chunk_size` (%s)",
			humanize.IBytes(uint64(upload)), humanize.IBytes(uint64(chunk)))
	}
	if c.LogLevel != "" {
		var level slog.Level
		if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
			return fmt.Errorf("`log_level`: %w", err)
		}
	}
	if err := c.Auth.Validate(); err != nil {
		return err
	}
	if err := c.Publish.Validate(); err != nil {
		return err
	}
	return nil
}

func (c *Config) SessionsDBPath() string {
	return filepath.Join(c.DataDir, sessionsDBName)
}
