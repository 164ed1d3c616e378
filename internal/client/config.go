package client

import (
	"errors"
	"fmt"
	"time"

	"github.com/apluslms/static-file-host/internal/client/packer"
	"github.com/apluslms/static-file-host/internal/manifest"
	"github.com/apluslms/static-file-host/internal/transfersdk"
	"github.com/apluslms/static-file-host/internal/utils"
)

const DefaultWatchDebounce = 2 * time.Second

type Config struct {
	Root       string         `mapstructure:"root"`       // site build directory
	ServerURL  string         `mapstructure:"server_url"` // static file host base url
	Token      string         `mapstructure:"token"`      // bearer token for the collection
	Collection string         `mapstructure:"collection"` // collection identifier
	IndexFile  string         `mapstructure:"index_file"` // entry the server checks freshness on
	Excludes   []string       `mapstructure:"exclude"`    // extra glob patterns to leave out
	NoIgnore   bool           `mapstructure:"no_ignore"`  // skip the ignore file and default rules
	Timeout    time.Duration  `mapstructure:"timeout"`    // per request
	Debounce   time.Duration  `mapstructure:"debounce"`   // watch mode quiet period
	Packer     packer.Options `mapstructure:"-"`
}

func (c *Config) Validate() error {
	if c.Root == "" {
		return errors.New("site root is required")
	}
	root, err := utils.ResolvePath(c.Root)
	if err != nil {
		return fmt.Errorf("resolve root: %w", err)
	}
	c.Root = root
	if !utils.DirExists(c.Root) {
		return fmt.Errorf("site root %q is not a directory", c.Root)
	}
	if c.IndexFile == "" {
		c.IndexFile = manifest.DefaultIndexFile
	}
	if c.Debounce <= 0 {
		c.Debounce = DefaultWatchDebounce
	}
	return c.sdkConfig().Validate()
}

func (c *Config) sdkConfig() *transfersdk.Config {
	return &transfersdk.Config{
		BaseURL:    c.ServerURL,
		Collection: c.Collection,
		Token:      c.Token,
		Timeout:    c.Timeout,
	}
}
