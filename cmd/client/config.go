package main

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/apluslms/static-file-host/internal/client"
)

const envPrefix = "SFH"

// legacyEnv lists variable names set by existing CI plugins.
var legacyEnv = map[string][]string{
	"server_url": {"SFH_SERVER_URL", "PLUGIN_API"},
	"token":      {"SFH_TOKEN", "PLUGIN_TOKEN"},
	"collection": {"SFH_COLLECTION", "PLUGIN_COURSE"},
}

var flagKeys = map[string]string{
	"root":       "root",
	"server":     "server_url",
	"token":      "token",
	"collection": "collection",
	"index-file": "index_file",
	"exclude":    "exclude",
	"no-ignore":  "no_ignore",
	"timeout":    "timeout",
	"debounce":   "debounce",
}

// loadConfig merges flags, SFH_* environment variables and the dotenv file.
// Flags win over the environment.
func loadConfig(cmd *cobra.Command) (*client.Config, error) {
	if envFile, _ := cmd.Flags().GetString("env-file"); envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load env file %q: %w", envFile, err)
		}
	}

	v := viper.New()
	for flag, key := range flagKeys {
		if f := cmd.Flags().Lookup(flag); f != nil {
			if err := v.BindPFlag(key, f); err != nil {
				return nil, err
			}
		}
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	for key, names := range legacyEnv {
		if err := v.BindEnv(append([]string{key}, names...)...); err != nil {
			return nil, err
		}
	}
	v.SetDefault("root", ".")
	v.SetDefault("index_file", "")
	v.SetDefault("exclude", []string{})
	v.SetDefault("no_ignore", false)
	v.SetDefault("timeout", 0)
	v.SetDefault("debounce", 0)

	var cfg client.Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config decode: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func newClient(cmd *cobra.Command) (*client.Client, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	cmd.SilenceUsage = true
	return client.New(cfg)
}
