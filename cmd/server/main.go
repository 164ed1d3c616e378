package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/apluslms/static-file-host/internal/manifest"
	"github.com/apluslms/static-file-host/internal/server"
	"github.com/apluslms/static-file-host/internal/server/sweeper"
	"github.com/apluslms/static-file-host/internal/utils"
	"github.com/apluslms/static-file-host/internal/version"
)

const (
	envPrefix      = "SFH"
	logFileName    = "server.log"
	defaultDataDir = "data"
)

var rootCmd = &cobra.Command{
	Use:     "sfh-server",
	Short:   "Static file host server",
	Version: version.Detailed(),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		cmd.SilenceUsage = true

		closeLog, err := setupLogger(cfg)
		if err != nil {
			return err
		}
		defer closeLog()

		s, err := server.New(cfg)
		if err != nil {
			return err
		}
		defer slog.Info("Bye!")
		return s.Start(cmd.Context())
	},
}

func init() {
	rootCmd.Flags().SortFlags = false
	rootCmd.Flags().StringP("bind", "b", server.DefaultAddr, "Address to bind the server")
	rootCmd.Flags().StringP("data-dir", "d", defaultDataDir, "Directory for collections and session state")
	rootCmd.Flags().String("cert", "", "Path to the TLS certificate file")
	rootCmd.Flags().String("key", "", "Path to the TLS key file")
	rootCmd.Flags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringP("config", "c", "", "Config file (json, yaml or toml)")
}

func main() {
	// bootstrap logger until the config is known
	slog.SetDefault(slog.New(consoleHandler(slog.LevelInfo)))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func loadConfig(cmd *cobra.Command) (*server.Config, error) {
	v := viper.New()

	setDefaults(v)

	if f := cmd.Flag("config"); f != nil && f.Value.String() != "" {
		v.SetConfigFile(f.Value.String())
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config read '%s': %w", v.ConfigFileUsed(), err)
		}
	}

	v.BindPFlag("http.addr", cmd.Flags().Lookup("bind"))
	v.BindPFlag("http.cert_file", cmd.Flags().Lookup("cert"))
	v.BindPFlag("http.key_file", cmd.Flags().Lookup("key"))
	v.BindPFlag("data_dir", cmd.Flags().Lookup("data-dir"))
	v.BindPFlag("log_level", cmd.Flags().Lookup("log-level"))

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg server.Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config decode: %w", err)
	}
	if err := cfg.Resolve(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("data_dir", defaultDataDir)
	v.SetDefault("log_dir", "")
	v.SetDefault("log_level", "info")

	v.SetDefault("http.addr", server.DefaultAddr)
	v.SetDefault("http.cert_file", "")
	v.SetDefault("http.key_file", "")
	v.SetDefault("http.rate_limit", server.DefaultRateLimit)
	v.SetDefault("http.cors_origins", []string{})
	v.SetDefault("http.max_chunk_size", server.DefaultMaxChunkSize)
	v.SetDefault("http.max_upload_size", server.DefaultMaxUploadSize)

	v.SetDefault("auth.enabled", true)
	v.SetDefault("auth.issuer", "")
	v.SetDefault("auth.public_key_file", "")
	v.SetDefault("auth.secret", "")

	v.SetDefault("publish.collections_dir", "")
	v.SetDefault("publish.index_file", manifest.DefaultIndexFile)
	v.SetDefault("publish.verify_checksums", true)
	v.SetDefault("publish.lock_timeout", 5*time.Second)
	v.SetDefault("publish.manifest_cache_size", 128)
	v.SetDefault("publish.manifest_cache_ttl", 10*time.Minute)
	v.SetDefault("publish.sweeper.interval", sweeper.DefaultInterval)
	v.SetDefault("publish.sweeper.retention", sweeper.DefaultRetention)
}

func consoleHandler(level slog.Level) slog.Handler {
	return tint.NewHandler(os.Stdout, &tint.Options{
		Level:      level,
		TimeFormat: "2006-01-02T15:04:05.000Z07:00",
		NoColor:    !isatty.IsTerminal(os.Stdout.Fd()),
	})
}

// setupLogger logs to the console and to a file in the log directory.
func setupLogger(cfg *server.Config) (func(), error) {
	level := slog.LevelInfo
	if cfg.LogLevel != "" {
		if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
			return nil, fmt.Errorf("log level: %w", err)
		}
	}

	if err := utils.EnsureDir(cfg.LogDir); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}
	file, err := os.OpenFile(filepath.Join(cfg.LogDir, logFileName), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}

	fileHandler := slog.NewTextHandler(file, &slog.HandlerOptions{Level: level})
	slog.SetDefault(slog.New(utils.NewMultiLogHandler(consoleHandler(level), fileHandler)))

	return func() {
		if err := file.Close(); err != nil && !errors.Is(err, os.ErrClosed) {
			fmt.Fprintf(os.Stderr, "close log file: %v\n", err)
		}
	}, nil
}
