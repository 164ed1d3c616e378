package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/apluslms/static-file-host/internal/syncerr"
	"github.com/apluslms/static-file-host/internal/version"
)

var (
	red    = color.New(color.FgHiRed, color.Bold).SprintFunc()
	green  = color.New(color.FgHiGreen).SprintFunc()
	yellow = color.New(color.FgHiYellow).SprintFunc()
	cyan   = color.New(color.FgHiCyan).SprintFunc()
)

var rootCmd = &cobra.Command{
	Use:           "sfh",
	Short:         "Publish a static site to a static file host",
	Version:       version.Detailed(),
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		verbose, _ := cmd.Flags().GetBool("verbose")
		setupLogger(verbose)
		return nil
	},
}

func init() {
	addConfigFlags(rootCmd)
}

func addConfigFlags(cmd *cobra.Command) {
	flags := cmd.PersistentFlags()
	flags.SortFlags = false
	flags.StringP("root", "r", ".", "Site build directory")
	flags.StringP("server", "s", "", "Static file host URL")
	flags.StringP("token", "t", "", "Bearer token for the collection")
	flags.StringP("collection", "C", "", "Collection to publish into")
	flags.String("index-file", "", "Entry file whose modification time versions the site")
	flags.StringSlice("exclude", nil, "Extra glob patterns to leave out")
	flags.Bool("no-ignore", false, "Do not apply the ignore file and default exclusions")
	flags.Duration("timeout", 0, "Per request timeout")
	flags.String("env-file", ".env", "Dotenv file with SFH_* settings")
	flags.BoolP("verbose", "v", false, "Enable debug logging")
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	err := rootCmd.ExecuteContext(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s %v\n", red("ERROR"), err)
	}
	stop()
	os.Exit(exitCode(err))
}

func setupLogger(verbose bool) {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(tint.NewHandler(os.Stderr, &tint.Options{
		Level:      level,
		TimeFormat: "15:04:05.000",
		NoColor:    !isatty.IsTerminal(os.Stderr.Fd()),
	})))
}

// exitCode maps failures to stable process exit codes for CI pipelines.
func exitCode(err error) int {
	if err == nil {
		return 0
	}
	if errors.Is(err, context.Canceled) {
		return 130
	}
	switch syncerr.KindOf(err) {
	case syncerr.KindAuth:
		return 3
	case syncerr.KindManifest, syncerr.KindTraversal:
		return 4
	case syncerr.KindStaleVersion:
		return 5
	case syncerr.KindProtocol, syncerr.KindNotFound:
		return 6
	case syncerr.KindUpload, syncerr.KindExtraction:
		return 7
	case syncerr.KindConcurrency:
		return 8
	case syncerr.KindCommit:
		return 9
	default:
		return 1
	}
}
