package main

import (
	"fmt"
	"io"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/apluslms/static-file-host/internal/client"
	"github.com/apluslms/static-file-host/internal/transfersdk"
)

func init() {
	rootCmd.AddCommand(newSyncCmd(), newUploadCmd(), newPublishCmd())
}

func newSyncCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Upload changed files and publish them in one step",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient(cmd)
			if err != nil {
				return err
			}
			res, err := c.Sync(cmd.Context())
			if err != nil {
				return err
			}
			printFinalize(cmd.OutOrStdout(), res)
			return nil
		},
	}
}

func newUploadCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "upload",
		Short: "Upload changed files without publishing them",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient(cmd)
			if err != nil {
				return err
			}
			res, err := c.Upload(cmd.Context())
			if err != nil {
				return err
			}
			printUpload(cmd.OutOrStdout(), res)
			return nil
		},
	}
}

func newPublishCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "publish",
		Short: "Publish the files sent by a previous upload",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient(cmd)
			if err != nil {
				return err
			}
			res, err := c.Publish(cmd.Context())
			if err != nil {
				return err
			}
			printFinalize(cmd.OutOrStdout(), res)
			return nil
		},
	}
}

func printUpload(w io.Writer, res *client.UploadResult) {
	fmt.Fprintf(w, "%s session %s\n", green("UPLOADED"), cyan(res.Process.ProcessID))
	fmt.Fprintf(w, "  new or changed: %d, removed: %d, unchanged: %d\n", len(res.Uploaded), len(res.Removed), res.Kept)
	if res.Stats != nil && res.Stats.Bytes > 0 {
		fmt.Fprintf(w, "  sent %s in %d archive(s) and %d chunk(s)\n",
			humanize.IBytes(uint64(res.Stats.Bytes)), res.Stats.Archives, res.Stats.Chunks)
	}
	fmt.Fprintf(w, "Run %s to make the changes live\n", cyan("sfh publish"))
}

func printFinalize(w io.Writer, res *transfersdk.FinalizeResponse) {
	fmt.Fprintf(w, "%s %s\n", green("PUBLISHED"), res.Message)
	fmt.Fprintf(w, "  files: %d, uploaded: %d, removed: %d\n", res.Files, res.Uploaded, res.Removed)
}
