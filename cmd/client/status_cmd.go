package main

import (
	"fmt"
	"io"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/apluslms/static-file-host/internal/client"
)

func init() {
	rootCmd.AddCommand(newStatusCmd(), newWatchCmd())
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show what the next sync would change",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient(cmd)
			if err != nil {
				return err
			}
			st, err := c.Status(cmd.Context())
			if err != nil {
				return err
			}
			printStatus(cmd.OutOrStdout(), st)
			return nil
		},
	}
}

func printStatus(w io.Writer, st *client.Status) {
	fmt.Fprint(w, st.Tree())
	if !st.Changed() {
		fmt.Fprintln(w, green("Up to date"))
	}
	if st.Stale && st.Changed() {
		fmt.Fprintf(w, "%s the index file is not newer than the published one, the server will reject this upload\n", yellow("WARNING"))
	}
	if st.Pending != nil {
		fmt.Fprintf(w, "%s upload %s from %s waits for %s\n",
			yellow("PENDING"), cyan(st.Pending.ProcessID),
			humanize.Time(st.Pending.CreatedAt), cyan("sfh publish"))
	}
}

func newWatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Sync whenever the site changes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient(cmd)
			if err != nil {
				return err
			}
			return c.Watch(cmd.Context())
		},
	}
	cmd.Flags().Duration("debounce", 2*time.Second, "Quiet period before a change is synced")
	return cmd
}
