package main

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/apluslms/static-file-host/internal/transfersdk"
)

func init() {
	rootCmd.AddCommand(newDeleteCmd(), newListCmd())
}

func newDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete [path]",
		Short: "Delete one published file, or the whole collection with --all",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			all, _ := cmd.Flags().GetBool("all")
			path, err := deleteTarget(args, all)
			if err != nil {
				return err
			}
			c, err := newClient(cmd)
			if err != nil {
				return err
			}
			msg, err := c.Delete(cmd.Context(), path)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", green("DELETED"), msg)
			return nil
		},
	}
	cmd.Flags().Bool("all", false, "Delete the whole collection")
	return cmd
}

// deleteTarget returns the file to delete, empty for the whole collection.
func deleteTarget(args []string, all bool) (string, error) {
	switch {
	case all && len(args) > 0:
		return "", errors.New("give either a path or --all, not both")
	case all:
		return "", nil
	case len(args) == 0 || args[0] == "":
		return "", errors.New("a path is required, use --all to delete the collection")
	default:
		return args[0], nil
	}
}

func newListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List the collections on the server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient(cmd)
			if err != nil {
				return err
			}
			res, err := c.List(cmd.Context())
			if err != nil {
				return err
			}
			printCollections(cmd.OutOrStdout(), res)
			return nil
		},
	}
}

func printCollections(w io.Writer, res *transfersdk.CollectionsResponse) {
	fmt.Fprintf(w, "server %s\n", cyan(res.Version))
	for _, name := range res.Collections {
		fmt.Fprintln(w, "  "+name)
	}
}
