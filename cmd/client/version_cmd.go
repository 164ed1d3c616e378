package main

import (
	"encoding/json"
	"fmt"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/apluslms/static-file-host/internal/version"
)

type versionInfo struct {
	Version   string `json:"version"`
	Revision  string `json:"revision"`
	BuildDate string `json:"build_date,omitempty"`
	Go        string `json:"go"`
	Platform  string `json:"platform"`
}

func init() {
	rootCmd.AddCommand(newVersionCmd())
}

func newVersionCmd() *cobra.Command {
	var short, asJSON bool
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print the sfh client version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			switch {
			case asJSON:
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(versionInfo{
					Version:   version.Version,
					Revision:  version.Revision,
					BuildDate: version.BuildDate,
					Go:        runtime.Version(),
					Platform:  runtime.GOOS + "/" + runtime.GOARCH,
				})
			case short:
				_, err := fmt.Fprintln(out, version.Version)
				return err
			default:
				_, err := fmt.Fprintln(out, version.DetailedWithApp())
				return err
			}
		},
	}
	cmd.Flags().BoolVar(&short, "short", false, "print only the version number")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print build details as JSON")
	cmd.MarkFlagsMutuallyExclusive("short", "json")
	return cmd
}
