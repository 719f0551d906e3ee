package main

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/metal3-io/ironic-conformance/pkg/version"
)

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, version.String)
			fmt.Fprintf(out, "Commit: %s\n", version.Commit)
			fmt.Fprintf(out, "Built: %s\n", version.BuildTime)
			fmt.Fprintf(out, "Go: %s\n", runtime.Version())
		},
	}
}
