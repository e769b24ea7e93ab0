// ABOUTME: version subcommand
// ABOUTME: Prints product and version information
package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/harperreed/berkeley-go/internal/version"
)

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version.String())
		},
	}
}
