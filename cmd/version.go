package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/smazurov/relaycast/internal/version"
)

// CreateVersionCmd creates the version command.
func CreateVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print build information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			info := version.Get()
			fmt.Fprintln(cmd.OutOrStdout(), version.String())
			fmt.Fprintf(cmd.OutOrStdout(), "built %s for %s\n", info.BuildDate, info.Platform)
		},
	}
}
