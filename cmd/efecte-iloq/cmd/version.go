package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

// newVersionCommand prints the build version.
func newVersionCommand(app Application) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), app.Version())
		},
	}
}
