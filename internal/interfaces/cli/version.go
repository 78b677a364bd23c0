package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// NewVersionCmd prints build information for bug reports and deploy checks.
func NewVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version and build information",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintf(cmd.OutOrStdout(), "rxmi %s\ncommit: %s\nbuilt:  %s\n", Version, GitCommit, BuildDate)
			return nil
		},
	}
}
