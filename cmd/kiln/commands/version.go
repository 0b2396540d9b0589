package commands

import (
	"github.com/spf13/cobra"
	"go.trai.ch/kiln/internal/build"
)

func (c *CLI) newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the application version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cmd.Printf("kiln version %s (commit: %s, date: %s)\n", build.Version, build.Commit, build.Date)
			return nil
		},
	}
}
