package commands

import (
	"path/filepath"

	"github.com/spf13/cobra"
	"go.trai.ch/kiln/internal/core/domain"
)

func (c *CLI) newCleanCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "clean",
		Short: "Remove cached environments and results",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			root := c.app.Config().Root
			target := filepath.Join(root, domain.KilnDirName)

			envsOnly, _ := cmd.Flags().GetBool("envs")
			if envsOnly {
				target = domain.DefaultEnvsPath(root)
			}

			if err := c.app.Clean(envsOnly); err != nil {
				return err
			}
			cmd.Printf("removed %s\n", target)
			return nil
		},
	}
	cmd.Flags().Bool("envs", false, "Remove only the isolated environments")
	return cmd
}
