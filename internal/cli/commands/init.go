package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kfsone/fsfs-go/fsfs"
)

var initFormat int

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create a new repository",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		repo, err := fsfs.CreateRepository(repoPath, initFormat, diagnostics())
		if err != nil {
			return err
		}
		defer repo.Close()
		fmt.Printf("initialized format %d repository at %s (uuid %s)\n", initFormat, repoPath, repo.UUID)
		return nil
	},
}

func init() {
	initCmd.Flags().IntVar(&initFormat, "format", fsfs.MaxFormat, "repository format number")
	rootCmd.AddCommand(initCmd)
}
