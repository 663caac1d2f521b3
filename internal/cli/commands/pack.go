package commands

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/kfsone/fsfs-go/fsfs"
)

var packCmd = &cobra.Command{
	Use:   "pack",
	Short: "Fold complete shards into pack files",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		repo, err := openRepo()
		if err != nil {
			return err
		}
		defer repo.Close()
		return fsfs.Pack(context.Background(), repo, diagnostics())
	},
}

func init() {
	rootCmd.AddCommand(packCmd)
}
