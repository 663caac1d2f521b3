package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kfsone/fsfs-go/fsfs"
)

var hotcopyCmd = &cobra.Command{
	Use:   "hotcopy <destination>",
	Short: "Create or refresh a replica of the repository",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rev, err := fsfs.HotCopy(context.Background(), repoPath, args[0], diagnostics())
		if err != nil {
			return err
		}
		fmt.Printf("copied through r%d\n", rev)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(hotcopyCmd)
}
