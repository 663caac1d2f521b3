package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kfsone/fsfs-go/fsfs"
)

var (
	deletedStart int64
	deletedEnd   int64
)

var deletedRevCmd = &cobra.Command{
	Use:   "deleted-rev <path>",
	Short: "Find the revision at which a path stopped existing",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		repo, err := openRepo()
		if err != nil {
			return err
		}
		defer repo.Close()

		end := fsfs.Revnum(deletedEnd)
		if deletedEnd < 0 {
			end, err = repo.Youngest()
			if err != nil {
				return err
			}
		}
		rev, err := repo.DeletedRevision(args[0], fsfs.Revnum(deletedStart), end)
		if err != nil {
			return err
		}
		if rev == fsfs.NoRevision {
			fmt.Println("not deleted in range")
			return nil
		}
		fmt.Println(rev)
		return nil
	},
}

func init() {
	deletedRevCmd.Flags().Int64Var(&deletedStart, "start", 0, "revision path is known to exist at")
	deletedRevCmd.Flags().Int64Var(&deletedEnd, "end", -1, "last revision to search (default youngest)")
	rootCmd.AddCommand(deletedRevCmd)
}
