package commands

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/kfsone/fsfs-go/fsfs"
)

var catRev int64

var catCmd = &cobra.Command{
	Use:   "cat <path>",
	Short: "Print a file's contents at a revision",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		repo, err := openRepo()
		if err != nil {
			return err
		}
		defer repo.Close()

		rev := fsfs.Revnum(catRev)
		if catRev < 0 {
			rev, err = repo.Youngest()
			if err != nil {
				return err
			}
		}
		root, err := repo.OpenRevisionRoot(rev)
		if err != nil {
			return err
		}
		data, err := root.ReadFile(args[0])
		if err != nil {
			return err
		}
		_, err = os.Stdout.Write(data)
		return err
	},
}

func init() {
	catCmd.Flags().Int64VarP(&catRev, "revision", "r", -1, "revision to read from (default youngest)")
	rootCmd.AddCommand(catCmd)
}
