package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kfsone/fsfs-go/fsfs"
)

var (
	fileRevsStart int64
	fileRevsEnd   int64
)

var fileRevsCmd = &cobra.Command{
	Use:   "file-revs <path>",
	Short: "List the revisions at which a file's text or properties changed",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		repo, err := openRepo()
		if err != nil {
			return err
		}
		defer repo.Close()

		end := fsfs.Revnum(fileRevsEnd)
		if fileRevsEnd < 0 {
			end, err = repo.Youngest()
			if err != nil {
				return err
			}
		}
		chunks, err := repo.FileRevisions(args[0], fsfs.Revnum(fileRevsStart), end)
		if err != nil {
			return err
		}
		for _, c := range chunks {
			textMark := " "
			if c.TextChanged {
				textMark = "T"
			}
			propMark := " "
			if len(c.PropDiff) > 0 {
				propMark = "P"
			}
			fmt.Printf("r%d [%s%s]\n", c.Revision, textMark, propMark)
		}
		return nil
	},
}

func init() {
	fileRevsCmd.Flags().Int64Var(&fileRevsStart, "start", 0, "first revision to consider")
	fileRevsCmd.Flags().Int64Var(&fileRevsEnd, "end", -1, "last revision to consider (default youngest)")
	rootCmd.AddCommand(fileRevsCmd)
}
