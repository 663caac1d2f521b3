package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var datedRevCmd = &cobra.Command{
	Use:   "dated-rev <RFC3339-timestamp>",
	Short: "Print the youngest revision committed at or before a timestamp",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		when, err := time.Parse(time.RFC3339, args[0])
		if err != nil {
			return err
		}
		repo, err := openRepo()
		if err != nil {
			return err
		}
		defer repo.Close()

		rev, err := repo.DatedRevision(when)
		if err != nil {
			return err
		}
		fmt.Println(rev)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(datedRevCmd)
}
