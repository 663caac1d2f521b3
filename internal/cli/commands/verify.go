package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kfsone/fsfs-go/fsfs"
)

var (
	verifyStart int64
	verifyEnd   int64
)

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Check representation integrity across a revision range",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		repo, err := openRepo()
		if err != nil {
			return err
		}
		defer repo.Close()

		youngest, err := repo.Youngest()
		if err != nil {
			return err
		}
		start, end := fsfs.Revnum(verifyStart), fsfs.Revnum(verifyEnd)
		if verifyEnd < 0 {
			end = youngest
		}

		report, err := fsfs.Verify(context.Background(), repo, start, end)
		if err != nil {
			return err
		}
		for _, p := range report.Problems {
			fmt.Println(p)
		}
		fmt.Printf("checked %d revisions, %d nodes, %d problems\n",
			report.RevisionsChecked, report.NodesChecked, len(report.Problems))
		if !report.OK() {
			return fmt.Errorf("verify found %d problem(s)", len(report.Problems))
		}
		return nil
	},
}

func init() {
	verifyCmd.Flags().Int64Var(&verifyStart, "start", 0, "first revision to verify")
	verifyCmd.Flags().Int64Var(&verifyEnd, "end", -1, "last revision to verify (default youngest)")
	rootCmd.AddCommand(verifyCmd)
}
