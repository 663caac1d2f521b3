package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kfsone/fsfs-go/fsfs"
)

var treeRev int64

var treeCmd = &cobra.Command{
	Use:   "tree [path]",
	Short: "List a directory's subtree at a revision",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := "/"
		if len(args) > 0 {
			path = args[0]
		}
		repo, err := openRepo()
		if err != nil {
			return err
		}
		defer repo.Close()

		rev := fsfs.Revnum(treeRev)
		if treeRev < 0 {
			rev, err = repo.Youngest()
			if err != nil {
				return err
			}
		}
		root, err := repo.OpenRevisionRoot(rev)
		if err != nil {
			return err
		}
		return printTree(root, path, 0)
	},
}

func printTree(root *fsfs.RevisionRoot, path string, depth int) error {
	node, err := root.NodeRevisionAt(path)
	if err != nil {
		return err
	}
	fmt.Printf("%s%s\n", strings.Repeat("  ", depth), displayName(path))
	if node.Kind != fsfs.KindDir {
		return nil
	}
	dir, err := root.ReadDir(path)
	if err != nil {
		return err
	}
	for _, name := range dir.Names() {
		childPath := strings.TrimSuffix(path, "/") + "/" + name
		if err := printTree(root, childPath, depth+1); err != nil {
			return err
		}
	}
	return nil
}

func displayName(path string) string {
	if path == "/" {
		return "/"
	}
	parts := strings.Split(strings.TrimSuffix(path, "/"), "/")
	return parts[len(parts)-1]
}

func init() {
	treeCmd.Flags().Int64VarP(&treeRev, "revision", "r", -1, "revision to list (default youngest)")
	rootCmd.AddCommand(treeCmd)
}
