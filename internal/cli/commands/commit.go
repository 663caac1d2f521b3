package commands

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	yaml "gopkg.in/yaml.v3"

	"github.com/kfsone/fsfs-go/fsfs"
)

// commitScript is the replay format a scripted commit reads (continuing
// the teacher's rules.go/report.go pattern of driving a tool off a small
// YAML document rather than a pile of flags).
type commitScript struct {
	Author  string       `yaml:"author"`
	Message string       `yaml:"message"`
	Ops     []commitOp   `yaml:"ops"`
}

type commitOp struct {
	Op      string     `yaml:"op"` // mkdir, add, modify, delete, copy, setprop
	Path    string     `yaml:"path"`
	Content string     `yaml:"content"`
	From    string     `yaml:"from"`
	To      string     `yaml:"to"`
	Rev     int64      `yaml:"rev"`
	Key     string     `yaml:"key"`
	Value   string     `yaml:"value"`
}

var commitScriptPath string

var commitCmd = &cobra.Command{
	Use:   "commit",
	Short: "Apply a replay script and commit it as a new revision",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(commitScriptPath)
		if err != nil {
			return err
		}
		var script commitScript
		if err := yaml.Unmarshal(data, &script); err != nil {
			return err
		}

		repo, err := openRepo()
		if err != nil {
			return err
		}
		defer repo.Close()

		base, err := repo.Youngest()
		if err != nil {
			return err
		}
		txn, err := fsfs.BeginTxn(repo, base)
		if err != nil {
			return err
		}

		if err := applyScript(repo, txn, script); err != nil {
			txn.AbortTxn()
			return err
		}

		revprops := fsfs.NewProperties()
		if script.Author != "" {
			revprops.Set("svn:author", script.Author)
		}
		if script.Message != "" {
			revprops.Set("svn:log", script.Message)
		}

		rev, err := fsfs.Commit(context.Background(), txn, nil, revprops)
		if err != nil {
			txn.AbortTxn()
			return err
		}
		fmt.Printf("committed r%d\n", rev)
		return nil
	},
}

// currentProperties fetches path's properties as they stood at the
// transaction's base revision, so a scripted "setprop" only changes the
// one key asked for rather than discarding everything else set on the
// node so far.
func currentProperties(repo *fsfs.Repository, txn *fsfs.Transaction, path string) (*fsfs.Properties, error) {
	root, err := repo.OpenRevisionRoot(txn.BaseRev)
	if err != nil {
		return nil, err
	}
	props, err := root.Properties(path)
	if err != nil {
		if fsfs.IsKind(err, fsfs.KindNoSuchPath) {
			return fsfs.NewProperties(), nil
		}
		return nil, err
	}
	return props, nil
}

func applyScript(repo *fsfs.Repository, txn *fsfs.Transaction, script commitScript) error {
	for i, op := range script.Ops {
		var err error
		switch op.Op {
		case "mkdir":
			err = txn.MakeDir(op.Path)
		case "add":
			err = txn.MakeFile(op.Path)
			if err == nil && op.Content != "" {
				err = txn.SetFileContents(op.Path, []byte(op.Content))
			}
		case "modify":
			err = txn.SetFileContents(op.Path, []byte(op.Content))
		case "delete":
			err = txn.Delete(op.Path)
		case "setprop":
			var props *fsfs.Properties
			props, err = currentProperties(repo, txn, op.Path)
			if err == nil {
				props.Set(op.Key, op.Value)
				err = txn.SetProperties(op.Path, props)
			}
		case "copy":
			var srcRoot *fsfs.RevisionRoot
			srcRoot, err = repo.OpenRevisionRoot(fsfs.Revnum(op.Rev))
			if err == nil {
				err = txn.CopyFrom(srcRoot, op.From, op.To)
			}
		default:
			err = fmt.Errorf("unknown op %q", op.Op)
		}
		if err != nil {
			return fmt.Errorf("op %d (%s %s): %w", i, op.Op, op.Path, err)
		}
	}
	return nil
}

func init() {
	commitCmd.Flags().StringVar(&commitScriptPath, "script", "", "path to a commit replay script (yaml)")
	commitCmd.MarkFlagRequired("script")
	rootCmd.AddCommand(commitCmd)
}
