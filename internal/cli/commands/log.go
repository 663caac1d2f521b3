package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	yaml "gopkg.in/yaml.v3"

	"github.com/kfsone/fsfs-go/fsfs"
)

var (
	logStart  int64
	logEnd    int64
	logFormat string
)

type logEntry struct {
	Revision Revnum   `yaml:"revision"`
	Author   string   `yaml:"author,omitempty"`
	Date     string   `yaml:"date,omitempty"`
	Message  string   `yaml:"message,omitempty"`
	Changed  []string `yaml:"changed,omitempty"`
}

// Revnum aliases fsfs.Revnum purely so the yaml tags above read cleanly;
// the CLI has no reason to import the storage package's own type name
// into its own vocabulary beyond that.
type Revnum = fsfs.Revnum

var logCmd = &cobra.Command{
	Use:   "log",
	Short: "Show revision history",
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
		start, end := fsfs.Revnum(logStart), fsfs.Revnum(logEnd)
		if logEnd < 0 {
			end = youngest
		}

		var entries []logEntry
		for rev := start; rev <= end; rev++ {
			props, err := repo.RevisionProperties(rev)
			if err != nil {
				return err
			}
			root, err := repo.OpenRevisionRoot(rev)
			if err != nil {
				return err
			}
			changes, err := root.ReadChanges()
			if err != nil {
				return err
			}
			author, _ := props.Get("svn:author")
			date, _ := props.Get("svn:date")
			message, _ := props.Get("svn:log")
			var changed []string
			for _, c := range changes {
				changed = append(changed, fmt.Sprintf("%s %s", c.Kind, c.Path))
			}
			entries = append(entries, logEntry{Revision: rev, Author: author, Date: date, Message: message, Changed: changed})
		}

		if logFormat == "yaml" {
			enc := yaml.NewEncoder(os.Stdout)
			enc.SetIndent(2)
			defer enc.Close()
			return enc.Encode(entries)
		}
		for _, e := range entries {
			fmt.Printf("r%d | %s | %s\n", e.Revision, e.Author, e.Date)
			if e.Message != "" {
				fmt.Printf("%s\n", e.Message)
			}
			for _, c := range e.Changed {
				fmt.Printf("   %s\n", c)
			}
			fmt.Println()
		}
		return nil
	},
}

func init() {
	logCmd.Flags().Int64Var(&logStart, "start", 0, "first revision to show")
	logCmd.Flags().Int64Var(&logEnd, "end", -1, "last revision to show (default youngest)")
	logCmd.Flags().StringVar(&logFormat, "format", "text", "output format: text or yaml")
	rootCmd.AddCommand(logCmd)
}
