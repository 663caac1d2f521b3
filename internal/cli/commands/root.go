package commands

import (
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/kfsone/fsfs-go/fsfs"
)

var (
	repoPath string
	verbose  bool
	log      = logrus.New()
)

var rootCmd = &cobra.Command{
	Use:   "fsfsadm",
	Short: "Inspect and administer fsfs-go versioned-filesystem repositories",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if verbose {
			log.SetLevel(logrus.DebugLevel)
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&repoPath, "repo", ".", "path to the repository")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.CompletionOptions.DisableDefaultCmd = true
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func diagnostics() fsfs.Diagnostics {
	return fsfs.NewLogrusDiagnostics(log)
}

func openRepo() (*fsfs.Repository, error) {
	return fsfs.OpenRepository(repoPath, diagnostics())
}
