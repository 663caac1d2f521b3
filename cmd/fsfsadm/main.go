package main

import (
	"fmt"
	"os"

	"github.com/kfsone/fsfs-go/internal/cli/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "fsfsadm:", err)
		os.Exit(1)
	}
}
