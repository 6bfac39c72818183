// Command repc executes commands against Replicant stores.
package main

import (
	"os"

	"github.com/rocicorp/diff-server/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		cli.ReportError(os.Stderr, err)
		os.Exit(cli.GetExitCode(err))
	}
}
