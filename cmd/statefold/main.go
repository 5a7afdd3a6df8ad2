// Command statefold folds contract events into application state.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/statefold/internal/cli"
)

func main() {
	cmd := cli.NewRootCommand()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(cli.GetExitCode(err))
	}
}
