// Command debtsync refreshes the municipal debtor register from the remote
// tax-records worker.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/roach88/debtsync/internal/cli"
)

func main() {
	cmd := cli.NewRootCommand()
	if err := cmd.ExecuteContext(context.Background()); err != nil {
		// Formatted errors went to stdout; stderr always gets the plain one.
		fmt.Fprintln(os.Stderr, err)
		os.Exit(cli.GetExitCode(err))
	}
}
