// Command classsync is the classroom feed and attendance client.
package main

import (
	"fmt"
	"os"

	"github.com/cumba2321/classsync/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(cli.GetExitCode(err))
	}
}
