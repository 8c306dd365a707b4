// Command memstate runs the engine demo and inspects or replays journals.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/memstate/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(cli.GetExitCode(err))
	}
}
