// Command flowguard runs the booking flow integrity engine.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/flowguard/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
