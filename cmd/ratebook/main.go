// Command ratebook manages versioned insurance product configuration,
// change set approval and premium rating.
package main

import (
	"fmt"
	"os"

	"github.com/custodia-labs/ratebook/internal/adapters/driving/cli"
)

// version is set by the linker at release time.
var version = "dev"

func main() {
	cli.SetVersion(version)
	cli.SetBootstrap(bootstrap)
	if err := cli.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, cli.FormatError(err))
		os.Exit(1)
	}
}
