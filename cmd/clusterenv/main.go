// Command clusterenv starts coordination, broker and worker clusters from a
// topology file.
package main

import (
	"fmt"
	"os"

	"github.com/giantswarm/clusterenv/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "clusterenv:", err)
		os.Exit(1)
	}
}
