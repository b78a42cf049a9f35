// Command herd runs the constraint-driven job dispatcher and talks to a
// running instance over its HTTP API.
package main

import (
	"os"
)

var (
	version   = "0.1.0-dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
