// Command repoqa answers questions about a source repository. It runs as
// an MCP stdio server (serve) or as a one-shot CLI over the same pipeline.
package main

import (
	"os"
)

var (
	version   = "dev"
	buildTime = "unknown"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
