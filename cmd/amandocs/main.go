// Command amandocs runs the local per-repository documentation
// indexing and retrieval engine: a JSON-RPC tool dispatcher over
// stdio, plus the CLI commands that build and inspect its index.
package main

import (
	"fmt"
	"os"

	"github.com/aman-cerp/amandocs/cmd/amandocs/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
