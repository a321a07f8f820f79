// Command pampax is the spec-native CLI: it indexes a repository and
// drives the retrieval engine (intent, policy, hybrid search, graph
// expansion, token-budgeted assembly) directly, one subcommand per
// stage, instead of going through the MCP server.
package main

import (
	"os"

	"github.com/pampax/pampax/cmd/pampax/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
