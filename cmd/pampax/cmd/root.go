// Package cmd provides the pampax CLI: index, search, assemble, graph,
// rerank, remember, recall, token, cache, and health, one command per
// retrieval-turn stage.
package cmd

import (
	"github.com/spf13/cobra"

	"github.com/pampax/pampax/pkg/version"
)

// NewRootCmd creates the root command for the pampax CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "pampax",
		Short:   "Semantic code retrieval engine for LLM coding agents",
		Version: version.Version,
		Long: `pampax indexes a repository and answers one retrieval turn at a
time: classify the query's intent, pick a retrieval policy, run hybrid
search, optionally expand the call/inherit graph, and pack the result
into a token-budgeted bundle.

Each stage is also its own subcommand, so the pipeline can be driven
and inspected one piece at a time.`,
	}
	cmd.SetVersionTemplate("pampax version {{.Version}}\n")

	cmd.AddCommand(newIndexCmd())
	cmd.AddCommand(newSearchCmd())
	cmd.AddCommand(newAssembleCmd())
	cmd.AddCommand(newGraphCmd())
	cmd.AddCommand(newRerankCmd())
	cmd.AddCommand(newRememberCmd())
	cmd.AddCommand(newRecallCmd())
	cmd.AddCommand(newTokenCmd())
	cmd.AddCommand(newCacheCmd())
	cmd.AddCommand(newHealthCmd())

	return cmd
}

// Execute runs the root command.
func Execute() error {
	return NewRootCmd().Execute()
}
