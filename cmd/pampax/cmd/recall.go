package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pampax/pampax/internal/store"
)

func newRecallCmd() *cobra.Command {
	var (
		path   string
		scope  string
		limit  int
		format string
	)

	cmd := &cobra.Command{
		Use:   "recall <query>",
		Short: "Search persisted memories by value/key substring",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := openEnvironment(cmd.Context(), path, true)
			if err != nil {
				return err
			}
			defer env.Close()

			memories, err := env.Storage.SearchMemories(cmd.Context(), args[0], store.MemoryScope(scope), limit)
			if err != nil {
				return fmt.Errorf("search memories: %w", err)
			}

			out := cmd.OutOrStdout()
			if format == "json" {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(memories)
			}
			for _, m := range memories {
				_, _ = fmt.Fprintf(out, "[%s/%s] %s = %s (weight %.2f)\n", m.Scope, m.Kind, m.Key, m.Value, m.Weight)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&path, "path", ".", "Repository path")
	cmd.Flags().StringVar(&scope, "scope", "", "Restrict to a memory scope: repo, workspace, global (empty matches all)")
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum memories to return")
	cmd.Flags().StringVarP(&format, "format", "f", "text", "Output format: text, json")

	return cmd
}
