package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pampax/pampax/internal/store"
)

func newRememberCmd() *cobra.Command {
	var (
		path   string
		scope  string
		kind   string
		key    string
		weight float64
	)

	cmd := &cobra.Command{
		Use:   "remember <value>",
		Short: "Persist a memory (fact, gotcha, decision, rule, ...) for future turns",
		Long: `remember writes one C10 memory row. Memories are retrieved
alongside hybrid search results and admitted into the assembled bundle
up to the memory tier's budget cap.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := openEnvironment(cmd.Context(), path, true)
			if err != nil {
				return err
			}
			defer env.Close()

			m := &store.Memory{
				Scope:  store.MemoryScope(scope),
				Kind:   store.MemoryKind(kind),
				Key:    key,
				Value:  args[0],
				Weight: weight,
			}
			if err := env.Storage.Meta().SaveMemory(cmd.Context(), m); err != nil {
				return fmt.Errorf("save memory: %w", err)
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "remembered %s (%s/%s)\n", m.ID, m.Scope, m.Kind)
			return nil
		},
	}

	cmd.Flags().StringVar(&path, "path", ".", "Repository path")
	cmd.Flags().StringVar(&scope, "scope", string(store.MemoryScopeRepo), "Memory scope: repo, workspace, global")
	cmd.Flags().StringVar(&kind, "kind", string(store.MemoryKindFact), "Memory kind: fact, gotcha, decision, plan, rule, name-alias, insight, exemplar")
	cmd.Flags().StringVar(&key, "key", "", "Optional lookup key")
	cmd.Flags().Float64Var(&weight, "weight", 1.0, "Ranking weight relative to other memories")

	return cmd
}
