package cmd

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pampax/pampax/internal/graph"
)

func newGraphCmd() *cobra.Command {
	var (
		path     string
		depth    int
		format   string
		nodeCap  int
		breadth  bool
	)

	cmd := &cobra.Command{
		Use:   "graph <symbol>",
		Short: "Traverse the call/inherit/implement graph from a symbol",
		Long: `graph resolves symbol to its spans and runs a BFS expansion over
the edges indexed from static analysis (call_expression call sites,
class heritage), the same traversal a retrieval turn runs when graph
expansion is enabled.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGraph(cmd.Context(), cmd, args[0], path, depth, nodeCap, breadth, format)
		},
	}

	cmd.Flags().StringVar(&path, "path", ".", "Repository path")
	cmd.Flags().IntVarP(&depth, "depth", "d", 2, "Maximum traversal depth")
	cmd.Flags().IntVar(&nodeCap, "node-cap", graph.DefaultNodeCap, "Maximum spans to visit")
	cmd.Flags().BoolVar(&breadth, "breadth-first", false, "Visit candidate edges in discovery order instead of quality-first")
	cmd.Flags().StringVarP(&format, "format", "f", "text", "Output format: text, json")

	return cmd
}

func runGraph(ctx context.Context, cmd *cobra.Command, symbol, path string, depth, nodeCap int, breadth bool, format string) error {
	env, err := openEnvironment(ctx, path, true)
	if err != nil {
		return err
	}
	defer env.Close()

	spans, err := env.Storage.SearchSymbolSpans(ctx, symbol, 5)
	if err != nil {
		return fmt.Errorf("resolve symbol: %w", err)
	}
	if len(spans) == 0 {
		return fmt.Errorf("no spans matched symbol %q", symbol)
	}

	start := make([]string, len(spans))
	for i, s := range spans {
		start[i] = s.ID
	}

	strategy := graph.QualityFirst
	if breadth {
		strategy = graph.BreadthFirst
	}

	result, err := graph.Traverse(ctx, env.Storage, graph.Input{
		StartSpans: start,
		MaxDepth:   depth,
		Strategy:   strategy,
		NodeCap:    nodeCap,
	})
	if err != nil {
		return fmt.Errorf("traverse: %w", err)
	}

	out := cmd.OutOrStdout()
	if format == "json" {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	}

	_, _ = fmt.Fprintf(out, "start spans: %v\n", start)
	_, _ = fmt.Fprintf(out, "depth reached: %d  truncated: %v\n", result.DepthReached, result.Truncated)
	_, _ = fmt.Fprintln(out, "---")
	for _, v := range result.Edges {
		_, _ = fmt.Fprintf(out, "depth %d: %s --%s(%.2f)--> %s\n", v.Depth, v.Edge.SourceSpan, v.Edge.Kind, v.Edge.Confidence, v.Edge.TargetSpan)
	}
	_, _ = fmt.Fprintf(out, "visited: %d spans\n", len(result.Visited))
	return nil
}
