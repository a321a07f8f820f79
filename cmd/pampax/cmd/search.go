package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/pampax/pampax/internal/intent"
	"github.com/pampax/pampax/internal/turn"
)

type turnOptions struct {
	path        string
	limit       int
	scope       []string
	forceIntent string
	tokenBudget int
	graphDepth  int
	targetModel string
	rerank      bool
	offline     bool
	format      string
}

func addTurnFlags(cmd *cobra.Command, opts *turnOptions, defaultLimit int) {
	cmd.Flags().StringVar(&opts.path, "path", ".", "Repository path (defaults to the current directory)")
	cmd.Flags().IntVarP(&opts.limit, "limit", "n", defaultLimit, "Maximum number of hits before graph expansion")
	cmd.Flags().StringSliceVarP(&opts.scope, "scope", "s", nil, "Path glob filters (repeatable)")
	cmd.Flags().StringVar(&opts.forceIntent, "intent", "", "Force an intent instead of classifying (symbol, config, api, incident, search)")
	cmd.Flags().IntVar(&opts.tokenBudget, "budget", 0, "Token budget for this turn (0 uses the tokenizer's default session budget)")
	cmd.Flags().IntVar(&opts.graphDepth, "graph-depth", -1, "Graph expansion depth (-1 uses the policy default, 0 disables)")
	cmd.Flags().StringVar(&opts.targetModel, "model", "", "Target model, to pick the tokenizer family and context size")
	cmd.Flags().BoolVar(&opts.rerank, "rerank", false, "Run the reranker over hybrid results")
	cmd.Flags().BoolVar(&opts.offline, "offline", false, "Use static embeddings (skip model download)")
	cmd.Flags().StringVarP(&opts.format, "format", "f", "text", "Output format: text, json")
}

func runTurn(ctx context.Context, query string, opts turnOptions) (*turn.Response, *environment, error) {
	env, err := openEnvironment(ctx, opts.path, opts.offline)
	if err != nil {
		return nil, nil, err
	}

	engine := buildEngine(env)
	resp, err := engine.Run(ctx, turn.Request{
		Query:       query,
		ProjectID:   env.Root,
		Scope:       opts.scope,
		ForceIntent: intent.Intent(opts.forceIntent),
		TokenBudget: opts.tokenBudget,
		GraphDepth:  opts.graphDepth,
		Limit:       opts.limit,
		TargetModel: opts.targetModel,
		UseReranker: opts.rerank,
	})
	if err != nil {
		env.Close()
		return nil, nil, err
	}
	return resp, env, nil
}

func newSearchCmd() *cobra.Command {
	var opts turnOptions

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Run one retrieval turn and print the ranked, packed bundle",
		Long: `search classifies the query's intent, decides a retrieval policy,
runs hybrid BM25+vector search, optionally expands the call/inherit
graph from the top hits, and packs the result into a token-budgeted
bundle — the same pipeline the MCP server's search tool runs.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			query := strings.Join(args, " ")
			resp, env, err := runTurn(cmd.Context(), query, opts)
			if err != nil {
				return err
			}
			defer env.Close()
			return renderBundle(cmd, resp, opts.format, false)
		},
	}
	addTurnFlags(cmd, &opts, 10)
	return cmd
}

func newAssembleCmd() *cobra.Command {
	var opts turnOptions

	cmd := &cobra.Command{
		Use:   "assemble <query>",
		Short: "Run one retrieval turn and print the full assembled bundle",
		Long: `assemble is search with every admitted chunk body printed in
full (capsules included). Text output shows the token ledger totals;
the per-tier breakdown is included in --format json output.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			query := strings.Join(args, " ")
			resp, env, err := runTurn(cmd.Context(), query, opts)
			if err != nil {
				return err
			}
			defer env.Close()
			return renderBundle(cmd, resp, opts.format, true)
		},
	}
	addTurnFlags(cmd, &opts, 20)
	return cmd
}

func renderBundle(cmd *cobra.Command, resp *turn.Response, format string, full bool) error {
	out := cmd.OutOrStdout()

	if format == "json" {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(resp)
	}

	_, _ = fmt.Fprintf(out, "query:       %s\n", resp.Query)
	_, _ = fmt.Fprintf(out, "intent:      %s (confidence %.2f, forced=%v)\n", resp.Intent.Type, resp.Intent.Confidence, resp.Intent.Forced)
	_, _ = fmt.Fprintf(out, "policy:      max_depth=%d\n", resp.Policy.MaxDepth)
	_, _ = fmt.Fprintf(out, "cache_hit:   %v\n", resp.CacheHit)
	_, _ = fmt.Fprintf(out, "degraded:    %v\n", resp.Degraded)
	_, _ = fmt.Fprintf(out, "duration_ms: %d\n", resp.DurationMS)

	if resp.Bundle == nil {
		return nil
	}
	l := resp.Bundle.Ledger
	_, _ = fmt.Fprintf(out, "tokens:      %d/%d (estimated %d)\n", l.Actual, l.Budget, l.Estimated)
	_, _ = fmt.Fprintln(out, "---")

	for i, item := range resp.Bundle.Items {
		if item.Skipped {
			_, _ = fmt.Fprintf(out, "%d. SKIPPED %s (%s)\n", i+1, item.Path, item.SkipReason)
			continue
		}
		_, _ = fmt.Fprintf(out, "%d. %s  tier=%s seed=%s truncated=%v\n", i+1, item.Path, item.Tier, item.Seed, item.Truncated)
		if full {
			_, _ = fmt.Fprintln(out, item.Body)
			_, _ = fmt.Fprintln(out, "---")
		}
	}

	if len(resp.Bundle.StoppingReasons) > 0 {
		reasons := make([]string, len(resp.Bundle.StoppingReasons))
		for i, r := range resp.Bundle.StoppingReasons {
			reasons[i] = string(r)
		}
		_, _ = fmt.Fprintf(out, "stopped:     %s\n", strings.Join(reasons, ", "))
	}
	return nil
}
