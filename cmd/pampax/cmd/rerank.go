package cmd

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/pampax/pampax/internal/retrieval"
)

func newRerankCmd() *cobra.Command {
	var (
		endpoint string
		apiKey   string
		topK     int
		format   string
	)

	cmd := &cobra.Command{
		Use:   "rerank <query>",
		Short: "Rerank candidate documents read from stdin (one per line)",
		Long: `rerank sends query plus the newline-delimited documents on stdin
to a cross-encoder endpoint and prints them back in relevance order.
Without --endpoint it falls back to the no-op reranker, which just
preserves input order — useful for checking the command's shape
without a live reranker service.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRerank(cmd.Context(), cmd, args[0], endpoint, apiKey, topK, format)
		},
	}

	cmd.Flags().StringVar(&endpoint, "endpoint", "", "Cross-encoder rerank HTTP endpoint")
	cmd.Flags().StringVar(&apiKey, "api-key", "", "Bearer token for --endpoint")
	cmd.Flags().IntVar(&topK, "top-k", 0, "Return only the top K documents (0 returns all)")
	cmd.Flags().StringVarP(&format, "format", "f", "text", "Output format: text, json")

	return cmd
}

func runRerank(ctx context.Context, cmd *cobra.Command, query, endpoint, apiKey string, topK int, format string) error {
	var documents []string
	scanner := bufio.NewScanner(cmd.InOrStdin())
	scanner.Buffer(make([]byte, 1024*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		documents = append(documents, line)
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read documents: %w", err)
	}
	if len(documents) == 0 {
		return fmt.Errorf("no documents on stdin")
	}

	var reranker retrieval.Reranker = retrieval.NoOpReranker{}
	if endpoint != "" {
		reranker = retrieval.NewAPIReranker(endpoint, apiKey, 10*time.Second)
	}
	if !reranker.Available(ctx) {
		return fmt.Errorf("reranker unavailable")
	}

	hits, err := reranker.Rerank(ctx, query, documents, topK)
	if err != nil {
		return fmt.Errorf("rerank: %w", err)
	}

	out := cmd.OutOrStdout()
	if format == "json" {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(hits)
	}

	for rank, h := range hits {
		_, _ = fmt.Fprintf(out, "%d. [%.4f] %s\n", rank+1, h.Score, documents[h.Index])
	}
	return nil
}
