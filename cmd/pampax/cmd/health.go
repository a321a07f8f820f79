package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/pampax/pampax/internal/health"
	"github.com/pampax/pampax/internal/interaction"
)

func newHealthCmd() *cobra.Command {
	var (
		path           string
		format         string
		memWarnMB      int
		memErrMB       int
		minHitRate     float64
		minCacheSample int64
	)

	cmd := &cobra.Command{
		Use:   "health",
		Short: "Run C11 health checks and exit with the corresponding code",
		Long: `health rolls up a database reachability probe, process memory
usage, the signature cache's hit rate, and config validity into one
report, then exits 0 (ok), 1 (degraded), 2 (bad config), or 4
(internal error) per spec.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHealth(cmd.Context(), cmd, path, format, memWarnMB, memErrMB, minHitRate, minCacheSample)
		},
	}

	cmd.Flags().StringVar(&path, "path", ".", "Repository path")
	cmd.Flags().StringVarP(&format, "format", "f", "text", "Output format: text, json")
	cmd.Flags().IntVar(&memWarnMB, "mem-warn-mb", 512, "Warn once reserved memory passes this many MB")
	cmd.Flags().IntVar(&memErrMB, "mem-error-mb", 2048, "Fail once reserved memory passes this many MB")
	cmd.Flags().Float64Var(&minHitRate, "min-hit-rate", 0.3, "Warn if the signature cache's hit rate falls below this")
	cmd.Flags().Int64Var(&minCacheSample, "min-cache-samples", 50, "Minimum cache lookups before the hit-rate check applies")

	return cmd
}

func runHealth(ctx context.Context, cmd *cobra.Command, path, format string, memWarnMB, memErrMB int, minHitRate float64, minCacheSamples int64) error {
	env, err := openEnvironment(ctx, path, true)
	if err != nil {
		return err
	}
	defer env.Close()

	cache := interaction.NewSignatureCache(1000, interaction.DefaultCacheTTL)

	checker := health.NewChecker()
	checker.Register("database", health.DatabaseCheck(func(ctx context.Context) error {
		_, err := env.Storage.Meta().GetState(ctx, "health_ping")
		return err
	}))
	checker.Register("memory", health.MemoryCheck(uint64(memWarnMB)*1024*1024, uint64(memErrMB)*1024*1024))
	checker.Register("cache", health.CacheCheck(cache.Hits, cache.Misses, minHitRate, minCacheSamples))
	checker.Register("config", health.ConfigCheck(env.Config.Validate))

	report := checker.RunAll(ctx)

	out := cmd.OutOrStdout()
	if format == "json" {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		_ = enc.Encode(report)
	} else {
		_, _ = fmt.Fprintf(out, "overall: %s\n", report.Overall)
		for _, c := range report.Checks {
			_, _ = fmt.Fprintf(out, "  %-10s %-8s %s (%dms)\n", c.Name, c.Status, c.Details, c.DurationMS)
		}
	}

	if code := report.ExitCode(); code != health.ExitOK {
		os.Exit(code)
	}
	return nil
}
