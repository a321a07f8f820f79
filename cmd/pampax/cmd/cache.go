package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pampax/pampax/internal/interaction"
)

func newCacheCmd() *cobra.Command {
	var probe string

	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Report the signature cache's configuration and hit rate",
		Long: `cache reports the C10 signature cache's capacity, TTL, and
current hit/miss counters. The cache itself lives for the process
that built it, so a bare invocation always starts empty; pass --probe
to Put then Get one entry and show the resulting counters.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			c := interaction.NewSignatureCache(1000, interaction.DefaultCacheTTL)

			out := cmd.OutOrStdout()
			if probe != "" {
				key := interaction.Signature(probe, "", "")
				c.Put(key, &interaction.CacheEntry{BundleID: "probe"})
				c.Get(key)      // hit
				c.Get(key + "x") // miss, distinct key
			}

			_, _ = fmt.Fprintf(out, "entries: %d\n", c.Len())
			_, _ = fmt.Fprintf(out, "hits:    %d\n", c.Hits())
			_, _ = fmt.Fprintf(out, "misses:  %d\n", c.Misses())
			if total := c.Hits() + c.Misses(); total > 0 {
				_, _ = fmt.Fprintf(out, "hit_rate: %.2f\n", float64(c.Hits())/float64(total))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&probe, "probe", "", "Query text to Put then Get once, to exercise the hit/miss counters")
	return cmd
}
