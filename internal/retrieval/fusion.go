// Package retrieval implements the hybrid retriever (C6): it fuses
// vector, BM25, memory, and symbol seed streams with Reciprocal Rank
// Fusion, applies the symbol boost, and optionally reranks the top
// slice with a cross-encoder.
package retrieval

import (
	"sort"

	"github.com/pampax/pampax/internal/policy"
)

// DefaultRRFConstant is the standard RRF smoothing parameter (k=60),
// empirically validated across domains (used by Azure AI Search,
// OpenSearch, etc.).
const DefaultRRFConstant = 60

// StreamHit is one ranked hit from a single seed stream, rank 1-indexed.
type StreamHit struct {
	ChunkID string
	Rank    int
	Score   float64
}

// FusedResult is one chunk's combined score across every stream it
// appeared in.
type FusedResult struct {
	ChunkID     string
	RRFScore    float64
	StreamRanks map[policy.SeedSource]int
	InStreams   int
	Boosted     bool
}

// Fuser combines per-stream ranked hits into one ordered list.
type Fuser struct {
	K int
}

// NewFuser creates a Fuser with the default k=60.
func NewFuser() *Fuser { return &Fuser{K: DefaultRRFConstant} }

// Fuse implements spec.md §4.6 step 3: for each hit h in stream s at
// rank r_s, score(h) = Σ_s w_s / (k + r_s). Streams a chunk didn't
// appear in contribute nothing (no missing-rank penalty across more
// than two streams — unlike the legacy two-stream fusion, a four-way
// fusion would over-penalize chunks found by only their best stream).
func (f *Fuser) Fuse(streams map[policy.SeedSource][]StreamHit, weights policy.SeedWeights) []*FusedResult {
	scores := make(map[string]*FusedResult)

	for source, hits := range streams {
		w := weights[source]
		if w == 0 {
			continue
		}
		for _, h := range hits {
			r, ok := scores[h.ChunkID]
			if !ok {
				r = &FusedResult{ChunkID: h.ChunkID, StreamRanks: make(map[policy.SeedSource]int)}
				scores[h.ChunkID] = r
			}
			r.StreamRanks[source] = h.Rank
			r.InStreams++
			r.RRFScore += w / float64(f.K+h.Rank)
		}
	}

	results := make([]*FusedResult, 0, len(scores))
	for _, r := range scores {
		results = append(results, r)
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].RRFScore != results[j].RRFScore {
			return results[i].RRFScore > results[j].RRFScore
		}
		ri, rj := earliestRank(results[i]), earliestRank(results[j])
		if ri != rj {
			return ri < rj
		}
		return results[i].ChunkID < results[j].ChunkID
	})

	normalize(results)
	return results
}

func earliestRank(r *FusedResult) int {
	best := int(^uint(0) >> 1)
	for _, rank := range r.StreamRanks {
		if rank < best {
			best = rank
		}
	}
	return best
}

func normalize(results []*FusedResult) {
	if len(results) == 0 {
		return
	}
	max := results[0].RRFScore
	if max == 0 {
		return
	}
	for _, r := range results {
		r.RRFScore /= max
	}
}

// SymbolBoost multiplies the score of every result whose chunk id is in
// matchingChunkIDs by factor, per the symbol-boost step (§4.6 step 4).
func SymbolBoost(results []*FusedResult, matchingChunkIDs map[string]bool, factor float64) {
	for _, r := range results {
		if matchingChunkIDs[r.ChunkID] {
			r.RRFScore *= factor
			r.Boosted = true
		}
	}
	sort.Slice(results, func(i, j int) bool { return results[i].RRFScore > results[j].RRFScore })
}

// EarlyStopOverlap reports whether the top n ids of two streams share at
// least the given fraction of ids, per §4.6 step 2's early-stop check.
func EarlyStopOverlap(a, b []StreamHit, n int, fraction float64) bool {
	if n <= 0 || len(a) < n || len(b) < n {
		return false
	}
	setA := make(map[string]bool, n)
	for _, h := range a[:n] {
		setA[h.ChunkID] = true
	}
	shared := 0
	for _, h := range b[:n] {
		if setA[h.ChunkID] {
			shared++
		}
	}
	return float64(shared)/float64(n) >= fraction
}
