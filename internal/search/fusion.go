// Package search provides hybrid search functionality combining BM25 and semantic search.
// Results are fused using Reciprocal Rank Fusion (RRF), delegated to
// internal/retrieval's generalized N-stream Fuser so both the legacy
// two-stream engine here and the newer hybrid retriever share one RRF
// implementation.
package search

import (
	"github.com/pampax/pampax/internal/policy"
	"github.com/pampax/pampax/internal/retrieval"
	"github.com/pampax/pampax/internal/store"
)

// DefaultRRFConstant is the standard RRF smoothing parameter.
// k=60 is empirically validated across domains (used by Azure AI Search, OpenSearch, etc.).
const DefaultRRFConstant = retrieval.DefaultRRFConstant

// FusedResult represents a single result after RRF fusion.
type FusedResult struct {
	ChunkID      string   // Chunk identifier
	RRFScore     float64  // Combined RRF score (normalized 0-1)
	BM25Score    float64  // Original BM25 score (preserved)
	BM25Rank     int      // Position in BM25 list (1-indexed, 0 if absent)
	VecScore     float64  // Original vector similarity score (preserved)
	VecRank      int      // Position in vector list (1-indexed, 0 if absent)
	InBothLists  bool     // Document appeared in both result lists
	MatchedTerms []string // BM25 matched terms (for highlighting)
}

// RRFFusion combines BM25 and vector search results using
// Reciprocal Rank Fusion, via internal/retrieval.Fuser.
//
// Algorithm: RRF_score(d) = Σ weight_i / (k + rank_i)
//
// Where:
//   - k = smoothing constant (default: 60)
//   - rank_i = position in ranked list i (1-indexed)
//   - weight_i = weight for search source i
type RRFFusion struct {
	K int // RRF smoothing constant (default: 60)

	bm25Scores map[string]float64
	bm25Terms  map[string][]string
	vecScores  map[string]float64
}

// NewRRFFusion creates a new RRF fusion instance with default k=60.
func NewRRFFusion() *RRFFusion {
	return &RRFFusion{K: DefaultRRFConstant}
}

// NewRRFFusionWithK creates a new RRF fusion with custom k value.
// If k <= 0, defaults to 60.
func NewRRFFusionWithK(k int) *RRFFusion {
	if k <= 0 {
		k = DefaultRRFConstant
	}
	return &RRFFusion{K: k}
}

// Fuse combines BM25 and vector results using Reciprocal Rank Fusion.
//
// A document appearing in only one list scores from that list alone; the
// list it is missing from contributes nothing.
//
// Results are sorted by: RRFScore (desc) → InBothLists (true first) → BM25Score (desc) → ChunkID (asc)
func (f *RRFFusion) Fuse(
	bm25 []*store.BM25Result,
	vec []*store.VectorResult,
	weights Weights,
) []*FusedResult {
	if len(bm25) == 0 && len(vec) == 0 {
		return []*FusedResult{}
	}

	f.bm25Scores = make(map[string]float64, len(bm25))
	f.bm25Terms = make(map[string][]string, len(bm25))
	f.vecScores = make(map[string]float64, len(vec))

	streams := make(map[policy.SeedSource][]retrieval.StreamHit, 2)
	bm25Hits := make([]retrieval.StreamHit, len(bm25))
	for rank, r := range bm25 {
		bm25Hits[rank] = retrieval.StreamHit{ChunkID: r.DocID, Rank: rank + 1, Score: r.Score}
		f.bm25Scores[r.DocID] = r.Score
		f.bm25Terms[r.DocID] = r.MatchedTerms
	}
	streams[policy.SeedBM25] = bm25Hits

	vecHits := make([]retrieval.StreamHit, len(vec))
	for rank, r := range vec {
		vecHits[rank] = retrieval.StreamHit{ChunkID: r.ID, Rank: rank + 1, Score: float64(r.Score)}
		f.vecScores[r.ID] = float64(r.Score)
	}
	streams[policy.SeedVector] = vecHits

	fuser := &retrieval.Fuser{K: f.K}
	fused := fuser.Fuse(streams, policy.SeedWeights{policy.SeedBM25: weights.BM25, policy.SeedVector: weights.Semantic})

	results := make([]*FusedResult, len(fused))
	for i, r := range fused {
		bm25Rank := r.StreamRanks[policy.SeedBM25]
		vecRank := r.StreamRanks[policy.SeedVector]
		results[i] = &FusedResult{
			ChunkID:      r.ChunkID,
			RRFScore:     r.RRFScore,
			BM25Score:    f.bm25Scores[r.ChunkID],
			BM25Rank:     bm25Rank,
			VecScore:     f.vecScores[r.ChunkID],
			VecRank:      vecRank,
			InBothLists:  bm25Rank > 0 && vecRank > 0,
			MatchedTerms: f.bm25Terms[r.ChunkID],
		}
	}

	// retrieval.Fuser already sorts by RRFScore then earliest stream rank
	// then ChunkID; this package's documented tie-break additionally
	// prefers higher BM25Score on an RRF tie, so re-apply that pass here.
	f.reorderTies(results)

	return results
}

// reorderTies enforces this package's BM25Score tie-break on top of the
// shared Fuser's rank-based tie-break, the one behavior difference from
// internal/retrieval's generalized N-stream ordering.
func (f *RRFFusion) reorderTies(results []*FusedResult) {
	start := 0
	for start < len(results) {
		end := start + 1
		for end < len(results) && results[end].RRFScore == results[start].RRFScore {
			end++
		}
		if end-start > 1 {
			group := results[start:end]
			for i := 1; i < len(group); i++ {
				for j := i; j > 0 && less(group[j], group[j-1]); j-- {
					group[j], group[j-1] = group[j-1], group[j]
				}
			}
		}
		start = end
	}
}

// compare reports whether a sorts before b under this package's tie-break
// order: RRFScore desc, then InBothLists true-first, then BM25Score desc,
// then ChunkID asc. Exposed as a method (rather than inlined into
// reorderTies) so callers comparing two results directly don't have to
// reimplement the precedence.
func (f *RRFFusion) compare(a, b *FusedResult) bool {
	if a.RRFScore != b.RRFScore {
		return a.RRFScore > b.RRFScore
	}
	return less(a, b)
}

func less(a, b *FusedResult) bool {
	if a.InBothLists != b.InBothLists {
		return a.InBothLists
	}
	if a.BM25Score != b.BM25Score {
		return a.BM25Score > b.BM25Score
	}
	return a.ChunkID < b.ChunkID
}

// normalize rescales RRFScore into 0-1 by dividing by the maximum score
// present. A zero or empty input is left untouched rather than dividing
// by zero; retrieval.Fuser already does this during Fuse, so this method
// exists for callers working with a FusedResult slice directly.
func (f *RRFFusion) normalize(results []*FusedResult) {
	if len(results) == 0 {
		return
	}
	maxScore := results[0].RRFScore
	for _, r := range results[1:] {
		if r.RRFScore > maxScore {
			maxScore = r.RRFScore
		}
	}
	if maxScore <= 0 {
		return
	}
	for _, r := range results {
		r.RRFScore /= maxScore
	}
}
