package retrieval

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/pampax/pampax/internal/intent"
	"github.com/pampax/pampax/internal/policy"
	"github.com/pampax/pampax/internal/store"
)

// Reranker cross-encodes query/document pairs for a final rescoring of
// the top slice. Implementations may call out to an API or a local
// transformer; an unavailable reranker should report so via Available
// so the caller can skip it as a non-fatal degradation.
type Reranker interface {
	Rerank(ctx context.Context, query string, documents []string, topK int) ([]RerankHit, error)
	Available(ctx context.Context) bool
}

// RerankHit is one reranked document, Index pointing back into the
// documents slice passed to Rerank, Score descending.
type RerankHit struct {
	Index int
	Score float64
}

// DefaultRerankMax and DefaultRerankerMaxTokens bound the rerank step.
const (
	DefaultRerankMax         = 50
	DefaultRerankerMaxTokens = 512
)

// Backend resolves the four seed streams against Storage.
type Backend interface {
	FTSSearch(ctx context.Context, query string, limit int) ([]*store.BM25Result, error)
	VectorSearch(ctx context.Context, identity store.EmbedderIdentity, queryVec []float32, k int) ([]*store.VectorResult, error)
	SearchMemories(ctx context.Context, query string, scope store.MemoryScope, limit int) ([]*store.Memory, error)
	SearchSymbolSpans(ctx context.Context, name string, limit int) ([]*store.Span, error)
	GetChunk(ctx context.Context, id string) (*store.Chunk, error)
}

// Query configures one retrieval turn.
type Query struct {
	Text     string
	Policy   policy.RetrievalPolicy
	Entities []intent.Entity
	Filters  store.SearchFilters
	Limit    int
	Embedder store.EmbedderIdentity
	QueryVec []float32 // nil skips the vector stream
	Reranker Reranker  // nil skips reranking
}

// Hit is one final ranked result, with evidence for the assembler.
type Hit struct {
	Chunk    *store.Chunk
	Score    float64
	Seed     policy.SeedSource
	Degraded bool // true if one of the contributing streams errored
	Reranked bool
}

// Result is the outcome of one Search call.
type Result struct {
	Hits     []Hit
	Degraded bool
}

// Retriever executes the hybrid retrieval pipeline (spec.md §4.6).
type Retriever struct {
	backend Backend
	fuser   *Fuser
}

// New creates a Retriever over backend.
func New(backend Backend) *Retriever {
	return &Retriever{backend: backend, fuser: NewFuser()}
}

// Search runs the four seed streams in parallel, fuses with RRF,
// applies the symbol boost, optionally reranks, and returns the ordered
// hits truncated to q.Limit. A stream that errors is treated as empty
// and the result is marked Degraded, per §4.6's failure semantics.
func (r *Retriever) Search(ctx context.Context, q Query) (*Result, error) {
	k := q.Policy.EarlyStopThreshold * 2
	if k <= 0 {
		k = 20
	}

	var mu sync.Mutex
	streams := make(map[policy.SeedSource][]StreamHit)
	degraded := false

	markDegraded := func() {
		mu.Lock()
		degraded = true
		mu.Unlock()
	}
	setStream := func(source policy.SeedSource, hits []StreamHit) {
		mu.Lock()
		streams[source] = hits
		mu.Unlock()
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if q.QueryVec == nil {
			return nil
		}
		vecHits, err := r.backend.VectorSearch(gctx, q.Embedder, q.QueryVec, k)
		if err != nil {
			markDegraded()
			return nil
		}
		hits := make([]StreamHit, 0, len(vecHits))
		for i, v := range vecHits {
			hits = append(hits, StreamHit{ChunkID: v.ID, Rank: i + 1, Score: float64(v.Score)})
		}
		setStream(policy.SeedVector, hits)
		return nil
	})

	g.Go(func() error {
		bmHits, err := r.backend.FTSSearch(gctx, q.Text, k)
		if err != nil {
			markDegraded()
			return nil
		}
		hits := make([]StreamHit, 0, len(bmHits))
		for i, b := range bmHits {
			hits = append(hits, StreamHit{ChunkID: b.DocID, Rank: i + 1, Score: b.Score})
		}
		setStream(policy.SeedBM25, hits)
		return nil
	})

	g.Go(func() error {
		mems, err := r.backend.SearchMemories(gctx, q.Text, "", k)
		if err != nil {
			markDegraded()
			return nil
		}
		hits := make([]StreamHit, 0, len(mems))
		for i, m := range mems {
			hits = append(hits, StreamHit{ChunkID: m.ID, Rank: i + 1, Score: m.Weight})
		}
		setStream(policy.SeedMemory, hits)
		return nil
	})

	g.Go(func() error {
		symbolName := primaryEntityName(q.Entities)
		if symbolName == "" {
			return nil
		}
		spans, err := r.backend.SearchSymbolSpans(gctx, symbolName, k)
		if err != nil {
			markDegraded()
			return nil
		}
		hits := make([]StreamHit, 0, len(spans))
		for i, s := range spans {
			hits = append(hits, StreamHit{ChunkID: s.ID, Rank: i + 1, Score: 1.0})
		}
		setStream(policy.SeedSymbol, hits)
		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}

	fused := r.fuser.Fuse(streams, q.Policy.SeedWeights)

	// Symbol boost: chunks whose primary span name matches a
	// function/class entity in the query are boosted 1.5x.
	if symbolName := primaryEntityName(q.Entities); symbolName != "" {
		matching := make(map[string]bool)
		for _, f := range fused {
			chunk, err := r.backend.GetChunk(ctx, f.ChunkID)
			if err == nil && chunk != nil && hasMatchingSymbol(chunk, symbolName) {
				matching[f.ChunkID] = true
			}
		}
		if len(matching) > 0 {
			SymbolBoost(fused, matching, 1.5)
		}
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 10
	}
	if limit > len(fused) {
		limit = len(fused)
	}
	top := fused[:limit]

	hits := make([]Hit, 0, len(top))
	for _, f := range top {
		chunk, err := r.backend.GetChunk(ctx, f.ChunkID)
		if err != nil || chunk == nil {
			continue
		}
		hits = append(hits, Hit{Chunk: chunk, Score: f.RRFScore, Seed: dominantSeed(f), Degraded: degraded})
	}

	if q.Reranker != nil && q.Reranker.Available(ctx) {
		hits = rerank(ctx, q.Reranker, q.Text, hits)
	}

	return &Result{Hits: hits, Degraded: degraded}, nil
}

// rerank rescores the top DefaultRerankMax hits with reranker, replacing
// their order; on error the unreranked fusion order is kept, per §4.6's
// non-fatal reranker failure semantics.
func rerank(ctx context.Context, reranker Reranker, query string, hits []Hit) []Hit {
	n := len(hits)
	if n > DefaultRerankMax {
		n = DefaultRerankMax
	}
	if n == 0 {
		return hits
	}

	docs := make([]string, n)
	for i := 0; i < n; i++ {
		body := hits[i].Chunk.Content
		if len(body) > DefaultRerankerMaxTokens*4 {
			body = body[:DefaultRerankerMaxTokens*4]
		}
		docs[i] = body
	}

	reranked, err := reranker.Rerank(ctx, query, docs, n)
	if err != nil || len(reranked) == 0 {
		return hits
	}

	out := make([]Hit, 0, len(hits))
	for _, rr := range reranked {
		if rr.Index < 0 || rr.Index >= n {
			continue
		}
		h := hits[rr.Index]
		h.Score = rr.Score
		h.Reranked = true
		out = append(out, h)
	}
	// Any hits beyond the reranked slice keep their fusion-order tail.
	out = append(out, hits[n:]...)
	return out
}

func dominantSeed(f *FusedResult) policy.SeedSource {
	var best policy.SeedSource
	bestRank := int(^uint(0) >> 1)
	for s, rank := range f.StreamRanks {
		if rank < bestRank {
			bestRank = rank
			best = s
		}
	}
	return best
}

func hasMatchingSymbol(c *store.Chunk, name string) bool {
	for _, sym := range c.Symbols {
		if sym.Name == name {
			return true
		}
	}
	return false
}

func primaryEntityName(entities []intent.Entity) string {
	for _, e := range entities {
		if e.Kind == intent.EntityFunction || e.Kind == intent.EntityClass {
			return e.Text
		}
	}
	return ""
}
