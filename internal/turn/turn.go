// Package turn composes one retrieval turn end to end: it classifies the
// query (C4), decides a retrieval policy (C5), runs the hybrid retriever
// (C6), optionally expands the graph neighborhood (C7), assembles the
// token-budgeted bundle (C9), and records the outcome for caching and
// learning (C10) and metrics (C11). It is the engine behind the `search`
// and `assemble` CLI commands and MCP tools.
package turn

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pampax/pampax/internal/assembler"
	"github.com/pampax/pampax/internal/errors"
	"github.com/pampax/pampax/internal/graph"
	"github.com/pampax/pampax/internal/health"
	"github.com/pampax/pampax/internal/intent"
	"github.com/pampax/pampax/internal/interaction"
	"github.com/pampax/pampax/internal/policy"
	"github.com/pampax/pampax/internal/retrieval"
	"github.com/pampax/pampax/internal/store"
	"github.com/pampax/pampax/internal/tokenmodel"
)

// Embedder is the subset of embed.Embedder the engine needs to turn a
// query into a vector. Declared locally so this package does not import
// internal/embed's provider machinery, only the contract it fulfills.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dimensions() int
	ModelName() string
	Available(ctx context.Context) bool
}

// Features toggles the optional stages of a turn, mirroring
// internal/config's [features] section.
type Features struct {
	GraphExpansion      bool
	Reranking           bool
	InteractionLearning bool
}

// Deps wires the engine to the components it orchestrates. Storage
// satisfies both retrieval.Backend and graph.EdgeSource, so the same
// *store.Storage is passed for both roles.
type Deps struct {
	Storage    *store.Storage
	Classifier *intent.Classifier
	Gate       *policy.Gate
	Embedder   Embedder // nil disables the vector seed stream entirely
	Reranker   retrieval.Reranker
	Recorder   *interaction.Recorder
	Cache      *interaction.SignatureCache
	Metrics    *health.Metrics // nil disables metrics recording
	Features   Features
}

// Engine runs retrieval turns against one project's storage.
type Engine struct {
	deps      Deps
	retriever *retrieval.Retriever

	bundles *bundleCache
}

// New creates an Engine over deps. Storage, Classifier, and Gate are
// required; everything else degrades gracefully when nil or zero.
func New(deps Deps) *Engine {
	return &Engine{
		deps:      deps,
		retriever: retrieval.New(deps.Storage),
		bundles:   newBundleCache(),
	}
}

// Request configures one retrieval turn.
type Request struct {
	Query         string
	ProjectID     string
	Scope         []string // path glob filters
	ForceIntent   intent.Intent // "" lets the classifier decide
	TokenBudget   int           // 0 uses the tokenizer's default session budget
	GraphDepth    int           // < 0 uses the policy default; 0 disables expansion
	Limit         int           // 0 defaults to 10
	TargetModel   string        // e.g. "claude-opus-4", "gpt-4o"; "" uses a generic profile
	UseReranker   bool
	CorrelationID string
}

// IntentInfo is the bundle's `intent` field (spec.md §6's bundle shape).
type IntentInfo struct {
	Type       intent.Intent
	Confidence float64
	Entities   []intent.Entity
	Forced     bool
}

// Response is one completed retrieval turn, ready to render as JSON or
// markdown by the CLI/MCP layer.
type Response struct {
	Query         string
	Intent        IntentInfo
	Policy        policy.RetrievalPolicy
	Bundle        *assembler.Bundle
	Degraded      bool
	CacheHit      bool
	DurationMS    int64
	CorrelationID string
}

// Run executes one retrieval turn per spec.md §4's pipeline. A signature
// cache hit short-circuits straight to the last assembled bundle for this
// (query, intent, scope) if the underlying files, embedder identity, and
// packing profile are unchanged (spec.md §4.10).
func (e *Engine) Run(ctx context.Context, req Request) (*Response, error) {
	start := time.Now()
	correlationID := req.CorrelationID
	if correlationID == "" {
		correlationID = uuid.NewString()
	}

	classification := e.classify(req)

	scopeKey := strings.Join(req.Scope, ",")
	searchCtx := policy.SearchContext{
		Scope:     req.Scope,
		Budget:    req.TokenBudget,
		TightCost: req.TokenBudget > 0 && req.TokenBudget < 4000,
	}
	pol := e.deps.Gate.Decide(policy.Classification{
		Intent:     classification.Intent,
		Confidence: classification.Confidence,
	}, searchCtx)
	if req.GraphDepth >= 0 {
		pol.MaxDepth = req.GraphDepth
	}
	if !e.deps.Features.GraphExpansion {
		pol.MaxDepth = 0
	}

	sigKey := interaction.Signature(req.Query, string(classification.Intent), scopeKey)

	profile := tokenmodel.DefaultPackingProfile(req.ProjectID, req.TargetModel)
	tokenizer := tokenmodel.New(familyFromModel(req.TargetModel), 0, 0)

	identity := e.embedderIdentity()

	if e.deps.Cache != nil {
		if entry, ok := e.deps.Cache.Get(sigKey); ok {
			if interaction.Fresh(ctx, e.deps.Storage.Meta(), req.ProjectID, entry, identity.String(), profile.Version) {
				if bundle, ok := e.bundles.get(entry.BundleID); ok {
					e.recordMetrics(ctx, classification, start, true, nil)
					return &Response{
						Query: req.Query, Intent: classification, Policy: pol,
						Bundle: bundle, CacheHit: true,
						DurationMS: time.Since(start).Milliseconds(), CorrelationID: correlationID,
					}, nil
				}
			}
			e.deps.Cache.Invalidate(sigKey)
		}
	}

	queryVec, degradedEmbed := e.embedQuery(ctx, req.Query)

	limit := req.Limit
	if limit <= 0 {
		limit = 10
	}

	var reranker retrieval.Reranker
	if req.UseReranker && e.deps.Features.Reranking {
		reranker = e.deps.Reranker
	}

	result, err := e.retriever.Search(ctx, retrieval.Query{
		Text:     req.Query,
		Policy:   pol,
		Entities: classification.Entities,
		Filters:  store.SearchFilters{PathGlob: req.Scope},
		Limit:    limit,
		Embedder: identity,
		QueryVec: queryVec,
		Reranker: reranker,
	})
	if err != nil {
		if ctx.Err() != nil {
			if ctx.Err() == context.Canceled {
				return nil, errors.CancelledErr(err)
			}
			return nil, errors.TimeoutErr(err)
		}
		return nil, errors.InternalError("hybrid retrieval failed", err)
	}

	hits := make([]assembler.Hit, 0, len(result.Hits))
	var topSpans []string
	for _, h := range result.Hits {
		hits = append(hits, assembler.Hit{
			Chunk: h.Chunk,
			Score: h.Score,
			Seed:  seedKind(h.Seed, h.Reranked),
		})
		if h.Chunk.SpanID != "" {
			topSpans = append(topSpans, h.Chunk.SpanID)
		}
	}

	var neighbors []graph.VisitedEdge
	neighborChunks := make(map[string]*store.Chunk)
	if pol.MaxDepth > 0 && len(topSpans) > 0 {
		gr, gerr := graph.Traverse(ctx, e.deps.Storage, graph.Input{
			StartSpans: topSpans,
			MaxDepth:   pol.MaxDepth,
			Strategy:   graph.QualityFirst,
		})
		if gerr == nil {
			neighbors = gr.Edges
			for _, spanID := range gr.Visited {
				if chunk := e.resolveSpanChunk(ctx, spanID); chunk != nil {
					neighborChunks[spanID] = chunk
				}
			}
		}
	}

	memories, _ := e.deps.Storage.SearchMemories(ctx, req.Query, "", 5)

	bundle := assembler.Assemble(assembler.Input{
		Hits:           hits,
		GraphNeighbors: neighbors,
		NeighborChunks: neighborChunks,
		Memories:       memories,
		Profile:        profile,
		Tokenizer:      tokenizer,
		SessionBudget:  req.TokenBudget,
		MaxDepth:       pol.MaxDepth,
		MemoryTierCap:  5,
	})

	degraded := result.Degraded || degradedEmbed

	bundleID := uuid.NewString()
	e.bundles.put(bundleID, bundle)
	if e.deps.Cache != nil {
		e.deps.Cache.Put(sigKey, &interaction.CacheEntry{
			BundleID:         bundleID,
			EmbedderIdentity: identity.String(),
			ProfileVersion:   profile.Version,
			Provenance:       e.provenanceOf(ctx, req.ProjectID, bundle),
		})
	}

	if e.deps.Recorder != nil {
		_ = e.deps.Recorder.Record(ctx, interaction.Entry{
			Query:           req.Query,
			Intent:          string(classification.Intent),
			BundleSignature: sigKey,
			TokensUsed:      bundle.Ledger.Actual,
			CorrelationID:   correlationID,
		})
	}

	e.recordMetrics(ctx, classification, start, false, nil)

	return &Response{
		Query: req.Query, Intent: classification, Policy: pol,
		Bundle: bundle, Degraded: degraded,
		DurationMS: time.Since(start).Milliseconds(), CorrelationID: correlationID,
	}, nil
}

func (e *Engine) classify(req Request) IntentInfo {
	if req.ForceIntent != "" {
		c := e.deps.Classifier.Force(req.Query, req.ForceIntent)
		return IntentInfo{Type: c.Intent, Confidence: c.Confidence, Entities: c.Entities, Forced: true}
	}
	c := e.deps.Classifier.Classify(req.Query)
	return IntentInfo{Type: c.Intent, Confidence: c.Confidence, Entities: c.Entities, Forced: false}
}

// embedQuery embeds req.Query, returning (nil, true) on any unavailable
// embedder so the retriever skips the vector stream and falls back to
// lexical-only search, per spec.md §7's EmbedderError handling.
func (e *Engine) embedQuery(ctx context.Context, query string) ([]float32, bool) {
	if e.deps.Embedder == nil {
		return nil, false
	}
	if !e.deps.Embedder.Available(ctx) {
		return nil, true
	}
	vec, err := e.deps.Embedder.Embed(ctx, query)
	if err != nil {
		return nil, true
	}
	return vec, false
}

func (e *Engine) embedderIdentity() store.EmbedderIdentity {
	if e.deps.Embedder == nil {
		return store.EmbedderIdentity{Provider: "none", Model: "lexical", Dim: 0}
	}
	return store.EmbedderIdentity{
		Provider: "embedder",
		Model:    e.deps.Embedder.ModelName(),
		Dim:      e.deps.Embedder.Dimensions(),
	}
}

// resolveSpanChunk finds the primary chunk for a span id: the span names
// its file, and the file's chunks are scanned for the one whose SpanID
// matches. There is no direct span->chunk index, so this walks the small
// per-file chunk set rather than adding a new storage method for a path
// only the graph-expansion stage exercises.
func (e *Engine) resolveSpanChunk(ctx context.Context, spanID string) *store.Chunk {
	span, err := e.deps.Storage.Meta().GetSpan(ctx, spanID)
	if err != nil || span == nil {
		return nil
	}
	chunks, err := e.deps.Storage.Meta().GetChunksByFile(ctx, span.FileID)
	if err != nil {
		return nil
	}
	for _, c := range chunks {
		if c.SpanID == spanID {
			return c
		}
	}
	return nil
}

// provenanceOf builds the file-path -> content-hash map a cache entry
// needs to detect staleness, from the files the admitted bundle items
// actually came from.
func (e *Engine) provenanceOf(ctx context.Context, projectID string, bundle *assembler.Bundle) map[string]string {
	seen := make(map[string]string)
	for _, item := range bundle.Items {
		if item.Path == "" || item.Skipped {
			continue
		}
		if _, ok := seen[item.Path]; ok {
			continue
		}
		f, err := e.deps.Storage.Meta().GetFileByPath(ctx, projectID, item.Path)
		if err != nil || f == nil {
			continue
		}
		seen[item.Path] = f.ContentHash
	}
	return seen
}

func (e *Engine) recordMetrics(ctx context.Context, classification IntentInfo, start time.Time, cacheHit bool, err error) {
	if e.deps.Metrics == nil {
		return
	}
	e.deps.Metrics.RecordSearch(ctx, string(classification.Type), time.Since(start), err)
	e.deps.Metrics.RecordContextAssembly(ctx, time.Since(start))
	e.deps.Metrics.RecordCacheOp(ctx, cacheHit)
}

func seedKind(s policy.SeedSource, reranked bool) assembler.SeedKind {
	if reranked {
		return assembler.SeedReranker
	}
	switch s {
	case policy.SeedVector:
		return assembler.SeedVector
	case policy.SeedBM25:
		return assembler.SeedBM25
	case policy.SeedMemory:
		return assembler.SeedMemory
	case policy.SeedSymbol:
		return assembler.SeedSymbol
	default:
		return assembler.SeedBM25
	}
}

// familyFromModel guesses a tokenmodel.Family from a model name's
// substrings, defaulting to FamilyOpenAI's character ratio when the name
// is empty or unrecognized.
func familyFromModel(model string) tokenmodel.Family {
	m := strings.ToLower(model)
	switch {
	case strings.Contains(m, "claude"):
		return tokenmodel.FamilyAnthropic
	case strings.Contains(m, "gemini"):
		return tokenmodel.FamilyGemini
	case strings.Contains(m, "llama"):
		return tokenmodel.FamilyLlama
	default:
		return tokenmodel.FamilyOpenAI
	}
}

// bundleCache holds recently assembled bundles by id, backing the
// signature cache's BundleID indirection. Entries are not pruned when
// their signature entry expires; once 2048 bundles are held, put drops
// an arbitrary one before adding the next.
type bundleCache struct {
	mu    sync.Mutex
	items map[string]*assembler.Bundle
}

func newBundleCache() *bundleCache {
	return &bundleCache{items: make(map[string]*assembler.Bundle)}
}

func (c *bundleCache) put(id string, b *assembler.Bundle) {
	c.mu.Lock()
	defer c.mu.Unlock()
	const maxEntries = 2048
	if len(c.items) >= maxEntries {
		for k := range c.items {
			delete(c.items, k)
			break
		}
	}
	c.items[id] = b
}

func (c *bundleCache) get(id string) (*assembler.Bundle, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	b, ok := c.items[id]
	return b, ok
}
