// Package assembler composes the final Bundle from ranked retrieval
// hits, a PackingProfile, and a session token budget.
package assembler

import (
	"strings"

	"github.com/pampax/pampax/internal/graph"
	"github.com/pampax/pampax/internal/store"
	"github.com/pampax/pampax/internal/tokenmodel"
)

// SeedKind records which retrieval stream admitted an item.
type SeedKind string

const (
	SeedVector    SeedKind = "vector"
	SeedBM25      SeedKind = "bm25"
	SeedMemory    SeedKind = "memory"
	SeedSymbol    SeedKind = "symbol"
	SeedGraph     SeedKind = "graph"
	SeedReranker  SeedKind = "reranker"
)

// StoppingReason names why assembly stopped admitting further items.
type StoppingReason string

const (
	ReasonBudgetExhausted      StoppingReason = "budget_exhausted"
	ReasonEarlyStopMet         StoppingReason = "early_stop_threshold_met"
	ReasonNoMoreCandidates     StoppingReason = "no_more_candidates"
	ReasonDepthExhausted       StoppingReason = "depth_exhausted"
	ReasonDuplicateConvergence StoppingReason = "duplicate_convergence"
	ReasonRerankerStable       StoppingReason = "reranker_stable"
	ReasonCancelled            StoppingReason = "cancelled"
)

// SkipReason names why a candidate was not admitted.
type SkipReason string

const SkipBudgetExceeded SkipReason = "budget_exceeded"

// Hit is one ranked retrieval candidate, pre-assembly.
type Hit struct {
	Chunk     *store.Chunk
	Score     float64
	Seed      SeedKind
	ParentID  string // chunk id of the parent span's primary chunk, if any
}

// BundleItem is one admitted (or skipped) entry in the final bundle.
type BundleItem struct {
	Path      string
	SpanID    string
	ChunkID   string
	Body      string
	Capsule   bool
	Truncated bool
	Skipped   bool
	SkipReason SkipReason
	Seed      SeedKind
	Tier      tokenmodel.BudgetTier
	CacheHit  bool
}

// TokenLedger reports the budget arithmetic for one assembly.
type TokenLedger struct {
	Budget        int
	Estimated     int
	Actual        int
	PerTier       map[tokenmodel.BudgetTier]int
}

// Bundle is the final assembled context package returned to the caller.
type Bundle struct {
	Items          []BundleItem
	Ledger         TokenLedger
	StoppingReasons []StoppingReason
}

// Input configures one assembly run.
type Input struct {
	Hits          []Hit
	GraphNeighbors []graph.VisitedEdge // additive seeds from C7, already chunk-resolved via NeighborChunks
	NeighborChunks map[string]*store.Chunk // span id -> its primary chunk, for graph promotion
	Memories      []*store.Memory
	Profile       *tokenmodel.PackingProfile
	Tokenizer     *tokenmodel.Tokenizer
	SessionBudget int // overrides Tokenizer.SessionBudget() when > 0
	MaxDepth      int // policy.max_depth; >0 enables graph neighbor insertion
	MemoryTierCap int // max number of memories admitted
}

// Assemble runs the admission walk described in spec.md §4.9 and
// produces a deterministic Bundle for the given inputs.
func Assemble(in Input) *Bundle {
	budget := in.SessionBudget
	if budget <= 0 && in.Tokenizer != nil {
		budget = in.Tokenizer.SessionBudget()
	}

	ledger := TokenLedger{Budget: budget, PerTier: make(map[tokenmodel.BudgetTier]int)}
	tierRemaining := make(map[tokenmodel.BudgetTier]int)
	for _, tier := range tokenmodel.TierOrder {
		tierRemaining[tier] = in.Profile.TierBudget(budget, tier)
	}
	reserveRemaining := in.Profile.TierBudget(budget, tokenmodel.TierReserve)

	var items []BundleItem
	var reasons []StoppingReason
	admittedParents := make(map[string]bool)

	countToken := func(text string) int {
		if in.Tokenizer == nil {
			return len(text) / 4
		}
		return in.Tokenizer.CountTokens(text)
	}

	exhausted := true
	for _, h := range in.Hits {
		tier := tierForPriority(string(h.Chunk.Priority), in.Profile)
		cost := countToken(h.Chunk.Content)

		if cost <= tierRemaining[tier] {
			tierRemaining[tier] -= cost
			ledger.Actual += cost
			ledger.PerTier[tier] += cost
			items = append(items, BundleItem{
				Path: h.Chunk.FilePath, SpanID: h.Chunk.SpanID, ChunkID: h.Chunk.ID,
				Body: h.Chunk.Content, Seed: h.Seed, Tier: tier,
			})
			if h.Chunk.SpanID != "" {
				admittedParents[h.Chunk.SpanID] = true
			}
			exhausted = false
			continue
		}

		if capsule, ok := tryCapsule(h.Chunk, in.Profile, tierRemaining[tier], countToken); ok {
			tierRemaining[tier] -= countToken(capsule)
			ledger.Actual += countToken(capsule)
			ledger.PerTier[tier] += countToken(capsule)
			items = append(items, BundleItem{
				Path: h.Chunk.FilePath, SpanID: h.Chunk.SpanID, ChunkID: h.Chunk.ID,
				Body: capsule, Capsule: true, Truncated: true, Seed: h.Seed, Tier: tier,
			})
			exhausted = false
			continue
		}

		items = append(items, BundleItem{
			Path: h.Chunk.FilePath, SpanID: h.Chunk.SpanID, ChunkID: h.Chunk.ID,
			Skipped: true, SkipReason: SkipBudgetExceeded, Seed: h.Seed, Tier: tier,
		})
	}

	if exhausted {
		reasons = append(reasons, ReasonBudgetExhausted)
	} else {
		reasons = append(reasons, ReasonNoMoreCandidates)
	}

	// Graph neighbor insertion: top-ranked neighbors (traversal edge
	// order), subject to reserve budget.
	if in.MaxDepth > 0 {
		for _, n := range in.GraphNeighbors {
			spanID := n.Edge.TargetSpan
			chunk, ok := in.NeighborChunks[spanID]
			if !ok || admittedParents[spanID] {
				continue
			}
			admittedParents[spanID] = true
			cost := countToken(chunk.Content)
			if cost > reserveRemaining {
				reasons = append(reasons, ReasonDepthExhausted)
				break
			}
			reserveRemaining -= cost
			ledger.Actual += cost
			ledger.PerTier[tokenmodel.TierReserve] += cost
			items = append(items, BundleItem{
				Path: chunk.FilePath, SpanID: spanID, ChunkID: chunk.ID,
				Body: chunk.Content, Seed: SeedGraph, Tier: tokenmodel.TierReserve,
			})
		}
	}

	// Memory attachment, up to the memory tier cap.
	memCap := in.MemoryTierCap
	for i, m := range in.Memories {
		if memCap > 0 && i >= memCap {
			break
		}
		cost := countToken(m.Value)
		if cost > reserveRemaining {
			continue
		}
		reserveRemaining -= cost
		ledger.Actual += cost
		ledger.PerTier[tokenmodel.TierReserve] += cost
		items = append(items, BundleItem{
			ChunkID: m.ID, Body: m.Value, Seed: SeedMemory, Tier: tokenmodel.TierReserve,
		})
	}

	ledger.Estimated = ledger.Actual
	return &Bundle{Items: items, Ledger: ledger, StoppingReasons: reasons}
}

func tierForPriority(priority string, profile *tokenmodel.PackingProfile) tokenmodel.BudgetTier {
	weight := profile.Priorities[priority]
	switch {
	case weight >= 0.9:
		return tokenmodel.TierMustHave
	case weight >= 0.6:
		return tokenmodel.TierImportant
	case weight >= 0.4:
		return tokenmodel.TierSupplementary
	default:
		return tokenmodel.TierOptional
	}
}

// tryCapsule collapses a chunk into "signature + first N lines" form if
// the profile's capsule strategy allows it and the capsule fits within
// remaining.
func tryCapsule(c *store.Chunk, profile *tokenmodel.PackingProfile, remaining int, countToken func(string) int) (string, bool) {
	if countToken(c.Content) < profile.Capsule.CapsuleThreshold {
		return "", false
	}

	lines := strings.Split(c.Content, "\n")
	var sig string
	if len(c.Symbols) > 0 {
		sig = c.Symbols[0].Signature
	}
	if sig == "" && len(lines) > 0 {
		sig = lines[0]
	}

	body := sig
	for _, l := range lines[1:] {
		candidate := body + "\n" + l
		if countToken(candidate) > profile.Capsule.MaxCapsuleSize {
			break
		}
		body = candidate
	}

	if countToken(body) < profile.Capsule.MinCapsuleSize || countToken(body) > remaining {
		return "", false
	}
	return body, true
}
