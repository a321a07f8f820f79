// Package policy translates a classified intent and search context into
// a concrete RetrievalPolicy consumed by the hybrid retriever.
package policy

import (
	"github.com/pampax/pampax/internal/intent"
)

// SeedSource names one of the four retrieval streams a policy weighs.
type SeedSource string

const (
	SeedVector SeedSource = "vector"
	SeedBM25   SeedSource = "bm25"
	SeedMemory SeedSource = "memory"
	SeedSymbol SeedSource = "symbol"
)

// SeedWeights holds the non-negative per-stream weight used by RRF fusion.
type SeedWeights map[SeedSource]float64

// Clamp bounds every weight to [0,3]. If the clamped weights sum to
// zero, it returns the default search weights instead.
func (w SeedWeights) Clamp() SeedWeights {
	out := make(SeedWeights, len(w))
	var sum float64
	for k, v := range w {
		if v < 0 {
			v = 0
		}
		if v > 3 {
			v = 3
		}
		out[k] = v
		sum += v
	}
	if sum == 0 {
		return defaultSeedWeights()
	}
	return out
}

func defaultSeedWeights() SeedWeights {
	return SeedWeights{SeedVector: 1.0, SeedBM25: 1.0, SeedMemory: 0.5, SeedSymbol: 0.6}
}

// SearchContext carries the caller-supplied scope and budget hints the
// gate uses to pick a policy, independent of the classified intent.
type SearchContext struct {
	Scope      []string
	Budget     int // remaining token budget for this turn, 0 = unconstrained
	TightCost  bool
}

// RetrievalPolicy governs one retrieval turn's shape.
type RetrievalPolicy struct {
	MaxDepth            int
	EarlyStopThreshold  int
	IncludeSymbols      bool
	IncludeFiles        bool
	IncludeContent      bool
	SeedWeights         SeedWeights
	CostBias            float64
}

// defaults holds the indicative per-intent policy table from spec.md §4.5.
var defaults = map[intent.Intent]RetrievalPolicy{
	intent.Symbol: {
		MaxDepth: 2, EarlyStopThreshold: 8,
		SeedWeights: SeedWeights{SeedVector: 0.8, SeedBM25: 0.6, SeedMemory: 0.3, SeedSymbol: 1.2},
	},
	intent.Config: {
		MaxDepth: 0, EarlyStopThreshold: 4,
		SeedWeights: SeedWeights{SeedVector: 0.4, SeedBM25: 1.2, SeedMemory: 0.4, SeedSymbol: 0.2},
	},
	intent.API: {
		MaxDepth: 1, EarlyStopThreshold: 6,
		SeedWeights: SeedWeights{SeedVector: 0.9, SeedBM25: 0.8, SeedMemory: 0.2, SeedSymbol: 1.0},
	},
	intent.Incident: {
		MaxDepth: 2, EarlyStopThreshold: 10,
		SeedWeights: SeedWeights{SeedVector: 1.0, SeedBM25: 0.7, SeedMemory: 0.8, SeedSymbol: 0.5},
	},
	intent.Search: {
		MaxDepth: 1, EarlyStopThreshold: 6,
		SeedWeights: SeedWeights{SeedVector: 1.0, SeedBM25: 1.0, SeedMemory: 0.5, SeedSymbol: 0.6},
	},
}

// Gate translates (intent, SearchContext) into a RetrievalPolicy,
// optionally overridden by learned weights from the outcome-learning
// collaborator (internal/interaction's analytics surface).
type Gate struct {
	learned map[intent.Intent]SeedWeights
}

// NewGate creates a Gate with no learned overrides.
func NewGate() *Gate {
	return &Gate{learned: make(map[intent.Intent]SeedWeights)}
}

// SetLearnedWeights installs learned seed weights for one intent,
// clamped to [0,3] and renormalized per the gate's contract.
func (g *Gate) SetLearnedWeights(in intent.Intent, weights SeedWeights) {
	g.learned[in] = weights.Clamp()
}

// Decide produces the RetrievalPolicy for a classified intent and
// search context. The include_* fields are always true; SearchContext
// has no option that turns them off.
func (g *Gate) Decide(c Classification, ctx SearchContext) RetrievalPolicy {
	base, ok := defaults[c.Intent]
	if !ok {
		base = defaults[intent.Search]
	}

	policy := RetrievalPolicy{
		MaxDepth:           base.MaxDepth,
		EarlyStopThreshold: base.EarlyStopThreshold,
		IncludeSymbols:     true,
		IncludeFiles:       true,
		IncludeContent:     true,
		SeedWeights:        base.SeedWeights,
		CostBias:           1.0,
	}

	if learned, ok := g.learned[c.Intent]; ok {
		policy.SeedWeights = learned
	}
	policy.SeedWeights = policy.SeedWeights.Clamp()

	if ctx.TightCost {
		policy.CostBias = 1.5
	}
	return policy
}

// Classification is the subset of intent.Classification the gate needs;
// kept distinct so policy does not depend on intent's entity types.
type Classification struct {
	Intent     intent.Intent
	Confidence float64
}
