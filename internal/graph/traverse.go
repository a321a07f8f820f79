// Package graph implements BFS traversal over the Span/Edge relationship
// graph, used to pull in callers/callees/implementers as additive seeds
// for the next retrieval turn.
package graph

import (
	"context"
	"sort"

	"github.com/pampax/pampax/internal/store"
)

// Strategy orders the per-layer frontier before expansion.
type Strategy string

const (
	QualityFirst Strategy = "quality-first"
	BreadthFirst Strategy = "breadth-first"
)

// DefaultNodeCap bounds the number of spans a single traversal may visit.
const DefaultNodeCap = 50

// EdgeSource resolves outgoing edges for a span; satisfied by
// store.Storage.GetEdges (or store.MetadataStore.GetEdges directly).
type EdgeSource interface {
	GetEdges(ctx context.Context, spanID string, kinds []store.EdgeKind, direction string) ([]*store.Edge, error)
}

// Input configures one traversal.
type Input struct {
	StartSpans  []string
	MaxDepth    int
	EdgeKinds   []store.EdgeKind
	Strategy    Strategy
	TokenBudget int

	// EstimateTokens estimates the token cost of visiting one span; the
	// caller supplies this since it depends on chunk sizes in Storage.
	EstimateTokens func(spanID string) int

	// NodeCap overrides DefaultNodeCap when positive.
	NodeCap int
}

// VisitedEdge is one traversed edge, kept for the output's evidence trail.
type VisitedEdge struct {
	Edge  *store.Edge
	Depth int
}

// Result is the outcome of one traversal.
type Result struct {
	Visited       []string
	Edges         []VisitedEdge
	DepthReached  int
	TokensSpent   int
	Truncated     bool
}

// Traverse runs a BFS expansion from Input.StartSpans over source.
func Traverse(ctx context.Context, source EdgeSource, in Input) (*Result, error) {
	nodeCap := in.NodeCap
	if nodeCap <= 0 {
		nodeCap = DefaultNodeCap
	}

	visited := make(map[string]bool, len(in.StartSpans))
	var visitedOrder []string
	for _, s := range in.StartSpans {
		if !visited[s] {
			visited[s] = true
			visitedOrder = append(visitedOrder, s)
		}
	}

	result := &Result{Visited: visitedOrder}
	if in.EstimateTokens != nil {
		for _, s := range visitedOrder {
			result.TokensSpent += in.EstimateTokens(s)
		}
	}

	frontier := append([]string{}, in.StartSpans...)
	depth := 0

	for depth < in.MaxDepth && len(frontier) > 0 {
		type candidate struct {
			edge   *store.Edge
			target string
		}
		var candidates []candidate

		for _, spanID := range frontier {
			edges, err := source.GetEdges(ctx, spanID, in.EdgeKinds, "out")
			if err != nil {
				return nil, err
			}
			for _, e := range edges {
				if e.SourceSpan == e.TargetSpan {
					continue // self-loops are never followed
				}
				candidates = append(candidates, candidate{edge: e, target: e.TargetSpan})
			}
		}

		if len(candidates) == 0 {
			break
		}

		if in.Strategy == QualityFirst {
			sort.SliceStable(candidates, func(i, j int) bool {
				if candidates[i].edge.Confidence != candidates[j].edge.Confidence {
					return candidates[i].edge.Confidence > candidates[j].edge.Confidence
				}
				return candidates[i].target < candidates[j].target
			})
		}

		depth++
		var nextFrontier []string
		for _, c := range candidates {
			if visited[c.target] {
				continue
			}
			if len(visitedOrder) >= nodeCap {
				result.Truncated = true
				break
			}
			cost := 0
			if in.EstimateTokens != nil {
				cost = in.EstimateTokens(c.target)
			}
			if in.TokenBudget > 0 && result.TokensSpent+cost > in.TokenBudget {
				result.Truncated = true
				continue
			}

			visited[c.target] = true
			visitedOrder = append(visitedOrder, c.target)
			nextFrontier = append(nextFrontier, c.target)
			result.TokensSpent += cost
			result.Edges = append(result.Edges, VisitedEdge{Edge: c.edge, Depth: depth})
		}

		if len(nextFrontier) == 0 {
			break
		}
		frontier = nextFrontier
	}

	result.Visited = visitedOrder
	result.DepthReached = depth
	return result, nil
}
