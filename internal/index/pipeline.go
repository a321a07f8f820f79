package index

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/pampax/pampax/internal/embed"
	"github.com/pampax/pampax/internal/store"
)

// Pipeline indexes and deletes chunks against Storage, replacing the
// legacy search.Engine.Index/Delete path: it generates embeddings,
// stores chunk bodies, and derives Span rows from each chunk's
// extracted symbols so C6/C7 have something to search and traverse.
type Pipeline struct {
	storage  *store.Storage
	embedder embed.Embedder
	identity store.EmbedderIdentity
}

// NewPipeline creates a Pipeline over storage using embedder.
func NewPipeline(storage *store.Storage, embedder embed.Embedder) *Pipeline {
	return &Pipeline{
		storage:  storage,
		embedder: embedder,
		identity: store.EmbedderIdentity{Provider: "local", Model: embedder.ModelName(), Dim: embedder.Dimensions()},
	}
}

// IndexChunks embeds, stores, and spans chunks belonging to one file.
// fileID's spans are replaced wholesale so re-indexing a modified file
// never leaves stale spans behind.
func (p *Pipeline) IndexChunks(ctx context.Context, fileID string, chunks []*store.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Content
	}
	vectors, err := p.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return fmt.Errorf("generate embeddings: %w", err)
	}

	if err := p.storage.StoreChunks(ctx, chunks); err != nil {
		return fmt.Errorf("store chunks: %w", err)
	}

	ids := make([]string, len(chunks))
	for i, c := range chunks {
		ids[i] = c.ID
	}
	if err := p.storage.StoreVector(ctx, p.identity, ids, vectors); err != nil {
		return fmt.Errorf("store vectors: %w", err)
	}

	spans := spansFromChunks(fileID, chunks)
	if len(spans) > 0 {
		if err := p.storage.ReplaceSpans(ctx, fileID, spans); err != nil {
			return fmt.Errorf("replace spans: %w", err)
		}
		linkChunksToSpans(chunks, spans)
		if err := p.storage.StoreChunks(ctx, chunks); err != nil {
			return fmt.Errorf("link chunk spans: %w", err)
		}
		if err := p.resolveEdges(ctx, chunks, spans); err != nil {
			return fmt.Errorf("resolve edges: %w", err)
		}
	}

	return nil
}

// resolveEdges turns each chunk's PendingEdge references into concrete
// store.Edge rows (C7's graph traversal data). The source span must be
// one of this file's own spans; the target is looked up in this file
// first (full confidence) and falls back to a project-wide symbol-name
// search (lower confidence, since static analysis can't disambiguate
// same-named symbols across files without type information).
func (p *Pipeline) resolveEdges(ctx context.Context, chunks []*store.Chunk, spans []*store.Span) error {
	byName := make(map[string]*store.Span, len(spans))
	for _, s := range spans {
		byName[s.Name] = s
	}

	seen := make(map[string]bool)
	for _, c := range chunks {
		for _, pe := range c.Edges {
			from, ok := byName[pe.From]
			if !ok {
				continue
			}

			targetID := ""
			confidence := 1.0
			if target, ok := byName[pe.To]; ok {
				targetID = target.ID
			} else {
				matches, err := p.storage.SearchSymbolSpans(ctx, pe.To, 1)
				if err != nil || len(matches) == 0 {
					continue
				}
				targetID = matches[0].ID
				confidence = 0.5
			}

			key := from.ID + "|" + targetID + "|" + string(pe.Kind)
			if seen[key] {
				continue
			}
			seen[key] = true

			if err := p.storage.UpsertEdge(ctx, &store.Edge{
				SourceSpan: from.ID,
				TargetSpan: targetID,
				Kind:       pe.Kind,
				Confidence: confidence,
			}); err != nil {
				return err
			}
		}
	}
	return nil
}

// DeleteChunks removes chunkIDs from the vector store; the caller is
// responsible for the corresponding metadata/BM25 deletion via
// Storage.DeleteFile for whole-file removal.
func (p *Pipeline) DeleteChunks(ctx context.Context, chunkIDs []string) error {
	if len(chunkIDs) == 0 {
		return nil
	}
	return p.storage.Vectors().DeleteFromAll(ctx, chunkIDs)
}

// Identity reports the embedder identity this pipeline indexes under.
func (p *Pipeline) Identity() store.EmbedderIdentity { return p.identity }

func spanKindFromSymbol(t store.SymbolType) store.SpanKind {
	switch t {
	case store.SymbolTypeFunction:
		return store.SpanKindFunction
	case store.SymbolTypeMethod:
		return store.SpanKindMethod
	case store.SymbolTypeClass:
		return store.SpanKindClass
	case store.SymbolTypeInterface:
		return store.SpanKindClass
	default:
		return store.SpanKindField
	}
}

// spansFromChunks derives one Span per symbol extracted during chunking,
// so graph traversal and symbol search have something to operate
// against. Edge extraction (call/inherit/implement) happens afterward in
// resolveEdges, once every symbol in the file has a span ID.
func spansFromChunks(fileID string, chunks []*store.Chunk) []*store.Span {
	var spans []*store.Span
	for _, c := range chunks {
		for _, sym := range c.Symbols {
			spans = append(spans, &store.Span{
				ID:        spanID(fileID, sym.Name, sym.StartLine),
				FileID:    fileID,
				Name:      sym.Name,
				Kind:      spanKindFromSymbol(sym.Type),
				Signature: sym.Signature,
				StartLine: sym.StartLine,
				EndLine:   sym.EndLine,
			})
		}
	}
	return spans
}

// linkChunksToSpans sets SpanID on each chunk whose line range matches
// a derived span's, so retrieval turns can map a hit to its span for
// graph expansion and the assembler's neighbor de-duplication.
func linkChunksToSpans(chunks []*store.Chunk, spans []*store.Span) {
	for _, c := range chunks {
		for _, s := range spans {
			if s.StartLine >= c.StartLine && s.EndLine <= c.EndLine {
				c.SpanID = s.ID
				break
			}
		}
	}
}

func spanID(fileID, name string, startLine int) string {
	h := sha256.Sum256([]byte(fmt.Sprintf("%s:%s:%d", fileID, name, startLine)))
	return hex.EncodeToString(h[:])
}
