package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"
)

// Storage is the facade over MetadataStore, the per-identity vector
// stores, and the lexical BM25 index. It is the single entry point every
// other component uses to read or write repo state, and it owns the
// single-writer file lock that makes concurrent `pampax` processes safe.
type Storage struct {
	mu       sync.RWMutex
	dataDir  string
	meta     MetadataStore
	bm25     BM25Index
	vectors  *VectorManager
	lock     *flock.Flock
	locked   bool
	bm25Path string
}

// StorageConfig configures a Storage instance rooted at a repo's `.pampax` dir.
type StorageConfig struct {
	DataDir     string
	BM25Backend string // "sqlite" (default) or "bleve"
	BM25Config  BM25Config
}

// Open opens (creating if necessary) the metadata DB, BM25 index, and
// vector manager rooted at cfg.DataDir, and acquires the single-writer
// lock for the repo. Callers must call Close to release resources.
func Open(cfg StorageConfig) (*Storage, error) {
	if cfg.DataDir == "" {
		return nil, fmt.Errorf("storage: DataDir is required")
	}
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("storage: create data dir: %w", err)
	}

	lockPath := filepath.Join(cfg.DataDir, "write.lock")
	fl := flock.New(lockPath)
	locked, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("storage: acquire write lock: %w", err)
	}
	if !locked {
		return nil, fmt.Errorf("storage: repo is locked by another process (%s)", lockPath)
	}

	metaPath := filepath.Join(cfg.DataDir, "metadata.db")
	meta, err := NewSQLiteMetadataStore(metaPath)
	if err != nil {
		_ = fl.Unlock()
		return nil, fmt.Errorf("storage: open metadata store: %w", err)
	}

	bm25Path := filepath.Join(cfg.DataDir, "fts")
	bm25Cfg := cfg.BM25Config
	if bm25Cfg.K1 == 0 && bm25Cfg.B == 0 {
		bm25Cfg = DefaultBM25Config()
	}
	bm25, err := NewBM25IndexWithBackend(bm25Path, bm25Cfg, cfg.BM25Backend)
	if err != nil {
		_ = meta.Close()
		_ = fl.Unlock()
		return nil, fmt.Errorf("storage: open BM25 index: %w", err)
	}

	vectors := NewVectorManager(filepath.Join(cfg.DataDir, "vectors"))

	return &Storage{
		dataDir:  cfg.DataDir,
		meta:     meta,
		bm25:     bm25,
		vectors:  vectors,
		lock:     fl,
		locked:   true,
		bm25Path: bm25Path,
	}, nil
}

// Close persists vector stores, the BM25 index, closes the metadata
// store, and releases the write lock.
func (s *Storage) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var errs []error
	if err := s.vectors.CloseAll(); err != nil {
		errs = append(errs, err)
	}
	if err := s.bm25.Save(s.bm25Path); err != nil {
		errs = append(errs, err)
	}
	if err := s.bm25.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := s.meta.Close(); err != nil {
		errs = append(errs, err)
	}
	if s.locked {
		if err := s.lock.Unlock(); err != nil {
			errs = append(errs, err)
		}
		s.locked = false
	}
	if len(errs) > 0 {
		return fmt.Errorf("storage: close errors: %v", errs)
	}
	return nil
}

// Meta exposes the underlying MetadataStore for callers that need
// operations not wrapped by Storage directly (span/edge/memory CRUD).
func (s *Storage) Meta() MetadataStore { return s.meta }

// Vectors exposes the VectorManager for direct per-identity access.
func (s *Storage) Vectors() *VectorManager { return s.vectors }

// UpsertFile records a scanned file and its content hash.
func (s *Storage) UpsertFile(ctx context.Context, f *File, maxSize int64) (string, error) {
	return s.meta.UpsertFile(ctx, f, maxSize)
}

// ReplaceSpans swaps in the span set extracted from one file's current
// content, cascading edge deletion for removed spans.
func (s *Storage) ReplaceSpans(ctx context.Context, fileID string, spans []*Span) error {
	return s.meta.ReplaceSpans(ctx, fileID, spans)
}

// UpsertEdge records a call/import/inherit/implement/reference/define
// relationship discovered between two spans.
func (s *Storage) UpsertEdge(ctx context.Context, e *Edge) error {
	return s.meta.UpsertEdge(ctx, e)
}

// StoreChunk persists chunk metadata and content, and indexes its text
// into the BM25 engine so it is immediately lexically searchable.
func (s *Storage) StoreChunk(ctx context.Context, c *Chunk) error {
	if err := s.meta.StoreChunk(ctx, c); err != nil {
		return err
	}
	return s.bm25.Index(ctx, []*Document{{ID: c.ID, Content: c.Content}})
}

// StoreChunks is the batched form of StoreChunk, used by the indexer's
// per-file write phase.
func (s *Storage) StoreChunks(ctx context.Context, chunks []*Chunk) error {
	docs := make([]*Document, 0, len(chunks))
	for _, c := range chunks {
		if err := s.meta.StoreChunk(ctx, c); err != nil {
			return err
		}
		docs = append(docs, &Document{ID: c.ID, Content: c.Content})
	}
	if len(docs) == 0 {
		return nil
	}
	return s.bm25.Index(ctx, docs)
}

// StoreVector upserts embedding vectors for the given chunk ids under
// one embedder identity, opening that identity's store on first use.
func (s *Storage) StoreVector(ctx context.Context, identity EmbedderIdentity, ids []string, vectors [][]float32) error {
	vs, err := s.vectors.Open(identity.String(), DefaultVectorStoreConfig(identity.Dim))
	if err != nil {
		return err
	}
	return vs.Add(ctx, ids, vectors)
}

// FTSSearch runs the lexical (BM25) seed stream.
func (s *Storage) FTSSearch(ctx context.Context, query string, limit int) ([]*BM25Result, error) {
	return s.bm25.Search(ctx, query, limit)
}

// VectorSearch runs the ANN seed stream for one embedder identity.
func (s *Storage) VectorSearch(ctx context.Context, identity EmbedderIdentity, queryVec []float32, k int) ([]*VectorResult, error) {
	vs := s.vectors.Get(identity.String())
	if vs == nil {
		return nil, fmt.Errorf("storage: no vector store open for identity %s", identity.String())
	}
	return vs.Search(ctx, queryVec, k)
}

// GetChunk retrieves one chunk by id, content included.
func (s *Storage) GetChunk(ctx context.Context, id string) (*Chunk, error) {
	return s.meta.GetChunk(ctx, id)
}

// SearchMemories runs the memory seed stream (spec.md §4.6's fourth
// retrieval source), scoped to scope when non-empty.
func (s *Storage) SearchMemories(ctx context.Context, query string, scope MemoryScope, limit int) ([]*Memory, error) {
	return s.meta.SearchMemories(ctx, query, scope, limit)
}

// SearchSymbolSpans runs the symbol seed stream, matching spans by name.
func (s *Storage) SearchSymbolSpans(ctx context.Context, name string, limit int) ([]*Span, error) {
	return s.meta.SearchSymbolSpans(ctx, name, limit)
}

// GetChunks retrieves several chunks by id, preserving no particular order.
func (s *Storage) GetChunks(ctx context.Context, ids []string) ([]*Chunk, error) {
	return s.meta.GetChunks(ctx, ids)
}

// GetSpansForFile returns every span (module/class/function/...) carved
// out of one file's current content.
func (s *Storage) GetSpansForFile(ctx context.Context, fileID string) ([]*Span, error) {
	return s.meta.GetSpansForFile(ctx, fileID)
}

// GetEdges returns outgoing or incoming relationship edges for a span,
// optionally filtered by kind, for graph traversal (C7).
func (s *Storage) GetEdges(ctx context.Context, spanID string, kinds []EdgeKind, direction string) ([]*Edge, error) {
	return s.meta.GetEdges(ctx, spanID, kinds, direction)
}

// RecordInteraction appends one query/bundle/outcome row to the
// interaction log (C10).
func (s *Storage) RecordInteraction(ctx context.Context, i *Interaction) error {
	return s.meta.RecordInteraction(ctx, i)
}

// FindRecentInteractions returns the interaction log entries within the
// trailing window, most recent first.
func (s *Storage) FindRecentInteractions(ctx context.Context, window time.Duration) ([]*Interaction, error) {
	return s.meta.FindRecentInteractions(ctx, window)
}

// DeleteFile removes a file's chunks from the BM25 index and from every
// vector store, then deletes the chunk rows and the file row itself.
func (s *Storage) DeleteFile(ctx context.Context, fileID string) error {
	chunks, err := s.meta.GetChunksByFile(ctx, fileID)
	if err != nil {
		return err
	}
	ids := make([]string, 0, len(chunks))
	for _, c := range chunks {
		ids = append(ids, c.ID)
	}
	if len(ids) > 0 {
		if err := s.bm25.Delete(ctx, ids); err != nil {
			return err
		}
		if err := s.vectors.DeleteFromAll(ctx, ids); err != nil {
			return err
		}
	}
	if err := s.meta.DeleteChunksByFile(ctx, fileID); err != nil {
		return err
	}
	return s.meta.DeleteFile(ctx, fileID)
}

// CheckIntegrity cross-references vector, edge, and chunk-body state and
// reports any drift (orphan vectors, orphan edges, content-hash
// mismatches), per the storage invariants.
func (s *Storage) CheckIntegrity(ctx context.Context) (*IntegrityReport, error) {
	return s.meta.CheckIntegrity(ctx, s.vectors.AllVectorIDs())
}
