// Package store provides the durable catalog of files, spans, chunks,
// edges, memories and interactions, plus full-text and vector lookup.
// It is the single owner of all persistent PAMPAX state.
package store

import (
	"context"
	"fmt"
	"time"
)

// SpanKind is the semantic role a Span plays within its file.
type SpanKind string

const (
	SpanKindModule      SpanKind = "module"
	SpanKindClass       SpanKind = "class"
	SpanKindFunction    SpanKind = "function"
	SpanKindMethod      SpanKind = "method"
	SpanKindConstructor SpanKind = "constructor"
	SpanKindField       SpanKind = "field"
	SpanKindEnum        SpanKind = "enum"
	SpanKindMixin       SpanKind = "mixin"
	SpanKindExtension   SpanKind = "extension"
	SpanKindComment     SpanKind = "comment"
)

// Span is a contiguous, named region of a file carrying a semantic role.
type Span struct {
	ID           string // stable hash of path:startByte-endByte:contentHash
	FileID       string
	ParentSpanID string // empty if top-level
	Name         string
	Kind         SpanKind
	Signature    string
	StartByte    uint32
	EndByte      uint32
	StartLine    int
	EndLine      int
}

// EdgeKind is the relation a directed Edge carries between two Spans.
type EdgeKind string

const (
	EdgeKindCall      EdgeKind = "call"
	EdgeKindImport    EdgeKind = "import"
	EdgeKindInherit   EdgeKind = "inherit"
	EdgeKindImplement EdgeKind = "implement"
	EdgeKindReference EdgeKind = "reference"
	EdgeKindDefine    EdgeKind = "define"
)

// Edge is a directed relation between two Spans.
type Edge struct {
	ID         int64
	SourceSpan string
	TargetSpan string
	Kind       EdgeKind
	Confidence float64
}

// ContentType represents the type of content in a chunk.
type ContentType string

const (
	ContentTypeCode     ContentType = "code"
	ContentTypeMarkdown ContentType = "markdown"
	ContentTypeText     ContentType = "text"
)

// PriorityClass buckets a chunk for the Token Model's packing profile.
type PriorityClass string

const (
	PriorityCode     PriorityClass = "code"
	PriorityTests    PriorityClass = "tests"
	PriorityComments PriorityClass = "comments"
	PriorityExamples PriorityClass = "examples"
	PriorityConfig   PriorityClass = "config"
	PriorityDocs     PriorityClass = "docs"
)

// Chunk is the unit embedded and retrieved.
//
// ID is SHA-256(path : byteStart-byteEnd : content). A chunk's body is
// stored exactly once; re-indexing either reuses the existing chunk by
// hash or creates a new one.
type Chunk struct {
	ID          string
	SpanID      string // empty for line-window fallback chunks with no AST span
	FileID      string
	FilePath    string
	Content     string // full body as embedded/retrieved
	RawContent  string // just the declaration, no surrounding context
	Context     string // imports / package decl / doc header
	ContentType ContentType
	Language    string
	StartByte   uint32
	EndByte     uint32
	StartLine   int
	EndLine     int
	Tags        []string // lower-cased semantic tags mined from path/name/annotations
	Priority    PriorityClass
	Symbols     []*Symbol
	Edges       []PendingEdge // call/inherit/implement references found in this chunk, unresolved
	Metadata    map[string]string
	Lossy       bool // true if source bytes contained invalid UTF-8
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// PendingEdge is a chunking-time reference to another symbol by name,
// awaiting resolution to a concrete Edge once every file in the project
// has spans (internal/index.Pipeline does the resolving).
type PendingEdge struct {
	From string
	To   string
	Kind EdgeKind
}

// SymbolType represents the kind of code symbol extracted during chunking.
type SymbolType string

const (
	SymbolTypeFunction  SymbolType = "function"
	SymbolTypeClass     SymbolType = "class"
	SymbolTypeInterface SymbolType = "interface"
	SymbolTypeType      SymbolType = "type"
	SymbolTypeVariable  SymbolType = "variable"
	SymbolTypeConstant  SymbolType = "constant"
	SymbolTypeMethod    SymbolType = "method"
)

// Symbol represents a code symbol extracted during chunking.
type Symbol struct {
	Name       string
	Type       SymbolType
	StartLine  int
	EndLine    int
	Signature  string
	DocComment string
}

// File represents a tracked file in the index.
type File struct {
	ID          string
	ProjectID   string
	Path        string // relative to project root
	Size        int64
	ModTime     time.Time
	ContentHash string // SHA-256 of raw bytes
	Language    string
	ContentType string
	IndexedAt   time.Time
}

// Project represents an indexed repository.
type Project struct {
	ID          string // SHA256(absolute_path)
	Name        string
	RootPath    string
	ProjectType string
	ChunkCount  int
	FileCount   int
	IndexedAt   time.Time
	Version     string
}

// MemoryScope is the visibility scope of a persisted Memory.
type MemoryScope string

const (
	MemoryScopeRepo      MemoryScope = "repo"
	MemoryScopeWorkspace MemoryScope = "workspace"
	MemoryScopeGlobal    MemoryScope = "global"
)

// MemoryKind is the category of a persisted Memory.
type MemoryKind string

const (
	MemoryKindFact      MemoryKind = "fact"
	MemoryKindGotcha    MemoryKind = "gotcha"
	MemoryKindDecision  MemoryKind = "decision"
	MemoryKindPlan      MemoryKind = "plan"
	MemoryKindRule      MemoryKind = "rule"
	MemoryKindNameAlias MemoryKind = "name-alias"
	MemoryKindInsight   MemoryKind = "insight"
	MemoryKindExemplar  MemoryKind = "exemplar"
)

// Memory is a persisted note ranked alongside chunks by the retriever.
type Memory struct {
	ID         string
	Scope      MemoryScope
	Kind       MemoryKind
	Key        string
	Value      string
	Weight     float64
	ExpiresAt  *time.Time
	Provenance string // JSON blob
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Interaction is one retrieval event recorded for the interaction log.
type Interaction struct {
	ID              string
	Query           string
	Intent          string
	BundleSignature string
	TokensUsed      int
	Satisfied       bool
	TimeToFixMS     int64
	CorrelationID   string
	Timestamp       time.Time
}

// ContextPack is a named, reusable scope filter bundle.
type ContextPack struct {
	Name      string
	PathGlob  []string
	Tags      []string
	Lang      []string
	Exclude   []string
	CreatedAt time.Time
}

// PackingProfileRow is the persisted form of a Token Model PackingProfile,
// keyed by (repo, model). The in-memory shape lives in internal/tokenmodel;
// this is its storage row.
type PackingProfileRow struct {
	Repo    string
	Model   string
	Version int
	JSON    string // serialized tokenmodel.PackingProfile
}

// SearchFilters restrict FTS/vector/symbol lookups.
type SearchFilters struct {
	PathGlob []string
	Lang     []string
	SpanKind []SpanKind
	Tags     []string
	Exclude  []string
}

// FTSHit is one full-text search result.
type FTSHit struct {
	ChunkID string
	BM25Rank int
	Score    float64
	Snippet  string
	MatchedTerms []string
}

// VectorHit is one nearest-neighbor vector search result.
type VectorHit struct {
	ChunkID    string
	Similarity float32 // cosine similarity, higher is better
}

// EmbedderIdentity is the (provider, model, dim) tuple that produced a vector.
type EmbedderIdentity struct {
	Provider string
	Model    string
	Dim      int
}

// String renders the identity as "provider:model:dim" for keying.
func (e EmbedderIdentity) String() string {
	return fmt.Sprintf("%s:%s:%d", e.Provider, e.Model, e.Dim)
}

// IntegrityReport summarizes a Storage integrity check.
type IntegrityReport struct {
	OrphanVectors         int
	OrphanEdges           int
	ContentHashMismatches int
	OK                    bool
}

// FileTooLargeError is returned by upsert_file when size exceeds the
// configured ceiling.
type FileTooLargeError struct {
	Path string
	Size int64
	Max  int64
}

func (e *FileTooLargeError) Error() string {
	return fmt.Sprintf("file %s too large: %d bytes (max %d)", e.Path, e.Size, e.Max)
}

// MetadataStore persists files, spans, chunks, edges, memories and
// interactions in SQLite, and exposes keyed lookups used by every other
// component. A single writer operates per repo; readers see a
// consistent snapshot for the duration of one call (WAL mode).
type MetadataStore interface {
	// Project operations.
	SaveProject(ctx context.Context, project *Project) error
	GetProject(ctx context.Context, id string) (*Project, error)
	UpdateProjectStats(ctx context.Context, id string, fileCount, chunkCount int) error
	RefreshProjectStats(ctx context.Context, id string) error

	// File operations.
	UpsertFile(ctx context.Context, f *File, maxSize int64) (string, error)
	GetFileByPath(ctx context.Context, projectID, path string) (*File, error)
	GetChangedFiles(ctx context.Context, projectID string, since time.Time) ([]*File, error)
	ListFiles(ctx context.Context, projectID string, cursor string, limit int) ([]*File, string, error)
	GetFilePathsByProject(ctx context.Context, projectID string) ([]string, error)
	ListFilePathsUnder(ctx context.Context, projectID, subtreePath string) ([]string, error)
	GetFilesForReconciliation(ctx context.Context, projectID string) ([]*File, error)
	DeleteFile(ctx context.Context, fileID string) error
	DeleteFilesByProject(ctx context.Context, projectID string) error

	// Span operations.
	ReplaceSpans(ctx context.Context, fileID string, spans []*Span) error
	GetSpansForFile(ctx context.Context, fileID string) ([]*Span, error)
	GetSpan(ctx context.Context, id string) (*Span, error)
	SearchSymbolSpans(ctx context.Context, name string, limit int) ([]*Span, error)

	// Edge operations.
	UpsertEdge(ctx context.Context, e *Edge) error
	GetEdges(ctx context.Context, spanID string, kinds []EdgeKind, direction string) ([]*Edge, error)

	// Chunk operations.
	StoreChunk(ctx context.Context, c *Chunk) error
	GetChunk(ctx context.Context, id string) (*Chunk, error)
	GetChunks(ctx context.Context, ids []string) ([]*Chunk, error)
	GetChunksByFile(ctx context.Context, fileID string) ([]*Chunk, error)
	GetAdjacentChunks(ctx context.Context, fileID string, startLine, endLine, before, after int) ([]*Chunk, []*Chunk, error)
	DeleteChunks(ctx context.Context, ids []string) error
	DeleteChunksByFile(ctx context.Context, fileID string) error

	// Memory operations.
	SaveMemory(ctx context.Context, m *Memory) error
	GetMemory(ctx context.Context, id string) (*Memory, error)
	SearchMemories(ctx context.Context, query string, scope MemoryScope, limit int) ([]*Memory, error)
	DeleteMemory(ctx context.Context, id string) error
	DeleteExpiredMemories(ctx context.Context, asOf time.Time) (int, error)

	// Interaction log.
	RecordInteraction(ctx context.Context, i *Interaction) error
	FindRecentInteractions(ctx context.Context, window time.Duration) ([]*Interaction, error)

	// Context packs.
	SaveContextPack(ctx context.Context, p *ContextPack) error
	GetContextPack(ctx context.Context, name string) (*ContextPack, error)

	// Packing profiles.
	SavePackingProfile(ctx context.Context, row *PackingProfileRow) error
	GetPackingProfile(ctx context.Context, repo, model string) (*PackingProfileRow, error)

	// State operations (key-value store for runtime state).
	GetState(ctx context.Context, key string) (string, error)
	SetState(ctx context.Context, key, value string) error

	// Embedding bookkeeping (for HNSW compaction / resume).
	GetEmbeddingStats(ctx context.Context, identity string) (withEmbedding, withoutEmbedding int, err error)

	// Checkpoint operations (for resumable indexing).
	SaveIndexCheckpoint(ctx context.Context, stage string, total, embeddedCount int, embedderModel string) error
	LoadIndexCheckpoint(ctx context.Context) (*IndexCheckpoint, error)
	ClearIndexCheckpoint(ctx context.Context) error

	// Integrity.
	CheckIntegrity(ctx context.Context, vectorIDs map[string][]string) (*IntegrityReport, error)

	Close() error
}

// State keys used by the checkpoint operations, stored via GetState/SetState.
const (
	StateKeyCheckpointStage         = "checkpoint.stage"
	StateKeyCheckpointTotal         = "checkpoint.total"
	StateKeyCheckpointEmbedded      = "checkpoint.embedded_count"
	StateKeyCheckpointEmbedderModel = "checkpoint.embedder_model"
	StateKeyCheckpointTimestamp     = "checkpoint.timestamp"

	// StateKeyChunkIDVersion records which chunk ID scheme an index was
	// built with, so stale line-offset IDs can be detected after a
	// chunker change.
	StateKeyChunkIDVersion   = "chunk_id_version"
	ChunkIDVersionContent    = "content_hash"
	StateKeyIndexDimension   = "index.embedding_dimension"
	StateKeyIndexModel       = "index.embedding_model"
)

// IndexCheckpoint represents the saved state of an indexing operation for resume.
type IndexCheckpoint struct {
	Stage         string
	Total         int
	EmbeddedCount int
	Timestamp     time.Time
	EmbedderModel string
}

// IndexInfo contains comprehensive information about an index for the `pampax index info` command.
type IndexInfo struct {
	Location    string
	ProjectRoot string

	IndexModel      string
	IndexBackend    string
	IndexDimensions int

	ChunkCount      int
	DocumentCount   int
	IndexSizeBytes  int64
	BM25SizeBytes   int64
	VectorSizeBytes int64

	CreatedAt time.Time
	UpdatedAt time.Time

	CurrentModel      string
	CurrentBackend    string
	CurrentDimensions int
	Compatible        bool
}

// CurrentSchemaVersion is the current database schema version.
const CurrentSchemaVersion = 1

// Document represents a document to be indexed in BM25.
type Document struct {
	ID      string
	Content string
}

// BM25Result represents a single BM25 search result.
type BM25Result struct {
	DocID        string
	Score        float64
	MatchedTerms []string
}

// IndexStats provides statistics about the BM25 index.
type IndexStats struct {
	DocumentCount int
	TermCount     int
	AvgDocLength  float64
}

// BM25Index provides keyword search over chunk bodies, span names and tags.
type BM25Index interface {
	Index(ctx context.Context, docs []*Document) error
	Search(ctx context.Context, query string, limit int) ([]*BM25Result, error)
	Delete(ctx context.Context, docIDs []string) error
	AllIDs() ([]string, error)
	Stats() *IndexStats
	Save(path string) error
	Load(path string) error
	Close() error
}

// BM25Config configures the BM25 index.
type BM25Config struct {
	K1             float64
	B              float64
	StopWords      []string
	MinTokenLength int
}

// DefaultBM25Config returns default BM25 configuration.
func DefaultBM25Config() BM25Config {
	return BM25Config{
		K1:             1.2,
		B:              0.75,
		StopWords:      DefaultCodeStopWords,
		MinTokenLength: 2,
	}
}

// DefaultCodeStopWords contains programming keywords filtered from the index.
var DefaultCodeStopWords = []string{
	"var", "let", "const", "func", "function", "def", "class",
	"return", "if", "else", "for", "while",
	"data", "result", "value", "item", "key", "err", "ctx", "tmp",
}

// VectorResult represents a single vector search result.
type VectorResult struct {
	ID       string
	Distance float32
	Score    float32
}

// VectorStoreConfig configures one embedder identity's vector store.
type VectorStoreConfig struct {
	Dimensions     int
	Quantization   string
	Metric         string
	M              int
	EfConstruction int
	EfSearch       int
}

// DefaultVectorStoreConfig returns sensible defaults for vector store.
func DefaultVectorStoreConfig(dimensions int) VectorStoreConfig {
	return VectorStoreConfig{
		Dimensions:     dimensions,
		Quantization:   "f16",
		Metric:         "cos",
		M:              32,
		EfConstruction: 128,
		EfSearch:       64,
	}
}

// VectorStore provides approximate nearest-neighbor search over a single
// embedder identity's vectors using HNSW.
type VectorStore interface {
	Add(ctx context.Context, ids []string, vectors [][]float32) error
	Search(ctx context.Context, query []float32, k int) ([]*VectorResult, error)
	Delete(ctx context.Context, ids []string) error
	AllIDs() []string
	Contains(id string) bool
	Count() int
	Save(path string) error
	Load(path string) error
	Close() error
}

// ErrDimensionMismatch indicates vector dimension mismatch against the
// configured embedder identity.
type ErrDimensionMismatch struct {
	Expected int
	Got      int
}

func (e ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("dimension mismatch: expected %d, got %d (run 'pampax index --force')", e.Expected, e.Got)
}
