package store

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite" // pure Go SQLite driver, no CGO required
)

// SQLiteMetadataStore implements MetadataStore on top of SQLite with
// WAL mode, giving one writer and many MVCC-consistent readers per repo.
type SQLiteMetadataStore struct {
	mu     sync.Mutex
	db     *sql.DB
	path   string
	closed bool
}

var _ MetadataStore = (*SQLiteMetadataStore)(nil)

// NewSQLiteMetadataStore opens (and if necessary creates) the metadata
// database at path. An empty path opens an in-memory database, used by
// tests.
func NewSQLiteMetadataStore(path string) (*SQLiteMetadataStore, error) {
	dsn := ":memory:"
	if path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
		dsn = path + "?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open metadata db: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA cache_size = -65536",
	} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("set pragma %q: %w", pragma, err)
		}
	}

	s := &SQLiteMetadataStore{db: db, path: path}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}
	return s, nil
}

const metadataSchema = `
CREATE TABLE IF NOT EXISTS schema_version (version INTEGER PRIMARY KEY);
INSERT OR IGNORE INTO schema_version (version) VALUES (1);

CREATE TABLE IF NOT EXISTS projects (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	root_path TEXT NOT NULL,
	project_type TEXT,
	chunk_count INTEGER DEFAULT 0,
	file_count INTEGER DEFAULT 0,
	indexed_at DATETIME,
	version TEXT
);

CREATE TABLE IF NOT EXISTS files (
	id TEXT PRIMARY KEY,
	project_id TEXT NOT NULL,
	path TEXT NOT NULL,
	size INTEGER,
	mod_time DATETIME,
	content_hash TEXT,
	language TEXT,
	content_type TEXT,
	indexed_at DATETIME,
	UNIQUE(project_id, path)
);
CREATE INDEX IF NOT EXISTS idx_files_project ON files(project_id);

CREATE TABLE IF NOT EXISTS spans (
	id TEXT PRIMARY KEY,
	file_id TEXT NOT NULL REFERENCES files(id) ON DELETE CASCADE,
	parent_span_id TEXT,
	name TEXT,
	kind TEXT,
	signature TEXT,
	start_byte INTEGER,
	end_byte INTEGER,
	start_line INTEGER,
	end_line INTEGER
);
CREATE INDEX IF NOT EXISTS idx_spans_file ON spans(file_id);
CREATE INDEX IF NOT EXISTS idx_spans_name ON spans(name);

CREATE TABLE IF NOT EXISTS edges (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	source_span TEXT NOT NULL REFERENCES spans(id) ON DELETE CASCADE,
	target_span TEXT NOT NULL REFERENCES spans(id) ON DELETE CASCADE,
	kind TEXT NOT NULL,
	confidence REAL NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_edges_source ON edges(source_span);
CREATE INDEX IF NOT EXISTS idx_edges_target ON edges(target_span);

CREATE TABLE IF NOT EXISTS chunks (
	id TEXT PRIMARY KEY,
	span_id TEXT,
	file_id TEXT NOT NULL REFERENCES files(id) ON DELETE CASCADE,
	file_path TEXT,
	raw_content TEXT,
	context TEXT,
	content_type TEXT,
	language TEXT,
	start_byte INTEGER,
	end_byte INTEGER,
	start_line INTEGER,
	end_line INTEGER,
	tags TEXT,
	priority TEXT,
	symbols TEXT,
	metadata TEXT,
	lossy INTEGER DEFAULT 0,
	created_at DATETIME,
	updated_at DATETIME
);
CREATE INDEX IF NOT EXISTS idx_chunks_file ON chunks(file_id);
CREATE INDEX IF NOT EXISTS idx_chunks_span ON chunks(span_id);

-- chunk bodies are content-addressed and stored once, even if several
-- chunk rows reference the same content hash.
CREATE TABLE IF NOT EXISTS chunk_bodies (
	content_hash TEXT PRIMARY KEY,
	body TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS chunk_body_ref (
	chunk_id TEXT PRIMARY KEY REFERENCES chunks(id) ON DELETE CASCADE,
	content_hash TEXT NOT NULL REFERENCES chunk_bodies(content_hash)
);

CREATE TABLE IF NOT EXISTS memories (
	id TEXT PRIMARY KEY,
	scope TEXT NOT NULL,
	kind TEXT NOT NULL,
	key TEXT,
	value TEXT NOT NULL,
	weight REAL DEFAULT 1.0,
	expires_at DATETIME,
	provenance TEXT,
	created_at DATETIME,
	updated_at DATETIME
);
CREATE INDEX IF NOT EXISTS idx_memories_scope ON memories(scope);

CREATE TABLE IF NOT EXISTS interactions (
	id TEXT PRIMARY KEY,
	query TEXT,
	intent TEXT,
	bundle_signature TEXT,
	tokens_used INTEGER,
	satisfied INTEGER,
	time_to_fix_ms INTEGER,
	correlation_id TEXT,
	timestamp DATETIME
);
CREATE INDEX IF NOT EXISTS idx_interactions_ts ON interactions(timestamp);

CREATE TABLE IF NOT EXISTS context_packs (
	name TEXT PRIMARY KEY,
	path_glob TEXT,
	tags TEXT,
	lang TEXT,
	exclude TEXT,
	created_at DATETIME
);

CREATE TABLE IF NOT EXISTS packing_profiles (
	repo TEXT NOT NULL,
	model TEXT NOT NULL,
	version INTEGER,
	json TEXT NOT NULL,
	PRIMARY KEY (repo, model)
);

CREATE TABLE IF NOT EXISTS kv_state (
	key TEXT PRIMARY KEY,
	value TEXT
);
`

func (s *SQLiteMetadataStore) initSchema() error {
	_, err := s.db.Exec(metadataSchema)
	return err
}

// Close releases the underlying database handle.
func (s *SQLiteMetadataStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

// ---- Project operations ----

func (s *SQLiteMetadataStore) SaveProject(ctx context.Context, p *Project) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO projects (id, name, root_path, project_type, chunk_count, file_count, indexed_at, version)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET name=excluded.name, root_path=excluded.root_path,
			project_type=excluded.project_type, chunk_count=excluded.chunk_count,
			file_count=excluded.file_count, indexed_at=excluded.indexed_at, version=excluded.version`,
		p.ID, p.Name, p.RootPath, p.ProjectType, p.ChunkCount, p.FileCount, p.IndexedAt, p.Version)
	return err
}

func (s *SQLiteMetadataStore) GetProject(ctx context.Context, id string) (*Project, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, name, root_path, project_type, chunk_count, file_count, indexed_at, version FROM projects WHERE id = ?`, id)
	p := &Project{}
	var indexedAt sql.NullTime
	if err := row.Scan(&p.ID, &p.Name, &p.RootPath, &p.ProjectType, &p.ChunkCount, &p.FileCount, &indexedAt, &p.Version); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	p.IndexedAt = indexedAt.Time
	return p, nil
}

func (s *SQLiteMetadataStore) UpdateProjectStats(ctx context.Context, id string, fileCount, chunkCount int) error {
	_, err := s.db.ExecContext(ctx, `UPDATE projects SET file_count=?, chunk_count=?, indexed_at=? WHERE id=?`,
		fileCount, chunkCount, time.Now(), id)
	return err
}

func (s *SQLiteMetadataStore) RefreshProjectStats(ctx context.Context, id string) error {
	var fileCount, chunkCount int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM files WHERE project_id=?`, id).Scan(&fileCount); err != nil {
		return err
	}
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM chunks c JOIN files f ON c.file_id=f.id WHERE f.project_id=?`, id).Scan(&chunkCount); err != nil {
		return err
	}
	return s.UpdateProjectStats(ctx, id, fileCount, chunkCount)
}

// ---- File operations ----

// UpsertFile inserts or updates a file row, enforcing the size ceiling.
func (s *SQLiteMetadataStore) UpsertFile(ctx context.Context, f *File, maxSize int64) (string, error) {
	if maxSize > 0 && f.Size > maxSize {
		return "", &FileTooLargeError{Path: f.Path, Size: f.Size, Max: maxSize}
	}
	if f.ID == "" {
		f.ID = hashString(f.ProjectID + ":" + f.Path)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO files (id, project_id, path, size, mod_time, content_hash, language, content_type, indexed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(project_id, path) DO UPDATE SET size=excluded.size, mod_time=excluded.mod_time,
			content_hash=excluded.content_hash, language=excluded.language,
			content_type=excluded.content_type, indexed_at=excluded.indexed_at`,
		f.ID, f.ProjectID, f.Path, f.Size, f.ModTime, f.ContentHash, f.Language, f.ContentType, f.IndexedAt)
	if err != nil {
		return "", err
	}
	return f.ID, nil
}

func (s *SQLiteMetadataStore) GetFileByPath(ctx context.Context, projectID, path string) (*File, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, project_id, path, size, mod_time, content_hash, language, content_type, indexed_at
		FROM files WHERE project_id=? AND path=?`, projectID, path)
	return scanFile(row)
}

func scanFile(row *sql.Row) (*File, error) {
	f := &File{}
	var modTime, indexedAt sql.NullTime
	if err := row.Scan(&f.ID, &f.ProjectID, &f.Path, &f.Size, &modTime, &f.ContentHash, &f.Language, &f.ContentType, &indexedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	f.ModTime = modTime.Time
	f.IndexedAt = indexedAt.Time
	return f, nil
}

func (s *SQLiteMetadataStore) GetChangedFiles(ctx context.Context, projectID string, since time.Time) ([]*File, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, project_id, path, size, mod_time, content_hash, language, content_type, indexed_at
		FROM files WHERE project_id=? AND mod_time > ?`, projectID, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	files := []*File{}
	for rows.Next() {
		f := &File{}
		var modTime, indexedAt sql.NullTime
		if err := rows.Scan(&f.ID, &f.ProjectID, &f.Path, &f.Size, &modTime, &f.ContentHash, &f.Language, &f.ContentType, &indexedAt); err != nil {
			return nil, err
		}
		f.ModTime = modTime.Time
		f.IndexedAt = indexedAt.Time
		files = append(files, f)
	}
	return files, rows.Err()
}

func (s *SQLiteMetadataStore) ListFiles(ctx context.Context, projectID string, cursor string, limit int) ([]*File, string, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `SELECT id, project_id, path, size, mod_time, content_hash, language, content_type, indexed_at
		FROM files WHERE project_id=? AND path > ? ORDER BY path LIMIT ?`, projectID, cursor, limit)
	if err != nil {
		return nil, "", err
	}
	defer rows.Close()

	files := []*File{}
	for rows.Next() {
		f := &File{}
		var modTime, indexedAt sql.NullTime
		if err := rows.Scan(&f.ID, &f.ProjectID, &f.Path, &f.Size, &modTime, &f.ContentHash, &f.Language, &f.ContentType, &indexedAt); err != nil {
			return nil, "", err
		}
		f.ModTime = modTime.Time
		f.IndexedAt = indexedAt.Time
		files = append(files, f)
	}
	next := ""
	if len(files) == limit {
		next = files[len(files)-1].Path
	}
	return files, next, rows.Err()
}

func (s *SQLiteMetadataStore) GetFilePathsByProject(ctx context.Context, projectID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT path FROM files WHERE project_id=?`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	paths := []string{}
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		paths = append(paths, p)
	}
	return paths, rows.Err()
}

func (s *SQLiteMetadataStore) ListFilePathsUnder(ctx context.Context, projectID, subtreePath string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT path FROM files WHERE project_id=? AND (path=? OR path LIKE ?)`,
		projectID, subtreePath, subtreePath+"/%")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	paths := []string{}
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		paths = append(paths, p)
	}
	return paths, rows.Err()
}

func (s *SQLiteMetadataStore) GetFilesForReconciliation(ctx context.Context, projectID string) ([]*File, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, project_id, path, size, mod_time, content_hash, language, content_type, indexed_at
		 FROM files WHERE project_id=?`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	files := []*File{}
	for rows.Next() {
		f := &File{}
		var modTime, indexedAt sql.NullTime
		if err := rows.Scan(&f.ID, &f.ProjectID, &f.Path, &f.Size, &modTime, &f.ContentHash, &f.Language, &f.ContentType, &indexedAt); err != nil {
			return nil, err
		}
		f.ModTime = modTime.Time
		f.IndexedAt = indexedAt.Time
		files = append(files, f)
	}
	return files, rows.Err()
}

func (s *SQLiteMetadataStore) DeleteFile(ctx context.Context, fileID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM files WHERE id=?`, fileID)
	return err
}

func (s *SQLiteMetadataStore) DeleteFilesByProject(ctx context.Context, projectID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM files WHERE project_id=?`, projectID)
	return err
}

// ---- Span operations ----

// ReplaceSpans atomically removes prior spans for a file and writes the
// new set; edges incident on removed spans cascade via foreign keys.
func (s *SQLiteMetadataStore) ReplaceSpans(ctx context.Context, fileID string, spans []*Span) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM spans WHERE file_id=?`, fileID); err != nil {
		return err
	}
	for _, sp := range spans {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO spans (id, file_id, parent_span_id, name, kind, signature, start_byte, end_byte, start_line, end_line)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			sp.ID, fileID, nullableString(sp.ParentSpanID), sp.Name, string(sp.Kind), sp.Signature,
			sp.StartByte, sp.EndByte, sp.StartLine, sp.EndLine); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *SQLiteMetadataStore) GetSpansForFile(ctx context.Context, fileID string) ([]*Span, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, file_id, parent_span_id, name, kind, signature, start_byte, end_byte, start_line, end_line
		FROM spans WHERE file_id=?`, fileID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanSpans(rows)
}

func (s *SQLiteMetadataStore) GetSpan(ctx context.Context, id string) (*Span, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, file_id, parent_span_id, name, kind, signature, start_byte, end_byte, start_line, end_line
		FROM spans WHERE id=?`, id)
	sp := &Span{}
	var parent sql.NullString
	var kind string
	if err := row.Scan(&sp.ID, &sp.FileID, &parent, &sp.Name, &kind, &sp.Signature, &sp.StartByte, &sp.EndByte, &sp.StartLine, &sp.EndLine); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	sp.ParentSpanID = parent.String
	sp.Kind = SpanKind(kind)
	return sp, nil
}

func (s *SQLiteMetadataStore) SearchSymbolSpans(ctx context.Context, name string, limit int) ([]*Span, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `SELECT id, file_id, parent_span_id, name, kind, signature, start_byte, end_byte, start_line, end_line
		FROM spans WHERE name = ? OR name LIKE ? LIMIT ?`, name, name+"%", limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanSpans(rows)
}

func scanSpans(rows *sql.Rows) ([]*Span, error) {
	spans := []*Span{}
	for rows.Next() {
		sp := &Span{}
		var parent sql.NullString
		var kind string
		if err := rows.Scan(&sp.ID, &sp.FileID, &parent, &sp.Name, &kind, &sp.Signature, &sp.StartByte, &sp.EndByte, &sp.StartLine, &sp.EndLine); err != nil {
			return nil, err
		}
		sp.ParentSpanID = parent.String
		sp.Kind = SpanKind(kind)
		spans = append(spans, sp)
	}
	return spans, rows.Err()
}

// ---- Edge operations ----

func (s *SQLiteMetadataStore) UpsertEdge(ctx context.Context, e *Edge) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO edges (source_span, target_span, kind, confidence) VALUES (?, ?, ?, ?)`,
		e.SourceSpan, e.TargetSpan, string(e.Kind), e.Confidence)
	return err
}

func (s *SQLiteMetadataStore) GetEdges(ctx context.Context, spanID string, kinds []EdgeKind, direction string) ([]*Edge, error) {
	col := "source_span"
	other := "target_span"
	if direction == "in" {
		col, other = other, col
	}
	query := fmt.Sprintf(`SELECT id, source_span, target_span, kind, confidence FROM edges WHERE %s = ?`, col)
	args := []any{spanID}
	if len(kinds) > 0 {
		placeholders := make([]string, len(kinds))
		for i, k := range kinds {
			placeholders[i] = "?"
			args = append(args, string(k))
		}
		query += fmt.Sprintf(` AND kind IN (%s)`, strings.Join(placeholders, ","))
	}
	_ = other
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	edges := []*Edge{}
	for rows.Next() {
		e := &Edge{}
		var kind string
		if err := rows.Scan(&e.ID, &e.SourceSpan, &e.TargetSpan, &kind, &e.Confidence); err != nil {
			return nil, err
		}
		e.Kind = EdgeKind(kind)
		edges = append(edges, e)
	}
	return edges, rows.Err()
}

// ---- Chunk operations ----

// StoreChunk is idempotent on chunk id; the body is written to
// chunk_bodies keyed by content hash so repeated chunks share storage.
func (s *SQLiteMetadataStore) StoreChunk(ctx context.Context, c *Chunk) error {
	contentHash := hashString(c.Content)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO chunk_bodies (content_hash, body) VALUES (?, ?)`, contentHash, c.Content); err != nil {
		return err
	}

	tagsJSON, _ := json.Marshal(c.Tags)
	symbolsJSON, _ := json.Marshal(c.Symbols)
	metaJSON, _ := json.Marshal(c.Metadata)

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO chunks (id, span_id, file_id, file_path, raw_content, context, content_type, language,
			start_byte, end_byte, start_line, end_line, tags, priority, symbols, metadata, lossy, created_at, updated_at)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)
		ON CONFLICT(id) DO UPDATE SET updated_at=excluded.updated_at`,
		c.ID, nullableString(c.SpanID), c.FileID, c.FilePath, c.RawContent, c.Context, string(c.ContentType), c.Language,
		c.StartByte, c.EndByte, c.StartLine, c.EndLine, string(tagsJSON), string(c.Priority), string(symbolsJSON),
		string(metaJSON), boolToInt(c.Lossy), c.CreatedAt, c.UpdatedAt); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `INSERT OR REPLACE INTO chunk_body_ref (chunk_id, content_hash) VALUES (?, ?)`, c.ID, contentHash); err != nil {
		return err
	}

	return tx.Commit()
}

func (s *SQLiteMetadataStore) GetChunk(ctx context.Context, id string) (*Chunk, error) {
	chunks, err := s.GetChunks(ctx, []string{id})
	if err != nil || len(chunks) == 0 {
		return nil, err
	}
	return chunks[0], nil
}

func (s *SQLiteMetadataStore) GetChunks(ctx context.Context, ids []string) ([]*Chunk, error) {
	if len(ids) == 0 {
		return []*Chunk{}, nil
	}
	placeholders := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		placeholders[i] = "?"
		args[i] = id
	}
	query := fmt.Sprintf(`
		SELECT c.id, c.span_id, c.file_id, c.file_path, b.body, c.raw_content, c.context, c.content_type, c.language,
			c.start_byte, c.end_byte, c.start_line, c.end_line, c.tags, c.priority, c.symbols, c.metadata, c.lossy,
			c.created_at, c.updated_at
		FROM chunks c
		JOIN chunk_body_ref r ON r.chunk_id = c.id
		JOIN chunk_bodies b ON b.content_hash = r.content_hash
		WHERE c.id IN (%s)`, strings.Join(placeholders, ","))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanChunks(rows)
}

func (s *SQLiteMetadataStore) GetChunksByFile(ctx context.Context, fileID string) ([]*Chunk, error) {
	query := `
		SELECT c.id, c.span_id, c.file_id, c.file_path, b.body, c.raw_content, c.context, c.content_type, c.language,
			c.start_byte, c.end_byte, c.start_line, c.end_line, c.tags, c.priority, c.symbols, c.metadata, c.lossy,
			c.created_at, c.updated_at
		FROM chunks c
		JOIN chunk_body_ref r ON r.chunk_id = c.id
		JOIN chunk_bodies b ON b.content_hash = r.content_hash
		WHERE c.file_id=? ORDER BY c.start_line`
	rows, err := s.db.QueryContext(ctx, query, fileID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanChunks(rows)
}

// GetAdjacentChunks returns up to `before`/`after` chunks in the same file
// whose line ranges precede/follow [startLine,endLine], closest first.
func (s *SQLiteMetadataStore) GetAdjacentChunks(ctx context.Context, fileID string, startLine, endLine, before, after int) ([]*Chunk, []*Chunk, error) {
	all, err := s.GetChunksByFile(ctx, fileID)
	if err != nil {
		return nil, nil, err
	}
	var beforeChunks, afterChunks []*Chunk
	for i := len(all) - 1; i >= 0; i-- {
		if all[i].EndLine < startLine && len(beforeChunks) < before {
			beforeChunks = append(beforeChunks, all[i])
		}
	}
	for _, c := range all {
		if c.StartLine > endLine && len(afterChunks) < after {
			afterChunks = append(afterChunks, c)
		}
	}
	return beforeChunks, afterChunks, nil
}

func scanChunks(rows *sql.Rows) ([]*Chunk, error) {
	chunks := []*Chunk{}
	for rows.Next() {
		c := &Chunk{}
		var spanID sql.NullString
		var contentType, tagsJSON, priority, symbolsJSON, metaJSON string
		var lossy int
		var createdAt, updatedAt sql.NullTime
		if err := rows.Scan(&c.ID, &spanID, &c.FileID, &c.FilePath, &c.Content, &c.RawContent, &c.Context,
			&contentType, &c.Language, &c.StartByte, &c.EndByte, &c.StartLine, &c.EndLine,
			&tagsJSON, &priority, &symbolsJSON, &metaJSON, &lossy, &createdAt, &updatedAt); err != nil {
			return nil, err
		}
		c.SpanID = spanID.String
		c.ContentType = ContentType(contentType)
		c.Priority = PriorityClass(priority)
		c.Lossy = lossy != 0
		c.CreatedAt = createdAt.Time
		c.UpdatedAt = updatedAt.Time
		_ = json.Unmarshal([]byte(tagsJSON), &c.Tags)
		_ = json.Unmarshal([]byte(symbolsJSON), &c.Symbols)
		_ = json.Unmarshal([]byte(metaJSON), &c.Metadata)
		chunks = append(chunks, c)
	}
	return chunks, rows.Err()
}

func (s *SQLiteMetadataStore) DeleteChunks(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	placeholders := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		placeholders[i] = "?"
		args[i] = id
	}
	_, err := s.db.ExecContext(ctx, fmt.Sprintf(`DELETE FROM chunks WHERE id IN (%s)`, strings.Join(placeholders, ",")), args...)
	return err
}

func (s *SQLiteMetadataStore) DeleteChunksByFile(ctx context.Context, fileID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM chunks WHERE file_id=?`, fileID)
	return err
}

// ---- Memory operations ----

func (s *SQLiteMetadataStore) SaveMemory(ctx context.Context, m *Memory) error {
	if m.ID == "" {
		m.ID = hashString(string(m.Scope) + ":" + string(m.Kind) + ":" + m.Key + ":" + m.Value)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO memories (id, scope, kind, key, value, weight, expires_at, provenance, created_at, updated_at)
		VALUES (?,?,?,?,?,?,?,?,?,?)
		ON CONFLICT(id) DO UPDATE SET value=excluded.value, weight=excluded.weight,
			expires_at=excluded.expires_at, updated_at=excluded.updated_at`,
		m.ID, string(m.Scope), string(m.Kind), m.Key, m.Value, m.Weight, m.ExpiresAt, m.Provenance, m.CreatedAt, m.UpdatedAt)
	return err
}

func (s *SQLiteMetadataStore) GetMemory(ctx context.Context, id string) (*Memory, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, scope, kind, key, value, weight, expires_at, provenance, created_at, updated_at
		FROM memories WHERE id=?`, id)
	return scanMemory(row)
}

func scanMemory(row *sql.Row) (*Memory, error) {
	m := &Memory{}
	var scope, kind string
	var expires sql.NullTime
	var created, updated sql.NullTime
	if err := row.Scan(&m.ID, &scope, &kind, &m.Key, &m.Value, &m.Weight, &expires, &m.Provenance, &created, &updated); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	m.Scope = MemoryScope(scope)
	m.Kind = MemoryKind(kind)
	if expires.Valid {
		t := expires.Time
		m.ExpiresAt = &t
	}
	m.CreatedAt = created.Time
	m.UpdatedAt = updated.Time
	return m, nil
}

func (s *SQLiteMetadataStore) SearchMemories(ctx context.Context, query string, scope MemoryScope, limit int) ([]*Memory, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `SELECT id, scope, kind, key, value, weight, expires_at, provenance, created_at, updated_at
		FROM memories WHERE (scope=? OR ?='') AND (value LIKE ? OR key LIKE ?) ORDER BY weight DESC LIMIT ?`,
		string(scope), string(scope), "%"+query+"%", "%"+query+"%", limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	memories := []*Memory{}
	for rows.Next() {
		m := &Memory{}
		var sc, kind string
		var expires, created, updated sql.NullTime
		if err := rows.Scan(&m.ID, &sc, &kind, &m.Key, &m.Value, &m.Weight, &expires, &m.Provenance, &created, &updated); err != nil {
			return nil, err
		}
		m.Scope = MemoryScope(sc)
		m.Kind = MemoryKind(kind)
		if expires.Valid {
			t := expires.Time
			m.ExpiresAt = &t
		}
		m.CreatedAt = created.Time
		m.UpdatedAt = updated.Time
		memories = append(memories, m)
	}
	return memories, rows.Err()
}

func (s *SQLiteMetadataStore) DeleteMemory(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM memories WHERE id=?`, id)
	return err
}

func (s *SQLiteMetadataStore) DeleteExpiredMemories(ctx context.Context, asOf time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM memories WHERE expires_at IS NOT NULL AND expires_at <= ?`, asOf)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// ---- Interaction log ----

func (s *SQLiteMetadataStore) RecordInteraction(ctx context.Context, i *Interaction) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO interactions (id, query, intent, bundle_signature, tokens_used, satisfied, time_to_fix_ms, correlation_id, timestamp)
		VALUES (?,?,?,?,?,?,?,?,?)`,
		i.ID, i.Query, i.Intent, i.BundleSignature, i.TokensUsed, boolToInt(i.Satisfied), i.TimeToFixMS, i.CorrelationID, i.Timestamp)
	return err
}

func (s *SQLiteMetadataStore) FindRecentInteractions(ctx context.Context, window time.Duration) ([]*Interaction, error) {
	since := time.Now().Add(-window)
	rows, err := s.db.QueryContext(ctx, `SELECT id, query, intent, bundle_signature, tokens_used, satisfied, time_to_fix_ms, correlation_id, timestamp
		FROM interactions WHERE timestamp >= ? ORDER BY timestamp DESC`, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []*Interaction{}
	for rows.Next() {
		i := &Interaction{}
		var satisfied int
		var ts time.Time
		if err := rows.Scan(&i.ID, &i.Query, &i.Intent, &i.BundleSignature, &i.TokensUsed, &satisfied, &i.TimeToFixMS, &i.CorrelationID, &ts); err != nil {
			return nil, err
		}
		i.Satisfied = satisfied != 0
		i.Timestamp = ts
		out = append(out, i)
	}
	return out, rows.Err()
}

// ---- Context packs ----

func (s *SQLiteMetadataStore) SaveContextPack(ctx context.Context, p *ContextPack) error {
	pg, _ := json.Marshal(p.PathGlob)
	tg, _ := json.Marshal(p.Tags)
	lg, _ := json.Marshal(p.Lang)
	ex, _ := json.Marshal(p.Exclude)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO context_packs (name, path_glob, tags, lang, exclude, created_at)
		VALUES (?,?,?,?,?,?)
		ON CONFLICT(name) DO UPDATE SET path_glob=excluded.path_glob, tags=excluded.tags,
			lang=excluded.lang, exclude=excluded.exclude`,
		p.Name, string(pg), string(tg), string(lg), string(ex), p.CreatedAt)
	return err
}

func (s *SQLiteMetadataStore) GetContextPack(ctx context.Context, name string) (*ContextPack, error) {
	row := s.db.QueryRowContext(ctx, `SELECT name, path_glob, tags, lang, exclude, created_at FROM context_packs WHERE name=?`, name)
	p := &ContextPack{}
	var pg, tg, lg, ex string
	if err := row.Scan(&p.Name, &pg, &tg, &lg, &ex, &p.CreatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	_ = json.Unmarshal([]byte(pg), &p.PathGlob)
	_ = json.Unmarshal([]byte(tg), &p.Tags)
	_ = json.Unmarshal([]byte(lg), &p.Lang)
	_ = json.Unmarshal([]byte(ex), &p.Exclude)
	return p, nil
}

// ---- Packing profiles ----

func (s *SQLiteMetadataStore) SavePackingProfile(ctx context.Context, row *PackingProfileRow) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO packing_profiles (repo, model, version, json) VALUES (?,?,?,?)
		ON CONFLICT(repo, model) DO UPDATE SET version=excluded.version, json=excluded.json`,
		row.Repo, row.Model, row.Version, row.JSON)
	return err
}

func (s *SQLiteMetadataStore) GetPackingProfile(ctx context.Context, repo, model string) (*PackingProfileRow, error) {
	row := s.db.QueryRowContext(ctx, `SELECT repo, model, version, json FROM packing_profiles WHERE repo=? AND model=?`, repo, model)
	r := &PackingProfileRow{}
	if err := row.Scan(&r.Repo, &r.Model, &r.Version, &r.JSON); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return r, nil
}

// ---- State / checkpoint ----

func (s *SQLiteMetadataStore) GetState(ctx context.Context, key string) (string, error) {
	var v string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM kv_state WHERE key=?`, key).Scan(&v)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return v, err
}

func (s *SQLiteMetadataStore) SetState(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO kv_state (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value=excluded.value`, key, value)
	return err
}

func (s *SQLiteMetadataStore) GetEmbeddingStats(ctx context.Context, identity string) (withEmbedding, withoutEmbedding int, err error) {
	key := "vectors_present:" + identity
	raw, err := s.GetState(ctx, key)
	if err != nil {
		return 0, 0, err
	}
	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM chunks`).Scan(&total); err != nil {
		return 0, 0, err
	}
	present := 0
	fmt.Sscanf(raw, "%d", &present)
	if present > total {
		present = total
	}
	return present, total - present, nil
}

func (s *SQLiteMetadataStore) SaveIndexCheckpoint(ctx context.Context, stage string, total, embeddedCount int, embedderModel string) error {
	if err := s.SetState(ctx, StateKeyCheckpointStage, stage); err != nil {
		return err
	}
	if err := s.SetState(ctx, StateKeyCheckpointTotal, fmt.Sprint(total)); err != nil {
		return err
	}
	if err := s.SetState(ctx, StateKeyCheckpointEmbedded, fmt.Sprint(embeddedCount)); err != nil {
		return err
	}
	if err := s.SetState(ctx, StateKeyCheckpointEmbedderModel, embedderModel); err != nil {
		return err
	}
	return s.SetState(ctx, StateKeyCheckpointTimestamp, time.Now().Format(time.RFC3339))
}

func (s *SQLiteMetadataStore) LoadIndexCheckpoint(ctx context.Context) (*IndexCheckpoint, error) {
	stage, err := s.GetState(ctx, StateKeyCheckpointStage)
	if err != nil || stage == "" {
		return nil, err
	}
	totalStr, _ := s.GetState(ctx, StateKeyCheckpointTotal)
	embeddedStr, _ := s.GetState(ctx, StateKeyCheckpointEmbedded)
	model, _ := s.GetState(ctx, StateKeyCheckpointEmbedderModel)
	tsStr, _ := s.GetState(ctx, StateKeyCheckpointTimestamp)

	var total, embedded int
	fmt.Sscanf(totalStr, "%d", &total)
	fmt.Sscanf(embeddedStr, "%d", &embedded)
	ts, _ := time.Parse(time.RFC3339, tsStr)

	return &IndexCheckpoint{Stage: stage, Total: total, EmbeddedCount: embedded, EmbedderModel: model, Timestamp: ts}, nil
}

func (s *SQLiteMetadataStore) ClearIndexCheckpoint(ctx context.Context) error {
	for _, key := range []string{StateKeyCheckpointStage, StateKeyCheckpointTotal, StateKeyCheckpointEmbedded, StateKeyCheckpointEmbedderModel, StateKeyCheckpointTimestamp} {
		if _, err := s.db.ExecContext(ctx, `DELETE FROM kv_state WHERE key=?`, key); err != nil {
			return err
		}
	}
	return nil
}

// CheckIntegrity reports orphan vectors (vector ids with no chunk row),
// orphan edges (endpoints missing), and content-hash mismatches between
// chunk_body_ref and chunk_bodies.
func (s *SQLiteMetadataStore) CheckIntegrity(ctx context.Context, vectorIDsByIdentity map[string][]string) (*IntegrityReport, error) {
	report := &IntegrityReport{OK: true}

	chunkIDs := map[string]struct{}{}
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM chunks`)
	if err != nil {
		return nil, err
	}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		chunkIDs[id] = struct{}{}
	}
	rows.Close()

	for _, ids := range vectorIDsByIdentity {
		for _, id := range ids {
			if _, ok := chunkIDs[id]; !ok {
				report.OrphanVectors++
			}
		}
	}

	var orphanEdges int
	err = s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM edges e
		WHERE NOT EXISTS (SELECT 1 FROM spans s WHERE s.id = e.source_span)
		   OR NOT EXISTS (SELECT 1 FROM spans s WHERE s.id = e.target_span)`).Scan(&orphanEdges)
	if err != nil {
		return nil, err
	}
	report.OrphanEdges = orphanEdges

	var mismatches int
	err = s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM chunk_body_ref r
		WHERE NOT EXISTS (SELECT 1 FROM chunk_bodies b WHERE b.content_hash = r.content_hash)`).Scan(&mismatches)
	if err != nil {
		return nil, err
	}
	report.ContentHashMismatches = mismatches

	report.OK = report.OrphanVectors == 0 && report.OrphanEdges == 0 && report.ContentHashMismatches == 0
	return report, nil
}

func hashString(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

func nullableString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
