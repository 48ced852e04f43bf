package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dshills/finrag/pkg/types"
)

var (
	// ErrNotFound is returned when a requested entity doesn't exist
	ErrNotFound = errors.New("not found")
	// ErrInvalidDocument is returned when a document cannot be stored
	ErrInvalidDocument = errors.New("invalid document")
)

// SQLiteStorage implements the Storage interface using SQLite
type SQLiteStorage struct {
	db *sql.DB
}

// openDatabase opens a SQLite database with appropriate settings
func openDatabase(dbPath string) (*sql.DB, error) {
	db, err := sql.Open(DriverName, dbPath)
	if err != nil {
		return nil, err
	}

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	// Set connection pool settings
	db.SetMaxOpenConns(1) // SQLite benefits from single writer
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	// Enable foreign keys
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	return db, nil
}

// NewSQLiteStorage creates a new SQLite storage instance
func NewSQLiteStorage(dbPath string) (*SQLiteStorage, error) {
	db, err := openDatabase(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := ApplyMigrations(context.Background(), db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply migrations: %w", err)
	}

	return &SQLiteStorage{db: db}, nil
}

// Close closes the database connection
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// BeginTx starts a new transaction
func (s *SQLiteStorage) BeginTx(ctx context.Context) (Tx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	return &sqliteTx{tx: tx}, nil
}

// querier is an interface that both *sql.DB and *sql.Tx implement
type querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// sqliteTx wraps a SQL transaction
type sqliteTx struct {
	tx *sql.Tx
}

func (t *sqliteTx) Commit() error {
	return t.tx.Commit()
}

func (t *sqliteTx) Rollback() error {
	return t.tx.Rollback()
}

func (t *sqliteTx) UpsertDocument(ctx context.Context, doc *Document) error {
	return upsertDocument(ctx, t.tx, doc)
}

func (t *sqliteTx) GetDocument(ctx context.Context, source string) (*Document, error) {
	return getDocument(ctx, t.tx, source)
}

func (t *sqliteTx) ReplaceChunks(ctx context.Context, documentID int64, chunks []*types.Chunk) error {
	return replaceChunks(ctx, t.tx, documentID, chunks)
}

func (t *sqliteTx) DeleteDocument(ctx context.Context, documentID int64) error {
	return deleteDocument(ctx, t.tx, documentID)
}

// Document operations

func upsertDocument(ctx context.Context, q querier, doc *Document) error {
	if strings.TrimSpace(doc.Source) == "" {
		return fmt.Errorf("%w: source is required", ErrInvalidDocument)
	}

	query := `
		INSERT INTO documents (source, title, format, content_hash, size_bytes, chunk_count, ingested_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(source) DO UPDATE SET
			title = excluded.title,
			format = excluded.format,
			content_hash = excluded.content_hash,
			size_bytes = excluded.size_bytes,
			chunk_count = excluded.chunk_count,
			ingested_at = excluded.ingested_at,
			updated_at = excluded.updated_at
		RETURNING id
	`
	now := time.Now()
	err := q.QueryRowContext(ctx, query,
		doc.Source, doc.Title, doc.Format, doc.ContentHash[:], doc.SizeBytes,
		doc.ChunkCount, now, now, now).Scan(&doc.ID)
	if err != nil {
		return fmt.Errorf("failed to upsert document: %w", err)
	}

	doc.IngestedAt = now
	doc.UpdatedAt = now
	return nil
}

func (s *SQLiteStorage) UpsertDocument(ctx context.Context, doc *Document) error {
	return upsertDocument(ctx, s.db, doc)
}

const documentColumns = `id, source, title, format, content_hash, size_bytes, chunk_count, ingested_at, created_at, updated_at`

func scanDocument(scan func(...interface{}) error) (*Document, error) {
	var doc Document
	var hash []byte
	var title sql.NullString
	var size sql.NullInt64
	var ingestedAt sql.NullTime
	err := scan(&doc.ID, &doc.Source, &title, &doc.Format, &hash, &size,
		&doc.ChunkCount, &ingestedAt, &doc.CreatedAt, &doc.UpdatedAt)
	if err != nil {
		return nil, err
	}
	copy(doc.ContentHash[:], hash)
	doc.Title = title.String
	doc.SizeBytes = size.Int64
	if ingestedAt.Valid {
		doc.IngestedAt = ingestedAt.Time
	}
	return &doc, nil
}

func getDocument(ctx context.Context, q querier, source string) (*Document, error) {
	row := q.QueryRowContext(ctx, `SELECT `+documentColumns+` FROM documents WHERE source = ?`, source)
	doc, err := scanDocument(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return doc, err
}

func (s *SQLiteStorage) GetDocument(ctx context.Context, source string) (*Document, error) {
	return getDocument(ctx, s.db, source)
}

func (s *SQLiteStorage) ListDocuments(ctx context.Context) ([]*Document, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+documentColumns+` FROM documents ORDER BY source`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	docs := make([]*Document, 0)
	for rows.Next() {
		doc, err := scanDocument(rows.Scan)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

func deleteDocument(ctx context.Context, q querier, documentID int64) error {
	_, err := q.ExecContext(ctx, `DELETE FROM documents WHERE id = ?`, documentID)
	return err
}

func (s *SQLiteStorage) DeleteDocument(ctx context.Context, documentID int64) error {
	return deleteDocument(ctx, s.db, documentID)
}

// Chunk operations

// replaceChunks deletes the document's chunks (and their embeddings) and
// inserts the new ones. Chunk IDs, content hashes and the document's
// chunk_count are set on return.
func replaceChunks(ctx context.Context, q querier, documentID int64, chunks []*types.Chunk) error {
	var source string
	err := q.QueryRowContext(ctx, `SELECT source FROM documents WHERE id = ?`, documentID).Scan(&source)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}

	if _, err := q.ExecContext(ctx, `DELETE FROM chunks WHERE document_id = ?`, documentID); err != nil {
		return fmt.Errorf("failed to delete chunks: %w", err)
	}

	query := `
		INSERT INTO chunks (document_id, position, content, content_hash, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		RETURNING id
	`
	now := time.Now()
	for _, c := range chunks {
		c.DocumentID = documentID
		if c.Metadata == nil {
			c.Metadata = map[string]string{}
		}
		if c.Metadata[types.MetaSource] == "" {
			c.Metadata[types.MetaSource] = source
		}
		if err := c.Validate(); err != nil {
			return fmt.Errorf("chunk %d: %w", c.Position, err)
		}
		c.ComputeContentHash()

		meta, err := json.Marshal(c.Metadata)
		if err != nil {
			return fmt.Errorf("failed to encode metadata: %w", err)
		}

		if err := q.QueryRowContext(ctx, query,
			documentID, c.Position, c.Text, c.ContentHash[:], string(meta), now).Scan(&c.ID); err != nil {
			return fmt.Errorf("failed to insert chunk %d: %w", c.Position, err)
		}
	}

	_, err = q.ExecContext(ctx, `UPDATE documents SET chunk_count = ?, updated_at = ? WHERE id = ?`,
		len(chunks), now, documentID)
	return err
}

func (s *SQLiteStorage) ReplaceChunks(ctx context.Context, documentID int64, chunks []*types.Chunk) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := replaceChunks(ctx, tx, documentID, chunks); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

const chunkColumns = `c.id, c.document_id, c.position, c.content, c.content_hash, c.metadata`

func scanChunk(scan func(...interface{}) error) (*types.Chunk, error) {
	var c types.Chunk
	var hash []byte
	var meta string
	if err := scan(&c.ID, &c.DocumentID, &c.Position, &c.Text, &hash, &meta); err != nil {
		return nil, err
	}
	copy(c.ContentHash[:], hash)
	if err := json.Unmarshal([]byte(meta), &c.Metadata); err != nil {
		return nil, fmt.Errorf("chunk %d: invalid metadata: %w", c.ID, err)
	}
	return &c, nil
}

func (s *SQLiteStorage) GetChunk(ctx context.Context, chunkID int64) (*types.Chunk, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+chunkColumns+` FROM chunks c WHERE c.id = ?`, chunkID)
	c, err := scanChunk(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return c, err
}

func (s *SQLiteStorage) ListChunksByDocument(ctx context.Context, documentID int64) ([]*types.Chunk, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+chunkColumns+` FROM chunks c WHERE c.document_id = ? ORDER BY c.position`, documentID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	chunks := make([]*types.Chunk, 0)
	for rows.Next() {
		c, err := scanChunk(rows.Scan)
		if err != nil {
			return nil, err
		}
		chunks = append(chunks, c)
	}
	return chunks, rows.Err()
}

// Chunks returns every chunk ordered by document source, then position
func (s *SQLiteStorage) Chunks(ctx context.Context) ([]types.Chunk, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+chunkColumns+`
		FROM chunks c
		INNER JOIN documents d ON c.document_id = d.id
		ORDER BY d.source, c.position
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list chunks: %w", err)
	}
	defer func() { _ = rows.Close() }()

	chunks := make([]types.Chunk, 0)
	for rows.Next() {
		c, err := scanChunk(rows.Scan)
		if err != nil {
			return nil, err
		}
		chunks = append(chunks, *c)
	}
	return chunks, rows.Err()
}

// Metadata returns a copy of a chunk's metadata
func (s *SQLiteStorage) Metadata(ctx context.Context, chunkID int64) (map[string]string, error) {
	var meta string
	err := s.db.QueryRowContext(ctx, `SELECT metadata FROM chunks WHERE id = ?`, chunkID).Scan(&meta)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	out := map[string]string{}
	if err := json.Unmarshal([]byte(meta), &out); err != nil {
		return nil, fmt.Errorf("chunk %d: invalid metadata: %w", chunkID, err)
	}
	return out, nil
}

// Embedding operations

// UpsertEmbeddings stores vectors in one transaction, replacing any
// existing vector for the same chunk and space
func (s *SQLiteStorage) UpsertEmbeddings(ctx context.Context, embeddings []*Embedding) error {
	if len(embeddings) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	query := `
		INSERT INTO embeddings (chunk_id, space, provider, model, topic, vector, dimension, content_hash, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(chunk_id, space) DO UPDATE SET
			provider = excluded.provider,
			model = excluded.model,
			topic = excluded.topic,
			vector = excluded.vector,
			dimension = excluded.dimension,
			content_hash = excluded.content_hash,
			created_at = excluded.created_at
		RETURNING id
	`
	now := time.Now()
	for _, e := range embeddings {
		if e.Space == "" || len(e.Vector) == 0 {
			return fmt.Errorf("embedding for chunk %d: space and vector are required", e.ChunkID)
		}
		err := tx.QueryRowContext(ctx, query,
			e.ChunkID, e.Space, e.Provider, e.Model, e.Topic,
			serializeVector(e.Vector), len(e.Vector), e.ContentHash[:], now).Scan(&e.ID)
		if err != nil {
			return fmt.Errorf("failed to upsert embedding for chunk %d: %w", e.ChunkID, err)
		}
		e.CreatedAt = now
	}

	return tx.Commit()
}

// ListEmbeddings returns the stored vectors of one space keyed by chunk ID
func (s *SQLiteStorage) ListEmbeddings(ctx context.Context, space string) (map[int64]*Embedding, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, chunk_id, space, provider, model, topic, vector, dimension, content_hash, created_at
		FROM embeddings
		WHERE space = ?
	`, space)
	if err != nil {
		return nil, fmt.Errorf("failed to list embeddings: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := make(map[int64]*Embedding)
	for rows.Next() {
		var e Embedding
		var topic sql.NullString
		var blob, hash []byte
		var dim int
		if err := rows.Scan(&e.ID, &e.ChunkID, &e.Space, &e.Provider, &e.Model, &topic,
			&blob, &dim, &hash, &e.CreatedAt); err != nil {
			return nil, err
		}
		vec, err := deserializeVector(blob, dim)
		if err != nil {
			return nil, fmt.Errorf("embedding %d: %w", e.ID, err)
		}
		e.Vector = vec
		e.Topic = topic.String
		copy(e.ContentHash[:], hash)
		out[e.ChunkID] = &e
	}
	return out, rows.Err()
}

// Search log

// AppendSearchLog records a search. A missing ID is filled with a new UUID.
func (s *SQLiteStorage) AppendSearchLog(ctx context.Context, entry *SearchLogEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	ids := entry.ResultChunkIDs
	if ids == nil {
		ids = []int64{}
	}
	encoded, err := json.Marshal(ids)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO search_log (id, query_text, mode, top_k, result_count, result_chunk_ids, reranked, duration_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, entry.ID, entry.Query, entry.Mode, entry.TopK, entry.ResultCount, string(encoded),
		entry.Reranked, entry.DurationMs, entry.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to append search log: %w", err)
	}
	return nil
}

// ListSearchLog returns the most recent entries first
func (s *SQLiteStorage) ListSearchLog(ctx context.Context, limit int) ([]*SearchLogEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, query_text, mode, top_k, result_count, result_chunk_ids, reranked, duration_ms, created_at
		FROM search_log
		ORDER BY rowid DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	entries := make([]*SearchLogEntry, 0)
	for rows.Next() {
		var e SearchLogEntry
		var ids string
		var duration sql.NullInt64
		if err := rows.Scan(&e.ID, &e.Query, &e.Mode, &e.TopK, &e.ResultCount, &ids,
			&e.Reranked, &duration, &e.CreatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(ids), &e.ResultChunkIDs); err != nil {
			return nil, fmt.Errorf("search log %s: %w", e.ID, err)
		}
		e.DurationMs = duration.Int64
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}

// Status operations

func (s *SQLiteStorage) GetStatus(ctx context.Context) (*Status, error) {
	status := &Status{
		EmbeddingsBySpace: map[string]int{},
		BuildMode:         BuildMode,
	}

	counts := []struct {
		query string
		dest  *int
	}{
		{"SELECT COUNT(*) FROM documents", &status.DocumentsCount},
		{"SELECT COUNT(*) FROM chunks", &status.ChunksCount},
		{"SELECT COUNT(*) FROM embeddings", &status.EmbeddingsCount},
		{"SELECT COUNT(*) FROM search_log", &status.SearchesLogged},
	}
	for _, c := range counts {
		if err := s.db.QueryRowContext(ctx, c.query).Scan(c.dest); err != nil {
			return nil, err
		}
	}

	rows, err := s.db.QueryContext(ctx, "SELECT space, COUNT(*) FROM embeddings GROUP BY space")
	if err != nil {
		return nil, err
	}
	for rows.Next() {
		var space string
		var n int
		if err := rows.Scan(&space, &n); err != nil {
			_ = rows.Close()
			return nil, err
		}
		status.EmbeddingsBySpace[space] = n
	}
	_ = rows.Close()

	var last sql.NullTime
	err = s.db.QueryRowContext(ctx, "SELECT ingested_at FROM documents ORDER BY ingested_at DESC LIMIT 1").Scan(&last)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if last.Valid {
		status.LastIngestedAt = last.Time
	}

	version, err := SchemaVersion(ctx, s.db)
	if err != nil {
		return nil, err
	}
	status.SchemaVersion = version.String()

	// Calculate database size
	var pageCount, pageSize int
	if err := s.db.QueryRowContext(ctx, "PRAGMA page_count").Scan(&pageCount); err == nil {
		_ = s.db.QueryRowContext(ctx, "PRAGMA page_size").Scan(&pageSize)
		status.DBSizeMB = float64(pageCount*pageSize) / (1024 * 1024)
	}

	status.Health = HealthStatus{
		DatabaseAccessible:  true,
		EmbeddingsAvailable: status.EmbeddingsCount > 0,
	}

	return status, nil
}
