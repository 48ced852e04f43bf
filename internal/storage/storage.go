package storage

import (
	"context"
	"time"

	"github.com/dshills/finrag/pkg/types"
)

// KnowledgeBase is the read side consumed by index builds. Chunks must
// return a stable order for an unchanged corpus.
type KnowledgeBase interface {
	Chunks(ctx context.Context) ([]types.Chunk, error)
	Metadata(ctx context.Context, chunkID int64) (map[string]string, error)
}

// EmbeddingStore persists chunk vectors so unchanged chunks are not
// re-embedded on rebuild
type EmbeddingStore interface {
	ListEmbeddings(ctx context.Context, space string) (map[int64]*Embedding, error)
	UpsertEmbeddings(ctx context.Context, embeddings []*Embedding) error
}

// SearchLogger records executed searches
type SearchLogger interface {
	AppendSearchLog(ctx context.Context, entry *SearchLogEntry) error
}

// DocumentWriter mutates documents and their chunks
type DocumentWriter interface {
	UpsertDocument(ctx context.Context, doc *Document) error
	ReplaceChunks(ctx context.Context, documentID int64, chunks []*types.Chunk) error
	DeleteDocument(ctx context.Context, documentID int64) error
}

// Storage defines the interface for persisting the knowledge base
type Storage interface {
	KnowledgeBase
	EmbeddingStore
	SearchLogger
	DocumentWriter

	// Document operations
	GetDocument(ctx context.Context, source string) (*Document, error)
	ListDocuments(ctx context.Context) ([]*Document, error)

	// Chunk operations
	GetChunk(ctx context.Context, chunkID int64) (*types.Chunk, error)
	ListChunksByDocument(ctx context.Context, documentID int64) ([]*types.Chunk, error)

	// Search log
	ListSearchLog(ctx context.Context, limit int) ([]*SearchLogEntry, error)

	// Status operations
	GetStatus(ctx context.Context) (*Status, error)

	// Database operations
	Close() error
	BeginTx(ctx context.Context) (Tx, error)
}

// Tx groups document writes so a document and its chunks change together
type Tx interface {
	Commit() error
	Rollback() error
	DocumentWriter
	GetDocument(ctx context.Context, source string) (*Document, error)
}

// Document is an ingested source file
type Document struct {
	ID          int64
	Source      string // Path the document was loaded from; unique
	Title       string
	Format      string // md, txt, pdf
	ContentHash [32]byte
	SizeBytes   int64
	ChunkCount  int
	IngestedAt  time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Embedding is a stored chunk vector in one encoder space
type Embedding struct {
	ID          int64
	ChunkID     int64
	Space       string // provider/model
	Provider    string
	Model       string
	Topic       string
	Vector      []float32
	ContentHash [32]byte // Hash of the chunk text the vector was computed from
	CreatedAt   time.Time
}

// SearchLogEntry is one appended search record
type SearchLogEntry struct {
	ID             string // UUID
	Query          string
	Mode           string
	TopK           int
	ResultCount    int
	ResultChunkIDs []int64
	Reranked       bool
	DurationMs     int64
	CreatedAt      time.Time
}

// Status contains statistics about the knowledge base
type Status struct {
	DocumentsCount    int
	ChunksCount       int
	EmbeddingsCount   int
	EmbeddingsBySpace map[string]int
	SearchesLogged    int
	LastIngestedAt    time.Time
	SchemaVersion     string
	DBSizeMB          float64
	BuildMode         string
	Health            HealthStatus
}

// HealthStatus represents the health of the knowledge base
type HealthStatus struct {
	DatabaseAccessible  bool
	EmbeddingsAvailable bool
}
