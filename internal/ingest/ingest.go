package ingest

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dshills/finrag/internal/storage"
	"github.com/dshills/finrag/pkg/types"
)

// Metadata keys set on every ingested chunk
const (
	MetaTitle      = "title"
	MetaChunkIndex = "chunk_index"
	MetaFormat     = "format"
)

// Store is the persistence the ingester writes through
type Store interface {
	BeginTx(ctx context.Context) (storage.Tx, error)
}

// Statistics contains statistics about an ingest run
type Statistics struct {
	DocumentsIngested int
	DocumentsSkipped  int
	DocumentsFailed   int
	ChunksCreated     int
	Duration          time.Duration
	ErrorMessages     []string
}

// Ingester loads documents, splits them into chunks and stores them
type Ingester struct {
	store   Store
	chunker *Chunker
	workers int
	logger  *slog.Logger

	// SQLite has a single writer; loading runs in parallel, writes do not
	writeMu sync.Mutex
}

// Option configures an Ingester
type Option func(*Ingester)

// WithMaxChars sets the maximum chunk length
func WithMaxChars(n int) Option {
	return func(i *Ingester) {
		i.chunker = NewChunker(n)
	}
}

// WithWorkers sets the number of concurrent loaders
func WithWorkers(n int) Option {
	return func(i *Ingester) {
		if n > 0 {
			i.workers = n
		}
	}
}

// WithLogger sets the logger
func WithLogger(l *slog.Logger) Option {
	return func(i *Ingester) {
		if l != nil {
			i.logger = l
		}
	}
}

// New creates an Ingester
func New(store Store, opts ...Option) *Ingester {
	i := &Ingester{
		store:   store,
		chunker: NewChunker(DefaultMaxChars),
		workers: runtime.NumCPU(),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// IngestPath ingests a file or every supported file under a directory.
// Per-document failures are counted and reported in ErrorMessages; only
// discovery and context errors fail the call.
func (i *Ingester) IngestPath(ctx context.Context, path string) (*Statistics, error) {
	start := time.Now()

	files, err := discoverFiles(path)
	if err != nil {
		return nil, fmt.Errorf("failed to discover files: %w", err)
	}

	stats := &Statistics{ErrorMessages: make([]string, 0)}
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(i.workers)

	for _, file := range files {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}

			skipped, chunks, err := i.ingestFile(gctx, file)

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err != nil:
				stats.DocumentsFailed++
				stats.ErrorMessages = append(stats.ErrorMessages, fmt.Sprintf("%s: %v", file, err))
				i.logger.Warn("failed to ingest document", "path", file, "error", err)
			case skipped:
				stats.DocumentsSkipped++
			default:
				stats.DocumentsIngested++
				stats.ChunksCreated += chunks
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	sort.Strings(stats.ErrorMessages)

	stats.Duration = time.Since(start)
	i.logger.Info("ingest complete",
		"ingested", stats.DocumentsIngested,
		"skipped", stats.DocumentsSkipped,
		"failed", stats.DocumentsFailed,
		"chunks", stats.ChunksCreated,
		"duration", stats.Duration)

	return stats, nil
}

// ingestFile stores one document, replacing its chunks. Unchanged
// documents are skipped.
func (i *Ingester) ingestFile(ctx context.Context, path string) (bool, int, error) {
	doc, err := Load(path)
	if err != nil {
		return false, 0, err
	}

	texts := i.chunker.Split(doc.Text)
	if len(texts) == 0 {
		return false, 0, errors.New("document has no text")
	}

	chunks := make([]*types.Chunk, len(texts))
	for n, text := range texts {
		chunks[n] = &types.Chunk{
			Position: n,
			Text:     text,
			Metadata: map[string]string{
				types.MetaSource: doc.Source,
				MetaTitle:        doc.Title,
				MetaChunkIndex:   strconv.Itoa(n),
				MetaFormat:       doc.Format,
			},
		}
	}

	i.writeMu.Lock()
	defer i.writeMu.Unlock()

	tx, err := i.store.BeginTx(ctx)
	if err != nil {
		return false, 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	existing, err := tx.GetDocument(ctx, doc.Source)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return false, 0, err
	}
	if existing != nil && existing.ContentHash == doc.ContentHash && existing.ChunkCount > 0 {
		return true, 0, nil
	}

	record := &storage.Document{
		Source:      doc.Source,
		Title:       doc.Title,
		Format:      doc.Format,
		ContentHash: doc.ContentHash,
		SizeBytes:   doc.SizeBytes,
		ChunkCount:  len(chunks),
	}
	if err := tx.UpsertDocument(ctx, record); err != nil {
		return false, 0, err
	}
	if err := tx.ReplaceChunks(ctx, record.ID, chunks); err != nil {
		return false, 0, err
	}

	if err := tx.Commit(); err != nil {
		return false, 0, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return false, len(chunks), nil
}

// discoverFiles returns the supported files at path in lexical order,
// skipping hidden directories
func discoverFiles(path string) ([]string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		if FormatOf(path) == "" {
			return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, path)
		}
		return []string{path}, nil
	}

	var files []string
	err = filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if p != path && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if FormatOf(p) != "" {
			files = append(files, p)
		}
		return nil
	})
	return files, err
}
