package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/dshills/finrag/internal/config"
	"github.com/dshills/finrag/internal/embedder"
	"github.com/dshills/finrag/internal/indexer"
	"github.com/dshills/finrag/internal/ingest"
	"github.com/dshills/finrag/internal/reranker"
	"github.com/dshills/finrag/internal/searcher"
	"github.com/dshills/finrag/internal/storage"
)

// app holds the wired components shared by every command
type app struct {
	cfg      *config.Config
	store    *storage.SQLiteStorage
	router   *embedder.Router
	searcher *searcher.Searcher
	ingester *ingest.Ingester
	logger   *slog.Logger
}

// openApp loads configuration and wires storage, encoders, index builder,
// searcher and ingester. The caller must Close the returned app.
func openApp(logger *slog.Logger) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	return newApp(cfg, logger)
}

func newApp(cfg *config.Config, logger *slog.Logger) (*app, error) {
	if cfg.DBPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	store, err := storage.NewSQLiteStorage(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("opening knowledge base: %w", err)
	}

	a, err := wire(cfg, store, logger)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	return a, nil
}

func wire(cfg *config.Config, store *storage.SQLiteStorage, logger *slog.Logger) (*app, error) {
	router, err := embedder.New(cfg.EmbedderConfig(), logger)
	if err != nil {
		return nil, fmt.Errorf("creating embedder: %w", err)
	}

	builder, err := indexer.New(store, router,
		indexer.WithEmbeddingStore(store),
		indexer.WithLexicalOptions(cfg.LexicalOptions()),
		indexer.WithWorkers(cfg.Embedding.Workers),
		indexer.WithLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("creating index builder: %w", err)
	}

	rr, err := newReranker(cfg.Rerank, router, logger)
	if err != nil {
		return nil, err
	}

	srch, err := searcher.New(builder, router,
		searcher.WithReranker(rr),
		searcher.WithKnowledgeBase(store),
		searcher.WithSearchLogger(store),
		searcher.WithOverFetch(cfg.Search.OverFetch),
		searcher.WithCacheSize(cfg.Search.CacheSize),
		searcher.WithCacheTTL(cfg.Search.CacheTTL),
		searcher.WithDefaultWeights(cfg.Search.SemanticWeight, cfg.Search.LexicalWeight),
		searcher.WithLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("creating searcher: %w", err)
	}

	ing := ingest.New(store,
		ingest.WithMaxChars(cfg.Ingest.MaxChars),
		ingest.WithWorkers(cfg.Ingest.Workers),
		ingest.WithLogger(logger))

	return &app{
		cfg:      cfg,
		store:    store,
		router:   router,
		searcher: srch,
		ingester: ing,
		logger:   logger,
	}, nil
}

// newReranker returns nil when re-ranking is disabled
func newReranker(cfg config.RerankConfig, router *embedder.Router, logger *slog.Logger) (*reranker.Reranker, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	var scorer reranker.Scorer
	switch cfg.Provider {
	case config.RerankEmbedding:
		scorer = reranker.NewEmbeddingScorer(router)
	default:
		s, err := reranker.NewHTTPScorer(
			reranker.WithAPIKey(cfg.APIKey),
			reranker.WithModel(cfg.Model),
			reranker.WithBaseURL(cfg.BaseURL),
			reranker.WithRateLimit(cfg.RateLimit))
		if err != nil {
			return nil, fmt.Errorf("creating rerank scorer: %w", err)
		}
		scorer = s
	}

	return reranker.New(scorer, reranker.WithTimeout(cfg.Timeout), reranker.WithLogger(logger)), nil
}

// rebuild loads the index from the knowledge base
func (a *app) rebuild(ctx context.Context) (*indexer.Statistics, error) {
	return a.searcher.Rebuild(ctx)
}

// Close releases the searcher and the database
func (a *app) Close() error {
	_ = a.searcher.Close()
	return a.store.Close()
}

// mustOpenApp opens the app, exits on error
func mustOpenApp() *app {
	a, err := openApp(slog.Default())
	if err != nil {
		exitWithError(ExitConfigError, "%v", err)
	}
	return a
}
