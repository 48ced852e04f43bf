package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/finrag/internal/config"
	"github.com/dshills/finrag/internal/indexer"
	"github.com/dshills/finrag/internal/ingest"
	"github.com/dshills/finrag/internal/searcher"
	"github.com/dshills/finrag/pkg/types"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func memoryConfig() *config.Config {
	cfg := config.Default()
	cfg.DBPath = ":memory:"
	return cfg
}

func TestAppIngestAndSearch(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "basel.md"), []byte("# Basel\n\nBasel III capital requirements."), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "garden.txt"), []byte("Planting tomatoes in the garden."), 0o644))

	a, err := newApp(memoryConfig(), quietLogger())
	require.NoError(t, err)
	defer func() { _ = a.Close() }()

	stats, err := a.ingester.IngestPath(ctx, dir)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.DocumentsIngested)

	indexStats, err := a.rebuild(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, indexStats.Chunks)
	assert.Equal(t, 2, indexStats.EmbeddingsCreated)

	// A second build reuses the stored vectors
	indexStats, err = a.rebuild(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, indexStats.EmbeddingsReused)
	assert.Zero(t, indexStats.EmbeddingsCreated)

	resp, err := a.searcher.Search(ctx, searcher.SearchRequest{Query: "Basel capital", TopK: 1})
	require.NoError(t, err)
	out := buildSearchResponse("Basel capital", resp)
	require.Len(t, out.Results, 1)
	assert.Equal(t, filepath.Join(dir, "basel.md"), out.Results[0].Source)
	assert.Equal(t, "Basel", out.Results[0].Title)
	assert.Equal(t, "hybrid", out.Mode)

	index := buildIndexResponse(indexStats, a.searcher.Snapshot().Generation)
	assert.Equal(t, uint64(2), index.Generation)
	assert.Equal(t, 2, index.Topics["general"]+index.Topics["finance"])
}

func TestNewReranker(t *testing.T) {
	t.Setenv("FINRAG_RERANK_API_KEY", "")
	t.Setenv("JINA_API_KEY", "")

	cfg := config.Default()
	a, err := newApp(memoryConfig(), quietLogger())
	require.NoError(t, err)
	defer func() { _ = a.Close() }()

	rr, err := newReranker(cfg.Rerank, a.router, quietLogger())
	require.NoError(t, err)
	assert.False(t, rr.Enabled(), "disabled by default")

	cfg.Rerank.Enabled = true
	cfg.Rerank.Provider = config.RerankEmbedding
	rr, err = newReranker(cfg.Rerank, a.router, quietLogger())
	require.NoError(t, err)
	assert.True(t, rr.Enabled())

	cfg.Rerank.Provider = config.RerankHTTP
	_, err = newReranker(cfg.Rerank, a.router, quietLogger())
	assert.Error(t, err, "http scorer needs an API key")

	cfg.Rerank.APIKey = "key"
	rr, err = newReranker(cfg.Rerank, a.router, quietLogger())
	require.NoError(t, err)
	assert.True(t, rr.Enabled())
}

func TestExitCodeFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("%w: empty query", types.ErrInvalidArgument), ExitDataError},
		{fmt.Errorf("%w: x.go", ingest.ErrUnsupportedFormat), ExitDataError},
		{fmt.Errorf("%w: down", types.ErrFatalEncoderFailure), ExitEncoderError},
		{indexer.ErrRebuildInProgress, ExitRebuildLocked},
		{errors.New("disk full"), ExitError},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			assert.Equal(t, tt.want, exitCodeFor(tt.err))
		})
	}
}

func TestFormatting(t *testing.T) {
	assert.Equal(t, "short", truncateString("short", 10))
	assert.Equal(t, "abcdefg...", truncateString("abcdefghijklmnop", 10))
	assert.Equal(t, "ééé...", truncateString("éééééééé", 6))

	assert.Equal(t, "one two\n  three", wrapText("one two three", 8, "  "))

	lex := 0.5
	assert.Equal(t, "combined=0.250 lexical=0.500", formatScores(types.ScoreBreakdown{Lexical: &lex, Combined: 0.25}))
}
