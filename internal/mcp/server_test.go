package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/finrag/internal/embedder"
	"github.com/dshills/finrag/internal/indexer"
	"github.com/dshills/finrag/internal/ingest"
	"github.com/dshills/finrag/internal/searcher"
	"github.com/dshills/finrag/internal/storage"
	"github.com/dshills/finrag/pkg/types"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeEngine struct {
	resp       *searcher.SearchResponse
	searchErr  error
	rebuildErr error
	snap       *indexer.Snapshot
	rebuilds   int
	lastReq    searcher.SearchRequest
}

func (e *fakeEngine) Search(_ context.Context, req searcher.SearchRequest) (*searcher.SearchResponse, error) {
	e.lastReq = req
	if e.searchErr != nil {
		return nil, e.searchErr
	}
	return e.resp, nil
}

func (e *fakeEngine) Rebuild(context.Context) (*indexer.Statistics, error) {
	e.rebuilds++
	if e.rebuildErr != nil {
		return nil, e.rebuildErr
	}
	return &e.snap.Stats, nil
}

func (e *fakeEngine) Snapshot() *indexer.Snapshot {
	return e.snap
}

type fakeIngester struct {
	stats *ingest.Statistics
	err   error
	paths []string
}

func (f *fakeIngester) IngestPath(_ context.Context, path string) (*ingest.Statistics, error) {
	f.paths = append(f.paths, path)
	return f.stats, f.err
}

func newTestServer(t *testing.T, engine Engine, ing Ingester, status StatusReporter, opts ...Option) *Server {
	t.Helper()
	s, err := NewServer(engine, ing, status, "test", append([]Option{WithLogger(quietLogger())}, opts...)...)
	require.NoError(t, err)
	return s
}

func call(t *testing.T, handler func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error), args interface{}) (map[string]interface{}, error) {
	t.Helper()
	var req mcp.CallToolRequest
	req.Params.Arguments = args

	result, err := handler(context.Background(), req)
	if err != nil {
		return nil, err
	}
	require.Len(t, result.Content, 1)
	text, ok := result.Content[0].(mcp.TextContent)
	require.True(t, ok)

	var out map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(text.Text), &out))
	return out, nil
}

func requireCode(t *testing.T, err error, code int) {
	t.Helper()
	var mcpErr *MCPError
	require.ErrorAs(t, err, &mcpErr)
	assert.Equal(t, code, mcpErr.Code)
}

func builtSnapshot() *indexer.Snapshot {
	return &indexer.Snapshot{
		Generation: 3,
		Stats:      indexer.Statistics{Chunks: 2, EmbeddingsCreated: 2, VocabularySize: 12},
	}
}

func TestNewServer(t *testing.T) {
	_, err := NewServer(nil, nil, nil, "test")
	assert.Error(t, err)

	s := newTestServer(t, &fakeEngine{}, nil, nil, WithDefaultTopK(5))
	assert.NotNil(t, s.mcp)
	assert.Equal(t, 5, s.topK)

	s = newTestServer(t, &fakeEngine{}, nil, nil, WithDefaultTopK(500))
	assert.Equal(t, DefaultTopK, s.topK)
}

func TestSearchKnowledgeValidation(t *testing.T) {
	s := newTestServer(t, &fakeEngine{}, nil, nil)

	tests := []struct {
		name string
		args interface{}
		code int
	}{
		{name: "arguments not an object", args: []string{"x"}, code: ErrorCodeInvalidParams},
		{name: "missing query", args: map[string]interface{}{}, code: ErrorCodeEmptyQuery},
		{name: "blank query", args: map[string]interface{}{"query": "   "}, code: ErrorCodeEmptyQuery},
		{name: "zero top_k", args: map[string]interface{}{"query": "basel", "top_k": float64(0)}, code: ErrorCodeInvalidParams},
		{name: "top_k too large", args: map[string]interface{}{"query": "basel", "top_k": float64(101)}, code: ErrorCodeInvalidParams},
		{name: "fractional top_k", args: map[string]interface{}{"query": "basel", "top_k": 2.5}, code: ErrorCodeInvalidParams},
		{name: "unknown mode", args: map[string]interface{}{"query": "basel", "mode": "vector"}, code: ErrorCodeInvalidParams},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := call(t, s.handleSearchKnowledge, tt.args)
			requireCode(t, err, tt.code)
		})
	}
}

func TestSearchKnowledgeErrorMapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code int
	}{
		{name: "invalid argument", err: fmt.Errorf("%w: negative weight", types.ErrInvalidArgument), code: ErrorCodeInvalidParams},
		{name: "fatal encoder", err: fmt.Errorf("%w: timeout", types.ErrFatalEncoderFailure), code: ErrorCodeEncoderFailure},
		{name: "other", err: errors.New("boom"), code: ErrorCodeInternalError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(t, &fakeEngine{searchErr: tt.err}, nil, nil)
			_, err := call(t, s.handleSearchKnowledge, map[string]interface{}{"query": "basel"})
			requireCode(t, err, tt.code)
		})
	}
}

func TestSearchKnowledge(t *testing.T) {
	semantic := 0.8
	engine := &fakeEngine{resp: &searcher.SearchResponse{
		Results: []types.SearchResult{{
			Chunk:      types.Chunk{ID: 7, Text: "Basel III capital requirements"},
			Rank:       1,
			Metadata:   map[string]string{types.MetaSource: "basel.md"},
			Score:      0.9,
			SearchType: types.SearchTypeHybrid,
			Scores:     types.ScoreBreakdown{Semantic: &semantic, Combined: 0.9},
		}},
		TotalResults: 1,
		SearchMode:   searcher.SearchModeHybrid,
		Generation:   2,
	}}
	s := newTestServer(t, engine, nil, nil, WithDefaultTopK(4))

	out, err := call(t, s.handleSearchKnowledge, map[string]interface{}{
		"query":          "Basel capital",
		"lexical_weight": 0.5,
		"use_cache":      false,
	})
	require.NoError(t, err)

	assert.Equal(t, 4, engine.lastReq.TopK)
	assert.Nil(t, engine.lastReq.SemanticWeight)
	require.NotNil(t, engine.lastReq.LexicalWeight)
	assert.Equal(t, 0.5, *engine.lastReq.LexicalWeight)
	assert.False(t, engine.lastReq.UseCache)

	results := out["results"].([]interface{})
	require.Len(t, results, 1)
	first := results[0].(map[string]interface{})
	assert.Equal(t, "basel.md", first["source"])
	assert.Equal(t, float64(7), first["chunk_id"])
	assert.Equal(t, "hybrid", first["search_type"])
	assert.Equal(t, 0.8, first["scores"].(map[string]interface{})["semantic"])
	assert.NotContains(t, out, "message")

	t.Run("empty index", func(t *testing.T) {
		engine.resp = &searcher.SearchResponse{Results: []types.SearchResult{}, SearchMode: searcher.SearchModeLexical}
		out, err := call(t, s.handleSearchKnowledge, map[string]interface{}{"query": "basel", "mode": "lexical"})
		require.NoError(t, err)
		assert.Equal(t, searcher.SearchModeLexical, engine.lastReq.Mode)
		assert.Empty(t, out["results"])
		assert.Contains(t, out, "message")
	})
}

func TestRebuildIndex(t *testing.T) {
	engine := &fakeEngine{snap: builtSnapshot()}
	s := newTestServer(t, engine, nil, nil)

	out, err := call(t, s.handleRebuildIndex, nil)
	require.NoError(t, err)
	assert.Equal(t, float64(3), out["generation"])
	assert.Equal(t, float64(2), out["chunks"])

	engine.rebuildErr = fmt.Errorf("build: %w", indexer.ErrRebuildInProgress)
	_, err = call(t, s.handleRebuildIndex, nil)
	requireCode(t, err, ErrorCodeRebuildInProgress)

	engine.rebuildErr = fmt.Errorf("%w: down", types.ErrFatalEncoderFailure)
	_, err = call(t, s.handleRebuildIndex, nil)
	requireCode(t, err, ErrorCodeEncoderFailure)
}

func TestIngestDocuments(t *testing.T) {
	dir := t.TempDir()
	doc := filepath.Join(dir, "basel.md")
	require.NoError(t, os.WriteFile(doc, []byte("# Basel"), 0o644))
	other := filepath.Join(dir, "main.go")
	require.NoError(t, os.WriteFile(other, []byte("package main"), 0o644))

	t.Run("not configured", func(t *testing.T) {
		s := newTestServer(t, &fakeEngine{}, nil, nil)
		_, err := call(t, s.handleIngestDocuments, map[string]interface{}{"path": dir})
		requireCode(t, err, ErrorCodeUnavailable)
	})

	invalid := []struct {
		name string
		args map[string]interface{}
	}{
		{name: "missing path", args: map[string]interface{}{}},
		{name: "relative path", args: map[string]interface{}{"path": "docs"}},
		{name: "missing file", args: map[string]interface{}{"path": filepath.Join(dir, "absent.md")}},
		{name: "unsupported file", args: map[string]interface{}{"path": other}},
	}
	for _, tt := range invalid {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(t, &fakeEngine{}, &fakeIngester{}, nil)
			_, err := call(t, s.handleIngestDocuments, tt.args)
			requireCode(t, err, ErrorCodeInvalidParams)
		})
	}

	t.Run("ingest and rebuild", func(t *testing.T) {
		messages := []string{"a", "b", "c", "d", "e", "f"}
		ing := &fakeIngester{stats: &ingest.Statistics{DocumentsIngested: 1, ChunksCreated: 3, DocumentsFailed: 6, ErrorMessages: messages}}
		engine := &fakeEngine{snap: builtSnapshot()}
		s := newTestServer(t, engine, ing, nil)

		out, err := call(t, s.handleIngestDocuments, map[string]interface{}{"path": doc})
		require.NoError(t, err)
		assert.Equal(t, []string{doc}, ing.paths)
		assert.Equal(t, 1, engine.rebuilds)
		assert.Equal(t, float64(3), out["chunks_created"])
		assert.Len(t, out["errors"], maxReportedErrors)
		assert.Equal(t, float64(6), out["error_count"])
		assert.Contains(t, out, "index")
	})

	t.Run("rebuild failure keeps ingest result", func(t *testing.T) {
		ing := &fakeIngester{stats: &ingest.Statistics{DocumentsIngested: 1}}
		engine := &fakeEngine{rebuildErr: indexer.ErrRebuildInProgress}
		s := newTestServer(t, engine, ing, nil)

		out, err := call(t, s.handleIngestDocuments, map[string]interface{}{"path": dir})
		require.NoError(t, err)
		assert.Contains(t, out, "rebuild_error")
		assert.NotContains(t, out, "index")
	})

	t.Run("no rebuild", func(t *testing.T) {
		engine := &fakeEngine{}
		s := newTestServer(t, engine, &fakeIngester{stats: &ingest.Statistics{}}, nil)

		_, err := call(t, s.handleIngestDocuments, map[string]interface{}{"path": dir, "rebuild": false})
		require.NoError(t, err)
		assert.Zero(t, engine.rebuilds)
	})

	t.Run("ingest error", func(t *testing.T) {
		s := newTestServer(t, &fakeEngine{}, &fakeIngester{err: errors.New("disk")}, nil)
		_, err := call(t, s.handleIngestDocuments, map[string]interface{}{"path": dir})
		requireCode(t, err, ErrorCodeInternalError)
	})
}

func TestGetStatus(t *testing.T) {
	store, err := storage.NewSQLiteStorage(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	t.Run("not indexed", func(t *testing.T) {
		s := newTestServer(t, &fakeEngine{}, nil, store)
		out, err := call(t, s.handleGetStatus, nil)
		require.NoError(t, err)
		assert.Equal(t, false, out["indexed"])
		kb := out["knowledge_base"].(map[string]interface{})
		assert.Equal(t, float64(0), kb["documents_count"])
		assert.Contains(t, out, "health")
	})

	t.Run("indexed without store", func(t *testing.T) {
		s := newTestServer(t, &fakeEngine{snap: builtSnapshot()}, nil, nil)
		out, err := call(t, s.handleGetStatus, nil)
		require.NoError(t, err)
		assert.Equal(t, true, out["indexed"])
		assert.NotContains(t, out, "knowledge_base")
		index := out["index"].(map[string]interface{})
		assert.Equal(t, float64(12), index["vocabulary_size"])
	})
}

// TestEndToEnd ingests documents through the tool surface and searches them
// with the real engine
func TestEndToEnd(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	files := map[string]string{
		"basel.md":     "# Basel\n\nBasel III capital requirements for banks.",
		"mortality.md": "# Mortality\n\nMortality tables for actuarial reserving.",
		"garden.txt":   "Planting tomatoes and watering the garden.",
	}
	for name, content := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
	}

	store, err := storage.NewSQLiteStorage(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	local, err := embedder.NewLocalProvider("", nil)
	require.NoError(t, err)
	router, err := embedder.NewRouter(local, embedder.WithLogger(quietLogger()))
	require.NoError(t, err)

	builder, err := indexer.New(store, router, indexer.WithEmbeddingStore(store), indexer.WithLogger(quietLogger()))
	require.NoError(t, err)
	engine, err := searcher.New(builder, router,
		searcher.WithKnowledgeBase(store),
		searcher.WithSearchLogger(store),
		searcher.WithLogger(quietLogger()))
	require.NoError(t, err)

	s := newTestServer(t, engine, ingest.New(store, ingest.WithLogger(quietLogger())), store)

	out, err := call(t, s.handleIngestDocuments, map[string]interface{}{"path": dir})
	require.NoError(t, err)
	assert.Equal(t, float64(3), out["documents_ingested"])

	out, err = call(t, s.handleSearchKnowledge, map[string]interface{}{"query": "Basel capital ratio", "top_k": float64(2)})
	require.NoError(t, err)
	results := out["results"].([]interface{})
	require.NotEmpty(t, results)
	assert.LessOrEqual(t, len(results), 2)
	assert.Equal(t, filepath.Join(dir, "basel.md"), results[0].(map[string]interface{})["source"])

	status, err := store.GetStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, status.DocumentsCount)
	assert.Equal(t, 3, status.EmbeddingsCount)
	assert.Equal(t, 1, status.SearchesLogged)
}
