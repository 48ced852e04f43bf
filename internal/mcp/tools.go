package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/dshills/finrag/internal/indexer"
	"github.com/dshills/finrag/internal/ingest"
	"github.com/dshills/finrag/internal/searcher"
	"github.com/dshills/finrag/pkg/types"
)

// MCP error codes
const (
	ErrorCodeInvalidParams     = -32602 // Invalid method parameters
	ErrorCodeInternalError     = -32603 // Internal JSON-RPC error
	ErrorCodeRebuildInProgress = -32002 // Another index rebuild is already running
	ErrorCodeEmptyQuery        = -32004 // Query parameter is empty
	ErrorCodeEncoderFailure    = -32005 // General-purpose encoder failed
	ErrorCodeUnavailable       = -32006 // Tool backend not configured
)

// maxReportedErrors bounds the per-document errors echoed in a response
const maxReportedErrors = 5

// handleSearchKnowledge handles the search_knowledge tool invocation
func (s *Server) handleSearchKnowledge(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := arguments(request)
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}

	query, _ := args["query"].(string)
	if strings.TrimSpace(query) == "" {
		return nil, newMCPError(ErrorCodeEmptyQuery, "query parameter is required and cannot be empty", map[string]interface{}{
			"param":  "query",
			"reason": "missing or empty",
		})
	}

	topK := getIntDefault(args, "top_k", s.topK)
	if topK < 1 || topK > searcher.MaxTopK {
		return nil, newMCPError(ErrorCodeInvalidParams, "top_k must be between 1 and 100", map[string]interface{}{
			"param": "top_k",
			"value": topK,
		})
	}

	mode, err := searcher.ParseMode(getStringDefault(args, "mode", string(searcher.SearchModeHybrid)))
	if err != nil {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid mode", map[string]interface{}{
			"param":   "mode",
			"value":   args["mode"],
			"allowed": []string{"hybrid", "semantic", "lexical"},
		})
	}

	req := searcher.SearchRequest{
		Query:          query,
		TopK:           topK,
		Mode:           mode,
		SemanticWeight: getFloat(args, "semantic_weight"),
		LexicalWeight:  getFloat(args, "lexical_weight"),
		UseCache:       getBoolDefault(args, "use_cache", true),
	}

	resp, err := s.engine.Search(ctx, req)
	if err != nil {
		return nil, searchError(err)
	}

	results := make([]map[string]interface{}, len(resp.Results))
	for i, r := range resp.Results {
		results[i] = map[string]interface{}{
			"rank":        r.Rank,
			"chunk_id":    r.Chunk.ID,
			"source":      r.Metadata[types.MetaSource],
			"text":        r.Chunk.Text,
			"score":       r.Score,
			"search_type": r.SearchType,
			"scores":      r.Scores,
			"metadata":    r.Metadata,
		}
	}

	response := map[string]interface{}{
		"query":            query,
		"mode":             resp.SearchMode,
		"results":          results,
		"total_results":    resp.TotalResults,
		"semantic_results": resp.SemanticResults,
		"lexical_results":  resp.LexicalResults,
		"candidates":       resp.Candidates,
		"reranked":         resp.Reranked,
		"cache_hit":        resp.CacheHit,
		"generation":       resp.Generation,
		"duration_ms":      resp.Duration.Milliseconds(),
	}
	if resp.Generation == 0 {
		response["message"] = "No index loaded. Use ingest_documents or rebuild_index first."
	}

	return mcp.NewToolResultText(formatJSON(response)), nil
}

// handleRebuildIndex handles the rebuild_index tool invocation
func (s *Server) handleRebuildIndex(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	stats, err := s.engine.Rebuild(ctx)
	if err != nil {
		return nil, rebuildError(err)
	}
	return mcp.NewToolResultText(formatJSON(indexResponse(stats, s.engine.Snapshot()))), nil
}

// handleIngestDocuments handles the ingest_documents tool invocation
func (s *Server) handleIngestDocuments(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if s.ingester == nil {
		return nil, newMCPError(ErrorCodeUnavailable, "ingest is not configured", nil)
	}

	args, ok := arguments(request)
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}

	path, ok := args["path"].(string)
	if !ok || path == "" {
		return nil, newMCPError(ErrorCodeInvalidParams, "path parameter is required", map[string]interface{}{
			"param":  "path",
			"reason": "missing or empty",
		})
	}
	if err := validatePath(path); err != nil {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid path", map[string]interface{}{
			"param":  "path",
			"reason": err.Error(),
		})
	}

	stats, err := s.ingester.IngestPath(ctx, path)
	if err != nil {
		code := ErrorCodeInternalError
		if errors.Is(err, ingest.ErrUnsupportedFormat) {
			code = ErrorCodeInvalidParams
		}
		return nil, newMCPError(code, "ingest failed", map[string]interface{}{
			"error": err.Error(),
		})
	}

	response := map[string]interface{}{
		"documents_ingested": stats.DocumentsIngested,
		"documents_skipped":  stats.DocumentsSkipped,
		"documents_failed":   stats.DocumentsFailed,
		"chunks_created":     stats.ChunksCreated,
		"duration_ms":        stats.Duration.Milliseconds(),
	}
	if len(stats.ErrorMessages) > 0 {
		errorCount := len(stats.ErrorMessages)
		if errorCount > maxReportedErrors {
			response["errors"] = stats.ErrorMessages[:maxReportedErrors]
			response["error_count"] = errorCount
		} else {
			response["errors"] = stats.ErrorMessages
		}
	}

	if getBoolDefault(args, "rebuild", true) {
		indexStats, err := s.engine.Rebuild(ctx)
		if err != nil {
			// Documents are stored; only the index is stale
			s.logger.Warn("rebuild after ingest failed", "error", err)
			response["rebuild_error"] = err.Error()
		} else {
			response["index"] = indexResponse(indexStats, s.engine.Snapshot())
		}
	}

	return mcp.NewToolResultText(formatJSON(response)), nil
}

// handleGetStatus handles the get_status tool invocation
func (s *Server) handleGetStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	response := map[string]interface{}{}

	snap := s.engine.Snapshot()
	if snap == nil {
		response["indexed"] = false
		response["message"] = "No index loaded. Use rebuild_index to build one."
	} else {
		response["indexed"] = true
		response["index"] = indexResponse(&snap.Stats, snap)
	}

	if s.status != nil {
		status, err := s.status.GetStatus(ctx)
		if err != nil {
			return nil, newMCPError(ErrorCodeInternalError, "failed to get status", map[string]interface{}{
				"error": err.Error(),
			})
		}

		kb := map[string]interface{}{
			"documents_count":     status.DocumentsCount,
			"chunks_count":        status.ChunksCount,
			"embeddings_count":    status.EmbeddingsCount,
			"embeddings_by_space": status.EmbeddingsBySpace,
			"searches_logged":     status.SearchesLogged,
			"schema_version":      status.SchemaVersion,
			"db_size_mb":          fmt.Sprintf("%.2f", status.DBSizeMB),
			"build_mode":          status.BuildMode,
		}
		if !status.LastIngestedAt.IsZero() {
			kb["last_ingested_at"] = status.LastIngestedAt.Format(time.RFC3339)
		}
		response["knowledge_base"] = kb
		response["health"] = map[string]interface{}{
			"database_accessible":  status.Health.DatabaseAccessible,
			"embeddings_available": status.Health.EmbeddingsAvailable,
		}
	}

	return mcp.NewToolResultText(formatJSON(response)), nil
}

// indexResponse describes a built snapshot
func indexResponse(stats *indexer.Statistics, snap *indexer.Snapshot) map[string]interface{} {
	response := map[string]interface{}{
		"chunks":             stats.Chunks,
		"embeddings_reused":  stats.EmbeddingsReused,
		"embeddings_created": stats.EmbeddingsCreated,
		"fallbacks":          stats.Fallbacks,
		"topics":             stats.Topics,
		"spaces":             stats.Spaces,
		"vocabulary_size":    stats.VocabularySize,
		"duration_ms":        stats.Duration.Milliseconds(),
	}
	if snap != nil {
		response["generation"] = snap.Generation
		response["built_at"] = snap.BuiltAt.Format(time.RFC3339)
	}
	return response
}

// searchError maps a search failure to an MCP error
func searchError(err error) error {
	data := map[string]interface{}{"error": err.Error()}
	switch {
	case errors.Is(err, types.ErrInvalidArgument):
		return newMCPError(ErrorCodeInvalidParams, "invalid search request", data)
	case errors.Is(err, types.ErrFatalEncoderFailure):
		return newMCPError(ErrorCodeEncoderFailure, "query embedding failed", data)
	default:
		return newMCPError(ErrorCodeInternalError, "search failed", data)
	}
}

// rebuildError maps an index build failure to an MCP error
func rebuildError(err error) error {
	data := map[string]interface{}{"error": err.Error()}
	switch {
	case errors.Is(err, indexer.ErrRebuildInProgress):
		return newMCPError(ErrorCodeRebuildInProgress, "index rebuild already in progress", data)
	case errors.Is(err, types.ErrFatalEncoderFailure):
		return newMCPError(ErrorCodeEncoderFailure, "embedding failed during rebuild", data)
	default:
		return newMCPError(ErrorCodeInternalError, "rebuild failed", data)
	}
}

// Helper functions

// newMCPError creates a properly formatted MCP error
func newMCPError(code int, message string, data interface{}) error {
	// MCP errors are returned as regular errors, the framework handles encoding
	return &MCPError{
		Code:    code,
		Message: message,
		Data:    data,
	}
}

// MCPError represents an MCP protocol error
type MCPError struct {
	Code    int
	Message string
	Data    interface{}
}

func (e *MCPError) Error() string {
	return fmt.Sprintf("MCP error %d: %s", e.Code, e.Message)
}

// validatePath checks that path is absolute and exists
func validatePath(path string) error {
	if path == "" {
		return ErrPathRequired
	}
	if !filepath.IsAbs(path) {
		return ErrPathNotAbsolute
	}

	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return ErrPathNotFound
	}
	if err != nil {
		return ErrPathNotReadable
	}

	if !info.IsDir() && ingest.FormatOf(path) == "" {
		return ErrUnsupportedFile
	}
	return nil
}

// arguments returns the tool call arguments; a call without arguments is
// treated as an empty object
func arguments(request mcp.CallToolRequest) (map[string]interface{}, bool) {
	if request.Params.Arguments == nil {
		return map[string]interface{}{}, true
	}
	args, ok := request.Params.Arguments.(map[string]interface{})
	return args, ok
}

// formatJSON formats a map as indented JSON
func formatJSON(data map[string]interface{}) string {
	bytes, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", data)
	}
	return string(bytes)
}

// getBoolDefault extracts a boolean parameter with a default value
func getBoolDefault(args map[string]interface{}, key string, defaultValue bool) bool {
	if val, ok := args[key].(bool); ok {
		return val
	}
	return defaultValue
}

// getIntDefault extracts an integer parameter with a default value.
// Non-integral numbers are returned as 0 so range checks reject them.
func getIntDefault(args map[string]interface{}, key string, defaultValue int) int {
	if val, ok := args[key].(float64); ok {
		if val != math.Trunc(val) {
			return 0
		}
		return int(val)
	}
	if val, ok := args[key].(int); ok {
		return val
	}
	return defaultValue
}

// getStringDefault extracts a string parameter with a default value
func getStringDefault(args map[string]interface{}, key string, defaultValue string) string {
	if val, ok := args[key].(string); ok {
		return val
	}
	return defaultValue
}

// getFloat extracts an optional number parameter
func getFloat(args map[string]interface{}, key string) *float64 {
	switch val := args[key].(type) {
	case float64:
		return &val
	case int:
		f := float64(val)
		return &f
	}
	return nil
}

// Validation helpers

var (
	ErrPathRequired    = errors.New("path is required")
	ErrPathNotAbsolute = errors.New("path must be absolute")
	ErrPathNotFound    = errors.New("path does not exist")
	ErrPathNotReadable = errors.New("path is not readable")
	ErrUnsupportedFile = errors.New("file is not a markdown, text or PDF document")
)
