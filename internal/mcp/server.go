package mcp

import (
	"context"
	"errors"
	"log/slog"
	"os"

	"github.com/mark3labs/mcp-go/server"

	"github.com/dshills/finrag/internal/indexer"
	"github.com/dshills/finrag/internal/ingest"
	"github.com/dshills/finrag/internal/searcher"
	"github.com/dshills/finrag/internal/storage"
)

const (
	// ServerName is the MCP server name
	ServerName = "finrag"
	// DefaultTopK is the result count when a search omits top_k
	DefaultTopK = 10
)

// Engine is the search side of the server
type Engine interface {
	Search(ctx context.Context, req searcher.SearchRequest) (*searcher.SearchResponse, error)
	Rebuild(ctx context.Context) (*indexer.Statistics, error)
	Snapshot() *indexer.Snapshot
}

// Ingester loads documents into the knowledge base
type Ingester interface {
	IngestPath(ctx context.Context, path string) (*ingest.Statistics, error)
}

// StatusReporter reports knowledge base statistics
type StatusReporter interface {
	GetStatus(ctx context.Context) (*storage.Status, error)
}

// Server wraps the MCP server with application dependencies
type Server struct {
	mcp      *server.MCPServer
	engine   Engine
	ingester Ingester
	status   StatusReporter
	logger   *slog.Logger
	topK     int
}

// Option configures a Server
type Option func(*Server)

// WithLogger sets the logger
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithDefaultTopK sets the result count used when a search omits top_k
func WithDefaultTopK(k int) Option {
	return func(s *Server) {
		if k > 0 && k <= searcher.MaxTopK {
			s.topK = k
		}
	}
}

// NewServer creates a new MCP server instance. The ingester and status
// reporter are optional; their tools report an error when absent.
func NewServer(engine Engine, ing Ingester, status StatusReporter, version string, opts ...Option) (*Server, error) {
	if engine == nil {
		return nil, errors.New("search engine is required")
	}

	s := &Server{
		engine:   engine,
		ingester: ing,
		status:   status,
		logger:   slog.Default(),
		topK:     DefaultTopK,
	}
	for _, opt := range opts {
		opt(s)
	}

	s.mcp = server.NewMCPServer(
		ServerName,
		version,
		server.WithToolCapabilities(false),
		server.WithRecovery(),
	)
	s.registerTools()

	return s, nil
}

// Serve runs the MCP server on stdio until ctx is cancelled or stdin closes
func (s *Server) Serve(ctx context.Context) error {
	stdio := server.NewStdioServer(s.mcp)
	return stdio.Listen(ctx, os.Stdin, os.Stdout)
}

// registerTools registers all MCP tools
func (s *Server) registerTools() {
	s.mcp.AddTool(searchKnowledgeTool(), s.handleSearchKnowledge)
	s.mcp.AddTool(rebuildIndexTool(), s.handleRebuildIndex)
	s.mcp.AddTool(ingestDocumentsTool(), s.handleIngestDocuments)
	s.mcp.AddTool(getStatusTool(), s.handleGetStatus)
}
