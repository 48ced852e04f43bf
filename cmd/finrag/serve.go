package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/dshills/finrag/internal/mcp"
	"github.com/dshills/finrag/internal/storage"
)

func init() {
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the MCP server on stdio",
	Long: `Run the Model Context Protocol server on stdin/stdout.

The index is built from the knowledge base at startup. Tools:
search_knowledge, rebuild_index, ingest_documents, get_status.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	logger := slog.Default()
	logger.Info("finrag MCP server starting",
		"version", version,
		"build_mode", storage.BuildMode,
		"driver", storage.DriverName)

	a := mustOpenApp()
	defer func() { _ = a.Close() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// An empty or unbuildable knowledge base still serves; rebuild_index
	// can be called once documents are ingested
	if stats, err := a.rebuild(ctx); err != nil {
		logger.Warn("initial index build failed", "error", err)
	} else {
		logger.Info("index loaded", "chunks", stats.Chunks, "spaces", stats.Spaces)
	}

	server, err := mcp.NewServer(a.searcher, a.ingester, a.store, version,
		mcp.WithLogger(logger),
		mcp.WithDefaultTopK(a.cfg.Search.DefaultTopK))
	if err != nil {
		return err
	}

	logger.Info("MCP server ready, listening on stdio")
	if err := server.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	logger.Info("server stopped")
	return nil
}
