package main

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/dshills/finrag/internal/storage"
)

func init() {
	rootCmd.AddCommand(statusCmd)
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show knowledge base statistics and recent searches",
	Args:  cobra.NoArgs,
	RunE:  runStatus,
}

// StatusResponse is the output of the status command
type StatusResponse struct {
	Documents         int            `json:"documents"`
	Chunks            int            `json:"chunks"`
	Embeddings        int            `json:"embeddings"`
	EmbeddingsBySpace map[string]int `json:"embeddings_by_space"`
	SearchesLogged    int            `json:"searches_logged"`
	LastIngestedAt    string         `json:"last_ingested_at,omitempty"`
	SchemaVersion     string         `json:"schema_version"`
	DBSizeMB          float64        `json:"db_size_mb"`
	BuildMode         string         `json:"build_mode"`
	RecentSearches    []RecentSearch `json:"recent_searches,omitempty"`
}

// RecentSearch is one search log entry
type RecentSearch struct {
	ID          string `json:"id"`
	Query       string `json:"query"`
	Mode        string `json:"mode"`
	ResultCount int    `json:"result_count"`
	Reranked    bool   `json:"reranked"`
	CreatedAt   string `json:"created_at"`
}

// recentSearchCount is the number of search log entries shown
const recentSearchCount = 5

func runStatus(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	a := mustOpenApp()
	defer func() { _ = a.Close() }()

	status, err := a.store.GetStatus(ctx)
	if err != nil {
		exitWithError(ExitError, "reading status: %v", err)
	}
	recent, err := a.store.ListSearchLog(ctx, recentSearchCount)
	if err != nil {
		exitWithError(ExitError, "reading search log: %v", err)
	}

	resp := StatusResponse{
		Documents:         status.DocumentsCount,
		Chunks:            status.ChunksCount,
		Embeddings:        status.EmbeddingsCount,
		EmbeddingsBySpace: status.EmbeddingsBySpace,
		SearchesLogged:    status.SearchesLogged,
		SchemaVersion:     status.SchemaVersion,
		DBSizeMB:          status.DBSizeMB,
		BuildMode:         status.BuildMode,
		RecentSearches:    recentSearches(recent),
	}
	if !status.LastIngestedAt.IsZero() {
		resp.LastIngestedAt = status.LastIngestedAt.Format(time.RFC3339)
	}

	if !humanOutput {
		return outputJSON(resp)
	}

	outputHuman("Knowledge base: %s (schema %s, %s build)\n", a.cfg.DBPath, resp.SchemaVersion, resp.BuildMode)
	outputHuman("  Documents: %d\n  Chunks: %d\n  Embeddings: %d\n", resp.Documents, resp.Chunks, resp.Embeddings)
	for space, n := range resp.EmbeddingsBySpace {
		outputHuman("    %s: %d\n", space, n)
	}
	outputHuman("  Size: %.2f MB\n", resp.DBSizeMB)
	if resp.LastIngestedAt != "" {
		outputHuman("  Last ingest: %s\n", resp.LastIngestedAt)
	}
	if len(resp.RecentSearches) > 0 {
		outputHuman("Recent searches:\n")
		for _, e := range resp.RecentSearches {
			outputHuman("  %s  %q (%s, %d results)\n", e.CreatedAt, e.Query, e.Mode, e.ResultCount)
		}
	}
	return nil
}

func recentSearches(entries []*storage.SearchLogEntry) []RecentSearch {
	out := make([]RecentSearch, len(entries))
	for i, e := range entries {
		out[i] = RecentSearch{
			ID:          e.ID,
			Query:       e.Query,
			Mode:        e.Mode,
			ResultCount: e.ResultCount,
			Reranked:    e.Reranked,
			CreatedAt:   e.CreatedAt.Format(time.RFC3339),
		}
	}
	return out
}
