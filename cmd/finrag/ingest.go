package main

import (
	"context"

	"github.com/spf13/cobra"
)

var ingestNoIndex bool

func init() {
	ingestCmd.Flags().BoolVar(&ingestNoIndex, "no-index", false, "Skip rebuilding the index after ingest")
	rootCmd.AddCommand(ingestCmd)
}

var ingestCmd = &cobra.Command{
	Use:   "ingest <path>",
	Short: "Load documents into the knowledge base",
	Long: `Load a markdown, text or PDF file, or every such file under a directory,
into the knowledge base. Unchanged documents are skipped. The index is
rebuilt afterwards unless --no-index is given.

Examples:
  finrag ingest ./docs
  finrag ingest report.pdf --human`,
	Args: cobra.ExactArgs(1),
	RunE: runIngest,
}

func runIngest(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	a := mustOpenApp()
	defer func() { _ = a.Close() }()

	stats, err := a.ingester.IngestPath(ctx, args[0])
	if err != nil {
		exitWithError(exitCodeFor(err), "ingesting %s: %v", args[0], err)
	}

	resp := IngestResponse{
		DocumentsIngested: stats.DocumentsIngested,
		DocumentsSkipped:  stats.DocumentsSkipped,
		DocumentsFailed:   stats.DocumentsFailed,
		ChunksCreated:     stats.ChunksCreated,
		Errors:            stats.ErrorMessages,
		DurationMS:        stats.Duration.Milliseconds(),
	}

	if !ingestNoIndex {
		indexStats, err := a.rebuild(ctx)
		if err != nil {
			exitWithError(exitCodeFor(err), "rebuilding index: %v", err)
		}
		resp.Index = buildIndexResponse(indexStats, a.searcher.Snapshot().Generation)
	}

	if !humanOutput {
		return outputJSON(resp)
	}

	outputHuman("Ingested %d documents (%d skipped, %d failed), %d chunks\n",
		resp.DocumentsIngested, resp.DocumentsSkipped, resp.DocumentsFailed, resp.ChunksCreated)
	for _, msg := range resp.Errors {
		outputHuman("  error: %s\n", msg)
	}
	if resp.Index != nil {
		printIndexHuman(resp.Index)
	}
	return nil
}
