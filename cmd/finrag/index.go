package main

import (
	"context"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(indexCmd)
}

var indexCmd = &cobra.Command{
	Use:   "index",
	Short: "Build the search index from the knowledge base",
	Long: `Embed every chunk in the knowledge base and fit the lexical index.

Stored embeddings whose chunk text is unchanged are reused, so only new or
edited chunks reach the encoders.`,
	Args: cobra.NoArgs,
	RunE: runIndex,
}

func runIndex(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	a := mustOpenApp()
	defer func() { _ = a.Close() }()

	stats, err := a.rebuild(ctx)
	if err != nil {
		exitWithError(exitCodeFor(err), "building index: %v", err)
	}

	resp := buildIndexResponse(stats, a.searcher.Snapshot().Generation)
	if !humanOutput {
		return outputJSON(resp)
	}
	printIndexHuman(resp)
	return nil
}
