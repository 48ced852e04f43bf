package main

import (
	"context"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dshills/finrag/internal/searcher"
)

var (
	searchTopK           int
	searchMode           string
	searchSemanticWeight float64
	searchLexicalWeight  float64
)

func init() {
	searchCmd.Flags().IntVarP(&searchTopK, "top-k", "k", 0, "Maximum results to return (default from config)")
	searchCmd.Flags().StringVarP(&searchMode, "mode", "m", "hybrid", "Search mode: hybrid, semantic or lexical")
	searchCmd.Flags().Float64Var(&searchSemanticWeight, "semantic-weight", 0, "Semantic weight (default from config)")
	searchCmd.Flags().Float64Var(&searchLexicalWeight, "lexical-weight", 0, "Lexical weight (default from config)")
	rootCmd.AddCommand(searchCmd)
}

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search the knowledge base",
	Long: `Search the knowledge base with hybrid semantic and lexical retrieval.

Examples:
  finrag search "Basel III capital ratio"
  finrag search "mortality improvement" -k 3 --mode semantic
  finrag search "solvency" --semantic-weight 0.5 --lexical-weight 0.5 --human`,
	Args: cobra.MinimumNArgs(1),
	RunE: runSearch,
}

func runSearch(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	query := strings.Join(args, " ")

	mode, err := searcher.ParseMode(searchMode)
	if err != nil {
		exitWithError(ExitDataError, "%v", err)
	}

	a := mustOpenApp()
	defer func() { _ = a.Close() }()

	if _, err := a.rebuild(ctx); err != nil {
		exitWithError(exitCodeFor(err), "building index: %v", err)
	}

	req := searcher.SearchRequest{
		Query: query,
		TopK:  a.cfg.Search.DefaultTopK,
		Mode:  mode,
	}
	if cmd.Flags().Changed("top-k") {
		req.TopK = searchTopK
	}
	if cmd.Flags().Changed("semantic-weight") {
		req.SemanticWeight = &searchSemanticWeight
	}
	if cmd.Flags().Changed("lexical-weight") {
		req.LexicalWeight = &searchLexicalWeight
	}

	resp, err := a.searcher.Search(ctx, req)
	if err != nil {
		exitWithError(exitCodeFor(err), "searching: %v", err)
	}

	out := buildSearchResponse(query, resp)
	if !humanOutput {
		return outputJSON(out)
	}
	printSearchResultsHuman(out)
	return nil
}
