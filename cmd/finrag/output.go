package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/dshills/finrag/internal/indexer"
	"github.com/dshills/finrag/internal/ingest"
	"github.com/dshills/finrag/internal/searcher"
	"github.com/dshills/finrag/pkg/types"
)

const (
	// SnippetMaxLen bounds result text in human output
	SnippetMaxLen = 160
	// TextWrapWidth is the wrap width for result text
	TextWrapWidth = 72
)

// outputJSON writes a value as formatted JSON to stdout.
func outputJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// outputHuman writes a human-readable string to stdout.
func outputHuman(format string, args ...interface{}) {
	fmt.Printf(format, args...)
}

// exitWithError outputs an error in the appropriate format (human or JSON) and exits.
func exitWithError(code int, format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	if humanOutput {
		fmt.Fprintf(os.Stderr, "error: %s\n", msg)
	} else {
		_ = outputJSON(ErrorResponse{Error: msg})
	}
	os.Exit(code)
}

// exitCodeFor maps an engine error to an exit code
func exitCodeFor(err error) int {
	switch {
	case errors.Is(err, types.ErrInvalidArgument), errors.Is(err, ingest.ErrUnsupportedFormat):
		return ExitDataError
	case errors.Is(err, types.ErrFatalEncoderFailure):
		return ExitEncoderError
	case errors.Is(err, indexer.ErrRebuildInProgress):
		return ExitRebuildLocked
	default:
		return ExitError
	}
}

// ErrorResponse is a JSON error response.
type ErrorResponse struct {
	Error string `json:"error"`
}

// SearchResult is one result in search output
type SearchResult struct {
	Rank       int                  `json:"rank"`
	ChunkID    int64                `json:"chunk_id"`
	Source     string               `json:"source"`
	Title      string               `json:"title,omitempty"`
	Text       string               `json:"text"`
	Score      float64              `json:"score"`
	SearchType types.SearchType     `json:"search_type"`
	Scores     types.ScoreBreakdown `json:"scores"`
}

// SearchResponse is the output of the search command
type SearchResponse struct {
	Query      string         `json:"query"`
	Mode       string         `json:"mode"`
	Results    []SearchResult `json:"results"`
	Candidates int            `json:"candidates"`
	Reranked   bool           `json:"reranked"`
	Generation uint64         `json:"generation"`
	DurationMS int64          `json:"duration_ms"`
}

// IndexResponse is the output of the index command
type IndexResponse struct {
	Generation        uint64         `json:"generation"`
	Chunks            int            `json:"chunks"`
	EmbeddingsReused  int            `json:"embeddings_reused"`
	EmbeddingsCreated int            `json:"embeddings_created"`
	Fallbacks         int            `json:"fallbacks"`
	Topics            map[string]int `json:"topics"`
	Spaces            []string       `json:"spaces"`
	VocabularySize    int            `json:"vocabulary_size"`
	DurationMS        int64          `json:"duration_ms"`
}

// IngestResponse is the output of the ingest command
type IngestResponse struct {
	DocumentsIngested int            `json:"documents_ingested"`
	DocumentsSkipped  int            `json:"documents_skipped"`
	DocumentsFailed   int            `json:"documents_failed"`
	ChunksCreated     int            `json:"chunks_created"`
	Errors            []string       `json:"errors,omitempty"`
	DurationMS        int64          `json:"duration_ms"`
	Index             *IndexResponse `json:"index,omitempty"`
}

func buildSearchResponse(query string, resp *searcher.SearchResponse) SearchResponse {
	out := SearchResponse{
		Query:      query,
		Mode:       string(resp.SearchMode),
		Results:    make([]SearchResult, len(resp.Results)),
		Candidates: resp.Candidates,
		Reranked:   resp.Reranked,
		Generation: resp.Generation,
		DurationMS: resp.Duration.Milliseconds(),
	}
	for i, r := range resp.Results {
		out.Results[i] = SearchResult{
			Rank:       r.Rank,
			ChunkID:    r.Chunk.ID,
			Source:     r.Metadata[types.MetaSource],
			Title:      r.Metadata[ingest.MetaTitle],
			Text:       r.Chunk.Text,
			Score:      r.Score,
			SearchType: r.SearchType,
			Scores:     r.Scores,
		}
	}
	return out
}

func buildIndexResponse(stats *indexer.Statistics, generation uint64) *IndexResponse {
	topics := make(map[string]int, len(stats.Topics))
	for topic, n := range stats.Topics {
		topics[string(topic)] = n
	}
	return &IndexResponse{
		Generation:        generation,
		Chunks:            stats.Chunks,
		EmbeddingsReused:  stats.EmbeddingsReused,
		EmbeddingsCreated: stats.EmbeddingsCreated,
		Fallbacks:         stats.Fallbacks,
		Topics:            topics,
		Spaces:            stats.Spaces,
		VocabularySize:    stats.VocabularySize,
		DurationMS:        stats.Duration.Milliseconds(),
	}
}

// printSearchResultsHuman prints search results in human-readable format.
func printSearchResultsHuman(resp SearchResponse) {
	if len(resp.Results) == 0 {
		outputHuman("No results for %q\n", resp.Query)
		return
	}
	for _, r := range resp.Results {
		outputHuman("%d. [%.3f] %s (%s)\n", r.Rank, r.Score, r.Source, r.SearchType)
		outputHuman("   %s\n", formatScores(r.Scores))
		outputHuman("   %s\n\n", wrapText(truncateString(r.Text, SnippetMaxLen), TextWrapWidth, "   "))
	}
	if resp.Reranked {
		outputHuman("(re-ranked)\n")
	}
}

func printIndexHuman(r *IndexResponse) {
	outputHuman("Indexed %d chunks (generation %d) in %s\n", r.Chunks, r.Generation, formatDuration(time.Duration(r.DurationMS)*time.Millisecond))
	outputHuman("  Embeddings: %d reused, %d created, %d fallbacks\n", r.EmbeddingsReused, r.EmbeddingsCreated, r.Fallbacks)
	outputHuman("  Spaces: %s\n", strings.Join(r.Spaces, ", "))
	outputHuman("  Vocabulary: %d terms\n", r.VocabularySize)
}

// formatScores formats the available ranking signals
func formatScores(s types.ScoreBreakdown) string {
	parts := []string{fmt.Sprintf("combined=%.3f", s.Combined)}
	if s.Semantic != nil {
		parts = append(parts, fmt.Sprintf("semantic=%.3f", *s.Semantic))
	}
	if s.Lexical != nil {
		parts = append(parts, fmt.Sprintf("lexical=%.3f", *s.Lexical))
	}
	if s.Rerank != nil {
		parts = append(parts, fmt.Sprintf("rerank=%.3f", *s.Rerank))
	}
	return strings.Join(parts, " ")
}

// truncateString truncates a string to maxLen runes, adding "..." if truncated.
func truncateString(s string, maxLen int) string {
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen-3]) + "..."
}

// wrapText wraps text to the specified width with indentation on subsequent lines.
func wrapText(text string, width int, indent string) string {
	if len(text) <= width {
		return text
	}

	var lines []string
	var currentLine strings.Builder

	for _, word := range strings.Fields(text) {
		if currentLine.Len() == 0 {
			currentLine.WriteString(word)
		} else if currentLine.Len()+1+len(word) <= width {
			currentLine.WriteString(" ")
			currentLine.WriteString(word)
		} else {
			lines = append(lines, currentLine.String())
			currentLine.Reset()
			currentLine.WriteString(word)
		}
	}
	if currentLine.Len() > 0 {
		lines = append(lines, currentLine.String())
	}

	return strings.Join(lines, "\n"+indent)
}

// formatDuration formats a duration in a human-readable way.
func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	minutes := int(d.Minutes())
	seconds := int(d.Seconds()) % 60
	return fmt.Sprintf("%dm %ds", minutes, seconds)
}
