package types

// SearchType tags the provenance of a search result
type SearchType string

const (
	SearchTypeSemantic SearchType = "semantic"
	SearchTypeLexical  SearchType = "lexical"
	SearchTypeHybrid   SearchType = "hybrid"
)

// SearchResult represents a single search result with relevance information
type SearchResult struct {
	// Identification
	Chunk Chunk
	Rank  int // Position in result set (1-based)

	// Metadata is a copy of the chunk metadata for source attribution
	Metadata map[string]string

	// Scoring
	Score      float64 // Rerank score if computed, else combined score
	SearchType SearchType
	Scores     ScoreBreakdown
}

// ScoreBreakdown exposes the individual ranking signals behind Score
type ScoreBreakdown struct {
	Semantic *float64 `json:"semantic,omitempty"`
	Lexical  *float64 `json:"lexical,omitempty"`
	Combined float64  `json:"combined"`
	Rerank   *float64 `json:"rerank,omitempty"`
}

// Validate checks if the search result is complete
func (sr *SearchResult) Validate() error {
	if sr.Rank < 1 {
		return ErrInvalidRank
	}

	switch sr.SearchType {
	case SearchTypeSemantic, SearchTypeLexical, SearchTypeHybrid:
	default:
		return ErrInvalidSearchType
	}

	if sr.Chunk.Text == "" {
		return ErrEmptyContent
	}

	if sr.Metadata[MetaSource] == "" {
		return ErrMissingSource
	}

	return nil
}
