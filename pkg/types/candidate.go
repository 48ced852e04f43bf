package types

// Hit is a single (chunk, score) pair returned by an index query.
// ChunkIndex is the chunk's position in the snapshot both indices were built from.
type Hit struct {
	ChunkIndex int
	Score      float64
}

// ScoredCandidate is an intermediate fusion record.
//
// CombinedScore = SemanticScore*semanticWeight + LexicalScore*lexicalWeight,
// with a missing side contributing zero.
type ScoredCandidate struct {
	ChunkIndex    int
	SemanticScore *float64 // nil when absent from the semantic result set
	LexicalScore  *float64 // nil when absent from the lexical result set
	CombinedScore float64
	RerankScore   *float64 // nil unless the re-ranker ran successfully
}

// FinalScore returns the highest-precedence score available
func (c ScoredCandidate) FinalScore() float64 {
	if c.RerankScore != nil {
		return *c.RerankScore
	}
	return c.CombinedScore
}

// SearchType reports which signals produced the candidate
func (c ScoredCandidate) SearchType() SearchType {
	switch {
	case c.SemanticScore != nil && c.LexicalScore != nil:
		return SearchTypeHybrid
	case c.LexicalScore != nil:
		return SearchTypeLexical
	default:
		return SearchTypeSemantic
	}
}

// Float returns a pointer to v
func Float(v float64) *float64 {
	return &v
}
