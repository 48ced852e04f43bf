package reranker

import (
	"context"
	"fmt"

	"github.com/dshills/finrag/internal/embedder"
)

// EmbeddingScorer scores candidates by cosine similarity between the query
// and each candidate text, both embedded with the encoder for the query's
// topic. Unlike the semantic index it embeds candidates at query time, so
// every candidate is compared in a single space.
type EmbeddingScorer struct {
	embedder embedder.TopicEmbedder
}

// NewEmbeddingScorer creates a scorer backed by e
func NewEmbeddingScorer(e embedder.TopicEmbedder) *EmbeddingScorer {
	return &EmbeddingScorer{embedder: e}
}

// Score implements Scorer
func (s *EmbeddingScorer) Score(ctx context.Context, query string, texts []string) ([]float64, error) {
	topic := s.embedder.Classify(query)

	q, err := s.embedder.Embed(ctx, query, topic)
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}

	docs, err := s.embedder.EmbedBatch(ctx, texts, topic)
	if err != nil {
		return nil, fmt.Errorf("embedding candidates: %w", err)
	}

	scores := make([]float64, len(texts))
	for i, d := range docs {
		if d.Space() != q.Space() || len(d.Vector) != len(q.Vector) {
			return nil, fmt.Errorf("candidate %d embedded in %s, query in %s", i, d.Space(), q.Space())
		}
		var dot float64
		for j := range q.Vector {
			dot += float64(q.Vector[j]) * float64(d.Vector[j])
		}
		scores[i] = dot
	}
	return scores, nil
}
