// Package fusion merges semantic and lexical hit lists into one ranked
// candidate list.
package fusion

import (
	"fmt"
	"math"
	"sort"

	"github.com/dshills/finrag/pkg/types"
)

// Default weights used by the search orchestrator
const (
	DefaultSemanticWeight = 0.7
	DefaultLexicalWeight  = 0.3
)

// ValidateWeights rejects negative or non-finite weights. Weights are not
// required to sum to one.
func ValidateWeights(semanticWeight, lexicalWeight float64) error {
	if err := validateWeight("semantic", semanticWeight); err != nil {
		return err
	}
	return validateWeight("lexical", lexicalWeight)
}

func validateWeight(name string, w float64) error {
	if w < 0 || math.IsNaN(w) || math.IsInf(w, 0) {
		return fmt.Errorf("%w: %s weight %v must be a finite non-negative number", types.ErrInvalidArgument, name, w)
	}
	return nil
}

// Fuse returns the union of semantic and lexical hits, one candidate per
// chunk, sorted by descending CombinedScore. A chunk missing from one list
// contributes zero for that signal. Equal combined scores keep the order of
// first appearance, semantic hits before lexical hits. The result is not
// truncated.
//
// If a chunk appears more than once in the same list, the first occurrence
// wins.
func Fuse(semantic, lexical []types.Hit, semanticWeight, lexicalWeight float64) []types.ScoredCandidate {
	out := make([]types.ScoredCandidate, 0, len(semantic)+len(lexical))
	pos := make(map[int]int, len(semantic)+len(lexical))

	for _, h := range semantic {
		if _, ok := pos[h.ChunkIndex]; ok {
			continue
		}
		pos[h.ChunkIndex] = len(out)
		out = append(out, types.ScoredCandidate{
			ChunkIndex:    h.ChunkIndex,
			SemanticScore: types.Float(h.Score),
		})
	}

	for _, h := range lexical {
		i, ok := pos[h.ChunkIndex]
		if !ok {
			pos[h.ChunkIndex] = len(out)
			out = append(out, types.ScoredCandidate{
				ChunkIndex:   h.ChunkIndex,
				LexicalScore: types.Float(h.Score),
			})
			continue
		}
		if out[i].LexicalScore == nil {
			out[i].LexicalScore = types.Float(h.Score)
		}
	}

	for i := range out {
		out[i].CombinedScore = Combine(out[i].SemanticScore, out[i].LexicalScore, semanticWeight, lexicalWeight)
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CombinedScore > out[j].CombinedScore
	})

	return out
}

// Combine computes the weighted sum of two optional scores
func Combine(semantic, lexical *float64, semanticWeight, lexicalWeight float64) float64 {
	var s, l float64
	if semantic != nil {
		s = *semantic
	}
	if lexical != nil {
		l = *lexical
	}
	return s*semanticWeight + l*lexicalWeight
}
