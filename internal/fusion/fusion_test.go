package fusion

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/finrag/pkg/types"
)

func TestFuseUnion(t *testing.T) {
	semantic := []types.Hit{{ChunkIndex: 0, Score: 0.9}, {ChunkIndex: 1, Score: 0.5}}
	lexical := []types.Hit{{ChunkIndex: 1, Score: 0.8}, {ChunkIndex: 2, Score: 0.4}}

	got := Fuse(semantic, lexical, 0.7, 0.3)
	require.Len(t, got, 3)

	byChunk := map[int]types.ScoredCandidate{}
	for _, c := range got {
		_, dup := byChunk[c.ChunkIndex]
		assert.False(t, dup, "chunk %d appears twice", c.ChunkIndex)
		byChunk[c.ChunkIndex] = c
	}

	assert.Equal(t, types.SearchTypeSemantic, byChunk[0].SearchType())
	assert.Equal(t, types.SearchTypeHybrid, byChunk[1].SearchType())
	assert.Equal(t, types.SearchTypeLexical, byChunk[2].SearchType())

	assert.Nil(t, byChunk[0].LexicalScore)
	assert.Nil(t, byChunk[2].SemanticScore)
	assert.InDelta(t, 0.63, byChunk[0].CombinedScore, 1e-9)
	assert.InDelta(t, 0.12, byChunk[2].CombinedScore, 1e-9)
}

func TestFuseScoreComposition(t *testing.T) {
	tests := []struct {
		name   string
		s, l   float64
		ws, wl float64
	}{
		{"default weights", 0.82, 0.41, 0.7, 0.3},
		{"semantic only weight", 0.5, 0.9, 1, 0},
		{"unnormalized weights", 0.25, 0.75, 2, 3},
		{"negative similarity", -0.2, 0.6, 0.7, 0.3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Fuse(
				[]types.Hit{{ChunkIndex: 7, Score: tt.s}},
				[]types.Hit{{ChunkIndex: 7, Score: tt.l}},
				tt.ws, tt.wl,
			)
			require.Len(t, got, 1)
			assert.InDelta(t, tt.s*tt.ws+tt.l*tt.wl, got[0].CombinedScore, 1e-6)
			assert.InDelta(t, tt.s, *got[0].SemanticScore, 1e-12)
			assert.InDelta(t, tt.l, *got[0].LexicalScore, 1e-12)
			assert.Nil(t, got[0].RerankScore)
		})
	}
}

func TestFuseOrdering(t *testing.T) {
	got := Fuse(
		[]types.Hit{{ChunkIndex: 0, Score: 0.2}, {ChunkIndex: 1, Score: 0.9}},
		[]types.Hit{{ChunkIndex: 2, Score: 1.0}},
		0.5, 0.5,
	)
	assert.Equal(t, []int{2, 1, 0}, chunkIndexes(got))
	for i := 1; i < len(got); i++ {
		assert.GreaterOrEqual(t, got[i-1].CombinedScore, got[i].CombinedScore)
	}
}

func TestFuseTieBreak(t *testing.T) {
	// Every candidate scores 0.5: order is first appearance, semantic first.
	got := Fuse(
		[]types.Hit{{ChunkIndex: 4, Score: 1}, {ChunkIndex: 3, Score: 1}},
		[]types.Hit{{ChunkIndex: 9, Score: 1}, {ChunkIndex: 1, Score: 1}},
		0.5, 0.5,
	)
	assert.Equal(t, []int{4, 3, 9, 1}, chunkIndexes(got))
}

func TestFuseNoTruncation(t *testing.T) {
	var semantic, lexical []types.Hit
	for i := 0; i < 50; i++ {
		semantic = append(semantic, types.Hit{ChunkIndex: i, Score: 0.1})
		lexical = append(lexical, types.Hit{ChunkIndex: i + 50, Score: 0.1})
	}
	assert.Len(t, Fuse(semantic, lexical, 0.7, 0.3), 100)
}

func TestFuseDuplicateHitsFirstWins(t *testing.T) {
	got := Fuse(
		[]types.Hit{{ChunkIndex: 1, Score: 0.9}, {ChunkIndex: 1, Score: 0.1}},
		[]types.Hit{{ChunkIndex: 1, Score: 0.4}, {ChunkIndex: 1, Score: 0.0}},
		1, 1,
	)
	require.Len(t, got, 1)
	assert.InDelta(t, 1.3, got[0].CombinedScore, 1e-9)
}

func TestFuseEmpty(t *testing.T) {
	got := Fuse(nil, nil, 0.7, 0.3)
	assert.NotNil(t, got)
	assert.Empty(t, got)

	got = Fuse(nil, []types.Hit{{ChunkIndex: 0, Score: 0.3}}, 0.7, 0.3)
	require.Len(t, got, 1)
	assert.InDelta(t, 0.09, got[0].CombinedScore, 1e-9)
}

func TestValidateWeights(t *testing.T) {
	assert.NoError(t, ValidateWeights(0.7, 0.3))
	assert.NoError(t, ValidateWeights(0, 0))
	assert.NoError(t, ValidateWeights(5, 2))

	for _, w := range [][2]float64{{-0.1, 0.3}, {0.7, -1}, {math.NaN(), 0.3}, {0.7, math.Inf(1)}} {
		assert.ErrorIs(t, ValidateWeights(w[0], w[1]), types.ErrInvalidArgument)
	}
}

func chunkIndexes(cands []types.ScoredCandidate) []int {
	out := make([]int, len(cands))
	for i, c := range cands {
		out[i] = c.ChunkIndex
	}
	return out
}
