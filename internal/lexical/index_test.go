package lexical

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var corpus = []string{
	"Basel III capital requirements",
	"mortality tables actuarial",
	"the weather is sunny today",
}

func TestFitAndQuery(t *testing.T) {
	idx, err := Fit(corpus, DefaultOptions())
	require.NoError(t, err)
	assert.Equal(t, 3, idx.Len())

	hits := idx.Query("Basel capital ratio", 10)
	require.Len(t, hits, 1)
	assert.Equal(t, 0, hits[0].ChunkIndex)
	assert.Greater(t, hits[0].Score, 0.0)
	assert.LessOrEqual(t, hits[0].Score, 1.0+1e-9)
}

func TestQueryExcludesZeroScores(t *testing.T) {
	idx, err := Fit(corpus, DefaultOptions())
	require.NoError(t, err)

	assert.Empty(t, idx.Query("completely unrelated words", 10))
	assert.Empty(t, idx.Query("a !", 10))
	for _, h := range idx.Query("capital mortality", 10) {
		assert.Greater(t, h.Score, 0.0)
	}
}

func TestQueryIdenticalTextScoresOne(t *testing.T) {
	idx, err := Fit(corpus, DefaultOptions())
	require.NoError(t, err)

	hits := idx.Query("mortality tables actuarial", 1)
	require.Len(t, hits, 1)
	assert.Equal(t, 1, hits[0].ChunkIndex)
	assert.InDelta(t, 1.0, hits[0].Score, 1e-9)
}

func TestQueryOrderingAndTopK(t *testing.T) {
	idx, err := Fit([]string{
		"liquidity coverage ratio",
		"liquidity liquidity coverage",
		"coverage of claims",
		"liquidity",
	}, DefaultOptions())
	require.NoError(t, err)

	hits := idx.Query("liquidity", 10)
	require.Len(t, hits, 3)
	assert.Equal(t, 3, hits[0].ChunkIndex)
	for i := 1; i < len(hits); i++ {
		assert.GreaterOrEqual(t, hits[i-1].Score, hits[i].Score)
	}

	assert.Len(t, idx.Query("liquidity", 2), 2)
	assert.Empty(t, idx.Query("liquidity", 0))
}

func TestQueryTieBreakByChunkOrder(t *testing.T) {
	idx, err := Fit([]string{"reserve ratio", "other text", "reserve ratio"}, DefaultOptions())
	require.NoError(t, err)

	hits := idx.Query("reserve", 10)
	require.Len(t, hits, 2)
	assert.Equal(t, 0, hits[0].ChunkIndex)
	assert.Equal(t, 2, hits[1].ChunkIndex)
	assert.Equal(t, hits[0].Score, hits[1].Score)
}

func TestVocabularyNGrams(t *testing.T) {
	idx, err := Fit([]string{"solvency capital requirement", "market risk"}, DefaultOptions())
	require.NoError(t, err)

	assert.True(t, idx.Contains("solvency"))
	assert.True(t, idx.Contains("solvency capital"))
	assert.True(t, idx.Contains("solvency capital requirement"))
	assert.True(t, idx.Contains("market risk"))
	assert.False(t, idx.Contains("capital requirement market"))
	assert.Equal(t, 9, idx.VocabularySize())
}

func TestVocabularyDocumentFrequencyBounds(t *testing.T) {
	docs := []string{
		"the capital buffer",
		"the liquidity buffer",
		"the leverage ratio",
		"the credit spread",
	}

	t.Run("max df drops ubiquitous terms", func(t *testing.T) {
		idx, err := Fit(docs, DefaultOptions())
		require.NoError(t, err)
		assert.False(t, idx.Contains("the"))
		assert.True(t, idx.Contains("buffer"))
		assert.Empty(t, idx.Query("the", 10))
	})

	t.Run("min df drops rare terms", func(t *testing.T) {
		opts := DefaultOptions()
		opts.MinDF = 2
		idx, err := Fit(docs, opts)
		require.NoError(t, err)
		assert.True(t, idx.Contains("buffer"))
		assert.False(t, idx.Contains("capital"))
	})

	t.Run("single document keeps its terms", func(t *testing.T) {
		idx, err := Fit([]string{"the capital buffer"}, DefaultOptions())
		require.NoError(t, err)
		assert.True(t, idx.Contains("the"))
		assert.Len(t, idx.Query("capital", 5), 1)
	})
}

func TestVocabularyMaxFeatures(t *testing.T) {
	opts := DefaultOptions()
	opts.MaxFeatures = 2
	opts.NGramMax = 1

	idx, err := Fit([]string{
		"premium premium premium reserve",
		"premium reserve lapse",
		"zeta",
	}, opts)
	require.NoError(t, err)

	assert.Equal(t, 2, idx.VocabularySize())
	assert.True(t, idx.Contains("premium"))
	assert.True(t, idx.Contains("reserve"))
	assert.False(t, idx.Contains("lapse"))
}

func TestIDFWeighting(t *testing.T) {
	idx, err := Fit([]string{
		"capital capital",
		"capital buffer",
		"buffer",
	}, Options{MinDF: 1, MaxDF: 1, NGramMin: 1, NGramMax: 1})
	require.NoError(t, err)

	// Both terms appear in 2 of 3 documents: idf = ln(4/3)+1 for each,
	// so document 1 is the unit vector (1,1)/sqrt(2).
	hits := idx.Query("buffer", 10)
	require.Len(t, hits, 2)
	assert.Equal(t, 2, hits[0].ChunkIndex)
	assert.InDelta(t, 1.0, hits[0].Score, 1e-9)
	assert.Equal(t, 1, hits[1].ChunkIndex)
	assert.InDelta(t, 1/math.Sqrt2, hits[1].Score, 1e-9)
}

func TestEmptyCorpus(t *testing.T) {
	idx, err := Fit(nil, DefaultOptions())
	require.NoError(t, err)
	assert.Equal(t, 0, idx.Len())
	assert.NotNil(t, idx.Query("anything", 5))
	assert.Empty(t, idx.Query("anything", 5))

	var nilIdx *Index
	assert.Empty(t, nilIdx.Query("anything", 5))
}

func TestStaleVocabulary(t *testing.T) {
	idx, err := Fit([]string{"capital buffer"}, DefaultOptions())
	require.NoError(t, err)

	assert.Empty(t, idx.Query("annuity", 5))
}

func TestOptionsValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Options)
	}{
		{"negative max features", func(o *Options) { o.MaxFeatures = -1 }},
		{"zero min df", func(o *Options) { o.MinDF = 0 }},
		{"zero max df", func(o *Options) { o.MaxDF = 0 }},
		{"max df above one", func(o *Options) { o.MaxDF = 1.5 }},
		{"inverted ngram range", func(o *Options) { o.NGramMin = 3; o.NGramMax = 1 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := DefaultOptions()
			tt.mutate(&opts)
			_, err := Fit(corpus, opts)
			assert.ErrorIs(t, err, ErrInvalidOptions)
		})
	}

	assert.NoError(t, DefaultOptions().Validate())
}
