package embedder

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComputeHash(t *testing.T) {
	h1 := ComputeHash("hello world")
	h2 := ComputeHash("hello world")
	h3 := ComputeHash("hello there")

	assert.Equal(t, h1, h2)
	assert.NotEqual(t, h1, h3)
	assert.Len(t, h1, 64)
}

func TestCacheKeyScopedByModel(t *testing.T) {
	assert.NotEqual(t, cacheKey("model-a", "text"), cacheKey("model-b", "text"))
	assert.Equal(t, cacheKey("model-a", "text"), cacheKey("model-a", "text"))
}

func TestValidateRequest(t *testing.T) {
	assert.ErrorIs(t, ValidateRequest(EmbeddingRequest{}), ErrEmptyText)
	assert.NoError(t, ValidateRequest(EmbeddingRequest{Text: "x"}))
}

func TestValidateBatchRequest(t *testing.T) {
	tests := []struct {
		name    string
		texts   []string
		wantErr bool
	}{
		{"valid", []string{"a", "b"}, false},
		{"empty batch", nil, true},
		{"empty member", []string{"a", ""}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateBatchRequest(BatchEmbeddingRequest{Texts: tt.texts})
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidInput)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestCache(t *testing.T) {
	t.Run("set and get", func(t *testing.T) {
		cache := NewCache(10)
		cache.Set("k1", &Embedding{Vector: []float32{1, 2, 3}, Dimension: 3, Hash: "k1"})

		got, ok := cache.Get("k1")
		require.True(t, ok)
		assert.Equal(t, "k1", got.Hash)
		assert.Equal(t, 1, cache.Size())
	})

	t.Run("returned copies are isolated", func(t *testing.T) {
		cache := NewCache(10)
		src := &Embedding{Vector: []float32{1, 2}}
		cache.Set("k", src)
		src.Vector[0] = 99

		got, ok := cache.Get("k")
		require.True(t, ok)
		assert.Equal(t, float32(1), got.Vector[0])

		got.Vector[1] = 42
		again, _ := cache.Get("k")
		assert.Equal(t, float32(2), again.Vector[1])
	})

	t.Run("lru eviction", func(t *testing.T) {
		cache := NewCache(2)
		cache.Set("a", &Embedding{Hash: "a"})
		cache.Set("b", &Embedding{Hash: "b"})
		_, _ = cache.Get("a")
		cache.Set("c", &Embedding{Hash: "c"})

		_, okA := cache.Get("a")
		_, okB := cache.Get("b")
		_, okC := cache.Get("c")
		assert.True(t, okA)
		assert.False(t, okB)
		assert.True(t, okC)
	})

	t.Run("clear", func(t *testing.T) {
		cache := NewCache(10)
		cache.Set("a", &Embedding{})
		cache.Clear()
		assert.Equal(t, 0, cache.Size())
	})

	t.Run("concurrent access", func(t *testing.T) {
		cache := NewCache(100)
		var wg sync.WaitGroup
		for i := 0; i < 10; i++ {
			wg.Add(1)
			go func(id int) {
				defer wg.Done()
				for j := 0; j < 100; j++ {
					key := fmt.Sprintf("%d-%d", id, j)
					cache.Set(key, &Embedding{Vector: []float32{float32(id), float32(j)}})
					cache.Get(key)
				}
			}(i)
		}
		wg.Wait()
		assert.Equal(t, 100, cache.Size())
	})
}

func TestNormalizeVector(t *testing.T) {
	t.Run("unit length", func(t *testing.T) {
		out := NormalizeVector([]float32{3, 4})
		assert.InDelta(t, 0.6, out[0], 1e-6)
		assert.InDelta(t, 0.8, out[1], 1e-6)
	})

	t.Run("zero vector unchanged", func(t *testing.T) {
		assert.Equal(t, []float32{0, 0}, NormalizeVector([]float32{0, 0}))
	})

	t.Run("input not mutated", func(t *testing.T) {
		in := []float32{3, 4}
		_ = NormalizeVector(in)
		assert.Equal(t, []float32{3, 4}, in)
	})
}

func TestLocalProvider(t *testing.T) {
	ctx := context.Background()
	provider, err := NewLocalProvider("", NewCache(10))
	require.NoError(t, err)
	defer func() { _ = provider.Close() }()

	t.Run("metadata", func(t *testing.T) {
		assert.Equal(t, ProviderLocal, provider.Provider())
		assert.Equal(t, DefaultLocalModel, provider.Model())
		assert.Equal(t, LocalDimension, provider.Dimension())
	})

	t.Run("deterministic and normalized", func(t *testing.T) {
		a, err := provider.GenerateEmbedding(ctx, EmbeddingRequest{Text: "capital adequacy ratio"})
		require.NoError(t, err)
		b, err := provider.GenerateEmbedding(ctx, EmbeddingRequest{Text: "capital adequacy ratio"})
		require.NoError(t, err)

		assert.Equal(t, a.Vector, b.Vector)
		assert.Len(t, a.Vector, LocalDimension)
		assert.InDelta(t, 1.0, norm(a.Vector), 1e-5)
		assert.Equal(t, ComputeHash("capital adequacy ratio"), a.Hash)
	})

	t.Run("related texts closer than unrelated", func(t *testing.T) {
		q, _ := provider.GenerateEmbedding(ctx, EmbeddingRequest{Text: "basel capital requirements"})
		near, _ := provider.GenerateEmbedding(ctx, EmbeddingRequest{Text: "capital requirements under basel"})
		far, _ := provider.GenerateEmbedding(ctx, EmbeddingRequest{Text: "mortality tables for annuities"})

		assert.Greater(t, dot(q.Vector, near.Vector), dot(q.Vector, far.Vector))
	})

	t.Run("model name seeds the space", func(t *testing.T) {
		other, err := NewLocalProvider("local-hash-v2", nil)
		require.NoError(t, err)

		a, _ := provider.GenerateEmbedding(ctx, EmbeddingRequest{Text: "solvency"})
		b, _ := other.GenerateEmbedding(ctx, EmbeddingRequest{Text: "solvency"})
		assert.NotEqual(t, a.Vector, b.Vector)
	})

	t.Run("batch preserves order", func(t *testing.T) {
		resp, err := provider.GenerateBatch(ctx, BatchEmbeddingRequest{Texts: []string{"one", "two"}})
		require.NoError(t, err)
		require.Len(t, resp.Embeddings, 2)

		one, _ := provider.GenerateEmbedding(ctx, EmbeddingRequest{Text: "one"})
		assert.Equal(t, one.Vector, resp.Embeddings[0].Vector)
	})

	t.Run("validation", func(t *testing.T) {
		_, err := provider.GenerateEmbedding(ctx, EmbeddingRequest{})
		assert.ErrorIs(t, err, ErrEmptyText)

		_, err = provider.GenerateBatch(ctx, BatchEmbeddingRequest{})
		assert.ErrorIs(t, err, ErrInvalidInput)
	})
}

func TestClassifier(t *testing.T) {
	c := NewClassifier(nil, 0)

	tests := []struct {
		name string
		text string
		want Topic
	}{
		{"finance", "Basel III capital requirements for banks", TopicFinance},
		{"actuarial", "mortality tables used to price annuities", TopicActuarial},
		{"multilingual", "保险公司的偿付能力", TopicMultilingual},
		{"general", "the weather is nice today", TopicGeneral},
		{"empty", "", TopicGeneral},
		{"whole tokens only", "variance of tiered pricing", TopicGeneral},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, c.Classify(tt.text))
		})
	}
}

func TestClassifierTieBreak(t *testing.T) {
	c := NewClassifier(map[Topic][]string{
		TopicFinance:   {"alpha"},
		TopicActuarial: {"beta"},
	}, 1)

	assert.Equal(t, TopicFinance, c.Classify("beta alpha"))
	assert.Equal(t, TopicActuarial, c.Classify("beta"))
}

func TestClassifierMinScore(t *testing.T) {
	c := NewClassifier(nil, 2)
	assert.Equal(t, TopicGeneral, c.Classify("capital"))
	assert.Equal(t, TopicFinance, c.Classify("capital and liquidity"))

	scores := c.Scores("capital and liquidity")
	assert.Equal(t, 2, scores[TopicFinance])
	assert.Equal(t, 0, scores[TopicActuarial])
}

func TestParseTopic(t *testing.T) {
	got, ok := ParseTopic(" Finance ")
	assert.True(t, ok)
	assert.Equal(t, TopicFinance, got)

	_, ok = ParseTopic("")
	assert.False(t, ok)
	_, ok = ParseTopic("legal")
	assert.False(t, ok)
}

func TestRetryWithBackoff(t *testing.T) {
	cfg := RetryConfig{MaxRetries: 3, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond, Multiplier: 2}

	t.Run("succeeds after transient failures", func(t *testing.T) {
		calls := 0
		got, err := retryWithBackoff(context.Background(), cfg, func() (int, error) {
			calls++
			if calls < 3 {
				return 0, errors.New("transient")
			}
			return 7, nil
		})
		require.NoError(t, err)
		assert.Equal(t, 7, got)
		assert.Equal(t, 3, calls)
	})

	t.Run("gives up after max retries", func(t *testing.T) {
		calls := 0
		_, err := retryWithBackoff(context.Background(), cfg, func() (int, error) {
			calls++
			return 0, errors.New("down")
		})
		assert.EqualError(t, err, "down")
		assert.Equal(t, 3, calls)
	})

	t.Run("permanent errors stop immediately", func(t *testing.T) {
		calls := 0
		sentinel := errors.New("bad request")
		_, err := retryWithBackoff(context.Background(), cfg, func() (int, error) {
			calls++
			return 0, permanent(sentinel)
		})
		assert.ErrorIs(t, err, sentinel)
		assert.Equal(t, 1, calls)
	})

	t.Run("cancelled context", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := retryWithBackoff(ctx, cfg, func() (int, error) {
			return 0, errors.New("down")
		})
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func norm(v []float32) float64 {
	return math.Sqrt(dot(v, v))
}

func dot(a, b []float32) float64 {
	var s float64
	for i := range a {
		s += float64(a[i]) * float64(b[i])
	}
	return s
}
