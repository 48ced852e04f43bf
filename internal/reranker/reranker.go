// Package reranker provides the optional second-pass relevance stage of a
// search.
//
// A Scorer assigns one relevance score per (query, text) pair. Reranker
// wraps a Scorer with a timeout and a no-op fallback: when scoring fails
// for any reason the candidates come back unchanged, in their fused order,
// together with an error wrapping types.ErrRerankFailure that callers log
// and otherwise ignore.
//
// Rerank scores are a separate ranking signal. They are not comparable to
// fusion scores and are never added to them.
package reranker

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"time"

	"github.com/dshills/finrag/pkg/types"
)

// DefaultTimeout bounds a single Rerank call
const DefaultTimeout = 5 * time.Second

// Scorer computes one relevance score per text for query. The returned
// slice must be parallel to texts.
type Scorer interface {
	Score(ctx context.Context, query string, texts []string) ([]float64, error)
}

// ScorerFunc adapts a function to the Scorer interface
type ScorerFunc func(ctx context.Context, query string, texts []string) ([]float64, error)

// Score calls f
func (f ScorerFunc) Score(ctx context.Context, query string, texts []string) ([]float64, error) {
	return f(ctx, query, texts)
}

// Reranker re-sorts fused candidates by a Scorer's relevance score
type Reranker struct {
	scorer  Scorer
	timeout time.Duration
	logger  *slog.Logger
}

// Option configures a Reranker
type Option func(*Reranker)

// WithTimeout bounds each Rerank call. Zero or negative disables the bound.
func WithTimeout(d time.Duration) Option {
	return func(r *Reranker) {
		r.timeout = d
	}
}

// WithLogger sets the logger used to report recovered failures
func WithLogger(l *slog.Logger) Option {
	return func(r *Reranker) {
		if l != nil {
			r.logger = l
		}
	}
}

// New creates a Reranker. A nil scorer yields a Reranker that is disabled.
func New(scorer Scorer, opts ...Option) *Reranker {
	r := &Reranker{
		scorer:  scorer,
		timeout: DefaultTimeout,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Enabled reports whether a scorer is configured
func (r *Reranker) Enabled() bool {
	return r != nil && r.scorer != nil
}

// Rerank scores every candidate against query and returns a new slice
// sorted by descending RerankScore; equal scores keep their fused order.
// texts[i] is the text of cands[i].
//
// On failure the returned slice holds the input candidates unchanged and
// the error wraps types.ErrRerankFailure.
func (r *Reranker) Rerank(ctx context.Context, query string, cands []types.ScoredCandidate, texts []string) ([]types.ScoredCandidate, error) {
	out := make([]types.ScoredCandidate, len(cands))
	copy(out, cands)

	if !r.Enabled() || len(cands) == 0 {
		return out, nil
	}

	if len(texts) != len(cands) {
		return out, r.fail(fmt.Errorf("got %d texts for %d candidates", len(texts), len(cands)))
	}

	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	scores, err := r.score(ctx, query, texts)
	if err != nil {
		return out, r.fail(err)
	}
	if len(scores) != len(cands) {
		return out, r.fail(fmt.Errorf("scorer returned %d scores for %d candidates", len(scores), len(cands)))
	}
	for i, s := range scores {
		if math.IsNaN(s) || math.IsInf(s, 0) {
			return out, r.fail(fmt.Errorf("non-finite score at %d", i))
		}
	}

	for i := range out {
		out[i].RerankScore = types.Float(scores[i])
	}
	sort.SliceStable(out, func(i, j int) bool {
		return *out[i].RerankScore > *out[j].RerankScore
	})

	return out, nil
}

// score runs the scorer, converting panics and deadline overruns into
// errors. The deadline holds even for a scorer that ignores ctx.
func (r *Reranker) score(ctx context.Context, query string, texts []string) ([]float64, error) {
	type outcome struct {
		scores []float64
		err    error
	}
	done := make(chan outcome, 1)

	go func() {
		var o outcome
		defer func() {
			if p := recover(); p != nil {
				o = outcome{err: fmt.Errorf("scorer panic: %v", p)}
			}
			done <- o
		}()
		o.scores, o.err = r.scorer.Score(ctx, query, texts)
	}()

	select {
	case o := <-done:
		if o.err == nil && ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return o.scores, o.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (r *Reranker) fail(err error) error {
	wrapped := fmt.Errorf("%w: %v", types.ErrRerankFailure, err)
	r.logger.Warn("re-ranking failed, keeping fused order", "error", wrapped)
	return wrapped
}
