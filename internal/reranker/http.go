package reranker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

const (
	// DefaultBaseURL is the Jina AI API base URL; Cohere-compatible
	// endpoints accept the same request shape.
	DefaultBaseURL = "https://api.jina.ai/v1"

	// DefaultModel is the rerank model requested when none is configured
	DefaultModel = "jina-reranker-v2-base-multilingual"

	// DefaultRateLimit is requests per second sent to the rerank API
	DefaultRateLimit = 5.0

	// EnvAPIKey names the environment variable holding the API key
	EnvAPIKey = "FINRAG_RERANK_API_KEY"
)

// ErrNoAPIKey is returned when no API key is configured
var ErrNoAPIKey = errors.New("rerank api key not set")

// HTTPScorer calls a hosted /rerank endpoint
type HTTPScorer struct {
	httpClient *http.Client
	limiter    *rate.Limiter
	apiKey     string
	baseURL    string
	model      string
}

// HTTPOption configures an HTTPScorer
type HTTPOption func(*HTTPScorer)

// WithAPIKey sets the bearer token
func WithAPIKey(key string) HTTPOption {
	return func(s *HTTPScorer) {
		if key != "" {
			s.apiKey = key
		}
	}
}

// WithBaseURL sets a custom base URL
func WithBaseURL(url string) HTTPOption {
	return func(s *HTTPScorer) {
		if url != "" {
			s.baseURL = strings.TrimRight(url, "/")
		}
	}
}

// WithModel sets the rerank model name
func WithModel(model string) HTTPOption {
	return func(s *HTTPScorer) {
		if model != "" {
			s.model = model
		}
	}
}

// WithHTTPClient sets a custom HTTP client
func WithHTTPClient(hc *http.Client) HTTPOption {
	return func(s *HTTPScorer) {
		if hc != nil {
			s.httpClient = hc
		}
	}
}

// WithRateLimit caps requests per second. Zero or negative removes the cap.
func WithRateLimit(perSecond float64) HTTPOption {
	return func(s *HTTPScorer) {
		if perSecond <= 0 {
			s.limiter = rate.NewLimiter(rate.Inf, 1)
			return
		}
		s.limiter = rate.NewLimiter(rate.Limit(perSecond), 1)
	}
}

// NewHTTPScorer creates a rerank API client. The API key falls back to
// FINRAG_RERANK_API_KEY, then JINA_API_KEY.
func NewHTTPScorer(opts ...HTTPOption) (*HTTPScorer, error) {
	s := &HTTPScorer{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		limiter:    rate.NewLimiter(rate.Limit(DefaultRateLimit), 1),
		baseURL:    DefaultBaseURL,
		model:      DefaultModel,
	}

	for _, env := range []string{EnvAPIKey, "JINA_API_KEY"} {
		if key := os.Getenv(env); key != "" {
			s.apiKey = key
			break
		}
	}

	for _, opt := range opts {
		opt(s)
	}

	if s.apiKey == "" {
		return nil, ErrNoAPIKey
	}
	return s, nil
}

type rerankRequest struct {
	Model     string   `json:"model"`
	Query     string   `json:"query"`
	Documents []string `json:"documents"`
	TopN      int      `json:"top_n"`
}

type rerankResponse struct {
	Results []struct {
		Index          int     `json:"index"`
		RelevanceScore float64 `json:"relevance_score"`
	} `json:"results"`
}

// Score implements Scorer
func (s *HTTPScorer) Score(ctx context.Context, query string, texts []string) ([]float64, error) {
	if len(texts) == 0 {
		return []float64{}, nil
	}

	if err := s.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	body, err := json.Marshal(rerankRequest{
		Model:     s.model,
		Query:     query,
		Documents: texts,
		TopN:      len(texts),
	})
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/rerank", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.apiKey)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("api call: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("api error %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var decoded rerankResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}

	scores := make([]float64, len(texts))
	seen := make([]bool, len(texts))
	for _, r := range decoded.Results {
		if r.Index < 0 || r.Index >= len(texts) {
			return nil, fmt.Errorf("api returned out-of-range index %d", r.Index)
		}
		scores[r.Index] = r.RelevanceScore
		seen[r.Index] = true
	}
	for i, ok := range seen {
		if !ok {
			return nil, fmt.Errorf("api returned no score for document %d", i)
		}
	}

	return scores, nil
}
