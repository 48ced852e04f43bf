package searcher

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/errgroup"

	"github.com/dshills/finrag/internal/embedder"
	"github.com/dshills/finrag/internal/fusion"
	"github.com/dshills/finrag/internal/indexer"
	"github.com/dshills/finrag/internal/reranker"
	"github.com/dshills/finrag/internal/storage"
	"github.com/dshills/finrag/pkg/types"
)

// SearchMode defines which signals are used
type SearchMode string

const (
	SearchModeHybrid   SearchMode = "hybrid"   // Semantic + lexical with weighted fusion
	SearchModeSemantic SearchMode = "semantic" // Vector similarity only
	SearchModeLexical  SearchMode = "lexical"  // TF-IDF only
)

const (
	// DefaultOverFetch multiplies topK for each source index
	DefaultOverFetch = 3
	// MaxTopK caps the number of results per request
	MaxTopK = 100
	// DefaultCacheSize is the number of cached responses
	DefaultCacheSize = 1000
	// DefaultCacheTTL is how long a cached response stays valid
	DefaultCacheTTL = time.Hour
)

// ParseMode converts a string to a SearchMode; empty means hybrid
func ParseMode(s string) (SearchMode, error) {
	switch SearchMode(strings.ToLower(strings.TrimSpace(s))) {
	case "", SearchModeHybrid:
		return SearchModeHybrid, nil
	case SearchModeSemantic:
		return SearchModeSemantic, nil
	case SearchModeLexical:
		return SearchModeLexical, nil
	default:
		return "", fmt.Errorf("%w: unsupported search mode %q", types.ErrInvalidArgument, s)
	}
}

// SearchRequest contains parameters for a search operation
type SearchRequest struct {
	Query string
	TopK  int
	Mode  SearchMode

	// Nil weights use the searcher defaults (0.7 and 0.3 unless configured)
	SemanticWeight *float64
	LexicalWeight  *float64

	UseCache bool
	CacheTTL time.Duration
}

// SearchResponse contains search results and metadata
type SearchResponse struct {
	Results         []types.SearchResult
	TotalResults    int
	SearchMode      SearchMode
	Duration        time.Duration
	CacheHit        bool
	SemanticResults int
	LexicalResults  int
	Candidates      int // Fused candidates before truncation
	Reranked        bool
	Generation      uint64 // Snapshot the results came from; 0 when no index is loaded
}

// cacheEntry represents a cached search response with expiration time
type cacheEntry struct {
	response  *SearchResponse
	expiresAt time.Time
}

// Searcher is the hybrid search orchestrator. Queries read the current
// snapshot without locking; Rebuild builds a replacement and swaps it in,
// so in-flight queries finish against the snapshot they started with.
type Searcher struct {
	builder  *indexer.Builder
	embedder embedder.TopicEmbedder
	reranker *reranker.Reranker
	kb       storage.KnowledgeBase
	log      storage.SearchLogger

	snapshot  atomic.Pointer[indexer.Snapshot]
	cache     *lru.Cache[[32]byte, *cacheEntry]
	cacheTTL  time.Duration
	overFetch int
	weights   [2]float64 // Default semantic and lexical weights
	logger    *slog.Logger
}

// Option configures a Searcher
type Option func(*Searcher)

// WithReranker enables the re-ranking stage
func WithReranker(r *reranker.Reranker) Option {
	return func(s *Searcher) {
		s.reranker = r
	}
}

// WithKnowledgeBase attributes results with metadata read from kb instead
// of the snapshot copy
func WithKnowledgeBase(kb storage.KnowledgeBase) Option {
	return func(s *Searcher) {
		s.kb = kb
	}
}

// WithSearchLogger records every executed search
func WithSearchLogger(l storage.SearchLogger) Option {
	return func(s *Searcher) {
		s.log = l
	}
}

// WithOverFetch sets the per-source over-fetch multiplier
func WithOverFetch(n int) Option {
	return func(s *Searcher) {
		if n > 0 {
			s.overFetch = n
		}
	}
}

// WithCacheSize sets the query cache size
func WithCacheSize(n int) Option {
	return func(s *Searcher) {
		if n > 0 {
			if c, err := lru.New[[32]byte, *cacheEntry](n); err == nil {
				s.cache = c
			}
		}
	}
}

// WithCacheTTL sets how long cached responses stay valid when a request
// does not say
func WithCacheTTL(d time.Duration) Option {
	return func(s *Searcher) {
		if d > 0 {
			s.cacheTTL = d
		}
	}
}

// WithDefaultWeights sets the fusion weights used when a request omits them.
// Invalid weights are reported by Search.
func WithDefaultWeights(semantic, lexical float64) Option {
	return func(s *Searcher) {
		s.weights = [2]float64{semantic, lexical}
	}
}

// WithLogger sets the logger
func WithLogger(l *slog.Logger) Option {
	return func(s *Searcher) {
		if l != nil {
			s.logger = l
		}
	}
}

// New creates a Searcher. No index is loaded until Rebuild or Load is called;
// searches before that return empty results.
func New(builder *indexer.Builder, emb embedder.TopicEmbedder, opts ...Option) (*Searcher, error) {
	if emb == nil {
		return nil, errors.New("embedder is required")
	}

	cache, err := lru.New[[32]byte, *cacheEntry](DefaultCacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create LRU cache: %w", err)
	}

	s := &Searcher{
		builder:   builder,
		embedder:  emb,
		cache:     cache,
		cacheTTL:  DefaultCacheTTL,
		overFetch: DefaultOverFetch,
		weights:   [2]float64{fusion.DefaultSemanticWeight, fusion.DefaultLexicalWeight},
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Rebuild builds a new snapshot and atomically replaces the current one.
// A failed build leaves the current snapshot in place.
func (s *Searcher) Rebuild(ctx context.Context) (*indexer.Statistics, error) {
	if s.builder == nil {
		return nil, errors.New("searcher has no index builder")
	}
	snap, err := s.builder.Build(ctx)
	if err != nil {
		return nil, err
	}
	if !s.install(snap) {
		s.logger.Debug("discarding superseded snapshot", "generation", snap.Generation)
	}
	stats := snap.Stats
	return &stats, nil
}

// install swaps snap in unless a newer generation is already live
func (s *Searcher) install(snap *indexer.Snapshot) bool {
	for {
		cur := s.snapshot.Load()
		if cur != nil && cur.Generation >= snap.Generation {
			return false
		}
		if s.snapshot.CompareAndSwap(cur, snap) {
			s.cache.Purge()
			return true
		}
	}
}

// Load installs snap as the current snapshot and drops cached responses
func (s *Searcher) Load(snap *indexer.Snapshot) {
	s.snapshot.Store(snap)
	s.cache.Purge()
}

// Snapshot returns the current snapshot, or nil before the first build
func (s *Searcher) Snapshot() *indexer.Snapshot {
	return s.snapshot.Load()
}

// Close drops the cached responses and the loaded snapshot
func (s *Searcher) Close() error {
	s.snapshot.Store(nil)
	s.cache.Purge()
	return nil
}

// HybridSearch returns at most topK results for query ranked by weighted
// fusion of semantic and lexical similarity, re-ranked when a re-ranker is
// configured. Only types.ErrInvalidArgument and types.ErrFatalEncoderFailure
// are returned as errors.
func (s *Searcher) HybridSearch(ctx context.Context, query string, topK int, semanticWeight, lexicalWeight float64) ([]types.SearchResult, error) {
	resp, err := s.Search(ctx, SearchRequest{
		Query:          query,
		TopK:           topK,
		Mode:           SearchModeHybrid,
		SemanticWeight: &semanticWeight,
		LexicalWeight:  &lexicalWeight,
	})
	if err != nil {
		return nil, err
	}
	return resp.Results, nil
}

// Search performs a search based on the request parameters
func (s *Searcher) Search(ctx context.Context, req SearchRequest) (*SearchResponse, error) {
	startTime := time.Now()

	if err := s.validateRequest(&req); err != nil {
		return nil, err
	}

	snap := s.snapshot.Load()

	if req.UseCache {
		if cached := s.checkCache(snap, req); cached != nil {
			cached.CacheHit = true
			cached.Duration = time.Since(startTime)
			s.record(ctx, req, cached)
			return cached, nil
		}
	}

	response, degraded, err := s.run(ctx, snap, req)
	if err != nil {
		return nil, err
	}
	response.Duration = time.Since(startTime)

	if req.UseCache && !degraded && len(response.Results) > 0 {
		s.storeInCache(snap, req, response)
	}
	s.record(ctx, req, response)

	return response, nil
}

// run executes embed, query, fuse, rerank and truncate against snap. A
// re-ranking failure never fails the search; it is reported as degraded.
func (s *Searcher) run(ctx context.Context, snap *indexer.Snapshot, req SearchRequest) (*SearchResponse, bool, error) {
	response := &SearchResponse{
		Results:    []types.SearchResult{},
		SearchMode: req.Mode,
	}

	if snap.Len() == 0 {
		s.logger.Debug("search against empty index", "error", types.ErrIndexUnavailable)
		return response, false, nil
	}
	response.Generation = snap.Generation

	fetch := req.TopK * s.overFetch
	var semHits, lexHits []types.Hit

	g, gctx := errgroup.WithContext(ctx)
	if req.Mode != SearchModeLexical {
		g.Go(func() error {
			queries, err := s.queryVectors(gctx, snap, req.Query)
			if err != nil {
				return err
			}
			semHits = snap.Semantic.Query(queries, fetch)
			return nil
		})
	}
	if req.Mode != SearchModeSemantic {
		g.Go(func() error {
			lexHits = snap.Lexical.Query(req.Query, fetch)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, false, err
	}

	response.SemanticResults = len(semHits)
	response.LexicalResults = len(lexHits)

	ws, wl := *req.SemanticWeight, *req.LexicalWeight
	switch req.Mode {
	case SearchModeSemantic:
		ws, wl = 1, 0
	case SearchModeLexical:
		ws, wl = 0, 1
	}

	candidates := fusion.Fuse(semHits, lexHits, ws, wl)
	response.Candidates = len(candidates)

	var rerankErr error
	if s.reranker.Enabled() && len(candidates) > 0 {
		texts := make([]string, len(candidates))
		for i, c := range candidates {
			texts[i] = snap.Chunks[c.ChunkIndex].Text
		}
		candidates, rerankErr = s.reranker.Rerank(ctx, req.Query, candidates, texts)
		response.Reranked = rerankErr == nil
	}

	if len(candidates) > req.TopK {
		candidates = candidates[:req.TopK]
	}

	response.Results = s.shape(ctx, snap, candidates)
	response.TotalResults = len(response.Results)
	return response, rerankErr != nil, nil
}

// queryVectors embeds the query once per encoder space present in the
// snapshot, each with the topic whose encoder produced that space. When a
// specialized encoder falls back, its space gets no query vector and the
// chunks in it are left to the lexical signal.
func (s *Searcher) queryVectors(ctx context.Context, snap *indexer.Snapshot, query string) (map[string][]float32, error) {
	present := make(map[string]bool)
	for _, space := range snap.Semantic.Spaces() {
		present[space] = true
	}

	queries := make(map[string][]float32, len(present))
	for _, topic := range embedder.Topics() {
		space := s.embedder.SpaceFor(topic)
		if !present[space] {
			continue
		}
		if _, done := queries[space]; done {
			continue
		}

		emb, err := s.embedder.Embed(ctx, query, topic)
		if err != nil {
			if errors.Is(err, types.ErrFatalEncoderFailure) {
				return nil, err
			}
			return nil, fmt.Errorf("%w: %v", types.ErrFatalEncoderFailure, err)
		}
		if emb.Space() != space {
			s.logger.Warn("query embedding fell back to another space, skipping",
				"topic", topic, "space", space, "got", emb.Space())
			continue
		}
		queries[space] = emb.Vector
	}
	return queries, nil
}

// shape turns candidates into ranked results with source attribution
func (s *Searcher) shape(ctx context.Context, snap *indexer.Snapshot, candidates []types.ScoredCandidate) []types.SearchResult {
	results := make([]types.SearchResult, 0, len(candidates))
	for _, c := range candidates {
		chunk := snap.Chunks[c.ChunkIndex]
		// Chunk and result carry the same attribution
		chunk.Metadata = s.metadata(ctx, &chunk)

		result := types.SearchResult{
			Chunk:      chunk,
			Rank:       len(results) + 1,
			Metadata:   chunk.Metadata,
			Score:      c.FinalScore(),
			SearchType: c.SearchType(),
			Scores: types.ScoreBreakdown{
				Semantic: c.SemanticScore,
				Lexical:  c.LexicalScore,
				Combined: c.CombinedScore,
				Rerank:   c.RerankScore,
			},
		}
		if err := result.Validate(); err != nil {
			s.logger.Warn("dropping malformed search result", "chunk_id", chunk.ID, "error", err)
			continue
		}
		results = append(results, result)
	}
	return results
}

// metadata reads attribution from the knowledge base when configured and
// falls back to the snapshot copy
func (s *Searcher) metadata(ctx context.Context, chunk *types.Chunk) map[string]string {
	if s.kb != nil && chunk.ID != 0 {
		meta, err := s.kb.Metadata(ctx, chunk.ID)
		if err == nil {
			if meta[types.MetaSource] == "" {
				meta[types.MetaSource] = chunk.Source()
			}
			return meta
		}
		s.logger.Debug("metadata lookup failed, using indexed copy", "chunk_id", chunk.ID, "error", err)
	}
	return chunk.CloneMetadata()
}

// record appends the search to the search log; failures are logged only
func (s *Searcher) record(ctx context.Context, req SearchRequest, resp *SearchResponse) {
	if s.log == nil {
		return
	}
	ids := make([]int64, len(resp.Results))
	for i, r := range resp.Results {
		ids[i] = r.Chunk.ID
	}
	err := s.log.AppendSearchLog(ctx, &storage.SearchLogEntry{
		Query:          req.Query,
		Mode:           string(req.Mode),
		TopK:           req.TopK,
		ResultCount:    len(resp.Results),
		ResultChunkIDs: ids,
		Reranked:       resp.Reranked,
		DurationMs:     resp.Duration.Milliseconds(),
	})
	if err != nil {
		s.logger.Warn("failed to record search", "error", err)
	}
}

// validateRequest rejects malformed requests and fills defaults
func (s *Searcher) validateRequest(req *SearchRequest) error {
	if strings.TrimSpace(req.Query) == "" {
		return fmt.Errorf("%w: query cannot be empty", types.ErrInvalidArgument)
	}

	if req.TopK <= 0 {
		return fmt.Errorf("%w: topK must be >= 1, got %d", types.ErrInvalidArgument, req.TopK)
	}
	if req.TopK > MaxTopK {
		req.TopK = MaxTopK
	}

	mode, err := ParseMode(string(req.Mode))
	if err != nil {
		return err
	}
	req.Mode = mode

	if req.SemanticWeight == nil {
		w := s.weights[0]
		req.SemanticWeight = &w
	}
	if req.LexicalWeight == nil {
		w := s.weights[1]
		req.LexicalWeight = &w
	}
	if err := fusion.ValidateWeights(*req.SemanticWeight, *req.LexicalWeight); err != nil {
		return err
	}

	if req.CacheTTL <= 0 {
		req.CacheTTL = s.cacheTTL
	}

	return nil
}

// checkCache looks up a cached response for the current snapshot
func (s *Searcher) checkCache(snap *indexer.Snapshot, req SearchRequest) *SearchResponse {
	hash := computeQueryHash(snap, req, s.reranker.Enabled())
	entry, found := s.cache.Get(hash)
	if !found {
		return nil
	}

	if time.Now().After(entry.expiresAt) {
		s.cache.Remove(hash)
		return nil
	}

	return copySearchResponse(entry.response)
}

// storeInCache saves a deep copy of response
func (s *Searcher) storeInCache(snap *indexer.Snapshot, req SearchRequest, response *SearchResponse) {
	s.cache.Add(computeQueryHash(snap, req, s.reranker.Enabled()), &cacheEntry{
		response:  copySearchResponse(response),
		expiresAt: time.Now().Add(req.CacheTTL),
	})
}

// copySearchResponse creates a deep copy of a SearchResponse
func copySearchResponse(src *SearchResponse) *SearchResponse {
	if src == nil {
		return nil
	}

	dst := *src
	dst.Results = make([]types.SearchResult, len(src.Results))
	for i, r := range src.Results {
		r.Chunk.Metadata = r.Chunk.CloneMetadata()
		meta := make(map[string]string, len(r.Metadata))
		for k, v := range r.Metadata {
			meta[k] = v
		}
		r.Metadata = meta
		r.Scores = types.ScoreBreakdown{
			Semantic: copyFloat(r.Scores.Semantic),
			Lexical:  copyFloat(r.Scores.Lexical),
			Combined: r.Scores.Combined,
			Rerank:   copyFloat(r.Scores.Rerank),
		}
		dst.Results[i] = r
	}
	return &dst
}

func copyFloat(f *float64) *float64 {
	if f == nil {
		return nil
	}
	return types.Float(*f)
}

// computeQueryHash keys a request to the snapshot generation it ran against
func computeQueryHash(snap *indexer.Snapshot, req SearchRequest, rerank bool) [32]byte {
	var generation uint64
	if snap != nil {
		generation = snap.Generation
	}
	key := fmt.Sprintf("%d|%s|%d|%g|%g|%t|%s",
		generation, req.Mode, req.TopK, *req.SemanticWeight, *req.LexicalWeight, rerank, req.Query)
	return sha256.Sum256([]byte(key))
}
