// Package searcher implements the hybrid search orchestrator.
//
// A search runs a fixed pipeline against the current index snapshot:
//
//	query -> embed -> semantic query (topK*3) -+
//	                                           +-> fuse -> rerank -> topK
//	query -> lexical query (topK*3) -----------+
//
// The semantic and lexical stages run concurrently. The over-fetch gives
// the re-ranker a wider pool than the final cut.
//
// # Basic Usage
//
//	s, err := searcher.New(builder, router,
//	    searcher.WithReranker(rr),
//	    searcher.WithSearchLogger(db),
//	)
//	if _, err := s.Rebuild(ctx); err != nil {
//	    return err
//	}
//
//	results, err := s.HybridSearch(ctx, "Basel III capital ratio", 5, 0.7, 0.3)
//	for _, r := range results {
//	    fmt.Printf("[%d] %s (score: %.3f)\n", r.Rank, r.Metadata["source"], r.Score)
//	}
//
// # Search Modes
//
//   - hybrid (default): weighted fusion of semantic and lexical scores
//   - semantic: vector similarity only
//   - lexical: TF-IDF cosine similarity only
//
// # Errors
//
// Only types.ErrInvalidArgument (empty query, topK < 1, negative weight,
// unknown mode) and types.ErrFatalEncoderFailure escape a search. An empty
// or unbuilt index yields an empty result list. A failing re-ranker leaves
// the fused order in place and marks the response as not re-ranked.
//
// # Snapshots and Caching
//
// Rebuild builds a new snapshot while searches keep reading the old one,
// then swaps it in atomically. Responses can be cached in an LRU keyed by
// snapshot generation and request; the cache is purged on every swap.
package searcher
