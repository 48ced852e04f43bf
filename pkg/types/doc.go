// Package types provides shared type definitions for finrag.
//
// Chunk is the immutable unit of retrievable text stored in the knowledge
// base. Hit and ScoredCandidate are the intermediate records passed between
// the semantic index, the lexical index, the fusion engine and the
// re-ranker. SearchResult is the externally visible output.
//
// # Identity
//
// Chunk.ID is the storage identity. Indices address chunks by their
// position in the snapshot they were built from (Hit.ChunkIndex), so both
// indices of one snapshot always agree on chunk identity.
//
// # Errors
//
// The search error taxonomy is declared here so every package can wrap it:
//
//	if errors.Is(err, types.ErrInvalidArgument) {
//	    // reject the request
//	}
package types
