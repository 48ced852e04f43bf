package types

import "errors"

// Search error taxonomy. Only ErrInvalidArgument and ErrFatalEncoderFailure
// escape a search call; the others are recovered where they occur.
var (
	// ErrInvalidArgument marks a malformed call (empty query, non-positive topK, negative weight)
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrIndexUnavailable marks a search against an index that has not been built
	ErrIndexUnavailable = errors.New("index unavailable")

	// ErrEncoderFailure marks a specialized encoder failure (recovered by the general encoder)
	ErrEncoderFailure = errors.New("encoder failure")

	// ErrRerankFailure marks a re-ranking backend failure or timeout (recovered by keeping fused order)
	ErrRerankFailure = errors.New("rerank failure")

	// ErrFatalEncoderFailure marks a failure of the general-purpose encoder
	ErrFatalEncoderFailure = errors.New("general encoder failure")
)

// Search result errors
var (
	ErrInvalidRank       = errors.New("rank must be >= 1")
	ErrInvalidSearchType = errors.New("invalid search type")
	ErrEmptyContent      = errors.New("content cannot be empty")
	ErrMissingSource     = errors.New("result metadata must include a source")
)
