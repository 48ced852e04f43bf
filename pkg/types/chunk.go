package types

import (
	"crypto/sha256"
	"errors"
	"strings"
)

// MetaSource is the metadata key identifying a chunk's provenance.
const MetaSource = "source"

// Chunk represents an immutable unit of retrievable knowledge-base text
type Chunk struct {
	// Identification
	ID         int64 // Stable storage identity
	DocumentID int64
	Position   int // Order within the owning document

	// Content
	Text        string
	ContentHash [32]byte // SHA-256 of Text, used to skip re-embedding

	// Metadata is read-only after creation; always carries MetaSource
	Metadata map[string]string
}

// Source returns the provenance recorded in the chunk metadata
func (c *Chunk) Source() string {
	if c.Metadata == nil {
		return ""
	}
	return c.Metadata[MetaSource]
}

// ComputeContentHash computes the SHA-256 hash of the chunk text
func (c *Chunk) ComputeContentHash() {
	c.ContentHash = sha256.Sum256([]byte(c.Text))
}

// Validate checks that the chunk can be indexed
func (c *Chunk) Validate() error {
	if strings.TrimSpace(c.Text) == "" {
		return errors.New("chunk text cannot be empty")
	}

	if c.Source() == "" {
		return errors.New("chunk metadata must include a source")
	}

	if c.Position < 0 {
		return errors.New("chunk position must be non-negative")
	}

	return nil
}

// CloneMetadata returns a copy of the chunk metadata so callers cannot
// mutate the indexed chunk
func (c *Chunk) CloneMetadata() map[string]string {
	out := make(map[string]string, len(c.Metadata))
	for k, v := range c.Metadata {
		out[k] = v
	}
	return out
}
