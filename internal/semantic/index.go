// Package semantic implements a flat inner-product index over
// L2-normalized embedding vectors.
//
// Vectors are grouped by the encoder space that produced them. A query
// carries one vector per space and each entry is scored only against the
// query vector of its own space, so vectors from different encoders are
// never compared. The index is immutable after Build and safe for
// concurrent queries.
package semantic

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/dshills/finrag/pkg/types"
)

var (
	// ErrDimensionMismatch is returned when vectors in one space differ in length
	ErrDimensionMismatch = errors.New("vector dimension mismatch")

	// ErrDuplicateChunk is returned when a chunk has more than one vector
	ErrDuplicateChunk = errors.New("duplicate chunk index")
)

// Entry is one chunk vector to index
type Entry struct {
	ChunkIndex int
	Space      string
	Vector     []float32
}

// partition holds the vectors of one encoder space as a row-major matrix
type partition struct {
	dim    int
	chunks []int
	matrix []float32
}

// Index is an immutable semantic index
type Index struct {
	spaces map[string]*partition
	size   int
}

// Build creates an index from entries. Vectors are normalized on insert;
// an all-zero vector is kept and scores zero against every query.
func Build(entries []Entry) (*Index, error) {
	idx := &Index{spaces: make(map[string]*partition)}
	seen := make(map[int]struct{}, len(entries))

	for _, e := range entries {
		if e.ChunkIndex < 0 {
			return nil, fmt.Errorf("negative chunk index %d", e.ChunkIndex)
		}
		if _, dup := seen[e.ChunkIndex]; dup {
			return nil, fmt.Errorf("%w: %d", ErrDuplicateChunk, e.ChunkIndex)
		}
		if len(e.Vector) == 0 {
			return nil, fmt.Errorf("chunk %d: empty vector", e.ChunkIndex)
		}
		seen[e.ChunkIndex] = struct{}{}

		p, ok := idx.spaces[e.Space]
		if !ok {
			p = &partition{dim: len(e.Vector)}
			idx.spaces[e.Space] = p
		}
		if len(e.Vector) != p.dim {
			return nil, fmt.Errorf("%w: space %s has dimension %d, chunk %d has %d",
				ErrDimensionMismatch, e.Space, p.dim, e.ChunkIndex, len(e.Vector))
		}

		p.chunks = append(p.chunks, e.ChunkIndex)
		p.matrix = append(p.matrix, normalize(e.Vector)...)
	}

	idx.size = len(seen)
	return idx, nil
}

// Len returns the number of indexed chunks
func (idx *Index) Len() int {
	if idx == nil {
		return 0
	}
	return idx.size
}

// Spaces returns the encoder spaces present in the index, sorted
func (idx *Index) Spaces() []string {
	if idx == nil {
		return nil
	}
	out := make([]string, 0, len(idx.spaces))
	for s := range idx.spaces {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// Query returns up to k hits in descending score order. Equal scores keep
// ascending chunk order. Entries whose space has no query vector, or whose
// dimension differs from it, are not scored. An empty index or k <= 0
// yields an empty result.
func (idx *Index) Query(queries map[string][]float32, k int) []types.Hit {
	if idx == nil || idx.size == 0 || k <= 0 {
		return []types.Hit{}
	}

	hits := make([]types.Hit, 0, idx.size)
	for space, q := range queries {
		p, ok := idx.spaces[space]
		if !ok || len(q) != p.dim {
			continue
		}
		qn := normalize(q)
		for row, chunk := range p.chunks {
			hits = append(hits, types.Hit{
				ChunkIndex: chunk,
				Score:      dot(qn, p.matrix[row*p.dim:(row+1)*p.dim]),
			})
		}
	}

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].ChunkIndex < hits[j].ChunkIndex
	})

	if len(hits) > k {
		hits = hits[:k]
	}
	return hits
}

func normalize(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	out := make([]float32, len(v))
	if sum == 0 {
		return out
	}
	n := math.Sqrt(sum)
	for i, x := range v {
		out[i] = float32(float64(x) / n)
	}
	return out
}

func dot(a, b []float32) float64 {
	var s float64
	for i := range a {
		s += float64(a[i]) * float64(b[i])
	}
	return s
}
