// Package lexical implements a TF-IDF index over word n-grams.
//
// Fit derives a fixed vocabulary from the whole corpus and stores one
// L2-normalized sparse row per document. Query vectorizes the query with
// the same vocabulary and returns the documents with positive cosine
// similarity. Terms that were not in the corpus at Fit time contribute
// nothing, so documents added after Fit are invisible until the index is
// fitted again.
package lexical

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/dshills/finrag/internal/tokenize"
	"github.com/dshills/finrag/pkg/types"
)

// Default vocabulary policy
const (
	DefaultMaxFeatures = 20000
	DefaultMinDF       = 1
	DefaultMaxDF       = 0.95
	DefaultNGramMin    = 1
	DefaultNGramMax    = 3
)

// ErrInvalidOptions is returned by Fit for an unusable vocabulary policy
var ErrInvalidOptions = errors.New("invalid lexical index options")

// Options controls vocabulary selection
type Options struct {
	MaxFeatures int     // Keep at most this many terms, by corpus frequency; 0 = unlimited
	MinDF       int     // Drop terms found in fewer documents
	MaxDF       float64 // Drop terms found in more than this fraction of documents
	NGramMin    int
	NGramMax    int
}

// DefaultOptions returns the default vocabulary policy
func DefaultOptions() Options {
	return Options{
		MaxFeatures: DefaultMaxFeatures,
		MinDF:       DefaultMinDF,
		MaxDF:       DefaultMaxDF,
		NGramMin:    DefaultNGramMin,
		NGramMax:    DefaultNGramMax,
	}
}

// Validate checks the options
func (o Options) Validate() error {
	switch {
	case o.MaxFeatures < 0:
		return fmt.Errorf("%w: max features %d", ErrInvalidOptions, o.MaxFeatures)
	case o.MinDF < 1:
		return fmt.Errorf("%w: min df %d", ErrInvalidOptions, o.MinDF)
	case o.MaxDF <= 0 || o.MaxDF > 1:
		return fmt.Errorf("%w: max df %v outside (0, 1]", ErrInvalidOptions, o.MaxDF)
	case o.NGramMin < 1 || o.NGramMax < o.NGramMin:
		return fmt.Errorf("%w: n-gram range [%d, %d]", ErrInvalidOptions, o.NGramMin, o.NGramMax)
	}
	return nil
}

type posting struct {
	doc    int
	weight float64
}

// Index is an immutable fitted TF-IDF index, safe for concurrent queries
type Index struct {
	opts     Options
	vocab    map[string]int // term -> column
	idf      []float64      // by column
	postings [][]posting    // by column, ascending doc
	docs     int
}

// Fit builds the vocabulary and document matrix from texts. The position
// of each text is its chunk index in query results.
func Fit(texts []string, opts Options) (*Index, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	n := len(texts)
	counts := make([]map[string]int, n)
	df := make(map[string]int)
	total := make(map[string]int)

	for i, text := range texts {
		counts[i] = termCounts(text, opts)
		for term, c := range counts[i] {
			df[term]++
			total[term] += c
		}
	}

	terms := selectVocabulary(df, total, n, opts)

	idx := &Index{
		opts:     opts,
		vocab:    make(map[string]int, len(terms)),
		idf:      make([]float64, len(terms)),
		postings: make([][]posting, len(terms)),
		docs:     n,
	}
	for col, term := range terms {
		idx.vocab[term] = col
		idx.idf[col] = math.Log(float64(1+n)/float64(1+df[term])) + 1
	}

	for doc, tc := range counts {
		for _, e := range idx.weigh(tc) {
			idx.postings[e.col] = append(idx.postings[e.col], posting{doc: doc, weight: e.w})
		}
	}

	return idx, nil
}

// selectVocabulary applies the document-frequency bounds and the feature
// cap, returning the kept terms in sorted order.
func selectVocabulary(df, total map[string]int, n int, opts Options) []string {
	maxDocs := n
	if n > 1 {
		maxDocs = int(math.Floor(opts.MaxDF * float64(n)))
	}

	kept := make([]string, 0, len(df))
	for term, d := range df {
		if d < opts.MinDF || d > maxDocs {
			continue
		}
		kept = append(kept, term)
	}

	if opts.MaxFeatures > 0 && len(kept) > opts.MaxFeatures {
		sort.Slice(kept, func(i, j int) bool {
			if total[kept[i]] != total[kept[j]] {
				return total[kept[i]] > total[kept[j]]
			}
			return kept[i] < kept[j]
		})
		kept = kept[:opts.MaxFeatures]
	}

	sort.Strings(kept)
	return kept
}

func termCounts(text string, opts Options) map[string]int {
	grams := tokenize.NGrams(tokenize.Words(text), opts.NGramMin, opts.NGramMax)
	counts := make(map[string]int, len(grams))
	for _, g := range grams {
		counts[g]++
	}
	return counts
}

type weight struct {
	col int
	w   float64
}

// weigh turns raw term counts into an L2-normalized tf-idf row, ordered by
// column so floating point sums are reproducible
func (idx *Index) weigh(counts map[string]int) []weight {
	row := make([]weight, 0, len(counts))
	for term, c := range counts {
		col, ok := idx.vocab[term]
		if !ok {
			continue
		}
		row = append(row, weight{col: col, w: float64(c) * idx.idf[col]})
	}
	sort.Slice(row, func(i, j int) bool { return row[i].col < row[j].col })

	var norm float64
	for _, e := range row {
		norm += e.w * e.w
	}
	if norm == 0 {
		return row
	}
	norm = math.Sqrt(norm)
	for i := range row {
		row[i].w /= norm
	}
	return row
}

// Len returns the number of fitted documents
func (idx *Index) Len() int {
	if idx == nil {
		return 0
	}
	return idx.docs
}

// VocabularySize returns the number of terms kept at Fit time
func (idx *Index) VocabularySize() int {
	if idx == nil {
		return 0
	}
	return len(idx.vocab)
}

// Contains reports whether term is in the fitted vocabulary
func (idx *Index) Contains(term string) bool {
	if idx == nil {
		return false
	}
	_, ok := idx.vocab[term]
	return ok
}

// Query returns up to k documents with positive cosine similarity to text,
// in descending score order. Equal scores keep ascending chunk order.
func (idx *Index) Query(text string, k int) []types.Hit {
	if idx == nil || idx.docs == 0 || k <= 0 {
		return []types.Hit{}
	}

	q := idx.weigh(termCounts(text, idx.opts))
	if len(q) == 0 {
		return []types.Hit{}
	}

	scores := make(map[int]float64)
	for _, e := range q {
		for _, p := range idx.postings[e.col] {
			scores[p.doc] += e.w * p.weight
		}
	}

	hits := make([]types.Hit, 0, len(scores))
	for doc, s := range scores {
		if s > 0 {
			hits = append(hits, types.Hit{ChunkIndex: doc, Score: s})
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
