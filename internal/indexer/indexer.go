package indexer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dshills/finrag/internal/embedder"
	"github.com/dshills/finrag/internal/lexical"
	"github.com/dshills/finrag/internal/semantic"
	"github.com/dshills/finrag/internal/storage"
	"github.com/dshills/finrag/pkg/types"
)

// ErrRebuildInProgress is returned when a build is requested while another
// one is running
var ErrRebuildInProgress = errors.New("index rebuild already in progress")

// Snapshot is an immutable pair of indices built from one chunk sequence.
// Hit.ChunkIndex values from either index address Chunks.
type Snapshot struct {
	Chunks     []types.Chunk
	Semantic   *semantic.Index
	Lexical    *lexical.Index
	Generation uint64
	BuiltAt    time.Time
	Stats      Statistics
}

// Len returns the number of indexed chunks
func (s *Snapshot) Len() int {
	if s == nil {
		return 0
	}
	return len(s.Chunks)
}

// Statistics contains statistics about a build
type Statistics struct {
	Chunks            int
	EmbeddingsReused  int
	EmbeddingsCreated int
	Fallbacks         int
	Topics            map[embedder.Topic]int
	Spaces            []string
	VocabularySize    int
	Duration          time.Duration
}

// Builder turns a KnowledgeBase into Snapshots
type Builder struct {
	kb       storage.KnowledgeBase
	embedder embedder.TopicEmbedder
	store    storage.EmbeddingStore

	lexicalOpts lexical.Options
	workers     int
	logger      *slog.Logger

	lock       IndexLock
	generation atomic.Uint64
}

// Option configures a Builder
type Option func(*Builder)

// WithEmbeddingStore enables reuse and persistence of chunk vectors
func WithEmbeddingStore(s storage.EmbeddingStore) Option {
	return func(b *Builder) {
		b.store = s
	}
}

// WithLexicalOptions overrides the lexical vocabulary policy
func WithLexicalOptions(opts lexical.Options) Option {
	return func(b *Builder) {
		b.lexicalOpts = opts
	}
}

// WithWorkers sets the number of concurrent embedding batches
func WithWorkers(n int) Option {
	return func(b *Builder) {
		if n > 0 {
			b.workers = n
		}
	}
}

// WithLogger sets the build logger
func WithLogger(l *slog.Logger) Option {
	return func(b *Builder) {
		if l != nil {
			b.logger = l
		}
	}
}

// New creates a Builder
func New(kb storage.KnowledgeBase, emb embedder.TopicEmbedder, opts ...Option) (*Builder, error) {
	if kb == nil {
		return nil, errors.New("knowledge base is required")
	}
	if emb == nil {
		return nil, errors.New("embedder is required")
	}

	b := &Builder{
		kb:          kb,
		embedder:    emb,
		lexicalOpts: lexical.DefaultOptions(),
		workers:     runtime.NumCPU(),
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}

	if err := b.lexicalOpts.Validate(); err != nil {
		return nil, err
	}
	return b, nil
}

// Building reports whether a build is running
func (b *Builder) Building() bool {
	return b.lock.Held()
}

// Build reads the whole corpus and builds both indices. Only one build
// runs at a time; a concurrent call fails with ErrRebuildInProgress
// instead of waiting.
func (b *Builder) Build(ctx context.Context) (*Snapshot, error) {
	if !b.lock.TryAcquire() {
		return nil, ErrRebuildInProgress
	}
	defer b.lock.Release()

	start := time.Now()

	chunks, err := b.kb.Chunks(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read chunks: %w", err)
	}
	for i := range chunks {
		if chunks[i].ContentHash == ([32]byte{}) {
			chunks[i].ComputeContentHash()
		}
	}

	stats := Statistics{
		Chunks: len(chunks),
		Topics: make(map[embedder.Topic]int),
	}

	entries, err := b.embedChunks(ctx, chunks, &stats)
	if err != nil {
		return nil, err
	}

	sem, err := semantic.Build(entries)
	if err != nil {
		return nil, fmt.Errorf("failed to build semantic index: %w", err)
	}

	texts := make([]string, len(chunks))
	for i := range chunks {
		texts[i] = chunks[i].Text
	}
	lex, err := lexical.Fit(texts, b.lexicalOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to fit lexical index: %w", err)
	}

	stats.Spaces = sem.Spaces()
	stats.VocabularySize = lex.VocabularySize()
	stats.Duration = time.Since(start)

	snap := &Snapshot{
		Chunks:     chunks,
		Semantic:   sem,
		Lexical:    lex,
		Generation: b.generation.Add(1),
		BuiltAt:    time.Now(),
		Stats:      stats,
	}

	b.logger.Info("index built",
		"generation", snap.Generation,
		"chunks", stats.Chunks,
		"reused", stats.EmbeddingsReused,
		"embedded", stats.EmbeddingsCreated,
		"fallbacks", stats.Fallbacks,
		"vocabulary", stats.VocabularySize,
		"duration", stats.Duration)

	return snap, nil
}

// topicGroup is the set of chunk positions routed to one topic
type topicGroup struct {
	topic     embedder.Topic
	space     string
	positions []int
}

// embedChunks classifies every chunk, reuses stored vectors whose content
// hash still matches and embeds the rest, one batch sequence per topic
func (b *Builder) embedChunks(ctx context.Context, chunks []types.Chunk, stats *Statistics) ([]semantic.Entry, error) {
	groups := b.groupByTopic(chunks, stats)

	entries := make([]semantic.Entry, len(chunks))
	var (
		mu      sync.Mutex
		created []*storage.Embedding
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.workers)

	for _, group := range groups {
		stored := b.storedVectors(gctx, group.space)

		pending := make([]int, 0, len(group.positions))
		for _, pos := range group.positions {
			c := &chunks[pos]
			if e, ok := stored[c.ID]; ok && c.ID != 0 && e.ContentHash == c.ContentHash && len(e.Vector) > 0 {
				entries[pos] = semantic.Entry{ChunkIndex: pos, Space: e.Space, Vector: e.Vector}
				stats.EmbeddingsReused++
				continue
			}
			pending = append(pending, pos)
		}
		if len(pending) == 0 {
			continue
		}

		g.Go(func() error {
			texts := make([]string, len(pending))
			for i, pos := range pending {
				texts[i] = chunks[pos].Text
			}

			embs, err := b.embedder.EmbedBatch(gctx, texts, group.topic)
			if err != nil {
				return fmt.Errorf("failed to embed %s chunks: %w", group.topic, err)
			}
			if len(embs) != len(pending) {
				return fmt.Errorf("%w: %s batch returned %d of %d vectors",
					types.ErrFatalEncoderFailure, group.topic, len(embs), len(pending))
			}

			mu.Lock()
			defer mu.Unlock()
			for i, pos := range pending {
				emb := embs[i]
				entries[pos] = semantic.Entry{ChunkIndex: pos, Space: emb.Space(), Vector: emb.Vector}
				stats.EmbeddingsCreated++
				if emb.Fallback {
					stats.Fallbacks++
				}
				if chunks[pos].ID != 0 {
					created = append(created, &storage.Embedding{
						ChunkID:     chunks[pos].ID,
						Space:       emb.Space(),
						Provider:    emb.Provider,
						Model:       emb.Model,
						Topic:       string(emb.Topic),
						Vector:      emb.Vector,
						ContentHash: chunks[pos].ContentHash,
					})
				}
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	b.persist(ctx, created)
	return entries, nil
}

// groupByTopic classifies chunks and returns the groups in topic order
func (b *Builder) groupByTopic(chunks []types.Chunk, stats *Statistics) []*topicGroup {
	byTopic := make(map[embedder.Topic]*topicGroup)
	for i := range chunks {
		topic := b.embedder.Classify(chunks[i].Text)
		g, ok := byTopic[topic]
		if !ok {
			g = &topicGroup{topic: topic, space: b.embedder.SpaceFor(topic)}
			byTopic[topic] = g
		}
		g.positions = append(g.positions, i)
		stats.Topics[topic]++
	}

	groups := make([]*topicGroup, 0, len(byTopic))
	for _, g := range byTopic {
		groups = append(groups, g)
	}
	sort.Slice(groups, func(i, j int) bool { return groups[i].topic < groups[j].topic })
	return groups
}

// storedVectors loads persisted vectors for space. A read failure only
// costs re-embedding, so it is logged and treated as empty.
func (b *Builder) storedVectors(ctx context.Context, space string) map[int64]*storage.Embedding {
	if b.store == nil {
		return nil
	}
	stored, err := b.store.ListEmbeddings(ctx, space)
	if err != nil {
		b.logger.Warn("failed to load stored embeddings", "space", space, "error", err)
		return nil
	}
	return stored
}

func (b *Builder) persist(ctx context.Context, created []*storage.Embedding) {
	if b.store == nil || len(created) == 0 {
		return
	}
	sort.Slice(created, func(i, j int) bool { return created[i].ChunkID < created[j].ChunkID })
	if err := b.store.UpsertEmbeddings(ctx, created); err != nil {
		b.logger.Warn("failed to persist embeddings", "count", len(created), "error", err)
	}
}
