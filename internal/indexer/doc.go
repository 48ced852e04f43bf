// Package indexer builds immutable search snapshots from the knowledge base.
//
// A build reads every chunk once, embeds it with the encoder for its
// classified topic and fits the lexical vocabulary over the same chunk
// sequence, so both indices agree on chunk positions.
//
// # Basic Usage
//
//	b, err := indexer.New(db, router,
//	    indexer.WithEmbeddingStore(db),
//	    indexer.WithLogger(logger),
//	)
//
//	snap, err := b.Build(ctx)
//	fmt.Printf("Indexed %d chunks in %v\n", snap.Stats.Chunks, snap.Stats.Duration)
//
// # Incremental Embedding
//
// With an EmbeddingStore configured, vectors are persisted per chunk and
// encoder space. A later build reuses a stored vector when the chunk's
// SHA-256 content hash is unchanged, so only new or edited chunks reach
// the encoder. The lexical index is always refit in full.
//
// # Concurrency
//
// Topic groups are embedded concurrently with a bounded errgroup. Builds
// are exclusive: a second Build while one is running returns
// ErrRebuildInProgress. Snapshots are never mutated after Build returns.
package indexer
