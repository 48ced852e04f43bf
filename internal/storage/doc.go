// Package storage provides SQLite-based persistence for the knowledge base.
//
// The storage layer manages:
//   - Ingested documents and their content hashes
//   - Chunks with JSON-encoded metadata
//   - Chunk vectors, one row per chunk and encoder space
//   - An append-only search log
//
// # Database Schema
//
// Tables:
//   - documents: Source path, format, SHA-256 hash, chunk count
//   - chunks: Chunk text, position and metadata, cascading from documents
//   - embeddings: Vectors keyed by (chunk_id, space), cascading from chunks
//   - search_log: Executed searches with the returned chunk IDs
//   - schema_version: Applied migrations
//
// Migrations are versioned with semantic versions and applied on open.
//
// # Basic Usage
//
//	db, err := storage.NewSQLiteStorage("~/.finrag/knowledge.db")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer db.Close()
//
//	doc := &storage.Document{Source: "basel.md", Format: "md"}
//	if err := db.UpsertDocument(ctx, doc); err != nil {
//	    return err
//	}
//	err = db.ReplaceChunks(ctx, doc.ID, chunks)
//
// # Transactions
//
// Use transactions to replace a document and its chunks atomically:
//
//	tx, err := db.BeginTx(ctx)
//	if err != nil {
//	    return err
//	}
//	defer tx.Rollback()
//
//	_ = tx.UpsertDocument(ctx, doc)
//	_ = tx.ReplaceChunks(ctx, doc.ID, chunks)
//	return tx.Commit()
//
// # Build Modes
//
// The default build uses modernc.org/sqlite (pure Go). Building with the
// sqlite_cgo tag switches to github.com/mattn/go-sqlite3.
package storage
