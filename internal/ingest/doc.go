// Package ingest loads documents into the knowledge base.
//
// Markdown, plain text and PDF files are read, split into paragraph-packed
// chunks and written with their document record in one transaction. A
// document whose SHA-256 hash matches the stored one is skipped, so
// re-running an ingest over the same tree only touches changed files.
//
// Every chunk carries the metadata keys source, title, chunk_index and
// format.
package ingest
