// Package mcp implements the Model Context Protocol (MCP) server for finrag.
//
// The server exposes four tools to MCP clients:
//   - search_knowledge: Hybrid semantic and lexical search over the knowledge base
//   - rebuild_index: Rebuild both indices from the stored chunks
//   - ingest_documents: Load markdown, text and PDF documents
//   - get_status: Report knowledge base and index statistics
//
// # Protocol Overview
//
// MCP is a JSON-RPC 2.0 protocol over stdio transport. The server reads
// requests from stdin and writes responses to stdout, so all logging goes
// to stderr.
//
//	finrag serve
//
// # Tool: search_knowledge
//
//	Request:
//	{
//	  "name": "search_knowledge",
//	  "arguments": {
//	    "query": "Basel capital ratio",
//	    "top_k": 5,
//	    "mode": "hybrid",
//	    "semantic_weight": 0.7,
//	    "lexical_weight": 0.3
//	  }
//	}
//
//	Response:
//	{
//	  "results": [
//	    {
//	      "rank": 1,
//	      "source": "/docs/basel.md",
//	      "text": "Basel III capital requirements ...",
//	      "score": 0.81,
//	      "search_type": "hybrid",
//	      "scores": {"semantic": 0.74, "lexical": 0.97, "combined": 0.81}
//	    }
//	  ],
//	  "total_results": 1,
//	  "reranked": false,
//	  "cache_hit": false,
//	  "generation": 4
//	}
//
// The score is the rerank score when re-ranking applied, else the
// combined fusion score. A search before any index is built returns no
// results and a message.
//
// # Tool: ingest_documents
//
// Takes an absolute path to a file or directory. Unchanged documents are
// skipped. Unless "rebuild" is false the indices are rebuilt afterwards; a
// failed rebuild is reported in "rebuild_error" without failing the call.
//
// # Error Codes
//
//	-32602  Invalid parameters (including InvalidArgument from the engine)
//	-32603  Internal error
//	-32002  Index rebuild already in progress
//	-32004  Empty query
//	-32005  General-purpose encoder failed
//	-32006  Tool backend not configured
package mcp
