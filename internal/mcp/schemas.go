package mcp

import (
	"github.com/mark3labs/mcp-go/mcp"
)

// searchKnowledgeTool returns the tool definition for search_knowledge
func searchKnowledgeTool() mcp.Tool {
	return mcp.Tool{
		Name:        "search_knowledge",
		Description: "Search the finance and actuarial knowledge base with hybrid semantic and keyword retrieval",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"query": map[string]interface{}{
					"type":        "string",
					"description": "Search query (natural language or keywords)",
				},
				"top_k": map[string]interface{}{
					"type":        "integer",
					"description": "Maximum number of results to return (1-100)",
					"default":     DefaultTopK,
					"minimum":     1,
					"maximum":     100,
				},
				"mode": map[string]interface{}{
					"type":        "string",
					"description": "Search strategy: hybrid (semantic + lexical), semantic (embeddings only), or lexical (TF-IDF only)",
					"enum":        []string{"hybrid", "semantic", "lexical"},
					"default":     "hybrid",
				},
				"semantic_weight": map[string]interface{}{
					"type":        "number",
					"description": "Weight of the semantic score in hybrid mode",
					"default":     0.7,
					"minimum":     0.0,
				},
				"lexical_weight": map[string]interface{}{
					"type":        "number",
					"description": "Weight of the lexical score in hybrid mode",
					"default":     0.3,
					"minimum":     0.0,
				},
				"use_cache": map[string]interface{}{
					"type":        "boolean",
					"description": "If false, bypass the query result cache",
					"default":     true,
				},
			},
			Required: []string{"query"},
		},
	}
}

// rebuildIndexTool returns the tool definition for rebuild_index
func rebuildIndexTool() mcp.Tool {
	return mcp.Tool{
		Name:        "rebuild_index",
		Description: "Rebuild the semantic and lexical indices from the knowledge base",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]interface{}{},
		},
	}
}

// ingestDocumentsTool returns the tool definition for ingest_documents
func ingestDocumentsTool() mcp.Tool {
	return mcp.Tool{
		Name:        "ingest_documents",
		Description: "Load markdown, text and PDF documents into the knowledge base",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"path": map[string]interface{}{
					"type":        "string",
					"description": "Absolute path to a document or a directory of documents",
				},
				"rebuild": map[string]interface{}{
					"type":        "boolean",
					"description": "If true, rebuild the indices after ingesting",
					"default":     true,
				},
			},
			Required: []string{"path"},
		},
	}
}

// getStatusTool returns the tool definition for get_status
func getStatusTool() mcp.Tool {
	return mcp.Tool{
		Name:        "get_status",
		Description: "Report knowledge base and index statistics",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]interface{}{},
		},
	}
}
