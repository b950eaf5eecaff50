package mcp

import (
	"github.com/mark3labs/mcp-go/mcp"
)

// Tool names.
const (
	ToolLoadRepo         = "load_repo"
	ToolIngestRepo       = "ingest_repo"
	ToolSizeAndDecide    = "size_and_decide"
	ToolBuildIndex       = "build_index"
	ToolAskRepo          = "ask_repo"
	ToolCollectEvidence  = "collect_evidence"
	ToolRepoSynopsis     = "repo_synopsis"
	ToolAssembleEvidence = "assemble_evidence"
	ToolDropSession      = "drop_session"
	ToolGetStatus        = "get_status"
)

// Bounds for the k parameter.
const (
	MinK            = 1
	MaxK            = 200
	DefaultEvidence = 20
)

func noArgs() mcp.ToolInputSchema {
	return mcp.ToolInputSchema{Type: "object", Properties: map[string]interface{}{}}
}

func kProperty(def int) map[string]interface{} {
	return map[string]interface{}{
		"type":        "integer",
		"description": "Number of passages to retrieve",
		"default":     def,
		"minimum":     MinK,
		"maximum":     MaxK,
	}
}

func queryProperty() map[string]interface{} {
	return map[string]interface{}{
		"type":        "string",
		"description": "Question or search query about the repository",
	}
}

// loadRepoTool returns the tool definition for load_repo
func loadRepoTool() mcp.Tool {
	return mcp.Tool{
		Name:        ToolLoadRepo,
		Description: "Point the session at a local directory or clone a git URL",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"source": map[string]interface{}{
					"type":        "string",
					"description": "Local path, https/ssh git URL or file:// URL",
				},
				"ref": map[string]interface{}{
					"type":        "string",
					"description": "Optional branch, tag or commit to check out after cloning",
				},
			},
			Required: []string{"source"},
		},
	}
}

func ingestRepoTool() mcp.Tool {
	return mcp.Tool{
		Name:        ToolIngestRepo,
		Description: "Enumerate and chunk the repository files",
		InputSchema: noArgs(),
	}
}

func sizeAndDecideTool() mcp.Tool {
	return mcp.Tool{
		Name:        ToolSizeAndDecide,
		Description: "Measure the repository and decide whether to use embeddings and which vector backend",
		InputSchema: noArgs(),
	}
}

func buildIndexTool() mcp.Tool {
	return mcp.Tool{
		Name:        ToolBuildIndex,
		Description: "Build the hybrid BM25 and vector index for the session",
		InputSchema: noArgs(),
	}
}

// askRepoTool returns the tool definition for ask_repo
func askRepoTool() mcp.Tool {
	return mcp.Tool{
		Name:        ToolAskRepo,
		Description: "Answer a question about the repository with cited sources",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"query": queryProperty(),
				"k":     kProperty(50),
				"write_docs": map[string]interface{}{
					"type":        "boolean",
					"description": "If true, also write the answer to docs/generated/<slug>.md",
					"default":     false,
				},
			},
			Required: []string{"query"},
		},
	}
}

func collectEvidenceTool() mcp.Tool {
	return mcp.Tool{
		Name:        ToolCollectEvidence,
		Description: "Return a bounded doc pack of the code excerpts most relevant to a query",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"query": queryProperty(),
				"k":     kProperty(DefaultEvidence),
			},
			Required: []string{"query"},
		},
	}
}

func repoSynopsisTool() mcp.Tool {
	return mcp.Tool{
		Name:        ToolRepoSynopsis,
		Description: "Collect overview evidence: readme, entry points, routes and dependencies",
		InputSchema: noArgs(),
	}
}

// assembleEvidenceTool returns the tool definition for assemble_evidence
func assembleEvidenceTool() mcp.Tool {
	return mcp.Tool{
		Name:        ToolAssembleEvidence,
		Description: "Run several targeted probes for a question and synthesize a categorized evidence report",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"query": queryProperty(),
				"k":     kProperty(DefaultEvidence),
			},
			Required: []string{"query"},
		},
	}
}

func dropSessionTool() mcp.Tool {
	return mcp.Tool{
		Name:        ToolDropSession,
		Description: "Release the session's index; the next query re-indexes",
		InputSchema: noArgs(),
	}
}

// getStatusTool returns the tool definition for get_status
func getStatusTool() mcp.Tool {
	return mcp.Tool{
		Name:        ToolGetStatus,
		Description: "Report the pipeline stage, repository and sizing decision for the session",
		InputSchema: noArgs(),
	}
}
