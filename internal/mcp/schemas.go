package mcp

import (
	"github.com/mark3labs/mcp-go/mcp"
)

func ingestRepositoryTool() mcp.Tool {
	return mcp.Tool{
		Name:        "ingest_repository",
		Description: "Register a GitHub repository and queue its ingestion (clone + structure analysis)",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"url": map[string]interface{}{
					"type":        "string",
					"description": "GitHub repository URL (https or ssh form)",
				},
				"force": map[string]interface{}{
					"type":        "boolean",
					"description": "If true, discard derived data and re-ingest an already-registered repository",
					"default":     false,
				},
			},
			Required: []string{"url"},
		},
	}
}

func repositoryStatusTool() mcp.Tool {
	return mcp.Tool{
		Name:        "repository_status",
		Description: "Return a repository's lifecycle state and statistics",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"repo_id": map[string]interface{}{
					"type":        "string",
					"description": "Repository identifier returned by ingest_repository",
				},
			},
			Required: []string{"repo_id"},
		},
	}
}

func indexRepositoryTool() mcp.Tool {
	return mcp.Tool{
		Name:        "index_repository",
		Description: "Queue chunking and embedding for a structured repository",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"repo_id": map[string]interface{}{
					"type":        "string",
					"description": "Repository identifier",
				},
				"force": map[string]interface{}{
					"type":        "boolean",
					"description": "If true, re-index a repository that already has an index generation",
					"default":     false,
				},
			},
			Required: []string{"repo_id"},
		},
	}
}

func searchCodeTool() mcp.Tool {
	return mcp.Tool{
		Name:        "search_code",
		Description: "Semantic search over an indexed repository's code chunks",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"repo_id": map[string]interface{}{
					"type":        "string",
					"description": "Repository identifier",
				},
				"query": map[string]interface{}{
					"type":        "string",
					"description": "Natural language or keyword query",
				},
				"limit": map[string]interface{}{
					"type":        "integer",
					"description": "Maximum number of results to return (1-100)",
					"default":     10,
					"minimum":     1,
					"maximum":     100,
				},
				"offset": map[string]interface{}{
					"type":        "integer",
					"description": "Number of results to skip for pagination",
					"default":     0,
					"minimum":     0,
				},
				"min_score": map[string]interface{}{
					"type":        "number",
					"description": "Minimum similarity score threshold (0.0-1.0)",
					"minimum":     0.0,
					"maximum":     1.0,
				},
				"file_filter": map[string]interface{}{
					"type":        "string",
					"description": "Glob pattern for chunk file paths (e.g. 'internal/*.go')",
				},
			},
			Required: []string{"repo_id", "query"},
		},
	}
}

func createTutorSessionTool() mcp.Tool {
	return mcp.Tool{
		Name:        "create_tutor_session",
		Description: "Open a grounded Q&A session on an indexed repository",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"repo_id": map[string]interface{}{
					"type":        "string",
					"description": "Repository identifier",
				},
				"focus": map[string]interface{}{
					"type":        "string",
					"description": "Optional topic to frame the session around",
				},
			},
			Required: []string{"repo_id"},
		},
	}
}

func askTutorTool() mcp.Tool {
	return mcp.Tool{
		Name:        "ask_tutor",
		Description: "Ask a question in a tutor session; answers cite repository code or refuse",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"session_id": map[string]interface{}{
					"type":        "string",
					"description": "Session identifier from create_tutor_session",
				},
				"question": map[string]interface{}{
					"type":        "string",
					"description": "Question about the repository",
				},
			},
			Required: []string{"session_id", "question"},
		},
	}
}

func generateDocsTool() mcp.Tool {
	return mcp.Tool{
		Name:        "generate_docs",
		Description: "Queue README and architecture generation for an indexed repository",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"repo_id": map[string]interface{}{
					"type":        "string",
					"description": "Repository identifier",
				},
			},
			Required: []string{"repo_id"},
		},
	}
}

func getDocsTool() mcp.Tool {
	return mcp.Tool{
		Name:        "get_docs",
		Description: "Return a generated document for a repository",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"repo_id": map[string]interface{}{
					"type":        "string",
					"description": "Repository identifier",
				},
				"kind": map[string]interface{}{
					"type":        "string",
					"description": "Which document to return",
					"enum":        []string{"readme", "architecture"},
				},
			},
			Required: []string{"repo_id", "kind"},
		},
	}
}

func jobStatusTool() mcp.Tool {
	return mcp.Tool{
		Name:        "job_status",
		Description: "Return a job's status and progress",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"job_id": map[string]interface{}{
					"type":        "string",
					"description": "Job identifier",
				},
			},
			Required: []string{"job_id"},
		},
	}
}

func listJobsTool() mcp.Tool {
	return mcp.Tool{
		Name:        "list_jobs",
		Description: "List a repository's jobs, newest first",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"repo_id": map[string]interface{}{
					"type":        "string",
					"description": "Repository identifier",
				},
				"limit": map[string]interface{}{
					"type":        "integer",
					"description": "Maximum number of jobs to return",
					"default":     20,
					"minimum":     1,
					"maximum":     100,
				},
			},
			Required: []string{"repo_id"},
		},
	}
}

func deleteRepositoryTool() mcp.Tool {
	return mcp.Tool{
		Name:        "delete_repository",
		Description: "Remove a repository, its jobs, chunks, sessions, clone directory, and index artifacts",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"repo_id": map[string]interface{}{
					"type":        "string",
					"description": "Repository identifier",
				},
			},
			Required: []string{"repo_id"},
		},
	}
}
