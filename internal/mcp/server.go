package mcp

import (
	"context"
	"log/slog"

	"github.com/mark3labs/mcp-go/server"

	"github.com/repolab/repotutor/internal/config"
	"github.com/repolab/repotutor/internal/docs"
	"github.com/repolab/repotutor/internal/fetcher"
	"github.com/repolab/repotutor/internal/indexer"
	"github.com/repolab/repotutor/internal/ingest"
	"github.com/repolab/repotutor/internal/jobs"
	"github.com/repolab/repotutor/internal/metrics"
	"github.com/repolab/repotutor/internal/search"
	"github.com/repolab/repotutor/internal/storage"
	"github.com/repolab/repotutor/internal/tutor"
	"github.com/repolab/repotutor/internal/vectorindex"
)

const (
	// ServerName is the MCP server name
	ServerName = "repotutor"
	// ServerVersion is the current server version
	ServerVersion = "1.0.0"
)

// Deps carries the services the tool handlers dispatch to.
type Deps struct {
	Storage    storage.Storage
	Ingest     *ingest.Service
	Indexer    *indexer.Service
	Search     *search.Service
	Tutor      *tutor.Service
	Docs       *docs.Service
	Jobs       *jobs.Service
	Fetcher    *fetcher.Fetcher
	IndexStore *vectorindex.Store
	Metrics    *metrics.Metrics
	Config     *config.Config
	Log        *slog.Logger
}

// Server exposes the repository pipeline as MCP tools over stdio.
type Server struct {
	mcp  *server.MCPServer
	deps Deps
}

// NewServer creates the MCP server and registers all tools.
func NewServer(deps Deps) *Server {
	s := &Server{
		mcp:  server.NewMCPServer(ServerName, ServerVersion),
		deps: deps,
	}
	s.registerTools()
	return s
}

// Serve runs the server on stdio and blocks until the transport closes.
func (s *Server) Serve(ctx context.Context) error {
	return server.ServeStdio(s.mcp)
}

func (s *Server) registerTools() {
	s.mcp.AddTool(ingestRepositoryTool(), s.handleIngestRepository)
	s.mcp.AddTool(repositoryStatusTool(), s.handleRepositoryStatus)
	s.mcp.AddTool(indexRepositoryTool(), s.handleIndexRepository)
	s.mcp.AddTool(searchCodeTool(), s.handleSearchCode)
	s.mcp.AddTool(createTutorSessionTool(), s.handleCreateTutorSession)
	s.mcp.AddTool(askTutorTool(), s.handleAskTutor)
	s.mcp.AddTool(generateDocsTool(), s.handleGenerateDocs)
	s.mcp.AddTool(getDocsTool(), s.handleGetDocs)
	s.mcp.AddTool(jobStatusTool(), s.handleJobStatus)
	s.mcp.AddTool(listJobsTool(), s.handleListJobs)
	s.mcp.AddTool(deleteRepositoryTool(), s.handleDeleteRepository)
}
