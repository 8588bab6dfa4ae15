package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/repolab/repotutor/internal/docs"
	"github.com/repolab/repotutor/internal/search"
	"github.com/repolab/repotutor/pkg/types"
)

// MCP error codes
const (
	ErrorCodeInvalidParams  = -32602 // Invalid method parameters
	ErrorCodeInternalError  = -32603 // Internal JSON-RPC error
	ErrorCodeInvalidSource  = -32001 // Repository reference could not be parsed
	ErrorCodeNotReady       = -32002 // Repository has not reached the required state
	ErrorCodeNotFound       = -32003 // Repository, job, or session absent
	ErrorCodeSessionExpired = -32004 // Tutor session past its TTL
	ErrorCodeTooLarge       = -32005 // Repository exceeds the size ceiling
)

func (s *Server) handleIngestRepository(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}

	url, ok := args["url"].(string)
	if !ok || url == "" {
		return nil, missingParam("url")
	}
	force, _ := args["force"].(bool)

	repo, job, err := s.deps.Ingest.Ingest(ctx, url, force)
	if err != nil {
		return nil, domainError(err)
	}

	return mcp.NewToolResultText(formatJSON(map[string]interface{}{
		"repo_id": repo.ID,
		"owner":   repo.Owner,
		"name":    repo.Name,
		"status":  string(repo.Status),
		"job":     jobSummary(job),
	})), nil
}

func (s *Server) handleRepositoryStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	repoID, err := requiredString(request, "repo_id")
	if err != nil {
		return nil, err
	}

	repo, err := s.deps.Storage.GetRepository(ctx, repoID)
	if err != nil {
		return nil, domainError(err)
	}

	response := map[string]interface{}{
		"repo_id":          repo.ID,
		"url":              repo.RepoURL,
		"owner":            repo.Owner,
		"name":             repo.Name,
		"status":           string(repo.Status),
		"primary_language": repo.PrimaryLanguage,
		"commit":           repo.CommitHash,
		"statistics": map[string]interface{}{
			"total_files":      repo.TotalFiles,
			"total_size_bytes": repo.TotalSizeBytes,
			"total_chunks":     repo.TotalChunks,
		},
		"created_at": repo.CreatedAt.Format(time.RFC3339),
		"updated_at": repo.UpdatedAt.Format(time.RFC3339),
	}
	if repo.ErrorMessage != "" {
		response["error_message"] = repo.ErrorMessage
	}
	return mcp.NewToolResultText(formatJSON(response)), nil
}

func (s *Server) handleIndexRepository(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	repoID, err := requiredString(request, "repo_id")
	if err != nil {
		return nil, err
	}
	args, _ := request.Params.Arguments.(map[string]interface{})
	force, _ := args["force"].(bool)

	job, err := s.deps.Indexer.Request(ctx, repoID, force)
	if err != nil {
		return nil, domainError(err)
	}
	return mcp.NewToolResultText(formatJSON(map[string]interface{}{
		"repo_id": repoID,
		"job":     jobSummary(job),
	})), nil
}

func (s *Server) handleSearchCode(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}

	repoID, ok := args["repo_id"].(string)
	if !ok || repoID == "" {
		return nil, missingParam("repo_id")
	}
	query, ok := args["query"].(string)
	if !ok || query == "" {
		return nil, missingParam("query")
	}

	limit := getIntDefault(args, "limit", 10)
	if limit < 1 || limit > 100 {
		return nil, newMCPError(ErrorCodeInvalidParams, "limit must be between 1 and 100", map[string]interface{}{
			"param": "limit",
			"value": limit,
		})
	}
	offset := getIntDefault(args, "offset", 0)
	if offset < 0 {
		return nil, newMCPError(ErrorCodeInvalidParams, "offset must not be negative", map[string]interface{}{
			"param": "offset",
			"value": offset,
		})
	}

	opts := search.Options{
		Limit:      limit,
		Offset:     offset,
		FileFilter: getStringDefault(args, "file_filter", ""),
	}
	if minScore, ok := args["min_score"].(float64); ok {
		opts.MinScore = float32(minScore)
	} else {
		opts.MinScore = float32(s.deps.Config.SimilarityThreshold)
	}

	resp, err := s.deps.Search.Search(ctx, repoID, query, opts)
	if err != nil {
		return nil, domainError(err)
	}
	s.deps.Metrics.Searches.Inc()

	results := make([]map[string]interface{}, len(resp.Results))
	for i, r := range resp.Results {
		entry := map[string]interface{}{
			"chunk_id":   r.ChunkID,
			"file_path":  r.FilePath,
			"start_line": r.StartLine,
			"end_line":   r.EndLine,
			"score":      r.Score,
			"content":    r.Content,
		}
		if r.SymbolName != "" {
			entry["symbol_name"] = r.SymbolName
			entry["symbol_type"] = r.SymbolType
		}
		if r.Language != "" {
			entry["language"] = r.Language
		}
		results[i] = entry
	}

	return mcp.NewToolResultText(formatJSON(map[string]interface{}{
		"results": results,
		"total":   resp.Total,
		"limit":   resp.Limit,
		"offset":  resp.Offset,
	})), nil
}

func (s *Server) handleCreateTutorSession(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	repoID, err := requiredString(request, "repo_id")
	if err != nil {
		return nil, err
	}
	args, _ := request.Params.Arguments.(map[string]interface{})
	focus := getStringDefault(args, "focus", "")

	session, err := s.deps.Tutor.CreateSession(ctx, repoID, focus)
	if err != nil {
		return nil, domainError(err)
	}
	return mcp.NewToolResultText(formatJSON(map[string]interface{}{
		"session_id":   session.ID,
		"repo_id":      session.RepoID,
		"repo_context": session.RepoContextSummary,
	})), nil
}

func (s *Server) handleAskTutor(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}

	sessionID, ok := args["session_id"].(string)
	if !ok || sessionID == "" {
		return nil, missingParam("session_id")
	}
	question, ok := args["question"].(string)
	if !ok || question == "" {
		return nil, missingParam("question")
	}

	answer, err := s.deps.Tutor.Ask(ctx, sessionID, question)
	if err != nil {
		return nil, domainError(err)
	}
	if answer.Answered {
		s.deps.Metrics.TutorAnswered.Inc()
	} else {
		s.deps.Metrics.TutorRefused.Inc()
	}

	refs := make([]map[string]interface{}, len(answer.References))
	for i, ref := range answer.References {
		entry := map[string]interface{}{
			"file":  ref.File,
			"lines": ref.Lines,
		}
		if ref.Symbol != "" {
			entry["symbol"] = ref.Symbol
		}
		refs[i] = entry
	}

	return mcp.NewToolResultText(formatJSON(map[string]interface{}{
		"session_id": answer.SessionID,
		"answer":     answer.Answer,
		"references": refs,
		"confidence": answer.Confidence,
		"answered":   answer.Answered,
	})), nil
}

func (s *Server) handleGenerateDocs(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	repoID, err := requiredString(request, "repo_id")
	if err != nil {
		return nil, err
	}

	job, err := s.deps.Docs.Request(ctx, repoID)
	if err != nil {
		return nil, domainError(err)
	}
	return mcp.NewToolResultText(formatJSON(map[string]interface{}{
		"repo_id": repoID,
		"job":     jobSummary(job),
	})), nil
}

func (s *Server) handleGetDocs(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}

	repoID, ok := args["repo_id"].(string)
	if !ok || repoID == "" {
		return nil, missingParam("repo_id")
	}
	kind, ok := args["kind"].(string)
	if !ok || kind == "" {
		return nil, missingParam("kind")
	}
	if kind != string(docs.KindReadme) && kind != string(docs.KindArchitecture) {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid kind", map[string]interface{}{
			"param":   "kind",
			"value":   kind,
			"allowed": []string{string(docs.KindReadme), string(docs.KindArchitecture)},
		})
	}

	content, err := s.deps.Docs.Get(ctx, repoID, docs.Kind(kind))
	if err != nil {
		return nil, domainError(err)
	}
	return mcp.NewToolResultText(formatJSON(map[string]interface{}{
		"repo_id": repoID,
		"kind":    kind,
		"content": content,
	})), nil
}

func (s *Server) handleJobStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	jobID, err := requiredString(request, "job_id")
	if err != nil {
		return nil, err
	}

	job, err := s.deps.Jobs.Get(ctx, jobID)
	if err != nil {
		return nil, domainError(err)
	}
	return mcp.NewToolResultText(formatJSON(jobSummary(job))), nil
}

func (s *Server) handleListJobs(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	repoID, err := requiredString(request, "repo_id")
	if err != nil {
		return nil, err
	}
	args, _ := request.Params.Arguments.(map[string]interface{})
	limit := getIntDefault(args, "limit", 20)
	if limit < 1 || limit > 100 {
		return nil, newMCPError(ErrorCodeInvalidParams, "limit must be between 1 and 100", map[string]interface{}{
			"param": "limit",
			"value": limit,
		})
	}

	jobList, err := s.deps.Jobs.ListForRepo(ctx, repoID, limit)
	if err != nil {
		return nil, domainError(err)
	}

	summaries := make([]map[string]interface{}, len(jobList))
	for i, job := range jobList {
		summaries[i] = jobSummary(job)
	}
	return mcp.NewToolResultText(formatJSON(map[string]interface{}{
		"repo_id": repoID,
		"jobs":    summaries,
	})), nil
}

func (s *Server) handleDeleteRepository(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	repoID, err := requiredString(request, "repo_id")
	if err != nil {
		return nil, err
	}

	// Relational rows cascade from the repository; the clone directory and
	// index artifact are removed explicitly.
	if err := s.deps.Storage.DeleteRepository(ctx, repoID); err != nil {
		return nil, domainError(err)
	}
	if err := s.deps.Fetcher.Delete(repoID); err != nil {
		s.deps.Log.Warn("failed to remove clone directory", "repo_id", repoID, "error", err)
	}
	if err := s.deps.IndexStore.Delete(repoID); err != nil {
		s.deps.Log.Warn("failed to remove index artifacts", "repo_id", repoID, "error", err)
	}

	return mcp.NewToolResultText(formatJSON(map[string]interface{}{
		"repo_id": repoID,
		"deleted": true,
	})), nil
}

// Helper functions

func jobSummary(job *types.Job) map[string]interface{} {
	summary := map[string]interface{}{
		"job_id":   job.ID,
		"repo_id":  job.RepoID,
		"type":     string(job.Type),
		"status":   string(job.Status),
		"progress": job.Progress,
		"attempt":  job.Attempt,
	}
	if job.ErrorMessage != "" {
		summary["error_message"] = job.ErrorMessage
	}
	return summary
}

// domainError translates service errors into stable MCP error codes.
func domainError(err error) error {
	var (
		invalidSource  *types.InvalidSourceError
		notReady       *types.NotReadyError
		sessionExpired *types.SessionExpiredError
		tooLarge       *types.TooLargeError
	)
	switch {
	case errors.As(err, &invalidSource):
		return newMCPError(ErrorCodeInvalidSource, err.Error(), nil)
	case errors.As(err, &notReady):
		return newMCPError(ErrorCodeNotReady, err.Error(), map[string]interface{}{
			"current":  string(notReady.Current),
			"required": string(notReady.Required),
		})
	case errors.As(err, &sessionExpired):
		return newMCPError(ErrorCodeSessionExpired, err.Error(), nil)
	case errors.As(err, &tooLarge):
		return newMCPError(ErrorCodeTooLarge, err.Error(), nil)
	case errors.Is(err, types.ErrNotFound):
		return newMCPError(ErrorCodeNotFound, err.Error(), nil)
	default:
		return newMCPError(ErrorCodeInternalError, err.Error(), nil)
	}
}

func requiredString(request mcp.CallToolRequest, key string) (string, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return "", newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}
	value, ok := args[key].(string)
	if !ok || value == "" {
		return "", missingParam(key)
	}
	return value, nil
}

func missingParam(name string) error {
	return newMCPError(ErrorCodeInvalidParams, name+" parameter is required", map[string]interface{}{
		"param":  name,
		"reason": "missing or empty",
	})
}

// newMCPError creates a properly formatted MCP error
func newMCPError(code int, message string, data interface{}) error {
	return &MCPError{
		Code:    code,
		Message: message,
		Data:    data,
	}
}

// MCPError represents an MCP protocol error
type MCPError struct {
	Code    int
	Message string
	Data    interface{}
}

func (e *MCPError) Error() string {
	return fmt.Sprintf("MCP error %d: %s", e.Code, e.Message)
}

// formatJSON formats a value as indented JSON
func formatJSON(data interface{}) string {
	bytes, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", data)
	}
	return string(bytes)
}

// getIntDefault extracts an integer parameter with a default value
func getIntDefault(args map[string]interface{}, key string, defaultValue int) int {
	if val, ok := args[key].(float64); ok {
		return int(val)
	}
	if val, ok := args[key].(int); ok {
		return val
	}
	return defaultValue
}

// getStringDefault extracts a string parameter with a default value
func getStringDefault(args map[string]interface{}, key string, defaultValue string) string {
	if val, ok := args[key].(string); ok {
		return val
	}
	return defaultValue
}
