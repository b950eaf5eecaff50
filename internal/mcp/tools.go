package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/dshills/repoqa/internal/orchestrator"
)

// MCP error codes
const (
	ErrorCodeInvalidParams = -32602 // Invalid method parameters
	ErrorCodeInternalError = -32603 // Internal JSON-RPC error
	ErrorCodeEmptyQuery    = -32004 // Query parameter is empty
)

// failable is implemented by every orchestrator result through the
// embedded types.Record.
type failable interface {
	Failed() bool
}

// handleLoadRepo handles the load_repo tool invocation
func (s *Server) handleLoadRepo(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	source := strings.TrimSpace(request.GetString("source", ""))
	if source == "" {
		return nil, newMCPError(ErrorCodeInvalidParams, "source parameter is required", map[string]interface{}{
			"param":  "source",
			"reason": "missing or empty",
		})
	}
	return toolResult(s.orch.LoadRepo(ctx, source, request.GetString("ref", "")))
}

func (s *Server) handleIngestRepo(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return toolResult(s.orch.Ingest(ctx))
}

func (s *Server) handleSizeAndDecide(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return toolResult(s.orch.SizeAndDecide(ctx))
}

func (s *Server) handleBuildIndex(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return toolResult(s.orch.Index(ctx))
}

// handleAskRepo handles the ask_repo tool invocation
func (s *Server) handleAskRepo(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query, k, err := queryAndK(request, orchestrator.DefaultK)
	if err != nil {
		return nil, err
	}
	return toolResult(s.orch.Ask(ctx, query, k, request.GetBool("write_docs", false)))
}

func (s *Server) handleCollectEvidence(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query, k, err := queryAndK(request, DefaultEvidence)
	if err != nil {
		return nil, err
	}
	return toolResult(s.orch.CollectEvidence(ctx, query, k))
}

func (s *Server) handleRepoSynopsis(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return toolResult(s.orch.RepoSynopsis(ctx))
}

// handleAssembleEvidence handles the assemble_evidence tool invocation
func (s *Server) handleAssembleEvidence(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query, k, err := queryAndK(request, DefaultEvidence)
	if err != nil {
		return nil, err
	}
	return toolResult(s.orch.AssembleEvidence(ctx, query, k))
}

func (s *Server) handleDropSession(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return toolResult(s.orch.Drop(ctx))
}

// handleGetStatus handles the get_status tool invocation
func (s *Server) handleGetStatus(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	response := map[string]interface{}{
		"session_id": s.orch.SessionID(),
		"state":      s.orch.State().String(),
	}
	if cm := s.orch.CodeMap(); cm != nil {
		response["repo"] = cm.Repo
		response["commit"] = cm.Commit
		response["files_count"] = len(cm.Files)
		response["symbols_count"] = len(cm.SymbolIndex)
	}
	if d := s.orch.Decision(); d != nil {
		response["decision"] = d
	}
	return mcp.NewToolResultText(formatJSON(response)), nil
}

// Helper functions

// queryAndK extracts the required query and the optional k parameter.
func queryAndK(request mcp.CallToolRequest, defaultK int) (string, int, error) {
	query := strings.TrimSpace(request.GetString("query", ""))
	if query == "" {
		return "", 0, newMCPError(ErrorCodeEmptyQuery, "query parameter is required and cannot be empty", map[string]interface{}{
			"param":  "query",
			"reason": "missing or empty",
		})
	}
	k := request.GetInt("k", defaultK)
	if k < MinK || k > MaxK {
		return "", 0, newMCPError(ErrorCodeInvalidParams, fmt.Sprintf("k must be between %d and %d", MinK, MaxK), map[string]interface{}{
			"param": "k",
			"value": k,
		})
	}
	return query, k, nil
}

// toolResult encodes an orchestrator result as JSON text. A failed
// record is still a tool result; its status log explains the failure.
func toolResult(res failable) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		return nil, newMCPError(ErrorCodeInternalError, "failed to encode result", map[string]interface{}{
			"error": err.Error(),
		})
	}
	out := mcp.NewToolResultText(string(data))
	out.IsError = res.Failed()
	return out, nil
}

// newMCPError creates a properly formatted MCP error
func newMCPError(code int, message string, data interface{}) error {
	// MCP errors are returned as regular errors, the framework handles encoding
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

// formatJSON formats a map as indented JSON
func formatJSON(data map[string]interface{}) string {
	bytes, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", data)
	}
	return string(bytes)
}
