package mcp

import (
	"context"
	"io"
	"log/slog"

	"github.com/mark3labs/mcp-go/server"

	"github.com/dshills/repoqa/internal/orchestrator"
)

const (
	// ServerName is the MCP server name
	ServerName = "repoqa"
	// ServerVersion is the current server version
	ServerVersion = "0.1.0"
)

// Server wraps the MCP server around one orchestrator session.
type Server struct {
	mcp    *server.MCPServer
	orch   *orchestrator.Orchestrator
	logger *slog.Logger
}

// NewServer creates a new MCP server instance for orch.
func NewServer(orch *orchestrator.Orchestrator, version string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if version == "" {
		version = ServerVersion
	}
	s := &Server{
		mcp:    server.NewMCPServer(ServerName, version, server.WithToolCapabilities(false)),
		orch:   orch,
		logger: logger,
	}
	s.registerTools()
	return s
}

// Serve runs the MCP protocol over in/out until ctx is cancelled or in
// reaches EOF.
func (s *Server) Serve(ctx context.Context, in io.Reader, out io.Writer) error {
	s.logger.Info("mcp server listening on stdio", "session", s.orch.SessionID())
	return server.NewStdioServer(s.mcp).Listen(ctx, in, out)
}

// registerTools registers all MCP tools
func (s *Server) registerTools() {
	s.mcp.AddTool(loadRepoTool(), s.handleLoadRepo)
	s.mcp.AddTool(ingestRepoTool(), s.handleIngestRepo)
	s.mcp.AddTool(sizeAndDecideTool(), s.handleSizeAndDecide)
	s.mcp.AddTool(buildIndexTool(), s.handleBuildIndex)
	s.mcp.AddTool(askRepoTool(), s.handleAskRepo)
	s.mcp.AddTool(collectEvidenceTool(), s.handleCollectEvidence)
	s.mcp.AddTool(repoSynopsisTool(), s.handleRepoSynopsis)
	s.mcp.AddTool(assembleEvidenceTool(), s.handleAssembleEvidence)
	s.mcp.AddTool(dropSessionTool(), s.handleDropSession)
	s.mcp.AddTool(getStatusTool(), s.handleGetStatus)
}
