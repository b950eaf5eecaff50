package mcp

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/repoqa/internal/config"
	"github.com/dshills/repoqa/internal/orchestrator"
)

func newTestServer(t *testing.T, autoDrive bool) *Server {
	t.Helper()
	root := t.TempDir()
	files := map[string]string{
		"src/app.py": "def main():\n    print('hello')\n",
		"README.md":  "# Test App\nPurpose: demonstration\n",
	}
	for rel, content := range files {
		p := filepath.Join(root, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	}

	cfg := config.Default()
	cfg.Root = root
	cfg.SessionID = "mcp-test"
	cfg.AutoDrive = autoDrive
	cfg.Docs.Dir = t.TempDir()
	orch, err := orchestrator.New(context.Background(), cfg, orchestrator.Deps{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = orch.Close() })
	return NewServer(orch, "", nil)
}

func callRequest(name string, args map[string]interface{}) mcp.CallToolRequest {
	req := mcp.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = args
	return req
}

// decode unmarshals the JSON text content of a tool result.
func decode(t *testing.T, res *mcp.CallToolResult) map[string]interface{} {
	t.Helper()
	require.NotNil(t, res)
	require.NotEmpty(t, res.Content)
	text, ok := res.Content[0].(mcp.TextContent)
	require.True(t, ok, "expected text content, got %T", res.Content[0])
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(text.Text), &out))
	return out
}

func TestServer_ListsTools(t *testing.T) {
	s := newTestServer(t, true)
	resp := s.mcp.HandleMessage(context.Background(), []byte(`{"jsonrpc":"2.0","id":1,"method":"tools/list"}`))
	data, err := json.Marshal(resp)
	require.NoError(t, err)

	for _, name := range []string{
		ToolLoadRepo, ToolIngestRepo, ToolSizeAndDecide, ToolBuildIndex, ToolAskRepo,
		ToolCollectEvidence, ToolRepoSynopsis, ToolAssembleEvidence, ToolDropSession, ToolGetStatus,
	} {
		assert.Contains(t, string(data), `"`+name+`"`)
	}
}

func TestHandleAskRepo(t *testing.T) {
	s := newTestServer(t, true)

	res, err := s.handleAskRepo(context.Background(), callRequest(ToolAskRepo, map[string]interface{}{
		"query": "what is the purpose?",
		"k":     float64(10),
	}))
	require.NoError(t, err)
	assert.False(t, res.IsError)

	out := decode(t, res)
	assert.Equal(t, "extractive", out["model_used"])
	assert.Contains(t, out["sources"], "README.md")
	status, ok := out["status"].([]interface{})
	require.True(t, ok)
	assert.Equal(t, "answer ready", status[len(status)-1])
}

func TestQueryValidation(t *testing.T) {
	s := newTestServer(t, true)
	tests := []struct {
		name     string
		args     map[string]interface{}
		wantCode int
	}{
		{"missing query", map[string]interface{}{}, ErrorCodeEmptyQuery},
		{"blank query", map[string]interface{}{"query": "   "}, ErrorCodeEmptyQuery},
		{"k too small", map[string]interface{}{"query": "x", "k": float64(0)}, ErrorCodeInvalidParams},
		{"k too large", map[string]interface{}{"query": "x", "k": float64(MaxK + 1)}, ErrorCodeInvalidParams},
	}
	handlers := map[string]func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error){
		ToolAskRepo:          s.handleAskRepo,
		ToolCollectEvidence:  s.handleCollectEvidence,
		ToolAssembleEvidence: s.handleAssembleEvidence,
	}
	for tool, h := range handlers {
		for _, tt := range tests {
			t.Run(tool+"/"+tt.name, func(t *testing.T) {
				_, err := h(context.Background(), callRequest(tool, tt.args))
				var mcpErr *MCPError
				require.ErrorAs(t, err, &mcpErr)
				assert.Equal(t, tt.wantCode, mcpErr.Code)
			})
		}
	}
}

func TestHandleLoadRepo(t *testing.T) {
	s := newTestServer(t, true)

	_, err := s.handleLoadRepo(context.Background(), callRequest(ToolLoadRepo, map[string]interface{}{}))
	var mcpErr *MCPError
	require.ErrorAs(t, err, &mcpErr)
	assert.Equal(t, ErrorCodeInvalidParams, mcpErr.Code)

	res, err := s.handleLoadRepo(context.Background(), callRequest(ToolLoadRepo, map[string]interface{}{
		"source": filepath.Join(t.TempDir(), "missing"),
	}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.NotEmpty(t, decode(t, res)["error"])
}

func TestPipelineTools(t *testing.T) {
	s := newTestServer(t, false)
	ctx := context.Background()

	res, err := s.handleBuildIndex(ctx, callRequest(ToolBuildIndex, nil))
	require.NoError(t, err)
	assert.True(t, res.IsError, "index before ingest must fail without auto-drive")

	steps := []func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error){
		s.handleIngestRepo, s.handleSizeAndDecide, s.handleBuildIndex,
	}
	for _, step := range steps {
		res, err := step(ctx, mcp.CallToolRequest{})
		require.NoError(t, err)
		require.False(t, res.IsError, decode(t, res)["error"])
	}

	status := decode(t, mustCall(t, s.handleGetStatus))
	assert.Equal(t, "indexed", status["state"])
	assert.Equal(t, "mcp-test", status["session_id"])
	assert.EqualValues(t, 2, status["files_count"])
	assert.NotNil(t, status["decision"])

	drop := decode(t, mustCall(t, s.handleDropSession))
	assert.Contains(t, drop["status"], "session mcp-test dropped")
	assert.Equal(t, "sized", decode(t, mustCall(t, s.handleGetStatus))["state"])
}

func TestEvidenceTools(t *testing.T) {
	s := newTestServer(t, true)
	ctx := context.Background()

	res, err := s.handleCollectEvidence(ctx, callRequest(ToolCollectEvidence, map[string]interface{}{"query": "purpose"}))
	require.NoError(t, err)
	assert.NotEmpty(t, decode(t, res)["doc_pack"])

	syn := decode(t, mustCall(t, s.handleRepoSynopsis))
	assert.NotEmpty(t, syn["doc_pack"])

	res, err = s.handleAssembleEvidence(ctx, callRequest(ToolAssembleEvidence, map[string]interface{}{"query": "how does main start?"}))
	require.NoError(t, err)
	out := decode(t, res)
	assert.NotEmpty(t, out["answer"])
	assert.NotEmpty(t, out["probes"])
}

func mustCall(t *testing.T, h func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error)) *mcp.CallToolResult {
	t.Helper()
	res, err := h(context.Background(), mcp.CallToolRequest{})
	require.NoError(t, err)
	return res
}
