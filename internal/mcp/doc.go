// Package mcp implements the Model Context Protocol (MCP) host for repoqa.
//
// The server is a thin layer over one orchestrator session. Each tool maps
// to one orchestrator operation and returns the operation's record as JSON:
//   - load_repo: point the session at a local path or clone a git URL
//   - ingest_repo, size_and_decide, build_index: run single pipeline stages
//   - ask_repo: answer a question with cited sources
//   - collect_evidence, repo_synopsis, assemble_evidence: build doc packs
//   - drop_session: release the session's index
//   - get_status: report the pipeline stage and sizing decision
//
// # Protocol Overview
//
// MCP is a JSON-RPC 2.0 protocol over stdio transport:
//
//	Client → Server: {"method": "tools/call", "params": {...}}
//	Server → Client: {"result": {...}}
//
// Logs go to stderr; stdout carries only protocol messages.
//
// # Basic Usage
//
//	repoqa serve --root /path/to/repo
//
// # Tool: ask_repo
//
//	Request:
//	{
//	  "name": "ask_repo",
//	  "arguments": {"query": "how does login work?", "k": 50, "write_docs": false}
//	}
//
//	Response:
//	{
//	  "status": ["answering: how does login work?", "no index found; indexing now...", ..., "answer ready"],
//	  "answer": "Found 3 relevant code sections. Top match: src/auth/login.py ...",
//	  "sources": ["src/auth/login.py", "tests/test_auth.py"],
//	  "token_count": 61,
//	  "model_used": "extractive"
//	}
//
// # Errors
//
// Invalid parameters are protocol errors (MCPError with a JSON-RPC code).
// Operation failures are ordinary tool results with IsError set; the
// record's "error" field holds a short message and "status" the log up to
// the failure.
package mcp
