// Package mcp implements the Model Context Protocol (MCP) server for semsearch.
//
// The MCP server exposes four tools to AI coding assistants:
//   - reindex: Index the workspace, incrementally unless force is set
//   - search: Rank indexed chunks against a natural language query
//   - clear_cache: Wipe the workspace index
//   - get_status: Report indexing progress, index size and throttling
//
// # Protocol Overview
//
// MCP is a JSON-RPC 2.0 protocol over stdio transport:
//
//	Client → Server: {"method": "tools/call", "params": {...}}
//	Server → Client: {"result": {...}}
//
// Stdout carries protocol messages only; logs go to stderr.
//
// # Tool: search
//
//	Request:
//	{
//	  "name": "search",
//	  "arguments": {"query": "parse config file", "top_k": 5}
//	}
//
//	Response:
//	{
//	  "query": "parse config file",
//	  "results": [
//	    {
//	      "file": "/ws/internal/config/config.go",
//	      "start_line": 189,
//	      "end_line": 214,
//	      "content": "func Load(path string) (*Config, error) { ... }",
//	      "score": 1.87
//	    }
//	  ],
//	  "partial": false,
//	  "duration_ms": 12
//	}
//
// partial is true while a reindex is running; results then reflect the
// store as it was at query time.
//
// # Progress
//
// While reindex runs the server broadcasts notifications/progress with
// progress on a 0-100 scale. The progress token is the one the client sent
// in _meta, or "reindex".
//
// # Error Handling
//
//   - -32602: Invalid params (missing or blank query, bad top_k)
//   - -32603: Internal error (store failure, missing workspace)
//   - -32002: Indexing in progress (clear_cache during a run)
//
// A reindex request while another run is active is not an error: it
// returns a result with status "skipped".
package mcp
