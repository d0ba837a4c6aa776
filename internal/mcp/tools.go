package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/dshills/semsearch-mcp/internal/indexer"
	"github.com/dshills/semsearch-mcp/internal/searcher"
	"github.com/dshills/semsearch-mcp/pkg/types"
)

// MCP error codes
const (
	ErrorCodeInvalidParams      = -32602 // Invalid method parameters
	ErrorCodeInternalError      = -32603 // Internal JSON-RPC error
	ErrorCodeIndexingInProgress = -32002 // Another indexing operation is already running
)

// searchResult is one entry of the search tool response
type searchResult struct {
	File      string  `json:"file"`
	StartLine int     `json:"start_line"`
	EndLine   int     `json:"end_line"`
	Content   string  `json:"content"`
	Score     float64 `json:"score"`
}

// searchResponse is the search tool response
type searchResponse struct {
	Query      string         `json:"query"`
	Results    []searchResult `json:"results"`
	Partial    bool           `json:"partial"`
	DurationMS int64          `json:"duration_ms"`
}

// handleReindex handles the reindex tool invocation
func (s *Server) handleReindex(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, err := arguments(request)
	if err != nil {
		return nil, err
	}
	force, ok := args["force"].(bool)
	if _, present := args["force"]; present && !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "force must be a boolean", map[string]interface{}{
			"param": "force",
		})
	}

	var token mcp.ProgressToken
	if meta := request.Params.Meta; meta != nil {
		token = meta.ProgressToken
	}
	// The listener only takes effect if this call wins the index lock
	ctx = indexer.WithProgress(ctx, s.progressFor(token))

	result, err := s.engine.Reindex(ctx, force)
	if err != nil {
		return nil, newMCPError(ErrorCodeInternalError, "indexing failed", map[string]interface{}{
			"error": err.Error(),
		})
	}

	return mcp.NewToolResultText(formatJSON(result)), nil
}

// handleSearch handles the search tool invocation
func (s *Server) handleSearch(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, err := arguments(request)
	if err != nil {
		return nil, err
	}

	query, ok := args["query"].(string)
	if !ok || query == "" {
		return nil, newMCPError(ErrorCodeInvalidParams, "query parameter is required and cannot be empty", map[string]interface{}{
			"param":  "query",
			"reason": "missing or empty",
		})
	}

	topK, ok := getIntDefault(args, "top_k", 0)
	if !ok || topK < 0 {
		return nil, newMCPError(ErrorCodeInvalidParams, "top_k must be a positive integer", map[string]interface{}{
			"param": "top_k",
			"value": args["top_k"],
		})
	}

	resp, err := s.engine.Search(ctx, query, topK)
	if errors.Is(err, searcher.ErrEmptyQuery) {
		return nil, newMCPError(ErrorCodeInvalidParams, "query cannot be blank", map[string]interface{}{
			"param": "query",
		})
	}
	if err != nil {
		return nil, newMCPError(ErrorCodeInternalError, "search failed", map[string]interface{}{
			"error": err.Error(),
		})
	}

	out := searchResponse{
		Query:      resp.Query,
		Results:    make([]searchResult, 0, len(resp.Results)),
		Partial:    resp.Partial,
		DurationMS: resp.Duration.Milliseconds(),
	}
	for _, r := range resp.Results {
		out.Results = append(out.Results, searchResult{
			File:      r.File,
			StartLine: r.StartLine,
			EndLine:   r.EndLine,
			Content:   r.Content,
			Score:     r.Score,
		})
	}

	return mcp.NewToolResultText(formatJSON(out)), nil
}

// handleClearCache handles the clear_cache tool invocation
func (s *Server) handleClearCache(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	result, err := s.engine.ClearCache(ctx)
	if errors.Is(err, types.ErrIndexingInProgress) {
		return nil, newMCPError(ErrorCodeIndexingInProgress, "indexing in progress", nil)
	}
	if err != nil {
		return nil, newMCPError(ErrorCodeInternalError, "failed to clear cache", map[string]interface{}{
			"error": err.Error(),
		})
	}
	return mcp.NewToolResultText(formatJSON(result)), nil
}

// handleGetStatus handles the get_status tool invocation
func (s *Server) handleGetStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	status, err := s.engine.Status(ctx)
	if err != nil {
		return nil, newMCPError(ErrorCodeInternalError, "failed to get status", map[string]interface{}{
			"error": err.Error(),
		})
	}
	return mcp.NewToolResultText(formatJSON(status)), nil
}

// Helper functions

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

// arguments returns the call arguments; a call without arguments is an empty map
func arguments(request mcp.CallToolRequest) (map[string]interface{}, error) {
	if request.Params.Arguments == nil {
		return map[string]interface{}{}, nil
	}
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}
	return args, nil
}

// formatJSON formats a value as indented JSON
func formatJSON(data interface{}) string {
	bytes, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", data)
	}
	return string(bytes)
}

// getIntDefault extracts an integer parameter with a default value. JSON
// numbers arrive as float64; fractional values are rejected.
func getIntDefault(args map[string]interface{}, key string, defaultValue int) (int, bool) {
	switch val := args[key].(type) {
	case nil:
		return defaultValue, true
	case float64:
		if val != float64(int(val)) {
			return 0, false
		}
		return int(val), true
	case int:
		return val, true
	default:
		return 0, false
	}
}
