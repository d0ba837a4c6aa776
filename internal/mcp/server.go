package mcp

import (
	"context"
	"io"
	"log/slog"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/dshills/semsearch-mcp/internal/app"
	"github.com/dshills/semsearch-mcp/internal/indexer"
	"github.com/dshills/semsearch-mcp/internal/searcher"
)

const (
	// ServerName is the MCP server name
	ServerName = "semsearch-mcp"
	// ServerVersion is the current server version
	ServerVersion = "1.0.0"
	// ProgressMethod is the notification sent while a reindex runs
	ProgressMethod = "notifications/progress"
	// DefaultProgressToken is used when the client did not supply one
	DefaultProgressToken = "reindex"
)

// Engine is the search engine the tools operate on
type Engine interface {
	Reindex(ctx context.Context, force bool) (*indexer.Result, error)
	Search(ctx context.Context, query string, topK int) (*searcher.SearchResponse, error)
	ClearCache(ctx context.Context) (*app.ClearResult, error)
	Status(ctx context.Context) (*app.Status, error)
	SetProgress(fn indexer.ProgressFunc)
}

// Notifier delivers notifications to connected clients
type Notifier interface {
	SendNotificationToAllClients(method string, params map[string]any)
}

// Server wraps the MCP server with application dependencies
type Server struct {
	mcp      *server.MCPServer
	engine   Engine
	notifier Notifier
	logger   *slog.Logger
}

// NewServer creates a new MCP server instance
func NewServer(engine Engine, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	mcpServer := server.NewMCPServer(
		ServerName,
		ServerVersion,
		server.WithToolCapabilities(true),
		server.WithRecovery(),
	)

	s := &Server{
		mcp:      mcpServer,
		engine:   engine,
		notifier: mcpServer,
		logger:   logger,
	}
	s.registerTools()
	// Runs not started by a reindex call, such as the one behind serve --watch
	engine.SetProgress(s.progressFor(DefaultProgressToken))

	return s
}

// Serve starts the MCP server on stdio and blocks until shutdown
func (s *Server) Serve(ctx context.Context) error {
	s.logger.Info("serving MCP on stdio", "server", ServerName, "version", ServerVersion)
	return server.ServeStdio(s.mcp)
}

// registerTools registers all MCP tools
func (s *Server) registerTools() {
	s.mcp.AddTool(reindexTool(), s.handleReindex)
	s.mcp.AddTool(searchTool(), s.handleSearch)
	s.mcp.AddTool(clearCacheTool(), s.handleClearCache)
	s.mcp.AddTool(getStatusTool(), s.handleGetStatus)
}

// progressFor returns a listener that forwards indexer progress to every
// client under token. Delivery is best effort.
func (s *Server) progressFor(token mcp.ProgressToken) indexer.ProgressFunc {
	if token == nil {
		token = DefaultProgressToken
	}
	return func(percent, total int, message string) {
		s.notifier.SendNotificationToAllClients(ProgressMethod, map[string]any{
			"progressToken": token,
			"progress":      percent,
			"total":         100,
			"files":         total,
			"message":       message,
		})
	}
}
