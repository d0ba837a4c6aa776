// Package httpapi exposes the engine over an optional local HTTP surface.
package httpapi

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/dshills/semsearch-mcp/internal/app"
	"github.com/dshills/semsearch-mcp/internal/indexer"
	"github.com/dshills/semsearch-mcp/internal/searcher"
)

const (
	// RequestTimeout bounds every request except reindex
	RequestTimeout = 60 * time.Second
	// ShutdownTimeout bounds graceful shutdown
	ShutdownTimeout = 5 * time.Second
)

// Engine is the search engine the routes operate on
type Engine interface {
	Reindex(ctx context.Context, force bool) (*indexer.Result, error)
	Search(ctx context.Context, query string, topK int) (*searcher.SearchResponse, error)
	ClearCache(ctx context.Context) (*app.ClearResult, error)
	Status(ctx context.Context) (*app.Status, error)
}

// Server represents the API server
type Server struct {
	engine  Engine
	metrics http.Handler
	logger  *slog.Logger
	router  chi.Router
}

// NewServer creates a new API server. A nil metrics handler leaves /metrics unrouted.
func NewServer(engine Engine, metrics http.Handler, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	s := &Server{
		engine:  engine,
		metrics: metrics,
		logger:  logger,
	}
	s.setupRouter()
	return s
}

// setupRouter configures all routes
func (s *Server) setupRouter() {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics)
	}

	// Reindex runs as long as it needs; everything else is bounded
	r.Post("/reindex", s.handleReindex)

	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(RequestTimeout))
		r.Get("/search", s.handleSearch)
		r.Post("/search", s.handleSearch)
		r.Post("/clear", s.handleClear)
		r.Get("/status", s.handleStatus)
	})

	s.router = r
}

// Handler returns the HTTP handler
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe serves on addr until ctx is cancelled
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

// requestLogger logs one line per request through slog. chi's own Logger
// writes to stdout, which belongs to the MCP transport.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()))
	})
}
