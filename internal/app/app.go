// Package app wires configuration, storage, embedding, indexing and search
// into one engine instance shared by the MCP, HTTP and CLI surfaces.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/dshills/semsearch-mcp/internal/chunker"
	"github.com/dshills/semsearch-mcp/internal/chunker/languages"
	"github.com/dshills/semsearch-mcp/internal/config"
	"github.com/dshills/semsearch-mcp/internal/embedder"
	"github.com/dshills/semsearch-mcp/internal/indexer"
	"github.com/dshills/semsearch-mcp/internal/metrics"
	"github.com/dshills/semsearch-mcp/internal/orchestrator"
	"github.com/dshills/semsearch-mcp/internal/searcher"
	"github.com/dshills/semsearch-mcp/internal/storage"
	"github.com/dshills/semsearch-mcp/internal/throttle"
	"github.com/dshills/semsearch-mcp/internal/tokenizer"
	"github.com/dshills/semsearch-mcp/pkg/types"
)

// CacheType is reported by Status
const CacheType = "sqlite"

// App is one engine instance bound to a single workspace
type App struct {
	cfg     *config.Config
	logger  *slog.Logger
	metrics *metrics.Metrics

	store        *storage.SQLiteStorage
	throttle     *throttle.Throttle
	queryEmb     embedder.Embedder
	orchestrator *orchestrator.Orchestrator
	indexer      *indexer.Indexer
	searcher     *searcher.Searcher

	watchMu sync.Mutex
	watcher *indexer.Watcher

	closeOnce sync.Once
}

// Throttling describes the resource limits in effect
type Throttling struct {
	CPUCores      int   `json:"cpu_cores"`
	MaxCPUPercent int   `json:"max_cpu_percent"`
	WorkerBudget  int   `json:"worker_budget"`
	EmbedWorkers  int   `json:"embed_workers"`
	BatchDelayMS  int64 `json:"batch_delay_ms"`
}

// Status is the get_status payload
type Status struct {
	Workspace      string               `json:"workspace"`
	Indexing       types.IndexingStatus `json:"indexing"`
	Files          int                  `json:"files"`
	Chunks         int                  `json:"chunks"`
	Dimension      int                  `json:"dimension"`
	CacheSize      string               `json:"cache_size"`
	CacheSizeBytes int64                `json:"cache_size_bytes"`
	CacheType      string               `json:"cache_type"`
	CachePath      string               `json:"cache_path"`
	LastIndexedAt  *time.Time           `json:"last_indexed_at,omitempty"`
	Provider       string               `json:"provider"`
	Model          string               `json:"model,omitempty"`
	Device         string               `json:"device,omitempty"`
	ChunkingMode   string               `json:"chunking_mode"`
	Throttling     Throttling           `json:"throttling"`
	Watching       bool                 `json:"watching"`
	BuildMode      string               `json:"build_mode"`
}

// ClearResult is the clear_cache payload
type ClearResult struct {
	Cleared bool   `json:"cleared"`
	Message string `json:"message"`
}

// New opens the workspace store and builds every component. cfg must
// already be normalized and validated.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	m := metrics.New()

	store, err := storage.Open(ctx, cfg.StoreDir(), logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}

	provider := cfg.Embedding.Provider
	if provider == "" {
		provider = embedder.DetectProvider()
	}
	embCfg := embedder.Config{
		Provider:  provider,
		Model:     cfg.Embedding.Model,
		Dimension: cfg.Embedding.Dimension,
		APIKey:    cfg.Embedding.APIKey,
		BaseURL:   cfg.Embedding.BaseURL,
		Timeout:   cfg.Embedding.Timeout,
		CacheSize: cfg.Embedding.CacheSize,
	}
	factory := embedder.NewFactory(embCfg)
	queryEmb, err := factory()
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to create embedder: %w", err)
	}

	th := throttle.New(throttle.Config{
		MaxCPUPercent:     cfg.MaxCPUPercent,
		BatchDelay:        cfg.BatchDelay,
		RequestsPerSecond: cfg.Embedding.RequestsPerSecond,
	})

	orch := orchestrator.New(orchestrator.Config{
		Threads:              int(cfg.Threads),
		Model:                queryEmb.Model(),
		SingleThreadedModels: cfg.Embedding.SingleThreadedModels,
		BatchTimeout:         cfg.Embedding.BatchTimeout,
	}, factory, th, logger.With("component", "orchestrator"), m)

	ch := chunker.New(chunker.Config{
		Mode:         chunker.Mode(cfg.ChunkingMode),
		Budget:       tokenizer.BudgetForModel(queryEmb.Model(), cfg.ChunkTokens, cfg.ChunkOverlapTokens),
		ChunkLines:   cfg.ChunkLines,
		OverlapLines: cfg.ChunkOverlapLines,
		Parsers:      languages.Default(),
		Logger:       logger.With("component", "chunker"),
	})

	idx := indexer.New(indexer.Config{
		Root:            cfg.Workspace,
		CacheDir:        cfg.CacheDir,
		Extensions:      cfg.Extensions,
		ExcludePatterns: cfg.ExcludePatterns,
		MaxFileSize:     cfg.MaxFileSize,
		BatchSize:       cfg.BatchSize,
		SaveInterval:    cfg.SaveInterval,
	}, indexer.Deps{
		Store:    store,
		Chunker:  ch,
		Embedder: orch,
		Pacer:    th,
		Logger:   logger.With("component", "indexer"),
		Metrics:  m,
	})

	srch := searcher.NewSearcher(store, queryEmb, idx, searcher.Config{
		Weights: searcher.Weights{
			SemanticWeight:  cfg.SemanticWeight,
			ExactMatchBoost: cfg.ExactMatchBoost,
		},
		MaxResults: cfg.MaxResults,
	}, logger.With("component", "searcher"), m)

	logger.Info("engine ready",
		"workspace", cfg.Workspace,
		"store", store.Path(),
		"provider", queryEmb.Provider(),
		"model", queryEmb.Model(),
		"device", cfg.Embedding.Device,
		"chunking_mode", cfg.ChunkingMode,
		"embed_workers", orch.Workers(),
		"build_mode", storage.BuildMode)

	return &App{
		cfg:          cfg,
		logger:       logger,
		metrics:      m,
		store:        store,
		throttle:     th,
		queryEmb:     queryEmb,
		orchestrator: orch,
		indexer:      idx,
		searcher:     srch,
	}, nil
}

// Config returns the configuration the app was built with
func (a *App) Config() *config.Config { return a.cfg }

// Metrics returns the app's metrics registry owner
func (a *App) Metrics() *metrics.Metrics { return a.metrics }

// Indexer exposes the indexer for callers that need incremental operations
func (a *App) Indexer() *indexer.Indexer { return a.indexer }

// SetProgress installs the progress listener for indexing runs
func (a *App) SetProgress(fn indexer.ProgressFunc) {
	a.indexer.SetProgress(fn)
}

// Reindex runs a full indexing pass. A run already in progress yields a skipped result.
func (a *App) Reindex(ctx context.Context, force bool) (*indexer.Result, error) {
	return a.indexer.IndexAll(ctx, force)
}

// Search ranks indexed chunks against query
func (a *App) Search(ctx context.Context, query string, topK int) (*searcher.SearchResponse, error) {
	return a.searcher.Search(ctx, query, topK)
}

// ClearCache wipes the store and the query cache
func (a *App) ClearCache(ctx context.Context) (*ClearResult, error) {
	if err := a.indexer.Clear(ctx); err != nil {
		return nil, err
	}
	a.searcher.InvalidateCache()
	return &ClearResult{
		Cleared: true,
		Message: fmt.Sprintf("Cleared index for %s", a.cfg.Workspace),
	}, nil
}

// Status reports index, store and throttle state
func (a *App) Status(ctx context.Context) (*Status, error) {
	stats, err := a.store.Stats(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read store stats: %w", err)
	}

	status := &Status{
		Workspace:      a.cfg.Workspace,
		Indexing:       a.indexer.Status(),
		Files:          stats.Files,
		Chunks:         stats.Chunks,
		Dimension:      stats.Dimension,
		CacheSize:      humanize.Bytes(uint64(max(stats.SizeBytes, 0))),
		CacheSizeBytes: stats.SizeBytes,
		CacheType:      CacheType,
		CachePath:      a.store.Path(),
		Provider:       a.queryEmb.Provider(),
		Model:          a.queryEmb.Model(),
		Device:         a.cfg.Embedding.Device,
		ChunkingMode:   a.cfg.ChunkingMode,
		Throttling: Throttling{
			CPUCores:      a.throttle.Cores(),
			MaxCPUPercent: a.throttle.CPUPercent(),
			WorkerBudget:  a.throttle.WorkerBudget(),
			EmbedWorkers:  a.orchestrator.Workers(),
			BatchDelayMS:  a.throttle.BatchDelay().Milliseconds(),
		},
		Watching:  a.Watching(),
		BuildMode: storage.BuildMode,
	}
	if !stats.LastIndexedAt.IsZero() {
		t := stats.LastIndexedAt
		status.LastIndexedAt = &t
	}
	return status, nil
}

// StartWatching begins incremental reindexing on file changes. It is a no-op
// when a watcher is already running.
func (a *App) StartWatching(ctx context.Context) error {
	a.watchMu.Lock()
	defer a.watchMu.Unlock()

	if a.watcher != nil && a.watcher.IsRunning() {
		return nil
	}
	w, err := indexer.NewWatcher(a.indexer, a.cfg.WatchDebounce)
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := w.Start(ctx); err != nil {
		return fmt.Errorf("failed to start watcher: %w", err)
	}
	a.watcher = w
	return nil
}

// Watching reports whether watch mode is active
func (a *App) Watching() bool {
	a.watchMu.Lock()
	defer a.watchMu.Unlock()
	return a.watcher != nil && a.watcher.IsRunning()
}

// Close stops the watcher, releases embedders and flushes the store
func (a *App) Close() error {
	var errs []error
	a.closeOnce.Do(func() {
		a.watchMu.Lock()
		if a.watcher != nil {
			if err := a.watcher.Stop(); err != nil {
				errs = append(errs, err)
			}
		}
		a.watchMu.Unlock()

		if err := a.orchestrator.Close(); err != nil {
			errs = append(errs, err)
		}
		if err := a.queryEmb.Close(); err != nil {
			errs = append(errs, err)
		}
		if err := a.store.Save(context.Background()); err != nil {
			errs = append(errs, err)
		}
		if err := a.store.Close(); err != nil {
			errs = append(errs, err)
		}
	})
	return errors.Join(errs...)
}
