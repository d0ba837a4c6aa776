package indexer

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/dshills/semsearch-mcp/internal/chunker"
	"github.com/dshills/semsearch-mcp/internal/metrics"
	"github.com/dshills/semsearch-mcp/internal/orchestrator"
	"github.com/dshills/semsearch-mcp/internal/storage"
	"github.com/dshills/semsearch-mcp/pkg/types"
)

// DefaultSaveInterval is the number of batches between incremental checkpoints
const DefaultSaveInterval = 5

// BatchEmbedder turns chunks into vectors, one result per input chunk
type BatchEmbedder interface {
	EmbedBatch(ctx context.Context, chunks []types.Chunk) []orchestrator.Result
}

// Pacer bounds resource usage between and within batches
type Pacer interface {
	Pause(ctx context.Context) error
	WorkerBudget() int
}

// Config contains configuration for the indexer
type Config struct {
	Root            string   // Workspace root, absolute
	CacheDir        string   // Always excluded from discovery
	Extensions      []string // e.g. ".go"; empty means every file
	ExcludePatterns []string // Directory names (or name globs) pruned during discovery
	MaxFileSize     int64    // 0 means unlimited
	BatchSize       int      // 0 means adaptive
	SaveInterval    int      // Batches between SaveIncremental calls
}

// Deps are the collaborators of an Indexer
type Deps struct {
	Store    storage.Store
	Chunker  chunker.Chunker
	Embedder BatchEmbedder
	Pacer    Pacer
	Logger   *slog.Logger
	Metrics  *metrics.Metrics
	Progress ProgressFunc
}

// Indexer coordinates the indexing pipeline: discover -> hash -> chunk -> embed -> store
type Indexer struct {
	cfg      Config
	store    storage.Store
	chunker  chunker.Chunker
	embedder BatchEmbedder
	pacer    Pacer
	logger   *slog.Logger
	metrics  *metrics.Metrics
	progress ProgressFunc
	// runProgress overrides progress for the run holding the lock
	runProgress ProgressFunc

	lock IndexLock

	statusMu sync.RWMutex
	status   types.IndexingStatus

	extensions map[string]bool
}

// New creates a new Indexer instance
func New(cfg Config, deps Deps) *Indexer {
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if cfg.SaveInterval <= 0 {
		cfg.SaveInterval = DefaultSaveInterval
	}
	if cfg.CacheDir != "" {
		cfg.CacheDir = filepath.Clean(cfg.CacheDir)
	}

	extensions := make(map[string]bool, len(cfg.Extensions))
	for _, ext := range cfg.Extensions {
		ext = strings.ToLower(ext)
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		extensions[ext] = true
	}

	return &Indexer{
		cfg:        cfg,
		store:      deps.Store,
		chunker:    deps.Chunker,
		embedder:   deps.Embedder,
		pacer:      deps.Pacer,
		logger:     logger,
		metrics:    deps.Metrics,
		progress:   deps.Progress,
		extensions: extensions,
	}
}

// SetProgress replaces the progress listener. nil disables notifications.
func (idx *Indexer) SetProgress(fn ProgressFunc) {
	idx.statusMu.Lock()
	idx.progress = fn
	idx.statusMu.Unlock()
}

// Root returns the workspace root
func (idx *Indexer) Root() string {
	return idx.cfg.Root
}

// IsIndexing reports whether a full run is in progress
func (idx *Indexer) IsIndexing() bool {
	return idx.lock.Held()
}

// Status returns a snapshot of the current or last indexing run
func (idx *Indexer) Status() types.IndexingStatus {
	idx.statusMu.RLock()
	defer idx.statusMu.RUnlock()
	return idx.status
}

// adaptiveBatchSize grows the batch with the project to amortize per-batch overhead
func adaptiveBatchSize(totalFiles int) int {
	switch {
	case totalFiles < 100:
		return 10
	case totalFiles < 1000:
		return 25
	case totalFiles < 5000:
		return 50
	default:
		return 100
	}
}

func (idx *Indexer) batchSize(totalFiles int) int {
	if idx.cfg.BatchSize > 0 {
		return idx.cfg.BatchSize
	}
	return adaptiveBatchSize(totalFiles)
}

// IndexAll indexes the whole workspace. A call made while another run is in
// progress returns immediately with Status "skipped". With force the store is
// cleared first; otherwise files no longer discovered are pruned.
func (idx *Indexer) IndexAll(ctx context.Context, force bool) (*Result, error) {
	if !idx.lock.TryAcquire() {
		idx.metrics.IndexRun(StatusSkipped, 0)
		return &Result{
			Status:  StatusSkipped,
			Message: "Indexing already in progress, request skipped",
		}, nil
	}
	defer idx.lock.Release()

	if fn := ProgressFromContext(ctx); fn != nil {
		idx.setRunProgress(fn)
		defer idx.setRunProgress(nil)
	}

	startTime := time.Now()
	res := &Result{RunID: uuid.NewString()}
	logger := idx.logger.With("run_id", res.RunID)

	if info, err := os.Stat(idx.cfg.Root); err != nil || !info.IsDir() {
		return nil, fmt.Errorf("%w: %s", types.ErrWorkspaceNotFound, idx.cfg.Root)
	}

	idx.resetStatus(res.RunID, startTime)
	defer idx.finishStatus()

	logger.Info("indexing started", "root", idx.cfg.Root, "force", force)
	idx.notify(0, 0, "Discovering files")

	if force {
		if err := idx.store.Clear(ctx); err != nil {
			return nil, fmt.Errorf("failed to clear store: %w", err)
		}
	}

	files, oversized, err := idx.discover(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to discover files: %w", err)
	}
	res.FilesOversized = oversized
	idx.setTotal(len(files))
	idx.metrics.IndexFiles("oversized", oversized)
	logger.Info("discovery finished", "files", len(files), "oversized", oversized)

	if !force {
		pruned, err := idx.prune(ctx, files)
		if err != nil {
			return nil, fmt.Errorf("failed to prune stale files: %w", err)
		}
		res.FilesPruned = pruned
		idx.metrics.IndexFiles("pruned", pruned)
	}

	batchSize := idx.batchSize(len(files))
	batches := 0
	for start := 0; start < len(files); start += batchSize {
		if err := ctx.Err(); err != nil {
			return idx.cancel(res, startTime, logger, err)
		}

		end := start + batchSize
		if end > len(files) {
			end = len(files)
		}

		if err := idx.processBatch(ctx, files[start:end], res); err != nil {
			if ctx.Err() != nil {
				return idx.cancel(res, startTime, logger, ctx.Err())
			}
			logger.Warn("batch failed", "first_file", files[start], "files", end-start, "error", err)
		}
		batches++

		percent := idx.advance(end - start)
		idx.notify(percent, len(files), fmt.Sprintf("Indexed %d/%d files", end, len(files)))

		if batches%idx.cfg.SaveInterval == 0 {
			if err := idx.store.SaveIncremental(ctx); err != nil {
				logger.Warn("incremental save failed", "error", err)
			}
		}

		if end < len(files) && idx.pacer != nil {
			if err := idx.pacer.Pause(ctx); err != nil {
				return idx.cancel(res, startTime, logger, err)
			}
		}
	}

	if err := idx.store.Save(ctx); err != nil {
		return nil, fmt.Errorf("failed to save store: %w", err)
	}
	if err := idx.fillTotals(ctx, res); err != nil {
		return nil, err
	}

	res.Status = StatusCompleted
	res.Duration = time.Since(startTime)
	res.summarize()
	idx.metrics.IndexRun(StatusCompleted, res.Duration)

	logger.Info("indexing finished",
		"processed", res.FilesProcessed,
		"skipped", res.FilesSkipped,
		"failed", res.FilesFailed,
		"chunks", res.ChunksCreated,
		"duration", res.Duration)
	idx.notify(100, len(files), res.Message)

	return res, nil
}

// cancel finishes an interrupted run with a best-effort checkpoint
func (idx *Indexer) cancel(res *Result, startTime time.Time, logger *slog.Logger, cause error) (*Result, error) {
	saveCtx, done := context.WithTimeout(context.Background(), 30*time.Second)
	defer done()
	if err := idx.store.Save(saveCtx); err != nil {
		logger.Warn("checkpoint after cancellation failed", "error", err)
	}
	_ = idx.fillTotals(saveCtx, res)

	res.Status = StatusCancelled
	res.Duration = time.Since(startTime)
	res.summarize()
	idx.metrics.IndexRun(StatusCancelled, res.Duration)
	logger.Warn("indexing cancelled", "error", cause)
	return res, cause
}

func (idx *Indexer) fillTotals(ctx context.Context, res *Result) error {
	stats, err := idx.store.Stats(ctx)
	if err != nil {
		return fmt.Errorf("failed to read store stats: %w", err)
	}
	res.TotalFiles = stats.Files
	res.TotalChunks = stats.Chunks
	idx.metrics.StoreSize(stats.Chunks, stats.Files)
	return nil
}

// fileEntry is one file of a batch after the lazy hash check
type fileEntry struct {
	path    string
	content string
	hash    string
	changed bool
	err     error
}

// hashFile reads a file and compares its digest with the stored one
func (idx *Indexer) hashFile(ctx context.Context, path string) fileEntry {
	entry := fileEntry{path: path}

	data, err := os.ReadFile(path)
	if err != nil {
		entry.err = err
		return entry
	}
	sum := sha256.Sum256(data)
	entry.hash = hex.EncodeToString(sum[:])

	stored, err := idx.store.GetFileHash(ctx, path)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		entry.changed = true
	case err != nil:
		entry.err = err
		return entry
	default:
		entry.changed = stored != entry.hash
	}

	if entry.changed {
		entry.content = string(data)
	}
	return entry
}

// processBatch hashes, chunks and embeds one batch of files and writes the
// result. Chunks of changed files are replaced in one transaction; file
// hashes are written only after that transaction commits. A file whose
// chunks did not all embed keeps no hash so the next run retries it.
func (idx *Indexer) processBatch(ctx context.Context, files []string, res *Result) error {
	entries := make([]fileEntry, len(files))

	g, gctx := errgroup.WithContext(ctx)
	if idx.pacer != nil {
		g.SetLimit(idx.pacer.WorkerBudget())
	}
	for i, path := range files {
		g.Go(func() error {
			entries[i] = idx.hashFile(gctx, path)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	var (
		changed   []fileEntry
		pending   []types.Chunk
		chunkFile []int // index into changed per pending chunk
	)
	for _, e := range entries {
		switch {
		case e.err != nil:
			res.FilesFailed++
			res.addError(e.path, e.err)
			idx.metrics.IndexFiles("failed", 1)
			idx.logger.Warn("failed to read file", "file", e.path, "error", e.err)
		case !e.changed:
			res.FilesSkipped++
			idx.metrics.IndexFiles("skipped", 1)
		default:
			spans, err := idx.chunker.Chunk(e.content, e.path)
			if err != nil {
				res.FilesFailed++
				res.addError(e.path, err)
				idx.metrics.IndexFiles("failed", 1)
				continue
			}
			changed = append(changed, e)
			for _, s := range spans {
				pending = append(pending, types.Chunk{
					File:      e.path,
					StartLine: s.StartLine,
					EndLine:   s.EndLine,
					Content:   s.Content,
				})
				chunkFile = append(chunkFile, len(changed)-1)
			}
		}
	}
	if len(changed) == 0 {
		return nil
	}

	var results []orchestrator.Result
	if len(pending) > 0 {
		results = idx.embedder.EmbedBatch(ctx, pending)
	}

	complete := make([]bool, len(changed))
	for i := range complete {
		complete[i] = true
	}
	embedded := make([]types.Chunk, 0, len(results))
	for i, r := range results {
		if !r.Success {
			res.ChunksFailed++
			complete[chunkFile[i]] = false
			res.addError(r.Chunk.Key().String(), errors.New(r.Error))
			continue
		}
		embedded = append(embedded, r.Chunk)
	}

	if err := idx.writeChunks(ctx, changed, embedded); err != nil {
		for _, e := range changed {
			res.FilesFailed++
			res.addError(e.path, err)
		}
		idx.metrics.IndexFiles("failed", len(changed))
		return err
	}
	res.ChunksCreated += len(embedded)
	idx.metrics.ChunksWritten(len(embedded))

	var indexed []fileEntry
	for i, e := range changed {
		if complete[i] {
			indexed = append(indexed, e)
			continue
		}
		res.FilesFailed++
		idx.metrics.IndexFiles("failed", 1)
	}
	if err := idx.writeHashes(ctx, indexed); err != nil {
		for _, e := range indexed {
			res.FilesFailed++
			res.addError(e.path, err)
		}
		idx.metrics.IndexFiles("failed", len(indexed))
		return err
	}
	res.FilesProcessed += len(indexed)
	idx.metrics.IndexFiles("indexed", len(indexed))

	return nil
}

// writeChunks replaces every chunk of the changed files in one transaction
func (idx *Indexer) writeChunks(ctx context.Context, changed []fileEntry, chunks []types.Chunk) error {
	tx, err := idx.store.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, e := range changed {
		if _, err := tx.RemoveFileFromStore(ctx, e.path); err != nil {
			return fmt.Errorf("failed to remove old chunks: %w", err)
		}
	}
	if len(chunks) > 0 {
		if err := tx.AddBatchToStore(ctx, chunks); err != nil {
			return fmt.Errorf("failed to store chunks: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (idx *Indexer) writeHashes(ctx context.Context, entries []fileEntry) error {
	if len(entries) == 0 {
		return nil
	}
	tx, err := idx.store.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, e := range entries {
		if err := tx.SetFileHash(ctx, e.path, e.hash); err != nil {
			return fmt.Errorf("failed to store file hash: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// IndexFile re-indexes a single file outside a full run. Files outside the
// indexed scope are ignored; an unchanged file is skipped.
func (idx *Indexer) IndexFile(ctx context.Context, path string) (*Result, error) {
	startTime := time.Now()
	res := &Result{}

	path = filepath.Clean(path)
	if !idx.inScope(path) {
		res.Status = StatusSkipped
		res.Message = "file is outside the indexed scope"
		return res, nil
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if idx.cfg.MaxFileSize > 0 && info.Size() > idx.cfg.MaxFileSize {
		res.FilesOversized = 1
		res.Status = StatusSkipped
		res.Message = "file exceeds the maximum file size"
		return res, nil
	}

	err = idx.processBatch(ctx, []string{path}, res)
	res.Status = StatusCompleted
	res.Duration = time.Since(startTime)
	res.summarize()
	if err != nil {
		return res, err
	}
	if len(res.Errors) > 0 && res.FilesFailed > 0 {
		return res, errors.New(res.Errors[0])
	}
	return res, nil
}

// RemoveFile deletes every chunk and the hash of one file
func (idx *Indexer) RemoveFile(ctx context.Context, path string) (int, error) {
	tx, err := idx.store.BeginTx(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	removed, err := tx.RemoveFileFromStore(ctx, path)
	if err != nil {
		return 0, err
	}
	if err := tx.DeleteFileHash(ctx, path); err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return removed, nil
}

// prune removes every previously indexed file that discovery no longer returns
func (idx *Indexer) prune(ctx context.Context, discovered []string) (int, error) {
	hashes, err := idx.store.ListFileHashes(ctx)
	if err != nil {
		return 0, err
	}

	present := make(map[string]struct{}, len(discovered))
	for _, f := range discovered {
		present[f] = struct{}{}
	}

	pruned := 0
	for _, h := range hashes {
		if _, ok := present[h.File]; ok {
			continue
		}
		removed, err := idx.RemoveFile(ctx, h.File)
		if err != nil {
			return pruned, fmt.Errorf("%s: %w", h.File, err)
		}
		idx.logger.Debug("pruned file", "file", h.File, "chunks", removed)
		pruned++
	}
	return pruned, nil
}

func (idx *Indexer) setRunProgress(fn ProgressFunc) {
	idx.statusMu.Lock()
	idx.runProgress = fn
	idx.statusMu.Unlock()
}

func (idx *Indexer) notify(percent, total int, message string) {
	idx.statusMu.RLock()
	fn := idx.progress
	if idx.runProgress != nil {
		fn = idx.runProgress
	}
	idx.statusMu.RUnlock()
	if fn != nil {
		fn(percent, total, message)
	}
}

func (idx *Indexer) resetStatus(runID string, started time.Time) {
	idx.statusMu.Lock()
	defer idx.statusMu.Unlock()
	idx.status = types.IndexingStatus{
		InProgress: true,
		RunID:      runID,
		StartedAt:  started,
	}
}

func (idx *Indexer) setTotal(total int) {
	idx.statusMu.Lock()
	defer idx.statusMu.Unlock()
	idx.status.TotalFiles = total
	if total == 0 {
		idx.status.Percentage = 100
	}
}

// advance records processed files and returns the new percentage
func (idx *Indexer) advance(files int) int {
	idx.statusMu.Lock()
	defer idx.statusMu.Unlock()
	idx.status.ProcessedFiles += files
	if idx.status.TotalFiles > 0 {
		idx.status.Percentage = idx.status.ProcessedFiles * 100 / idx.status.TotalFiles
	}
	return idx.status.Percentage
}

func (idx *Indexer) finishStatus() {
	idx.statusMu.Lock()
	defer idx.statusMu.Unlock()
	idx.status.InProgress = false
	idx.status.FinishedAt = time.Now()
}

// Clear wipes the store. It refuses while a full run holds the lock.
func (idx *Indexer) Clear(ctx context.Context) error {
	if !idx.lock.TryAcquire() {
		return types.ErrIndexingInProgress
	}
	defer idx.lock.Release()

	if err := idx.store.Clear(ctx); err != nil {
		return fmt.Errorf("failed to clear store: %w", err)
	}
	idx.statusMu.Lock()
	idx.status = types.IndexingStatus{}
	idx.statusMu.Unlock()
	idx.metrics.StoreSize(0, 0)
	idx.logger.Info("store cleared")
	return nil
}
