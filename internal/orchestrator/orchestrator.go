// Package orchestrator fans chunk embedding out over a pool of workers and
// recovers failed work on a sequential fallback path.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/dshills/semsearch-mcp/internal/embedder"
	"github.com/dshills/semsearch-mcp/internal/metrics"
	"github.com/dshills/semsearch-mcp/pkg/types"
)

// DefaultBatchTimeout bounds one worker slice and one fallback chunk
const DefaultBatchTimeout = 5 * time.Minute

// DefaultSingleThreadedModels are model families that misbehave when loaded in parallel
var DefaultSingleThreadedModels = []string{"nomic-embed-text", "jina-embeddings-v2-base-code"}

// ErrTimeout is reported for work abandoned after the batch timeout
var ErrTimeout = errors.New("embedding timed out")

// Limiter sizes the pool and paces embedding requests
type Limiter interface {
	Workers(requested int) int
	Wait(ctx context.Context) error
}

// Config controls pool sizing and timeouts
type Config struct {
	Threads              int // <= 0 means auto
	Model                string
	SingleThreadedModels []string
	BatchTimeout         time.Duration
}

// Result is the outcome for one input chunk. Chunk.Vector is set when Success is true.
type Result struct {
	Chunk    types.Chunk
	Success  bool
	Error    string
	Fallback bool // computed on the sequential fallback path
}

// Orchestrator owns the embedding worker pool
type Orchestrator struct {
	factory embedder.Factory
	limiter Limiter
	workers int
	timeout time.Duration
	logger  *slog.Logger
	metrics *metrics.Metrics

	mu     sync.Mutex
	idle   []*worker
	closed bool

	fallbackMu sync.Mutex
	fallback   *worker
}

// New creates an orchestrator. Worker embedders are created lazily from factory.
func New(cfg Config, factory embedder.Factory, limiter Limiter, logger *slog.Logger, m *metrics.Metrics) *Orchestrator {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	timeout := cfg.BatchTimeout
	if timeout <= 0 {
		timeout = DefaultBatchTimeout
	}
	singles := cfg.SingleThreadedModels
	if singles == nil {
		singles = DefaultSingleThreadedModels
	}

	workers := limiter.Workers(cfg.Threads)
	if isSingleThreaded(cfg.Model, singles) {
		workers = 1
	}
	if workers < 1 {
		workers = 1
	}

	return &Orchestrator{
		factory: factory,
		limiter: limiter,
		workers: workers,
		timeout: timeout,
		logger:  logger,
		metrics: m,
	}
}

func isSingleThreaded(model string, families []string) bool {
	m := strings.ToLower(model)
	for _, family := range families {
		if family != "" && strings.Contains(m, strings.ToLower(family)) {
			return true
		}
	}
	return false
}

// Workers returns the pool size
func (o *Orchestrator) Workers() int {
	return o.workers
}

// EmbeddingText is the text sent to the model for a chunk: the file path
// as a header line followed by the chunk content
func EmbeddingText(c types.Chunk) string {
	return "File: " + c.File + "\n\n" + c.Content
}

type slice struct {
	start, end int
}

// partition splits n items into at most parts contiguous slices whose sizes
// differ by at most one
func partition(n, parts int) []slice {
	if n == 0 {
		return nil
	}
	if parts > n {
		parts = n
	}
	if parts < 1 {
		parts = 1
	}

	base, extra := n/parts, n%parts
	out := make([]slice, 0, parts)
	start := 0
	for i := 0; i < parts; i++ {
		size := base
		if i < extra {
			size++
		}
		out = append(out, slice{start: start, end: start + size})
		start += size
	}
	return out
}

type sliceResult struct {
	vectors [][]float32
	err     error
	outcome string
}

// EmbedBatch embeds chunks and returns exactly one Result per input, in input
// order. Every slice is dispatched before any result is awaited. A slice that
// errors, panics or outlives the batch timeout is recomputed one chunk at a
// time on the fallback path; a chunk failing there too is reported and dropped.
func (o *Orchestrator) EmbedBatch(ctx context.Context, chunks []types.Chunk) []Result {
	started := time.Now()
	defer func() { o.metrics.EmbedDuration(time.Since(started)) }()

	results := make([]Result, len(chunks))
	for i, c := range chunks {
		results[i].Chunk = c
	}
	if len(chunks) == 0 {
		return results
	}

	slices := partition(len(chunks), o.workers)
	pending := make([]chan sliceResult, len(slices))
	busy := make([]*worker, len(slices))
	deadline := time.Now().Add(o.timeout)

	for i, s := range slices {
		ch := make(chan sliceResult, 1)
		pending[i] = ch

		w, err := o.acquire()
		if err != nil {
			ch <- sliceResult{err: fmt.Errorf("create embedder: %w", err), outcome: metrics.OutcomeError}
			continue
		}
		busy[i] = w
		texts := make([]string, 0, s.end-s.start)
		for _, c := range chunks[s.start:s.end] {
			texts = append(texts, EmbeddingText(c))
		}
		go o.runSlice(ctx, w, texts, ch)
	}

	var failed []int
	for i, s := range slices {
		r := o.await(ctx, pending[i], deadline, s)
		o.metrics.EmbedBatch(r.outcome)
		if r.outcome == metrics.OutcomeTimeout && busy[i] != nil {
			// A hung embedder is closed when it returns and never reused
			busy[i].retire()
		}

		if r.err != nil {
			o.logger.Warn("embedding slice failed, using fallback",
				"slice", i,
				"chunks", s.end-s.start,
				"outcome", r.outcome,
				"error", r.err)
			for idx := s.start; idx < s.end; idx++ {
				failed = append(failed, idx)
			}
			continue
		}
		for j, vec := range r.vectors {
			results[s.start+j].Chunk.Vector = vec
			results[s.start+j].Success = true
		}
	}

	if len(failed) > 0 {
		o.runFallback(ctx, results, failed)
	}
	return results
}

func (o *Orchestrator) await(ctx context.Context, ch <-chan sliceResult, deadline time.Time, s slice) sliceResult {
	timer := time.NewTimer(time.Until(deadline))
	defer timer.Stop()

	select {
	case r := <-ch:
		return r
	case <-timer.C:
		return sliceResult{err: fmt.Errorf("%w after %s", ErrTimeout, o.timeout), outcome: metrics.OutcomeTimeout}
	case <-ctx.Done():
		return sliceResult{err: ctx.Err(), outcome: metrics.OutcomeError}
	}
}

// runSlice embeds one slice and hands the worker back before reporting, so a
// caller that sees the result can reuse the worker immediately
func (o *Orchestrator) runSlice(ctx context.Context, w *worker, texts []string, ch chan<- sliceResult) {
	r := o.embedSlice(ctx, w, texts)
	if w.finish() {
		o.release(w)
	}
	ch <- r
}

func (o *Orchestrator) embedSlice(ctx context.Context, w *worker, texts []string) (r sliceResult) {
	defer func() {
		if p := recover(); p != nil {
			w.retire()
			r = sliceResult{err: fmt.Errorf("worker panic: %v", p), outcome: metrics.OutcomePanic}
		}
	}()

	vectors := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += embedder.DefaultBatchSize {
		end := start + embedder.DefaultBatchSize
		if end > len(texts) {
			end = len(texts)
		}
		if err := o.limiter.Wait(ctx); err != nil {
			return sliceResult{err: err, outcome: metrics.OutcomeError}
		}
		batch, err := embedder.EmbedTexts(ctx, w.emb, texts[start:end])
		if err != nil {
			return sliceResult{err: err, outcome: metrics.OutcomeError}
		}
		vectors = append(vectors, batch...)
	}
	return sliceResult{vectors: vectors, outcome: metrics.OutcomeOK}
}

// runFallback recomputes the failed chunks sequentially, one at a time
func (o *Orchestrator) runFallback(ctx context.Context, results []Result, failed []int) {
	o.fallbackMu.Lock()
	defer o.fallbackMu.Unlock()

	for _, idx := range failed {
		r := &results[idx]
		r.Fallback = true

		vec, err := o.embedOne(ctx, EmbeddingText(r.Chunk))
		o.metrics.FallbackChunk(err == nil)
		if err != nil {
			r.Error = err.Error()
			o.logger.Warn("chunk failed on fallback, dropping it",
				"chunk", r.Chunk.Key().String(),
				"error", err)
			continue
		}
		r.Chunk.Vector = vec
		r.Success = true
	}
}

type oneResult struct {
	vector []float32
	err    error
}

// embedOne embeds a single text on the fallback worker. Callers hold fallbackMu.
func (o *Orchestrator) embedOne(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if o.fallback == nil {
		emb, err := o.factory()
		if err != nil {
			return nil, fmt.Errorf("create fallback embedder: %w", err)
		}
		o.fallback = &worker{emb: emb}
	}
	w := o.fallback
	w.start()

	callCtx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	ch := make(chan oneResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				w.retire()
				ch <- oneResult{err: fmt.Errorf("fallback panic: %v", r)}
			}
			w.finish()
		}()
		if err := o.limiter.Wait(callCtx); err != nil {
			ch <- oneResult{err: err}
			return
		}
		emb, err := w.emb.GenerateEmbedding(callCtx, embedder.EmbeddingRequest{Text: text})
		if err != nil {
			ch <- oneResult{err: err}
			return
		}
		if len(emb.Vector) != w.emb.Dimension() {
			ch <- oneResult{err: fmt.Errorf("%w: got %d, want %d", embedder.ErrDimensionMismatch, len(emb.Vector), w.emb.Dimension())}
			return
		}
		ch <- oneResult{vector: emb.Vector}
	}()

	select {
	case r := <-ch:
		if w.isRetired() {
			o.fallback = nil
		}
		return r.vector, r.err
	case <-callCtx.Done():
		w.retire()
		o.fallback = nil
		if errors.Is(callCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return nil, fmt.Errorf("%w after %s", ErrTimeout, o.timeout)
		}
		return nil, callCtx.Err()
	}
}

// Close releases every idle worker and the fallback worker. Workers still
// running are closed when they finish.
func (o *Orchestrator) Close() error {
	o.mu.Lock()
	idle := o.idle
	o.idle = nil
	o.closed = true
	o.mu.Unlock()

	var errs []error
	for _, w := range idle {
		if err := w.emb.Close(); err != nil {
			errs = append(errs, err)
		}
	}

	o.fallbackMu.Lock()
	if o.fallback != nil {
		o.fallback.retire()
		o.fallback = nil
	}
	o.fallbackMu.Unlock()

	return errors.Join(errs...)
}
