package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/semsearch-mcp/internal/embedder"
	"github.com/dshills/semsearch-mcp/internal/metrics"
	"github.com/dshills/semsearch-mcp/pkg/types"
)

const testDim = 4

type behavior int

const (
	behaveOK behavior = iota
	behaveHang
	behavePanic
	behaveError
)

// scriptedEmbedder answers with a vector derived from the text length and
// fails batches according to its behavior
type scriptedEmbedder struct {
	behavior behavior
	release  <-chan struct{}
	poison   string

	mu          sync.Mutex
	batchCalls  int
	singleCalls int
	closed      bool
}

func vectorFor(text string) []float32 {
	return []float32{float32(len(text)), 1, 0, 0}
}

func (e *scriptedEmbedder) GenerateEmbedding(ctx context.Context, req embedder.EmbeddingRequest) (*embedder.Embedding, error) {
	e.mu.Lock()
	e.singleCalls++
	e.mu.Unlock()

	if e.poison != "" && strings.Contains(req.Text, e.poison) {
		return nil, errors.New("poisoned text")
	}
	return &embedder.Embedding{Vector: vectorFor(req.Text)}, nil
}

func (e *scriptedEmbedder) GenerateBatch(ctx context.Context, req embedder.BatchEmbeddingRequest) (*embedder.BatchEmbeddingResponse, error) {
	e.mu.Lock()
	e.batchCalls++
	e.mu.Unlock()

	switch e.behavior {
	case behaveHang:
		// Ignores ctx on purpose: the orchestrator must not depend on cancellation
		<-e.release
		return nil, errors.New("released")
	case behavePanic:
		panic("model crashed")
	case behaveError:
		return nil, errors.New("provider unavailable")
	}

	resp := &embedder.BatchEmbeddingResponse{}
	for _, text := range req.Texts {
		if e.poison != "" && strings.Contains(text, e.poison) {
			return nil, errors.New("poisoned batch")
		}
		resp.Embeddings = append(resp.Embeddings, &embedder.Embedding{Vector: vectorFor(text)})
	}
	return resp, nil
}

func (e *scriptedEmbedder) Dimension() int   { return testDim }
func (e *scriptedEmbedder) Provider() string { return "scripted" }
func (e *scriptedEmbedder) Model() string    { return "scripted" }

func (e *scriptedEmbedder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	return nil
}

func (e *scriptedEmbedder) isClosed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closed
}

// scriptedFactory hands out embedders whose behavior is picked by creation order
type scriptedFactory struct {
	behaviors []behavior
	release   chan struct{}
	unblock   sync.Once
	poison    string

	mu        sync.Mutex
	instances []*scriptedEmbedder
}

func newScriptedFactory(t *testing.T, behaviors ...behavior) *scriptedFactory {
	f := &scriptedFactory{behaviors: behaviors, release: make(chan struct{})}
	t.Cleanup(f.unhang)
	return f
}

// unhang lets every hung embedder return
func (f *scriptedFactory) unhang() {
	f.unblock.Do(func() { close(f.release) })
}

func (f *scriptedFactory) New() (embedder.Embedder, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	b := behaveOK
	if n := len(f.instances); n < len(f.behaviors) {
		b = f.behaviors[n]
	}
	e := &scriptedEmbedder{behavior: b, release: f.release, poison: f.poison}
	f.instances = append(f.instances, e)
	return e, nil
}

func (f *scriptedFactory) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.instances)
}

func (f *scriptedFactory) instance(i int) *scriptedEmbedder {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.instances[i]
}

type fixedLimiter struct {
	workers int
}

func (l fixedLimiter) Workers(int) int                { return l.workers }
func (l fixedLimiter) Wait(ctx context.Context) error { return ctx.Err() }

func makeChunks(n int) []types.Chunk {
	chunks := make([]types.Chunk, n)
	for i := range chunks {
		chunks[i] = types.Chunk{
			File:      "/ws/file.go",
			StartLine: i*10 + 1,
			EndLine:   i*10 + 9,
			Content:   fmt.Sprintf("func f%d() {}%s", i, strings.Repeat(" ", i)),
		}
	}
	return chunks
}

func assertAligned(t *testing.T, chunks []types.Chunk, results []Result) {
	t.Helper()
	require.Len(t, results, len(chunks))
	for i, r := range results {
		assert.Equal(t, chunks[i].Key(), r.Chunk.Key())
		assert.Equal(t, chunks[i].Content, r.Chunk.Content)
		if r.Success {
			assert.Equal(t, vectorFor(EmbeddingText(chunks[i])), r.Chunk.Vector)
		}
	}
}

func TestPartition(t *testing.T) {
	tests := []struct {
		name  string
		n     int
		parts int
		want  []slice
	}{
		{"empty", 0, 4, nil},
		{"even", 6, 3, []slice{{0, 2}, {2, 4}, {4, 6}}},
		{"uneven", 7, 3, []slice{{0, 3}, {3, 5}, {5, 7}}},
		{"more parts than items", 2, 5, []slice{{0, 1}, {1, 2}}},
		{"single", 5, 1, []slice{{0, 5}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, partition(tt.n, tt.parts))
		})
	}
}

func TestNewWorkerCount(t *testing.T) {
	f := newScriptedFactory(t)

	o := New(Config{Model: "local"}, f.New, fixedLimiter{workers: 4}, nil, nil)
	assert.Equal(t, 4, o.Workers())

	o = New(Config{Model: "nomic-embed-text:v1.5"}, f.New, fixedLimiter{workers: 4}, nil, nil)
	assert.Equal(t, 1, o.Workers())

	o = New(Config{Model: "nomic-embed-text", SingleThreadedModels: []string{}}, f.New, fixedLimiter{workers: 4}, nil, nil)
	assert.Equal(t, 4, o.Workers())

	o = New(Config{}, f.New, fixedLimiter{workers: 0}, nil, nil)
	assert.Equal(t, 1, o.Workers())
}

func TestEmbedBatchEmpty(t *testing.T) {
	f := newScriptedFactory(t)
	o := New(Config{}, f.New, fixedLimiter{workers: 2}, nil, nil)

	results := o.EmbedBatch(context.Background(), nil)
	assert.Empty(t, results)
	assert.Zero(t, f.count())
}

func TestEmbedBatchParallel(t *testing.T) {
	f := newScriptedFactory(t)
	o := New(Config{}, f.New, fixedLimiter{workers: 3}, nil, metrics.New())
	defer o.Close()

	chunks := makeChunks(10)
	results := o.EmbedBatch(context.Background(), chunks)

	assertAligned(t, chunks, results)
	for _, r := range results {
		assert.True(t, r.Success)
		assert.False(t, r.Fallback)
		assert.Empty(t, r.Error)
	}
	assert.Equal(t, 3, f.count())
	for i := 0; i < 3; i++ {
		assert.Equal(t, 1, f.instance(i).batchCalls)
	}

	// The pool is reused across calls
	results = o.EmbedBatch(context.Background(), makeChunks(4))
	assert.Len(t, results, 4)
	assert.Equal(t, 3, f.count())
}

func TestEmbedBatchWorkerTimeout(t *testing.T) {
	f := newScriptedFactory(t, behaveHang)
	o := New(Config{BatchTimeout: 50 * time.Millisecond}, f.New, fixedLimiter{workers: 3}, nil, nil)
	defer o.Close()

	chunks := makeChunks(9)
	start := time.Now()
	results := o.EmbedBatch(context.Background(), chunks)
	assert.Less(t, time.Since(start), 5*time.Second)

	// No chunk is lost: the hung slice is recomputed on the fallback path
	assertAligned(t, chunks, results)
	for i, r := range results {
		assert.True(t, r.Success, "chunk %d", i)
		assert.Equal(t, i < 3, r.Fallback, "chunk %d", i)
	}

	// Workers 1 and 2 plus the fallback embedder
	require.Equal(t, 4, f.count())
	assert.Equal(t, 3, f.instance(3).singleCalls)

	// The hung worker is never handed out again
	results = o.EmbedBatch(context.Background(), chunks)
	for _, r := range results {
		assert.True(t, r.Success)
		assert.False(t, r.Fallback)
	}
	assert.Equal(t, 1, f.instance(0).batchCalls)
}

func TestEmbedBatchRetiresTimedOutWorker(t *testing.T) {
	f := newScriptedFactory(t, behaveHang)
	o := New(Config{BatchTimeout: 50 * time.Millisecond}, f.New, fixedLimiter{workers: 1}, nil, metrics.New())
	defer o.Close()

	chunks := makeChunks(2)
	results := o.EmbedBatch(context.Background(), chunks)
	for _, r := range results {
		assert.True(t, r.Success)
		assert.True(t, r.Fallback)
	}

	// Once the hung call returns its embedder is closed, not pooled
	f.unhang()
	hung := f.instance(0)
	assert.Eventually(t, hung.isClosed, time.Second, 10*time.Millisecond)

	results = o.EmbedBatch(context.Background(), chunks)
	for _, r := range results {
		assert.True(t, r.Success)
		assert.False(t, r.Fallback)
	}
	assert.Equal(t, 1, hung.batchCalls)
	assert.Equal(t, 3, f.count())
}

func TestEmbedBatchWorkerPanic(t *testing.T) {
	f := newScriptedFactory(t, behaveOK, behavePanic)
	o := New(Config{}, f.New, fixedLimiter{workers: 2}, nil, metrics.New())
	defer o.Close()

	chunks := makeChunks(6)
	results := o.EmbedBatch(context.Background(), chunks)

	assertAligned(t, chunks, results)
	for i, r := range results {
		assert.True(t, r.Success, "chunk %d", i)
		assert.Equal(t, i >= 3, r.Fallback, "chunk %d", i)
	}

	// The crashed worker was closed and replaced
	assert.Eventually(t, f.instance(1).isClosed, time.Second, 10*time.Millisecond)
}

func TestEmbedBatchWorkerError(t *testing.T) {
	f := newScriptedFactory(t, behaveError)
	o := New(Config{}, f.New, fixedLimiter{workers: 1}, nil, nil)
	defer o.Close()

	chunks := makeChunks(3)
	results := o.EmbedBatch(context.Background(), chunks)

	assertAligned(t, chunks, results)
	for _, r := range results {
		assert.True(t, r.Success)
		assert.True(t, r.Fallback)
	}

	// An erroring worker is healthy enough to keep
	assert.False(t, f.instance(0).isClosed())
}

func TestEmbedBatchDropsChunkFailingTwice(t *testing.T) {
	f := newScriptedFactory(t)
	f.poison = "f1()"
	o := New(Config{}, f.New, fixedLimiter{workers: 2}, nil, nil)
	defer o.Close()

	chunks := makeChunks(4)
	results := o.EmbedBatch(context.Background(), chunks)
	assertAligned(t, chunks, results)

	// Slice 0 failed as a whole; only the poisoned chunk fails again
	assert.True(t, results[0].Success)
	assert.True(t, results[0].Fallback)
	assert.False(t, results[1].Success)
	assert.True(t, results[1].Fallback)
	assert.NotEmpty(t, results[1].Error)
	assert.Nil(t, results[1].Chunk.Vector)
	assert.True(t, results[2].Success)
	assert.True(t, results[3].Success)
	assert.False(t, results[2].Fallback)

	// Exactly one fallback attempt per failed chunk
	assert.Equal(t, 2, f.instance(2).singleCalls)
}

func TestEmbedBatchCancelledContext(t *testing.T) {
	f := newScriptedFactory(t)
	o := New(Config{}, f.New, fixedLimiter{workers: 2}, nil, nil)
	defer o.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	chunks := makeChunks(4)
	results := o.EmbedBatch(ctx, chunks)
	assertAligned(t, chunks, results)
	for _, r := range results {
		assert.False(t, r.Success)
		assert.NotEmpty(t, r.Error)
	}
}

func TestCloseReleasesIdleWorkers(t *testing.T) {
	f := newScriptedFactory(t)
	o := New(Config{}, f.New, fixedLimiter{workers: 2}, nil, nil)

	o.EmbedBatch(context.Background(), makeChunks(4))
	require.NoError(t, o.Close())

	assert.True(t, f.instance(0).isClosed())
	assert.True(t, f.instance(1).isClosed())
}

func TestEmbeddingText(t *testing.T) {
	c := types.Chunk{File: "/ws/a.js", Content: "function a() {}"}
	assert.Equal(t, "File: /ws/a.js\n\nfunction a() {}", EmbeddingText(c))
}
