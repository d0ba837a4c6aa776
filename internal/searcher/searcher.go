package searcher

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/dshills/semsearch-mcp/internal/embedder"
	"github.com/dshills/semsearch-mcp/internal/metrics"
	"github.com/dshills/semsearch-mcp/internal/storage"
	"github.com/dshills/semsearch-mcp/pkg/types"
)

const (
	// DefaultSemanticWeight is the share of the score taken by cosine similarity
	DefaultSemanticWeight = 0.7
	// DefaultExactMatchBoost is added when the query appears verbatim in a chunk
	DefaultExactMatchBoost = 1.5
	// DefaultMaxResults is the result count when the caller asks for none
	DefaultMaxResults = 5
	// MaxTopK caps any requested result count
	MaxTopK = 100
	// DefaultQueryCacheSize is the number of query vectors kept
	DefaultQueryCacheSize = 256
)

// ErrEmptyQuery is returned for a blank query
var ErrEmptyQuery = errors.New("query cannot be empty")

// Weights are the two ranking parameters
type Weights struct {
	SemanticWeight  float64 // 0..1
	ExactMatchBoost float64 // >= 0
}

// Config contains configuration for the searcher
type Config struct {
	Weights
	MaxResults     int
	QueryCacheSize int
}

// ChunkScanner streams stored chunks
type ChunkScanner interface {
	ScanChunks(ctx context.Context, fn func(types.Chunk) error) error
}

// IndexState reports whether an indexing run is writing to the store
type IndexState interface {
	IsIndexing() bool
}

// SearchResponse contains search results and metadata
type SearchResponse struct {
	Query    string               `json:"query"`
	Results  []types.SearchResult `json:"results"`
	Partial  bool                 `json:"partial"`
	Scanned  int                  `json:"scanned"`
	CacheHit bool                 `json:"cache_hit"`
	Duration time.Duration        `json:"duration_ns"`
}

// Searcher ranks stored chunks against a query
type Searcher struct {
	store    ChunkScanner
	embedder embedder.Embedder
	state    IndexState
	cfg      Config
	logger   *slog.Logger
	metrics  *metrics.Metrics

	cache   *lru.Cache[[32]byte, []float32]
	cacheMu sync.Mutex
}

// NewSearcher creates a new Searcher instance. state may be nil when no
// indexer shares the store.
func NewSearcher(store ChunkScanner, emb embedder.Embedder, state IndexState, cfg Config, logger *slog.Logger, m *metrics.Metrics) *Searcher {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if cfg.MaxResults <= 0 {
		cfg.MaxResults = DefaultMaxResults
	}
	if cfg.QueryCacheSize <= 0 {
		cfg.QueryCacheSize = DefaultQueryCacheSize
	}

	cache, err := lru.New[[32]byte, []float32](cfg.QueryCacheSize)
	if err != nil {
		// This should never happen with valid size parameter
		panic(fmt.Sprintf("failed to create LRU cache: %v", err))
	}

	return &Searcher{
		store:    store,
		embedder: emb,
		state:    state,
		cfg:      cfg,
		logger:   logger,
		metrics:  m,
		cache:    cache,
	}
}

// DefaultWeights returns the shipped ranking parameters
func DefaultWeights() Weights {
	return Weights{SemanticWeight: DefaultSemanticWeight, ExactMatchBoost: DefaultExactMatchBoost}
}

// Score combines the ranking signals:
//
//	score = w*sim + (1-w)*overlap + boost*exact
//
// where sim is cosine similarity, overlap the share of query terms found in
// the chunk and exact is 1 when the normalized query occurs in the chunk.
func Score(w Weights, sim, overlap float64, exact bool) float64 {
	score := w.SemanticWeight*sim + (1-w.SemanticWeight)*overlap
	if exact {
		score += w.ExactMatchBoost
	}
	return score
}

// Normalize lowercases text and collapses whitespace runs to one space
func Normalize(text string) string {
	return strings.Join(strings.Fields(strings.ToLower(text)), " ")
}

// query holds the lexical form of a query, computed once per search
type query struct {
	normalized string
	terms      []string
}

func newQuery(text string) query {
	seen := make(map[string]bool)
	var terms []string
	for _, t := range embedder.Terms(text) {
		if !seen[t] {
			seen[t] = true
			terms = append(terms, t)
		}
	}
	return query{normalized: Normalize(text), terms: terms}
}

// termOverlap is the share of query terms present in the chunk content or file name
func (q query) termOverlap(c *types.Chunk) float64 {
	if len(q.terms) == 0 {
		return 0
	}
	present := make(map[string]bool)
	for _, t := range embedder.Terms(c.Content) {
		present[t] = true
	}
	for _, t := range embedder.Terms(filepath.Base(c.File)) {
		present[t] = true
	}

	hits := 0
	for _, t := range q.terms {
		if present[t] {
			hits++
		}
	}
	return float64(hits) / float64(len(q.terms))
}

func (q query) exact(content string) bool {
	return q.normalized != "" && strings.Contains(Normalize(content), q.normalized)
}

// ranksBefore orders by score desc, then file, then start and end line
func ranksBefore(a, b *types.SearchResult) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	if a.File != b.File {
		return a.File < b.File
	}
	if a.StartLine != b.StartLine {
		return a.StartLine < b.StartLine
	}
	return a.EndLine < b.EndLine
}

// topK keeps the best k results seen so far, in rank order
type topK struct {
	k       int
	results []types.SearchResult
}

func (t *topK) offer(r types.SearchResult) {
	i := sort.Search(len(t.results), func(i int) bool {
		return ranksBefore(&r, &t.results[i])
	})
	if i >= t.k {
		return
	}
	if len(t.results) < t.k {
		t.results = append(t.results, types.SearchResult{})
	}
	copy(t.results[i+1:], t.results[i:])
	t.results[i] = r
}

// Search ranks every stored chunk against query and returns the best topK.
// topK <= 0 uses the configured maximum; any value is capped at MaxTopK.
// While an indexing run is in progress the results come from whatever is
// already stored and the response is marked Partial.
func (s *Searcher) Search(ctx context.Context, text string, k int) (*SearchResponse, error) {
	startTime := time.Now()

	if s.embedder == nil {
		return nil, fmt.Errorf("embedder not initialized")
	}
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyQuery
	}
	if k <= 0 {
		k = s.cfg.MaxResults
	}
	if k > MaxTopK {
		k = MaxTopK
	}

	partial := s.state != nil && s.state.IsIndexing()

	vector, cacheHit, err := s.queryVector(ctx, text)
	if err != nil {
		return nil, err
	}

	q := newQuery(text)
	best := &topK{k: k}
	scanned := 0
	err = s.store.ScanChunks(ctx, func(c types.Chunk) error {
		scanned++
		sim := storage.CosineSimilarity(vector, c.Vector)
		overlap := q.termOverlap(&c)
		exact := q.exact(c.Content)

		best.offer(types.SearchResult{
			File:        c.File,
			StartLine:   c.StartLine,
			EndLine:     c.EndLine,
			Content:     c.Content,
			Score:       Score(s.cfg.Weights, sim, overlap, exact),
			Similarity:  sim,
			TermOverlap: overlap,
			ExactMatch:  exact,
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan chunks: %w", err)
	}

	results := best.results
	if results == nil {
		results = []types.SearchResult{}
	}

	resp := &SearchResponse{
		Query:    text,
		Results:  results,
		Partial:  partial,
		Scanned:  scanned,
		CacheHit: cacheHit,
		Duration: time.Since(startTime),
	}
	s.metrics.Search(partial, resp.Duration)
	s.logger.Debug("search finished",
		"query", text,
		"results", len(results),
		"scanned", scanned,
		"partial", partial,
		"duration", resp.Duration)

	return resp, nil
}

// queryVector embeds the query, reusing cached vectors
func (s *Searcher) queryVector(ctx context.Context, text string) ([]float32, bool, error) {
	key := sha256.Sum256([]byte(text))

	s.cacheMu.Lock()
	cached, ok := s.cache.Get(key)
	s.cacheMu.Unlock()
	if ok {
		return cached, true, nil
	}

	emb, err := s.embedder.GenerateEmbedding(ctx, embedder.EmbeddingRequest{Text: text})
	if err != nil {
		return nil, false, fmt.Errorf("failed to generate query embedding: %w", err)
	}

	s.cacheMu.Lock()
	s.cache.Add(key, emb.Vector)
	s.cacheMu.Unlock()
	return emb.Vector, false, nil
}

// InvalidateCache drops every cached query vector
func (s *Searcher) InvalidateCache() {
	s.cacheMu.Lock()
	s.cache.Purge()
	s.cacheMu.Unlock()
}

// CacheLen returns the number of cached query vectors
func (s *Searcher) CacheLen() int {
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	return s.cache.Len()
}
