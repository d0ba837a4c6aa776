package embedder

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Errors returned by embedders
var (
	ErrEmptyText         = errors.New("text cannot be empty")
	ErrBatchTooLarge     = errors.New("batch size exceeds limit")
	ErrMissingAPIKey     = errors.New("embedding api key not set")
	ErrUnknownProvider   = errors.New("unknown embedding provider")
	ErrProviderFailed    = errors.New("embedding provider failed")
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
)

// Embedding is one vector and the hash of the text it was computed from
type Embedding struct {
	Vector []float32
	Hash   string
}

// EmbeddingRequest asks for the vector of one text
type EmbeddingRequest struct {
	Text string
}

// BatchEmbeddingRequest asks for the vectors of several texts
type BatchEmbeddingRequest struct {
	Texts []string
}

// BatchEmbeddingResponse is index-aligned with the request texts
type BatchEmbeddingResponse struct {
	Embeddings []*Embedding
}

// Embedder turns text into fixed-length vectors. Instances are not shared
// between indexing workers; every worker builds its own through a Factory.
type Embedder interface {
	GenerateEmbedding(ctx context.Context, req EmbeddingRequest) (*Embedding, error)
	GenerateBatch(ctx context.Context, req BatchEmbeddingRequest) (*BatchEmbeddingResponse, error)

	// Dimension is the length of every vector this embedder returns
	Dimension() int
	Provider() string
	Model() string
	Close() error
}

// Factory builds a fresh Embedder instance
type Factory func() (Embedder, error)

// Cache maps text hashes to vectors with LRU eviction. It is shared by every
// instance a Factory builds.
type Cache struct {
	vectors *lru.Cache[string, []float32]
}

// NewCache creates a cache holding at most size vectors
func NewCache(size int) *Cache {
	if size <= 0 {
		size = 10000
	}
	vectors, _ := lru.New[string, []float32](size)
	return &Cache{vectors: vectors}
}

// Get returns a copy of the cached vector for hash
func (c *Cache) Get(hash string) (*Embedding, bool) {
	v, ok := c.vectors.Get(hash)
	if !ok {
		return nil, false
	}
	return &Embedding{Vector: append([]float32(nil), v...), Hash: hash}, true
}

// Set caches emb under its hash
func (c *Cache) Set(emb *Embedding) {
	c.vectors.Add(emb.Hash, append([]float32(nil), emb.Vector...))
}

// ComputeHash computes the SHA-256 hash of text, used as the cache key
func ComputeHash(text string) string {
	h := sha256.Sum256([]byte(text))
	return hex.EncodeToString(h[:])
}

// checkTexts rejects an empty batch or any empty text in it
func checkTexts(texts ...string) error {
	if len(texts) == 0 {
		return fmt.Errorf("%w: no texts provided", ErrEmptyText)
	}
	for i, text := range texts {
		if text == "" {
			return fmt.Errorf("%w: text at index %d", ErrEmptyText, i)
		}
	}
	return nil
}

// EmbedTexts embeds texts in sub-batches of DefaultBatchSize and checks that
// every vector has the embedder's dimension. The result is index-aligned with texts.
func EmbedTexts(ctx context.Context, e Embedder, texts []string) ([][]float32, error) {
	vectors := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += DefaultBatchSize {
		end := start + DefaultBatchSize
		if end > len(texts) {
			end = len(texts)
		}

		resp, err := e.GenerateBatch(ctx, BatchEmbeddingRequest{Texts: texts[start:end]})
		if err != nil {
			return nil, err
		}
		if len(resp.Embeddings) != end-start {
			return nil, fmt.Errorf("%w: got %d embeddings for %d texts", ErrProviderFailed, len(resp.Embeddings), end-start)
		}
		for _, emb := range resp.Embeddings {
			if len(emb.Vector) != e.Dimension() {
				return nil, fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(emb.Vector), e.Dimension())
			}
			vectors = append(vectors, emb.Vector)
		}
	}
	return vectors, nil
}
