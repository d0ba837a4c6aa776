package embedder

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"unicode"
)

// LocalProvider embeds text offline by feature hashing: every word and its
// camelCase/snake_case parts are hashed into one of Dimension buckets with a
// hash-derived sign, and the result is L2-normalized. Texts that share
// vocabulary get a high cosine similarity. It needs no model files or network.
type LocalProvider struct {
	model     string
	dimension int
	cache     *Cache
}

// NewLocalProvider creates the local embedder. dimension <= 0 uses LocalDimension.
func NewLocalProvider(dimension int, cache *Cache) (*LocalProvider, error) {
	if dimension <= 0 {
		dimension = LocalDimension
	}
	return &LocalProvider{
		model:     DefaultLocalModel,
		dimension: dimension,
		cache:     cache,
	}, nil
}

// GenerateEmbedding implements Embedder
func (l *LocalProvider) GenerateEmbedding(ctx context.Context, req EmbeddingRequest) (*Embedding, error) {
	if err := checkTexts(req.Text); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	hash := ComputeHash(req.Text)
	if l.cache != nil {
		if emb, ok := l.cache.Get(hash); ok {
			return emb, nil
		}
	}

	emb := &Embedding{Vector: l.vectorize(req.Text), Hash: hash}
	if l.cache != nil {
		l.cache.Set(emb)
	}
	return emb, nil
}

// GenerateBatch implements Embedder
func (l *LocalProvider) GenerateBatch(ctx context.Context, req BatchEmbeddingRequest) (*BatchEmbeddingResponse, error) {
	if err := checkTexts(req.Texts...); err != nil {
		return nil, err
	}

	embeddings := make([]*Embedding, len(req.Texts))
	for i, text := range req.Texts {
		emb, err := l.GenerateEmbedding(ctx, EmbeddingRequest{Text: text})
		if err != nil {
			return nil, err
		}
		embeddings[i] = emb
	}

	return &BatchEmbeddingResponse{Embeddings: embeddings}, nil
}

func (l *LocalProvider) vectorize(text string) []float32 {
	vector := make([]float32, l.dimension)
	for _, term := range Terms(text) {
		h := fnv.New64a()
		_, _ = h.Write([]byte(term))
		sum := h.Sum64()

		bucket := int(sum % uint64(l.dimension))
		if sum>>63 == 1 {
			vector[bucket]--
		} else {
			vector[bucket]++
		}
	}
	return NormalizeVector(vector)
}

// Terms lowercases text and splits it into words. Identifiers also yield
// their camelCase and snake_case parts.
func Terms(text string) []string {
	words := strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_'
	})

	terms := make([]string, 0, len(words))
	for _, word := range words {
		parts := splitIdentifier(word)
		lower := strings.ToLower(strings.Trim(word, "_"))
		if lower == "" {
			continue
		}
		terms = append(terms, lower)
		if len(parts) > 1 {
			for _, part := range parts {
				terms = append(terms, strings.ToLower(part))
			}
		}
	}
	return terms
}

// splitIdentifier splits fooBarBaz and foo_bar_baz into their parts
func splitIdentifier(word string) []string {
	var parts []string
	for _, snake := range strings.Split(word, "_") {
		if snake == "" {
			continue
		}
		runes := []rune(snake)
		start := 0
		for i := 1; i < len(runes); i++ {
			if unicode.IsUpper(runes[i]) && unicode.IsLower(runes[i-1]) {
				parts = append(parts, string(runes[start:i]))
				start = i
			}
		}
		parts = append(parts, string(runes[start:]))
	}
	return parts
}

// Dimension implements Embedder
func (l *LocalProvider) Dimension() int { return l.dimension }

// Provider implements Embedder
func (l *LocalProvider) Provider() string { return ProviderLocal }

// Model implements Embedder
func (l *LocalProvider) Model() string { return l.model }

// Close implements Embedder
func (l *LocalProvider) Close() error { return nil }

// NormalizeVector normalizes a vector to unit length (for cosine similarity)
func NormalizeVector(v []float32) []float32 {
	var sum float64
	for _, val := range v {
		sum += float64(val) * float64(val)
	}
	if sum == 0 {
		return v
	}

	norm := float32(math.Sqrt(sum))
	result := make([]float32, len(v))
	for i, val := range v {
		result[i] = val / norm
	}
	return result
}
