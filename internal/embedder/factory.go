package embedder

import (
	"fmt"
	"os"
	"strings"
	"time"
)

// Environment variables read by NewFromEnv and DetectProvider
const (
	EnvProvider     = "SEMSEARCH_EMBEDDING_PROVIDER"
	EnvJinaAPIKey   = "JINA_API_KEY"
	EnvOpenAIAPIKey = "OPENAI_API_KEY"
)

// Config holds embedder configuration
type Config struct {
	Provider  string
	Model     string
	Dimension int
	APIKey    string
	BaseURL   string
	Timeout   time.Duration
	CacheSize int // 0 disables the cache
}

// New creates an embedder with explicit configuration. An empty API key
// falls back to the provider's environment variable.
func New(cfg Config) (Embedder, error) {
	var cache *Cache
	if cfg.CacheSize > 0 {
		cache = NewCache(cfg.CacheSize)
	}
	return newWithCache(cfg, cache)
}

func newWithCache(cfg Config, cache *Cache) (Embedder, error) {
	opts := APIOptions{
		APIKey:    cfg.APIKey,
		Model:     cfg.Model,
		Dimension: cfg.Dimension,
		BaseURL:   cfg.BaseURL,
		Timeout:   cfg.Timeout,
		Cache:     cache,
	}

	switch strings.ToLower(cfg.Provider) {
	case ProviderJina:
		if opts.APIKey == "" {
			opts.APIKey = os.Getenv(EnvJinaAPIKey)
		}
		return NewJinaProvider(opts)
	case ProviderOpenAI:
		if opts.APIKey == "" {
			opts.APIKey = os.Getenv(EnvOpenAIAPIKey)
		}
		return NewOpenAIProvider(opts)
	case ProviderLocal, "":
		return NewLocalProvider(cfg.Dimension, cache)
	default:
		return nil, fmt.Errorf("%w: unknown provider %s", ErrUnknownProvider, cfg.Provider)
	}
}

// NewFactory returns a Factory producing independent embedder instances
// that share one embedding cache
func NewFactory(cfg Config) Factory {
	var cache *Cache
	if cfg.CacheSize > 0 {
		cache = NewCache(cfg.CacheSize)
	}
	return func() (Embedder, error) {
		return newWithCache(cfg, cache)
	}
}

// NewFromEnv creates an embedder based on environment variables
// Priority:
// 1. SEMSEARCH_EMBEDDING_PROVIDER (jina, openai, local)
// 2. Check for API keys: JINA_API_KEY, OPENAI_API_KEY
// 3. Default to local if no API keys found
func NewFromEnv() (Embedder, error) {
	return New(Config{Provider: DetectProvider(), CacheSize: 10000})
}

// DetectProvider returns the provider that would be used based on current environment
func DetectProvider() string {
	if provider := os.Getenv(EnvProvider); provider != "" {
		return strings.ToLower(provider)
	}
	if os.Getenv(EnvJinaAPIKey) != "" {
		return ProviderJina
	}
	if os.Getenv(EnvOpenAIAPIKey) != "" {
		return ProviderOpenAI
	}
	return ProviderLocal
}
