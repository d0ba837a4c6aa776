package embedder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"time"
)

// Provider configuration
const (
	ProviderJina   = "jina"
	ProviderOpenAI = "openai"
	ProviderLocal  = "local"

	// Default models
	DefaultJinaModel   = "jina-embeddings-v3"
	DefaultOpenAIModel = "text-embedding-3-small"
	DefaultLocalModel  = "local-hashed-bow"

	// Default endpoints
	DefaultJinaURL   = "https://api.jina.ai/v1/embeddings"
	DefaultOpenAIURL = "https://api.openai.com/v1/embeddings"

	// Dimensions
	JinaDimension   = 1024
	OpenAIDimension = 1536
	LocalDimension  = 384

	// Batch limits
	DefaultBatchSize = 50
	MaxBatchSize     = 100

	// Retry configuration
	MaxRetries        = 3
	InitialBackoffMs  = 100
	MaxBackoffMs      = 5000
	BackoffMultiplier = 2.0

	defaultHTTPTimeout = 30 * time.Second
)

// APIOptions configures an HTTP embedding provider
type APIOptions struct {
	APIKey    string
	Model     string
	Dimension int    // 0 uses the provider default and omits the dimensions field
	BaseURL   string // overrides the provider endpoint
	Timeout   time.Duration
	Cache     *Cache
}

// APIProvider implements Embedder against an OpenAI-compatible /v1/embeddings
// endpoint. Jina and OpenAI share the request and response format.
type APIProvider struct {
	name       string
	endpoint   string
	apiKey     string
	model      string
	dimension  int
	sendDims   bool
	httpClient *http.Client
	cache      *Cache
	retry      RetryConfig
}

// NewJinaProvider creates a Jina AI embedder
func NewJinaProvider(opts APIOptions) (*APIProvider, error) {
	return newAPIProvider(ProviderJina, EnvJinaAPIKey, DefaultJinaURL, DefaultJinaModel, JinaDimension, opts)
}

// NewOpenAIProvider creates an OpenAI embedder
func NewOpenAIProvider(opts APIOptions) (*APIProvider, error) {
	return newAPIProvider(ProviderOpenAI, EnvOpenAIAPIKey, DefaultOpenAIURL, DefaultOpenAIModel, OpenAIDimension, opts)
}

func newAPIProvider(name, keyEnv, endpoint, model string, dimension int, opts APIOptions) (*APIProvider, error) {
	if opts.APIKey == "" {
		return nil, fmt.Errorf("%w: %s not set", ErrMissingAPIKey, keyEnv)
	}

	p := &APIProvider{
		name:      name,
		endpoint:  endpoint,
		apiKey:    opts.APIKey,
		model:     model,
		dimension: dimension,
		cache:     opts.Cache,
		retry:     DefaultRetryConfig(),
	}
	if opts.BaseURL != "" {
		p.endpoint = opts.BaseURL
	}
	if opts.Model != "" {
		p.model = opts.Model
	}
	if opts.Dimension > 0 {
		p.dimension = opts.Dimension
		p.sendDims = true
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultHTTPTimeout
	}
	p.httpClient = &http.Client{Timeout: timeout}

	return p, nil
}

// GenerateEmbedding implements Embedder
func (p *APIProvider) GenerateEmbedding(ctx context.Context, req EmbeddingRequest) (*Embedding, error) {
	if err := checkTexts(req.Text); err != nil {
		return nil, err
	}

	resp, err := p.GenerateBatch(ctx, BatchEmbeddingRequest{Texts: []string{req.Text}})
	if err != nil {
		return nil, err
	}
	return resp.Embeddings[0], nil
}

// GenerateBatch implements Embedder. Cached texts are not sent to the API.
func (p *APIProvider) GenerateBatch(ctx context.Context, req BatchEmbeddingRequest) (*BatchEmbeddingResponse, error) {
	if err := checkTexts(req.Texts...); err != nil {
		return nil, err
	}
	if len(req.Texts) > MaxBatchSize {
		return nil, fmt.Errorf("%w: max %d texts allowed", ErrBatchTooLarge, MaxBatchSize)
	}

	embeddings := make([]*Embedding, len(req.Texts))
	var missing []int
	for i, text := range req.Texts {
		if p.cache != nil {
			if emb, ok := p.cache.Get(ComputeHash(text)); ok {
				embeddings[i] = emb
				continue
			}
		}
		missing = append(missing, i)
	}

	if len(missing) > 0 {
		texts := make([]string, len(missing))
		for j, i := range missing {
			texts[j] = req.Texts[i]
		}

		fetched, err := retryWithBackoff(ctx, p.retry, func() ([]*Embedding, error) {
			return p.callAPI(ctx, texts)
		})
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrProviderFailed, err)
		}
		if len(fetched) != len(texts) {
			return nil, fmt.Errorf("%w: got %d embeddings for %d texts", ErrProviderFailed, len(fetched), len(texts))
		}

		for j, i := range missing {
			emb := fetched[j]
			emb.Hash = ComputeHash(req.Texts[i])
			if p.cache != nil {
				p.cache.Set(emb)
			}
			embeddings[i] = emb
		}
	}

	return &BatchEmbeddingResponse{Embeddings: embeddings}, nil
}

type apiRequest struct {
	Input      []string `json:"input"`
	Model      string   `json:"model"`
	Dimensions int      `json:"dimensions,omitempty"`
}

type apiResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
}

func (p *APIProvider) callAPI(ctx context.Context, texts []string) ([]*Embedding, error) {
	reqBody := apiRequest{Input: texts, Model: p.model}
	if p.sendDims {
		reqBody.Dimensions = p.dimension
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, permanent(fmt.Errorf("marshal request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, permanent(fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("api call: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		err := fmt.Errorf("api error %d: %s", resp.StatusCode, string(bodyBytes))
		// Client errors other than rate limiting will not succeed on retry
		if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
			return nil, permanent(err)
		}
		return nil, err
	}

	var apiResp apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	sort.SliceStable(apiResp.Data, func(i, j int) bool {
		return apiResp.Data[i].Index < apiResp.Data[j].Index
	})

	embeddings := make([]*Embedding, len(apiResp.Data))
	for i, data := range apiResp.Data {
		if len(data.Embedding) != p.dimension {
			return nil, permanent(fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(data.Embedding), p.dimension))
		}
		embeddings[i] = &Embedding{Vector: data.Embedding}
	}
	return embeddings, nil
}

// Dimension implements Embedder
func (p *APIProvider) Dimension() int { return p.dimension }

// Provider implements Embedder
func (p *APIProvider) Provider() string { return p.name }

// Model implements Embedder
func (p *APIProvider) Model() string { return p.model }

// Close implements Embedder
func (p *APIProvider) Close() error {
	p.httpClient.CloseIdleConnections()
	return nil
}
