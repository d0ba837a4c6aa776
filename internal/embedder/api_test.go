package embedder

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeAPI serves an OpenAI-compatible embeddings endpoint
type fakeAPI struct {
	mu        sync.Mutex
	callCount int
	failFirst int
	status    int
	dimension int
	lastReq   apiRequest
}

func (f *fakeAPI) handler(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.callCount++
		call := f.callCount
		f.mu.Unlock()

		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		if call <= f.failFirst {
			w.WriteHeader(f.status)
			return
		}

		var req apiRequest
		if !assert.NoError(t, json.NewDecoder(r.Body).Decode(&req)) {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		f.mu.Lock()
		f.lastReq = req
		f.mu.Unlock()

		// Reply in reverse index order to check reordering
		type item struct {
			Embedding []float32 `json:"embedding"`
			Index     int       `json:"index"`
		}
		data := make([]item, 0, len(req.Input))
		for i := len(req.Input) - 1; i >= 0; i-- {
			vec := make([]float32, f.dimension)
			vec[0] = float32(len(req.Input[i]))
			data = append(data, item{Embedding: vec, Index: i})
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"model": req.Model, "data": data})
	}
}

func newTestProvider(t *testing.T, api *fakeAPI, opts APIOptions) *APIProvider {
	t.Helper()
	server := httptest.NewServer(api.handler(t))
	t.Cleanup(server.Close)

	opts.APIKey = "test-key"
	opts.BaseURL = server.URL
	p, err := NewOpenAIProvider(opts)
	require.NoError(t, err)
	p.retry = RetryConfig{MaxRetries: 3, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, Multiplier: 2}
	return p
}

func TestAPIProviderBatch(t *testing.T) {
	api := &fakeAPI{dimension: 8}
	p := newTestProvider(t, api, APIOptions{Dimension: 8})
	defer p.Close()

	resp, err := p.GenerateBatch(context.Background(), BatchEmbeddingRequest{Texts: []string{"a", "bbb"}})
	require.NoError(t, err)
	require.Len(t, resp.Embeddings, 2)

	// Response data is reordered by index
	assert.Equal(t, float32(1), resp.Embeddings[0].Vector[0])
	assert.Equal(t, float32(3), resp.Embeddings[1].Vector[0])
	assert.Equal(t, 8, api.lastReq.Dimensions)
	assert.Equal(t, DefaultOpenAIModel, api.lastReq.Model)
}

func TestAPIProviderUsesCache(t *testing.T) {
	api := &fakeAPI{dimension: OpenAIDimension}
	p := newTestProvider(t, api, APIOptions{Cache: NewCache(10)})
	ctx := context.Background()

	_, err := p.GenerateEmbedding(ctx, EmbeddingRequest{Text: "alpha"})
	require.NoError(t, err)

	resp, err := p.GenerateBatch(ctx, BatchEmbeddingRequest{Texts: []string{"alpha", "beta"}})
	require.NoError(t, err)
	require.Len(t, resp.Embeddings, 2)

	assert.Equal(t, 2, api.callCount)
	assert.Equal(t, []string{"beta"}, api.lastReq.Input, "cached text is not sent again")
	assert.Zero(t, api.lastReq.Dimensions, "default dimension is not sent")
}

func TestAPIProviderRetriesServerErrors(t *testing.T) {
	api := &fakeAPI{dimension: OpenAIDimension, failFirst: 2, status: http.StatusInternalServerError}
	p := newTestProvider(t, api, APIOptions{})

	_, err := p.GenerateEmbedding(context.Background(), EmbeddingRequest{Text: "alpha"})
	require.NoError(t, err)
	assert.Equal(t, 3, api.callCount)
}

func TestAPIProviderDoesNotRetryClientErrors(t *testing.T) {
	api := &fakeAPI{dimension: OpenAIDimension, failFirst: 5, status: http.StatusUnauthorized}
	p := newTestProvider(t, api, APIOptions{})

	_, err := p.GenerateEmbedding(context.Background(), EmbeddingRequest{Text: "alpha"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrProviderFailed)
	assert.Equal(t, 1, api.callCount)
}

func TestAPIProviderRejectsWrongDimension(t *testing.T) {
	api := &fakeAPI{dimension: 3}
	p := newTestProvider(t, api, APIOptions{})

	_, err := p.GenerateEmbedding(context.Background(), EmbeddingRequest{Text: "alpha"})
	require.Error(t, err)
	assert.Equal(t, 1, api.callCount)
}

func TestAPIProviderValidation(t *testing.T) {
	p, err := NewJinaProvider(APIOptions{APIKey: "test-key"})
	require.NoError(t, err)
	defer p.Close()
	ctx := context.Background()

	assert.Equal(t, ProviderJina, p.Provider())
	assert.Equal(t, JinaDimension, p.Dimension())
	assert.Equal(t, DefaultJinaModel, p.Model())

	_, err = p.GenerateEmbedding(ctx, EmbeddingRequest{})
	assert.ErrorIs(t, err, ErrEmptyText)

	_, err = p.GenerateBatch(ctx, BatchEmbeddingRequest{})
	assert.ErrorIs(t, err, ErrEmptyText)

	_, err = p.GenerateBatch(ctx, BatchEmbeddingRequest{Texts: texts(MaxBatchSize + 1)})
	assert.ErrorIs(t, err, ErrBatchTooLarge)

	_, err = NewJinaProvider(APIOptions{})
	assert.ErrorIs(t, err, ErrMissingAPIKey)
}

func TestAPIProviderContextCancellation(t *testing.T) {
	api := &fakeAPI{dimension: OpenAIDimension}
	p := newTestProvider(t, api, APIOptions{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := p.GenerateEmbedding(ctx, EmbeddingRequest{Text: "alpha"})
	assert.Error(t, err)
}
