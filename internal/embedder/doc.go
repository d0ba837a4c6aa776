// Package embedder turns chunk text into vectors.
//
// Three providers implement the Embedder interface:
//
//   - jina: Jina AI /v1/embeddings (default model jina-embeddings-v3, 1024 dimensions)
//   - openai: OpenAI /v1/embeddings (default model text-embedding-3-small, 1536 dimensions)
//   - local: an offline feature-hashing embedder (384 dimensions by default)
//
// The HTTP providers retry transient failures with exponential backoff and
// skip texts already present in the shared LRU cache.
//
// # Provider Selection
//
// NewFromEnv picks a provider from the environment:
//
//  1. SEMSEARCH_EMBEDDING_PROVIDER, when set
//  2. jina, when JINA_API_KEY is set
//  3. openai, when OPENAI_API_KEY is set
//  4. local otherwise
//
// Indexing workers never share an instance. They build their own from a Factory:
//
//	factory := embedder.NewFactory(embedder.Config{Provider: "local", CacheSize: 10000})
//	emb, err := factory()
//	if err != nil {
//	    return err
//	}
//	defer emb.Close()
//
//	vectors, err := embedder.EmbedTexts(ctx, emb, texts)
package embedder
