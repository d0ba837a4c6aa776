// Package indexer coordinates the end-to-end indexing pipeline of one workspace.
//
// The indexer discovers files, detects changes by content hash, chunks changed
// files, embeds the chunks through the orchestrator and writes them to the store.
//
// # Basic Usage
//
//	idx := indexer.New(indexer.Config{
//	    Root:       "/path/to/project",
//	    CacheDir:   cacheDir,
//	    Extensions: []string{".go", ".py"},
//	}, indexer.Deps{
//	    Store:    store,
//	    Chunker:  chunker.New(chunkCfg),
//	    Embedder: orch,
//	    Pacer:    throttle,
//	})
//
//	res, err := idx.IndexAll(ctx, false)
//	fmt.Printf("Indexed %d files in %v\n", res.FilesProcessed, res.Duration)
//
// # Indexing Pipeline
//
//  1. Discovery: walk the root, prune excluded directory names and the cache directory
//  2. Pruning: drop chunks and hashes of files that are no longer discovered
//  3. Per batch: read and hash files in parallel, skip files whose hash is unchanged
//  4. Chunk and embed the changed files
//  5. Replace their chunks in one transaction, then record their hashes
//
// Batches grow with the project (10, 25, 50 or 100 files). The store is
// checkpointed every SaveInterval batches and saved when the run completes.
//
// # Concurrency
//
// Only one IndexAll runs at a time. A concurrent call returns a Result with
// Status "skipped" and does not wait. Search may read the store while a run
// is in progress; Status reports InProgress so callers can flag partial results.
//
// # Watch Mode
//
// Watcher re-indexes files as they change. Events are debounced per path;
// removed files lose their chunks and hash. The store is saved after each event.
package indexer
