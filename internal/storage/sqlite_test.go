package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/semsearch-mcp/pkg/types"
)

func setupTestDB(t *testing.T) *SQLiteStorage {
	t.Helper()
	// Use in-memory database for testing
	storage, err := NewSQLiteStorage(":memory:")
	require.NoError(t, err)
	require.NotNil(t, storage)
	return storage
}

func testChunk(file string, start, end int, vector ...float32) types.Chunk {
	if len(vector) == 0 {
		vector = []float32{0.1, 0.2, 0.3}
	}
	return types.Chunk{
		File:      file,
		StartLine: start,
		EndLine:   end,
		Content:   "content of " + file,
		Vector:    vector,
	}
}

func TestNewSQLiteStorage(t *testing.T) {
	storage := setupTestDB(t)
	defer storage.Close()

	assert.NotNil(t, storage.db)
	assert.Equal(t, ":memory:", storage.Path())
}

func TestClose(t *testing.T) {
	storage := setupTestDB(t)
	assert.NoError(t, storage.Close())
}

func TestFileHashLifecycle(t *testing.T) {
	storage := setupTestDB(t)
	defer storage.Close()
	ctx := context.Background()

	_, err := storage.GetFileHash(ctx, "/ws/a.go")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, storage.SetFileHash(ctx, "/ws/a.go", "h1"))
	hash, err := storage.GetFileHash(ctx, "/ws/a.go")
	require.NoError(t, err)
	assert.Equal(t, "h1", hash)

	// Exactly one hash per file: a second set replaces the first
	require.NoError(t, storage.SetFileHash(ctx, "/ws/a.go", "h2"))
	hashes, err := storage.ListFileHashes(ctx)
	require.NoError(t, err)
	require.Len(t, hashes, 1)
	assert.Equal(t, "h2", hashes[0].Hash)
	assert.False(t, hashes[0].IndexedAt.IsZero())

	require.NoError(t, storage.DeleteFileHash(ctx, "/ws/a.go"))
	_, err = storage.GetFileHash(ctx, "/ws/a.go")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestAddBatchToStoreOrdering(t *testing.T) {
	storage := setupTestDB(t)
	defer storage.Close()
	ctx := context.Background()

	chunks := []types.Chunk{
		testChunk("/ws/b.go", 10, 20),
		testChunk("/ws/a.go", 30, 40),
		testChunk("/ws/a.go", 1, 9),
	}
	require.NoError(t, storage.AddBatchToStore(ctx, chunks))

	all, err := storage.GetVectorStore(ctx)
	require.NoError(t, err)
	require.Len(t, all, 3)

	assert.Equal(t, types.ChunkKey{File: "/ws/a.go", StartLine: 1, EndLine: 9}, all[0].Key())
	assert.Equal(t, types.ChunkKey{File: "/ws/a.go", StartLine: 30, EndLine: 40}, all[1].Key())
	assert.Equal(t, types.ChunkKey{File: "/ws/b.go", StartLine: 10, EndLine: 20}, all[2].Key())

	// Vectors come back in their original dimensionality
	assert.Equal(t, []float32{0.1, 0.2, 0.3}, all[0].Vector)
}

func TestAddToStoreUpsertsOnCompositeKey(t *testing.T) {
	storage := setupTestDB(t)
	defer storage.Close()
	ctx := context.Background()

	first := testChunk("/ws/a.go", 1, 5)
	require.NoError(t, storage.AddToStore(ctx, first))

	replaced := first
	replaced.Content = "new content"
	require.NoError(t, storage.AddToStore(ctx, replaced))

	// Same file and start line, different end line: a distinct chunk
	sibling := testChunk("/ws/a.go", 1, 8)
	require.NoError(t, storage.AddToStore(ctx, sibling))

	all, err := storage.GetVectorStore(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "new content", all[0].Content)
	assert.Equal(t, 5, all[0].EndLine)
	assert.Equal(t, 8, all[1].EndLine)

	got, err := storage.GetChunk(ctx, sibling.Key())
	require.NoError(t, err)
	assert.Equal(t, sibling.Content, got.Content)

	_, err = storage.GetChunk(ctx, types.ChunkKey{File: "/ws/a.go", StartLine: 2, EndLine: 5})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestAddBatchToStoreIsAtomic(t *testing.T) {
	storage := setupTestDB(t)
	defer storage.Close()
	ctx := context.Background()

	require.NoError(t, storage.AddToStore(ctx, testChunk("/ws/a.go", 1, 2)))

	batch := []types.Chunk{
		testChunk("/ws/b.go", 1, 2),
		testChunk("/ws/c.go", 1, 2, 0.1, 0.2), // wrong dimension
	}
	err := storage.AddBatchToStore(ctx, batch)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrDimensionMismatch))

	// Nothing from the failed batch was written
	all, err := storage.GetVectorStore(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestAddBatchToStoreRejectsInvalidRange(t *testing.T) {
	storage := setupTestDB(t)
	defer storage.Close()

	err := storage.AddBatchToStore(context.Background(), []types.Chunk{testChunk("/ws/a.go", 9, 3)})
	assert.ErrorIs(t, err, types.ErrInvalidLineRange)
}

func TestRemoveFileFromStore(t *testing.T) {
	storage := setupTestDB(t)
	defer storage.Close()
	ctx := context.Background()

	require.NoError(t, storage.AddBatchToStore(ctx, []types.Chunk{
		testChunk("/ws/a.go", 1, 5),
		testChunk("/ws/a.go", 6, 10),
		testChunk("/ws/b.go", 1, 5),
	}))

	removed, err := storage.RemoveFileFromStore(ctx, "/ws/a.go")
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	all, err := storage.GetVectorStore(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "/ws/b.go", all[0].File)

	removed, err = storage.RemoveFileFromStore(ctx, "/ws/missing.go")
	require.NoError(t, err)
	assert.Zero(t, removed)
}

func TestSetVectorStoreReplacesEverything(t *testing.T) {
	storage := setupTestDB(t)
	defer storage.Close()
	ctx := context.Background()

	require.NoError(t, storage.AddBatchToStore(ctx, []types.Chunk{testChunk("/ws/a.go", 1, 5)}))
	require.NoError(t, storage.SetFileHash(ctx, "/ws/a.go", "h"))

	// A different dimension is fine because the old rows are gone first
	replacement := []types.Chunk{
		testChunk("/ws/x.go", 1, 3, 1, 0),
		testChunk("/ws/y.go", 4, 6, 0, 1),
	}
	require.NoError(t, storage.SetVectorStore(ctx, replacement))

	all, err := storage.GetVectorStore(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "/ws/x.go", all[0].File)

	hash, err := storage.GetFileHash(ctx, "/ws/a.go")
	require.NoError(t, err)
	assert.Equal(t, "h", hash)
}

func TestClear(t *testing.T) {
	storage := setupTestDB(t)
	defer storage.Close()
	ctx := context.Background()

	require.NoError(t, storage.AddBatchToStore(ctx, []types.Chunk{testChunk("/ws/a.go", 1, 5)}))
	require.NoError(t, storage.SetFileHash(ctx, "/ws/a.go", "h"))

	require.NoError(t, storage.Clear(ctx))

	stats, err := storage.Stats(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.Chunks)
	assert.Zero(t, stats.Files)
	assert.Zero(t, stats.Dimension)
}

func TestTransactionCommitAndRollback(t *testing.T) {
	storage := setupTestDB(t)
	defer storage.Close()
	ctx := context.Background()

	tx, err := storage.BeginTx(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.AddBatchToStore(ctx, []types.Chunk{testChunk("/ws/a.go", 1, 5)}))
	require.NoError(t, tx.SetFileHash(ctx, "/ws/a.go", "h"))
	require.NoError(t, tx.Rollback())

	stats, err := storage.Stats(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.Chunks)
	assert.Zero(t, stats.Files)

	tx, err = storage.BeginTx(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.AddToStore(ctx, testChunk("/ws/a.go", 1, 5)))
	hash, err := tx.GetFileHash(ctx, "/ws/a.go")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Empty(t, hash)
	require.NoError(t, tx.Commit())

	stats, err = storage.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Chunks)
	assert.Equal(t, 3, stats.Dimension)
	assert.Greater(t, stats.SizeBytes, int64(0))
}

func TestSaveOnFileDatabase(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	storage, err := NewSQLiteStorage(filepath.Join(dir, DBFileName))
	require.NoError(t, err)

	require.NoError(t, storage.AddBatchToStore(ctx, []types.Chunk{testChunk("/ws/a.go", 1, 5)}))
	require.NoError(t, storage.SaveIncremental(ctx))
	require.NoError(t, storage.Save(ctx))
	require.NoError(t, storage.Close())

	// Reopen: data survived and migrations are not re-applied
	reopened, err := NewSQLiteStorage(filepath.Join(dir, DBFileName))
	require.NoError(t, err)
	defer reopened.Close()

	all, err := reopened.GetVectorStore(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestScanChunksStopsOnError(t *testing.T) {
	storage := setupTestDB(t)
	defer storage.Close()
	ctx := context.Background()

	require.NoError(t, storage.AddBatchToStore(ctx, []types.Chunk{
		testChunk("/ws/a.go", 1, 5),
		testChunk("/ws/b.go", 1, 5),
	}))

	stop := errors.New("stop")
	seen := 0
	err := storage.ScanChunks(ctx, func(types.Chunk) error {
		seen++
		return stop
	})
	assert.ErrorIs(t, err, stop)
	assert.Equal(t, 1, seen)
}
