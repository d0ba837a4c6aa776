package storage

import (
	"context"
	"time"

	"github.com/dshills/semsearch-mcp/pkg/types"
)

// Writer is the set of mutations that can run either directly on the store
// or inside a transaction.
type Writer interface {
	// File hash operations
	GetFileHash(ctx context.Context, file string) (string, error)
	SetFileHash(ctx context.Context, file, hash string) error
	DeleteFileHash(ctx context.Context, file string) error

	// Chunk operations
	AddToStore(ctx context.Context, chunk types.Chunk) error
	AddBatchToStore(ctx context.Context, chunks []types.Chunk) error
	RemoveFileFromStore(ctx context.Context, file string) (int, error)
}

// Store is the durable chunk/vector and file-hash store of one workspace.
// A Store has a single writer: the indexer run that currently holds the
// indexing lock.
type Store interface {
	Writer

	// Read operations
	GetVectorStore(ctx context.Context) ([]types.Chunk, error)
	ScanChunks(ctx context.Context, fn func(types.Chunk) error) error
	GetChunk(ctx context.Context, key types.ChunkKey) (*types.Chunk, error)
	ListFileHashes(ctx context.Context) ([]types.FileHash, error)
	Stats(ctx context.Context) (*Stats, error)

	// Bulk operations
	SetVectorStore(ctx context.Context, chunks []types.Chunk) error
	Clear(ctx context.Context) error

	// Durability
	Save(ctx context.Context) error
	SaveIncremental(ctx context.Context) error

	// Database operations
	BeginTx(ctx context.Context) (Tx, error)
	Path() string
	Close() error
}

// Tx represents a database transaction
type Tx interface {
	Commit() error
	Rollback() error
	Writer
}

// Stats summarizes the persisted state of a store
type Stats struct {
	Chunks        int
	Files         int
	Dimension     int // 0 when the store is empty
	SizeBytes     int64
	LastIndexedAt time.Time
}
