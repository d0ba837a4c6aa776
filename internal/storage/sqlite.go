package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dshills/semsearch-mcp/pkg/types"
)

var (
	// ErrNotFound is returned when a requested entity doesn't exist
	ErrNotFound = errors.New("not found")
	// ErrDimensionMismatch is returned when a vector does not match the store's dimension
	ErrDimensionMismatch = errors.New("vector dimension mismatch")
)

// SQLiteStorage implements the Store interface using SQLite
type SQLiteStorage struct {
	db   *sql.DB
	path string
}

// openDatabase opens a SQLite database with appropriate settings
func openDatabase(dbPath string) (*sql.DB, error) {
	db, err := sql.Open(DriverName, dbPath)
	if err != nil {
		return nil, err
	}

	// WAL keeps readers (search) working while a batch is being written
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	// Single writer; also keeps ":memory:" databases on one connection
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	return db, nil
}

// NewSQLiteStorage creates a new SQLite storage instance
func NewSQLiteStorage(dbPath string) (*SQLiteStorage, error) {
	db, err := openDatabase(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := ApplyMigrations(context.Background(), db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply migrations: %w", err)
	}

	return &SQLiteStorage{db: db, path: dbPath}, nil
}

// Close closes the database connection
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// Path returns the database file path
func (s *SQLiteStorage) Path() string {
	return s.path
}

// BeginTx starts a new transaction
func (s *SQLiteStorage) BeginTx(ctx context.Context) (Tx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	return &sqliteTx{tx: tx, storage: s}, nil
}

// querier is an interface that both *sql.DB and *sql.Tx implement
type querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
	PrepareContext(ctx context.Context, query string) (*sql.Stmt, error)
}

// sqliteTx wraps a SQL transaction
type sqliteTx struct {
	tx      *sql.Tx
	storage *SQLiteStorage
}

func (t *sqliteTx) Commit() error {
	return t.tx.Commit()
}

func (t *sqliteTx) Rollback() error {
	return t.tx.Rollback()
}

// querier returns the transaction querier
func (t *sqliteTx) querier() querier {
	return t.tx
}

// querier returns the DB querier
func (s *SQLiteStorage) querier() querier {
	return s.db
}

// withTx runs fn inside a transaction, committing on success
func (s *SQLiteStorage) withTx(ctx context.Context, fn func(q querier) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// File hash operations

func (s *SQLiteStorage) getFileHashWithQuerier(ctx context.Context, q querier, file string) (string, error) {
	var hash string
	err := q.QueryRowContext(ctx, "SELECT hash FROM file_hashes WHERE file = ?", file).Scan(&hash)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return hash, nil
}

// GetFileHash returns the stored digest of a file or ErrNotFound
func (s *SQLiteStorage) GetFileHash(ctx context.Context, file string) (string, error) {
	return s.getFileHashWithQuerier(ctx, s.querier(), file)
}

func (s *SQLiteStorage) setFileHashWithQuerier(ctx context.Context, q querier, file, hash string) error {
	query := `
		INSERT INTO file_hashes (file, hash, indexed_at)
		VALUES (?, ?, ?)
		ON CONFLICT(file) DO UPDATE SET
			hash = excluded.hash,
			indexed_at = excluded.indexed_at
	`
	if _, err := q.ExecContext(ctx, query, file, hash, time.Now().UTC()); err != nil {
		return fmt.Errorf("failed to set file hash: %w", err)
	}
	return nil
}

// SetFileHash records the digest of a file, replacing any previous one
func (s *SQLiteStorage) SetFileHash(ctx context.Context, file, hash string) error {
	return s.setFileHashWithQuerier(ctx, s.querier(), file, hash)
}

func (s *SQLiteStorage) deleteFileHashWithQuerier(ctx context.Context, q querier, file string) error {
	_, err := q.ExecContext(ctx, "DELETE FROM file_hashes WHERE file = ?", file)
	return err
}

// DeleteFileHash forgets the digest of a file
func (s *SQLiteStorage) DeleteFileHash(ctx context.Context, file string) error {
	return s.deleteFileHashWithQuerier(ctx, s.querier(), file)
}

// ListFileHashes returns every known file hash ordered by file
func (s *SQLiteStorage) ListFileHashes(ctx context.Context) ([]types.FileHash, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT file, hash, indexed_at FROM file_hashes ORDER BY file")
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var hashes []types.FileHash
	for rows.Next() {
		var fh types.FileHash
		var indexedAt sql.NullTime
		if err := rows.Scan(&fh.File, &fh.Hash, &indexedAt); err != nil {
			return nil, err
		}
		if indexedAt.Valid {
			fh.IndexedAt = indexedAt.Time
		}
		hashes = append(hashes, fh)
	}
	return hashes, rows.Err()
}

// Chunk operations

const upsertChunkQuery = `
	INSERT INTO chunks (file, start_line, end_line, content, vector, dimension, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(file, start_line, end_line) DO UPDATE SET
		content = excluded.content,
		vector = excluded.vector,
		dimension = excluded.dimension,
		created_at = excluded.created_at
`

// storedDimension returns the dimension of existing rows, 0 if there are none
func storedDimension(ctx context.Context, q querier) (int, error) {
	var dim int
	err := q.QueryRowContext(ctx, "SELECT dimension FROM chunks LIMIT 1").Scan(&dim)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	return dim, err
}

// addBatchWithQuerier inserts chunks with one prepared statement. All vectors
// must share the dimension already present in the store.
func (s *SQLiteStorage) addBatchWithQuerier(ctx context.Context, q querier, chunks []types.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	dim, err := storedDimension(ctx, q)
	if err != nil {
		return fmt.Errorf("failed to read stored dimension: %w", err)
	}
	if dim == 0 {
		dim = len(chunks[0].Vector)
	}

	stmt, err := q.PrepareContext(ctx, upsertChunkQuery)
	if err != nil {
		return fmt.Errorf("failed to prepare chunk insert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	now := time.Now().UTC()
	for i := range chunks {
		c := &chunks[i]
		if err := c.Validate(0); err != nil {
			return fmt.Errorf("invalid chunk %s: %w", c.Key(), err)
		}
		if len(c.Vector) == 0 || len(c.Vector) != dim {
			return fmt.Errorf("%w: chunk %s has %d values, store uses %d",
				ErrDimensionMismatch, c.Key(), len(c.Vector), dim)
		}
		if _, err := stmt.ExecContext(ctx,
			c.File, c.StartLine, c.EndLine, c.Content,
			serializeVector(c.Vector), len(c.Vector), now); err != nil {
			return fmt.Errorf("failed to store chunk %s: %w", c.Key(), err)
		}
	}
	return nil
}

// AddToStore inserts or replaces a single chunk
func (s *SQLiteStorage) AddToStore(ctx context.Context, chunk types.Chunk) error {
	return s.addBatchWithQuerier(ctx, s.querier(), []types.Chunk{chunk})
}

// AddBatchToStore inserts chunks in a single transaction
func (s *SQLiteStorage) AddBatchToStore(ctx context.Context, chunks []types.Chunk) error {
	return s.withTx(ctx, func(q querier) error {
		return s.addBatchWithQuerier(ctx, q, chunks)
	})
}

func (s *SQLiteStorage) removeFileWithQuerier(ctx context.Context, q querier, file string) (int, error) {
	result, err := q.ExecContext(ctx, "DELETE FROM chunks WHERE file = ?", file)
	if err != nil {
		return 0, fmt.Errorf("failed to remove chunks of %s: %w", file, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

// RemoveFileFromStore deletes every chunk of a file and returns how many were removed.
// The file hash is left alone; callers pair it with DeleteFileHash when the file is gone.
func (s *SQLiteStorage) RemoveFileFromStore(ctx context.Context, file string) (int, error) {
	return s.removeFileWithQuerier(ctx, s.querier(), file)
}

// ScanChunks streams every chunk ordered by file, then start line
func (s *SQLiteStorage) ScanChunks(ctx context.Context, fn func(types.Chunk) error) error {
	query := `
		SELECT file, start_line, end_line, content, vector
		FROM chunks
		ORDER BY file, start_line, end_line
	`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return fmt.Errorf("failed to query chunks: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var c types.Chunk
		var blob []byte
		if err := rows.Scan(&c.File, &c.StartLine, &c.EndLine, &c.Content, &blob); err != nil {
			return err
		}
		c.Vector = deserializeVector(blob)
		if err := fn(c); err != nil {
			return err
		}
	}
	return rows.Err()
}

// GetVectorStore returns every chunk ordered by file, then start line
func (s *SQLiteStorage) GetVectorStore(ctx context.Context) ([]types.Chunk, error) {
	chunks := make([]types.Chunk, 0)
	err := s.ScanChunks(ctx, func(c types.Chunk) error {
		chunks = append(chunks, c)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return chunks, nil
}

// GetChunk looks up a single chunk by its composite key
func (s *SQLiteStorage) GetChunk(ctx context.Context, key types.ChunkKey) (*types.Chunk, error) {
	query := `
		SELECT content, vector
		FROM chunks
		WHERE file = ? AND start_line = ? AND end_line = ?
	`
	c := types.Chunk{File: key.File, StartLine: key.StartLine, EndLine: key.EndLine}
	var blob []byte
	err := s.db.QueryRowContext(ctx, query, key.File, key.StartLine, key.EndLine).Scan(&c.Content, &blob)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	c.Vector = deserializeVector(blob)
	return &c, nil
}

// SetVectorStore atomically replaces every chunk in the store. File hashes are kept.
func (s *SQLiteStorage) SetVectorStore(ctx context.Context, chunks []types.Chunk) error {
	return s.withTx(ctx, func(q querier) error {
		if _, err := q.ExecContext(ctx, "DELETE FROM chunks"); err != nil {
			return fmt.Errorf("failed to clear chunks: %w", err)
		}
		return s.addBatchWithQuerier(ctx, q, chunks)
	})
}

// Clear destroys all persisted chunks and hashes
func (s *SQLiteStorage) Clear(ctx context.Context) error {
	err := s.withTx(ctx, func(q querier) error {
		if _, err := q.ExecContext(ctx, "DELETE FROM chunks"); err != nil {
			return fmt.Errorf("failed to clear chunks: %w", err)
		}
		if _, err := q.ExecContext(ctx, "DELETE FROM file_hashes"); err != nil {
			return fmt.Errorf("failed to clear file hashes: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	// Give the freed pages back to the filesystem
	if _, err := s.db.ExecContext(ctx, "VACUUM"); err != nil {
		return fmt.Errorf("failed to vacuum: %w", err)
	}
	return s.Save(ctx)
}

// Save checkpoints the WAL into the main database file
func (s *SQLiteStorage) Save(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		return fmt.Errorf("failed to checkpoint: %w", err)
	}
	return nil
}

// SaveIncremental runs a passive checkpoint. Committed transactions are
// already durable, so this only bounds the WAL size.
func (s *SQLiteStorage) SaveIncremental(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "PRAGMA wal_checkpoint(PASSIVE)"); err != nil {
		return fmt.Errorf("failed to checkpoint: %w", err)
	}
	return nil
}

// Stats returns counts and the on-disk size of the store
func (s *SQLiteStorage) Stats(ctx context.Context) (*Stats, error) {
	stats := &Stats{}

	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM chunks").Scan(&stats.Chunks); err != nil {
		return nil, fmt.Errorf("failed to count chunks: %w", err)
	}
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM file_hashes").Scan(&stats.Files); err != nil {
		return nil, fmt.Errorf("failed to count files: %w", err)
	}

	dim, err := storedDimension(ctx, s.db)
	if err != nil {
		return nil, err
	}
	stats.Dimension = dim

	var lastIndexed sql.NullString
	if err := s.db.QueryRowContext(ctx, "SELECT MAX(indexed_at) FROM file_hashes").Scan(&lastIndexed); err == nil && lastIndexed.Valid {
		if t, perr := parseTimestamp(lastIndexed.String); perr == nil {
			stats.LastIndexedAt = t
		}
	}

	var pageCount, pageSize int64
	if err := s.db.QueryRowContext(ctx, "PRAGMA page_count").Scan(&pageCount); err == nil {
		_ = s.db.QueryRowContext(ctx, "PRAGMA page_size").Scan(&pageSize)
		stats.SizeBytes = pageCount * pageSize
	}

	return stats, nil
}

// parseTimestamp accepts the layouts the two drivers use for TIMESTAMP columns
func parseTimestamp(value string) (time.Time, error) {
	layouts := []string{
		"2006-01-02 15:04:05.999999999-07:00",
		"2006-01-02T15:04:05.999999999-07:00",
		"2006-01-02 15:04:05.999999999 -0700 MST",
		time.RFC3339Nano,
		"2006-01-02 15:04:05",
	}
	for _, layout := range layouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", value)
}

// Transaction implementations

func (t *sqliteTx) GetFileHash(ctx context.Context, file string) (string, error) {
	return t.storage.getFileHashWithQuerier(ctx, t.querier(), file)
}

func (t *sqliteTx) SetFileHash(ctx context.Context, file, hash string) error {
	return t.storage.setFileHashWithQuerier(ctx, t.querier(), file, hash)
}

func (t *sqliteTx) DeleteFileHash(ctx context.Context, file string) error {
	return t.storage.deleteFileHashWithQuerier(ctx, t.querier(), file)
}

func (t *sqliteTx) AddToStore(ctx context.Context, chunk types.Chunk) error {
	return t.storage.addBatchWithQuerier(ctx, t.querier(), []types.Chunk{chunk})
}

func (t *sqliteTx) AddBatchToStore(ctx context.Context, chunks []types.Chunk) error {
	return t.storage.addBatchWithQuerier(ctx, t.querier(), chunks)
}

func (t *sqliteTx) RemoveFileFromStore(ctx context.Context, file string) (int, error) {
	return t.storage.removeFileWithQuerier(ctx, t.querier(), file)
}
