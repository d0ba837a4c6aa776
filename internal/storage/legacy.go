package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/dshills/semsearch-mcp/pkg/types"
)

const (
	// DBFileName is the database file inside a workspace cache directory
	DBFileName = "index.db"
	// LegacyVectorFile is the whole-file JSON chunk store of older releases
	LegacyVectorFile = "vector-store.json"
	// LegacyHashFile is the whole-file JSON hash table of older releases
	LegacyHashFile = "file-hashes.json"
	// BackupSuffix is appended to legacy files once they are imported
	BackupSuffix = ".backup"
)

// legacyChunk is one entry of vector-store.json
type legacyChunk struct {
	File      string    `json:"file"`
	StartLine int       `json:"startLine"`
	EndLine   int       `json:"endLine"`
	Content   string    `json:"content"`
	Vector    []float32 `json:"vector"`
}

// legacyHash accepts both `"file": "hash"` and `"file": {"hash": ..., "timestamp": ...}`
type legacyHash struct {
	Hash string
}

func (h *legacyHash) UnmarshalJSON(data []byte) error {
	var plain string
	if err := json.Unmarshal(data, &plain); err == nil {
		h.Hash = plain
		return nil
	}
	var obj struct {
		Hash string `json:"hash"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	h.Hash = obj.Hash
	return nil
}

// LegacyImport reports what a legacy migration did
type LegacyImport struct {
	Chunks  int
	Hashes  int
	Skipped int
	Renamed []string
}

// Open opens (creating if needed) the store for one workspace cache directory
// and imports any legacy JSON store found next to it.
func Open(ctx context.Context, dir string, logger *slog.Logger) (*SQLiteStorage, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}

	store, err := NewSQLiteStorage(filepath.Join(dir, DBFileName))
	if err != nil {
		return nil, err
	}

	imported, err := MigrateLegacyJSON(ctx, store, dir)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to migrate legacy store: %w", err)
	}
	if imported != nil {
		logger.Info("imported legacy JSON store",
			"chunks", imported.Chunks,
			"hashes", imported.Hashes,
			"skipped", imported.Skipped,
			"backups", imported.Renamed)
	}

	return store, nil
}

// MigrateLegacyJSON bulk-imports vector-store.json and file-hashes.json from dir
// when at least one of them exists and the store holds no chunks. Imported
// files are renamed with BackupSuffix, never deleted. A file hash is only
// imported when every legacy chunk of that file was. It returns nil when
// there was nothing to do.
func MigrateLegacyJSON(ctx context.Context, store *SQLiteStorage, dir string) (*LegacyImport, error) {
	vectorPath := filepath.Join(dir, LegacyVectorFile)
	hashPath := filepath.Join(dir, LegacyHashFile)

	hasVectors := fileExists(vectorPath)
	hasHashes := fileExists(hashPath)
	if !hasVectors && !hasHashes {
		return nil, nil
	}

	var existing int
	if err := store.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM chunks").Scan(&existing); err != nil {
		return nil, err
	}
	if existing > 0 {
		return nil, nil
	}

	var chunks []legacyChunk
	if hasVectors {
		if err := readJSON(vectorPath, &chunks); err != nil {
			return nil, err
		}
	}
	hashes := map[string]legacyHash{}
	if hasHashes {
		if err := readJSON(hashPath, &hashes); err != nil {
			return nil, err
		}
	}

	result := &LegacyImport{}
	valid := make([]types.Chunk, 0, len(chunks))
	imported := map[string]bool{}
	rejected := map[string]bool{}
	dim := 0
	for _, lc := range chunks {
		c := types.Chunk{
			File:      lc.File,
			StartLine: lc.StartLine,
			EndLine:   lc.EndLine,
			Content:   lc.Content,
			Vector:    lc.Vector,
		}
		if dim == 0 {
			dim = len(c.Vector)
		}
		if c.Validate(dim) != nil || len(c.Vector) == 0 {
			result.Skipped++
			rejected[c.File] = true
			continue
		}
		valid = append(valid, c)
		imported[c.File] = true
	}

	err := store.withTx(ctx, func(q querier) error {
		if err := store.addBatchWithQuerier(ctx, q, valid); err != nil {
			return err
		}
		for file, h := range hashes {
			// A hash without its complete chunk set would hide the file
			// from the next incremental run.
			if file == "" || h.Hash == "" || !imported[file] || rejected[file] {
				result.Skipped++
				continue
			}
			if err := store.setFileHashWithQuerier(ctx, q, file, h.Hash); err != nil {
				return err
			}
			result.Hashes++
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	result.Chunks = len(valid)

	for _, path := range []string{vectorPath, hashPath} {
		if !fileExists(path) {
			continue
		}
		backup := path + BackupSuffix
		if err := os.Rename(path, backup); err != nil {
			return result, fmt.Errorf("failed to back up %s: %w", path, err)
		}
		result.Renamed = append(result.Renamed, backup)
	}

	return result, nil
}

func readJSON(path string, v interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return !errors.Is(err, os.ErrNotExist)
}
