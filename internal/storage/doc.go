// Package storage provides the SQLite-backed chunk and file-hash store.
//
// One database file exists per workspace, inside that workspace's cache
// directory. It holds two tables:
//   - chunks: file, line range, content and the vector as a little-endian
//     float32 blob, unique on (file, start_line, end_line)
//   - file_hashes: file, content digest and last indexed time
//
// # Basic Usage
//
//	store, err := storage.Open(ctx, cacheDir, logger)
//	if err != nil {
//	    return err
//	}
//	defer store.Close()
//
//	if err := store.AddBatchToStore(ctx, chunks); err != nil {
//	    return err
//	}
//	if err := store.SetFileHash(ctx, path, digest); err != nil {
//	    return err
//	}
//
// # Transactions
//
// Writes that must land together go through a Tx:
//
//	tx, err := store.BeginTx(ctx)
//	if err != nil {
//	    return err
//	}
//	defer tx.Rollback()
//
//	if _, err := tx.RemoveFileFromStore(ctx, path); err != nil {
//	    return err
//	}
//	if err := tx.AddBatchToStore(ctx, chunks); err != nil {
//	    return err
//	}
//	return tx.Commit()
//
// # Durability
//
// Every committed transaction is durable. Save truncates the WAL into the
// main file and SaveIncremental runs a passive checkpoint that never blocks
// readers.
//
// # Legacy import
//
// Older releases kept the whole index in vector-store.json and
// file-hashes.json. Open imports them once, in one transaction, when the
// chunks table is empty and then renames them to *.backup.
//
// # Build Tags
//
// The default build uses modernc.org/sqlite. Building with the sqlite_vec tag
// and CGO_ENABLED=1 switches to github.com/mattn/go-sqlite3.
package storage
