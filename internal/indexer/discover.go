package indexer

import (
	"context"
	"io/fs"
	"path/filepath"
	"strings"
)

// excludedDir reports whether a directory is pruned from discovery and
// watching. Patterns match the directory name, exactly or as a name glob.
func (idx *Indexer) excludedDir(path, name string) bool {
	if idx.cfg.CacheDir != "" && path == idx.cfg.CacheDir {
		return true
	}
	for _, pattern := range idx.cfg.ExcludePatterns {
		if pattern == name {
			return true
		}
		if ok, _ := filepath.Match(pattern, name); ok {
			return true
		}
	}
	return false
}

func (idx *Indexer) wantExtension(path string) bool {
	if len(idx.extensions) == 0 {
		return true
	}
	return idx.extensions[strings.ToLower(filepath.Ext(path))]
}

// inScope reports whether a path would be returned by discovery, ignoring size
func (idx *Indexer) inScope(path string) bool {
	return idx.wantExtension(path) && idx.inScopeDir(filepath.Dir(path))
}

// discover walks the workspace and returns the files to index in lexical
// order, plus the number of files skipped for size. Symlinks are not followed.
func (idx *Indexer) discover(ctx context.Context) ([]string, int, error) {
	var (
		files     []string
		oversized int
	)

	err := filepath.WalkDir(idx.cfg.Root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == idx.cfg.Root {
				return err
			}
			idx.logger.Warn("skipping unreadable path", "file", path, "error", err)
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}

		if d.IsDir() {
			if path != idx.cfg.Root && idx.excludedDir(path, d.Name()) {
				return filepath.SkipDir
			}
			return nil
		}
		if d.Type()&fs.ModeSymlink != 0 || !d.Type().IsRegular() {
			return nil
		}
		if !idx.wantExtension(path) {
			return nil
		}

		if idx.cfg.MaxFileSize > 0 {
			info, err := d.Info()
			if err != nil {
				return nil
			}
			if info.Size() > idx.cfg.MaxFileSize {
				oversized++
				return nil
			}
		}

		files = append(files, path)
		return nil
	})

	return files, oversized, err
}

// inScopeDir reports whether a directory under the root is watched
func (idx *Indexer) inScopeDir(path string) bool {
	rel, err := filepath.Rel(idx.cfg.Root, path)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return false
	}
	dir := idx.cfg.Root
	for _, part := range strings.Split(rel, string(filepath.Separator)) {
		if part == "." || part == "" {
			continue
		}
		dir = filepath.Join(dir, part)
		if idx.excludedDir(dir, part) {
			return false
		}
	}
	return true
}
