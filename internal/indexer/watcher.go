package indexer

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce is how long a path must stay quiet before its event is handled
const DefaultDebounce = 300 * time.Millisecond

// pendingEvent is the latest event seen for one path
type pendingEvent struct {
	at      time.Time
	removed bool
}

// Watcher re-indexes single files as they change on disk. Events are
// debounced per path; each path is handled on its own goroutine and never
// by two goroutines at once.
type Watcher struct {
	indexer  *Indexer
	watcher  *fsnotify.Watcher
	debounce time.Duration

	running bool
	stopCh  chan struct{}
	mu      sync.RWMutex
	wg      sync.WaitGroup

	// Debouncing state
	pending   map[string]pendingEvent
	inflight  map[string]bool
	pendingMu sync.Mutex

	// handled is called after each event; tests hook it
	handled func(path string, removed bool, err error)
}

// NewWatcher creates a new file system watcher for the indexer's workspace
func NewWatcher(indexer *Indexer, debounce time.Duration) (*Watcher, error) {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	if debounce <= 0 {
		debounce = DefaultDebounce
	}

	return &Watcher{
		indexer:  indexer,
		watcher:  fsWatcher,
		debounce: debounce,
		stopCh:   make(chan struct{}),
		pending:  make(map[string]pendingEvent),
		inflight: make(map[string]bool),
	}, nil
}

// Start begins watching for file changes. A watcher that fails to start is
// closed and cannot be started again.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.mu.Unlock()

	if err := w.addDirectories(w.indexer.cfg.Root); err != nil {
		w.mu.Lock()
		w.running = false
		w.mu.Unlock()
		_ = w.watcher.Close()
		return fmt.Errorf("add directories: %w", err)
	}

	w.wg.Add(2)
	go w.processEvents()
	go w.processDebounced(ctx)

	w.indexer.logger.Info("watching for file changes", "root", w.indexer.cfg.Root, "debounce", w.debounce)
	return nil
}

// Stop stops the watcher and waits for in-flight handlers
func (w *Watcher) Stop() error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = false
	close(w.stopCh)
	w.mu.Unlock()

	err := w.watcher.Close()
	w.wg.Wait()
	return err
}

// IsRunning returns whether the watcher is active
func (w *Watcher) IsRunning() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.running
}

// addDirectories recursively adds directories to watch, skipping pruned ones
func (w *Watcher) addDirectories(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == root {
				return err
			}
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if path != w.indexer.cfg.Root && w.indexer.excludedDir(path, d.Name()) {
			return filepath.SkipDir
		}

		if err := w.watcher.Add(path); err != nil {
			// Some directories might not be accessible
			w.indexer.logger.Warn("cannot watch directory", "file", path, "error", err)
		}
		return nil
	})
}

// processEvents records file system events as pending work
func (w *Watcher) processEvents() {
	defer w.wg.Done()

	for {
		select {
		case <-w.stopCh:
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.indexer.logger.Warn("watcher error", "error", err)
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	path := filepath.Clean(event.Name)

	if event.Op&fsnotify.Create != 0 {
		if info, err := os.Stat(path); err == nil && info.IsDir() {
			if w.indexer.inScopeDir(path) {
				if err := w.addDirectories(path); err != nil {
					w.indexer.logger.Warn("cannot watch new directory", "file", path, "error", err)
				}
			}
			return
		}
	}

	var removed bool
	switch {
	case event.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
		removed = true
	case event.Op&(fsnotify.Create|fsnotify.Write) != 0:
	default:
		return
	}

	if !w.indexer.inScope(path) {
		return
	}

	w.pendingMu.Lock()
	w.pending[path] = pendingEvent{at: time.Now(), removed: removed}
	w.pendingMu.Unlock()
}

// processDebounced dispatches pending paths once they have been quiet long enough
func (w *Watcher) processDebounced(ctx context.Context) {
	defer w.wg.Done()

	tick := w.debounce / 3
	if tick < 10*time.Millisecond {
		tick = 10 * time.Millisecond
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		select {
		case <-w.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.dispatchReady(ctx)
		}
	}
}

func (w *Watcher) dispatchReady(ctx context.Context) {
	w.pendingMu.Lock()
	defer w.pendingMu.Unlock()

	now := time.Now()
	for path, ev := range w.pending {
		if now.Sub(ev.at) < w.debounce || w.inflight[path] {
			continue
		}
		delete(w.pending, path)
		w.inflight[path] = true

		w.wg.Add(1)
		go func(path string, removed bool) {
			defer w.wg.Done()
			err := w.apply(ctx, path, removed)

			w.pendingMu.Lock()
			delete(w.inflight, path)
			w.pendingMu.Unlock()

			if w.handled != nil {
				w.handled(path, removed, err)
			}
		}(path, ev.removed)
	}
}

// apply handles one debounced event and checkpoints the store
func (w *Watcher) apply(ctx context.Context, path string, removed bool) error {
	logger := w.indexer.logger.With("file", path)

	// A rename may leave the path in place; trust the file system over the event
	if !removed {
		if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
			removed = true
		}
	} else if info, err := os.Stat(path); err == nil && info.Mode().IsRegular() {
		removed = false
	}

	if removed {
		n, err := w.indexer.RemoveFile(ctx, path)
		if err != nil {
			logger.Warn("failed to remove file from index", "error", err)
			return err
		}
		logger.Info("removed file from index", "chunks", n)
	} else {
		res, err := w.indexer.IndexFile(ctx, path)
		if err != nil {
			logger.Warn("failed to index file", "error", err)
			return err
		}
		logger.Info("re-indexed file", "chunks", res.ChunksCreated, "skipped", res.FilesSkipped)
	}

	if err := w.indexer.store.Save(ctx); err != nil {
		logger.Warn("failed to save store", "error", err)
		return err
	}
	return nil
}
