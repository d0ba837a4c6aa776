package indexer

import "sync/atomic"

// IndexLock is the isIndexing guard: a non-blocking lock held for the whole
// duration of one IndexAll run. A second run fails to acquire it and reports
// "skipped" instead of queueing.
type IndexLock struct {
	state atomic.Int32 // 0 = idle, 1 = indexing
}

// TryAcquire attempts to take the lock without blocking.
// Returns true if the lock was successfully acquired, false otherwise.
func (l *IndexLock) TryAcquire() bool {
	return l.state.CompareAndSwap(0, 1)
}

// Release releases the lock.
// Must only be called by the goroutine that successfully acquired the lock.
func (l *IndexLock) Release() {
	l.state.Store(0)
}

// Held reports whether a run currently holds the lock
func (l *IndexLock) Held() bool {
	return l.state.Load() == 1
}
