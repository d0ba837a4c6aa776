package orchestrator

import (
	"sync"

	"github.com/dshills/semsearch-mcp/internal/embedder"
)

// worker is one embedder instance checked out by at most one goroutine.
// A retired worker is never reused; its embedder is closed once it is idle.
type worker struct {
	emb embedder.Embedder

	mu      sync.Mutex
	running bool
	retired bool
}

func (w *worker) start() {
	w.mu.Lock()
	w.running = true
	w.mu.Unlock()
}

// finish marks the worker idle. It reports whether the worker may be reused,
// closing the embedder when it may not.
func (w *worker) finish() bool {
	w.mu.Lock()
	w.running = false
	retired := w.retired
	w.mu.Unlock()

	if retired {
		_ = w.emb.Close()
		return false
	}
	return true
}

// retire takes the worker out of service. An idle worker is closed at once.
func (w *worker) retire() {
	w.mu.Lock()
	already := w.retired
	w.retired = true
	running := w.running
	w.mu.Unlock()

	if !already && !running {
		_ = w.emb.Close()
	}
}

func (w *worker) isRetired() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.retired
}

// acquire checks out an idle worker or builds a new one. Workers retired
// after they were released are dropped from the pool here.
func (o *Orchestrator) acquire() (*worker, error) {
	o.mu.Lock()
	for n := len(o.idle); n > 0; n = len(o.idle) {
		w := o.idle[n-1]
		o.idle = o.idle[:n-1]
		if w.isRetired() {
			continue
		}
		o.mu.Unlock()
		w.start()
		return w, nil
	}
	o.mu.Unlock()

	emb, err := o.factory()
	if err != nil {
		return nil, err
	}
	w := &worker{emb: emb}
	w.start()
	return w, nil
}

// release returns a healthy worker to the pool, or closes it when the pool
// is full or shut down
func (o *Orchestrator) release(w *worker) {
	o.mu.Lock()
	if o.closed || len(o.idle) >= o.workers {
		o.mu.Unlock()
		_ = w.emb.Close()
		return
	}
	o.idle = append(o.idle, w)
	o.mu.Unlock()
}
