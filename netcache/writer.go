package netcache

import (
	"sync"

	"github.com/yllada/vpnctl/common"
)

// writer persists values in the background so Save never waits on the
// database. Only the latest pending value is written; values replaced
// before their turn are skipped.
type writer[T any] struct {
	write  func(T) error
	what   string
	logger common.Logger

	mu      sync.Mutex
	idle    *sync.Cond
	pending T
	queued  bool
	busy    bool
}

func newWriter[T any](write func(T) error, what string, logger common.Logger) *writer[T] {
	w := &writer[T]{write: write, what: what, logger: logger}
	w.idle = sync.NewCond(&w.mu)
	return w
}

func (w *writer[T]) submit(v T) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.pending = v
	w.queued = true
	if !w.busy {
		w.busy = true
		go w.run()
	}
}

func (w *writer[T]) run() {
	w.mu.Lock()
	for w.queued {
		v := w.pending
		w.queued = false
		w.mu.Unlock()

		if err := w.write(v); err != nil {
			w.logger.Warn("Failed to persist %s: %v", w.what, err)
		}

		w.mu.Lock()
	}
	w.busy = false
	w.idle.Broadcast()
	w.mu.Unlock()
}

// flush waits until every submitted value has been written or skipped.
func (w *writer[T]) flush() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for w.busy {
		w.idle.Wait()
	}
}
