package app

import (
	"context"
	"sync"
)

// callRegistry tracks in-flight calls so shutdown can cancel and await them.
type callRegistry struct {
	mu      sync.Mutex
	cancels map[int64]context.CancelFunc
	nextID  int64
	wg      sync.WaitGroup
}

func newCallRegistry() *callRegistry {
	return &callRegistry{cancels: make(map[int64]context.CancelFunc)}
}

// add registers a call's cancel function and returns its handle.
func (r *callRegistry) add(cancel context.CancelFunc) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	id := r.nextID
	r.cancels[id] = cancel
	r.wg.Add(1)
	return id
}

// remove deregisters a finished call. Safe to call twice for the same id.
func (r *callRegistry) remove(id int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.cancels[id]; ok {
		delete(r.cancels, id)
		r.wg.Done()
	}
}

// cancelAll cancels every in-flight call. The calls stay registered until
// their handlers return and call remove.
func (r *callRegistry) cancelAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, cancel := range r.cancels {
		cancel()
	}
}

func (r *callRegistry) active() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.cancels)
}

// wait blocks until every registered call has been removed or ctx expires.
func (r *callRegistry) wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
