package backend

import (
	"context"
	"sync"
)

// cancelRegistry maps in-flight operation ids to their cancel functions so a
// later cancel request can stop them cooperatively.
type cancelRegistry struct {
	mu  sync.Mutex
	ops map[string]context.CancelFunc
}

func newCancelRegistry() *cancelRegistry {
	return &cancelRegistry{ops: make(map[string]context.CancelFunc)}
}

// register derives a cancellable context for an operation. The release must
// be called when the operation finishes; it also drops the registry entry.
// An empty id means the client did not ask for cancellability.
func (r *cancelRegistry) register(ctx context.Context, id string) (context.Context, func()) {
	if id == "" {
		return ctx, func() {}
	}
	ctx, cancel := context.WithCancel(ctx)
	r.mu.Lock()
	r.ops[id] = cancel
	r.mu.Unlock()
	return ctx, func() {
		r.mu.Lock()
		delete(r.ops, id)
		r.mu.Unlock()
		cancel()
	}
}

// cancel stops an operation by id. Cancelling an unknown or already-finished
// id is a no-op; the race with completion is expected.
func (r *cancelRegistry) cancel(id string) {
	r.mu.Lock()
	cancel := r.ops[id]
	delete(r.ops, id)
	r.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}
