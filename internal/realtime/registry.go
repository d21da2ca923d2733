package realtime

import (
	"sync"

	"github.com/emilythestrangee/campusnet/backend/internal/apperr"
)

// Registry owns at most one live handle per (topic, key). Opening a key that
// already has a handle closes the old one first, so remounts never leak
// subscriptions.
type Registry struct {
	mu      sync.Mutex
	handles map[string]Handle
	closed  bool
}

func NewRegistry() *Registry {
	return &Registry{handles: make(map[string]Handle)}
}

func registryKey(topic, key string) string { return topic + ":" + key }

// Open closes any handle registered for (topic, key) and registers the one
// returned by open. A handle that failed its initial read is registered too,
// in Error state, together with the error.
func (r *Registry) Open(topic, key string, open func() (Handle, error)) (Handle, error) {
	k := registryKey(topic, key)

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, apperr.Closed()
	}
	prior := r.handles[k]
	delete(r.handles, k)
	r.mu.Unlock()
	if prior != nil {
		prior.Close()
	}

	h, err := open()
	if h == nil {
		return nil, err
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		h.Close()
		return nil, apperr.Closed()
	}
	// A concurrent Open for the same key may have finished first.
	raced := r.handles[k]
	r.handles[k] = h
	r.mu.Unlock()
	if raced != nil {
		raced.Close()
	}
	return h, err
}

// Get returns the live handle for (topic, key).
func (r *Registry) Get(topic, key string) (Handle, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.handles[registryKey(topic, key)]
	return h, ok
}

// Close closes and forgets the handle for (topic, key). Unknown keys are a
// no-op.
func (r *Registry) Close(topic, key string) {
	k := registryKey(topic, key)
	r.mu.Lock()
	h := r.handles[k]
	delete(r.handles, k)
	r.mu.Unlock()
	if h != nil {
		h.Close()
	}
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.handles)
}

// CloseAll closes every handle. Later Opens fail with a closed error.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	handles := r.handles
	r.handles = make(map[string]Handle)
	r.closed = true
	r.mu.Unlock()
	for _, h := range handles {
		h.Close()
	}
}
