package conn

import "sync"

// Handle identifies one listener registration for later removal.
type Handle int64

// registry is a multi-subscriber listener set. Registrations are mutated
// from caller goroutines and read from the delivery path, so every access
// goes through the mutex; delivery iterates over a snapshot.
type registry[T any] struct {
	mu      sync.RWMutex
	next    Handle
	entries map[Handle]T
}

func newRegistry[T any]() *registry[T] {
	return &registry[T]{entries: make(map[Handle]T)}
}

func (r *registry[T]) add(v T) Handle {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.next++
	h := r.next
	r.entries[h] = v
	return h
}

func (r *registry[T]) remove(h Handle) {
	r.mu.Lock()
	delete(r.entries, h)
	r.mu.Unlock()
}

func (r *registry[T]) clear() {
	r.mu.Lock()
	r.entries = make(map[Handle]T)
	r.mu.Unlock()
}

func (r *registry[T]) snapshot() []T {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]T, 0, len(r.entries))
	for _, v := range r.entries {
		out = append(out, v)
	}
	return out
}
