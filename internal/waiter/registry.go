// Package waiter provides a keyed registry of one-shot callbacks.
//
// Blocking operations register a callback under a key (a question or
// session id) and producers fire them: NotifyAll for fan-out delivery,
// NotifyFirst for FIFO handoff to a single waiter. A fired callback is
// removed; delivery order follows registration order.
package waiter

import "sync"

// Callback receives the payload passed to the notify call that fired it.
// Callbacks must not block; waiters typically hand the payload to a
// buffered channel owned by the blocked caller.
type Callback func(payload interface{})

type entry struct {
	fn Callback
}

// Registry tracks one-shot callbacks by key.
type Registry struct {
	mu      sync.Mutex
	waiters map[string][]*entry
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{waiters: make(map[string][]*entry)}
}

// Register adds a callback under key and returns its cancel function.
// Cancel is idempotent and a no-op once the callback has fired.
func (r *Registry) Register(key string, fn Callback) func() {
	r.mu.Lock()
	defer r.mu.Unlock()

	e := &entry{fn: fn}
	r.waiters[key] = append(r.waiters[key], e)
	return func() { r.remove(key, e) }
}

func (r *Registry) remove(key string, target *entry) {
	r.mu.Lock()
	defer r.mu.Unlock()

	list := r.waiters[key]
	for i, e := range list {
		if e == target {
			r.waiters[key] = append(list[:i], list[i+1:]...)
			if len(r.waiters[key]) == 0 {
				delete(r.waiters, key)
			}
			return
		}
	}
}

// NotifyAll fires every callback currently registered under key and removes
// them. Callbacks registered while the notifications run are untouched.
// Returns the number of callbacks fired.
func (r *Registry) NotifyAll(key string, payload interface{}) int {
	r.mu.Lock()
	list := r.waiters[key]
	delete(r.waiters, key)
	r.mu.Unlock()

	for _, e := range list {
		e.fn(payload)
	}
	return len(list)
}

// NotifyFirst fires and removes the oldest callback under key.
// Returns false when no waiter is registered.
func (r *Registry) NotifyFirst(key string, payload interface{}) bool {
	r.mu.Lock()
	list := r.waiters[key]
	if len(list) == 0 {
		r.mu.Unlock()
		return false
	}
	e := list[0]
	if len(list) == 1 {
		delete(r.waiters, key)
	} else {
		r.waiters[key] = list[1:]
	}
	r.mu.Unlock()

	e.fn(payload)
	return true
}

// Clear removes every callback under key without firing them.
func (r *Registry) Clear(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.waiters, key)
}

// Len reports the number of callbacks registered under key.
func (r *Registry) Len(key string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.waiters[key])
}
