package engine

import "sync"

// registry is the in-flight task set. It exists purely to prevent a PR from
// being dispatched twice within one process; it is never a source of truth
// and is not a distributed lock.
type registry struct {
	mu   sync.Mutex
	keys map[string]struct{}
}

func newRegistry() *registry {
	return &registry{keys: make(map[string]struct{})}
}

// TryAdd inserts key and reports whether it was absent. A false return means
// a pipeline for this PR is already running.
func (r *registry) TryAdd(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.keys[key]; ok {
		return false
	}
	r.keys[key] = struct{}{}
	return true
}

// Remove deletes key. Called in a deferred block on pipeline settlement,
// success or failure alike.
func (r *registry) Remove(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.keys, key)
}

// Len reports the number of in-flight tasks.
func (r *registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.keys)
}
