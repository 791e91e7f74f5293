package events

import (
	"sort"
	"strings"
	"sync"
)

// Registry is the process-wide set of paths with a live subscription.
// Mutations on a monitored path need no full reload: the stream delivers
// the change.
type Registry struct {
	mu    sync.Mutex
	paths map[string]int
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{paths: map[string]int{}}
}

func registryKey(path string) string {
	path, _, _ = strings.Cut(path, "?")
	return strings.TrimSuffix(path, "/")
}

// Add marks path as monitored until the returned release is called.
func (r *Registry) Add(path string) (release func()) {
	key := registryKey(path)
	r.mu.Lock()
	r.paths[key]++
	r.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			r.mu.Lock()
			defer r.mu.Unlock()
			if r.paths[key]--; r.paths[key] <= 0 {
				delete(r.paths, key)
			}
		})
	}
}

// Has reports whether path is monitored. The query string is ignored.
func (r *Registry) Has(path string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.paths[registryKey(path)] > 0
}

// Paths returns the monitored paths in sorted order.
func (r *Registry) Paths() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.paths))
	for p := range r.paths {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}
