package providers

import (
	"fmt"
	"sync"
)

// Registry maps backend selectors to configured backends.
type Registry struct {
	mu       sync.RWMutex
	backends map[Selector]Backend
}

func NewRegistry() *Registry {
	return &Registry{backends: make(map[Selector]Backend)}
}

// Register binds sel to b, replacing any previous binding.
func (r *Registry) Register(sel Selector, b Backend) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.backends[sel] = b
}

// Get returns the backend bound to sel.
func (r *Registry) Get(sel Selector) (Backend, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.backends[sel]
	if !ok {
		return nil, fmt.Errorf("no backend registered for %s", sel)
	}
	return b, nil
}

// Raw returns the first registered backend able to take a verbatim prompt,
// preferring sel.
func (r *Registry) Raw(sel Selector) (RawCompleter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if rc, ok := r.backends[sel].(RawCompleter); ok {
		return rc, nil
	}
	if rc, ok := r.backends[SelectorClaude].(RawCompleter); ok {
		return rc, nil
	}
	return nil, fmt.Errorf("no backend accepts raw prompts")
}
