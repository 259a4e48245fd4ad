package remote

import (
	"fmt"
	"sort"
	"sync"
)

// Registry maps proxy names to proxies. It is safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	proxies map[string]Proxy
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{proxies: make(map[string]Proxy)}
}

// Register adds p under p.Name(). The first registration for a name wins.
func (r *Registry) Register(p Proxy) error {
	name := p.Name()
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.proxies[name]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateProxy, name)
	}
	r.proxies[name] = p
	return nil
}

// Find returns the proxy registered under name.
func (r *Registry) Find(name string) (Proxy, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.proxies[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProxy, name)
	}
	return p, nil
}

// Names lists the registered proxy names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.proxies))
	for name := range r.proxies {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
