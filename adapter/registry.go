package adapter

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

var (
	ErrUnknownSite   = errors.New("unknown site")
	ErrDuplicateSite = errors.New("site already registered")
)

// Registry maps newspaper IDs to their adapters.
type Registry struct {
	mu    sync.RWMutex
	sites map[string]Site
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{sites: make(map[string]Site)}
}

// Register adds s under its name.
func (r *Registry) Register(s Site) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := s.Name()
	if name == "" {
		return fmt.Errorf("register site: empty name")
	}
	if _, ok := r.sites[name]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateSite, name)
	}
	r.sites[name] = s
	return nil
}

// Resolve returns the adapter registered under name.
func (r *Registry) Resolve(name string) (Site, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.sites[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSite, name)
	}
	return s, nil
}

// Names returns the registered names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.sites))
	for name := range r.sites {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
