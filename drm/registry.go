package drm

import (
	"fmt"
	"sort"
	"sync"
)

// Registry is an ordered set of HelperProviders. It is handed to the pool at
// construction; there is no package-level registration.
type Registry struct {
	mu        sync.RWMutex
	providers []HelperProvider
}

// NewRegistry returns a registry containing providers.
func NewRegistry(providers ...HelperProvider) *Registry {
	r := &Registry{}
	for _, p := range providers {
		r.Register(p)
	}
	return r
}

// Register adds p. Providers with equal weight keep registration order.
func (r *Registry) Register(p HelperProvider) {
	if p == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers = append(r.providers, p)
	sort.SliceStable(r.providers, func(i, j int) bool {
		return r.providers[i].Weight() > r.providers[j].Weight()
	})
}

// Providers returns the providers in lookup order.
func (r *Registry) Providers() []HelperProvider {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]HelperProvider(nil), r.providers...)
}

// IsSupported reports whether any provider handles info.
func (r *Registry) IsSupported(info SystemInfo) bool {
	return r.lookup(info) != nil
}

// NewHelper builds a helper from the first provider that supports info.
func (r *Registry) NewHelper(info SystemInfo) (Helper, error) {
	p := r.lookup(info)
	if p == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedDRM, info.SystemID)
	}
	h, err := p.NewHelper(info)
	if err != nil {
		return nil, fmt.Errorf("%w: provider %s: %v", ErrUnsupportedDRM, p.Name(), err)
	}
	if h == nil {
		return nil, fmt.Errorf("%w: provider %s returned no helper", ErrUnsupportedDRM, p.Name())
	}
	return h, nil
}

func (r *Registry) lookup(info SystemInfo) HelperProvider {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, p := range r.providers {
		if p.Supports(info) {
			return p
		}
	}
	return nil
}
