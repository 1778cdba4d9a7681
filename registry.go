package social

import (
	"sync"
)

// AdapterRegistry dispatches by provider. It is the single place where the
// provider key selects an implementation.
type AdapterRegistry struct {
	mu       sync.RWMutex
	adapters map[Provider]Adapter
}

// NewAdapterRegistry registers the given adapters.
func NewAdapterRegistry(adapters ...Adapter) *AdapterRegistry {
	r := &AdapterRegistry{adapters: map[Provider]Adapter{}}
	for _, a := range adapters {
		r.Register(a)
	}
	return r
}

// Register adds or replaces the adapter for its provider.
func (r *AdapterRegistry) Register(a Adapter) {
	if a == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[a.Name()] = a
}

// Get returns the adapter for provider. Known providers that were not
// configured yield config_error; anything else is a validation error.
func (r *AdapterRegistry) Get(provider Provider) (Adapter, error) {
	if _, err := ParseProvider(string(provider)); err != nil {
		return nil, err
	}
	if r != nil {
		r.mu.RLock()
		a, ok := r.adapters[provider]
		r.mu.RUnlock()
		if ok {
			return a, nil
		}
	}
	return nil, NewPublishError(KindConfig, provider, "provider is not configured")
}

// Enabled lists configured providers in display order.
func (r *AdapterRegistry) Enabled() []Provider {
	var out []Provider
	if r == nil {
		return out
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, p := range Providers() {
		if _, ok := r.adapters[p]; ok {
			out = append(out, p)
		}
	}
	return out
}
