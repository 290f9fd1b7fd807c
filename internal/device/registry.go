package device

import (
	"fmt"
	"sort"
	"sync"
)

// Factory builds a fresh, uninitialized integration.
type Factory func() Integration

// Registry maps device types to factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[Type]Factory
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: map[Type]Factory{}}
}

// Register adds a factory. Registering a type twice is an error.
func (r *Registry) Register(t Type, f Factory) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.factories[t]; exists {
		return fmt.Errorf("device type %q already registered", t)
	}
	r.factories[t] = f
	return nil
}

// New builds an integration of type t.
func (r *Registry) New(t Type) (Integration, error) {
	r.mu.RLock()
	f, ok := r.factories[t]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, t)
	}
	return f(), nil
}

// Types lists the registered types, sorted.
func (r *Registry) Types() []Type {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Type, 0, len(r.factories))
	for t := range r.factories {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
