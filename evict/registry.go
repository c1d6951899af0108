package evict

import (
	"fmt"
	"sync"
)

// Registry is an explicit, startup-time mapping from logical type names to
// descriptors. It replaces runtime classpath scanning: the application
// registers every cacheable type at its composition root.
type Registry struct {
	mu    sync.RWMutex
	types map[string]TypeDescriptor
}

// NewRegistry creates an empty type registry.
func NewRegistry() *Registry {
	return &Registry{types: make(map[string]TypeDescriptor)}
}

// Register adds or replaces a type descriptor under its logical name.
func (r *Registry) Register(desc TypeDescriptor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.types[desc.Name] = desc
}

// RegisterName registers a type by name with no associated regions.
func (r *Registry) RegisterName(name string) {
	r.Register(TypeDescriptor{Name: name})
}

// Resolve returns the descriptor registered under the logical name.
func (r *Registry) Resolve(name string) (TypeDescriptor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	desc, ok := r.types[name]
	if !ok {
		return TypeDescriptor{}, fmt.Errorf("%w: %s", ErrTypeNotRegistered, name)
	}
	return desc, nil
}

// Names returns the registered logical names.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.types))
	for name := range r.types {
		names = append(names, name)
	}
	return names
}

var _ TypeRegistry = (*Registry)(nil)
