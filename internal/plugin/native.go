package plugin

import (
	"fmt"
	"sort"
	"sync"
)

// Factory builds the hook set for a native (in-process Go) plugin.
type Factory func(m *Manifest) (Hooks, error)

// NativeRegistry maps manifest entry-point names to native factories.
// Host applications register their built-in plugins here before the manager
// starts installing.
type NativeRegistry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewNativeRegistry creates an empty registry.
func NewNativeRegistry() *NativeRegistry {
	return &NativeRegistry{factories: make(map[string]Factory)}
}

// Register adds a factory under a name. Registering a duplicate name or a
// nil factory is a programming error.
func (r *NativeRegistry) Register(name string, f Factory) error {
	if f == nil {
		return fmt.Errorf("native factory %q is nil", name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.factories[name]; exists {
		return fmt.Errorf("native factory %q already registered", name)
	}
	r.factories[name] = f
	return nil
}

// Lookup returns the factory registered under the name.
func (r *NativeRegistry) Lookup(name string) (Factory, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.factories[name]
	return f, ok
}

// Has reports whether a factory is registered under the name.
func (r *NativeRegistry) Has(name string) bool {
	_, ok := r.Lookup(name)
	return ok
}

// Names returns the registered factory names, sorted.
func (r *NativeRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
