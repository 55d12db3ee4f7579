package lakeload

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// BackendFactory builds a Store rooted at the binding's bucket.
type BackendFactory func(ctx context.Context, b Binding) (Store, error)

// Registry maps URI schemes to backend factories.
//
// Registering is idempotent: registering a scheme again replaces its
// factory. Registry is safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]BackendFactory
}

// NewRegistry creates a registry with the file backend registered.
func NewRegistry() *Registry {
	r := &Registry{factories: make(map[string]BackendFactory)}
	r.Register(fileBackend, schemeFile)
	return r
}

// DefaultRegistry is used by loaders that are not given their own.
var DefaultRegistry = NewRegistry()

// Register installs factory for each scheme.
func (r *Registry) Register(factory BackendFactory, schemes ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range schemes {
		r.factories[strings.ToLower(s)] = factory
	}
}

// Lookup returns the factory registered for scheme.
func (r *Registry) Lookup(scheme string) (BackendFactory, bool) {
	r.mu.RLock()
	f, ok := r.factories[strings.ToLower(scheme)]
	r.mu.RUnlock()
	return f, ok
}

// Schemes returns the registered schemes in lexical order.
func (r *Registry) Schemes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.factories))
	for s := range r.factories {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// Bind builds the store for a binding using the factory for its scheme.
func (r *Registry) Bind(ctx context.Context, b Binding) (Store, error) {
	factory, ok := r.Lookup(b.Location.Scheme)
	if !ok {
		return nil, fmt.Errorf("%w: %q (registered: %s)", ErrUnsupportedScheme, b.Location.Scheme, strings.Join(r.Schemes(), ", "))
	}
	return factory(ctx, b)
}

// fileBackend serves file:// locations from the filesystem root so that
// table keys and data file URIs share one store.
func fileBackend(_ context.Context, _ Binding) (Store, error) {
	return NewFS("/")
}
