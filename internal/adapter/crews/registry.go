// Package crews maps declarative handler specs to concrete handler
// implementations. The kind registry is a closed set: configuration can
// only name kinds that were registered at startup, never load arbitrary
// code.
package crews

import (
	"fmt"
	"sort"
	"sync"

	"github.com/GiovanoMP/chatwootai-hub/internal/domain"
)

// BuilderFunc constructs a handler from its spec and the domain params of
// the configuration being materialized.
type BuilderFunc func(spec domain.HandlerSpec, params map[string]string) (domain.Handler, error)

// Registry holds the known handler kinds.
type Registry struct {
	mu       sync.RWMutex
	builders map[string]BuilderFunc
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{builders: make(map[string]BuilderFunc)}
}

// Register adds a handler kind. Registering a duplicate kind is an error.
func (r *Registry) Register(kind string, builder BuilderFunc) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.builders[kind]; ok {
		return fmt.Errorf("handler kind %q already registered", kind)
	}
	r.builders[kind] = builder
	return nil
}

// Build constructs a handler for the given spec. An unknown kind is a
// configuration error for the crew set being built, not a crash.
func (r *Registry) Build(spec domain.HandlerSpec, params map[string]string) (domain.Handler, error) {
	r.mu.RLock()
	builder, ok := r.builders[spec.Kind]
	r.mu.RUnlock()
	if !ok {
		return nil, domain.NewDomainError("Registry.Build", domain.ErrMalformedConfig,
			fmt.Sprintf("unknown handler kind %q", spec.Kind))
	}
	return builder(spec, params)
}

// Kinds returns the registered kind names, sorted.
func (r *Registry) Kinds() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	kinds := make([]string, 0, len(r.builders))
	for k := range r.builders {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}

// DefaultRegistry returns a registry with the built-in handler kinds.
// The built-in set is distinct by construction, so a registration failure
// is a programming error and panics.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	builtins := map[string]BuilderFunc{
		KindClassifier: newClassifier,
		KindEnricher:   newEnricher,
		KindResponder:  newResponder,
		KindEscalator:  newEscalator,
	}
	for kind, builder := range builtins {
		if err := r.Register(kind, builder); err != nil {
			panic(err)
		}
	}
	return r
}
