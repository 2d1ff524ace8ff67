package hclgraph

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"pipelined.dev/audiograph/node"
)

// ErrUnknownKind is returned when no factory is registered for kind.
var ErrUnknownKind = errors.New("unknown processor kind")

// Factory creates processor with default state.
type Factory func() node.Processor

// Registry maps processor kinds to factories. It's safe for concurrent
// use.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry returns registry with provided factories.
func NewRegistry(factories map[string]func() node.Processor) *Registry {
	r := &Registry{factories: make(map[string]Factory, len(factories))}
	for kind, f := range factories {
		r.factories[kind] = f
	}
	return r
}

// Register adds or replaces factory of the kind.
func (r *Registry) Register(kind string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[kind] = f
}

// New creates processor of the kind.
func (r *Registry) New(kind string) (node.Processor, error) {
	r.mu.RLock()
	f, ok := r.factories[kind]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	return f(), nil
}

// Kinds returns sorted registered kinds.
func (r *Registry) Kinds() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	kinds := make([]string, 0, len(r.factories))
	for kind := range r.factories {
		kinds = append(kinds, kind)
	}
	sort.Strings(kinds)
	return kinds
}
