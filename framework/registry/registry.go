package registry

import (
	"sort"
	"strings"
	"sync"

	"github.com/pkg/errors"

	"github.com/nasqa/uut-harness/framework/testcase"
)

// Factory builds a fresh case instance for one test.
type Factory func() testcase.Case

// Registry stores case factories by name.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register adds a factory. Registering the same name twice panics; it is a
// programming error caught at start-up.
func (r *Registry) Register(name string, factory Factory) {
	key := normalize(name)
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.factories[key]; exists {
		panic("registry: case " + key + " registered twice")
	}
	r.factories[key] = factory
}

// Has reports whether a factory exists for the case.
func (r *Registry) Has(name string) bool {
	if r == nil {
		return false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.factories[normalize(name)]
	return ok
}

// New builds the case registered under name.
func (r *Registry) New(name string) (testcase.Case, error) {
	r.mu.RLock()
	factory, ok := r.factories[normalize(name)]
	r.mu.RUnlock()
	if !ok {
		return nil, errors.Errorf("no case registered as %q", name)
	}
	return factory(), nil
}

// Names returns every registered case name, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func normalize(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
