package policy

import (
	"fmt"
	"sort"
)

// Factory builds a policy bound to opts.
type Factory func(opts Options) (*Policy, error)

// Registry maps policy names to factories. Register everything at start-up;
// after that the registry is only read and is safe for concurrent Lookup.
type Registry struct {
	factories map[string]Factory
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// DefaultRegistry returns a registry holding the built-in policies.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	for _, b := range builtins {
		if err := r.Register(b.name, b.factory); err != nil {
			panic(err)
		}
	}
	return r
}

// Register adds a factory. Names can be registered only once.
func (r *Registry) Register(name string, f Factory) error {
	if name == "" {
		return fmt.Errorf("registering policy: empty name")
	}
	if f == nil {
		return fmt.Errorf("registering policy %q: nil factory", name)
	}
	if _, exists := r.factories[name]; exists {
		return fmt.Errorf("policy %q already registered", name)
	}
	r.factories[name] = f
	return nil
}

// Lookup returns a fresh policy named name, bound to opts.
func (r *Registry) Lookup(name string, opts Options) (*Policy, error) {
	f, ok := r.factories[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownPolicy, name)
	}
	p, err := f(opts)
	if err != nil {
		return nil, fmt.Errorf("creating %s policy: %w", name, err)
	}
	return p, nil
}

// FromOptions looks up the policy named by opts.Context.
func (r *Registry) FromOptions(opts Options) (*Policy, error) {
	return r.Lookup(opts.Context, opts)
}

// Names returns the registered policy names, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
