package platform

import (
	"fmt"

	"github.com/RezaEskandarii/autopilot/types/config"
)

// Factory builds an adapter from its configuration block.
type Factory func(cfg config.PlatformConfig) (Adapter, error)

// Registry maps platform names to adapter factories.
type Registry struct {
	names     []string
	factories map[string]Factory
}

func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// DefaultRegistry registers a local stub for every built-in platform.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	for _, name := range config.DefaultPlatforms {
		p, ok := profiles[name]
		if !ok {
			panic(fmt.Sprintf("platform %s has no profile", name))
		}
		r.MustRegister(name, func(cfg config.PlatformConfig) (Adapter, error) {
			return newStubAdapter(p, cfg), nil
		})
	}
	return r
}

func (r *Registry) Register(name string, factory Factory) error {
	if name == "" || factory == nil {
		return fmt.Errorf("platform name and factory are required")
	}
	if _, exists := r.factories[name]; exists {
		return fmt.Errorf("platform %q already registered", name)
	}
	r.names = append(r.names, name)
	r.factories[name] = factory
	return nil
}

func (r *Registry) MustRegister(name string, factory Factory) {
	if err := r.Register(name, factory); err != nil {
		panic(err)
	}
}

func (r *Registry) Names() []string {
	return append([]string(nil), r.names...)
}

func (r *Registry) New(name string, cfg config.PlatformConfig) (Adapter, error) {
	factory, ok := r.factories[name]
	if !ok {
		return nil, fmt.Errorf("unknown platform %q", name)
	}
	return factory(cfg)
}
