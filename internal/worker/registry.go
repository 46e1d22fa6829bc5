package worker

import (
	"fmt"

	"github.com/RezaEskandarii/autopilot/types/config"
)

// Factory builds a worker from configuration. It returns nil when the worker is disabled.
type Factory func(cfg *config.AgentConfig, deps Deps) (Worker, error)

// Registry maps worker names to factories and builds them in registration order.
type Registry struct {
	names     []string
	factories map[string]Factory
}

func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// DefaultRegistry registers the terminal and browser workers.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.MustRegister(TerminalWorkerName, func(cfg *config.AgentConfig, deps Deps) (Worker, error) {
		if !cfg.Workers.Terminal.Enabled {
			return nil, nil
		}
		return NewTerminalWorker(cfg.Workers.Terminal, deps), nil
	})
	r.MustRegister(BrowserWorkerName, func(cfg *config.AgentConfig, deps Deps) (Worker, error) {
		if !cfg.Workers.Browser.Enabled {
			return nil, nil
		}
		return NewBrowserWorker(cfg.Workers.Browser, deps), nil
	})
	return r
}

func (r *Registry) Register(name string, factory Factory) error {
	if name == "" || factory == nil {
		return fmt.Errorf("worker registration needs a name and a factory")
	}
	if _, exists := r.factories[name]; exists {
		return fmt.Errorf("worker %q is already registered", name)
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

// Build instantiates every enabled worker.
func (r *Registry) Build(cfg *config.AgentConfig, deps Deps) ([]Worker, error) {
	var workers []Worker
	for _, name := range r.names {
		w, err := r.factories[name](cfg, deps)
		if err != nil {
			return nil, fmt.Errorf("build worker %s: %w", name, err)
		}
		if w == nil {
			deps.Logger.Info("worker disabled", "worker", name)
			continue
		}
		workers = append(workers, w)
	}
	return workers, nil
}
