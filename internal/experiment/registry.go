package experiment

import (
	"fmt"
	"slices"
	"sync"

	"github.com/san-kum/cadsim/internal/dynamo"
)

// Registry maps model names to constructors. Remote workers resolve the state
// update blocks of a descriptor through it, since functions cannot travel in
// a bundle.
type Registry struct {
	mu     sync.RWMutex
	models map[string]func() *Model
}

func NewRegistry() *Registry {
	return &Registry{models: make(map[string]func() *Model)}
}

// DefaultRegistry holds the models compiled into this binary.
var DefaultRegistry = NewRegistry()

func (r *Registry) Register(name string, fn func() *Model) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.models[name] = fn
}

func (r *Registry) GetModel(name string) (*Model, error) {
	r.mu.RLock()
	fn, ok := r.models[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown model: %s", name)
	}
	m := fn()
	m.Name = name
	return m, nil
}

// Blocks returns the state update blocks of a registered model.
func (r *Registry) Blocks(name string) ([]dynamo.Block, error) {
	m, err := r.GetModel(name)
	if err != nil {
		return nil, err
	}
	return m.Blocks, nil
}

func (r *Registry) ListModels() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.models))
	for name := range r.models {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

func Register(name string, fn func() *Model) { DefaultRegistry.Register(name, fn) }
