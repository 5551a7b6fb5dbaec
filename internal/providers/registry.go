package providers

import (
	"fmt"
	"sort"
	"sync"
)

type Registry struct {
	mu        sync.RWMutex
	providers map[string]Provider
}

func NewRegistry() *Registry {
	return &Registry{providers: make(map[string]Provider)}
}

// Register adds p under its Info().ID. Ids must be unique.
func (r *Registry) Register(p Provider) error {
	info := p.Info()
	if info.ID == "" {
		return fmt.Errorf("provider %q has no id", info.Name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.providers[info.ID]; exists {
		return fmt.Errorf("provider with id %q is already registered", info.ID)
	}
	r.providers[info.ID] = p
	return nil
}

func (r *Registry) Get(id string) (Provider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[id]
	return p, ok
}

// All returns every registered provider's info, sorted by id.
func (r *Registry) All() []Info {
	r.mu.RLock()
	out := make([]Info, 0, len(r.providers))
	for _, p := range r.providers {
		out = append(out, p.Info())
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
