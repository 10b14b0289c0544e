package transport

import (
	"fmt"
	"sort"
)

// Registry maps channel names to adapters.
//
// It is built once at startup from the configured providers and never
// mutated afterwards, so lookups are lock-free.
type Registry struct {
	adapters map[string]Adapter
}

func NewRegistry(adapters ...Adapter) (*Registry, error) {
	r := &Registry{adapters: make(map[string]Adapter, len(adapters))}
	for _, a := range adapters {
		if a == nil {
			continue
		}
		name := a.Name()
		if name == "" {
			return nil, fmt.Errorf("adapter with empty channel name")
		}
		if _, dup := r.adapters[name]; dup {
			return nil, fmt.Errorf("duplicate adapter for channel %q", name)
		}
		r.adapters[name] = a
	}
	return r, nil
}

func (r *Registry) Get(channel string) (Adapter, bool) {
	if r == nil {
		return nil, false
	}
	a, ok := r.adapters[channel]
	return a, ok
}

func (r *Registry) Has(channel string) bool {
	_, ok := r.Get(channel)
	return ok
}

// Channels returns the registered channel names, sorted for stable output.
func (r *Registry) Channels() []string {
	if r == nil {
		return nil
	}
	out := make([]string, 0, len(r.adapters))
	for name := range r.adapters {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
