// Package selection keeps client-defined named sets of observation
// identifiers in process memory.
package selection

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// ErrNotFound is returned when resolving a name that was never stored.
var ErrNotFound = errors.New("selection not found")

// Ack summarizes a Store call.
type Ack struct {
	Status string   `json:"status"`
	Stored []string `json:"stored"`
}

// Registry maps selection names to identifier lists. The zero value is not
// usable; construct with NewRegistry.
type Registry struct {
	mu    sync.RWMutex
	items map[string][]string
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{items: make(map[string][]string)}
}

// Store upserts every entry of selections. Existing names are replaced, not
// merged.
func (r *Registry) Store(selections map[string][]string) Ack {
	names := make([]string, 0, len(selections))
	copies := make(map[string][]string, len(selections))
	for name, ids := range selections {
		copies[name] = append(make([]string, 0, len(ids)), ids...)
		names = append(names, name)
	}
	sort.Strings(names)

	r.mu.Lock()
	for name, ids := range copies {
		r.items[name] = ids
	}
	r.mu.Unlock()
	return Ack{Status: "success", Stored: names}
}

// Resolve returns a copy of the identifiers stored under name.
func (r *Registry) Resolve(name string) ([]string, error) {
	r.mu.RLock()
	ids, ok := r.items[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%q: %w", name, ErrNotFound)
	}
	return append(make([]string, 0, len(ids)), ids...), nil
}

// Names lists the stored selection names in ascending order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	names := make([]string, 0, len(r.items))
	for name := range r.items {
		names = append(names, name)
	}
	r.mu.RUnlock()
	sort.Strings(names)
	return names
}

// Len returns the number of stored selections.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.items)
}
