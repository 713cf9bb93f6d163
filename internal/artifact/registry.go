// Package artifact provides the per-run key/value store shared between
// pipeline units. Every key has exactly one writer per run unless the owning
// backend declared it overridable; readers must declare their dependency on
// a key rather than rely on incidental ordering, so Get on an absent key is
// always an error.
package artifact

import (
	"fmt"
	"sort"
	"sync"
)

// Key identifies a single artifact within one build run.
type Key string

// Value pairs a key with its payload, as returned by generators and hooks.
type Value struct {
	Key     Key
	Payload any
}

// Registry is the per-run artifact store. It is created fresh for each build
// run and discarded at the end; nothing persists across runs. All methods
// are safe for concurrent use so opt-in generator concurrency cannot race.
type Registry struct {
	mu          sync.RWMutex
	values      map[Key]any
	overridable map[Key]bool
	display     map[Key]bool
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		values:      make(map[Key]any),
		overridable: make(map[Key]bool),
		display:     make(map[Key]bool),
	}
}

// AllowOverride marks a key as rewritable. Override declarations come from
// the backend descriptor at run setup, never from individual units.
func (r *Registry) AllowOverride(key Key) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.overridable[key] = true
}

// Put stores a value under key. A second write to an existing key fails
// unless the key was declared overridable.
func (r *Registry) Put(key Key, value any) error {
	if key == "" {
		return fmt.Errorf("artifact key must not be empty")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.values[key]; exists && !r.overridable[key] {
		return fmt.Errorf("artifact %q already produced and not overridable", key)
	}
	r.values[key] = value
	return nil
}

// Writable reports whether key could currently be written, applying the
// same checks as Put without storing anything. Callers that must stay
// side-effect free until a whole batch is known good check here first.
func (r *Registry) Writable(key Key) error {
	if key == "" {
		return fmt.Errorf("artifact key must not be empty")
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	if _, exists := r.values[key]; exists && !r.overridable[key] {
		return fmt.Errorf("artifact %q already produced and not overridable", key)
	}
	return nil
}

// Get returns the value stored under key, failing when absent so consumers
// surface missing dependency declarations instead of reading zero values.
func (r *Registry) Get(key Key) (any, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.values[key]
	if !ok {
		return nil, fmt.Errorf("artifact %q not produced", key)
	}
	return v, nil
}

// Has reports whether key has been produced.
func (r *Registry) Has(key Key) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.values[key]
	return ok
}

// Keys enumerates produced keys in sorted order, for diagnostics.
func (r *Registry) Keys() []Key {
	r.mu.RLock()
	defer r.mu.RUnlock()
	keys := make([]Key, 0, len(r.values))
	for k := range r.values {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

// MarkDisplay flags a key for caller display in the build result
// (generated credentials, follow-up instructions and similar).
func (r *Registry) MarkDisplay(key Key) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.display[key] = true
}

// Display returns a copy of all produced artifacts flagged for display.
func (r *Registry) Display() map[Key]any {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[Key]any)
	for k := range r.display {
		if v, ok := r.values[k]; ok {
			out[k] = v
		}
	}
	return out
}
