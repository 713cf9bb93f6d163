package stack

import (
	"github.com/appforge/appforge/internal/artifact"
)

// Deprecation is advisory metadata for a backend scheduled for removal.
// Execution proceeds normally; the orchestrator only emits a structured
// notice before running anything.
type Deprecation struct {
	Since         string `json:"since"`
	Removal       string `json:"removal"`
	MigrationHint string `json:"migration_hint"`
}

// Backend is a named bundle of generators, hooks and metadata targeting one
// technology stack. The generator set is unordered — execution order is
// computed from requires/produces edges, with declaration order as the
// deterministic tiebreak.
type Backend struct {
	// ID is the stack id callers select.
	ID string

	// Description is a one-line summary shown by introspection tooling.
	Description string

	// Generators in declaration order. The index of a generator in this
	// slice is its stable tiebreak rank.
	Generators []Generator

	// Hooks in declaration order; phase ordering is preserved per phase.
	Hooks []HookDescriptor

	// Overridable lists artifact keys that may legitimately be written
	// more than once during a run.
	Overridable []artifact.Key

	// Deprecated carries deprecation metadata when set.
	Deprecated *Deprecation
}

// HooksFor returns the backend's hooks for one phase, in declared order.
func (b *Backend) HooksFor(phase Phase) []HookDescriptor {
	var out []HookDescriptor
	for _, hd := range b.Hooks {
		if hd.Hook.Phase() == phase {
			out = append(out, hd)
		}
	}
	return out
}

// GeneratorIDs returns the generator ids in declaration order.
func (b *Backend) GeneratorIDs() []string {
	ids := make([]string, 0, len(b.Generators))
	for _, g := range b.Generators {
		ids = append(ids, g.ID())
	}
	return ids
}

// HookIDs returns all hook ids in declaration order.
func (b *Backend) HookIDs() []string {
	ids := make([]string, 0, len(b.Hooks))
	for _, hd := range b.Hooks {
		ids = append(ids, hd.Hook.ID())
	}
	return ids
}

// Descriptor is the introspection view of a registered backend.
type Descriptor struct {
	ID          string       `json:"id"`
	Description string       `json:"description,omitempty"`
	Deprecated  *Deprecation `json:"deprecated,omitempty"`
	Generators  []string     `json:"generators"`
	Hooks       []string     `json:"hooks"`
}
