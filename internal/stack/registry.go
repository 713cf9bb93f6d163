package stack

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/appforge/appforge/internal/artifact"
)

// Registry manages backend registration and lookup. Backend configuration is
// validated statically here, so cyclic graphs, duplicate artifact producers
// and overlapping output paths fail at registration time, never at run time.
type Registry struct {
	mu       sync.RWMutex
	backends map[string]*Backend
}

// NewRegistry creates an empty backend registry. Tests should use their own
// isolated registry rather than the process-wide default.
func NewRegistry() *Registry {
	return &Registry{backends: make(map[string]*Backend)}
}

// Register validates and adds a backend.
func (r *Registry) Register(b *Backend) error {
	if b == nil {
		return fmt.Errorf("cannot register nil backend")
	}
	if b.ID == "" {
		return fmt.Errorf("backend id is required")
	}
	if err := validate(b); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.backends[b.ID]; exists {
		return fmt.Errorf("backend %q already registered", b.ID)
	}
	r.backends[b.ID] = b
	return nil
}

// Get retrieves a backend by stack id.
func (r *Registry) Get(id string) (*Backend, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.backends[id]
	if !ok {
		return nil, fmt.Errorf("unknown stack %q", id)
	}
	return b, nil
}

// Has reports whether a stack id is registered.
func (r *Registry) Has(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.backends[id]
	return ok
}

// List returns all registered backends sorted by id.
func (r *Registry) List() []*Backend {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Backend, 0, len(r.backends))
	for _, b := range r.backends {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Descriptors returns the introspection view of every registered backend,
// sorted by id. Consumed by CLI and tooling layers.
func (r *Registry) Descriptors() []Descriptor {
	backends := r.List()
	out := make([]Descriptor, 0, len(backends))
	for _, b := range backends {
		out = append(out, Descriptor{
			ID:          b.ID,
			Description: b.Description,
			Deprecated:  b.Deprecated,
			Generators:  b.GeneratorIDs(),
			Hooks:       b.HookIDs(),
		})
	}
	return out
}

// validate runs every static check on a backend's composition.
func validate(b *Backend) error {
	overridable := make(map[artifact.Key]bool, len(b.Overridable))
	for _, k := range b.Overridable {
		overridable[k] = true
	}

	seen := make(map[string]bool)
	producers := make(map[artifact.Key]string)
	for _, g := range b.Generators {
		if g.ID() == "" {
			return fmt.Errorf("backend %q: generator with empty id", b.ID)
		}
		if seen[g.ID()] {
			return fmt.Errorf("backend %q: duplicate generator id %q", b.ID, g.ID())
		}
		seen[g.ID()] = true
		for _, key := range g.Produces() {
			if prev, dup := producers[key]; dup && !overridable[key] {
				return fmt.Errorf("backend %q: artifact %q produced by both %q and %q without override declaration",
					b.ID, key, prev, g.ID())
			}
			producers[key] = g.ID()
		}
	}

	hookSeen := make(map[string]bool)
	preProduced := make(map[artifact.Key]bool)
	postProduced := make(map[artifact.Key]bool)
	for _, hd := range b.Hooks {
		if hd.Hook == nil {
			return fmt.Errorf("backend %q: nil hook", b.ID)
		}
		id := hd.Hook.ID()
		if hookSeen[id] {
			return fmt.Errorf("backend %q: duplicate hook id %q", b.ID, id)
		}
		hookSeen[id] = true

		// Declared hook requires must be satisfiable by what can run
		// earlier: pre-build hooks see only earlier pre-build hooks,
		// post-build hooks additionally see every generator.
		for _, key := range hd.Requires {
			switch hd.Hook.Phase() {
			case PhasePreBuild:
				if !preProduced[key] {
					return fmt.Errorf("backend %q: hook %q requires %q, unresolved", b.ID, id, key)
				}
			case PhasePostBuild:
				if _, ok := producers[key]; !ok && !preProduced[key] && !postProduced[key] {
					return fmt.Errorf("backend %q: hook %q requires %q, unresolved", b.ID, id, key)
				}
			}
		}
		for _, key := range hd.Produces {
			if prev, dup := producers[key]; dup && !overridable[key] {
				return fmt.Errorf("backend %q: artifact %q produced by both %q and %q without override declaration",
					b.ID, key, prev, id)
			}
			producers[key] = id
			if hd.Hook.Phase() == PhasePreBuild {
				preProduced[key] = true
			} else {
				postProduced[key] = true
			}
		}
	}

	if err := checkOutputOverlap(b); err != nil {
		return err
	}
	if _, err := ResolveOrder(b); err != nil {
		return err
	}
	return nil
}

// checkOutputOverlap rejects generators declaring overlapping output file
// paths: identical declarations, or a literal path matched by another
// generator's glob pattern.
func checkOutputOverlap(b *Backend) error {
	type claim struct {
		gen     string
		pattern string
	}
	var claims []claim
	for _, g := range b.Generators {
		for _, p := range g.OutputPaths() {
			claims = append(claims, claim{gen: g.ID(), pattern: p})
		}
	}
	for i := 0; i < len(claims); i++ {
		for j := i + 1; j < len(claims); j++ {
			a, c := claims[i], claims[j]
			if a.gen == c.gen {
				continue
			}
			if pathsOverlap(a.pattern, c.pattern) {
				return fmt.Errorf("backend %q: output path conflict: %q (%s) overlaps %q (%s)",
					b.ID, a.pattern, a.gen, c.pattern, c.gen)
			}
		}
	}
	return nil
}

func isGlob(p string) bool { return strings.ContainsAny(p, "*?[{") }

func pathsOverlap(a, b string) bool {
	switch {
	case a == b:
		return true
	case isGlob(a) && !isGlob(b):
		ok, err := doublestar.Match(a, b)
		return err == nil && ok
	case !isGlob(a) && isGlob(b):
		ok, err := doublestar.Match(b, a)
		return err == nil && ok
	default:
		return false
	}
}

// MatchesDeclared reports whether path matches one of the declared output
// paths. An empty declaration list matches everything (the generator opted
// out of path claims).
func MatchesDeclared(declared []string, path string) bool {
	if len(declared) == 0 {
		return true
	}
	for _, p := range declared {
		if p == path {
			return true
		}
		if isGlob(p) {
			if ok, err := doublestar.Match(p, path); err == nil && ok {
				return true
			}
		}
	}
	return false
}

// defaultRegistry is the process-wide backend registry, initialized once at
// startup and treated as read-only afterwards.
var defaultRegistry = NewRegistry()

// DefaultRegistry returns the process-wide backend registry.
func DefaultRegistry() *Registry { return defaultRegistry }

// Register adds a backend to the process-wide registry.
func Register(b *Backend) error { return defaultRegistry.Register(b) }
