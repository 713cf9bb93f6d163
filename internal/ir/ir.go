// Package ir defines the validated application specification consumed by the
// build engine. A Snapshot is produced once by the upstream parser/validator
// and is read-only for the whole build run; the engine never performs deep
// semantic validation of it.
package ir

// Snapshot is the root of the specification graph.
type Snapshot struct {
	// Name is the application name.
	Name string `yaml:"name"`

	// Version is the specification version string as authored.
	Version string `yaml:"version"`

	// Modules are the application modules in declaration order.
	Modules []Module `yaml:"modules"`
}

// Module groups entities, surfaces, services and workspaces.
type Module struct {
	Name       string      `yaml:"name"`
	Entities   []Entity    `yaml:"entities,omitempty"`
	Surfaces   []Surface   `yaml:"surfaces,omitempty"`
	Services   []Service   `yaml:"services,omitempty"`
	Workspaces []Workspace `yaml:"workspaces,omitempty"`
}

// Entity is a persistent domain object with typed fields.
type Entity struct {
	Name   string  `yaml:"name"`
	Fields []Field `yaml:"fields,omitempty"`
}

// Field is a single attribute of an entity.
type Field struct {
	Name     string `yaml:"name"`
	Type     string `yaml:"type"`
	Required bool   `yaml:"required,omitempty"`
	Unique   bool   `yaml:"unique,omitempty"`
}

// Surface is a presentation unit bound to an entity.
type Surface struct {
	Name     string    `yaml:"name"`
	Entity   string    `yaml:"entity,omitempty"`
	Sections []Section `yaml:"sections,omitempty"`
}

// Section is a named group of elements within a surface.
type Section struct {
	Name     string    `yaml:"name"`
	Elements []Element `yaml:"elements,omitempty"`
}

// Element is a single widget or binding inside a section.
type Element struct {
	Kind  string `yaml:"kind"`
	Field string `yaml:"field,omitempty"`
	Label string `yaml:"label,omitempty"`
}

// Service is a behavioral unit exposing operations over an entity.
type Service struct {
	Name       string   `yaml:"name"`
	Entity     string   `yaml:"entity,omitempty"`
	Operations []string `yaml:"operations,omitempty"`
}

// Workspace arranges surfaces into a navigable area.
type Workspace struct {
	Name     string   `yaml:"name"`
	Surfaces []string `yaml:"surfaces,omitempty"`
}

// Entities returns all entities across modules in declaration order.
func (s *Snapshot) Entities() []Entity {
	var out []Entity
	for _, m := range s.Modules {
		out = append(out, m.Entities...)
	}
	return out
}

// Surfaces returns all surfaces across modules in declaration order.
func (s *Snapshot) Surfaces() []Surface {
	var out []Surface
	for _, m := range s.Modules {
		out = append(out, m.Surfaces...)
	}
	return out
}

// Services returns all services across modules in declaration order.
func (s *Snapshot) Services() []Service {
	var out []Service
	for _, m := range s.Modules {
		out = append(out, m.Services...)
	}
	return out
}

// FindEntity looks up an entity by name; ok is false when absent.
func (s *Snapshot) FindEntity(name string) (Entity, bool) {
	for _, m := range s.Modules {
		for _, e := range m.Entities {
			if e.Name == name {
				return e, true
			}
		}
	}
	return Entity{}, false
}
