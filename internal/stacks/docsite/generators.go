package docsite

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/appforge/appforge/internal/artifact"
	"github.com/appforge/appforge/internal/ir"
	"github.com/appforge/appforge/internal/naming"
	"github.com/appforge/appforge/internal/stack"
)

// entitiesGenerator emits one markdown page per entity and publishes the
// entity page map for downstream generators.
type entitiesGenerator struct{ stack.Base }

func (g *entitiesGenerator) ID() string                { return "entities" }
func (g *entitiesGenerator) Produces() []artifact.Key  { return []artifact.Key{KeyEntityPages} }
func (g *entitiesGenerator) OutputPaths() []string     { return []string{"content/entities/**"} }

func (g *entitiesGenerator) Generate(ctx context.Context, rc *stack.RunContext) (*stack.GeneratorResult, error) {
	pages := make(map[string]string)
	var files []stack.File
	var warnings []string
	for _, e := range rc.IR.Entities() {
		if e.Name == "" {
			return nil, stack.FailNode(e.Name, fmt.Errorf("entity without a name"))
		}
		path := "content/entities/" + naming.Kebab(e.Name) + ".md"
		if len(e.Fields) == 0 {
			warnings = append(warnings, fmt.Sprintf("entity %s has no fields", e.Name))
		}
		files = append(files, stack.File{Path: path, Content: entityPage(e)})
		pages[e.Name] = path
	}
	return &stack.GeneratorResult{
		Files:     files,
		Artifacts: []artifact.Value{{Key: KeyEntityPages, Payload: pages}},
		Warnings:  warnings,
	}, nil
}

func entityPage(e ir.Entity) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", naming.Pascal(e.Name))
	fmt.Fprintf(&b, "Collection: `%s`\n\n", naming.Snake(naming.Plural(e.Name)))
	if len(e.Fields) > 0 {
		b.WriteString("| Field | Type | Required | Unique |\n")
		b.WriteString("| --- | --- | --- | --- |\n")
		for _, f := range e.Fields {
			fmt.Fprintf(&b, "| %s | %s | %v | %v |\n", naming.Camel(f.Name), f.Type, f.Required, f.Unique)
		}
	}
	return []byte(b.String())
}

// surfacesGenerator emits one page per surface plus the navigation index,
// linking entity pages produced earlier.
type surfacesGenerator struct{ stack.Base }

func (g *surfacesGenerator) ID() string               { return "surfaces" }
func (g *surfacesGenerator) Requires() []artifact.Key { return []artifact.Key{KeyEntityPages} }
func (g *surfacesGenerator) Produces() []artifact.Key { return []artifact.Key{KeyNav} }
func (g *surfacesGenerator) OutputPaths() []string {
	return []string{"content/surfaces/**", "content/_nav.md"}
}

func (g *surfacesGenerator) Generate(ctx context.Context, rc *stack.RunContext) (*stack.GeneratorResult, error) {
	entityPages, err := entityPagesArtifact(rc)
	if err != nil {
		return nil, err
	}

	var files []stack.File
	var nav strings.Builder
	nav.WriteString("# Navigation\n\n## Entities\n\n")
	names := make([]string, 0, len(entityPages))
	for n := range entityPages {
		names = append(names, n)
	}
	sort.Strings(names)
	for _, n := range names {
		fmt.Fprintf(&nav, "- [%s](/%s)\n", n, entityPages[n])
	}

	nav.WriteString("\n## Surfaces\n\n")
	for _, s := range rc.IR.Surfaces() {
		if s.Entity != "" {
			if _, ok := entityPages[s.Entity]; !ok {
				return nil, stack.FailNode(s.Name,
					fmt.Errorf("surface references unknown entity %q", s.Entity))
			}
		}
		path := "content/surfaces/" + naming.Kebab(s.Name) + ".md"
		files = append(files, stack.File{Path: path, Content: surfacePage(s)})
		fmt.Fprintf(&nav, "- [%s](/%s)\n", s.Name, path)
	}

	files = append(files, stack.File{Path: "content/_nav.md", Content: []byte(nav.String())})
	return &stack.GeneratorResult{
		Files:     files,
		Artifacts: []artifact.Value{{Key: KeyNav, Payload: nav.String()}},
	}, nil
}

func surfacePage(s ir.Surface) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", naming.Pascal(s.Name))
	if s.Entity != "" {
		fmt.Fprintf(&b, "Entity: [%s](/content/entities/%s.md)\n\n", s.Entity, naming.Kebab(s.Entity))
	}
	for _, sec := range s.Sections {
		fmt.Fprintf(&b, "## %s\n\n", sec.Name)
		for _, el := range sec.Elements {
			label := el.Label
			if label == "" {
				label = naming.Pascal(el.Field)
			}
			fmt.Fprintf(&b, "- %s (%s)\n", label, el.Kind)
		}
		b.WriteString("\n")
	}
	return []byte(b.String())
}

// manifestGenerator summarizes the build into manifest.yaml once all pages
// exist.
type manifestGenerator struct{ stack.Base }

func (g *manifestGenerator) ID() string { return "manifest" }
func (g *manifestGenerator) Requires() []artifact.Key {
	return []artifact.Key{KeyEntityPages, KeyNav}
}
func (g *manifestGenerator) OutputPaths() []string { return []string{"manifest.yaml"} }

func (g *manifestGenerator) Generate(ctx context.Context, rc *stack.RunContext) (*stack.GeneratorResult, error) {
	entityPages, err := entityPagesArtifact(rc)
	if err != nil {
		return nil, err
	}

	type manifest struct {
		Application string            `yaml:"application"`
		Version     string            `yaml:"version"`
		Stack       string            `yaml:"stack"`
		Entities    map[string]string `yaml:"entities"`
		Surfaces    int               `yaml:"surfaces"`
		Services    int               `yaml:"services"`
	}
	data, err := yaml.Marshal(manifest{
		Application: rc.IR.Name,
		Version:     rc.IR.Version,
		Stack:       rc.StackID,
		Entities:    entityPages,
		Surfaces:    len(rc.IR.Surfaces()),
		Services:    len(rc.IR.Services()),
	})
	if err != nil {
		return nil, fmt.Errorf("marshal manifest: %w", err)
	}
	return &stack.GeneratorResult{
		Files: []stack.File{{Path: "manifest.yaml", Content: data}},
	}, nil
}

func entityPagesArtifact(rc *stack.RunContext) (map[string]string, error) {
	v, err := rc.Artifacts.Get(KeyEntityPages)
	if err != nil {
		return nil, err
	}
	pages, ok := v.(map[string]string)
	if !ok {
		return nil, fmt.Errorf("artifact %q has unexpected payload type %T", KeyEntityPages, v)
	}
	return pages, nil
}
