// Package docsite is the built-in reference stack: it renders a validated
// application specification into a small markdown documentation tree. It
// exists to exercise the full generator/hook contract surface end to end;
// real application stacks register alongside it with richer templates.
package docsite

import (
	"github.com/appforge/appforge/internal/artifact"
	"github.com/appforge/appforge/internal/hooks"
	"github.com/appforge/appforge/internal/stack"
)

// Artifact keys produced within this stack.
const (
	// KeyEntityPages maps entity names to their page paths.
	KeyEntityPages artifact.Key = "docsite.entity_pages"

	// KeyNav is the rendered navigation index.
	KeyNav artifact.Key = "docsite.nav"

	// KeyReportHTML is the HTML build report, marked for display.
	KeyReportHTML artifact.Key = "docsite.report_html"

	// KeyPreviewToken is a generated preview credential, marked for display.
	KeyPreviewToken artifact.Key = "docsite.preview_token"
)

// Backend composes the docsite stack.
func Backend() *stack.Backend {
	return &stack.Backend{
		ID:          "docsite",
		Description: "Markdown documentation tree for the application specification",
		Generators: []stack.Generator{
			&manifestGenerator{},
			&entitiesGenerator{},
			&surfacesGenerator{},
		},
		Hooks: []stack.HookDescriptor{
			{Hook: &workspaceHook{}},
			{Hook: &hooks.EnvCheck{}},
			{Hook: &reportHook{}, Requires: []artifact.Key{KeyNav}, Produces: []artifact.Key{KeyReportHTML}},
			{Hook: &credentialsHook{}, Produces: []artifact.Key{KeyPreviewToken}},
			{Hook: &hooks.GitInit{EnabledVar: "git_init"}},
		},
	}
}
