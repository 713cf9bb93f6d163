package docsite

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/yuin/goldmark"

	"github.com/appforge/appforge/internal/artifact"
	"github.com/appforge/appforge/internal/stack"
)

// workspaceHook rejects specifications the docsite stack cannot render
// before anything reaches the disk.
type workspaceHook struct{}

func (h *workspaceHook) ID() string         { return "workspace" }
func (h *workspaceHook) Phase() stack.Phase { return stack.PhasePreBuild }

func (h *workspaceHook) Run(ctx context.Context, rc *stack.RunContext) (*stack.HookResult, error) {
	if len(rc.IR.Modules) == 0 {
		return nil, fmt.Errorf("specification %q declares no modules", rc.IR.Name)
	}
	surfaces := make(map[string]bool)
	for _, s := range rc.IR.Surfaces() {
		surfaces[s.Name] = true
	}
	var warnings []string
	for _, m := range rc.IR.Modules {
		for _, w := range m.Workspaces {
			for _, name := range w.Surfaces {
				if !surfaces[name] {
					warnings = append(warnings,
						fmt.Sprintf("workspace %s references unknown surface %q", w.Name, name))
				}
			}
		}
	}
	return &stack.HookResult{Warnings: warnings}, nil
}

// reportHook renders an HTML build report from the navigation markdown and
// publishes it as a display artifact. Compose it non-critical: a broken
// report never invalidates a correct tree.
type reportHook struct{}

func (h *reportHook) ID() string         { return "report" }
func (h *reportHook) Phase() stack.Phase { return stack.PhasePostBuild }

func (h *reportHook) Run(ctx context.Context, rc *stack.RunContext) (*stack.HookResult, error) {
	nav, err := rc.Artifacts.Get(KeyNav)
	if err != nil {
		return nil, err
	}
	var md strings.Builder
	fmt.Fprintf(&md, "# Build report: %s\n\n", rc.IR.Name)
	fmt.Fprintf(&md, "- Stack: `%s`\n- Run: `%s`\n", rc.StackID, rc.RunID)
	fmt.Fprintf(&md, "- Entities: %d\n- Surfaces: %d\n- Services: %d\n\n",
		len(rc.IR.Entities()), len(rc.IR.Surfaces()), len(rc.IR.Services()))
	fmt.Fprint(&md, nav)

	var html bytes.Buffer
	if err := goldmark.Convert([]byte(md.String()), &html); err != nil {
		return nil, fmt.Errorf("render report: %w", err)
	}
	return &stack.HookResult{
		Artifacts: []artifact.Value{{Key: KeyReportHTML, Payload: html.String()}},
	}, nil
}

// credentialsHook issues a one-time preview token for the generated site and
// surfaces it through the display channel.
type credentialsHook struct{}

func (h *credentialsHook) ID() string         { return "credentials" }
func (h *credentialsHook) Phase() stack.Phase { return stack.PhasePostBuild }

func (h *credentialsHook) Run(ctx context.Context, rc *stack.RunContext) (*stack.HookResult, error) {
	return &stack.HookResult{
		Artifacts: []artifact.Value{{Key: KeyPreviewToken, Payload: uuid.NewString()}},
	}, nil
}
