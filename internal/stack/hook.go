package stack

import (
	"context"

	"github.com/appforge/appforge/internal/artifact"
)

// Phase fixes when a hook runs within the build lifecycle.
type Phase string

const (
	// PhasePreBuild hooks run before any generator, in backend-declared
	// order. A failure aborts the build before any file is written.
	PhasePreBuild Phase = "pre_build"

	// PhasePostBuild hooks run only after every generator succeeded. A
	// non-critical failure is demoted to a warning; a critical one fails
	// the build even though files remain on disk.
	PhasePostBuild Phase = "post_build"
)

// HookResult is what a hook hands back on success.
type HookResult struct {
	Artifacts []artifact.Value
	Warnings  []string
}

// Hook is a pipeline unit producing side effects outside the output tree,
// such as environment checks, credential generation or formatting of the
// emitted files. Hooks read and write the artifact registry exactly as
// generators do.
type Hook interface {
	ID() string
	Phase() Phase
	Run(ctx context.Context, rc *RunContext) (*HookResult, error)
}

// HookDescriptor attaches execution policy and artifact declarations to a
// hook. Non-critical is the safe default; Critical only changes post-build
// failure handling. Requires and Produces are optional: declared Produces
// take part in the registry's duplicate-producer check and bound what the
// hook may write, while an empty list leaves the hook unconstrained.
type HookDescriptor struct {
	Hook     Hook
	Critical bool
	Requires []artifact.Key
	Produces []artifact.Key
}

// HookFunc adapts a plain function into a Hook.
type HookFunc struct {
	Name    string
	InPhase Phase
	Fn      func(ctx context.Context, rc *RunContext) (*HookResult, error)
}

func (h *HookFunc) ID() string   { return h.Name }
func (h *HookFunc) Phase() Phase { return h.InPhase }
func (h *HookFunc) Run(ctx context.Context, rc *RunContext) (*HookResult, error) {
	return h.Fn(ctx, rc)
}
