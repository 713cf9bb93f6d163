// Package stack defines the contracts a target technology stack implements:
// generators that each produce a bounded slice of the output file tree, hooks
// that produce side effects at fixed lifecycle phases, and the Backend bundle
// that composes them. Stacks register explicitly into a Registry at process
// start; nothing is discovered by reflection or scanning.
package stack

import (
	"context"

	"github.com/appforge/appforge/internal/artifact"
	"github.com/appforge/appforge/internal/ir"
)

// RunContext is the view of one build run handed to generators and hooks.
// The IR snapshot is read-only; the artifact registry is the only channel
// for passing data between units.
type RunContext struct {
	// RunID uniquely identifies this build run.
	RunID string

	// StackID is the target backend id.
	StackID string

	// OutputDir is the output root. Generators never write here directly —
	// they return files and the orchestrator flushes them — but post-build
	// hooks may operate on the already-written tree.
	OutputDir string

	// IR is the immutable specification snapshot.
	IR *ir.Snapshot

	// Artifacts is the per-run artifact registry.
	Artifacts *artifact.Registry

	// Vars carries caller-supplied run options (string key/value).
	Vars map[string]string
}

// Var returns a run option value, or the empty string when absent.
func (rc *RunContext) Var(name string) string {
	if rc.Vars == nil {
		return ""
	}
	return rc.Vars[name]
}

// File is a single output file emitted by a generator, relative to the
// output root.
type File struct {
	Path    string
	Content []byte
}

// GeneratorResult is everything a generator hands back on success.
type GeneratorResult struct {
	// Files are buffered by the orchestrator and flushed only when the
	// generator as a whole succeeded.
	Files []File

	// Artifacts are stored into the registry for later units.
	Artifacts []artifact.Value

	// Warnings are recorded in the build result without failing the run.
	Warnings []string
}

// Generator produces a bounded slice of the output tree. Generate must be a
// pure function of the IR, the declared Requires artifacts and the run vars —
// never of incidental registry state — which keeps every generator
// independently testable against a synthetic RunContext.
type Generator interface {
	// ID is the unique generator id within its backend.
	ID() string

	// Requires lists artifact keys this generator consumes. Every key must
	// be producible by a generator that can be ordered strictly earlier.
	Requires() []artifact.Key

	// Produces lists artifact keys this generator writes.
	Produces() []artifact.Key

	// OutputPaths declares the file paths or glob patterns this generator
	// may emit. Two generators of one backend must not overlap.
	OutputPaths() []string

	// Generate runs the unit. A returned error aborts the whole run.
	Generate(ctx context.Context, rc *RunContext) (*GeneratorResult, error)
}

// GenError carries the IR node a generator failed on, so the orchestrator
// can report the exact entity/surface/field implicated.
type GenError struct {
	Node string
	Err  error
}

func (e *GenError) Error() string {
	if e.Node == "" {
		return e.Err.Error()
	}
	return e.Node + ": " + e.Err.Error()
}

func (e *GenError) Unwrap() error { return e.Err }

// FailNode wraps err with the implicated IR node name.
func FailNode(node string, err error) error {
	return &GenError{Node: node, Err: err}
}

// Base provides zero-value defaults for optional generator declarations.
// Stacks can embed it and override only what they need.
type Base struct{}

func (Base) Requires() []artifact.Key { return nil }
func (Base) Produces() []artifact.Key { return nil }
func (Base) OutputPaths() []string    { return nil }

// Func adapts a plain function into a Generator for small inline units,
// mostly in tests.
type Func struct {
	Name  string
	Needs []artifact.Key
	Makes []artifact.Key
	Paths []string
	Fn    func(ctx context.Context, rc *RunContext) (*GeneratorResult, error)
}

func (f *Func) ID() string               { return f.Name }
func (f *Func) Requires() []artifact.Key { return f.Needs }
func (f *Func) Produces() []artifact.Key { return f.Makes }
func (f *Func) OutputPaths() []string    { return f.Paths }
func (f *Func) Generate(ctx context.Context, rc *RunContext) (*GeneratorResult, error) {
	return f.Fn(ctx, rc)
}
