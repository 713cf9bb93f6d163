package engine

import (
	"time"

	"github.com/appforge/appforge/internal/artifact"
	"github.com/appforge/appforge/internal/diag"
	"github.com/appforge/appforge/internal/ir"
)

// Request contains all inputs required to execute one build run.
type Request struct {
	// StackID selects the registered backend.
	StackID string

	// Snapshot is the validated IR. Read-only for the whole run.
	Snapshot *ir.Snapshot

	// OutputDir is the output root. The engine assumes exclusive ownership
	// for the duration of the run; concurrent runs against the same
	// location must be serialized by the caller.
	OutputDir string

	// Options provides optional build behavior modifiers.
	Options Options
}

// Options provides optional configuration for build behavior. The zero value
// is the safe default: sequential execution, no unit timeout.
type Options struct {
	// Parallelism > 1 allows generators with no dependency relation to run
	// concurrently. A pure optimization: the written output and its order
	// are identical to a sequential run.
	Parallelism int

	// UnitTimeout bounds each generator and hook execution; exceeding it
	// is treated identically to a failure of that unit. Zero disables.
	UnitTimeout time.Duration

	// DisplayKeys marks artifact keys to surface in the result in addition
	// to those the units mark themselves.
	DisplayKeys []artifact.Key

	// Vars carries string run options handed to generators and hooks.
	Vars map[string]string
}

// WrittenFile describes one flushed output file.
type WrittenFile struct {
	// Path is relative to the output root, slash-separated.
	Path string `json:"path"`

	// Bytes is the content length.
	Bytes int64 `json:"bytes"`

	// Checksum is the hex SHA-256 of the content.
	Checksum string `json:"checksum"`
}

// DeprecationNotice is the structured advisory emitted when a deprecated
// backend is executed.
type DeprecationNotice struct {
	StackID       string `json:"stack_id"`
	Since         string `json:"since"`
	Removal       string `json:"removal"`
	MigrationHint string `json:"migration_hint"`
}

// Result is the outcome of a successful build run.
type Result struct {
	// RunID uniquely identifies the run.
	RunID string `json:"run_id"`

	// StackID is the executed backend.
	StackID string `json:"stack_id"`

	// Files lists every written file in flush order.
	Files []WrittenFile `json:"files"`

	// Completed lists generator ids that committed their files, in
	// execution order.
	Completed []string `json:"completed"`

	// Display holds artifacts explicitly marked for caller display,
	// e.g. generated credentials.
	Display map[artifact.Key]any `json:"display,omitempty"`

	// ArtifactKeys is the sorted snapshot of all produced artifact keys,
	// for diagnostics.
	ArtifactKeys []artifact.Key `json:"artifact_keys,omitempty"`

	// Warnings collects non-fatal diagnostics.
	Warnings []diag.Warning `json:"warnings,omitempty"`

	// Deprecations is non-empty when the executed backend is deprecated.
	Deprecations []DeprecationNotice `json:"deprecations,omitempty"`

	// StageDurations records wall-clock time per orchestrator stage.
	StageDurations map[diag.Stage]time.Duration `json:"-"`

	// Duration is the total run time.
	Duration time.Duration `json:"duration"`
}
