// Package diag provides the structured error and warning types used across
// the build engine. Every diagnostic carries the failing stage, the component
// id, a machine-readable kind and a human-readable message so CLI and
// programmatic consumers can act on it uniformly.
package diag

import (
	"errors"
	"fmt"
)

// Kind classifies a build failure.
type Kind string

const (
	// KindConfiguration covers cyclic generator graphs, unsatisfiable
	// requires, unknown stack ids and duplicate output paths. Detected
	// before any I/O; always fatal; never retried.
	KindConfiguration Kind = "configuration"

	// KindGeneration means a generator failed against otherwise-valid IR.
	KindGeneration Kind = "generation"

	// KindHook is fatal when raised in pre_build or by a critical hook,
	// otherwise demoted to a warning by the orchestrator.
	KindHook Kind = "hook"

	// KindIO means the output location is unusable.
	KindIO Kind = "io"

	// KindCancelled marks caller-initiated cancellation, distinguished
	// from a defect for reporting purposes.
	KindCancelled Kind = "cancelled"
)

// Stage names an orchestrator stage for diagnostics.
type Stage string

const (
	StageInit         Stage = "init"
	StageResolveOrder Stage = "resolve_order"
	StagePreBuild     Stage = "pre_build"
	StageGenerate     Stage = "generate"
	StagePostBuild    Stage = "post_build"
)

// Error is the single error type surfaced by a build run.
type Error struct {
	// Stage is the orchestrator stage that failed.
	Stage Stage `json:"stage"`

	// Kind is the machine-readable failure classification.
	Kind Kind `json:"kind"`

	// Component is the id of the generator, hook or backend implicated.
	Component string `json:"component,omitempty"`

	// Node names the IR node (entity/surface/field) implicated, if any.
	Node string `json:"node,omitempty"`

	// Message is the human-readable description.
	Message string `json:"message"`

	// Cause is the underlying error, if any.
	Cause error `json:"-"`

	// Written lists files flushed to disk before the failure, so callers
	// can clean partial output themselves.
	Written []string `json:"written,omitempty"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	switch {
	case e.Component != "" && e.Cause != nil:
		return fmt.Sprintf("%s (%s) %s: %s: %v", e.Stage, e.Kind, e.Component, e.Message, e.Cause)
	case e.Component != "":
		return fmt.Sprintf("%s (%s) %s: %s", e.Stage, e.Kind, e.Component, e.Message)
	case e.Cause != nil:
		return fmt.Sprintf("%s (%s): %s: %v", e.Stage, e.Kind, e.Message, e.Cause)
	default:
		return fmt.Sprintf("%s (%s): %s", e.Stage, e.Kind, e.Message)
	}
}

// Unwrap exposes the cause for errors.Is/As chains.
func (e *Error) Unwrap() error { return e.Cause }

// WithNode attaches the implicated IR node name.
func (e *Error) WithNode(node string) *Error {
	e.Node = node
	return e
}

// WithWritten records the files already flushed before the failure.
func (e *Error) WithWritten(paths []string) *Error {
	e.Written = paths
	return e
}

// Configuration builds a configuration error for the given stage.
func Configuration(stage Stage, component, message string) *Error {
	return &Error{Stage: stage, Kind: KindConfiguration, Component: component, Message: message}
}

// Generation builds a generation error.
func Generation(component, message string, cause error) *Error {
	return &Error{Stage: StageGenerate, Kind: KindGeneration, Component: component, Message: message, Cause: cause}
}

// Hook builds a hook error for the given stage.
func Hook(stage Stage, component, message string, cause error) *Error {
	return &Error{Stage: stage, Kind: KindHook, Component: component, Message: message, Cause: cause}
}

// IO builds an I/O error carrying the offending path in the message.
func IO(stage Stage, message string, cause error) *Error {
	return &Error{Stage: stage, Kind: KindIO, Message: message, Cause: cause}
}

// Cancelled builds a cancellation diagnostic.
func Cancelled(stage Stage, component string, cause error) *Error {
	return &Error{Stage: stage, Kind: KindCancelled, Component: component, Message: "build cancelled", Cause: cause}
}

// AsError extracts a *Error from an error chain; ok is false for foreign errors.
func AsError(err error) (*Error, bool) {
	var de *Error
	if errors.As(err, &de) {
		return de, true
	}
	return nil, false
}

// Warning is a non-fatal diagnostic recorded in the build result.
type Warning struct {
	Stage     Stage  `json:"stage"`
	Component string `json:"component,omitempty"`
	Message   string `json:"message"`
}

func (w Warning) String() string {
	if w.Component != "" {
		return fmt.Sprintf("%s %s: %s", w.Stage, w.Component, w.Message)
	}
	return fmt.Sprintf("%s: %s", w.Stage, w.Message)
}
