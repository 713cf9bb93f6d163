// Package observability carries structured logging context through a build
// run so every slog line can be correlated to a run, stack, stage and unit.
package observability

import (
	"context"
	"log/slog"
)

// LogContext holds structured logging context for one build run.
type LogContext struct {
	RunID     string
	Stack     string
	Stage     string
	Component string
}

type logContextKeyType string

const logContextKey logContextKeyType = "log-context"

// WithRunID adds a run id to the context.
func WithRunID(ctx context.Context, runID string) context.Context {
	lc := extractLogContext(ctx)
	lc.RunID = runID
	return context.WithValue(ctx, logContextKey, lc)
}

// WithStack adds the target stack id to the context.
func WithStack(ctx context.Context, stack string) context.Context {
	lc := extractLogContext(ctx)
	lc.Stack = stack
	return context.WithValue(ctx, logContextKey, lc)
}

// WithStage adds the orchestrator stage to the context.
func WithStage(ctx context.Context, stage string) context.Context {
	lc := extractLogContext(ctx)
	lc.Stage = stage
	return context.WithValue(ctx, logContextKey, lc)
}

// WithComponent adds the executing generator/hook id to the context.
func WithComponent(ctx context.Context, component string) context.Context {
	lc := extractLogContext(ctx)
	lc.Component = component
	return context.WithValue(ctx, logContextKey, lc)
}

func extractLogContext(ctx context.Context) LogContext {
	if lc, ok := ctx.Value(logContextKey).(LogContext); ok {
		return lc
	}
	return LogContext{}
}

// Logger returns the default logger enriched with the context's log fields.
func Logger(ctx context.Context) *slog.Logger {
	lc := extractLogContext(ctx)
	logger := slog.Default()
	if lc.RunID != "" {
		logger = logger.With("run.id", lc.RunID)
	}
	if lc.Stack != "" {
		logger = logger.With("stack", lc.Stack)
	}
	if lc.Stage != "" {
		logger = logger.With("stage", lc.Stage)
	}
	if lc.Component != "" {
		logger = logger.With("component", lc.Component)
	}
	return logger
}
