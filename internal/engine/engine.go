// Package engine implements the build orchestrator: it resolves generator
// execution order from artifact dependencies, drives a run through its
// lifecycle stages and reports results and failures with precise component
// attribution.
//
// A run moves through INIT -> RESOLVE_ORDER -> PRE_BUILD -> GENERATE ->
// POST_BUILD -> DONE, with FAILED reachable from RESOLVE_ORDER, PRE_BUILD and
// GENERATE (and from POST_BUILD via critical hooks). No file reaches the disk
// before GENERATE, and a generator's files are flushed only once that
// generator succeeded.
package engine

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/appforge/appforge/internal/artifact"
	"github.com/appforge/appforge/internal/diag"
	"github.com/appforge/appforge/internal/metrics"
	"github.com/appforge/appforge/internal/observability"
	"github.com/appforge/appforge/internal/stack"
)

// Engine executes build runs against backends from one registry. It is
// stateless across runs and safe for concurrent use as long as callers give
// each run its own output directory.
type Engine struct {
	registry *stack.Registry
	recorder metrics.Recorder
}

// Option configures an Engine.
type Option func(*Engine)

// WithRecorder injects a metrics recorder.
func WithRecorder(r metrics.Recorder) Option {
	return func(e *Engine) { e.recorder = r }
}

// New creates an Engine over the given backend registry.
func New(registry *stack.Registry, opts ...Option) *Engine {
	e := &Engine{
		registry: registry,
		recorder: metrics.NoopRecorder{},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Build executes one run. On failure the returned error is a *diag.Error
// carrying the failing stage, component, kind and the files already written.
// The engine never retries: generation is a deterministic function of valid
// input, so retries belong to the caller after it corrects the IR or the
// environment.
func (e *Engine) Build(ctx context.Context, req Request) (*Result, error) {
	started := time.Now()
	runID := uuid.NewString()
	ctx = observability.WithRunID(ctx, runID)
	ctx = observability.WithStack(ctx, req.StackID)

	r := &run{
		opts:           req.Options,
		writtenBy:      make(map[string]string),
		stageDurations: make(map[diag.Stage]time.Duration),
	}

	fail := func(de *diag.Error) (*Result, error) {
		outcome := "failed"
		label := metrics.ResultFatal
		if de.Kind == diag.KindCancelled {
			outcome = "cancelled"
			label = metrics.ResultCancelled
		}
		e.recorder.IncStageResult(string(de.Stage), label)
		e.recorder.IncBuildOutcome(outcome)
		e.recorder.ObserveBuildDuration(time.Since(started))
		observability.Logger(ctx).Error("build failed",
			"stage", string(de.Stage), "kind", string(de.Kind),
			"component", de.Component, "error", de.Message)
		return nil, de.WithWritten(r.writtenPaths())
	}

	// INIT: resolve the backend, validate the output location, set up the
	// per-run context.
	var deprecations []DeprecationNotice
	backend, de := func() (*stack.Backend, *diag.Error) {
		defer r.observeStage(e.recorder, diag.StageInit, time.Now())
		if req.Snapshot == nil {
			return nil, diag.Configuration(diag.StageInit, req.StackID, "IR snapshot is required")
		}
		b, err := e.registry.Get(req.StackID)
		if err != nil {
			return nil, diag.Configuration(diag.StageInit, req.StackID, err.Error())
		}
		if err := validateOutputDir(req.OutputDir); err != nil {
			return nil, diag.IO(diag.StageInit, err.Error(), nil)
		}
		return b, nil
	}()
	if de != nil {
		return fail(de)
	}
	r.backend = backend

	if d := backend.Deprecated; d != nil {
		deprecations = append(deprecations, DeprecationNotice{
			StackID:       backend.ID,
			Since:         d.Since,
			Removal:       d.Removal,
			MigrationHint: d.MigrationHint,
		})
		observability.Logger(ctx).Warn("stack is deprecated",
			"since", d.Since, "removal", d.Removal, "migration_hint", d.MigrationHint)
	}

	registry := artifact.NewRegistry()
	for _, k := range backend.Overridable {
		registry.AllowOverride(k)
	}
	for _, k := range req.Options.DisplayKeys {
		registry.MarkDisplay(k)
	}
	r.rc = &stack.RunContext{
		RunID:     runID,
		StackID:   backend.ID,
		OutputDir: req.OutputDir,
		IR:        req.Snapshot,
		Artifacts: registry,
		Vars:      req.Options.Vars,
	}

	// RESOLVE_ORDER: topological sort; no filesystem side effects on
	// failure. Registration already validated the graph, but backends
	// handed in through isolated registries deserve the same guarantee.
	order, de := func() ([]stack.Generator, *diag.Error) {
		defer r.observeStage(e.recorder, diag.StageResolveOrder, time.Now())
		order, err := stack.ResolveOrder(backend)
		if err != nil {
			component := backend.ID
			var unsat *stack.UnsatisfiedError
			if errors.As(err, &unsat) {
				component = unsat.Generator
			}
			return nil, diag.Configuration(diag.StageResolveOrder, component, err.Error())
		}
		return order, nil
	}()
	if de != nil {
		return fail(de)
	}

	// PRE_BUILD: environment and precondition checks. Any failure aborts
	// with zero files written.
	de = func() *diag.Error {
		defer r.observeStage(e.recorder, diag.StagePreBuild, time.Now())
		return r.runHooks(ctx, e.recorder, diag.StagePreBuild, backend.HooksFor(stack.PhasePreBuild))
	}()
	if de != nil {
		return fail(de)
	}

	// GENERATE: run generators in resolved order, flushing each one's
	// files only on its own success.
	de = func() *diag.Error {
		defer r.observeStage(e.recorder, diag.StageGenerate, time.Now())
		if req.Options.Parallelism > 1 {
			return r.generateParallel(ctx, e.recorder, order, req.Options.Parallelism)
		}
		return r.generateSequential(ctx, e.recorder, order)
	}()
	if de != nil {
		return fail(de)
	}

	// POST_BUILD: side effects outside the file tree. Non-critical
	// failures demote to warnings; critical ones fail the build with the
	// files kept on disk.
	de = func() *diag.Error {
		defer r.observeStage(e.recorder, diag.StagePostBuild, time.Now())
		return r.runHooks(ctx, e.recorder, diag.StagePostBuild, backend.HooksFor(stack.PhasePostBuild))
	}()
	if de != nil {
		return fail(de)
	}

	// DONE.
	for stage := range r.stageDurations {
		e.recorder.IncStageResult(string(stage), metrics.ResultSuccess)
	}
	e.recorder.IncBuildOutcome("success")
	e.recorder.ObserveBuildDuration(time.Since(started))
	e.recorder.ObserveFilesWritten(len(r.written))
	result := &Result{
		RunID:          runID,
		StackID:        backend.ID,
		Files:          r.written,
		Completed:      r.completed,
		Display:        registry.Display(),
		ArtifactKeys:   registry.Keys(),
		Warnings:       r.warnings,
		Deprecations:   deprecations,
		StageDurations: r.stageDurations,
		Duration:       time.Since(started),
	}
	observability.Logger(ctx).Info("build completed",
		"files", len(result.Files), "generators", len(result.Completed),
		"warnings", len(result.Warnings), "duration", result.Duration)
	return result, nil
}

// ListBackends exposes backend introspection for CLI and tooling layers.
func (e *Engine) ListBackends() []stack.Descriptor {
	return e.registry.Descriptors()
}

func (r *run) observeStage(rec metrics.Recorder, stage diag.Stage, start time.Time) {
	d := time.Since(start)
	r.stageDurations[stage] = d
	rec.ObserveStageDuration(string(stage), d)
}

// runHooks executes one phase's hooks in declared order. Pre-build failures
// and critical post-build failures are fatal; other post-build failures are
// demoted to warnings without touching the already-written output.
func (r *run) runHooks(ctx context.Context, rec metrics.Recorder, stage diag.Stage, hooks []stack.HookDescriptor) *diag.Error {
	for _, hd := range hooks {
		hook := hd.Hook
		if err := ctx.Err(); err != nil {
			return diag.Cancelled(stage, hook.ID(), err)
		}
		hctx := observability.WithComponent(observability.WithStage(ctx, string(stage)), hook.ID())
		log := observability.Logger(hctx)
		log.Debug("hook started")

		var res *stack.HookResult
		err := runUnit(r.opts.UnitTimeout, func() error {
			var herr error
			res, herr = hook.Run(hctx, r.rc)
			return herr
		})
		if err != nil {
			if stage == diag.StagePostBuild && !hd.Critical {
				log.Warn("post-build hook failed, continuing", "error", err)
				rec.IncStageResult(string(stage), metrics.ResultWarning)
				r.warn(stage, hook.ID(), err.Error())
				continue
			}
			return diag.Hook(stage, hook.ID(), "hook failed", err)
		}
		if de := r.applyHookResult(stage, hd, res); de != nil {
			if derr, ok := diag.AsError(de); ok {
				return derr
			}
			return diag.Hook(stage, hook.ID(), "hook result rejected", de)
		}
	}
	return nil
}

// generateSequential is the default execution mode: one generator at a time
// in resolved order, fail-fast.
func (r *run) generateSequential(ctx context.Context, rec metrics.Recorder, order []stack.Generator) *diag.Error {
	for _, gen := range order {
		if err := ctx.Err(); err != nil {
			return diag.Cancelled(diag.StageGenerate, gen.ID(), err)
		}
		res, de := r.runGenerator(ctx, rec, gen)
		if de != nil {
			return de
		}
		if de := r.commit(gen, res); de != nil {
			return de
		}
	}
	return nil
}

// runGenerator executes one generator body without flushing anything.
func (r *run) runGenerator(ctx context.Context, rec metrics.Recorder, gen stack.Generator) (*stack.GeneratorResult, *diag.Error) {
	gctx := observability.WithComponent(observability.WithStage(ctx, string(diag.StageGenerate)), gen.ID())
	log := observability.Logger(gctx)
	log.Debug("generator started")

	start := time.Now()
	var res *stack.GeneratorResult
	err := runUnit(r.opts.UnitTimeout, func() error {
		var gerr error
		res, gerr = gen.Generate(gctx, r.rc)
		return gerr
	})
	rec.ObserveGeneratorDuration(gen.ID(), time.Since(start), err == nil)
	if err != nil {
		de := diag.Generation(gen.ID(), "generator failed", err)
		var ge *stack.GenError
		if errors.As(err, &ge) {
			de = de.WithNode(ge.Node)
		}
		return nil, de
	}
	if res == nil {
		res = &stack.GeneratorResult{}
	}
	log.Debug("generator finished", "files", len(res.Files), "artifacts", len(res.Artifacts))
	return res, nil
}
