package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/appforge/appforge/internal/artifact"
	"github.com/appforge/appforge/internal/diag"
	"github.com/appforge/appforge/internal/engine"
	"github.com/appforge/appforge/internal/events"
	"github.com/appforge/appforge/internal/history"
	"github.com/appforge/appforge/internal/ir"
	"github.com/appforge/appforge/internal/metrics"
	"github.com/appforge/appforge/internal/stack"
)

// BuildCmd implements the 'build' command.
type BuildCmd struct {
	Spec        string            `short:"s" help:"Spec file to build from" default:"appforge.yaml"`
	Stack       string            `help:"Target stack backend" default:"docsite"`
	Output      string            `short:"o" help:"Output directory for the generated tree" default:"./out"`
	Parallelism int               `short:"p" help:"Run independent generators concurrently (1 = sequential)" default:"1"`
	Timeout     time.Duration     `help:"Per-generator/hook timeout (0 disables)"`
	Var         map[string]string `help:"Run options passed to generators and hooks (key=value)"`
	Display     []string          `help:"Additional artifact keys to show after the build"`
	EventsURL   string            `name:"events-url" help:"NATS server URL for build lifecycle events (optional)"`
	HistoryDB   string            `name:"history-db" help:"SQLite file recording build runs (optional)"`
	JSON        bool              `help:"Print the build result as JSON"`
}

func (b *BuildCmd) Run(_ *Global, _ *CLI) error {
	snap, err := ir.Load(b.Spec)
	if err != nil {
		return err
	}
	res, err := executeBuild(context.Background(), buildParams{
		stackID:     b.Stack,
		snapshot:    snap,
		outputDir:   b.Output,
		parallelism: b.Parallelism,
		timeout:     b.Timeout,
		vars:        b.Var,
		display:     b.Display,
		eventsURL:   b.EventsURL,
		historyDB:   b.HistoryDB,
	})
	if err != nil {
		return err
	}
	if b.JSON {
		return json.NewEncoder(os.Stdout).Encode(res)
	}
	printResult(res)
	return nil
}

// buildParams is the shared input of the build and watch commands.
type buildParams struct {
	stackID     string
	snapshot    *ir.Snapshot
	outputDir   string
	parallelism int
	timeout     time.Duration
	vars        map[string]string
	display     []string
	eventsURL   string
	historyDB   string
	recorder    metrics.Recorder
}

// executeBuild runs one build against the process-wide registry and wires in
// the optional event and history sinks.
func executeBuild(ctx context.Context, p buildParams) (*engine.Result, error) {
	publisher := events.Publisher(events.Noop{})
	if p.eventsURL != "" {
		np, err := events.ConnectNATS(p.eventsURL)
		if err != nil {
			return nil, err
		}
		publisher = np
	}
	defer publisher.Close()

	var store *history.Store
	if p.historyDB != "" {
		s, err := history.Open(p.historyDB)
		if err != nil {
			return nil, err
		}
		store = s
		defer func() {
			if cerr := store.Close(); cerr != nil {
				slog.Warn("Failed to close history database", "error", cerr)
			}
		}()
	}

	display := make([]artifact.Key, 0, len(p.display))
	for _, k := range p.display {
		display = append(display, artifact.Key(k))
	}

	started := time.Now()
	if perr := publisher.PublishStarted(events.BuildStarted{
		StackID: p.stackID, OutputDir: p.outputDir, At: started,
	}); perr != nil {
		slog.Warn("Failed to publish build event", "error", perr)
	}

	var engineOpts []engine.Option
	if p.recorder != nil {
		engineOpts = append(engineOpts, engine.WithRecorder(p.recorder))
	}
	eng := engine.New(stack.DefaultRegistry(), engineOpts...)
	res, err := eng.Build(ctx, engine.Request{
		StackID:   p.stackID,
		Snapshot:  p.snapshot,
		OutputDir: p.outputDir,
		Options: engine.Options{
			Parallelism: p.parallelism,
			UnitTimeout: p.timeout,
			DisplayKeys: display,
			Vars:        p.vars,
		},
	})

	if err != nil {
		recordFailure(ctx, publisher, store, p, started, err)
		return nil, err
	}

	if perr := publisher.PublishFinished(events.BuildFinished{
		RunID: res.RunID, StackID: res.StackID, Status: "success",
		Files: len(res.Files), Warnings: len(res.Warnings),
		Duration: res.Duration, At: time.Now(),
	}); perr != nil {
		slog.Warn("Failed to publish build event", "error", perr)
	}
	if store != nil {
		if herr := store.Record(ctx, history.Entry{
			RunID: res.RunID, StackID: res.StackID, Status: history.StatusSuccess,
			Files: len(res.Files), Warnings: len(res.Warnings),
			Duration: res.Duration, StartedAt: started,
		}); herr != nil {
			slog.Warn("Failed to record build history", "error", herr)
		}
	}
	return res, nil
}

func recordFailure(ctx context.Context, publisher events.Publisher, store *history.Store,
	p buildParams, started time.Time, err error) {
	status := history.StatusFailed
	runID := ""
	var diags []string
	if de, ok := diag.AsError(err); ok {
		if de.Kind == diag.KindCancelled {
			status = history.StatusCancelled
		}
		diags = append(diags, de.Error())
		for _, w := range de.Written {
			diags = append(diags, "written: "+w)
		}
	} else {
		diags = append(diags, err.Error())
	}
	if perr := publisher.PublishFinished(events.BuildFinished{
		RunID: runID, StackID: p.stackID, Status: string(status),
		Duration: time.Since(started), Error: err.Error(), At: time.Now(),
	}); perr != nil {
		slog.Warn("Failed to publish build event", "error", perr)
	}
	if store != nil {
		if herr := store.Record(ctx, history.Entry{
			RunID: runID, StackID: p.stackID, Status: status,
			Duration: time.Since(started), StartedAt: started, Diagnostics: diags,
		}); herr != nil {
			slog.Warn("Failed to record build history", "error", herr)
		}
	}
}

func printResult(res *engine.Result) {
	fmt.Printf("Build %s completed: %d files via %v in %s\n",
		res.RunID, len(res.Files), res.Completed, res.Duration.Round(time.Millisecond))
	for _, d := range res.Deprecations {
		fmt.Printf("  DEPRECATED stack %s (since %s, removal %s): %s\n",
			d.StackID, d.Since, d.Removal, d.MigrationHint)
	}
	for _, w := range res.Warnings {
		fmt.Printf("  warning: %s\n", w)
	}
	for key, value := range res.Display {
		fmt.Printf("  %s: %v\n", key, value)
	}
}
