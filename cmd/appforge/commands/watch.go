package commands

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/appforge/appforge/internal/ir"
	"github.com/appforge/appforge/internal/metrics"
)

// WatchCmd implements the 'watch' command: rebuild whenever the spec file
// changes, until interrupted.
type WatchCmd struct {
	Spec        string            `short:"s" help:"Spec file to watch and build from" default:"appforge.yaml"`
	Stack       string            `help:"Target stack backend" default:"docsite"`
	Output      string            `short:"o" help:"Output directory for the generated tree" default:"./out"`
	Parallelism int               `short:"p" help:"Run independent generators concurrently (1 = sequential)" default:"1"`
	Timeout     time.Duration     `help:"Per-generator/hook timeout (0 disables)"`
	Var         map[string]string `help:"Run options passed to generators and hooks (key=value)"`
	Debounce    time.Duration     `help:"Quiet period after a change before rebuilding" default:"500ms"`
	MetricsAddr string            `name:"metrics-addr" help:"Serve Prometheus metrics on this address (optional)"`

	recorder metrics.Recorder
}

func (w *WatchCmd) Run(_ *Global, _ *CLI) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if w.MetricsAddr != "" {
		reg := prometheus.NewRegistry()
		w.recorder = metrics.NewPrometheusRecorder(reg)
		go func() {
			slog.Info("Serving metrics", "addr", w.MetricsAddr)
			mux := http.NewServeMux()
			mux.Handle("/metrics", metrics.HTTPHandler(reg))
			if err := http.ListenAndServe(w.MetricsAddr, mux); err != nil {
				slog.Error("Metrics server stopped", "error", err)
			}
		}()
	}

	specPath, err := filepath.Abs(w.Spec)
	if err != nil {
		return fmt.Errorf("resolve spec path: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create file watcher: %w", err)
	}
	defer watcher.Close()

	// Watch the directory rather than the file: editors replace files on
	// save, which drops a watch on the file itself.
	if err := watcher.Add(filepath.Dir(specPath)); err != nil {
		return fmt.Errorf("watch spec directory: %w", err)
	}

	slog.Info("Watching spec file", "path", specPath, "stack", w.Stack)
	w.rebuild(ctx)

	specFile := filepath.Base(specPath)
	var debounce *time.Timer
	defer func() {
		if debounce != nil {
			debounce.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			slog.Info("Watch stopped")
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Base(event.Name) != specFile {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			slog.Debug("Spec file changed", "op", event.Op.String())
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(w.Debounce, func() { w.rebuild(ctx) })
		case werr, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			slog.Error("Watcher error", "error", werr)
		}
	}
}

func (w *WatchCmd) rebuild(ctx context.Context) {
	snap, err := ir.Load(w.Spec)
	if err != nil {
		slog.Error("Spec load failed", "error", err)
		return
	}
	res, err := executeBuild(ctx, buildParams{
		stackID:     w.Stack,
		snapshot:    snap,
		outputDir:   w.Output,
		parallelism: w.Parallelism,
		timeout:     w.Timeout,
		vars:        w.Var,
		recorder:    w.recorder,
	})
	if err != nil {
		slog.Error("Build failed", "error", err)
		return
	}
	slog.Info("Build completed", "run_id", res.RunID,
		"files", len(res.Files), "duration", res.Duration.Round(time.Millisecond))
}
