package engine

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/appforge/appforge/internal/artifact"
	"github.com/appforge/appforge/internal/diag"
	"github.com/appforge/appforge/internal/stack"
)

// run carries the mutable state of one build invocation. It is created fresh
// per Build call and discarded afterwards; nothing persists across runs.
type run struct {
	backend        *stack.Backend
	rc             *stack.RunContext
	opts           Options
	written        []WrittenFile
	writtenBy      map[string]string // rel path -> generator id
	completed      []string
	warnings       []diag.Warning
	stageDurations map[diag.Stage]time.Duration
}

// writtenPaths returns the flushed file paths in flush order, for error
// reporting so callers can clean partial output.
func (r *run) writtenPaths() []string {
	paths := make([]string, 0, len(r.written))
	for _, f := range r.written {
		paths = append(paths, f.Path)
	}
	return paths
}

func (r *run) warn(stage diag.Stage, component, message string) {
	r.warnings = append(r.warnings, diag.Warning{Stage: stage, Component: component, Message: message})
}

// runUnit executes one generator or hook body, enforcing the per-unit
// timeout. Exceeding the timeout is reported exactly like a unit failure.
// The unit goroutine is abandoned on timeout; cancellation is otherwise
// checked only between units, never mid-unit.
func runUnit(timeout time.Duration, fn func() error) error {
	if timeout <= 0 {
		return fn()
	}
	done := make(chan error, 1)
	go func() { done <- fn() }()
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case err := <-done:
		return err
	case <-timer.C:
		return fmt.Errorf("timed out after %s", timeout)
	}
}

// applyHookResult stores a hook's artifacts and records its warnings. When
// the descriptor declared Produces, keys outside the declaration are
// rejected; the whole batch is checked before the first store.
func (r *run) applyHookResult(stage diag.Stage, hd stack.HookDescriptor, res *stack.HookResult) error {
	if res == nil {
		return nil
	}
	hookID := hd.Hook.ID()
	declared := make(map[artifact.Key]bool, len(hd.Produces))
	for _, k := range hd.Produces {
		declared[k] = true
	}
	for _, av := range res.Artifacts {
		if len(declared) > 0 && !declared[av.Key] {
			return diag.Configuration(stage, hookID,
				fmt.Sprintf("produced undeclared artifact %q", av.Key))
		}
		if err := r.rc.Artifacts.Writable(av.Key); err != nil {
			return diag.Configuration(stage, hookID, err.Error())
		}
	}
	for _, av := range res.Artifacts {
		if err := r.rc.Artifacts.Put(av.Key, av.Payload); err != nil {
			return diag.Configuration(stage, hookID, err.Error())
		}
	}
	for _, w := range res.Warnings {
		r.warn(stage, hookID, w)
	}
	return nil
}

// commit flushes a successful generator's buffered output. The whole result
// is validated first — paths, path ownership, artifact declarations and
// artifact writability — so a rejected result leaves no trace of this
// generator on disk and a failure at generator k leaves exactly the files of
// generators ordered before k. Only I/O errors can interrupt the flush
// mid-batch; files flushed before such a failure are still reported.
func (r *run) commit(gen stack.Generator, res *stack.GeneratorResult) *diag.Error {
	if res == nil {
		res = &stack.GeneratorResult{}
	}

	files := make([]stack.File, len(res.Files))
	copy(files, res.Files)
	sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })

	declared := gen.OutputPaths()
	rels := make([]string, len(files))
	batch := make(map[string]bool, len(files))
	for i, f := range files {
		rel, err := normalizeRelPath(f.Path)
		if err != nil {
			return diag.Generation(gen.ID(), err.Error(), nil)
		}
		if !stack.MatchesDeclared(declared, rel) {
			return diag.Generation(gen.ID(),
				fmt.Sprintf("emitted file %q outside declared output paths", rel), nil)
		}
		if owner, dup := r.writtenBy[rel]; dup {
			return diag.Configuration(diag.StageGenerate, gen.ID(),
				fmt.Sprintf("duplicate output path %q, already written by %q", rel, owner))
		}
		if batch[rel] {
			return diag.Configuration(diag.StageGenerate, gen.ID(),
				fmt.Sprintf("duplicate output path %q emitted twice", rel))
		}
		batch[rel] = true
		rels[i] = rel
	}

	produced := make(map[string]bool, len(gen.Produces()))
	for _, k := range gen.Produces() {
		produced[string(k)] = true
	}
	for _, av := range res.Artifacts {
		if !produced[string(av.Key)] {
			return diag.Generation(gen.ID(),
				fmt.Sprintf("produced undeclared artifact %q", av.Key), nil)
		}
		if err := r.rc.Artifacts.Writable(av.Key); err != nil {
			return diag.Configuration(diag.StageGenerate, gen.ID(), err.Error())
		}
	}

	for i, f := range files {
		rel := rels[i]
		abs := filepath.Join(r.rc.OutputDir, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
			return diag.IO(diag.StageGenerate, fmt.Sprintf("create directory for %q", rel), err)
		}
		if err := os.WriteFile(abs, f.Content, 0o644); err != nil {
			return diag.IO(diag.StageGenerate, fmt.Sprintf("write %q", rel), err)
		}
		sum := sha256.Sum256(f.Content)
		r.writtenBy[rel] = gen.ID()
		r.written = append(r.written, WrittenFile{
			Path:     rel,
			Bytes:    int64(len(f.Content)),
			Checksum: hex.EncodeToString(sum[:]),
		})
	}

	for _, av := range res.Artifacts {
		if err := r.rc.Artifacts.Put(av.Key, av.Payload); err != nil {
			return diag.Configuration(diag.StageGenerate, gen.ID(), err.Error())
		}
	}

	for _, w := range res.Warnings {
		r.warn(diag.StageGenerate, gen.ID(), w)
	}
	r.completed = append(r.completed, gen.ID())
	return nil
}

// normalizeRelPath cleans a generator-emitted path and rejects anything that
// would escape the output root.
func normalizeRelPath(p string) (string, error) {
	if p == "" {
		return "", errors.New("emitted file with empty path")
	}
	if filepath.IsAbs(p) {
		return "", fmt.Errorf("emitted absolute path %q", p)
	}
	clean := filepath.ToSlash(filepath.Clean(filepath.FromSlash(p)))
	if clean == ".." || strings.HasPrefix(clean, "../") {
		return "", fmt.Errorf("emitted path %q escapes the output root", p)
	}
	return clean, nil
}

// validateOutputDir ensures the output location is usable before any stage
// runs: an existing entry must be a directory, a missing one must be
// creatable.
func validateOutputDir(dir string) error {
	if dir == "" {
		return errors.New("output directory is required")
	}
	info, err := os.Stat(dir)
	switch {
	case err == nil && !info.IsDir():
		return fmt.Errorf("output location %q is not a directory", dir)
	case err == nil:
		return nil
	case os.IsNotExist(err):
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create output directory %q: %w", dir, err)
		}
		return nil
	default:
		return fmt.Errorf("stat output directory %q: %w", dir, err)
	}
}
