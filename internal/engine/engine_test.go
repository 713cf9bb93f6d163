package engine

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/appforge/appforge/internal/artifact"
	"github.com/appforge/appforge/internal/diag"
	"github.com/appforge/appforge/internal/ir"
	"github.com/appforge/appforge/internal/stack"
)

func testSnapshot() *ir.Snapshot {
	return &ir.Snapshot{
		Name:    "crm",
		Version: "1",
		Modules: []ir.Module{{
			Name: "sales",
			Entities: []ir.Entity{
				{Name: "Customer", Fields: []ir.Field{{Name: "name", Type: "string", Required: true}}},
				{Name: "Order", Fields: []ir.Field{{Name: "total", Type: "decimal"}}},
			},
		}},
	}
}

// namesGen emits one file per entity and produces the entity name list.
func namesGen() stack.Generator {
	return &stack.Func{
		Name:  "A",
		Makes: []artifact.Key{"A.names"},
		Paths: []string{"names/**"},
		Fn: func(ctx context.Context, rc *stack.RunContext) (*stack.GeneratorResult, error) {
			var names []string
			var files []stack.File
			for _, e := range rc.IR.Entities() {
				names = append(names, e.Name)
				files = append(files, stack.File{
					Path:    "names/" + e.Name + ".txt",
					Content: []byte(e.Name + "\n"),
				})
			}
			return &stack.GeneratorResult{
				Files:     files,
				Artifacts: []artifact.Value{{Key: "A.names", Payload: names}},
			}, nil
		},
	}
}

// indexGen consumes A.names and emits an index file.
func indexGen() stack.Generator {
	return &stack.Func{
		Name:  "B",
		Needs: []artifact.Key{"A.names"},
		Paths: []string{"index.txt"},
		Fn: func(ctx context.Context, rc *stack.RunContext) (*stack.GeneratorResult, error) {
			v, err := rc.Artifacts.Get("A.names")
			if err != nil {
				return nil, err
			}
			names := v.([]string)
			content := ""
			for _, n := range names {
				if n == "Invalid" {
					return nil, stack.FailNode(n, fmt.Errorf("entity name %q is reserved", n))
				}
				content += n + "\n"
			}
			return &stack.GeneratorResult{
				Files: []stack.File{{Path: "index.txt", Content: []byte(content)}},
			}, nil
		},
	}
}

func newTestEngine(t *testing.T, backends ...*stack.Backend) *Engine {
	t.Helper()
	reg := stack.NewRegistry()
	for _, b := range backends {
		require.NoError(t, reg.Register(b))
	}
	return New(reg)
}

func basicBackend(id string) *stack.Backend {
	return &stack.Backend{
		ID:         id,
		Generators: []stack.Generator{indexGen(), namesGen()},
	}
}

func TestBuildResolvesOrderFromArtifactEdges(t *testing.T) {
	eng := newTestEngine(t, basicBackend("basic"))
	out := t.TempDir()

	res, err := eng.Build(context.Background(), Request{
		StackID:   "basic",
		Snapshot:  testSnapshot(),
		OutputDir: out,
	})
	require.NoError(t, err)

	// B declared first but requires A.names, so A runs first.
	assert.Equal(t, []string{"A", "B"}, res.Completed)
	require.Len(t, res.Files, 3)
	assert.Equal(t, "index.txt", res.Files[2].Path)

	data, err := os.ReadFile(filepath.Join(out, "index.txt"))
	require.NoError(t, err)
	assert.Equal(t, "Customer\nOrder\n", string(data))
}

func TestBuildUnknownStack(t *testing.T) {
	eng := newTestEngine(t)

	_, err := eng.Build(context.Background(), Request{
		StackID:   "nope",
		Snapshot:  testSnapshot(),
		OutputDir: t.TempDir(),
	})
	de, ok := diag.AsError(err)
	require.True(t, ok)
	assert.Equal(t, diag.StageInit, de.Stage)
	assert.Equal(t, diag.KindConfiguration, de.Kind)
	assert.Empty(t, de.Written)
}

func TestBuildMissingSnapshot(t *testing.T) {
	eng := newTestEngine(t, basicBackend("basic"))

	_, err := eng.Build(context.Background(), Request{StackID: "basic", OutputDir: t.TempDir()})
	de, ok := diag.AsError(err)
	require.True(t, ok)
	assert.Equal(t, diag.KindConfiguration, de.Kind)
}

func TestBuildOutputLocationIsFile(t *testing.T) {
	eng := newTestEngine(t, basicBackend("basic"))
	out := filepath.Join(t.TempDir(), "occupied")
	require.NoError(t, os.WriteFile(out, []byte("x"), 0o644))

	_, err := eng.Build(context.Background(), Request{
		StackID:   "basic",
		Snapshot:  testSnapshot(),
		OutputDir: out,
	})
	de, ok := diag.AsError(err)
	require.True(t, ok)
	assert.Equal(t, diag.StageInit, de.Stage)
	assert.Equal(t, diag.KindIO, de.Kind)
}

func TestBuildUnsatisfiedRequiresFailsBeforeAnyWrite(t *testing.T) {
	// Register a valid backend, then break it the way a misconfigured
	// composition would be: B's producer removed.
	b := basicBackend("broken")
	eng := newTestEngine(t, b)
	b.Generators = []stack.Generator{indexGen()}
	out := t.TempDir()

	_, err := eng.Build(context.Background(), Request{
		StackID:   "broken",
		Snapshot:  testSnapshot(),
		OutputDir: out,
	})
	de, ok := diag.AsError(err)
	require.True(t, ok)
	assert.Equal(t, diag.StageResolveOrder, de.Stage)
	assert.Equal(t, diag.KindConfiguration, de.Kind)
	assert.Equal(t, "B", de.Component)
	assert.Contains(t, de.Message, `requires "A.names", unresolved`)
	assert.Empty(t, de.Written)

	entries, err2 := os.ReadDir(out)
	require.NoError(t, err2)
	assert.Empty(t, entries, "no filesystem side effects on RESOLVE_ORDER failure")
}

func TestBuildFailFastKeepsEarlierGeneratorFiles(t *testing.T) {
	snap := testSnapshot()
	snap.Modules[0].Entities = append(snap.Modules[0].Entities, ir.Entity{Name: "Invalid"})
	eng := newTestEngine(t, basicBackend("basic"))
	out := t.TempDir()

	_, err := eng.Build(context.Background(), Request{
		StackID:   "basic",
		Snapshot:  snap,
		OutputDir: out,
	})
	de, ok := diag.AsError(err)
	require.True(t, ok)
	assert.Equal(t, diag.StageGenerate, de.Stage)
	assert.Equal(t, diag.KindGeneration, de.Kind)
	assert.Equal(t, "B", de.Component)
	assert.Equal(t, "Invalid", de.Node)

	// Exactly A's files are on disk and reported.
	assert.ElementsMatch(t, de.Written,
		[]string{"names/Customer.txt", "names/Invalid.txt", "names/Order.txt"})
	_, statErr := os.Stat(filepath.Join(out, "index.txt"))
	assert.True(t, os.IsNotExist(statErr))
	for _, p := range de.Written {
		_, statErr := os.Stat(filepath.Join(out, filepath.FromSlash(p)))
		assert.NoError(t, statErr)
	}
}

func TestBuildPreBuildHookFailureWritesNothing(t *testing.T) {
	versionGate := &stack.HookFunc{
		Name:    "version-gate",
		InPhase: stack.PhasePreBuild,
		Fn: func(ctx context.Context, rc *stack.RunContext) (*stack.HookResult, error) {
			if rc.Var("target_version") < "3" {
				return nil, fmt.Errorf("target_version %q below minimum 3", rc.Var("target_version"))
			}
			return &stack.HookResult{}, nil
		},
	}
	b := basicBackend("gated")
	b.Hooks = []stack.HookDescriptor{{Hook: versionGate}}
	eng := newTestEngine(t, b)
	out := t.TempDir()

	_, err := eng.Build(context.Background(), Request{
		StackID:   "gated",
		Snapshot:  testSnapshot(),
		OutputDir: out,
		Options:   Options{Vars: map[string]string{"target_version": "2"}},
	})
	de, ok := diag.AsError(err)
	require.True(t, ok)
	assert.Equal(t, diag.StagePreBuild, de.Stage)
	assert.Equal(t, diag.KindHook, de.Kind)
	assert.Equal(t, "version-gate", de.Component)
	assert.Empty(t, de.Written)

	entries, err2 := os.ReadDir(out)
	require.NoError(t, err2)
	assert.Empty(t, entries)

	// Version 3 passes the gate.
	res, err := eng.Build(context.Background(), Request{
		StackID:   "gated",
		Snapshot:  testSnapshot(),
		OutputDir: out,
		Options:   Options{Vars: map[string]string{"target_version": "3"}},
	})
	require.NoError(t, err)
	assert.NotEmpty(t, res.Files)
}

func TestBuildPostBuildHookDemotion(t *testing.T) {
	failing := func(id string) stack.Hook {
		return &stack.HookFunc{
			Name:    id,
			InPhase: stack.PhasePostBuild,
			Fn: func(ctx context.Context, rc *stack.RunContext) (*stack.HookResult, error) {
				return nil, fmt.Errorf("formatter unavailable")
			},
		}
	}

	t.Run("non-critical failure is a warning", func(t *testing.T) {
		b := basicBackend("soft")
		b.Hooks = []stack.HookDescriptor{{Hook: failing("fmt")}}
		eng := newTestEngine(t, b)

		res, err := eng.Build(context.Background(), Request{
			StackID:   "soft",
			Snapshot:  testSnapshot(),
			OutputDir: t.TempDir(),
		})
		require.NoError(t, err)
		assert.Len(t, res.Files, 3, "written files unchanged by hook failure")
		require.Len(t, res.Warnings, 1)
		assert.Equal(t, diag.StagePostBuild, res.Warnings[0].Stage)
		assert.Equal(t, "fmt", res.Warnings[0].Component)
	})

	t.Run("critical failure fails the build, files stay", func(t *testing.T) {
		b := basicBackend("hard")
		b.Hooks = []stack.HookDescriptor{{Hook: failing("fmt"), Critical: true}}
		eng := newTestEngine(t, b)
		out := t.TempDir()

		_, err := eng.Build(context.Background(), Request{
			StackID:   "hard",
			Snapshot:  testSnapshot(),
			OutputDir: out,
		})
		de, ok := diag.AsError(err)
		require.True(t, ok)
		assert.Equal(t, diag.StagePostBuild, de.Stage)
		assert.Equal(t, diag.KindHook, de.Kind)
		assert.Len(t, de.Written, 3, "generated files remain on disk")
		_, statErr := os.Stat(filepath.Join(out, "index.txt"))
		assert.NoError(t, statErr)
	})
}

func TestBuildHookArtifactConflictLeavesNoGeneratorFiles(t *testing.T) {
	// A hook writing a key without declaring it is invisible to
	// registration-time validation; the collision surfaces when the
	// generator commits and must reject the whole result before any of
	// its files reach the disk.
	seed := &stack.HookFunc{
		Name:    "seed",
		InPhase: stack.PhasePreBuild,
		Fn: func(ctx context.Context, rc *stack.RunContext) (*stack.HookResult, error) {
			return &stack.HookResult{
				Artifacts: []artifact.Value{{Key: "K", Payload: "from-hook"}},
			}, nil
		},
	}
	gen := &stack.Func{
		Name:  "g1",
		Makes: []artifact.Key{"K"},
		Paths: []string{"g1.txt"},
		Fn: func(ctx context.Context, rc *stack.RunContext) (*stack.GeneratorResult, error) {
			return &stack.GeneratorResult{
				Files:     []stack.File{{Path: "g1.txt", Content: []byte("x")}},
				Artifacts: []artifact.Value{{Key: "K", Payload: "from-generator"}},
			}, nil
		},
	}
	b := &stack.Backend{
		ID:         "clash",
		Generators: []stack.Generator{gen},
		Hooks:      []stack.HookDescriptor{{Hook: seed}},
	}
	eng := newTestEngine(t, b)
	out := t.TempDir()

	_, err := eng.Build(context.Background(), Request{
		StackID:   "clash",
		Snapshot:  testSnapshot(),
		OutputDir: out,
	})
	de, ok := diag.AsError(err)
	require.True(t, ok)
	assert.Equal(t, diag.StageGenerate, de.Stage)
	assert.Equal(t, diag.KindConfiguration, de.Kind)
	assert.Equal(t, "g1", de.Component)
	assert.Empty(t, de.Written, "the failing generator must not leave files behind")
	assert.NoFileExists(t, filepath.Join(out, "g1.txt"))
}

func TestBuildRejectedResultFlushesNothing(t *testing.T) {
	// One valid file plus one outside the declaration: validation happens
	// for the whole batch before the first write, so the valid file must
	// not reach the disk either.
	gen := &stack.Func{
		Name:  "mixed",
		Paths: []string{"ok.txt"},
		Fn: func(ctx context.Context, rc *stack.RunContext) (*stack.GeneratorResult, error) {
			return &stack.GeneratorResult{
				Files: []stack.File{
					{Path: "ok.txt", Content: []byte("fine")},
					{Path: "stray.txt", Content: []byte("nope")},
				},
			}, nil
		},
	}
	b := &stack.Backend{ID: "mixed", Generators: []stack.Generator{gen}}
	eng := newTestEngine(t, b)
	out := t.TempDir()

	_, err := eng.Build(context.Background(), Request{
		StackID:   "mixed",
		Snapshot:  testSnapshot(),
		OutputDir: out,
	})
	de, ok := diag.AsError(err)
	require.True(t, ok)
	assert.Equal(t, diag.KindGeneration, de.Kind)
	assert.Empty(t, de.Written)
	assert.NoFileExists(t, filepath.Join(out, "ok.txt"))
}

func TestBuildHookDeclaredProducesAreEnforced(t *testing.T) {
	rogue := &stack.HookFunc{
		Name:    "rogue",
		InPhase: stack.PhasePreBuild,
		Fn: func(ctx context.Context, rc *stack.RunContext) (*stack.HookResult, error) {
			return &stack.HookResult{
				Artifacts: []artifact.Value{{Key: "other", Payload: 1}},
			}, nil
		},
	}
	b := basicBackend("bounded")
	b.Hooks = []stack.HookDescriptor{{Hook: rogue, Produces: []artifact.Key{"declared"}}}
	eng := newTestEngine(t, b)
	out := t.TempDir()

	_, err := eng.Build(context.Background(), Request{
		StackID:   "bounded",
		Snapshot:  testSnapshot(),
		OutputDir: out,
	})
	de, ok := diag.AsError(err)
	require.True(t, ok)
	assert.Equal(t, diag.StagePreBuild, de.Stage)
	assert.Contains(t, de.Message, `undeclared artifact "other"`)

	entries, rerr := os.ReadDir(out)
	require.NoError(t, rerr)
	assert.Empty(t, entries)
}

func TestBuildDeterministicAcrossRuns(t *testing.T) {
	eng := newTestEngine(t, basicBackend("basic"))

	first, err := eng.Build(context.Background(), Request{
		StackID:   "basic",
		Snapshot:  testSnapshot(),
		OutputDir: t.TempDir(),
	})
	require.NoError(t, err)

	second, err := eng.Build(context.Background(), Request{
		StackID:   "basic",
		Snapshot:  testSnapshot(),
		OutputDir: t.TempDir(),
	})
	require.NoError(t, err)

	assert.Equal(t, first.Files, second.Files, "paths, sizes and checksums identical in identical order")
	assert.Equal(t, first.Completed, second.Completed)
}

func TestBuildParallelMatchesSequential(t *testing.T) {
	eng := newTestEngine(t, basicBackend("basic"))

	seq, err := eng.Build(context.Background(), Request{
		StackID:   "basic",
		Snapshot:  testSnapshot(),
		OutputDir: t.TempDir(),
	})
	require.NoError(t, err)

	par, err := eng.Build(context.Background(), Request{
		StackID:   "basic",
		Snapshot:  testSnapshot(),
		OutputDir: t.TempDir(),
		Options:   Options{Parallelism: 4},
	})
	require.NoError(t, err)

	assert.Equal(t, seq.Files, par.Files)
	assert.Equal(t, seq.Completed, par.Completed)
}

func TestBuildTwoBackendsProduceDisjointTrees(t *testing.T) {
	alt := &stack.Backend{
		ID: "alt",
		Generators: []stack.Generator{&stack.Func{
			Name:  "manifest",
			Paths: []string{"manifest.txt"},
			Fn: func(ctx context.Context, rc *stack.RunContext) (*stack.GeneratorResult, error) {
				return &stack.GeneratorResult{
					Files: []stack.File{{Path: "manifest.txt", Content: []byte(rc.IR.Name)}},
				}, nil
			},
		}},
	}
	eng := newTestEngine(t, basicBackend("basic"), alt)
	outA, outB := t.TempDir(), t.TempDir()

	resA, err := eng.Build(context.Background(), Request{StackID: "basic", Snapshot: testSnapshot(), OutputDir: outA})
	require.NoError(t, err)
	resB, err := eng.Build(context.Background(), Request{StackID: "alt", Snapshot: testSnapshot(), OutputDir: outB})
	require.NoError(t, err)

	pathsA := map[string]bool{}
	for _, f := range resA.Files {
		pathsA[f.Path] = true
	}
	for _, f := range resB.Files {
		assert.False(t, pathsA[f.Path], "no cross-contamination between backends")
	}
	_, statErr := os.Stat(filepath.Join(outA, "manifest.txt"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestBuildDeprecationNoticeIsAdvisory(t *testing.T) {
	b := basicBackend("legacy")
	b.Deprecated = &stack.Deprecation{Since: "2.1", Removal: "3.0", MigrationHint: "switch to basic"}
	eng := newTestEngine(t, b)

	res, err := eng.Build(context.Background(), Request{
		StackID:   "legacy",
		Snapshot:  testSnapshot(),
		OutputDir: t.TempDir(),
	})
	require.NoError(t, err, "deprecation never blocks execution")
	require.Len(t, res.Deprecations, 1)
	n := res.Deprecations[0]
	assert.Equal(t, "legacy", n.StackID)
	assert.Equal(t, "2.1", n.Since)
	assert.Equal(t, "3.0", n.Removal)
	assert.Equal(t, "switch to basic", n.MigrationHint)
	assert.NotEmpty(t, res.Files)
}

func TestBuildCancellationBetweenUnits(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancelling := &stack.Func{
		Name:  "A",
		Makes: []artifact.Key{"A.names"},
		Paths: []string{"a.txt"},
		Fn: func(_ context.Context, rc *stack.RunContext) (*stack.GeneratorResult, error) {
			cancel() // cancellation arrives while a unit is running
			return &stack.GeneratorResult{
				Files:     []stack.File{{Path: "a.txt", Content: []byte("a")}},
				Artifacts: []artifact.Value{{Key: "A.names", Payload: []string{}}},
			}, nil
		},
	}
	b := &stack.Backend{ID: "cancel", Generators: []stack.Generator{cancelling, indexGen()}}
	eng := newTestEngine(t, b)
	out := t.TempDir()

	_, err := eng.Build(ctx, Request{StackID: "cancel", Snapshot: testSnapshot(), OutputDir: out})
	de, ok := diag.AsError(err)
	require.True(t, ok)
	assert.Equal(t, diag.KindCancelled, de.Kind)
	assert.Equal(t, diag.StageGenerate, de.Stage)

	// The unit that was already running still committed; the next did not.
	assert.Equal(t, []string{"a.txt"}, de.Written)
}

func TestBuildUnitTimeoutIsAFailure(t *testing.T) {
	slow := &stack.Func{
		Name:  "slow",
		Paths: []string{"slow.txt"},
		Fn: func(ctx context.Context, rc *stack.RunContext) (*stack.GeneratorResult, error) {
			time.Sleep(200 * time.Millisecond)
			return &stack.GeneratorResult{}, nil
		},
	}
	b := &stack.Backend{ID: "slow", Generators: []stack.Generator{slow}}
	eng := newTestEngine(t, b)

	_, err := eng.Build(context.Background(), Request{
		StackID:   "slow",
		Snapshot:  testSnapshot(),
		OutputDir: t.TempDir(),
		Options:   Options{UnitTimeout: 20 * time.Millisecond},
	})
	de, ok := diag.AsError(err)
	require.True(t, ok)
	assert.Equal(t, diag.KindGeneration, de.Kind)
	assert.Equal(t, "slow", de.Component)
	assert.Contains(t, de.Error(), "timed out")
}

func TestBuildRejectsUndeclaredOutputs(t *testing.T) {
	t.Run("undeclared file path", func(t *testing.T) {
		rogue := &stack.Func{
			Name:  "rogue",
			Paths: []string{"expected.txt"},
			Fn: func(ctx context.Context, rc *stack.RunContext) (*stack.GeneratorResult, error) {
				return &stack.GeneratorResult{
					Files: []stack.File{{Path: "elsewhere.txt", Content: []byte("x")}},
				}, nil
			},
		}
		eng := newTestEngine(t, &stack.Backend{ID: "rogue", Generators: []stack.Generator{rogue}})

		_, err := eng.Build(context.Background(), Request{
			StackID: "rogue", Snapshot: testSnapshot(), OutputDir: t.TempDir(),
		})
		de, ok := diag.AsError(err)
		require.True(t, ok)
		assert.Equal(t, diag.KindGeneration, de.Kind)
		assert.Contains(t, de.Message, "outside declared output paths")
	})

	t.Run("undeclared artifact key", func(t *testing.T) {
		rogue := &stack.Func{
			Name: "rogue",
			Fn: func(ctx context.Context, rc *stack.RunContext) (*stack.GeneratorResult, error) {
				return &stack.GeneratorResult{
					Artifacts: []artifact.Value{{Key: "surprise", Payload: 1}},
				}, nil
			},
		}
		eng := newTestEngine(t, &stack.Backend{ID: "rogue2", Generators: []stack.Generator{rogue}})

		_, err := eng.Build(context.Background(), Request{
			StackID: "rogue2", Snapshot: testSnapshot(), OutputDir: t.TempDir(),
		})
		de, ok := diag.AsError(err)
		require.True(t, ok)
		assert.Contains(t, de.Message, `produced undeclared artifact "surprise"`)
	})

	t.Run("escaping path", func(t *testing.T) {
		rogue := &stack.Func{
			Name: "rogue",
			Fn: func(ctx context.Context, rc *stack.RunContext) (*stack.GeneratorResult, error) {
				return &stack.GeneratorResult{
					Files: []stack.File{{Path: "../outside.txt", Content: []byte("x")}},
				}, nil
			},
		}
		eng := newTestEngine(t, &stack.Backend{ID: "rogue3", Generators: []stack.Generator{rogue}})

		_, err := eng.Build(context.Background(), Request{
			StackID: "rogue3", Snapshot: testSnapshot(), OutputDir: t.TempDir(),
		})
		de, ok := diag.AsError(err)
		require.True(t, ok)
		assert.Contains(t, de.Message, "escapes the output root")
	})
}

func TestBuildDisplayArtifacts(t *testing.T) {
	credGen := &stack.Func{
		Name:  "creds",
		Makes: []artifact.Key{"credentials.admin"},
		Fn: func(ctx context.Context, rc *stack.RunContext) (*stack.GeneratorResult, error) {
			return &stack.GeneratorResult{
				Artifacts: []artifact.Value{{Key: "credentials.admin", Payload: "s3cret"}},
			}, nil
		},
	}
	eng := newTestEngine(t, &stack.Backend{ID: "creds", Generators: []stack.Generator{credGen}})

	res, err := eng.Build(context.Background(), Request{
		StackID:   "creds",
		Snapshot:  testSnapshot(),
		OutputDir: t.TempDir(),
		Options:   Options{DisplayKeys: []artifact.Key{"credentials.admin"}},
	})
	require.NoError(t, err)
	assert.Equal(t, map[artifact.Key]any{"credentials.admin": "s3cret"}, res.Display)
	assert.Contains(t, res.ArtifactKeys, artifact.Key("credentials.admin"))
}

func TestListBackends(t *testing.T) {
	eng := newTestEngine(t, basicBackend("basic"))
	ds := eng.ListBackends()
	require.Len(t, ds, 1)
	assert.Equal(t, "basic", ds[0].ID)
	assert.Equal(t, []string{"B", "A"}, ds[0].Generators, "declaration order, not resolved order")
}
