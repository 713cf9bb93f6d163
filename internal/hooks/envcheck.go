// Package hooks provides stack-agnostic hooks backends can compose:
// environment precondition checks before any file is written, and output
// tree post-processing such as git initialization.
package hooks

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"

	"github.com/joho/godotenv"

	"github.com/appforge/appforge/internal/stack"
)

func lookupEnv(name string) (string, bool) { return os.LookupEnv(name) }

// EnvCheck is a pre-build hook asserting the run environment is usable. It
// loads .env files best effort (existing process variables win) and then
// verifies required variables and the minimum target version option.
type EnvCheck struct {
	// RequiredVars must be present and non-empty in the environment.
	RequiredVars []string

	// MinTargetVersion, when > 0, requires the run var "target_version" to
	// parse as an integer >= this value.
	MinTargetVersion int

	// EnvFiles are loaded in order before checking; missing files are not
	// an error. Defaults to .env when nil; an explicitly empty slice
	// disables loading. A missing default .env is silent, a missing
	// explicitly configured file is recorded as a warning.
	EnvFiles []string

	// Lookup resolves environment variables; defaults to os.LookupEnv.
	// Overridable for tests.
	Lookup func(string) (string, bool)
}

func (h *EnvCheck) ID() string         { return "env-check" }
func (h *EnvCheck) Phase() stack.Phase { return stack.PhasePreBuild }

func (h *EnvCheck) Run(ctx context.Context, rc *stack.RunContext) (*stack.HookResult, error) {
	files := h.EnvFiles
	explicit := files != nil
	if files == nil {
		files = []string{".env"}
	}
	var warnings []string
	if len(files) > 0 {
		if err := godotenv.Load(files...); err != nil {
			// Running without the default .env is normal; only files the
			// caller asked for are worth a warning.
			if explicit || !errors.Is(err, fs.ErrNotExist) {
				warnings = append(warnings, fmt.Sprintf("no env file loaded: %v", err))
			}
		}
	}

	lookup := h.Lookup
	if lookup == nil {
		lookup = lookupEnv
	}
	for _, name := range h.RequiredVars {
		if v, ok := lookup(name); !ok || v == "" {
			return nil, fmt.Errorf("required environment variable %q is not set", name)
		}
	}

	if h.MinTargetVersion > 0 {
		raw := rc.Var("target_version")
		if raw == "" {
			return nil, fmt.Errorf("run option target_version is required (minimum %d)", h.MinTargetVersion)
		}
		v, err := strconv.Atoi(raw)
		if err != nil {
			return nil, fmt.Errorf("run option target_version %q is not a number", raw)
		}
		if v < h.MinTargetVersion {
			return nil, fmt.Errorf("target_version %d below minimum %d", v, h.MinTargetVersion)
		}
	}
	return &stack.HookResult{Warnings: warnings}, nil
}
