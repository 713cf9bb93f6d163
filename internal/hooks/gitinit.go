package hooks

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"

	"github.com/appforge/appforge/internal/stack"
)

// GitInit is a post-build hook that turns the generated tree into a git
// repository with an initial commit, so callers can immediately diff later
// regenerations against it. Compose it non-critical unless a repository is a
// hard requirement of the pipeline.
type GitInit struct {
	// AuthorName/AuthorEmail are used for the initial commit. Defaults
	// identify the generator rather than a person.
	AuthorName  string
	AuthorEmail string

	// EnabledVar, when set, makes the hook a no-op unless the named run
	// option is "true" or "1". Lets backends compose the hook opt-in.
	EnabledVar string
}

func (h *GitInit) ID() string         { return "git-init" }
func (h *GitInit) Phase() stack.Phase { return stack.PhasePostBuild }

func (h *GitInit) Run(ctx context.Context, rc *stack.RunContext) (*stack.HookResult, error) {
	if h.EnabledVar != "" {
		if v := rc.Var(h.EnabledVar); v != "true" && v != "1" {
			return &stack.HookResult{}, nil
		}
	}
	repo, err := git.PlainInit(rc.OutputDir, false)
	if err == git.ErrRepositoryAlreadyExists {
		// Regeneration into an existing repository: leave history alone.
		return &stack.HookResult{
			Warnings: []string{"output directory is already a git repository, skipping init"},
		}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("init repository: %w", err)
	}

	wt, err := repo.Worktree()
	if err != nil {
		return nil, fmt.Errorf("open worktree: %w", err)
	}
	if err := wt.AddWithOptions(&git.AddOptions{All: true}); err != nil {
		return nil, fmt.Errorf("stage generated files: %w", err)
	}

	name := h.AuthorName
	if name == "" {
		name = "appforge"
	}
	email := h.AuthorEmail
	if email == "" {
		email = "appforge@localhost"
	}
	commit, err := wt.Commit(fmt.Sprintf("Generated %s (%s)", rc.IR.Name, rc.StackID), &git.CommitOptions{
		Author: &object.Signature{Name: name, Email: email, When: time.Now()},
	})
	if err != nil {
		return nil, fmt.Errorf("commit generated files: %w", err)
	}
	slog.Debug("Initialized git repository on generated tree", "commit", commit.String())

	return &stack.HookResult{}, nil
}
