// Package commands contains the appforge CLI commands. Each command is a
// kong struct with a Run method; the process-wide backend registry is
// populated once before parsing.
package commands

import (
	"log/slog"
	"os"

	"github.com/alecthomas/kong"

	"github.com/appforge/appforge/internal/stack"
	"github.com/appforge/appforge/internal/stacks/docsite"
)

// Global carries state shared by all subcommands.
type Global struct {
	Logger *slog.Logger
}

// CLI is the root command definition with global flags.
type CLI struct {
	Verbose bool             `short:"v" help:"Enable verbose logging"`
	Version kong.VersionFlag `name:"version" help:"Show version and exit"`

	Build    BuildCmd    `cmd:"" help:"Build a source tree from a spec file"`
	Backends BackendsCmd `cmd:"" help:"List registered stack backends"`
	History  HistoryCmd  `cmd:"" help:"Show recent build runs"`
	Watch    WatchCmd    `cmd:"" help:"Rebuild automatically when the spec file changes"`
}

// AfterApply runs after flag parsing; sets up logging once.
func (c *CLI) AfterApply() error {
	level := slog.LevelInfo
	if c.Verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
	return nil
}

func init() {
	if err := stack.Register(docsite.Backend()); err != nil {
		panic(err)
	}
}
