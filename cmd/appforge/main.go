package main

import (
	"log/slog"
	"os"

	"github.com/alecthomas/kong"

	"github.com/appforge/appforge/cmd/appforge/commands"
	"github.com/appforge/appforge/internal/version"
)

func main() {
	cli := &commands.CLI{}
	ctx := kong.Parse(cli,
		kong.Name("appforge"),
		kong.Description("Deterministic source tree generation from validated application specs"),
		kong.UsageOnError(),
		kong.Vars{"version": version.Version},
	)

	global := &commands.Global{Logger: slog.Default()}
	if err := ctx.Run(global, cli); err != nil {
		slog.Error("Command failed", "error", err)
		os.Exit(1)
	}
}
