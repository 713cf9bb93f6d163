package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/appforge/appforge/internal/history"
)

// HistoryCmd implements the 'history' command.
type HistoryCmd struct {
	HistoryDB string `name:"history-db" help:"SQLite file recording build runs" default:"appforge-history.db"`
	Limit     int    `short:"n" help:"Number of runs to show" default:"20"`
}

func (h *HistoryCmd) Run(_ *Global, _ *CLI) error {
	store, err := history.Open(h.HistoryDB)
	if err != nil {
		return err
	}
	defer store.Close()

	entries, err := store.Recent(context.Background(), h.Limit)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Println("No recorded runs")
		return nil
	}
	for _, e := range entries {
		fmt.Printf("%s  %-9s %-12s files=%d warnings=%d %s\n",
			e.StartedAt.Format(time.RFC3339), e.Status, e.StackID,
			e.Files, e.Warnings, e.Duration.Round(time.Millisecond))
		for _, d := range e.Diagnostics {
			fmt.Printf("    %s\n", d)
		}
	}
	return nil
}
