package engine

import (
	"context"
	"sync"

	"github.com/appforge/appforge/internal/artifact"
	"github.com/appforge/appforge/internal/diag"
	"github.com/appforge/appforge/internal/metrics"
	"github.com/appforge/appforge/internal/stack"
)

// generateParallel runs generators level by level: units within a level have
// no dependency relation and may execute concurrently, but their outputs are
// committed strictly in resolved order once the level completes. The files
// on disk, their order and the artifact contents are therefore identical to
// a sequential run; only wall-clock time changes. On a failure inside a
// level, exactly the outputs of generators ordered before the failing one
// are committed, preserving the sequential fail-fast contract.
func (r *run) generateParallel(ctx context.Context, rec metrics.Recorder, order []stack.Generator, parallelism int) *diag.Error {
	type outcome struct {
		res *stack.GeneratorResult
		de  *diag.Error
	}

	for _, level := range dependencyLevels(order) {
		if err := ctx.Err(); err != nil {
			return diag.Cancelled(diag.StageGenerate, level[0].ID(), err)
		}

		outcomes := make([]outcome, len(level))
		sem := make(chan struct{}, parallelism)
		var wg sync.WaitGroup
		for i, gen := range level {
			wg.Add(1)
			go func(i int, gen stack.Generator) {
				defer wg.Done()
				sem <- struct{}{}
				defer func() { <-sem }()
				res, de := r.runGenerator(ctx, rec, gen)
				outcomes[i] = outcome{res: res, de: de}
			}(i, gen)
		}
		wg.Wait()

		for i, gen := range level {
			if outcomes[i].de != nil {
				return outcomes[i].de
			}
			if de := r.commit(gen, outcomes[i].res); de != nil {
				return de
			}
		}
	}
	return nil
}

// dependencyLevels partitions a resolved order into rounds: a generator's
// level is one past the deepest level of any producer it requires. Order
// within a level follows the resolved order, so committing level by level
// reproduces the sequential flush order exactly.
func dependencyLevels(order []stack.Generator) [][]stack.Generator {
	producerLevel := make(map[artifact.Key]int)
	var levels [][]stack.Generator
	for _, g := range order {
		lvl := 0
		for _, k := range g.Requires() {
			if pl, ok := producerLevel[k]; ok && pl+1 > lvl {
				lvl = pl + 1
			}
		}
		for _, k := range g.Produces() {
			if prev, ok := producerLevel[k]; !ok || lvl > prev {
				producerLevel[k] = lvl
			}
		}
		if lvl == len(levels) {
			levels = append(levels, nil)
		}
		levels[lvl] = append(levels[lvl], g)
	}
	return levels
}
