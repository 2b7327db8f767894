package engine

import (
	"context"
	"fmt"

	"github.com/Iron-Ham/bnbhub/internal/errors"
	"github.com/Iron-Ham/bnbhub/internal/event"
	"github.com/Iron-Ham/bnbhub/internal/pool"
	"github.com/Iron-Ham/bnbhub/internal/problem"
	"github.com/Iron-Ham/bnbhub/internal/rampup"
)

// rampUp expands the root identically on every rank, then keeps this
// rank's crossover share. It reports whether the tree was exhausted.
func (p *process) rampUp(ctx context.Context) (bool, error) {
	p.setPhase(phaseRampUp)
	workers := p.topo.TotalWorkers()
	rampPool := pool.New[problem.Handle](p.settings.Policy, p.sense)
	runner := rampup.NewRunner(rampPool, p.settings.StopRule, workers)
	seq := problem.NewSequencer(problem.RampUpCreator)

	payload, err := p.app.Root()
	if err != nil {
		return false, errors.NewEngineError("create root", errors.Join(errors.ErrApplication, err)).
			WithRank(p.rank).WithPhase(p.phase)
	}
	root := problem.Subproblem{ID: seq.Next(), Payload: payload}
	if err := p.evaluate(&root); err != nil {
		return false, err
	}
	runner.Seed(p.arena.Alloc(root), root.Bound)

	free := func(h problem.Handle) { p.arena.Free(h) }
	step := func(_ context.Context, h problem.Handle, _ float64) (int, error) {
		if err := p.checkStop(); err != nil {
			return 0, err
		}
		sp, ok := p.arena.Take(h)
		if !ok {
			return 0, fmt.Errorf("ramp-up pool holds a freed subproblem")
		}
		if !p.inc.CanImprove(sp.Bound) {
			p.stats.Fathomed++
			return 0, nil
		}
		n, err := p.branch(&sp, seq, func(child problem.Subproblem, _ int) error {
			rampPool.Insert(p.arena.Alloc(child), child.Bound)
			return nil
		})
		if err != nil {
			return n, err
		}
		if p.inc.NeedPruning() {
			p.stats.Fathomed += rampPool.Prune(func(h problem.Handle, bound float64) bool {
				if p.inc.CanImprove(bound) {
					return true
				}
				free(h)
				return false
			})
			p.inc.ClearPruning()
		}
		return n, nil
	}

	out, err := runner.Run(ctx, step)
	if err != nil {
		return false, err
	}
	if out.Exhausted {
		p.log.Info("ramp-up exhausted the tree", "created", out.Created, "steps", out.Steps)
		p.bus.Publish(event.NewRampUpFinishedEvent(p.rank, out.Created, 0, 0, 0, true))
		return true, nil
	}

	if err := p.inc.Synchronize(ctx, p.ep); err != nil {
		return false, err
	}
	skip, err := rampup.AgreeSkipFactor(ctx, p.ep, workers)
	if err != nil {
		return false, err
	}
	kept, err := runner.Crossover(skip, p.topo.WorkerOrdinal(p.rank),
		func(h problem.Handle, bound float64) {
			if !p.inc.CanImprove(bound) {
				p.stats.Fathomed++
				free(h)
				return
			}
			p.pool.Insert(h, bound)
		},
		free,
	)
	if err != nil {
		return false, err
	}
	p.inc.ClearPruning()
	p.log.Info("ramp-up finished",
		"created", out.Created, "steps", out.Steps, "pool", out.PoolSize, "kept", kept, "skip", skip)
	p.bus.Publish(event.NewRampUpFinishedEvent(p.rank, out.Created, out.PoolSize, kept, skip, false))
	return false, nil
}
