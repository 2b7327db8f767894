package engine

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"

	concpool "github.com/sourcegraph/conc/pool"
	"github.com/sourcegraph/conc/panics"

	"github.com/Iron-Ham/bnbhub/internal/comm"
	"github.com/Iron-Ham/bnbhub/internal/errors"
	"github.com/Iron-Ham/bnbhub/internal/event"
	"github.com/Iron-Ham/bnbhub/internal/incumbent"
	"github.com/Iron-Ham/bnbhub/internal/load"
	"github.com/Iron-Ham/bnbhub/internal/problem"
)

// Engine runs one search. It may be run more than once; every run builds
// a fresh world.
type Engine struct {
	factory  problem.Factory
	settings Settings
	cfg      engineConfig
	seed     uint64
}

// New validates the settings and creates an engine. factory is called once
// per rank at the start of every run.
func New(factory problem.Factory, settings Settings, opts ...Option) (*Engine, error) {
	if factory == nil {
		return nil, errors.NewValidationError("engine needs an application factory").WithField("factory")
	}
	if err := settings.Validate(); err != nil {
		return nil, errors.NewValidationError("invalid engine settings").WithCause(err)
	}
	seed := settings.Seed
	if seed == 0 {
		seed = rand.Uint64()
	}
	return &Engine{
		factory:  factory,
		settings: settings,
		cfg:      newEngineConfig(opts),
		seed:     seed,
	}, nil
}

// RunID returns the id stamped on logs, events and checkpoints.
func (e *Engine) RunID() string {
	return e.cfg.runID
}

// Settings returns the validated settings.
func (e *Engine) Settings() Settings {
	return e.settings
}

// Bus returns the event bus processes publish to.
func (e *Engine) Bus() *event.Bus {
	return e.cfg.bus
}

// Run starts one goroutine per rank and waits for all of them. The result
// is returned even when the run was aborted; the error is the first
// failure in rank order, or the abort cause.
func (e *Engine) Run(ctx context.Context) (*Result, error) {
	start := time.Now()
	log := e.cfg.logger.WithRun(e.cfg.runID)
	topo, err := e.settings.topology()
	if err != nil {
		return nil, err
	}
	world, err := comm.NewWorld(e.settings.Processes)
	if err != nil {
		return nil, err
	}
	triggers, err := startTriggers(e.settings, log)
	if err != nil {
		return nil, err
	}
	defer triggers.stop()

	log.Info("run starting",
		"topology", topo.String(),
		"policy", e.settings.Policy.String(),
		"release", string(e.settings.Release),
		"restart", e.settings.Restart)

	procs := make([]*process, e.settings.Processes)
	errs := make([]error, e.settings.Processes)
	wg := concpool.New()
	for rank := range procs {
		wg.Go(func() {
			var pc panics.Catcher
			pc.Try(func() {
				procs[rank], errs[rank] = e.runRank(ctx, world, rank, triggers)
			})
			if rec := pc.Recovered(); rec != nil {
				err := errors.NewEngineError(fmt.Sprintf("rank %d panicked", rank), rec.AsError()).
					WithRank(rank).WithSeverity(errors.SeverityCritical)
				errs[rank] = err
				world.Leave(rank, err)
			}
		})
	}
	wg.Wait()

	res := e.result(procs, time.Since(start))
	runErr := firstError(errs)
	e.cfg.bus.Publish(event.NewRunFinishedEvent(res.Value, res.HasValue, res.Terminated, res.Elapsed))
	if runErr != nil {
		log.Warn("run ended early", "error", runErr, "elapsed", res.Elapsed)
		return res, runErr
	}
	log.Info("run finished",
		"value", res.Value, "has_value", res.HasValue, "source", res.Source,
		"terminated", res.Terminated, "elapsed", res.Elapsed, "load", res.Load.String())
	return res, nil
}

func (e *Engine) runRank(ctx context.Context, world *comm.World, rank int, triggers *abortTriggers) (*process, error) {
	app, err := e.factory(rank)
	if err != nil {
		err = errors.NewEngineError("create application", errors.Join(errors.ErrApplication, err)).
			WithRank(rank).WithSeverity(errors.SeverityCritical)
		world.Leave(rank, err)
		return nil, err
	}
	var t *abortTriggers
	if rank == 0 {
		t = triggers
	}
	p, err := newProcess(e, world, rank, app, t)
	if err != nil {
		world.Leave(rank, err)
		return nil, err
	}
	return p, p.run(ctx)
}

func (e *Engine) result(procs []*process, elapsed time.Duration) *Result {
	res := &Result{
		RunID:      e.cfg.runID,
		Processes:  len(procs),
		Source:     incumbent.NoSource,
		Elapsed:    elapsed,
		Terminated: true,
	}
	if procs[0] != nil {
		res.Sense = procs[0].app.Sense()
	}
	res.Load = load.New(res.Sense)

	for _, p := range procs {
		if p == nil {
			res.Terminated = false
			continue
		}
		rs := p.rankStats()
		res.Ranks = append(res.Ranks, rs)
		res.Load = res.Load.Merge(rs.Load)
		if !p.terminated {
			res.Terminated = false
		}
		if p.aborted && !res.Aborted {
			res.Aborted = true
			res.AbortReason = p.abortReason
		}
	}

	if p := procs[0]; p != nil && p.inc != nil {
		res.Value = p.inc.Value()
		res.HasValue = p.inc.HasValue()
		res.Source = p.inc.Source()
		res.Restored = p.restored
		res.Exhausted = p.exhausted
		if p.solution != nil {
			res.Solution = p.solution.Payload
			res.SolutionID = p.solution.ID
		}
	}
	if res.Aborted {
		res.Terminated = false
	}
	return res
}

// firstError prefers a failure over an abort, and an abort over the
// knock-on errors of ranks that only saw the world go down.
func firstError(errs []error) error {
	var abortErr, worldErr error
	for _, err := range errs {
		switch {
		case err == nil:
		case errors.IsAbort(err):
			if abortErr == nil {
				abortErr = err
			}
		case errors.Is(err, errors.ErrWorldAborted):
			if worldErr == nil {
				worldErr = err
			}
		default:
			return err
		}
	}
	if abortErr != nil {
		return abortErr
	}
	return worldErr
}
