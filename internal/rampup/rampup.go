// Package rampup runs the bootstrap phase every process executes before the
// search goes parallel.
//
// All processes start from the same root and expand it with the same
// deterministic ordering, so their pools are identical when the [StopRule]
// fires. [Crossover] then splits that pool across workers using a skip
// factor coprime with the worker count, without exchanging any messages.
package rampup

import (
	"context"
	"fmt"
	"math"

	"github.com/Iron-Ham/bnbhub/internal/comm"
	"github.com/Iron-Ham/bnbhub/internal/pool"
)

// Phase is the bootstrap stage of a process.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseRampingUp
	PhaseCrossover
	PhaseSteadyState
	// PhaseFinished means the tree was exhausted during ramp-up.
	PhaseFinished
)

// String returns the phase name.
func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseRampingUp:
		return "ramping-up"
	case PhaseCrossover:
		return "crossover"
	case PhaseSteadyState:
		return "steady-state"
	case PhaseFinished:
		return "finished"
	default:
		return "unknown"
	}
}

// StopMode combines the two ramp-up thresholds.
type StopMode string

const (
	// StopEither stops when either threshold is reached.
	StopEither StopMode = "either"
	// StopBoth stops when both thresholds are reached.
	StopBoth StopMode = "both"
)

// StopRule decides when ramp-up has produced enough work. A zero threshold
// is disabled.
type StopRule struct {
	// PoolFactor stops once the pool holds PoolFactor items per worker.
	PoolFactor float64
	// MinCreated stops once this many subproblems have been created.
	MinCreated int
	Mode       StopMode
	// MaxCreated stops unconditionally. Zero means no limit.
	MaxCreated int
}

// Validate checks the rule.
func (r StopRule) Validate() error {
	if r.PoolFactor < 0 || math.IsNaN(r.PoolFactor) {
		return fmt.Errorf("pool factor must be non-negative, got %v", r.PoolFactor)
	}
	if r.MinCreated < 0 || r.MaxCreated < 0 {
		return fmt.Errorf("creation thresholds must be non-negative")
	}
	if r.PoolFactor == 0 && r.MinCreated == 0 && r.MaxCreated == 0 {
		return fmt.Errorf("at least one ramp-up threshold must be set")
	}
	if r.Mode != StopEither && r.Mode != StopBoth {
		return fmt.Errorf("unknown stop mode %q (valid: either, both)", r.Mode)
	}
	return nil
}

// Done reports whether ramp-up should stop.
func (r StopRule) Done(poolSize, created, workers int) bool {
	if r.MaxCreated > 0 && created >= r.MaxCreated {
		return true
	}
	sizeSet := r.PoolFactor > 0
	countSet := r.MinCreated > 0
	bySize := sizeSet && float64(poolSize) >= r.PoolFactor*float64(workers)
	byCount := countSet && created >= r.MinCreated

	if r.Mode == StopBoth {
		return (bySize || !sizeSet) && (byCount || !countSet) && (sizeSet || countSet)
	}
	return bySize || byCount
}

// Step expands one item removed from the pool, inserting its children, and
// returns how many subproblems it created. It must be deterministic.
type Step[T any] func(ctx context.Context, item T, bound float64) (int, error)

// Outcome summarizes a finished ramp-up.
type Outcome struct {
	Created  int
	Steps    int
	PoolSize int
	// Exhausted means the pool emptied before the stop rule fired.
	Exhausted bool
}

// Runner drives one process through ramp-up and crossover.
type Runner[T any] struct {
	pool    *pool.Pool[T]
	rule    StopRule
	workers int
	phase   Phase
	created int
	steps   int
}

// NewRunner creates a runner over p for a world with the given number of
// workers.
func NewRunner[T any](p *pool.Pool[T], rule StopRule, workers int) *Runner[T] {
	return &Runner[T]{pool: p, rule: rule, workers: workers}
}

// Phase returns the current phase.
func (r *Runner[T]) Phase() Phase {
	return r.phase
}

// Seed inserts the root and enters RampingUp.
func (r *Runner[T]) Seed(root T, bound float64) {
	r.pool.Insert(root, bound)
	r.created = 1
	r.phase = PhaseRampingUp
}

// Run expands the pool until the stop rule holds or the pool empties.
func (r *Runner[T]) Run(ctx context.Context, step Step[T]) (Outcome, error) {
	if r.phase != PhaseRampingUp {
		return Outcome{}, fmt.Errorf("ramp-up run in phase %s", r.phase)
	}
	for !r.rule.Done(r.pool.Size(), r.created, r.workers) {
		if r.pool.Empty() {
			r.phase = PhaseFinished
			return r.outcome(true), nil
		}
		if err := ctx.Err(); err != nil {
			return r.outcome(false), err
		}
		item, bound := r.pool.Remove()
		n, err := step(ctx, item, bound)
		if err != nil {
			return r.outcome(false), err
		}
		r.created += n
		r.steps++
	}
	if r.pool.Empty() {
		r.phase = PhaseFinished
		return r.outcome(true), nil
	}
	r.phase = PhaseCrossover
	return r.outcome(false), nil
}

func (r *Runner[T]) outcome(exhausted bool) Outcome {
	return Outcome{
		Created:   r.created,
		Steps:     r.steps,
		PoolSize:  r.pool.Size(),
		Exhausted: exhausted,
	}
}

// Crossover partitions the pool and enters SteadyState. self is the local
// worker ordinal, or -1 for a process that does no search work.
func (r *Runner[T]) Crossover(skip, self int, keep func(T, float64), discard func(T)) (int, error) {
	if r.phase != PhaseCrossover {
		return 0, fmt.Errorf("crossover in phase %s", r.phase)
	}
	kept, err := Crossover(r.pool, skip, r.workers, self, keep, discard)
	if err != nil {
		return kept, err
	}
	r.phase = PhaseSteadyState
	return kept, nil
}

// SkipFactor returns the largest s < workers that is coprime with workers,
// or 1 when workers <= 2.
func SkipFactor(workers int) int {
	if workers <= 2 {
		return 1
	}
	for s := workers - 1; s > 1; s-- {
		if gcd(s, workers) == 1 {
			return s
		}
	}
	return 1
}

func gcd(a, b int) int {
	for b != 0 {
		a, b = b, a%b
	}
	return a
}

// IntReducer is the collective AgreeSkipFactor needs.
type IntReducer interface {
	AllReduceInt(ctx context.Context, v int64, op comm.Op) (int64, error)
}

// AgreeSkipFactor computes the local candidate and reduces it with max so
// every process uses the same value.
func AgreeSkipFactor(ctx context.Context, r IntReducer, workers int) (int, error) {
	s, err := r.AllReduceInt(ctx, int64(SkipFactor(workers)), comm.OpMax)
	if err != nil {
		return 0, fmt.Errorf("skip factor reduction: %w", err)
	}
	if workers > 0 && gcd(int(s), workers) != 1 {
		return 0, fmt.Errorf("agreed skip factor %d is not coprime with %d workers", s, workers)
	}
	return int(s), nil
}

// Assign returns the worker ordinal that receives the k-th removed item.
func Assign(k, skip, workers int) int {
	return (k * skip) % workers
}

// Crossover removes every item from p in priority order. Items assigned to
// self are passed to keep, the rest to discard. It returns the number kept.
func Crossover[T any](p *pool.Pool[T], skip, workers, self int, keep func(T, float64), discard func(T)) (int, error) {
	if workers < 1 {
		return 0, fmt.Errorf("crossover needs at least one worker")
	}
	if gcd(skip, workers) != 1 {
		return 0, fmt.Errorf("skip factor %d is not coprime with %d workers", skip, workers)
	}
	var k, kept int
	for !p.Empty() {
		item, bound := p.Remove()
		if Assign(k, skip, workers) == self {
			keep(item, bound)
			kept++
		} else if discard != nil {
			discard(item)
		}
		k++
	}
	return kept, nil
}
