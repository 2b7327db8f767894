// Package incumbent keeps each process's view of the best known solution
// value.
//
// During ramp-up every process calls [Sync.Synchronize], a pair of
// collective reductions after which all processes hold the same value and
// source rank. In steady state improvements travel on their own broadcast
// channel: a process that improves the incumbent sends it along the
// [Relay] tree rooted at itself, and receivers apply it with
// [Sync.Receive]. Either way the value a process observes only ever gets
// better.
package incumbent

import (
	"context"
	"fmt"
	"math"

	"github.com/Iron-Ham/bnbhub/internal/comm"
	"github.com/Iron-Ham/bnbhub/internal/problem"
)

// NoSource is the source rank of an unset incumbent.
const NoSource = -1

// Reducer runs the collective reductions Synchronize needs.
// *comm.Endpoint implements it.
type Reducer interface {
	AllReduceFloat(ctx context.Context, v float64, op comm.Op) (float64, error)
	AllReduceInt(ctx context.Context, v int64, op comm.Op) (int64, error)
}

// Update is an incumbent as carried on the broadcast channel.
type Update struct {
	Value      float64 `json:"value"`
	Source     int     `json:"source"`
	Generation uint64  `json:"generation"`
}

// Sync is one process's incumbent. It is owned by the process goroutine.
type Sync struct {
	sense      problem.Sense
	rank       int
	value      float64
	source     int
	generation uint64

	needPruning bool
}

// New returns an unset incumbent for rank.
func New(sense problem.Sense, rank int) *Sync {
	return &Sync{
		sense:  sense,
		rank:   rank,
		value:  sense.Worst(),
		source: NoSource,
	}
}

// Sense returns the optimization direction.
func (s *Sync) Sense() problem.Sense {
	return s.sense
}

// Value returns the incumbent value, or the sense's worst value when unset.
func (s *Sync) Value() float64 {
	return s.value
}

// Source returns the rank that found the incumbent, or NoSource.
func (s *Sync) Source() int {
	return s.source
}

// Generation counts accepted improvements on this process.
func (s *Sync) Generation() uint64 {
	return s.generation
}

// HasValue reports whether any solution is known.
func (s *Sync) HasValue() bool {
	return s.source != NoSource
}

// Current returns the incumbent as an Update.
func (s *Sync) Current() Update {
	return Update{Value: s.value, Source: s.source, Generation: s.generation}
}

// CanImprove reports whether a subproblem with bound may still beat the
// incumbent.
func (s *Sync) CanImprove(bound float64) bool {
	return s.sense.CanImprove(bound, s.value)
}

// NeedPruning reports whether the incumbent improved since the last
// ClearPruning.
func (s *Sync) NeedPruning() bool {
	return s.needPruning
}

// ClearPruning resets the pruning flag once pools have been filtered.
func (s *Sync) ClearPruning() {
	s.needPruning = false
}

func (s *Sync) accept(value float64, source int) {
	s.value = value
	s.source = source
	s.generation++
	s.needPruning = true
}

// Offer records a solution found locally. It returns true when the value
// strictly improves the incumbent.
func (s *Sync) Offer(value float64, source int) bool {
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return false
	}
	if !s.sense.Better(value, s.value) {
		return false
	}
	s.accept(value, source)
	return true
}

// Receive applies an improvement from the broadcast channel. A worse value
// is ignored. An equal value from a lower source rank replaces the source
// without requiring pruning, so every process settles on the same source.
func (s *Sync) Receive(u Update) bool {
	if u.Source < 0 || math.IsNaN(u.Value) || math.IsInf(u.Value, 0) {
		return false
	}
	switch {
	case s.sense.Better(u.Value, s.value):
		s.accept(u.Value, u.Source)
		return true
	case u.Value == s.value && u.Source < s.source:
		s.source = u.Source
		return false
	default:
		return false
	}
}

// Synchronize agrees on the incumbent with every other process: one
// reduction for the best value, one for the lowest source rank among the
// processes holding it. It blocks until all processes have called it.
func (s *Sync) Synchronize(ctx context.Context, r Reducer) error {
	op := comm.OpMin
	if s.sense == problem.Maximize {
		op = comm.OpMax
	}
	best, err := r.AllReduceFloat(ctx, s.value, op)
	if err != nil {
		return fmt.Errorf("incumbent value reduction: %w", err)
	}

	source := int64(math.MaxInt64)
	if s.HasValue() && s.value == best {
		source = int64(s.source)
	}
	lowest, err := r.AllReduceInt(ctx, source, comm.OpMin)
	if err != nil {
		return fmt.Errorf("incumbent source reduction: %w", err)
	}
	if lowest == math.MaxInt64 {
		return nil
	}

	if s.sense.Better(best, s.value) {
		s.accept(best, int(lowest))
	} else {
		s.source = int(lowest)
	}
	return nil
}

// Relay returns the ranks self forwards an improvement to when root
// originated it. The ranks form a binary tree rooted at root, so every
// process receives the update exactly once.
func Relay(root, self, processes int) []int {
	if processes <= 1 {
		return nil
	}
	k := (self - root + processes) % processes
	var out []int
	for _, child := range []int{2*k + 1, 2*k + 2} {
		if child < processes {
			out = append(out, (child+root)%processes)
		}
	}
	return out
}
