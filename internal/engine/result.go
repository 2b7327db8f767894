package engine

import (
	"time"

	"github.com/Iron-Ham/bnbhub/internal/load"
	"github.com/Iron-Ham/bnbhub/internal/problem"
)

// Counters are one process's search and balancing totals.
type Counters struct {
	Bounded    int
	Branched   int
	Fathomed   int
	Released   int
	Delivered  int
	Dispatched int
	Forwarded  int
}

func (c Counters) add(o Counters) Counters {
	return Counters{
		Bounded:    c.Bounded + o.Bounded,
		Branched:   c.Branched + o.Branched,
		Fathomed:   c.Fathomed + o.Fathomed,
		Released:   c.Released + o.Released,
		Delivered:  c.Delivered + o.Delivered,
		Dispatched: c.Dispatched + o.Dispatched,
		Forwarded:  c.Forwarded + o.Forwarded,
	}
}

func (c Counters) sub(o Counters) Counters {
	return Counters{
		Bounded:    c.Bounded - o.Bounded,
		Branched:   c.Branched - o.Branched,
		Fathomed:   c.Fathomed - o.Fathomed,
		Released:   c.Released - o.Released,
		Delivered:  c.Delivered - o.Delivered,
		Dispatched: c.Dispatched - o.Dispatched,
		Forwarded:  c.Forwarded - o.Forwarded,
	}
}

// RankStats describes one process at the end of a run.
type RankStats struct {
	Rank  int
	Role  string
	Phase string
	Counters
	// Load is the rank's final pool load with its scheduling time and
	// message counts.
	Load   load.Object
	Passes uint64
}

// Result is the outcome of a run.
type Result struct {
	RunID     string
	Processes int
	Sense     problem.Sense

	// Value is the incumbent objective value. It is meaningful only when
	// HasValue is set.
	Value    float64
	HasValue bool
	// Source is the rank that found the incumbent.
	Source int
	// Solution is the incumbent's packed payload as kept by rank 0.
	Solution   []byte
	SolutionID problem.ID

	// Terminated is set when the search proved optimality.
	Terminated bool
	// Exhausted is set when ramp-up alone explored the whole tree.
	Exhausted   bool
	Aborted     bool
	AbortReason string
	// Restored is set when the run started from checkpoint files.
	Restored bool

	Elapsed time.Duration
	Load    load.Object
	Ranks   []RankStats
}

// Totals sums the counters of every rank.
func (r *Result) Totals() Counters {
	var c Counters
	for _, rs := range r.Ranks {
		c = c.add(rs.Counters)
	}
	return c
}

func (p *process) rankStats() RankStats {
	rs := RankStats{
		Rank:     p.rank,
		Role:     p.role(),
		Phase:    p.phase,
		Counters: p.stats,
		Load:     load.New(p.app.Sense()),
	}
	if p.pool != nil {
		l := p.pool.Load()
		rs.Load.SetHeld(l.Count(), l.AggregateBound())
	}
	if p.sched != nil {
		st := p.sched.Stats()
		rs.Load.AddBusy(st.Busy)
		rs.Load.AddIdle(st.Idle)
		rs.Passes = st.Passes
	}
	sent, recv := p.ep.Stats()
	rs.Load.CountSent(sent)
	rs.Load.CountReceived(recv)
	return rs
}
