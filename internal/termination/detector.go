package termination

import "fmt"

// Verdict is the outcome of a termination round.
type Verdict int

const (
	// VerdictPending means work may still exist.
	VerdictPending Verdict = iota
	// VerdictTerminated means the whole world is idle and no work is in
	// flight.
	VerdictTerminated
)

// String returns the verdict name.
func (v Verdict) String() string {
	if v == VerdictTerminated {
		return "terminated"
	}
	return "pending"
}

// Result is an evaluated round.
type Result struct {
	Verdict Verdict
	Report  Report
	Reason  string
}

// Detector runs termination rounds on the coordinator.
type Detector struct {
	processes   int
	round       uint64
	agg         *Aggregator
	drain       bool
	invalidated bool
	wantAnother bool
}

// NewDetector creates a detector for a world of processes ranks.
func NewDetector(processes int) *Detector {
	return &Detector{processes: processes}
}

// Begin starts a new round and returns its number. A drain round does not
// require quiescence; it confirms that no work is in flight while search is
// paused.
func (d *Detector) Begin(drain bool) uint64 {
	d.round++
	d.agg = NewAggregator(d.round, d.processes)
	d.drain = drain
	d.invalidated = false
	d.wantAnother = false
	return d.round
}

// Active reports whether a round is being collected.
func (d *Detector) Active() bool {
	return d.agg != nil
}

// Round returns the number of the current or last round.
func (d *Detector) Round() uint64 {
	return d.round
}

// Drain reports whether the current round is a drain round.
func (d *Detector) Drain() bool {
	return d.drain
}

// NoteArrival invalidates the active round. The coordinator calls it when
// a counted message reaches it mid-round.
func (d *Detector) NoteArrival() {
	if d.agg != nil {
		d.invalidated = true
	}
}

// Add merges a subtree report. The report's Ranks field says how many
// processes it covers.
func (d *Detector) Add(r Report) error {
	if d.agg == nil {
		return fmt.Errorf("termination report for round %d with no active round", r.Round)
	}
	if r.Round != d.agg.Round() {
		return fmt.Errorf("report for round %d while collecting round %d", r.Round, d.agg.Round())
	}
	d.agg.acc = d.agg.acc.Merge(r)
	d.agg.got += r.Ranks
	if d.agg.got > d.processes {
		return fmt.Errorf("round %d covers %d ranks in a world of %d", d.round, d.agg.got, d.processes)
	}
	return nil
}

// Complete reports whether every process is covered.
func (d *Detector) Complete() bool {
	return d.agg != nil && d.agg.got == d.processes
}

// Evaluate closes the round and returns its verdict. A round that is not
// terminated sets WantAnotherCheck.
func (d *Detector) Evaluate() Result {
	if d.agg == nil {
		return Result{Verdict: VerdictPending, Reason: "no active round"}
	}
	rep := d.agg.Result()
	res := Result{Verdict: VerdictPending, Report: rep}
	switch {
	case d.agg.got != d.processes:
		res.Reason = fmt.Sprintf("%d of %d processes reported", d.agg.got, d.processes)
	case d.invalidated:
		res.Reason = "message arrived during the check"
	case !d.drain && !rep.Quiescent:
		res.Reason = "some process holds work"
	case rep.Dirty:
		res.Reason = "messages received since the previous check"
	case !rep.Balanced():
		res.Reason = "unbalanced channels: " + fmt.Sprint(rep.Unbalanced())
	default:
		res.Verdict = VerdictTerminated
		res.Reason = "clean"
		if d.drain {
			res.Reason = "drained"
		}
	}
	d.wantAnother = res.Verdict != VerdictTerminated
	d.agg = nil
	return res
}

// WantAnotherCheck reports whether the last evaluated round was not
// conclusive.
func (d *Detector) WantAnotherCheck() bool {
	return d.wantAnother
}
