package termination

import (
	"testing"

	"github.com/Iron-Ham/bnbhub/internal/wire"
)

// world simulates message counting between ranks of a two-cluster tree:
// hub 0 with worker 1, hub 2 with worker 3, hub 2 a child of hub 0.
type world struct {
	trackers []*Tracker
}

func newTestWorld() *world {
	w := &world{}
	for i := 0; i < 4; i++ {
		w.trackers = append(w.trackers, NewTracker())
	}
	return w
}

func (w *world) send(from, to int, tag wire.Tag) {
	w.trackers[from].Sent(tag)
	w.trackers[to].Received(tag)
}

// round runs one hierarchical round. inject, when set, is called after the
// second cluster has reported and before the coordinator evaluates.
func (w *world) round(d *Detector, quiescent []bool, inject func()) Result {
	round := d.Begin(false)

	child := NewAggregator(round, 2)
	child.Add(w.trackers[3].Report(round, quiescent[3]))
	child.Add(w.trackers[2].Report(round, quiescent[2]))
	if !child.Done() {
		panic("child aggregator incomplete")
	}

	d.Add(w.trackers[1].Report(round, quiescent[1]))
	d.Add(child.Result())
	if inject != nil {
		inject()
	}
	d.Add(w.trackers[0].Report(round, quiescent[0]))
	return d.Evaluate()
}

func allQuiet() []bool { return []bool{true, true, true, true} }

func TestDetector_CleanRoundTerminates(t *testing.T) {
	w := newTestWorld()
	w.send(1, 0, wire.TagForwardSubproblem)
	w.send(0, 3, wire.TagDeliverSubproblem)
	w.send(3, 1, wire.TagIncumbentBroadcast)

	d := NewDetector(4)
	if res := w.round(d, allQuiet(), nil); res.Verdict != VerdictPending {
		t.Fatalf("first round after traffic = %v (%s), want pending", res.Verdict, res.Reason)
	}
	if !d.WantAnotherCheck() {
		t.Error("a pending round must ask for another check")
	}

	res := w.round(d, allQuiet(), nil)
	if res.Verdict != VerdictTerminated {
		t.Fatalf("clean round = %v (%s), want terminated", res.Verdict, res.Reason)
	}
	if d.WantAnotherCheck() {
		t.Error("terminated round must not ask for another check")
	}
	if res.Report.Ranks != 4 {
		t.Errorf("Ranks = %d, want 4", res.Report.Ranks)
	}
}

func TestDetector_NoTrafficTerminatesInOneRound(t *testing.T) {
	w := newTestWorld()
	d := NewDetector(4)
	if res := w.round(d, allQuiet(), nil); res.Verdict != VerdictTerminated {
		t.Errorf("verdict = %v (%s), want terminated", res.Verdict, res.Reason)
	}
}

func TestDetector_InjectedMessageKeepsPending(t *testing.T) {
	w := newTestWorld()
	d := NewDetector(4)

	res := w.round(d, allQuiet(), func() {
		// Rank 3 already reported; it now sends work to the coordinator.
		w.trackers[3].Sent(wire.TagForwardSubproblem)
		w.trackers[0].Received(wire.TagForwardSubproblem)
		d.NoteArrival()
	})
	if res.Verdict != VerdictPending {
		t.Fatalf("verdict = %v, want pending", res.Verdict)
	}
	if !d.WantAnotherCheck() {
		t.Error("WantAnotherCheck() = false after an invalidated round")
	}

	// Rank 0 reported the receipt as dirty and rank 3's send is now
	// counted, so the next round balances.
	if res = w.round(d, allQuiet(), nil); res.Verdict != VerdictTerminated {
		t.Fatalf("next round = %v (%s), want terminated", res.Verdict, res.Reason)
	}
}

func TestDetector_InFlightMessageIsUnbalanced(t *testing.T) {
	w := newTestWorld()
	d := NewDetector(4)
	w.trackers[1].Sent(wire.TagForwardSubproblem)

	res := w.round(d, allQuiet(), nil)
	if res.Verdict != VerdictPending {
		t.Fatalf("verdict = %v, want pending", res.Verdict)
	}
	if u := res.Report.Unbalanced(); len(u) != 1 || u[0] != wire.TagForwardSubproblem.String() {
		t.Errorf("Unbalanced() = %v", u)
	}
}

func TestDetector_BusyProcess(t *testing.T) {
	w := newTestWorld()
	d := NewDetector(4)
	quiet := allQuiet()
	quiet[3] = false
	if res := w.round(d, quiet, nil); res.Verdict != VerdictPending {
		t.Errorf("verdict = %v, want pending", res.Verdict)
	}

	if d.Begin(true) != 2 {
		t.Error("drain round should be round 2")
	}
	for r, tr := range w.trackers {
		d.Add(tr.Report(d.Round(), r != 3))
	}
	if res := d.Evaluate(); res.Verdict != VerdictTerminated || res.Reason != "drained" {
		t.Errorf("drain round = %v (%s), want drained", res.Verdict, res.Reason)
	}
}

func TestDetector_StaleAndMissingReports(t *testing.T) {
	d := NewDetector(3)
	if err := d.Add(Report{Round: 1, Ranks: 1}); err == nil {
		t.Error("report without an active round should fail")
	}
	round := d.Begin(false)
	if err := d.Add(Report{Round: round + 1, Ranks: 1, Quiescent: true}); err == nil {
		t.Error("report for another round should fail")
	}
	d.Add(Report{Round: round, Ranks: 2, Quiescent: true})
	if d.Complete() {
		t.Error("2 of 3 ranks is not complete")
	}
	if res := d.Evaluate(); res.Verdict != VerdictPending {
		t.Error("an incomplete round cannot terminate")
	}
}

func TestTracker_IgnoresUncounted(t *testing.T) {
	tr := NewTracker()
	tr.Received(wire.TagLoadReport)
	tr.Sent(wire.TagQuiescencePoll)
	if tr.Dirty() {
		t.Error("control traffic must not dirty the tracker")
	}
	r := tr.Report(1, true)
	if sent, received := r.Totals(); sent != 0 || received != 0 {
		t.Errorf("Totals() = %d, %d; want 0, 0", sent, received)
	}
	tr.Received(wire.TagDeliverSubproblem)
	if !tr.Dirty() {
		t.Error("counted receipt must dirty the tracker")
	}
	tr.Report(2, true)
	if tr.Dirty() {
		t.Error("Report must clear the dirty flag")
	}
}

func TestReport_Merge(t *testing.T) {
	a := Report{Round: 3, Ranks: 1, Quiescent: true, Sent: map[string]uint64{"x": 2}, Received: map[string]uint64{"x": 1}}
	b := Report{Round: 3, Ranks: 2, Quiescent: false, Dirty: true, Sent: map[string]uint64{"y": 1}, Received: map[string]uint64{"x": 1, "y": 1}}
	m := a.Merge(b)
	if m.Ranks != 3 || m.Quiescent || !m.Dirty {
		t.Errorf("Merge() = %+v", m)
	}
	if !m.Balanced() {
		t.Errorf("merged counters should balance: %v", m.Unbalanced())
	}
	if a.Sent["y"] != 0 || len(b.Sent) != 1 {
		t.Error("Merge modified its inputs")
	}

	empty := Report{Round: 3}
	if got := empty.Merge(a); !got.Quiescent {
		t.Error("merging into an empty report must keep the other side's quiescence")
	}
}

func TestAggregator(t *testing.T) {
	a := NewAggregator(5, 2)
	if err := a.Add(Report{Round: 4, Ranks: 1}); err == nil {
		t.Error("stale report accepted")
	}
	a.Add(Report{Round: 5, Ranks: 1, Quiescent: true})
	a.Add(Report{Round: 5, Ranks: 3, Quiescent: true})
	if !a.Done() {
		t.Error("Done() = false after two reports")
	}
	if err := a.Add(Report{Round: 5, Ranks: 1}); err == nil {
		t.Error("extra report accepted")
	}
	if r := a.Result(); r.Ranks != 4 || !r.Quiescent {
		t.Errorf("Result() = %+v", r)
	}
}
