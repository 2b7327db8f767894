package termination

import (
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/Iron-Ham/bnbhub/internal/wire"
)

// Tracker counts one process's work-bearing messages. Uncounted tags are
// ignored.
type Tracker struct {
	sent     map[wire.Tag]uint64
	received map[wire.Tag]uint64
	dirty    bool
}

// NewTracker creates an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{
		sent:     make(map[wire.Tag]uint64),
		received: make(map[wire.Tag]uint64),
	}
}

// Sent records an outgoing message.
func (t *Tracker) Sent(tag wire.Tag) {
	if tag.Counted() {
		t.sent[tag]++
	}
}

// Received records an incoming message and marks the tracker dirty.
func (t *Tracker) Received(tag wire.Tag) {
	if tag.Counted() {
		t.received[tag]++
		t.dirty = true
	}
}

// Dirty reports whether a counted message arrived since the last report.
func (t *Tracker) Dirty() bool {
	return t.dirty
}

// Report snapshots the counters for round and clears the dirty flag.
func (t *Tracker) Report(round uint64, quiescent bool) Report {
	r := Report{
		Round:     round,
		Ranks:     1,
		Quiescent: quiescent,
		Dirty:     t.dirty,
		Sent:      make(map[string]uint64, len(t.sent)),
		Received:  make(map[string]uint64, len(t.received)),
	}
	for tag, n := range t.sent {
		r.Sent[tag.String()] = n
	}
	for tag, n := range t.received {
		r.Received[tag.String()] = n
	}
	t.dirty = false
	return r
}

// Report is one process's, or one subtree's, answer to a termination poll.
type Report struct {
	Round     uint64            `json:"round"`
	Ranks     int               `json:"ranks"`
	Quiescent bool              `json:"quiescent"`
	Dirty     bool              `json:"dirty"`
	Sent      map[string]uint64 `json:"sent"`
	Received  map[string]uint64 `json:"received"`
}

// Merge combines two reports of the same round: quiescence is ANDed, dirty
// ORed and counters summed. Neither input is modified.
func (r Report) Merge(o Report) Report {
	out := Report{
		Round:     max(r.Round, o.Round),
		Ranks:     r.Ranks + o.Ranks,
		Quiescent: r.Quiescent && o.Quiescent,
		Dirty:     r.Dirty || o.Dirty,
		Sent:      make(map[string]uint64, len(r.Sent)),
		Received:  make(map[string]uint64, len(r.Received)),
	}
	if r.Ranks == 0 {
		out.Quiescent = o.Quiescent
	} else if o.Ranks == 0 {
		out.Quiescent = r.Quiescent
	}
	for _, m := range []map[string]uint64{r.Sent, o.Sent} {
		for k, v := range m {
			out.Sent[k] += v
		}
	}
	for _, m := range []map[string]uint64{r.Received, o.Received} {
		for k, v := range m {
			out.Received[k] += v
		}
	}
	return out
}

// Unbalanced returns the channels whose sent and received counts differ,
// sorted.
func (r Report) Unbalanced() []string {
	keys := make(map[string]struct{})
	for k := range r.Sent {
		keys[k] = struct{}{}
	}
	for k := range r.Received {
		keys[k] = struct{}{}
	}
	var out []string
	for _, k := range slices.Sorted(maps.Keys(keys)) {
		if r.Sent[k] != r.Received[k] {
			out = append(out, k)
		}
	}
	return out
}

// Balanced reports whether every channel's counters balance.
func (r Report) Balanced() bool {
	return len(r.Unbalanced()) == 0
}

// Totals returns the summed sent and received counters.
func (r Report) Totals() (sent, received uint64) {
	for _, v := range r.Sent {
		sent += v
	}
	for _, v := range r.Received {
		received += v
	}
	return sent, received
}

// String summarizes the report for logs.
func (r Report) String() string {
	sent, received := r.Totals()
	var b strings.Builder
	fmt.Fprintf(&b, "round=%d ranks=%d quiescent=%v dirty=%v sent=%d received=%d",
		r.Round, r.Ranks, r.Quiescent, r.Dirty, sent, received)
	if u := r.Unbalanced(); len(u) > 0 {
		fmt.Fprintf(&b, " unbalanced=%s", strings.Join(u, ","))
	}
	return b.String()
}

// Aggregator collects the reports of one subtree for one round.
type Aggregator struct {
	round    uint64
	expected int
	got      int
	acc      Report
}

// NewAggregator expects the given number of reports for round.
func NewAggregator(round uint64, expected int) *Aggregator {
	return &Aggregator{round: round, expected: expected, acc: Report{Round: round}}
}

// Round returns the round being collected.
func (a *Aggregator) Round() uint64 {
	return a.round
}

// Add merges r. Reports for another round are stale and rejected.
func (a *Aggregator) Add(r Report) error {
	if r.Round != a.round {
		return fmt.Errorf("report for round %d while collecting round %d", r.Round, a.round)
	}
	if a.got >= a.expected {
		return fmt.Errorf("round %d: more than %d reports", a.round, a.expected)
	}
	a.acc = a.acc.Merge(r)
	a.got++
	return nil
}

// Done reports whether every expected report has arrived.
func (a *Aggregator) Done() bool {
	return a.got >= a.expected
}

// Result returns the merged report.
func (a *Aggregator) Result() Report {
	return a.acc
}
