// Package load provides the aggregate load statistics kept by every pool
// and process: how many items are held, the best bound among them, how the
// process spent its time, and how many messages it exchanged.
//
// An [Object] is owned and mutated by exactly one pool or process. Other
// parties only ever see copies, and combine them with [Object.Merge].
package load

import (
	"fmt"
	"time"

	"github.com/Iron-Ham/bnbhub/internal/problem"
)

// Object is the load summary for one pool or one process.
type Object struct {
	sense    problem.Sense
	count    int
	bound    float64
	busy     time.Duration
	idle     time.Duration
	sent     uint64
	received uint64
}

// New returns an empty Object for the given sense.
func New(sense problem.Sense) Object {
	return Object{sense: sense, bound: sense.Worst()}
}

// Sense returns the optimization sense the bound is measured in.
func (o *Object) Sense() problem.Sense { return o.sense }

// Count returns the number of items held.
func (o *Object) Count() int { return o.count }

// AggregateBound returns the best bound among held items, or the sense's
// worst value when nothing is held.
func (o *Object) AggregateBound() float64 { return o.bound }

// Busy returns time spent doing work.
func (o *Object) Busy() time.Duration { return o.busy }

// Idle returns time spent waiting.
func (o *Object) Idle() time.Duration { return o.idle }

// Sent returns the number of messages sent.
func (o *Object) Sent() uint64 { return o.sent }

// Received returns the number of messages received.
func (o *Object) Received() uint64 { return o.received }

// SetHeld records the current item count and aggregate bound. Pools call it
// after every insert or remove with values they maintain incrementally.
func (o *Object) SetHeld(count int, bound float64) {
	o.count = count
	o.bound = bound
}

// AddBusy accumulates working time.
func (o *Object) AddBusy(d time.Duration) { o.busy += d }

// AddIdle accumulates waiting time.
func (o *Object) AddIdle(d time.Duration) { o.idle += d }

// CountSent records n sent messages.
func (o *Object) CountSent(n uint64) { o.sent += n }

// CountReceived records n received messages.
func (o *Object) CountReceived(n uint64) { o.received += n }

// BusyFraction returns busy / (busy + idle), or 0 before any time is
// recorded.
func (o *Object) BusyFraction() float64 {
	total := o.busy + o.idle
	if total <= 0 {
		return 0
	}
	return float64(o.busy) / float64(total)
}

// IdleFraction returns idle / (busy + idle), or 0 before any time is
// recorded.
func (o *Object) IdleFraction() float64 {
	total := o.busy + o.idle
	if total <= 0 {
		return 0
	}
	return float64(o.idle) / float64(total)
}

// Merge returns the combination of o and other. Neither operand is
// modified.
func (o Object) Merge(other Object) Object {
	out := o
	out.count += other.count
	out.bound = o.sense.Best(o.bound, other.bound)
	out.busy += other.busy
	out.idle += other.idle
	out.sent += other.sent
	out.received += other.received
	return out
}

// String summarizes the object.
func (o Object) String() string {
	return fmt.Sprintf("load{count=%d bound=%g busy=%.0f%% sent=%d recv=%d}",
		o.count, o.bound, o.BusyFraction()*100, o.sent, o.received)
}
