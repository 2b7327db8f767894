package load

import (
	"math"
	"testing"
	"time"

	"github.com/Iron-Ham/bnbhub/internal/problem"
)

func TestNew_Empty(t *testing.T) {
	o := New(problem.Maximize)
	if o.Count() != 0 {
		t.Errorf("Count() = %d, want 0", o.Count())
	}
	if !math.IsInf(o.AggregateBound(), -1) {
		t.Errorf("AggregateBound() = %v, want -Inf", o.AggregateBound())
	}
	if o.BusyFraction() != 0 {
		t.Errorf("BusyFraction() = %v, want 0", o.BusyFraction())
	}
}

func TestMerge(t *testing.T) {
	a := New(problem.Minimize)
	a.SetHeld(3, 10)
	a.AddBusy(3 * time.Second)
	a.CountSent(2)

	b := New(problem.Minimize)
	b.SetHeld(2, 7)
	b.AddIdle(time.Second)
	b.CountReceived(5)

	m := a.Merge(b)
	if m.Count() != 5 {
		t.Errorf("Count() = %d, want 5", m.Count())
	}
	if m.AggregateBound() != 7 {
		t.Errorf("AggregateBound() = %v, want 7", m.AggregateBound())
	}
	if m.Sent() != 2 || m.Received() != 5 {
		t.Errorf("Sent/Received = %d/%d, want 2/5", m.Sent(), m.Received())
	}
	if got := m.BusyFraction(); got != 0.75 {
		t.Errorf("BusyFraction() = %v, want 0.75", got)
	}
	if got := m.IdleFraction(); got != 0.25 {
		t.Errorf("IdleFraction() = %v, want 0.25", got)
	}

	// Operands are untouched.
	if a.Count() != 3 || b.Count() != 2 {
		t.Error("Merge must not modify its operands")
	}
}

func TestMerge_MaximizeKeepsLargestBound(t *testing.T) {
	a := New(problem.Maximize)
	a.SetHeld(1, 4)
	b := New(problem.Maximize)
	b.SetHeld(1, 9)
	merged := a.Merge(b)
	if got := merged.AggregateBound(); got != 9 {
		t.Errorf("AggregateBound() = %v, want 9", got)
	}
	mergedEmpty := a.Merge(New(problem.Maximize))
	if got := mergedEmpty.AggregateBound(); got != 4 {
		t.Errorf("merging an empty object changed the bound to %v", got)
	}
}
