package problem

import (
	"fmt"
	"math"
	"strings"
)

// Sense is the optimization direction.
type Sense int

const (
	// Minimize prefers smaller objective values.
	Minimize Sense = iota
	// Maximize prefers larger objective values.
	Maximize
)

// String returns the string representation of the sense.
func (s Sense) String() string {
	switch s {
	case Minimize:
		return "minimize"
	case Maximize:
		return "maximize"
	default:
		return "unknown"
	}
}

// ParseSense converts "min"/"minimize"/"max"/"maximize" to a Sense.
func ParseSense(s string) (Sense, error) {
	switch strings.ToLower(s) {
	case "min", "minimize":
		return Minimize, nil
	case "max", "maximize":
		return Maximize, nil
	default:
		return Minimize, fmt.Errorf("unknown optimization sense %q", s)
	}
}

// Better reports whether a is strictly better than b.
func (s Sense) Better(a, b float64) bool {
	if s == Maximize {
		return a > b
	}
	return a < b
}

// Best returns the better of a and b. Ties return a.
func (s Sense) Best(a, b float64) float64 {
	if s.Better(b, a) {
		return b
	}
	return a
}

// Worst is the identity for Best: the worst possible value.
func (s Sense) Worst() float64 {
	if s == Maximize {
		return math.Inf(-1)
	}
	return math.Inf(1)
}

// CanImprove reports whether a subproblem with the given bound may still
// contain a solution strictly better than incumbent.
func (s Sense) CanImprove(bound, incumbent float64) bool {
	return s.Better(bound, incumbent)
}
