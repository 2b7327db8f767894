package problem

import "fmt"

// RampUpCreator is the creator rank stamped on subproblems produced during
// ramp-up. Every process produces the same sequence, so the ids must not
// depend on the local rank.
const RampUpCreator int32 = -1

// ID identifies a subproblem globally: the creating rank plus a serial
// number local to that rank.
type ID struct {
	Creator int32
	Serial  uint64
}

// String returns "creator:serial".
func (id ID) String() string {
	return fmt.Sprintf("%d:%d", id.Creator, id.Serial)
}

// State is the lifecycle stage of a subproblem.
type State uint8

const (
	// StateCreated means the subproblem exists but has not been bounded.
	StateCreated State = iota
	// StateBounded means Bound has been computed.
	StateBounded
	// StateSeparated means children are being generated.
	StateSeparated
	// StateDead means the subproblem has been fathomed or fully branched.
	StateDead
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateBounded:
		return "bounded"
	case StateSeparated:
		return "separated"
	case StateDead:
		return "dead"
	default:
		return "unknown"
	}
}

// Valid reports whether s is one of the defined states.
func (s State) Valid() bool {
	return s <= StateDead
}

// Subproblem is one node of the search tree.
type Subproblem struct {
	ID           ID
	Bound        float64
	Depth        int
	State        State
	ChildrenLeft int
	// TokenCount is the number of this subproblem's representations held
	// only as tokens on another process.
	TokenCount int
	Payload    any
}

// Sequencer hands out subproblem ids for one creator.
type Sequencer struct {
	creator int32
	next    uint64
}

// NewSequencer creates a Sequencer for the given creator rank.
func NewSequencer(creator int32) *Sequencer {
	return &Sequencer{creator: creator}
}

// Next returns a fresh id.
func (s *Sequencer) Next() ID {
	id := ID{Creator: s.creator, Serial: s.next}
	s.next++
	return id
}

// Issued returns how many ids have been handed out.
func (s *Sequencer) Issued() uint64 {
	return s.next
}

// Resume continues numbering after serial. Used on restart so restored ids
// are never reissued.
func (s *Sequencer) Resume(serial uint64) {
	if serial >= s.next {
		s.next = serial + 1
	}
}
