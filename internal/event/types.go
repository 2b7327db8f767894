package event

import "time"

// Event is the interface that all events must implement.
type Event interface {
	// EventType returns a string identifier for this event type.
	// Convention: "category.action" (e.g., "phase.changed", "hub.dispatched")
	EventType() string

	// Timestamp returns when the event occurred.
	Timestamp() time.Time
}

// baseEvent provides common fields for all events.
// Embed this in concrete event types to satisfy the Event interface.
type baseEvent struct {
	eventType string
	timestamp time.Time
}

func (e baseEvent) EventType() string    { return e.eventType }
func (e baseEvent) Timestamp() time.Time { return e.timestamp }

func newBaseEvent(eventType string) baseEvent {
	return baseEvent{
		eventType: eventType,
		timestamp: time.Now(),
	}
}

// Event type identifiers.
const (
	TypePhaseChanged       = "phase.changed"
	TypeRampUpFinished     = "rampup.finished"
	TypeIncumbentImproved  = "incumbent.improved"
	TypeWorkProgress       = "work.progress"
	TypeHubDispatched      = "hub.dispatched"
	TypeHubForwarded       = "hub.forwarded"
	TypeTerminationRound   = "termination.round"
	TypeCheckpointWritten  = "checkpoint.written"
	TypeCheckpointRestored = "checkpoint.restored"
	TypeBufferRescaled     = "buffer.rescaled"
	TypeRunAborted         = "run.aborted"
	TypeRunFinished        = "run.finished"
)

// -----------------------------------------------------------------------------
// Lifecycle Events
// -----------------------------------------------------------------------------

// PhaseChangedEvent is emitted when a process moves between engine phases.
type PhaseChangedEvent struct {
	baseEvent
	Rank int
	From string
	To   string
}

// NewPhaseChangedEvent creates a PhaseChangedEvent.
func NewPhaseChangedEvent(rank int, from, to string) PhaseChangedEvent {
	return PhaseChangedEvent{
		baseEvent: newBaseEvent(TypePhaseChanged),
		Rank:      rank,
		From:      from,
		To:        to,
	}
}

// RampUpFinishedEvent is emitted by each process after crossover.
type RampUpFinishedEvent struct {
	baseEvent
	Rank       int
	Created    int  // subproblems created during ramp-up
	PoolSize   int  // ramp-up pool size before crossover
	Kept       int  // items this process kept
	SkipFactor int  // crossover skip factor
	Exhausted  bool // the tree was fully explored during ramp-up
}

// NewRampUpFinishedEvent creates a RampUpFinishedEvent.
func NewRampUpFinishedEvent(rank, created, poolSize, kept, skip int, exhausted bool) RampUpFinishedEvent {
	return RampUpFinishedEvent{
		baseEvent:  newBaseEvent(TypeRampUpFinished),
		Rank:       rank,
		Created:    created,
		PoolSize:   poolSize,
		Kept:       kept,
		SkipFactor: skip,
		Exhausted:  exhausted,
	}
}

// RunAbortedEvent is emitted when a process starts the abort path.
type RunAbortedEvent struct {
	baseEvent
	Rank   int
	Reason string
}

// NewRunAbortedEvent creates a RunAbortedEvent.
func NewRunAbortedEvent(rank int, reason string) RunAbortedEvent {
	return RunAbortedEvent{
		baseEvent: newBaseEvent(TypeRunAborted),
		Rank:      rank,
		Reason:    reason,
	}
}

// RunFinishedEvent is emitted once per run by the coordinator.
type RunFinishedEvent struct {
	baseEvent
	Incumbent  float64
	HasValue   bool
	Terminated bool // false when the run was aborted
	Elapsed    time.Duration
}

// NewRunFinishedEvent creates a RunFinishedEvent.
func NewRunFinishedEvent(incumbent float64, hasValue, terminated bool, elapsed time.Duration) RunFinishedEvent {
	return RunFinishedEvent{
		baseEvent:  newBaseEvent(TypeRunFinished),
		Incumbent:  incumbent,
		HasValue:   hasValue,
		Terminated: terminated,
		Elapsed:    elapsed,
	}
}

// -----------------------------------------------------------------------------
// Search Events
// -----------------------------------------------------------------------------

// IncumbentImprovedEvent is emitted when a process adopts a better incumbent.
type IncumbentImprovedEvent struct {
	baseEvent
	Rank       int
	Value      float64
	Source     int
	Generation uint64
	Local      bool // found by this process rather than received
}

// NewIncumbentImprovedEvent creates an IncumbentImprovedEvent.
func NewIncumbentImprovedEvent(rank int, value float64, source int, generation uint64, local bool) IncumbentImprovedEvent {
	return IncumbentImprovedEvent{
		baseEvent:  newBaseEvent(TypeIncumbentImproved),
		Rank:       rank,
		Value:      value,
		Source:     source,
		Generation: generation,
		Local:      local,
	}
}

// WorkProgressEvent carries a worker's counters accumulated since its
// previous progress event.
type WorkProgressEvent struct {
	baseEvent
	Rank     int
	Bounded  int
	Branched int
	Fathomed int
	Released int
	Pending  int // current pool size
}

// NewWorkProgressEvent creates a WorkProgressEvent.
func NewWorkProgressEvent(rank, bounded, branched, fathomed, released, pending int) WorkProgressEvent {
	return WorkProgressEvent{
		baseEvent: newBaseEvent(TypeWorkProgress),
		Rank:      rank,
		Bounded:   bounded,
		Branched:  branched,
		Fathomed:  fathomed,
		Released:  released,
		Pending:   pending,
	}
}

// -----------------------------------------------------------------------------
// Hub Events
// -----------------------------------------------------------------------------

// HubDispatchedEvent is emitted when a hub sends work to one of its workers.
type HubDispatchedEvent struct {
	baseEvent
	Hub    int
	Worker int
	Count  int
}

// NewHubDispatchedEvent creates a HubDispatchedEvent.
func NewHubDispatchedEvent(hub, worker, count int) HubDispatchedEvent {
	return HubDispatchedEvent{
		baseEvent: newBaseEvent(TypeHubDispatched),
		Hub:       hub,
		Worker:    worker,
		Count:     count,
	}
}

// HubForwardedEvent is emitted when a hub forwards surplus to a peer hub.
type HubForwardedEvent struct {
	baseEvent
	Hub     int
	PeerHub int
	Count   int
}

// NewHubForwardedEvent creates a HubForwardedEvent.
func NewHubForwardedEvent(hub, peer, count int) HubForwardedEvent {
	return HubForwardedEvent{
		baseEvent: newBaseEvent(TypeHubForwarded),
		Hub:       hub,
		PeerHub:   peer,
		Count:     count,
	}
}

// -----------------------------------------------------------------------------
// Coordination Events
// -----------------------------------------------------------------------------

// TerminationRoundEvent is emitted by the coordinator after each check round.
type TerminationRoundEvent struct {
	baseEvent
	Round     uint64
	Verdict   string
	Quiescent bool
	Dirty     bool
	Sent      uint64
	Received  uint64
	ForDrain  bool // round run to drain for a checkpoint
}

// NewTerminationRoundEvent creates a TerminationRoundEvent.
func NewTerminationRoundEvent(round uint64, verdict string, quiescent, dirty bool, sent, received uint64, forDrain bool) TerminationRoundEvent {
	return TerminationRoundEvent{
		baseEvent: newBaseEvent(TypeTerminationRound),
		Round:     round,
		Verdict:   verdict,
		Quiescent: quiescent,
		Dirty:     dirty,
		Sent:      sent,
		Received:  received,
		ForDrain:  forDrain,
	}
}

// CheckpointWrittenEvent is emitted by each process after writing its file.
type CheckpointWrittenEvent struct {
	baseEvent
	Rank  int
	Epoch uint64
	Path  string
	Items int
	Bytes int
}

// NewCheckpointWrittenEvent creates a CheckpointWrittenEvent.
func NewCheckpointWrittenEvent(rank int, epoch uint64, path string, items, size int) CheckpointWrittenEvent {
	return CheckpointWrittenEvent{
		baseEvent: newBaseEvent(TypeCheckpointWritten),
		Rank:      rank,
		Epoch:     epoch,
		Path:      path,
		Items:     items,
		Bytes:     size,
	}
}

// CheckpointRestoredEvent is emitted by each process at startup when a
// restart was requested, whether or not the restore succeeded.
type CheckpointRestoredEvent struct {
	baseEvent
	Rank     int
	Epoch    uint64
	Restored bool
	Reason   string // why the run fell back to ramp-up
}

// NewCheckpointRestoredEvent creates a CheckpointRestoredEvent.
func NewCheckpointRestoredEvent(rank int, epoch uint64, restored bool, reason string) CheckpointRestoredEvent {
	return CheckpointRestoredEvent{
		baseEvent: newBaseEvent(TypeCheckpointRestored),
		Rank:      rank,
		Epoch:     epoch,
		Restored:  restored,
		Reason:    reason,
	}
}

// BufferRescaledEvent is emitted when a transfer buffer has to grow.
type BufferRescaledEvent struct {
	baseEvent
	Rank int
	From int
	To   int
}

// NewBufferRescaledEvent creates a BufferRescaledEvent.
func NewBufferRescaledEvent(rank, from, to int) BufferRescaledEvent {
	return BufferRescaledEvent{
		baseEvent: newBaseEvent(TypeBufferRescaled),
		Rank:      rank,
		From:      from,
		To:        to,
	}
}
