package wire

import (
	"fmt"
	"math"

	"github.com/sugawarayuuta/sonnet"

	"github.com/Iron-Ham/bnbhub/internal/errors"
	"github.com/Iron-Ham/bnbhub/internal/problem"
)

// Marshal encodes a control message.
func Marshal(v any) ([]byte, error) {
	data, err := sonnet.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode %T: %w", v, err)
	}
	return data, nil
}

// Unmarshal decodes a control message. Malformed input is a protocol
// error.
func Unmarshal(data []byte, v any) error {
	if err := sonnet.Unmarshal(data, v); err != nil {
		return errors.NewProtocolError(fmt.Sprintf("decode %T: %v", v, err), errors.ErrCorruptHeader)
	}
	return nil
}

// LoadScope says what a load report summarizes.
type LoadScope string

const (
	// ScopeWorker is one worker's pool reported to its hub.
	ScopeWorker LoadScope = "worker"
	// ScopeCluster is a hub's cluster total reported to peer hubs.
	ScopeCluster LoadScope = "cluster"
)

// LoadReport is a pushed load summary.
type LoadReport struct {
	Scope LoadScope `json:"scope"`
	Count int       `json:"count"`
	// Bound is the aggregate bound. It is meaningless when Count is 0 and
	// is then sent as 0, since JSON cannot carry infinities.
	Bound float64 `json:"bound"`
	// Delivered is the cumulative number of deliveries the worker has
	// received. Hubs reconcile their dispatch estimates against it.
	Delivered uint64 `json:"delivered"`
	Busy      int64  `json:"busy_ns"`
	Idle      int64  `json:"idle_ns"`
	Sent      uint64 `json:"sent"`
	Received  uint64 `json:"received"`
}

// NewLoadReport builds a report, dropping an infinite bound.
func NewLoadReport(scope LoadScope, count int, bound float64) LoadReport {
	if count == 0 || math.IsInf(bound, 0) || math.IsNaN(bound) {
		bound = 0
	}
	return LoadReport{Scope: scope, Count: count, Bound: bound}
}

// BoundUnder returns the reported bound, or the sense's worst value when
// nothing is held.
func (r LoadReport) BoundUnder(sense problem.Sense) float64 {
	if r.Count == 0 {
		return sense.Worst()
	}
	return r.Bound
}

// HubOp is a hub-to-hub request.
type HubOp string

const (
	// HubRequestWork asks a peer hub for up to Count tokens.
	HubRequestWork HubOp = "request"
	// HubDecline answers a request the peer cannot serve.
	HubDecline HubOp = "decline"
)

// HubControl is a message on the hub control channel.
type HubControl struct {
	Op    HubOp `json:"op"`
	Count int   `json:"count,omitempty"`
}

// WorkerOp is a hub instruction to a worker.
type WorkerOp string

const (
	// WorkerRelease asks a token owner to deliver the subproblem to Target.
	WorkerRelease WorkerOp = "release"
	// WorkerDiscard tells a token owner the subproblem was pruned.
	WorkerDiscard WorkerOp = "discard"
	// WorkerDonate asks a worker to release up to Count items to its hub.
	WorkerDonate WorkerOp = "donate"
)

// WorkerControl is a message on the worker control channel.
type WorkerControl struct {
	Op     WorkerOp   `json:"op"`
	ID     problem.ID `json:"id"`
	Target int        `json:"target,omitempty"`
	Count  int        `json:"count,omitempty"`
}

// Poll asks for a termination report for Round. Drain rounds are run
// while paused for a checkpoint and do not require quiescence.
type Poll struct {
	Round uint64 `json:"round"`
	Drain bool   `json:"drain,omitempty"`
}

// Solution carries an improving solution to the I/O process.
type Solution struct {
	Value   float64    `json:"value"`
	Source  int        `json:"source"`
	ID      problem.ID `json:"id"`
	Payload []byte     `json:"payload"`
}

// CheckpointOp is a step of the checkpoint protocol.
type CheckpointOp string

const (
	// CheckpointPause stops search work and hub dispatch.
	CheckpointPause CheckpointOp = "pause"
	// CheckpointWrite writes the rank's file.
	CheckpointWrite CheckpointOp = "write"
	// CheckpointWritten acknowledges a write up the tree.
	CheckpointWritten CheckpointOp = "written"
	// CheckpointResume restarts search work.
	CheckpointResume CheckpointOp = "resume"
)

// CheckpointControl is a message on the checkpoint channel.
type CheckpointControl struct {
	Op    CheckpointOp `json:"op"`
	Epoch uint64       `json:"epoch"`
	// Acks counts the ranks covered by a Written acknowledgement.
	Acks int `json:"acks,omitempty"`
	// Failed counts ranks whose write failed.
	Failed int `json:"failed,omitempty"`
}

// AbortNotice carries the reason for an abort.
type AbortNotice struct {
	Reason string `json:"reason"`
	Origin int    `json:"origin"`
}
