package wire

import "fmt"

// Tag names the logical channel a message travels on.
type Tag uint8

const (
	// TagForwardSubproblem carries released work toward a hub: a token
	// record or a full subproblem.
	TagForwardSubproblem Tag = iota + 1
	// TagDeliverSubproblem carries a full subproblem to the worker that
	// will process it.
	TagDeliverSubproblem
	// TagHubControl carries requests addressed to a hub's balancer.
	TagHubControl
	// TagWorkerControl carries hub instructions to a worker: release or
	// discard a token, donate work.
	TagWorkerControl
	// TagQuiescencePoll asks for a termination report.
	TagQuiescencePoll
	// TagTerminationCheck carries termination reports up the tree.
	TagTerminationCheck
	// TagIncumbentBroadcast carries incumbent improvements.
	TagIncumbentBroadcast
	// TagSolutionOutput carries improving solutions to the I/O process.
	TagSolutionOutput
	// TagLoadReport carries pushed load summaries to hubs.
	TagLoadReport
	// TagCheckpoint carries checkpoint coordination.
	TagCheckpoint
	// TagShutdown tells a process the run is over.
	TagShutdown
	// TagAbort tells a process to abort.
	TagAbort

	tagLimit
)

var tagNames = map[Tag]string{
	TagForwardSubproblem:  "forwardSubproblem",
	TagDeliverSubproblem:  "deliverSubproblem",
	TagHubControl:         "hubControl",
	TagWorkerControl:      "workerControl",
	TagQuiescencePoll:     "quiescencePoll",
	TagTerminationCheck:   "terminationCheck",
	TagIncumbentBroadcast: "incumbentBroadcast",
	TagSolutionOutput:     "solutionOutput",
	TagLoadReport:         "loadReport",
	TagCheckpoint:         "checkpoint",
	TagShutdown:           "shutdown",
	TagAbort:              "abort",
}

// String returns the channel name.
func (t Tag) String() string {
	if name, ok := tagNames[t]; ok {
		return name
	}
	return fmt.Sprintf("tag(%d)", uint8(t))
}

// Valid reports whether t is a defined channel.
func (t Tag) Valid() bool {
	return t > 0 && t < tagLimit
}

// Counted reports whether messages on t carry or create work and are
// therefore balanced by termination detection.
func (t Tag) Counted() bool {
	switch t {
	case TagForwardSubproblem, TagDeliverSubproblem, TagHubControl,
		TagWorkerControl, TagIncumbentBroadcast, TagSolutionOutput:
		return true
	default:
		return false
	}
}

// CountedTags lists the counted channels in a fixed order.
func CountedTags() []Tag {
	return []Tag{
		TagForwardSubproblem,
		TagDeliverSubproblem,
		TagHubControl,
		TagWorkerControl,
		TagIncumbentBroadcast,
		TagSolutionOutput,
	}
}
