package scatter

// Action is what a worker does with a freshly created child.
type Action string

const (
	// ActionKeep inserts the child into the worker's own pool.
	ActionKeep Action = "keep"

	// ActionReleaseToHub releases the child to the worker's own hub.
	ActionReleaseToHub Action = "release_hub"

	// ActionReleaseToPeerHub releases the child toward another cluster's hub.
	ActionReleaseToPeerHub Action = "release_peer_hub"
)

// String returns the string representation of the action.
func (a Action) String() string {
	return string(a)
}

// Decision is the result of evaluating the scatter policy for one child.
type Decision struct {
	// Action is the chosen action.
	Action Action

	// Probability is the release probability in effect for the decision.
	Probability float64

	// PeerCluster is the destination cluster for ActionReleaseToPeerHub.
	PeerCluster int
}

// Rand is the randomness a decision draws from. *math/rand/v2.Rand
// implements it.
type Rand interface {
	Float64() float64
	IntN(n int) int
}
