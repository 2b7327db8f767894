package problem

// Application supplies the search-domain logic for one problem type. The
// engine creates one Application per process; implementations need not be
// safe for concurrent use.
type Application interface {
	// Sense returns the optimization direction.
	Sense() Sense

	// MarshalProblem serializes the problem instance on the I/O process so
	// it can be broadcast at startup.
	MarshalProblem() ([]byte, error)

	// UnmarshalProblem installs a problem instance received at startup.
	UnmarshalProblem(data []byte) error

	// MaxPackedSize is the largest payload Pack will produce, in bytes.
	MaxPackedSize() int

	// Root returns the payload of the root subproblem.
	Root() (any, error)

	// Bound computes sp.Bound. It must be deterministic.
	Bound(sp *Subproblem) error

	// Children returns how many children a bounded subproblem splits into.
	// Zero means sp is a leaf.
	Children(sp *Subproblem) int

	// Branch returns the payload of child number child of sp.
	Branch(sp *Subproblem, child int) (any, error)

	// Solution returns the objective value of a feasible solution
	// represented by a bounded subproblem, if it has one.
	Solution(sp *Subproblem) (float64, bool)

	// Pack appends the payload of sp to buf.
	Pack(sp *Subproblem, buf []byte) ([]byte, error)

	// Unpack decodes a payload produced by Pack.
	Unpack(data []byte) (any, error)
}

// Checkpointer is implemented by applications that carry global state
// beyond subproblem payloads.
type Checkpointer interface {
	// CheckpointWrite returns the application's state for this process.
	CheckpointWrite() ([]byte, error)
	// CheckpointRead restores state written by CheckpointWrite.
	CheckpointRead(data []byte) error
	// MergeGlobalData merges the coordinator's state on restart.
	MergeGlobalData(data []byte) error
}

// Factory builds the Application instance for one rank. Rank 0 is the I/O
// process and must return an instance with its problem already loaded.
type Factory func(rank int) (Application, error)
