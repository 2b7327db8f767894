package comm

import (
	"bytes"
	"context"
	"fmt"
	"math"
	"sync"

	"github.com/Iron-Ham/bnbhub/internal/errors"
	"github.com/Iron-Ham/bnbhub/internal/wire"
)

// Message is one point-to-point message.
type Message struct {
	From int
	To   int
	Tag  wire.Tag
	Data []byte
}

// Op is a reduction operator.
type Op int

const (
	OpSum Op = iota
	OpMin
	OpMax
)

// String returns the operator name.
func (o Op) String() string {
	switch o {
	case OpSum:
		return "sum"
	case OpMin:
		return "min"
	case OpMax:
		return "max"
	default:
		return "unknown"
	}
}

type collectiveKind string

const (
	kindReduceFloat collectiveKind = "allreduce-float"
	kindReduceInt   collectiveKind = "allreduce-int"
	kindBroadcast   collectiveKind = "broadcast"
	kindBarrier     collectiveKind = "barrier"
)

// round is one collective operation in progress. Every rank joins the
// round with the same sequence number.
type round struct {
	kind    collectiveKind
	op      Op
	root    int
	floats  []float64
	ints    []int64
	data    []byte
	joined  int
	done    chan struct{}
	fResult float64
	iResult int64
	err     error
}

// World is a set of ranks exchanging messages in one address space. Ranks
// share nothing but the World itself: every exchange is a message or a
// collective.
type World struct {
	size    int
	inboxes []*inbox

	mu     sync.Mutex
	rounds map[uint64]*round

	finalized []bool
	left      []bool
	arrived   int
	finalDone chan struct{}

	abortOnce sync.Once
	abortErr  error
	aborted   chan struct{}
}

// NewWorld creates a world of size ranks.
func NewWorld(size int) (*World, error) {
	if size < 1 {
		return nil, fmt.Errorf("comm: world size must be at least 1, got %d", size)
	}
	w := &World{
		size:      size,
		inboxes:   make([]*inbox, size),
		rounds:    make(map[uint64]*round),
		finalized: make([]bool, size),
		left:      make([]bool, size),
		finalDone: make(chan struct{}),
		aborted:   make(chan struct{}),
	}
	for i := range w.inboxes {
		w.inboxes[i] = newInbox()
	}
	return w, nil
}

// Size returns the number of ranks.
func (w *World) Size() int {
	return w.size
}

// Endpoint returns the handle rank uses to communicate. Each rank must use
// exactly one endpoint from exactly one goroutine.
func (w *World) Endpoint(rank int) *Endpoint {
	if rank < 0 || rank >= w.size {
		panic(fmt.Sprintf("comm: rank %d outside world of %d", rank, w.size))
	}
	return &Endpoint{world: w, rank: rank, box: w.inboxes[rank]}
}

// Abort fails every pending and future collective with err. Point-to-point
// messaging keeps working so the abort itself can be propagated.
func (w *World) Abort(err error) {
	w.abortOnce.Do(func() {
		if err == nil {
			err = errors.ErrWorldAborted
		}
		w.mu.Lock()
		w.abortErr = err
		w.mu.Unlock()
		close(w.aborted)
	})
}

// Aborted is closed once Abort has been called.
func (w *World) Aborted() <-chan struct{} {
	return w.aborted
}

// Err returns the abort cause, or nil.
func (w *World) Err() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.abortErr
}

// Leave records that rank has stopped for good. It counts as having
// reached Finalize and aborts the world, since collectives can no longer
// complete.
func (w *World) Leave(rank int, cause error) {
	w.mu.Lock()
	if !w.left[rank] {
		w.left[rank] = true
		w.arriveLocked(rank)
	}
	w.mu.Unlock()
	w.Abort(errors.Wrapf(errors.ErrWorldAborted, "rank %d left: %v", rank, cause))
}

func (w *World) arriveLocked(rank int) {
	if w.finalized[rank] {
		return
	}
	w.finalized[rank] = true
	w.arrived++
	if w.arrived == w.size {
		close(w.finalDone)
	}
}

func (w *World) send(m Message) error {
	if m.To < 0 || m.To >= w.size {
		return fmt.Errorf("comm: send to rank %d outside world of %d", m.To, w.size)
	}
	if !m.Tag.Valid() {
		return fmt.Errorf("comm: send on invalid tag %d", m.Tag)
	}
	w.inboxes[m.To].push(m)
	return nil
}

// join adds rank's contribution to collective seq and returns the round.
func (w *World) join(seq uint64, rank int, kind collectiveKind, op Op, root int, contribute func(*round)) (*round, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.abortErr != nil {
		return nil, w.abortErr
	}
	r, ok := w.rounds[seq]
	if !ok {
		r = &round{
			kind:   kind,
			op:     op,
			root:   root,
			floats: make([]float64, w.size),
			ints:   make([]int64, w.size),
			done:   make(chan struct{}),
		}
		w.rounds[seq] = r
	}
	if r.kind != kind || r.op != op || r.root != root {
		err := errors.NewProtocolError(
			fmt.Sprintf("collective %d: rank %d called %s/%s/root=%d, round is %s/%s/root=%d",
				seq, rank, kind, op, root, r.kind, r.op, r.root),
			errors.ErrUnexpectedMessage).WithRank(rank).WithTag("collective")
		return nil, err
	}
	contribute(r)
	r.joined++
	if r.joined == w.size {
		r.finish()
		delete(w.rounds, seq)
		close(r.done)
	}
	return r, nil
}

func (r *round) finish() {
	switch r.kind {
	case kindReduceFloat:
		r.fResult = r.floats[0]
		for _, v := range r.floats[1:] {
			r.fResult = reduceFloat(r.op, r.fResult, v)
		}
	case kindReduceInt:
		r.iResult = r.ints[0]
		for _, v := range r.ints[1:] {
			r.iResult = reduceInt(r.op, r.iResult, v)
		}
	}
}

func reduceFloat(op Op, a, b float64) float64 {
	switch op {
	case OpMin:
		return math.Min(a, b)
	case OpMax:
		return math.Max(a, b)
	default:
		return a + b
	}
}

func reduceInt(op Op, a, b int64) int64 {
	switch op {
	case OpMin:
		return min(a, b)
	case OpMax:
		return max(a, b)
	default:
		return a + b
	}
}

// wait blocks until r completes, the world aborts or ctx ends.
func (w *World) wait(ctx context.Context, r *round) error {
	select {
	case <-r.done:
		return r.err
	default:
	}
	select {
	case <-r.done:
		return r.err
	case <-w.aborted:
		select {
		case <-r.done:
			return r.err
		default:
		}
		return w.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// broadcastResult returns the root's data for one receiver.
func (r *round) broadcastResult() []byte {
	return bytes.Clone(r.data)
}
