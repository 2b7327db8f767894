package comm

import (
	"context"
	"fmt"

	"github.com/Iron-Ham/bnbhub/internal/wire"
)

// Endpoint is one rank's view of the world. It is not safe for concurrent
// use; the rank's process goroutine owns it.
type Endpoint struct {
	world *World
	rank  int
	box   *inbox
	seq   uint64

	sent     uint64
	received uint64
}

// Rank returns this endpoint's rank.
func (e *Endpoint) Rank() int {
	return e.rank
}

// Size returns the number of ranks in the world.
func (e *Endpoint) Size() int {
	return e.world.size
}

// World returns the world this endpoint belongs to.
func (e *Endpoint) World() *World {
	return e.world
}

// Send posts data to rank to on tag. It never blocks. The receiver owns
// data afterwards, so callers must not reuse it.
func (e *Endpoint) Send(to int, tag wire.Tag, data []byte) error {
	if err := e.world.send(Message{From: e.rank, To: to, Tag: tag, Data: data}); err != nil {
		return err
	}
	e.sent++
	return nil
}

// Recv blocks until a message arrives or ctx ends.
func (e *Endpoint) Recv(ctx context.Context) (Message, error) {
	for {
		if m, ok := e.box.pop(); ok {
			e.received++
			return m, nil
		}
		select {
		case <-e.box.notify:
		case <-ctx.Done():
			return Message{}, ctx.Err()
		}
	}
}

// TryRecv returns the next message without blocking.
func (e *Endpoint) TryRecv() (Message, bool) {
	m, ok := e.box.pop()
	if ok {
		e.received++
	}
	return m, ok
}

// Pending returns the number of messages waiting.
func (e *Endpoint) Pending() int {
	return e.box.len()
}

// Notify receives a value when a message may have arrived. Spurious
// wakeups are possible.
func (e *Endpoint) Notify() <-chan struct{} {
	return e.box.notify
}

// Stats returns the number of messages sent and received through this
// endpoint.
func (e *Endpoint) Stats() (sent, received uint64) {
	return e.sent, e.received
}

func (e *Endpoint) next() uint64 {
	e.seq++
	return e.seq
}

// AllReduceFloat combines v from every rank with op. All ranks must call
// collectives in the same order.
func (e *Endpoint) AllReduceFloat(ctx context.Context, v float64, op Op) (float64, error) {
	r, err := e.world.join(e.next(), e.rank, kindReduceFloat, op, 0, func(r *round) {
		r.floats[e.rank] = v
	})
	if err != nil {
		return 0, err
	}
	if err := e.world.wait(ctx, r); err != nil {
		return 0, err
	}
	return r.fResult, nil
}

// AllReduceInt combines v from every rank with op.
func (e *Endpoint) AllReduceInt(ctx context.Context, v int64, op Op) (int64, error) {
	r, err := e.world.join(e.next(), e.rank, kindReduceInt, op, 0, func(r *round) {
		r.ints[e.rank] = v
	})
	if err != nil {
		return 0, err
	}
	if err := e.world.wait(ctx, r); err != nil {
		return 0, err
	}
	return r.iResult, nil
}

// Broadcast distributes root's data to every rank. Non-root ranks pass
// nil. Each rank receives its own copy.
func (e *Endpoint) Broadcast(ctx context.Context, root int, data []byte) ([]byte, error) {
	if root < 0 || root >= e.world.size {
		return nil, fmt.Errorf("comm: broadcast root %d outside world of %d", root, e.world.size)
	}
	r, err := e.world.join(e.next(), e.rank, kindBroadcast, OpSum, root, func(r *round) {
		if e.rank == root {
			r.data = data
		}
	})
	if err != nil {
		return nil, err
	}
	if err := e.world.wait(ctx, r); err != nil {
		return nil, err
	}
	return r.broadcastResult(), nil
}

// Barrier returns once every rank has reached it.
func (e *Endpoint) Barrier(ctx context.Context) error {
	r, err := e.world.join(e.next(), e.rank, kindBarrier, OpSum, 0, func(*round) {})
	if err != nil {
		return err
	}
	return e.world.wait(ctx, r)
}

// Finalize waits until every rank has finalized or left. It does not use
// the collective sequence, so it still completes after an abort.
func (e *Endpoint) Finalize(ctx context.Context) error {
	w := e.world
	w.mu.Lock()
	w.arriveLocked(e.rank)
	w.mu.Unlock()

	select {
	case <-w.finalDone:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
