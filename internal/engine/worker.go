package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/Iron-Ham/bnbhub/internal/comm"
	"github.com/Iron-Ham/bnbhub/internal/errors"
	"github.com/Iron-Ham/bnbhub/internal/event"
	"github.com/Iron-Ham/bnbhub/internal/incumbent"
	"github.com/Iron-Ham/bnbhub/internal/problem"
	"github.com/Iron-Ham/bnbhub/internal/scatter"
	"github.com/Iron-Ham/bnbhub/internal/wire"
)

// reportState remembers the last load report sent to the hub.
type reportState struct {
	sent      bool
	count     int
	delivered uint64
	at        time.Time
}

func (p *process) searchReady() bool {
	return !p.paused && !p.pool.Empty()
}

// searchStep takes the best subproblem from the pool and branches it.
func (p *process) searchStep(context.Context) error {
	h, _ := p.pool.Remove()
	sp, ok := p.arena.Take(h)
	if !ok {
		return fmt.Errorf("pool holds a freed subproblem")
	}
	if !p.inc.CanImprove(sp.Bound) {
		p.stats.Fathomed++
		return nil
	}
	_, err := p.branch(&sp, p.seq, p.place)
	return err
}

// evaluate bounds sp and offers it as a solution.
func (p *process) evaluate(sp *problem.Subproblem) error {
	if err := p.app.Bound(sp); err != nil {
		return appError("bound", sp.ID, err)
	}
	sp.State = problem.StateBounded
	p.stats.Bounded++
	if v, ok := p.app.Solution(sp); ok {
		return p.offer(sp, v)
	}
	return nil
}

// branch separates sp and hands every child that may still improve the
// incumbent to emit. It returns the number of children created.
func (p *process) branch(sp *problem.Subproblem, seq *problem.Sequencer, emit func(child problem.Subproblem, index int) error) (int, error) {
	n := p.app.Children(sp)
	if n == 0 {
		sp.State = problem.StateDead
		p.stats.Fathomed++
		return 0, nil
	}
	sp.State = problem.StateSeparated
	sp.ChildrenLeft = n
	p.stats.Branched++
	for i := 0; i < n; i++ {
		payload, err := p.app.Branch(sp, i)
		if err != nil {
			return i, appError("branch", sp.ID, err)
		}
		sp.ChildrenLeft--
		child := problem.Subproblem{ID: seq.Next(), Depth: sp.Depth + 1, Payload: payload}
		if err := p.evaluate(&child); err != nil {
			return i + 1, err
		}
		if !p.inc.CanImprove(child.Bound) {
			p.stats.Fathomed++
			continue
		}
		if err := emit(child, i); err != nil {
			return i + 1, err
		}
	}
	sp.State = problem.StateDead
	return n, nil
}

// place keeps a child or releases it according to the scatter policy.
func (p *process) place(child problem.Subproblem, index int) error {
	d := p.policy.Decide(p.pool.Size(), p.cluster, p.topo.Clusters(), p.rng)
	switch d.Action {
	case scatter.ActionReleaseToHub:
		return p.release(child, index, p.hubRank)
	case scatter.ActionReleaseToPeerHub:
		return p.release(child, index, p.topo.LeaderOf(d.PeerCluster))
	default:
		p.keep(child)
		return nil
	}
}

func (p *process) keep(sp problem.Subproblem) {
	p.pool.Insert(p.arena.Alloc(sp), sp.Bound)
}

func (p *process) release(sp problem.Subproblem, index, to int) error {
	return p.releaseHandle(p.arena.Alloc(sp), index, to)
}

// releaseHandle hands a resident subproblem to hub to. In token mode the
// subproblem stays here and only its token travels.
func (p *process) releaseHandle(h problem.Handle, index, to int) error {
	p.stats.Released++
	if p.settings.Release == ReleaseEager {
		sp, ok := p.arena.Take(h)
		if !ok {
			return fmt.Errorf("release of a freed subproblem")
		}
		data, err := p.codec.EncodeSubproblem(&sp)
		if err != nil {
			return err
		}
		return p.send(to, wire.TagForwardSubproblem, data)
	}

	sp := p.arena.MustGet(h)
	sp.TokenCount = 1
	p.tokens[sp.ID] = h
	tok := problem.Token{
		ID:          sp.ID,
		Owner:       p.rank,
		ChildIndex:  index,
		Represented: 1,
		Bound:       sp.Bound,
	}
	return p.send(to, wire.TagForwardSubproblem, wire.EncodeToken(tok))
}

// offer records a solution value found on this rank. Improvements are
// broadcast and the solution itself goes to rank 0.
func (p *process) offer(sp *problem.Subproblem, value float64) error {
	if !p.inc.Offer(value, p.rank) {
		return nil
	}
	u := p.inc.Current()
	p.bus.Publish(event.NewIncumbentImprovedEvent(p.rank, u.Value, u.Source, u.Generation, true))

	rampUp := p.phase == phaseRampUp
	if rampUp && p.rank != 0 {
		// Ramp-up is replicated; rank 0 keeps the solution for everyone.
		return nil
	}
	payload, err := p.app.Pack(sp, nil)
	if err != nil {
		return appError("pack solution", sp.ID, err)
	}
	sol := wire.Solution{Value: value, Source: p.rank, ID: sp.ID, Payload: payload}
	if p.rank == 0 {
		p.keepSolution(sol)
	} else if err := p.sendMsg(0, wire.TagSolutionOutput, sol); err != nil {
		return err
	}
	if rampUp {
		return nil
	}

	data, err := wire.Marshal(u)
	if err != nil {
		return err
	}
	return p.relayIncumbent(u.Source, data)
}

func (p *process) relayIncumbent(root int, data []byte) error {
	for _, r := range incumbent.Relay(root, p.rank, p.topo.Processes()) {
		if err := p.send(r, wire.TagIncumbentBroadcast, append([]byte(nil), data...)); err != nil {
			return err
		}
	}
	return nil
}

func (p *process) onIncumbent(m comm.Message) error {
	var u incumbent.Update
	if err := wire.Unmarshal(m.Data, &u); err != nil {
		return err
	}
	accepted := p.inc.Receive(u)
	if accepted {
		p.bus.Publish(event.NewIncumbentImprovedEvent(p.rank, u.Value, u.Source, p.inc.Generation(), false))
	}
	// Ties are relayed too, so that every rank sees the lowest source.
	if accepted || (p.inc.HasValue() && u.Value == p.inc.Value()) {
		return p.relayIncumbent(u.Source, m.Data)
	}
	return nil
}

// keepSolution records sol on rank 0 if it beats the kept one.
func (p *process) keepSolution(sol wire.Solution) {
	cur := p.solution
	if cur != nil {
		if p.sense.Better(cur.Value, sol.Value) {
			return
		}
		if cur.Value == sol.Value && cur.Source <= sol.Source {
			return
		}
	}
	p.solution = &sol
}

func (p *process) onSolution(m comm.Message) error {
	if p.rank != 0 {
		return errors.NewProtocolError("solution sent to a rank other than 0", errors.ErrUnexpectedMessage)
	}
	var sol wire.Solution
	if err := wire.Unmarshal(m.Data, &sol); err != nil {
		return err
	}
	p.keepSolution(sol)
	return nil
}

func (p *process) onDeliver(m comm.Message) error {
	if !p.worker {
		return errors.NewProtocolError("delivery to a rank that does no search work", errors.ErrUnexpectedMessage)
	}
	sp, err := p.codec.DecodeSubproblem(m.Data)
	if err != nil {
		return err
	}
	p.delivered++
	p.stats.Delivered++
	sp.TokenCount = 0
	if !p.inc.CanImprove(sp.Bound) {
		p.stats.Fathomed++
		return nil
	}
	p.keep(*sp)
	return nil
}

func (p *process) onWorkerControl(m comm.Message) error {
	var c wire.WorkerControl
	if err := wire.Unmarshal(m.Data, &c); err != nil {
		return err
	}
	switch c.Op {
	case wire.WorkerRelease:
		h, ok := p.tokens[c.ID]
		if !ok {
			return errors.NewProtocolError(fmt.Sprintf("release of unknown token %s", c.ID), errors.ErrUnexpectedMessage)
		}
		if c.Target < 0 || c.Target >= p.topo.Processes() || !p.topo.IsWorker(c.Target) {
			return errors.NewProtocolError(fmt.Sprintf("release of %s to rank %d, which does no search work", c.ID, c.Target), errors.ErrUnexpectedMessage)
		}
		delete(p.tokens, c.ID)
		if c.Target == p.rank {
			sp := p.arena.MustGet(h)
			sp.TokenCount = 0
			p.delivered++
			p.stats.Delivered++
			p.pool.Insert(h, sp.Bound)
			return nil
		}
		sp, _ := p.arena.Take(h)
		sp.TokenCount = 0
		data, err := p.codec.EncodeSubproblem(&sp)
		if err != nil {
			return err
		}
		return p.send(c.Target, wire.TagDeliverSubproblem, data)

	case wire.WorkerDiscard:
		h, ok := p.tokens[c.ID]
		if !ok {
			return errors.NewProtocolError(fmt.Sprintf("discard of unknown token %s", c.ID), errors.ErrUnexpectedMessage)
		}
		delete(p.tokens, c.ID)
		p.arena.Free(h)
		p.stats.Fathomed++
		return nil

	case wire.WorkerDonate:
		if !p.worker || p.paused {
			return nil
		}
		n := min(c.Count, p.pool.Size()-1)
		for i := 0; i < n; i++ {
			h, _ := p.pool.Remove()
			if err := p.releaseHandle(h, 0, p.hubRank); err != nil {
				return err
			}
		}
		return nil

	default:
		return errors.NewProtocolError(fmt.Sprintf("unknown worker op %q", c.Op), errors.ErrUnexpectedMessage)
	}
}

// reportDue decides whether the hub's view of this worker is stale.
func (p *process) reportDue() bool {
	r := &p.report
	if !r.sent {
		return true
	}
	size := p.pool.Size()
	if size == r.count && p.delivered == r.delivered {
		return false
	}
	if size == 0 || abs(size-r.count) >= p.settings.ReportDelta {
		return true
	}
	return time.Since(r.at) >= p.settings.ReportInterval
}

func (p *process) sendLoadReport(context.Context) error {
	l := p.pool.Load()
	rep := wire.NewLoadReport(wire.ScopeWorker, l.Count(), l.AggregateBound())
	rep.Delivered = p.delivered
	rep.Sent, rep.Received = p.ep.Stats()
	if p.sched != nil {
		st := p.sched.Stats()
		rep.Busy = int64(st.Busy)
		rep.Idle = int64(st.Idle)
	}
	p.report = reportState{sent: true, count: l.Count(), delivered: p.delivered, at: time.Now()}
	p.publishProgress()
	return p.sendMsg(p.hubRank, wire.TagLoadReport, rep)
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}

// prune drops every held item that can no longer beat the incumbent.
// Tokens stay with their owner until the hub holding them decides.
func (p *process) prune(context.Context) error {
	defer p.inc.ClearPruning()
	p.stats.Fathomed += p.pool.Prune(func(h problem.Handle, bound float64) bool {
		if p.inc.CanImprove(bound) {
			return true
		}
		p.arena.Free(h)
		return false
	})
	if p.hub == nil {
		return nil
	}
	var drop []problem.Token
	p.hub.store.Prune(func(tok problem.Token, bound float64) bool {
		if p.inc.CanImprove(bound) {
			return true
		}
		drop = append(drop, tok)
		return false
	})
	for _, tok := range drop {
		if err := p.dropToken(tok); err != nil {
			return err
		}
	}
	return nil
}
