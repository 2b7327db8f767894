package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/Iron-Ham/bnbhub/internal/comm"
	"github.com/Iron-Ham/bnbhub/internal/errors"
	"github.com/Iron-Ham/bnbhub/internal/event"
	"github.com/Iron-Ham/bnbhub/internal/hub"
	"github.com/Iron-Ham/bnbhub/internal/pool"
	"github.com/Iron-Ham/bnbhub/internal/problem"
	"github.com/Iron-Ham/bnbhub/internal/termination"
	"github.com/Iron-Ham/bnbhub/internal/wire"
)

// hubState is the hub role of a cluster leader.
type hubState struct {
	bal *hub.Balancer
	// store holds released work: Local refs for subproblems resident here,
	// Remote refs for tokens whose subproblem stays with the owner.
	store   *pool.Pool[problem.Token]
	workers []int

	lastBalance time.Time
	lastRequest time.Time
	lastDonate  map[int]time.Time
	// outstanding maps peer clusters to the time a work request was sent.
	outstanding map[int]time.Time

	lastCluster reportState

	poll *termination.Aggregator
}

func (p *process) balanceReady() bool {
	if p.paused {
		return false
	}
	h := p.hub
	if !h.store.Empty() {
		if len(h.workers) == 0 {
			return true
		}
		if _, ok := h.bal.NextDispatch(); ok {
			return true
		}
	}
	return time.Since(h.lastBalance) >= p.settings.BalanceInterval
}

// balance dispatches stored work, then on every balance interval moves
// surplus between clusters, looks for work and reports the cluster load.
func (p *process) balance(context.Context) error {
	h := p.hub
	if err := p.dispatch(); err != nil {
		return err
	}
	if time.Since(h.lastBalance) < p.settings.BalanceInterval {
		return nil
	}
	h.lastBalance = time.Now()
	if len(h.workers) == 0 {
		return p.reportCluster()
	}
	if err := p.forwardSurplus(); err != nil {
		return err
	}
	if err := p.seekWork(); err != nil {
		return err
	}
	return p.reportCluster()
}

// dispatch hands stored work to the least loaded workers of the cluster.
func (p *process) dispatch() error {
	h := p.hub
	if len(h.workers) == 0 {
		return p.forwardAll()
	}
	sent := make(map[int]int)
	for !h.store.Empty() {
		w, ok := h.bal.NextDispatch()
		if !ok {
			break
		}
		tok, _ := h.store.Remove()
		if !p.inc.CanImprove(tok.Bound) {
			if err := p.dropToken(tok); err != nil {
				return err
			}
			continue
		}
		if err := p.dispatchToken(tok, w); err != nil {
			return err
		}
		if err := h.bal.NoteDispatched(w, 1); err != nil {
			return err
		}
		sent[w]++
	}
	for w, n := range sent {
		p.stats.Dispatched += n
		p.bus.Publish(event.NewHubDispatchedEvent(p.rank, w, n))
	}
	return nil
}

// dispatchToken delivers the subproblem behind tok to worker w.
func (p *process) dispatchToken(tok problem.Token, w int) error {
	if hd, ok := tok.Ref.Local(); ok {
		sp, ok := p.arena.Take(hd)
		if !ok {
			return fmt.Errorf("hub store holds a freed subproblem %s", tok.ID)
		}
		data, err := p.codec.EncodeSubproblem(&sp)
		if err != nil {
			return err
		}
		return p.send(w, wire.TagDeliverSubproblem, data)
	}
	owner, _ := tok.Ref.Remote()
	return p.sendMsg(owner, wire.TagWorkerControl, wire.WorkerControl{Op: wire.WorkerRelease, ID: tok.ID, Target: w})
}

// forwardToken hands tok to the hub of another cluster. A token keeps its
// owner; a resident subproblem travels in full.
func (p *process) forwardToken(tok problem.Token, peerHub int) error {
	if hd, ok := tok.Ref.Local(); ok {
		sp, ok := p.arena.Take(hd)
		if !ok {
			return fmt.Errorf("hub store holds a freed subproblem %s", tok.ID)
		}
		data, err := p.codec.EncodeSubproblem(&sp)
		if err != nil {
			return err
		}
		return p.send(peerHub, wire.TagForwardSubproblem, data)
	}
	return p.send(peerHub, wire.TagForwardSubproblem, wire.EncodeToken(tok))
}

// dropToken discards pruned work held in the store.
func (p *process) dropToken(tok problem.Token) error {
	p.stats.Fathomed++
	if hd, ok := tok.Ref.Local(); ok {
		p.arena.Free(hd)
		return nil
	}
	owner, _ := tok.Ref.Remote()
	return p.sendMsg(owner, wire.TagWorkerControl, wire.WorkerControl{Op: wire.WorkerDiscard, ID: tok.ID})
}

// forwardN forwards up to n of the best stored items to cluster c.
func (p *process) forwardN(c, n int) (int, error) {
	h := p.hub
	peer := p.topo.LeaderOf(c)
	sent := 0
	for sent < n && !h.store.Empty() {
		tok, _ := h.store.Remove()
		if !p.inc.CanImprove(tok.Bound) {
			if err := p.dropToken(tok); err != nil {
				return sent, err
			}
			continue
		}
		if err := p.forwardToken(tok, peer); err != nil {
			return sent, err
		}
		sent++
	}
	if sent > 0 {
		h.bal.NoteForwarded(c, sent)
		p.stats.Forwarded += sent
		p.bus.Publish(event.NewHubForwardedEvent(p.rank, peer, sent))
	}
	return sent, nil
}

// forwardAll empties the store of a hub whose cluster does no search
// work into the lightest cluster that does.
func (p *process) forwardAll() error {
	h := p.hub
	if h.store.Empty() {
		return nil
	}
	target := -1
	lightest := 0
	for c := 0; c < p.topo.Clusters(); c++ {
		if c == p.cluster || len(p.topo.WorkersInCluster(c)) == 0 {
			continue
		}
		load, _ := h.bal.ClusterLoad(c)
		if target < 0 || load < lightest {
			target, lightest = c, load
		}
	}
	if target < 0 {
		return errors.NewEngineError("no cluster does search work", errors.ErrInvalidInput).
			WithRank(p.rank).WithSeverity(errors.SeverityCritical)
	}
	_, err := p.forwardN(target, h.store.Size())
	return err
}

// forwardSurplus moves work to a peer cluster that is much lighter.
func (p *process) forwardSurplus() error {
	h := p.hub
	if h.store.Empty() {
		return nil
	}
	c, count, ok := h.bal.Surplus(h.store.Size() + h.bal.Total())
	if !ok || len(p.topo.WorkersInCluster(c)) == 0 {
		return nil
	}
	_, err := p.forwardN(c, min(count, h.store.Size()))
	return err
}

// seekWork feeds a starving worker: first by asking a loaded worker of the
// cluster to donate, then by asking the richest peer cluster.
func (p *process) seekWork() error {
	h := p.hub
	if !h.store.Empty() || !h.bal.Starving() {
		return nil
	}
	starving, ok := h.bal.NextDispatch()
	if !ok {
		return nil
	}
	now := time.Now()
	if donor, ok := h.bal.PickDonor(starving); ok && now.Sub(h.lastDonate[donor]) >= p.settings.RequestInterval {
		h.lastDonate[donor] = now
		count := max(1, h.bal.Estimate(donor)/2)
		return p.sendMsg(donor, wire.TagWorkerControl, wire.WorkerControl{Op: wire.WorkerDonate, Count: count})
	}

	c, ok := h.bal.Richest()
	if !ok {
		return nil
	}
	if _, pending := h.outstanding[c]; pending || now.Sub(h.lastRequest) < p.settings.RequestInterval {
		return nil
	}
	h.outstanding[c] = now
	h.lastRequest = now
	return p.sendMsg(p.topo.LeaderOf(c), wire.TagHubControl, wire.HubControl{Op: wire.HubRequestWork, Count: len(h.workers)})
}

// reportCluster tells the other hubs what this cluster holds.
func (p *process) reportCluster() error {
	if p.topo.Clusters() < 2 {
		return nil
	}
	h := p.hub
	count := h.store.Size() + h.bal.Total()
	last := &h.lastCluster
	if last.sent && (count == last.count || time.Since(last.at) < p.settings.ReportInterval) {
		return nil
	}
	bound := p.sense.Best(h.store.Load().AggregateBound(), h.bal.BestBound())
	rep := wire.NewLoadReport(wire.ScopeCluster, count, bound)
	*last = reportState{sent: true, count: count, at: time.Now()}
	for _, peer := range p.topo.Hubs() {
		if peer == p.rank {
			continue
		}
		if err := p.sendMsg(peer, wire.TagLoadReport, rep); err != nil {
			return err
		}
	}
	return nil
}

func (p *process) requireHub(m comm.Message) error {
	if p.hub != nil {
		return nil
	}
	return errors.NewProtocolError(fmt.Sprintf("%s sent to rank %d, which is not a hub", m.Tag, p.rank), errors.ErrUnexpectedMessage)
}

func (p *process) fromPeerHub(m comm.Message) bool {
	return m.From != p.rank && p.topo.IsHub(m.From) && p.topo.ClusterOf(m.From) != p.cluster
}

// onForward stores released or forwarded work.
func (p *process) onForward(m comm.Message) error {
	if err := p.requireHub(m); err != nil {
		return err
	}
	kind, err := wire.PeekKind(m.Data)
	if err != nil {
		return err
	}
	var tok problem.Token
	switch kind {
	case wire.KindToken:
		if tok, err = wire.DecodeToken(m.Data); err != nil {
			return err
		}
	case wire.KindSubproblem:
		sp, err := p.codec.DecodeSubproblem(m.Data)
		if err != nil {
			return err
		}
		sp.TokenCount = 0
		tok = problem.Token{
			ID:          sp.ID,
			Owner:       p.rank,
			Represented: 1,
			Bound:       sp.Bound,
			Ref:         problem.LocalRef(p.arena.Alloc(*sp)),
		}
	default:
		return errors.NewProtocolError(fmt.Sprintf("unknown record kind %s", kind), errors.ErrCorruptHeader)
	}
	if p.fromPeerHub(m) {
		delete(p.hub.outstanding, p.topo.ClusterOf(m.From))
	}
	if !p.inc.CanImprove(tok.Bound) {
		return p.dropToken(tok)
	}
	p.hub.store.Insert(tok, tok.Bound)
	return nil
}

func (p *process) onHubControl(m comm.Message) error {
	if err := p.requireHub(m); err != nil {
		return err
	}
	var c wire.HubControl
	if err := wire.Unmarshal(m.Data, &c); err != nil {
		return err
	}
	h := p.hub
	peer := p.topo.ClusterOf(m.From)
	switch c.Op {
	case wire.HubRequestWork:
		if p.paused || h.store.Empty() {
			// Refill the store for the next request.
			if !p.paused && len(h.workers) > 0 {
				if donor, ok := h.bal.PickDonor(-1); ok {
					count := max(1, h.bal.Estimate(donor)/2)
					if err := p.sendMsg(donor, wire.TagWorkerControl, wire.WorkerControl{Op: wire.WorkerDonate, Count: count}); err != nil {
						return err
					}
				}
			}
			return p.sendMsg(m.From, wire.TagHubControl, wire.HubControl{Op: wire.HubDecline})
		}
		_, err := p.forwardN(peer, max(1, h.store.Size()/2))
		return err
	case wire.HubDecline:
		delete(h.outstanding, peer)
		h.bal.UpdateCluster(peer, wire.NewLoadReport(wire.ScopeCluster, 0, 0))
		return nil
	default:
		return errors.NewProtocolError(fmt.Sprintf("unknown hub op %q", c.Op), errors.ErrUnexpectedMessage)
	}
}

func (p *process) onLoadReport(m comm.Message) error {
	if err := p.requireHub(m); err != nil {
		return err
	}
	var r wire.LoadReport
	if err := wire.Unmarshal(m.Data, &r); err != nil {
		return err
	}
	switch r.Scope {
	case wire.ScopeWorker:
		if p.topo.ClusterOf(m.From) != p.cluster {
			return errors.NewProtocolError(fmt.Sprintf("worker report from rank %d of another cluster", m.From), errors.ErrUnexpectedMessage)
		}
		if err := p.hub.bal.UpdateWorker(m.From, r); err != nil {
			return errors.NewProtocolError("worker report", err)
		}
	case wire.ScopeCluster:
		p.hub.bal.UpdateCluster(p.topo.ClusterOf(m.From), r)
	default:
		return errors.NewProtocolError(fmt.Sprintf("unknown load scope %q", r.Scope), errors.ErrUnexpectedMessage)
	}
	return nil
}
