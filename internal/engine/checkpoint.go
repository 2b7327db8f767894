package engine

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/Iron-Ham/bnbhub/internal/checkpoint"
	"github.com/Iron-Ham/bnbhub/internal/comm"
	"github.com/Iron-Ham/bnbhub/internal/errors"
	"github.com/Iron-Ham/bnbhub/internal/event"
	"github.com/Iron-Ham/bnbhub/internal/problem"
	"github.com/Iron-Ham/bnbhub/internal/wire"
)

// startCheckpoint pauses every rank and starts draining. The coordinator
// pauses itself directly so its own drain report is taken while paused.
func (p *process) startCheckpoint() error {
	c := p.coord
	epoch := p.epoch + 1
	if err := p.sendAll(wire.TagCheckpoint, wire.CheckpointControl{Op: wire.CheckpointPause, Epoch: epoch}); err != nil {
		return err
	}
	p.pause(epoch)
	c.stage = ckptDraining
	c.nextCheck = time.Now()
	p.log.Info("checkpoint started", "epoch", epoch)
	return nil
}

func (p *process) pause(epoch uint64) {
	p.paused = true
	p.epoch = epoch
	p.setPhase(phasePaused)
}

func (p *process) resume() {
	p.paused = false
	p.setPhase(phaseSteady)
}

// writeAll runs after a clean drain round.
func (p *process) writeAll() error {
	c := p.coord
	c.stage = ckptWriting
	c.acks, c.failed = 0, 0
	if err := p.sendAll(wire.TagCheckpoint, wire.CheckpointControl{Op: wire.CheckpointWrite, Epoch: p.epoch}); err != nil {
		return err
	}
	failed := 0
	if err := p.writeCheckpoint(); err != nil {
		p.log.Warn("checkpoint write failed", "epoch", p.epoch, "error", err)
		failed = 1
	}
	return p.noteWritten(1, failed)
}

// noteWritten counts acknowledgements on the coordinator and resumes the
// world once every rank has written.
func (p *process) noteWritten(acks, failed int) error {
	c := p.coord
	c.acks += acks
	c.failed += failed
	if c.acks < p.topo.Processes() {
		return nil
	}
	if err := p.sendAll(wire.TagCheckpoint, wire.CheckpointControl{Op: wire.CheckpointResume, Epoch: p.epoch}); err != nil {
		return err
	}
	p.resume()
	c.stage = ckptIdle
	c.checkpoints++
	c.roundsSince = 0
	c.lastCheckpoint = time.Now()
	c.nextCheck = time.Now().Add(p.settings.CheckInterval)
	if c.failed > 0 {
		p.log.Warn("checkpoint incomplete", "epoch", p.epoch, "failed", c.failed)
	} else {
		p.log.Info("checkpoint written", "epoch", p.epoch, "ranks", c.acks)
	}
	return nil
}

func (p *process) onCheckpoint(m comm.Message) error {
	var c wire.CheckpointControl
	if err := wire.Unmarshal(m.Data, &c); err != nil {
		return err
	}
	switch c.Op {
	case wire.CheckpointPause:
		p.pause(c.Epoch)
	case wire.CheckpointWrite:
		ack := wire.CheckpointControl{Op: wire.CheckpointWritten, Epoch: c.Epoch, Acks: 1}
		if err := p.writeCheckpoint(); err != nil {
			p.log.Warn("checkpoint write failed", "epoch", c.Epoch, "error", err)
			ack.Failed = 1
		}
		return p.sendMsg(0, wire.TagCheckpoint, ack)
	case wire.CheckpointWritten:
		if p.coord == nil || p.coord.stage != ckptWriting {
			return errProtocolf("unexpected checkpoint acknowledgement for epoch %d", c.Epoch)
		}
		return p.noteWritten(c.Acks, c.Failed)
	case wire.CheckpointResume:
		p.resume()
	default:
		return errProtocolf("unknown checkpoint op %q", c.Op)
	}
	return nil
}

// writeCheckpoint stores every subproblem resident on this rank.
func (p *process) writeCheckpoint() error {
	if p.store == nil {
		return errors.NewCheckpointError("no checkpoint directory", errors.ErrInvalidInput).WithRank(p.rank)
	}
	f := &checkpoint.File{
		RunID:      p.runID,
		Epoch:      p.epoch,
		Rank:       p.rank,
		Processes:  p.topo.Processes(),
		Topology:   p.topo.Fingerprint(),
		Sense:      p.sense.String(),
		NextSerial: p.seq.Issued(),
	}
	if p.inc.HasValue() {
		f.Incumbent = &checkpoint.Incumbent{Value: p.inc.Value(), Source: p.inc.Source()}
	}

	var encErr error
	add := func(h problem.Handle) {
		if encErr != nil {
			return
		}
		sp, ok := p.arena.Get(h)
		if !ok {
			encErr = fmt.Errorf("resident subproblem was freed")
			return
		}
		data, err := p.codec.EncodeSubproblem(sp)
		if err != nil {
			encErr = err
			return
		}
		f.Subproblems = append(f.Subproblems, data)
	}
	p.pool.Each(func(h problem.Handle, _ float64) { add(h) })
	ids := make([]problem.ID, 0, len(p.tokens))
	for id := range p.tokens {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		if ids[i].Creator != ids[j].Creator {
			return ids[i].Creator < ids[j].Creator
		}
		return ids[i].Serial < ids[j].Serial
	})
	for _, id := range ids {
		add(p.tokens[id])
	}
	if p.hub != nil {
		p.hub.store.Each(func(tok problem.Token, _ float64) {
			if h, ok := tok.Ref.Local(); ok {
				add(h)
			}
		})
	}
	if encErr != nil {
		return errors.NewCheckpointError("encode subproblem", encErr).WithRank(p.rank)
	}

	if cp, ok := p.app.(problem.Checkpointer); ok {
		state, err := cp.CheckpointWrite()
		if err != nil {
			return errors.NewCheckpointError("application state", errors.Join(errors.ErrApplication, err)).WithRank(p.rank)
		}
		f.AppState = state
	}
	if p.rank == 0 && p.solution != nil {
		data, err := wire.Marshal(p.solution)
		if err != nil {
			return err
		}
		f.Solution = data
	}

	path, size, err := p.store.Write(f)
	if err != nil {
		return err
	}
	p.log.Debug("checkpoint file written", "epoch", p.epoch, "path", path, "items", len(f.Subproblems), "bytes", size)
	p.bus.Publish(event.NewCheckpointWrittenEvent(p.rank, p.epoch, path, len(f.Subproblems), size))
	return nil
}

// restored is the decoded content of this rank's checkpoint.
type restoredFile struct {
	file        *checkpoint.File
	subproblems []*problem.Subproblem
}

// readCheckpoint loads and checks this rank's file without changing any
// state.
func (p *process) readCheckpoint() (*restoredFile, error) {
	if p.store == nil {
		return nil, errors.NewCheckpointError("no checkpoint directory", errors.ErrCheckpointMissing).WithRank(p.rank)
	}
	f, err := p.store.Read(p.rank)
	if err != nil {
		return nil, err
	}
	err = f.Validate(checkpoint.Expect{
		Rank:      p.rank,
		Processes: p.topo.Processes(),
		Topology:  p.topo.Fingerprint(),
		Sense:     p.sense.String(),
	})
	if err != nil {
		return nil, err
	}
	out := &restoredFile{file: f}
	for i, data := range f.Subproblems {
		sp, err := p.codec.DecodeSubproblem(data)
		if err != nil {
			return nil, errors.NewCheckpointError(fmt.Sprintf("subproblem %d: %v", i, err), errors.ErrCheckpointCorrupt).
				WithRank(p.rank).WithPath(p.store.Path(p.rank))
		}
		out.subproblems = append(out.subproblems, sp)
	}
	if cp, ok := p.app.(problem.Checkpointer); ok {
		if err := cp.CheckpointRead(f.AppState); err != nil {
			return nil, errors.NewCheckpointError(err.Error(), errors.ErrCheckpointMismatch).WithRank(p.rank)
		}
	}
	return out, nil
}

// restore replaces ramp-up with the checkpointed state. Every rank must be
// able to restore the same epoch; otherwise all ranks fall back to ramp-up.
func (p *process) restore(ctx context.Context) (bool, error) {
	p.setPhase(phaseRestore)
	rf, readErr := p.readCheckpoint()

	var failed int64
	if readErr != nil {
		failed = 1
	}
	anyFailed, err := p.ep.AllReduceInt(ctx, failed, comm.OpMax)
	if err != nil {
		return false, err
	}
	var epoch int64 = -1
	if rf != nil {
		epoch = int64(rf.file.Epoch)
	}
	lo, err := p.ep.AllReduceInt(ctx, epoch, comm.OpMin)
	if err != nil {
		return false, err
	}
	hi, err := p.ep.AllReduceInt(ctx, epoch, comm.OpMax)
	if err != nil {
		return false, err
	}

	reason := ""
	switch {
	case readErr != nil:
		reason = readErr.Error()
	case anyFailed != 0:
		reason = "another rank could not read its checkpoint"
	case lo != hi:
		reason = fmt.Sprintf("checkpoint epochs differ across ranks (%d to %d)", lo, hi)
	}
	if reason != "" {
		p.log.Warn("restart from checkpoint failed, ramping up instead", "reason", reason)
		p.bus.Publish(event.NewCheckpointRestoredEvent(p.rank, 0, false, reason))
		return false, nil
	}

	f := rf.file
	if cp, ok := p.app.(problem.Checkpointer); ok {
		global, err := p.ep.Broadcast(ctx, 0, f.AppState)
		if err != nil {
			return false, err
		}
		if p.rank != 0 {
			if err := cp.MergeGlobalData(global); err != nil {
				return false, errors.NewEngineError("merge checkpoint state", errors.Join(errors.ErrApplication, err)).
					WithRank(p.rank).WithPhase(p.phase)
			}
		}
	}

	for _, sp := range rf.subproblems {
		sp.TokenCount = 0
		if p.worker {
			p.keep(*sp)
			continue
		}
		p.hub.store.Insert(problem.Token{
			ID:          sp.ID,
			Owner:       p.rank,
			Represented: 1,
			Bound:       sp.Bound,
			Ref:         problem.LocalRef(p.arena.Alloc(*sp)),
		}, sp.Bound)
	}
	if f.Incumbent != nil {
		p.inc.Offer(f.Incumbent.Value, f.Incumbent.Source)
	}
	if f.NextSerial > 0 {
		p.seq.Resume(f.NextSerial - 1)
	}
	if p.rank == 0 && len(f.Solution) > 0 {
		var sol wire.Solution
		if err := wire.Unmarshal(f.Solution, &sol); err != nil {
			return false, errors.NewCheckpointError("decode solution", errors.ErrCheckpointCorrupt).WithRank(p.rank)
		}
		p.solution = &sol
	}
	if err := p.inc.Synchronize(ctx, p.ep); err != nil {
		return false, err
	}
	p.inc.ClearPruning()

	p.epoch = f.Epoch
	p.restored = true
	p.log.Info("restarted from checkpoint", "epoch", f.Epoch, "subproblems", len(rf.subproblems))
	p.bus.Publish(event.NewCheckpointRestoredEvent(p.rank, f.Epoch, true, ""))
	return true, nil
}
