package engine

import (
	"context"
	"time"

	"github.com/Iron-Ham/bnbhub/internal/comm"
	"github.com/Iron-Ham/bnbhub/internal/event"
	"github.com/Iron-Ham/bnbhub/internal/termination"
	"github.com/Iron-Ham/bnbhub/internal/wire"
)

type ckptStage int

const (
	ckptIdle ckptStage = iota
	// ckptDraining runs drain rounds while every rank is paused.
	ckptDraining
	// ckptWriting waits for every rank's written acknowledgement.
	ckptWriting
)

// coordinator runs termination and checkpoint rounds on rank 0.
type coordinator struct {
	detector  *termination.Detector
	nextCheck time.Time

	stage          ckptStage
	lastCheckpoint time.Time
	checkpoints    int
	// roundsSince counts normal rounds since the last checkpoint, so that
	// search always makes progress between two checkpoints.
	roundsSince int
	acks        int
	failed      int
}

func (p *process) coordReady() bool {
	c := p.coord
	if c.detector.Active() {
		return false
	}
	now := time.Now()
	switch c.stage {
	case ckptIdle:
		return p.checkpointDue(now) || !now.Before(c.nextCheck)
	case ckptDraining:
		return !now.Before(c.nextCheck)
	default:
		return false
	}
}

func (p *process) checkpointDue(now time.Time) bool {
	c := p.coord
	if p.store == nil || p.settings.CheckpointInterval <= 0 {
		return false
	}
	if c.checkpoints > 0 && c.roundsSince == 0 {
		return false
	}
	return now.Sub(c.lastCheckpoint) >= p.settings.CheckpointInterval
}

func (p *process) coordinate(context.Context) error {
	c := p.coord
	if c.stage == ckptIdle && p.checkpointDue(time.Now()) {
		return p.startCheckpoint()
	}
	drain := c.stage == ckptDraining
	if !drain {
		c.roundsSince++
	}
	round := c.detector.Begin(drain)
	return p.handlePoll(wire.Poll{Round: round, Drain: drain})
}

func (p *process) onPoll(m comm.Message) error {
	var poll wire.Poll
	if err := wire.Unmarshal(m.Data, &poll); err != nil {
		return err
	}
	return p.handlePoll(poll)
}

// handlePoll answers a poll. A hub fans it out to its members and child
// hubs and answers for the whole subtree once every report is in.
func (p *process) handlePoll(poll wire.Poll) error {
	if p.hub == nil {
		return p.sendMsg(p.hubRank, wire.TagTerminationCheck, p.tracker.Report(poll.Round, p.quiescent()))
	}
	members := p.topo.Members(p.cluster)
	children := p.topo.HubChildren(p.cluster)
	agg := termination.NewAggregator(poll.Round, len(members)+len(children))
	p.hub.poll = agg
	for _, r := range members[1:] {
		if err := p.sendMsg(r, wire.TagQuiescencePoll, poll); err != nil {
			return err
		}
	}
	for _, c := range children {
		if err := p.sendMsg(p.topo.LeaderOf(c), wire.TagQuiescencePoll, poll); err != nil {
			return err
		}
	}
	if err := agg.Add(p.tracker.Report(poll.Round, p.quiescent())); err != nil {
		return err
	}
	return p.pollProgress()
}

func (p *process) onTerminationReport(m comm.Message) error {
	if err := p.requireHub(m); err != nil {
		return err
	}
	var rep termination.Report
	if err := wire.Unmarshal(m.Data, &rep); err != nil {
		return err
	}
	if p.hub.poll == nil {
		return errProtocolf("termination report for round %d with no poll in progress", rep.Round)
	}
	if err := p.hub.poll.Add(rep); err != nil {
		return errProtocolf("%v", err)
	}
	return p.pollProgress()
}

// pollProgress passes a complete subtree report up the tree.
func (p *process) pollProgress() error {
	agg := p.hub.poll
	if !agg.Done() {
		return nil
	}
	p.hub.poll = nil
	rep := agg.Result()
	if p.coord == nil {
		parent := p.topo.LeaderOf(p.topo.HubParent(p.cluster))
		return p.sendMsg(parent, wire.TagTerminationCheck, rep)
	}
	if err := p.coord.detector.Add(rep); err != nil {
		return errProtocolf("%v", err)
	}
	return p.evaluateRound()
}

// evaluateRound closes a complete round on the coordinator.
func (p *process) evaluateRound() error {
	c := p.coord
	drain := c.detector.Drain()
	res := c.detector.Evaluate()
	sent, recv := res.Report.Totals()
	p.bus.Publish(event.NewTerminationRoundEvent(res.Report.Round, res.Verdict.String(),
		res.Report.Quiescent, res.Report.Dirty, sent, recv, drain))
	p.log.Debug("termination round",
		"round", res.Report.Round, "verdict", res.Verdict, "reason", res.Reason, "drain", drain)
	c.nextCheck = time.Now().Add(p.settings.CheckInterval)

	if res.Verdict != termination.VerdictTerminated {
		return nil
	}
	if drain {
		return p.writeAll()
	}
	p.log.Info("termination detected", "round", res.Report.Round, "messages", sent)
	if err := p.sendAll(wire.TagShutdown, struct{}{}); err != nil {
		return err
	}
	p.terminated = true
	p.done = true
	p.setPhase(phaseFinished)
	return nil
}
