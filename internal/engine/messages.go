package engine

import (
	"context"
	"fmt"

	"github.com/Iron-Ham/bnbhub/internal/comm"
	"github.com/Iron-Ham/bnbhub/internal/errors"
	"github.com/Iron-Ham/bnbhub/internal/wire"
)

// pump handles up to pumpBatch pending messages.
func (p *process) pump(context.Context) error {
	for i := 0; i < pumpBatch && !p.done; i++ {
		m, ok := p.ep.TryRecv()
		if !ok {
			return nil
		}
		if m.Tag.Counted() {
			p.tracker.Received(m.Tag)
			if p.coord != nil {
				p.coord.detector.NoteArrival()
			}
		}
		if err := p.handle(m); err != nil {
			return err
		}
	}
	return nil
}

func (p *process) handle(m comm.Message) error {
	var err error
	switch m.Tag {
	case wire.TagForwardSubproblem:
		err = p.onForward(m)
	case wire.TagDeliverSubproblem:
		err = p.onDeliver(m)
	case wire.TagHubControl:
		err = p.onHubControl(m)
	case wire.TagWorkerControl:
		err = p.onWorkerControl(m)
	case wire.TagQuiescencePoll:
		err = p.onPoll(m)
	case wire.TagTerminationCheck:
		err = p.onTerminationReport(m)
	case wire.TagIncumbentBroadcast:
		err = p.onIncumbent(m)
	case wire.TagSolutionOutput:
		err = p.onSolution(m)
	case wire.TagLoadReport:
		err = p.onLoadReport(m)
	case wire.TagCheckpoint:
		err = p.onCheckpoint(m)
	case wire.TagShutdown:
		p.onShutdown()
	case wire.TagAbort:
		err = p.onAbort(m)
	default:
		err = errors.NewProtocolError(fmt.Sprintf("unknown tag %d", uint8(m.Tag)), errors.ErrUnexpectedMessage)
	}
	if err == nil {
		return nil
	}
	var pe *errors.ProtocolError
	if errors.As(err, &pe) {
		pe.WithRank(p.rank).WithFrom(m.From).WithTag(m.Tag.String())
		return pe
	}
	return fmt.Errorf("handle %s from rank %d: %w", m.Tag, m.From, err)
}

func (p *process) onShutdown() {
	p.log.Debug("shutdown received")
	p.terminated = true
	p.done = true
	p.setPhase(phaseFinished)
}

func errProtocolf(format string, args ...any) error {
	return errors.NewProtocolError(fmt.Sprintf(format, args...), errors.ErrUnexpectedMessage)
}
