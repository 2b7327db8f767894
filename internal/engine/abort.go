package engine

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/Iron-Ham/bnbhub/internal/abort"
	"github.com/Iron-Ham/bnbhub/internal/comm"
	"github.com/Iron-Ham/bnbhub/internal/errors"
	"github.com/Iron-Ham/bnbhub/internal/event"
	"github.com/Iron-Ham/bnbhub/internal/logging"
	"github.com/Iron-Ham/bnbhub/internal/problem"
	"github.com/Iron-Ham/bnbhub/internal/wire"
)

// abortTriggers are the external abort sources watched by rank 0.
type abortTriggers struct {
	watcher *abort.Watcher
	wall    chan struct{}
	limit   time.Duration
	timer   *time.Timer
}

func startTriggers(s Settings, log *logging.Logger) (*abortTriggers, error) {
	t := &abortTriggers{}
	if s.AbortFile != "" {
		w, err := abort.New(s.AbortFile, abort.WithErrorHandler(func(err error) {
			log.Warn("abort file watcher error", "error", err)
		}))
		if err != nil {
			return nil, err
		}
		w.Start()
		t.watcher = w
	}
	if s.WallTime > 0 {
		ch := make(chan struct{})
		t.wall = ch
		t.limit = s.WallTime
		t.timer = time.AfterFunc(s.WallTime, func() { close(ch) })
	}
	return t, nil
}

func (t *abortTriggers) stop() {
	if t.watcher != nil {
		t.watcher.Stop()
	}
	if t.timer != nil {
		t.timer.Stop()
	}
}

// fileC and wallC return nil channels when the trigger is not configured,
// which never fire in a select.
func (t *abortTriggers) fileC() <-chan struct{} {
	if t == nil || t.watcher == nil {
		return nil
	}
	return t.watcher.Fired()
}

func (t *abortTriggers) wallC() <-chan struct{} {
	if t == nil {
		return nil
	}
	return t.wall
}

// trigger is a detected reason to stop.
type trigger struct {
	reason string
	cause  error
	// propagate is false when every process observes the trigger itself.
	propagate bool
	// world is set when another rank already aborted the world.
	world bool
}

// checkTriggers looks for an abort request without blocking.
func (p *process) checkTriggers() (trigger, bool) {
	select {
	case <-p.world.Aborted():
		return trigger{reason: "world aborted", cause: p.world.Err(), world: true}, true
	default:
	}
	select {
	case <-p.userCtx.Done():
		return trigger{reason: "context canceled", cause: errors.ErrAborted}, true
	default:
	}
	select {
	case <-p.triggers.fileC():
		return trigger{reason: p.triggers.watcher.Reason(), cause: errors.ErrAborted, propagate: true}, true
	default:
	}
	select {
	case <-p.triggers.wallC():
		reason := fmt.Sprintf("wall-clock limit %s reached", p.triggers.limit)
		return trigger{reason: reason, cause: errors.ErrWallTimeExceeded, propagate: true}, true
	default:
	}
	return trigger{}, false
}

func (p *process) abortPending() bool {
	_, ok := p.checkTriggers()
	return ok
}

// checkStop is polled between ramp-up steps.
func (p *process) checkStop() error {
	t, ok := p.checkTriggers()
	if !ok {
		return nil
	}
	if t.world {
		return t.cause
	}
	return p.abortError(t.cause, t.reason)
}

func (p *process) abortError(cause error, reason string) error {
	return errors.NewEngineError(reason, cause).WithRank(p.rank).WithPhase(p.phase)
}

// abortTask starts an abort from a local trigger.
func (p *process) abortTask(_ context.Context) error {
	t, ok := p.checkTriggers()
	if !ok {
		return nil
	}
	if t.world {
		p.beginAbort(fmt.Sprintf("world aborted: %v", t.cause), t.cause)
		return nil
	}
	err := p.abortError(t.cause, t.reason)
	p.world.Abort(err)
	if t.propagate {
		if perr := p.propagateAbort(t.reason); perr != nil {
			p.log.Warn("abort propagation failed", "error", perr)
		}
	}
	p.beginAbort(t.reason, err)
	return nil
}

// propagateAbort sends the notice to every hub, and through this rank's
// own hub role to its members.
func (p *process) propagateAbort(reason string) error {
	data, err := wire.Marshal(wire.AbortNotice{Reason: reason, Origin: p.rank})
	if err != nil {
		return err
	}
	for _, h := range p.topo.Hubs() {
		if h == p.rank {
			continue
		}
		if err := p.send(h, wire.TagAbort, bytes.Clone(data)); err != nil {
			return err
		}
	}
	if p.hub != nil {
		return p.forwardAbort(data, p.rank)
	}
	return nil
}

func (p *process) forwardAbort(data []byte, origin int) error {
	for _, m := range p.topo.Members(p.cluster) {
		if m == p.rank || m == origin {
			continue
		}
		if err := p.send(m, wire.TagAbort, bytes.Clone(data)); err != nil {
			return err
		}
	}
	return nil
}

func (p *process) onAbort(m comm.Message) error {
	var n wire.AbortNotice
	if err := wire.Unmarshal(m.Data, &n); err != nil {
		return err
	}
	if p.hub != nil && m.From != p.rank {
		if err := p.forwardAbort(m.Data, n.Origin); err != nil {
			return err
		}
	}
	reason := fmt.Sprintf("abort from rank %d: %s", n.Origin, n.Reason)
	p.beginAbort(reason, p.abortError(errors.ErrAborted, reason))
	return nil
}

// beginAbort discards all work and stops the scheduler loop.
func (p *process) beginAbort(reason string, err error) {
	if p.aborted {
		return
	}
	p.aborted = true
	p.abortReason = reason
	p.abortErr = err
	p.discardAll()
	p.setPhase(phaseAborted)
	p.log.Warn("aborting", "reason", reason)
	p.bus.Publish(event.NewRunAbortedEvent(p.rank, reason))
	p.done = true
}

// failSteady handles a task error in steady state.
func (p *process) failSteady(err error) error {
	if p.aborted {
		return p.abortErr
	}
	p.log.Error("steady state failed", "error", err)
	p.world.Abort(err)
	if perr := p.propagateAbort(err.Error()); perr != nil {
		p.log.Warn("abort propagation failed", "error", perr)
	}
	p.beginAbort(err.Error(), err)
	return err
}

// fail handles an error before steady state.
func (p *process) fail(err error) error {
	if p.userCtx.Err() != nil && errors.Is(err, p.userCtx.Err()) {
		err = p.abortError(errors.ErrAborted, "context canceled")
	}
	p.world.Abort(err)
	if errors.IsAbort(err) {
		p.beginAbort(err.Error(), err)
	} else {
		p.log.Error("process failed", "phase", p.phase, "error", err)
	}
	return err
}

func (p *process) discardAll() {
	free := func(h problem.Handle, _ float64) { p.arena.Free(h) }
	if p.pool != nil {
		p.pool.Drain(free)
	}
	for id, h := range p.tokens {
		p.arena.Free(h)
		delete(p.tokens, id)
	}
	if p.hub != nil {
		p.hub.store.Drain(func(tok problem.Token, _ float64) {
			if h, ok := tok.Ref.Local(); ok {
				p.arena.Free(h)
			}
		})
	}
}
