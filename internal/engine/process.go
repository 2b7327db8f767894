package engine

import (
	"bytes"
	"context"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/Iron-Ham/bnbhub/internal/checkpoint"
	"github.com/Iron-Ham/bnbhub/internal/comm"
	"github.com/Iron-Ham/bnbhub/internal/errors"
	"github.com/Iron-Ham/bnbhub/internal/event"
	"github.com/Iron-Ham/bnbhub/internal/hub"
	"github.com/Iron-Ham/bnbhub/internal/incumbent"
	"github.com/Iron-Ham/bnbhub/internal/logging"
	"github.com/Iron-Ham/bnbhub/internal/pool"
	"github.com/Iron-Ham/bnbhub/internal/problem"
	"github.com/Iron-Ham/bnbhub/internal/scatter"
	"github.com/Iron-Ham/bnbhub/internal/scheduler"
	"github.com/Iron-Ham/bnbhub/internal/termination"
	"github.com/Iron-Ham/bnbhub/internal/topology"
	"github.com/Iron-Ham/bnbhub/internal/wire"
)

// Process phases as they appear in logs and events.
const (
	phaseStartup  = "startup"
	phaseRampUp   = "rampup"
	phaseRestore  = "restore"
	phaseSteady   = "steady"
	phasePaused   = "paused"
	phaseFinished = "finished"
	phaseAborted  = "aborted"
)

const (
	idleTick        = time.Millisecond
	pumpBatch       = 64
	arenaCapacity   = 256
	finalizeTimeout = 30 * time.Second
)

// startupMessage is broadcast by rank 0 before anything else.
type startupMessage struct {
	MaxPayload int    `json:"max_payload"`
	Problem    []byte `json:"problem"`
	RunID      string `json:"run_id"`
}

// process is one rank of the world. Everything in it is owned by the
// rank's goroutine.
type process struct {
	settings Settings
	runID    string
	rank     int
	world    *comm.World
	ep       *comm.Endpoint
	topo     *topology.Topology
	app      problem.Application
	sense    problem.Sense
	codec    *wire.Codec
	arena    *problem.Arena
	seq      *problem.Sequencer
	inc      *incumbent.Sync
	tracker  *termination.Tracker
	policy   *scatter.Policy
	rng      *rand.Rand
	log      *logging.Logger
	bus      *event.Bus
	store    *checkpoint.Store
	triggers *abortTriggers

	cluster int
	hubRank int
	worker  bool

	// pool holds the subproblems this rank will search. tokens holds
	// children released as tokens, waiting for the hub's decision.
	pool      *pool.Pool[problem.Handle]
	tokens    map[problem.ID]problem.Handle
	delivered uint64
	report    reportState

	hub   *hubState
	coord *coordinator

	sched   *scheduler.Scheduler
	userCtx context.Context
	phase   string
	paused  bool
	epoch   uint64

	done        bool
	terminated  bool
	aborted     bool
	abortReason string
	abortErr    error
	restored    bool
	exhausted   bool

	solution *wire.Solution

	stats        Counters
	lastProgress Counters
}

func newProcess(e *Engine, world *comm.World, rank int, app problem.Application, triggers *abortTriggers) (*process, error) {
	topo, err := e.settings.topology()
	if err != nil {
		return nil, err
	}
	policy, err := scatter.NewPolicy(e.settings.scatterOptions()...)
	if err != nil {
		return nil, err
	}
	p := &process{
		settings: e.settings,
		runID:    e.cfg.runID,
		rank:     rank,
		world:    world,
		ep:       world.Endpoint(rank),
		topo:     topo,
		app:      app,
		arena:    problem.NewArena(arenaCapacity),
		seq:      problem.NewSequencer(int32(rank)),
		tracker:  termination.NewTracker(),
		policy:   policy,
		rng:      rand.New(rand.NewPCG(e.seed, uint64(rank))),
		bus:      e.cfg.bus,
		triggers: triggers,
		cluster:  topo.ClusterOf(rank),
		hubRank:  topo.HubOf(rank),
		worker:   topo.IsWorker(rank),
		tokens:   make(map[problem.ID]problem.Handle),
		phase:    phaseStartup,
	}
	p.log = e.cfg.logger.WithRun(e.cfg.runID).WithRank(rank).WithRole(p.role())
	if e.settings.CheckpointDir != "" {
		p.store = checkpoint.NewStore(e.settings.CheckpointDir)
	}
	return p, nil
}

func (p *process) role() string {
	switch {
	case p.topo.IsHub(p.rank) && p.worker:
		return "hub+worker"
	case p.topo.IsHub(p.rank):
		return "hub"
	default:
		return "worker"
	}
}

// run drives the rank from startup to Finalize.
func (p *process) run(ctx context.Context) error {
	p.userCtx = ctx
	defer p.finalize()

	if err := p.startup(ctx); err != nil {
		return p.fail(err)
	}
	exhausted, err := p.bootstrap(ctx)
	if err != nil {
		return p.fail(err)
	}
	if exhausted {
		p.exhausted = true
		p.terminated = true
		p.setPhase(phaseFinished)
		return nil
	}
	return p.steadyState()
}

// startup receives the problem instance and the negotiated payload size
// from rank 0.
func (p *process) startup(ctx context.Context) error {
	var framed []byte
	if p.rank == 0 {
		data, err := p.app.MarshalProblem()
		if err != nil {
			return errors.NewEngineError("marshal problem", errors.Join(errors.ErrApplication, err)).
				WithRank(p.rank).WithPhase(p.phase)
		}
		msg, err := wire.Marshal(startupMessage{
			MaxPayload: p.app.MaxPackedSize(),
			Problem:    data,
			RunID:      p.runID,
		})
		if err != nil {
			return err
		}
		framed = wire.Frame(msg)
	}

	got, err := p.ep.Broadcast(ctx, 0, framed)
	if err != nil {
		return fmt.Errorf("startup broadcast: %w", err)
	}
	body, err := wire.Unframe(got)
	if err != nil {
		return err
	}
	var msg startupMessage
	if err := wire.Unmarshal(body, &msg); err != nil {
		return err
	}
	if p.rank != 0 {
		if err := p.app.UnmarshalProblem(msg.Problem); err != nil {
			return errors.NewEngineError("install problem", errors.Join(errors.ErrApplication, err)).
				WithRank(p.rank).WithPhase(p.phase)
		}
	}
	p.setup(msg.MaxPayload)
	return nil
}

// setup builds the sense-dependent state once the problem is known.
func (p *process) setup(maxPayload int) {
	p.sense = p.app.Sense()
	p.codec = wire.NewCodec(maxPayload, p.app.Pack, p.app.Unpack, func(from, to int) {
		p.log.Warn("transfer buffer rescaled", "from", from, "to", to)
		p.bus.Publish(event.NewBufferRescaledEvent(p.rank, from, to))
	})
	p.inc = incumbent.New(p.sense, p.rank)
	p.pool = pool.New[problem.Handle](p.settings.Policy, p.sense)

	if p.topo.IsHub(p.rank) {
		workers := p.topo.WorkersInCluster(p.cluster)
		p.hub = &hubState{
			bal:         hub.NewBalancer(p.sense, p.cluster, p.topo.Clusters(), workers, p.settings.hubOptions()...),
			store:       pool.New[problem.Token](pool.Best, p.sense),
			workers:     workers,
			lastDonate:  make(map[int]time.Time),
			outstanding: make(map[int]time.Time),
		}
	}
	if p.topo.IsCoordinator(p.rank) {
		p.coord = &coordinator{detector: termination.NewDetector(p.topo.Processes())}
	}
}

func (p *process) bootstrap(ctx context.Context) (bool, error) {
	if p.settings.Restart {
		ok, err := p.restore(ctx)
		if err != nil {
			return false, err
		}
		if ok {
			return false, nil
		}
	}
	return p.rampUp(ctx)
}

// steadyState runs the scheduler until termination or abort.
func (p *process) steadyState() error {
	p.setPhase(phaseSteady)
	p.sched = scheduler.New()
	for _, t := range p.tasks() {
		if err := p.sched.Add(t); err != nil {
			return p.fail(err)
		}
	}
	if p.coord != nil {
		p.coord.nextCheck = time.Now().Add(p.settings.CheckInterval)
		p.coord.lastCheckpoint = time.Now()
	}

	// Cancellation of the caller's context is handled as an abort by the
	// abort task, so the loop itself runs detached from it.
	loopCtx := context.WithoutCancel(p.userCtx)
	if err := p.sched.Run(loopCtx, func() bool { return p.done }, p.wait); err != nil {
		return p.failSteady(err)
	}
	p.publishProgress()
	if p.aborted {
		return p.abortErr
	}
	return nil
}

func (p *process) tasks() []scheduler.Task {
	tasks := []scheduler.Task{
		{Name: "abort", Group: scheduler.GroupHigh, Ready: p.abortPending, Run: p.abortTask},
		{Name: "pump", Group: scheduler.GroupHigh, Ready: func() bool { return p.ep.Pending() > 0 }, Run: p.pump},
		{Name: "prune", Group: scheduler.GroupHigh, Ready: p.inc.NeedPruning, Run: p.prune},
	}
	if p.coord != nil {
		tasks = append(tasks, scheduler.Task{Name: "coordinate", Group: scheduler.GroupHigh, Ready: p.coordReady, Run: p.coordinate})
	}
	if p.hub != nil {
		tasks = append(tasks, scheduler.Task{Name: "balance", Group: scheduler.GroupHigh, Ready: p.balanceReady, Run: p.balance})
	}
	if p.worker {
		tasks = append(tasks,
			scheduler.Task{Name: "report", Group: scheduler.GroupHigh, Ready: p.reportDue, Run: p.sendLoadReport},
			scheduler.Task{Name: "search", Group: scheduler.GroupWorker, Ready: p.searchReady, Run: p.searchStep},
		)
	}
	// A pass keeps going after an abort or shutdown sets done.
	for i := range tasks {
		ready := tasks[i].Ready
		tasks[i].Ready = func() bool { return !p.done && ready() }
	}
	return tasks
}

// wait blocks until a message may have arrived, an abort is requested or
// the idle tick elapses.
func (p *process) wait(context.Context) error {
	if p.ep.Pending() > 0 {
		return nil
	}
	t := time.NewTimer(idleTick)
	defer t.Stop()
	select {
	case <-p.ep.Notify():
	case <-t.C:
	case <-p.userCtx.Done():
	case <-p.world.Aborted():
	case <-p.triggers.fileC():
	case <-p.triggers.wallC():
	}
	return nil
}

func (p *process) finalize() {
	ctx, cancel := context.WithTimeout(context.Background(), finalizeTimeout)
	defer cancel()
	if err := p.ep.Finalize(ctx); err != nil {
		p.log.Warn("finalize did not complete", "error", err)
	}
}

func (p *process) setPhase(phase string) {
	if phase == p.phase {
		return
	}
	from := p.phase
	p.phase = phase
	p.log.Debug("phase changed", "from", from, "to", phase)
	p.bus.Publish(event.NewPhaseChangedEvent(p.rank, from, phase))
}

// send posts data on tag and counts it for termination detection.
func (p *process) send(to int, tag wire.Tag, data []byte) error {
	if err := p.ep.Send(to, tag, data); err != nil {
		return err
	}
	p.tracker.Sent(tag)
	return nil
}

// sendMsg encodes a control message and sends it.
func (p *process) sendMsg(to int, tag wire.Tag, v any) error {
	data, err := wire.Marshal(v)
	if err != nil {
		return err
	}
	return p.send(to, tag, data)
}

// sendAll sends the same control message to every other rank.
func (p *process) sendAll(tag wire.Tag, v any) error {
	data, err := wire.Marshal(v)
	if err != nil {
		return err
	}
	for r := 0; r < p.topo.Processes(); r++ {
		if r == p.rank {
			continue
		}
		if err := p.send(r, tag, bytes.Clone(data)); err != nil {
			return err
		}
	}
	return nil
}

// quiescent reports whether the rank holds no work at all.
func (p *process) quiescent() bool {
	if !p.pool.Empty() || len(p.tokens) > 0 {
		return false
	}
	return p.hub == nil || p.hub.store.Empty()
}

func (p *process) publishProgress() {
	if p.pool == nil {
		return
	}
	d := p.stats.sub(p.lastProgress)
	p.lastProgress = p.stats
	if d == (Counters{}) {
		return
	}
	p.bus.Publish(event.NewWorkProgressEvent(p.rank, d.Bounded, d.Branched, d.Fathomed, d.Released, p.pool.Size()))
}

func appError(op string, id problem.ID, err error) error {
	return errors.NewEngineError(fmt.Sprintf("%s %s", op, id), errors.Join(errors.ErrApplication, err)).
		WithSeverity(errors.SeverityCritical)
}
