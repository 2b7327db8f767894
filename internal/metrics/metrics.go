// Package metrics exposes engine events as Prometheus metrics.
//
// A Collector subscribes to the run's event bus and turns each event into
// counter, gauge or histogram updates. Server serves the registry over
// HTTP at /metrics.
package metrics

import (
	"strconv"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/Iron-Ham/bnbhub/internal/event"
)

const namespace = "bnbhub"

// Collector holds the engine's metrics.
type Collector struct {
	phaseChanges      *prometheus.CounterVec
	incumbent         prometheus.Gauge
	improvements      *prometheus.CounterVec
	nodes             *prometheus.CounterVec
	pending           *prometheus.GaugeVec
	rampupCreated     prometheus.Histogram
	dispatched        prometheus.Counter
	forwarded         prometheus.Counter
	terminationRounds *prometheus.CounterVec
	checkpoints       prometheus.Counter
	checkpointBytes   prometheus.Histogram
	restores          *prometheus.CounterVec
	rescales          prometheus.Counter
	aborts            prometheus.Counter
	runSeconds        prometheus.Histogram

	mu   sync.Mutex
	bus  *event.Bus
	subs []string
}

// NewCollector registers the engine metrics with reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	f := promauto.With(reg)
	return &Collector{
		phaseChanges: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "phase_changes_total",
			Help:      "Process phase transitions by target phase.",
		}, []string{"phase"}),
		incumbent: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "incumbent_value",
			Help:      "Objective value of the best known solution.",
		}),
		improvements: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "incumbent_improvements_total",
			Help:      "Incumbent improvements adopted, by origin.",
		}, []string{"origin"}),
		nodes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "subproblems_total",
			Help:      "Subproblems handled by workers, by operation.",
		}, []string{"op"}),
		pending: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pool_pending",
			Help:      "Subproblems waiting in a worker's pool.",
		}, []string{"rank"}),
		rampupCreated: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "rampup_created",
			Help:      "Subproblems created during ramp-up per process.",
			Buckets:   prometheus.ExponentialBuckets(1, 4, 10),
		}),
		dispatched: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "hub_dispatched_total",
			Help:      "Subproblems dispatched by hubs to workers.",
		}),
		forwarded: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "hub_forwarded_total",
			Help:      "Subproblems forwarded between hubs.",
		}),
		terminationRounds: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "termination_rounds_total",
			Help:      "Termination check rounds by verdict.",
		}, []string{"verdict", "drain"}),
		checkpoints: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "checkpoint_files_total",
			Help:      "Per-rank checkpoint files written.",
		}),
		checkpointBytes: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "checkpoint_file_bytes",
			Help:      "Size of per-rank checkpoint files.",
			Buckets:   prometheus.ExponentialBuckets(256, 4, 10),
		}),
		restores: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "checkpoint_restores_total",
			Help:      "Restart attempts by outcome.",
		}, []string{"outcome"}),
		rescales: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "buffer_rescales_total",
			Help:      "Transfer buffer rescales caused by oversized payloads.",
		}),
		aborts: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "aborts_total",
			Help:      "Processes that entered the abort path.",
		}),
		runSeconds: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Wall-clock duration of finished runs.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 4, 10),
		}),
	}
}

// Attach subscribes the collector to every event on bus. Calling Attach
// again moves the subscription to the new bus.
func (c *Collector) Attach(bus *event.Bus) {
	c.Detach()
	c.mu.Lock()
	defer c.mu.Unlock()
	c.bus = bus
	c.subs = append(c.subs, bus.SubscribeAll(c.Handle))
}

// Detach removes the collector's subscriptions.
func (c *Collector) Detach() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.bus == nil {
		return
	}
	for _, id := range c.subs {
		c.bus.Unsubscribe(id)
	}
	c.bus = nil
	c.subs = nil
}

// Handle records one event.
func (c *Collector) Handle(e event.Event) {
	switch ev := e.(type) {
	case event.PhaseChangedEvent:
		c.phaseChanges.WithLabelValues(ev.To).Inc()
	case event.RampUpFinishedEvent:
		c.rampupCreated.Observe(float64(ev.Created))
	case event.IncumbentImprovedEvent:
		origin := "remote"
		if ev.Local {
			origin = "local"
			// Every process adopts the value; set it once per improvement.
			c.incumbent.Set(ev.Value)
		}
		c.improvements.WithLabelValues(origin).Inc()
	case event.WorkProgressEvent:
		c.nodes.WithLabelValues("bounded").Add(float64(ev.Bounded))
		c.nodes.WithLabelValues("branched").Add(float64(ev.Branched))
		c.nodes.WithLabelValues("fathomed").Add(float64(ev.Fathomed))
		c.nodes.WithLabelValues("released").Add(float64(ev.Released))
		c.pending.WithLabelValues(strconv.Itoa(ev.Rank)).Set(float64(ev.Pending))
	case event.HubDispatchedEvent:
		c.dispatched.Add(float64(ev.Count))
	case event.HubForwardedEvent:
		c.forwarded.Add(float64(ev.Count))
	case event.TerminationRoundEvent:
		c.terminationRounds.WithLabelValues(ev.Verdict, strconv.FormatBool(ev.ForDrain)).Inc()
	case event.CheckpointWrittenEvent:
		c.checkpoints.Inc()
		c.checkpointBytes.Observe(float64(ev.Bytes))
	case event.CheckpointRestoredEvent:
		outcome := "fallback"
		if ev.Restored {
			outcome = "restored"
		}
		c.restores.WithLabelValues(outcome).Inc()
	case event.BufferRescaledEvent:
		c.rescales.Inc()
	case event.RunAbortedEvent:
		c.aborts.Inc()
	case event.RunFinishedEvent:
		c.runSeconds.Observe(ev.Elapsed.Seconds())
		if ev.HasValue {
			c.incumbent.Set(ev.Incumbent)
		}
	}
}
