package hub

import (
	"fmt"
	"math"

	"github.com/Iron-Ham/bnbhub/internal/problem"
	"github.com/Iron-Ham/bnbhub/internal/wire"
)

const (
	defaultDispatchThreshold = 2
	defaultDonorMinimum      = 2
	defaultSurplusTolerance  = 0.5
)

// Option configures a Balancer.
type Option func(*Balancer)

// WithDispatchThreshold sets the estimated load below which a worker is
// sent more work.
func WithDispatchThreshold(n int) Option {
	return func(b *Balancer) { b.dispatchThreshold = n }
}

// WithDonorMinimum sets how many items a worker must report before it is
// asked to donate.
func WithDonorMinimum(n int) Option {
	return func(b *Balancer) { b.donorMinimum = n }
}

// WithSurplusTolerance sets how far above the average a cluster must be
// before it forwards work to a peer cluster.
func WithSurplusTolerance(f float64) Option {
	return func(b *Balancer) { b.surplusTolerance = f }
}

type workerState struct {
	rank       int
	reported   int
	bound      float64
	dispatched uint64
	delivered  uint64
}

func (w *workerState) estimate() int {
	in := int(w.dispatched) - int(w.delivered)
	if in < 0 {
		in = 0
	}
	return w.reported + in
}

type clusterState struct {
	count int
	bound float64
	known bool
}

// Balancer is a hub's view of the load in its cluster and in peer
// clusters. It is owned by the hub's process goroutine.
type Balancer struct {
	sense   problem.Sense
	cluster int

	workers []*workerState
	slot    map[int]int
	byLoad  *indexedHeap
	byBound *indexedHeap

	clusters []clusterState

	dispatchThreshold int
	donorMinimum      int
	surplusTolerance  float64
}

// NewBalancer creates a balancer for the hub of cluster, tracking the given
// worker ranks and clusters peer clusters in total.
func NewBalancer(sense problem.Sense, cluster, clusters int, workers []int, opts ...Option) *Balancer {
	b := &Balancer{
		sense:             sense,
		cluster:           cluster,
		workers:           make([]*workerState, len(workers)),
		slot:              make(map[int]int, len(workers)),
		clusters:          make([]clusterState, clusters),
		dispatchThreshold: defaultDispatchThreshold,
		donorMinimum:      defaultDonorMinimum,
		surplusTolerance:  defaultSurplusTolerance,
	}
	for _, opt := range opts {
		opt(b)
	}

	b.byLoad = newIndexedHeap(len(workers), func(i, j int) bool {
		ei, ej := b.workers[i].estimate(), b.workers[j].estimate()
		if ei != ej {
			return ei < ej
		}
		return b.workers[i].rank < b.workers[j].rank
	})
	b.byBound = newIndexedHeap(len(workers), func(i, j int) bool {
		wi, wj := b.workers[i], b.workers[j]
		if wi.bound != wj.bound {
			return b.sense.Better(wi.bound, wj.bound)
		}
		return wi.rank < wj.rank
	})

	for i, r := range workers {
		b.workers[i] = &workerState{rank: r, bound: sense.Worst()}
		b.slot[r] = i
		b.byLoad.set(i, true)
	}
	for c := range b.clusters {
		b.clusters[c].bound = sense.Worst()
	}
	return b
}

// Workers returns the tracked worker ranks.
func (b *Balancer) Workers() []int {
	out := make([]int, len(b.workers))
	for i, w := range b.workers {
		out[i] = w.rank
	}
	return out
}

func (b *Balancer) lookup(rank int) (int, error) {
	i, ok := b.slot[rank]
	if !ok {
		return 0, fmt.Errorf("rank %d is not a worker of cluster %d", rank, b.cluster)
	}
	return i, nil
}

func (b *Balancer) fix(i int) {
	b.byLoad.set(i, true)
	b.byBound.set(i, b.workers[i].reported >= b.donorMinimum)
}

// UpdateWorker applies a load report pushed by a worker.
func (b *Balancer) UpdateWorker(rank int, r wire.LoadReport) error {
	i, err := b.lookup(rank)
	if err != nil {
		return err
	}
	w := b.workers[i]
	w.reported = r.Count
	w.bound = r.BoundUnder(b.sense)
	if r.Delivered > w.delivered {
		w.delivered = r.Delivered
	}
	b.fix(i)
	return nil
}

// NoteDispatched records n subproblems sent toward rank.
func (b *Balancer) NoteDispatched(rank, n int) error {
	i, err := b.lookup(rank)
	if err != nil {
		return err
	}
	b.workers[i].dispatched += uint64(n)
	b.fix(i)
	return nil
}

// Estimate returns the estimated load of rank.
func (b *Balancer) Estimate(rank int) int {
	i, ok := b.slot[rank]
	if !ok {
		return 0
	}
	return b.workers[i].estimate()
}

// Total returns the estimated load of the whole cluster's workers.
func (b *Balancer) Total() int {
	n := 0
	for _, w := range b.workers {
		n += w.estimate()
	}
	return n
}

// BestBound returns the best aggregate bound reported by any worker.
func (b *Balancer) BestBound() float64 {
	best := b.sense.Worst()
	for _, w := range b.workers {
		if w.reported > 0 {
			best = b.sense.Best(best, w.bound)
		}
	}
	return best
}

// NextDispatch returns the least loaded worker if its estimate is below
// the dispatch threshold.
func (b *Balancer) NextDispatch() (int, bool) {
	i, ok := b.byLoad.top()
	if !ok || b.workers[i].estimate() >= b.dispatchThreshold {
		return 0, false
	}
	return b.workers[i].rank, true
}

// Starving reports whether some worker has nothing to do.
func (b *Balancer) Starving() bool {
	i, ok := b.byLoad.top()
	return ok && b.workers[i].estimate() == 0
}

// PickDonor returns the worker holding the best bound among those with at
// least the donor minimum of items, excluding except.
func (b *Balancer) PickDonor(except int) (int, bool) {
	i, ok := b.byBound.top()
	if !ok {
		return 0, false
	}
	if b.workers[i].rank != except {
		return b.workers[i].rank, true
	}
	// The best donor is the asking worker; look one level down.
	best := -1
	for _, c := range []int{1, 2} {
		if c >= b.byBound.len() {
			continue
		}
		cand := b.byBound.items[c]
		if best < 0 || b.byBound.less(cand, best) {
			best = cand
		}
	}
	if best < 0 {
		return 0, false
	}
	return b.workers[best].rank, true
}

// UpdateCluster records a peer cluster's reported load.
func (b *Balancer) UpdateCluster(cluster int, r wire.LoadReport) {
	if cluster < 0 || cluster >= len(b.clusters) {
		return
	}
	b.clusters[cluster] = clusterState{
		count: r.Count,
		bound: r.BoundUnder(b.sense),
		known: true,
	}
}

// ClusterLoad returns the last load reported for cluster.
func (b *Balancer) ClusterLoad(cluster int) (int, bool) {
	if cluster < 0 || cluster >= len(b.clusters) {
		return 0, false
	}
	c := b.clusters[cluster]
	return c.count, c.known
}

// Richest returns the peer cluster with the highest reported load, ties
// to the lowest cluster index. It reports false when no peer has work.
func (b *Balancer) Richest() (int, bool) {
	best, load := -1, 0
	for c, s := range b.clusters {
		if c == b.cluster || !s.known {
			continue
		}
		if s.count > load {
			best, load = c, s.count
		}
	}
	return best, best >= 0
}

// Surplus decides whether the cluster, holding own items in total, should
// forward work to a peer. It returns the lightest known peer and how many
// items would even the two out. Nothing is forwarded unless own exceeds
// the known average by the surplus tolerance.
func (b *Balancer) Surplus(own int) (cluster, count int, ok bool) {
	total, known := own, 1
	lightest, lightLoad := -1, math.MaxInt
	for c, s := range b.clusters {
		if c == b.cluster || !s.known {
			continue
		}
		total += s.count
		known++
		if s.count < lightLoad {
			lightest, lightLoad = c, s.count
		}
	}
	if lightest < 0 {
		return 0, 0, false
	}
	avg := float64(total) / float64(known)
	if float64(own) <= avg*(1+b.surplusTolerance) || lightLoad >= own {
		return 0, 0, false
	}
	count = (own - lightLoad) / 2
	if count < 1 {
		return 0, 0, false
	}
	return lightest, count, true
}

// NoteForwarded adds n items to a peer cluster's estimate until its next
// report arrives.
func (b *Balancer) NoteForwarded(cluster, n int) {
	if cluster < 0 || cluster >= len(b.clusters) {
		return
	}
	b.clusters[cluster].count += n
}
