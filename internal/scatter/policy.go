package scatter

import (
	"fmt"
	"math"
)

// Default policy values.
const (
	defaultMinProb          = 0.0
	defaultMaxProb          = 0.5
	defaultLowWatermark     = 0.5
	defaultHighWatermark    = 2.0
	defaultTargetLoad       = 16
	defaultInterClusterProb = 0.1
)

// Option configures a Policy.
type Option func(*Policy)

// WithProbabilities sets the release probability range.
func WithProbabilities(minProb, maxProb float64) Option {
	return func(p *Policy) {
		p.minProb = minProb
		p.maxProb = maxProb
	}
}

// WithWatermarks sets the load ratios at which the probability starts and
// stops rising.
func WithWatermarks(low, high float64) Option {
	return func(p *Policy) {
		p.lowWatermark = low
		p.highWatermark = high
	}
}

// WithTargetLoad sets the pending count that corresponds to load ratio 1.
func WithTargetLoad(n int) Option {
	return func(p *Policy) { p.targetLoad = n }
}

// WithInterClusterProb sets the probability that a released child goes to
// another cluster's hub instead of the worker's own.
func WithInterClusterProb(prob float64) Option {
	return func(p *Policy) { p.interClusterProb = prob }
}

// Policy maps a worker's pending count to a release decision.
type Policy struct {
	minProb          float64
	maxProb          float64
	lowWatermark     float64
	highWatermark    float64
	targetLoad       int
	interClusterProb float64
}

// NewPolicy creates a Policy with the given options. Unset options use
// defaults.
func NewPolicy(opts ...Option) (*Policy, error) {
	p := &Policy{
		minProb:          defaultMinProb,
		maxProb:          defaultMaxProb,
		lowWatermark:     defaultLowWatermark,
		highWatermark:    defaultHighWatermark,
		targetLoad:       defaultTargetLoad,
		interClusterProb: defaultInterClusterProb,
	}
	for _, opt := range opts {
		opt(p)
	}
	if err := p.validate(); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Policy) validate() error {
	inUnit := func(v float64) bool { return v >= 0 && v <= 1 }
	switch {
	case !inUnit(p.minProb) || !inUnit(p.maxProb) || p.minProb > p.maxProb:
		return fmt.Errorf("scatter probabilities must satisfy 0 <= min <= max <= 1, got [%v, %v]", p.minProb, p.maxProb)
	case p.lowWatermark < 0 || p.highWatermark < p.lowWatermark:
		return fmt.Errorf("scatter watermarks must satisfy 0 <= low <= high, got [%v, %v]", p.lowWatermark, p.highWatermark)
	case p.targetLoad < 1:
		return fmt.Errorf("scatter target load must be at least 1, got %d", p.targetLoad)
	case !inUnit(p.interClusterProb):
		return fmt.Errorf("inter-cluster probability must be in [0, 1], got %v", p.interClusterProb)
	}
	return nil
}

// MinProb returns the lowest release probability.
func (p *Policy) MinProb() float64 { return p.minProb }

// MaxProb returns the highest release probability.
func (p *Policy) MaxProb() float64 { return p.maxProb }

// TargetLoad returns the pending count at load ratio 1.
func (p *Policy) TargetLoad() int { return p.targetLoad }

// Ratio returns the load ratio for a pending count.
func (p *Policy) Ratio(pending int) float64 {
	return float64(max(pending, 0)) / float64(p.targetLoad)
}

// Probability returns the release probability for a pending count. It is
// non-decreasing in pending and always in [MinProb, MaxProb].
func (p *Policy) Probability(pending int) float64 {
	r := p.Ratio(pending)
	switch {
	case r <= p.lowWatermark:
		return p.minProb
	case r >= p.highWatermark:
		return p.maxProb
	}
	frac := (r - p.lowWatermark) / (p.highWatermark - p.lowWatermark)
	prob := p.minProb + frac*(p.maxProb-p.minProb)
	return math.Min(math.Max(prob, p.minProb), p.maxProb)
}

// Decide draws a decision for one child. cluster is the worker's cluster
// and clusters the number of clusters; a peer hub is only chosen when more
// than one cluster exists.
func (p *Policy) Decide(pending, cluster, clusters int, rng Rand) Decision {
	prob := p.Probability(pending)
	if prob <= 0 || rng.Float64() >= prob {
		return Decision{Action: ActionKeep, Probability: prob, PeerCluster: -1}
	}
	if clusters > 1 && p.interClusterProb > 0 && rng.Float64() < p.interClusterProb {
		return Decision{
			Action:      ActionReleaseToPeerHub,
			Probability: prob,
			PeerCluster: PeerCluster(cluster, clusters, rng),
		}
	}
	return Decision{Action: ActionReleaseToHub, Probability: prob, PeerCluster: -1}
}

// PeerCluster picks a cluster other than own uniformly at random. It
// returns own when there is no other cluster.
func PeerCluster(own, clusters int, rng Rand) int {
	if clusters <= 1 {
		return own
	}
	c := rng.IntN(clusters - 1)
	if c >= own {
		c++
	}
	return c
}
