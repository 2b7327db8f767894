// Package scatter decides when a worker releases a child subproblem instead
// of keeping it.
//
// The release probability is a clamped linear ramp of the worker's load
// ratio (pending items over a target load). Below the low watermark it is
// the minimum probability, above the high watermark the maximum, and in
// between it rises linearly. A released child goes to the worker's own hub,
// or with a second independent draw to a uniformly chosen peer cluster's
// hub.
//
//	policy := scatter.NewPolicy(
//	    scatter.WithProbabilities(0.0, 0.6),
//	    scatter.WithWatermarks(0.5, 2.0),
//	    scatter.WithTargetLoad(16),
//	)
//	d := policy.Decide(pending, cluster, clusters, rng)
//
// A Policy is immutable after construction and safe for concurrent use.
package scatter
