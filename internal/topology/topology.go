// Package topology computes the static partition of processes into
// clusters.
//
// Ranks are split into contiguous clusters of the configured size, the last
// one possibly smaller. The lowest rank of each cluster is its hub. A hub
// also works as a worker when its cluster is smaller than the configured
// hubs-don't-work threshold. Cluster 0's hub (rank 0) is the coordinator and
// the root of the binary reduction tree over clusters.
//
// Every query is a pure function of the three construction inputs, so every
// process computes the same answers without communicating.
package topology

import (
	"fmt"
	"hash/fnv"
)

// Topology is an immutable cluster partition.
type Topology struct {
	processes        int
	clusterSize      int
	hubsDontWorkSize int
	clusters         int
	// ordinals[r] is the dense worker number of rank r, or -1.
	ordinals []int
	// workers[k] is the rank of worker ordinal k.
	workers []int
}

// New builds the partition for processes ranks. hubsDontWorkSize is the
// cluster size at or above which hubs stop doing search work.
func New(processes, clusterSize, hubsDontWorkSize int) (*Topology, error) {
	if processes < 1 {
		return nil, fmt.Errorf("topology: processes must be at least 1, got %d", processes)
	}
	if clusterSize < 1 {
		return nil, fmt.Errorf("topology: cluster size must be at least 1, got %d", clusterSize)
	}
	if hubsDontWorkSize < 1 {
		return nil, fmt.Errorf("topology: hubs-don't-work size must be at least 1, got %d", hubsDontWorkSize)
	}
	t := &Topology{
		processes:        processes,
		clusterSize:      clusterSize,
		hubsDontWorkSize: hubsDontWorkSize,
		clusters:         (processes + clusterSize - 1) / clusterSize,
		ordinals:         make([]int, processes),
	}
	for r := 0; r < processes; r++ {
		t.ordinals[r] = -1
		if t.IsWorker(r) {
			t.ordinals[r] = len(t.workers)
			t.workers = append(t.workers, r)
		}
	}
	if len(t.workers) == 0 {
		return nil, fmt.Errorf("topology: %d processes in clusters of %d leave no workers", processes, clusterSize)
	}
	return t, nil
}

// Processes returns the total number of ranks.
func (t *Topology) Processes() int { return t.processes }

// Clusters returns the number of clusters.
func (t *Topology) Clusters() int { return t.clusters }

// ClusterOf returns the cluster containing rank r.
func (t *Topology) ClusterOf(r int) int {
	return r / t.clusterSize
}

// LeaderOf returns the hub rank of cluster c.
func (t *Topology) LeaderOf(c int) int {
	return c * t.clusterSize
}

// HubOf returns the hub rank responsible for rank r.
func (t *Topology) HubOf(r int) int {
	return t.LeaderOf(t.ClusterOf(r))
}

// ClusterSize returns the number of ranks in cluster c.
func (t *Topology) ClusterSize(c int) int {
	lo := c * t.clusterSize
	hi := min(lo+t.clusterSize, t.processes)
	return hi - lo
}

// HubWorks reports whether the hub of cluster c also does search work.
func (t *Topology) HubWorks(c int) bool {
	return t.ClusterSize(c) < t.hubsDontWorkSize
}

// IsHub reports whether r leads its cluster.
func (t *Topology) IsHub(r int) bool {
	return r%t.clusterSize == 0
}

// IsWorker reports whether r does search work. A hub is a worker only when
// its cluster is small enough.
func (t *Topology) IsWorker(r int) bool {
	if !t.IsHub(r) {
		return true
	}
	return t.HubWorks(t.ClusterOf(r))
}

// IsCoordinator reports whether r is the root of the reduction tree.
func (t *Topology) IsCoordinator(r int) bool {
	return r == 0
}

// WorkerIndexInCluster returns the position of r inside its cluster. The
// hub is position 0.
func (t *Topology) WorkerIndexInCluster(r int) int {
	return r - t.HubOf(r)
}

// GlobalRankOfWorker maps a cluster and a position inside it back to a rank.
// It is the inverse of ClusterOf and WorkerIndexInCluster.
func (t *Topology) GlobalRankOfWorker(c, idx int) int {
	return t.LeaderOf(c) + idx
}

// Members returns every rank of cluster c, hub first.
func (t *Topology) Members(c int) []int {
	lo := t.LeaderOf(c)
	out := make([]int, t.ClusterSize(c))
	for i := range out {
		out[i] = lo + i
	}
	return out
}

// WorkersInCluster returns the ranks of cluster c that do search work.
func (t *Topology) WorkersInCluster(c int) []int {
	var out []int
	for _, r := range t.Members(c) {
		if t.IsWorker(r) {
			out = append(out, r)
		}
	}
	return out
}

// TotalWorkers returns the number of ranks doing search work.
func (t *Topology) TotalWorkers() int {
	return len(t.workers)
}

// WorkerOrdinal returns the dense global worker number of r, or -1 when r
// does not work.
func (t *Topology) WorkerOrdinal(r int) int {
	if r < 0 || r >= t.processes {
		return -1
	}
	return t.ordinals[r]
}

// RankOfWorkerOrdinal is the inverse of WorkerOrdinal.
func (t *Topology) RankOfWorkerOrdinal(k int) int {
	return t.workers[k]
}

// HubParent returns the parent cluster of c in the reduction tree, or -1
// for the root.
func (t *Topology) HubParent(c int) int {
	if c == 0 {
		return -1
	}
	return (c - 1) / 2
}

// HubChildren returns the child clusters of c in the reduction tree.
func (t *Topology) HubChildren(c int) []int {
	var out []int
	for _, k := range []int{2*c + 1, 2*c + 2} {
		if k < t.clusters {
			out = append(out, k)
		}
	}
	return out
}

// Hubs returns every hub rank in cluster order.
func (t *Topology) Hubs() []int {
	out := make([]int, t.clusters)
	for c := range out {
		out[c] = t.LeaderOf(c)
	}
	return out
}

// Fingerprint identifies the partition. Checkpoints written under one
// partition are rejected under another.
func (t *Topology) Fingerprint() string {
	h := fnv.New64a()
	fmt.Fprintf(h, "%d/%d/%d", t.processes, t.clusterSize, t.hubsDontWorkSize)
	return fmt.Sprintf("%016x", h.Sum64())
}

// String describes the partition.
func (t *Topology) String() string {
	return fmt.Sprintf("topology{processes=%d clusters=%d workers=%d}",
		t.processes, t.clusters, t.TotalWorkers())
}
