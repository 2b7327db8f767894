// Package engine runs a parallel branch-and-bound search over a world of
// simulated processes.
//
// Every process is a goroutine owning a private inbox, arena, pools and
// incumbent; processes share nothing but the message-passing world. A run
// proceeds in three stages:
//
//  1. Startup. Rank 0 broadcasts the problem instance and the negotiated
//     payload size; every other rank installs it.
//  2. Ramp-up. Every process expands the same root with the same ordering
//     until the stop rule fires, agrees on the incumbent and a skip factor,
//     and keeps its crossover share of the pool. A restart from checkpoint
//     files replaces this stage.
//  3. Steady state. A cooperative scheduler interleaves the message pump,
//     hub balancing, pruning, load reporting and termination or checkpoint
//     coordination with one search step at a time. Workers release children
//     to hubs according to the scatter policy; hubs dispatch them to starving
//     workers and forward surplus between clusters.
//
// The run ends when the coordinator's termination rounds find every process
// idle with no work in flight, or when an abort (context cancellation, the
// abort file, the wall-clock limit or a fatal protocol error) travels
// through the hubs to every process.
package engine
