// Package termination detects when a distributed search has run out of
// work.
//
// Every process keeps a [Tracker] of the work-bearing messages it sent and
// received, per channel, and a dirty flag raised by every counted receipt.
// The coordinator starts a round by polling the hubs; each hub polls its
// workers and child hubs, merges their [Report]s with its own and passes
// the result up the hub tree. The coordinator's [Detector] declares
// termination only when every process is quiescent, nobody received
// anything since the previous round, every channel balances and nothing
// reached the coordinator while the round was running. Any other outcome
// leaves the verdict pending and asks for another round.
//
// Drain rounds use the same machinery without the quiescence requirement:
// while search is paused for a checkpoint, a clean drain round proves no
// work is in flight.
package termination
