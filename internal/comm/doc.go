// Package comm is the message-passing substrate engine processes run on.
//
// A [World] holds a fixed number of ranks. Each rank talks through its own
// [Endpoint]: tagged point-to-point messages into an unbounded inbox, and
// collectives (all-reduce, broadcast, barrier) that every rank must call in
// the same order. Finalize is a separate barrier. A rank that stops early
// calls [World.Leave], which counts toward Finalize and fails collectives,
// so no rank is left waiting on a peer that is gone.
package comm
