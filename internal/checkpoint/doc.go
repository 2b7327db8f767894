// Package checkpoint persists per-rank engine state so a run can restart.
//
// Each rank writes its own file, rank-NNNN.ckpt, holding every subproblem
// resident on the rank, its incumbent and id sequence, and any application
// state. Writes go to a temporary file that is renamed into place under a
// per-rank flock. On restart every rank reads and validates its file; the
// engine falls back to a fresh ramp-up on all ranks if any rank's file is
// missing, corrupt or from a different world shape.
package checkpoint
