// Package wire defines what travels between engine processes.
//
// # Records
//
// Subproblems and tokens use a fixed big-endian binary layout behind a
// four-byte header (magic 0xB7B7, version, kind):
//
//	subproblem: creator int32 | serial uint64 | bound float64 | depth uint32 |
//	            state uint8 | childrenLeft uint32 | tokenCount uint32 |
//	            payloadLen uint32 | payload
//	token:      creator int32 | serial uint64 | owner int32 | childIndex uint32 |
//	            represented uint32 | bound float64
//
// The payload is produced by the application. Its maximum size is agreed
// once at startup. A [Codec] reuses one transfer [Buffer]; a payload that
// overflows it grows the buffer and reports the growth rather than failing.
// A record with a bad header, a truncated body or an unknown state is a
// fatal [errors.ProtocolError].
//
// # Control messages
//
// Load reports, hub and worker control, polls and checkpoint coordination
// are small JSON documents encoded with sonnet.
//
// # Channels
//
// Every message travels on a [Tag]. Work-bearing tags are [Tag.Counted] and
// balanced by termination detection.
package wire
