package problem

import "fmt"

type refKind uint8

const (
	refNone refKind = iota
	refLocal
	refRemote
)

// Ref says where the subproblem behind a token lives. It is either Local,
// carrying an arena handle valid only on the owning process, or Remote,
// carrying only the owner rank.
type Ref struct {
	kind   refKind
	handle Handle
	owner  int
}

// LocalRef builds a ref to a subproblem held in this process's arena.
func LocalRef(h Handle) Ref {
	return Ref{kind: refLocal, handle: h}
}

// RemoteRef builds a ref to a subproblem held by another process.
func RemoteRef(owner int) Ref {
	return Ref{kind: refRemote, owner: owner}
}

// Local returns the arena handle for a Local ref.
func (r Ref) Local() (Handle, bool) {
	if r.kind != refLocal {
		return Handle{}, false
	}
	return r.handle, true
}

// Remote returns the owner rank for a Remote ref.
func (r Ref) Remote() (int, bool) {
	if r.kind != refRemote {
		return 0, false
	}
	return r.owner, true
}

// String describes the ref.
func (r Ref) String() string {
	switch r.kind {
	case refLocal:
		return "local"
	case refRemote:
		return fmt.Sprintf("remote(%d)", r.owner)
	default:
		return "none"
	}
}

// Token is a lightweight summary of work held somewhere in the world. Hubs
// keep tokens so they can make load and pruning decisions without moving
// payloads.
type Token struct {
	ID          ID
	Owner       int
	ChildIndex  int
	Represented int
	Bound       float64
	Ref         Ref
}

// String describes the token.
func (t Token) String() string {
	return fmt.Sprintf("token{%s owner=%d child=%d bound=%g %s}",
		t.ID, t.Owner, t.ChildIndex, t.Bound, t.Ref)
}
