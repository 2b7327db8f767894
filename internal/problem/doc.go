// Package problem defines the data model shared by every part of the
// branch-and-bound engine: subproblems, the arena that owns them, tokens
// that stand in for subproblems held elsewhere, the optimization sense, and
// the Application contract that supplies the search-domain logic.
//
// # Ownership
//
// A [Subproblem] always has exactly one owner: a pool, a token store, or a
// message in flight. Pools and stores never hold pointers; they hold
// generation-checked [Handle]s into an [Arena]. Freeing a handle bumps the
// slot generation, so a recycled slot can never be reached through an old
// handle.
//
// # Tokens
//
// A [Token] summarizes a subproblem that lives on some process. Its [Ref] is
// a tagged union: a Local ref carries an arena handle and is meaningful only
// on the process that created it; a Remote ref carries only the owner rank.
// Wire records never include handles.
//
// # Application
//
// The engine never looks inside a subproblem payload. Everything
// domain-specific goes through [Application]:
//
//	type Application interface {
//	    Sense() Sense
//	    Root() (any, error)
//	    Bound(sp *Subproblem) error
//	    Children(sp *Subproblem) int
//	    Branch(sp *Subproblem, child int) (any, error)
//	    ...
//	}
//
// # Thread Safety
//
// Nothing in this package is safe for concurrent use. Each engine process
// owns its own arena and application instance.
package problem
