package problem

// Handle refers to a subproblem stored in an Arena. The zero Handle is never
// valid.
type Handle struct {
	index uint32
	gen   uint32
}

// IsZero reports whether h is the zero handle.
func (h Handle) IsZero() bool {
	return h.gen == 0
}

type slot struct {
	sp   Subproblem
	gen  uint32
	live bool
}

// Arena owns every subproblem resident on one process.
type Arena struct {
	slots []slot
	free  []uint32
	live  int
}

// NewArena creates an empty arena with room for capacity subproblems
// before it has to grow.
func NewArena(capacity int) *Arena {
	return &Arena{
		slots: make([]slot, 0, capacity),
	}
}

// Alloc moves sp into the arena and returns its handle.
func (a *Arena) Alloc(sp Subproblem) Handle {
	var idx uint32
	if n := len(a.free); n > 0 {
		idx = a.free[n-1]
		a.free = a.free[:n-1]
	} else {
		idx = uint32(len(a.slots))
		a.slots = append(a.slots, slot{})
	}
	s := &a.slots[idx]
	s.gen++
	if s.gen == 0 {
		s.gen = 1
	}
	s.sp = sp
	s.live = true
	a.live++
	return Handle{index: idx, gen: s.gen}
}

// Get resolves h. The returned pointer is valid until h is freed.
func (a *Arena) Get(h Handle) (*Subproblem, bool) {
	if h.gen == 0 || int(h.index) >= len(a.slots) {
		return nil, false
	}
	s := &a.slots[h.index]
	if !s.live || s.gen != h.gen {
		return nil, false
	}
	return &s.sp, true
}

// MustGet resolves h and panics on a stale handle. A stale handle inside
// the engine means an ownership bug.
func (a *Arena) MustGet(h Handle) *Subproblem {
	sp, ok := a.Get(h)
	if !ok {
		panic("problem: stale subproblem handle")
	}
	return sp
}

// Take removes the subproblem behind h from the arena and returns it by
// value.
func (a *Arena) Take(h Handle) (Subproblem, bool) {
	sp, ok := a.Get(h)
	if !ok {
		return Subproblem{}, false
	}
	out := *sp
	a.release(h.index)
	return out, true
}

// Free recycles h. Returns false for a stale handle.
func (a *Arena) Free(h Handle) bool {
	if _, ok := a.Get(h); !ok {
		return false
	}
	a.release(h.index)
	return true
}

func (a *Arena) release(idx uint32) {
	s := &a.slots[idx]
	s.sp = Subproblem{}
	s.live = false
	a.free = append(a.free, idx)
	a.live--
}

// Len returns the number of live subproblems.
func (a *Arena) Len() int {
	return a.live
}
