package hub

// indexedHeap is a binary heap of worker slots that supports updating or
// removing any slot in O(log n). pos[slot] is the slot's heap index, or -1
// when the slot is not in the heap.
type indexedHeap struct {
	items []int
	pos   []int
	less  func(a, b int) bool
}

func newIndexedHeap(slots int, less func(a, b int) bool) *indexedHeap {
	h := &indexedHeap{
		items: make([]int, 0, slots),
		pos:   make([]int, slots),
		less:  less,
	}
	for i := range h.pos {
		h.pos[i] = -1
	}
	return h
}

func (h *indexedHeap) len() int {
	return len(h.items)
}

func (h *indexedHeap) contains(slot int) bool {
	return h.pos[slot] >= 0
}

// top returns the root slot.
func (h *indexedHeap) top() (int, bool) {
	if len(h.items) == 0 {
		return 0, false
	}
	return h.items[0], true
}

// set inserts, repositions or removes slot.
func (h *indexedHeap) set(slot int, present bool) {
	switch {
	case present && !h.contains(slot):
		h.items = append(h.items, slot)
		h.pos[slot] = len(h.items) - 1
		h.up(len(h.items) - 1)
	case present:
		i := h.pos[slot]
		h.up(i)
		h.down(h.pos[slot])
	case h.contains(slot):
		h.remove(slot)
	}
}

func (h *indexedHeap) remove(slot int) {
	i := h.pos[slot]
	last := len(h.items) - 1
	h.swap(i, last)
	h.items = h.items[:last]
	h.pos[slot] = -1
	if i < last {
		moved := h.items[i]
		h.up(i)
		h.down(h.pos[moved])
	}
}

func (h *indexedHeap) swap(i, j int) {
	h.items[i], h.items[j] = h.items[j], h.items[i]
	h.pos[h.items[i]] = i
	h.pos[h.items[j]] = j
}

func (h *indexedHeap) up(i int) {
	for i > 0 {
		parent := (i - 1) / 2
		if !h.less(h.items[i], h.items[parent]) {
			return
		}
		h.swap(i, parent)
		i = parent
	}
}

func (h *indexedHeap) down(i int) {
	n := len(h.items)
	for {
		smallest := i
		for _, c := range []int{2*i + 1, 2*i + 2} {
			if c < n && h.less(h.items[c], h.items[smallest]) {
				smallest = c
			}
		}
		if smallest == i {
			return
		}
		h.swap(i, smallest)
		i = smallest
	}
}
