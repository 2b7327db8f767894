// Package pool provides the ordered containers that hold subproblems and
// tokens on a process.
//
// A [Pool] has a removal policy fixed at construction:
//
//   - [Depth]: last in, first out.
//   - [Breadth]: first in, first out.
//   - [Best]: best bound first under the optimization sense, ties broken by
//     insertion order.
//
// Every ordering is total, so two pools fed the same sequence of inserts
// remove items in the same order. The pool maintains its [load.Object]
// incrementally: the count and the aggregate bound are updated on each
// operation without scanning the contents.
//
// Pools are not safe for concurrent use. Each process owns its pools.
package pool

import (
	"fmt"
	"strings"

	"github.com/Iron-Ham/bnbhub/internal/load"
	"github.com/Iron-Ham/bnbhub/internal/problem"
)

// Policy is the removal order of a pool.
type Policy int

const (
	// Best removes the item with the best bound first.
	Best Policy = iota
	// Depth removes the most recently inserted item first.
	Depth
	// Breadth removes the least recently inserted item first.
	Breadth
)

// String returns the configuration name of the policy.
func (p Policy) String() string {
	switch p {
	case Best:
		return "best"
	case Depth:
		return "depth"
	case Breadth:
		return "breadth"
	default:
		return "unknown"
	}
}

// ParsePolicy converts a configuration name to a Policy.
func ParsePolicy(s string) (Policy, error) {
	switch strings.ToLower(s) {
	case "best", "best-first", "bestfirst":
		return Best, nil
	case "depth", "depth-first", "depthfirst", "stack":
		return Depth, nil
	case "breadth", "breadth-first", "breadthfirst", "queue":
		return Breadth, nil
	default:
		return Best, fmt.Errorf("unknown pool policy %q", s)
	}
}

// ValidPolicies lists the accepted policy names.
func ValidPolicies() []string {
	return []string{"best", "depth", "breadth"}
}

type entry[T any] struct {
	item  T
	bound float64
	seq   uint64
}

// Pool is an ordered multiset of items, each carrying a bound.
type Pool[T any] struct {
	policy Policy
	sense  problem.Sense
	seq    uint64

	// items is a stack for Depth, a ring starting at head for Breadth and a
	// binary heap for Best.
	items []entry[T]
	head  int

	// best is the running best bound per stack level for Depth.
	best []float64
	// window is a monotonic deque of candidates for the aggregate bound
	// for Breadth, starting at whead.
	window []entry[struct{}]
	whead  int

	load load.Object
}

// New creates an empty pool.
func New[T any](policy Policy, sense problem.Sense) *Pool[T] {
	return &Pool[T]{
		policy: policy,
		sense:  sense,
		load:   load.New(sense),
	}
}

// Policy returns the removal policy.
func (p *Pool[T]) Policy() Policy { return p.policy }

// Sense returns the optimization sense bounds are compared under.
func (p *Pool[T]) Sense() problem.Sense { return p.sense }

// Size returns the number of resident items.
func (p *Pool[T]) Size() int {
	return len(p.items) - p.head
}

// Empty reports whether the pool holds nothing.
func (p *Pool[T]) Empty() bool {
	return p.Size() == 0
}

// Load returns the pool's incrementally maintained load object. The caller
// must not modify it.
func (p *Pool[T]) Load() *load.Object {
	return &p.load
}

// Insert adds item with the given bound.
func (p *Pool[T]) Insert(item T, bound float64) {
	e := entry[T]{item: item, bound: bound, seq: p.seq}
	p.seq++

	switch p.policy {
	case Depth:
		p.items = append(p.items, e)
		top := bound
		if n := len(p.best); n > 0 {
			top = p.sense.Best(p.best[n-1], bound)
		}
		p.best = append(p.best, top)
	case Breadth:
		p.items = append(p.items, e)
		for len(p.window) > p.whead && !p.sense.Better(p.window[len(p.window)-1].bound, bound) {
			p.window = p.window[:len(p.window)-1]
		}
		p.window = append(p.window, entry[struct{}]{bound: bound, seq: e.seq})
	default:
		p.items = append(p.items, e)
		p.up(len(p.items) - 1)
	}
	p.refresh()
}

// Peek returns the next item without removing it.
func (p *Pool[T]) Peek() (T, float64, bool) {
	if p.Empty() {
		var zero T
		return zero, 0, false
	}
	e := p.items[p.next()]
	return e.item, e.bound, true
}

// Remove removes and returns the next item and its bound. Removing from an
// empty pool is a programming error and panics.
func (p *Pool[T]) Remove() (T, float64) {
	if p.Empty() {
		panic("pool: Remove on empty pool")
	}
	var e entry[T]
	switch p.policy {
	case Depth:
		n := len(p.items) - 1
		e = p.items[n]
		p.items[n] = entry[T]{}
		p.items = p.items[:n]
		p.best = p.best[:n]
	case Breadth:
		e = p.items[p.head]
		p.items[p.head] = entry[T]{}
		p.head++
		if p.whead < len(p.window) && p.window[p.whead].seq == e.seq {
			p.whead++
		}
		p.compact()
	default:
		n := len(p.items) - 1
		e = p.items[0]
		p.items[0] = p.items[n]
		p.items[n] = entry[T]{}
		p.items = p.items[:n]
		if n > 0 {
			p.down(0)
		}
	}
	p.refresh()
	return e.item, e.bound
}

// Prune keeps only the items for which keep returns true and reports how
// many were removed. Items are visited in storage order; keep may release
// resources owned by the items it rejects.
func (p *Pool[T]) Prune(keep func(item T, bound float64) bool) int {
	kept := make([]entry[T], 0, p.Size())
	for _, e := range p.items[p.head:] {
		if keep(e.item, e.bound) {
			kept = append(kept, e)
		}
	}
	removed := p.Size() - len(kept)
	if removed == 0 {
		return 0
	}
	p.rebuild(kept)
	return removed
}

// Drain removes every item in priority order, passing each to fn.
func (p *Pool[T]) Drain(fn func(item T, bound float64)) {
	for !p.Empty() {
		item, bound := p.Remove()
		if fn != nil {
			fn(item, bound)
		}
	}
}

// Each visits every item in storage order without removing anything.
func (p *Pool[T]) Each(fn func(item T, bound float64)) {
	for _, e := range p.items[p.head:] {
		fn(e.item, e.bound)
	}
}

func (p *Pool[T]) next() int {
	switch p.policy {
	case Depth:
		return len(p.items) - 1
	case Breadth:
		return p.head
	default:
		return 0
	}
}

func (p *Pool[T]) refresh() {
	bound := p.sense.Worst()
	if !p.Empty() {
		switch p.policy {
		case Depth:
			bound = p.best[len(p.best)-1]
		case Breadth:
			bound = p.window[p.whead].bound
		default:
			bound = p.items[0].bound
		}
	}
	p.load.SetHeld(p.Size(), bound)
}

// rebuild replaces the contents with kept, which must be in storage order.
func (p *Pool[T]) rebuild(kept []entry[T]) {
	p.items = kept
	p.head = 0
	p.best = p.best[:0]
	p.window = p.window[:0]
	p.whead = 0
	switch p.policy {
	case Depth:
		for i, e := range kept {
			top := e.bound
			if i > 0 {
				top = p.sense.Best(p.best[i-1], e.bound)
			}
			p.best = append(p.best, top)
		}
	case Breadth:
		for _, e := range kept {
			for len(p.window) > 0 && !p.sense.Better(p.window[len(p.window)-1].bound, e.bound) {
				p.window = p.window[:len(p.window)-1]
			}
			p.window = append(p.window, entry[struct{}]{bound: e.bound, seq: e.seq})
		}
	default:
		for i := len(p.items)/2 - 1; i >= 0; i-- {
			p.down(i)
		}
	}
	p.refresh()
}

// compact reclaims the consumed prefix of the Breadth ring once it
// dominates the backing arrays.
func (p *Pool[T]) compact() {
	if p.head > 32 && p.head*2 >= len(p.items) {
		n := copy(p.items, p.items[p.head:])
		clear(p.items[n:])
		p.items = p.items[:n]
		p.head = 0
	}
	if p.whead > 32 && p.whead*2 >= len(p.window) {
		n := copy(p.window, p.window[p.whead:])
		p.window = p.window[:n]
		p.whead = 0
	}
}

func (p *Pool[T]) less(i, j int) bool {
	a, b := p.items[i], p.items[j]
	if p.sense.Better(a.bound, b.bound) {
		return true
	}
	if p.sense.Better(b.bound, a.bound) {
		return false
	}
	return a.seq < b.seq
}

func (p *Pool[T]) up(i int) {
	for i > 0 {
		parent := (i - 1) / 2
		if !p.less(i, parent) {
			return
		}
		p.items[i], p.items[parent] = p.items[parent], p.items[i]
		i = parent
	}
}

func (p *Pool[T]) down(i int) {
	n := len(p.items)
	for {
		l := 2*i + 1
		if l >= n {
			return
		}
		m := l
		if r := l + 1; r < n && p.less(r, l) {
			m = r
		}
		if !p.less(m, i) {
			return
		}
		p.items[i], p.items[m] = p.items[m], p.items[i]
		i = m
	}
}
