package knapsack

import (
	"encoding/binary"
	"fmt"

	"github.com/sugawarayuuta/sonnet"

	"github.com/Iron-Ham/bnbhub/internal/problem"
)

// Node is the payload of a knapsack subproblem: items before Next (in
// density order) are decided, Taken records which of them were packed.
type Node struct {
	Next   int
	Weight int
	Value  int
	Taken  []bool
}

// App implements problem.Application and problem.Checkpointer.
type App struct {
	inst   *Instance
	order  []int
	weight []int
	value  []int
}

var (
	_ problem.Application  = (*App)(nil)
	_ problem.Checkpointer = (*App)(nil)
)

// New creates an App holding inst.
func New(inst *Instance) *App {
	a := &App{}
	a.install(inst)
	return a
}

// Factory returns a problem.Factory that gives rank 0 the loaded instance
// and every other rank an empty App filled in by the startup broadcast.
func Factory(inst *Instance) problem.Factory {
	return func(rank int) (problem.Application, error) {
		if rank == 0 {
			if err := inst.Validate(); err != nil {
				return nil, err
			}
			return New(inst), nil
		}
		return &App{}, nil
	}
}

func (a *App) install(inst *Instance) {
	a.inst = inst
	a.order = densityOrder(inst.Items)
	a.weight = make([]int, len(a.order))
	a.value = make([]int, len(a.order))
	for k, i := range a.order {
		a.weight[k] = inst.Items[i].Weight
		a.value[k] = inst.Items[i].Value
	}
}

// Instance returns the installed instance.
func (a *App) Instance() *Instance {
	return a.inst
}

// Sense implements problem.Application.
func (a *App) Sense() problem.Sense {
	return problem.Maximize
}

// MarshalProblem implements problem.Application.
func (a *App) MarshalProblem() ([]byte, error) {
	if a.inst == nil {
		return nil, fmt.Errorf("knapsack: no instance loaded")
	}
	return sonnet.Marshal(a.inst)
}

// UnmarshalProblem implements problem.Application.
func (a *App) UnmarshalProblem(data []byte) error {
	var inst Instance
	if err := sonnet.Unmarshal(data, &inst); err != nil {
		return fmt.Errorf("knapsack: decode instance: %w", err)
	}
	if err := inst.Validate(); err != nil {
		return err
	}
	a.install(&inst)
	return nil
}

// MaxPackedSize implements problem.Application.
func (a *App) MaxPackedSize() int {
	return 3*binary.MaxVarintLen64 + (len(a.order)+7)/8
}

// Root implements problem.Application.
func (a *App) Root() (any, error) {
	if a.inst == nil {
		return nil, fmt.Errorf("knapsack: no instance loaded")
	}
	return &Node{Taken: make([]bool, len(a.order))}, nil
}

func (a *App) node(sp *problem.Subproblem) (*Node, error) {
	n, ok := sp.Payload.(*Node)
	if !ok {
		return nil, fmt.Errorf("knapsack: subproblem %s has payload %T", sp.ID, sp.Payload)
	}
	return n, nil
}

// Bound implements problem.Application with the fractional relaxation.
func (a *App) Bound(sp *problem.Subproblem) error {
	n, err := a.node(sp)
	if err != nil {
		return err
	}
	room := a.inst.Capacity - n.Weight
	bound := float64(n.Value)
	for k := n.Next; k < len(a.order) && room > 0; k++ {
		if a.weight[k] <= room {
			room -= a.weight[k]
			bound += float64(a.value[k])
			continue
		}
		bound += float64(a.value[k]) * float64(room) / float64(a.weight[k])
		break
	}
	sp.Bound = bound
	return nil
}

func (a *App) fits(n *Node) bool {
	return n.Weight+a.weight[n.Next] <= a.inst.Capacity
}

// Children implements problem.Application. A node whose next item fits
// has an include and an exclude child; otherwise only the exclude child.
func (a *App) Children(sp *problem.Subproblem) int {
	n, err := a.node(sp)
	if err != nil || n.Next >= len(a.order) {
		return 0
	}
	if a.fits(n) {
		return 2
	}
	return 1
}

// Branch implements problem.Application.
func (a *App) Branch(sp *problem.Subproblem, child int) (any, error) {
	n, err := a.node(sp)
	if err != nil {
		return nil, err
	}
	if n.Next >= len(a.order) {
		return nil, fmt.Errorf("knapsack: branch on leaf %s", sp.ID)
	}
	include := child == 0 && a.fits(n)
	if child < 0 || child >= a.Children(sp) {
		return nil, fmt.Errorf("knapsack: %s has no child %d", sp.ID, child)
	}

	out := &Node{
		Next:   n.Next + 1,
		Weight: n.Weight,
		Value:  n.Value,
		Taken:  append([]bool(nil), n.Taken...),
	}
	if include {
		out.Weight += a.weight[n.Next]
		out.Value += a.value[n.Next]
		out.Taken[n.Next] = true
	}
	return out, nil
}

// Solution implements problem.Application. Every node is a feasible
// packing.
func (a *App) Solution(sp *problem.Subproblem) (float64, bool) {
	n, err := a.node(sp)
	if err != nil {
		return 0, false
	}
	return float64(n.Value), true
}

// Pack implements problem.Application.
func (a *App) Pack(sp *problem.Subproblem, buf []byte) ([]byte, error) {
	n, err := a.node(sp)
	if err != nil {
		return nil, err
	}
	return appendNode(buf, n), nil
}

func appendNode(buf []byte, n *Node) []byte {
	buf = binary.AppendUvarint(buf, uint64(n.Next))
	buf = binary.AppendUvarint(buf, uint64(n.Weight))
	buf = binary.AppendUvarint(buf, uint64(n.Value))
	bits := make([]byte, (len(n.Taken)+7)/8)
	for i, t := range n.Taken {
		if t {
			bits[i/8] |= 1 << (i % 8)
		}
	}
	return append(buf, bits...)
}

// Unpack implements problem.Application.
func (a *App) Unpack(data []byte) (any, error) {
	var fields [3]uint64
	rest := data
	for i := range fields {
		v, n := binary.Uvarint(rest)
		if n <= 0 {
			return nil, fmt.Errorf("knapsack: truncated node")
		}
		fields[i] = v
		rest = rest[n:]
	}
	items := len(a.order)
	if len(rest) != (items+7)/8 {
		return nil, fmt.Errorf("knapsack: node carries %d bitmap bytes for %d items", len(rest), items)
	}
	if fields[0] > uint64(items) {
		return nil, fmt.Errorf("knapsack: node decides %d of %d items", fields[0], items)
	}
	n := &Node{
		Next:   int(fields[0]),
		Weight: int(fields[1]),
		Value:  int(fields[2]),
		Taken:  make([]bool, items),
	}
	for i := range n.Taken {
		n.Taken[i] = rest[i/8]&(1<<(i%8)) != 0
	}
	return n, nil
}

// Chosen returns the names of the items packed in a packed solution.
func (a *App) Chosen(packed []byte) ([]string, error) {
	v, err := a.Unpack(packed)
	if err != nil {
		return nil, err
	}
	n := v.(*Node)
	var names []string
	for k, taken := range n.Taken {
		if taken {
			names = append(names, a.inst.Items[a.order[k]].Name)
		}
	}
	return names, nil
}

// checkpointState identifies the instance a checkpoint was taken on.
type checkpointState struct {
	Name     string `json:"name"`
	Capacity int    `json:"capacity"`
	Items    int    `json:"items"`
}

func (a *App) state() checkpointState {
	return checkpointState{Name: a.inst.Name, Capacity: a.inst.Capacity, Items: len(a.inst.Items)}
}

// CheckpointWrite implements problem.Checkpointer.
func (a *App) CheckpointWrite() ([]byte, error) {
	return sonnet.Marshal(a.state())
}

// CheckpointRead implements problem.Checkpointer. It rejects checkpoints
// taken on a different instance.
func (a *App) CheckpointRead(data []byte) error {
	var s checkpointState
	if err := sonnet.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("knapsack: decode checkpoint state: %w", err)
	}
	if s != a.state() {
		return fmt.Errorf("knapsack: checkpoint is for instance %q (%d items, capacity %d)",
			s.Name, s.Items, s.Capacity)
	}
	return nil
}

// MergeGlobalData implements problem.Checkpointer. The instance is the
// only global state, so merging is the same check.
func (a *App) MergeGlobalData(data []byte) error {
	return a.CheckpointRead(data)
}
