package pool

import (
	"math"
	"math/rand/v2"
	"testing"

	"github.com/Iron-Ham/bnbhub/internal/problem"
)

func TestPool_Order(t *testing.T) {
	bounds := []float64{5, 3, 8, 3, 1}
	tests := []struct {
		name   string
		policy Policy
		sense  problem.Sense
		want   []int
	}{
		{"depth is lifo", Depth, problem.Minimize, []int{4, 3, 2, 1, 0}},
		{"breadth is fifo", Breadth, problem.Minimize, []int{0, 1, 2, 3, 4}},
		{"best minimize, ties by insertion", Best, problem.Minimize, []int{4, 1, 3, 0, 2}},
		{"best maximize", Best, problem.Maximize, []int{2, 0, 1, 3, 4}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := New[int](tt.policy, tt.sense)
			for i, b := range bounds {
				p.Insert(i, b)
			}
			var got []int
			p.Drain(func(item int, _ float64) { got = append(got, item) })
			if len(got) != len(tt.want) {
				t.Fatalf("drained %d items, want %d", len(got), len(tt.want))
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("order = %v, want %v", got, tt.want)
					break
				}
			}
		})
	}
}

func TestPool_Accounting(t *testing.T) {
	for _, policy := range []Policy{Best, Depth, Breadth} {
		for _, sense := range []problem.Sense{problem.Minimize, problem.Maximize} {
			t.Run(policy.String()+"/"+sense.String(), func(t *testing.T) {
				rng := rand.New(rand.NewPCG(uint64(policy)+1, uint64(sense)+7))
				p := New[int](policy, sense)
				resident := map[int]float64{}
				next := 0
				for step := 0; step < 2000; step++ {
					if p.Empty() || rng.IntN(3) > 0 {
						b := float64(rng.IntN(50))
						p.Insert(next, b)
						resident[next] = b
						next++
					} else {
						item, b := p.Remove()
						if resident[item] != b {
							t.Fatalf("Remove() bound = %v, want %v", b, resident[item])
						}
						delete(resident, item)
					}
					if step%97 == 0 {
						p.Prune(func(item int, _ float64) bool {
							if item%5 == 0 {
								delete(resident, item)
								return false
							}
							return true
						})
					}

					if got := p.Load().Count(); got != len(resident) {
						t.Fatalf("step %d: Load().Count() = %d, want %d", step, got, len(resident))
					}
					if p.Size() != len(resident) {
						t.Fatalf("step %d: Size() = %d, want %d", step, p.Size(), len(resident))
					}
					want := sense.Worst()
					for _, b := range resident {
						want = sense.Best(want, b)
					}
					if got := p.Load().AggregateBound(); got != want {
						t.Fatalf("step %d: AggregateBound() = %v, want %v", step, got, want)
					}
				}
			})
		}
	}
}

func TestPool_RemoveEmptyPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("Remove on an empty pool should panic")
		}
	}()
	New[int](Best, problem.Minimize).Remove()
}

func TestPool_Peek(t *testing.T) {
	p := New[string](Best, problem.Maximize)
	if _, _, ok := p.Peek(); ok {
		t.Error("Peek on empty pool should report false")
	}
	p.Insert("low", 1)
	p.Insert("high", 9)
	item, bound, ok := p.Peek()
	if !ok || item != "high" || bound != 9 {
		t.Errorf("Peek() = %q, %v, %v, want high, 9, true", item, bound, ok)
	}
	if p.Size() != 2 {
		t.Errorf("Size() = %d after Peek, want 2", p.Size())
	}
}

func TestPool_EmptyLoad(t *testing.T) {
	p := New[int](Depth, problem.Minimize)
	p.Insert(1, 4)
	p.Remove()
	if !math.IsInf(p.Load().AggregateBound(), 1) {
		t.Errorf("AggregateBound() = %v, want +Inf", p.Load().AggregateBound())
	}
}

func TestPool_PruneKeepsOrder(t *testing.T) {
	p := New[int](Breadth, problem.Minimize)
	for i := 0; i < 10; i++ {
		p.Insert(i, float64(10-i))
	}
	removed := p.Prune(func(item int, _ float64) bool { return item%2 == 1 })
	if removed != 5 {
		t.Errorf("Prune() = %d, want 5", removed)
	}
	var got []int
	p.Drain(func(item int, _ float64) { got = append(got, item) })
	want := []int{1, 3, 5, 7, 9}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("order after prune = %v, want %v", got, want)
		}
	}
}

func TestParsePolicy(t *testing.T) {
	for _, name := range ValidPolicies() {
		p, err := ParsePolicy(name)
		if err != nil {
			t.Fatalf("ParsePolicy(%q): %v", name, err)
		}
		if p.String() != name {
			t.Errorf("ParsePolicy(%q).String() = %q", name, p.String())
		}
	}
	if _, err := ParsePolicy("random"); err == nil {
		t.Error("ParsePolicy should reject unknown policies")
	}
}
