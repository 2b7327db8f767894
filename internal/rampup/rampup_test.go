package rampup

import (
	"context"
	"errors"
	"testing"

	"github.com/Iron-Ham/bnbhub/internal/comm"
	"github.com/Iron-Ham/bnbhub/internal/pool"
	"github.com/Iron-Ham/bnbhub/internal/problem"
)

func TestStopRule_Done(t *testing.T) {
	tests := []struct {
		name    string
		rule    StopRule
		size    int
		created int
		want    bool
	}{
		{"either size", StopRule{PoolFactor: 2, MinCreated: 100, Mode: StopEither}, 8, 10, true},
		{"either count", StopRule{PoolFactor: 2, MinCreated: 100, Mode: StopEither}, 3, 100, true},
		{"either neither", StopRule{PoolFactor: 2, MinCreated: 100, Mode: StopEither}, 7, 99, false},
		{"both only size", StopRule{PoolFactor: 2, MinCreated: 100, Mode: StopBoth}, 8, 10, false},
		{"both", StopRule{PoolFactor: 2, MinCreated: 100, Mode: StopBoth}, 8, 100, true},
		{"both size disabled", StopRule{MinCreated: 5, Mode: StopBoth}, 0, 5, true},
		{"max created", StopRule{PoolFactor: 100, MaxCreated: 20, Mode: StopBoth}, 1, 20, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.rule.Done(tt.size, tt.created, 4); got != tt.want {
				t.Errorf("Done(%d, %d, 4) = %v, want %v", tt.size, tt.created, got, tt.want)
			}
		})
	}
}

func TestStopRule_Validate(t *testing.T) {
	if err := (StopRule{PoolFactor: 1, Mode: StopEither}).Validate(); err != nil {
		t.Errorf("valid rule rejected: %v", err)
	}
	bad := []StopRule{
		{Mode: StopEither},
		{PoolFactor: -1, Mode: StopEither},
		{PoolFactor: 1, Mode: "sometimes"},
	}
	for _, r := range bad {
		if r.Validate() == nil {
			t.Errorf("%+v should be invalid", r)
		}
	}
}

// binaryTree expands node n into 2n+1 and 2n+2 up to limit.
func binaryTree(p *pool.Pool[int], limit int) Step[int] {
	return func(_ context.Context, n int, _ float64) (int, error) {
		created := 0
		for _, c := range []int{2*n + 1, 2*n + 2} {
			if c < limit {
				p.Insert(c, float64(c))
				created++
			}
		}
		return created, nil
	}
}

func TestRunner_StopsOnPoolFactor(t *testing.T) {
	p := pool.New[int](pool.Best, problem.Minimize)
	r := NewRunner(p, StopRule{PoolFactor: 2, Mode: StopEither}, 4)
	r.Seed(0, 0)
	out, err := r.Run(context.Background(), binaryTree(p, 1000))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out.Exhausted || r.Phase() != PhaseCrossover {
		t.Errorf("outcome %+v phase %v, want crossover", out, r.Phase())
	}
	if out.PoolSize != 8 || p.Size() != 8 {
		t.Errorf("PoolSize = %d, want 8", out.PoolSize)
	}
	if out.Created != 15 {
		t.Errorf("Created = %d, want 15", out.Created)
	}
}

func TestRunner_TreeExhausted(t *testing.T) {
	p := pool.New[int](pool.Depth, problem.Minimize)
	r := NewRunner(p, StopRule{PoolFactor: 100, Mode: StopEither}, 4)
	r.Seed(0, 0)
	out, err := r.Run(context.Background(), binaryTree(p, 7))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !out.Exhausted || r.Phase() != PhaseFinished {
		t.Errorf("outcome %+v phase %v, want finished", out, r.Phase())
	}
	if _, err := r.Crossover(1, 0, func(int, float64) {}, nil); err == nil {
		t.Error("crossover after exhaustion should fail")
	}
}

func TestRunner_StepError(t *testing.T) {
	p := pool.New[int](pool.Best, problem.Minimize)
	r := NewRunner(p, StopRule{MinCreated: 10, Mode: StopEither}, 2)
	r.Seed(0, 0)
	boom := errors.New("bound failed")
	_, err := r.Run(context.Background(), func(context.Context, int, float64) (int, error) {
		return 0, boom
	})
	if !errors.Is(err, boom) {
		t.Errorf("err = %v, want %v", err, boom)
	}
}

func TestRunner_IdenticalReplicas(t *testing.T) {
	run := func() []int {
		p := pool.New[int](pool.Best, problem.Minimize)
		r := NewRunner(p, StopRule{PoolFactor: 3, MinCreated: 20, Mode: StopBoth}, 3)
		r.Seed(0, 0)
		if _, err := r.Run(context.Background(), binaryTree(p, 500)); err != nil {
			t.Fatal(err)
		}
		var items []int
		p.Drain(func(n int, _ float64) { items = append(items, n) })
		return items
	}
	a, b := run(), run()
	if len(a) != len(b) {
		t.Fatalf("replica sizes differ: %d vs %d", len(a), len(b))
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("replicas differ at %d: %d vs %d", i, a[i], b[i])
		}
	}
}

func TestSkipFactor(t *testing.T) {
	tests := []struct{ workers, want int }{
		{1, 1}, {2, 1}, {3, 2}, {4, 3}, {6, 5}, {10, 9},
	}
	for _, tt := range tests {
		if got := SkipFactor(tt.workers); got != tt.want {
			t.Errorf("SkipFactor(%d) = %d, want %d", tt.workers, got, tt.want)
		}
		if gcd(SkipFactor(tt.workers), tt.workers) != 1 {
			t.Errorf("SkipFactor(%d) not coprime", tt.workers)
		}
	}
}

func TestCrossover_Scenario(t *testing.T) {
	wantSeq := []int{0, 3, 2, 1, 0, 3, 2, 1, 0, 3}
	for k, w := range wantSeq {
		if got := Assign(k, 3, 4); got != w {
			t.Errorf("Assign(%d, 3, 4) = %d, want %d", k, got, w)
		}
	}

	loads := map[int]int{}
	for self := 0; self < 4; self++ {
		p := pool.New[int](pool.Breadth, problem.Minimize)
		for i := 0; i < 10; i++ {
			p.Insert(i, 0)
		}
		n, err := Crossover(p, 3, 4, self, func(int, float64) {}, nil)
		if err != nil {
			t.Fatal(err)
		}
		loads[self] = n
		if !p.Empty() {
			t.Errorf("pool not drained for worker %d", self)
		}
	}
	want := map[int]int{0: 3, 1: 2, 2: 2, 3: 3}
	for w, n := range want {
		if loads[w] != n {
			t.Errorf("worker %d got %d items, want %d", w, loads[w], n)
		}
	}
}

func TestCrossover_Bijection(t *testing.T) {
	for workers := 1; workers <= 9; workers++ {
		for n := 0; n <= 40; n += 7 {
			skip := SkipFactor(workers)
			owner := make(map[int]int)
			total := 0
			for self := 0; self < workers; self++ {
				p := pool.New[int](pool.Best, problem.Maximize)
				for i := 0; i < n; i++ {
					p.Insert(i, float64(i%5))
				}
				discarded := 0
				kept, _ := Crossover(p, skip, workers, self,
					func(item int, _ float64) {
						if prev, dup := owner[item]; dup {
							t.Errorf("item %d kept by %d and %d", item, prev, self)
						}
						owner[item] = self
					},
					func(int) { discarded++ })
				if kept+discarded != n {
					t.Errorf("worker %d: kept %d + discarded %d != %d", self, kept, discarded, n)
				}
				total += kept
			}
			if total != n || len(owner) != n {
				t.Errorf("W=%d N=%d: %d items assigned, want %d", workers, n, total, n)
			}
		}
	}
}

func TestCrossover_RejectsNonCoprime(t *testing.T) {
	p := pool.New[int](pool.Best, problem.Minimize)
	if _, err := Crossover(p, 2, 4, 0, func(int, float64) {}, nil); err == nil {
		t.Error("skip 2 with 4 workers should fail")
	}
}

func TestAgreeSkipFactor(t *testing.T) {
	world, _ := comm.NewWorld(3)
	got := make([]int, 3)
	done := make(chan error, 3)
	for r := 0; r < 3; r++ {
		go func(rank int) {
			s, err := AgreeSkipFactor(context.Background(), world.Endpoint(rank), 7)
			got[rank] = s
			done <- err
		}(r)
	}
	for i := 0; i < 3; i++ {
		if err := <-done; err != nil {
			t.Fatal(err)
		}
	}
	for r, s := range got {
		if s != 6 {
			t.Errorf("rank %d skip = %d, want 6", r, s)
		}
	}
}
