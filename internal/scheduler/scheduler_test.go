package scheduler

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func TestStep_HighBeforeWorker(t *testing.T) {
	s := New()
	var order []string
	record := func(name string) func(context.Context) error {
		return func(context.Context) error {
			order = append(order, name)
			return nil
		}
	}
	s.Add(Task{Name: "search", Group: GroupWorker, Run: record("search")})
	s.Add(Task{Name: "pump", Group: GroupHigh, Run: record("pump")})
	s.Add(Task{Name: "hub", Group: GroupHigh, Run: record("hub")})

	for i := 0; i < 2; i++ {
		if ran, err := s.Step(context.Background()); !ran || err != nil {
			t.Fatalf("Step() = %v, %v", ran, err)
		}
	}
	want := "pump,hub,search,pump,hub,search"
	if got := strings.Join(order, ","); got != want {
		t.Errorf("order = %s, want %s", got, want)
	}
}

func TestStep_OneWorkerTaskPerPassRoundRobin(t *testing.T) {
	s := New()
	var order []string
	for _, name := range []string{"a", "b", "c"} {
		s.Add(Task{Name: name, Group: GroupWorker, Run: func(context.Context) error {
			order = append(order, name)
			return nil
		}})
	}
	for i := 0; i < 5; i++ {
		s.Step(context.Background())
	}
	if got := strings.Join(order, ""); got != "abcab" {
		t.Errorf("order = %s, want abcab", got)
	}
}

func TestStep_SkipsUnready(t *testing.T) {
	s := New()
	readyA := false
	var order []string
	s.Add(Task{Name: "a", Group: GroupWorker, Ready: func() bool { return readyA }, Run: func(context.Context) error {
		order = append(order, "a")
		return nil
	}})
	s.Add(Task{Name: "b", Group: GroupWorker, Run: func(context.Context) error {
		order = append(order, "b")
		return nil
	}})
	s.Step(context.Background())
	readyA = true
	s.Step(context.Background())
	s.Step(context.Background())
	if got := strings.Join(order, ""); got != "bab" {
		t.Errorf("order = %s, want bab", got)
	}
}

func TestRun_WaitsWhenIdle(t *testing.T) {
	s := New()
	work := 3
	s.Add(Task{
		Name:  "search",
		Group: GroupWorker,
		Ready: func() bool { return work > 0 },
		Run: func(context.Context) error {
			work--
			return nil
		},
	})
	waits := 0
	err := s.Run(context.Background(),
		func() bool { return waits == 2 },
		func(context.Context) error {
			waits++
			return nil
		})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if work != 0 {
		t.Errorf("work left = %d, want 0", work)
	}
	st := s.Stats()
	if st.Runs["search"] != 3 {
		t.Errorf("Runs[search] = %d, want 3", st.Runs["search"])
	}
	if st.Passes != 5 {
		t.Errorf("Passes = %d, want 5", st.Passes)
	}
}

func TestRun_PropagatesErrors(t *testing.T) {
	s := New()
	boom := errors.New("boom")
	s.Add(Task{Name: "pump", Group: GroupHigh, Run: func(context.Context) error { return boom }})
	err := s.Run(context.Background(), func() bool { return false }, func(context.Context) error { return nil })
	if !errors.Is(err, boom) {
		t.Errorf("err = %v, want %v", err, boom)
	}
	if !strings.Contains(err.Error(), "pump") {
		t.Errorf("err = %v, want the task name", err)
	}

	s = New()
	err = s.Run(context.Background(), func() bool { return false }, func(ctx context.Context) error {
		return context.Canceled
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("wait err = %v, want context.Canceled", err)
	}
}

func TestAdd_Invalid(t *testing.T) {
	s := New()
	if err := s.Add(Task{Name: "x"}); err == nil {
		t.Error("task without Run accepted")
	}
	if err := s.Add(Task{Name: "x", Group: Group(7), Run: func(context.Context) error { return nil }}); err == nil {
		t.Error("task with unknown group accepted")
	}
}
