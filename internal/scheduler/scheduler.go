// Package scheduler multiplexes the cooperative tasks of one engine
// process.
//
// Tasks belong to one of two groups. Every pass runs each ready task of
// the high group (message pump, hub balancing, incumbent pruning,
// termination and checkpoint coordination, load reporting) before a single
// ready task of the worker group, so control traffic is never starved by
// the search. Tasks run to completion; the only suspension point is the
// wait function the process supplies, which blocks until a message may
// have arrived or a tick elapses.
package scheduler

import (
	"context"
	"fmt"
	"time"
)

// Group is a task priority group.
type Group int

const (
	// GroupHigh tasks run on every pass before any worker task.
	GroupHigh Group = iota
	// GroupWorker tasks run one per pass, round robin.
	GroupWorker
)

// String returns the group name.
func (g Group) String() string {
	if g == GroupHigh {
		return "high"
	}
	return "worker"
}

// Task is one cooperative task.
type Task struct {
	Name  string
	Group Group
	// Ready reports whether Run has something to do. A nil Ready is always
	// ready.
	Ready func() bool
	// Run performs one bounded slice of work. It must not block.
	Run func(ctx context.Context) error
}

// Stats accumulates scheduling time.
type Stats struct {
	Passes uint64
	Busy   time.Duration
	Idle   time.Duration
	Runs   map[string]uint64
}

// Scheduler runs the tasks of one process. It is not safe for concurrent
// use.
type Scheduler struct {
	high   []Task
	worker []Task
	next   int
	stats  Stats
	now    func() time.Time
}

// New creates an empty scheduler.
func New() *Scheduler {
	return &Scheduler{
		stats: Stats{Runs: make(map[string]uint64)},
		now:   time.Now,
	}
}

// Add registers a task.
func (s *Scheduler) Add(t Task) error {
	if t.Run == nil {
		return fmt.Errorf("task %q has no Run function", t.Name)
	}
	switch t.Group {
	case GroupHigh:
		s.high = append(s.high, t)
	case GroupWorker:
		s.worker = append(s.worker, t)
	default:
		return fmt.Errorf("task %q has unknown group %d", t.Name, t.Group)
	}
	return nil
}

// Stats returns a copy of the accumulated statistics.
func (s *Scheduler) Stats() Stats {
	out := s.stats
	out.Runs = make(map[string]uint64, len(s.stats.Runs))
	for k, v := range s.stats.Runs {
		out.Runs[k] = v
	}
	return out
}

func ready(t Task) bool {
	return t.Ready == nil || t.Ready()
}

func (s *Scheduler) run(ctx context.Context, t Task) error {
	s.stats.Runs[t.Name]++
	if err := t.Run(ctx); err != nil {
		return fmt.Errorf("task %s: %w", t.Name, err)
	}
	return nil
}

// Step makes one pass: every ready high task, then at most one ready
// worker task. It reports whether any task ran.
func (s *Scheduler) Step(ctx context.Context) (bool, error) {
	start := s.now()
	ran := false
	for _, t := range s.high {
		if !ready(t) {
			continue
		}
		if err := s.run(ctx, t); err != nil {
			return true, err
		}
		ran = true
	}
	for i := 0; i < len(s.worker); i++ {
		t := s.worker[(s.next+i)%len(s.worker)]
		if !ready(t) {
			continue
		}
		s.next = (s.next + i + 1) % len(s.worker)
		if err := s.run(ctx, t); err != nil {
			return true, err
		}
		ran = true
		break
	}
	s.stats.Passes++
	if ran {
		s.stats.Busy += s.now().Sub(start)
	}
	return ran, nil
}

// Run steps until done returns true, calling wait whenever a pass found
// nothing to do. A wait error or a task error stops the loop.
func (s *Scheduler) Run(ctx context.Context, done func() bool, wait func(ctx context.Context) error) error {
	for !done() {
		ran, err := s.Step(ctx)
		if err != nil {
			return err
		}
		if ran {
			continue
		}
		start := s.now()
		err = wait(ctx)
		s.stats.Idle += s.now().Sub(start)
		if err != nil {
			return err
		}
	}
	return nil
}
