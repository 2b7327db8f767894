package comm

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/Iron-Ham/bnbhub/internal/errors"
	"github.com/Iron-Ham/bnbhub/internal/wire"
)

func newWorld(t *testing.T, size int) *World {
	t.Helper()
	w, err := NewWorld(size)
	if err != nil {
		t.Fatalf("NewWorld(%d): %v", size, err)
	}
	return w
}

// runAll runs fn on every rank concurrently and returns their errors.
func runAll(w *World, fn func(ep *Endpoint) error) []error {
	errs := make([]error, w.Size())
	var wg sync.WaitGroup
	for r := 0; r < w.Size(); r++ {
		wg.Add(1)
		go func(rank int) {
			defer wg.Done()
			errs[rank] = fn(w.Endpoint(rank))
		}(r)
	}
	wg.Wait()
	return errs
}

func TestNewWorld_RejectsEmpty(t *testing.T) {
	if _, err := NewWorld(0); err == nil {
		t.Error("NewWorld(0) should fail")
	}
}

func TestSendRecv_FIFOPerSender(t *testing.T) {
	w := newWorld(t, 2)
	a, b := w.Endpoint(0), w.Endpoint(1)

	for i := 0; i < 200; i++ {
		if err := a.Send(1, wire.TagDeliverSubproblem, []byte(fmt.Sprint(i))); err != nil {
			t.Fatalf("Send: %v", err)
		}
	}
	if b.Pending() != 200 {
		t.Errorf("Pending() = %d, want 200", b.Pending())
	}
	ctx := context.Background()
	for i := 0; i < 200; i++ {
		m, err := b.Recv(ctx)
		if err != nil {
			t.Fatalf("Recv: %v", err)
		}
		if string(m.Data) != fmt.Sprint(i) || m.From != 0 || m.Tag != wire.TagDeliverSubproblem {
			t.Fatalf("message %d = %+v", i, m)
		}
	}
	if _, ok := b.TryRecv(); ok {
		t.Error("TryRecv on empty inbox should report false")
	}
	sent, _ := a.Stats()
	_, received := b.Stats()
	if sent != 200 || received != 200 {
		t.Errorf("Stats() sent=%d received=%d, want 200/200", sent, received)
	}
}

func TestSend_Invalid(t *testing.T) {
	w := newWorld(t, 2)
	ep := w.Endpoint(0)
	if err := ep.Send(5, wire.TagAbort, nil); err == nil {
		t.Error("send outside the world should fail")
	}
	if err := ep.Send(1, wire.Tag(0), nil); err == nil {
		t.Error("send on tag 0 should fail")
	}
}

func TestRecv_Cancel(t *testing.T) {
	w := newWorld(t, 1)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := w.Endpoint(0).Recv(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Recv err = %v, want deadline exceeded", err)
	}
}

func TestRecv_WakesOnSend(t *testing.T) {
	w := newWorld(t, 2)
	done := make(chan Message, 1)
	go func() {
		m, _ := w.Endpoint(1).Recv(context.Background())
		done <- m
	}()
	time.Sleep(10 * time.Millisecond)
	w.Endpoint(0).Send(1, wire.TagShutdown, []byte("bye"))
	select {
	case m := <-done:
		if string(m.Data) != "bye" {
			t.Errorf("Data = %q", m.Data)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Recv did not wake up")
	}
}

func TestAllReduce(t *testing.T) {
	w := newWorld(t, 5)
	type result struct {
		min, max, sum float64
		imax          int64
	}
	results := make([]result, 5)
	errs := runAll(w, func(ep *Endpoint) error {
		ctx := context.Background()
		v := float64(ep.Rank()*3 - 4)
		var r result
		var err error
		if r.min, err = ep.AllReduceFloat(ctx, v, OpMin); err != nil {
			return err
		}
		if r.max, err = ep.AllReduceFloat(ctx, v, OpMax); err != nil {
			return err
		}
		if r.sum, err = ep.AllReduceFloat(ctx, v, OpSum); err != nil {
			return err
		}
		if r.imax, err = ep.AllReduceInt(ctx, int64(ep.Rank()), OpMax); err != nil {
			return err
		}
		results[ep.Rank()] = r
		return nil
	})
	for rank, err := range errs {
		if err != nil {
			t.Fatalf("rank %d: %v", rank, err)
		}
	}
	want := result{min: -4, max: 8, sum: 10, imax: 4}
	for rank, got := range results {
		if got != want {
			t.Errorf("rank %d got %+v, want %+v", rank, got, want)
		}
	}
}

func TestBroadcast_CopiesPerRank(t *testing.T) {
	w := newWorld(t, 4)
	got := make([][]byte, 4)
	errs := runAll(w, func(ep *Endpoint) error {
		var data []byte
		if ep.Rank() == 2 {
			data = []byte("problem")
		}
		out, err := ep.Broadcast(context.Background(), 2, data)
		got[ep.Rank()] = out
		return err
	})
	for rank, err := range errs {
		if err != nil {
			t.Fatalf("rank %d: %v", rank, err)
		}
	}
	got[0][0] = 'X'
	for rank := 1; rank < 4; rank++ {
		if string(got[rank]) != "problem" {
			t.Errorf("rank %d got %q", rank, got[rank])
		}
	}
}

func TestCollective_Mismatch(t *testing.T) {
	w := newWorld(t, 2)
	errs := runAll(w, func(ep *Endpoint) error {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		if ep.Rank() == 0 {
			_, err := ep.AllReduceFloat(ctx, 1, OpMin)
			return err
		}
		time.Sleep(20 * time.Millisecond)
		_, err := ep.AllReduceInt(ctx, 1, OpMin)
		return err
	})
	if !errors.IsFatal(errs[1]) {
		t.Errorf("mismatched collective err = %v, want protocol error", errs[1])
	}
	if errs[0] == nil {
		t.Error("the other rank should not complete")
	}
}

func TestAbort_FailsPendingCollective(t *testing.T) {
	w := newWorld(t, 3)
	errc := make(chan error, 1)
	go func() {
		_, err := w.Endpoint(0).AllReduceInt(context.Background(), 1, OpSum)
		errc <- err
	}()
	time.Sleep(10 * time.Millisecond)
	cause := errors.Wrap(errors.ErrWorldAborted, "test")
	w.Abort(cause)

	select {
	case err := <-errc:
		if !errors.Is(err, errors.ErrWorldAborted) {
			t.Errorf("err = %v, want ErrWorldAborted", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("collective did not fail after abort")
	}
	if _, err := w.Endpoint(1).AllReduceInt(context.Background(), 1, OpSum); err == nil {
		t.Error("collectives after abort should fail")
	}
	if err := w.Endpoint(1).Send(2, wire.TagAbort, nil); err != nil {
		t.Errorf("point-to-point must keep working after abort: %v", err)
	}
}

func TestFinalize_CountsLeftRanks(t *testing.T) {
	w := newWorld(t, 3)
	w.Leave(2, fmt.Errorf("panic"))
	select {
	case <-w.Aborted():
	default:
		t.Error("Leave should abort the world")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	errs := make(chan error, 2)
	for r := 0; r < 2; r++ {
		go func(rank int) { errs <- w.Endpoint(rank).Finalize(ctx) }(r)
	}
	for i := 0; i < 2; i++ {
		if err := <-errs; err != nil {
			t.Errorf("Finalize: %v", err)
		}
	}
}

func TestFinalize_WaitsForEveryone(t *testing.T) {
	w := newWorld(t, 2)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	if err := w.Endpoint(0).Finalize(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Finalize err = %v, want deadline exceeded", err)
	}
}

func TestInbox_Compacts(t *testing.T) {
	b := newInbox()
	for i := 0; i < 1000; i++ {
		b.push(Message{From: i})
		if i%3 == 0 {
			b.pop()
		}
	}
	want := 1000 - 334
	if b.len() != want {
		t.Fatalf("len() = %d, want %d", b.len(), want)
	}
	prev := -1
	for {
		m, ok := b.pop()
		if !ok {
			break
		}
		if m.From <= prev {
			t.Fatalf("order broken: %d after %d", m.From, prev)
		}
		prev = m.From
	}
}
