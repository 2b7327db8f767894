package knapsack

import (
	"bytes"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"github.com/Iron-Ham/bnbhub/internal/problem"
)

const sampleTOML = `
name = "sample"
capacity = 10

[[items]]
name = "map"
weight = 9
value = 150

[[items]]
name = "compass"
weight = 5
value = 35

[[items]]
name = "water"
weight = 4
value = 120

[[items]]
name = "sandwich"
weight = 1
value = 60
`

func sampleApp(t *testing.T) *App {
	t.Helper()
	in, err := ParseInstance([]byte(sampleTOML))
	if err != nil {
		t.Fatalf("ParseInstance() error = %v", err)
	}
	return New(in)
}

func rootSubproblem(t *testing.T, a *App) *problem.Subproblem {
	t.Helper()
	payload, err := a.Root()
	if err != nil {
		t.Fatalf("Root() error = %v", err)
	}
	sp := &problem.Subproblem{ID: problem.ID{Creator: 0, Serial: 1}, Payload: payload}
	if err := a.Bound(sp); err != nil {
		t.Fatalf("Bound() error = %v", err)
	}
	return sp
}

func TestParseInstance(t *testing.T) {
	in, err := ParseInstance([]byte(sampleTOML))
	if err != nil {
		t.Fatalf("ParseInstance() error = %v", err)
	}
	if in.Name != "sample" || in.Capacity != 10 || len(in.Items) != 4 {
		t.Errorf("ParseInstance() = %+v, want sample with capacity 10 and 4 items", in)
	}
	if in.Items[2].Name != "water" || in.Items[2].Weight != 4 || in.Items[2].Value != 120 {
		t.Errorf("Items[2] = %+v, want water 4/120", in.Items[2])
	}
}

func TestParseInstance_Errors(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		wantErr string
	}{
		{"bad toml", "capacity = [", "parse instance"},
		{"no items", "capacity = 3", "no items"},
		{"negative capacity", "capacity = -1\n[[items]]\nweight = 1\nvalue = 1", "capacity must be non-negative"},
		{"zero weight", "capacity = 3\n[[items]]\nname = \"x\"\nweight = 0\nvalue = 1", "weight must be positive"},
		{"negative value", "capacity = 3\n[[items]]\nname = \"x\"\nweight = 1\nvalue = -2", "value must be non-negative"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseInstance([]byte(tt.data))
			if err == nil {
				t.Fatal("ParseInstance() error = nil, want error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("ParseInstance() error = %v, want it to mention %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoadInstance(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sample.toml")
	if err := os.WriteFile(path, []byte(sampleTOML), 0o644); err != nil {
		t.Fatal(err)
	}
	in, err := LoadInstance(path)
	if err != nil {
		t.Fatalf("LoadInstance() error = %v", err)
	}
	if in.Name != "sample" {
		t.Errorf("Name = %q, want sample", in.Name)
	}

	if _, err := LoadInstance(filepath.Join(dir, "missing.toml")); err == nil {
		t.Error("LoadInstance(missing) error = nil, want error")
	}
}

func TestInstance_EncodeRoundTrip(t *testing.T) {
	in, err := Generate(GenerateOptions{Items: 12, MaxWeight: 50, CapacityRatio: 0.4, Seed: 3})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	var buf bytes.Buffer
	if err := in.Encode(&buf); err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	got, err := ParseInstance(buf.Bytes())
	if err != nil {
		t.Fatalf("ParseInstance(Encode()) error = %v", err)
	}
	if got.Name != in.Name || got.Capacity != in.Capacity || !slices.Equal(got.Items, in.Items) {
		t.Errorf("round trip = %+v, want %+v", got, in)
	}
}

func TestGenerate(t *testing.T) {
	opts := GenerateOptions{Items: 20, MaxWeight: 100, CapacityRatio: 0.5, Seed: 42}
	a, err := Generate(opts)
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	b, _ := Generate(opts)
	if !slices.Equal(a.Items, b.Items) || a.Capacity != b.Capacity {
		t.Error("Generate() with the same options produced different instances")
	}
	opts.Seed = 43
	c, _ := Generate(opts)
	if slices.Equal(a.Items, c.Items) {
		t.Error("Generate() with a different seed produced the same items")
	}
	if err := a.Validate(); err != nil {
		t.Errorf("generated instance is invalid: %v", err)
	}

	corr, _ := Generate(GenerateOptions{Items: 20, MaxWeight: 100, CapacityRatio: 0.5, Correlated: true, Seed: 1})
	for _, it := range corr.Items {
		if it.Value < it.Weight+10 || it.Value >= it.Weight+20 {
			t.Errorf("correlated item %+v, want value in [weight+10, weight+20)", it)
		}
	}
}

func TestGenerate_Errors(t *testing.T) {
	tests := []GenerateOptions{
		{Items: 0, MaxWeight: 10, CapacityRatio: 0.5},
		{Items: 3, MaxWeight: 0, CapacityRatio: 0.5},
		{Items: 3, MaxWeight: 10, CapacityRatio: 0},
		{Items: 3, MaxWeight: 10, CapacityRatio: 1.5},
	}
	for _, opts := range tests {
		if _, err := Generate(opts); err == nil {
			t.Errorf("Generate(%+v) error = nil, want error", opts)
		}
	}
}

func TestOptimum(t *testing.T) {
	in, _ := ParseInstance([]byte(sampleTOML))
	// water + sandwich fit in 5; compass adds 5 more.
	if got := Optimum(in); got != 215 {
		t.Errorf("Optimum() = %d, want 215", got)
	}
}

func TestDensityOrder(t *testing.T) {
	items := []Item{
		{Weight: 2, Value: 2},
		{Weight: 1, Value: 3},
		{Weight: 4, Value: 4},
		{Weight: 1, Value: 2},
	}
	want := []int{1, 3, 0, 2}
	if got := densityOrder(items); !slices.Equal(got, want) {
		t.Errorf("densityOrder() = %v, want %v", got, want)
	}
}

func TestApp_RootBound(t *testing.T) {
	a := sampleApp(t)
	sp := rootSubproblem(t, a)
	// sandwich 60 (1), water 120 (4), then 5/9 of the map.
	want := 60 + 120 + 150*5.0/9
	if diff := sp.Bound - want; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("root bound = %v, want %v", sp.Bound, want)
	}
	if a.Sense() != problem.Maximize {
		t.Errorf("Sense() = %v, want maximize", a.Sense())
	}
}

// TestApp_BoundIsValid walks the whole tree of a small instance and checks
// that no node's bound is below the value of any node beneath it.
func TestApp_BoundIsValid(t *testing.T) {
	in, err := Generate(GenerateOptions{Items: 10, MaxWeight: 30, CapacityRatio: 0.5, Seed: 9})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	a := New(in)
	var walk func(sp *problem.Subproblem) float64
	walk = func(sp *problem.Subproblem) float64 {
		if err := a.Bound(sp); err != nil {
			t.Fatalf("Bound() error = %v", err)
		}
		v, ok := a.Solution(sp)
		if !ok {
			t.Fatal("Solution() ok = false, want every node feasible")
		}
		top := v
		for i := 0; i < a.Children(sp); i++ {
			payload, err := a.Branch(sp, i)
			if err != nil {
				t.Fatalf("Branch(%d) error = %v", i, err)
			}
			if c := walk(&problem.Subproblem{Depth: sp.Depth + 1, Payload: payload}); c > top {
				top = c
			}
		}
		if top > sp.Bound+1e-9 {
			t.Errorf("node at depth %d: bound %v below descendant value %v", sp.Depth, sp.Bound, top)
		}
		return top
	}
	root, _ := a.Root()
	best := walk(&problem.Subproblem{Payload: root})
	if want := float64(Optimum(in)); best != want {
		t.Errorf("best value in tree = %v, want %v", best, want)
	}
}

func TestApp_Children(t *testing.T) {
	a := sampleApp(t)
	root := rootSubproblem(t, a)
	if got := a.Children(root); got != 2 {
		t.Fatalf("Children(root) = %d, want 2", got)
	}

	incl, err := a.Branch(root, 0)
	if err != nil {
		t.Fatalf("Branch(0) error = %v", err)
	}
	n := incl.(*Node)
	if n.Next != 1 || !n.Taken[0] || n.Weight != 1 || n.Value != 60 {
		t.Errorf("include child = %+v, want sandwich taken", n)
	}
	excl, _ := a.Branch(root, 1)
	if m := excl.(*Node); m.Next != 1 || m.Taken[0] || m.Value != 0 {
		t.Errorf("exclude child = %+v, want nothing taken", m)
	}
	if root.Payload.(*Node).Taken[0] {
		t.Error("Branch() modified the parent's Taken slice")
	}

	// The map (weight 9) cannot follow sandwich and water.
	full := &problem.Subproblem{Payload: &Node{Next: 2, Weight: 5, Value: 180, Taken: []bool{true, true, false, false}}}
	if got := a.Children(full); got != 1 {
		t.Errorf("Children(no room) = %d, want 1", got)
	}
	leaf := &problem.Subproblem{Payload: &Node{Next: 4, Taken: make([]bool, 4)}}
	if got := a.Children(leaf); got != 0 {
		t.Errorf("Children(leaf) = %d, want 0", got)
	}
	if _, err := a.Branch(leaf, 0); err == nil {
		t.Error("Branch(leaf) error = nil, want error")
	}
	if _, err := a.Branch(full, 1); err == nil {
		t.Error("Branch(out of range) error = nil, want error")
	}
	if _, err := a.Branch(&problem.Subproblem{Payload: "bogus"}, 0); err == nil {
		t.Error("Branch(wrong payload) error = nil, want error")
	}
}

func TestApp_PackUnpack(t *testing.T) {
	a := sampleApp(t)
	n := &Node{Next: 2, Weight: 5, Value: 180, Taken: []bool{true, true, false, false}}
	data, err := a.Pack(&problem.Subproblem{Payload: n}, nil)
	if err != nil {
		t.Fatalf("Pack() error = %v", err)
	}
	if len(data) > a.MaxPackedSize() {
		t.Errorf("len(Pack()) = %d, exceeds MaxPackedSize() = %d", len(data), a.MaxPackedSize())
	}
	v, err := a.Unpack(data)
	if err != nil {
		t.Fatalf("Unpack() error = %v", err)
	}
	got := v.(*Node)
	if got.Next != n.Next || got.Weight != n.Weight || got.Value != n.Value || !slices.Equal(got.Taken, n.Taken) {
		t.Errorf("Unpack(Pack()) = %+v, want %+v", got, n)
	}

	names, err := a.Chosen(data)
	if err != nil {
		t.Fatalf("Chosen() error = %v", err)
	}
	if want := []string{"sandwich", "water"}; !slices.Equal(names, want) {
		t.Errorf("Chosen() = %v, want %v", names, want)
	}
}

func TestApp_UnpackErrors(t *testing.T) {
	a := sampleApp(t)
	tests := []struct {
		name string
		data []byte
	}{
		{"empty", nil},
		{"truncated header", []byte{1, 2}},
		{"missing bitmap", []byte{1, 2, 3}},
		{"too many decided", []byte{9, 0, 0, 0}},
	}
	for _, tt := range tests {
		if _, err := a.Unpack(tt.data); err == nil {
			t.Errorf("%s: Unpack() error = nil, want error", tt.name)
		}
	}
}

func TestApp_MarshalProblem(t *testing.T) {
	a := sampleApp(t)
	data, err := a.MarshalProblem()
	if err != nil {
		t.Fatalf("MarshalProblem() error = %v", err)
	}
	var b App
	if err := b.UnmarshalProblem(data); err != nil {
		t.Fatalf("UnmarshalProblem() error = %v", err)
	}
	if b.Instance().Name != "sample" || !slices.Equal(b.order, a.order) {
		t.Errorf("UnmarshalProblem() installed %+v, want the sample instance", b.Instance())
	}

	var empty App
	if _, err := empty.MarshalProblem(); err == nil {
		t.Error("MarshalProblem() on an empty app error = nil, want error")
	}
	if _, err := empty.Root(); err == nil {
		t.Error("Root() on an empty app error = nil, want error")
	}
	if err := empty.UnmarshalProblem([]byte("{")); err == nil {
		t.Error("UnmarshalProblem(bad json) error = nil, want error")
	}
}

func TestFactory(t *testing.T) {
	in, _ := ParseInstance([]byte(sampleTOML))
	f := Factory(in)
	app0, err := f(0)
	if err != nil {
		t.Fatalf("factory(0) error = %v", err)
	}
	if app0.(*App).Instance() != in {
		t.Error("rank 0 app does not hold the instance")
	}
	app1, err := f(1)
	if err != nil {
		t.Fatalf("factory(1) error = %v", err)
	}
	if app1.(*App).Instance() != nil {
		t.Error("rank 1 app holds an instance before the startup broadcast")
	}

	if _, err := Factory(&Instance{Capacity: 1})(0); err == nil {
		t.Error("factory(0) with an invalid instance error = nil, want error")
	}
}

func TestApp_Checkpoint(t *testing.T) {
	a := sampleApp(t)
	state, err := a.CheckpointWrite()
	if err != nil {
		t.Fatalf("CheckpointWrite() error = %v", err)
	}
	if err := a.CheckpointRead(state); err != nil {
		t.Errorf("CheckpointRead(own state) error = %v", err)
	}
	if err := a.MergeGlobalData(state); err != nil {
		t.Errorf("MergeGlobalData(own state) error = %v", err)
	}

	other, _ := Generate(GenerateOptions{Items: 4, MaxWeight: 10, CapacityRatio: 0.5, Seed: 1})
	if err := New(other).CheckpointRead(state); err == nil {
		t.Error("CheckpointRead(other instance) error = nil, want error")
	}
	if err := a.CheckpointRead([]byte("not json")); err == nil {
		t.Error("CheckpointRead(garbage) error = nil, want error")
	}
}
