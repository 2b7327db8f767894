package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/Iron-Ham/bnbhub/internal/apps/knapsack"
	"github.com/Iron-Ham/bnbhub/internal/engine"
	"github.com/Iron-Ham/bnbhub/internal/load"
	"github.com/Iron-Ham/bnbhub/internal/logging"
	"github.com/Iron-Ham/bnbhub/internal/problem"
	"github.com/spf13/cobra"
	"github.com/sugawarayuuta/sonnet"
)

// executeCommand runs a cobra command with args and returns captured output
func executeCommand(t *testing.T, root *cobra.Command, args ...string) (string, error) {
	t.Helper()
	// Keep the user's config file out of the way
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	buf := new(bytes.Buffer)
	root.SetOut(buf)
	root.SetErr(buf)
	root.SetArgs(args)
	err := root.Execute()
	return buf.String(), err
}

func TestRootCommand(t *testing.T) {
	if rootCmd.Use != "bnbhub" {
		t.Errorf("rootCmd.Use = %q, want %q", rootCmd.Use, "bnbhub")
	}

	expectedCmds := []string{"run", "generate", "config", "logs"}
	cmdMap := make(map[string]bool)
	for _, c := range rootCmd.Commands() {
		cmdMap[c.Name()] = true
	}
	for _, name := range expectedCmds {
		if !cmdMap[name] {
			t.Errorf("missing subcommand %q", name)
		}
	}
}

func TestParseConfigValue(t *testing.T) {
	tests := []struct {
		name    string
		def     any
		value   string
		want    any
		wantErr bool
	}{
		{"int", 8, "16", 16, false},
		{"bad int", 8, "many", nil, true},
		{"bool", false, "true", true, false},
		{"bad bool", false, "maybe", nil, true},
		{"float", 0.5, "0.25", 0.25, false},
		{"bad float", 0.5, "half", nil, true},
		{"uint64", uint64(0), "42", uint64(42), false},
		{"negative uint64", uint64(0), "-1", nil, true},
		{"string", "best", "depth", "depth", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseConfigValue(tt.def, tt.value)
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseConfigValue() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && got != tt.want {
				t.Errorf("parseConfigValue() = %v (%T), want %v (%T)", got, got, tt.want, tt.want)
			}
		})
	}
}

func TestTailEntries(t *testing.T) {
	entries := make([]logging.LogEntry, 5)
	for i := range entries {
		entries[i].Rank = i
	}
	tests := []struct {
		n     int
		first int
		want  int
	}{
		{0, 0, 5},
		{-1, 0, 5},
		{2, 3, 2},
		{10, 0, 5},
	}
	for _, tt := range tests {
		got := tailEntries(entries, tt.n)
		if len(got) != tt.want || got[0].Rank != tt.first {
			t.Errorf("tailEntries(%d) = %d entries from rank %d, want %d from rank %d",
				tt.n, len(got), got[0].Rank, tt.want, tt.first)
		}
	}
}

func testResult() *engine.Result {
	l := load.New(problem.Maximize)
	l.SetHeld(3, 42)
	l.AddBusy(3 * time.Second)
	l.AddIdle(time.Second)
	return &engine.Result{
		RunID:      "run-1",
		Processes:  2,
		Sense:      problem.Maximize,
		Value:      215,
		HasValue:   true,
		Source:     1,
		Terminated: true,
		Elapsed:    1500 * time.Millisecond,
		Load:       l,
		Ranks: []engine.RankStats{
			{Rank: 0, Role: "hub+worker", Phase: "finished", Counters: engine.Counters{Branched: 7}, Load: l},
			{Rank: 1, Role: "worker", Phase: "finished", Counters: engine.Counters{Branched: 5, Released: 2}},
		},
	}
}

func TestRunStatus(t *testing.T) {
	tests := []struct {
		name string
		res  engine.Result
		want string
	}{
		{"terminated", engine.Result{Terminated: true}, "optimal"},
		{"exhausted", engine.Result{Terminated: true, Exhausted: true}, "optimal (ramp-up explored the whole tree)"},
		{"aborted", engine.Result{Aborted: true, AbortReason: "abort file"}, "aborted: abort file"},
		{"stopped", engine.Result{}, "stopped"},
	}
	for _, tt := range tests {
		if got := runStatus(&tt.res); got != tt.want {
			t.Errorf("%s: runStatus() = %q, want %q", tt.name, got, tt.want)
		}
	}
}

func TestRenderSummary(t *testing.T) {
	out := renderSummary(testResult(), "sample", []string{"water", "sandwich"})
	for _, want := range []string{
		"run-1", "sample", "optimal", "215", "found by rank 1",
		"water, sandwich", "12 branched", "hub+worker", "75%",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("renderSummary() missing %q in:\n%s", want, out)
		}
	}

	res := testResult()
	res.HasValue = false
	res.Ranks = nil
	if out := renderSummary(res, "empty", nil); !strings.Contains(out, "none") {
		t.Errorf("renderSummary() without a value missing %q in:\n%s", "none", out)
	}
}

func TestGenerateCommand(t *testing.T) {
	path := filepath.Join(t.TempDir(), "items.toml")
	if _, err := executeCommand(t, rootCmd, "generate", "--items", "7", "--seed", "5", "-o", path); err != nil {
		t.Fatalf("generate error = %v", err)
	}
	in, err := knapsack.LoadInstance(path)
	if err != nil {
		t.Fatalf("LoadInstance() error = %v", err)
	}
	if len(in.Items) != 7 {
		t.Errorf("generated %d items, want 7", len(in.Items))
	}
	want, _ := knapsack.Generate(knapsack.GenerateOptions{Items: 7, MaxWeight: 1000, CapacityRatio: 0.5, Seed: 5})
	if in.Capacity != want.Capacity {
		t.Errorf("Capacity = %d, want %d", in.Capacity, want.Capacity)
	}
}

func TestConfigCommands(t *testing.T) {
	out, err := executeCommand(t, rootCmd, "config", "show")
	if err != nil {
		t.Fatalf("config show error = %v", err)
	}
	for _, want := range []string{"topology:", "cluster_size:", "scatter:"} {
		if !strings.Contains(out, want) {
			t.Errorf("config show missing %q in:\n%s", want, out)
		}
	}

	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)
	rootCmd.SetArgs([]string{"config", "set", "topology.processes", "16"})
	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("config set error = %v", err)
	}
	data, err := os.ReadFile(filepath.Join(dir, "bnbhub", "config.yaml"))
	if err != nil {
		t.Fatalf("config file not written: %v", err)
	}
	if !strings.Contains(string(data), "processes: 16") {
		t.Errorf("config file missing processes: 16:\n%s", data)
	}

	for _, args := range [][]string{
		{"config", "set", "no.such.key", "1"},
		{"config", "set", "topology.processes", "many"},
		{"config", "set", "pool.policy", "random"},
	} {
		rootCmd.SetArgs(args)
		if err := rootCmd.Execute(); err == nil {
			t.Errorf("%v: error = nil, want error", args)
		}
	}
}

func TestRunCommand(t *testing.T) {
	out, err := executeCommand(t, rootCmd,
		"run", "--generate", "14", "--gen-seed", "3", "--max-weight", "60",
		"-p", "4", "--cluster-size", "2", "--log-level", "error", "--json")
	if err != nil {
		t.Fatalf("run error = %v\n%s", err, out)
	}
	var rep runReport
	if err := sonnet.Unmarshal([]byte(strings.TrimSpace(out)), &rep); err != nil {
		t.Fatalf("run output is not a JSON report: %v\n%s", err, out)
	}
	in, _ := knapsack.Generate(knapsack.GenerateOptions{Items: 14, MaxWeight: 60, CapacityRatio: 0.5, Seed: 3})
	if rep.Value == nil || *rep.Value != float64(knapsack.Optimum(in)) {
		t.Errorf("run value = %v, want %d", rep.Value, knapsack.Optimum(in))
	}
	if !strings.HasPrefix(rep.Status, "optimal") {
		t.Errorf("run status = %q, want optimal", rep.Status)
	}
	if rep.Processes != 4 {
		t.Errorf("run processes = %d, want 4", rep.Processes)
	}
}

func TestRunCommand_NoInstance(t *testing.T) {
	runGenerate = 0
	if _, err := runInstance(nil); err == nil {
		t.Error("runInstance() without an instance error = nil, want error")
	}
	runGenerate = 3
	defer func() { runGenerate = 0 }()
	if _, err := runInstance([]string{"x.toml"}); err == nil {
		t.Error("runInstance() with a file and --generate error = nil, want error")
	}
}
