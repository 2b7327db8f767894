package abort

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
	"unicode/utf8"
)

func waitFired(t *testing.T, w *Watcher) {
	t.Helper()
	select {
	case <-w.Fired():
	case <-time.After(3 * time.Second):
		t.Fatal("watcher did not fire")
	}
}

func TestWatcher_FiresOnCreate(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ABORT")
	w, err := New(path)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	w.Start()
	defer w.Stop()

	select {
	case <-w.Fired():
		t.Fatal("fired before the file exists")
	case <-time.After(50 * time.Millisecond):
	}

	if err := os.WriteFile(path, []byte("maintenance window\nignored"), 0644); err != nil {
		t.Fatal(err)
	}
	waitFired(t, w)
	if w.Reason() != "maintenance window" {
		t.Errorf("Reason() = %q", w.Reason())
	}
}

func TestWatcher_IgnoresOtherFiles(t *testing.T) {
	dir := t.TempDir()
	w, err := New(filepath.Join(dir, "ABORT"))
	if err != nil {
		t.Fatal(err)
	}
	w.Start()
	defer w.Stop()

	os.WriteFile(filepath.Join(dir, "other"), []byte("x"), 0644)
	select {
	case <-w.Fired():
		t.Fatal("fired for an unrelated file")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestWatcher_ExistingFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ABORT")
	os.WriteFile(path, nil, 0644)

	w, err := New(path)
	if err != nil {
		t.Fatal(err)
	}
	w.Start()
	defer w.Stop()
	waitFired(t, w)
	if !strings.Contains(w.Reason(), "abort file") {
		t.Errorf("empty file reason = %q, want the default", w.Reason())
	}
}

func TestWatcher_MissingDirectory(t *testing.T) {
	if _, err := New(filepath.Join(t.TempDir(), "nope", "ABORT")); err == nil {
		t.Error("New should fail when the directory does not exist")
	}
}

func TestWatcher_StopIsIdempotent(t *testing.T) {
	w, err := New(filepath.Join(t.TempDir(), "ABORT"))
	if err != nil {
		t.Fatal(err)
	}
	w.Start()
	w.Stop()
	w.Stop()
}

func TestTruncateReason(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want int
	}{
		{"short", "maintenance", len("maintenance")},
		{"ascii at limit", strings.Repeat("a", maxReasonLen), maxReasonLen},
		{"ascii over limit", strings.Repeat("a", maxReasonLen+5), maxReasonLen},
		// "é" is two bytes; the limit falls inside the last one.
		{"rune across limit", strings.Repeat("a", maxReasonLen-1) + "é", maxReasonLen - 1},
		{"three-byte runes", strings.Repeat("€", maxReasonLen), maxReasonLen - maxReasonLen%3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := truncateReason(tt.in)
			if len(got) != tt.want {
				t.Errorf("len(truncateReason()) = %d, want %d", len(got), tt.want)
			}
			if !utf8.ValidString(got) {
				t.Errorf("truncateReason() = %q, not valid UTF-8", got)
			}
		})
	}
}

func TestWatcher_LongReasonStaysValid(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ABORT")
	w, err := New(path)
	if err != nil {
		t.Fatal(err)
	}
	w.Start()
	defer w.Stop()

	os.WriteFile(path, []byte(strings.Repeat("ü", maxReasonLen)+"\n"), 0644)
	waitFired(t, w)
	if got := w.Reason(); len(got) > maxReasonLen || !utf8.ValidString(got) {
		t.Errorf("Reason() has %d bytes, valid=%v; want at most %d valid bytes",
			len(got), utf8.ValidString(got), maxReasonLen)
	}
}
