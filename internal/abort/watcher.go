// Package abort watches for the operator abort file.
//
// Creating the configured file (for example with touch) asks a running
// engine to stop cooperatively. The first line of the file, if any, is
// used as the abort reason.
package abort

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/fsnotify/fsnotify"
)

const maxReasonLen = 200

// Watcher fires once when the abort file appears.
type Watcher struct {
	path    string
	watcher *fsnotify.Watcher

	fired    chan struct{}
	fireOnce sync.Once
	reason   string

	onError func(error)

	mu       sync.Mutex
	started  atomic.Bool
	stopCh   chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithErrorHandler receives watcher errors. By default they are dropped.
func WithErrorHandler(fn func(error)) Option {
	return func(w *Watcher) { w.onError = fn }
}

// New watches path. The file's directory must exist; the file itself
// normally does not. If it already exists the watcher fires immediately
// on Start.
func New(path string, opts ...Option) (*Watcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve abort file: %w", err)
	}
	dir := filepath.Dir(abs)
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("abort file directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("abort file directory %s is not a directory", dir)
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fw.Add(dir); err != nil {
		_ = fw.Close()
		return nil, fmt.Errorf("watch %s: %w", dir, err)
	}

	w := &Watcher{
		path:    abs,
		watcher: fw,
		fired:   make(chan struct{}),
		onError: func(error) {},
		stopCh:  make(chan struct{}),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// Path returns the watched file.
func (w *Watcher) Path() string {
	return w.path
}

// Start begins watching.
func (w *Watcher) Start() {
	if !w.started.CompareAndSwap(false, true) {
		return
	}
	if _, err := os.Stat(w.path); err == nil {
		w.fire()
	}
	go w.watchLoop()
}

// Stop stops watching. It is safe to call more than once.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopCh)
		_ = w.watcher.Close()
	})
	if w.started.Load() {
		<-w.done
	}
}

// Fired is closed when the abort file appears.
func (w *Watcher) Fired() <-chan struct{} {
	return w.fired
}

// Reason describes why the abort was requested.
func (w *Watcher) Reason() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.reason
}

func (w *Watcher) fire() {
	w.fireOnce.Do(func() {
		w.mu.Lock()
		w.reason = readReason(w.path)
		w.mu.Unlock()
		close(w.fired)
	})
}

func readReason(path string) string {
	fallback := fmt.Sprintf("abort file %s created", path)
	f, err := os.Open(path)
	if err != nil {
		return fallback
	}
	defer func() { _ = f.Close() }()

	sc := bufio.NewScanner(f)
	if !sc.Scan() {
		return fallback
	}
	line := strings.TrimSpace(sc.Text())
	if line == "" {
		return fallback
	}
	return truncateReason(line)
}

// truncateReason cuts s to at most maxReasonLen bytes without splitting a
// rune.
func truncateReason(s string) string {
	if len(s) <= maxReasonLen {
		return s
	}
	cut := maxReasonLen
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

func (w *Watcher) watchLoop() {
	defer close(w.done)

	// Editors and shells often create then write; wait briefly so the
	// reason is readable.
	settle := time.NewTimer(0)
	<-settle.C
	pending := false

	for {
		select {
		case <-w.stopCh:
			return

		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			if filepath.Clean(ev.Name) != w.path {
				continue
			}
			pending = true
			settle.Reset(20 * time.Millisecond)

		case <-settle.C:
			if pending {
				w.fire()
				pending = false
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.onError(err)
		}
	}
}
