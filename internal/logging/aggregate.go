package logging

import (
	"bufio"
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/sugawarayuuta/sonnet"
)

// LogEntry is one parsed line of a JSON run log.
type LogEntry struct {
	Timestamp time.Time      `json:"time"`
	Level     string         `json:"level"`
	Message   string         `json:"msg"`
	RunID     string         `json:"run_id,omitempty"`
	Rank      int            `json:"rank"`
	Role      string         `json:"role,omitempty"`
	Phase     string         `json:"phase,omitempty"`
	Attrs     map[string]any `json:"attrs,omitempty"`
}

// LogFilter selects log entries. Zero-valued fields match everything;
// set criteria are combined with AND.
type LogFilter struct {
	// Level keeps entries at or above this level.
	Level string
	// Rank keeps entries from one process. Negative means any.
	Rank  int
	Role  string
	Phase string
	RunID string
	// MessageContains keeps entries whose message contains this substring.
	MessageContains string
	Since           time.Time
}

// AnyRank is the LogFilter.Rank value that matches every process.
const AnyRank = -1

var levelOrder = map[string]int{
	LevelDebug: 0,
	LevelInfo:  1,
	LevelWarn:  2,
	LevelError: 3,
}

var standardFields = map[string]bool{
	"time": true, "level": true, "msg": true,
	"run_id": true, "rank": true, "role": true, "phase": true,
}

// ReadLogs parses the log in logDir together with its rotated backups.
// Entries are sorted by time. Unparseable lines are skipped.
func ReadLogs(logDir string) ([]LogEntry, error) {
	base := filepath.Join(logDir, LogFileName)
	paths, err := filepath.Glob(base + ".*")
	if err != nil {
		return nil, err
	}
	paths = append(paths, base)

	var entries []LogEntry
	found := false
	for _, path := range paths {
		got, err := readLogFile(path)
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			return nil, err
		}
		found = true
		entries = append(entries, got...)
	}
	if !found {
		return nil, fmt.Errorf("no log file found in %s", logDir)
	}

	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Timestamp.Before(entries[j].Timestamp)
	})
	return entries, nil
}

func readLogFile(path string) ([]LogEntry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	var r io.Reader = f
	if strings.HasSuffix(path, ".gz") {
		zr, err := gzip.NewReader(f)
		if err != nil {
			return nil, fmt.Errorf("failed to open %s: %w", path, err)
		}
		defer func() { _ = zr.Close() }()
		r = zr
	}

	const maxLine = 1 << 20
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxLine)

	var entries []LogEntry
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		entry, err := parseLogEntry(line)
		if err != nil {
			continue
		}
		entries = append(entries, entry)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading %s: %w", path, err)
	}
	return entries, nil
}

func parseLogEntry(line string) (LogEntry, error) {
	var raw map[string]any
	if err := sonnet.Unmarshal([]byte(line), &raw); err != nil {
		return LogEntry{}, fmt.Errorf("invalid JSON: %w", err)
	}

	entry := LogEntry{Rank: AnyRank, Attrs: make(map[string]any)}
	if s, ok := raw["time"].(string); ok {
		if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
			entry.Timestamp = t
		}
	}
	entry.Level, _ = raw["level"].(string)
	entry.Message, _ = raw["msg"].(string)
	entry.RunID, _ = raw["run_id"].(string)
	entry.Role, _ = raw["role"].(string)
	entry.Phase, _ = raw["phase"].(string)
	if r, ok := raw["rank"].(float64); ok {
		entry.Rank = int(r)
	}
	for k, v := range raw {
		if !standardFields[k] {
			entry.Attrs[k] = v
		}
	}
	return entry, nil
}

// FilterLogs returns the entries matching filter.
func FilterLogs(entries []LogEntry, filter LogFilter) []LogEntry {
	var out []LogEntry
	for _, e := range entries {
		if filter.matches(e) {
			out = append(out, e)
		}
	}
	return out
}

func (f LogFilter) matches(e LogEntry) bool {
	if f.Level != "" {
		want, ok1 := levelOrder[strings.ToUpper(f.Level)]
		got, ok2 := levelOrder[e.Level]
		if ok1 && ok2 && got < want {
			return false
		}
	}
	switch {
	case f.Rank >= 0 && e.Rank != f.Rank:
		return false
	case f.Role != "" && e.Role != f.Role:
		return false
	case f.Phase != "" && e.Phase != f.Phase:
		return false
	case f.RunID != "" && e.RunID != f.RunID:
		return false
	case f.MessageContains != "" && !strings.Contains(e.Message, f.MessageContains):
		return false
	case !f.Since.IsZero() && e.Timestamp.Before(f.Since):
		return false
	}
	return true
}

// WriteEntries writes entries to w as "text" or "json".
func WriteEntries(w io.Writer, entries []LogEntry, format string) error {
	switch strings.ToLower(format) {
	case "json":
		data, err := sonnet.Marshal(entries)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintf(w, "%s\n", data)
		return err
	case "", "text":
		for _, e := range entries {
			if _, err := fmt.Fprintln(w, formatEntry(e)); err != nil {
				return err
			}
		}
		return nil
	default:
		return fmt.Errorf("unsupported format: %s (supported: text, json)", format)
	}
}

// formatEntry renders "[15:04:05.000] LEVEL rank=N role phase - msg {attrs}".
func formatEntry(e LogEntry) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %-5s", e.Timestamp.Format("15:04:05.000"), e.Level)
	if e.Rank >= 0 {
		fmt.Fprintf(&b, " rank=%d", e.Rank)
	}
	if e.Role != "" {
		fmt.Fprintf(&b, " %s", e.Role)
	}
	if e.Phase != "" {
		fmt.Fprintf(&b, " %s", e.Phase)
	}
	fmt.Fprintf(&b, " - %s", e.Message)
	if len(e.Attrs) > 0 {
		if data, err := sonnet.Marshal(e.Attrs); err == nil {
			fmt.Fprintf(&b, " %s", data)
		}
	}
	return b.String()
}
