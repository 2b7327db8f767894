package checkpoint

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/sugawarayuuta/sonnet"

	"github.com/Iron-Ham/bnbhub/internal/errors"
)

// FormatVersion is the version of the checkpoint file layout.
const FormatVersion = 1

// Incumbent is the incumbent as stored in a checkpoint.
type Incumbent struct {
	Value  float64 `json:"value"`
	Source int     `json:"source"`
}

// File is one rank's checkpoint.
type File struct {
	Version   int       `json:"version"`
	RunID     string    `json:"run_id"`
	Epoch     uint64    `json:"epoch"`
	Rank      int       `json:"rank"`
	Processes int       `json:"processes"`
	Topology  string    `json:"topology"`
	Sense     string    `json:"sense"`
	WrittenAt time.Time `json:"written_at"`

	// Incumbent is nil when no solution was known.
	Incumbent  *Incumbent `json:"incumbent,omitempty"`
	NextSerial uint64     `json:"next_serial"`
	// Subproblems holds every subproblem physically resident on the rank,
	// wire encoded.
	Subproblems [][]byte `json:"subproblems"`
	// AppState is the application's own checkpoint data, if any.
	AppState []byte `json:"app_state,omitempty"`
	// Solution is the best packed solution, kept by rank 0 only.
	Solution []byte `json:"solution,omitempty"`
}

// Expect describes the run a checkpoint must belong to.
type Expect struct {
	Rank      int
	Processes int
	Topology  string
	Sense     string
}

// Validate checks that f was written by the same world shape.
func (f *File) Validate(want Expect) error {
	var msg string
	switch {
	case f.Version != FormatVersion:
		msg = fmt.Sprintf("format version %d, want %d", f.Version, FormatVersion)
	case f.Rank != want.Rank:
		msg = fmt.Sprintf("written by rank %d", f.Rank)
	case f.Processes != want.Processes:
		msg = fmt.Sprintf("written by a world of %d processes, want %d", f.Processes, want.Processes)
	case f.Topology != want.Topology:
		msg = fmt.Sprintf("topology %s, want %s", f.Topology, want.Topology)
	case f.Sense != want.Sense:
		msg = fmt.Sprintf("sense %s, want %s", f.Sense, want.Sense)
	default:
		return nil
	}
	return errors.NewCheckpointError(msg, errors.ErrCheckpointMismatch).WithRank(want.Rank)
}

// Store reads and writes per-rank checkpoint files in one directory.
type Store struct {
	dir string
}

// NewStore creates a store rooted at dir. The directory is created on the
// first write.
func NewStore(dir string) *Store {
	return &Store{dir: dir}
}

// Dir returns the checkpoint directory.
func (s *Store) Dir() string {
	return s.dir
}

// Path returns the checkpoint file of rank.
func (s *Store) Path(rank int) string {
	return filepath.Join(s.dir, fmt.Sprintf("rank-%04d.ckpt", rank))
}

func (s *Store) lockPath(rank int) string {
	return filepath.Join(s.dir, fmt.Sprintf("rank-%04d.lock", rank))
}

// Write stores f atomically: the data goes to a temporary file that is
// renamed into place while the rank's lock is held. It returns the path
// and the number of bytes written.
func (s *Store) Write(f *File) (string, int, error) {
	path := s.Path(f.Rank)
	fail := func(msg string, cause error) (string, int, error) {
		return "", 0, errors.NewCheckpointError(msg, cause).WithRank(f.Rank).WithPath(path)
	}

	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return fail("create checkpoint directory", err)
	}
	fl := newFileLock(s.lockPath(f.Rank))
	ok, err := fl.tryLock()
	if err != nil {
		return fail("acquire lock", err)
	}
	if !ok {
		return fail("another process is writing this checkpoint", errors.ErrCheckpointLocked)
	}
	defer func() { _ = fl.unlock() }()

	f.Version = FormatVersion
	if f.WrittenAt.IsZero() {
		f.WrittenAt = time.Now()
	}
	data, err := sonnet.Marshal(f)
	if err != nil {
		return fail("marshal checkpoint", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fail("write temp file", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp) // best-effort cleanup
		return fail("rename temp file", err)
	}
	return path, len(data), nil
}

// Read loads rank's checkpoint. A missing file wraps ErrCheckpointMissing
// and an undecodable one ErrCheckpointCorrupt.
func (s *Store) Read(rank int) (*File, error) {
	path := s.Path(rank)
	data, err := os.ReadFile(path)
	if err != nil {
		cause := err
		if os.IsNotExist(err) {
			cause = errors.ErrCheckpointMissing
		}
		return nil, errors.NewCheckpointError("read checkpoint", cause).WithRank(rank).WithPath(path)
	}

	var f File
	if err := sonnet.Unmarshal(data, &f); err != nil {
		return nil, errors.NewCheckpointError(fmt.Sprintf("decode checkpoint: %v", err), errors.ErrCheckpointCorrupt).
			WithRank(rank).WithPath(path)
	}
	return &f, nil
}

// Exists reports whether rank has a checkpoint file.
func (s *Store) Exists(rank int) bool {
	_, err := os.Stat(s.Path(rank))
	return err == nil
}
