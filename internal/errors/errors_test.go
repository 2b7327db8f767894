package errors

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

// -----------------------------------------------------------------------------
// Severity Tests
// -----------------------------------------------------------------------------

func TestSeverity_String(t *testing.T) {
	tests := []struct {
		severity Severity
		want     string
	}{
		{SeverityDebug, "debug"},
		{SeverityInfo, "info"},
		{SeverityWarning, "warning"},
		{SeverityError, "error"},
		{SeverityCritical, "critical"},
		{Severity(99), "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := tt.severity.String(); got != tt.want {
				t.Errorf("Severity.String() = %q, want %q", got, tt.want)
			}
		})
	}
}

// -----------------------------------------------------------------------------
// ProtocolError Tests
// -----------------------------------------------------------------------------

func TestNewProtocolError(t *testing.T) {
	err := NewProtocolError("bad magic 0x0000", ErrCorruptHeader)

	if err.Severity() != SeverityCritical {
		t.Errorf("Severity() = %v, want %v", err.Severity(), SeverityCritical)
	}
	if err.IsRetryable() {
		t.Error("IsRetryable() = true, want false")
	}
	if err.Rank != -1 || err.From != -1 {
		t.Errorf("Rank, From = %d, %d, want -1, -1", err.Rank, err.From)
	}
}

func TestProtocolError_Error(t *testing.T) {
	tests := []struct {
		name string
		err  *ProtocolError
		want string
	}{
		{
			name: "no context",
			err:  NewProtocolError("bad kind", nil),
			want: "protocol error: bad kind",
		},
		{
			name: "full context",
			err:  NewProtocolError("bad kind", ErrCorruptHeader).WithRank(2).WithTag("deliverSubproblem").WithFrom(5),
			want: "protocol error [rank=2, tag=deliverSubproblem, from=5]: bad kind: corrupt message header",
		},
		{
			name: "rank zero is printed",
			err:  NewProtocolError("short", ErrTruncated).WithRank(0),
			want: "protocol error [rank=0]: short: truncated message",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("Error() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestProtocolError_Is(t *testing.T) {
	err := NewProtocolError("x", ErrTruncated)
	if !errors.Is(err, &ProtocolError{}) {
		t.Error("errors.Is(err, &ProtocolError{}) = false, want true")
	}
	if !errors.Is(err, ErrTruncated) {
		t.Error("errors.Is(err, ErrTruncated) = false, want true")
	}
	if errors.Is(err, ErrCorruptHeader) {
		t.Error("errors.Is(err, ErrCorruptHeader) = true, want false")
	}
}

// -----------------------------------------------------------------------------
// EngineError Tests
// -----------------------------------------------------------------------------

func TestEngineError(t *testing.T) {
	err := NewEngineError("stopping", ErrAborted).WithRank(3).WithPhase("steady")
	want := "engine error [rank=3, phase=steady]: stopping: run aborted"
	if got := err.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
	if !errors.Is(err, ErrAborted) {
		t.Error("errors.Is(err, ErrAborted) = false, want true")
	}
	if !IsAbort(err) {
		t.Error("IsAbort() = false, want true")
	}
	if IsFatal(err) {
		t.Error("IsFatal() = true for an abort, want false")
	}
	if got := err.WithSeverity(SeverityCritical).Severity(); got != SeverityCritical {
		t.Errorf("Severity() = %v, want %v", got, SeverityCritical)
	}
}

// -----------------------------------------------------------------------------
// CheckpointError Tests
// -----------------------------------------------------------------------------

func TestCheckpointError(t *testing.T) {
	err := NewCheckpointError("read failed", ErrCheckpointCorrupt).
		WithRank(1).
		WithPath("/tmp/rank-0001.ckpt")
	want := "checkpoint error [rank=1, path=/tmp/rank-0001.ckpt]: read failed: checkpoint corrupt"
	if got := err.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
	if IsFatal(err) {
		t.Error("checkpoint errors must not be fatal")
	}
	if GetSeverity(err) != SeverityWarning {
		t.Errorf("GetSeverity() = %v, want %v", GetSeverity(err), SeverityWarning)
	}
	var cpErr *CheckpointError
	if !errors.As(fmt.Errorf("restart: %w", err), &cpErr) || cpErr.Rank != 1 {
		t.Error("errors.As should find the wrapped CheckpointError")
	}
}

// -----------------------------------------------------------------------------
// Semantic Error Tests
// -----------------------------------------------------------------------------

func TestValidationError(t *testing.T) {
	err := NewValidationError("must be positive").WithField("topology.cluster_size").WithValue(0)
	want := "validation error [field=topology.cluster_size, value=0]: must be positive"
	if got := err.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
	if !errors.Is(err, ErrInvalidInput) {
		t.Error("errors.Is(err, ErrInvalidInput) = false, want true")
	}
}

func TestTimeoutError(t *testing.T) {
	err := NewTimeoutError("search", 10*time.Minute).WithCause(ErrWallTimeExceeded)
	want := "timeout error: search (timeout: 10m0s): wall-clock limit exceeded"
	if got := err.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
	if !errors.Is(err, ErrTimeout) {
		t.Error("errors.Is(err, ErrTimeout) = false, want true")
	}
	if !IsAbort(err) {
		t.Error("IsAbort() = false for a wall-time timeout, want true")
	}
}

// -----------------------------------------------------------------------------
// Classification Tests
// -----------------------------------------------------------------------------

func TestIsFatal(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"plain error", New("boom"), false},
		{"protocol error", NewProtocolError("x", nil), true},
		{"wrapped protocol error", Wrap(NewProtocolError("x", nil), "rank 2"), true},
		{"critical engine error", NewEngineError("x", nil).WithSeverity(SeverityCritical), true},
		{"checkpoint error", NewCheckpointError("x", nil), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsFatal(tt.err); got != tt.want {
				t.Errorf("IsFatal() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestIsRetryable(t *testing.T) {
	if IsRetryable(nil) {
		t.Error("IsRetryable(nil) = true")
	}
	if !IsRetryable(NewCheckpointError("x", nil)) {
		t.Error("checkpoint errors are retryable")
	}
	if !IsRetryable(fmt.Errorf("wait: %w", ErrTimeout)) {
		t.Error("ErrTimeout is retryable")
	}
	if IsRetryable(NewProtocolError("x", nil)) {
		t.Error("protocol errors are not retryable")
	}
}

func TestIsUserFacing(t *testing.T) {
	if IsUserFacing(New("internal")) {
		t.Error("plain errors are not user facing")
	}
	if !IsUserFacing(NewValidationError("x")) {
		t.Error("validation errors are user facing")
	}
}

func TestWrap(t *testing.T) {
	if Wrap(nil, "x") != nil || Wrapf(nil, "x %d", 1) != nil {
		t.Error("wrapping nil must return nil")
	}
	err := Wrapf(ErrAborted, "rank %d", 4)
	if err.Error() != "rank 4: run aborted" {
		t.Errorf("Error() = %q", err.Error())
	}
	if !Is(err, ErrAborted) {
		t.Error("Wrapf must preserve the chain")
	}
}
