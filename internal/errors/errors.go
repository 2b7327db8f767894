// Package errors provides centralized error definitions and error handling
// utilities for bnbhub. It defines sentinel errors, typed domain errors with
// context builders, and classification helpers.
//
// # Error Types
//
// Domain errors describe failures of a specific engine subsystem:
//   - ProtocolError: a corrupt or unexpected message on a channel; fatal
//   - EngineError: a process stopped early (abort, wall-time limit, failure)
//   - CheckpointError: a checkpoint could not be written or restored
//
// Semantic errors describe common conditions:
//   - ValidationError: invalid input or configuration
//   - TimeoutError: an operation ran out of time
//
// # Usage
//
//	err := errors.NewProtocolError("bad magic", errors.ErrCorruptHeader).
//		WithRank(3).WithTag("forwardSubproblem")
//	fmt.Println(err) // "protocol error [rank=3, tag=forwardSubproblem]: bad magic: corrupt message header"
//
//	if errors.IsFatal(err) { ... }
//
//	var cpErr *errors.CheckpointError
//	if errors.As(err, &cpErr) { ... }
//
// # Classification
//
// Fatal errors abort the whole run. Checkpoint errors and resource
// conditions are recoverable and only logged.
package errors

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Re-export standard library functions for convenience.
// This allows callers to import only this package for all error handling.
var (
	Is     = errors.Is
	As     = errors.As
	Unwrap = errors.Unwrap
	New    = errors.New
	Join   = errors.Join
)

// Severity represents the severity level of an error.
type Severity int

const (
	// SeverityDebug is for errors that are useful for debugging but not critical.
	SeverityDebug Severity = iota
	// SeverityInfo is for informational errors that don't indicate a problem.
	SeverityInfo
	// SeverityWarning is for errors that might indicate a problem but aren't critical.
	SeverityWarning
	// SeverityError is for errors that indicate a real problem.
	SeverityError
	// SeverityCritical is for errors that end the run.
	SeverityCritical
)

// String returns the string representation of the severity level.
func (s Severity) String() string {
	switch s {
	case SeverityDebug:
		return "debug"
	case SeverityInfo:
		return "info"
	case SeverityWarning:
		return "warning"
	case SeverityError:
		return "error"
	case SeverityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// -----------------------------------------------------------------------------
// Sentinel Errors
// -----------------------------------------------------------------------------

// Protocol sentinel errors
var (
	// ErrCorruptHeader indicates a message header with bad magic, version or kind.
	ErrCorruptHeader = New("corrupt message header")
	// ErrTruncated indicates a message shorter than its declared layout.
	ErrTruncated = New("truncated message")
	// ErrStateOutOfRange indicates a subproblem state outside the defined set.
	ErrStateOutOfRange = New("subproblem state out of range")
	// ErrUnexpectedMessage indicates a message on a channel that does not accept it.
	ErrUnexpectedMessage = New("unexpected message")
)

// Engine sentinel errors
var (
	// ErrAborted indicates the run was aborted by an operator or a signal.
	ErrAborted = New("run aborted")
	// ErrWallTimeExceeded indicates the configured wall-clock limit elapsed.
	ErrWallTimeExceeded = New("wall-clock limit exceeded")
	// ErrWorldAborted indicates a collective failed because the world is
	// shutting down.
	ErrWorldAborted = New("world aborted")
	// ErrApplication indicates a failure inside the application plug-in.
	ErrApplication = New("application failure")
)

// Checkpoint sentinel errors
var (
	// ErrCheckpointMissing indicates a rank has no checkpoint file.
	ErrCheckpointMissing = New("checkpoint missing")
	// ErrCheckpointCorrupt indicates a checkpoint file could not be decoded.
	ErrCheckpointCorrupt = New("checkpoint corrupt")
	// ErrCheckpointMismatch indicates a checkpoint from another run shape.
	ErrCheckpointMismatch = New("checkpoint does not match this run")
	// ErrCheckpointLocked indicates another process holds the checkpoint lock.
	ErrCheckpointLocked = New("checkpoint is locked")
)

// General sentinel errors
var (
	// ErrTimeout indicates that an operation timed out.
	ErrTimeout = New("operation timed out")
	// ErrCanceled indicates that an operation was canceled.
	ErrCanceled = New("operation canceled")
	// ErrInvalidInput indicates that input validation failed.
	ErrInvalidInput = New("invalid input")
)

// -----------------------------------------------------------------------------
// Base Error Interface
// -----------------------------------------------------------------------------

// EngineFault is the base interface for all bnbhub errors.
// It extends the standard error interface with methods for classification.
type EngineFault interface {
	error

	// Unwrap returns the underlying error, if any.
	Unwrap() error

	// Is reports whether this error matches the target error.
	Is(target error) bool

	// Severity returns the severity level of this error.
	Severity() Severity

	// IsRetryable returns true if the operation may succeed on retry.
	IsRetryable() bool

	// IsUserFacing returns true if the message is safe to show operators.
	IsUserFacing() bool
}

// -----------------------------------------------------------------------------
// Base Error Implementation
// -----------------------------------------------------------------------------

// baseError provides common functionality for all error types.
type baseError struct {
	message    string
	cause      error
	severity   Severity
	retryable  bool
	userFacing bool
}

// Error returns the error message.
func (e *baseError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.message, e.cause)
	}
	return e.message
}

// Unwrap returns the underlying error.
func (e *baseError) Unwrap() error {
	return e.cause
}

// Is checks if this error matches the target.
func (e *baseError) Is(target error) bool {
	if e.cause != nil {
		return errors.Is(e.cause, target)
	}
	return false
}

// Severity returns the error severity.
func (e *baseError) Severity() Severity {
	return e.severity
}

// IsRetryable returns whether the error is retryable.
func (e *baseError) IsRetryable() bool {
	return e.retryable
}

// IsUserFacing returns whether the error is safe to show users.
func (e *baseError) IsUserFacing() bool {
	return e.userFacing
}

func formatError(kind string, parts []string, message string, cause error) string {
	prefix := kind
	if len(parts) > 0 {
		prefix = fmt.Sprintf("%s [%s]", kind, strings.Join(parts, ", "))
	}
	if cause != nil {
		return fmt.Sprintf("%s: %s: %v", prefix, message, cause)
	}
	return fmt.Sprintf("%s: %s", prefix, message)
}

// -----------------------------------------------------------------------------
// Domain-Specific Errors
// -----------------------------------------------------------------------------

// ProtocolError reports a message that cannot be decoded or does not belong
// on the channel it arrived on. It is always fatal.
//
// Example:
//
//	err := errors.NewProtocolError("unknown kind 9", errors.ErrCorruptHeader)
//	err = err.WithRank(2).WithTag("deliverSubproblem").WithFrom(5)
//	fmt.Println(err) // "protocol error [rank=2, tag=deliverSubproblem, from=5]: unknown kind 9: corrupt message header"
type ProtocolError struct {
	baseError
	Rank int
	From int
	Tag  string
}

// NewProtocolError creates a new ProtocolError.
func NewProtocolError(message string, cause error) *ProtocolError {
	return &ProtocolError{
		baseError: baseError{
			message:    message,
			cause:      cause,
			severity:   SeverityCritical,
			retryable:  false,
			userFacing: true,
		},
		Rank: -1,
		From: -1,
	}
}

// WithRank sets the rank that detected the error.
func (e *ProtocolError) WithRank(rank int) *ProtocolError {
	e.Rank = rank
	return e
}

// WithFrom sets the rank that sent the offending message.
func (e *ProtocolError) WithFrom(rank int) *ProtocolError {
	e.From = rank
	return e
}

// WithTag sets the channel the message arrived on.
func (e *ProtocolError) WithTag(tag string) *ProtocolError {
	e.Tag = tag
	return e
}

// Error returns the formatted error message.
func (e *ProtocolError) Error() string {
	var parts []string
	if e.Rank >= 0 {
		parts = append(parts, fmt.Sprintf("rank=%d", e.Rank))
	}
	if e.Tag != "" {
		parts = append(parts, fmt.Sprintf("tag=%s", e.Tag))
	}
	if e.From >= 0 {
		parts = append(parts, fmt.Sprintf("from=%d", e.From))
	}
	return formatError("protocol error", parts, e.message, e.cause)
}

// Is checks if this error matches the target.
func (e *ProtocolError) Is(target error) bool {
	if _, ok := target.(*ProtocolError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// EngineError reports why a process stopped before normal termination.
//
// Example:
//
//	err := errors.NewEngineError("stopping", errors.ErrAborted).WithRank(0).WithPhase("steady")
type EngineError struct {
	baseError
	Rank  int
	Phase string
}

// NewEngineError creates a new EngineError.
func NewEngineError(message string, cause error) *EngineError {
	return &EngineError{
		baseError: baseError{
			message:    message,
			cause:      cause,
			severity:   SeverityError,
			retryable:  false,
			userFacing: true,
		},
		Rank: -1,
	}
}

// WithRank sets the rank that stopped.
func (e *EngineError) WithRank(rank int) *EngineError {
	e.Rank = rank
	return e
}

// WithPhase sets the phase the process was in.
func (e *EngineError) WithPhase(phase string) *EngineError {
	e.Phase = phase
	return e
}

// WithSeverity sets the error severity.
func (e *EngineError) WithSeverity(s Severity) *EngineError {
	e.severity = s
	return e
}

// Error returns the formatted error message.
func (e *EngineError) Error() string {
	var parts []string
	if e.Rank >= 0 {
		parts = append(parts, fmt.Sprintf("rank=%d", e.Rank))
	}
	if e.Phase != "" {
		parts = append(parts, fmt.Sprintf("phase=%s", e.Phase))
	}
	return formatError("engine error", parts, e.message, e.cause)
}

// Is checks if this error matches the target.
func (e *EngineError) Is(target error) bool {
	if _, ok := target.(*EngineError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// CheckpointError reports a checkpoint that could not be written or read.
// The engine falls back to a fresh start instead of failing.
//
// Example:
//
//	err := errors.NewCheckpointError("read failed", errors.ErrCheckpointCorrupt).
//		WithRank(1).WithPath("/tmp/ckpt/rank-0001.ckpt")
type CheckpointError struct {
	baseError
	Rank int
	Path string
}

// NewCheckpointError creates a new CheckpointError.
func NewCheckpointError(message string, cause error) *CheckpointError {
	return &CheckpointError{
		baseError: baseError{
			message:    message,
			cause:      cause,
			severity:   SeverityWarning,
			retryable:  true,
			userFacing: true,
		},
		Rank: -1,
	}
}

// WithRank sets the rank whose checkpoint failed.
func (e *CheckpointError) WithRank(rank int) *CheckpointError {
	e.Rank = rank
	return e
}

// WithPath sets the checkpoint file path.
func (e *CheckpointError) WithPath(path string) *CheckpointError {
	e.Path = path
	return e
}

// Error returns the formatted error message.
func (e *CheckpointError) Error() string {
	var parts []string
	if e.Rank >= 0 {
		parts = append(parts, fmt.Sprintf("rank=%d", e.Rank))
	}
	if e.Path != "" {
		parts = append(parts, fmt.Sprintf("path=%s", e.Path))
	}
	return formatError("checkpoint error", parts, e.message, e.cause)
}

// Is checks if this error matches the target.
func (e *CheckpointError) Is(target error) bool {
	if _, ok := target.(*CheckpointError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// -----------------------------------------------------------------------------
// Semantic Errors
// -----------------------------------------------------------------------------

// ValidationError represents invalid input or state.
//
// Example:
//
//	err := errors.NewValidationError("cluster size must be positive")
//	err = err.WithField("topology.cluster_size").WithValue(0)
type ValidationError struct {
	baseError
	Field string
	Value any
}

// NewValidationError creates a new ValidationError.
func NewValidationError(message string) *ValidationError {
	return &ValidationError{
		baseError: baseError{
			message:    message,
			severity:   SeverityWarning,
			retryable:  false,
			userFacing: true,
		},
	}
}

// WithField adds a field name to the error context.
func (e *ValidationError) WithField(field string) *ValidationError {
	e.Field = field
	return e
}

// WithValue adds the invalid value to the error context.
func (e *ValidationError) WithValue(value any) *ValidationError {
	e.Value = value
	return e
}

// WithCause adds a cause to the error.
func (e *ValidationError) WithCause(cause error) *ValidationError {
	e.cause = cause
	return e
}

// Error returns the formatted error message.
func (e *ValidationError) Error() string {
	var parts []string
	if e.Field != "" {
		parts = append(parts, fmt.Sprintf("field=%s", e.Field))
	}
	if e.Value != nil {
		parts = append(parts, fmt.Sprintf("value=%v", e.Value))
	}
	return formatError("validation error", parts, e.message, e.cause)
}

// Is checks if this error matches the target.
func (e *ValidationError) Is(target error) bool {
	if _, ok := target.(*ValidationError); ok {
		return true
	}
	if errors.Is(target, ErrInvalidInput) {
		return true
	}
	return e.baseError.Is(target)
}

// TimeoutError represents an operation that timed out.
//
// Example:
//
//	err := errors.NewTimeoutError("search", 10*time.Minute)
//	fmt.Println(err) // "timeout error: search (timeout: 10m0s)"
type TimeoutError struct {
	baseError
	Operation string
	Duration  time.Duration
}

// NewTimeoutError creates a new TimeoutError.
func NewTimeoutError(operation string, duration time.Duration) *TimeoutError {
	return &TimeoutError{
		baseError: baseError{
			message:    operation,
			severity:   SeverityWarning,
			retryable:  false,
			userFacing: true,
		},
		Operation: operation,
		Duration:  duration,
	}
}

// WithCause adds a cause to the error.
func (e *TimeoutError) WithCause(cause error) *TimeoutError {
	e.cause = cause
	return e
}

// Error returns the formatted error message.
func (e *TimeoutError) Error() string {
	base := fmt.Sprintf("timeout error: %s (timeout: %s)", e.Operation, e.Duration)
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", base, e.cause)
	}
	return base
}

// Is checks if this error matches the target.
func (e *TimeoutError) Is(target error) bool {
	if _, ok := target.(*TimeoutError); ok {
		return true
	}
	if errors.Is(target, ErrTimeout) {
		return true
	}
	return e.baseError.Is(target)
}

// -----------------------------------------------------------------------------
// Error Classification Helpers
// -----------------------------------------------------------------------------

// IsFatal returns true if the error must abort the whole run: protocol
// errors and anything reporting SeverityCritical.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	var protoErr *ProtocolError
	if As(err, &protoErr) {
		return true
	}
	return GetSeverity(err) == SeverityCritical
}

// IsAbort returns true if the error reports a cooperative abort rather than
// a failure.
func IsAbort(err error) bool {
	return Is(err, ErrAborted) || Is(err, ErrWallTimeExceeded)
}

// IsRetryable returns true if the error represents a transient condition
// that may succeed on retry.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var fault EngineFault
	if As(err, &fault) {
		return fault.IsRetryable()
	}
	return Is(err, ErrTimeout)
}

// IsUserFacing returns true if the error message is safe to display to
// operators.
func IsUserFacing(err error) bool {
	if err == nil {
		return false
	}
	var fault EngineFault
	if As(err, &fault) {
		return fault.IsUserFacing()
	}
	return false
}

// GetSeverity returns the severity level of the error.
// Returns SeverityError for errors that don't implement EngineFault.
func GetSeverity(err error) Severity {
	if err == nil {
		return SeverityDebug
	}
	var fault EngineFault
	if As(err, &fault) {
		return fault.Severity()
	}
	return SeverityError
}

// -----------------------------------------------------------------------------
// Convenience Constructors
// -----------------------------------------------------------------------------

// Wrap wraps an error with additional context message.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf wraps an error with a formatted context message.
func Wrapf(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}
