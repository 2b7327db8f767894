package config

import (
	"fmt"
	"math"
	"slices"
	"strings"

	"github.com/Iron-Ham/bnbhub/internal/pool"
	"github.com/Iron-Ham/bnbhub/internal/topology"
)

// ValidationError represents a single validation failure
type ValidationError struct {
	Field   string // The config field path (e.g., "topology.processes")
	Value   any    // The invalid value
	Message string // Human-readable error description
}

// Error implements the error interface for ValidationError
func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s (got: %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface for ValidationErrors
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d validation errors:\n", len(e)))
	for i, err := range e {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return sb.String()
}

// maxProcesses bounds the simulated world. Every process is a goroutine
// with its own inbox.
const maxProcesses = 4096

// ValidLogLevels returns the list of valid log levels
func ValidLogLevels() []string {
	return []string{"debug", "info", "warn", "error"}
}

// ValidReleaseModes returns the list of valid release modes
func ValidReleaseModes() []string {
	return []string{"tokens", "eager"}
}

// ValidStopRules returns the list of valid ramp-up stop rules
func ValidStopRules() []string {
	return []string{"either", "both"}
}

// Validate checks the Config for invalid values and returns all validation errors found
func (c *Config) Validate() []ValidationError {
	var errors []ValidationError

	errors = append(errors, c.validateTopology()...)
	errors = append(errors, c.validatePool()...)
	errors = append(errors, c.validateScatter()...)
	errors = append(errors, c.validateRelease()...)
	errors = append(errors, c.validateHub()...)
	errors = append(errors, c.validateRampUp()...)
	errors = append(errors, c.validateTermination()...)
	errors = append(errors, c.validateCheckpoint()...)
	errors = append(errors, c.validateLimits()...)
	errors = append(errors, c.validateLogging()...)

	return errors
}

// validateTopology validates the TopologyConfig
func (c *Config) validateTopology() []ValidationError {
	var errors []ValidationError
	t := c.Topology

	if t.Processes < 1 || t.Processes > maxProcesses {
		errors = append(errors, ValidationError{
			Field:   "topology.processes",
			Value:   t.Processes,
			Message: fmt.Sprintf("must be between 1 and %d", maxProcesses),
		})
	}
	if t.ClusterSize < 1 {
		errors = append(errors, ValidationError{
			Field:   "topology.cluster_size",
			Value:   t.ClusterSize,
			Message: "must be at least 1",
		})
	}
	if t.HubsDontWorkSize < 1 {
		errors = append(errors, ValidationError{
			Field:   "topology.hubs_dont_work_size",
			Value:   t.HubsDontWorkSize,
			Message: "must be at least 1",
		})
	}

	// The individual values are fine; check the partition leaves workers.
	if len(errors) == 0 {
		if _, err := topology.New(t.Processes, t.ClusterSize, t.HubsDontWorkSize); err != nil {
			errors = append(errors, ValidationError{
				Field:   "topology",
				Value:   fmt.Sprintf("%d/%d/%d", t.Processes, t.ClusterSize, t.HubsDontWorkSize),
				Message: err.Error(),
			})
		}
	}

	return errors
}

// validatePool validates the PoolConfig
func (c *Config) validatePool() []ValidationError {
	if _, err := pool.ParsePolicy(c.Pool.Policy); err != nil {
		return []ValidationError{{
			Field:   "pool.policy",
			Value:   c.Pool.Policy,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(pool.ValidPolicies(), ", ")),
		}}
	}
	return nil
}

// validateScatter validates the ScatterConfig
func (c *Config) validateScatter() []ValidationError {
	var errors []ValidationError
	s := c.Scatter

	inUnit := func(v float64) bool { return v >= 0 && v <= 1 }
	if !inUnit(s.MinProb) {
		errors = append(errors, ValidationError{
			Field:   "scatter.min_prob",
			Value:   s.MinProb,
			Message: "must be between 0 and 1",
		})
	}
	if !inUnit(s.MaxProb) {
		errors = append(errors, ValidationError{
			Field:   "scatter.max_prob",
			Value:   s.MaxProb,
			Message: "must be between 0 and 1",
		})
	}
	if s.MinProb > s.MaxProb {
		errors = append(errors, ValidationError{
			Field:   "scatter.min_prob",
			Value:   s.MinProb,
			Message: fmt.Sprintf("must not exceed scatter.max_prob (%v)", s.MaxProb),
		})
	}
	if s.LowWatermark < 0 {
		errors = append(errors, ValidationError{
			Field:   "scatter.low_watermark",
			Value:   s.LowWatermark,
			Message: "must be non-negative",
		})
	}
	if s.HighWatermark < s.LowWatermark {
		errors = append(errors, ValidationError{
			Field:   "scatter.high_watermark",
			Value:   s.HighWatermark,
			Message: fmt.Sprintf("must be at least scatter.low_watermark (%v)", s.LowWatermark),
		})
	}
	if s.TargetLoad < 1 {
		errors = append(errors, ValidationError{
			Field:   "scatter.target_load",
			Value:   s.TargetLoad,
			Message: "must be at least 1",
		})
	}
	if !inUnit(s.InterClusterProb) {
		errors = append(errors, ValidationError{
			Field:   "scatter.inter_cluster_prob",
			Value:   s.InterClusterProb,
			Message: "must be between 0 and 1",
		})
	}

	return errors
}

// validateRelease validates the ReleaseConfig
func (c *Config) validateRelease() []ValidationError {
	if !slices.Contains(ValidReleaseModes(), c.Release.Mode) {
		return []ValidationError{{
			Field:   "release.mode",
			Value:   c.Release.Mode,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidReleaseModes(), ", ")),
		}}
	}
	return nil
}

// validateHub validates the HubConfig
func (c *Config) validateHub() []ValidationError {
	var errors []ValidationError
	h := c.Hub

	positive := []struct {
		field string
		value int
	}{
		{"hub.report_delta", h.ReportDelta},
		{"hub.report_interval_ms", h.ReportIntervalMs},
		{"hub.balance_interval_ms", h.BalanceIntervalMs},
		{"hub.dispatch_threshold", h.DispatchThreshold},
		{"hub.donor_minimum", h.DonorMinimum},
	}
	for _, p := range positive {
		if p.value < 1 {
			errors = append(errors, ValidationError{
				Field:   p.field,
				Value:   p.value,
				Message: "must be at least 1",
			})
		}
	}
	if h.RequestIntervalMs < 0 {
		errors = append(errors, ValidationError{
			Field:   "hub.request_interval_ms",
			Value:   h.RequestIntervalMs,
			Message: "must be non-negative",
		})
	}
	if h.SurplusTolerance < 0 || math.IsNaN(h.SurplusTolerance) {
		errors = append(errors, ValidationError{
			Field:   "hub.surplus_tolerance",
			Value:   h.SurplusTolerance,
			Message: "must be non-negative",
		})
	}

	return errors
}

// validateRampUp validates the RampUpConfig
func (c *Config) validateRampUp() []ValidationError {
	var errors []ValidationError
	r := c.RampUp

	if r.PoolFactor < 0 || math.IsNaN(r.PoolFactor) {
		errors = append(errors, ValidationError{
			Field:   "rampup.pool_factor",
			Value:   r.PoolFactor,
			Message: "must be non-negative",
		})
	}
	if r.MinCreated < 0 {
		errors = append(errors, ValidationError{
			Field:   "rampup.min_created",
			Value:   r.MinCreated,
			Message: "must be non-negative",
		})
	}
	if r.MaxCreated < 0 {
		errors = append(errors, ValidationError{
			Field:   "rampup.max_created",
			Value:   r.MaxCreated,
			Message: "must be non-negative",
		})
	}
	if r.PoolFactor == 0 && r.MinCreated == 0 && r.MaxCreated == 0 {
		errors = append(errors, ValidationError{
			Field:   "rampup",
			Value:   "pool_factor=0 min_created=0 max_created=0",
			Message: "at least one ramp-up threshold must be set",
		})
	}
	if !slices.Contains(ValidStopRules(), r.StopRule) {
		errors = append(errors, ValidationError{
			Field:   "rampup.stop_rule",
			Value:   r.StopRule,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidStopRules(), ", ")),
		})
	}

	return errors
}

// validateTermination validates the TerminationConfig
func (c *Config) validateTermination() []ValidationError {
	if c.Termination.CheckIntervalMs < 1 {
		return []ValidationError{{
			Field:   "termination.check_interval_ms",
			Value:   c.Termination.CheckIntervalMs,
			Message: "must be at least 1",
		}}
	}
	return nil
}

// validateCheckpoint validates the CheckpointConfig
func (c *Config) validateCheckpoint() []ValidationError {
	var errors []ValidationError
	cp := c.Checkpoint

	if cp.IntervalSeconds < 0 {
		errors = append(errors, ValidationError{
			Field:   "checkpoint.interval_seconds",
			Value:   cp.IntervalSeconds,
			Message: "must be non-negative",
		})
	}
	if strings.ContainsRune(cp.Dir, '\x00') {
		errors = append(errors, ValidationError{
			Field:   "checkpoint.dir",
			Value:   cp.Dir,
			Message: "contains invalid null character",
		})
	}
	if cp.Dir == "" && (cp.IntervalSeconds > 0 || cp.Restart) {
		errors = append(errors, ValidationError{
			Field:   "checkpoint.dir",
			Value:   cp.Dir,
			Message: "must be set when checkpoint.interval_seconds or checkpoint.restart is used",
		})
	}

	return errors
}

// validateLimits validates the LimitsConfig
func (c *Config) validateLimits() []ValidationError {
	var errors []ValidationError

	if c.Limits.WallTimeSeconds < 0 {
		errors = append(errors, ValidationError{
			Field:   "limits.wall_time_seconds",
			Value:   c.Limits.WallTimeSeconds,
			Message: "must be non-negative",
		})
	}
	if strings.ContainsRune(c.Limits.AbortFile, '\x00') {
		errors = append(errors, ValidationError{
			Field:   "limits.abort_file",
			Value:   c.Limits.AbortFile,
			Message: "contains invalid null character",
		})
	}

	return errors
}

// validateLogging validates the LoggingConfig
func (c *Config) validateLogging() []ValidationError {
	var errors []ValidationError

	// Validate log level
	if c.Logging.Level != "" && !slices.Contains(ValidLogLevels(), c.Logging.Level) {
		errors = append(errors, ValidationError{
			Field:   "logging.level",
			Value:   c.Logging.Level,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidLogLevels(), ", ")),
		})
	}

	// Zero disables rotation
	if c.Logging.MaxSizeMB < 0 {
		errors = append(errors, ValidationError{
			Field:   "logging.max_size_mb",
			Value:   c.Logging.MaxSizeMB,
			Message: "must be non-negative",
		})
	}

	// Reasonable upper bound for log file size
	const maxLogSizeMB = 1000 // 1GB
	if c.Logging.MaxSizeMB > maxLogSizeMB {
		errors = append(errors, ValidationError{
			Field:   "logging.max_size_mb",
			Value:   c.Logging.MaxSizeMB,
			Message: fmt.Sprintf("exceeds maximum of %dMB", maxLogSizeMB),
		})
	}

	// Max backups must be non-negative
	if c.Logging.MaxBackups < 0 {
		errors = append(errors, ValidationError{
			Field:   "logging.max_backups",
			Value:   c.Logging.MaxBackups,
			Message: "must be non-negative",
		})
	}

	return errors
}
