package engine

import (
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/Iron-Ham/bnbhub/internal/config"
	"github.com/Iron-Ham/bnbhub/internal/event"
	"github.com/Iron-Ham/bnbhub/internal/hub"
	"github.com/Iron-Ham/bnbhub/internal/logging"
	"github.com/Iron-Ham/bnbhub/internal/pool"
	"github.com/Iron-Ham/bnbhub/internal/rampup"
	"github.com/Iron-Ham/bnbhub/internal/scatter"
	"github.com/Iron-Ham/bnbhub/internal/topology"
)

// ReleaseMode selects how a worker hands released children to a hub.
type ReleaseMode string

const (
	// ReleaseTokens keeps the child on the worker and ships a token record.
	// The hub later asks the owner to deliver or discard it.
	ReleaseTokens ReleaseMode = "tokens"
	// ReleaseEager ships the full subproblem to the hub.
	ReleaseEager ReleaseMode = "eager"
)

// ParseReleaseMode converts a configuration name to a ReleaseMode.
func ParseReleaseMode(s string) (ReleaseMode, error) {
	switch ReleaseMode(s) {
	case ReleaseTokens, ReleaseEager:
		return ReleaseMode(s), nil
	default:
		return "", fmt.Errorf("unknown release mode %q (valid: tokens, eager)", s)
	}
}

// Settings is everything a run needs besides the application.
type Settings struct {
	Processes        int
	ClusterSize      int
	HubsDontWorkSize int

	Policy  pool.Policy
	Release ReleaseMode

	// Scatter policy.
	MinProb          float64
	MaxProb          float64
	LowWatermark     float64
	HighWatermark    float64
	TargetLoad       int
	InterClusterProb float64
	// Seed seeds the per-rank release generators.
	Seed uint64

	ReportDelta       int
	ReportInterval    time.Duration
	BalanceInterval   time.Duration
	RequestInterval   time.Duration
	DispatchThreshold int
	DonorMinimum      int
	SurplusTolerance  float64

	StopRule rampup.StopRule

	CheckInterval time.Duration

	CheckpointDir      string
	CheckpointInterval time.Duration
	Restart            bool

	WallTime  time.Duration
	AbortFile string
}

// DefaultSettings mirrors config.Default.
func DefaultSettings() Settings {
	s, err := SettingsFromConfig(config.Default())
	if err != nil {
		panic(fmt.Sprintf("engine: default config is invalid: %v", err))
	}
	return s
}

// SettingsFromConfig translates a validated configuration.
func SettingsFromConfig(c *config.Config) (Settings, error) {
	policy, err := pool.ParsePolicy(c.Pool.Policy)
	if err != nil {
		return Settings{}, err
	}
	release, err := ParseReleaseMode(c.Release.Mode)
	if err != nil {
		return Settings{}, err
	}
	return Settings{
		Processes:          c.Topology.Processes,
		ClusterSize:        c.Topology.ClusterSize,
		HubsDontWorkSize:   c.Topology.HubsDontWorkSize,
		Policy:             policy,
		Release:            release,
		MinProb:            c.Scatter.MinProb,
		MaxProb:            c.Scatter.MaxProb,
		LowWatermark:       c.Scatter.LowWatermark,
		HighWatermark:      c.Scatter.HighWatermark,
		TargetLoad:         c.Scatter.TargetLoad,
		InterClusterProb:   c.Scatter.InterClusterProb,
		Seed:               c.Scatter.Seed,
		ReportDelta:        c.Hub.ReportDelta,
		ReportInterval:     c.Hub.ReportInterval(),
		BalanceInterval:    c.Hub.BalanceInterval(),
		RequestInterval:    c.Hub.RequestInterval(),
		DispatchThreshold:  c.Hub.DispatchThreshold,
		DonorMinimum:       c.Hub.DonorMinimum,
		SurplusTolerance:   c.Hub.SurplusTolerance,
		StopRule:           stopRule(c.RampUp),
		CheckInterval:      c.Termination.CheckInterval(),
		CheckpointDir:      config.ResolvePath(c.Checkpoint.Dir),
		CheckpointInterval: c.Checkpoint.Interval(),
		Restart:            c.Checkpoint.Restart,
		WallTime:           c.Limits.WallTime(),
		AbortFile:          config.ResolvePath(c.Limits.AbortFile),
	}, nil
}

func stopRule(c config.RampUpConfig) rampup.StopRule {
	return rampup.StopRule{
		PoolFactor: c.PoolFactor,
		MinCreated: c.MinCreated,
		Mode:       rampup.StopMode(c.StopRule),
		MaxCreated: c.MaxCreated,
	}
}

// Validate checks the settings that the engine relies on.
func (s Settings) Validate() error {
	topo, err := s.topology()
	if err != nil {
		return err
	}
	if topo.TotalWorkers() == 0 {
		return fmt.Errorf("topology %s has no workers", topo)
	}
	if _, err := scatter.NewPolicy(s.scatterOptions()...); err != nil {
		return err
	}
	if _, err := ParseReleaseMode(string(s.Release)); err != nil {
		return err
	}
	if err := s.StopRule.Validate(); err != nil {
		return fmt.Errorf("ramp-up: %w", err)
	}
	if s.ReportDelta < 1 {
		return fmt.Errorf("report delta must be at least 1, got %d", s.ReportDelta)
	}
	if s.DispatchThreshold < 1 || s.DonorMinimum < 1 {
		return fmt.Errorf("dispatch threshold and donor minimum must be at least 1, got %d and %d",
			s.DispatchThreshold, s.DonorMinimum)
	}
	if s.SurplusTolerance < 0 || math.IsNaN(s.SurplusTolerance) {
		return fmt.Errorf("surplus tolerance must be non-negative, got %v", s.SurplusTolerance)
	}
	if s.CheckInterval <= 0 || s.BalanceInterval <= 0 || s.ReportInterval <= 0 || s.RequestInterval <= 0 {
		return fmt.Errorf("check, balance, report and request intervals must be positive")
	}
	if (s.CheckpointInterval > 0 || s.Restart) && s.CheckpointDir == "" {
		return fmt.Errorf("checkpoints need a directory")
	}
	return nil
}

func (s Settings) topology() (*topology.Topology, error) {
	return topology.New(s.Processes, s.ClusterSize, s.HubsDontWorkSize)
}

func (s Settings) scatterOptions() []scatter.Option {
	return []scatter.Option{
		scatter.WithProbabilities(s.MinProb, s.MaxProb),
		scatter.WithWatermarks(s.LowWatermark, s.HighWatermark),
		scatter.WithTargetLoad(s.TargetLoad),
		scatter.WithInterClusterProb(s.InterClusterProb),
	}
}

func (s Settings) hubOptions() []hub.Option {
	return []hub.Option{
		hub.WithDispatchThreshold(s.DispatchThreshold),
		hub.WithDonorMinimum(s.DonorMinimum),
		hub.WithSurplusTolerance(s.SurplusTolerance),
	}
}

// engineConfig holds optional collaborators of an Engine.
type engineConfig struct {
	logger *logging.Logger
	bus    *event.Bus
	runID  string
}

// Option configures an Engine.
type Option func(*engineConfig)

// WithLogger sets the logger. Each process logs through a child tagged with
// its rank and role.
func WithLogger(l *logging.Logger) Option {
	return func(c *engineConfig) { c.logger = l }
}

// WithBus sets the event bus every process publishes to.
func WithBus(b *event.Bus) Option {
	return func(c *engineConfig) { c.bus = b }
}

// WithRunID sets the run id. By default a random UUID is used.
func WithRunID(id string) Option {
	return func(c *engineConfig) { c.runID = id }
}

func newEngineConfig(opts []Option) engineConfig {
	c := engineConfig{}
	for _, opt := range opts {
		opt(&c)
	}
	if c.logger == nil {
		c.logger = logging.NopLogger()
	}
	if c.bus == nil {
		c.bus = event.NewBus()
	}
	if c.runID == "" {
		c.runID = uuid.NewString()
	}
	return c
}
