package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is the prefix of environment variables that override config
// keys, e.g. BNBHUB_TOPOLOGY_PROCESSES.
const EnvPrefix = "BNBHUB"

// Config represents the complete bnbhub configuration
type Config struct {
	Topology    TopologyConfig    `mapstructure:"topology"`
	Pool        PoolConfig        `mapstructure:"pool"`
	Scatter     ScatterConfig     `mapstructure:"scatter"`
	Release     ReleaseConfig     `mapstructure:"release"`
	Hub         HubConfig         `mapstructure:"hub"`
	RampUp      RampUpConfig      `mapstructure:"rampup"`
	Termination TerminationConfig `mapstructure:"termination"`
	Checkpoint  CheckpointConfig  `mapstructure:"checkpoint"`
	Limits      LimitsConfig      `mapstructure:"limits"`
	Logging     LoggingConfig     `mapstructure:"logging"`
	Metrics     MetricsConfig     `mapstructure:"metrics"`
}

// TopologyConfig controls the shape of the process world
type TopologyConfig struct {
	// Processes is the number of simulated processes (default: 8)
	Processes int `mapstructure:"processes"`
	// ClusterSize is the number of processes per cluster, hub included (default: 4)
	ClusterSize int `mapstructure:"cluster_size"`
	// HubsDontWorkSize is the cluster size from which the hub stops doing
	// search work of its own (default: 10)
	HubsDontWorkSize int `mapstructure:"hubs_dont_work_size"`
}

// PoolConfig controls the local subproblem pools
type PoolConfig struct {
	// Policy is the selection order: "depth", "breadth" or "best" (default: "best")
	Policy string `mapstructure:"policy"`
}

// ScatterConfig controls when workers release children to hubs
type ScatterConfig struct {
	// MinProb and MaxProb bound the release probability (default: 0 and 0.5)
	MinProb float64 `mapstructure:"min_prob"`
	MaxProb float64 `mapstructure:"max_prob"`
	// LowWatermark is the load ratio below which MinProb applies (default: 0.5)
	LowWatermark float64 `mapstructure:"low_watermark"`
	// HighWatermark is the load ratio above which MaxProb applies (default: 2.0)
	HighWatermark float64 `mapstructure:"high_watermark"`
	// TargetLoad is the pending count that corresponds to load ratio 1 (default: 16)
	TargetLoad int `mapstructure:"target_load"`
	// InterClusterProb is the chance a released child goes to another
	// cluster's hub (default: 0.1)
	InterClusterProb float64 `mapstructure:"inter_cluster_prob"`
	// Seed seeds the per-rank release generators; 0 picks a random seed
	Seed uint64 `mapstructure:"seed"`
}

// ReleaseConfig selects how released work travels
type ReleaseConfig struct {
	// Mode is "tokens" (workers keep children and ship token records) or
	// "eager" (workers ship full subproblems) (default: "tokens")
	Mode string `mapstructure:"mode"`
}

// HubConfig controls load reporting and hub balancing
type HubConfig struct {
	// ReportDelta is the change in a worker's pool size that triggers a
	// load report (default: 4)
	ReportDelta int `mapstructure:"report_delta"`
	// ReportIntervalMs is the longest a changed load goes unreported (default: 50)
	ReportIntervalMs int `mapstructure:"report_interval_ms"`
	// BalanceIntervalMs is how often hubs compare cluster loads (default: 20)
	BalanceIntervalMs int `mapstructure:"balance_interval_ms"`
	// DispatchThreshold is the estimated load under which a worker is
	// sent more work (default: 2)
	DispatchThreshold int `mapstructure:"dispatch_threshold"`
	// DonorMinimum is the smallest pool a worker may donate from (default: 2)
	DonorMinimum int `mapstructure:"donor_minimum"`
	// SurplusTolerance is how far above the mean a cluster must be before
	// its hub forwards work to a peer, as a fraction (default: 0.5)
	SurplusTolerance float64 `mapstructure:"surplus_tolerance"`
	// RequestIntervalMs rate-limits work requests to one peer hub (default: 50)
	RequestIntervalMs int `mapstructure:"request_interval_ms"`
}

// RampUpConfig controls the synchronous ramp-up
type RampUpConfig struct {
	// PoolFactor stops ramp-up once the pool holds this many items per
	// worker, 0 disables (default: 2)
	PoolFactor float64 `mapstructure:"pool_factor"`
	// MinCreated stops ramp-up once this many subproblems exist, 0 disables (default: 0)
	MinCreated int `mapstructure:"min_created"`
	// StopRule combines the thresholds: "either" or "both" (default: "either")
	StopRule string `mapstructure:"stop_rule"`
	// MaxCreated is a hard limit on ramp-up work, 0 means none (default: 100000)
	MaxCreated int `mapstructure:"max_created"`
}

// TerminationConfig controls termination detection
type TerminationConfig struct {
	// CheckIntervalMs is the pause between termination rounds (default: 10)
	CheckIntervalMs int `mapstructure:"check_interval_ms"`
}

// CheckpointConfig controls checkpoint and restart
type CheckpointConfig struct {
	// Dir is where rank files are written. Empty disables checkpoints.
	Dir string `mapstructure:"dir"`
	// IntervalSeconds is the time between checkpoints, 0 disables (default: 0)
	IntervalSeconds int `mapstructure:"interval_seconds"`
	// Restart loads the checkpoint in Dir instead of ramping up (default: false)
	Restart bool `mapstructure:"restart"`
}

// LimitsConfig controls how a run may be stopped early
type LimitsConfig struct {
	// WallTimeSeconds aborts the run after this long, 0 means no limit
	WallTimeSeconds int `mapstructure:"wall_time_seconds"`
	// AbortFile aborts the run when the file appears. Empty disables.
	AbortFile string `mapstructure:"abort_file"`
}

// LoggingConfig controls logging behavior
type LoggingConfig struct {
	// Level is the log level: "debug", "info", "warn", "error" (default: "info")
	Level string `mapstructure:"level"`
	// Dir is the directory for JSON logs. Empty logs to stderr.
	Dir string `mapstructure:"dir"`
	// MaxSizeMB is the maximum log file size in megabytes before rotation (default: 50)
	MaxSizeMB int `mapstructure:"max_size_mb"`
	// MaxBackups is the number of backup log files to keep (default: 3)
	MaxBackups int `mapstructure:"max_backups"`
	// Compress gzips rotated log files (default: false)
	Compress bool `mapstructure:"compress"`
}

// MetricsConfig controls the Prometheus endpoint
type MetricsConfig struct {
	// Addr is the listen address of /metrics, e.g. ":9090". Empty disables.
	Addr string `mapstructure:"addr"`
}

// Default returns a Config with sensible default values
func Default() *Config {
	return &Config{
		Topology: TopologyConfig{
			Processes:        8,
			ClusterSize:      4,
			HubsDontWorkSize: 10,
		},
		Pool: PoolConfig{
			Policy: "best",
		},
		Scatter: ScatterConfig{
			MinProb:          0,
			MaxProb:          0.5,
			LowWatermark:     0.5,
			HighWatermark:    2.0,
			TargetLoad:       16,
			InterClusterProb: 0.1,
		},
		Release: ReleaseConfig{
			Mode: "tokens",
		},
		Hub: HubConfig{
			ReportDelta:       4,
			ReportIntervalMs:  50,
			BalanceIntervalMs: 20,
			DispatchThreshold: 2,
			DonorMinimum:      2,
			SurplusTolerance:  0.5,
			RequestIntervalMs: 50,
		},
		RampUp: RampUpConfig{
			PoolFactor: 2,
			MinCreated: 0,
			StopRule:   "either",
			MaxCreated: 100000,
		},
		Termination: TerminationConfig{
			CheckIntervalMs: 10,
		},
		Checkpoint: CheckpointConfig{
			Dir:             "",
			IntervalSeconds: 0, // Disabled by default
			Restart:         false,
		},
		Limits: LimitsConfig{
			WallTimeSeconds: 0,
			AbortFile:       "",
		},
		Logging: LoggingConfig{
			Level:      "info",
			Dir:        "", // stderr
			MaxSizeMB:  50,
			MaxBackups: 3,
		},
	}
}

// ReportInterval returns the load report interval as a time.Duration
func (c *HubConfig) ReportInterval() time.Duration {
	return time.Duration(c.ReportIntervalMs) * time.Millisecond
}

// BalanceInterval returns the hub balancing interval as a time.Duration
func (c *HubConfig) BalanceInterval() time.Duration {
	return time.Duration(c.BalanceIntervalMs) * time.Millisecond
}

// RequestInterval returns the peer request rate limit as a time.Duration
func (c *HubConfig) RequestInterval() time.Duration {
	return time.Duration(c.RequestIntervalMs) * time.Millisecond
}

// CheckInterval returns the termination check interval as a time.Duration
func (c *TerminationConfig) CheckInterval() time.Duration {
	return time.Duration(c.CheckIntervalMs) * time.Millisecond
}

// Interval returns the checkpoint interval as a time.Duration (0 means disabled)
func (c *CheckpointConfig) Interval() time.Duration {
	return time.Duration(c.IntervalSeconds) * time.Second
}

// WallTime returns the wall-clock limit as a time.Duration (0 means no limit)
func (c *LimitsConfig) WallTime() time.Duration {
	return time.Duration(c.WallTimeSeconds) * time.Second
}

// SetDefaults registers default values with viper
func SetDefaults() {
	ApplyDefaults(viper.GetViper())
}

// ApplyDefaults registers default values with v
func ApplyDefaults(v *viper.Viper) {
	defaults := Default()

	// Topology defaults
	v.SetDefault("topology.processes", defaults.Topology.Processes)
	v.SetDefault("topology.cluster_size", defaults.Topology.ClusterSize)
	v.SetDefault("topology.hubs_dont_work_size", defaults.Topology.HubsDontWorkSize)

	// Pool defaults
	v.SetDefault("pool.policy", defaults.Pool.Policy)

	// Scatter defaults
	v.SetDefault("scatter.min_prob", defaults.Scatter.MinProb)
	v.SetDefault("scatter.max_prob", defaults.Scatter.MaxProb)
	v.SetDefault("scatter.low_watermark", defaults.Scatter.LowWatermark)
	v.SetDefault("scatter.high_watermark", defaults.Scatter.HighWatermark)
	v.SetDefault("scatter.target_load", defaults.Scatter.TargetLoad)
	v.SetDefault("scatter.inter_cluster_prob", defaults.Scatter.InterClusterProb)
	v.SetDefault("scatter.seed", defaults.Scatter.Seed)

	// Release defaults
	v.SetDefault("release.mode", defaults.Release.Mode)

	// Hub defaults
	v.SetDefault("hub.report_delta", defaults.Hub.ReportDelta)
	v.SetDefault("hub.report_interval_ms", defaults.Hub.ReportIntervalMs)
	v.SetDefault("hub.balance_interval_ms", defaults.Hub.BalanceIntervalMs)
	v.SetDefault("hub.dispatch_threshold", defaults.Hub.DispatchThreshold)
	v.SetDefault("hub.donor_minimum", defaults.Hub.DonorMinimum)
	v.SetDefault("hub.surplus_tolerance", defaults.Hub.SurplusTolerance)
	v.SetDefault("hub.request_interval_ms", defaults.Hub.RequestIntervalMs)

	// Ramp-up defaults
	v.SetDefault("rampup.pool_factor", defaults.RampUp.PoolFactor)
	v.SetDefault("rampup.min_created", defaults.RampUp.MinCreated)
	v.SetDefault("rampup.stop_rule", defaults.RampUp.StopRule)
	v.SetDefault("rampup.max_created", defaults.RampUp.MaxCreated)

	// Termination defaults
	v.SetDefault("termination.check_interval_ms", defaults.Termination.CheckIntervalMs)

	// Checkpoint defaults
	v.SetDefault("checkpoint.dir", defaults.Checkpoint.Dir)
	v.SetDefault("checkpoint.interval_seconds", defaults.Checkpoint.IntervalSeconds)
	v.SetDefault("checkpoint.restart", defaults.Checkpoint.Restart)

	// Limits defaults
	v.SetDefault("limits.wall_time_seconds", defaults.Limits.WallTimeSeconds)
	v.SetDefault("limits.abort_file", defaults.Limits.AbortFile)

	// Logging defaults
	v.SetDefault("logging.level", defaults.Logging.Level)
	v.SetDefault("logging.dir", defaults.Logging.Dir)
	v.SetDefault("logging.max_size_mb", defaults.Logging.MaxSizeMB)
	v.SetDefault("logging.max_backups", defaults.Logging.MaxBackups)
	v.SetDefault("logging.compress", defaults.Logging.Compress)

	// Metrics defaults
	v.SetDefault("metrics.addr", defaults.Metrics.Addr)
}

// BindEnv makes every key overridable from BNBHUB_* environment variables.
func BindEnv() {
	viper.SetEnvPrefix(EnvPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()
}

// Load reads the configuration from viper into a Config struct and validates it
func Load() (*Config, error) {
	return LoadFrom(viper.GetViper())
}

// LoadFrom is Load against a specific viper instance.
func LoadFrom(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	// Validate the configuration
	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, ValidationErrors(errs)
	}

	return &cfg, nil
}

// Get returns the current configuration (convenience function)
func Get() *Config {
	cfg, err := Load()
	if err != nil {
		// Fall back to defaults if unmarshaling fails
		return Default()
	}
	return cfg
}

// ConfigDir returns the path to the user's config directory
func ConfigDir() string {
	// Check XDG_CONFIG_HOME first
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "bnbhub")
	}
	// Fall back to ~/.config/bnbhub
	home, err := os.UserHomeDir()
	if err != nil {
		return ".bnbhub"
	}
	return filepath.Join(home, ".config", "bnbhub")
}

// ConfigFile returns the path to the config file
func ConfigFile() string {
	return filepath.Join(ConfigDir(), "config.yaml")
}

// ResolvePath expands a leading ~ to the home directory. Other paths are
// returned unchanged.
func ResolvePath(path string) string {
	if strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[2:])
		}
	} else if path == "~" {
		if home, err := os.UserHomeDir(); err == nil {
			return home
		}
	}
	return path
}
