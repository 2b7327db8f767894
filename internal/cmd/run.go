package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/Iron-Ham/bnbhub/internal/apps/knapsack"
	"github.com/Iron-Ham/bnbhub/internal/config"
	"github.com/Iron-Ham/bnbhub/internal/engine"
	"github.com/Iron-Ham/bnbhub/internal/event"
	"github.com/Iron-Ham/bnbhub/internal/logging"
	"github.com/Iron-Ham/bnbhub/internal/metrics"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/sugawarayuuta/sonnet"
)

var runCmd = &cobra.Command{
	Use:   "run [instance.toml]",
	Short: "Solve a knapsack instance",
	Long: `Solve a knapsack instance on a world of simulated processes.

The instance is read from a TOML file, or generated with --generate.
Every setting can also come from the config file or BNBHUB_* environment
variables; flags win over both.

Examples:
  # Solve an instance on 16 processes in clusters of 4
  bnbhub run items.toml -p 16 --cluster-size 4

  # Solve a generated hard instance, checkpointing every 30 seconds
  bnbhub run --generate 60 --correlated --checkpoint-dir ./ckpt --checkpoint-interval 30

  # Continue from the last checkpoint
  bnbhub run --generate 60 --correlated --checkpoint-dir ./ckpt --restart`,
	Args: cobra.MaximumNArgs(1),
	RunE: runRun,
}

var (
	runGenerate  int
	runGenSeed   uint64
	runMaxWeight int
	runCorrelate bool
	runJSON      bool
)

// runFlagKeys maps run flags to the config keys they override.
var runFlagKeys = map[string]string{
	"processes":           "topology.processes",
	"cluster-size":        "topology.cluster_size",
	"hubs-dont-work":      "topology.hubs_dont_work_size",
	"policy":              "pool.policy",
	"release":             "release.mode",
	"seed":                "scatter.seed",
	"checkpoint-dir":      "checkpoint.dir",
	"checkpoint-interval": "checkpoint.interval_seconds",
	"restart":             "checkpoint.restart",
	"wall-time":           "limits.wall_time_seconds",
	"abort-file":          "limits.abort_file",
	"metrics-addr":        "metrics.addr",
	"log-dir":             "logging.dir",
	"log-level":           "logging.level",
}

func init() {
	rootCmd.AddCommand(runCmd)

	f := runCmd.Flags()
	f.IntP("processes", "p", 0, "Number of processes")
	f.Int("cluster-size", 0, "Processes per cluster, hub included")
	f.Int("hubs-dont-work", 0, "Cluster size from which hubs stop searching")
	f.String("policy", "", "Pool order: best, depth or breadth")
	f.String("release", "", "Release mode: tokens or eager")
	f.Uint64("seed", 0, "Seed for release decisions (0 for random)")
	f.String("checkpoint-dir", "", "Directory for checkpoint files")
	f.Int("checkpoint-interval", 0, "Seconds between checkpoints (0 disables)")
	f.Bool("restart", false, "Restart from the checkpoint in --checkpoint-dir")
	f.Int("wall-time", 0, "Abort after this many seconds (0 for no limit)")
	f.String("abort-file", "", "Abort when this file appears")
	f.String("metrics-addr", "", "Serve Prometheus metrics on this address, e.g. :9090")
	f.String("log-dir", "", "Write JSON logs to this directory instead of stderr")
	f.String("log-level", "", "Log level (debug/info/warn/error)")
	for flag, key := range runFlagKeys {
		_ = viper.BindPFlag(key, f.Lookup(flag))
	}

	f.IntVar(&runGenerate, "generate", 0, "Generate an instance with this many items instead of reading a file")
	f.Uint64Var(&runGenSeed, "gen-seed", 1, "Seed for --generate")
	f.IntVar(&runMaxWeight, "max-weight", 1000, "Largest item weight for --generate")
	f.BoolVar(&runCorrelate, "correlated", false, "Generate values correlated with weights (harder)")
	f.BoolVar(&runJSON, "json", false, "Print the result as JSON")
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	inst, err := runInstance(args)
	if err != nil {
		return err
	}
	settings, err := engine.SettingsFromConfig(cfg)
	if err != nil {
		return err
	}

	logger, err := newRunLogger(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Close() }()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	bus := event.NewBus()
	if cfg.Metrics.Addr != "" {
		stopMetrics, err := serveMetrics(ctx, cfg.Metrics.Addr, bus, logger)
		if err != nil {
			return err
		}
		defer stopMetrics()
	}

	runID := uuid.NewString()
	eng, err := engine.New(knapsack.Factory(inst), settings,
		engine.WithLogger(logger),
		engine.WithBus(bus),
		engine.WithRunID(runID))
	if err != nil {
		return err
	}

	res, runErr := eng.Run(ctx)
	if res != nil {
		var chosen []string
		if len(res.Solution) > 0 {
			chosen, err = knapsack.New(inst).Chosen(res.Solution)
			if err != nil {
				logger.Warn("could not decode solution", "error", err)
			}
		}
		if err := printRunResult(cmd, res, inst, chosen); err != nil {
			return err
		}
	}
	return runErr
}

// runInstance loads the instance named in args or generates one.
func runInstance(args []string) (*knapsack.Instance, error) {
	switch {
	case runGenerate > 0 && len(args) > 0:
		return nil, fmt.Errorf("pass either an instance file or --generate, not both")
	case runGenerate > 0:
		return knapsack.Generate(knapsack.GenerateOptions{
			Items:         runGenerate,
			MaxWeight:     runMaxWeight,
			Correlated:    runCorrelate,
			CapacityRatio: 0.5,
			Seed:          runGenSeed,
		})
	case len(args) == 1:
		return knapsack.LoadInstance(config.ResolvePath(args[0]))
	default:
		return nil, fmt.Errorf("no instance: pass an instance file or --generate N")
	}
}

func newRunLogger(cfg *config.Config) (*logging.Logger, error) {
	if cfg.Logging.Dir == "" {
		return logging.NewConsoleLogger(os.Stderr, cfg.Logging.Level), nil
	}
	logger, err := logging.NewLoggerWithRotation(config.ResolvePath(cfg.Logging.Dir), cfg.Logging.Level, logging.RotationConfig{
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		Compress:   cfg.Logging.Compress,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open log: %w", err)
	}
	return logger, nil
}

// serveMetrics exposes the run's metrics until the returned stop function
// is called.
func serveMetrics(ctx context.Context, addr string, bus *event.Bus, logger *logging.Logger) (func(), error) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	collector := metrics.NewCollector(reg)
	collector.Attach(bus)

	srv, err := metrics.Listen(addr, reg)
	if err != nil {
		collector.Detach()
		return nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	logger.Info("serving metrics", "addr", srv.Addr())

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := srv.Serve(ctx); err != nil {
			logger.Warn("metrics server stopped", "error", err)
		}
	}()
	return func() {
		cancel()
		<-done
		collector.Detach()
	}, nil
}

// runReport is the --json form of a result.
type runReport struct {
	RunID     string          `json:"run_id"`
	Instance  string          `json:"instance"`
	Status    string          `json:"status"`
	Processes int             `json:"processes"`
	Value     *float64        `json:"value,omitempty"`
	Source    int             `json:"source"`
	Items     []string        `json:"items,omitempty"`
	Restored  bool            `json:"restored"`
	ElapsedMs int64           `json:"elapsed_ms"`
	Totals    engine.Counters `json:"totals"`
	Sent      uint64          `json:"messages_sent"`
	Received  uint64          `json:"messages_received"`
}

func printRunResult(cmd *cobra.Command, res *engine.Result, inst *knapsack.Instance, chosen []string) error {
	out := cmd.OutOrStdout()
	if !runJSON {
		_, err := fmt.Fprintln(out, renderSummary(res, inst.Name, chosen))
		return err
	}

	rep := runReport{
		RunID:     res.RunID,
		Instance:  inst.Name,
		Status:    runStatus(res),
		Processes: res.Processes,
		Source:    res.Source,
		Items:     chosen,
		Restored:  res.Restored,
		ElapsedMs: res.Elapsed.Milliseconds(),
		Totals:    res.Totals(),
		Sent:      res.Load.Sent(),
		Received:  res.Load.Received(),
	}
	if res.HasValue {
		v := res.Value
		rep.Value = &v
	}
	data, err := sonnet.Marshal(rep)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(out, "%s\n", data)
	return err
}
