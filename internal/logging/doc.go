// Package logging provides structured logging for bnbhub runs.
//
// It wraps Go's log/slog. With a log directory configured, every process of
// a run writes JSON lines to {dir}/bnbhub.log, optionally rotated by size.
// Without one, output goes to stderr through a charmbracelet/log handler so
// interactive runs stay readable.
//
// # Context Propagation
//
// Child loggers carry the attributes that make a multi-process log
// filterable after the fact:
//
//	logger, err := logging.NewLogger("/var/log/bnbhub", "INFO")
//	if err != nil {
//	    return err
//	}
//	defer logger.Close()
//
//	rankLog := logger.WithRun(runID).WithRank(3).WithRole("worker")
//	rankLog.WithPhase("rampup").Info("ramp-up finished", "pool", 42)
//
// Output:
//
//	{"time":"...","level":"INFO","msg":"ramp-up finished","run_id":"...","rank":3,"role":"worker","phase":"rampup","pool":42}
//
// [ReadLogs] and [FilterLogs] read those lines back for the logs command.
//
// # Thread Safety
//
// All types in this package are safe for concurrent use. Child loggers
// created via With* methods share the underlying writer.
package logging
