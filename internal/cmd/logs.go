package cmd

import (
	"fmt"
	"time"

	"github.com/Iron-Ham/bnbhub/internal/config"
	"github.com/Iron-Ham/bnbhub/internal/logging"
	"github.com/spf13/cobra"
)

var logsCmd = &cobra.Command{
	Use:   "logs",
	Short: "View run logs",
	Long: `View and filter the JSON logs written by 'bnbhub run' when logging.dir
is set. Rotated and compressed backups are read too.

Examples:
  # Show the last 50 entries
  bnbhub logs --dir ./logs

  # Show everything rank 3 logged during steady state
  bnbhub logs --dir ./logs --rank 3 --phase steady -n 0

  # Show warnings from the last hour as JSON
  bnbhub logs --dir ./logs --level warn --since 1h --format json`,
	RunE: runLogs,
}

var (
	logsDir    string
	logsTail   int
	logsLevel  string
	logsRank   int
	logsRole   string
	logsPhase  string
	logsRunID  string
	logsGrep   string
	logsSince  string
	logsFormat string
)

func init() {
	rootCmd.AddCommand(logsCmd)

	logsCmd.Flags().StringVar(&logsDir, "dir", "", "Log directory (default: logging.dir)")
	logsCmd.Flags().IntVarP(&logsTail, "tail", "n", 50, "Number of entries to show (0 for all)")
	logsCmd.Flags().StringVar(&logsLevel, "level", "", "Filter by minimum level (debug/info/warn/error)")
	logsCmd.Flags().IntVar(&logsRank, "rank", logging.AnyRank, "Filter by process rank")
	logsCmd.Flags().StringVar(&logsRole, "role", "", "Filter by role (hub, worker, hub+worker)")
	logsCmd.Flags().StringVar(&logsPhase, "phase", "", "Filter by phase (rampup, steady, ...)")
	logsCmd.Flags().StringVar(&logsRunID, "run", "", "Filter by run id")
	logsCmd.Flags().StringVar(&logsGrep, "grep", "", "Filter by message substring")
	logsCmd.Flags().StringVar(&logsSince, "since", "", "Show entries since duration ago (e.g., 1h, 30m)")
	logsCmd.Flags().StringVar(&logsFormat, "format", "text", "Output format: text or json")
}

func runLogs(cmd *cobra.Command, args []string) error {
	dir := logsDir
	if dir == "" {
		dir = config.Get().Logging.Dir
	}
	if dir == "" {
		return fmt.Errorf("no log directory: pass --dir or set logging.dir")
	}

	filter := logging.LogFilter{
		Level:           logsLevel,
		Rank:            logsRank,
		Role:            logsRole,
		Phase:           logsPhase,
		RunID:           logsRunID,
		MessageContains: logsGrep,
	}
	if logsSince != "" {
		d, err := time.ParseDuration(logsSince)
		if err != nil {
			return fmt.Errorf("invalid --since duration: %w", err)
		}
		filter.Since = time.Now().Add(-d)
	}

	entries, err := logging.ReadLogs(config.ResolvePath(dir))
	if err != nil {
		return fmt.Errorf("failed to read logs: %w", err)
	}
	entries = tailEntries(logging.FilterLogs(entries, filter), logsTail)
	return logging.WriteEntries(cmd.OutOrStdout(), entries, logsFormat)
}

// tailEntries keeps the last n entries; n <= 0 keeps all.
func tailEntries(entries []logging.LogEntry, n int) []logging.LogEntry {
	if n <= 0 || len(entries) <= n {
		return entries
	}
	return entries[len(entries)-n:]
}
