package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/Iron-Ham/bnbhub/internal/engine"
	"github.com/charmbracelet/lipgloss"
)

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	labelStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("8")).Width(12)
	goodStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("10"))
	warnStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("11"))
	headerStyle = lipgloss.NewStyle().Bold(true).Underline(true)
	boxStyle    = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("8")).
			Padding(0, 1)
)

// runStatus names how a run ended.
func runStatus(res *engine.Result) string {
	switch {
	case res.Aborted:
		return "aborted: " + res.AbortReason
	case res.Exhausted:
		return "optimal (ramp-up explored the whole tree)"
	case res.Terminated:
		return "optimal"
	default:
		return "stopped"
	}
}

// renderSummary formats a finished run. chosen lists the packed items of
// the best solution, if known.
func renderSummary(res *engine.Result, instance string, chosen []string) string {
	var b strings.Builder
	row := func(label, value string) {
		b.WriteString(labelStyle.Render(label))
		b.WriteString(value)
		b.WriteByte('\n')
	}

	status := runStatus(res)
	if res.Terminated || res.Exhausted {
		status = goodStyle.Render(status)
	} else {
		status = warnStyle.Render(status)
	}

	b.WriteString(titleStyle.Render("bnbhub run " + res.RunID))
	b.WriteString("\n\n")
	row("instance", instance)
	row("processes", fmt.Sprintf("%d", res.Processes))
	row("status", status)
	if res.Restored {
		row("restart", "resumed from checkpoint")
	}
	if res.HasValue {
		row("value", fmt.Sprintf("%g (%s, found by rank %d)", res.Value, res.Sense, res.Source))
	} else {
		row("value", "none")
	}
	if len(chosen) > 0 {
		row("items", fmt.Sprintf("%d: %s", len(chosen), strings.Join(chosen, ", ")))
	}
	row("elapsed", res.Elapsed.Round(time.Millisecond).String())

	t := res.Totals()
	row("search", fmt.Sprintf("%d bounded, %d branched, %d fathomed", t.Bounded, t.Branched, t.Fathomed))
	row("balancing", fmt.Sprintf("%d released, %d dispatched, %d forwarded, %d delivered",
		t.Released, t.Dispatched, t.Forwarded, t.Delivered))
	row("messages", fmt.Sprintf("%d sent, %d received", res.Load.Sent(), res.Load.Received()))
	row("busy", fmt.Sprintf("%.1f%%", 100*res.Load.BusyFraction()))

	if len(res.Ranks) > 0 {
		b.WriteByte('\n')
		b.WriteString(renderRanks(res.Ranks))
	}
	return boxStyle.Render(strings.TrimRight(b.String(), "\n"))
}

func renderRanks(ranks []engine.RankStats) string {
	var b strings.Builder
	b.WriteString(headerStyle.Render(fmt.Sprintf("%4s  %-10s  %-8s  %8s  %8s  %8s  %8s  %7s  %5s",
		"rank", "role", "phase", "branched", "released", "deliver", "dispatch", "pending", "busy")))
	b.WriteByte('\n')
	for _, rs := range ranks {
		fmt.Fprintf(&b, "%4d  %-10s  %-8s  %8d  %8d  %8d  %8d  %7d  %4.0f%%\n",
			rs.Rank, rs.Role, rs.Phase, rs.Branched, rs.Released, rs.Delivered, rs.Dispatched,
			rs.Load.Count(), 100*rs.Load.BusyFraction())
	}
	return b.String()
}
