package ui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/moat-sh/moat/internal/engine"
	"github.com/moat-sh/moat/internal/parser"
	"github.com/moat-sh/moat/internal/progress"
)

// SummaryRenderer formats a finished run as a results table plus a
// one-line verdict.
type SummaryRenderer struct {
	headerStyle  lipgloss.Style
	okStyle      lipgloss.Style
	changedStyle lipgloss.Style
	failStyle    lipgloss.Style
	mutedStyle   lipgloss.Style
}

// NewSummaryRenderer creates a renderer with the standard palette.
func NewSummaryRenderer() *SummaryRenderer {
	return &SummaryRenderer{
		headerStyle:  lipgloss.NewStyle().Bold(true).Foreground(ColorPrimary),
		okStyle:      lipgloss.NewStyle().Foreground(ColorSuccess),
		changedStyle: lipgloss.NewStyle().Foreground(ColorWarning),
		failStyle:    lipgloss.NewStyle().Foreground(ColorError).Bold(true),
		mutedStyle:   lipgloss.NewStyle().Foreground(ColorMuted),
	}
}

// Render produces the full post-run summary. label names the run, e.g.
// "deploy all roles".
func (r *SummaryRenderer) Render(label string, outcome *engine.Outcome) string {
	var b strings.Builder

	b.WriteString(r.headerStyle.Render(fmt.Sprintf("Results: %s", label)))
	b.WriteString("\n\n")

	if len(outcome.Rows) == 0 {
		b.WriteString(r.mutedStyle.Render("no task results captured"))
		b.WriteString("\n")
	} else {
		b.WriteString(r.renderTable(outcome.Rows))
	}

	b.WriteString("\n")
	b.WriteString(r.renderVerdict(outcome))
	b.WriteString("\n")
	return b.String()
}

func (r *SummaryRenderer) renderTable(rows []progress.ResultRow) string {
	hostW, taskW := len("HOST"), len("TASK")
	for _, row := range rows {
		if len(row.Host) > hostW {
			hostW = len(row.Host)
		}
		if len(row.Task) > taskW {
			taskW = len(row.Task)
		}
	}

	var b strings.Builder
	b.WriteString(r.mutedStyle.Render(fmt.Sprintf("  %-*s  %-*s  %-8s  %s",
		hostW, "HOST", taskW, "TASK", "STATUS", "MESSAGE")))
	b.WriteString("\n")

	for _, row := range rows {
		line := fmt.Sprintf("%-*s  %-*s  %-8s  %s",
			hostW, row.Host, taskW, row.Task, row.Status, row.Message)
		b.WriteString("  ")
		b.WriteString(r.statusStyle(row.Status).Render(line))
		b.WriteString("\n")
	}
	return b.String()
}

func (r *SummaryRenderer) statusStyle(s parser.Status) lipgloss.Style {
	switch {
	case s.Failed():
		return r.failStyle
	case s == parser.StatusChanged:
		return r.changedStyle
	default:
		return r.okStyle
	}
}

func (r *SummaryRenderer) renderVerdict(outcome *engine.Outcome) string {
	ok, changed, failed := countRows(outcome.Rows)
	counts := fmt.Sprintf("ok=%d changed=%d failed=%d", ok, changed, failed)

	switch {
	case outcome.Cancelled():
		return r.changedStyle.Render(fmt.Sprintf("%s Stopped by user (%s)", SymbolSkipped, counts))
	case outcome.Succeeded():
		line := fmt.Sprintf("%s Completed in %s (%s)",
			SymbolSuccess, outcome.Result.Duration.Round(durationGrain(outcome.Result.Duration)), counts)
		return r.okStyle.Render(line)
	default:
		return r.failStyle.Render(fmt.Sprintf("%s Failed with exit code %d (%s)",
			SymbolFail, outcome.Result.ExitCode, counts))
	}
}

func countRows(rows []progress.ResultRow) (ok, changed, failed int) {
	for _, row := range rows {
		switch {
		case row.Status.Failed():
			failed++
		case row.Status == parser.StatusChanged:
			changed++
		default:
			ok++
		}
	}
	return ok, changed, failed
}

// durationGrain keeps short durations readable to the millisecond and
// long ones to the second.
func durationGrain(d time.Duration) time.Duration {
	if d < time.Minute {
		return time.Millisecond
	}
	return time.Second
}
