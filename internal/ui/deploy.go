package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/moat-sh/moat/internal/engine"
	"github.com/moat-sh/moat/internal/parser"
)

// deployTailLines is how many recent output lines the live view shows.
// The aggregator and log file keep the longer history.
const deployTailLines = 8

// LineMsg carries one classified output line into the live view.
type LineMsg struct {
	Line  string
	Event parser.Event
}

// DoneMsg signals that the run finished.
type DoneMsg struct {
	Outcome *engine.Outcome
	Err     error
}

// DeployModel is the bubbletea model for a live run: spinner, current
// task, completion bar and a rolling output tail.
type DeployModel struct {
	label    string
	estimate int
	onCancel func()

	spin        spinner.Model
	currentTask string
	tasksSeen   int
	tail        []string
	failed      bool
	cancelling  bool

	outcome *engine.Outcome
	err     error
	done    bool

	taskStyle lipgloss.Style
	tailStyle lipgloss.Style
	failStyle lipgloss.Style
	warnStyle lipgloss.Style
}

// NewDeployModel creates the live view. onCancel is invoked when the
// user interrupts; it should stop the underlying process so the run
// winds down and a DoneMsg follows.
func NewDeployModel(label string, taskEstimate int, onCancel func()) DeployModel {
	sp := spinner.New(
		spinner.WithSpinner(spinner.Dot),
		spinner.WithStyle(lipgloss.NewStyle().Foreground(ColorInfo)),
	)
	return DeployModel{
		label:       label,
		estimate:    taskEstimate,
		onCancel:    onCancel,
		spin:        sp,
		currentTask: parser.InitialTask,
		taskStyle:   lipgloss.NewStyle().Bold(true).Foreground(ColorPrimary),
		tailStyle:   lipgloss.NewStyle().Foreground(ColorMuted),
		failStyle:   lipgloss.NewStyle().Foreground(ColorError).Bold(true),
		warnStyle:   lipgloss.NewStyle().Foreground(ColorWarning),
	}
}

// Outcome returns the finished run's outcome and error, valid once the
// program has exited.
func (m DeployModel) Outcome() (*engine.Outcome, error) {
	return m.outcome, m.err
}

// Cancelled reports whether the user interrupted the run.
func (m DeployModel) Cancelled() bool {
	return m.cancelling
}

func (m DeployModel) Init() tea.Cmd {
	return m.spin.Tick
}

func (m DeployModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case spinner.TickMsg:
		if m.done {
			return m, nil
		}
		var cmd tea.Cmd
		m.spin, cmd = m.spin.Update(msg)
		return m, cmd

	case LineMsg:
		m.appendTail(msg.Line)
		switch ev := msg.Event.(type) {
		case parser.TaskStarted:
			m.currentTask = ev.Name
			m.tasksSeen++
		case parser.HostResult:
			if ev.Status.Failed() {
				m.failed = true
			}
		}
		return m, nil

	case DoneMsg:
		m.outcome = msg.Outcome
		m.err = msg.Err
		m.done = true
		return m, tea.Quit

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			if !m.cancelling {
				m.cancelling = true
				if m.onCancel != nil {
					m.onCancel()
				}
			}
			return m, nil
		}
	}
	return m, nil
}

func (m *DeployModel) appendTail(line string) {
	m.tail = append(m.tail, line)
	if len(m.tail) > deployTailLines {
		m.tail = m.tail[len(m.tail)-deployTailLines:]
	}
}

func (m DeployModel) fraction() float64 {
	if m.estimate <= 0 {
		return 0
	}
	return ClampFraction(float64(m.tasksSeen) / float64(m.estimate))
}

func (m DeployModel) View() string {
	if m.done {
		return ""
	}

	var b strings.Builder
	b.WriteString(fmt.Sprintf("%s %s\n", m.spin.View(), m.taskStyle.Render(m.label)))
	b.WriteString(fmt.Sprintf("  task: %s\n", m.currentTask))
	if m.estimate > 0 {
		b.WriteString("  " + RenderBar(m.fraction(), DefaultBarWidth) + "\n")
	}
	if m.cancelling {
		b.WriteString("  " + m.warnStyle.Render("stopping...") + "\n")
	} else if m.failed {
		b.WriteString("  " + m.failStyle.Render(SymbolFail+" failures detected") + "\n")
	}
	b.WriteString("\n")
	for _, line := range m.tail {
		b.WriteString("  " + m.tailStyle.Render(truncate(line, 120)) + "\n")
	}
	return b.String()
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-1] + "…"
}

// Bridge forwards engine callbacks into a running bubbletea program.
// Callbacks arrive on the engine's reader goroutine; program.Send is
// safe to call from there.
type Bridge struct {
	program *tea.Program
}

// NewBridge wraps a program for callback delivery.
func NewBridge(p *tea.Program) *Bridge {
	return &Bridge{program: p}
}

// OnLine adapts to engine.RunOptions.OnLine.
func (b *Bridge) OnLine(line string, ev parser.Event) {
	b.program.Send(LineMsg{Line: line, Event: ev})
}

// Done delivers the final outcome and shuts the view down.
func (b *Bridge) Done(outcome *engine.Outcome, err error) {
	b.program.Send(DoneMsg{Outcome: outcome, Err: err})
}
