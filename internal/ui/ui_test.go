package ui

import (
	"bytes"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moat-sh/moat/internal/engine"
	"github.com/moat-sh/moat/internal/parser"
	"github.com/moat-sh/moat/internal/progress"
	"github.com/moat-sh/moat/internal/runner"
)

func TestClampFraction(t *testing.T) {
	assert.Equal(t, 0.0, ClampFraction(-0.5))
	assert.Equal(t, 0.5, ClampFraction(0.5))
	assert.Equal(t, 1.0, ClampFraction(1.7))
}

func TestRenderBar(t *testing.T) {
	bar := RenderBar(0.5, 10)
	assert.Contains(t, bar, "█████░░░░░")
	assert.Contains(t, bar, "50%")

	full := RenderBar(1.0, 10)
	assert.Contains(t, full, strings.Repeat("█", 10))
	assert.Contains(t, full, "100%")

	empty := RenderBar(0, 10)
	assert.Contains(t, empty, strings.Repeat("░", 10))
}

func TestRenderBarDefaultWidth(t *testing.T) {
	bar := RenderBar(1.0, 0)
	assert.Contains(t, bar, strings.Repeat("█", DefaultBarWidth))
}

func TestSpinnerFinalLine(t *testing.T) {
	var buf bytes.Buffer
	s := NewSpinner("checking terraform")
	s.SetOutput(&buf)
	s.Start()
	s.Success("terraform ready")

	out := buf.String()
	assert.Contains(t, out, SymbolSuccess)
	assert.Contains(t, out, "terraform ready")
}

func TestSpinnerFailWithoutStart(t *testing.T) {
	var buf bytes.Buffer
	s := NewSpinner("apt update")
	s.SetOutput(&buf)
	s.Fail("")

	out := buf.String()
	assert.Contains(t, out, SymbolFail)
	assert.Contains(t, out, "apt update")
}

func TestSpinnerStopClearsLine(t *testing.T) {
	var buf bytes.Buffer
	s := NewSpinner("waiting")
	s.SetOutput(&buf)
	s.Start()
	time.Sleep(120 * time.Millisecond)
	s.Stop()
	// Stop twice must not panic on the closed channel.
	s.Stop()
	assert.Contains(t, buf.String(), "\r")
}

func testOutcome(exit int, rows []progress.ResultRow) *engine.Outcome {
	return &engine.Outcome{
		Result: &runner.Result{ExitCode: exit, Duration: 3 * time.Second},
		Rows:   rows,
	}
}

func TestSummarySuccess(t *testing.T) {
	rows := []progress.ResultRow{
		{Host: "server-01", Task: "Install packages", Status: parser.StatusOK},
		{Host: "server-01", Task: "Write config", Status: parser.StatusChanged},
	}
	out := NewSummaryRenderer().Render("deploy", testOutcome(0, rows))

	assert.Contains(t, out, "Results: deploy")
	assert.Contains(t, out, "server-01")
	assert.Contains(t, out, "Install packages")
	assert.Contains(t, out, "ok=1 changed=1 failed=0")
	assert.Contains(t, out, "Completed in 3s")
}

func TestSummaryFailure(t *testing.T) {
	rows := []progress.ResultRow{
		{Host: "agent-02", Task: "Start service", Status: parser.StatusFatal, Message: "unit not found"},
	}
	out := NewSummaryRenderer().Render("deploy", testOutcome(2, rows))

	assert.Contains(t, out, "Failed with exit code 2")
	assert.Contains(t, out, "unit not found")
	assert.Contains(t, out, "ok=0 changed=0 failed=1")
}

func TestSummaryCancelled(t *testing.T) {
	out := NewSummaryRenderer().Render("deploy", testOutcome(-15, nil))
	assert.Contains(t, out, "Stopped by user")
	assert.Contains(t, out, "no task results captured")
}

func TestDeployModelTracksTasks(t *testing.T) {
	m := NewDeployModel("deploy", 10, nil)

	next, _ := m.Update(LineMsg{
		Line:  "TASK [common : Install packages] ***",
		Event: parser.TaskStarted{Name: "common : Install packages"},
	})
	m = next.(DeployModel)

	view := m.View()
	assert.Contains(t, view, "common : Install packages")
	assert.Contains(t, view, "10%")
}

func TestDeployModelFlagsFailures(t *testing.T) {
	m := NewDeployModel("deploy", 0, nil)

	next, _ := m.Update(LineMsg{
		Line:  "fatal: [agent-01]: FAILED!",
		Event: parser.HostResult{Host: "agent-01", Task: "x", Status: parser.StatusFatal},
	})
	m = next.(DeployModel)

	assert.Contains(t, m.View(), "failures detected")
}

func TestDeployModelDone(t *testing.T) {
	m := NewDeployModel("deploy", 0, nil)
	outcome := testOutcome(0, nil)

	next, cmd := m.Update(DoneMsg{Outcome: outcome})
	m = next.(DeployModel)

	require.NotNil(t, cmd)
	got, err := m.Outcome()
	require.NoError(t, err)
	assert.Same(t, outcome, got)
	assert.Empty(t, m.View())
}

func TestDeployModelCancel(t *testing.T) {
	cancelled := false
	m := NewDeployModel("deploy", 0, func() { cancelled = true })

	next, _ := m.Update(keyMsg("ctrl+c"))
	m = next.(DeployModel)

	assert.True(t, cancelled)
	assert.True(t, m.Cancelled())
	assert.Contains(t, m.View(), "stopping")

	// A second interrupt must not re-fire the callback.
	cancelled = false
	next, _ = m.Update(keyMsg("ctrl+c"))
	m = next.(DeployModel)
	assert.False(t, cancelled)
}

func keyMsg(s string) tea.KeyMsg {
	if s == "ctrl+c" {
		return tea.KeyMsg{Type: tea.KeyCtrlC}
	}
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func TestDeployModelTailBounded(t *testing.T) {
	m := NewDeployModel("deploy", 0, nil)
	for i := 0; i < deployTailLines*2; i++ {
		next, _ := m.Update(LineMsg{Line: "line", Event: parser.Unrecognized{}})
		m = next.(DeployModel)
	}
	assert.Len(t, m.tail, deployTailLines)
}
