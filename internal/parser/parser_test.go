package parser

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLine_TaskBoundary(t *testing.T) {
	p := New()

	ev := p.ParseLine("TASK [Install firewall] *********************")
	task, ok := ev.(TaskStarted)
	require.True(t, ok)
	assert.Equal(t, "Install firewall", task.Name)
	assert.Equal(t, "Install firewall", p.CurrentTask())
}

func TestParseLine_HostResult(t *testing.T) {
	tests := []struct {
		line       string
		wantHost   string
		wantStatus Status
	}{
		{"ok: [10.0.0.5]", "10.0.0.5", StatusOK},
		{"changed: [10.0.0.5]", "10.0.0.5", StatusChanged},
		{"failed: [node-2]", "node-2", StatusFailed},
		{"fatal: [node-3]", "node-3", StatusFatal},
	}

	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			p := New()
			ev := p.ParseLine(tt.line)

			res, ok := ev.(HostResult)
			require.True(t, ok)
			assert.Equal(t, tt.wantHost, res.Host)
			assert.Equal(t, tt.wantStatus, res.Status)
			assert.Equal(t, tt.wantHost, p.CurrentHost())
		})
	}
}

func TestParseLine_HostResultCarriesCurrentTask(t *testing.T) {
	p := New()

	p.ParseLine("TASK [Configure indexer] ***")
	ev := p.ParseLine("changed: [10.0.0.5]")

	res, ok := ev.(HostResult)
	require.True(t, ok)
	assert.Equal(t, "Configure indexer", res.Task)
}

func TestParseLine_InitialSentinels(t *testing.T) {
	p := New()

	assert.Equal(t, InitialTask, p.CurrentTask())
	assert.Equal(t, InitialHost, p.CurrentHost())

	// A host result before any TASK line falls under the sentinel task.
	ev := p.ParseLine("ok: [10.0.0.5]")
	res, ok := ev.(HostResult)
	require.True(t, ok)
	assert.Equal(t, InitialTask, res.Task)
}

func TestParseLine_Message(t *testing.T) {
	p := New()

	ev := p.ParseLine(`    "msg": "[OK] rules applied"`)
	msg, ok := ev.(Message)
	require.True(t, ok)
	assert.Equal(t, "[OK] rules applied", msg.Text)
}

func TestParseLine_HostResultWinsOverMessage(t *testing.T) {
	p := New()

	// Both patterns can match on one line; the status takes precedence.
	ev := p.ParseLine(`fatal: [10.0.0.5]: FAILED! => {"msg": "disk full"}`)

	res, ok := ev.(HostResult)
	require.True(t, ok, "host result should win over message, got %T", ev)
	assert.Equal(t, StatusFatal, res.Status)
	assert.Equal(t, "10.0.0.5", res.Host)
}

func TestParseLine_HostResultAndTaskOnOneLine(t *testing.T) {
	p := New()

	// A compacted line can carry both a result and the next task
	// boundary. The task updates first and the row lands under it.
	ev := p.ParseLine("ok: [10.0.0.5] => TASK [Restart services]")

	res, ok := ev.(HostResult)
	require.True(t, ok, "expected a host result, got %T", ev)
	assert.Equal(t, "10.0.0.5", res.Host)
	assert.Equal(t, "Restart services", res.Task)
	assert.Equal(t, "Restart services", p.CurrentTask())
}

func TestParseLine_Unrecognized(t *testing.T) {
	p := New()

	p.ParseLine("TASK [Setup] ***")
	before := p.CurrentTask()

	ev := p.ParseLine("some random tool chatter")
	un, ok := ev.(Unrecognized)
	require.True(t, ok)
	assert.Equal(t, "some random tool chatter", un.Line)

	// Unrecognized lines never mutate carried state.
	assert.Equal(t, before, p.CurrentTask())
}

func TestParseLine_StatusMidLineNotMatched(t *testing.T) {
	p := New()

	// The host-result pattern is anchored; a mid-line mention is chatter.
	ev := p.ParseLine("something something ok: [10.0.0.5]")
	_, ok := ev.(Unrecognized)
	assert.True(t, ok)
}

func TestStatusFailed(t *testing.T) {
	assert.False(t, StatusOK.Failed())
	assert.False(t, StatusChanged.Failed())
	assert.True(t, StatusFailed.Failed())
	assert.True(t, StatusFatal.Failed())
}

func TestFailurePattern(t *testing.T) {
	assert.True(t, FailurePattern.MatchString("fatal: [host1]: FAILED!"))
	assert.True(t, FailurePattern.MatchString("failed: [host1]"))
	assert.False(t, FailurePattern.MatchString("ok: [host1]"))
	assert.False(t, FailurePattern.MatchString("TASK [fail2ban] ***"))
}

func TestParseLine_EventOrderPreserved(t *testing.T) {
	p := New()
	lines := []string{
		"PLAY [all] ***",
		"TASK [Install firewall] ***",
		"changed: [10.0.0.5]",
		`    "msg": "[OK] rules applied"`,
	}

	var events []Event
	for _, l := range lines {
		events = append(events, p.ParseLine(l))
	}

	require.Len(t, events, 4)
	assert.IsType(t, Unrecognized{}, events[0])
	assert.IsType(t, TaskStarted{}, events[1])
	assert.IsType(t, HostResult{}, events[2])
	assert.IsType(t, Message{}, events[3])
}
