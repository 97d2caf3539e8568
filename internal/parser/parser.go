// Package parser classifies raw playbook output lines into structured
// progress events. It is a single-pass classifier: each line yields
// exactly one event, and two carried fields (current task, current host)
// give host results their context.
package parser

import "regexp"

// Status is the per-host outcome reported on a result line.
type Status string

const (
	StatusOK      Status = "ok"
	StatusChanged Status = "changed"
	StatusFailed  Status = "failed"
	StatusFatal   Status = "fatal"
)

// Failed reports whether the status represents a failure.
func (s Status) Failed() bool {
	return s == StatusFailed || s == StatusFatal
}

// Event is the closed set of classifications a line can produce.
// Consumers switch over the concrete types exhaustively.
type Event interface {
	isEvent()
}

// TaskStarted marks a task boundary line.
type TaskStarted struct {
	Name string
}

// HostResult reports one host's outcome for the current task.
type HostResult struct {
	Host   string
	Task   string
	Status Status
}

// Message carries an informational text fragment from the tool, to be
// attached to the most recent result row.
type Message struct {
	Text string
}

// Unrecognized is any line that matched no pattern. It belongs in the raw
// log only and never mutates parser state.
type Unrecognized struct {
	Line string
}

func (TaskStarted) isEvent()  {}
func (HostResult) isEvent()   {}
func (Message) isEvent()      {}
func (Unrecognized) isEvent() {}

// Line patterns for playbook output. Output formats vary with the tool's
// verbosity flags, so anything unmatched falls through silently.
var (
	// TASK [Install firewall] *****
	taskPattern = regexp.MustCompile(`TASK \[(.*?)\]`)
	// changed: [10.0.0.5]
	hostResultPattern = regexp.MustCompile(`^(ok|changed|failed|fatal): \[(.*?)\]`)
	// "msg": "[OK] rules applied"
	msgPattern = regexp.MustCompile(`"msg": "(.*?)"`)
	// FailurePattern is the fast-path failure check, matched against raw
	// lines independent of full classification.
	FailurePattern = regexp.MustCompile(`(fatal|failed):`)
)

// Sentinel values for the carried state before the first task boundary or
// host result is seen.
const (
	InitialTask = "Initializing"
	InitialHost = "Local"
)

// Parser classifies lines one at a time. State is scoped to a single
// execution; create a fresh Parser per run.
type Parser struct {
	currentTask string
	currentHost string
}

// New creates a parser with the initial carried state.
func New() *Parser {
	return &Parser{
		currentTask: InitialTask,
		currentHost: InitialHost,
	}
}

// CurrentTask returns the most recently seen task name.
func (p *Parser) CurrentTask() string {
	return p.currentTask
}

// CurrentHost returns the most recently seen host.
func (p *Parser) CurrentHost() string {
	return p.currentHost
}

// ParseLine classifies one line. The task and host-result patterns are
// checked independently: a line carrying both updates the task first
// and still yields the host result, now under the new task. A
// host-result match takes precedence over a message fragment on the
// same line.
func (p *Parser) ParseLine(line string) Event {
	task := taskPattern.FindStringSubmatch(line)
	if task != nil {
		p.currentTask = task[1]
	}

	if m := hostResultPattern.FindStringSubmatch(line); m != nil {
		p.currentHost = m[2]
		return HostResult{
			Host:   m[2],
			Task:   p.currentTask,
			Status: Status(m[1]),
		}
	}

	if task != nil {
		return TaskStarted{Name: task[1]}
	}

	if m := msgPattern.FindStringSubmatch(line); m != nil {
		return Message{Text: m[1]}
	}

	return Unrecognized{Line: line}
}
