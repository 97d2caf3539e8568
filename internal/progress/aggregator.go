// Package progress turns parser events into the structures the UI
// renders: a result table, a rolling log tail, and a rough completion
// percentage.
package progress

import (
	"sync"
	"time"

	"github.com/moat-sh/moat/internal/parser"
)

// DefaultTailSize is how many recent raw lines are retained for display.
// The full log is persisted separately by the process runner, so dropping
// old lines here loses nothing.
const DefaultTailSize = 100

// ResultRow is one host's outcome for one task. Message is filled in
// after the fact when a trailing msg line arrives.
type ResultRow struct {
	Timestamp time.Time
	Host      string
	Task      string
	Status    parser.Status
	Message   string
}

// Aggregator consumes raw output lines and accumulates display state.
// Safe for concurrent use: the reader goroutine feeds lines while the
// render loop polls snapshots.
type Aggregator struct {
	mu sync.Mutex

	parser   *parser.Parser
	rows     []ResultRow
	tail     []string
	tailSize int

	currentTask string
	tasksSeen   int
	estimate    int

	failureSeen bool
	onFailure   func(line string)
}

// Option configures an Aggregator.
type Option func(*Aggregator)

// WithTailSize overrides the rolling log capacity.
func WithTailSize(n int) Option {
	return func(a *Aggregator) {
		if n > 0 {
			a.tailSize = n
		}
	}
}

// WithFailureAlert registers a callback invoked the first time a line
// matches the failure pattern, before the structured row materializes.
func WithFailureAlert(fn func(line string)) Option {
	return func(a *Aggregator) {
		a.onFailure = fn
	}
}

// New creates an aggregator. totalTasksEstimate feeds the completion
// percentage; it is a display aid, not a guarantee, and zero disables
// the estimate.
func New(totalTasksEstimate int, opts ...Option) *Aggregator {
	a := &Aggregator{
		parser:      parser.New(),
		tailSize:    DefaultTailSize,
		estimate:    totalTasksEstimate,
		currentTask: parser.InitialTask,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Consume classifies one raw line and folds the event into the
// aggregation state. Returns the event for callers that also feed a
// live view.
func (a *Aggregator) Consume(line string) parser.Event {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.appendTail(line)

	// Fast-path failure check, independent of full classification.
	if !a.failureSeen && parser.FailurePattern.MatchString(line) {
		a.failureSeen = true
		if a.onFailure != nil {
			a.onFailure(line)
		}
	}

	ev := a.parser.ParseLine(line)
	a.apply(ev)
	return ev
}

func (a *Aggregator) apply(ev parser.Event) {
	switch e := ev.(type) {
	case parser.TaskStarted:
		a.currentTask = e.Name
		a.tasksSeen++
	case parser.HostResult:
		a.rows = append(a.rows, ResultRow{
			Timestamp: time.Now(),
			Host:      e.Host,
			Task:      e.Task,
			Status:    e.Status,
		})
	case parser.Message:
		// Attach to the most recent row; with no row yet the message
		// has no home and is dropped.
		if len(a.rows) > 0 {
			a.rows[len(a.rows)-1].Message = e.Text
		}
	case parser.Unrecognized:
		// raw log only
	}
}

func (a *Aggregator) appendTail(line string) {
	a.tail = append(a.tail, line)
	if len(a.tail) > a.tailSize {
		a.tail = a.tail[len(a.tail)-a.tailSize:]
	}
}

// Rows returns a copy of the result table in emission order.
func (a *Aggregator) Rows() []ResultRow {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]ResultRow, len(a.rows))
	copy(out, a.rows)
	return out
}

// Tail returns a copy of the most recent raw lines, oldest first.
func (a *Aggregator) Tail() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, len(a.tail))
	copy(out, a.tail)
	return out
}

// CurrentTask returns the currently-executing task name.
func (a *Aggregator) CurrentTask() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.currentTask
}

// Progress reports tasks-seen over the caller's estimate, clamped to 1.0.
// Returns 0 when no estimate was supplied.
func (a *Aggregator) Progress() float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.estimate <= 0 {
		return 0
	}
	p := float64(a.tasksSeen) / float64(a.estimate)
	if p > 1.0 {
		p = 1.0
	}
	return p
}

// FailureDetected reports whether any line has matched the fast-path
// failure pattern.
func (a *Aggregator) FailureDetected() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.failureSeen
}

// FailedRows returns the rows whose status is failed or fatal.
func (a *Aggregator) FailedRows() []ResultRow {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []ResultRow
	for _, r := range a.rows {
		if r.Status.Failed() {
			out = append(out, r)
		}
	}
	return out
}
