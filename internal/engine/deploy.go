package engine

import (
	"github.com/moat-sh/moat/internal/logger"
	"github.com/moat-sh/moat/internal/parser"
	"github.com/moat-sh/moat/internal/progress"
	"github.com/moat-sh/moat/internal/runner"
)

// RunOptions describes one engine run: the command to launch plus how to
// aggregate and surface its output.
type RunOptions struct {
	// Label is the status string shown while this run is active.
	Label string
	// Request is the process to launch.
	Request runner.Request
	// TaskEstimate feeds the completion percentage; zero disables it.
	TaskEstimate int
	// OnLine, if set, receives every raw line and its classification as
	// it arrives. This is the hook the live view consumes.
	OnLine func(line string, ev parser.Event)
	// OnFailure, if set, fires once on the first line matching the
	// failure pattern.
	OnFailure func(line string)
}

// Outcome is the full result of a finished run.
type Outcome struct {
	Result *runner.Result
	Rows   []progress.ResultRow
	Tail   []string
}

// Succeeded reports a clean zero exit.
func (o *Outcome) Succeeded() bool {
	return o.Result != nil && o.Result.ExitCode == 0
}

// Cancelled reports the stopped-by-user sentinel.
func (o *Outcome) Cancelled() bool {
	return o.Result != nil && o.Result.Cancelled()
}

// Run launches the request under the context and pumps its output
// through the aggregator until the stream ends. Exactly one Run may be
// active per Context; a second call fails with an ErrBusy error. The
// context is released on every exit path.
func Run(ctx *Context, opts RunOptions, log logger.Logger) (*Outcome, error) {
	if log == nil {
		log = logger.Noop()
	}

	if err := ctx.Acquire(opts.Label); err != nil {
		return nil, err
	}
	defer ctx.Release()

	aggOpts := []progress.Option{}
	if opts.OnFailure != nil {
		aggOpts = append(aggOpts, progress.WithFailureAlert(opts.OnFailure))
	}
	agg := progress.New(opts.TaskEstimate, aggOpts...)

	h, err := runner.Start(opts.Request, log)
	if err != nil {
		return nil, err
	}
	ctx.Attach(h)

	for line := range h.Lines() {
		ev := agg.Consume(line)
		if opts.OnLine != nil {
			opts.OnLine(line, ev)
		}
	}

	res, err := h.Wait()
	if err != nil {
		return nil, err
	}

	log.Debug("run finished exit=%d duration=%s rows=%d",
		res.ExitCode, res.Duration, len(agg.Rows()))

	return &Outcome{
		Result: res,
		Rows:   agg.Rows(),
		Tail:   agg.Tail(),
	}, nil
}
