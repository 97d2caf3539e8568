// Package runner spawns external tool processes as process-group leaders,
// streams their merged output line by line, and supports terminating the
// whole process tree at once.
package runner

import (
	"bufio"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/moat-sh/moat/internal/errors"
	"github.com/moat-sh/moat/internal/logger"
)

// Mode controls how run output is surfaced to the console.
type Mode int

const (
	// Quiet buffers output and surfaces it only when the run fails.
	Quiet Mode = iota
	// Verbose forwards every line immediately regardless of outcome.
	Verbose
)

func (m Mode) String() string {
	if m == Verbose {
		return "verbose"
	}
	return "quiet"
}

// Environment variable names injected into every playbook invocation so
// tool behavior does not depend on the caller's working directory.
const (
	EnvAnsibleConfig    = "ANSIBLE_CONFIG"
	EnvAnsibleRolesPath = "ANSIBLE_ROLES_PATH"
)

// lineBuffer is the capacity of the streamed line channel. The reader
// goroutine blocks once the consumer falls this far behind, which keeps
// memory bounded without dropping lines.
const lineBuffer = 256

// Request describes a command to execute. Immutable once launched.
type Request struct {
	// Command is a fully-formed shell command string.
	Command string
	// WorkDir is the working directory for the child, empty for inherit.
	WorkDir string
	// ConfigPath is injected as the tool's config file env var.
	ConfigPath string
	// RolesPath is injected as the tool's roles search path env var.
	RolesPath string
	// Env holds additional environment overrides.
	Env map[string]string
	// Mode selects quiet or verbose output handling.
	Mode Mode
	// LogSink, when non-empty, receives every raw output line verbatim.
	// The parent directory must already exist.
	LogSink string
}

// Result is the outcome of a finished run. Exit code 0 = success,
// negative = killed by that signal (-15 = stopped by user), -1 with no
// output = the command could not be spawned, any other nonzero = failure.
type Result struct {
	ExitCode int
	Duration time.Duration
	Output   []string
}

// Cancelled reports whether the process died from a termination signal.
func (r *Result) Cancelled() bool {
	return r.ExitCode < 0 && r.ExitCode != -1
}

// Handle owns a live child process. Lines() streams merged stdout/stderr;
// Wait() reaps the child and returns the result. A Handle belongs to
// exactly one execution context and is not reusable.
type Handle struct {
	cmd     *exec.Cmd
	lines   chan string
	started time.Time
	log     logger.Logger

	mu     sync.Mutex
	output []string
	sink   *os.File

	waitOnce sync.Once
	result   *Result
	waitErr  error
}

// Start launches the request's command under a new process group and
// begins streaming its output. A spawn failure (shell missing, permission
// denied, unwritable log sink) is returned as an error with no Handle.
func Start(req Request, log logger.Logger) (*Handle, error) {
	if log == nil {
		log = logger.Noop()
	}

	shell := os.Getenv("SHELL")
	if shell == "" {
		shell = "/bin/sh"
	}

	cmd := exec.Command(shell, "-c", req.Command)
	if req.WorkDir != "" {
		cmd.Dir = req.WorkDir
	}

	cmd.Env = buildEnv(req)

	// New process group so cancel() can signal the whole subtree:
	// playbook runs fork per-host workers that must not outlive us.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, errors.WrapWithCode(err, errors.ErrExec,
			"Couldn't create output pipe", "")
	}
	// Merge stderr into the same pipe so line order matches what a
	// terminal would show.
	cmd.Stderr = cmd.Stdout

	h := &Handle{
		cmd:   cmd,
		lines: make(chan string, lineBuffer),
		log:   log,
	}

	if req.LogSink != "" {
		sink, err := os.Create(req.LogSink)
		if err != nil {
			return nil, errors.WrapWithCode(err, errors.ErrExec,
				fmt.Sprintf("Couldn't open log file %s", req.LogSink),
				"Create the log directory first.")
		}
		h.sink = sink
	}

	h.started = time.Now()
	if err := cmd.Start(); err != nil {
		if h.sink != nil {
			h.sink.Close()
		}
		return nil, errors.WrapWithCode(err, errors.ErrExec,
			"Couldn't start the command",
			"Make sure the command exists and is executable.")
	}

	log.Debug("started pid=%d pgid-leader command=%q", cmd.Process.Pid, req.Command)

	go h.readLoop(stdout)

	return h, nil
}

// Run executes a request to completion, discarding the live stream.
// Spawn failures come back as a Result with exit code -1 and no output.
func Run(req Request, log logger.Logger) (*Result, error) {
	h, err := Start(req, log)
	if err != nil {
		return &Result{ExitCode: -1}, err
	}
	for range h.Lines() {
	}
	return h.Wait()
}

// Lines returns the stream of merged output lines. The channel is closed
// when the process's output pipe reaches end-of-stream.
func (h *Handle) Lines() <-chan string {
	return h.lines
}

// readLoop scans the merged pipe and fans each line out to the stream
// channel, the in-memory buffer, and the log sink. A scanner error is an
// abrupt end-of-stream; the child is still reaped by Wait.
func (h *Handle) readLoop(pipe interface{ Read([]byte) (int, error) }) {
	scanner := bufio.NewScanner(pipe)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := scanner.Text()

		h.mu.Lock()
		h.output = append(h.output, line)
		if h.sink != nil {
			h.sink.WriteString(line + "\n")
		}
		h.mu.Unlock()

		h.lines <- line
	}

	if err := scanner.Err(); err != nil {
		h.log.Debug("output stream ended abruptly: %v", err)
	}

	close(h.lines)
}

// Cancel sends SIGTERM to the entire process group. The run then winds
// down through the normal end-of-stream path and Wait reports -15.
func (h *Handle) Cancel() error {
	if h.cmd.Process == nil {
		return nil
	}
	pid := h.cmd.Process.Pid
	h.log.Debug("terminating process group %d", pid)
	if err := syscall.Kill(-pid, syscall.SIGTERM); err != nil {
		// Group may already be gone; fall back to the leader.
		return h.cmd.Process.Signal(syscall.SIGTERM)
	}
	return nil
}

// Wait reaps the child and returns the result. Safe to call multiple
// times; later calls return the first result.
func (h *Handle) Wait() (*Result, error) {
	h.waitOnce.Do(func() {
		err := h.cmd.Wait()

		h.mu.Lock()
		if h.sink != nil {
			h.sink.Close()
			h.sink = nil
		}
		output := h.output
		h.mu.Unlock()

		res := &Result{
			ExitCode: exitCodeFromWait(err),
			Duration: time.Since(h.started),
			Output:   output,
		}
		h.result = res

		if err != nil {
			if _, ok := err.(*exec.ExitError); !ok {
				h.waitErr = errors.WrapWithCode(err, errors.ErrExec,
					"Failed waiting for the command", "")
			}
		}
	})
	return h.result, h.waitErr
}

// exitCodeFromWait maps a Wait error to the result exit code. Processes
// killed by a signal report the negated signal number, matching the
// "stopped by user" sentinel of -15 for SIGTERM.
func exitCodeFromWait(err error) int {
	if err == nil {
		return 0
	}
	exitErr, ok := err.(*exec.ExitError)
	if !ok {
		return -1
	}
	if ws, ok := exitErr.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		return -int(ws.Signal())
	}
	return exitErr.ExitCode()
}

// buildEnv returns the child environment: the parent's, the two tool
// variables, then request-specific overrides.
func buildEnv(req Request) []string {
	env := os.Environ()
	if req.ConfigPath != "" {
		env = append(env, EnvAnsibleConfig+"="+req.ConfigPath)
	}
	if req.RolesPath != "" {
		env = append(env, EnvAnsibleRolesPath+"="+req.RolesPath)
	}
	for k, v := range req.Env {
		env = append(env, k+"="+v)
	}
	return env
}
