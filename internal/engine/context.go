// Package engine ties the runner, parser, and aggregator together into
// deployment runs, and enforces the one-active-execution rule.
package engine

import (
	"sync"

	"github.com/moat-sh/moat/internal/errors"
	"github.com/moat-sh/moat/internal/runner"
)

// Context tracks at most one active execution. It is owned by whoever
// builds the engine (not package-global) and handed to anything that
// needs to poll status or cancel.
type Context struct {
	mu        sync.Mutex
	active    bool
	handle    *runner.Handle
	status    string
	cancelled bool
}

// NewContext creates an empty execution context.
func NewContext() *Context {
	return &Context{}
}

// Acquire reserves the context for a new execution. It must be called
// before the process is spawned so a concurrent launch sees the context
// busy even during the spawn window. Returns an ErrBusy error if an
// execution is already active.
func (c *Context) Acquire(status string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active {
		return errors.New(errors.ErrBusy,
			"A deployment is already running",
			"Wait for it to finish, or cancel it first.")
	}
	c.active = true
	c.status = status
	c.cancelled = false
	return nil
}

// Attach binds the live handle once the process has started. A cancel
// request that raced the spawn is honored immediately.
func (c *Context) Attach(h *runner.Handle) {
	c.mu.Lock()
	cancelled := c.cancelled
	c.handle = h
	c.mu.Unlock()
	if cancelled {
		_ = h.Cancel()
	}
}

// Release clears the context unconditionally. Callers defer it
// immediately after a successful Acquire so no exit path, including a
// panic, leaves the context permanently busy.
func (c *Context) Release() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.active = false
	c.handle = nil
	c.status = ""
}

// Busy reports whether an execution is active.
func (c *Context) Busy() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

// Status returns the current status label, empty when idle.
func (c *Context) Status() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// SetStatus updates the status label of the active execution.
func (c *Context) SetStatus(status string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active {
		c.status = status
	}
}

// Cancel terminates the active execution's process group. If the run is
// still between Acquire and Attach, the request is remembered and fires
// as soon as the handle arrives. Harmless when idle.
func (c *Context) Cancel() error {
	c.mu.Lock()
	h := c.handle
	if h == nil && c.active {
		c.cancelled = true
	}
	c.mu.Unlock()
	if h == nil {
		return nil
	}
	return h.Cancel()
}
