// Package agent owns the run lifecycle: the state machine over the
// persisted agent row, the cooperative control handles executors poll,
// and the manager that launches, pauses, resumes, and cancels runs.
package agent

import (
	"context"
	"errors"
	"sync"
)

// Sentinel results a checkpoint hands back to the executor. The
// executor returns them unchanged from Run; the manager maps them onto
// the terminal state machine.
var (
	// ErrPaused stops the current launch without a terminal state. The
	// run stays resumable.
	ErrPaused = errors.New("run paused")

	// ErrCancelled stops the current launch; the manager persists the
	// cancelled terminal state.
	ErrCancelled = errors.New("run cancelled")
)

// Control is the cooperative handle shared between one launch of a run
// and the control plane. A launch polls Checkpoint between units; the
// control plane flips flags. Each launch gets a fresh Control, so a
// resumed run never sees its predecessor's pause flag.
type Control struct {
	mu        sync.Mutex
	pause     bool
	cancel    bool
	done      chan struct{}
	finalized bool
}

// NewControl builds the handle for one launch.
func NewControl() *Control {
	return &Control{done: make(chan struct{})}
}

// Checkpoint reports whether the launch may continue. Cancel wins over
// pause when both were requested before the poll.
func (c *Control) Checkpoint(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel {
		return ErrCancelled
	}
	if c.pause {
		return ErrPaused
	}
	return nil
}

// RequestPause asks the launch to stop at its next checkpoint.
func (c *Control) RequestPause() {
	c.mu.Lock()
	c.pause = true
	c.mu.Unlock()
}

// RequestCancel asks the launch to stop for good at its next
// checkpoint.
func (c *Control) RequestCancel() {
	c.mu.Lock()
	c.cancel = true
	c.mu.Unlock()
}

// Snapshot reports the requested flags.
func (c *Control) Snapshot() (paused, cancelled bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pause, c.cancel
}

// finish marks the launch's goroutine as exited. Idempotent.
func (c *Control) finish() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.finalized {
		c.finalized = true
		close(c.done)
	}
}

// Done is closed once the launch's goroutine has fully exited, meaning
// the pool is drained and no more writes will land for this launch.
func (c *Control) Done() <-chan struct{} { return c.done }
