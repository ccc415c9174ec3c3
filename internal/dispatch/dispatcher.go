// Package dispatch resolves action handler names and invokes them with a
// bounded wait. Handlers are registered by the host application at startup;
// an unresolved name is a hard failure at call time, never a retry.
package dispatch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/kore-ai/brain/internal/logging"
	"github.com/kore-ai/brain/internal/trigger"
	"github.com/kore-ai/brain/internal/types"
)

// Handler executes an action and returns the command to ship to the game
// client. Handlers must honor ctx cancellation; a handler that ignores it
// still cannot block the caller past the action's timeout.
type Handler func(ctx context.Context, params map[string]any, snapshot types.Snapshot) (*types.ActionRequest, error)

// Result is the outcome of one dispatch.
type Result struct {
	Success  bool
	Request  *types.ActionRequest
	Err      string
	Duration time.Duration
}

// Stats summarizes dispatcher activity.
type Stats struct {
	TotalExecutions    int
	TotalDuration      time.Duration
	RegisteredHandlers int
}

// Dispatcher holds the handler registry.
type Dispatcher struct {
	mu            sync.RWMutex
	handlers      map[string]Handler
	execCount     int
	totalDuration time.Duration
}

// NewDispatcher creates an empty dispatcher.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{handlers: make(map[string]Handler)}
}

// Register adds a handler under a name. Re-registering replaces.
func (d *Dispatcher) Register(name string, h Handler) {
	d.mu.Lock()
	d.handlers[name] = h
	d.mu.Unlock()
	logging.Info("dispatch", "Registered action handler: %s", name)
}

// Resolve returns the handler registered under name.
func (d *Dispatcher) Resolve(name string) (Handler, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	h, ok := d.handlers[name]
	return h, ok
}

// Execute resolves and runs an action's handler. The wait is bounded by the
// action's timeout (if any) and by ctx. Both execution modes run the handler
// on its own goroutine raced against a timer, so a synchronous handler that
// hangs still yields a deterministic timeout failure.
func (d *Dispatcher) Execute(ctx context.Context, action trigger.Action, snapshot types.Snapshot) Result {
	start := time.Now()

	handler, ok := d.Resolve(action.Handler)
	if !ok {
		err := fmt.Sprintf("handler not found: %s", action.Handler)
		logging.Warn("dispatch", "%s", err)
		return Result{Success: false, Err: err}
	}

	type outcome struct {
		req *types.ActionRequest
		err error
	}
	done := make(chan outcome, 1)

	runCtx := ctx
	var cancel context.CancelFunc
	if action.Timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, action.Timeout)
		defer cancel()
	}

	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: fmt.Errorf("handler panic: %v", r)}
			}
		}()
		req, err := handler(runCtx, action.Params, snapshot)
		done <- outcome{req: req, err: err}
	}()

	var out outcome
	if action.Timeout > 0 {
		timer := time.NewTimer(action.Timeout)
		defer timer.Stop()
		select {
		case out = <-done:
		case <-timer.C:
			d.record(time.Since(start))
			logging.Warn("dispatch", "Handler %s timed out after %s", action.Handler, action.Timeout)
			return Result{Success: false, Err: "timeout", Duration: time.Since(start)}
		case <-ctx.Done():
			d.record(time.Since(start))
			return Result{Success: false, Err: ctx.Err().Error(), Duration: time.Since(start)}
		}
	} else {
		select {
		case out = <-done:
		case <-ctx.Done():
			d.record(time.Since(start))
			return Result{Success: false, Err: ctx.Err().Error(), Duration: time.Since(start)}
		}
	}

	elapsed := time.Since(start)
	d.record(elapsed)

	if out.err != nil {
		logging.Warn("dispatch", "Handler %s failed: %v", action.Handler, out.err)
		return Result{Success: false, Err: out.err.Error(), Duration: elapsed}
	}
	logging.Debug("dispatch", "Handler %s completed in %s", action.Handler, elapsed)
	return Result{Success: true, Request: out.req, Duration: elapsed}
}

func (d *Dispatcher) record(elapsed time.Duration) {
	d.mu.Lock()
	d.execCount++
	d.totalDuration += elapsed
	d.mu.Unlock()
}

// Statistics returns dispatcher totals.
func (d *Dispatcher) Statistics() Stats {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return Stats{
		TotalExecutions:    d.execCount,
		TotalDuration:      d.totalDuration,
		RegisteredHandlers: len(d.handlers),
	}
}
