package trigger

import (
	"sync"
	"time"

	"github.com/kore-ai/brain/internal/types"
)

// Execution modes for actions.
const (
	ModeSynchronous = "synchronous"
	ModeConcurrent  = "concurrent"
)

// Action is the operation a trigger dispatches when its condition holds.
// The handler is an opaque name resolved at dispatch time.
type Action struct {
	Handler string
	Params  map[string]any
	Mode    string        // ModeSynchronous (default) or ModeConcurrent
	Timeout time.Duration // 0 = unbounded
}

// Trigger is a condition→action rule bound to a layer, with in-layer
// priority (lower = evaluated first) and a cooldown between firings.
//
// Definition fields are immutable after registration; runtime counters are
// guarded by the trigger's own mutex so statistics updates never contend
// with other triggers.
type Trigger struct {
	ID          string
	Name        string
	Layer       types.Layer
	Priority    int
	Condition   Condition
	Action      Action
	Cooldown    time.Duration
	Description string
	Tags        []string

	mu             sync.Mutex
	disabled       bool // zero value = enabled
	lastExecuted   time.Time
	executionCount int
	successCount   int
	failureCount   int
}

// TriggerStats is a point-in-time copy of a trigger's runtime counters.
type TriggerStats struct {
	LastExecuted   time.Time
	ExecutionCount int
	SuccessCount   int
	FailureCount   int
}

// Enabled reports whether the trigger may be offered to the evaluator.
func (t *Trigger) Enabled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return !t.disabled
}

// Enable marks the trigger eligible for evaluation.
func (t *Trigger) Enable() {
	t.mu.Lock()
	t.disabled = false
	t.mu.Unlock()
}

// Disable removes the trigger from evaluation without unregistering it.
func (t *Trigger) Disable() {
	t.mu.Lock()
	t.disabled = true
	t.mu.Unlock()
}

// CanFire reports whether the trigger is enabled and outside its cooldown
// window at the given instant. A trigger that never executed is always
// eligible.
func (t *Trigger) CanFire(now time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.disabled {
		return false
	}
	if t.lastExecuted.IsZero() {
		return true
	}
	return now.Sub(t.lastExecuted) >= t.Cooldown
}

// RecordExecution bumps the counters and stamps last_executed.
func (t *Trigger) RecordExecution(success bool, now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.executionCount++
	if success {
		t.successCount++
	} else {
		t.failureCount++
	}
	t.lastExecuted = now
}

// LastExecuted returns the time of the most recent execution (zero if never).
func (t *Trigger) LastExecuted() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastExecuted
}

// Stats returns a copy of the runtime counters.
func (t *Trigger) Stats() TriggerStats {
	t.mu.Lock()
	defer t.mu.Unlock()
	return TriggerStats{
		LastExecuted:   t.lastExecuted,
		ExecutionCount: t.executionCount,
		SuccessCount:   t.successCount,
		FailureCount:   t.failureCount,
	}
}

// SuccessRate returns the success percentage over all executions. This is
// the signal an external circuit breaker watches to disable flaky triggers.
func (t *Trigger) SuccessRate() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.executionCount == 0 {
		return 0
	}
	return float64(t.successCount) / float64(t.executionCount) * 100
}
