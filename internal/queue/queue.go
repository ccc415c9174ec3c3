// Package queue sequences candidate actions for execution. Regardless of
// how many producers enqueue concurrently, at most one action is ever in
// the EXECUTING state: admission checks conflicts against the in-flight
// action, skill cooldowns, and force-fails an in-flight action whose
// timeout has lapsed before admitting anything new.
package queue

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kore-ai/brain/internal/logging"
)

// State of an action in the queue.
type State string

const (
	StateQueued    State = "queued"
	StateExecuting State = "executing"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
	StateCancelled State = "cancelled"
)

// QueuedAction is one candidate action with timing and state bookkeeping.
type QueuedAction struct {
	ID                string
	Type              string
	Params            map[string]any
	EnqueuedAt        time.Time
	StartedAt         time.Time // zero until executing
	CompletedAt       time.Time // zero until terminal
	State             State
	EstimatedDuration time.Duration
	Timeout           time.Duration
	Priority          int // higher = more urgent
}

// Terminal reports whether execution is finished.
func (a *QueuedAction) Terminal() bool {
	switch a.State {
	case StateCompleted, StateFailed, StateCancelled:
		return true
	}
	return false
}

// Elapsed returns execution time so far (zero if not started).
func (a *QueuedAction) Elapsed(now time.Time) time.Duration {
	if a.StartedAt.IsZero() {
		return 0
	}
	return now.Sub(a.StartedAt)
}

// TimedOut reports whether the action exceeded its timeout.
func (a *QueuedAction) TimedOut(now time.Time) bool {
	if a.StartedAt.IsZero() {
		return false
	}
	return a.Elapsed(now) > a.Timeout
}

// Status is a monitoring snapshot of the queue.
type Status struct {
	Current         *QueuedAction
	QueueSize       int
	Queued          []QueuedAction
	ActiveCooldowns map[string]time.Duration
	HasActiveAction bool
}

// Options configure a queue. Zero values use the defaults derived from the
// original game mechanics; config documents may override both tables.
type Options struct {
	Conflicts      map[string][]string
	Durations      map[string]time.Duration
	DefaultTimeout time.Duration    // floor for derived timeouts (default 10s)
	Clock          func() time.Time // test hook
}

// Queue is the conflict-aware execution sequencer.
type Queue struct {
	mu             sync.Mutex
	pending        []*QueuedAction
	current        *QueuedAction
	cooldowns      map[string]time.Time // skill name -> eligible-at
	conflicts      map[string][]string
	durations      map[string]time.Duration
	defaultTimeout time.Duration
	now            func() time.Time
}

// DefaultConflicts returns the conflict matrix. Key = executing action
// type, value = candidate types that cannot be admitted meanwhile.
// Symmetry is deliberate per-type, not assumed.
func DefaultConflicts() map[string][]string {
	return map[string][]string{
		"move":     {"skill", "attack", "rest", "talk", "use_item"},
		"skill":    {"move", "skill", "attack", "use_item"},
		"attack":   {"move", "skill", "attack", "rest"},
		"rest":     {"move", "attack", "skill", "talk", "use_item"},
		"talk":     {"move", "attack", "skill", "rest"},
		"use_item": {"move", "skill"},
		"teleport": {"move", "attack", "skill"},
	}
}

// DefaultDurations returns typical per-type execution estimates.
func DefaultDurations() map[string]time.Duration {
	return map[string]time.Duration{
		"attack":     1 * time.Second,
		"skill":      1500 * time.Millisecond,
		"move":       2 * time.Second,
		"use_item":   500 * time.Millisecond,
		"talk":       1 * time.Second,
		"rest":       5 * time.Second,
		"teleport":   1 * time.Second,
		"buy_items":  2 * time.Second,
		"sell_items": 2 * time.Second,
	}
}

// New creates a queue.
func New(opts Options) *Queue {
	q := &Queue{
		cooldowns:      make(map[string]time.Time),
		conflicts:      opts.Conflicts,
		durations:      opts.Durations,
		defaultTimeout: opts.DefaultTimeout,
		now:            opts.Clock,
	}
	if q.conflicts == nil {
		q.conflicts = DefaultConflicts()
	}
	if q.durations == nil {
		q.durations = DefaultDurations()
	}
	if q.defaultTimeout <= 0 {
		q.defaultTimeout = 10 * time.Second
	}
	if q.now == nil {
		q.now = time.Now
	}
	return q
}

// Enqueue inserts a candidate ordered by descending priority, FIFO among
// equal priorities, and returns its id. The timeout defaults from the
// action type's estimated duration.
func (q *Queue) Enqueue(actionType string, params map[string]any, priority int) string {
	return q.EnqueueWithTimeout(actionType, params, priority, 0)
}

// EnqueueWithTimeout is Enqueue with an explicit timeout (0 = derive from
// the estimated duration).
func (q *Queue) EnqueueWithTimeout(actionType string, params map[string]any, priority int, timeout time.Duration) string {
	q.mu.Lock()
	defer q.mu.Unlock()

	estimated, ok := q.durations[actionType]
	if !ok {
		estimated = 1 * time.Second
	}
	if timeout <= 0 {
		timeout = 4 * estimated
		if timeout < q.defaultTimeout {
			timeout = q.defaultTimeout
		}
	}

	action := &QueuedAction{
		ID:                uuid.NewString(),
		Type:              actionType,
		Params:            params,
		EnqueuedAt:        q.now(),
		State:             StateQueued,
		EstimatedDuration: estimated,
		Timeout:           timeout,
		Priority:          priority,
	}

	inserted := false
	for i, existing := range q.pending {
		if action.Priority > existing.Priority {
			q.pending = append(q.pending[:i], append([]*QueuedAction{action}, q.pending[i:]...)...)
			inserted = true
			break
		}
	}
	if !inserted {
		q.pending = append(q.pending, action)
	}

	logging.Info("queue", "Enqueued %q (id=%s, priority=%d, queue size=%d)",
		actionType, action.ID, priority, len(q.pending))
	return action.ID
}

// CanExecute checks whether an action of the given type could start now.
// The reason string is empty when admission would succeed. A timed-out
// in-flight action is force-failed as a side effect; this is the queue's
// self-healing path for hung handlers.
func (q *Queue) CanExecute(actionType string, params map[string]any) (bool, string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.canExecuteLocked(actionType, params)
}

func (q *Queue) canExecuteLocked(actionType string, params map[string]any) (bool, string) {
	now := q.now()

	if q.current != nil {
		if q.current.TimedOut(now) {
			logging.Warn("queue", "Action %q exceeded timeout (%s), force-failing",
				q.current.Type, q.current.Timeout)
			q.current.State = StateFailed
			q.current.CompletedAt = now
			q.current = nil
		} else {
			for _, conflicting := range q.conflicts[q.current.Type] {
				if actionType == conflicting {
					return false, "conflicts with current action: " + q.current.Type
				}
			}
			return false, "action in progress: " + q.current.Type
		}
	}

	if actionType == "skill" && params != nil {
		skillName, _ := params["skill_name"].(string)
		if skillName == "" {
			skillName = "unknown"
		}
		if eligibleAt, ok := q.cooldowns[skillName]; ok && now.Before(eligibleAt) {
			return false, "skill " + skillName + " on cooldown: " + eligibleAt.Sub(now).Round(100*time.Millisecond).String() + " remaining"
		}
	}

	return true, ""
}

// GetNextAction pops the head of the queue if admission succeeds, marks it
// EXECUTING, stamps started_at, and returns a copy. Returns nil when the
// queue is empty or the head is not admissible; callers poll again next
// cycle.
func (q *Queue) GetNextAction() *QueuedAction {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.now()
	if q.current != nil && !q.current.Terminal() {
		if q.current.TimedOut(now) {
			logging.Warn("queue", "Action %q TIMED OUT after %s", q.current.Type, q.current.Timeout)
			q.current.State = StateFailed
			q.current.CompletedAt = now
			q.current = nil
		} else {
			return nil
		}
	}

	if len(q.pending) == 0 {
		return nil
	}

	head := q.pending[0]
	if ok, reason := q.canExecuteLocked(head.Type, head.Params); !ok {
		logging.Debug("queue", "Cannot execute %q: %s", head.Type, reason)
		return nil
	}

	q.pending = q.pending[1:]
	head.State = StateExecuting
	head.StartedAt = q.now()
	q.current = head

	logging.Info("queue", "Executing %q (id=%s, est=%s)", head.Type, head.ID, head.EstimatedDuration)
	copied := *head
	return &copied
}

// MarkComplete transitions the in-flight action to COMPLETED or FAILED,
// stamps completed_at, writes a cooldown entry for successful skill
// actions, and frees the execution slot. Reports whether the id matched
// the in-flight action.
func (q *Queue) MarkComplete(id string, success bool) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.current == nil || q.current.ID != id {
		logging.Warn("queue", "MarkComplete for %s, but it is not the current action", id)
		return false
	}

	now := q.now()
	if success {
		q.current.State = StateCompleted
	} else {
		q.current.State = StateFailed
	}
	q.current.CompletedAt = now
	logging.Info("queue", "Action %q %s (duration=%s)", q.current.Type, q.current.State, q.current.Elapsed(now))

	if q.current.Type == "skill" && success {
		skillName, _ := q.current.Params["skill_name"].(string)
		if skillName == "" {
			skillName = "unknown"
		}
		cooldown := time.Second
		if cd, ok := toSeconds(q.current.Params["cooldown"]); ok {
			cooldown = cd
		}
		q.cooldowns[skillName] = now.Add(cooldown)
		logging.Debug("queue", "Skill %q cooldown until %s", skillName, q.cooldowns[skillName])
	}

	q.current = nil
	return true
}

// Cancel removes a still-queued action, or force-completes the in-flight
// one as CANCELLED (last resort: the underlying handler may still run).
func (q *Queue) Cancel(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.current != nil && q.current.ID == id {
		q.current.State = StateCancelled
		q.current.CompletedAt = q.now()
		logging.Info("queue", "Cancelled current action %q", q.current.Type)
		q.current = nil
		return true
	}

	for i, action := range q.pending {
		if action.ID == id {
			action.State = StateCancelled
			q.pending = append(q.pending[:i], q.pending[i+1:]...)
			logging.Info("queue", "Cancelled queued action %q", action.Type)
			return true
		}
	}

	logging.Warn("queue", "Action %s not found for cancellation", id)
	return false
}

// Clear drops all queued (not in-flight) actions and returns the count.
func (q *Queue) Clear(reason string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := len(q.pending)
	q.pending = nil
	logging.Warn("queue", "Cleared %d queued actions (reason: %s)", n, reason)
	return n
}

// ForceCompleteCurrent force-completes the in-flight action. Emergency
// escape hatch for stuck actions.
func (q *Queue) ForceCompleteCurrent() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.current == nil {
		return false
	}
	logging.Warn("queue", "Force completing current action %q", q.current.Type)
	q.current.State = StateCompleted
	q.current.CompletedAt = q.now()
	q.current = nil
	return true
}

// Current returns a copy of the in-flight action, or nil.
func (q *Queue) Current() *QueuedAction {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.current == nil {
		return nil
	}
	copied := *q.current
	return &copied
}

// Len returns the number of queued (not in-flight) actions.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// GetStatus returns a monitoring snapshot.
func (q *Queue) GetStatus() Status {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.now()
	st := Status{
		QueueSize:       len(q.pending),
		ActiveCooldowns: make(map[string]time.Duration),
		HasActiveAction: q.current != nil,
	}
	if q.current != nil {
		copied := *q.current
		st.Current = &copied
	}
	for _, action := range q.pending {
		st.Queued = append(st.Queued, *action)
	}
	for skill, eligibleAt := range q.cooldowns {
		if now.Before(eligibleAt) {
			st.ActiveCooldowns[skill] = eligibleAt.Sub(now)
		}
	}
	return st
}

// toSeconds converts a params value (JSON float64, YAML int, or a
// time.Duration) into a duration.
func toSeconds(v any) (time.Duration, bool) {
	switch n := v.(type) {
	case float64:
		return time.Duration(n * float64(time.Second)), true
	case int:
		return time.Duration(n) * time.Second, true
	case int64:
		return time.Duration(n) * time.Second, true
	case time.Duration:
		return n, true
	default:
		return 0, false
	}
}
