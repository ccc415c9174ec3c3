package trigger

import (
	"reflect"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/expr-lang/expr"

	"github.com/kore-ai/brain/internal/logging"
	"github.com/kore-ai/brain/internal/types"
)

// CustomFunc is a named predicate supplied by the host application.
type CustomFunc func(snapshot types.Snapshot, params map[string]any) bool

// Evaluator tests conditions against world-state snapshots. Evaluation is
// pure with respect to the snapshot; the only mutable state is the custom
// function registry.
type Evaluator struct {
	mu        sync.RWMutex
	custom    map[string]CustomFunc
	evalCount atomic.Int64
}

// NewEvaluator creates an evaluator with no custom functions registered.
func NewEvaluator() *Evaluator {
	return &Evaluator{custom: make(map[string]CustomFunc)}
}

// RegisterCustomFunc registers a predicate under a name referenced by
// custom conditions.
func (e *Evaluator) RegisterCustomFunc(name string, fn CustomFunc) {
	e.mu.Lock()
	e.custom[name] = fn
	e.mu.Unlock()
	logging.Info("evaluator", "Registered custom condition function: %s", name)
}

// Evaluate tests a condition against a snapshot. Malformed conditions,
// missing paths, and unregistered custom functions all evaluate to false;
// they never abort the cycle.
func (e *Evaluator) Evaluate(cond Condition, snapshot types.Snapshot) bool {
	e.evalCount.Add(1)

	switch c := cond.(type) {
	case *SimpleCondition:
		return e.evaluateSimple(c, snapshot)
	case *CompoundCondition:
		return e.evaluateCompound(c, snapshot)
	case *CustomCondition:
		return e.evaluateCustom(c, snapshot)
	case *ExprCondition:
		return e.evaluateExpr(c, snapshot)
	case nil:
		logging.Warn("evaluator", "Nil condition")
		return false
	default:
		logging.Warn("evaluator", "Unknown condition type %T", cond)
		return false
	}
}

func (e *Evaluator) evaluateSimple(c *SimpleCondition, snapshot types.Snapshot) bool {
	value, ok := lookupPath(snapshot, c.Field)
	if !ok {
		logging.Debug("evaluator", "Field %q not found in snapshot", c.Field)
		return false
	}

	result, ok := compare(value, c.Operator, c.Value)
	if !ok {
		logging.Warn("evaluator", "Cannot apply %q to %q (%T vs %T)", c.Operator, c.Field, value, c.Value)
		return false
	}
	logging.Debug("evaluator", "Simple: %s (%v) %s %v = %v", c.Field, value, c.Operator, c.Value, result)
	return result
}

func (e *Evaluator) evaluateCompound(c *CompoundCondition, snapshot types.Snapshot) bool {
	if len(c.Checks) == 0 {
		logging.Warn("evaluator", "Compound condition has no sub-checks")
		return false
	}

	switch strings.ToUpper(c.Operator) {
	case CombineAnd:
		for _, check := range c.Checks {
			if !e.Evaluate(check, snapshot) {
				return false
			}
		}
		return true
	case CombineOr:
		for _, check := range c.Checks {
			if e.Evaluate(check, snapshot) {
				return true
			}
		}
		return false
	case CombineNot:
		// NOT negates exactly its first sub-condition
		return !e.Evaluate(c.Checks[0], snapshot)
	default:
		logging.Warn("evaluator", "Unknown compound operator: %q", c.Operator)
		return false
	}
}

func (e *Evaluator) evaluateCustom(c *CustomCondition, snapshot types.Snapshot) bool {
	name := c.Function
	if name == "" {
		if n, ok := c.Params["function_name"].(string); ok {
			name = n
		}
	}
	if name == "" {
		logging.Warn("evaluator", "Custom condition without function name")
		return false
	}

	e.mu.RLock()
	fn, ok := e.custom[name]
	e.mu.RUnlock()
	if !ok {
		logging.Warn("evaluator", "Custom condition function not registered: %s", name)
		return false
	}
	return fn(snapshot, c.Params)
}

func (e *Evaluator) evaluateExpr(c *ExprCondition, snapshot types.Snapshot) bool {
	if err := c.compile(); err != nil {
		logging.Warn("evaluator", "Expression %q failed to compile: %v", c.Source, err)
		return false
	}
	out, err := expr.Run(c.program, map[string]any(snapshot))
	if err != nil {
		logging.Debug("evaluator", "Expression %q: %v", c.Source, err)
		return false
	}
	result, _ := out.(bool)
	return result
}

// CheckCooldown reports whether the trigger is outside its cooldown window.
// A trigger that never executed is always eligible.
func (e *Evaluator) CheckCooldown(t *Trigger) bool {
	last := t.LastExecuted()
	if last.IsZero() {
		return true
	}
	elapsed := time.Since(last)
	if elapsed < t.Cooldown {
		logging.Debug("evaluator", "Trigger %s on cooldown: %s elapsed, %s required", t.ID, elapsed, t.Cooldown)
		return false
	}
	return true
}

// EvaluationCount returns the total number of Evaluate calls.
func (e *Evaluator) EvaluationCount() int64 {
	return e.evalCount.Load()
}

// CustomFuncCount returns how many custom functions are registered.
func (e *Evaluator) CustomFuncCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.custom)
}

// lookupPath resolves a dotted path like "character.hp_percent" through
// nested maps. Missing keys and non-map intermediates report false.
func lookupPath(data types.Snapshot, path string) (any, bool) {
	if path == "" {
		return nil, false
	}
	var value any = map[string]any(data)
	for _, key := range strings.Split(path, ".") {
		m, ok := value.(map[string]any)
		if !ok {
			return nil, false
		}
		value, ok = m[key]
		if !ok || value == nil {
			return nil, false
		}
	}
	return value, true
}

// compare applies a comparison operator. The second return is false when
// the operator is unknown or the operand types cannot be compared.
func compare(fieldValue any, op string, literal any) (result, ok bool) {
	switch op {
	case OpEqual:
		return looseEqual(fieldValue, literal), true
	case OpNotEqual:
		return !looseEqual(fieldValue, literal), true
	case OpGreater, OpLess, OpGreaterEqual, OpLessEqual:
		return compareOrdered(fieldValue, op, literal)
	case OpIn:
		return memberOf(fieldValue, literal)
	case OpNotIn:
		r, ok := memberOf(fieldValue, literal)
		return !r, ok
	case OpContains:
		return memberOf(literal, fieldValue)
	default:
		return false, false
	}
}

// looseEqual treats numerics of different widths as equal when their values
// match, since JSON decoding produces float64 and YAML produces int.
func looseEqual(a, b any) bool {
	if af, aok := toFloat(a); aok {
		if bf, bok := toFloat(b); bok {
			return af == bf
		}
		return false
	}
	return reflect.DeepEqual(a, b)
}

func compareOrdered(a any, op string, b any) (bool, bool) {
	if af, aok := toFloat(a); aok {
		bf, bok := toFloat(b)
		if !bok {
			return false, false
		}
		switch op {
		case OpGreater:
			return af > bf, true
		case OpLess:
			return af < bf, true
		case OpGreaterEqual:
			return af >= bf, true
		case OpLessEqual:
			return af <= bf, true
		}
	}
	if as, aok := a.(string); aok {
		bs, bok := b.(string)
		if !bok {
			return false, false
		}
		switch op {
		case OpGreater:
			return as > bs, true
		case OpLess:
			return as < bs, true
		case OpGreaterEqual:
			return as >= bs, true
		case OpLessEqual:
			return as <= bs, true
		}
	}
	return false, false
}

// memberOf reports whether needle occurs in haystack (slice membership or
// substring for strings).
func memberOf(needle, haystack any) (bool, bool) {
	switch h := haystack.(type) {
	case []any:
		for _, item := range h {
			if looseEqual(needle, item) {
				return true, true
			}
		}
		return false, true
	case []string:
		n, ok := needle.(string)
		if !ok {
			return false, false
		}
		for _, item := range h {
			if item == n {
				return true, true
			}
		}
		return false, true
	case string:
		n, ok := needle.(string)
		if !ok {
			return false, false
		}
		return strings.Contains(h, n), true
	default:
		return false, false
	}
}

// toFloat normalizes any numeric type to float64, handling both JSON
// (float64) and YAML (int) decodings.
func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	default:
		return 0, false
	}
}
