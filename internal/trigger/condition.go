package trigger

import (
	"fmt"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// Condition is a boolean test over a world-state snapshot. Each variant
// carries only the fields it needs; see the Evaluator for semantics.
type Condition interface {
	condition()
}

// Comparison operators for simple conditions.
const (
	OpEqual        = "=="
	OpNotEqual     = "!="
	OpGreater      = ">"
	OpLess         = "<"
	OpGreaterEqual = ">="
	OpLessEqual    = "<="
	OpIn           = "in"
	OpNotIn        = "not_in"
	OpContains     = "contains"
)

// Boolean combinators for compound conditions.
const (
	CombineAnd = "AND"
	CombineOr  = "OR"
	CombineNot = "NOT"
)

// SimpleCondition compares a dotted field path in the snapshot against a
// literal value.
type SimpleCondition struct {
	Field    string
	Operator string
	Value    any
}

// CompoundCondition combines sub-conditions with AND/OR/NOT.
// Evaluation short-circuits; NOT negates only the first check.
type CompoundCondition struct {
	Operator string
	Checks   []Condition
}

// CustomCondition dispatches to a named predicate registered with the
// Evaluator by the host application.
type CustomCondition struct {
	Function string
	Params   map[string]any
}

// ExprCondition evaluates a compiled boolean expression against the snapshot
// document, e.g. `character.hp_percent < 30 && len(items_on_ground) > 0`.
type ExprCondition struct {
	Source string

	once       sync.Once
	program    *vm.Program
	compileErr error
}

func (*SimpleCondition) condition()   {}
func (*CompoundCondition) condition() {}
func (*CustomCondition) condition()   {}
func (*ExprCondition) condition()     {}

// NewExprCondition compiles source eagerly so config load can reject bad
// expressions per-trigger instead of failing at evaluation time.
func NewExprCondition(source string) (*ExprCondition, error) {
	c := &ExprCondition{Source: source}
	if err := c.compile(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *ExprCondition) compile() error {
	c.once.Do(func() {
		if c.Source == "" {
			c.compileErr = fmt.Errorf("empty expression")
			return
		}
		c.program, c.compileErr = expr.Compile(c.Source,
			expr.AllowUndefinedVariables(),
			expr.AsBool(),
		)
	})
	return c.compileErr
}
