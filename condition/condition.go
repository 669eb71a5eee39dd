// Package condition implements the predicates attached to handoff rules:
// context conditions evaluated synchronously against the shared context store,
// reasoning conditions whose prompt is judged by an external reasoning engine,
// and availability gates deciding whether a rule is considered at all.
package condition

import (
	"fmt"

	"github.com/hupe1980/groupmesh/core"
)

// ContextCondition is evaluated against the context store only. Evaluation is
// pure, deterministic and idempotent.
type ContextCondition interface {
	Evaluate(store *core.ContextStore) (bool, error)
	String() string
	isContextCondition()
}

// NamedCondition is true when the named variable holds a truthy value.
type NamedCondition struct {
	Variable string
}

// Named returns a NamedCondition for variable.
func Named(variable string) NamedCondition { return NamedCondition{Variable: variable} }

// Evaluate implements ContextCondition.
func (c NamedCondition) Evaluate(store *core.ContextStore) (bool, error) {
	return store.Truthy(c.Variable), nil
}

func (c NamedCondition) String() string { return "${" + c.Variable + "}" }

func (NamedCondition) isContextCondition() {}

// ExpressionCondition evaluates a parsed boolean Expression.
type ExpressionCondition struct {
	Expression *Expression
}

// Expr parses src into an ExpressionCondition.
func Expr(src string) (ExpressionCondition, error) {
	e, err := ParseExpression(src)
	if err != nil {
		return ExpressionCondition{}, err
	}
	return ExpressionCondition{Expression: e}, nil
}

// MustExpr is like Expr but panics on a syntax error.
func MustExpr(src string) ExpressionCondition {
	return ExpressionCondition{Expression: MustParseExpression(src)}
}

// Evaluate implements ContextCondition.
func (c ExpressionCondition) Evaluate(store *core.ContextStore) (bool, error) {
	if c.Expression == nil {
		return false, fmt.Errorf("expression condition without expression")
	}
	return c.Expression.Evaluate(store)
}

func (c ExpressionCondition) String() string {
	if c.Expression == nil {
		return ""
	}
	return c.Expression.String()
}

func (ExpressionCondition) isContextCondition() {}
