package condition

import "github.com/hupe1980/groupmesh/core"

// AvailableGate decides whether a rule is considered this turn. A nil gate is
// always open. Gates are re-evaluated every turn.
type AvailableGate interface {
	Available(p core.Participant, store *core.ContextStore, msgs []core.Message) (bool, error)
	isAvailableGate()
}

// NamedGate is open when the named variable is truthy.
type NamedGate struct {
	Variable string
}

// Available implements AvailableGate.
func (g NamedGate) Available(_ core.Participant, store *core.ContextStore, _ []core.Message) (bool, error) {
	return store.Truthy(g.Variable), nil
}

func (NamedGate) isAvailableGate() {}

// ExpressionGate is open when its expression evaluates true.
type ExpressionGate struct {
	Expression *Expression
}

// Available implements AvailableGate.
func (g ExpressionGate) Available(_ core.Participant, store *core.ContextStore, _ []core.Message) (bool, error) {
	return g.Expression.Evaluate(store)
}

func (ExpressionGate) isAvailableGate() {}

// FuncGate wraps a custom predicate over the participant and the history.
type FuncGate struct {
	Fn func(p core.Participant, msgs []core.Message) bool
}

// Available implements AvailableGate.
func (g FuncGate) Available(p core.Participant, _ *core.ContextStore, msgs []core.Message) (bool, error) {
	return g.Fn(p, msgs), nil
}

func (FuncGate) isAvailableGate() {}

// IsAvailable evaluates gate, treating nil as open.
func IsAvailable(gate AvailableGate, p core.Participant, store *core.ContextStore, msgs []core.Message) (bool, error) {
	if gate == nil {
		return true, nil
	}
	return gate.Available(p, store, msgs)
}
