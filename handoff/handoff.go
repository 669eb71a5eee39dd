// Package handoff holds the per-participant rule set that decides where the
// conversation goes after a participant speaks: context rules evaluated by the
// orchestrator, reasoning rules exposed to the reasoning engine as callable
// transfer actions, and a single fallback (after work).
package handoff

import (
	"errors"
	"fmt"

	"github.com/hupe1980/groupmesh/condition"
	"github.com/hupe1980/groupmesh/core"
	"github.com/hupe1980/groupmesh/target"
)

// ErrDuplicateAfterWork is returned when a second fallback is added.
var ErrDuplicateAfterWork = errors.New("handoffs already have an after work")

// Rule is the closed union of entries accepted by Handoffs.Add.
type Rule interface{ isRule() }

// ContextRule transfers control when its condition holds. It is evaluated by
// the orchestrator before the participant generates.
type ContextRule struct {
	Target    target.Target
	Condition condition.ContextCondition
	Available condition.AvailableGate
	// Nested keeps the nested chat once Target points at its wrapper.
	Nested *target.CompoundRef
}

// NewContextRule builds a ContextRule without a gate.
func NewContextRule(t target.Target, c condition.ContextCondition) *ContextRule {
	return &ContextRule{Target: t, Condition: c}
}

// WithAvailable sets the gate and returns the rule.
func (r *ContextRule) WithAvailable(gate condition.AvailableGate) *ContextRule {
	r.Available = gate
	return r
}

func (*ContextRule) isRule() {}

// ReasoningRule is offered to the reasoning engine as a transfer action whose
// description is the condition prompt.
type ReasoningRule struct {
	Target    target.Target
	Condition condition.ReasoningCondition
	Available condition.AvailableGate
	// Nested keeps the nested chat once Target points at its wrapper.
	Nested *target.CompoundRef
	// FunctionName is assigned by AssignFunctionNames.
	FunctionName string
}

// NewReasoningRule builds a ReasoningRule without a gate.
func NewReasoningRule(t target.Target, c condition.ReasoningCondition) *ReasoningRule {
	return &ReasoningRule{Target: t, Condition: c}
}

// WithAvailable sets the gate and returns the rule.
func (r *ReasoningRule) WithAvailable(gate condition.AvailableGate) *ReasoningRule {
	r.Available = gate
	return r
}

func (*ReasoningRule) isRule() {}

// AfterWork is the fallback used when no rule fired.
type AfterWork struct {
	Target target.Target
	// SelectionMessage customizes the roster prompt when Target resolves to
	// auto selection. Optional.
	SelectionMessage SelectionMessage
}

// NewAfterWork builds an AfterWork for t.
func NewAfterWork(t target.Target) *AfterWork {
	return &AfterWork{Target: t}
}

// WithSelectionMessage sets the selection message and returns the fallback.
func (a *AfterWork) WithSelectionMessage(m SelectionMessage) *AfterWork {
	a.SelectionMessage = m
	return a
}

func (*AfterWork) isRule() {}

// SelectionMessage renders the prompt used for auto selection. The result may
// still contain the {agentlist} and {roles} placeholders.
type SelectionMessage interface {
	Message(store *core.ContextStore) (string, error)
	isSelectionMessage()
}

// StringSelectionMessage is a static selection prompt.
type StringSelectionMessage struct {
	Text string
}

// Message implements SelectionMessage.
func (m StringSelectionMessage) Message(*core.ContextStore) (string, error) { return m.Text, nil }

func (StringSelectionMessage) isSelectionMessage() {}

// ContextStrSelectionMessage substitutes context variables into its template.
type ContextStrSelectionMessage struct {
	Template condition.ContextStr
}

// Message implements SelectionMessage.
func (m ContextStrSelectionMessage) Message(store *core.ContextStore) (string, error) {
	return m.Template.Format(store)
}

func (ContextStrSelectionMessage) isSelectionMessage() {}

// Handoffs is the rule set of one participant. It is configured before the
// session starts and only mutated during bootstrap (wrapping and naming).
type Handoffs struct {
	contextRules   []*ContextRule
	reasoningRules []*ReasoningRule
	afterWork      *AfterWork
}

// New returns an empty rule set.
func New() *Handoffs { return &Handoffs{} }

// AddContextCondition appends context rules in order.
func (h *Handoffs) AddContextCondition(rules ...*ContextRule) *Handoffs {
	h.contextRules = append(h.contextRules, rules...)
	return h
}

// AddReasoningCondition appends reasoning rules in order.
func (h *Handoffs) AddReasoningCondition(rules ...*ReasoningRule) *Handoffs {
	h.reasoningRules = append(h.reasoningRules, rules...)
	return h
}

// SetAfterWork sets the fallback. A second fallback is rejected.
func (h *Handoffs) SetAfterWork(aw *AfterWork) error {
	if h.afterWork != nil {
		return ErrDuplicateAfterWork
	}
	h.afterWork = aw
	return nil
}

// Add dispatches each rule to its family.
func (h *Handoffs) Add(rules ...Rule) error {
	for _, r := range rules {
		switch x := r.(type) {
		case *ContextRule:
			h.AddContextCondition(x)
		case *ReasoningRule:
			h.AddReasoningCondition(x)
		case *AfterWork:
			if err := h.SetAfterWork(x); err != nil {
				return err
			}
		default:
			return fmt.Errorf("unsupported handoff rule %T", r)
		}
	}
	return nil
}

// Clear removes every rule and the fallback.
func (h *Handoffs) Clear() *Handoffs {
	h.contextRules = nil
	h.reasoningRules = nil
	h.afterWork = nil
	return h
}

// ContextConditions returns the context rules in registration order.
func (h *Handoffs) ContextConditions() []*ContextRule {
	return append([]*ContextRule(nil), h.contextRules...)
}

// ReasoningConditions returns the reasoning rules in registration order.
func (h *Handoffs) ReasoningConditions() []*ReasoningRule {
	return append([]*ReasoningRule(nil), h.reasoningRules...)
}

// AfterWork returns the fallback or nil.
func (h *Handoffs) AfterWork() *AfterWork { return h.afterWork }

// ContextConditionsByTargetKind filters context rules by target kind.
func (h *Handoffs) ContextConditionsByTargetKind(kind target.Kind) []*ContextRule {
	var out []*ContextRule
	for _, r := range h.contextRules {
		if r.Target.Kind() == kind {
			out = append(out, r)
		}
	}
	return out
}

// ReasoningConditionsByTargetKind filters reasoning rules by target kind.
func (h *Handoffs) ReasoningConditionsByTargetKind(kind target.Kind) []*ReasoningRule {
	var out []*ReasoningRule
	for _, r := range h.reasoningRules {
		if r.Target.Kind() == kind {
			out = append(out, r)
		}
	}
	return out
}

// ContextConditionsRequiringWrapping returns context rules whose target
// must be wrapped before the session starts.
func (h *Handoffs) ContextConditionsRequiringWrapping() []*ContextRule {
	var out []*ContextRule
	for _, r := range h.contextRules {
		if r.Target.NeedsWrapping() {
			out = append(out, r)
		}
	}
	return out
}

// ReasoningConditionsRequiringWrapping returns reasoning rules whose target
// must be wrapped before the session starts.
func (h *Handoffs) ReasoningConditionsRequiringWrapping() []*ReasoningRule {
	var out []*ReasoningRule
	for _, r := range h.reasoningRules {
		if r.Target.NeedsWrapping() {
			out = append(out, r)
		}
	}
	return out
}

// AssignFunctionNames names every reasoning rule
// transfer_to_<normalized target>_<index> with a 1-based index in
// registration order. It must run again after targets are rewritten.
func (h *Handoffs) AssignFunctionNames() {
	for i, r := range h.reasoningRules {
		r.FunctionName = FunctionName(r.Target, i+1)
	}
}

// FunctionName returns the callable-action name for the index-th reasoning rule.
func FunctionName(t target.Target, index int) string {
	return fmt.Sprintf("transfer_to_%s_%d", t.NormalizedName(), index)
}

// Targets returns every target referenced by the rule set: context rules,
// reasoning rules, then the fallback.
func (h *Handoffs) Targets() []target.Target {
	out := make([]target.Target, 0, len(h.contextRules)+len(h.reasoningRules)+1)
	for _, r := range h.contextRules {
		out = append(out, r.Target)
	}
	for _, r := range h.reasoningRules {
		out = append(out, r.Target)
	}
	if h.afterWork != nil {
		out = append(out, h.afterWork.Target)
	}
	return out
}

// Len returns the number of rules including the fallback.
func (h *Handoffs) Len() int {
	n := len(h.contextRules) + len(h.reasoningRules)
	if h.afterWork != nil {
		n++
	}
	return n
}
