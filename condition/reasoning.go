package condition

import "github.com/hupe1980/groupmesh/core"

// ReasoningCondition produces the prompt an external reasoning engine judges.
// The core never evaluates it; the prompt becomes the description of a
// callable action whose invocation is the "condition met" signal.
type ReasoningCondition interface {
	Prompt(store *core.ContextStore) (string, error)
	isReasoningCondition()
}

// StringPrompt is a static prompt.
type StringPrompt struct {
	Text string
}

// Prompt implements ReasoningCondition.
func (p StringPrompt) Prompt(*core.ContextStore) (string, error) { return p.Text, nil }

func (StringPrompt) isReasoningCondition() {}

// ContextStrPrompt substitutes context variables into its template.
type ContextStrPrompt struct {
	Template ContextStr
}

// Prompt implements ReasoningCondition.
func (p ContextStrPrompt) Prompt(store *core.ContextStore) (string, error) {
	return p.Template.Format(store)
}

func (ContextStrPrompt) isReasoningCondition() {}
