package tool

import (
	"github.com/hupe1980/groupmesh/target"
)

// TransferTool is the callable action generated for a reasoning handoff rule.
// It takes no arguments; invoking it stages its bound target and returns the
// target's string form.
type TransferTool struct {
	name        string
	description string
	target      target.Target
}

// NewTransferTool binds name to t. The description is the rule's prompt.
func NewTransferTool(name, description string, t target.Target) *TransferTool {
	return &TransferTool{name: name, description: description, target: t}
}

// Name implements Tool.
func (t *TransferTool) Name() string { return t.name }

// Description implements Tool.
func (t *TransferTool) Description() string { return t.description }

// Parameters implements Tool.
func (t *TransferTool) Parameters() map[string]any {
	return map[string]any{"type": "object", "properties": map[string]any{}}
}

// Target returns the bound target.
func (t *TransferTool) Target() target.Target { return t.target }

// Call implements Tool.
func (t *TransferTool) Call(tc *Context, _ map[string]any) (any, error) {
	tc.TransferTo(t.target)
	return t.target.String(), nil
}

// IsTransfer reports whether t is a transfer action and returns its target.
func IsTransfer(t Tool) (target.Target, bool) {
	tt, ok := t.(*TransferTool)
	if !ok {
		return nil, false
	}
	return tt.target, true
}
