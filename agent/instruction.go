package agent

import (
	"github.com/hupe1980/groupmesh/core"
	"github.com/hupe1980/groupmesh/internal/util"
)

// Provider supplies dynamic instruction text at runtime.
type Provider interface {
	Instruction(store *core.ContextStore) (string, error)
}

// Func is a functional adapter to allow ordinary functions to be used as Providers.
type Func func(store *core.ContextStore) (string, error)

// Instruction implements Provider.
func (f Func) Instruction(store *core.ContextStore) (string, error) { return f(store) }

// Instruction is either a static template or a dynamic provider. Static
// text is rendered as a text/template over the context variables, so
// "{{ .customer_name }}" picks up the current value every turn.
type Instruction struct {
	text     string
	provider Provider
}

// NewInstructionFromText creates an Instruction from a static template.
func NewInstructionFromText(text string) Instruction { return Instruction{text: text} }

// NewInstructionFromProvider creates an Instruction from a dynamic provider.
func NewInstructionFromProvider(p Provider) Instruction { return Instruction{provider: p} }

// NewInstructionFromFunc creates an Instruction from a function.
func NewInstructionFromFunc(f func(store *core.ContextStore) (string, error)) Instruction {
	return Instruction{provider: Func(f)}
}

// IsStatic returns true if the instruction is backed by a static template.
func (i Instruction) IsStatic() bool { return i.provider == nil }

// Resolve returns the instruction text for the current context.
func (i Instruction) Resolve(store *core.ContextStore) (string, error) {
	if i.provider != nil {
		return i.provider.Instruction(store)
	}
	var vars map[string]any
	if store != nil {
		vars = store.Snapshot()
	}
	return util.RenderTemplate(i.text, vars)
}
