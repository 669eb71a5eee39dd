package agent

import (
	"context"
	"fmt"
	"sync"

	"github.com/hupe1980/groupmesh/core"
	"github.com/hupe1980/groupmesh/handoff"
	"github.com/hupe1980/groupmesh/tool"
)

// Turn is the input of one participant turn.
type Turn struct {
	// Messages is the history visible to the participant.
	Messages []core.Message
	// Actions is the action list exposed this turn: the participant's tools
	// plus the transfer actions of its open reasoning rules.
	Actions []tool.Tool
	// Context is the shared context store.
	Context *core.ContextStore
	// SessionID identifies the session the turn belongs to.
	SessionID string
}

// Agent is a group member able to take a turn.
type Agent interface {
	core.Participant

	// Handoffs returns the participant's rule set. It is never nil.
	Handoffs() *handoff.Handoffs

	// Tools returns the participant's own callable actions.
	Tools() []tool.Tool

	// Generate produces the participant's message for this turn.
	Generate(ctx context.Context, turn *Turn) (core.Message, error)
}

// SessionReleaser is implemented by agents that keep per-session state.
// The group calls ReleaseSession once a session has finished.
type SessionReleaser interface {
	ReleaseSession(sessionID string)
}

// BaseAgent bundles identity, handoffs and tool registration. Embed it in
// concrete agents and supply Generate. All exported methods are
// goroutine-safe.
type BaseAgent struct {
	name        string
	description string
	handoffs    *handoff.Handoffs

	mu    sync.RWMutex
	tools []tool.Tool
}

// NewBaseAgent constructs a BaseAgent with a generated description.
func NewBaseAgent(name string) BaseAgent {
	return BaseAgent{
		name:        name,
		description: fmt.Sprintf("Agent %s", name),
		handoffs:    handoff.New(),
	}
}

// Name implements core.Participant.
func (b *BaseAgent) Name() string { return b.name }

// Description implements core.Participant.
func (b *BaseAgent) Description() string { return b.description }

// SetDescription updates the description shown in selection rosters.
func (b *BaseAgent) SetDescription(desc string) { b.description = desc }

// Handoffs returns the rule set.
func (b *BaseAgent) Handoffs() *handoff.Handoffs { return b.handoffs }

// RegisterTools adds tools; a tool replaces an earlier one with the same name.
func (b *BaseAgent) RegisterTools(tools ...tool.Tool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, t := range tools {
		replaced := false
		for i, existing := range b.tools {
			if existing.Name() == t.Name() {
				b.tools[i] = t
				replaced = true
				break
			}
		}
		if !replaced {
			b.tools = append(b.tools, t)
		}
	}
}

// UnregisterTool removes a tool and reports whether it was registered.
func (b *BaseAgent) UnregisterTool(name string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i, t := range b.tools {
		if t.Name() == name {
			b.tools = append(b.tools[:i], b.tools[i+1:]...)
			return true
		}
	}
	return false
}

// HasTool checks if a tool is registered.
func (b *BaseAgent) HasTool(name string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, t := range b.tools {
		if t.Name() == name {
			return true
		}
	}
	return false
}

// Tools returns a copy of the registered tools in registration order.
func (b *BaseAgent) Tools() []tool.Tool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return append([]tool.Tool(nil), b.tools...)
}
