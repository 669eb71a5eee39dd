package testutil

import (
	"github.com/hupe1980/groupmesh/core"
)

// MessageBuilder provides a fluent helper for constructing messages in tests.
// Example:
//
//	msg := NewMessageBuilder("triage").Text("hello").FunctionCall("c1", "lookup", "{}").Build()
//
// Chain only the parts you need; sensible defaults are applied.
type MessageBuilder struct {
	name          string
	id            string
	role          string
	textParts     []string
	funcCalls     []core.FunctionCall
	funcResponses []core.FunctionResponse
}

// NewMessageBuilder creates a builder for a message authored by name.
func NewMessageBuilder(name string) *MessageBuilder { return &MessageBuilder{name: name} }

// ID overrides the auto-generated message ID (chainable).
func (b *MessageBuilder) ID(id string) *MessageBuilder { b.id = id; return b }

// Role overrides the derived role (chainable).
func (b *MessageBuilder) Role(r string) *MessageBuilder { b.role = r; return b }

// Text appends a text part (chainable).
func (b *MessageBuilder) Text(t string) *MessageBuilder {
	b.textParts = append(b.textParts, t)
	return b
}

// FunctionCall adds a function call part (chainable).
func (b *MessageBuilder) FunctionCall(id, name, args string) *MessageBuilder {
	b.funcCalls = append(b.funcCalls, core.FunctionCall{ID: id, Name: name, Arguments: args})
	return b
}

// FunctionResponse adds a function response part (chainable).
func (b *MessageBuilder) FunctionResponse(id, name string, result any, err error) *MessageBuilder {
	fr := core.FunctionResponse{ID: id, Name: name, Response: result}
	if err != nil {
		fr.Error = err.Error()
	}
	b.funcResponses = append(b.funcResponses, fr)
	return b
}

// Build constructs the core.Message value. Without an explicit role,
// messages carrying responses are tool messages and all others assistant
// messages.
func (b *MessageBuilder) Build() core.Message {
	role := b.role
	if role == "" {
		role = core.RoleAssistant
		if len(b.funcResponses) > 0 {
			role = core.RoleTool
		}
	}

	parts := make([]core.Part, 0, len(b.textParts)+len(b.funcCalls)+len(b.funcResponses))
	for _, t := range b.textParts {
		parts = append(parts, core.TextPart{Text: t})
	}
	for _, fc := range b.funcCalls {
		parts = append(parts, core.FunctionCallPart{FunctionCall: fc})
	}
	for _, fr := range b.funcResponses {
		parts = append(parts, core.FunctionResponsePart{FunctionResponse: fr})
	}

	msg := core.NewMessage(b.name, role, parts...)
	if b.id != "" {
		msg.ID = b.id
	}
	return msg
}
