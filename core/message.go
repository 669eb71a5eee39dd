package core

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Message is one entry of the group transcript. After it is appended to the
// transcript it should be treated as immutable. Name identifies the speaking
// participant (empty for anonymous seed messages).
type Message struct {
	ID           string    `json:"id"`
	Name         string    `json:"name,omitempty"`
	Content      Content   `json:"content"`
	Timestamp    time.Time `json:"timestamp"`
	ErrorMessage string    `json:"error_message,omitempty"`
}

// NewMessage creates a message authored by name with the given role and parts.
func NewMessage(name, role string, parts ...Part) Message {
	return Message{
		ID:        NewID(),
		Name:      name,
		Content:   Content{Role: role, Parts: parts},
		Timestamp: time.Now().UTC(),
	}
}

// NewTextMessage creates an assistant-style message with a single text part.
func NewTextMessage(name, text string) Message {
	return NewMessage(name, RoleAssistant, TextPart{Text: text})
}

// NewUserMessage creates a user-role message. Name may be empty.
func NewUserMessage(name, text string) Message {
	return NewMessage(name, RoleUser, TextPart{Text: text})
}

// NewFunctionCallMessage creates an assistant message requesting the given calls.
// Calls without an ID get a fresh one so responses can be correlated.
func NewFunctionCallMessage(name string, calls ...FunctionCall) Message {
	parts := make([]Part, 0, len(calls))
	for _, fc := range calls {
		if fc.ID == "" {
			fc.ID = "call_" + NewID()
		}
		parts = append(parts, FunctionCallPart{FunctionCall: fc})
	}
	return NewMessage(name, RoleAssistant, parts...)
}

// NewFunctionResponseMessage creates a tool-role message carrying responses.
func NewFunctionResponseMessage(name string, responses ...FunctionResponse) Message {
	parts := make([]Part, 0, len(responses))
	for _, fr := range responses {
		parts = append(parts, FunctionResponsePart{FunctionResponse: fr})
	}
	return NewMessage(name, RoleTool, parts...)
}

// NewErrorMessage creates a visible assistant message describing a recoverable failure.
func NewErrorMessage(name string, err error) Message {
	m := NewTextMessage(name, "Error: "+err.Error())
	m.ErrorMessage = err.Error()
	return m
}

// NewID generates a new unique identifier for messages and sessions.
func NewID() string { return uuid.NewString() }

// Role returns the content role.
func (m Message) Role() string { return m.Content.Role }

// Text concatenates all text parts.
func (m Message) Text() string {
	var b strings.Builder
	for _, p := range m.Content.Parts {
		if tp, ok := p.(TextPart); ok {
			b.WriteString(tp.Text)
		}
	}
	return b.String()
}

// HasText reports whether the message carries meaningful text. The literal
// "None" some providers emit for empty content counts as no text.
func (m Message) HasText() bool {
	t := strings.TrimSpace(m.Text())
	return t != "" && t != "None"
}

// FunctionCalls returns the function call parts preserving their order.
func (m Message) FunctionCalls() []FunctionCall {
	var calls []FunctionCall
	for _, p := range m.Content.Parts {
		if fc, ok := p.(FunctionCallPart); ok {
			calls = append(calls, fc.FunctionCall)
		}
	}
	return calls
}

// HasFunctionCalls reports whether the message requests any action.
func (m Message) HasFunctionCalls() bool {
	for _, p := range m.Content.Parts {
		if _, ok := p.(FunctionCallPart); ok {
			return true
		}
	}
	return false
}

// FunctionResponses returns the function response parts preserving their order.
func (m Message) FunctionResponses() []FunctionResponse {
	var responses []FunctionResponse
	for _, p := range m.Content.Parts {
		if fr, ok := p.(FunctionResponsePart); ok {
			responses = append(responses, fr.FunctionResponse)
		}
	}
	return responses
}

// Clone returns a copy whose part slice can be modified independently.
func (m Message) Clone() Message {
	c := m
	c.Content.Parts = append([]Part(nil), m.Content.Parts...)
	return c
}

// Contents converts messages to their bare contents.
func Contents(msgs []Message) []Content {
	out := make([]Content, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, m.Content)
	}
	return out
}
