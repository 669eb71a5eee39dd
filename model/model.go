package model

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/hupe1980/groupmesh/core"
)

// ToolCall represents a function call request surfaced by a model provider.
// Unified across vendors so downstream logic does not need per-provider branching.
type ToolCall struct {
	ID       string           `json:"id"`
	Type     string           `json:"type"` // "function"
	Function ToolCallFunction `json:"function"`
}

// ToolCallFunction describes the concrete function target of a tool call.
type ToolCallFunction struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"` // JSON string of arguments
}

// ToolDefinition declaratively exposes a callable function to the model.
type ToolDefinition struct {
	Type     string             `json:"type"` // "function"
	Function FunctionDefinition `json:"function"`
}

// FunctionDefinition describes an individual function (tool) exposed to the model.
// Parameters is a JSON Schema object (draft agnostic, minimal subset expected).
type FunctionDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"` // JSON Schema
}

// NewToolDefinition builds a function ToolDefinition.
func NewToolDefinition(name, description string, parameters map[string]any) ToolDefinition {
	return ToolDefinition{
		Type: "function",
		Function: FunctionDefinition{
			Name:        name,
			Description: description,
			Parameters:  parameters,
		},
	}
}

// Request captures the normalized model input.
type Request struct {
	Instructions string           `json:"instructions"` // System instructions for the model
	Contents     []core.Content   `json:"contents"`     // Conversation converted to provider messages
	Tools        []ToolDefinition `json:"tools,omitempty"`
	Stream       bool             `json:"stream,omitempty"`
}

// TokenUsage captures token usage statistics for a response.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Response is a (partial or final) chunk emitted by a model.
type Response struct {
	ID           string       `json:"id"`
	Partial      bool         `json:"partial"` // Indicates if this is a partial response
	Content      core.Content `json:"content"`
	FinishReason string       `json:"finish_reason"` // "stop", "length", "tool_calls", etc.
	Usage        *TokenUsage  `json:"usage,omitempty"`
}

// Info contains metadata about a model implementation.
type Info struct {
	Name          string `json:"name"`
	Provider      string `json:"provider"` // "openai", "anthropic", "mock", etc.
	SupportsTools bool   `json:"supports_tools"`
}

// Model is the reasoning engine contract used by agents and auto selection.
type Model interface {
	Generate(ctx context.Context, req Request) (<-chan Response, <-chan error)

	// Info returns information about the model implementation.
	Info() Info
}

// ErrNoResponse is returned by Collect when the model closed without a final response.
var ErrNoResponse = errors.New("model returned no final response")

// Collect drains a generation and returns the final (non-partial) response.
func Collect(ctx context.Context, m Model, req Request) (Response, error) {
	respCh, errCh := m.Generate(ctx, req)

	var (
		final Response
		got   bool
	)
	for respCh != nil || errCh != nil {
		select {
		case <-ctx.Done():
			return Response{}, ctx.Err()
		case r, ok := <-respCh:
			if !ok {
				respCh = nil
				continue
			}
			if !r.Partial {
				final, got = r, true
			}
		case err, ok := <-errCh:
			if !ok {
				errCh = nil
				continue
			}
			if err != nil {
				return Response{}, err
			}
		}
	}

	if !got {
		return Response{}, ErrNoResponse
	}
	return final, nil
}

// MockReply is one scripted MockModel turn. Exactly one of Text, ToolCalls
// or Err is expected; Text and ToolCalls may be combined.
type MockReply struct {
	Text      string
	ToolCalls []core.FunctionCall
	Err       error
}

// ReplyText scripts a text reply.
func ReplyText(text string) MockReply { return MockReply{Text: text} }

// ReplyCall scripts a single tool call with JSON arguments.
func ReplyCall(name, args string) MockReply {
	return MockReply{ToolCalls: []core.FunctionCall{{Name: name, Arguments: args}}}
}

// ReplyError scripts a failing generation.
func ReplyError(err error) MockReply { return MockReply{Err: err} }

// MockModel is a lightweight in-memory Model useful for tests & examples.
// Scripted replies are consumed first; afterwards canned prompt responses and
// finally an echo are returned.
type MockModel struct {
	info Info

	mu        sync.Mutex
	script    []MockReply
	responses map[string]string
	requests  []Request
}

// NewMockModel constructs a MockModel with tool support enabled.
func NewMockModel(name, provider string) *MockModel {
	return &MockModel{
		info: Info{
			Name:          name,
			Provider:      provider,
			SupportsTools: true,
		},
		responses: make(map[string]string),
	}
}

// AddResponse registers a deterministic canned completion for an input prompt.
func (m *MockModel) AddResponse(prompt, response string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses[prompt] = response
}

// Script appends replies returned in order by subsequent generations.
func (m *MockModel) Script(replies ...MockReply) *MockModel {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.script = append(m.script, replies...)
	return m
}

// Requests returns every request received so far.
func (m *MockModel) Requests() []Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Request(nil), m.requests...)
}

// LastRequest returns the most recent request.
func (m *MockModel) LastRequest() (Request, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.requests) == 0 {
		return Request{}, false
	}
	return m.requests[len(m.requests)-1], true
}

func (m *MockModel) next(req Request) MockReply {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.requests = append(m.requests, req)

	if len(m.script) > 0 {
		r := m.script[0]
		m.script = m.script[1:]
		return r
	}

	var inputText string
	if len(req.Contents) > 0 {
		for _, p := range req.Contents[len(req.Contents)-1].Parts {
			if tp, ok := p.(core.TextPart); ok {
				inputText += tp.Text
			}
		}
	}
	if full, ok := m.responses[inputText]; ok {
		return ReplyText(full)
	}
	return ReplyText(fmt.Sprintf("Mock response to: %s", inputText))
}

// Generate implements Model; emits optional streaming char chunks then the final response.
func (m *MockModel) Generate(ctx context.Context, req Request) (<-chan Response, <-chan error) {
	respCh := make(chan Response, 16)
	errCh := make(chan error, 1)

	reply := m.next(req)

	go func() {
		defer close(respCh)
		defer close(errCh)

		if reply.Err != nil {
			errCh <- reply.Err
			return
		}

		if req.Stream {
			for _, r := range reply.Text {
				select {
				case <-ctx.Done():
					errCh <- ctx.Err()
					return
				case respCh <- Response{
					Partial: true,
					Content: core.Content{
						Role:  core.RoleAssistant,
						Parts: []core.Part{core.TextPart{Text: string(r)}},
					},
				}:
				}
			}
		}

		parts := make([]core.Part, 0, len(reply.ToolCalls)+1)
		if reply.Text != "" {
			parts = append(parts, core.TextPart{Text: reply.Text})
		}
		finish := "stop"
		for i, fc := range reply.ToolCalls {
			if fc.ID == "" {
				fc.ID = fmt.Sprintf("call_%d_%s", i, core.NewID())
			}
			parts = append(parts, core.FunctionCallPart{FunctionCall: fc})
			finish = "tool_calls"
		}

		select {
		case <-ctx.Done():
			errCh <- ctx.Err()
		case respCh <- Response{
			Content:      core.Content{Role: core.RoleAssistant, Parts: parts},
			FinishReason: finish,
		}:
		}
	}()
	return respCh, errCh
}

// Info implements Model interface.
func (m *MockModel) Info() Info { return m.info }
