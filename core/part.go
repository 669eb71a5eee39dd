package core

import (
	"encoding/json"
	"fmt"
)

// Roles used on Content.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
	RoleSystem    = "system"
)

// Part represents a polymorphic segment of role-based content. Concrete part
// types implement the unexported isPart marker enabling a closed set.
type Part interface{ isPart() }

// TextPart is a plain text content segment.
type TextPart struct {
	Text string
}

// isPart implements the Part interface for TextPart.
func (TextPart) isPart() {}

// DataPart is a structured data segment (e.g., JSON object map).
type DataPart struct {
	Data map[string]any
}

// isPart implements the Part interface for DataPart.
func (DataPart) isPart() {}

// FunctionCall describes a callable-action invocation request.
type FunctionCall struct {
	ID        string `json:"id,omitempty"`        // Stable id correlating the response
	Name      string `json:"name"`                // Action name
	Arguments string `json:"arguments,omitempty"` // Serialized JSON arguments
}

// FunctionCallPart wraps a FunctionCall as a content part.
type FunctionCallPart struct {
	FunctionCall FunctionCall
}

// isPart implements the Part interface for FunctionCallPart.
func (FunctionCallPart) isPart() {}

// FunctionResponse describes the outcome of a function call.
type FunctionResponse struct {
	ID       string `json:"id,omitempty"`       // Matches originating FunctionCall ID
	Name     string `json:"name"`               // Action name
	Response any    `json:"response,omitempty"` // Successful result (any shape)
	Error    string `json:"error,omitempty"`    // Populated on failure
}

// FunctionResponsePart wraps a FunctionResponse as a content part.
type FunctionResponsePart struct {
	FunctionResponse FunctionResponse
}

// isPart implements the Part interface for FunctionResponsePart.
func (FunctionResponsePart) isPart() {}

// Content holds role + ordered parts.
type Content struct {
	Role  string `json:"role,omitempty"` // user, assistant, tool, system
	Parts []Part `json:"parts"`
}

// partJSON is the tagged wire form of a Part.
type partJSON struct {
	Type             string            `json:"type"`
	Text             string            `json:"text,omitempty"`
	Data             map[string]any    `json:"data,omitempty"`
	FunctionCall     *FunctionCall     `json:"function_call,omitempty"`
	FunctionResponse *FunctionResponse `json:"function_response,omitempty"`
}

// MarshalJSON encodes parts with an explicit type tag so they can be decoded
// back into the closed Part set.
func (c Content) MarshalJSON() ([]byte, error) {
	parts := make([]partJSON, 0, len(c.Parts))
	for _, p := range c.Parts {
		switch v := p.(type) {
		case TextPart:
			parts = append(parts, partJSON{Type: "text", Text: v.Text})
		case DataPart:
			parts = append(parts, partJSON{Type: "data", Data: v.Data})
		case FunctionCallPart:
			fc := v.FunctionCall
			parts = append(parts, partJSON{Type: "function_call", FunctionCall: &fc})
		case FunctionResponsePart:
			fr := v.FunctionResponse
			parts = append(parts, partJSON{Type: "function_response", FunctionResponse: &fr})
		default:
			return nil, fmt.Errorf("unsupported part type %T", p)
		}
	}
	return json.Marshal(struct {
		Role  string     `json:"role,omitempty"`
		Parts []partJSON `json:"parts"`
	}{Role: c.Role, Parts: parts})
}

// UnmarshalJSON decodes the tagged wire form produced by MarshalJSON.
func (c *Content) UnmarshalJSON(b []byte) error {
	var raw struct {
		Role  string     `json:"role"`
		Parts []partJSON `json:"parts"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	c.Role = raw.Role
	c.Parts = make([]Part, 0, len(raw.Parts))
	for _, p := range raw.Parts {
		switch p.Type {
		case "text":
			c.Parts = append(c.Parts, TextPart{Text: p.Text})
		case "data":
			c.Parts = append(c.Parts, DataPart{Data: p.Data})
		case "function_call":
			if p.FunctionCall == nil {
				return fmt.Errorf("function_call part without payload")
			}
			c.Parts = append(c.Parts, FunctionCallPart{FunctionCall: *p.FunctionCall})
		case "function_response":
			if p.FunctionResponse == nil {
				return fmt.Errorf("function_response part without payload")
			}
			c.Parts = append(c.Parts, FunctionResponsePart{FunctionResponse: *p.FunctionResponse})
		default:
			return fmt.Errorf("unknown part type %q", p.Type)
		}
	}
	return nil
}
