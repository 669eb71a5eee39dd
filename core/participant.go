package core

import "context"

// Participant is any member of a group conversation that can be selected to
// speak: reasoning-engine backed agents, the tool executor, wrapper
// participants and the human initiator.
type Participant interface {
	Name() string
	Description() string
}

// NestedRequest is the input handed to a NestedConversation when the wrapper
// participant that owns it takes its turn.
type NestedRequest struct {
	// Parent is the participant that declared the compound handoff.
	Parent string
	// Messages is the group transcript at the time of the turn.
	Messages []Message
	// Context is the shared store of the enclosing session.
	Context *ContextStore
	// SessionID identifies the enclosing session.
	SessionID string
}

// NestedConversation is the opaque payload held by a compound target.
// It runs a complete sub-dialogue and reports its outcome as text.
type NestedConversation interface {
	RunNested(ctx context.Context, req NestedRequest) (string, error)
}
