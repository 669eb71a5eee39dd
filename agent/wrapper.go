package agent

import (
	"context"
	"fmt"

	"github.com/hupe1980/groupmesh/core"
	"github.com/hupe1980/groupmesh/handoff"
	"github.com/hupe1980/groupmesh/target"
)

// WrapperPrefix starts the name of every synthetic wrapper participant.
const WrapperPrefix = "wrapped_"

// WrapperName returns the name of the n-th (1-based) wrapper created for parent.
func WrapperName(parent string, n int) string {
	return fmt.Sprintf("%snested_%s_%d", WrapperPrefix, parent, n)
}

// WrapperAgent is a synthetic participant standing in for a compound
// transition target. Its turn runs the nested conversation and reports the
// outcome; its fallback always returns control to the parent.
type WrapperAgent struct {
	BaseAgent
	parent string
	chat   core.NestedConversation
}

// NewWrapperAgent creates a wrapper for a nested conversation declared by parent.
func NewWrapperAgent(name string, parent core.Participant, chat core.NestedConversation) *WrapperAgent {
	w := &WrapperAgent{BaseAgent: NewBaseAgent(name), parent: parent.Name(), chat: chat}
	w.SetDescription(fmt.Sprintf("Nested chat on behalf of %s", parent.Name()))
	// A fresh rule set accepts exactly one fallback.
	_ = w.Handoffs().SetAfterWork(handoff.NewAfterWork(target.ToParticipant(parent)))

	return w
}

// Parent returns the name of the participant that declared the nested chat.
func (w *WrapperAgent) Parent() string { return w.parent }

// Chat returns the wrapped nested conversation.
func (w *WrapperAgent) Chat() core.NestedConversation { return w.chat }

// ReleaseSession forwards to the nested chat when it keeps per-session state.
func (w *WrapperAgent) ReleaseSession(sessionID string) {
	if r, ok := w.chat.(SessionReleaser); ok {
		r.ReleaseSession(sessionID)
	}
}

// Generate implements Agent.
func (w *WrapperAgent) Generate(ctx context.Context, turn *Turn) (core.Message, error) {
	summary, err := w.chat.RunNested(ctx, core.NestedRequest{
		Parent:    w.parent,
		Messages:  turn.Messages,
		Context:   turn.Context,
		SessionID: turn.SessionID,
	})
	if err != nil {
		if ctx.Err() != nil {
			return core.Message{}, ctx.Err()
		}
		return core.Message{}, fmt.Errorf("%w: %s: %w", core.ErrModelResponse, w.Name(), err)
	}

	return core.NewTextMessage(w.Name(), summary), nil
}
