package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/hupe1980/groupmesh/core"
	"github.com/hupe1980/groupmesh/executor"
	"github.com/hupe1980/groupmesh/logging"
)

// ErrEmptyNestedChat is returned when a nested chat has no steps.
var ErrEmptyNestedChat = errors.New("nested chat has no steps")

// MessageFunc builds the opening message of a nested step from the enclosing
// conversation and the summaries of the steps run so far.
type MessageFunc func(req core.NestedRequest, carryover []string) (string, error)

// SummaryFunc reduces a finished step's transcript to its summary.
type SummaryFunc func(step []core.Message) string

// NestedStep is one sub-conversation of a NestedChat.
type NestedStep struct {
	// Recipient answers the step's message.
	Recipient Agent
	// Message is the static opening message. Ignored when MessageFunc is set.
	Message     string
	MessageFunc MessageFunc
	// MaxTurns bounds recipient generations within the step, tool round
	// trips included. Defaults to 1.
	MaxTurns int
	// Summary defaults to the text of the recipient's last reply.
	Summary SummaryFunc
}

// NestedChatOptions configures a NestedChat.
type NestedChatOptions struct {
	// Sender is the name the opening messages are attributed to. Defaults to
	// the parent participant of the request.
	Sender string
	// DisableCarryover stops appending earlier summaries to later messages.
	DisableCarryover bool
	Logger           logging.Logger
}

// NestedChat runs a fixed sequence of steps to completion and reports the
// final summary. It satisfies core.NestedConversation so it can be the
// payload of a compound transition target.
type NestedChat struct {
	steps []NestedStep
	opts  NestedChatOptions
}

// NewNestedChat creates a nested chat.
func NewNestedChat(steps []NestedStep, optFns ...func(o *NestedChatOptions)) *NestedChat {
	opts := NestedChatOptions{}
	for _, fn := range optFns {
		fn(&opts)
	}
	opts.Logger = logging.OrNoOp(opts.Logger)

	return &NestedChat{steps: steps, opts: opts}
}

// Steps returns a copy of the configured steps.
func (n *NestedChat) Steps() []NestedStep { return append([]NestedStep(nil), n.steps...) }

// RunNested implements core.NestedConversation.
func (n *NestedChat) RunNested(ctx context.Context, req core.NestedRequest) (string, error) {
	if len(n.steps) == 0 {
		return "", ErrEmptyNestedChat
	}

	sender := n.opts.Sender
	if sender == "" {
		sender = req.Parent
	}

	store := req.Context
	if store == nil {
		store = core.NewContextStore(nil)
	}

	var (
		carryover []string
		summary   string
	)
	for i, step := range n.steps {
		if step.Recipient == nil {
			return "", fmt.Errorf("nested step %d: no recipient", i+1)
		}

		opening, err := n.opening(step, req, carryover)
		if err != nil {
			return "", fmt.Errorf("nested step %d: %w", i+1, err)
		}

		transcript, err := n.runStep(ctx, step, sender, opening, store, req.SessionID)
		if err != nil {
			return "", fmt.Errorf("nested step %d (%s): %w", i+1, step.Recipient.Name(), err)
		}

		summary = summarize(step, transcript)
		carryover = append(carryover, summary)

		n.opts.Logger.Debug("agent.nested.step", "parent", req.Parent, "step", i+1, "recipient", step.Recipient.Name(), "messages", len(transcript))
	}

	return summary, nil
}

// ReleaseSession implements SessionReleaser for every step recipient.
func (n *NestedChat) ReleaseSession(sessionID string) {
	for _, step := range n.steps {
		if r, ok := step.Recipient.(SessionReleaser); ok {
			r.ReleaseSession(sessionID)
		}
	}
}

func (n *NestedChat) opening(step NestedStep, req core.NestedRequest, carryover []string) (string, error) {
	if step.MessageFunc != nil {
		return step.MessageFunc(req, carryover)
	}

	msg := step.Message
	if !n.opts.DisableCarryover && len(carryover) > 0 {
		msg += "\nContext:\n" + strings.Join(carryover, "\n")
	}
	return msg, nil
}

func (n *NestedChat) runStep(ctx context.Context, step NestedStep, sender, opening string, store *core.ContextStore, sessionID string) ([]core.Message, error) {
	maxTurns := step.MaxTurns
	if maxTurns < 1 {
		maxTurns = 1
	}

	recipient := step.Recipient
	exec := executor.New(store, func(o *executor.Options) { o.Logger = n.opts.Logger })
	if err := exec.Register(recipient.Tools()...); err != nil {
		return nil, err
	}

	transcript := []core.Message{core.NewUserMessage(sender, opening)}
	for turn := 0; turn < maxTurns; turn++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		reply, err := recipient.Generate(ctx, &Turn{
			Messages:  transcript,
			Actions:   recipient.Tools(),
			Context:   store,
			SessionID: sessionID,
		})
		if err != nil {
			return nil, err
		}
		transcript = append(transcript, reply)

		if !reply.HasFunctionCalls() {
			break
		}

		results, err := exec.Generate(ctx, transcript)
		if err != nil {
			return nil, err
		}
		transcript = append(transcript, results)
	}

	return transcript, nil
}

func summarize(step NestedStep, transcript []core.Message) string {
	if step.Summary != nil {
		return step.Summary(transcript)
	}
	for i := len(transcript) - 1; i >= 0; i-- {
		m := transcript[i]
		if m.Name == step.Recipient.Name() && m.Role() != core.RoleTool && m.HasText() {
			return m.Text()
		}
	}
	return ""
}
