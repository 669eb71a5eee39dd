package agent

import (
	"context"
	"errors"

	"github.com/hupe1980/groupmesh/core"
)

// ReplyFunc produces a participant message for a turn.
type ReplyFunc func(ctx context.Context, turn *Turn) (core.Message, error)

// FuncAgentOptions configures a FuncAgent.
type FuncAgentOptions struct {
	Description string
}

// FuncAgent is a participant whose turn is an ordinary function. It adapts
// humans, scripted test participants and deterministic bots to the Agent
// contract.
type FuncAgent struct {
	BaseAgent
	fn ReplyFunc
}

// NewFuncAgent creates a function-backed agent. Messages returned without a
// name are attributed to the agent.
func NewFuncAgent(name string, fn ReplyFunc, optFns ...func(o *FuncAgentOptions)) *FuncAgent {
	opts := FuncAgentOptions{}
	for _, optFn := range optFns {
		optFn(&opts)
	}

	a := &FuncAgent{BaseAgent: NewBaseAgent(name), fn: fn}
	if opts.Description != "" {
		a.SetDescription(opts.Description)
	}

	return a
}

// Generate implements Agent.
func (a *FuncAgent) Generate(ctx context.Context, turn *Turn) (core.Message, error) {
	if a.fn == nil {
		return core.Message{}, errors.New("func agent has no reply function")
	}
	msg, err := a.fn(ctx, turn)
	if err != nil {
		return core.Message{}, err
	}
	if msg.Name == "" {
		msg.Name = a.Name()
	}
	return msg, nil
}
