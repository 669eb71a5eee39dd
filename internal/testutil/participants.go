package testutil

import (
	"context"
	"sync"

	"github.com/hupe1980/groupmesh/agent"
	"github.com/hupe1980/groupmesh/core"
	"github.com/hupe1980/groupmesh/tool"
)

// ScriptedAgent replies with a fixed sequence of messages and records every
// turn it was given. Once the script is exhausted it repeats "done".
type ScriptedAgent struct {
	*agent.FuncAgent

	mu      sync.Mutex
	replies []func(turn *agent.Turn) core.Message
	turns   []agent.Turn
}

// NewScriptedAgent creates a scripted participant replying with texts.
func NewScriptedAgent(name string, texts ...string) *ScriptedAgent {
	s := &ScriptedAgent{}
	for _, t := range texts {
		s.Then(func(*agent.Turn) core.Message { return core.NewTextMessage(name, t) })
	}
	s.FuncAgent = agent.NewFuncAgent(name, s.reply)
	return s
}

// Then appends a reply computed from the turn (chainable).
func (s *ScriptedAgent) Then(fn func(turn *agent.Turn) core.Message) *ScriptedAgent {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.replies = append(s.replies, fn)
	return s
}

// ThenCall appends a reply invoking the named action (chainable).
func (s *ScriptedAgent) ThenCall(action, args string) *ScriptedAgent {
	return s.Then(func(*agent.Turn) core.Message {
		return core.NewFunctionCallMessage(s.Name(), core.FunctionCall{Name: action, Arguments: args})
	})
}

// Turns returns a copy of the recorded turns.
func (s *ScriptedAgent) Turns() []agent.Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]agent.Turn(nil), s.turns...)
}

// ActionNames returns the action names exposed in each recorded turn.
func (s *ScriptedAgent) ActionNames() [][]string {
	turns := s.Turns()
	out := make([][]string, len(turns))
	for i, t := range turns {
		out[i] = tool.Names(t.Actions)
	}
	return out
}

func (s *ScriptedAgent) reply(_ context.Context, turn *agent.Turn) (core.Message, error) {
	s.mu.Lock()
	s.turns = append(s.turns, *turn)
	var next func(*agent.Turn) core.Message
	if len(s.replies) > 0 {
		next = s.replies[0]
		s.replies = s.replies[1:]
	}
	s.mu.Unlock()

	if next == nil {
		return core.NewTextMessage(s.Name(), "done"), nil
	}
	return next(turn), nil
}
