package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/hupe1980/groupmesh/core"
	"github.com/hupe1980/groupmesh/logging"
	"github.com/hupe1980/groupmesh/model"
	"github.com/hupe1980/groupmesh/tool"
)

// ModelAgentOptions configures a ModelAgent instance.
//
// Use functional options with NewModelAgent to override defaults.
type ModelAgentOptions struct {
	Description     string
	Instruction     Instruction
	Tools           []tool.Tool
	EnableStreaming bool
	// MaxModelCalls bounds reasoning-engine calls per session. Zero means
	// unlimited.
	MaxModelCalls int
	// MaxHistoryMessages keeps only the most recent messages. Zero keeps all.
	MaxHistoryMessages int
	Logger             logging.Logger
}

// ModelAgent is a reasoning-engine backed group participant.
//
// Every turn it:
//   - renders its instruction with the shared context store
//   - converts the visible history to model contents from its own point of view
//   - exposes the turn's actions (own tools plus open transfer actions) as tool definitions
//   - returns the engine's reply (text and/or function calls) as its message
//
// Engine failures are wrapped with core.ErrModelResponse so the group records
// them and continues.
type ModelAgent struct {
	BaseAgent
	llm                model.Model
	instruction        Instruction
	enableStreaming    bool
	maxHistoryMessages int
	limiter            *core.ModelLimiter
	logger             logging.Logger
}

// NewModelAgent creates a model-based agent.
func NewModelAgent(name string, llm model.Model, optFns ...func(o *ModelAgentOptions)) *ModelAgent {
	opts := ModelAgentOptions{
		Instruction: NewInstructionFromText(fmt.Sprintf("You are %s, a helpful AI assistant.", name)),
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	a := &ModelAgent{
		BaseAgent:          NewBaseAgent(name),
		llm:                llm,
		instruction:        opts.Instruction,
		enableStreaming:    opts.EnableStreaming,
		maxHistoryMessages: opts.MaxHistoryMessages,
		logger:             logging.OrNoOp(opts.Logger),
	}
	if opts.Description != "" {
		a.SetDescription(opts.Description)
	}
	if opts.MaxModelCalls > 0 {
		a.limiter = core.NewModelLimiter(opts.MaxModelCalls)
	}
	a.RegisterTools(opts.Tools...)

	return a
}

// Model returns the reasoning engine.
func (a *ModelAgent) Model() model.Model { return a.llm }

// ReleaseSession drops the call budget of a finished session.
func (a *ModelAgent) ReleaseSession(sessionID string) {
	if a.limiter != nil {
		a.limiter.Reset(sessionID)
	}
}

// Generate implements Agent.
func (a *ModelAgent) Generate(ctx context.Context, turn *Turn) (core.Message, error) {
	if a.limiter != nil {
		if err := a.limiter.Increment(turn.SessionID); err != nil {
			return core.Message{}, fmt.Errorf("%w: %s: %w", core.ErrModelResponse, a.Name(), err)
		}
	}

	instructions, err := a.instruction.Resolve(turn.Context)
	if err != nil {
		return core.Message{}, fmt.Errorf("resolve instruction for %s: %w", a.Name(), err)
	}

	actions := turn.Actions
	if actions == nil {
		actions = a.Tools()
	}

	history := turn.Messages
	if a.maxHistoryMessages > 0 && len(history) > a.maxHistoryMessages {
		history = history[len(history)-a.maxHistoryMessages:]
	}

	req := model.Request{
		Instructions: instructions,
		Contents:     BuildContents(a.Name(), history),
		Tools:        ToolDefinitions(actions),
		Stream:       a.enableStreaming,
	}

	start := time.Now()
	resp, err := model.Collect(ctx, a.llm, req)
	dur := time.Since(start)
	if err != nil {
		if ctx.Err() != nil {
			return core.Message{}, ctx.Err()
		}
		a.logger.Warn("agent.model.call", "agent", a.Name(), "model", a.llm.Info().Name, "duration_ms", dur.Milliseconds(), "error", err.Error())
		return core.Message{}, fmt.Errorf("%w: %s: %w", core.ErrModelResponse, a.Name(), err)
	}

	a.logger.Debug("agent.model.call", "agent", a.Name(), "model", a.llm.Info().Name, "duration_ms", dur.Milliseconds(), "finish_reason", resp.FinishReason)

	return core.NewMessage(a.Name(), core.RoleAssistant, resp.Content.Parts...), nil
}

// ToolDefinitions converts actions to model tool definitions.
func ToolDefinitions(actions []tool.Tool) []model.ToolDefinition {
	if len(actions) == 0 {
		return nil
	}
	defs := make([]model.ToolDefinition, 0, len(actions))
	for _, t := range actions {
		defs = append(defs, model.NewToolDefinition(t.Name(), t.Description(), t.Parameters()))
	}
	return defs
}

// BuildContents converts the group history into model contents as seen by
// self: its own messages are assistant turns, responses to its own calls are
// tool results, and everything other participants said or did becomes user
// text attributed to the speaker.
func BuildContents(self string, msgs []core.Message) []core.Content {
	ownCalls := map[string]bool{}
	contents := make([]core.Content, 0, len(msgs))

	for _, m := range msgs {
		switch {
		case m.Role() == core.RoleSystem:
			contents = append(contents, m.Content)

		case m.Name == self && m.Role() != core.RoleTool:
			for _, fc := range m.FunctionCalls() {
				ownCalls[fc.ID] = true
			}
			contents = append(contents, core.Content{Role: core.RoleAssistant, Parts: m.Content.Parts})

		case m.Role() == core.RoleTool:
			var own []core.Part
			var foreign []string
			for _, fr := range m.FunctionResponses() {
				if ownCalls[fr.ID] {
					own = append(own, core.FunctionResponsePart{FunctionResponse: fr})
					continue
				}
				foreign = append(foreign, describeResponse(fr))
			}
			if len(own) > 0 {
				contents = append(contents, core.Content{Role: core.RoleTool, Parts: own})
			}
			if len(foreign) > 0 {
				contents = append(contents, userText(m.Name, strings.Join(foreign, "\n")))
			}

		default:
			var lines []string
			if m.HasText() {
				lines = append(lines, m.Text())
			}
			for _, fc := range m.FunctionCalls() {
				lines = append(lines, fmt.Sprintf("called %s(%s)", fc.Name, fc.Arguments))
			}
			if len(lines) > 0 {
				contents = append(contents, userText(m.Name, strings.Join(lines, "\n")))
			}
		}
	}
	return contents
}

func userText(name, text string) core.Content {
	if name != "" {
		text = name + ": " + text
	}
	return core.Content{Role: core.RoleUser, Parts: []core.Part{core.TextPart{Text: text}}}
}

func describeResponse(fr core.FunctionResponse) string {
	if fr.Error != "" {
		return fmt.Sprintf("%s failed: %s", fr.Name, fr.Error)
	}
	switch v := fr.Response.(type) {
	case string:
		return fmt.Sprintf("%s returned: %s", fr.Name, v)
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%s returned: %v", fr.Name, v)
		}
		return fmt.Sprintf("%s returned: %s", fr.Name, b)
	}
}
