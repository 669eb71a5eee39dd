package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/groupmesh/condition"
	"github.com/hupe1980/groupmesh/core"
	"github.com/hupe1980/groupmesh/group"
	"github.com/hupe1980/groupmesh/handoff"
	"github.com/hupe1980/groupmesh/internal/testutil"
	"github.com/hupe1980/groupmesh/target"
)

const sample = `
max_rounds: 8
exclude_transit_message: false
tool_parallelism: 4
after_work:
  policy: auto_select
  context_selection_message: "Topic {topic}. Pick one of {agentlist}."
context_variables:
  topic: refunds
logging:
  level: debug
  format: text
agents:
  triage:
    context_conditions:
      - agent: billing
        expression: "${amount} > 100"
        available:
          variable: verified
    reasoning_conditions:
      - agent: billing
        prompt: Billing questions
      - policy: terminate
        context_prompt: "End the chat for {customer}"
    after_work:
      policy: revert_to_initiator
  billing:
    after_work:
      agent: triage
`

func TestParse(t *testing.T) {
	cfg, err := Parse([]byte(sample))
	require.NoError(t, err)

	assert.Equal(t, 8, cfg.MaxRounds)
	require.NotNil(t, cfg.ExcludeTransitMessage)
	assert.False(t, *cfg.ExcludeTransitMessage)
	assert.Equal(t, 4, cfg.ToolParallelism)
	assert.Equal(t, "refunds", cfg.ContextVariables["topic"])
	assert.Equal(t, LoggingConfig{Level: "debug", Format: "text"}, cfg.Logging)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr, "defaults survive")
	require.Len(t, cfg.Agents, 2)
}

func TestParse_Empty(t *testing.T) {
	cfg, err := Parse(nil)
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestParse_EnvOverride(t *testing.T) {
	t.Setenv("GROUPMESH_MAX_ROUNDS", "3")
	t.Setenv("GROUPMESH_REDIS_ADDR", "redis:6380")

	cfg, err := Parse([]byte(sample))
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.MaxRounds)
	assert.Equal(t, "redis:6380", cfg.Redis.Addr)

	t.Setenv("GROUPMESH_MAX_ROUNDS", "many")
	_, err = Parse([]byte(sample))
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"unknown key", "max_round: 3"},
		{"zero rounds", "max_rounds: 0"},
		{"bad level", "logging: {level: loud}"},
		{"bad format", "logging: {format: xml}"},
		{"unknown policy", "after_work: {policy: wander}"},
		{"agent and policy", "after_work: {agent: a, policy: stay}"},
		{"empty target", "after_work: {selection_message: hi}"},
		{"bad expression", "agents: {a: {context_conditions: [{agent: b, expression: '${x} >'}]}}"},
		{"no condition", "agents: {a: {context_conditions: [{agent: b}]}}"},
		{"no prompt", "agents: {a: {reasoning_conditions: [{agent: b}]}}"},
		{"empty gate", "agents: {a: {reasoning_conditions: [{agent: b, prompt: p, available: {}}]}}"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			assert.ErrorIs(t, err, ErrInvalid)
		})
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "group.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sample), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 8, cfg.MaxRounds)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestApplyHandoffs(t *testing.T) {
	cfg, err := Parse([]byte(sample))
	require.NoError(t, err)

	triage := testutil.NewScriptedAgent("triage")
	billing := testutil.NewScriptedAgent("billing")
	require.NoError(t, cfg.ApplyHandoffs(triage, billing))

	h := triage.Handoffs()
	require.Len(t, h.ContextConditions(), 1)
	ctxRule := h.ContextConditions()[0]
	assert.True(t, target.Equal(target.ToName("billing"), ctxRule.Target))
	assert.Equal(t, condition.NamedGate{Variable: "verified"}, ctxRule.Available)

	store := core.NewContextStore(map[string]any{"amount": 150})
	met, err := ctxRule.Condition.Evaluate(store)
	require.NoError(t, err)
	assert.True(t, met)

	require.Len(t, h.ReasoningConditions(), 2)
	store.Set("customer", "Ada")
	prompt, err := h.ReasoningConditions()[1].Condition.Prompt(store)
	require.NoError(t, err)
	assert.Equal(t, "End the chat for Ada", prompt)

	require.NotNil(t, h.AfterWork())
	assert.True(t, target.Equal(target.ToPolicy(target.RevertToInitiator), h.AfterWork().Target))

	// A second application collides with the fallbacks already set.
	assert.ErrorIs(t, cfg.ApplyHandoffs(triage, billing), handoff.ErrDuplicateAfterWork)
}

func TestApplyHandoffs_UnknownAgent(t *testing.T) {
	cfg, err := Parse([]byte(sample))
	require.NoError(t, err)

	err = cfg.ApplyHandoffs(testutil.NewScriptedAgent("triage"))
	assert.ErrorIs(t, err, ErrUnknownAgent)
}

func TestSessionOptions(t *testing.T) {
	cfg, err := Parse([]byte(sample))
	require.NoError(t, err)

	var opts group.Options
	opts.ExcludeTransitMessage = true
	cfg.SessionOptions()(&opts)

	assert.Equal(t, 8, opts.MaxRounds)
	assert.False(t, opts.ExcludeTransitMessage)
	assert.Equal(t, 4, opts.ToolParallelism)
	assert.Equal(t, "refunds", opts.ContextVariables["topic"])
	assert.NotNil(t, opts.Logger)

	require.NotNil(t, opts.AfterWork)
	assert.True(t, target.Equal(target.ToPolicy(target.AutoSelect), opts.AfterWork.Target))
	msg, err := opts.AfterWork.SelectionMessage.Message(core.NewContextStore(map[string]any{"topic": "refunds"}))
	require.NoError(t, err)
	assert.Equal(t, "Topic refunds. Pick one of {agentlist}.", msg)
}
