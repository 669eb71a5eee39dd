package groupmesh

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/groupmesh/agent"
	"github.com/hupe1980/groupmesh/condition"
	"github.com/hupe1980/groupmesh/core"
	"github.com/hupe1980/groupmesh/group"
	"github.com/hupe1980/groupmesh/handoff"
	"github.com/hupe1980/groupmesh/internal/testutil"
	"github.com/hupe1980/groupmesh/logging"
	"github.com/hupe1980/groupmesh/session"
	"github.com/hupe1980/groupmesh/target"
)

func TestMesh_RunSavesSession(t *testing.T) {
	m := New(func(o *Options) { o.MaxConcurrentRuns = 2 })
	triage := testutil.NewScriptedAgent("triage", "hello there")

	rec, err := m.Run(context.Background(), "s1", triage, []agent.Agent{triage},
		[]core.Message{core.NewUserMessage("", "hi")})
	require.NoError(t, err)
	assert.Equal(t, "s1", rec.ID)
	assert.Equal(t, group.ReasonTerminated, rec.Reason)

	got, err := m.Get(context.Background(), "s1")
	require.NoError(t, err)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, "hello there", got.Messages[1].Text())

	ids, err := m.Sessions(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"s1"}, ids)
}

func TestMesh_RunOptionsApply(t *testing.T) {
	m := New()
	triage := testutil.NewScriptedAgent("triage")

	rec, err := m.Run(context.Background(), "", triage, []agent.Agent{triage},
		[]core.Message{core.NewUserMessage("", "hi")},
		func(o *group.Options) { o.ContextVariables = map[string]any{"lang": "de"} },
	)
	require.NoError(t, err)
	assert.NotEmpty(t, rec.ID)
	assert.Equal(t, "de", rec.Context["lang"])
}

func TestMesh_InvalidGroupNotSaved(t *testing.T) {
	store := session.NewInMemoryStore()
	m := New(func(o *Options) { o.SessionStore = store })

	_, err := m.Run(context.Background(), "bad", nil, nil, []core.Message{core.NewUserMessage("", "hi")})
	assert.ErrorIs(t, err, group.ErrInvalidConfig)

	_, err = m.Get(context.Background(), "bad")
	assert.ErrorIs(t, err, session.ErrNotFound)
}

func TestMesh_AbortedRunIsSaved(t *testing.T) {
	m := New()
	triage := testutil.NewScriptedAgent("triage")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// The semaphore is not configured, so the cancelled context reaches the session.
	rec, err := m.Run(ctx, "s2", triage, []agent.Agent{triage}, []core.Message{core.NewUserMessage("", "hi")})
	assert.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, rec)
	assert.Len(t, rec.Messages, 1)
}

func TestMesh_LoggerCarriesSessionID(t *testing.T) {
	var buf bytes.Buffer
	logger := logging.NewLogger(&logging.LoggerConfig{Level: logging.LogLevelInfo, Format: "text", Output: &buf})
	m := New(func(o *Options) { o.Logger = logger })
	triage := testutil.NewScriptedAgent("triage", "ok")

	_, err := m.Run(context.Background(), "s-42", triage, []agent.Agent{triage},
		[]core.Message{core.NewUserMessage("", "hi")})
	require.NoError(t, err)

	assert.Contains(t, buf.String(), "msg=group.terminated")
	assert.Contains(t, buf.String(), "session_id=s-42")
}

func TestMesh_RunNestedChatTwice(t *testing.T) {
	researcher := agent.NewFuncAgent("researcher", func(context.Context, *agent.Turn) (core.Message, error) {
		return core.NewTextMessage("researcher", "findings"), nil
	})
	chat := agent.NewNestedChat([]agent.NestedStep{{Recipient: researcher, Message: "research"}})

	triage := agent.NewFuncAgent("triage", func(_ context.Context, turn *agent.Turn) (core.Message, error) {
		if turn.Messages[len(turn.Messages)-1].Name == "wrapped_nested_triage_1" {
			return core.NewTextMessage("triage", "answered"), nil
		}
		return testutil.NewMessageBuilder("triage").FunctionCall("c1", "transfer_to_wrapped_nested_triage_1_1", "{}").Build(), nil
	})
	triage.Handoffs().AddReasoningCondition(
		handoff.NewReasoningRule(target.ToNested(chat), condition.StringPrompt{Text: "Research"}),
	)

	m := New()
	for _, id := range []string{"first", "second"} {
		rec, err := m.Run(context.Background(), id, triage, []agent.Agent{triage},
			[]core.Message{core.NewUserMessage("", "question")})
		require.NoError(t, err, id)
		require.Len(t, rec.Messages, 5)
		assert.Equal(t, "findings", rec.Messages[3].Text())
		assert.Equal(t, "answered", rec.Messages[4].Text())
	}

	ids, err := m.Sessions(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"first", "second"}, ids)
}
