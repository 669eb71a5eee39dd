package group

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/hupe1980/groupmesh/agent"
	"github.com/hupe1980/groupmesh/condition"
	"github.com/hupe1980/groupmesh/core"
	"github.com/hupe1980/groupmesh/executor"
	"github.com/hupe1980/groupmesh/handoff"
	"github.com/hupe1980/groupmesh/internal/testutil"
	"github.com/hupe1980/groupmesh/model"
	"github.com/hupe1980/groupmesh/target"
	"github.com/hupe1980/groupmesh/tool"
)

type recorderSpy struct {
	mu           sync.Mutex
	steps        []string
	handoffs     []string
	terminations []string
}

func (r *recorderSpy) RoundCompleted(string, time.Duration) {}

func (r *recorderSpy) SpeakerSelected(step string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.steps = append(r.steps, step)
}

func (r *recorderSpy) Handoff(kind string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handoffs = append(r.handoffs, kind)
}

func (r *recorderSpy) ToolCall(string, bool, time.Duration) {}

func (r *recorderSpy) Terminated(reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.terminations = append(r.terminations, reason)
}

func seed(text string) []core.Message {
	return []core.Message{core.NewUserMessage("", text)}
}

func speakers(msgs []core.Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.Name
	}
	return out
}

func TestSession_ReasoningTransfer(t *testing.T) {
	triage := testutil.NewScriptedAgent("triage").ThenCall("transfer_to_billing_1", "{}")
	triage.Handoffs().AddReasoningCondition(
		handoff.NewReasoningRule(target.ToName("billing"), condition.StringPrompt{Text: "Billing questions"}),
	)
	billing := testutil.NewScriptedAgent("billing", "invoice sent")

	spy := &recorderSpy{}
	res, err := Run(context.Background(), triage, []agent.Agent{triage, billing}, seed("my bill is wrong"),
		func(o *Options) { o.Metrics = spy },
	)
	require.NoError(t, err)

	assert.Equal(t, ReasonTerminated, res.Reason)
	assert.Equal(t, 3, res.Rounds)
	assert.Equal(t, "billing", res.LastSpeaker)
	assert.Equal(t, []string{"", "triage", executor.Name, "billing"}, speakers(res.Messages))
	assert.Equal(t, "invoice sent", res.Messages[3].Text())

	// The transfer call and its result are hidden from billing.
	turns := billing.Turns()
	require.Len(t, turns, 1)
	require.Len(t, turns[0].Messages, 1)
	assert.Equal(t, "my bill is wrong", turns[0].Messages[0].Text())

	// The rule's prompt is the transfer action's description.
	actions := triage.Turns()[0].Actions
	require.Len(t, actions, 1)
	assert.Equal(t, "Billing questions", actions[0].Description())

	assert.Equal(t, []string{"initial", "tool_call", "override", "after_work"}, spy.steps)
	assert.Equal(t, []string{"participant_name"}, spy.handoffs)
	assert.Equal(t, []string{ReasonTerminated}, spy.terminations)
}

func TestSession_ScenarioA_ContextConditionOverTerminate(t *testing.T) {
	triage := testutil.NewScriptedAgent("triage", "should not be said")
	triage.Handoffs().AddContextCondition(
		handoff.NewContextRule(target.ToName("billing"), condition.Named("escalate")),
	)
	billing := testutil.NewScriptedAgent("billing", "taking over")

	res, err := Run(context.Background(), triage, []agent.Agent{triage, billing}, seed("help"),
		func(o *Options) {
			o.ContextVariables = map[string]any{"escalate": true}
			o.AfterWork = handoff.NewAfterWork(target.ToPolicy(target.Terminate))
		},
	)
	require.NoError(t, err)

	require.Len(t, res.Messages, 3)
	assert.Equal(t, "[Handing off to billing]", res.Messages[1].Text())
	assert.Equal(t, "taking over", res.Messages[2].Text())
	assert.Empty(t, triage.Turns(), "triage never generates when a context rule fires")
}

func TestSession_ScenarioB_StayUntilBudget(t *testing.T) {
	triage := testutil.NewScriptedAgent("triage")
	require.NoError(t, triage.Handoffs().SetAfterWork(handoff.NewAfterWork(target.ToPolicy(target.Stay))))

	res, err := Run(context.Background(), triage, []agent.Agent{triage}, seed("loop"),
		func(o *Options) { o.MaxRounds = 3 },
	)
	require.NoError(t, err)

	assert.Equal(t, ReasonMaxRounds, res.Reason)
	assert.Equal(t, 3, res.Rounds)
	assert.Len(t, triage.Turns(), 3)
}

func TestSession_ScenarioD_NestedChat(t *testing.T) {
	summarizer := agent.NewFuncAgent("summarizer", func(_ context.Context, turn *agent.Turn) (core.Message, error) {
		return core.NewTextMessage("summarizer", "summary of: "+turn.Messages[len(turn.Messages)-1].Text()), nil
	})
	chat := agent.NewNestedChat([]agent.NestedStep{{Recipient: summarizer, Message: "summarize the ticket"}})

	llm := model.NewMockModel("mock", "test").Script(
		model.ReplyCall("transfer_to_wrapped_nested_triage_1_1", "{}"),
		model.ReplyText("Here is what I found"),
	)
	triage := agent.NewModelAgent("triage", llm)
	triage.Handoffs().AddReasoningCondition(
		handoff.NewReasoningRule(target.ToNested(chat), condition.StringPrompt{Text: "Summarize"}),
	)
	billing := testutil.NewScriptedAgent("billing")

	s, err := NewSession(triage, []agent.Agent{triage, billing})
	require.NoError(t, err)

	wrappers := s.Wrappers()
	require.Len(t, wrappers, 1)
	assert.Equal(t, "wrapped_nested_triage_1", wrappers[0].Name())
	assert.True(t, s.Executor().HasTool("transfer_to_wrapped_nested_triage_1_1"))

	res, err := s.Run(context.Background(), seed("ticket 42")...)
	require.NoError(t, err)

	assert.Equal(t, []string{"", "triage", executor.Name, "wrapped_nested_triage_1", "triage"}, speakers(res.Messages))
	assert.Equal(t, "summary of: summarize the ticket", res.Messages[3].Text())
	assert.Equal(t, "Here is what I found", res.Messages[4].Text())
	assert.Equal(t, ReasonTerminated, res.Reason)
}

func TestSession_NestedChatAcrossSessions(t *testing.T) {
	summarizer := agent.NewFuncAgent("summarizer", func(_ context.Context, _ *agent.Turn) (core.Message, error) {
		return core.NewTextMessage("summarizer", "summary"), nil
	})
	chat := agent.NewNestedChat([]agent.NestedStep{{Recipient: summarizer, Message: "summarize"}})

	triage := agent.NewFuncAgent("triage", func(_ context.Context, turn *agent.Turn) (core.Message, error) {
		if turn.Messages[len(turn.Messages)-1].Name == "wrapped_nested_triage_1" {
			return core.NewTextMessage("triage", "done"), nil
		}
		return testutil.NewMessageBuilder("triage").FunctionCall("c1", "transfer_to_wrapped_nested_triage_1_1", "{}").Build(), nil
	})
	triage.Handoffs().AddReasoningCondition(
		handoff.NewReasoningRule(target.ToNested(chat), condition.StringPrompt{Text: "Summarize"}),
	)
	billing := testutil.NewScriptedAgent("billing")

	for i := range 2 {
		s, err := NewSession(triage, []agent.Agent{triage, billing})
		require.NoError(t, err, "session %d", i+1)

		wrappers := s.Wrappers()
		require.Len(t, wrappers, 1)
		assert.Equal(t, "wrapped_nested_triage_1", wrappers[0].Name())
		assert.True(t, s.Executor().HasTool("transfer_to_wrapped_nested_triage_1_1"))

		res, err := s.Run(context.Background(), seed("ticket")...)
		require.NoError(t, err)
		assert.Equal(t, []string{"", "triage", executor.Name, "wrapped_nested_triage_1", "triage"}, speakers(res.Messages))
		assert.Equal(t, "summary", res.Messages[3].Text())
	}

	rule := triage.Handoffs().ReasoningConditions()[0]
	assert.Same(t, chat, rule.Nested.Chat)
}

func TestSession_ModelBudgetPerSession(t *testing.T) {
	llm := model.NewMockModel("mock", "test").Script(
		model.ReplyText("first"),
		model.ReplyText("second"),
	)
	triage := agent.NewModelAgent("triage", llm, func(o *agent.ModelAgentOptions) { o.MaxModelCalls = 1 })

	for i, want := range []string{"first", "second"} {
		s, err := NewSession(triage, []agent.Agent{triage}, func(o *Options) { o.SessionID = "shared" })
		require.NoError(t, err)
		assert.Equal(t, "shared", s.ID())

		res, err := s.Run(context.Background(), seed("hi")...)
		require.NoError(t, err)
		require.Len(t, res.Messages, 2, "session %d", i+1)
		assert.Equal(t, want, res.Messages[1].Text())
		assert.Empty(t, res.Messages[1].ErrorMessage)
	}
}

func TestSession_ScenarioE_MaxRounds(t *testing.T) {
	a := testutil.NewScriptedAgent("a")
	b := testutil.NewScriptedAgent("b")
	require.NoError(t, a.Handoffs().SetAfterWork(handoff.NewAfterWork(target.ToName("b"))))
	require.NoError(t, b.Handoffs().SetAfterWork(handoff.NewAfterWork(target.ToName("a"))))

	res, err := Run(context.Background(), a, []agent.Agent{a, b}, seed("ping"),
		func(o *Options) { o.MaxRounds = 3 },
	)
	require.NoError(t, err)

	assert.Equal(t, ReasonMaxRounds, res.Reason)
	assert.Equal(t, 3, res.Rounds)
	assert.Equal(t, []string{"", "a", "b", "a"}, speakers(res.Messages))
}

func TestSession_ReasoningFailureRecorded(t *testing.T) {
	llm := model.NewMockModel("mock", "test").Script(model.ReplyError(errors.New("rate limited")))
	triage := agent.NewModelAgent("triage", llm)

	res, err := Run(context.Background(), triage, []agent.Agent{triage}, seed("hi"))
	require.NoError(t, err)

	require.Len(t, res.Messages, 2)
	failed := res.Messages[1]
	assert.Equal(t, "triage", failed.Name)
	assert.Contains(t, failed.ErrorMessage, "rate limited")
	assert.True(t, strings.HasPrefix(failed.Text(), "Error: "))
	assert.Equal(t, ReasonTerminated, res.Reason)
}

func TestSession_ActionListRebuiltEachTurn(t *testing.T) {
	triage := testutil.NewScriptedAgent("triage").ThenCall("mark_vip", "{}")
	triage.Then(func(*agent.Turn) core.Message { return core.NewTextMessage("triage", "noted") })
	triage.RegisterTools(tool.NewFunctionTool("mark_vip", "Mark the customer as VIP", nil,
		func(tc *tool.Context, _ map[string]any) (any, error) {
			tc.Store().Set("vip", true)
			return "ok", nil
		},
	))
	triage.Handoffs().AddReasoningCondition(
		handoff.NewReasoningRule(target.ToName("billing"), condition.StringPrompt{Text: "VIP billing"}).
			WithAvailable(condition.NamedGate{Variable: "vip"}),
	)
	billing := testutil.NewScriptedAgent("billing")

	res, err := Run(context.Background(), triage, []agent.Agent{triage, billing}, seed("hello"))
	require.NoError(t, err)

	assert.Equal(t, [][]string{
		{"mark_vip"},
		{"mark_vip", "transfer_to_billing_1"},
	}, triage.ActionNames())
	assert.Equal(t, true, res.Context["vip"])
}

func TestSession_AutoSelection(t *testing.T) {
	triage := testutil.NewScriptedAgent("triage", "who can help?")
	billing := testutil.NewScriptedAgent("billing", "me")
	require.NoError(t, billing.Handoffs().SetAfterWork(handoff.NewAfterWork(target.ToPolicy(target.Terminate))))
	billing.SetDescription("Handles invoices")

	selector := model.NewMockModel("selector", "test").Script(model.ReplyText("billing"))

	res, err := Run(context.Background(), triage, []agent.Agent{triage, billing}, seed("refund"),
		func(o *Options) {
			o.AfterWork = handoff.NewAfterWork(target.ToPolicy(target.AutoSelect))
			o.SelectorModel = selector
		},
	)
	require.NoError(t, err)
	assert.Equal(t, []string{"", "triage", "billing"}, speakers(res.Messages))

	req, ok := selector.LastRequest()
	require.True(t, ok)
	assert.Contains(t, req.Instructions, "billing: Handles invoices")
	assert.Contains(t, req.Instructions, "['triage', 'billing']")

	last := req.Contents[len(req.Contents)-1]
	assert.Equal(t, core.RoleUser, last.Role)
	assert.Equal(t, core.TextPart{Text: "Read the above conversation. Then select the next role from ['triage', 'billing'] to play. Only return the role."}, last.Parts[0])
}

func TestSession_AutoSelectionFallback(t *testing.T) {
	triage := testutil.NewScriptedAgent("triage", "who can help?")
	billing := testutil.NewScriptedAgent("billing", "me")
	require.NoError(t, billing.Handoffs().SetAfterWork(handoff.NewAfterWork(target.ToPolicy(target.Terminate))))

	selector := model.NewMockModel("selector", "test").Script(model.ReplyText("nobody in particular"))

	res, err := Run(context.Background(), triage, []agent.Agent{triage, billing}, seed("refund"),
		func(o *Options) {
			o.AfterWork = handoff.NewAfterWork(target.ToPolicy(target.AutoSelect))
			o.SelectorModel = selector
		},
	)
	require.NoError(t, err)

	assert.Equal(t, []string{"", "triage", selectorName, "billing"}, speakers(res.Messages))
	assert.NotEmpty(t, res.Messages[2].ErrorMessage)
	assert.Equal(t, 2, res.Rounds)
}

func TestSession_InitiatorAttribution(t *testing.T) {
	user := testutil.NewScriptedAgent("customer")
	triage := testutil.NewScriptedAgent("triage", "hello")

	res, err := Run(context.Background(), triage, []agent.Agent{triage}, seed("hi"),
		func(o *Options) { o.Initiator = user },
	)
	require.NoError(t, err)
	assert.Equal(t, []string{"customer", "triage"}, speakers(res.Messages))
}

func TestSession_UnknownLastSpeaker(t *testing.T) {
	triage := testutil.NewScriptedAgent("triage")

	s, err := NewSession(triage, []agent.Agent{triage})
	require.NoError(t, err)

	_, err = s.Run(context.Background(), core.NewUserMessage("stranger", "hi"))
	assert.ErrorIs(t, err, ErrInvalidConfig)
	assert.ErrorIs(t, err, core.ErrUnknownParticipant)
}

func TestSession_SingleUse(t *testing.T) {
	triage := testutil.NewScriptedAgent("triage")
	s, err := NewSession(triage, []agent.Agent{triage})
	require.NoError(t, err)

	_, err = s.Run(context.Background(), seed("one")...)
	require.NoError(t, err)
	_, err = s.Run(context.Background(), seed("two")...)
	assert.ErrorIs(t, err, ErrSessionUsed)
}

func TestSession_ContextCancelled(t *testing.T) {
	triage := testutil.NewScriptedAgent("triage")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := Run(ctx, triage, []agent.Agent{triage}, seed("hi"))
	assert.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, res)
	assert.Equal(t, 0, res.Rounds)
}

func TestSession_Spans(t *testing.T) {
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))

	triage := testutil.NewScriptedAgent("triage", "hi")
	_, err := Run(context.Background(), triage, []agent.Agent{triage}, seed("hello"),
		func(o *Options) { o.TracerProvider = tp },
	)
	require.NoError(t, err)

	var names []string
	for _, span := range sr.Ended() {
		names = append(names, span.Name())
	}
	assert.Equal(t, []string{"group.round", "group.run"}, names)
}

func TestSession_TransferNamesRoundTrip(t *testing.T) {
	chat := agent.NewNestedChat([]agent.NestedStep{{Recipient: testutil.NewScriptedAgent("helper"), Message: "go"}})

	triage := testutil.NewScriptedAgent("triage")
	triage.Handoffs().AddReasoningCondition(
		handoff.NewReasoningRule(target.ToName("billing"), condition.StringPrompt{Text: "a"}),
		handoff.NewReasoningRule(target.ToNested(chat), condition.StringPrompt{Text: "b"}),
		handoff.NewReasoningRule(target.ToPolicy(target.Terminate), condition.StringPrompt{Text: "c"}),
	)
	billing := testutil.NewScriptedAgent("billing")
	billing.Handoffs().AddReasoningCondition(
		handoff.NewReasoningRule(target.ToName("billing"), condition.StringPrompt{Text: "d"}),
	)

	s, err := NewSession(triage, []agent.Agent{triage, billing})
	require.NoError(t, err)

	for _, a := range []agent.Agent{triage, billing} {
		for _, rule := range a.Handoffs().ReasoningConditions() {
			impl, ok := s.Executor().Tool(rule.FunctionName)
			require.True(t, ok, rule.FunctionName)
			bound, ok := tool.IsTransfer(impl)
			require.True(t, ok)
			assert.True(t, target.Equal(rule.Target, bound), rule.FunctionName)
		}
	}

	names := make([]string, 0, 3)
	for _, rule := range triage.Handoffs().ReasoningConditions() {
		names = append(names, rule.FunctionName)
	}
	assert.Equal(t, []string{
		"transfer_to_billing_1",
		"transfer_to_wrapped_nested_triage_1_2",
		"transfer_to_after_work_option_terminate_3",
	}, names)
}

func TestNewSession_Validation(t *testing.T) {
	chat := agent.NewNestedChat([]agent.NestedStep{{Recipient: testutil.NewScriptedAgent("helper")}})

	tests := []struct {
		name  string
		setup func() (agent.Agent, []agent.Agent, []func(o *Options))
	}{
		{
			name: "nil initial",
			setup: func() (agent.Agent, []agent.Agent, []func(o *Options)) {
				return nil, []agent.Agent{testutil.NewScriptedAgent("a")}, nil
			},
		},
		{
			name: "initial not in group",
			setup: func() (agent.Agent, []agent.Agent, []func(o *Options)) {
				return testutil.NewScriptedAgent("x"), []agent.Agent{testutil.NewScriptedAgent("a")}, nil
			},
		},
		{
			name: "duplicate names",
			setup: func() (agent.Agent, []agent.Agent, []func(o *Options)) {
				a := testutil.NewScriptedAgent("a")
				return a, []agent.Agent{a, testutil.NewScriptedAgent("a")}, nil
			},
		},
		{
			name: "reserved name",
			setup: func() (agent.Agent, []agent.Agent, []func(o *Options)) {
				a := testutil.NewScriptedAgent(TempUserName)
				return a, []agent.Agent{a}, nil
			},
		},
		{
			name: "wrapper prefix",
			setup: func() (agent.Agent, []agent.Agent, []func(o *Options)) {
				a := testutil.NewScriptedAgent("wrapped_x")
				return a, []agent.Agent{a}, nil
			},
		},
		{
			name: "zero rounds",
			setup: func() (agent.Agent, []agent.Agent, []func(o *Options)) {
				a := testutil.NewScriptedAgent("a")
				return a, []agent.Agent{a}, []func(o *Options){func(o *Options) { o.MaxRounds = 0 }}
			},
		},
		{
			name: "target outside group",
			setup: func() (agent.Agent, []agent.Agent, []func(o *Options)) {
				a := testutil.NewScriptedAgent("a")
				a.Handoffs().AddContextCondition(handoff.NewContextRule(target.ToName("ghost"), condition.Named("x")))
				return a, []agent.Agent{a}, nil
			},
		},
		{
			name: "revert without initiator",
			setup: func() (agent.Agent, []agent.Agent, []func(o *Options)) {
				a := testutil.NewScriptedAgent("a")
				_ = a.Handoffs().SetAfterWork(handoff.NewAfterWork(target.ToPolicy(target.RevertToInitiator)))
				return a, []agent.Agent{a}, nil
			},
		},
		{
			name: "auto selection without selector",
			setup: func() (agent.Agent, []agent.Agent, []func(o *Options)) {
				a := testutil.NewScriptedAgent("a")
				return a, []agent.Agent{a}, []func(o *Options){func(o *Options) {
					o.AfterWork = handoff.NewAfterWork(target.ToPolicy(target.AutoSelect))
				}}
			},
		},
		{
			name: "compound fallback",
			setup: func() (agent.Agent, []agent.Agent, []func(o *Options)) {
				a := testutil.NewScriptedAgent("a")
				_ = a.Handoffs().SetAfterWork(handoff.NewAfterWork(target.ToNested(chat)))
				return a, []agent.Agent{a}, nil
			},
		},
		{
			name: "initiator target outside group",
			setup: func() (agent.Agent, []agent.Agent, []func(o *Options)) {
				a := testutil.NewScriptedAgent("a")
				customer := testutil.NewScriptedAgent("customer")
				customer.Handoffs().AddContextCondition(handoff.NewContextRule(target.ToName("ghost"), condition.Named("go")))
				return a, []agent.Agent{a}, []func(o *Options){func(o *Options) { o.Initiator = customer }}
			},
		},
		{
			name: "initiator nested target",
			setup: func() (agent.Agent, []agent.Agent, []func(o *Options)) {
				a := testutil.NewScriptedAgent("a")
				customer := testutil.NewScriptedAgent("customer")
				customer.Handoffs().AddContextCondition(handoff.NewContextRule(target.ToNested(chat), condition.Named("go")))
				return a, []agent.Agent{a}, []func(o *Options){func(o *Options) { o.Initiator = customer }}
			},
		},
		{
			name: "handcrafted wrapper target",
			setup: func() (agent.Agent, []agent.Agent, []func(o *Options)) {
				a := testutil.NewScriptedAgent("a")
				a.Handoffs().AddReasoningCondition(handoff.NewReasoningRule(target.ToName("wrapped_nested_a_1"), condition.StringPrompt{Text: "p"}))
				return a, []agent.Agent{a}, nil
			},
		},
		{
			name: "initiator inside group",
			setup: func() (agent.Agent, []agent.Agent, []func(o *Options)) {
				a := testutil.NewScriptedAgent("a")
				return a, []agent.Agent{a}, []func(o *Options){func(o *Options) { o.Initiator = a }}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			initial, agents, opts := tt.setup()
			_, err := NewSession(initial, agents, opts...)
			assert.ErrorIs(t, err, ErrInvalidConfig)
		})
	}
}
