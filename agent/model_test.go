package agent

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/groupmesh/core"
	"github.com/hupe1980/groupmesh/executor"
	"github.com/hupe1980/groupmesh/model"
	"github.com/hupe1980/groupmesh/target"
	"github.com/hupe1980/groupmesh/tool"
)

// MockModelImpl is a testify-backed model.
type MockModelImpl struct{ mock.Mock }

func (m *MockModelImpl) Generate(ctx context.Context, req model.Request) (<-chan model.Response, <-chan error) {
	args := m.Called(ctx, req)

	respCh := make(chan model.Response, 1)
	errCh := make(chan error, 1)
	if err := args.Error(1); err != nil {
		errCh <- err
	} else {
		respCh <- args.Get(0).(model.Response)
	}
	close(respCh)
	close(errCh)

	return respCh, errCh
}

func (m *MockModelImpl) Info() model.Info {
	args := m.Called()
	return args.Get(0).(model.Info)
}

func textResponse(text string) model.Response {
	return model.Response{
		Content:      core.Content{Role: core.RoleAssistant, Parts: []core.Part{core.TextPart{Text: text}}},
		FinishReason: "stop",
	}
}

func lookupTool() tool.Tool {
	return tool.NewFunctionTool("lookup", "looks things up", nil, func(*tool.Context, map[string]any) (any, error) {
		return "found", nil
	})
}

func TestModelAgent_New(t *testing.T) {
	llm := model.NewMockModel("mock", "test")
	a := NewModelAgent("triage", llm)

	assert.Equal(t, "triage", a.Name())
	assert.Equal(t, "Agent triage", a.Description())
	assert.Equal(t, llm, a.Model())
	assert.Empty(t, a.Tools())
	assert.NotNil(t, a.Handoffs())

	a = NewModelAgent("billing", llm, func(o *ModelAgentOptions) {
		o.Description = "Handles invoices"
		o.Tools = []tool.Tool{lookupTool()}
	})
	assert.Equal(t, "Handles invoices", a.Description())
	assert.True(t, a.HasTool("lookup"))
}

func TestModelAgent_GenerateBuildsRequest(t *testing.T) {
	llm := &MockModelImpl{}
	llm.On("Info").Return(model.Info{Name: "mock"}).Maybe()
	llm.On("Generate", mock.Anything, mock.MatchedBy(func(req model.Request) bool {
		return req.Instructions == "Help Ada with refunds." &&
			len(req.Contents) == 1 &&
			len(req.Tools) == 2 &&
			req.Tools[1].Function.Name == "transfer_to_billing_1"
	})).Return(textResponse("On it."), nil).Once()

	a := NewModelAgent("triage", llm, func(o *ModelAgentOptions) {
		o.Instruction = NewInstructionFromText("Help {{ .customer }} with refunds.")
		o.Tools = []tool.Tool{lookupTool()}
	})

	store := core.NewContextStore(map[string]any{"customer": "Ada"})
	msg, err := a.Generate(context.Background(), &Turn{
		Messages: []core.Message{core.NewUserMessage("customer", "I want a refund")},
		Actions: []tool.Tool{
			lookupTool(),
			tool.NewTransferTool("transfer_to_billing_1", "billing", target.ToName("billing")),
		},
		Context: store,
	})
	require.NoError(t, err)

	assert.Equal(t, "triage", msg.Name)
	assert.Equal(t, core.RoleAssistant, msg.Role())
	assert.Equal(t, "On it.", msg.Text())
	llm.AssertExpectations(t)
}

func TestModelAgent_NilActionsFallBackToTools(t *testing.T) {
	llm := model.NewMockModel("mock", "test").Script(model.ReplyText("ok"))
	a := NewModelAgent("triage", llm, func(o *ModelAgentOptions) {
		o.Tools = []tool.Tool{lookupTool()}
	})

	_, err := a.Generate(context.Background(), &Turn{Context: core.NewContextStore(nil)})
	require.NoError(t, err)

	req, ok := llm.LastRequest()
	require.True(t, ok)
	require.Len(t, req.Tools, 1)
	assert.Equal(t, "lookup", req.Tools[0].Function.Name)
}

func TestModelAgent_FunctionCallReply(t *testing.T) {
	llm := model.NewMockModel("mock", "test").Script(model.ReplyCall("lookup", `{"id":"7"}`))
	a := NewModelAgent("triage", llm)

	msg, err := a.Generate(context.Background(), &Turn{Context: core.NewContextStore(nil)})
	require.NoError(t, err)

	calls := msg.FunctionCalls()
	require.Len(t, calls, 1)
	assert.Equal(t, "lookup", calls[0].Name)
	assert.Equal(t, `{"id":"7"}`, calls[0].Arguments)
	assert.NotEmpty(t, calls[0].ID)
}

func TestModelAgent_ModelFailureIsWrapped(t *testing.T) {
	boom := errors.New("rate limited")
	llm := &MockModelImpl{}
	llm.On("Info").Return(model.Info{Name: "mock"})
	llm.On("Generate", mock.Anything, mock.Anything).Return(model.Response{}, boom)

	a := NewModelAgent("triage", llm)
	_, err := a.Generate(context.Background(), &Turn{Context: core.NewContextStore(nil)})

	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrModelResponse)
	assert.ErrorIs(t, err, boom)
}

func TestModelAgent_MaxModelCalls(t *testing.T) {
	llm := model.NewMockModel("mock", "test")
	a := NewModelAgent("triage", llm, func(o *ModelAgentOptions) { o.MaxModelCalls = 1 })

	turn := func(sessionID string) *Turn {
		return &Turn{Context: core.NewContextStore(nil), SessionID: sessionID}
	}

	_, err := a.Generate(context.Background(), turn("s1"))
	require.NoError(t, err)

	_, err = a.Generate(context.Background(), turn("s1"))
	assert.ErrorIs(t, err, core.ErrModelResponse)
	assert.ErrorIs(t, err, core.ErrModelLimit)

	// Another session has its own budget.
	_, err = a.Generate(context.Background(), turn("s2"))
	require.NoError(t, err)

	a.ReleaseSession("s1")
	_, err = a.Generate(context.Background(), turn("s1"))
	require.NoError(t, err)
}

func TestModelAgent_Streaming(t *testing.T) {
	llm := model.NewMockModel("mock", "test").Script(model.ReplyText("streamed"))
	a := NewModelAgent("triage", llm, func(o *ModelAgentOptions) { o.EnableStreaming = true })

	msg, err := a.Generate(context.Background(), &Turn{Context: core.NewContextStore(nil)})
	require.NoError(t, err)
	assert.Equal(t, "streamed", msg.Text())
}

func TestModelAgent_MaxHistoryMessages(t *testing.T) {
	llm := model.NewMockModel("mock", "test")
	a := NewModelAgent("triage", llm, func(o *ModelAgentOptions) { o.MaxHistoryMessages = 1 })

	_, err := a.Generate(context.Background(), &Turn{
		Messages: []core.Message{
			core.NewUserMessage("customer", "first"),
			core.NewUserMessage("customer", "second"),
		},
		Context: core.NewContextStore(nil),
	})
	require.NoError(t, err)

	req, _ := llm.LastRequest()
	require.Len(t, req.Contents, 1)
	assert.Equal(t, core.TextPart{Text: "customer: second"}, req.Contents[0].Parts[0])
}

func TestBuildContents_PointOfView(t *testing.T) {
	own := core.NewFunctionCallMessage("triage", core.FunctionCall{ID: "c1", Name: "lookup", Arguments: "{}"})
	foreign := core.NewFunctionCallMessage("billing", core.FunctionCall{ID: "c2", Name: "charge", Arguments: `{"a":1}`})

	msgs := []core.Message{
		core.NewUserMessage("customer", "hi"),
		own,
		core.NewFunctionResponseMessage(executor.Name, core.FunctionResponse{ID: "c1", Name: "lookup", Response: "found"}),
		core.NewTextMessage("billing", "paid"),
		foreign,
		core.NewFunctionResponseMessage(executor.Name, core.FunctionResponse{ID: "c2", Name: "charge", Response: "ok"}),
	}

	contents := BuildContents("triage", msgs)
	require.Len(t, contents, 6)

	assert.Equal(t, core.RoleUser, contents[0].Role)
	assert.Equal(t, core.TextPart{Text: "customer: hi"}, contents[0].Parts[0])

	assert.Equal(t, core.RoleAssistant, contents[1].Role)
	assert.IsType(t, core.FunctionCallPart{}, contents[1].Parts[0])

	assert.Equal(t, core.RoleTool, contents[2].Role)
	assert.Equal(t, "c1", contents[2].Parts[0].(core.FunctionResponsePart).FunctionResponse.ID)

	assert.Equal(t, core.TextPart{Text: "billing: paid"}, contents[3].Parts[0])
	assert.Equal(t, core.TextPart{Text: `billing: called charge({"a":1})`}, contents[4].Parts[0])
	assert.Equal(t, core.TextPart{Text: executor.Name + ": charge returned: ok"}, contents[5].Parts[0])
}

func TestToolDefinitions(t *testing.T) {
	assert.Nil(t, ToolDefinitions(nil))

	defs := ToolDefinitions([]tool.Tool{lookupTool()})
	require.Len(t, defs, 1)
	assert.Equal(t, "function", defs[0].Type)
	assert.Equal(t, "lookup", defs[0].Function.Name)
	assert.Equal(t, "looks things up", defs[0].Function.Description)
}
