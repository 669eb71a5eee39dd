package model

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/groupmesh/core"
)

func textRequest(text string) Request {
	return Request{Contents: []core.Content{{Role: core.RoleUser, Parts: []core.Part{core.TextPart{Text: text}}}}}
}

func TestMockModel_ScriptedReplies(t *testing.T) {
	m := NewMockModel("mock", "mock").Script(
		ReplyText("hello"),
		ReplyCall("transfer_to_billing_1", "{}"),
		ReplyError(errors.New("rate limited")),
	)
	ctx := context.Background()

	resp, err := Collect(ctx, m, textRequest("hi"))
	require.NoError(t, err)
	assert.Equal(t, "stop", resp.FinishReason)
	require.Len(t, resp.Content.Parts, 1)
	assert.Equal(t, core.TextPart{Text: "hello"}, resp.Content.Parts[0])

	resp, err = Collect(ctx, m, textRequest("hi"))
	require.NoError(t, err)
	assert.Equal(t, "tool_calls", resp.FinishReason)
	fc := resp.Content.Parts[0].(core.FunctionCallPart).FunctionCall
	assert.Equal(t, "transfer_to_billing_1", fc.Name)
	assert.NotEmpty(t, fc.ID)

	_, err = Collect(ctx, m, textRequest("hi"))
	assert.EqualError(t, err, "rate limited")

	assert.Len(t, m.Requests(), 3)
}

func TestMockModel_CannedAndEcho(t *testing.T) {
	m := NewMockModel("mock", "mock")
	m.AddResponse("ping", "pong")

	resp, err := Collect(context.Background(), m, textRequest("ping"))
	require.NoError(t, err)
	assert.Equal(t, "pong", resp.Content.Parts[0].(core.TextPart).Text)

	resp, err = Collect(context.Background(), m, textRequest("other"))
	require.NoError(t, err)
	assert.Equal(t, "Mock response to: other", resp.Content.Parts[0].(core.TextPart).Text)

	last, ok := m.LastRequest()
	assert.True(t, ok)
	assert.Equal(t, "other", last.Contents[0].Parts[0].(core.TextPart).Text)
}

func TestMockModel_Streaming(t *testing.T) {
	m := NewMockModel("mock", "mock").Script(ReplyText("abc"))
	req := textRequest("x")
	req.Stream = true

	respCh, errCh := m.Generate(context.Background(), req)
	var partials int
	var final Response
	for r := range respCh {
		if r.Partial {
			partials++
			continue
		}
		final = r
	}
	require.NoError(t, <-errCh)
	assert.Equal(t, 3, partials)
	assert.Equal(t, "abc", final.Content.Parts[0].(core.TextPart).Text)
}

type silentModel struct{}

func (silentModel) Generate(context.Context, Request) (<-chan Response, <-chan error) {
	respCh := make(chan Response)
	errCh := make(chan error)
	close(respCh)
	close(errCh)
	return respCh, errCh
}

func (silentModel) Info() Info { return Info{Name: "silent"} }

func TestCollect_NoFinalResponse(t *testing.T) {
	_, err := Collect(context.Background(), silentModel{}, Request{})
	assert.ErrorIs(t, err, ErrNoResponse)
}

func TestNewToolDefinition(t *testing.T) {
	def := NewToolDefinition("lookup", "Look up", map[string]any{"type": "object"})
	assert.Equal(t, "function", def.Type)
	assert.Equal(t, "lookup", def.Function.Name)
}
