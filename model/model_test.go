package model

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/flowmesh/core"
)

func TestMockModel_Script(t *testing.T) {
	m := NewMockModel("mock", "test").
		AddToolCall("call-1", "lookup", `{"q":"x"}`).
		AddText("done")

	req := Request{Contents: []core.Content{core.NewTextContent("user", "hello")}}

	first, err := Collect(context.Background(), m, req)
	require.NoError(t, err)
	calls := first.Content.FunctionCalls()
	require.Len(t, calls, 1)
	assert.Equal(t, "lookup", calls[0].Name)
	assert.Equal(t, "tool_calls", first.FinishReason)

	second, err := Collect(context.Background(), m, req)
	require.NoError(t, err)
	assert.Equal(t, "done", second.Content.Text())

	echo, err := Collect(context.Background(), m, req)
	require.NoError(t, err)
	assert.Equal(t, "Mock response to: hello", echo.Content.Text())

	assert.Len(t, m.Requests(), 3)
}

func TestMockModel_NoContents(t *testing.T) {
	_, err := Collect(context.Background(), NewMockModel("mock", "test"), Request{})
	assert.Error(t, err)
}

func TestStaticGateway(t *testing.T) {
	a := NewMockModel("a", "test")
	b := NewMockModel("b", "test")
	g := NewStaticGateway().Register("a", a).Register("b", b)

	got, err := g.ChatModel(context.Background(), "", "org")
	require.NoError(t, err)
	assert.Same(t, a, got)

	got, err = g.ChatModel(context.Background(), "b", "org")
	require.NoError(t, err)
	assert.Same(t, b, got)

	_, err = g.ChatModel(context.Background(), "c", "org")
	assert.Error(t, err)
}
