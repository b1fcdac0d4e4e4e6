package agent

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/flowmesh/builtin"
	"github.com/hupe1980/flowmesh/core"
	"github.com/hupe1980/flowmesh/model"
	"github.com/hupe1980/flowmesh/tool"
)

type testTool struct {
	name string
	fn   func(args map[string]any) (any, error)
}

func (t testTool) Name() string               { return t.name }
func (t testTool) Description() string        { return "test tool " + t.name }
func (t testTool) Parameters() map[string]any { return map[string]any{"type": "object"} }
func (t testTool) Call(_ context.Context, _ *core.ExecutionContext, args map[string]any) (any, error) {
	return t.fn(args)
}

func newExec() *core.ExecutionContext {
	return core.NewExecutionContext(core.TriggerChatMessage,
		core.NewTriggerData(core.UserInfo{ID: "u-1"}, core.MessageInfo{Type: "text", Content: "hi"}, nil))
}

func userRequest(text string) model.Request {
	return model.Request{Contents: []core.Content{core.NewTextContent("user", text)}}
}

func echoTool() tool.Tool {
	return testTool{name: "lookup", fn: func(args map[string]any) (any, error) { return args, nil }}
}

func TestRun_TextOnly(t *testing.T) {
	m := model.NewMockModel("mock", "test").AddText("hello there")

	res, err := Run(context.Background(), newExec(), m, userRequest("hi"), nil)
	require.NoError(t, err)
	assert.Equal(t, "hello there", res.Text)
	assert.Equal(t, 1, res.Turns)
	assert.Empty(t, res.ToolCalls)
}

func TestRun_ToolCall(t *testing.T) {
	m := model.NewMockModel("mock", "test").
		AddToolCall("c1", "lookup", `{"city":"Paris"}`).
		AddText("Paris it is")

	res, err := Run(context.Background(), newExec(), m, userRequest("where?"), []tool.Tool{echoTool()})
	require.NoError(t, err)
	assert.Equal(t, "Paris it is", res.Text)
	assert.Equal(t, 2, res.Turns)

	require.Len(t, res.ToolCalls, 1)
	rec := res.ToolCalls[0]
	assert.Equal(t, "lookup", rec.Name)
	assert.True(t, rec.Success)
	assert.Equal(t, `{"city":"Paris"}`, rec.CallResult)
	assert.Equal(t, map[string]any{"city": "Paris"}, rec.Arguments)

	reqs := m.Requests()
	require.Len(t, reqs, 2)
	require.Len(t, reqs[0].Tools, 1)
	assert.Equal(t, "lookup", reqs[0].Tools[0].Function.Name)
	// user, assistant call, tool response
	assert.Len(t, reqs[1].Contents, 3)
	assert.Equal(t, "tool", reqs[1].Contents[2].Role)
}

func TestRun_UnknownToolIsReportedToModel(t *testing.T) {
	m := model.NewMockModel("mock", "test").
		AddToolCall("c1", "missing", `{}`).
		AddText("sorry")

	res, err := Run(context.Background(), newExec(), m, userRequest("x"), []tool.Tool{echoTool()})
	require.NoError(t, err)
	assert.Equal(t, "sorry", res.Text)
	require.Len(t, res.ToolCalls, 1)
	assert.False(t, res.ToolCalls[0].Success)
	assert.Contains(t, res.ToolCalls[0].ErrorMessage, "tool not found")
}

func TestRun_InvalidArguments(t *testing.T) {
	m := model.NewMockModel("mock", "test").
		AddToolCall("c1", "lookup", `{not json`).
		AddText("done")

	res, err := Run(context.Background(), newExec(), m, userRequest("x"), []tool.Tool{echoTool()})
	require.NoError(t, err)
	require.Len(t, res.ToolCalls, 1)
	assert.Contains(t, res.ToolCalls[0].ErrorMessage, "invalid arguments")
}

func TestRun_MaxTurns(t *testing.T) {
	m := model.NewMockModel("mock", "test").
		AddToolCall("c1", "lookup", `{}`).
		AddToolCall("c2", "lookup", `{}`)

	_, err := Run(context.Background(), newExec(), m, userRequest("x"), []tool.Tool{echoTool()}, func(o *Options) {
		o.MaxTurns = 1
	})
	assert.EqualError(t, err, "model mock did not finish within 1 turns")
}

func TestRun_NestedFlowFailureAborts(t *testing.T) {
	failing := testTool{name: "lookup", fn: func(map[string]any) (any, error) {
		return nil, &core.ToolExecutionError{Tool: "lookup", NodeID: "inner", Message: "boom"}
	}}
	m := model.NewMockModel("mock", "test").
		AddToolCall("c1", "lookup", `{}`).
		AddText("unreachable")

	_, err := Run(context.Background(), newExec(), m, userRequest("x"), []tool.Tool{failing})
	var te *core.ToolExecutionError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, "inner", te.NodeID)
	assert.Len(t, m.Requests(), 1)
}

func TestRun_DepthExceededAborts(t *testing.T) {
	deep := testTool{name: "lookup", fn: func(map[string]any) (any, error) {
		return nil, core.ErrMaxDepthExceeded
	}}
	m := model.NewMockModel("mock", "test").AddToolCall("c1", "lookup", `{}`)

	_, err := Run(context.Background(), newExec(), m, userRequest("x"), []tool.Tool{deep})
	assert.ErrorIs(t, err, core.ErrMaxDepthExceeded)
}

func TestCallExecutor_PreservesOrder(t *testing.T) {
	delays := map[string]time.Duration{"a": 30 * time.Millisecond, "b": 10 * time.Millisecond, "c": 0}
	slow := testTool{name: "slow", fn: func(args map[string]any) (any, error) {
		id, _ := args["id"].(string)
		time.Sleep(delays[id])
		return id, nil
	}}
	calls := []core.FunctionCall{
		{ID: "1", Name: "slow", Arguments: `{"id":"a"}`},
		{ID: "2", Name: "slow", Arguments: `{"id":"b"}`},
		{ID: "3", Name: "slow", Arguments: `{"id":"c"}`},
	}

	tests := []struct {
		name        string
		maxParallel int
	}{
		{name: "sequential", maxParallel: 0},
		{name: "parallel", maxParallel: 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			x := NewCallExecutor(CallExecutorConfig{MaxParallel: tt.maxParallel})
			results, err := x.Execute(context.Background(), newExec(), map[string]tool.Tool{"slow": slow}, calls)
			require.NoError(t, err)
			require.Len(t, results, 3)
			for i, want := range []string{"a", "b", "c"} {
				assert.Equal(t, want, results[i].Result)
				assert.Equal(t, calls[i].ID, results[i].Call.ID)
			}
		})
	}
}

func TestCallExecutor_RecoversPanic(t *testing.T) {
	bad := testTool{name: "bad", fn: func(map[string]any) (any, error) { panic("kaboom") }}
	x := NewCallExecutor(CallExecutorConfig{})

	results, err := x.Execute(context.Background(), newExec(), map[string]tool.Tool{"bad": bad},
		[]core.FunctionCall{{ID: "1", Name: "bad"}})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.ErrorContains(t, results[0].Err, "panic in tool bad: kaboom")
}

func TestCallExecutor_ToolErrorIsNotFatal(t *testing.T) {
	failing := testTool{name: "f", fn: func(map[string]any) (any, error) { return nil, errors.New("nope") }}
	x := NewCallExecutor(CallExecutorConfig{MaxParallel: 2})

	results, err := x.Execute(context.Background(), newExec(), map[string]tool.Tool{"f": failing},
		[]core.FunctionCall{{ID: "1", Name: "f"}, {ID: "2", Name: "f"}})
	require.NoError(t, err)
	for _, r := range results {
		assert.EqualError(t, r.Err, "nope")
	}
}

func TestKnowledgeSimilarityPlugin(t *testing.T) {
	p, ok := DefaultPlugins().Get("knowledge_similarity")
	require.True(t, ok)

	cfg, err := p.ParseParams(map[string]any{"knowledge_codes": []any{"kb-1"}})
	require.NoError(t, err)
	assert.Equal(t, KnowledgeSimilarityConfig{KnowledgeCodes: []string{"kb-1"}, Limit: 5, Score: 0.4}, cfg)
	assert.Contains(t, p.AppendSystemPrompt(cfg), builtin.KnowledgeSimilarityToolName)

	tools := p.Tools(cfg)
	require.Len(t, tools, 1)
	assert.Equal(t, builtin.KnowledgeSimilarityCode, tools[0].ToolID)
	assert.Equal(t, builtin.KnowledgeToolSetCode, tools[0].ToolSetID)

	custom, err := p.ParseParams(map[string]any{"knowledge_codes": []any{"kb-1"}, "prompt": "Search first."})
	require.NoError(t, err)
	assert.Equal(t, "Search first.", p.AppendSystemPrompt(custom))
}

func TestKnowledgeSimilarityPlugin_Invalid(t *testing.T) {
	tests := []struct {
		name   string
		params map[string]any
	}{
		{name: "missing codes", params: map[string]any{}},
		{name: "score out of range", params: map[string]any{"knowledge_codes": []any{"kb"}, "score": 1.5}},
		{name: "limit too high", params: map[string]any{"knowledge_codes": []any{"kb"}, "limit": 1000}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := KnowledgeSimilarityPlugin{}.ParseParams(tt.params)
			var ve *core.ValidationError
			assert.ErrorAs(t, err, &ve)
		})
	}

	_, ok := (*PluginRegistry)(nil).Get("knowledge_similarity")
	assert.False(t, ok)
}
