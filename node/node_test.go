package node

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/flowmesh/cache"
	"github.com/hupe1980/flowmesh/core"
	"github.com/hupe1980/flowmesh/internal/testutil"
	"github.com/hupe1980/flowmesh/knowledge"
	"github.com/hupe1980/flowmesh/memory"
	"github.com/hupe1980/flowmesh/model"
	"github.com/hupe1980/flowmesh/snapshot"
)

// parse validates n through the default registry and attaches the params.
func parse(t *testing.T, svc *Services, n *core.Node) error {
	t.Helper()
	p, err := DefaultRegistry().Parse(n, svc)
	if err != nil {
		return err
	}
	n.SetParsedParams(p)
	return nil
}

// run parses and runs a single node outside of any flow walk.
func run(t *testing.T, svc *Services, n *core.Node, exec *core.ExecutionContext) (*core.VertexResult, error) {
	t.Helper()
	require.NoError(t, parse(t, svc, n))
	f := &core.Flow{Code: "f", Nodes: []*core.Node{n}}
	r, err := DefaultRegistry().Runner(Env{Node: n, Flow: f, Services: svc})
	require.NoError(t, err)
	vr := core.NewVertexResult(n.ID)
	return vr, r.Run(context.Background(), vr, exec, nil)
}

func chatExec() *core.ExecutionContext {
	return testutil.NewExecBuilder(core.TriggerChatMessage).
		User("u-1", "Ann").
		Message("m-1", "hello").
		Org("org").
		Conversation("conv-1").
		Build()
}

func TestRegistry_UnknownType(t *testing.T) {
	_, err := DefaultRegistry().Parse(&core.Node{ID: "x", Type: "teleport"}, &Services{})
	require.Error(t, err)
	assert.True(t, core.IsValidation(err))
}

func TestRunner_WithoutParsedParams(t *testing.T) {
	n := &core.Node{ID: "e", Type: core.NodeEnd}
	_, err := DefaultRegistry().Runner(Env{Node: n, Services: &Services{}})
	var se *core.SystemError
	assert.ErrorAs(t, err, &se)
}

func TestCache_SetThenGet(t *testing.T) {
	svc := &Services{Cache: cache.NewInMemoryStore()}
	exec := chatExec()

	set := &core.Node{ID: "set", Type: core.NodeCacheSet, Params: map[string]any{
		"cache_key":   "greeting",
		"cache_value": "{{ .start.name }}",
		"ttl":         60,
	}}
	exec.SaveNodeContext("start", map[string]any{"name": "Ann"})
	vr, err := run(t, svc, set, exec)
	require.NoError(t, err)
	assert.Empty(t, vr.Result)

	get := &core.Node{ID: "get", Type: core.NodeCacheGet, Params: map[string]any{"cache_key": "greeting"}}
	vr, err = run(t, svc, get, exec)
	require.NoError(t, err)
	assert.Equal(t, "Ann", vr.Result["value"])
	assert.Equal(t, "Ann", exec.NodeContext("get")["value"])
}

func TestCache_GetMiss(t *testing.T) {
	svc := &Services{Cache: cache.NewInMemoryStore()}
	get := &core.Node{ID: "get", Type: core.NodeCacheGet, Params: map[string]any{"cache_key": "unknown"}}

	vr, err := run(t, svc, get, chatExec())
	require.NoError(t, err)
	v, ok := vr.Result["value"]
	assert.True(t, ok)
	assert.Nil(t, v)
}

func TestCache_Validation(t *testing.T) {
	svc := &Services{Cache: cache.NewInMemoryStore()}

	t.Run("empty key", func(t *testing.T) {
		get := &core.Node{ID: "get", Type: core.NodeCacheGet, Params: map[string]any{"cache_key": ""}}
		_, err := run(t, svc, get, chatExec())
		assert.True(t, core.IsValidation(err))
	})

	t.Run("non-string key", func(t *testing.T) {
		get := &core.Node{ID: "get", Type: core.NodeCacheGet, Params: map[string]any{"cache_key": 42}}
		_, err := run(t, svc, get, chatExec())
		assert.True(t, core.IsValidation(err))
	})

	tests := []struct {
		name string
		ttl  int
		ok   bool
	}{
		{"zero", 0, true},
		{"max", 2592000, true},
		{"negative", -1, false},
		{"too long", 2592001, false},
	}
	for _, tt := range tests {
		t.Run("ttl "+tt.name, func(t *testing.T) {
			n := &core.Node{ID: "set", Type: core.NodeCacheSet, Params: map[string]any{
				"cache_key": "k", "cache_value": "v", "ttl": tt.ttl,
			}}
			err := parse(t, svc, n)
			if tt.ok {
				assert.NoError(t, err)
				return
			}
			assert.True(t, core.IsValidation(err))
		})
	}
}

func TestKnowledge_ParamRanges(t *testing.T) {
	tests := []struct {
		name   string
		params map[string]any
		ok     bool
	}{
		{"defaults", map[string]any{"knowledge_codes": "kb", "query": "q"}, true},
		{"limit zero", map[string]any{"query": "q", "limit": 0}, false},
		{"limit too big", map[string]any{"query": "q", "limit": 101}, false},
		{"score one", map[string]any{"query": "q", "score": 1}, false},
		{"score zero", map[string]any{"query": "q", "score": 0}, false},
		{"in range", map[string]any{"query": "q", "limit": 100, "score": 0.99}, true},
		{"missing query", map[string]any{"limit": 3}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n := &core.Node{ID: "k", Type: core.NodeKnowledgeSimilarity, Params: tt.params}
			err := parse(t, &Services{}, n)
			if tt.ok {
				assert.NoError(t, err)
				return
			}
			assert.True(t, core.IsValidation(err))
		})
	}
}

func TestKnowledge_Run(t *testing.T) {
	ctx := context.Background()
	store := knowledge.NewInMemoryStore(nil)
	require.NoError(t, store.Add(ctx, "org",
		knowledge.Fragment{KnowledgeCode: "kb", BusinessID: "b1", Content: "go channels connect goroutines"},
		knowledge.Fragment{KnowledgeCode: "kb", BusinessID: "b2", Content: "tea is hot"},
	))
	svc := &Services{Knowledge: store}

	n := &core.Node{ID: "k", Type: core.NodeKnowledgeSimilarity, Params: map[string]any{
		"vector_database_ids": []string{"kb"},
		"query":               "go channels",
	}}
	vr, err := run(t, svc, n, chatExec())
	require.NoError(t, err)

	sims := vr.Result["similarities"].([]any)
	frags := vr.Result["fragments"].([]any)
	require.Len(t, sims, 1)
	assert.Len(t, frags, len(sims))
	assert.Equal(t, "go channels connect goroutines", sims[0])
	assert.Equal(t, "b1", frags[0].(map[string]any)["business_id"])
}

func TestKnowledge_RequiresCodes(t *testing.T) {
	svc := &Services{Knowledge: knowledge.NewInMemoryStore(nil)}
	n := &core.Node{ID: "k", Type: core.NodeKnowledgeSimilarity, Params: map[string]any{"query": "q"}}
	_, err := run(t, svc, n, chatExec())
	assert.True(t, core.IsValidation(err))
}

func TestTextSplitter(t *testing.T) {
	t.Run("short text", func(t *testing.T) {
		n := &core.Node{ID: "s", Type: core.NodeTextSplitter, Params: map[string]any{"content": "hello world"}}
		vr, err := run(t, &Services{}, n, chatExec())
		require.NoError(t, err)
		assert.Equal(t, []any{"hello world"}, vr.Result["split_texts"])
	})

	t.Run("unknown strategy", func(t *testing.T) {
		n := &core.Node{ID: "s", Type: core.NodeTextSplitter, Params: map[string]any{"content": "x", "strategy": "sentences"}}
		assert.True(t, core.IsValidation(parse(t, &Services{}, n)))
	})

	t.Run("empty content", func(t *testing.T) {
		n := &core.Node{ID: "s", Type: core.NodeTextSplitter, Params: map[string]any{
			"content": map[string]any{"mode": "expression", "expression": "start.missing"},
		}}
		_, err := run(t, &Services{}, n, chatExec())
		assert.True(t, core.IsValidation(err))
	})
}

func startNode(branches ...core.Branch) *core.Node {
	f := testutil.NewFlowBuilder("f").StartBranches(branches...).Build()
	return f.Nodes[0]
}

func TestStart_ParamCall(t *testing.T) {
	n := startNode(core.Branch{
		BranchID:    "call",
		TriggerType: core.TriggerParamCall,
		NextNodes:   []string{"next"},
		Output: core.ObjectForm(map[string]*core.Form{
			"city": {Type: "string"},
		}, "city"),
		CustomSystemOutput: core.ObjectForm(map[string]*core.Form{
			"tenant": {Type: "string"},
		}),
	})
	exec := testutil.NewExecBuilder(core.TriggerParamCall).
		Param("city", "Berlin").
		Param("custom_system_input", map[string]any{"tenant": "acme"}).
		Org("org").
		Build()
	exec.TriggerData().SystemParams["tenant"] = "acme"

	vr, err := run(t, &Services{}, n, exec)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"city": "Berlin"}, vr.Result)
	assert.Equal(t, []string{"next"}, vr.ChildrenIDs)
	assert.Equal(t, "acme", exec.NodeContext(core.SystemNodeID("start"))["tenant"])
}

func TestStart_RequiredParamMissing(t *testing.T) {
	n := startNode(core.Branch{
		BranchID:    "call",
		TriggerType: core.TriggerParamCall,
		Output:      core.ObjectForm(map[string]*core.Form{"city": {Type: "string"}}, "city"),
	})
	exec := testutil.NewExecBuilder(core.TriggerParamCall).Build()
	_, err := run(t, &Services{}, n, exec)
	assert.True(t, core.IsValidation(err))
}

func TestStart_ChatMessage(t *testing.T) {
	n := startNode(core.Branch{BranchID: "chat", TriggerType: core.TriggerChatMessage, NextNodes: []string{"a"}})
	vr, err := run(t, &Services{}, n, chatExec())
	require.NoError(t, err)
	assert.Equal(t, "hello", vr.Result["message_content"])
	assert.Equal(t, "conv-1", vr.Result["conversation_id"])
	assert.Equal(t, map[string]any{"id": "u-1", "nickname": "Ann"}, vr.Result["user"])
}

func TestStart_BranchNotFound(t *testing.T) {
	n := startNode(core.Branch{BranchID: "chat", TriggerType: core.TriggerChatMessage})
	exec := testutil.NewExecBuilder(core.TriggerAddFriend).Build()
	_, err := run(t, &Services{}, n, exec)
	assert.ErrorIs(t, err, core.ErrBranchNotFound)
}

func TestStart_ParseErrors(t *testing.T) {
	tests := []struct {
		name     string
		branches []core.Branch
	}{
		{"duplicate trigger", []core.Branch{
			{BranchID: "a", TriggerType: core.TriggerChatMessage},
			{BranchID: "b", TriggerType: core.TriggerChatMessage},
		}},
		{"unknown trigger", []core.Branch{{BranchID: "a", TriggerType: 42}}},
		{"bad window config", []core.Branch{{
			BranchID: "a", TriggerType: core.TriggerOpenChatWindow,
			Config: map[string]any{"interval": 0, "unit": "minutes"},
		}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.True(t, core.IsValidation(parse(t, &Services{}, startNode(tt.branches...))))
		})
	}
}

func TestEnd_EvaluatesOutput(t *testing.T) {
	f := testutil.NewFlowBuilder("f").End("end", map[string]string{"answer": "llm.response"}).Build()
	exec := chatExec()
	exec.SaveNodeContext("llm", map[string]any{"response": "42"})

	vr, err := run(t, &Services{}, f.Nodes[0], exec)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"answer": "42"}, vr.Result)
}

func TestVariableSave_Ops(t *testing.T) {
	n := &core.Node{ID: "v", Type: core.NodeVariableSave, Params: map[string]any{
		"variables": []any{
			map[string]any{"name": "count", "value": map[string]any{"mode": "const", "const": 3}},
			map[string]any{"name": "queue", "op": "push", "value": map[string]any{"mode": "const", "const": "a"}},
			map[string]any{"name": "queue", "op": "push", "value": map[string]any{"mode": "const", "const": "b"}},
			map[string]any{"name": "head", "op": "save", "value": map[string]any{"mode": "expression", "expression": "variables.count"}},
		},
	}}
	exec := chatExec()
	vr, err := run(t, &Services{}, n, exec)
	require.NoError(t, err)
	assert.Equal(t, []any{"a", "b"}, exec.VariableGet("queue", nil))
	assert.Equal(t, []any{"a", "b"}, vr.Result["queue"])
	assert.EqualValues(t, 3, vr.Result["head"])

	shift := &core.Node{ID: "s", Type: core.NodeVariableSave, Params: map[string]any{
		"variables": []any{
			map[string]any{"name": "queue", "op": "shift"},
			map[string]any{"name": "count", "op": "destroy"},
		},
	}}
	vr, err = run(t, &Services{}, shift, exec)
	require.NoError(t, err)
	assert.Equal(t, "a", vr.Result["queue"])
	assert.Equal(t, []any{"b"}, exec.VariableGet("queue", nil))
	assert.False(t, exec.VariableExists("count"))
}

func TestVariableSave_UnknownOp(t *testing.T) {
	n := &core.Node{ID: "v", Type: core.NodeVariableSave, Params: map[string]any{
		"variables": []any{map[string]any{"name": "x", "op": "pop"}},
	}}
	assert.True(t, core.IsValidation(parse(t, &Services{}, n)))
}

func TestReply(t *testing.T) {
	t.Run("text", func(t *testing.T) {
		exec := chatExec()
		exec.SaveNodeContext("llm", map[string]any{"response": "hi Ann"})
		n := &core.Node{ID: "r", Type: core.NodeReplyMessage, Params: map[string]any{"content": "{{ .llm.response }}!"}}

		_, err := run(t, &Services{}, n, exec)
		require.NoError(t, err)
		replies := exec.ReplyMessages()
		require.Len(t, replies, 1)
		assert.Equal(t, "hi Ann!", replies[0].Content)
		assert.Equal(t, core.MessageText, replies[0].Type)
		assert.Equal(t, "org", replies[0].Sender.OrganizationCode)
	})

	t.Run("link", func(t *testing.T) {
		exec := chatExec()
		exec.SaveNodeContext("start", map[string]any{"url": "https://example.com"})
		n := &core.Node{ID: "r", Type: core.NodeReplyMessage, Params: map[string]any{
			"type": "link", "link": "start.url", "link_desc": "docs",
		}}
		_, err := run(t, &Services{}, n, exec)
		require.NoError(t, err)
		assert.Equal(t, "https://example.com", exec.ReplyMessages()[0].Link)
		assert.Equal(t, "docs", exec.ReplyMessages()[0].LinkDesc)
	})

	t.Run("image from url", func(t *testing.T) {
		exec := chatExec()
		exec.SaveNodeContext("start", map[string]any{"img": "https://example.com/a.png"})
		n := &core.Node{ID: "r", Type: core.NodeReplyMessage, Params: map[string]any{"type": "image", "link": "start.img"}}
		_, err := run(t, &Services{}, n, exec)
		require.NoError(t, err)
		require.Len(t, exec.ReplyMessages()[0].Attachments, 1)
		assert.Equal(t, "a.png", exec.ReplyMessages()[0].Attachments[0].Name)
		assert.Len(t, exec.AttachmentRecords(), 1)
	})

	t.Run("missing content", func(t *testing.T) {
		n := &core.Node{ID: "r", Type: core.NodeReplyMessage, Params: map[string]any{"content": "  "}}
		_, err := run(t, &Services{}, n, chatExec())
		assert.True(t, core.IsValidation(err))
	})

	t.Run("unknown type", func(t *testing.T) {
		n := &core.Node{ID: "r", Type: core.NodeReplyMessage, Params: map[string]any{"type": "video"}}
		assert.True(t, core.IsValidation(parse(t, &Services{}, n)))
	})
}

type bodyFunc func(exec *core.ExecutionContext, entryID string) error

func (f bodyFunc) RunBody(_ context.Context, exec *core.ExecutionContext, _ *core.Flow, entryID string) error {
	return f(exec, entryID)
}

func TestLoop(t *testing.T) {
	var items []any
	body := bodyFunc(func(exec *core.ExecutionContext, entryID string) error {
		assert.Equal(t, "body", entryID)
		items = append(items, exec.NodeContext("loop")["item"])
		return nil
	})
	svc := &Services{Body: body}

	t.Run("array", func(t *testing.T) {
		items = nil
		exec := chatExec()
		exec.SaveNodeContext("start", map[string]any{"list": []string{"x", "y"}})
		n := &core.Node{ID: "loop", Type: core.NodeLoop, Params: map[string]any{"type": "array", "array": "start.list", "body": "body"}}
		vr, err := run(t, svc, n, exec)
		require.NoError(t, err)
		assert.Equal(t, []any{"x", "y"}, items)
		assert.Equal(t, 2, vr.Result["count"])
	})

	t.Run("count", func(t *testing.T) {
		items = nil
		n := &core.Node{ID: "loop", Type: core.NodeLoop, Params: map[string]any{"type": "count", "count": 3, "body": "body"}}
		_, err := run(t, svc, n, chatExec())
		require.NoError(t, err)
		assert.Equal(t, []any{0, 1, 2}, items)
	})

	t.Run("over limit", func(t *testing.T) {
		items = nil
		n := &core.Node{ID: "loop", Type: core.NodeLoop, Params: map[string]any{
			"type": "count", "count": 5, "max_loop_count": 2, "body": "body",
		}}
		_, err := run(t, svc, n, chatExec())
		assert.True(t, core.IsValidation(err))
		assert.Empty(t, items)
	})

	t.Run("body failure", func(t *testing.T) {
		boom := errors.New("boom")
		failing := &Services{Body: bodyFunc(func(*core.ExecutionContext, string) error { return boom })}
		n := &core.Node{ID: "loop", Type: core.NodeLoop, Params: map[string]any{"type": "count", "count": 1, "body": "body"}}
		_, err := run(t, failing, n, chatExec())
		assert.ErrorIs(t, err, boom)
	})
}

func TestWaitMessage_Suspends(t *testing.T) {
	codec, err := snapshot.NewCodec()
	require.NoError(t, err)
	now := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	clock := func() time.Time { return now }
	store := snapshot.NewInMemoryStore(codec).WithClock(clock)
	svc := &Services{Snapshots: store, Now: clock}

	exec := testutil.NewExecBuilder(core.TriggerChatMessage).
		Message("m-1", "hi").
		Org("org").
		Conversation("conv-1").
		With(func(o *core.ExecutionOptions) { o.FlowCode = "survey" }).
		Build()
	exec.VariableSave("step", "ask")

	n := &core.Node{ID: "wait", Type: core.NodeWaitMessage, Params: map[string]any{
		"timeout_config": map[string]any{"enabled": true, "interval": 2, "unit": "hours"},
	}}
	_, err = run(t, svc, n, exec)
	require.ErrorIs(t, err, ErrSuspend)

	snap, err := store.Load(context.Background(), "conv-1", "survey")
	require.NoError(t, err)
	assert.Equal(t, "wait", snap.WaitNodeID)
	assert.Equal(t, exec.ID(), snap.ExecutionID)
	assert.True(t, snap.ExpiresAt.Equal(now.Add(2*time.Hour)))
	assert.Equal(t, "ask", snap.Data.Variables["step"])
}

func TestWaitMessage_RequiresStore(t *testing.T) {
	n := &core.Node{ID: "wait", Type: core.NodeWaitMessage}
	_, err := run(t, &Services{}, n, chatExec())
	var se *core.SystemError
	assert.ErrorAs(t, err, &se)
}

func TestLLM_AutoMemory(t *testing.T) {
	ctx := context.Background()
	m := model.NewMockModel("mock", "test").AddText("hello Ann")
	mem := memory.NewInMemoryStore()
	require.NoError(t, mem.Store(ctx, memory.Message{ConversationID: "conv-1", Role: memory.RoleUser, Content: "earlier"}))

	svc := &Services{Gateway: model.NewStaticGateway().Register("mock", m), Memory: mem}
	exec := chatExec()
	exec.SaveNodeContext("start", ChatMessageOutput(exec))

	n := &core.Node{ID: "llm", Type: core.NodeLLM, Params: map[string]any{
		"model":         "mock",
		"system_prompt": "You greet {{ .start.user.nickname }}.",
		"user_prompt":   "{{ .start.message_content }}",
	}}
	vr, err := run(t, svc, n, exec)
	require.NoError(t, err)
	assert.Equal(t, "hello Ann", vr.Result["response"])
	assert.Equal(t, []any{}, vr.Result["tool_calls"])

	reqs := m.Requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, "You greet Ann.", reqs[0].Instructions)
	require.Len(t, reqs[0].Contents, 2)
	assert.Equal(t, "earlier", reqs[0].Contents[0].Text())
	assert.Equal(t, "hello", reqs[0].Contents[1].Text())

	stored, err := mem.Queries(ctx, memory.Query{ConversationID: "conv-1", Limit: 10}, nil)
	require.NoError(t, err)
	require.Len(t, stored, 3)
	assert.Equal(t, memory.RoleAssistant, stored[2].Role)
	assert.Equal(t, "hello Ann", stored[2].Content)
}

func TestLLM_ManualMessages(t *testing.T) {
	m := model.NewMockModel("mock", "test").AddText("ok")
	svc := &Services{Gateway: model.NewStaticGateway().Register("mock", m)}
	exec := chatExec()
	exec.SaveNodeContext("start", map[string]any{"topic": "go"})

	n := &core.Node{ID: "llm", Type: core.NodeLLM, Params: map[string]any{
		"model":        "mock",
		"model_config": map[string]any{"auto_memory": false, "max_record": 10, "temperature": 0.1},
		"messages": map[string]any{
			"type": "array",
			"value": map[string]any{"mode": "const", "const": []any{
				map[string]any{"role": "user", "content": "tell me about {{ .start.topic }}"},
			}},
		},
	}}
	_, err := run(t, svc, n, exec)
	require.NoError(t, err)

	req := m.Requests()[0]
	require.Len(t, req.Contents, 1)
	assert.Equal(t, "tell me about go", req.Contents[0].Text())
	require.NotNil(t, req.Temperature)
	assert.InDelta(t, 0.1, *req.Temperature, 1e-9)
}

func TestLLM_ParamValidation(t *testing.T) {
	tests := []struct {
		name   string
		params map[string]any
	}{
		{"missing model", map[string]any{"user_prompt": "hi"}},
		{"temperature", map[string]any{"model": "m", "model_config": map[string]any{"temperature": 3, "max_record": 5}}},
		{"max record", map[string]any{"model": "m", "model_config": map[string]any{"max_record": 0}}},
		{"unknown plugin", map[string]any{"model": "m", "agent_plugins": []any{map[string]any{"code": "nope"}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n := &core.Node{ID: "llm", Type: core.NodeLLM, Params: tt.params}
			assert.True(t, core.IsValidation(parse(t, &Services{}, n)))
		})
	}
}
