package flowmesh

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/flowmesh/config"
	"github.com/hupe1980/flowmesh/core"
	"github.com/hupe1980/flowmesh/engine"
	"github.com/hupe1980/flowmesh/flow"
	"github.com/hupe1980/flowmesh/internal/testutil"
	"github.com/hupe1980/flowmesh/model"
)

func echoFlow() *core.Flow {
	return testutil.NewFlowBuilder("echo").
		Start(core.TriggerChatMessage, "end").
		End("end", map[string]string{"echo": "start.message_content"}).
		Build()
}

func chatRequest(code, content string) engine.Request {
	return engine.Request{
		FlowCode:       code,
		TriggerType:    core.TriggerChatMessage,
		ConversationID: "conv-1",
		Operator:       core.Operator{UserID: "u-1", OrganizationCode: "org"},
		User:           core.UserInfo{ID: "u-1", Nickname: "Ann"},
		Message:        core.MessageInfo{ID: "m-1", Type: "text", Content: content},
	}
}

func TestFlowMesh_Run(t *testing.T) {
	m, err := New()
	require.NoError(t, err)
	require.NoError(t, m.AddFlows(echoFlow()))

	res, err := m.Run(context.Background(), chatRequest("echo", "hello"))
	require.NoError(t, err)
	assert.Equal(t, flow.StatusFinished, res.Status)
	assert.Equal(t, map[string]any{"echo": "hello"}, res.Output)
}

func TestFlowMesh_LLMWithTool(t *testing.T) {
	mock := model.NewMockModel("mock", "test")
	m, err := New(func(o *Options) {
		o.Gateway = model.NewStaticGateway().Register("mock", mock)
	})
	require.NoError(t, err)

	tool := testutil.NewFlowBuilder("lookup").
		Tool("Looks up a city", core.ObjectForm(map[string]*core.Form{"city": {Type: "string"}}, "city")).
		Start(core.TriggerParamCall, "end").
		End("end", map[string]string{"found": "start.city"}).
		Build()
	assistant := testutil.NewFlowBuilder("assistant").
		Start(core.TriggerChatMessage, "llm").
		Step("llm", core.NodeLLM, map[string]any{
			"model":        "mock",
			"user_prompt":  "{{ .start.message_content }}",
			"option_tools": []any{map[string]any{"tool_id": "lookup"}},
		}, "end").
		End("end", map[string]string{"answer": "llm.response"}).
		Build()
	require.NoError(t, m.AddFlows(tool, assistant))

	mock.AddToolCall("c1", "lookup", `{"city":"Paris"}`).AddText("found Paris")

	res, err := m.Run(context.Background(), chatRequest("assistant", "where?"))
	require.NoError(t, err)
	require.NoError(t, res.Err)
	assert.Equal(t, map[string]any{"answer": "found Paris"}, res.Output)
	assert.Len(t, mock.Requests(), 2)
}

func TestFlowMesh_AddFlowsRejectsInvalid(t *testing.T) {
	m, err := New()
	require.NoError(t, err)

	broken := testutil.NewFlowBuilder("broken").Build()
	assert.Error(t, m.AddFlows(broken))

	_, err = m.Run(context.Background(), chatRequest("broken", "x"))
	assert.ErrorIs(t, err, core.ErrFlowNotFound)
}

func TestFlowMesh_AddFlowsCustomRepository(t *testing.T) {
	m, err := New(func(o *Options) {
		o.Flows = flow.NewInMemoryRepository(echoFlow())
	})
	require.NoError(t, err)

	assert.Error(t, m.AddFlows(echoFlow()))

	res, err := m.Run(context.Background(), chatRequest("echo", "still works"))
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"echo": "still works"}, res.Output)
}

func TestFlowMesh_Callback(t *testing.T) {
	m, err := New()
	require.NoError(t, err)
	require.NoError(t, m.AddFlows(testutil.NewFlowBuilder("digest").
		Start(core.TriggerRoutine, "end").
		End("end", map[string]string{"topic": "start.topic"}).
		Build()))

	res, err := m.Callback(context.Background(), engine.RoutineRequest{
		FlowCode: "digest",
		Routine:  core.RoutineConfig{Type: "no_repeat"},
		Params:   map[string]any{"topic": "news"},
		Operator: core.Operator{UserID: "u-1", OrganizationCode: "org"},
	})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"topic": "news"}, res.Output)
}

const helloYAML = `
code: hello
type: main
enabled: true
nodes:
  - node_id: start
    node_type: start
    params:
      branches:
        - branch_id: chat
          trigger_type: 1
          next_nodes: [end]
  - node_id: end
    node_type: end
    output:
      type: object
      properties:
        text:
          type: string
          value:
            mode: expression
            expression: start.message_content
`

func TestFromConfig(t *testing.T) {
	dir := t.TempDir()
	flows := filepath.Join(dir, "flows")
	require.NoError(t, os.Mkdir(flows, 0o700))
	require.NoError(t, os.WriteFile(filepath.Join(flows, "hello.yaml"), []byte(helloYAML), 0o600))

	cfg := config.New()
	cfg.Runtime.FlowsDir = flows
	cfg.SQLite.Path = filepath.Join(dir, "snapshots.db")
	cfg.OpenAI.APIKeyEnv = ""
	cfg.Anthropic.APIKeyEnv = ""
	cfg.Azure.ConnectionStringEnv = ""

	m, err := FromConfig(context.Background(), cfg)
	require.NoError(t, err)
	defer m.Close()

	res, err := m.Run(context.Background(), chatRequest("hello", "from config"))
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"text": "from config"}, res.Output)
}

func TestFromConfig_InvalidFlow(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bad.yaml"), []byte("code: bad\nnodes: []\n"), 0o600))

	cfg := config.New()
	cfg.Runtime.FlowsDir = dir
	cfg.OpenAI.APIKeyEnv = ""
	cfg.Anthropic.APIKeyEnv = ""
	cfg.Azure.ConnectionStringEnv = ""

	_, err := FromConfig(context.Background(), cfg)
	assert.ErrorContains(t, err, "load flows")
}
