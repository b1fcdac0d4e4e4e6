package node

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cast"

	"github.com/hupe1980/flowmesh/agent"
	"github.com/hupe1980/flowmesh/core"
	"github.com/hupe1980/flowmesh/logging"
	"github.com/hupe1980/flowmesh/memory"
	"github.com/hupe1980/flowmesh/model"
	"github.com/hupe1980/flowmesh/tool"
)

// ModelConfig tunes one LLM node.
type ModelConfig struct {
	AutoMemory  bool    `json:"auto_memory"`
	MaxRecord   int     `json:"max_record" validate:"gte=1,lte=500"`
	Temperature float64 `json:"temperature" validate:"gte=0,lte=2"`
	Vision      bool    `json:"vision"`
	VisionModel string  `json:"vision_model,omitempty"`
}

// PluginConfig selects an agent plugin for an LLM node.
type PluginConfig struct {
	Code   string         `json:"code" validate:"required"`
	Params map[string]any `json:"params,omitempty"`
}

// LLMParams are the params of an LLM chat node.
type LLMParams struct {
	Model        *core.Value `json:"model" validate:"required"`
	SystemPrompt *core.Value `json:"system_prompt,omitempty"`
	UserPrompt   *core.Value `json:"user_prompt,omitempty"`
	ModelConfig  ModelConfig `json:"model_config"`
	// Messages is an array form of {role, content} used when auto memory is off.
	Messages     *core.Form        `json:"messages,omitempty"`
	Tools        []string          `json:"tools,omitempty"`
	OptionTools  []tool.OptionTool `json:"option_tools,omitempty" validate:"dive"`
	AgentPlugins []PluginConfig    `json:"agent_plugins,omitempty" validate:"dive"`
	MaxTurns     int               `json:"max_turns,omitempty" validate:"gte=0,lte=50"`

	plugins []boundPlugin
}

type boundPlugin struct {
	plugin agent.Plugin
	cfg    any
}

// LLM is the LLM chat node definition.
func LLM() Definition {
	return define(core.NodeLLM, parseLLM, runLLM)
}

func parseLLM(n *core.Node, svc *Services) (*LLMParams, error) {
	p := &LLMParams{
		ModelConfig: ModelConfig{
			AutoMemory:  true,
			MaxRecord:   50,
			Temperature: 0.5,
			Vision:      true,
		},
	}
	err := decode(n, p, map[string]core.ValueMode{
		"model":         core.ValueConst,
		"system_prompt": core.ValueTemplate,
		"user_prompt":   core.ValueTemplate,
	})
	if err != nil {
		return nil, err
	}
	if p.Model.IsZero() {
		return nil, core.NewValidationError("model", "required")
	}

	var plugins *agent.PluginRegistry
	if svc != nil {
		plugins = svc.Plugins
	}
	for i, pc := range p.AgentPlugins {
		pl, ok := plugins.Get(pc.Code)
		if !ok {
			return nil, core.NewValidationError(fmt.Sprintf("agent_plugins.%d.code", i), fmt.Sprintf("unknown plugin %q", pc.Code))
		}
		cfg, err := pl.ParseParams(pc.Params)
		if err != nil {
			return nil, fmt.Errorf("agent_plugins.%d: %w", i, err)
		}
		p.plugins = append(p.plugins, boundPlugin{plugin: pl, cfg: cfg})
	}
	return p, nil
}

func runLLM(ctx context.Context, env Env, p *LLMParams, vr *core.VertexResult, exec *core.ExecutionContext, _ []*core.VertexResult) error {
	svc := env.Services
	if svc.Gateway == nil {
		return missing("model gateway")
	}
	data := exec.ExpressionFieldData()
	org := exec.Operator().OrganizationCode

	modelName, err := p.Model.ResolveString(data)
	if err != nil {
		return err
	}
	if p.ModelConfig.Vision && p.ModelConfig.VisionModel != "" && len(exec.AttachmentRecords()) > 0 {
		modelName = p.ModelConfig.VisionModel
	}
	m, err := svc.Gateway.ChatModel(ctx, modelName, org)
	if err != nil {
		return fmt.Errorf("resolve model %q: %w", modelName, err)
	}

	systemPrompt, err := p.SystemPrompt.ResolveString(data)
	if err != nil {
		return err
	}
	userPrompt, err := p.UserPrompt.ResolveString(data)
	if err != nil {
		return err
	}

	options := append([]tool.OptionTool(nil), p.OptionTools...)
	for _, id := range p.Tools {
		options = append(options, tool.OptionTool{ToolID: id})
	}
	for _, bp := range p.plugins {
		if extra := bp.plugin.AppendSystemPrompt(bp.cfg); extra != "" {
			systemPrompt = strings.TrimSpace(systemPrompt + "\n\n" + extra)
		}
		options = append(options, bp.plugin.Tools(bp.cfg)...)
	}

	mgr, err := memoryManager(p, exec, data, svc)
	if err != nil {
		return err
	}
	if err := mgr.Load(ctx); err != nil {
		return err
	}
	userMsg := memory.Message{Role: memory.RoleUser, Content: userPrompt, RequestID: exec.TriggerData().MessageInfo.ID}
	if userPrompt != "" {
		mgr.Append(userMsg)
	}

	var tools []tool.Tool
	if len(options) > 0 {
		if svc.Tools == nil {
			return missing("tools executor")
		}
		if tools, err = svc.Tools.CreateTools(ctx, exec, options); err != nil {
			return err
		}
	}

	toolNames := make([]string, 0, len(tools))
	for _, t := range tools {
		toolNames = append(toolNames, t.Name())
	}
	vr.AddDebugLog("model", modelName)
	vr.AddDebugLog("actual_system_prompt", systemPrompt)
	vr.AddDebugLog("messages", mgr.ProcessedMessages())
	vr.AddDebugLog("tools", toolNames)
	exec.LogDebug("llm.model", "node_id", env.Node.ID, "model", modelName)
	exec.LogDebug("llm.actual_system_prompt", "node_id", env.Node.ID, "prompt", systemPrompt)
	exec.LogDebug("llm.messages", "node_id", env.Node.ID, "count", len(mgr.ProcessedMessages()), "memory", mgr.Mode().String())
	exec.LogDebug("llm.tools", "node_id", env.Node.ID, "tools", toolNames)

	temperature := p.ModelConfig.Temperature
	req := model.Request{
		Instructions: systemPrompt,
		Contents:     mgr.Contents(),
		Stream:       exec.Stream(),
		Temperature:  &temperature,
		BusinessParams: map[string]any{
			"organization_id": org,
			"user_id":         exec.Operator().UserID,
			"business_id":     exec.ID(),
			"source_id":       exec.Operator().SourceID,
			"user_name":       exec.Operator().Nickname,
		},
	}

	start := time.Now()
	res, err := agent.Run(ctx, exec, m, req, tools, func(o *agent.Options) {
		o.MaxTurns = p.MaxTurns
		o.CallExecutor = agent.NewCallExecutor(agent.CallExecutorConfig{MaxParallel: svc.MaxParallelToolCalls})
	})
	logLLMCall(exec.Logger(), modelName, res, time.Since(start), err)
	if err != nil {
		var te *core.ToolExecutionError
		if errors.As(err, &te) || errors.Is(err, core.ErrMaxDepthExceeded) {
			return err
		}
		return fmt.Errorf("llm call: %w", err)
	}

	calls := make([]any, 0, len(res.ToolCalls))
	for _, rec := range res.ToolCalls {
		calls = append(calls, rec.ToMap())
	}
	vr.AddDebugLog("response", res.Text)
	vr.AddDebugLog("usage", res.Usage)

	if err := mgr.Remember(ctx, rememberMessages(userMsg, res.Text, exec)...); err != nil {
		exec.LogWarn("llm.memory.store_failed", "node_id", env.Node.ID, "error", err.Error())
	}

	env.save(vr, exec, map[string]any{
		"response":   res.Text,
		"reasoning":  res.Reasoning,
		"tool_calls": calls,
	})
	return nil
}

func memoryManager(p *LLMParams, exec *core.ExecutionContext, data map[string]any, svc *Services) (*memory.Manager, error) {
	policy := func(o *memory.ManagerOptions) {
		o.Policy = memory.TruncatePolicy{MaxMessages: p.ModelConfig.MaxRecord}
	}
	if !p.ModelConfig.AutoMemory {
		msgs, err := manualMessages(p.Messages, data)
		if err != nil {
			return nil, err
		}
		return memory.NewManualManager(msgs, policy), nil
	}
	if svc.Memory == nil {
		return nil, missing("memory persistence")
	}
	topic, _ := exec.TopicID()
	q := memory.Query{
		ConversationID:       exec.ConversationID(),
		OriginConversationID: exec.OriginConversationID(),
		TopicID:              topic,
		Limit:                p.ModelConfig.MaxRecord,
	}
	var ignore []string
	if id := exec.TriggerData().MessageInfo.ID; id != "" {
		ignore = append(ignore, id)
	}
	return memory.NewAutoManager(svc.Memory, q, ignore, policy), nil
}

// manualMessages evaluates the messages form into {role, content} turns.
func manualMessages(form *core.Form, data map[string]any) ([]memory.Message, error) {
	if form == nil {
		return nil, nil
	}
	v, err := form.Evaluate(data)
	if err != nil {
		return nil, err
	}
	items, ok := toList(v)
	if !ok {
		return nil, nil
	}
	out := make([]memory.Message, 0, len(items))
	for i, it := range items {
		m, err := cast.ToStringMapE(it)
		if err != nil {
			return nil, core.NewValidationError(fmt.Sprintf("messages.%d", i), "must be an object with role and content")
		}
		role := cast.ToString(m["role"])
		if role == "" {
			role = memory.RoleUser
		}
		content := cast.ToString(m["content"])
		if strings.Contains(content, "{{") {
			if content, err = core.Template(content).ResolveString(data); err != nil {
				return nil, err
			}
		}
		out = append(out, memory.Message{Role: role, Content: content})
	}
	return out, nil
}

func rememberMessages(user memory.Message, reply string, exec *core.ExecutionContext) []memory.Message {
	var out []memory.Message
	if user.Content != "" {
		out = append(out, user)
	}
	if reply != "" {
		out = append(out, memory.Message{Role: memory.RoleAssistant, Content: reply, RequestID: exec.ID()})
	}
	return out
}

func logLLMCall(l logging.Logger, modelName string, res *agent.Result, d time.Duration, err error) {
	fl, ok := l.(*logging.FlowLogger)
	if !ok {
		return
	}
	tokens := 0
	if res != nil {
		tokens = res.Usage.TotalTokens
	}
	fl.LogLLMCall(modelName, tokens, d, err == nil, err)
}
