package agent

import (
	"github.com/spf13/cast"

	"github.com/hupe1980/flowmesh/builtin"
	"github.com/hupe1980/flowmesh/core"
	"github.com/hupe1980/flowmesh/internal/validate"
	"github.com/hupe1980/flowmesh/tool"
)

// Plugin extends an LLM node: it may append to the system prompt and
// contribute tools. Params are parsed once when the flow is validated.
type Plugin interface {
	Code() string
	ParseParams(params map[string]any) (any, error)
	AppendSystemPrompt(cfg any) string
	Tools(cfg any) []tool.OptionTool
}

// PluginRegistry maps plugin codes to plugins. It is built once at startup.
type PluginRegistry struct {
	plugins map[string]Plugin
}

// NewPluginRegistry indexes plugins by code.
func NewPluginRegistry(plugins ...Plugin) *PluginRegistry {
	r := &PluginRegistry{plugins: make(map[string]Plugin, len(plugins))}
	for _, p := range plugins {
		r.plugins[p.Code()] = p
	}
	return r
}

// DefaultPlugins returns the registry of shipped plugins.
func DefaultPlugins() *PluginRegistry {
	return NewPluginRegistry(KnowledgeSimilarityPlugin{})
}

// Get returns the plugin registered under code.
func (r *PluginRegistry) Get(code string) (Plugin, bool) {
	if r == nil {
		return nil, false
	}
	p, ok := r.plugins[code]
	return p, ok
}

// KnowledgeSimilarityConfig is the parsed config of KnowledgeSimilarityPlugin.
type KnowledgeSimilarityConfig struct {
	KnowledgeCodes []string `json:"knowledge_codes" validate:"required,min=1,dive,required"`
	Limit          int      `json:"limit" validate:"gte=1,lte=100"`
	Score          float64  `json:"score" validate:"gt=0,lt=1"`
	Prompt         string   `json:"prompt,omitempty"`
}

// KnowledgeSimilarityPlugin gives the model a retrieval tool over fixed
// knowledge bases.
type KnowledgeSimilarityPlugin struct{}

// Code implements Plugin.
func (KnowledgeSimilarityPlugin) Code() string { return "knowledge_similarity" }

// ParseParams implements Plugin.
func (KnowledgeSimilarityPlugin) ParseParams(params map[string]any) (any, error) {
	cfg := KnowledgeSimilarityConfig{Limit: 5, Score: 0.4}
	if v, ok := params["knowledge_codes"]; ok {
		codes, err := cast.ToStringSliceE(v)
		if err != nil {
			return nil, core.NewValidationError("knowledge_codes", "must be a list of strings")
		}
		cfg.KnowledgeCodes = codes
	}
	if v, ok := params["limit"]; ok {
		cfg.Limit = cast.ToInt(v)
	}
	if v, ok := params["score"]; ok {
		cfg.Score = cast.ToFloat64(v)
	}
	cfg.Prompt = cast.ToString(params["prompt"])

	if err := validate.Struct(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// AppendSystemPrompt implements Plugin.
func (KnowledgeSimilarityPlugin) AppendSystemPrompt(cfg any) string {
	c, _ := cfg.(KnowledgeSimilarityConfig)
	if c.Prompt != "" {
		return c.Prompt
	}
	return "When the question may be answered by the knowledge base, call the " +
		builtin.KnowledgeSimilarityToolName + " tool first and answer from the returned fragments."
}

// Tools implements Plugin.
func (KnowledgeSimilarityPlugin) Tools(cfg any) []tool.OptionTool {
	c, _ := cfg.(KnowledgeSimilarityConfig)
	return []tool.OptionTool{{
		ToolID:    builtin.KnowledgeSimilarityCode,
		ToolSetID: builtin.KnowledgeToolSetCode,
		CustomSystemInput: core.ObjectForm(map[string]*core.Form{
			"knowledge_codes": {Type: "array", Value: core.Const(c.KnowledgeCodes)},
			"limit":           {Type: "integer", Value: core.Const(c.Limit)},
			"score":           {Type: "number", Value: core.Const(c.Score)},
		}),
	}}
}
