package node

import (
	"context"
	"strings"

	"github.com/hupe1980/flowmesh/core"
	"github.com/hupe1980/flowmesh/splitter"
)

// TextSplitterParams are the params of a text splitter node.
type TextSplitterParams struct {
	Content  *core.Value `json:"content" validate:"required"`
	Strategy *core.Value `json:"strategy,omitempty"`
}

// TextSplitter is the text splitter node definition.
func TextSplitter() Definition {
	return define(core.NodeTextSplitter,
		func(n *core.Node, _ *Services) (*TextSplitterParams, error) {
			p := &TextSplitterParams{}
			err := decode(n, p, map[string]core.ValueMode{
				"content":  core.ValueTemplate,
				"strategy": core.ValueConst,
			})
			if err != nil {
				return nil, err
			}
			if s, ok := constString(p.Strategy); ok {
				if _, err := strategy(s); err != nil {
					return nil, err
				}
			}
			return p, nil
		},
		runTextSplitter)
}

func strategy(s string) (splitter.Strategy, error) {
	switch st := splitter.Strategy(s); st {
	case "":
		return splitter.StrategyAuto, nil
	case splitter.StrategyAuto, splitter.StrategyToken:
		return st, nil
	default:
		return "", core.NewValidationError("strategy", "must be one of [auto token]")
	}
}

func runTextSplitter(ctx context.Context, env Env, p *TextSplitterParams, vr *core.VertexResult, exec *core.ExecutionContext, _ []*core.VertexResult) error {
	data := exec.ExpressionFieldData()

	content, err := p.Content.ResolveString(data)
	if err != nil {
		return err
	}
	if strings.TrimSpace(content) == "" {
		return core.NewValidationError("content", "required")
	}
	raw, err := p.Strategy.ResolveString(data)
	if err != nil {
		return err
	}
	st, err := strategy(raw)
	if err != nil {
		return err
	}

	s, err := splitter.New(st, func(o *splitter.Options) {
		o.Model = env.Services.EmbeddingModel
	})
	if err != nil {
		return err
	}
	chunks, err := s.Split(ctx, content)
	if err != nil {
		return err
	}
	vr.AddDebugLog("strategy", string(st))

	out := make([]any, 0, len(chunks))
	for _, c := range chunks {
		out = append(out, c)
	}
	env.save(vr, exec, map[string]any{"split_texts": out})
	return nil
}
