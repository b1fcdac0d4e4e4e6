package node

import (
	"context"
	"fmt"

	"github.com/hupe1980/flowmesh/core"
)

// DefaultMaxLoopCount bounds loop iterations when a node sets no limit.
const DefaultMaxLoopCount = 100

// LoopParams are the params of a loop node.
type LoopParams struct {
	Type         string      `json:"type" validate:"required,oneof=count array"`
	Count        *core.Value `json:"count,omitempty"`
	Array        *core.Value `json:"array,omitempty"`
	MaxLoopCount int         `json:"max_loop_count" validate:"gte=1,lte=10000"`
	// Body is the entry node of the loop body. Body nodes carry the loop id as parent_id.
	Body string `json:"body" validate:"required"`
}

// Loop is the loop node definition.
func Loop() Definition {
	return define(core.NodeLoop, parseLoop, runLoop)
}

func parseLoop(n *core.Node, _ *Services) (*LoopParams, error) {
	p := &LoopParams{MaxLoopCount: DefaultMaxLoopCount}
	err := decode(n, p, map[string]core.ValueMode{
		"count": core.ValueConst,
		"array": core.ValueExpression,
	})
	if err != nil {
		return nil, err
	}
	switch p.Type {
	case "count":
		if p.Count.IsZero() {
			return nil, core.NewValidationError("count", "required")
		}
	case "array":
		if p.Array.IsZero() {
			return nil, core.NewValidationError("array", "required")
		}
	}
	return p, nil
}

func runLoop(ctx context.Context, env Env, p *LoopParams, vr *core.VertexResult, exec *core.ExecutionContext, _ []*core.VertexResult) error {
	if env.Services.Body == nil {
		return missing("loop body runner")
	}
	data := exec.ExpressionFieldData()

	var items []any
	switch p.Type {
	case "count":
		n, err := resolveInt(p.Count, data, "count", 0)
		if err != nil {
			return err
		}
		if n < 0 {
			return core.NewValidationError("count", "must not be negative")
		}
		items = make([]any, n)
		for i := range items {
			items[i] = i
		}
	default:
		raw, err := p.Array.Resolve(data)
		if err != nil {
			return err
		}
		if raw != nil {
			list, ok := toList(raw)
			if !ok {
				return core.NewValidationError("array", "must resolve to a list")
			}
			items = list
		}
	}
	if len(items) > p.MaxLoopCount {
		return core.NewValidationError("max_loop_count", fmt.Sprintf("%d iterations exceed the limit of %d", len(items), p.MaxLoopCount))
	}
	vr.AddDebugLog("iterations", len(items))

	for i, item := range items {
		if err := ctx.Err(); err != nil {
			return err
		}
		exec.SaveNodeContext(env.Node.ID, map[string]any{
			"index": i,
			"item":  item,
			"count": len(items),
		})
		if err := env.Services.Body.RunBody(ctx, exec, env.Flow, p.Body); err != nil {
			return fmt.Errorf("loop iteration %d: %w", i, err)
		}
	}

	env.save(vr, exec, map[string]any{"count": len(items)})
	return nil
}
