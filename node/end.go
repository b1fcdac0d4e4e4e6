package node

import (
	"context"

	"github.com/hupe1980/flowmesh/core"
)

// EndParams are the params of an end node. The result shape is the node's
// output form.
type EndParams struct{}

// End is the end node definition.
func End() Definition {
	return define(core.NodeEnd,
		func(n *core.Node, _ *Services) (*EndParams, error) {
			if n.Output != nil && n.Output.Type != "object" {
				return nil, core.NewValidationError("output", "must be an object form")
			}
			return &EndParams{}, nil
		},
		func(_ context.Context, env Env, _ *EndParams, vr *core.VertexResult, exec *core.ExecutionContext, _ []*core.VertexResult) error {
			out, err := env.Node.Output.EvaluateMap(exec.ExpressionFieldData())
			if err != nil {
				return err
			}
			env.save(vr, exec, out)
			return nil
		})
}
