package node

import (
	"context"
	"fmt"

	"github.com/hupe1980/flowmesh/core"
)

// SubParams are the params of a sub-flow node. The node input form maps the
// current run onto the sub-flow arguments.
type SubParams struct {
	SubFlowID string `json:"sub_flow_id" validate:"required"`
}

// Sub is the sub-flow node definition.
func Sub() Definition {
	return define(core.NodeSub,
		func(n *core.Node, _ *Services) (*SubParams, error) {
			p := &SubParams{}
			if err := decode(n, p, nil); err != nil {
				return nil, err
			}
			return p, nil
		},
		runSub)
}

func runSub(ctx context.Context, env Env, p *SubParams, vr *core.VertexResult, exec *core.ExecutionContext, _ []*core.VertexResult) error {
	svc := env.Services
	if svc.Flows == nil || svc.Tools == nil {
		return missing("sub-flow runtime")
	}
	found, err := svc.Flows.GetByCodes(ctx, exec.Operator().OrganizationCode, []string{p.SubFlowID})
	if err != nil {
		return err
	}
	if len(found) == 0 || found[0] == nil {
		return fmt.Errorf("%w: %s", core.ErrFlowNotFound, p.SubFlowID)
	}
	sub := found[0]
	if !sub.Enabled {
		return fmt.Errorf("sub flow %s is disabled", sub.Code)
	}

	args, err := env.Node.Input.EvaluateMap(exec.ExpressionFieldData())
	if err != nil {
		return err
	}
	vr.AddDebugLog("sub_flow_id", sub.Code)
	vr.AddDebugLog("arguments", args)

	out, _, err := svc.Tools.Execute(ctx, exec, sub, args, nil, false, false)
	if err != nil {
		return err
	}
	env.save(vr, exec, out)
	return nil
}
