package node

import (
	"context"

	"github.com/hupe1980/flowmesh/core"
)

// VariableOp is one variable mutation.
type VariableOp struct {
	Name  string      `json:"name" validate:"required"`
	Value *core.Value `json:"value,omitempty"`
	Op    string      `json:"op,omitempty" validate:"omitempty,oneof=save push shift destroy"`
}

// VariableSaveParams are the params of a variable save node.
type VariableSaveParams struct {
	Variables []VariableOp `json:"variables" validate:"required,min=1,dive"`
}

// VariableSave is the variable save node definition.
func VariableSave() Definition {
	return define(core.NodeVariableSave,
		func(n *core.Node, _ *Services) (*VariableSaveParams, error) {
			p := &VariableSaveParams{}
			if err := decode(n, p, nil); err != nil {
				return nil, err
			}
			return p, nil
		},
		runVariableSave)
}

// runVariableSave applies the ops in order. The output maps each name to its
// value after the op; shift reports the removed head instead.
func runVariableSave(_ context.Context, env Env, p *VariableSaveParams, vr *core.VertexResult, exec *core.ExecutionContext, _ []*core.VertexResult) error {
	out := make(map[string]any, len(p.Variables))
	for _, op := range p.Variables {
		switch op.Op {
		case "shift":
			out[op.Name] = exec.VariableShift(op.Name)
		case "destroy":
			exec.VariableDestroy(op.Name)
			out[op.Name] = nil
		default:
			v, err := op.Value.Resolve(exec.ExpressionFieldData())
			if err != nil {
				return err
			}
			if op.Op == "push" {
				exec.VariablePush(op.Name, v)
			} else {
				exec.VariableSave(op.Name, v)
			}
			out[op.Name] = exec.VariableGet(op.Name, nil)
		}
	}
	env.save(vr, exec, out)
	return nil
}
