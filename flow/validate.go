package flow

import (
	"fmt"

	"github.com/hupe1980/flowmesh/core"
	"github.com/hupe1980/flowmesh/node"
)

// Validate parses every node's params into its typed params object and checks
// the graph: one top-level start node, known edge targets within the same
// scope, loop bodies owned by loop nodes and no cycles. A flow is validated
// once; later calls are no-ops.
func (x *Executor) Validate(f *core.Flow) error {
	x.mu.Lock()
	defer x.mu.Unlock()

	if f.Validated() {
		return nil
	}
	if err := x.validate(f); err != nil {
		return fmt.Errorf("flow %s: %w", f.Code, err)
	}
	f.MarkValidated()
	return nil
}

func (x *Executor) validate(f *core.Flow) error {
	if len(f.Nodes) == 0 {
		return core.NewValidationError("nodes", "required")
	}

	ids := make(map[string]*core.Node, len(f.Nodes))
	starts := 0
	for _, n := range f.Nodes {
		if n.ID == "" {
			return core.NewValidationError("node_id", "required")
		}
		if _, dup := ids[n.ID]; dup {
			return core.NewValidationError("node_id", "duplicate node id "+n.ID)
		}
		ids[n.ID] = n
		if n.Type == core.NodeStart && n.ParentID == "" {
			starts++
		}
	}
	if starts != 1 {
		return core.NewValidationError("nodes", fmt.Sprintf("expected exactly one start node, found %d", starts))
	}

	for _, n := range f.Nodes {
		p, err := x.registry.Parse(n, x.svc)
		if err != nil {
			return fmt.Errorf("node %s: %w", n.ID, err)
		}
		n.SetParsedParams(p)
	}

	for _, n := range f.Nodes {
		if n.ParentID != "" {
			parent, ok := ids[n.ParentID]
			if !ok || parent.Type != core.NodeLoop {
				return core.NewValidationError("parent_id", fmt.Sprintf("node %s: parent %s is not a loop node", n.ID, n.ParentID))
			}
			if n.Type == core.NodeWaitMessage {
				return core.NewValidationError("node_type", fmt.Sprintf("node %s: wait_message cannot run inside a loop", n.ID))
			}
		}
		for _, c := range x.successors(f, n) {
			child, ok := ids[c]
			if !ok {
				return core.NewValidationError("next_nodes", fmt.Sprintf("node %s: unknown next node %s", n.ID, c))
			}
			if child.ParentID != n.ParentID {
				return core.NewValidationError("next_nodes", fmt.Sprintf("node %s: next node %s is in another scope", n.ID, c))
			}
		}
		if n.Type == core.NodeLoop {
			body := loopBody(n)
			if b, ok := ids[body]; !ok || b.ParentID != n.ID {
				return core.NewValidationError("body", fmt.Sprintf("node %s: body %s must be a node with parent_id %s", n.ID, body, n.ID))
			}
		}
	}

	return x.checkAcyclic(f)
}

func loopBody(n *core.Node) string {
	if p, ok := n.ParsedParams().(*node.LoopParams); ok {
		return p.Body
	}
	return ""
}

func (x *Executor) checkAcyclic(f *core.Flow) error {
	const (
		unvisited = iota
		visiting
		done
	)
	state := make(map[string]int, len(f.Nodes))

	var visit func(n *core.Node) error
	visit = func(n *core.Node) error {
		switch state[n.ID] {
		case visiting:
			return core.NewValidationError("next_nodes", "cycle through node "+n.ID)
		case done:
			return nil
		}
		state[n.ID] = visiting
		for _, c := range x.successors(f, n) {
			if err := visit(f.Node(c)); err != nil {
				return err
			}
		}
		state[n.ID] = done
		return nil
	}

	for _, n := range f.Nodes {
		if state[n.ID] == unvisited {
			if err := visit(n); err != nil {
				return err
			}
		}
	}
	return nil
}
