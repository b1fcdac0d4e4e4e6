package node

import (
	"context"
	"time"

	"github.com/hupe1980/flowmesh/core"
	"github.com/hupe1980/flowmesh/snapshot"
)

// TimeoutConfig bounds how long a parked run stays resumable.
type TimeoutConfig struct {
	Enabled  bool   `json:"enabled"`
	Interval int    `json:"interval" validate:"gt=0"`
	Unit     string `json:"unit" validate:"oneof=minutes hours seconds"`
}

// Duration converts the config to a duration.
func (c TimeoutConfig) Duration() time.Duration {
	d := time.Duration(c.Interval)
	switch c.Unit {
	case "seconds":
		return d * time.Second
	case "hours":
		return d * time.Hour
	default:
		return d * time.Minute
	}
}

// WaitParams are the params of a wait message node.
type WaitParams struct {
	TimeoutConfig TimeoutConfig `json:"timeout_config"`
}

// WaitMessage is the wait message node definition. It parks the run in the
// snapshot store; the next chat message on the same conversation resumes it.
func WaitMessage() Definition {
	return define(core.NodeWaitMessage,
		func(n *core.Node, _ *Services) (*WaitParams, error) {
			p := &WaitParams{TimeoutConfig: TimeoutConfig{Interval: 10, Unit: "minutes"}}
			if err := decode(n, p, nil); err != nil {
				return nil, err
			}
			return p, nil
		},
		runWait)
}

func runWait(ctx context.Context, env Env, p *WaitParams, vr *core.VertexResult, exec *core.ExecutionContext, _ []*core.VertexResult) error {
	svc := env.Services
	if svc.Snapshots == nil {
		return missing("snapshot store")
	}
	now := svc.now()
	topic, _ := exec.TopicID()

	snap := &snapshot.Snapshot{
		ConversationID: exec.ConversationID(),
		FlowCode:       exec.FlowCode(),
		ExecutionID:    exec.ID(),
		WaitNodeID:     env.Node.ID,
		Operator:       exec.Operator(),
		TopicID:        topic,
		CreatedAt:      now,
	}
	if p.TimeoutConfig.Enabled {
		snap.ExpiresAt = now.Add(p.TimeoutConfig.Duration())
	}

	// the wait node has no output until resumed
	env.save(vr, exec, map[string]any{})
	snap.Data = exec.GetPersistenceData()

	if err := svc.Snapshots.Save(ctx, snap); err != nil {
		return err
	}
	vr.AddDebugLog("suspended", true)
	exec.LogInfo("node.wait_message.suspended", "node_id", env.Node.ID, "conversation_id", snap.ConversationID)
	return ErrSuspend
}
