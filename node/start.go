package node

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"

	"github.com/hupe1980/flowmesh/core"
	"github.com/hupe1980/flowmesh/internal/validate"
)

const timeLayout = "2006-01-02 15:04:05"

// StartParams are the params of a start node.
type StartParams struct {
	Branches []core.Branch `json:"branches" validate:"required,min=1"`
}

// Branch returns the branch serving tt.
func (p *StartParams) Branch(tt core.TriggerType) (core.Branch, bool) {
	for _, b := range p.Branches {
		if b.TriggerType == tt {
			return b, true
		}
	}
	return core.Branch{}, false
}

// OpenChatWindowConfig throttles how often the open-window branch fires.
type OpenChatWindowConfig struct {
	Interval int    `json:"interval" validate:"gt=0"`
	Unit     string `json:"unit" validate:"required,oneof=minutes hours seconds"`
}

// Start is the start node definition.
func Start() Definition {
	return define(core.NodeStart, parseStart, runStart)
}

func parseStart(n *core.Node, _ *Services) (*StartParams, error) {
	p := &StartParams{}
	if err := decode(n, p, nil); err != nil {
		return nil, err
	}
	seen := map[core.TriggerType]bool{}
	for i, b := range p.Branches {
		field := fmt.Sprintf("branches.%d", i)
		if !b.TriggerType.Valid() {
			return nil, core.NewValidationError(field+".trigger_type", "unknown trigger type")
		}
		if seen[b.TriggerType] {
			return nil, core.NewValidationError(field+".trigger_type", "duplicate branch for "+b.TriggerType.String())
		}
		seen[b.TriggerType] = true

		switch b.TriggerType {
		case core.TriggerOpenChatWindow:
			var cfg OpenChatWindowConfig
			if err := decodeConfig(b.Config, &cfg); err != nil {
				return nil, err
			}
		case core.TriggerRoutine:
			var cfg core.RoutineConfig
			if err := decodeConfig(b.Config, &cfg); err != nil {
				return nil, err
			}
		}
	}
	return p, nil
}

func decodeConfig(raw map[string]any, out any) error {
	b, err := json.Marshal(raw)
	if err != nil {
		return core.NewValidationError("config", err.Error())
	}
	if err := json.Unmarshal(b, out); err != nil {
		return core.NewValidationError("config", err.Error())
	}
	return validate.Struct(out)
}

func runStart(_ context.Context, env Env, p *StartParams, vr *core.VertexResult, exec *core.ExecutionContext, _ []*core.VertexResult) error {
	tt := exec.TriggerType()
	b, ok := p.Branch(tt)
	if !ok {
		return fmt.Errorf("%w: %s", core.ErrBranchNotFound, tt)
	}
	vr.AddDebugLog("branch_id", b.BranchID)

	trigger := exec.TriggerData()
	data := exec.ExpressionFieldData()

	var (
		out map[string]any
		err error
	)
	switch tt {
	case core.TriggerParamCall, core.TriggerRoutine:
		params := maps.Clone(trigger.Params)
		delete(params, "custom_system_input")
		if out, err = bindForm(b.Output, params, data); err != nil {
			return err
		}
		if tt == core.TriggerParamCall {
			sys, err := bindForm(b.CustomSystemOutput, trigger.SystemParams, data)
			if err != nil {
				return err
			}
			exec.SaveNodeContext(core.SystemNodeID(env.Node.ID), sys)
		}
	case core.TriggerChatMessage:
		out = ChatMessageOutput(exec)
	case core.TriggerOpenChatWindow:
		topic, _ := exec.TopicID()
		out = map[string]any{
			"conversation_id": exec.ConversationID(),
			"topic_id":        topic,
			"open_time":       trigger.TriggerTime.Format(timeLayout),
			"user":            userOutput(trigger.UserInfo),
		}
	case core.TriggerAddFriend:
		out = map[string]any{
			"user":     userOutput(trigger.UserInfo),
			"add_time": trigger.TriggerTime.Format(timeLayout),
		}
	default:
		out = map[string]any{}
	}

	vr.ChildrenIDs = append(make([]string, 0, len(b.NextNodes)), b.NextNodes...)
	env.save(vr, exec, out)
	return nil
}

// bindForm maps params onto form. Without a form the params pass through.
func bindForm(form *core.Form, params, data map[string]any) (map[string]any, error) {
	if form == nil {
		out := maps.Clone(params)
		if out == nil {
			out = map[string]any{}
		}
		return out, nil
	}
	out, err := form.Bind(params, data)
	if err != nil {
		return nil, err
	}
	if err := form.CheckRequired(out); err != nil {
		return nil, err
	}
	return out, nil
}

// ChatMessageOutput is the start output of a chat message run. A resumed wait
// node reports the same shape.
func ChatMessageOutput(exec *core.ExecutionContext) map[string]any {
	trigger := exec.TriggerData()
	topic, _ := exec.TopicID()

	files := make([]any, 0, len(trigger.Attachments))
	for _, a := range trigger.Attachments {
		files = append(files, a.Snapshot().ToMap())
	}
	msgTime := trigger.MessageInfo.Time
	if msgTime.IsZero() {
		msgTime = trigger.TriggerTime
	}
	return map[string]any{
		"message_content": trigger.MessageInfo.Content,
		"message_type":    trigger.MessageInfo.Type,
		"conversation_id": exec.ConversationID(),
		"topic_id":        topic,
		"message_time":    msgTime.Format(timeLayout),
		"files":           files,
		"user":            userOutput(trigger.UserInfo),
	}
}

func userOutput(u core.UserInfo) map[string]any {
	return map[string]any{"id": u.ID, "nickname": u.Nickname}
}
