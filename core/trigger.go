package core

import (
	"maps"
	"time"
)

// TriggerType is the reason a run started.
type TriggerType int

const (
	TriggerNone           TriggerType = 0
	TriggerChatMessage    TriggerType = 1
	TriggerOpenChatWindow TriggerType = 2
	TriggerParamCall      TriggerType = 3
	TriggerRoutine        TriggerType = 4
	TriggerLoopStart      TriggerType = 5
	TriggerAddFriend      TriggerType = 7
)

var triggerTypeNames = map[TriggerType]string{
	TriggerNone:           "none",
	TriggerChatMessage:    "chat_message",
	TriggerOpenChatWindow: "open_chat_window",
	TriggerParamCall:      "param_call",
	TriggerRoutine:        "routine",
	TriggerLoopStart:      "loop_start",
	TriggerAddFriend:      "add_friend",
}

func (t TriggerType) String() string {
	if s, ok := triggerTypeNames[t]; ok {
		return s
	}
	return "unknown"
}

// Valid reports whether t is a known trigger type other than none.
func (t TriggerType) Valid() bool {
	_, ok := triggerTypeNames[t]
	return ok && t != TriggerNone
}

// ExecutionType classifies the surface that started a run.
type ExecutionType string

const (
	ExecutionChat    ExecutionType = "chat"
	ExecutionDebug   ExecutionType = "debug"
	ExecutionRoutine ExecutionType = "routine"
	ExecutionAPI     ExecutionType = "sk_api"
	ExecutionIMChat  ExecutionType = "im_chat"
)

// UserInfo identifies the human (or agent) on whose behalf a run happens.
type UserInfo struct {
	ID       string `json:"id" yaml:"id" msgpack:"id"`
	Nickname string `json:"nickname" yaml:"nickname" msgpack:"nickname"`
	RealName string `json:"real_name,omitempty" yaml:"real_name" msgpack:"real_name"`
}

// MessageInfo describes the chat message that triggered the run.
type MessageInfo struct {
	ID      string    `json:"id" yaml:"id"`
	Type    string    `json:"type" yaml:"type"`
	Content string    `json:"content" yaml:"content"`
	Time    time.Time `json:"time" yaml:"time"`
}

// TriggerData is the payload a run was triggered with.
type TriggerData struct {
	TriggerTime    time.Time          `json:"trigger_time"`
	UserInfo       UserInfo           `json:"user_info"`
	MessageInfo    MessageInfo        `json:"message_info"`
	Params         map[string]any     `json:"params"`
	Attachments    []AttachmentRecord `json:"-"`
	GlobalVariable map[string]any     `json:"global_variable"`
	SystemParams   map[string]any     `json:"system_params"`
	// IsAssistantParamCall is set when a model invoked the flow as a tool.
	IsAssistantParamCall bool `json:"is_assistant_param_call"`
}

// NewTriggerData builds trigger data stamped with the current time.
func NewTriggerData(user UserInfo, msg MessageInfo, params map[string]any) *TriggerData {
	if params == nil {
		params = map[string]any{}
	}
	return &TriggerData{
		TriggerTime:    time.Now(),
		UserInfo:       user,
		MessageInfo:    msg,
		Params:         params,
		GlobalVariable: map[string]any{},
		SystemParams:   map[string]any{},
	}
}

// Clone returns a copy whose maps can be mutated independently.
func (t *TriggerData) Clone() *TriggerData {
	if t == nil {
		return nil
	}
	c := *t
	c.Params = maps.Clone(t.Params)
	c.GlobalVariable = maps.Clone(t.GlobalVariable)
	c.SystemParams = maps.Clone(t.SystemParams)
	c.Attachments = append([]AttachmentRecord(nil), t.Attachments...)
	return &c
}
