package core

import (
	"context"
	"maps"
	"reflect"

	"github.com/hupe1980/flowmesh/logging"
)

// ExecutionContext carries the mutable per-run state threaded through every
// node of a flow run. It aggregates:
//   - Identity and nesting (id, unique ids, level)
//   - Trigger type and payload
//   - Flow linkage (code, version, creator, parent flow code)
//   - Per-node outputs, execution counters and the full VertexResult history
//   - Variables and attachment records
//   - Conversation linkage, operator and data isolation scope
//   - Stream flag, protocol version and status
//
// An ExecutionContext is owned by exactly one goroutine. Nested runs receive
// their own instance through Extends, so no locking is required.
type ExecutionContext struct {
	id             string
	uniqueID       string
	uniqueParentID string
	level          int

	executionType ExecutionType
	triggerType   TriggerType
	triggerData   *TriggerData

	agentID          string
	agentUserID      string
	agentUserIDKnown bool

	flowCode       string
	flowVersion    string
	flowCreator    string
	parentFlowCode string

	nodeContext map[string]map[string]any
	executeNum  map[string]int
	history     map[string]map[int]*VertexResult
	trail       []*VertexResult

	variables       map[string]any
	attachments     map[string]AttachmentRecord
	attachmentOrder []string

	conversationID       string
	originConversationID string
	topicID              string

	operator       Operator
	dataIsolation  DataIsolation
	senderEntities []SenderEntity
	replyMessages  []ReplyMessage

	debug         bool
	stream        bool
	streamVersion string
	streamStatus  FlowStreamStatus

	directory UserDirectory

	*loggerAdapter
}

// ExecutionOptions configures a new ExecutionContext.
type ExecutionOptions struct {
	ID                   string
	ExecutionType        ExecutionType
	ConversationID       string
	OriginConversationID string
	TopicID              string
	Operator             Operator
	AgentID              string
	FlowCode             string
	FlowVersion          string
	FlowCreator          string
	Debug                bool
	Stream               bool
	StreamVersion        string
	Directory            UserDirectory
	Logger               logging.Logger
}

// NewExecutionContext creates the context of a top-level run (level 0).
// Global variables of the trigger payload are seeded into the variable store.
func NewExecutionContext(triggerType TriggerType, trigger *TriggerData, optFns ...func(o *ExecutionOptions)) *ExecutionContext {
	opts := ExecutionOptions{
		ExecutionType: ExecutionChat,
		StreamVersion: DefaultStreamVersion,
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	if trigger == nil {
		trigger = NewTriggerData(UserInfo{}, MessageInfo{}, nil)
	}
	if opts.ID == "" {
		opts.ID = NewExecutionID()
	}
	if opts.ConversationID == "" {
		opts.ConversationID = NewConversationID()
	}
	if opts.OriginConversationID == "" {
		opts.OriginConversationID = opts.ConversationID
	}
	if opts.StreamVersion == "" {
		opts.StreamVersion = DefaultStreamVersion
	}

	e := &ExecutionContext{
		id:                   opts.ID,
		uniqueID:             NewUniqueID(),
		executionType:        opts.ExecutionType,
		triggerType:          triggerType,
		triggerData:          trigger,
		agentID:              opts.AgentID,
		flowCode:             opts.FlowCode,
		flowVersion:          opts.FlowVersion,
		flowCreator:          opts.FlowCreator,
		nodeContext:          map[string]map[string]any{},
		executeNum:           map[string]int{},
		history:              map[string]map[int]*VertexResult{},
		variables:            map[string]any{},
		attachments:          map[string]AttachmentRecord{},
		conversationID:       opts.ConversationID,
		originConversationID: opts.OriginConversationID,
		topicID:              opts.TopicID,
		operator:             opts.Operator,
		dataIsolation:        NewDataIsolation(opts.Operator),
		debug:                opts.Debug,
		stream:               opts.Stream,
		streamVersion:        opts.StreamVersion,
		streamStatus:         StreamPending,
		directory:            opts.Directory,
		loggerAdapter:        newLoggerAdapter(opts.Logger),
	}

	maps.Copy(e.variables, trigger.GlobalVariable)
	for _, a := range trigger.Attachments {
		e.AddAttachmentRecord(a)
	}

	return e
}

// Extends derives a child context for a nested run (flow-as-tool, sub-flow).
// Lineage (flow, conversation, operator, agent, stream state) is copied, the
// level is incremented and the parent's unique id recorded. The child starts
// with its own empty node context and variable maps.
func (e *ExecutionContext) Extends(parent *ExecutionContext) {
	e.parentFlowCode = parent.parentFlowCode
	if e.parentFlowCode == "" {
		e.parentFlowCode = parent.flowCode
	}
	e.executionType = parent.executionType
	e.conversationID = parent.conversationID
	e.originConversationID = parent.originConversationID
	e.topicID = parent.topicID
	e.senderEntities = append([]SenderEntity(nil), parent.senderEntities...)
	e.agentID = parent.agentID
	e.agentUserID = parent.agentUserID
	e.agentUserIDKnown = parent.agentUserIDKnown
	e.operator = parent.operator
	e.dataIsolation = parent.dataIsolation
	e.debug = parent.debug
	e.stream = parent.stream
	e.streamVersion = parent.streamVersion
	e.streamStatus = parent.streamStatus
	e.directory = parent.directory
	e.loggerAdapter = parent.loggerAdapter
	e.level = parent.level + 1
	e.uniqueParentID = parent.uniqueID
}

// Clone returns a deep copy of the run state under a new unique id.
// Attachment records are shared since they cache their own upload.
func (e *ExecutionContext) Clone() *ExecutionContext {
	c := *e
	c.uniqueID = NewUniqueID()
	c.triggerData = e.triggerData.Clone()
	c.nodeContext = make(map[string]map[string]any, len(e.nodeContext))
	for k, v := range e.nodeContext {
		c.nodeContext[k] = deepCopyMap(v)
	}
	c.executeNum = maps.Clone(e.executeNum)
	c.history = make(map[string]map[int]*VertexResult, len(e.history))
	for k, v := range e.history {
		c.history[k] = maps.Clone(v)
	}
	c.trail = append([]*VertexResult(nil), e.trail...)
	c.variables = deepCopyMap(e.variables)
	c.attachments = maps.Clone(e.attachments)
	c.attachmentOrder = append([]string(nil), e.attachmentOrder...)
	c.senderEntities = append([]SenderEntity(nil), e.senderEntities...)
	c.replyMessages = append([]ReplyMessage(nil), e.replyMessages...)
	return &c
}

// ID returns the run id.
func (e *ExecutionContext) ID() string { return e.id }

// SetID replaces the run id.
func (e *ExecutionContext) SetID(id string) { e.id = id }

// UniqueID identifies this context instance.
func (e *ExecutionContext) UniqueID() string { return e.uniqueID }

// UniqueParentID is the unique id of the context this one extends, if any.
func (e *ExecutionContext) UniqueParentID() string { return e.uniqueParentID }

// Level is the nesting depth (0 = top-level run).
func (e *ExecutionContext) Level() int { return e.level }

// ExecutionType reports how the run was started (chat, debug, api, ...).
func (e *ExecutionContext) ExecutionType() ExecutionType { return e.executionType }

// TriggerType is the trigger that selected the start branch.
func (e *ExecutionContext) TriggerType() TriggerType { return e.triggerType }

// TriggerData is the payload the run was triggered with.
func (e *ExecutionContext) TriggerData() *TriggerData { return e.triggerData }

// AgentID is the agent the flow belongs to, empty for standalone flows.
func (e *ExecutionContext) AgentID() string { return e.agentID }

// SetAgentID overrides the agent id.
func (e *ExecutionContext) SetAgentID(id string) { e.agentID = id }

// FlowCode is the code of the flow being executed.
func (e *ExecutionContext) FlowCode() string { return e.flowCode }

// FlowVersion is the version of the flow being executed.
func (e *ExecutionContext) FlowVersion() string { return e.flowVersion }

// FlowCreator is the user who created the flow being executed.
func (e *ExecutionContext) FlowCreator() string { return e.flowCreator }

// ParentFlowCode is the code of the top-level flow of a nested run.
func (e *ExecutionContext) ParentFlowCode() string { return e.parentFlowCode }

// ConversationID returns the conversation the run answers.
func (e *ExecutionContext) ConversationID() string { return e.conversationID }

// OriginConversationID is the conversation a forwarded run came from.
func (e *ExecutionContext) OriginConversationID() string {
	return e.originConversationID
}

// TopicID returns the topic id and whether one is set.
func (e *ExecutionContext) TopicID() (string, bool) { return e.topicID, e.topicID != "" }

// Operator is the user the run acts on behalf of.
func (e *ExecutionContext) Operator() Operator { return e.operator }

// DataIsolation scopes store access for the run.
func (e *ExecutionContext) DataIsolation() DataIsolation { return e.dataIsolation }

// Debug reports whether the run is a debug run.
func (e *ExecutionContext) Debug() bool { return e.debug }

// Stream reports whether replies are streamed.
func (e *ExecutionContext) Stream() bool { return e.stream }

// StreamVersion is the streaming protocol version.
func (e *ExecutionContext) StreamVersion() string { return e.streamVersion }

// StreamStatus is the current stream lifecycle state.
func (e *ExecutionContext) StreamStatus() FlowStreamStatus {
	return e.streamStatus
}

// SetFlow records which flow this context is executing.
func (e *ExecutionContext) SetFlow(f *Flow) {
	e.flowCode = f.Code
	e.flowVersion = f.Version
	e.flowCreator = f.Creator
	if e.agentID == "" {
		e.agentID = f.AgentID
	}
}

// SetStreamStatus advances the stream status. Terminal states are sticky.
func (e *ExecutionContext) SetStreamStatus(s FlowStreamStatus) {
	if e.streamStatus.Terminal() {
		return
	}
	e.streamStatus = s
}

// SenderEntities returns the identities replies are sent on behalf of.
func (e *ExecutionContext) SenderEntities() []SenderEntity { return e.senderEntities }

// AddSenderEntity appends a sender identity.
func (e *ExecutionContext) AddSenderEntity(s SenderEntity) {
	e.senderEntities = append(e.senderEntities, s)
}

// AddReplyMessage queues a reply for the surrounding chat system.
func (e *ExecutionContext) AddReplyMessage(m ReplyMessage) {
	e.replyMessages = append(e.replyMessages, m)
}

// ReplyMessages returns the replies queued so far.
func (e *ExecutionContext) ReplyMessages() []ReplyMessage { return e.replyMessages }

// SaveNodeContext stores the latest output of a node.
func (e *ExecutionContext) SaveNodeContext(nodeID string, output map[string]any) {
	if output == nil {
		output = map[string]any{}
	}
	e.nodeContext[nodeID] = output
}

// NodeContext returns the latest output of a node, or an empty map.
func (e *ExecutionContext) NodeContext(nodeID string) map[string]any {
	if v, ok := e.nodeContext[nodeID]; ok {
		return v
	}
	return map[string]any{}
}

// IncreaseExecuteNum records one more execution of nodeID (step executions
// when step > 1) and files vr in the history under the new count.
func (e *ExecutionContext) IncreaseExecuteNum(nodeID string, vr *VertexResult, step int) int {
	if step < 1 {
		step = 1
	}
	e.executeNum[nodeID] += step
	n := e.executeNum[nodeID]
	if vr != nil {
		vr.NodeID = nodeID
		vr.ExecuteNum = n
		if e.history[nodeID] == nil {
			e.history[nodeID] = map[int]*VertexResult{}
		}
		e.history[nodeID][n] = vr
		e.trail = append(e.trail, vr)
	}
	return n
}

// ExecuteNum returns how many times nodeID has run since the last Rewind.
func (e *ExecutionContext) ExecuteNum(nodeID string) int { return e.executeNum[nodeID] }

// NodeHistoryVertexResult returns the VertexResult of the n-th execution of nodeID.
func (e *ExecutionContext) NodeHistoryVertexResult(nodeID string, n int) (*VertexResult, bool) {
	vr, ok := e.history[nodeID][n]
	return vr, ok
}

// VertexResults returns every recorded result in execution order.
func (e *ExecutionContext) VertexResults() []*VertexResult { return e.trail }

// FirstFailure returns the earliest failed node execution, if any.
func (e *ExecutionContext) FirstFailure() (*VertexResult, bool) {
	for _, vr := range e.trail {
		if vr.Status == NodeFailed {
			return vr, true
		}
	}
	return nil, false
}

// LastFailure returns the most recent failed node execution. A loop fails
// after its body node, so this is the innermost failure.
func (e *ExecutionContext) LastFailure() (*VertexResult, bool) {
	for i := len(e.trail) - 1; i >= 0; i-- {
		if e.trail[i].Status == NodeFailed {
			return e.trail[i], true
		}
	}
	return nil, false
}

// Rewind resets all execution counters.
func (e *ExecutionContext) Rewind() {
	e.executeNum = map[string]int{}
}

// ExpressionFieldData exposes node outputs keyed by node id plus a "variables" key.
func (e *ExecutionContext) ExpressionFieldData() map[string]any {
	data := make(map[string]any, len(e.nodeContext)+1)
	for k, v := range e.nodeContext {
		data[k] = v
	}
	data["variables"] = e.variables
	return data
}

// VariableSave sets a variable.
func (e *ExecutionContext) VariableSave(key string, value any) { e.variables[key] = value }

// VariableExists reports whether key is set.
func (e *ExecutionContext) VariableExists(key string) bool {
	_, ok := e.variables[key]
	return ok
}

// VariableGet returns the variable or def when unset.
func (e *ExecutionContext) VariableGet(key string, def any) any {
	if v, ok := e.variables[key]; ok {
		return v
	}
	return def
}

// VariableDestroy removes a variable.
func (e *ExecutionContext) VariableDestroy(key string) { delete(e.variables, key) }

// Variables returns the variable store.
func (e *ExecutionContext) Variables() map[string]any { return e.variables }

// VariablePush appends value to an array variable. A missing variable becomes
// a one-element array; a non-array variable is left untouched.
func (e *ExecutionContext) VariablePush(key string, value any) {
	cur, ok := e.variables[key]
	if !ok || cur == nil {
		e.variables[key] = []any{value}
		return
	}
	list, ok := toAnySlice(cur)
	if !ok {
		return
	}
	e.variables[key] = append(list, value)
}

// VariableShift removes and returns the head of an array variable. It returns
// nil when the variable is missing, not an array, or empty.
func (e *ExecutionContext) VariableShift(key string) any {
	cur, ok := e.variables[key]
	if !ok {
		return nil
	}
	list, ok := toAnySlice(cur)
	if !ok || len(list) == 0 {
		return nil
	}
	head := list[0]
	e.variables[key] = list[1:]
	return head
}

// AddAttachmentRecord registers an attachment unless one with the same path exists.
// It returns the stored record.
func (e *ExecutionContext) AddAttachmentRecord(rec AttachmentRecord) AttachmentRecord {
	if existing, ok := e.attachments[rec.Path()]; ok {
		return existing
	}
	e.attachments[rec.Path()] = rec
	e.attachmentOrder = append(e.attachmentOrder, rec.Path())
	return rec
}

// AttachmentRecord returns the record stored under path.
func (e *ExecutionContext) AttachmentRecord(path string) (AttachmentRecord, bool) {
	rec, ok := e.attachments[path]
	return rec, ok
}

// AttachmentRecords returns all records in registration order.
func (e *ExecutionContext) AttachmentRecords() []AttachmentRecord {
	out := make([]AttachmentRecord, 0, len(e.attachmentOrder))
	for _, p := range e.attachmentOrder {
		out = append(out, e.attachments[p])
	}
	return out
}

// AgentUserID lazily resolves the user account acting for the agent. The
// parent flow code is used when this run executes as a nested tool. The first
// successful lookup is cached; a failed or empty lookup yields "".
func (e *ExecutionContext) AgentUserID(ctx context.Context) string {
	if e.agentUserIDKnown {
		return e.agentUserID
	}
	code := e.flowCode
	if e.parentFlowCode != "" {
		code = e.parentFlowCode
	}
	if code == "" || e.directory == nil {
		return ""
	}
	id, err := e.directory.AgentUserID(ctx, e.operator.OrganizationCode, code)
	if err != nil {
		e.LogWarn("execution.agent_user.lookup_failed", "flow_code", code, "error", err.Error())
		return ""
	}
	if id == "" {
		return ""
	}
	e.agentUserID = id
	e.agentUserIDKnown = true
	return id
}

// SetAgentUserID caches the agent user id explicitly.
func (e *ExecutionContext) SetAgentUserID(id string) {
	e.agentUserID = id
	e.agentUserIDKnown = id != ""
}

func toAnySlice(v any) ([]any, bool) {
	if l, ok := v.([]any); ok {
		return l, true
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, false
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out, true
}

func deepCopyMap(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = deepCopyValue(v)
	}
	return out
}

func deepCopyValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return deepCopyMap(t)
	case []any:
		out := make([]any, len(t))
		for i, x := range t {
			out[i] = deepCopyValue(x)
		}
		return out
	default:
		return v
	}
}
