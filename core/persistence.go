package core

// PersistenceData is the resumable subset of an ExecutionContext.
type PersistenceData struct {
	NodeContext       map[string]map[string]any `json:"node_context" msgpack:"node_context"`
	Variables         map[string]any            `json:"variables" msgpack:"variables"`
	AttachmentRecords []map[string]any          `json:"attachment_records" msgpack:"attachment_records"`
}

// GetPersistenceData snapshots node outputs, variables and attachment records.
func (e *ExecutionContext) GetPersistenceData() PersistenceData {
	nc := make(map[string]map[string]any, len(e.nodeContext))
	for k, v := range e.nodeContext {
		nc[k] = deepCopyMap(v)
	}
	records := make([]map[string]any, 0, len(e.attachmentOrder))
	for _, rec := range e.AttachmentRecords() {
		records = append(records, rec.Snapshot().ToMap())
	}
	return PersistenceData{
		NodeContext:       nc,
		Variables:         deepCopyMap(e.variables),
		AttachmentRecords: records,
	}
}

// LoadPersistenceData restores a snapshot. Node context and variables are
// replaced, attachment records are added. Attachment records without a URL
// cannot be rehosted and are dropped.
func (e *ExecutionContext) LoadPersistenceData(d PersistenceData) {
	e.nodeContext = make(map[string]map[string]any, len(d.NodeContext))
	e.variables = make(map[string]any, len(d.Variables))
	for k, v := range d.NodeContext {
		e.nodeContext[k] = deepCopyMap(v)
	}
	for k, v := range d.Variables {
		e.variables[k] = deepCopyValue(v)
	}
	for _, m := range d.AttachmentRecords {
		att := AttachmentFromMap(m)
		if att.URL == "" {
			continue
		}
		e.AddAttachmentRecord(NewExternalAttachment(att))
	}
}
