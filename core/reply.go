package core

// MessageType is the kind of reply a flow sends back to the conversation.
type MessageType string

const (
	MessageText     MessageType = "text"
	MessageMarkdown MessageType = "markdown"
	MessageImage    MessageType = "image"
	MessageFile     MessageType = "file"
	MessageLink     MessageType = "link"
)

// IsAttachment reports whether the message carries files rather than text.
func (t MessageType) IsAttachment() bool { return t == MessageImage || t == MessageFile }

// ReplyMessage is a message queued for delivery by the surrounding chat system.
type ReplyMessage struct {
	NodeID      string       `json:"node_id"`
	Type        MessageType  `json:"type"`
	Content     string       `json:"content,omitempty"`
	Link        string       `json:"link,omitempty"`
	LinkDesc    string       `json:"link_desc,omitempty"`
	Attachments []Attachment `json:"attachments,omitempty"`
	Recipients  []string     `json:"recipients,omitempty"`
	Sender      SenderEntity `json:"sender"`
}
