package memory

import (
	"context"
	"time"

	"github.com/hupe1980/flowmesh/core"
)

// Role values used by stored messages.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one conversation turn visible to the LLM node.
type Message struct {
	ID             string         `json:"id" msgpack:"id"`
	ConversationID string         `json:"conversation_id" msgpack:"conversation_id"`
	TopicID        string         `json:"topic_id,omitempty" msgpack:"topic_id"`
	RequestID      string         `json:"request_id,omitempty" msgpack:"request_id"`
	MountID        string         `json:"mount_id,omitempty" msgpack:"mount_id"`
	Role           string         `json:"role" msgpack:"role"`
	Content        string         `json:"content" msgpack:"content"`
	Attachments    []string       `json:"attachments,omitempty" msgpack:"attachments"`
	Metadata       map[string]any `json:"metadata,omitempty" msgpack:"metadata"`
	CreatedAt      time.Time      `json:"created_at" msgpack:"created_at"`
}

// ToContent converts the message to model content.
func (m Message) ToContent() core.Content {
	return core.NewTextContent(m.Role, m.Content)
}

// Query selects prior turns of a conversation.
type Query struct {
	ConversationID       string
	OriginConversationID string
	TopicID              string
	// MountID narrows history to one node (an LLM node's own turns).
	MountID string
	Limit   int
}

// Persistence is the message store collaborator.
type Persistence interface {
	// Queries returns at most query.Limit messages in chronological order,
	// skipping any message whose id or request id is listed in ignoreIDs.
	Queries(ctx context.Context, query Query, ignoreIDs []string) ([]Message, error)
	Store(ctx context.Context, msg Message) error
}

// Contents converts messages to model contents.
func Contents(msgs []Message) []core.Content {
	out := make([]core.Content, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, m.ToContent())
	}
	return out
}
