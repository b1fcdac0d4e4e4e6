package memory

import (
	"context"
	"fmt"
	"unicode/utf8"

	"github.com/hupe1980/flowmesh/core"
)

// Mode selects where the manager takes messages from.
type Mode int

const (
	// Auto retrieves prior turns from Persistence.
	Auto Mode = iota
	// Manual uses messages supplied verbatim by the node configuration.
	Manual
)

func (m Mode) String() string {
	if m == Manual {
		return "manual"
	}
	return "auto"
}

// Policy compacts a message list before it is sent to the model.
type Policy interface {
	Apply(msgs []Message) []Message
}

// TruncatePolicy keeps the newest messages that fit within MaxMessages and
// MaxChars. Zero disables a bound.
type TruncatePolicy struct {
	MaxMessages int
	MaxChars    int
}

// Apply implements Policy.
func (p TruncatePolicy) Apply(msgs []Message) []Message {
	if p.MaxMessages > 0 && len(msgs) > p.MaxMessages {
		msgs = msgs[len(msgs)-p.MaxMessages:]
	}
	if p.MaxChars <= 0 {
		return msgs
	}
	total := 0
	start := len(msgs)
	for i := len(msgs) - 1; i >= 0; i-- {
		n := utf8.RuneCountInString(msgs[i].Content)
		if total+n > p.MaxChars && start < len(msgs) {
			break
		}
		total += n
		start = i
	}
	return msgs[start:]
}

// Manager assembles the conversation history an LLM node sees. Both modes
// expose the same ProcessedMessages view.
type Manager struct {
	mode        Mode
	persistence Persistence
	query       Query
	ignoreIDs   []string
	manual      []Message
	policy      Policy

	loaded    bool
	processed []Message
}

// ManagerOptions configures a Manager.
type ManagerOptions struct {
	Policy Policy
}

// NewAutoManager builds a manager retrieving up to query.Limit prior turns.
func NewAutoManager(p Persistence, query Query, ignoreIDs []string, optFns ...func(o *ManagerOptions)) *Manager {
	opts := managerOptions(optFns)
	return &Manager{mode: Auto, persistence: p, query: query, ignoreIDs: ignoreIDs, policy: opts.Policy}
}

// NewManualManager builds a manager over explicitly supplied messages.
func NewManualManager(msgs []Message, optFns ...func(o *ManagerOptions)) *Manager {
	opts := managerOptions(optFns)
	return &Manager{mode: Manual, manual: msgs, policy: opts.Policy}
}

func managerOptions(optFns []func(o *ManagerOptions)) ManagerOptions {
	opts := ManagerOptions{Policy: TruncatePolicy{}}
	for _, fn := range optFns {
		fn(&opts)
	}
	return opts
}

// Mode returns the manager mode.
func (m *Manager) Mode() Mode { return m.mode }

// Load fetches (auto) or adopts (manual) the messages and applies the policy.
// It is idempotent.
func (m *Manager) Load(ctx context.Context) error {
	if m.loaded {
		return nil
	}
	var msgs []Message
	switch m.mode {
	case Auto:
		if m.persistence == nil {
			return &core.SystemError{Message: "memory persistence not configured"}
		}
		out, err := m.persistence.Queries(ctx, m.query, m.ignoreIDs)
		if err != nil {
			return fmt.Errorf("load memory: %w", err)
		}
		msgs = out
	case Manual:
		msgs = append([]Message(nil), m.manual...)
	}
	if m.policy != nil {
		msgs = m.policy.Apply(msgs)
	}
	m.processed = msgs
	m.loaded = true
	return nil
}

// ProcessedMessages returns the loaded messages after policy application.
func (m *Manager) ProcessedMessages() []Message { return m.processed }

// Append adds a message to the processed view (e.g. the current user prompt).
func (m *Manager) Append(msg Message) { m.processed = append(m.processed, msg) }

// Contents returns the processed view as model contents.
func (m *Manager) Contents() []core.Content { return Contents(m.processed) }

// Remember stores msgs through Persistence. It is a no-op in manual mode.
func (m *Manager) Remember(ctx context.Context, msgs ...Message) error {
	if m.mode != Auto || m.persistence == nil {
		return nil
	}
	for _, msg := range msgs {
		if msg.ConversationID == "" {
			msg.ConversationID = m.query.ConversationID
		}
		if msg.TopicID == "" {
			msg.TopicID = m.query.TopicID
		}
		if msg.MountID == "" {
			msg.MountID = m.query.MountID
		}
		if err := m.persistence.Store(ctx, msg); err != nil {
			return fmt.Errorf("store memory: %w", err)
		}
	}
	return nil
}
