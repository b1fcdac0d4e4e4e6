package memory

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var _ Persistence = (*InMemoryStore)(nil)
var _ Persistence = (*PostgresStore)(nil)

func seed(t *testing.T, s *InMemoryStore, conv string, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		require.NoError(t, s.Store(context.Background(), Message{
			ID:             fmt.Sprintf("%s-%d", conv, i),
			ConversationID: conv,
			Role:           RoleUser,
			Content:        fmt.Sprintf("m%d", i),
		}))
	}
}

func TestInMemoryStore_Queries(t *testing.T) {
	s := NewInMemoryStore()
	seed(t, s, "c1", 5)

	msgs, err := s.Queries(context.Background(), Query{ConversationID: "c1", Limit: 3}, nil)
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	assert.Equal(t, []string{"m2", "m3", "m4"}, []string{msgs[0].Content, msgs[1].Content, msgs[2].Content})

	msgs, err = s.Queries(context.Background(), Query{ConversationID: "c1", Limit: 10}, []string{"c1-4"})
	require.NoError(t, err)
	assert.Len(t, msgs, 4)
	assert.Equal(t, "m3", msgs[len(msgs)-1].Content)
}

func TestInMemoryStore_OriginFallbackAndTopic(t *testing.T) {
	s := NewInMemoryStore()
	ctx := context.Background()
	require.NoError(t, s.Store(ctx, Message{ConversationID: "origin", TopicID: "t1", Role: RoleUser, Content: "a"}))
	require.NoError(t, s.Store(ctx, Message{ConversationID: "origin", TopicID: "t2", Role: RoleUser, Content: "b"}))

	msgs, err := s.Queries(ctx, Query{ConversationID: "remapped", OriginConversationID: "origin", TopicID: "t2"}, nil)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "b", msgs[0].Content)
	assert.NotEmpty(t, msgs[0].ID)
	assert.False(t, msgs[0].CreatedAt.IsZero())

	assert.Error(t, s.Store(ctx, Message{Content: "no conversation"}))
}

func TestManager_AutoAndManual(t *testing.T) {
	s := NewInMemoryStore()
	seed(t, s, "c1", 4)
	ctx := context.Background()

	auto := NewAutoManager(s, Query{ConversationID: "c1", Limit: 10}, []string{"c1-0"},
		func(o *ManagerOptions) { o.Policy = TruncatePolicy{MaxMessages: 2} })
	require.NoError(t, auto.Load(ctx))
	assert.Equal(t, Auto, auto.Mode())
	require.Len(t, auto.ProcessedMessages(), 2)
	assert.Equal(t, "m3", auto.ProcessedMessages()[1].Content)

	require.NoError(t, auto.Remember(ctx, Message{Role: RoleAssistant, Content: "reply"}))
	stored, err := s.Queries(ctx, Query{ConversationID: "c1"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "reply", stored[len(stored)-1].Content)

	manual := NewManualManager([]Message{{Role: RoleUser, Content: "x"}, {Role: RoleAssistant, Content: "y"}})
	require.NoError(t, manual.Load(ctx))
	manual.Append(Message{Role: RoleUser, Content: "z"})
	contents := manual.Contents()
	require.Len(t, contents, 3)
	assert.Equal(t, "assistant", contents[1].Role)
	assert.Equal(t, "z", contents[2].Text())
	assert.NoError(t, manual.Remember(ctx, Message{Content: "ignored"}))
}

func TestManager_AutoWithoutPersistence(t *testing.T) {
	m := NewAutoManager(nil, Query{ConversationID: "c"}, nil)
	assert.Error(t, m.Load(context.Background()))
}

func TestTruncatePolicy(t *testing.T) {
	msgs := []Message{{Content: "aaaa"}, {Content: "bb"}, {Content: "cc"}}

	tests := []struct {
		name   string
		policy TruncatePolicy
		want   int
	}{
		{"unbounded", TruncatePolicy{}, 3},
		{"max messages", TruncatePolicy{MaxMessages: 1}, 1},
		{"max chars", TruncatePolicy{MaxChars: 5}, 2},
		{"newest always kept", TruncatePolicy{MaxChars: 1}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Len(t, tt.policy.Apply(msgs), tt.want)
		})
	}
}

func TestContents(t *testing.T) {
	msgs := []Message{
		{Role: RoleUser, Content: "hi"},
		{Role: RoleAssistant, Content: "hello"},
	}
	contents := Contents(msgs)
	require.Len(t, contents, 2)
	assert.Equal(t, RoleUser, contents[0].Role)
	assert.Equal(t, "hi", contents[0].Text())
	assert.Equal(t, "hello", msgs[1].ToContent().Text())
}
