package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/flowmesh/core"
)

func newRedisStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisStore(client), mr
}

func TestStores(t *testing.T) {
	redisStore, _ := newRedisStore(t)

	stores := map[string]Store{
		"memory": NewInMemoryStore(),
		"redis":  redisStore,
	}
	for name, s := range stores {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			v, ok, err := s.Get(ctx, "missing")
			require.NoError(t, err)
			assert.False(t, ok)
			assert.Nil(t, v)

			require.NoError(t, s.Set(ctx, "k", "value", 0))
			v, ok, err = s.Get(ctx, "k")
			require.NoError(t, err)
			assert.True(t, ok)
			assert.Equal(t, "value", v)

			require.NoError(t, s.Delete(ctx, "k"))
			_, ok, err = s.Get(ctx, "k")
			require.NoError(t, err)
			assert.False(t, ok)
		})
	}
}

func TestRedisStore_TTL(t *testing.T) {
	s, mr := newRedisStore(t)
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "k", map[string]any{"a": 1.0}, time.Minute))
	assert.True(t, mr.Exists("flowmesh:cache:k"))

	v, ok, err := s.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, map[string]any{"a": 1.0}, v)

	mr.FastForward(2 * time.Minute)
	_, ok, err = s.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestInMemoryStore_TTL(t *testing.T) {
	s := NewInMemoryStore()
	now := time.Now()
	s.now = func() time.Time { return now }

	require.NoError(t, s.Set(context.Background(), "k", 1, time.Second))
	_, ok, _ := s.Get(context.Background(), "k")
	assert.True(t, ok)

	now = now.Add(2 * time.Second)
	_, ok, _ = s.Get(context.Background(), "k")
	assert.False(t, ok)
}

func TestScopedKey(t *testing.T) {
	e := core.NewExecutionContext(core.TriggerChatMessage, nil, func(o *core.ExecutionOptions) {
		o.ConversationID = "c1"
		o.TopicID = "t1"
		o.FlowCode = "f1"
		o.Operator = core.Operator{UserID: "u1", OrganizationCode: "org"}
	})

	tests := []struct {
		scope Scope
		want  string
	}{
		{"", "topic:c1:t1:k"},
		{ScopeTopic, "topic:c1:t1:k"},
		{ScopeUser, "user:org:u1:k"},
		{ScopeAgent, "agent:f1:k"},
		{ScopeGlobal, "org:org:k"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ScopedKey(tt.scope, e, "k"), string(tt.scope))
	}
	assert.False(t, Scope("bogus").Valid())
}
