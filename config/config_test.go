package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/flowmesh/cache"
	"github.com/hupe1980/flowmesh/knowledge"
	"github.com/hupe1980/flowmesh/memory"
	"github.com/hupe1980/flowmesh/snapshot"
)

func TestNew_Defaults(t *testing.T) {
	cfg := New()
	assert.Equal(t, 10, cfg.Runtime.MaxDepth)
	assert.Equal(t, 10, cfg.Runtime.MaxConcurrentRuns)
	assert.Equal(t, "v0", cfg.Runtime.DefaultStreamVersion)
	assert.Equal(t, "text-embedding-3-small", cfg.Runtime.DefaultEmbeddingModel)
	assert.Equal(t, "flowmesh.routine", cfg.NATS.Subject)
	assert.NoError(t, cfg.Validate())
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "flowmesh.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[runtime]
max_depth = 4
flows_dir = "defs"

[log]
level = "debug"
format = "text"

[postgres]
dsn_env = "FLOWMESH_TEST_PG_DSN"
memory = true

[openai]
models = ["gpt-4o-mini", "gpt-4o"]
`), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("FLOWMESH_TEST_PG_DSN=postgres://localhost/flowmesh\n"), 0o600))
	t.Cleanup(func() { _ = os.Unsetenv("FLOWMESH_TEST_PG_DSN") })

	cfg, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 4, cfg.Runtime.MaxDepth)
	assert.Equal(t, 10, cfg.Runtime.MaxConcurrentRuns)
	assert.Equal(t, "defs", cfg.Runtime.FlowsDir)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "text", cfg.Log.Format)
	assert.Equal(t, []string{"gpt-4o-mini", "gpt-4o"}, cfg.OpenAI.Models)
	assert.Equal(t, "postgres://localhost/flowmesh", cfg.PostgresDSN())
}

func TestLoadFile_Invalid(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.toml")
	require.NoError(t, os.WriteFile(path, []byte("[runtime\n"), 0o600))

	_, err := LoadFile(path)
	assert.ErrorContains(t, err, "failed to parse config")
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		"FLOWMESH_MAX_DEPTH":       "7",
		"FLOWMESH_REDIS_ADDR":      "localhost:6379",
		"FLOWMESH_SQLITE_PATH":     "/tmp/snapshots.db",
		"FLOWMESH_OPENAI_MODELS":   "gpt-4o, ,gpt-4o-mini",
		"FLOWMESH_LOG_LEVEL":       "warn",
		"FLOWMESH_UNRELATED_VALUE": "ignored",
	}
	lookup := func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}

	cfg := New()
	require.NoError(t, cfg.ApplyEnv(lookup))
	assert.Equal(t, 7, cfg.Runtime.MaxDepth)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, "/tmp/snapshots.db", cfg.SQLite.Path)
	assert.Equal(t, []string{"gpt-4o", "gpt-4o-mini"}, cfg.OpenAI.Models)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestApplyEnv_BadNumber(t *testing.T) {
	cfg := New()
	err := cfg.ApplyEnv(func(k string) (string, bool) {
		if k == "FLOWMESH_MAX_DEPTH" {
			return "deep", true
		}
		return "", false
	})
	assert.ErrorContains(t, err, "FLOWMESH_MAX_DEPTH")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
		errMsg string
	}{
		{"depth", func(c *Config) { c.Runtime.MaxDepth = 0 }, "max_depth"},
		{"concurrency", func(c *Config) { c.Runtime.MaxConcurrentRuns = -1 }, "max_concurrent_runs"},
		{"format", func(c *Config) { c.Log.Format = "xml" }, "log.format"},
		{"postgres without dsn", func(c *Config) {
			c.Postgres.Knowledge = true
			c.Postgres.DSNEnv = ""
		}, "postgres.dsn"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := New()
			tt.mutate(cfg)
			assert.ErrorContains(t, cfg.Validate(), tt.errMsg)
		})
	}
}

func TestOpen_InMemoryDefaults(t *testing.T) {
	cfg := New()
	cfg.OpenAI.APIKeyEnv = ""
	cfg.Anthropic.APIKeyEnv = ""
	cfg.Azure.ConnectionStringEnv = ""

	b, err := Open(context.Background(), cfg)
	require.NoError(t, err)
	defer b.Close()

	assert.IsType(t, &cache.InMemoryStore{}, b.Cache)
	assert.IsType(t, &memory.InMemoryStore{}, b.Memory)
	assert.IsType(t, &knowledge.InMemoryStore{}, b.Knowledge)
	assert.IsType(t, &snapshot.InMemoryStore{}, b.Snapshots)
	assert.Nil(t, b.Embedder)
	assert.NotNil(t, b.Uploader)
	assert.NotNil(t, b.Gateway)
}

func TestOpen_RedisAndSQLite(t *testing.T) {
	mr := miniredis.RunT(t)

	cfg := New()
	cfg.OpenAI.APIKeyEnv = ""
	cfg.Anthropic.APIKeyEnv = ""
	cfg.Azure.ConnectionStringEnv = ""
	cfg.Redis.Addr = mr.Addr()
	cfg.Redis.PasswordEnv = ""
	cfg.SQLite.Path = filepath.Join(t.TempDir(), "snapshots.db")

	b, err := Open(context.Background(), cfg)
	require.NoError(t, err)

	assert.IsType(t, &cache.RedisStore{}, b.Cache)
	assert.IsType(t, &snapshot.SQLiteStore{}, b.Snapshots)

	require.NoError(t, b.Cache.Set(context.Background(), "k", "v", 0))
	assert.True(t, mr.Exists("flowmesh:cache:k"))

	assert.NoError(t, b.Close())
}
