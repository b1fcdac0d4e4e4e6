// Package config loads runtime configuration from a TOML file, a .env file
// and FLOWMESH_* environment variables, and wires the configured backends.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"github.com/spf13/cast"
)

// DefaultFile is looked up in the working directory by LoadDefault.
const DefaultFile = "flowmesh.toml"

// Config is the root configuration.
type Config struct {
	Runtime   RuntimeConfig   `toml:"runtime"`
	Log       LogConfig       `toml:"log"`
	Redis     RedisConfig     `toml:"redis"`
	Postgres  PostgresConfig  `toml:"postgres"`
	SQLite    SQLiteConfig    `toml:"sqlite"`
	Azure     AzureConfig     `toml:"azure"`
	NATS      NATSConfig      `toml:"nats"`
	OpenAI    OpenAIConfig    `toml:"openai"`
	Anthropic AnthropicConfig `toml:"anthropic"`
}

// RuntimeConfig tunes the flow runtime.
type RuntimeConfig struct {
	MaxDepth              int    `toml:"max_depth"`
	MaxConcurrentRuns     int    `toml:"max_concurrent_runs"`
	MaxParallelToolCalls  int    `toml:"max_parallel_tool_calls"`
	DefaultStreamVersion  string `toml:"default_stream_version"`
	DefaultEmbeddingModel string `toml:"default_embedding_model"`
	// DefaultChatModel answers llm nodes whose model resolves to "".
	DefaultChatModel string `toml:"default_chat_model"`
	// FlowsDir holds YAML/JSON flow definitions.
	FlowsDir string `toml:"flows_dir"`
}

// LogConfig configures the slog backed logger.
type LogConfig struct {
	Level     string `toml:"level"`
	Format    string `toml:"format"` // json or text
	AddSource bool   `toml:"add_source"`
}

// RedisConfig enables the Redis cache store when Addr is set.
type RedisConfig struct {
	Addr        string `toml:"addr"`
	PasswordEnv string `toml:"password_env"`
	DB          int    `toml:"db"`
	Prefix      string `toml:"prefix"`
}

// PostgresConfig enables Postgres backed memory and pgvector knowledge
// search when a DSN is available.
type PostgresConfig struct {
	DSN            string `toml:"dsn"`
	DSNEnv         string `toml:"dsn_env"`
	Memory         bool   `toml:"memory"`
	Knowledge      bool   `toml:"knowledge"`
	KnowledgeTable string `toml:"knowledge_table"`
	InitSchema     bool   `toml:"init_schema"`
}

// SQLiteConfig enables durable run snapshots when Path is set.
type SQLiteConfig struct {
	Path string `toml:"path"`
}

// AzureConfig enables blob storage for attachment uploads.
type AzureConfig struct {
	ContainerName       string `toml:"container_name"`
	ConnectionStringEnv string `toml:"connection_string_env"`
	EnsureContainer     bool   `toml:"ensure_container"`
}

// NATSConfig configures routine delivery.
type NATSConfig struct {
	URL            string `toml:"url"`
	Subject        string `toml:"subject"`
	Queue          string `toml:"queue"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// OpenAIConfig registers OpenAI chat models and the embedder.
type OpenAIConfig struct {
	APIKeyEnv           string   `toml:"api_key_env"`
	BaseURL             string   `toml:"base_url"`
	Models              []string `toml:"models"`
	EmbeddingModel      string   `toml:"embedding_model"`
	EmbeddingDimensions int64    `toml:"embedding_dimensions"`
}

// AnthropicConfig registers Anthropic chat models.
type AnthropicConfig struct {
	APIKeyEnv string   `toml:"api_key_env"`
	Models    []string `toml:"models"`
	MaxTokens int64    `toml:"max_tokens"`
}

// New returns a configuration with defaults. Every backend is disabled, so
// the runtime falls back to in-memory stores.
func New() *Config {
	return &Config{
		Runtime: RuntimeConfig{
			MaxDepth:              10,
			MaxConcurrentRuns:     10,
			MaxParallelToolCalls:  4,
			DefaultStreamVersion:  "v0",
			DefaultEmbeddingModel: "text-embedding-3-small",
			FlowsDir:              "flows",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Redis: RedisConfig{
			PasswordEnv: "REDIS_PASSWORD",
			Prefix:      "flowmesh:cache:",
		},
		Postgres: PostgresConfig{
			DSNEnv:         "DATABASE_URL",
			KnowledgeTable: "knowledge_fragments",
		},
		Azure: AzureConfig{
			ContainerName:       "attachments",
			ConnectionStringEnv: "AZURE_STORAGE_CONNECTION_STRING",
		},
		NATS: NATSConfig{
			Subject:        "flowmesh.routine",
			Queue:          "flowmesh",
			TimeoutSeconds: 300,
		},
		OpenAI: OpenAIConfig{
			APIKeyEnv:           "OPENAI_API_KEY",
			EmbeddingModel:      "text-embedding-3-small",
			EmbeddingDimensions: 1536,
		},
		Anthropic: AnthropicConfig{
			APIKeyEnv: "ANTHROPIC_API_KEY",
			MaxTokens: 4096,
		},
	}
}

// LoadFile decodes path over the defaults, then applies environment
// overrides. A .env file next to path is loaded first when present.
func LoadFile(path string) (*Config, error) {
	loadDotEnv(filepath.Join(filepath.Dir(path), ".env"))

	cfg := New()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	return cfg, cfg.Validate()
}

// Load reads path, or flowmesh.toml in the working directory when path is
// empty. A missing default file yields the defaults plus environment
// overrides.
func Load(path string) (*Config, error) {
	if path != "" {
		return LoadFile(path)
	}
	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("failed to get current directory: %w", err)
	}
	def := filepath.Join(cwd, DefaultFile)
	if _, err := os.Stat(def); err == nil {
		return LoadFile(def)
	}

	loadDotEnv(filepath.Join(cwd, ".env"))
	cfg := New()
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	return cfg, cfg.Validate()
}

func loadDotEnv(path string) {
	if _, err := os.Stat(path); err == nil {
		_ = godotenv.Load(path)
	}
}

// envOverride maps one FLOWMESH_* variable onto a field.
type envOverride struct {
	key   string
	apply func(c *Config, v string) error
}

var envOverrides = []envOverride{
	{"FLOWMESH_LOG_LEVEL", func(c *Config, v string) error { c.Log.Level = v; return nil }},
	{"FLOWMESH_LOG_FORMAT", func(c *Config, v string) error { c.Log.Format = v; return nil }},
	{"FLOWMESH_MAX_DEPTH", func(c *Config, v string) (err error) { c.Runtime.MaxDepth, err = cast.ToIntE(v); return }},
	{"FLOWMESH_MAX_CONCURRENT_RUNS", func(c *Config, v string) (err error) { c.Runtime.MaxConcurrentRuns, err = cast.ToIntE(v); return }},
	{"FLOWMESH_FLOWS_DIR", func(c *Config, v string) error { c.Runtime.FlowsDir = v; return nil }},
	{"FLOWMESH_DEFAULT_CHAT_MODEL", func(c *Config, v string) error { c.Runtime.DefaultChatModel = v; return nil }},
	{"FLOWMESH_REDIS_ADDR", func(c *Config, v string) error { c.Redis.Addr = v; return nil }},
	{"FLOWMESH_REDIS_DB", func(c *Config, v string) (err error) { c.Redis.DB, err = cast.ToIntE(v); return }},
	{"FLOWMESH_POSTGRES_DSN", func(c *Config, v string) error { c.Postgres.DSN = v; return nil }},
	{"FLOWMESH_SQLITE_PATH", func(c *Config, v string) error { c.SQLite.Path = v; return nil }},
	{"FLOWMESH_NATS_URL", func(c *Config, v string) error { c.NATS.URL = v; return nil }},
	{"FLOWMESH_OPENAI_MODELS", func(c *Config, v string) error { c.OpenAI.Models = splitList(v); return nil }},
	{"FLOWMESH_ANTHROPIC_MODELS", func(c *Config, v string) error { c.Anthropic.Models = splitList(v); return nil }},
}

// ApplyEnv overrides fields from FLOWMESH_* variables found by lookup.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	for _, o := range envOverrides {
		v, ok := lookup(o.key)
		if !ok {
			continue
		}
		if err := o.apply(c, v); err != nil {
			return fmt.Errorf("%s: %w", o.key, err)
		}
	}
	return nil
}

// Validate checks value ranges.
func (c *Config) Validate() error {
	var errs []error
	if c.Runtime.MaxDepth < 1 {
		errs = append(errs, errors.New("runtime.max_depth must be at least 1"))
	}
	if c.Runtime.MaxConcurrentRuns < 0 {
		errs = append(errs, errors.New("runtime.max_concurrent_runs must not be negative"))
	}
	switch c.Log.Format {
	case "json", "text":
	default:
		errs = append(errs, fmt.Errorf("log.format %q must be json or text", c.Log.Format))
	}
	if (c.Postgres.Memory || c.Postgres.Knowledge) && c.PostgresDSN() == "" {
		errs = append(errs, errors.New("postgres.dsn or the variable named by postgres.dsn_env is required"))
	}
	return errors.Join(errs...)
}

// PostgresDSN returns the inline DSN or the one read from DSNEnv.
func (c *Config) PostgresDSN() string {
	if c.Postgres.DSN != "" {
		return c.Postgres.DSN
	}
	return env(c.Postgres.DSNEnv)
}

// RedisPassword reads the variable named by PasswordEnv.
func (c *Config) RedisPassword() string { return env(c.Redis.PasswordEnv) }

// AzureConnectionString reads the variable named by ConnectionStringEnv.
func (c *Config) AzureConnectionString() string { return env(c.Azure.ConnectionStringEnv) }

// OpenAIKey reads the variable named by APIKeyEnv.
func (c *Config) OpenAIKey() string { return env(c.OpenAI.APIKeyEnv) }

// AnthropicKey reads the variable named by APIKeyEnv.
func (c *Config) AnthropicKey() string { return env(c.Anthropic.APIKeyEnv) }

func env(name string) string {
	if name == "" {
		return ""
	}
	return os.Getenv(name)
}

func splitList(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
