package config

import (
	"context"
	"errors"
	"fmt"

	anthropicsdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hupe1980/flowmesh/artifact"
	"github.com/hupe1980/flowmesh/artifact/azure"
	"github.com/hupe1980/flowmesh/cache"
	"github.com/hupe1980/flowmesh/core"
	"github.com/hupe1980/flowmesh/knowledge"
	"github.com/hupe1980/flowmesh/logging"
	"github.com/hupe1980/flowmesh/memory"
	"github.com/hupe1980/flowmesh/model"
	"github.com/hupe1980/flowmesh/model/anthropic"
	"github.com/hupe1980/flowmesh/model/openai"
	"github.com/hupe1980/flowmesh/snapshot"
)

// Backends are the collaborators selected by a Config. Disabled backends
// fall back to in-memory implementations.
type Backends struct {
	Logger    *logging.FlowLogger
	Gateway   *model.StaticGateway
	Embedder  model.Embedder
	Memory    memory.Persistence
	Cache     cache.Store
	Knowledge knowledge.Similarity
	Uploader  core.Uploader
	Snapshots snapshot.Store

	closers []func() error
}

// Close releases every opened connection in reverse order.
func (b *Backends) Close() error {
	var errs []error
	for i := len(b.closers) - 1; i >= 0; i-- {
		if err := b.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	b.closers = nil
	return errors.Join(errs...)
}

// NewLogger builds the logger described by c.Log.
func (c *Config) NewLogger() *logging.FlowLogger {
	return logging.NewSlogLogger(logging.ParseLevel(c.Log.Level), c.Log.Format, c.Log.AddSource)
}

// Open connects the configured backends. On error everything opened so far
// is closed again.
func Open(ctx context.Context, c *Config) (_ *Backends, err error) {
	b := &Backends{Logger: c.NewLogger()}
	defer func() {
		if err != nil {
			_ = b.Close()
		}
	}()
	log := b.Logger.WithComponent("config")

	b.Gateway = c.gateway()
	if c.OpenAIKey() != "" {
		b.Embedder = openai.NewEmbedder(func(o *openai.EmbedderOptions) {
			o.APIKey = c.OpenAIKey()
			o.BaseURL = c.OpenAI.BaseURL
			if c.OpenAI.EmbeddingModel != "" {
				o.Model = c.OpenAI.EmbeddingModel
			}
			if c.OpenAI.EmbeddingDimensions > 0 {
				o.Dimensions = c.OpenAI.EmbeddingDimensions
			}
		})
	}

	b.Cache = cache.NewInMemoryStore()
	if c.Redis.Addr != "" {
		client, err := cache.Dial(ctx, c.Redis.Addr, c.RedisPassword(), c.Redis.DB)
		if err != nil {
			return nil, err
		}
		b.closers = append(b.closers, client.Close)
		b.Cache = cache.NewRedisStore(client, func(o *cache.RedisOptions) { o.Prefix = c.Redis.Prefix })
		log.Info("backend.cache", "kind", "redis", "addr", c.Redis.Addr)
	}

	b.Memory = memory.NewInMemoryStore()
	b.Knowledge = knowledge.NewInMemoryStore(b.Embedder)
	if c.Postgres.Memory || c.Postgres.Knowledge {
		pool, err := pgxpool.New(ctx, c.PostgresDSN())
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		b.closers = append(b.closers, func() error { pool.Close(); return nil })

		if c.Postgres.Memory {
			store := memory.NewPostgresStore(pool)
			if c.Postgres.InitSchema {
				if err := store.InitializeSchema(ctx); err != nil {
					return nil, err
				}
			}
			b.Memory = store
			log.Info("backend.memory", "kind", "postgres")
		}
		if c.Postgres.Knowledge {
			if b.Embedder == nil {
				return nil, errors.New("postgres.knowledge requires an OpenAI embedder")
			}
			store := knowledge.NewPGVectorStore(pool, b.Embedder, func(o *knowledge.PGVectorOptions) {
				o.TableName = c.Postgres.KnowledgeTable
			})
			if c.Postgres.InitSchema {
				if err := store.InitializeSchema(ctx); err != nil {
					return nil, err
				}
			}
			b.Knowledge = store
			log.Info("backend.knowledge", "kind", "pgvector", "table", c.Postgres.KnowledgeTable)
		}
	}

	codec, err := snapshot.NewCodec()
	if err != nil {
		return nil, err
	}
	b.Snapshots = snapshot.NewInMemoryStore(codec)
	if c.SQLite.Path != "" {
		store, err := snapshot.OpenSQLite(ctx, c.SQLite.Path, codec)
		if err != nil {
			return nil, err
		}
		b.closers = append(b.closers, store.Close)
		b.Snapshots = store
		log.Info("backend.snapshots", "kind", "sqlite", "path", c.SQLite.Path)
	}

	var files artifact.Store = artifact.NewInMemoryStore("memory://attachments")
	if conn := c.AzureConnectionString(); conn != "" {
		store, err := azure.New(azure.Config{ContainerName: c.Azure.ContainerName, ConnectionString: conn}, b.Logger.WithComponent("artifact"))
		if err != nil {
			return nil, err
		}
		if c.Azure.EnsureContainer {
			if err := store.EnsureContainer(ctx); err != nil {
				return nil, err
			}
		}
		files = store
		log.Info("backend.attachments", "kind", "azblob", "container", c.Azure.ContainerName)
	}
	b.Uploader = artifact.NewUploader(files)

	return b, nil
}

// gateway registers every configured chat model. With no provider key the
// gateway stays empty and llm nodes fail with a model lookup error.
func (c *Config) gateway() *model.StaticGateway {
	g := model.NewStaticGateway()
	if key := c.OpenAIKey(); key != "" {
		for _, name := range c.OpenAI.Models {
			g.Register(name, openai.NewModel(func(o *openai.Options) {
				o.Model = name
				o.APIKey = key
				o.BaseURL = c.OpenAI.BaseURL
			}))
		}
	}
	if key := c.AnthropicKey(); key != "" {
		for _, name := range c.Anthropic.Models {
			g.Register(name, anthropic.NewModel(func(o *anthropic.Options) {
				o.Model = anthropicsdk.Model(name)
				o.APIKey = key
				if c.Anthropic.MaxTokens > 0 {
					o.MaxTokens = c.Anthropic.MaxTokens
				}
			}))
		}
	}
	if c.Runtime.DefaultChatModel != "" {
		g.SetDefault(c.Runtime.DefaultChatModel)
	}
	return g
}
