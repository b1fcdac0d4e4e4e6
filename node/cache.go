package node

import (
	"context"
	"time"

	"github.com/hupe1980/flowmesh/cache"
	"github.com/hupe1980/flowmesh/core"
)

// CacheGetParams are the params of a cache get node.
type CacheGetParams struct {
	Scope cache.Scope `json:"cache_scope,omitempty" validate:"omitempty,oneof=topic user agent global"`
	Key   *core.Value `json:"cache_key" validate:"required"`
}

// CacheSetParams are the params of a cache set node.
type CacheSetParams struct {
	Scope cache.Scope `json:"cache_scope,omitempty" validate:"omitempty,oneof=topic user agent global"`
	Key   *core.Value `json:"cache_key" validate:"required"`
	Value *core.Value `json:"cache_value"`
	// TTL is in seconds; zero keeps the entry until it is overwritten.
	TTL int `json:"ttl,omitempty" validate:"gte=0,lte=2592000"`
}

var cacheModes = map[string]core.ValueMode{
	"cache_key":   core.ValueTemplate,
	"cache_value": core.ValueTemplate,
}

// CacheGet is the cache get node definition.
func CacheGet() Definition {
	return define(core.NodeCacheGet,
		func(n *core.Node, _ *Services) (*CacheGetParams, error) {
			p := &CacheGetParams{Scope: cache.ScopeTopic}
			if err := decode(n, p, cacheModes); err != nil {
				return nil, err
			}
			return p, nil
		},
		runCacheGet)
}

func runCacheGet(ctx context.Context, env Env, p *CacheGetParams, vr *core.VertexResult, exec *core.ExecutionContext, _ []*core.VertexResult) error {
	key, err := cacheKey(p.Key, p.Scope, exec)
	if err != nil {
		return err
	}
	if env.Services.Cache == nil {
		return missing("cache store")
	}
	vr.AddDebugLog("cache_key", key)

	v, ok, err := env.Services.Cache.Get(ctx, key)
	if err != nil {
		return err
	}
	if !ok || v == "" {
		v = nil
	}
	env.save(vr, exec, map[string]any{"value": v})
	return nil
}

// CacheSet is the cache set node definition.
func CacheSet() Definition {
	return define(core.NodeCacheSet,
		func(n *core.Node, _ *Services) (*CacheSetParams, error) {
			p := &CacheSetParams{Scope: cache.ScopeTopic}
			if err := decode(n, p, cacheModes); err != nil {
				return nil, err
			}
			return p, nil
		},
		runCacheSet)
}

func runCacheSet(ctx context.Context, env Env, p *CacheSetParams, vr *core.VertexResult, exec *core.ExecutionContext, _ []*core.VertexResult) error {
	key, err := cacheKey(p.Key, p.Scope, exec)
	if err != nil {
		return err
	}
	value, err := p.Value.Resolve(exec.ExpressionFieldData())
	if err != nil {
		return err
	}
	if env.Services.Cache == nil {
		return missing("cache store")
	}
	vr.AddDebugLog("cache_key", key)

	if err := env.Services.Cache.Set(ctx, key, value, time.Duration(p.TTL)*time.Second); err != nil {
		return err
	}
	env.save(vr, exec, map[string]any{})
	return nil
}

// cacheKey resolves the key and applies the scope prefix. The key must be a
// non-empty string.
func cacheKey(v *core.Value, scope cache.Scope, exec *core.ExecutionContext) (string, error) {
	raw, err := v.Resolve(exec.ExpressionFieldData())
	if err != nil {
		return "", err
	}
	key, ok := raw.(string)
	if !ok || key == "" {
		return "", core.NewValidationError("cache_key", "must be a non-empty string")
	}
	return cache.ScopedKey(scope, exec, key), nil
}
