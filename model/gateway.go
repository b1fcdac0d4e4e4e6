package model

import (
	"context"
	"fmt"
	"sync"
)

// Gateway resolves a model name for an organization into a usable Model.
type Gateway interface {
	ChatModel(ctx context.Context, name, orgCode string) (Model, error)
}

// Embedder turns texts into vectors.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	// Dimensions returns the vector size produced by the embedder.
	Dimensions() int
}

// StaticGateway is a name-keyed Gateway shared by every organization.
// An empty name resolves to the configured default.
type StaticGateway struct {
	mu           sync.RWMutex
	models       map[string]Model
	defaultModel string
}

// NewStaticGateway creates an empty gateway.
func NewStaticGateway() *StaticGateway {
	return &StaticGateway{models: map[string]Model{}}
}

// Register adds a model under name. The first registered model becomes the default.
func (g *StaticGateway) Register(name string, m Model) *StaticGateway {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.models[name] = m
	if g.defaultModel == "" {
		g.defaultModel = name
	}
	return g
}

// SetDefault selects the model used for empty names.
func (g *StaticGateway) SetDefault(name string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.defaultModel = name
}

// ChatModel implements Gateway.
func (g *StaticGateway) ChatModel(_ context.Context, name, _ string) (Model, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if name == "" {
		name = g.defaultModel
	}
	m, ok := g.models[name]
	if !ok {
		return nil, fmt.Errorf("model %q not available", name)
	}
	return m, nil
}
