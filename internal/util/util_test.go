package util

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolvePath(t *testing.T) {
	data := map[string]any{
		"node-1": map[string]any{
			"content": "hello",
			"items":   []any{map[string]any{"name": "a"}, map[string]any{"name": "b"}},
		},
		"variables": map[string]any{"count": 3},
		"flat":      "x",
	}

	tests := []struct {
		path string
		want any
		ok   bool
	}{
		{"node-1.content", "hello", true},
		{"node-1.items.1.name", "b", true},
		{"variables.count", 3, true},
		{"flat", "x", true},
		{"node-1.missing", nil, false},
		{"node-1.items.9.name", nil, false},
		{"unknown.key", nil, false},
		{"", nil, false},
	}
	for _, tt := range tests {
		got, ok := ResolvePath(data, tt.path)
		assert.Equal(t, tt.ok, ok, tt.path)
		assert.Equal(t, tt.want, got, tt.path)
	}
}

func TestRenderTemplate(t *testing.T) {
	data := map[string]any{
		"node-1":    map[string]any{"content": "hello"},
		"variables": map[string]any{"name": "ada", "tags": []any{"x", "y"}},
	}

	out, err := RenderTemplate("plain text", data)
	require.NoError(t, err)
	assert.Equal(t, "plain text", out)

	out, err = RenderTemplate(`{{field "node-1.content"}} {{.variables.name | upper}}`, data)
	require.NoError(t, err)
	assert.Equal(t, "hello ADA", out)

	out, err = RenderTemplate(`{{join "," .variables.tags}}`, data)
	require.NoError(t, err)
	assert.Equal(t, "x,y", out)

	out, err = RenderTemplate(`[{{field "node-1.nothing"}}]`, data)
	require.NoError(t, err)
	assert.Equal(t, "[]", out)

	_, err = RenderTemplate("{{ broken", data)
	assert.Error(t, err)
}

func TestCheckArguments(t *testing.T) {
	schema := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"city": map[string]any{"type": "string"},
			"days": map[string]any{"type": "integer"},
			"unit": map[string]any{"type": "string", "enum": []any{"c", "f"}},
			"geo": map[string]any{
				"type":       "object",
				"properties": map[string]any{"lat": map[string]any{"type": "number"}},
				"required":   []string{"lat"},
			},
			"tags": map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
		},
		"required": []any{"city"},
	}

	tests := []struct {
		name  string
		args  map[string]any
		field string
	}{
		{name: "valid", args: map[string]any{"city": "Oslo", "days": float64(3), "unit": "c", "extra": true}},
		{name: "nil satisfies any type", args: map[string]any{"city": nil}},
		{name: "missing required", args: map[string]any{}, field: "city"},
		{name: "wrong type", args: map[string]any{"city": 5}, field: "city"},
		{name: "fractional integer", args: map[string]any{"city": "Oslo", "days": 1.5}, field: "days"},
		{name: "enum", args: map[string]any{"city": "Oslo", "unit": "k"}, field: "unit"},
		{name: "nested required", args: map[string]any{"city": "Oslo", "geo": map[string]any{}}, field: "geo.lat"},
		{name: "array item", args: map[string]any{"city": "Oslo", "tags": []any{"a", 2}}, field: "tags[1]"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := CheckArguments(tt.args, schema)
			if tt.field == "" {
				assert.NoError(t, err)
				return
			}
			var ae *ArgumentError
			require.ErrorAs(t, err, &ae)
			assert.Equal(t, tt.field, ae.Field)
		})
	}
}
