package core

import (
	"fmt"
	"sort"

	"github.com/spf13/cast"

	"github.com/hupe1980/flowmesh/internal/util"
)

// ValueMode selects how a Value is evaluated.
type ValueMode string

const (
	// ValueConst returns the literal as is.
	ValueConst ValueMode = "const"
	// ValueExpression resolves a dotted field path ("<nodeId>.<key>", "variables.<name>").
	ValueExpression ValueMode = "expression"
	// ValueTemplate renders a string template.
	ValueTemplate ValueMode = "template"
)

// Value is an expression-valued field.
type Value struct {
	Mode       ValueMode `json:"mode" yaml:"mode"`
	Const      any       `json:"const,omitempty" yaml:"const"`
	Expression string    `json:"expression,omitempty" yaml:"expression"`
}

// Const returns a literal Value.
func Const(v any) *Value { return &Value{Mode: ValueConst, Const: v} }

// Expr returns a field path Value.
func Expr(path string) *Value { return &Value{Mode: ValueExpression, Expression: path} }

// Template returns a string template Value.
func Template(text string) *Value { return &Value{Mode: ValueTemplate, Expression: text} }

// Resolve evaluates the value against expression field data. A nil Value resolves to nil.
func (v *Value) Resolve(data map[string]any) (any, error) {
	if v == nil {
		return nil, nil
	}
	switch v.Mode {
	case ValueConst, "":
		return v.Const, nil
	case ValueExpression:
		out, _ := util.ResolvePath(data, v.Expression)
		return out, nil
	case ValueTemplate:
		return util.RenderTemplate(v.Expression, data)
	default:
		return nil, fmt.Errorf("unknown value mode %q", v.Mode)
	}
}

// ResolveString evaluates the value and coerces it to a string.
func (v *Value) ResolveString(data map[string]any) (string, error) {
	out, err := v.Resolve(data)
	if err != nil {
		return "", err
	}
	return cast.ToStringE(out)
}

// IsZero reports whether the value carries nothing to evaluate.
func (v *Value) IsZero() bool {
	return v == nil || (v.Const == nil && v.Expression == "")
}

// Form is a JSON-Schema-like structure describing inputs and outputs.
type Form struct {
	Type        string           `json:"type" yaml:"type"`
	Key         string           `json:"key,omitempty" yaml:"key"`
	Title       string           `json:"title,omitempty" yaml:"title"`
	Description string           `json:"description,omitempty" yaml:"description"`
	Required    []string         `json:"required,omitempty" yaml:"required"`
	Properties  map[string]*Form `json:"properties,omitempty" yaml:"properties"`
	Items       *Form            `json:"items,omitempty" yaml:"items"`
	Enum        []any            `json:"enum,omitempty" yaml:"enum"`
	Value       *Value           `json:"value,omitempty" yaml:"value"`
}

// ObjectForm builds an object form from properties.
func ObjectForm(props map[string]*Form, required ...string) *Form {
	return &Form{Type: "object", Key: "root", Properties: props, Required: required}
}

// PropertyKeys returns the object property names in stable order.
func (f *Form) PropertyKeys() []string {
	keys := make([]string, 0, len(f.Properties))
	for k := range f.Properties {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Evaluate computes the form's value: a leaf evaluates its Value, an object
// evaluates each property into a map.
func (f *Form) Evaluate(data map[string]any) (any, error) {
	if f == nil {
		return nil, nil
	}
	if f.Value != nil && !f.Value.IsZero() {
		out, err := f.Value.Resolve(data)
		if err != nil {
			return nil, fmt.Errorf("evaluate %s: %w", f.Key, err)
		}
		return coerce(f.Type, out), nil
	}
	if f.Type != "object" {
		return nil, nil
	}
	out := make(map[string]any, len(f.Properties))
	for _, k := range f.PropertyKeys() {
		v, err := f.Properties[k].Evaluate(data)
		if err != nil {
			return nil, err
		}
		out[k] = v
	}
	return out, nil
}

// EvaluateMap evaluates an object form and returns its map (empty for nil forms).
func (f *Form) EvaluateMap(data map[string]any) (map[string]any, error) {
	v, err := f.Evaluate(data)
	if err != nil {
		return nil, err
	}
	m, _ := v.(map[string]any)
	if m == nil {
		m = map[string]any{}
	}
	return m, nil
}

// Bind maps supplied arguments onto an object form. Declared properties take
// the argument value coerced to the declared type, or fall back to the
// property's own Value. Undeclared arguments are dropped.
func (f *Form) Bind(args map[string]any, data map[string]any) (map[string]any, error) {
	if f == nil || f.Type != "object" {
		out := make(map[string]any, len(args))
		for k, v := range args {
			out[k] = v
		}
		return out, nil
	}
	out := make(map[string]any, len(f.Properties))
	for _, k := range f.PropertyKeys() {
		prop := f.Properties[k]
		if v, ok := args[k]; ok {
			out[k] = coerce(prop.Type, v)
			continue
		}
		v, err := prop.Evaluate(data)
		if err != nil {
			return nil, err
		}
		out[k] = v
	}
	return out, nil
}

// CheckRequired returns a ValidationError for the first required key missing from m.
func (f *Form) CheckRequired(m map[string]any) error {
	if f == nil {
		return nil
	}
	for _, k := range f.Required {
		if v, ok := m[k]; !ok || v == nil {
			return NewValidationError(k, "required")
		}
	}
	return nil
}

// ToJSONSchema returns the function-calling parameter schema for the form.
func (f *Form) ToJSONSchema() map[string]any {
	if f == nil {
		return map[string]any{"type": "object", "properties": map[string]any{}}
	}
	s := map[string]any{"type": f.Type}
	if s["type"] == "" {
		s["type"] = "string"
	}
	if f.Description != "" {
		s["description"] = f.Description
	} else if f.Title != "" {
		s["description"] = f.Title
	}
	if len(f.Enum) > 0 {
		s["enum"] = f.Enum
	}
	switch f.Type {
	case "object":
		props := make(map[string]any, len(f.Properties))
		for k, p := range f.Properties {
			props[k] = p.ToJSONSchema()
		}
		s["properties"] = props
		if len(f.Required) > 0 {
			s["required"] = append([]string(nil), f.Required...)
		}
	case "array":
		if f.Items != nil {
			s["items"] = f.Items.ToJSONSchema()
		} else {
			s["items"] = map[string]any{"type": "string"}
		}
	}
	return s
}

func coerce(typ string, v any) any {
	if v == nil {
		return nil
	}
	switch typ {
	case "string":
		if s, err := cast.ToStringE(v); err == nil {
			return s
		}
	case "integer":
		if i, err := cast.ToInt64E(v); err == nil {
			return i
		}
	case "number":
		if n, err := cast.ToFloat64E(v); err == nil {
			return n
		}
	case "boolean":
		if b, err := cast.ToBoolE(v); err == nil {
			return b
		}
	}
	return v
}
