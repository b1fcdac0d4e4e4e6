package core

import (
	"errors"
	"fmt"
	"testing"
)

func TestValue_Resolve(t *testing.T) {
	data := map[string]any{
		"n1":        map[string]any{"content": "hello"},
		"variables": map[string]any{"name": "ada"},
	}

	tests := []struct {
		name  string
		value *Value
		want  any
	}{
		{"nil", nil, nil},
		{"const", Const(42), 42},
		{"expression", Expr("n1.content"), "hello"},
		{"missing expression", Expr("n1.nope"), nil},
		{"template", Template(`hi {{.variables.name}}`), "hi ada"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.value.Resolve(data)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Fatalf("got %v, want %v", got, tt.want)
			}
		})
	}

	if _, err := (&Value{Mode: "bogus"}).Resolve(data); err == nil {
		t.Fatal("unknown mode should fail")
	}
}

func TestForm_EvaluateAndBind(t *testing.T) {
	form := ObjectForm(map[string]*Form{
		"text":  {Type: "string", Value: Expr("n1.content")},
		"limit": {Type: "integer", Value: Const("5")},
	}, "text")
	data := map[string]any{"n1": map[string]any{"content": "hello"}}

	out, err := form.EvaluateMap(data)
	if err != nil {
		t.Fatal(err)
	}
	if out["text"] != "hello" || out["limit"] != int64(5) {
		t.Fatalf("unexpected evaluation %v", out)
	}

	bound, err := form.Bind(map[string]any{"limit": 9.0, "extra": true}, data)
	if err != nil {
		t.Fatal(err)
	}
	if bound["limit"] != int64(9) || bound["text"] != "hello" {
		t.Fatalf("unexpected bind %v", bound)
	}
	if _, ok := bound["extra"]; ok {
		t.Fatal("undeclared arguments should be dropped")
	}

	err = form.CheckRequired(map[string]any{"limit": 1})
	var vErr *ValidationError
	if !errors.As(err, &vErr) || vErr.Field != "text" {
		t.Fatalf("expected validation error for text, got %v", err)
	}
}

func TestForm_ToJSONSchema(t *testing.T) {
	form := ObjectForm(map[string]*Form{
		"tags": {Type: "array", Description: "labels"},
		"mode": {Type: "string", Enum: []any{"a", "b"}},
	}, "mode")

	s := form.ToJSONSchema()
	props := s["properties"].(map[string]any)
	tags := props["tags"].(map[string]any)
	if tags["description"] != "labels" {
		t.Fatalf("description missing: %v", tags)
	}
	if tags["items"].(map[string]any)["type"] != "string" {
		t.Fatal("array items should default to string")
	}
	if fmt.Sprint(s["required"]) != "[mode]" {
		t.Fatalf("required = %v", s["required"])
	}

	var nilForm *Form
	if nilForm.ToJSONSchema()["type"] != "object" {
		t.Fatal("nil form should be an empty object schema")
	}
}

func TestErrors(t *testing.T) {
	te := &ToolExecutionError{NodeID: "n7", Message: "cache down"}
	if te.Error() != "n7 | cache down" {
		t.Fatalf("tool error format = %q", te.Error())
	}

	wrapped := fmt.Errorf("run: %w", NewExecutionError("llm-1", te))
	if FailedNodeID(wrapped) != "llm-1" {
		t.Fatalf("outer execution error should win, got %q", FailedNodeID(wrapped))
	}
	if FailedNodeID(te) != "n7" {
		t.Fatal("tool error node id should be reported")
	}
	if !errors.As(wrapped, &te) {
		t.Fatal("tool error should stay reachable through the chain")
	}

	if !IsValidation(fmt.Errorf("x: %w", NewValidationError("key", "empty"))) {
		t.Fatal("wrapped validation error not detected")
	}
}
