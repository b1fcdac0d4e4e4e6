package util

import (
	"fmt"
	"slices"
	"strconv"
)

// ArgumentError names the first model supplied argument that does not match
// a tool's parameter schema. Field is a dotted path ("address.city", "tags[2]").
type ArgumentError struct {
	Field   string `json:"field"`
	Value   any    `json:"value,omitempty"`
	Message string `json:"message"`
}

func (e *ArgumentError) Error() string {
	return fmt.Sprintf("argument %s: %s", e.Field, e.Message)
}

// CheckArguments walks args against a function-calling parameter schema as
// produced by core.Form.ToJSONSchema. Unknown properties are allowed and a
// nil value satisfies any type.
func CheckArguments(args map[string]any, schema map[string]any) error {
	return checkObject("", args, schema)
}

func checkObject(path string, obj map[string]any, schema map[string]any) error {
	for _, name := range stringList(schema["required"]) {
		if _, ok := obj[name]; !ok {
			return &ArgumentError{Field: join(path, name), Message: "required field is missing"}
		}
	}
	props, _ := schema["properties"].(map[string]any)
	for name, v := range obj {
		sub, ok := props[name].(map[string]any)
		if !ok {
			continue
		}
		if err := checkValue(join(path, name), v, sub); err != nil {
			return err
		}
	}
	return nil
}

func checkValue(path string, v any, schema map[string]any) error {
	if v == nil {
		return nil
	}
	typ, _ := schema["type"].(string)
	if !hasType(v, typ) {
		return &ArgumentError{Field: path, Value: v, Message: fmt.Sprintf("expected %s, got %T", typ, v)}
	}
	if enum, ok := schema["enum"].([]any); ok && len(enum) > 0 && !slices.Contains(enum, v) {
		return &ArgumentError{Field: path, Value: v, Message: fmt.Sprintf("must be one of %v", enum)}
	}

	switch t := v.(type) {
	case map[string]any:
		return checkObject(path, t, schema)
	case []any:
		items, _ := schema["items"].(map[string]any)
		if items == nil {
			return nil
		}
		for i, item := range t {
			if err := checkValue(path+"["+strconv.Itoa(i)+"]", item, items); err != nil {
				return err
			}
		}
	}
	return nil
}

func hasType(v any, typ string) bool {
	switch typ {
	case "string":
		_, ok := v.(string)
		return ok
	case "integer":
		switch n := v.(type) {
		case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
			return true
		case float64:
			return n == float64(int64(n))
		}
		return false
	case "number":
		switch v.(type) {
		case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64:
			return true
		}
		return false
	case "boolean":
		_, ok := v.(bool)
		return ok
	case "array":
		_, ok := v.([]any)
		return ok
	case "object":
		_, ok := v.(map[string]any)
		return ok
	}
	return true
}

func stringList(v any) []string {
	switch r := v.(type) {
	case []string:
		return r
	case []any:
		out := make([]string, 0, len(r))
		for _, x := range r {
			if s, ok := x.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

func join(path, name string) string {
	if path == "" {
		return name
	}
	return path + "." + name
}
