package node

import (
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"reflect"

	"github.com/spf13/cast"

	"github.com/hupe1980/flowmesh/core"
	"github.com/hupe1980/flowmesh/internal/validate"
)

// decode fills out (which carries its defaults) from the raw params of n and
// validates it. Fields listed in modes accept a bare scalar, which becomes a
// Value of the given mode.
func decode(n *core.Node, out any, modes map[string]core.ValueMode) error {
	raw := maps.Clone(n.Params)
	if raw == nil {
		raw = map[string]any{}
	}
	for key, mode := range modes {
		if v, ok := raw[key]; ok {
			raw[key] = toValue(v, mode)
		}
	}

	b, err := json.Marshal(raw)
	if err != nil {
		return core.NewValidationError("params", err.Error())
	}
	if err := json.Unmarshal(b, out); err != nil {
		var ute *json.UnmarshalTypeError
		if errors.As(err, &ute) {
			return core.NewValidationError(ute.Field, fmt.Sprintf("must be %s", ute.Type))
		}
		return core.NewValidationError("params", err.Error())
	}
	return validate.Struct(out)
}

func toValue(v any, mode core.ValueMode) any {
	switch t := v.(type) {
	case nil, *core.Value:
		return v
	case core.Value:
		return &t
	case map[string]any:
		if _, ok := t["mode"]; ok {
			return t
		}
		return core.Const(t)
	case string:
		switch mode {
		case core.ValueTemplate:
			return core.Template(t)
		case core.ValueExpression:
			return core.Expr(t)
		}
		return core.Const(t)
	default:
		return core.Const(v)
	}
}

// constNumber returns the literal of v when it is a numeric constant.
func constNumber(v *core.Value) (float64, bool) {
	if v == nil || (v.Mode != core.ValueConst && v.Mode != "") || v.Const == nil {
		return 0, false
	}
	f, err := cast.ToFloat64E(v.Const)
	return f, err == nil
}

// constString returns the literal of v when it is a string constant.
func constString(v *core.Value) (string, bool) {
	if v == nil || (v.Mode != core.ValueConst && v.Mode != "") {
		return "", false
	}
	s, ok := v.Const.(string)
	return s, ok
}

// resolveInt evaluates v to an int, falling back to def when it yields nothing.
func resolveInt(v *core.Value, data map[string]any, field string, def int) (int, error) {
	out, err := v.Resolve(data)
	if err != nil {
		return 0, err
	}
	if out == nil || out == "" {
		return def, nil
	}
	i, err := cast.ToIntE(out)
	if err != nil {
		return 0, core.NewValidationError(field, "must be an integer")
	}
	return i, nil
}

func resolveFloat(v *core.Value, data map[string]any, field string, def float64) (float64, error) {
	out, err := v.Resolve(data)
	if err != nil {
		return 0, err
	}
	if out == nil || out == "" {
		return def, nil
	}
	f, err := cast.ToFloat64E(out)
	if err != nil {
		return 0, core.NewValidationError(field, "must be a number")
	}
	return f, nil
}

func toList(v any) ([]any, bool) {
	if v == nil {
		return nil, false
	}
	if l, ok := v.([]any); ok {
		return l, true
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, false
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out, true
}
