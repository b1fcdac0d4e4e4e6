package util

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"text/template"

	"github.com/spf13/cast"
)

const noValue = "<no value>"

// RenderTemplate renders a string template against expression field data
// (node outputs keyed by node id plus "variables"). Besides dot access it
// offers field "<nodeId>.<path>" for node ids that are not valid identifiers.
func RenderTemplate(text string, data map[string]any) (string, error) {
	if !strings.Contains(text, "{{") { // fast path: no template markers
		return text, nil
	}

	tmpl, err := template.New("expr").Option("missingkey=zero").Funcs(template.FuncMap{
		"field": func(path string) any {
			v, _ := ResolvePath(data, path)
			return v
		},
		"default": func(defaultVal any, val any) any {
			if val == nil || val == "" {
				return defaultVal
			}
			return val
		},
		"upper": strings.ToUpper,
		"lower": strings.ToLower,
		"trim":  strings.TrimSpace,
		"join": func(sep string, items any) string {
			list := cast.ToSlice(items)
			strItems := make([]string, len(list))
			for i, item := range list {
				strItems[i] = fmt.Sprintf("%v", item)
			}
			return strings.Join(strItems, sep)
		},
		"json": func(v any) (string, error) {
			b, err := json.Marshal(v)
			return string(b), err
		},
	}).Parse(text)
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", err
	}

	return strings.ReplaceAll(buf.String(), noValue, ""), nil
}
