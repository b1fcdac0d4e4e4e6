package util

import (
	"strconv"
	"strings"
)

// ResolvePath walks a dotted path ("node-1.items.0.name") through nested maps
// and slices. The first segment is matched against top-level keys greedily so
// that ids containing dots still resolve.
func ResolvePath(data map[string]any, path string) (any, bool) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, false
	}

	if v, ok := data[path]; ok {
		return v, true
	}

	// longest top-level key that prefixes the path
	var (
		cur  any
		rest string
		hit  bool
	)
	for i := len(path) - 1; i > 0; i-- {
		if path[i] != '.' {
			continue
		}
		if v, ok := data[path[:i]]; ok {
			cur, rest, hit = v, path[i+1:], true
			break
		}
	}
	if !hit {
		return nil, false
	}

	for _, seg := range strings.Split(rest, ".") {
		switch c := cur.(type) {
		case map[string]any:
			v, ok := c[seg]
			if !ok {
				return nil, false
			}
			cur = v
		case []any:
			idx, err := strconv.Atoi(seg)
			if err != nil || idx < 0 || idx >= len(c) {
				return nil, false
			}
			cur = c[idx]
		case []string:
			idx, err := strconv.Atoi(seg)
			if err != nil || idx < 0 || idx >= len(c) {
				return nil, false
			}
			cur = c[idx]
		case []map[string]any:
			idx, err := strconv.Atoi(seg)
			if err != nil || idx < 0 || idx >= len(c) {
				return nil, false
			}
			cur = c[idx]
		default:
			return nil, false
		}
	}

	return cur, true
}
