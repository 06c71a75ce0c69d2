package kv

import (
	"context"
	"strings"
)

// Source answers dotted-path lookups against a nested document.
// A missing key or a malformed document reports ok=false; Get never fails.
type Source interface {
	Get(ctx context.Context, path string) (v any, ok bool)
}

// Map is an in-memory Source.
type Map map[string]any

func (m Map) Get(_ context.Context, path string) (any, bool) {
	return Lookup(map[string]any(m), path)
}

// Lookup walks doc along a dotted path. An empty path returns doc itself.
func Lookup(doc map[string]any, path string) (any, bool) {
	if doc == nil {
		return nil, false
	}
	path = strings.Trim(strings.TrimSpace(path), ".")
	if path == "" {
		return doc, true
	}
	var cur any = doc
	for _, part := range strings.Split(path, ".") {
		m, ok := AsMap(cur)
		if !ok {
			return nil, false
		}
		cur, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// Chain consults sources in order and returns the first non-empty value.
// Empty means nil, an empty string, or an empty map/list.
type Chain []Source

func (c Chain) Get(ctx context.Context, path string) (any, bool) {
	for _, s := range c {
		if s == nil {
			continue
		}
		v, ok := s.Get(ctx, path)
		if !ok || isEmpty(v) {
			continue
		}
		return v, true
	}
	return nil, false
}

func isEmpty(v any) bool {
	switch x := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(x) == ""
	case map[string]any:
		return len(x) == 0
	case []any:
		return len(x) == 0
	default:
		return false
	}
}
