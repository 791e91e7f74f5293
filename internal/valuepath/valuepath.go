// Package valuepath reads and writes values inside a form values object
// addressed by dotted paths such as "spec.tier" or "roles.0.name".
//
// Numeric segments address array elements. When Set has to create a missing
// intermediate container it creates an array if the following segment is a
// non-negative integer and an object otherwise, so a map field whose key is
// purely numeric (e.g. "labels.2024") gets an array. Callers that need such
// keys must create the parent object before setting the child.
package valuepath

import (
	"math"
	"strconv"
	"strings"
)

// Get returns the value at path, or nil as soon as any segment is missing.
func Get(values map[string]any, path string) any {
	var cur any = values
	for _, part := range strings.Split(path, ".") {
		cur = child(cur, part)
		if cur == nil {
			return nil
		}
	}
	return cur
}

// Set stores value at path and returns values, which is allocated when nil.
// A nil value deletes the leaf: the key is removed from an object parent and
// the element is spliced out of an array parent.
func Set(values map[string]any, path string, value any) map[string]any {
	if values == nil {
		values = make(map[string]any)
	}
	setIn(values, strings.Split(path, "."), value)
	return values
}

func child(node any, part string) any {
	switch c := node.(type) {
	case map[string]any:
		return c[part]
	case []any:
		idx, ok := index(part)
		if !ok || idx >= len(c) {
			return nil
		}
		return c[idx]
	default:
		return nil
	}
}

func setIn(node any, parts []string, value any) any {
	key := parts[0]
	last := len(parts) == 1

	switch c := node.(type) {
	case map[string]any:
		if last {
			if value == nil {
				delete(c, key)
			} else {
				c[key] = value
			}
			return c
		}
		next, ok := descend(c[key], parts[1], value)
		if !ok {
			return c
		}
		c[key] = setIn(next, parts[1:], value)
		return c

	case []any:
		idx, ok := index(key)
		if !ok {
			return c
		}
		if last {
			if value == nil {
				if idx < len(c) {
					return append(c[:idx:idx], c[idx+1:]...)
				}
				return c
			}
			c = grow(c, idx)
			c[idx] = value
			return c
		}
		var existing any
		if idx < len(c) {
			existing = c[idx]
		}
		next, ok := descend(existing, parts[1], value)
		if !ok {
			return c
		}
		c = grow(c, idx)
		c[idx] = setIn(next, parts[1:], value)
		return c
	}
	return node
}

// descend returns the container to continue into, creating one when the
// existing value is falsy. It reports false when nothing should be written.
func descend(existing any, nextPart string, value any) (any, bool) {
	if Truthy(existing) {
		return existing, true
	}
	if value == nil {
		return nil, false
	}
	if _, ok := index(nextPart); ok {
		return []any{}, true
	}
	return map[string]any{}, true
}

func grow(c []any, idx int) []any {
	for len(c) <= idx {
		c = append(c, nil)
	}
	return c
}

func index(part string) (int, bool) {
	if part == "" {
		return 0, false
	}
	n, err := strconv.Atoi(part)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

// Truthy reports whether v counts as set: nil, false, zero numbers and the
// empty string do not. Empty objects and arrays do.
func Truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return t != ""
	case float64:
		return t != 0 && !math.IsNaN(t)
	case float32:
		return t != 0 && !math.IsNaN(float64(t))
	case int:
		return t != 0
	case int64:
		return t != 0
	case int32:
		return t != 0
	default:
		return true
	}
}
