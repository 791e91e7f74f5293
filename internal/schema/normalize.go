package schema

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// maxDepth bounds $ref expansion. OpenAPI references are acyclic in
// practice; a cycle ends in ErrTooDeep instead of a stack overflow.
const maxDepth = 128

// ErrTooDeep is returned when a document nests deeper than maxDepth.
var ErrTooDeep = errors.New("schema: document nesting too deep")

// Normalize returns a copy of doc with every local "$ref" inlined and every
// non-2xx response removed from operations. doc is not modified. Each
// reference site receives its own copy of the target.
func Normalize(doc map[string]any) (map[string]any, error) {
	n := normalizer{root: doc}
	out, err := n.object(doc, nil, 0)
	if err != nil {
		return nil, err
	}
	return out, nil
}

type normalizer struct {
	root map[string]any
}

func (n normalizer) node(v any, trace []string, depth int) (any, error) {
	switch t := v.(type) {
	case map[string]any:
		return n.object(t, trace, depth)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			ne, err := n.node(e, trace, depth+1)
			if err != nil {
				return nil, err
			}
			out[i] = ne
		}
		return out, nil
	default:
		return v, nil
	}
}

func (n normalizer) object(obj map[string]any, trace []string, depth int) (map[string]any, error) {
	if depth > maxDepth {
		return nil, fmt.Errorf("%w at %s", ErrTooDeep, strings.Join(trace, "/"))
	}
	responses := len(trace) == 4 && trace[0] == "paths" && trace[3] == "responses"

	out := make(map[string]any, len(obj))
	var ref string
	for k, v := range obj {
		if s, ok := v.(string); ok && k == "$ref" && strings.HasPrefix(s, "#/") {
			ref = s
			continue
		}
		if responses && !successStatus(k) {
			continue
		}
		nv, err := n.node(v, extend(trace, k), depth+1)
		if err != nil {
			return nil, err
		}
		out[k] = nv
	}

	if ref == "" {
		return out, nil
	}
	target, ok := Child(n.root, strings.TrimPrefix(ref, "#/")).(map[string]any)
	if !ok {
		return nil, fmt.Errorf("schema: unresolvable reference %q", ref)
	}
	// The target may itself be an alias of another schema.
	resolved, err := n.object(target, trace, depth+1)
	if err != nil {
		return nil, err
	}
	for k, v := range resolved {
		out[k] = v
	}
	return out, nil
}

func extend(trace []string, key string) []string {
	out := make([]string, len(trace)+1)
	copy(out, trace)
	out[len(trace)] = key
	return out
}

// successStatus reports whether a responses key should be kept. Keys without
// a leading status number (such as "default") are kept.
func successStatus(key string) bool {
	n, digits := 0, 0
	for _, c := range key {
		if c < '0' || c > '9' {
			break
		}
		n = n*10 + int(c-'0')
		digits++
	}
	if digits == 0 {
		return true
	}
	return n >= 200 && n <= 299
}

// Child walks a slash separated path through nested objects and arrays and
// returns nil when any step is missing.
func Child(root any, path string) any {
	path = strings.TrimLeft(path, "/")
	if path == "" {
		return root
	}
	return ChildParts(root, strings.Split(path, "/"))
}

// ChildParts is Child for an already split path.
func ChildParts(root any, parts []string) any {
	cur := root
	for _, p := range parts {
		switch c := cur.(type) {
		case map[string]any:
			cur = c[p]
		case []any:
			idx, err := strconv.Atoi(p)
			if err != nil || idx < 0 || idx >= len(c) {
				return nil
			}
			cur = c[idx]
		default:
			return nil
		}
	}
	return cur
}

// ArrayToObject indexes a list of objects by the value of their key field.
func ArrayToObject(items []any, key string) map[string]any {
	out := make(map[string]any, len(items))
	for _, it := range items {
		m, ok := it.(map[string]any)
		if !ok {
			continue
		}
		out[fmt.Sprint(m[key])] = m
	}
	return out
}
