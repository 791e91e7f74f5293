package schema

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/pitabwire/dbconsole/internal/access"
	"github.com/pitabwire/dbconsole/internal/valuepath"
)

// ErrDuplicateMatch is returned when more than one path template answers a
// lookup that must be unique. It means the document is malformed and is not
// worth retrying.
var ErrDuplicateMatch = errors.New("schema: duplicate match")

// Paths maps a path template to its path item: HTTP method names (lower
// case) to operation objects, plus any path-level keys such as
// "parameters".
type Paths map[string]map[string]any

var httpMethods = map[string]bool{
	"get": true, "put": true, "post": true, "delete": true,
	"patch": true, "head": true, "options": true, "trace": true,
}

// IsMethod reports whether a path item key names an HTTP operation.
func IsMethod(key string) bool {
	return httpMethods[key]
}

// PathsFrom extracts the path table from a normalized document.
func PathsFrom(doc map[string]any) Paths {
	raw, _ := doc["paths"].(map[string]any)
	out := make(Paths, len(raw))
	for k, v := range raw {
		if item, ok := v.(map[string]any); ok {
			out[k] = item
		}
	}
	return out
}

// sortedKeys keeps lookups and error messages deterministic.
func (p Paths) sortedKeys() []string {
	keys := make([]string, 0, len(p))
	for k := range p {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// SchemaPath returns the template matching path, or "" when none does.
func (p Paths) SchemaPath(path string) (string, error) {
	if p == nil || path == "" {
		return "", nil
	}
	var matches []string
	for _, k := range p.sortedKeys() {
		if MatchesPath(path, k) {
			matches = append(matches, k)
		}
	}
	switch len(matches) {
	case 0:
		return "", nil
	case 1:
		return matches[0], nil
	default:
		return "", fmt.Errorf("%w: resources %s for path %s", ErrDuplicateMatch, strings.Join(matches, ", "), path)
	}
}

// ResourceByPath returns the path item whose template matches path. It
// returns nil when nothing matches.
func (p Paths) ResourceByPath(path string) (map[string]any, error) {
	key, err := p.SchemaPath(path)
	if err != nil || key == "" {
		return nil, err
	}
	return p[key], nil
}

// CreatePath returns the unique descendant template of path that accepts
// PUT. It returns "" when there is none.
func (p Paths) CreatePath(path string) (string, error) {
	if p == nil {
		return "", nil
	}
	parts := strings.Split(path, "/")
	var matches []string
	for _, k := range p.sortedKeys() {
		tparts := strings.Split(k, "/")
		if len(parts) >= len(tparts) || !prefixMatches(parts, tparts) {
			continue
		}
		if _, ok := p[k]["put"]; ok {
			matches = append(matches, k)
		}
	}
	switch len(matches) {
	case 0:
		return "", nil
	case 1:
		return matches[0], nil
	default:
		return "", fmt.Errorf("%w: PUT child resources %s for path %s", ErrDuplicateMatch, strings.Join(matches, ", "), path)
	}
}

// Filter describes how a list can be narrowed. Field is the path parameter
// name to filter by. Choices lists the literal child collections when a
// path has several, so the caller offers a selection instead.
type Filter struct {
	Field   string   `json:"field,omitempty"`
	Choices []string `json:"choices,omitempty"`
}

// FilterField inspects the immediate GET children of path. A single child
// whose own subtree has placeholder children yields its parameter name.
// Several children yield their literal last segments.
func (p Paths) FilterField(path string) (Filter, error) {
	if p == nil {
		return Filter{}, nil
	}
	parts := strings.Split(path, "/")
	var matches []string
	for _, k := range p.sortedKeys() {
		tparts := strings.Split(k, "/")
		if len(tparts) != len(parts)+1 || !prefixMatches(parts, tparts) {
			continue
		}
		if _, ok := p[k]["get"]; ok {
			matches = append(matches, k)
		}
	}

	switch len(matches) {
	case 0:
		return Filter{}, nil
	case 1:
		child := matches[0]
		hasChildren := false
		for k := range p {
			if strings.HasPrefix(k, child+"/") && strings.HasSuffix(k, "}") {
				hasChildren = true
				break
			}
		}
		last := child[strings.LastIndex(child, "/")+1:]
		if !hasChildren || !isPlaceholder(last) {
			return Filter{}, nil
		}
		return Filter{Field: last[1 : len(last)-1]}, nil
	default:
		var choices []string
		for _, m := range matches {
			last := m[strings.LastIndex(m, "/")+1:]
			if !isPlaceholder(last) {
				choices = append(choices, last)
			}
		}
		if len(choices) == 0 {
			return Filter{}, fmt.Errorf("%w: GET child resources %s for path %s", ErrDuplicateMatch, strings.Join(matches, ", "), path)
		}
		return Filter{Choices: choices}, nil
	}
}

// FilterAccess returns a copy of p without the operations rule forbids.
// Path items left without any operation are dropped.
func (p Paths) FilterAccess(rule access.Rule) Paths {
	out := make(Paths, len(p))
	for path, item := range p {
		kept := make(map[string]any, len(item))
		methods := 0
		for k, v := range item {
			if IsMethod(k) {
				if !rule.Allows(strings.ToUpper(k), path, "") {
					continue
				}
				methods++
			}
			kept[k] = v
		}
		if methods > 0 {
			out[path] = kept
		}
	}
	return out
}

// DefaultValue returns value when it is set, otherwise the starting value
// for a field of parameter's type. Primitives other than booleans with a
// declared default stay unset.
func DefaultValue(parameter map[string]any, value any) any {
	if valuepath.Truthy(value) {
		return value
	}
	nested, _ := parameter["schema"].(map[string]any)
	typ, _ := parameter["type"].(string)
	if typ == "" && nested != nil {
		typ, _ = nested["type"].(string)
	}

	switch typ {
	case "boolean":
		if nested != nil && valuepath.Truthy(nested["default"]) {
			return nested["default"]
		}
		return nil
	case "array":
		return []any{}
	case "integer":
		return ""
	default:
		return nil
	}
}

// PruneEmpty returns a copy of values without unset entries: falsy
// scalars, empty arrays and objects that are empty after pruning.
func PruneEmpty(values map[string]any) map[string]any {
	out := make(map[string]any, len(values))
	for k, v := range values {
		if !valuepath.Truthy(v) {
			continue
		}
		switch t := v.(type) {
		case map[string]any:
			if pruned := PruneEmpty(t); len(pruned) > 0 {
				out[k] = pruned
			}
		case []any:
			if len(t) > 0 {
				out[k] = t
			}
		default:
			out[k] = v
		}
	}
	return out
}
