package customization

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/pitabwire/dbconsole/internal/formula"
	"github.com/pitabwire/dbconsole/internal/schema"
)

// MenuEntry is a context-menu item of a view row, or a button of a view
// field. Exactly one of Patch, Link and Dialog describes the action.
type MenuEntry struct {
	Label   string `yaml:"label" json:"label"`
	Icon    string `yaml:"icon,omitempty" json:"icon,omitempty"`
	Visible string `yaml:"visible,omitempty" json:"visible,omitempty"`
	Confirm string `yaml:"confirm,omitempty" json:"confirm,omitempty"`
	Patch   any    `yaml:"patch,omitempty" json:"patch,omitempty"`
	Link    string `yaml:"link,omitempty" json:"link,omitempty"`
	Dialog  string `yaml:"dialog,omitempty" json:"dialog,omitempty"`
}

// Action kinds.
const (
	ActionPatch  = "patch"
	ActionLink   = "link"
	ActionDialog = "dialog"
)

// ErrInvalidPatch is returned for a patch action that is not a usable
// JSON Patch document.
var ErrInvalidPatch = errors.New("customization: invalid patch")

// Action returns the kind of action the entry performs, "" when none.
func (m MenuEntry) Action() string {
	switch {
	case m.Patch != nil:
		return ActionPatch
	case m.Link != "":
		return ActionLink
	case m.Dialog != "":
		return ActionDialog
	default:
		return ""
	}
}

// IsVisible evaluates the entry's visibility formula against row.
func (m MenuEntry) IsVisible(row map[string]any) bool {
	return formula.Visible(row, m.Visible)
}

// VisibleMenu returns the view's menu entries visible for row.
func (v View) VisibleMenu(row map[string]any) []MenuEntry {
	var out []MenuEntry
	for _, m := range v.Menu {
		if m.IsVisible(row) {
			out = append(out, m)
		}
	}
	return out
}

// Entry returns the menu entry labelled label. Field buttons are searched
// after the menu, in field name order.
func (v View) Entry(label string) (MenuEntry, bool) {
	for _, m := range v.Menu {
		if m.Label == label {
			return m, true
		}
	}
	names := make([]string, 0, len(v.Fields))
	for k := range v.Fields {
		names = append(names, k)
	}
	sort.Strings(names)
	for _, k := range names {
		for _, b := range v.Fields[k].Buttons {
			if b.Label == label {
				return b, true
			}
		}
	}
	return MenuEntry{}, false
}

// PatchOp is one RFC 6902 operation.
type PatchOp struct {
	Op    string `json:"op"`
	Path  string `json:"path"`
	Value any    `json:"value,omitempty"`
}

// PatchOps converts the entry's patch into RFC 6902 operations. A list is
// taken as operations; an object maps dotted field paths to values, where
// null removes the field and anything else replaces it.
func (m MenuEntry) PatchOps() ([]PatchOp, error) {
	switch p := m.Patch.(type) {
	case []any:
		ops := make([]PatchOp, 0, len(p))
		for i, raw := range p {
			o, ok := raw.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("%w: operation %d is not an object", ErrInvalidPatch, i)
			}
			op, _ := o["op"].(string)
			path, _ := o["path"].(string)
			switch op {
			case "add", "replace", "remove":
			default:
				return nil, fmt.Errorf("%w: unsupported op %q", ErrInvalidPatch, op)
			}
			if !strings.HasPrefix(path, "/") {
				return nil, fmt.Errorf("%w: path %q must start with /", ErrInvalidPatch, path)
			}
			ops = append(ops, PatchOp{Op: op, Path: path, Value: o["value"]})
		}
		return ops, nil
	case map[string]any:
		keys := make([]string, 0, len(p))
		for k := range p {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		ops := make([]PatchOp, 0, len(keys))
		for _, k := range keys {
			path := "/" + strings.ReplaceAll(strings.Trim(k, "."), ".", "/")
			if p[k] == nil {
				ops = append(ops, PatchOp{Op: "remove", Path: path})
				continue
			}
			ops = append(ops, PatchOp{Op: "replace", Path: path, Value: p[k]})
		}
		return ops, nil
	default:
		return nil, fmt.Errorf("%w: %T", ErrInvalidPatch, m.Patch)
	}
}

// LinkFor substitutes row values into the entry's link. Links leaving the
// console (scheme or protocol-relative) are refused.
func (m MenuEntry) LinkFor(row map[string]any) (string, bool) {
	if m.Link == "" {
		return "", false
	}
	vars := make(map[string]string, len(row))
	for k, v := range row {
		switch v.(type) {
		case map[string]any, []any, nil:
		default:
			vars[k] = fmt.Sprint(v)
		}
	}
	link := schema.ReplaceVariables(m.Link, vars)
	if strings.HasPrefix(link, "//") || strings.Contains(link, "://") {
		return "", false
	}
	return link, true
}
