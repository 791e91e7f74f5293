package field

import (
	"sort"
	"strconv"
	"strings"
)

// mapField edits free-form key/value pairs. Existing rows are addressed as
// "<prefix>.<row>.value"; the new row is "<prefix>.key" and "<prefix>.value"
// and lives in drafts until it is added.
type mapField struct {
	base
}

func (f *mapField) entries() map[string]any {
	m, _ := f.value().(map[string]any)
	return m
}

func (f *mapField) keys() []string {
	m := f.entries()
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (f *mapField) valueSchema() map[string]any {
	m, _ := f.p.Parameter["additionalProperties"].(map[string]any)
	return m
}

func (f *mapField) newKey() string   { return f.p.Prefix + ".key" }
func (f *mapField) newValue() string { return f.p.Prefix + ".value" }

func (f *mapField) rowValue(i int) string {
	return f.p.Prefix + "." + strconv.Itoa(i) + ".value"
}

func (f *mapField) owns(prefix string) bool {
	return prefix == f.p.Prefix || strings.HasPrefix(prefix, f.p.Prefix+".")
}

func (f *mapField) editable() bool {
	return !f.p.Readonly && !f.p.FixedKeys
}

func (f *mapField) Edit() *Descriptor {
	st := f.p.State
	last := lastSegment(f.p.Prefix)
	d := f.descriptor()
	d.Input = "map"
	entries := f.entries()
	for i, k := range f.keys() {
		row := &Descriptor{Kind: KindMap, Prefix: f.p.Prefix + "." + strconv.Itoa(i)}
		row.Children = []*Descriptor{
			{Kind: KindString, Prefix: row.Prefix + ".key", Label: last + " Key", Value: k, Input: "text", Readonly: true},
			{Kind: KindString, Prefix: f.rowValue(i), Label: last + " Value", Value: stringify(entries[k]), Input: "text", Readonly: f.p.Readonly, Error: st.Errors[f.rowValue(i)]},
		}
		if f.editable() {
			row.Action = &Action{Name: "delete", Label: f.p.Env.t("button.delete", "Delete"), Method: string(OpDelete), Path: f.p.Prefix + "." + k}
		}
		d.Children = append(d.Children, row)
	}
	if f.editable() {
		key, _ := st.draft(f.newKey())
		value, _ := st.draft(f.newValue())
		d.Children = append(d.Children, &Descriptor{
			Kind:   KindMap,
			Prefix: f.p.Prefix,
			Action: &Action{Name: "add", Label: f.p.Env.t("button.add", "Add"), Method: string(OpAdd), Path: f.p.Prefix},
			Children: []*Descriptor{
				{Kind: KindString, Prefix: f.newKey(), Label: "new key", Value: key, Input: "text", Error: st.Errors[f.newKey()]},
				{Kind: KindString, Prefix: f.newValue(), Label: "new value", Value: value, Input: "text", Error: st.Errors[f.newValue()]},
			},
		})
	}
	return d
}

// View lists the entries. Keys containing "/" are grouped under the text
// before the first slash.
func (f *mapField) View() *Descriptor {
	d := f.descriptor()
	d.Error = ""
	entries := f.entries()
	groups := map[string]*Descriptor{}
	for _, k := range f.keys() {
		text, more := displayText(entries[k])
		entry := &Descriptor{Kind: KindString, Prefix: f.p.Prefix + "." + k, Label: k, Value: text, More: more}
		group, rest, ok := strings.Cut(k, "/")
		if !ok {
			d.Children = append(d.Children, entry)
			continue
		}
		entry.Label = rest
		g, seen := groups[group]
		if !seen {
			g = &Descriptor{Kind: KindMap, Prefix: f.p.Prefix + "." + group, Label: group}
			groups[group] = g
			d.Children = append(d.Children, g)
		}
		g.Children = append(g.Children, entry)
	}
	return d
}

// Apply handles row edits, the new-row drafts, add and delete.
func (f *mapField) Apply(in Input) error {
	if f.p.Readonly {
		return nil
	}
	st := f.p.State
	switch in.Op {
	case OpAdd:
		if !f.editable() {
			return ErrUnsupportedInput
		}
		f.add()
		return nil
	case OpDelete:
		if !f.editable() {
			return ErrUnsupportedInput
		}
		if m := f.entries(); m != nil {
			delete(m, in.Key)
		}
		return nil
	case OpChange, "":
	default:
		return ErrUnsupportedInput
	}

	switch in.Prefix {
	case f.newKey(), f.newValue():
		st.setDraft(in.Prefix, stringify(in.Value))
		return nil
	}
	keys := f.keys()
	for i, k := range keys {
		if in.Prefix == f.rowValue(i) {
			f.entries()[k] = in.Value
			return nil
		}
	}
	return ErrUnsupportedInput
}

// add moves the new-row drafts into the map once both validate.
func (f *mapField) add() bool {
	st := f.p.State
	key, _ := st.draft(f.newKey())
	value, _ := st.draft(f.newValue())
	if key == "" && value == "" {
		return false
	}
	if !f.validateNewRow() {
		return false
	}
	m := f.entries()
	if m == nil {
		m = map[string]any{}
		st.Set(f.p.Prefix, m)
	}
	m[key] = value
	st.clearDraft(f.newKey())
	st.clearDraft(f.newValue())
	return true
}

// validateNewRow checks a partially typed new row: the key is mandatory and
// the value follows the value schema.
func (f *mapField) validateNewRow() bool {
	st := f.p.State
	key, _ := st.draft(f.newKey())
	value, _ := st.draft(f.newValue())
	if key == "" && value == "" {
		st.Errors.Update(f.newKey(), "")
		st.Errors.Update(f.newValue(), "")
		return true
	}
	ok := check(st, f.newKey(), f.p.Parameter, key, true)
	return check(st, f.newValue(), f.valueSchema(), value, false) && ok
}

func (f *mapField) Validate() bool {
	success := true
	if f.p.Required {
		success = f.base.Validate()
	}
	if vs := f.valueSchema(); vs != nil {
		entries := f.entries()
		for i, k := range f.keys() {
			success = check(f.p.State, f.rowValue(i), vs, entries[k], false) && success
		}
	}
	return f.validateNewRow() && success
}
