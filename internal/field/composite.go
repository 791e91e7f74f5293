package field

import (
	"sort"
	"strconv"

	"github.com/pitabwire/dbconsole/internal/schema"
)

// objectField renders each declared property as its own field.
type objectField struct {
	base
	params map[string]any
	keys   []string
	fields []Field
}

func newObject(b base) Field {
	params, ok := b.p.Parameter["properties"].(map[string]any)
	if !ok {
		return missingAttribute(b, `"properties" attribute missing from schema for field "`+b.p.Prefix+`"`)
	}
	required := map[string]bool{}
	if list, ok := b.p.Parameter["required"].([]any); ok {
		for _, r := range list {
			if s, ok := r.(string); ok {
				required[s] = true
			}
		}
	}

	f := &objectField{base: b, params: params, keys: make([]string, 0, len(params))}
	for k := range params {
		f.keys = append(f.keys, k)
	}
	sort.Strings(f.keys)
	for _, k := range f.keys {
		prop, _ := params[k].(map[string]any)
		f.fields = append(f.fields, New(b.child(k, prop, required[k])))
	}
	return f
}

// child derives the props of a nested field.
func (b *base) child(key string, parameter map[string]any, required bool) Props {
	return Props{
		Prefix:     join(b.p.Prefix, key),
		Parameter:  parameter,
		State:      b.p.State,
		Required:   required,
		Readonly:   b.p.Readonly,
		Path:       b.p.Path,
		Env:        b.p.Env,
		noDefaults: b.p.noDefaults,
	}
}

func missingAttribute(b base, message string) Field {
	b.kind = KindMessage
	return &messageField{base: b, message: message}
}

func (f *objectField) children() []Field { return f.fields }

// Fields returns the property fields in display order.
func (f *objectField) Fields() []Field { return f.fields }

func (f *objectField) objectValue() (map[string]any, bool) {
	if f.p.Prefix == "" {
		return f.p.State.Values, true
	}
	m, ok := f.value().(map[string]any)
	return m, ok
}

// applyDefaults seeds absent properties with their type's starting value.
func (f *objectField) applyDefaults() {
	if f.p.noDefaults || f.p.Readonly {
		return
	}
	for _, k := range f.keys {
		prefixKey := join(f.p.Prefix, k)
		if f.p.State.Get(prefixKey) != nil {
			continue
		}
		prop, _ := f.params[k].(map[string]any)
		if def := schema.DefaultValue(prop, nil); def != nil {
			f.p.State.Set(prefixKey, def)
		}
	}
}

func (f *objectField) Edit() *Descriptor {
	f.applyDefaults()
	d := f.descriptor()
	d.Expand = f.p.Expand
	d.HideTitle = f.p.HideTitle
	for _, c := range f.fields {
		if cd := c.Edit(); cd != nil {
			d.Children = append(d.Children, cd)
		}
	}
	return d
}

func (f *objectField) View() *Descriptor {
	d := f.descriptor()
	d.Error = ""
	d.HideTitle = f.p.HideTitle
	for _, c := range f.fields {
		if cd := c.View(); cd != nil {
			d.Children = append(d.Children, cd)
		}
	}
	return d
}

// Validate checks the properties present in the value plus the required
// ones. An absent object only fails when it is itself required.
func (f *objectField) Validate() bool {
	value, ok := f.objectValue()
	if !ok || value == nil {
		return f.base.Validate()
	}
	success := true
	for i, k := range f.keys {
		_, present := value[k]
		if !present && !f.fields[i].required() {
			continue
		}
		success = f.fields[i].Validate() && success
	}
	return success
}

func (b *base) required() bool { return b.p.Required }

// arrayField renders one item field per element plus a trailing blank row.
type arrayField struct {
	base
	items map[string]any
}

func newArray(b base) Field {
	items, ok := b.p.Parameter["items"].(map[string]any)
	if !ok {
		return missingAttribute(b, `"items" attribute missing in schema definition`)
	}
	return &arrayField{base: b, items: items}
}

func (f *arrayField) elements() []any {
	v, _ := f.value().([]any)
	return v
}

func (f *arrayField) item(i int, trailing bool) Field {
	p := f.child(strconv.Itoa(i), f.items, i == 0 && f.p.Required)
	p.noDefaults = p.noDefaults || trailing
	p.commit = func(st *State, prefix string, v any) {
		if v == "" {
			v = nil
		}
		st.Set(prefix, v)
	}
	return New(p)
}

func (f *arrayField) children() []Field {
	n := len(f.elements())
	out := make([]Field, 0, n+1)
	for i := 0; i < n; i++ {
		out = append(out, f.item(i, false))
	}
	if !f.p.Readonly {
		out = append(out, f.item(n, true))
	}
	return out
}

func (f *arrayField) Edit() *Descriptor {
	d := f.descriptor()
	for _, c := range f.children() {
		if cd := c.Edit(); cd != nil {
			d.Children = append(d.Children, cd)
		}
	}
	return d
}

func (f *arrayField) View() *Descriptor {
	d := f.descriptor()
	d.Error = ""
	for i := range f.elements() {
		if cd := f.item(i, false).View(); cd != nil {
			d.Children = append(d.Children, cd)
		}
	}
	return d
}

func (f *arrayField) Validate() bool {
	success := f.base.Validate()
	for i := range f.elements() {
		success = f.item(i, false).Validate() && success
	}
	return success
}
