package customization

import (
	"fmt"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/pitabwire/dbconsole/internal/schema"
)

// DefaultTheme is used when no layer names a theme type.
const DefaultTheme = "material"

// Theme selects the stylesheet and an optional user stylesheet.
type Theme struct {
	Type string `yaml:"type,omitempty" json:"type,omitempty"`
	CSS  string `yaml:"css,omitempty" json:"css,omitempty"`
}

// FormField overrides how one field of a form section renders.
type FormField struct {
	Required bool `yaml:"required,omitempty" json:"required,omitempty"`
	Expand   bool `yaml:"expand,omitempty" json:"expand,omitempty"`
	Hidden   bool `yaml:"hidden,omitempty" json:"hidden,omitempty"`
}

// FormSection groups fields under a title. Order keeps the fields in the
// order the layer declared them.
type FormSection struct {
	Title  string               `yaml:"title" json:"title"`
	Fields map[string]FormField `yaml:"fields" json:"fields"`
	Order  []string             `yaml:"-" json:"order"`
}

// UnmarshalYAML records the declaration order of the section's fields.
func (s *FormSection) UnmarshalYAML(n *yaml.Node) error {
	type plain FormSection
	var p plain
	if err := n.Decode(&p); err != nil {
		return err
	}
	*s = FormSection(p)
	s.Order = nil
	for i := 0; i+1 < len(n.Content); i += 2 {
		if n.Content[i].Value != "fields" || n.Content[i+1].Kind != yaml.MappingNode {
			continue
		}
		fields := n.Content[i+1].Content
		for j := 0; j+1 < len(fields); j += 2 {
			s.Order = append(s.Order, fields[j].Value)
		}
	}
	return nil
}

// Form customizes the layout of one resource form.
type Form struct {
	Sections []FormSection `yaml:"sections" json:"sections"`
}

// ViewField customizes one column of a list view. Value is a formula whose
// result replaces the stored value.
type ViewField struct {
	Label   string      `yaml:"label,omitempty" json:"label,omitempty"`
	Value   string      `yaml:"value,omitempty" json:"value,omitempty"`
	Buttons []MenuEntry `yaml:"buttons,omitempty" json:"buttons,omitempty"`
}

// View customizes one list or detail view.
type View struct {
	Columns []string             `yaml:"columns,omitempty" json:"columns,omitempty"`
	Fields  map[string]ViewField `yaml:"fields,omitempty" json:"fields,omitempty"`
	Menu    []MenuEntry          `yaml:"menu,omitempty" json:"menu,omitempty"`
}

// Document is the typed reading of a merged customizations document.
type Document struct {
	Theme Theme           `yaml:"theme" json:"theme"`
	Forms map[string]Form `yaml:"forms" json:"forms"`
	Views map[string]View `yaml:"views" json:"views"`
}

// Layer is one parsed customizations source.
type Layer struct {
	Name string
	Data map[string]any
	Doc  Document
}

// ParseLayer reads a JSON or YAML layer. Empty input is an empty layer.
func ParseLayer(name string, data []byte) (Layer, error) {
	l := Layer{Name: name, Data: map[string]any{}}
	var n yaml.Node
	if err := yaml.Unmarshal(data, &n); err != nil {
		return Layer{}, fmt.Errorf("customization: parsing %s: %w", name, err)
	}
	if n.Kind == 0 {
		return l, nil
	}
	if err := n.Decode(&l.Data); err != nil {
		return Layer{}, fmt.Errorf("customization: %s is not an object: %w", name, err)
	}
	if err := n.Decode(&l.Doc); err != nil {
		return Layer{}, fmt.Errorf("customization: decoding %s: %w", name, err)
	}
	if l.Data == nil {
		l.Data = map[string]any{}
	}
	return l, nil
}

// Effective is the merged document of one user.
type Effective struct {
	// Data is the merged document as served to the browser.
	Data map[string]any
	Doc  Document
}

// Combine merges layers in order. Form sections are arrays and replace
// each other wholesale, so they are taken from the last layer that
// declares them to keep their field order.
func Combine(layers ...Layer) (*Effective, error) {
	merged := map[string]any{}
	for _, l := range layers {
		merged = Merge(merged, l.Data)
	}
	raw, err := yaml.Marshal(merged)
	if err != nil {
		return nil, fmt.Errorf("customization: encoding merged document: %w", err)
	}
	var doc Document
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("customization: decoding merged document: %w", err)
	}
	if doc.Forms == nil {
		doc.Forms = map[string]Form{}
	}
	for _, l := range layers {
		for p, f := range l.Doc.Forms {
			if f.Sections == nil {
				continue
			}
			cur := doc.Forms[p]
			cur.Sections = f.Sections
			doc.Forms[p] = cur
		}
	}
	return &Effective{Data: merged, Doc: doc}, nil
}

// ThemeType returns the selected theme, DefaultTheme when unset.
func (e *Effective) ThemeType() string {
	if e == nil || e.Doc.Theme.Type == "" {
		return DefaultTheme
	}
	return e.Doc.Theme.Type
}

// IsMaterial reports whether the material theme is active.
func (e *Effective) IsMaterial() bool {
	return e.ThemeType() == DefaultTheme
}

// View returns the view customization whose path template matches path.
// Templates are tried in sorted order; the first match wins.
func (e *Effective) View(path string) (View, bool) {
	if e == nil {
		return View{}, false
	}
	for _, t := range sortedKeys(e.Doc.Views) {
		if schema.MatchesPath(path, t) {
			return e.Doc.Views[t], true
		}
	}
	return View{}, false
}

// Form returns the form customization whose path template matches path.
func (e *Effective) Form(path string) (Form, bool) {
	if e == nil {
		return Form{}, false
	}
	for _, t := range sortedKeys(e.Doc.Forms) {
		if schema.MatchesPath(path, t) {
			return e.Doc.Forms[t], true
		}
	}
	return Form{}, false
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
