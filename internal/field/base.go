package field

import (
	"regexp"
	"strconv"
	"strings"
	"sync"

	json "github.com/goccy/go-json"

	"github.com/pitabwire/dbconsole/internal/valuepath"
)

// maxDisplay is the display length after which text is cut.
const maxDisplay = 80

// New classifies p and returns the matching variant.
func New(p Props) Field {
	if p.State == nil {
		p.State = NewState(nil)
	}
	p.State.init()
	if p.Label == "" && p.Prefix != "" {
		p.Label = p.Env.t("field.label."+p.Prefix, p.Prefix)
	}
	c := Classify(p)
	p.Required = c.Required
	b := base{p: p, kind: c.Kind}

	switch c.Kind {
	case KindString:
		return &textField{base: b, input: "text"}
	case KindInteger:
		return &integerField{textField{base: b, input: "number"}}
	case KindPassword:
		return &passwordField{textField{base: b, input: "password"}}
	case KindHidden:
		return &hiddenField{base: b}
	case KindBoolean:
		return &booleanField{base: b}
	case KindSelect:
		return &selectField{base: b, enum: enumOf(p.Parameter)}
	case KindDateTime:
		return &dateTimeField{base: b}
	case KindCrontab:
		return &crontabField{base: b}
	case KindObject:
		if e, ok := p.Parameter["expand"].(bool); ok {
			b.p.Expand = e
		}
		return newObject(b)
	case KindMap:
		return &mapField{base: b}
	case KindArray:
		return newArray(b)
	case KindUserRole:
		return newUserRole(b)
	default:
		return &messageField{base: b, message: c.Message}
	}
}

// base carries the behavior shared by every variant.
type base struct {
	p    Props
	kind Kind
}

func (b *base) Kind() Kind              { return b.kind }
func (b *base) Prefix() string          { return b.p.Prefix }
func (b *base) owns(prefix string) bool { return prefix == b.p.Prefix }
func (b *base) children() []Field       { return nil }

func (b *base) value() any {
	return b.p.State.Get(b.p.Prefix)
}

func (b *base) descriptor() *Descriptor {
	return &Descriptor{
		Kind:     b.kind,
		Prefix:   b.p.Prefix,
		Label:    b.p.Label,
		Required: b.p.Required,
		Readonly: b.p.Readonly,
		Error:    b.p.State.Errors[b.p.Prefix],
	}
}

func (b *base) commit(value any) {
	if b.p.commit != nil {
		b.p.commit(b.p.State, b.p.Prefix, value)
		return
	}
	b.p.State.Set(b.p.Prefix, value)
}

// Validate applies the required and pattern rules.
func (b *base) Validate() bool {
	return check(b.p.State, b.p.Prefix, b.p.Parameter, b.value(), b.p.Required)
}

// View renders the value as display text.
func (b *base) View() *Descriptor {
	d := b.descriptor()
	d.Error = ""
	d.Value, d.More = displayText(b.value())
	return d
}

// Apply commits a changed value.
func (b *base) Apply(in Input) error {
	if in.Op != OpChange && in.Op != "" {
		return ErrUnsupportedInput
	}
	if b.p.Readonly {
		return nil
	}
	b.commit(in.Value)
	return nil
}

// check is the common validation rule: a falsy required value is missing;
// a set value with a pattern must match it entirely.
func check(st *State, key string, parameter map[string]any, value any, required bool) bool {
	if !valuepath.Truthy(value) {
		if required || parameter["required"] == true {
			st.Errors.Update(key, "Field "+key+" is required")
			return false
		}
	} else if pattern, _ := parameter["pattern"].(string); pattern != "" {
		if re := compiled(pattern); re != nil && !re.MatchString(stringify(value)) {
			st.Errors.Update(key, `Field "`+key+`" must match pattern "`+pattern+`"`)
			return false
		}
	}
	st.Errors.Update(key, "")
	return true
}

var patterns sync.Map

// compiled returns the anchored expression for pattern, or nil when the
// pattern uses syntax the regexp package does not support.
func compiled(pattern string) *regexp.Regexp {
	if re, ok := patterns.Load(pattern); ok {
		return re.(*regexp.Regexp)
	}
	re, err := regexp.Compile("^" + pattern + "$")
	if err != nil {
		re = nil
	}
	patterns.Store(pattern, re)
	return re
}

// stringify renders a value the way it is shown in a text input.
func stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(t), 'f', -1, 32)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case json.Number:
		return t.String()
	case []any:
		parts := make([]string, len(t))
		for i, e := range t {
			parts[i] = stringify(e)
		}
		return strings.Join(parts, ",")
	default:
		return marshal(t)
	}
}

// editText is the text input value: unset values show as empty.
func editText(v any) string {
	if !valuepath.Truthy(v) {
		return ""
	}
	return stringify(v)
}

// displayText cuts text at the first line break or after maxDisplay
// characters. The second result is the full text when it was cut.
func displayText(v any) (string, string) {
	if v == nil {
		return "", ""
	}
	s := stringify(v)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i] + "...", s
	}
	if r := []rune(s); len(r) > maxDisplay {
		return string(r[:maxDisplay]) + "...", s
	}
	return s, ""
}

// Stringify renders v as it appears in a text input or URL.
func Stringify(v any) string {
	return stringify(v)
}

// Display returns a read-only text descriptor for a value that has no
// parameter schema, such as a derived column.
func Display(prefix, label string, v any) *Descriptor {
	d := &Descriptor{Kind: KindString, Prefix: prefix, Label: label, Readonly: true}
	d.Value, d.More = displayText(v)
	return d
}
