package field

import (
	"strconv"
	"strings"

	"github.com/pitabwire/dbconsole/internal/valuepath"
)

type textField struct {
	base
	input string
}

func (f *textField) Edit() *Descriptor {
	d := f.descriptor()
	d.Input = f.input
	d.Value = editText(f.value())
	return d
}

// integerField keeps typed text until it parses as a whole number.
type integerField struct {
	textField
}

func (f *integerField) Apply(in Input) error {
	if s, ok := in.Value.(string); ok && in.Op != OpDelete {
		if n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64); err == nil {
			in.Value = n
		}
	}
	return f.textField.Apply(in)
}

func (f *integerField) Validate() bool {
	if !f.base.Validate() {
		return false
	}
	if s, ok := f.value().(string); ok && s != "" {
		if _, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64); err != nil {
			f.p.State.Errors.Update(f.p.Prefix, `Field "`+f.p.Prefix+`" must be an integer`)
			return false
		}
	}
	return true
}

// passwordField is a masked input. On resources with a dedicated password
// sub-resource the edit descriptor is an action instead of a value.
type passwordField struct {
	textField
}

func (f *passwordField) Edit() *Descriptor {
	if f.p.Prefix == "dbaPassword" && f.p.Env.passwordChange(f.p.Path) {
		d := f.descriptor()
		d.Input = "action"
		d.Action = &Action{
			Name:   "changePassword",
			Label:  f.p.Env.t("dialog.databasePassword.title", "Change password"),
			Method: "POST",
			Path:   strings.TrimSuffix(f.p.Path, "/") + "/dbaPassword",
			Fields: []string{"oldPassword", "newPassword1", "newPassword2"},
		}
		return d
	}
	return f.textField.Edit()
}

func (f *passwordField) View() *Descriptor {
	d := f.base.View()
	d.More = ""
	if valuepath.Truthy(f.value()) {
		d.Value = "********"
	}
	return d
}

// hiddenField passes an opaque token through without showing it.
type hiddenField struct {
	base
}

func (f *hiddenField) Edit() *Descriptor {
	v := f.value()
	if v == nil {
		return nil
	}
	d := f.descriptor()
	d.Input = "hidden"
	d.Value = stringify(v)
	return d
}

type booleanField struct {
	base
}

func (f *booleanField) Edit() *Descriptor {
	d := f.descriptor()
	d.Input = "select"
	d.Value = strconv.FormatBool(asBool(f.value()))
	d.Options = []Option{{Value: "true", Label: "true"}, {Value: "false", Label: "false"}}
	return d
}

func (f *booleanField) View() *Descriptor {
	d := f.base.View()
	d.Value = strconv.FormatBool(asBool(f.value()))
	d.More = ""
	return d
}

func (f *booleanField) Apply(in Input) error {
	if in.Op != OpChange && in.Op != "" {
		return ErrUnsupportedInput
	}
	if f.p.Readonly {
		return nil
	}
	f.commit(asBool(in.Value))
	return nil
}

func asBool(v any) bool {
	if s, ok := v.(string); ok {
		return s == "true"
	}
	return valuepath.Truthy(v)
}

type selectField struct {
	base
	enum []any
}

func (f *selectField) label(v string) string {
	return f.p.Env.t("field.enum."+f.p.Prefix+"."+v, v)
}

func (f *selectField) Edit() *Descriptor {
	d := f.descriptor()
	d.Input = "select"
	d.Value = editText(f.value())
	d.Options = append(d.Options, Option{Value: "", Label: f.p.Env.t("field.select.selectItem", "--- Select Item ---")})
	for _, e := range f.enum {
		v := stringify(e)
		d.Options = append(d.Options, Option{Value: v, Label: f.label(v)})
	}
	return d
}

func (f *selectField) View() *Descriptor {
	d := f.base.View()
	if v := f.value(); v != nil {
		d.Value = f.label(stringify(v))
		d.More = ""
	}
	return d
}

func (f *selectField) Validate() bool {
	if !f.base.Validate() {
		return false
	}
	v := f.value()
	if !valuepath.Truthy(v) {
		return true
	}
	s := stringify(v)
	for _, e := range f.enum {
		if stringify(e) == s {
			return true
		}
	}
	f.p.State.Errors.Update(f.p.Prefix, `Field "`+f.p.Prefix+`" has invalid value "`+s+`"`)
	return false
}

// messageField stands in for a schema fragment that cannot be rendered.
type messageField struct {
	base
	message string
}

func (f *messageField) Message() string {
	return f.message
}

func (f *messageField) Edit() *Descriptor {
	if f.p.Env.production() {
		return nil
	}
	d := f.descriptor()
	d.Kind = KindMessage
	d.Message = f.message
	return d
}

func (f *messageField) View() *Descriptor {
	return f.Edit()
}

func (f *messageField) Validate() bool {
	return true
}

func (f *messageField) Apply(Input) error {
	return ErrUnsupportedInput
}
