package field

import (
	"strings"
	"time"
)

// wireLayout is ISO-8601 UTC without fractional seconds.
const wireLayout = "2006-01-02T15:04:05Z"

var editLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05 MST",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04",
	"2006-01-02T15:04",
	"2006-01-02",
}

// dateTimeField edits a timestamp through a text buffer stored as the
// "_<prefix>" draft. The value only changes once the buffer parses.
type dateTimeField struct {
	base
}

func (f *dateTimeField) draftKey() string {
	return "_" + f.p.Prefix
}

func (f *dateTimeField) editText() string {
	if d, ok := f.p.State.draft(f.draftKey()); ok {
		return d
	}
	v, ok := f.value().(string)
	if !ok || v == "" {
		return ""
	}
	t, err := parseTime(v, time.UTC)
	if err != nil {
		return v
	}
	return t.In(f.p.Env.location()).Format(f.p.Env.layout())
}

func (f *dateTimeField) Edit() *Descriptor {
	d := f.descriptor()
	d.Input = "datetime"
	d.Value = f.editText()
	return d
}

func (f *dateTimeField) View() *Descriptor {
	d := f.base.View()
	if v, ok := f.value().(string); ok && v != "" {
		if t, err := parseTime(v, time.UTC); err == nil {
			d.Value = t.In(f.p.Env.location()).Format(f.p.Env.layout())
			d.More = ""
		}
	}
	return d
}

func (f *dateTimeField) Apply(in Input) error {
	if in.Op != OpChange && in.Op != "" {
		return ErrUnsupportedInput
	}
	if f.p.Readonly {
		return nil
	}
	f.p.State.setDraft(f.draftKey(), stringify(in.Value))
	return nil
}

// blur resolves the edit buffer: empty clears the value, parseable text is
// stored in wire format, anything else leaves the buffer with an error.
func (f *dateTimeField) blur() bool {
	text := strings.TrimSpace(f.editText())
	if text == "" {
		f.p.State.Set(f.p.Prefix, nil)
		f.p.State.clearDraft(f.draftKey())
		f.p.State.Errors.Update(f.p.Prefix, "")
		return true
	}
	t, err := time.ParseInLocation(f.p.Env.layout(), text, f.p.Env.location())
	if err != nil {
		t, err = parseTime(text, f.p.Env.location())
	}
	if err != nil {
		f.p.State.Errors.Update(f.p.Prefix, `Field "`+f.p.Prefix+`" has invalid date/time value`)
		return false
	}
	f.commit(t.UTC().Format(wireLayout))
	f.p.State.clearDraft(f.draftKey())
	f.p.State.Errors.Update(f.p.Prefix, "")
	return true
}

// Validate fails while an unresolved edit buffer exists.
func (f *dateTimeField) Validate() bool {
	if _, ok := f.p.State.draft(f.draftKey()); ok {
		f.p.State.Errors.Update(f.p.Prefix, `Field "`+f.p.Prefix+`" has invalid date/time format`)
		return false
	}
	return f.base.Validate()
}

func parseTime(s string, loc *time.Location) (time.Time, error) {
	var err error
	for _, layout := range editLayouts {
		var t time.Time
		if t, err = time.ParseInLocation(layout, s, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, err
}
