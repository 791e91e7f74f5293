package field

import (
	"strconv"
	"strings"
)

var cronShortcuts = []string{"@hourly", "@daily", "@weekly", "@monthly", "@yearly"}

type cronPart struct {
	name     string
	from, to int
	labels   []string
}

var cronParts = []cronPart{
	{name: "minute", from: 0, to: 59},
	{name: "hour", from: 0, to: 23},
	{name: "dayOfMonth", from: 1, to: 31},
	{name: "month", from: 1, to: 12, labels: []string{
		"january", "february", "march", "april", "may", "june",
		"july", "august", "september", "october", "november", "december",
	}},
	{name: "weekday", from: 0, to: 6, labels: []string{
		"sunday", "monday", "tuesday", "wednesday", "thursday", "friday", "saturday",
	}},
}

// crontabField edits a schedule either as a named shortcut or as five
// positional parts.
type crontabField struct {
	base
}

func (f *crontabField) schedule() string {
	s, _ := f.value().(string)
	return s
}

func (f *crontabField) Edit() *Descriptor {
	env := f.p.Env
	parts := strings.Split(f.schedule(), " ")
	d := f.descriptor()
	d.Input = "crontab"
	if len(parts) == 1 {
		d.Value = parts[0]
	} else {
		d.Value = "other"
	}
	d.Options = []Option{{Value: "", Label: env.t("field.select.selectItem", "--- Select Item ---")}}
	for _, s := range cronShortcuts {
		d.Options = append(d.Options, Option{Value: s, Label: s})
	}
	d.Options = append(d.Options, Option{Value: "other", Label: "Other"})

	if len(parts) != len(cronParts) {
		return d
	}
	for i, cp := range cronParts {
		value := parts[i]
		if value == "" {
			value = "*"
		}
		child := &Descriptor{
			Kind:     KindCrontab,
			Prefix:   f.p.Prefix,
			Label:    env.t("field.crontab."+cp.name, cp.name),
			Value:    value,
			Input:    "select",
			Readonly: f.p.Readonly,
			Part:     &i,
			Options:  []Option{{Value: "*", Label: env.t("field.crontab.any", "any")}},
		}
		for n := cp.from; n <= cp.to; n++ {
			item := strconv.Itoa(n)
			label := item
			if cp.labels != nil {
				label = env.t("field.crontab."+cp.labels[n-cp.from], cp.labels[n-cp.from])
			}
			child.Options = append(child.Options, Option{Value: item, Label: label})
		}
		d.Children = append(d.Children, child)
	}
	return d
}

func (f *crontabField) View() *Descriptor {
	d := f.base.View()
	if v := f.value(); v != nil {
		s := stringify(v)
		d.Value = f.p.Env.t("field.enum."+f.p.Prefix+"."+s, s)
		d.More = ""
	}
	return d
}

// Apply selects a frequency, or sets one positional part when in.Part is
// given. Choosing "other" starts from a schedule that runs every minute.
func (f *crontabField) Apply(in Input) error {
	if in.Op != OpChange && in.Op != "" {
		return ErrUnsupportedInput
	}
	if f.p.Readonly {
		return nil
	}
	v := stringify(in.Value)
	if in.Part == nil {
		if v == "other" {
			v = "* * * * *"
		}
		f.commit(v)
		return nil
	}
	parts := strings.Split(f.schedule(), " ")
	idx := *in.Part
	if idx < 0 || idx >= len(cronParts) {
		return ErrUnsupportedInput
	}
	for len(parts) <= idx {
		parts = append(parts, "*")
	}
	parts[idx] = v
	f.commit(strings.Join(parts, " "))
	return nil
}

// Validate accepts a named shortcut or exactly five non-empty parts.
func (f *crontabField) Validate() bool {
	if !f.base.Validate() {
		return false
	}
	s := f.schedule()
	if s == "" || validSchedule(s) {
		return true
	}
	f.p.State.Errors.Update(f.p.Prefix, `Field "`+f.p.Prefix+`" has invalid schedule "`+s+`"`)
	return false
}

func validSchedule(s string) bool {
	for _, sc := range cronShortcuts {
		if s == sc {
			return true
		}
	}
	parts := strings.Split(s, " ")
	if len(parts) != len(cronParts) {
		return false
	}
	for _, p := range parts {
		if p == "" {
			return false
		}
	}
	return true
}
