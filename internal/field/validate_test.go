package field

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func stringField(st *State, param map[string]any) Field {
	return New(Props{Prefix: "name", Parameter: param, State: st})
}

func TestValidate_Required(t *testing.T) {
	param := map[string]any{"type": "string", "required": true}
	for _, v := range []any{nil, "", false, 0.0} {
		st := NewState(map[string]any{"name": v})
		f := stringField(st, param)
		if f.Validate() {
			t.Errorf("Validate(%#v) = true, want false", v)
		}
		if got := st.Errors["name"]; got != "Field name is required" {
			t.Errorf("error for %#v = %q", v, got)
		}
	}

	for _, v := range []any{"x", true, 3.0, []any{}, map[string]any{}} {
		st := NewState(map[string]any{"name": v})
		if !stringField(st, param).Validate() {
			t.Errorf("Validate(%#v) = false, want true", v)
		}
		require.Empty(t, st.Errors)
	}
}

func TestValidate_RequiredFromProps(t *testing.T) {
	st := NewState(nil)
	f := New(Props{Prefix: "name", Parameter: map[string]any{"type": "string"}, State: st, Required: true})
	require.False(t, f.Validate())

	st = NewState(nil)
	f = New(Props{Prefix: "name", Parameter: map[string]any{"type": "string"}, State: st})
	require.True(t, f.Validate())
}

func TestValidate_Pattern(t *testing.T) {
	param := map[string]any{"type": "string", "pattern": "[a-z]+"}

	st := NewState(map[string]any{"name": "ABC"})
	require.False(t, stringField(st, param).Validate())
	require.Equal(t, `Field "name" must match pattern "[a-z]+"`, st.Errors["name"])

	st.Set("name", "abc")
	require.True(t, stringField(st, param).Validate())
	require.NotContains(t, st.Errors, "name")

	// anchored: a partial match is not enough
	st.Set("name", "abc1")
	require.False(t, stringField(st, param).Validate())

	// empty optional values skip the pattern
	st.Set("name", "")
	require.True(t, stringField(st, param).Validate())
}

func TestValidate_UnsupportedPatternIsIgnored(t *testing.T) {
	st := NewState(map[string]any{"name": "abc"})
	param := map[string]any{"type": "string", "pattern": "(?=a)abc"}
	require.True(t, stringField(st, param).Validate())
}

func TestIntegerField(t *testing.T) {
	st := NewState(nil)
	f := New(Props{Prefix: "count", Parameter: map[string]any{"type": "integer"}, State: st})

	require.NoError(t, Apply(f, Input{Prefix: "count", Op: OpChange, Value: "42"}))
	require.Equal(t, int64(42), st.Get("count"))
	require.Equal(t, "42", f.Edit().Value)
	require.True(t, f.Validate())

	require.NoError(t, Apply(f, Input{Prefix: "count", Op: OpChange, Value: "4x"}))
	require.Equal(t, "4x", st.Get("count"))
	require.False(t, f.Validate())
	require.Equal(t, `Field "count" must be an integer`, st.Errors["count"])
}

func TestBooleanField(t *testing.T) {
	st := NewState(nil)
	f := New(Props{Prefix: "enabled", Parameter: map[string]any{"type": "boolean"}, State: st})
	require.Equal(t, "false", f.Edit().Value)

	require.NoError(t, f.Apply(Input{Op: OpChange, Value: "true"}))
	require.Equal(t, true, st.Get("enabled"))
	require.Equal(t, "true", f.Edit().Value)
	require.Equal(t, "true", f.View().Value)

	require.NoError(t, f.Apply(Input{Op: OpChange, Value: "false"}))
	require.Equal(t, false, st.Get("enabled"))
	require.Equal(t, "false", f.View().Value)
}

func TestSelectField(t *testing.T) {
	st := NewState(map[string]any{"tier": "gold"})
	env := &Env{Translate: func(key, fallback string) string {
		if key == "field.enum.tier.gold" {
			return "Gold"
		}
		return fallback
	}}
	f := New(Props{Prefix: "tier", Parameter: map[string]any{"type": "string", "enum": []any{"gold", "silver"}}, State: st, Env: env})

	d := f.Edit()
	require.Len(t, d.Options, 3)
	require.Equal(t, "", d.Options[0].Value)
	require.Equal(t, Option{Value: "gold", Label: "Gold"}, d.Options[1])
	require.Equal(t, "Gold", f.View().Value)
	require.True(t, f.Validate())

	st.Set("tier", "bronze")
	require.False(t, f.Validate())
	require.Equal(t, `Field "tier" has invalid value "bronze"`, st.Errors["tier"])
}

func TestDateTimeField(t *testing.T) {
	st := NewState(map[string]any{"at": "2024-03-01T10:00:00Z"})
	f := New(Props{Prefix: "at", Parameter: map[string]any{"type": "string", "format": "date-time"}, State: st, Env: DefaultEnv()})
	require.Equal(t, KindDateTime, f.Kind())
	require.Equal(t, "2024-03-01 10:00:00 UTC", f.Edit().Value)
	require.Equal(t, "2024-03-01 10:00:00 UTC", f.View().Value)

	require.NoError(t, Apply(f, Input{Prefix: "at", Op: OpChange, Value: "2024-03-02 11:30:00"}))
	require.Equal(t, "2024-03-01T10:00:00Z", st.Get("at"))
	require.Equal(t, "2024-03-02 11:30:00", f.Edit().Value)
	require.False(t, f.Validate())
	require.Equal(t, `Field "at" has invalid date/time format`, st.Errors["at"])

	require.NoError(t, Apply(f, Input{Prefix: "at", Op: OpBlur}))
	require.Equal(t, "2024-03-02T11:30:00Z", st.Get("at"))
	require.Empty(t, st.Drafts)
	require.True(t, f.Validate())

	require.NoError(t, Apply(f, Input{Prefix: "at", Op: OpChange, Value: "not a date"}))
	require.NoError(t, Apply(f, Input{Prefix: "at", Op: OpBlur}))
	require.Equal(t, `Field "at" has invalid date/time value`, st.Errors["at"])
	require.Equal(t, "2024-03-02T11:30:00Z", st.Get("at"))

	require.NoError(t, Apply(f, Input{Prefix: "at", Op: OpChange, Value: ""}))
	require.NoError(t, Apply(f, Input{Prefix: "at", Op: OpBlur}))
	require.Nil(t, st.Get("at"))
	require.Empty(t, st.Errors)
}

func TestDateTimeField_DropsFraction(t *testing.T) {
	st := NewState(nil)
	f := New(Props{Prefix: "at", Parameter: map[string]any{"type": "string", "format": "date-time"}, State: st})
	require.NoError(t, Apply(f, Input{Prefix: "at", Value: "2024-03-02T11:30:00.250+02:00"}))
	require.NoError(t, Apply(f, Input{Prefix: "at", Op: OpBlur}))
	require.Equal(t, "2024-03-02T09:30:00Z", st.Get("at"))
}

func TestCrontabField(t *testing.T) {
	st := NewState(nil)
	f := New(Props{
		Prefix:    "frequency",
		Parameter: map[string]any{"type": "string"},
		State:     st,
		Path:      "/backuppolicies/acme/nightly",
		Env:       DefaultEnv(),
	})
	require.Equal(t, KindCrontab, f.Kind())
	require.Empty(t, f.Edit().Children)

	require.NoError(t, f.Apply(Input{Value: "other"}))
	require.Equal(t, "* * * * *", st.Get("frequency"))
	d := f.Edit()
	require.Equal(t, "other", d.Value)
	require.Len(t, d.Children, 5)
	require.Equal(t, 1, *d.Children[1].Part)
	require.True(t, f.Validate())

	part := 1
	require.NoError(t, f.Apply(Input{Value: "3", Part: &part}))
	require.Equal(t, "* 3 * * *", st.Get("frequency"))

	require.NoError(t, f.Apply(Input{Value: "@daily"}))
	require.Equal(t, "@daily", f.Edit().Value)
	require.True(t, f.Validate())

	st.Set("frequency", "1 2 3")
	require.False(t, f.Validate())

	st.Set("frequency", "1  3 4 5")
	require.False(t, f.Validate())
}

func TestPasswordField(t *testing.T) {
	param := map[string]any{"type": "string", "x-tf-sensitive": true}
	st := NewState(map[string]any{"dbaPassword": "s3cret"})

	f := New(Props{Prefix: "dbaPassword", Parameter: param, State: st, Path: "/databases/acme/p/db", Env: DefaultEnv()})
	d := f.Edit()
	require.NotNil(t, d.Action)
	require.Equal(t, "POST", d.Action.Method)
	require.Equal(t, "/databases/acme/p/db/dbaPassword", d.Action.Path)
	require.Equal(t, "********", f.View().Value)

	f = New(Props{Prefix: "dbaPassword", Parameter: param, State: st, Path: "/projects/acme/p", Env: DefaultEnv()})
	d = f.Edit()
	require.Nil(t, d.Action)
	require.Equal(t, "password", d.Input)
	require.Equal(t, "s3cret", d.Value)
}

func TestPasswordChange(t *testing.T) {
	errs := PasswordChange{OldPassword: "a", NewPassword1: "b", NewPassword2: "c"}.Validate(nil)
	require.Equal(t, Errors{"newPassword2": "Passwords do not match"}, errs)

	errs = PasswordChange{}.Validate(nil)
	require.Len(t, errs, 3)

	c := PasswordChange{OldPassword: "a", NewPassword1: "b", NewPassword2: "b"}
	require.Empty(t, c.Validate(nil))
	require.Equal(t, map[string]string{"current": "a", "target": "b"}, c.Body())
}

func TestHiddenField(t *testing.T) {
	st := NewState(nil)
	f := New(Props{Prefix: "resourceVersion", Parameter: map[string]any{"type": "string"}, State: st})
	require.Nil(t, f.Edit())

	st.Set("resourceVersion", "17")
	d := f.Edit()
	require.Equal(t, "hidden", d.Input)
	require.Equal(t, "17", d.Value)
}

func TestDisplayText(t *testing.T) {
	text, more := displayText(nil)
	require.Empty(t, text)
	require.Empty(t, more)

	text, more = displayText("first\nsecond")
	require.Equal(t, "first...", text)
	require.Equal(t, "first\nsecond", more)

	long := strings.Repeat("a", 100)
	text, more = displayText(long)
	require.Equal(t, strings.Repeat("a", 80)+"...", text)
	require.Equal(t, long, more)

	text, more = displayText(12.5)
	require.Equal(t, "12.5", text)
	require.Empty(t, more)
}
