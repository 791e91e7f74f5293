package formula

import (
	"reflect"
	"testing"
)

func testData() map[string]any {
	return map[string]any{
		"field":          "value",
		"fieldWithQuote": `value"quoted"`,
		"parent": map[string]any{
			"child": "childValue",
		},
	}
}

func TestEvaluate(t *testing.T) {
	tests := []struct {
		formula string
		want    any
	}{
		{"field", "value"},
		{"!field", false},
		{"field==field", true},
		{"fie ld==field", ""},
		{"field == field", true},
		{"field==nofield", false},
		{"field!=nofield", true},
		{"parent.child", "childValue"},
		{`field=="value"`, true},
		{`field=="invalidValue"`, false},
		{`"const" =="const"`, true},
		{`fieldWithQuote="value\"quoted\""`, true},
		{"maintenance.isDisabled=false", false},
		{"!maintenance", true},
		{"!!true", true},
		{"!!missingField", false},
		{"!!field", true},
		{`!!"string"`, true},
		{"field && parent.child", "childValue"},
		{"nofield || field", "value"},
		{"nofield & field", nil},
		{"a == b == c", ""},
		{"field#", ""},
		{`"unterminated`, ""},
	}
	for _, tt := range tests {
		t.Run(tt.formula, func(t *testing.T) {
			got := Evaluate(testData(), tt.formula)
			if got != tt.want {
				t.Errorf("Evaluate(%q) = %#v, want %#v", tt.formula, got, tt.want)
			}
		})
	}
}

func TestSplit(t *testing.T) {
	tests := []struct {
		formula string
		want    []string
	}{
		{"a==b", []string{"a", "=", "b"}},
		{"a != b", []string{"a", "!=", "b"}},
		{"!!a", []string{"!!", "a"}},
		{"a&&b", []string{"a", "&", "b"}},
		{"a||b", []string{"a", "|", "b"}},
		{"spec.tier1", []string{"spec.tier1"}},
		{`"x\\y"`, []string{`"x\y`}},
		{"", []string{}},
	}
	for _, tt := range tests {
		got := Split(tt.formula)
		if !reflect.DeepEqual(got, tt.want) {
			t.Errorf("Split(%q) = %#v, want %#v", tt.formula, got, tt.want)
		}
	}
}

func TestSplit_Invalid(t *testing.T) {
	for _, f := range []string{"1abc", "a.1", "a..b", "a>b", `"open`} {
		if got := Split(f); got != nil {
			t.Errorf("Split(%q) = %#v, want nil", f, got)
		}
	}
}

func TestEvaluateParts_Groups(t *testing.T) {
	parts := []Part{
		{Group: []Part{{Token: "field"}, {Token: "="}, {Token: `"value`}}},
		{Token: "&"},
		{Group: []Part{{Token: "!"}, {Token: "missing"}}},
	}
	if got := EvaluateParts(testData(), parts); got != true {
		t.Errorf("EvaluateParts() = %#v, want true", got)
	}
}

func TestEvaluate_ContainerIdentity(t *testing.T) {
	if got := Evaluate(testData(), "parent=parent"); got != true {
		t.Errorf("same container should be equal, got %#v", got)
	}
}

func TestVisible(t *testing.T) {
	data := map[string]any{"maintenance": map[string]any{"isDisabled": true}}
	if !Visible(data, "") {
		t.Error("empty formula should be visible")
	}
	if !Visible(data, "maintenance.isDisabled=true") {
		t.Error("expected visible")
	}
	if Visible(data, "!maintenance.isDisabled") {
		t.Error("expected hidden")
	}
	if Visible(data, "bad#formula") {
		t.Error("malformed formula should be hidden")
	}
}
