// Package formula evaluates the small boolean expressions used by
// customizations for menu visibility and derived column values.
//
// Grammar: a single value, "!" value, "!!" value, or exactly one binary
// operator (=, !=, &, |) between two values. Values are field paths
// resolved against the row, double-quoted strings, or true/false.
// Chained binary operators are not supported.
package formula

import (
	"reflect"
	"strings"

	"github.com/pitabwire/dbconsole/internal/valuepath"
)

// Operators as produced by Split. Doubled "==", "&&" and "||" collapse to
// their single-character form.
const (
	OpNot       = "!"
	OpTruthy    = "!!"
	OpNotEquals = "!="
	OpEquals    = "="
	OpAnd       = "&"
	OpOr        = "|"
)

// quote prefixes string literal tokens so they are distinguishable from
// field paths.
const quote = `"`

// Part is one element of a formula. It is either a token, a nested group to
// be evaluated first, or an already resolved value.
type Part struct {
	Token    string
	Group    []Part
	Value    any
	Resolved bool
}

// Split tokenizes a formula. It returns nil when the formula contains a
// character outside the grammar or an unterminated string literal.
func Split(formula string) []string {
	var (
		out  = []string{}
		name strings.Builder
	)
	push := func(tok string) {
		if name.Len() > 0 {
			out = append(out, name.String())
			name.Reset()
		}
		if tok != "" {
			out = append(out, tok)
		}
	}

	for i := 0; i < len(formula); i++ {
		ch := formula[i]
		var next byte
		if i+1 < len(formula) {
			next = formula[i+1]
		}

		switch {
		case ch == ' ':
			push("")
		case ch == '!':
			if next == '=' || next == '!' {
				push(string([]byte{ch, next}))
				i++
			} else {
				push(OpNot)
			}
		case ch == '"':
			var str strings.Builder
			str.WriteString(quote)
			i++
			for {
				if i >= len(formula) {
					return nil
				}
				if strings.HasPrefix(formula[i:], `\\`) {
					str.WriteByte('\\')
					i += 2
					continue
				}
				if strings.HasPrefix(formula[i:], `\"`) {
					str.WriteByte('"')
					i += 2
					continue
				}
				if formula[i] == '"' {
					break
				}
				str.WriteByte(formula[i])
				i++
			}
			push(str.String())
		case ch == '=' || ch == '&' || ch == '|':
			if next == ch {
				i++
			}
			push(string(ch))
		case isAlpha(ch):
			name.WriteByte(ch)
		case name.Len() > 0 && !strings.HasSuffix(name.String(), ".") && isNumericOrPeriod(ch):
			name.WriteByte(ch)
		default:
			return nil
		}
	}
	push("")
	return out
}

// Evaluate tokenizes and evaluates formula against data. Malformed formulas
// evaluate to the empty string.
func Evaluate(data map[string]any, formula string) any {
	tokens := Split(formula)
	if tokens == nil {
		return ""
	}
	parts := make([]Part, len(tokens))
	for i, t := range tokens {
		parts[i] = Part{Token: t}
	}
	return EvaluateParts(data, parts)
}

// Visible evaluates a visibility formula. An empty formula is visible.
func Visible(data map[string]any, formula string) bool {
	if strings.TrimSpace(formula) == "" {
		return true
	}
	return valuepath.Truthy(Evaluate(data, formula))
}

// EvaluateParts evaluates already split parts. Nested groups are resolved
// before the enclosing expression.
func EvaluateParts(data map[string]any, parts []Part) any {
	resolved := make([]Part, len(parts))
	for i, p := range parts {
		if p.Group != nil {
			resolved[i] = Part{Value: EvaluateParts(data, p.Group), Resolved: true}
			continue
		}
		resolved[i] = p
	}

	value := func(p Part) any {
		if p.Resolved {
			return p.Value
		}
		switch {
		case strings.HasPrefix(p.Token, quote):
			return p.Token[1:]
		case p.Token == "true":
			return true
		case p.Token == "false":
			return false
		case p.Token != "" && isAlpha(p.Token[0]):
			return valuepath.Get(data, p.Token)
		}
		return nil
	}
	op := func(i int) string {
		if resolved[i].Resolved {
			return ""
		}
		return resolved[i].Token
	}

	switch {
	case len(resolved) == 1:
		return value(resolved[0])
	case len(resolved) == 2 && op(0) == OpNot:
		return !valuepath.Truthy(value(resolved[1]))
	case len(resolved) == 2 && op(0) == OpTruthy:
		return valuepath.Truthy(value(resolved[1]))
	case len(resolved) == 3 && op(1) == OpAnd:
		if l := value(resolved[0]); !valuepath.Truthy(l) {
			return l
		}
		return value(resolved[2])
	case len(resolved) == 3 && op(1) == OpOr:
		if l := value(resolved[0]); valuepath.Truthy(l) {
			return l
		}
		return value(resolved[2])
	case len(resolved) == 3 && op(1) == OpEquals:
		return strictEqual(value(resolved[0]), value(resolved[2]))
	case len(resolved) == 3 && op(1) == OpNotEquals:
		return !strictEqual(value(resolved[0]), value(resolved[2]))
	}
	return ""
}

// strictEqual compares scalars by type and value and containers by identity.
func strictEqual(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	ta, tb := reflect.TypeOf(a), reflect.TypeOf(b)
	if ta != tb {
		return false
	}
	if ta.Comparable() {
		return a == b
	}
	va, vb := reflect.ValueOf(a), reflect.ValueOf(b)
	switch va.Kind() {
	case reflect.Map, reflect.Slice:
		return va.Pointer() == vb.Pointer() && va.Len() == vb.Len()
	}
	return false
}

func isAlpha(ch byte) bool {
	return (ch >= 'a' && ch <= 'z') || (ch >= 'A' && ch <= 'Z')
}

func isNumericOrPeriod(ch byte) bool {
	return (ch >= '0' && ch <= '9') || ch == '.'
}
