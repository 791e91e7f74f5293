package field

import (
	"fmt"
	"strconv"
	"strings"

	json "github.com/goccy/go-json"

	"github.com/pitabwire/dbconsole/internal/valuepath"
)

// Kind identifies a field variant.
type Kind int

const (
	KindMessage Kind = iota
	KindString
	KindInteger
	KindBoolean
	KindDateTime
	KindHidden
	KindPassword
	KindSelect
	KindCrontab
	KindObject
	KindMap
	KindArray
	KindUserRole
)

var kindNames = [...]string{
	KindMessage:  "message",
	KindString:   "string",
	KindInteger:  "integer",
	KindBoolean:  "boolean",
	KindDateTime: "datetime",
	KindHidden:   "hidden",
	KindPassword: "password",
	KindSelect:   "select",
	KindCrontab:  "crontab",
	KindObject:   "object",
	KindMap:      "map",
	KindArray:    "array",
	KindUserRole: "userrole",
}

func (k Kind) String() string {
	if k >= 0 && int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "kind(" + strconv.Itoa(int(k)) + ")"
}

// MarshalText encodes the kind by name.
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// Classification is the outcome of inspecting a parameter once.
type Classification struct {
	Kind     Kind
	Type     string
	Format   string
	Required bool
	// Leftover holds the parameter keys not consumed by classification.
	Leftover map[string]any
	Message  string
}

// Classify decides the variant for p. Recognized keys are stripped from a
// copy of the parameter one at a time; what remains is kept for the
// diagnostic of an unrecognized schema.
func Classify(p Props) Classification {
	left := make(map[string]any, len(p.Parameter)+1)
	for k, v := range p.Parameter {
		left[k] = v
	}
	nested := map[string]any{}
	if s, ok := left["schema"].(map[string]any); ok {
		for k, v := range s {
			nested[k] = v
		}
	}
	left["schema"] = nested

	take := func(m map[string]any, key string) any {
		v := m[key]
		delete(m, key)
		return v
	}

	c := Classification{Leftover: left}
	if in := take(left, "in"); valuepath.Truthy(in) && in != "path" && in != "query" {
		c.Kind = KindMessage
		c.Message = "Invalid IN value " + stringify(in)
		return c
	}
	c.Required = p.Required || take(left, "required") == true

	c.Format, _ = take(left, "format").(string)
	c.Type, _ = take(left, "type").(string)
	if c.Type == "" {
		c.Type, _ = take(nested, "type").(string)
		c.Format, _ = take(nested, "format").(string)
	}

	param := p.Parameter
	switch c.Type {
	case "string":
		switch {
		case c.Format == "date-time":
			c.Kind = KindDateTime
		case p.Prefix == "resourceVersion":
			c.Kind = KindHidden
		case param["x-tf-sensitive"] == true:
			c.Kind = KindPassword
		case len(enumOf(param)) > 0:
			c.Kind = KindSelect
		case p.Prefix == "frequency" && p.Env.crontab(p.Path):
			c.Kind = KindCrontab
		default:
			c.Kind = KindString
		}
	case "boolean":
		c.Kind = KindBoolean
	case "object":
		props, hasProps := param["properties"].(map[string]any)
		switch {
		case hasProps && isRoleEntry(p.Prefix, props):
			c.Kind = KindUserRole
		case hasProps:
			c.Kind = KindObject
		case valuepath.Truthy(param["additionalProperties"]):
			c.Kind = KindMap
		default:
			c.Kind = KindMessage
			c.Message = "ERROR: Invalid object"
		}
	case "array":
		c.Kind = KindArray
	case "integer":
		c.Kind = KindInteger
	default:
		typ := c.Type
		if typ == "" {
			typ = "undefined"
		}
		c.Kind = KindMessage
		c.Message = fmt.Sprintf("Invalid type %s %s %s", typ, marshal(param), marshal(left))
	}
	return c
}

// isRoleEntry reports whether prefix addresses one element of a roles list
// whose schema carries a role name and its parameters.
func isRoleEntry(prefix string, props map[string]any) bool {
	if _, ok := props["name"]; !ok {
		return false
	}
	if _, ok := props["params"]; !ok {
		return false
	}
	parts := strings.Split(prefix, ".")
	if len(parts) < 2 || parts[len(parts)-2] != "roles" {
		return false
	}
	_, err := strconv.Atoi(parts[len(parts)-1])
	return err == nil
}

func enumOf(param map[string]any) []any {
	if e, ok := param["enum"].([]any); ok {
		return e
	}
	if s, ok := param["schema"].(map[string]any); ok {
		if e, ok := s["enum"].([]any); ok {
			return e
		}
	}
	return nil
}

func marshal(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(b)
}
