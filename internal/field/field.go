// Package field turns a parameter schema into one of a closed set of field
// variants. Every variant answers the same three operations: Edit builds
// an editable descriptor, View builds a read-only descriptor and Validate
// records its outcome in the shared Errors Object.
package field

import (
	"errors"
	"fmt"
	"strings"

	"github.com/pitabwire/dbconsole/internal/valuepath"
)

// ErrUnknownField is returned by Apply when no field owns the input prefix.
var ErrUnknownField = errors.New("field: unknown field")

// ErrUnsupportedInput is returned when a field does not accept an input op.
var ErrUnsupportedInput = errors.New("field: unsupported input")

// Field is a classified form field.
type Field interface {
	Kind() Kind
	Prefix() string
	// Edit returns the editable descriptor, or nil when nothing is shown.
	Edit() *Descriptor
	// View returns the read-only descriptor of the current value.
	View() *Descriptor
	// Validate checks the current value and updates the Errors Object.
	Validate() bool
	// Apply commits one input event addressed to this field.
	Apply(in Input) error

	owns(prefix string) bool
	children() []Field
	required() bool
}

// Errors is the Errors Object: field prefix to message. An absent key means
// the field is valid.
type Errors map[string]string

// Update sets the message for prefix, or clears it when message is empty.
func (e Errors) Update(prefix, message string) {
	if message == "" {
		delete(e, prefix)
		return
	}
	e[prefix] = message
}

// State is the mutable state shared by all fields of one form.
// Drafts hold text that is being typed but not yet committed to Values,
// such as a date the user has not finished or a new map row.
type State struct {
	Values map[string]any    `json:"values"`
	Errors Errors            `json:"errors,omitempty"`
	Drafts map[string]string `json:"drafts,omitempty"`
}

// NewState wraps values in a form state.
func NewState(values map[string]any) *State {
	s := &State{Values: values}
	s.init()
	return s
}

func (s *State) init() {
	if s.Values == nil {
		s.Values = map[string]any{}
	}
	if s.Errors == nil {
		s.Errors = Errors{}
	}
	if s.Drafts == nil {
		s.Drafts = map[string]string{}
	}
}

// Get returns the value at a dotted prefix.
func (s *State) Get(prefix string) any {
	return valuepath.Get(s.Values, prefix)
}

// Set stores value at a dotted prefix; nil deletes.
func (s *State) Set(prefix string, value any) {
	s.Values = valuepath.Set(s.Values, prefix, value)
}

// Valid reports whether no field currently has an error.
func (s *State) Valid() bool {
	return len(s.Errors) == 0
}

func (s *State) draft(key string) (string, bool) {
	v, ok := s.Drafts[key]
	return v, ok
}

func (s *State) setDraft(key, value string) {
	s.Drafts[key] = value
}

func (s *State) clearDraft(key string) {
	delete(s.Drafts, key)
}

// Props is the uniform property bag every field is built from.
type Props struct {
	Prefix    string
	Label     string
	Parameter map[string]any
	State     *State
	Required  bool
	Readonly  bool
	Expand    bool
	HideTitle bool
	// FixedKeys disables adding and deleting map keys.
	FixedKeys bool
	// Path is the concrete resource path the form belongs to.
	Path string
	Env  *Env

	commit     func(st *State, prefix string, value any)
	noDefaults bool
}

// InputOp names an input event.
type InputOp string

const (
	OpChange InputOp = "change"
	OpBlur   InputOp = "blur"
	OpAdd    InputOp = "add"
	OpDelete InputOp = "delete"
)

// Input is one edit event sent by the browser.
type Input struct {
	Prefix string  `json:"prefix"`
	Op     InputOp `json:"op"`
	Value  any     `json:"value,omitempty"`
	Key    string  `json:"key,omitempty"`
	Part   *int    `json:"part,omitempty"`
}

// Descriptor is the JSON shape the browser renders.
type Descriptor struct {
	Kind      Kind          `json:"kind"`
	Prefix    string        `json:"prefix"`
	Label     string        `json:"label,omitempty"`
	Value     any           `json:"value,omitempty"`
	More      string        `json:"more,omitempty"`
	Input     string        `json:"input,omitempty"`
	Required  bool          `json:"required,omitempty"`
	Readonly  bool          `json:"readonly,omitempty"`
	Error     string        `json:"error,omitempty"`
	Part      *int          `json:"part,omitempty"`
	Options   []Option      `json:"options,omitempty"`
	Children  []*Descriptor `json:"children,omitempty"`
	Message   string        `json:"message,omitempty"`
	Action    *Action       `json:"action,omitempty"`
	Expand    bool          `json:"expand,omitempty"`
	HideTitle bool          `json:"hideTitle,omitempty"`
}

// Option is one choice of a select-style input.
type Option struct {
	Value string `json:"value"`
	Label string `json:"label"`
}

// Action replaces inline editing with a dedicated request.
type Action struct {
	Name   string   `json:"name"`
	Label  string   `json:"label,omitempty"`
	Method string   `json:"method"`
	Path   string   `json:"path"`
	Fields []string `json:"fields,omitempty"`
}

// Apply routes an input to the deepest field that owns its prefix. A blur
// validates the field; other ops are committed by the field itself.
func Apply(root Field, in Input) error {
	f := find(root, in.Prefix)
	if f == nil {
		return fmt.Errorf("%w: %q", ErrUnknownField, in.Prefix)
	}
	if in.Op == OpBlur {
		if b, ok := f.(interface{ blur() bool }); ok {
			b.blur()
			return nil
		}
		f.Validate()
		return nil
	}
	return f.Apply(in)
}

// Find returns the deepest field owning prefix, or nil.
func Find(root Field, prefix string) Field {
	return find(root, prefix)
}

func find(f Field, prefix string) Field {
	if f == nil {
		return nil
	}
	for _, c := range f.children() {
		if m := find(c, prefix); m != nil {
			return m
		}
	}
	if f.owns(prefix) {
		return f
	}
	return nil
}

// ValidateAll validates every field and reports whether all passed.
func ValidateAll(fields ...Field) bool {
	ok := true
	for _, f := range fields {
		ok = f.Validate() && ok
	}
	return ok
}

func join(prefix, key string) string {
	if prefix == "" {
		return key
	}
	return prefix + "." + key
}

func lastSegment(prefix string) string {
	if i := strings.LastIndexByte(prefix, '.'); i >= 0 {
		return prefix[i+1:]
	}
	return prefix
}
