package metadata

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/pitabwire/dbconsole/internal/customization"
	"github.com/pitabwire/dbconsole/internal/field"
	"github.com/pitabwire/dbconsole/internal/schema"
	"github.com/pitabwire/dbconsole/internal/valuepath"
	"github.com/pitabwire/dbconsole/model"
)

// formSpec is the parameter layout of one resource form.
type formSpec struct {
	path       string
	createPath string
	schemaPath string
	// urlParams are the PUT operation's parameters by name.
	urlParams map[string]any
	// params are the top-level request body properties.
	params   map[string]any
	sections []section
}

type section struct {
	title  string
	keys   []string
	params map[string]any
}

// formSpec resolves the PUT operation behind a form. A create form lives
// on the collection path and targets its create path; the other modes
// target path itself.
func (p *Provider) formSpec(sc *Scope, path, mode string) (*formSpec, error) {
	createPath := path
	if mode == model.FormCreate {
		cp, err := sc.Paths.CreatePath(path)
		if err != nil {
			return nil, err
		}
		if cp == "" {
			return nil, model.NewNotFoundError(fmt.Sprintf("nothing can be created under %s", path))
		}
		createPath = cp
	}
	key, err := sc.Paths.SchemaPath(createPath)
	if err != nil {
		return nil, err
	}
	put, ok := sc.Paths[key]["put"].(map[string]any)
	if key == "" || !ok {
		return nil, model.NewNotFoundError(fmt.Sprintf("%s has no form", path))
	}

	spec := &formSpec{path: path, createPath: createPath, schemaPath: key}
	list, _ := put["parameters"].([]any)
	spec.urlParams = schema.ArrayToObject(list, "name")

	body, _ := schema.ChildParts(put, []string{"requestBody", "content", "application/json", "schema"}).(map[string]any)
	props, _ := body["properties"].(map[string]any)
	spec.params = customization.Clone(props)
	if spec.params == nil {
		spec.params = map[string]any{}
	}
	if required, ok := body["required"].([]any); ok {
		for _, r := range required {
			name, _ := r.(string)
			if param, ok := spec.params[name].(map[string]any); ok {
				param["required"] = true
			}
		}
	}

	form, _ := sc.Custom.Form(path)
	spec.sections = layout(spec.params, form)
	return spec, nil
}

// layout splits params into the customized sections. Without sections
// every field goes into one untitled section. A "*" field takes every
// field no earlier section claimed.
func layout(params map[string]any, form customization.Form) []section {
	if len(form.Sections) == 0 {
		return []section{{keys: sortedKeys(params), params: params}}
	}

	remaining := customization.Clone(params)
	var out []section
	for _, sec := range form.Sections {
		if len(sec.Fields) == 0 {
			continue
		}
		order := sec.Order
		if len(order) == 0 {
			for k := range sec.Fields {
				order = append(order, k)
			}
			sort.Strings(order)
		}

		s := section{title: sec.Title, params: map[string]any{}}
		add := func(key string) {
			top, _, _ := strings.Cut(key, ".")
			for _, k := range s.keys {
				if k == top {
					return
				}
			}
			s.keys = append(s.keys, top)
		}
		wildcard := false
		for _, key := range order {
			if key == "*" {
				wildcard = true
				continue
			}
			param := getParam(params, key)
			if param == nil {
				continue
			}
			param = customization.Clone(param)
			override := sec.Fields[key]
			if override.Required {
				param["required"] = true
			}
			if override.Expand {
				param["expand"] = true
			}
			if override.Hidden {
				param["hidden"] = true
			}
			setParam(s.params, key, param)
			deleteParam(remaining, key)
			add(key)
		}
		if wildcard {
			for _, key := range sortedKeys(remaining) {
				if param, ok := remaining[key].(map[string]any); ok {
					setParam(s.params, key, customization.Clone(param))
					add(key)
				}
			}
		}
		out = append(out, s)
	}
	return out
}

// getParam returns the parameter at a dotted key, descending through
// object properties.
func getParam(params map[string]any, key string) map[string]any {
	head, rest, nested := strings.Cut(key, ".")
	param, _ := params[head].(map[string]any)
	if !nested || param == nil {
		return param
	}
	props, _ := param["properties"].(map[string]any)
	if props == nil {
		return nil
	}
	return getParam(props, rest)
}

func setParam(params map[string]any, key string, param map[string]any) {
	head, rest, nested := strings.Cut(key, ".")
	if !nested {
		params[head] = param
		return
	}
	parent, _ := params[head].(map[string]any)
	if parent == nil {
		parent = map[string]any{"type": "object", "properties": map[string]any{}}
		params[head] = parent
	}
	if props, ok := parent["properties"].(map[string]any); ok {
		setParam(props, rest, param)
	}
}

func deleteParam(params map[string]any, key string) {
	head, rest, nested := strings.Cut(key, ".")
	if !nested {
		delete(params, head)
		return
	}
	parent, _ := params[head].(map[string]any)
	if props, ok := parent["properties"].(map[string]any); ok {
		deleteParam(props, rest)
		if len(props) == 0 {
			delete(params, head)
		}
	}
}

// fieldParam returns the parameter a top-level key is rendered and
// validated with: the first section's override, else the schema's.
func (s *formSpec) fieldParam(key string) map[string]any {
	for _, sec := range s.sections {
		if param, ok := sec.params[key].(map[string]any); ok {
			return param
		}
	}
	param, _ := s.params[key].(map[string]any)
	return param
}

func (s *formSpec) queryKeys() []string {
	var keys []string
	for _, k := range sortedKeys(s.urlParams) {
		if param, ok := s.urlParams[k].(map[string]any); ok && param["in"] == "query" {
			keys = append(keys, k)
		}
	}
	return keys
}

// initialValues seeds the values object from the loaded resource and the
// schema defaults, then fills unset path parameters from the URL.
func (s *formSpec) initialValues(data map[string]any) map[string]any {
	values := setDefaults(map[string]any{}, "", s.params, data)
	pathParts := strings.Split(s.path, "/")
	createParts := strings.Split(s.createPath, "/")
	for i := 0; i < len(pathParts) && i < len(createParts); i++ {
		seg := createParts[i]
		if strings.HasPrefix(seg, "{") && strings.HasSuffix(seg, "}") {
			key := seg[1 : len(seg)-1]
			if _, ok := values[key]; !ok {
				values[key] = pathParts[i]
			}
		}
	}
	return values
}

func setDefaults(values map[string]any, prefix string, params, data map[string]any) map[string]any {
	for _, key := range sortedKeys(params) {
		param, _ := params[key].(map[string]any)
		var existing any
		if data != nil {
			existing = data[key]
		}
		v := schema.DefaultValue(param, existing)
		if v == nil {
			continue
		}
		full := key
		if prefix != "" {
			full = prefix + "." + key
		}
		if props, ok := param["properties"].(map[string]any); ok && param["type"] == "object" {
			sub, _ := existing.(map[string]any)
			values = setDefaults(values, full, props, sub)
			continue
		}
		values = valuepath.Set(values, full, v)
	}
	return values
}

// fields builds one field per top-level body property and query
// parameter, the set that is validated and receives input.
func (p *Provider) fields(sc *Scope, spec *formSpec, st *field.State, mode string) []field.Field {
	var out []field.Field
	for _, key := range spec.queryKeys() {
		param, _ := spec.urlParams[key].(map[string]any)
		out = append(out, field.New(field.Props{
			Prefix:    key,
			Parameter: customization.Clone(param),
			State:     st,
			Readonly:  mode != model.FormCreate,
			Path:      spec.path,
			Env:       sc.Env,
		}))
	}
	for _, key := range sortedKeys(spec.params) {
		out = append(out, field.New(field.Props{
			Prefix:    key,
			Parameter: spec.fieldParam(key),
			State:     st,
			Readonly:  spec.readonly(key, mode),
			Path:      spec.path,
			Env:       sc.Env,
		}))
	}
	return out
}

// readonly reports whether key is locked: everything in view mode, and
// the identity of an existing resource in edit mode.
func (s *formSpec) readonly(key, mode string) bool {
	switch mode {
	case model.FormView:
		return true
	case model.FormEdit:
		param := s.fieldParam(key)
		_, inURL := s.urlParams[key]
		return inURL || key == "name" || param["x-immutable"] == true
	default:
		return false
	}
}

func shown(key string, param map[string]any) bool {
	return param != nil && param["readOnly"] != true && param["hidden"] != true && key != "resourceVersion"
}

// describe renders the form for the current state.
func (p *Provider) describe(sc *Scope, spec *formSpec, st *field.State, mode string) model.FormDescriptor {
	desc := model.FormDescriptor{
		Path:       spec.path,
		SchemaPath: spec.schemaPath,
		Mode:       mode,
		State:      st,
		Sections:   []model.SectionDescriptor{},
	}
	switch mode {
	case model.FormCreate:
		desc.Title = translate(sc.Env, "form.title.create", "Create entry for "+spec.path)
		desc.ListRoute = ListRoute + spec.path
	case model.FormEdit:
		desc.Title = translate(sc.Env, "form.title.edit", "Edit entry for "+spec.path)
		desc.ListRoute = ListRoute + parentPath(spec.path)
	default:
		desc.Title = spec.path
		desc.ListRoute = ListRoute + parentPath(spec.path)
	}
	if mode != model.FormView {
		desc.SubmitEndpoint = FormsRoute + spec.path + "/submit?mode=" + mode
		desc.ValidateEndpoint = FormsRoute + spec.path + "/validate?mode=" + mode
	}

	render := func(f field.Field) *field.Descriptor {
		if mode == model.FormView {
			return f.View()
		}
		return f.Edit()
	}

	for _, key := range spec.queryKeys() {
		param, _ := spec.urlParams[key].(map[string]any)
		f := field.New(field.Props{
			Prefix:    key,
			Parameter: customization.Clone(param),
			State:     st,
			Readonly:  mode != model.FormCreate,
			Path:      spec.path,
			Env:       sc.Env,
		})
		if d := render(f); d != nil {
			desc.Query = append(desc.Query, d)
		}
	}

	for _, sec := range spec.sections {
		var keys []string
		for _, k := range sec.keys {
			if param, _ := sec.params[k].(map[string]any); shown(k, param) {
				keys = append(keys, k)
			}
		}
		sd := model.SectionDescriptor{Title: sec.title, Collapsible: sec.title != "", Fields: []*field.Descriptor{}}
		for _, k := range keys {
			param, _ := sec.params[k].(map[string]any)
			f := field.New(field.Props{
				Prefix:    k,
				Parameter: param,
				State:     st,
				Readonly:  spec.readonly(k, mode),
				Expand:    sec.title == "",
				HideTitle: len(keys) == 1,
				Path:      spec.path,
				Env:       sc.Env,
			})
			if d := render(f); d != nil {
				sd.Fields = append(sd.Fields, d)
			}
		}
		if len(sd.Fields) == 0 && sec.title != "" {
			continue
		}
		desc.Sections = append(desc.Sections, sd)
	}

	if mode != model.FormView {
		desc.Focus = spec.focus(st)
	}
	return desc
}

// focus is the first required field that is still empty.
func (s *formSpec) focus(st *field.State) string {
	for _, key := range sortedKeys(s.params) {
		param := s.fieldParam(key)
		if param["required"] != true || !shown(key, param) {
			continue
		}
		if v := st.Get(key); v == nil || v == "" {
			return key
		}
	}
	return ""
}

// Form resolves the form of path. Edit and view forms load the resource;
// create forms start from the schema defaults.
func (p *Provider) Form(ctx context.Context, sc *Scope, path, mode string) (model.FormDescriptor, error) {
	spec, err := p.formSpec(sc, path, mode)
	if err != nil {
		return model.FormDescriptor{}, err
	}
	var data map[string]any
	if mode != model.FormCreate {
		if err := sc.Backend.Get(ctx, path, &data); err != nil {
			return model.FormDescriptor{}, err
		}
	}
	st := field.NewState(spec.initialValues(data))
	return p.describe(sc, spec, st, mode), nil
}

// Input commits one input event to the posted state and renders the form
// again.
func (p *Provider) Input(sc *Scope, path, mode string, st *field.State, in field.Input) (model.FormDescriptor, error) {
	spec, err := p.formSpec(sc, path, mode)
	if err != nil {
		return model.FormDescriptor{}, err
	}
	if st == nil {
		st = field.NewState(nil)
	}
	for _, f := range p.fields(sc, spec, st, mode) {
		if field.Find(f, in.Prefix) == nil {
			continue
		}
		if err := field.Apply(f, in); err != nil {
			return model.FormDescriptor{}, model.NewBadRequestError(err.Error())
		}
		return p.describe(sc, spec, st, mode), nil
	}
	return model.FormDescriptor{}, model.NewBadRequestError(fmt.Sprintf("no field %q in form of %s", in.Prefix, path))
}

// Validate runs every field's validation over values.
func (p *Provider) Validate(sc *Scope, path, mode string, values map[string]any) (model.ValidationResult, error) {
	spec, err := p.formSpec(sc, path, mode)
	if err != nil {
		return model.ValidationResult{}, err
	}
	st := field.NewState(values)
	valid := field.ValidateAll(p.fields(sc, spec, st, mode)...)
	return model.ValidationResult{Valid: valid, Errors: st.Errors, State: st}, nil
}

// validationDetails lists the Errors Object in prefix order.
func validationDetails(errs field.Errors) []model.FieldError {
	keys := make([]string, 0, len(errs))
	for k := range errs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]model.FieldError, 0, len(keys))
	for _, k := range keys {
		out = append(out, model.FieldError{Field: k, Code: "INVALID", Message: errs[k]})
	}
	return out
}
