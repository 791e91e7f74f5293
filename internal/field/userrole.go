package field

// userRoleField edits one entry of a roles list: a role name plus the
// parameters that role's template requires. Changing the name resets the
// parameters to exactly the new role's variables.
type userRoleField struct {
	base
	nameParam   map[string]any
	paramsParam map[string]any
}

func newUserRole(b base) Field {
	props, _ := b.p.Parameter["properties"].(map[string]any)
	nameParam, _ := props["name"].(map[string]any)
	paramsParam, _ := props["params"].(map[string]any)
	if nameParam == nil || paramsParam == nil {
		return missingAttribute(b, `"properties" attribute missing from schema for field "`+b.p.Prefix+`"`)
	}
	return &userRoleField{base: b, nameParam: nameParam, paramsParam: paramsParam}
}

func (f *userRoleField) namePrefix() string   { return join(f.p.Prefix, "name") }
func (f *userRoleField) paramsPrefix() string { return join(f.p.Prefix, "params") }

func (f *userRoleField) name() string {
	s, _ := f.p.State.Get(f.namePrefix()).(string)
	return s
}

func (f *userRoleField) variables(role string) []string {
	if f.p.Env == nil || f.p.Env.Roles == nil {
		return nil
	}
	vars, _ := f.p.Env.Roles.RoleVariables(role)
	return vars
}

func (f *userRoleField) nameField() Field {
	p := f.child("name", f.nameParam, true)
	p.commit = f.changeName
	return New(p)
}

func (f *userRoleField) paramsField() Field {
	p := f.child("params", f.paramsParam, false)
	p.FixedKeys = f.p.Env != nil && f.p.Env.Roles != nil
	return New(p)
}

// changeName drops the entry when the name is cleared, otherwise stores
// the name and rebuilds the parameters if the role changed.
func (f *userRoleField) changeName(st *State, prefix string, v any) {
	name := stringify(v)
	if name == "" {
		st.Set(f.p.Prefix, nil)
		return
	}
	old, _ := st.Get(prefix).(string)
	st.Set(prefix, name)
	if old == name && st.Get(f.paramsPrefix()) != nil {
		return
	}
	params := map[string]any{}
	for _, variable := range f.variables(name) {
		params[variable] = ""
	}
	st.Set(f.paramsPrefix(), params)
}

// fillParams makes sure every variable of the current role has a row.
func (f *userRoleField) fillParams() {
	vars := f.variables(f.name())
	if len(vars) == 0 {
		return
	}
	params, _ := f.p.State.Get(f.paramsPrefix()).(map[string]any)
	if params == nil {
		params = map[string]any{}
		f.p.State.Set(f.paramsPrefix(), params)
	}
	for _, v := range vars {
		if _, ok := params[v]; !ok {
			params[v] = ""
		}
	}
}

func (f *userRoleField) children() []Field {
	out := []Field{f.nameField()}
	if f.name() != "" {
		out = append(out, f.paramsField())
	}
	return out
}

func (f *userRoleField) Edit() *Descriptor {
	if !f.p.Readonly && f.name() != "" {
		f.fillParams()
	}
	d := f.descriptor()
	d.Expand = f.p.Expand
	d.HideTitle = f.p.HideTitle
	for _, c := range f.children() {
		if cd := c.Edit(); cd != nil {
			d.Children = append(d.Children, cd)
		}
	}
	return d
}

func (f *userRoleField) View() *Descriptor {
	d := f.descriptor()
	d.Error = ""
	for _, c := range f.children() {
		if cd := c.View(); cd != nil {
			d.Children = append(d.Children, cd)
		}
	}
	return d
}

func (f *userRoleField) Validate() bool {
	success := true
	for _, c := range f.children() {
		success = c.Validate() && success
	}
	return success
}
