package field

import "strings"

// RoleRule is one allow or deny entry of a role template.
type RoleRule struct {
	Resource string `json:"resource"`
}

// RoleTemplate is a named set of access rules whose resources may contain
// "{variable}" placeholders.
type RoleTemplate struct {
	Name string `json:"name"`
	Spec *struct {
		Allow []RoleRule `json:"allow"`
		Deny  []RoleRule `json:"deny"`
	} `json:"spec"`
}

// RoleCatalog maps a role name to the variables its template needs.
type RoleCatalog map[string][]string

// NewRoleCatalog extracts the variables of every named template with a
// spec. Variables keep first-seen order without duplicates.
func NewRoleCatalog(templates []RoleTemplate) RoleCatalog {
	c := make(RoleCatalog, len(templates))
	for _, t := range templates {
		if t.Name == "" || t.Spec == nil {
			continue
		}
		var vars []string
		for _, r := range t.Spec.Allow {
			vars = append(vars, PathVariables(r.Resource)...)
		}
		for _, r := range t.Spec.Deny {
			vars = append(vars, PathVariables(r.Resource)...)
		}
		c[t.Name] = unique(vars)
	}
	return c
}

// RoleVariables implements RoleVariables.
func (c RoleCatalog) RoleVariables(role string) ([]string, bool) {
	v, ok := c[role]
	return v, ok
}

// PathVariables returns the placeholder names contained in path.
func PathVariables(path string) []string {
	if path == "" {
		return nil
	}
	parts := strings.Split(path, "{")
	out := make([]string, 0, len(parts)-1)
	for _, p := range parts[1:] {
		name, _, _ := strings.Cut(p, "}")
		out = append(out, name)
	}
	return out
}

func unique(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}
