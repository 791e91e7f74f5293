// Package access evaluates control-plane access rules of the form
// verb:resource[:sla] and caches the rule set granted to each session.
package access

import (
	"fmt"
	"net/http"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Rule is the allow/deny rule set returned by the control plane on login.
type Rule struct {
	Allow []string `json:"allow" yaml:"allow"`
	Deny  []string `json:"deny" yaml:"deny"`
}

// DefaultRule grants everything. The control plane remains the authority;
// the console only hides what it knows will be refused.
func DefaultRule() Rule {
	return Rule{Allow: []string{"all:*"}}
}

// LoadRuleFile reads a YAML rule set used when a session carries no rule.
func LoadRuleFile(path string) (Rule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Rule{}, fmt.Errorf("access: reading rule file %s: %w", path, err)
	}
	var r Rule
	if err := yaml.Unmarshal(data, &r); err != nil {
		return Rule{}, fmt.Errorf("access: parsing rule file %s: %w", path, err)
	}
	return r, nil
}

// Allows reports whether method may be applied to path. Deny entries are
// checked first; the first matching allow entry grants access.
func (r Rule) Allows(method, path, sla string) bool {
	for _, d := range r.Deny {
		if Matches(d, method, path, sla) {
			return false
		}
	}
	for _, a := range r.Allow {
		if Matches(a, method, path, sla) {
			return true
		}
	}
	return false
}

// Matches evaluates a single verb:resource[:sla] entry. Resource specifiers
// starting with "/" are absolute; otherwise they are relative to the path
// below its collection and owner segments. Placeholder path segments
// ("{name}") match any specifier segment.
func Matches(rule, method, path, sla string) bool {
	parts := strings.Split(rule, ":")
	if len(parts) < 2 {
		return false
	}
	verb, specifier := parts[0], parts[1]
	if specifier == "" || !strings.HasPrefix(path, "/") {
		return false
	}
	if sla != "" && len(parts) >= 3 && parts[2] != sla {
		return false
	}
	if !verbAllows(verb, method) {
		return false
	}

	if strings.HasPrefix(path, "/events/") {
		path = strings.TrimPrefix(path, "/events")
	}
	pathParts := strings.Split(path, "/")
	specParts := strings.Split(specifier, "/")

	if strings.HasPrefix(specifier, "/") {
		if len(specParts) > len(pathParts) {
			return false
		}
		for i, s := range specParts {
			if !segmentMatches(s, pathParts[i]) {
				return false
			}
		}
		return true
	}

	scoped := len(pathParts) - 2
	if scoped < 0 {
		return false
	}
	if len(specParts) > scoped && specParts[scoped] != "*" {
		return false
	}
	for i, s := range specParts {
		if s == "*" {
			continue
		}
		if i+2 >= len(pathParts) {
			return true
		}
		if !segmentMatches(s, pathParts[i+2]) {
			return false
		}
	}
	return true
}

func verbAllows(verb, method string) bool {
	switch verb {
	case "all":
		return true
	case "read":
		return method == http.MethodGet
	case "write":
		return method == http.MethodPut || method == http.MethodPatch
	case "delete":
		return method == http.MethodDelete
	default:
		return true
	}
}

func segmentMatches(spec, seg string) bool {
	return spec == "*" || spec == seg || strings.HasPrefix(seg, "{")
}
