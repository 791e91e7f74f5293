// Package schema turns the control plane's OpenAPI document into the
// normalized path table the console renders from, and answers questions
// about it: which methods a concrete path supports, where new resources
// are created, and which field filters a list.
package schema

import "strings"

// MatchesPath reports whether the concrete path matches the template.
// Template segments starting with "{" match any concrete segment. A template
// segment ending in "?" makes the rest of the template optional: when it
// lines up with the last concrete segment the match succeeds.
func MatchesPath(path, template string) bool {
	parts := strings.Split(path, "/")
	tparts := strings.Split(template, "/")

	for i, tp := range tparts {
		if i >= len(parts) {
			return false
		}
		seg, optional := strings.CutSuffix(tp, "?")
		if !strings.HasPrefix(seg, "{") && seg != parts[i] {
			return false
		}
		if optional && i == len(parts)-1 {
			return true
		}
	}
	return len(parts) == len(tparts)
}

// ReplaceVariables substitutes every "{name}" placeholder in s with the
// matching entry of vars.
func ReplaceVariables(s string, vars map[string]string) string {
	for k, v := range vars {
		s = strings.ReplaceAll(s, "{"+k+"}", v)
	}
	return s
}

// isPlaceholder reports whether seg has the form "{name}".
func isPlaceholder(seg string) bool {
	return strings.HasPrefix(seg, "{") && strings.HasSuffix(seg, "}")
}

// prefixMatches reports whether each concrete segment equals the template
// segment at the same position or the template segment is a placeholder.
func prefixMatches(parts, tparts []string) bool {
	for i, p := range parts {
		if p != tparts[i] && !strings.HasPrefix(tparts[i], "{") {
			return false
		}
	}
	return true
}
