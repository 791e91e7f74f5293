// Package customization holds the layered console customizations
// document: the shipped base layer, the selected theme layer and a
// per-user layer, merged in that order.
package customization

// Merge deep-merges src into a copy of dst and returns the copy. Nested
// objects merge key by key; scalars, arrays and nulls from src replace
// what dst holds. Neither argument is modified.
func Merge(dst, src map[string]any) map[string]any {
	out := Clone(dst)
	if out == nil {
		out = map[string]any{}
	}
	mergeInto(out, src)
	return out
}

func mergeInto(merged, data map[string]any) {
	for k, v := range data {
		sub, isObj := v.(map[string]any)
		if !isObj {
			merged[k] = cloneValue(v)
			continue
		}
		target, ok := merged[k].(map[string]any)
		if !ok {
			target = map[string]any{}
			merged[k] = target
		}
		mergeInto(target, sub)
	}
}

// Clone returns a deep copy of m.
func Clone(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	return cloneValue(m).(map[string]any)
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = cloneValue(e)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = cloneValue(e)
		}
		return out
	default:
		return v
	}
}
