package schema

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func containsRef(v any) bool {
	switch t := v.(type) {
	case map[string]any:
		if _, ok := t["$ref"]; ok {
			return true
		}
		for _, c := range t {
			if containsRef(c) {
				return true
			}
		}
	case []any:
		for _, c := range t {
			if containsRef(c) {
				return true
			}
		}
	}
	return false
}

func TestNormalize_InlinesRef(t *testing.T) {
	doc := map[string]any{
		"a": map[string]any{"$ref": "#/components/schemas/Foo"},
		"components": map[string]any{
			"schemas": map[string]any{
				"Foo": map[string]any{"type": "string"},
			},
		},
	}

	out, err := Normalize(doc)
	require.NoError(t, err)
	require.Equal(t, map[string]any{"type": "string"}, out["a"])
	require.False(t, containsRef(out))
	require.Equal(t, "#/components/schemas/Foo", doc["a"].(map[string]any)["$ref"], "input must not be modified")
}

func TestNormalize_AliasChain(t *testing.T) {
	doc := map[string]any{
		"a": map[string]any{"$ref": "#/components/schemas/Foo"},
		"components": map[string]any{
			"schemas": map[string]any{
				"Foo": map[string]any{"$ref": "#/components/schemas/Bar"},
				"Bar": map[string]any{"$ref": "#/components/schemas/Baz"},
				"Baz": map[string]any{"type": "string"},
			},
		},
	}

	out, err := Normalize(doc)
	require.NoError(t, err)
	require.Equal(t, map[string]any{"type": "string"}, out["a"])
	require.False(t, containsRef(out))
}

func TestNormalize_SelfAliasIsBounded(t *testing.T) {
	doc := map[string]any{
		"defs": map[string]any{
			"Foo": map[string]any{"$ref": "#/defs/Foo"},
		},
	}
	_, err := Normalize(doc)
	require.ErrorIs(t, err, ErrTooDeep)
}

func TestNormalize_NestedRefsAndArrays(t *testing.T) {
	doc := map[string]any{
		"list": []any{
			map[string]any{"$ref": "#/components/schemas/Outer"},
		},
		"components": map[string]any{
			"schemas": map[string]any{
				"Outer": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"inner": map[string]any{"$ref": "#/components/schemas/Inner"},
					},
				},
				"Inner": map[string]any{"type": "integer"},
			},
		},
	}

	out, err := Normalize(doc)
	require.NoError(t, err)
	require.False(t, containsRef(out))
	inner := Child(out, "list/0/properties/inner")
	require.Equal(t, map[string]any{"type": "integer"}, inner)
}

func TestNormalize_EachSiteGetsOwnCopy(t *testing.T) {
	doc := map[string]any{
		"a": map[string]any{"$ref": "#/components/schemas/Foo"},
		"b": map[string]any{"$ref": "#/components/schemas/Foo"},
		"components": map[string]any{
			"schemas": map[string]any{
				"Foo": map[string]any{"properties": map[string]any{"x": map[string]any{"type": "string"}}},
			},
		},
	}

	out, err := Normalize(doc)
	require.NoError(t, err)

	Child(out, "a/properties").(map[string]any)["y"] = "mutated"
	_, leaked := Child(out, "b/properties").(map[string]any)["y"]
	require.False(t, leaked)
	_, leakedSource := Child(doc, "components/schemas/Foo/properties").(map[string]any)["y"]
	require.False(t, leakedSource)
}

func TestNormalize_StripsNonSuccessResponses(t *testing.T) {
	doc := map[string]any{
		"paths": map[string]any{
			"/projects/{organization}": map[string]any{
				"get": map[string]any{
					"responses": map[string]any{
						"200":     map[string]any{"description": "ok"},
						"204":     map[string]any{"description": "empty"},
						"401":     map[string]any{"description": "unauthorized"},
						"500":     map[string]any{"description": "error"},
						"default": map[string]any{"description": "other"},
					},
				},
			},
		},
	}

	out, err := Normalize(doc)
	require.NoError(t, err)
	responses := Child(out, "paths").(map[string]any)["/projects/{organization}"].(map[string]any)["get"].(map[string]any)["responses"].(map[string]any)
	require.Contains(t, responses, "200")
	require.Contains(t, responses, "204")
	require.Contains(t, responses, "default")
	require.NotContains(t, responses, "401")
	require.NotContains(t, responses, "500")
}

func TestNormalize_RefWinsOverSiblings(t *testing.T) {
	doc := map[string]any{
		"a": map[string]any{"$ref": "#/defs/Foo", "type": "object", "description": "kept"},
		"defs": map[string]any{
			"Foo": map[string]any{"type": "string"},
		},
	}
	out, err := Normalize(doc)
	require.NoError(t, err)
	require.Equal(t, map[string]any{"type": "string", "description": "kept"}, out["a"])
}

func TestNormalize_UnresolvableRef(t *testing.T) {
	doc := map[string]any{"a": map[string]any{"$ref": "#/components/schemas/Missing"}}
	_, err := Normalize(doc)
	require.Error(t, err)
}

func TestNormalize_CycleIsBounded(t *testing.T) {
	doc := map[string]any{
		"defs": map[string]any{
			"Node": map[string]any{
				"properties": map[string]any{
					"next": map[string]any{"$ref": "#/defs/Node"},
				},
			},
		},
	}
	_, err := Normalize(doc)
	require.True(t, errors.Is(err, ErrTooDeep), "err = %v", err)
}

func TestNormalize_ExternalRefLeftAlone(t *testing.T) {
	doc := map[string]any{"a": map[string]any{"$ref": "other.yaml#/Foo"}}
	out, err := Normalize(doc)
	require.NoError(t, err)
	require.Equal(t, "other.yaml#/Foo", out["a"].(map[string]any)["$ref"])
}

func TestChild(t *testing.T) {
	root := map[string]any{
		"a": map[string]any{"b": []any{"x", map[string]any{"c": 1.0}}},
	}
	require.Equal(t, 1.0, Child(root, "/a/b/1/c"))
	require.Equal(t, "x", Child(root, "a/b/0"))
	require.Nil(t, Child(root, "a/missing/c"))
	require.Nil(t, Child(root, "a/b/9"))
	require.Nil(t, Child(root, "a/b/0/deeper"))
	require.Equal(t, root, Child(root, ""))
}

func TestArrayToObject(t *testing.T) {
	items := []any{
		map[string]any{"name": "a", "v": 1.0},
		map[string]any{"name": "b", "v": 2.0},
		"skipped",
	}
	out := ArrayToObject(items, "name")
	require.Len(t, out, 2)
	require.Equal(t, 2.0, out["b"].(map[string]any)["v"])
}
