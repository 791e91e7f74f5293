package customization

import (
	"context"
	"errors"
	"testing"
	"testing/fstest"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func TestMerge(t *testing.T) {
	base := map[string]any{
		"theme": map[string]any{"type": "material", "css": "a.css"},
		"views": map[string]any{"/x": map[string]any{"columns": []any{"a", "b"}}},
	}
	user := map[string]any{
		"theme": map[string]any{"type": "plain"},
		"views": map[string]any{"/x": map[string]any{"columns": []any{"c"}}},
		"extra": 1,
	}

	got := Merge(base, user)
	require.Equal(t, map[string]any{
		"theme": map[string]any{"type": "plain", "css": "a.css"},
		"views": map[string]any{"/x": map[string]any{"columns": []any{"c"}}},
		"extra": 1,
	}, got)

	// inputs are untouched
	require.Equal(t, "material", base["theme"].(map[string]any)["type"])
	got["theme"].(map[string]any)["css"] = "changed"
	require.Equal(t, "a.css", base["theme"].(map[string]any)["css"])
}

func TestMerge_ObjectReplacesScalar(t *testing.T) {
	got := Merge(map[string]any{"a": "x"}, map[string]any{"a": map[string]any{"b": true}})
	require.Equal(t, map[string]any{"a": map[string]any{"b": true}}, got)

	got = Merge(nil, map[string]any{"a": nil})
	require.Equal(t, map[string]any{"a": nil}, got)
}

func TestParseLayer_KeepsFieldOrder(t *testing.T) {
	l, err := ParseLayer("t.json", []byte(`{"forms":{"/db/{org}":{"sections":[
		{"title":"General","fields":{"zeta":{},"alpha":{"required":true},"mid":{"hidden":true}}}
	]}}}`))
	require.NoError(t, err)
	sec := l.Doc.Forms["/db/{org}"].Sections[0]
	require.Equal(t, []string{"zeta", "alpha", "mid"}, sec.Order)
	require.True(t, sec.Fields["alpha"].Required)
	require.True(t, sec.Fields["mid"].Hidden)

	eff, err := Combine(Layer{Data: map[string]any{}}, l)
	require.NoError(t, err)
	form, ok := eff.Form("/db/acme")
	require.True(t, ok)
	require.Equal(t, []string{"zeta", "alpha", "mid"}, form.Sections[0].Order)
}

func TestParseLayer_EmptyAndInvalid(t *testing.T) {
	l, err := ParseLayer("user", nil)
	require.NoError(t, err)
	require.Empty(t, l.Data)

	_, err = ParseLayer("user", []byte(`[1,2]`))
	require.Error(t, err)

	_, err = ParseLayer("user", []byte(`{"a": [}`))
	require.Error(t, err)
}

func TestEffective_ViewLookup(t *testing.T) {
	l, err := ParseLayer("base", []byte(`{"views":{
		"/databases/{organization}/{project}":{"columns":["$ref","tier"]},
		"/projects/{organization}":{"columns":["$ref"]}
	}}`))
	require.NoError(t, err)
	eff, err := Combine(l)
	require.NoError(t, err)

	v, ok := eff.View("/databases/acme/p1")
	require.True(t, ok)
	require.Equal(t, []string{"$ref", "tier"}, v.Columns)

	_, ok = eff.View("/databases/acme")
	require.False(t, ok)
	require.Equal(t, DefaultTheme, eff.ThemeType())
	require.True(t, eff.IsMaterial())

	var nilEff *Effective
	_, ok = nilEff.View("/x")
	require.False(t, ok)
}

func TestMenu_VisibilityAndPatch(t *testing.T) {
	eff, err := NewService(nil, nil, "", nil).Effective(context.Background(), "acme/admin")
	require.NoError(t, err)
	v, ok := eff.View("/databases/acme/p1")
	require.True(t, ok)

	running := map[string]any{"$ref": "db1", "name": "db1", "organization": "acme", "project": "p1"}
	labels := func(ms []MenuEntry) []string {
		var out []string
		for _, m := range ms {
			out = append(out, m.Label)
		}
		return out
	}
	require.Equal(t, []string{"menu.database.stop", "menu.database.backups"}, labels(v.VisibleMenu(running)))

	stopped := map[string]any{"$ref": "db1", "maintenance": map[string]any{"isDisabled": true}}
	require.Equal(t, []string{"menu.database.start", "menu.database.backups"}, labels(v.VisibleMenu(stopped)))

	stop, ok := v.Entry("menu.database.stop")
	require.True(t, ok)
	require.Equal(t, ActionPatch, stop.Action())
	ops, err := stop.PatchOps()
	require.NoError(t, err)
	require.Equal(t, []PatchOp{{Op: "add", Path: "/maintenance/isDisabled", Value: true}}, ops)

	backups, _ := v.Entry("menu.database.backups")
	require.Equal(t, ActionLink, backups.Action())
	link, ok := backups.LinkFor(running)
	require.True(t, ok)
	require.Equal(t, "/ui/resource/list/backups/acme/p1/db1", link)
}

func TestMenuEntry_PatchOps(t *testing.T) {
	tests := []struct {
		name    string
		patch   any
		want    []PatchOp
		wantErr bool
	}{
		{
			name:  "object shorthand",
			patch: map[string]any{"maintenance.isDisabled": false, "labels.team": nil},
			want: []PatchOp{
				{Op: "remove", Path: "/labels/team"},
				{Op: "replace", Path: "/maintenance/isDisabled", Value: false},
			},
		},
		{
			name:  "operations",
			patch: []any{map[string]any{"op": "remove", "path": "/labels/x"}},
			want:  []PatchOp{{Op: "remove", Path: "/labels/x"}},
		},
		{name: "bad op", patch: []any{map[string]any{"op": "move", "path": "/a"}}, wantErr: true},
		{name: "relative path", patch: []any{map[string]any{"op": "add", "path": "a"}}, wantErr: true},
		{name: "not an object", patch: []any{"x"}, wantErr: true},
		{name: "scalar", patch: "x", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := MenuEntry{Patch: tt.patch}.PatchOps()
			if tt.wantErr {
				require.ErrorIs(t, err, ErrInvalidPatch)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}
}

func TestMenuEntry_LinkRefusesExternal(t *testing.T) {
	for _, link := range []string{"https://evil.example/{name}", "//evil.example"} {
		_, ok := MenuEntry{Link: link}.LinkFor(map[string]any{"name": "x"})
		if ok {
			t.Errorf("LinkFor(%q) accepted, want refused", link)
		}
	}
	_, ok := MenuEntry{}.LinkFor(nil)
	require.False(t, ok)
}

func testThemes() fstest.MapFS {
	return fstest.MapFS{
		"base.json":  {Data: []byte(`{"theme":{"type":"material"},"views":{"/x":{"columns":["a"]}}}`)},
		"material.json": {Data: []byte(`{"theme":{"css":"material.css"}}`)},
		"dark.yaml":  {Data: []byte("theme:\n  type: dark\n  css: dark.css\nviews:\n  /x:\n    columns: [b]\n")},
	}
}

func TestService_LayerOrder(t *testing.T) {
	svc := NewService(testThemes(), NewMemorySettingsStore(), "", nil)
	ctx := context.Background()

	eff, err := svc.Effective(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, "material.css", eff.Doc.Theme.CSS)
	v, _ := eff.View("/x")
	require.Equal(t, []string{"a"}, v.Columns)

	eff, err = svc.Update(ctx, "u1", map[string]any{"theme": map[string]any{"type": "dark"}})
	require.NoError(t, err)
	require.Equal(t, "dark", eff.ThemeType())
	require.Equal(t, "dark.css", eff.Doc.Theme.CSS)
	v, _ = eff.View("/x")
	require.Equal(t, []string{"b"}, v.Columns)

	eff, err = svc.Update(ctx, "u1", map[string]any{"views": map[string]any{"/x": map[string]any{"columns": []any{"c", "d"}}}})
	require.NoError(t, err)
	require.Equal(t, "dark", eff.ThemeType(), "earlier user settings are kept")
	v, _ = eff.View("/x")
	require.Equal(t, []string{"c", "d"}, v.Columns)

	other, err := svc.Effective(ctx, "u2")
	require.NoError(t, err)
	require.Equal(t, "material", other.ThemeType())
}

func TestService_UnknownTheme(t *testing.T) {
	store := NewMemorySettingsStore()
	svc := NewService(testThemes(), store, "", nil)

	_, err := svc.Update(context.Background(), "u1", map[string]any{"theme": map[string]any{"type": "../../etc/passwd"}})
	require.ErrorIs(t, err, ErrUnknownTheme)
	_, err = svc.Update(context.Background(), "u1", map[string]any{"theme": map[string]any{"type": "neon"}})
	require.ErrorIs(t, err, ErrUnknownTheme)

	raw, err := store.Load(context.Background(), "u1")
	require.NoError(t, err)
	require.Empty(t, raw)
}

type failingStore struct{}

func (failingStore) Load(context.Context, string) ([]byte, error) { return nil, errors.New("down") }
func (failingStore) Save(context.Context, string, []byte) error  { return errors.New("down") }

func TestService_StoreFailure(t *testing.T) {
	svc := NewService(testThemes(), failingStore{}, "", nil)
	_, err := svc.Effective(context.Background(), "u1")
	require.Error(t, err)
}

func TestRedisSettingsStore(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := NewRedisSettingsStore(client)
	ctx := context.Background()

	raw, err := store.Load(ctx, "acme/admin")
	require.NoError(t, err)
	require.Nil(t, raw)

	svc := NewService(testThemes(), store, "", nil)
	_, err = svc.Update(ctx, "acme/admin", map[string]any{"theme": map[string]any{"type": "dark"}})
	require.NoError(t, err)

	stored, err := mr.Get(SettingsKey("acme/admin"))
	require.NoError(t, err)
	require.JSONEq(t, `{"theme":{"type":"dark"}}`, stored)

	eff, err := svc.Effective(ctx, "acme/admin")
	require.NoError(t, err)
	require.Equal(t, "dark", eff.ThemeType())

	mr.SetError("READONLY")
	_, err = store.Load(ctx, "acme/admin")
	require.Error(t, err)
}

func TestMemorySettingsStore_CopiesData(t *testing.T) {
	s := NewMemorySettingsStore()
	in := []byte(`{"a":1}`)
	require.NoError(t, s.Save(context.Background(), "u", in))
	in[2] = 'b'
	out, err := s.Load(context.Background(), "u")
	require.NoError(t, err)
	require.Equal(t, `{"a":1}`, string(out))
}
