package metadata

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"strings"

	"github.com/pitabwire/dbconsole/internal/customization"
	"github.com/pitabwire/dbconsole/internal/field"
	"github.com/pitabwire/dbconsole/internal/formula"
	"github.com/pitabwire/dbconsole/internal/schema"
	"github.com/pitabwire/dbconsole/model"
)

// ListQuery narrows a list page.
type ListQuery struct {
	Page int
	// Name keeps the items whose last path segment starts with it.
	Name string
	// Label is passed to the control plane as labelFilter.
	Label string
}

// RefColumn is the identity column of a list row.
const RefColumn = "$ref"

type listing struct {
	Items []string `json:"items"`
}

type expandedListing struct {
	Items []map[string]any `json:"items"`
}

// Page resolves the list page of path: one page of expanded rows, their
// columns and row menus.
func (p *Provider) Page(ctx context.Context, sc *Scope, path string, q ListQuery) (model.PageDescriptor, error) {
	item, err := sc.Paths.ResourceByPath(path)
	if err != nil {
		return model.PageDescriptor{}, err
	}
	if item == nil {
		return model.PageDescriptor{}, model.NewNotFoundError(fmt.Sprintf("no resource matches %s", path))
	}
	if _, ok := item["get"]; !ok {
		return model.PageDescriptor{}, model.NewBadRequestError(fmt.Sprintf("%s cannot be listed", path))
	}

	labelFilter := ""
	if q.Label != "" {
		labelFilter = "&labelFilter=" + url.QueryEscape(q.Label)
	}
	var all listing
	if err := sc.Backend.CachedGet(ctx, path+"?listAccessible=true"+labelFilter, &all); err != nil {
		return model.PageDescriptor{}, err
	}
	refs, start := narrowByName(all.Items, q.Name)

	page := max(q.Page, 1)
	offset := (page - 1) * p.pageSize
	limit := min(p.pageSize, len(refs)-offset)
	// The control plane pages the whole list, not the matching run.
	offset += start

	desc := model.PageDescriptor{
		Path:       path,
		Title:      translate(sc.Env, "page.title."+strings.Trim(path, "/"), path),
		Breadcrumb: Breadcrumb(path),
		Columns:    []model.ColumnDescriptor{},
		Rows:       []model.RowDescriptor{},
		Page:       page,
		PageSize:   p.pageSize,
		Total:      len(refs),
	}

	var rows []map[string]any
	if limit > 0 {
		query := fmt.Sprintf("?listAccessible=true&expand=true&offset=%d&limit=%d%s", offset, limit, labelFilter)
		var expanded expandedListing
		if err := sc.Backend.CachedGet(ctx, path+query, &expanded); err != nil {
			return model.PageDescriptor{}, err
		}
		rows = expanded.Items
		desc.EventsRoute = EventsRoute + path + query
	}

	createPath, err := sc.Paths.CreatePath(path)
	if err != nil {
		return model.PageDescriptor{}, err
	}
	if createPath != "" {
		desc.CreateRoute = CreateRoute + path
	}

	filter, err := sc.Paths.FilterField(path)
	if err != nil {
		return model.PageDescriptor{}, err
	}
	if filter.Field != "" || len(filter.Choices) > 0 {
		desc.Filter = &model.FilterDescriptor{Field: filter.Field, Choices: filter.Choices}
		if filter.Field != "" {
			desc.Filter.Values = filterValues(refs)
		}
	}

	view, _ := sc.Custom.View(path)
	props := responseProperties(sc.Paths, createPath)
	columns := Columns(rows, view)
	for _, c := range columns {
		label := ""
		if c != RefColumn {
			label = view.Fields[c].Label
			if label == "" {
				label = translate(sc.Env, "column."+c, c)
			}
		}
		desc.Columns = append(desc.Columns, model.ColumnDescriptor{Field: c, Label: label})
	}
	for _, row := range rows {
		desc.Rows = append(desc.Rows, p.row(sc, path, row, columns, view, props))
	}
	return desc, nil
}

// narrowByName trims items from both ends until the first and last item's
// last path segment start with name. Items are sorted by the control
// plane, so this keeps the matching run. start is the index of the run in
// items.
func narrowByName(items []string, name string) (run []string, start int) {
	name = strings.ToLower(name)
	matches := func(item string) bool {
		if i := strings.LastIndexByte(item, '/'); i >= 0 {
			item = item[i+1:]
		}
		return strings.HasPrefix(strings.ToLower(item), name)
	}
	end := len(items)
	for start < end && !matches(items[start]) {
		start++
	}
	for end-1 >= start && !matches(items[end-1]) {
		end--
	}
	return items[start:end], start
}

// filterValues collects the distinct first segments of multi-segment
// items, in first-seen order.
func filterValues(items []string) []string {
	seen := map[string]bool{}
	var out []string
	for _, item := range items {
		first, _, ok := strings.Cut(item, "/")
		if !ok || seen[first] {
			continue
		}
		seen[first] = true
		out = append(out, first)
	}
	return out
}

// Columns picks the table columns: the view's column list when it has
// one, else $ref followed by every key found in rows and every
// customized field. resourceVersion is never shown.
func Columns(rows []map[string]any, view customization.View) []string {
	if len(view.Columns) > 0 {
		return append([]string(nil), view.Columns...)
	}
	keys := map[string]bool{}
	for _, row := range rows {
		for k := range row {
			keys[k] = true
		}
	}
	var out []string
	if keys[RefColumn] {
		out = append(out, RefColumn)
	}
	delete(keys, RefColumn)
	delete(keys, "resourceVersion")
	delete(keys, "__deleted__")
	for k := range view.Fields {
		keys[k] = true
	}
	rest := make([]string, 0, len(keys))
	for k := range keys {
		rest = append(rest, k)
	}
	sort.Strings(rest)
	return append(out, rest...)
}

// responseProperties returns the properties of the GET response of the
// collection's items, used to render cells.
func responseProperties(paths schema.Paths, createPath string) map[string]any {
	if createPath == "" {
		return nil
	}
	item, _ := paths.ResourceByPath(createPath)
	props, _ := schema.ChildParts(item, []string{"get", "responses", "200", "content", "application/json", "schema", "properties"}).(map[string]any)
	return props
}

func (p *Provider) row(sc *Scope, path string, row map[string]any, columns []string, view customization.View, props map[string]any) model.RowDescriptor {
	ref, _ := row[RefColumn].(string)
	rd := model.RowDescriptor{Cells: map[string]*field.Descriptor{}}
	itemPath := path
	if ref != "" {
		itemPath = path + "/" + ref
		rd.Ref = ref
		rd.EditRoute = EditRoute + itemPath
		if child, _ := sc.Paths.ResourceByPath(itemPath); child != nil {
			_, rd.Deletable = child["delete"]
		}
	}

	st := field.NewState(row)
	for _, c := range columns {
		if c == RefColumn {
			continue
		}
		vf, custom := view.Fields[c]
		var d *field.Descriptor
		switch param, _ := props[c].(map[string]any); {
		case custom && vf.Value != "":
			d = field.Display(c, vf.Label, formula.Evaluate(row, vf.Value))
		case param != nil:
			d = field.New(field.Props{
				Prefix:    c,
				Parameter: param,
				State:     st,
				Readonly:  true,
				Path:      itemPath,
				Env:       sc.Env,
			}).View()
		default:
			d = field.Display(c, vf.Label, row[c])
		}
		if d != nil {
			rd.Cells[c] = d
		}
		for _, b := range vf.Buttons {
			if !b.IsVisible(row) {
				continue
			}
			if md, ok := p.menuEntry(sc, path, ref, row, b); ok {
				if rd.Buttons == nil {
					rd.Buttons = map[string][]model.MenuEntryDescriptor{}
				}
				rd.Buttons[c] = append(rd.Buttons[c], md)
			}
		}
	}
	for _, m := range view.VisibleMenu(row) {
		if md, ok := p.menuEntry(sc, path, ref, row, m); ok {
			rd.Menu = append(rd.Menu, md)
		}
	}
	return rd
}

// menuEntry describes an entry for row; link entries whose target cannot
// be resolved are dropped.
func (p *Provider) menuEntry(sc *Scope, path, ref string, row map[string]any, m customization.MenuEntry) (model.MenuEntryDescriptor, bool) {
	md := model.MenuEntryDescriptor{
		Label:   translate(sc.Env, m.Label, m.Label),
		Icon:    m.Icon,
		Action:  m.Action(),
		Confirm: m.Confirm,
	}
	switch md.Action {
	case customization.ActionLink:
		route, ok := m.LinkFor(row)
		if !ok {
			return model.MenuEntryDescriptor{}, false
		}
		md.Route = route
	case customization.ActionPatch:
		md.Endpoint = ActionRoute + path + "?" + url.Values{"label": {m.Label}, "ref": {ref}}.Encode()
	case customization.ActionDialog:
		md.Dialog = m.Dialog
	default:
		return model.MenuEntryDescriptor{}, false
	}
	return md, true
}
