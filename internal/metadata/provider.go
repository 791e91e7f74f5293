// Package metadata builds the descriptors the console renders: navigation,
// resource capabilities, forms and list pages. Everything is derived from
// the access-filtered schema, the field engine and the user's effective
// customizations.
package metadata

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/pitabwire/dbconsole/internal/customization"
	"github.com/pitabwire/dbconsole/internal/field"
	"github.com/pitabwire/dbconsole/internal/openapi"
	"github.com/pitabwire/dbconsole/internal/schema"
	"github.com/pitabwire/dbconsole/model"
)

// Console routes the descriptors point the browser at.
const (
	ListRoute   = "/ui/resource/list"
	CreateRoute = "/ui/resource/create"
	EditRoute   = "/ui/resource/edit"
	EventsRoute = "/ui/events"
	FormsRoute  = "/ui/forms"
	ActionRoute = "/ui/actions"
)

// Backend is the control plane as seen through one session.
type Backend interface {
	Get(ctx context.Context, path string, out any) error
	CachedGet(ctx context.Context, path string, out any) error
	Put(ctx context.Context, path string, body, out any) error
	Post(ctx context.Context, path string, body, out any) error
	Patch(ctx context.Context, path string, ops any, out any) error
	Delete(ctx context.Context, path string) error
}

// Scope is everything one request renders against.
type Scope struct {
	// Paths is the schema path table filtered by the session's access rule.
	Paths   schema.Paths
	Index   *openapi.Index
	Custom  *customization.Effective
	Backend Backend
	Env     *field.Env
}

// Provider resolves descriptors for a Scope.
type Provider struct {
	logger   *zap.Logger
	pageSize int
}

// Option configures a Provider.
type Option func(*Provider)

// WithPageSize sets the number of rows of a list page.
func WithPageSize(n int) Option {
	return func(p *Provider) {
		if n > 0 {
			p.pageSize = n
		}
	}
}

// DefaultPageSize is the number of rows of a list page.
const DefaultPageSize = 20

// NewProvider creates a Provider.
func NewProvider(logger *zap.Logger, opts ...Option) *Provider {
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &Provider{logger: logger, pageSize: DefaultPageSize}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Resource describes what can be done with path.
func (p *Provider) Resource(sc *Scope, path string) (model.ResourceDescriptor, error) {
	key, err := sc.Paths.SchemaPath(path)
	if err != nil {
		return model.ResourceDescriptor{}, err
	}
	if key == "" {
		return model.ResourceDescriptor{}, model.NewNotFoundError(fmt.Sprintf("no resource matches %s", path))
	}

	desc := model.ResourceDescriptor{Path: path, SchemaPath: key}
	for k := range sc.Paths[key] {
		if schema.IsMethod(k) {
			desc.Methods = append(desc.Methods, strings.ToUpper(k))
		}
	}
	sort.Strings(desc.Methods)

	if desc.CreatePath, err = sc.Paths.CreatePath(path); err != nil {
		return model.ResourceDescriptor{}, err
	}
	filter, err := sc.Paths.FilterField(path)
	if err != nil {
		return model.ResourceDescriptor{}, err
	}
	if filter.Field != "" || len(filter.Choices) > 0 {
		desc.Filter = &model.FilterDescriptor{Field: filter.Field, Choices: filter.Choices}
	}
	return desc, nil
}

// Navigation lists the x-ui operations the session may read. Top-level
// collections become nodes; deeper collections are grouped under their
// first segment.
func (p *Provider) Navigation(sc *Scope) model.NavigationTree {
	tree := model.NavigationTree{Items: []model.NavigationNode{}}
	if sc.Index == nil {
		return tree
	}

	groups := map[string]*model.NavigationNode{}
	var order []string
	for _, e := range sc.Index.Navigation() {
		if e.Method != "GET" || strings.Contains(e.Path, "{") {
			continue
		}
		if _, ok := sc.Paths[e.Path]["get"]; !ok {
			continue
		}
		id := strings.TrimLeft(e.Path, "/")
		top, _, nested := strings.Cut(id, "/")
		node, ok := groups[top]
		if !ok {
			node = &model.NavigationNode{ID: top, Label: translate(sc.Env, "navigation."+top, top)}
			groups[top] = node
			order = append(order, top)
		}
		if !nested {
			node.Route = ListRoute + e.Path
			continue
		}
		node.Children = append(node.Children, model.NavigationNode{
			ID:    id,
			Label: translate(sc.Env, "navigation."+id, e.Label),
			Route: ListRoute + e.Path,
		})
	}
	for _, id := range order {
		tree.Items = append(tree.Items, *groups[id])
	}
	return tree
}

// Breadcrumb links every prefix of path to its list page.
func Breadcrumb(path string) []model.BreadcrumbDescriptor {
	var out []model.BreadcrumbDescriptor
	parts := strings.Split(strings.Trim(path, "/"), "/")
	for i, part := range parts {
		if part == "" {
			continue
		}
		out = append(out, model.BreadcrumbDescriptor{
			Label: part,
			Route: ListRoute + "/" + strings.Join(parts[:i+1], "/"),
		})
	}
	return out
}

// parentPath drops the last segment of path; a top-level path is its own
// parent.
func parentPath(path string) string {
	if i := strings.LastIndexByte(path, '/'); i > 0 {
		return path[:i]
	}
	return path
}

func translate(env *field.Env, key, fallback string) string {
	if env == nil || env.Translate == nil {
		return fallback
	}
	return env.Translate(key, fallback)
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
