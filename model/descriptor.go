package model

import "github.com/pitabwire/dbconsole/internal/field"

// NavigationTree is the top-level navigation structure returned to the frontend.
type NavigationTree struct {
	Items []NavigationNode `json:"items"`
}

// NavigationNode is a single node in the navigation tree.
type NavigationNode struct {
	ID       string           `json:"id"`
	Label    string           `json:"label"`
	Route    string           `json:"route,omitempty"`
	Children []NavigationNode `json:"children,omitempty"`
}

// ResourceDescriptor tells the frontend what it can do with one concrete
// control-plane path.
type ResourceDescriptor struct {
	Path       string            `json:"path"`
	SchemaPath string            `json:"schema_path"`
	Methods    []string          `json:"methods"`
	CreatePath string            `json:"create_path,omitempty"`
	Filter     *FilterDescriptor `json:"filter,omitempty"`
}

// FilterDescriptor describes how a list can be narrowed. Values are the
// distinct filter values found in the listing.
type FilterDescriptor struct {
	Field   string   `json:"field,omitempty"`
	Choices []string `json:"choices,omitempty"`
	Values  []string `json:"values,omitempty"`
}

// BreadcrumbDescriptor is a single breadcrumb entry.
type BreadcrumbDescriptor struct {
	Label string `json:"label"`
	Route string `json:"route,omitempty"`
}

// PageDescriptor is a resolved list page.
type PageDescriptor struct {
	Path        string                 `json:"path"`
	Title       string                 `json:"title"`
	Breadcrumb  []BreadcrumbDescriptor `json:"breadcrumb,omitempty"`
	Columns     []ColumnDescriptor     `json:"columns"`
	Rows        []RowDescriptor        `json:"rows"`
	CreateRoute string                 `json:"create_route,omitempty"`
	Filter      *FilterDescriptor      `json:"filter,omitempty"`
	Page        int                    `json:"page"`
	PageSize    int                    `json:"page_size"`
	Total       int                    `json:"total"`
	// EventsRoute is the SSE relay the page subscribes to for live rows.
	EventsRoute string `json:"events_route,omitempty"`
}

// ColumnDescriptor describes a visible table column.
type ColumnDescriptor struct {
	Field string `json:"field"`
	Label string `json:"label"`
}

// RowDescriptor is one rendered table row.
type RowDescriptor struct {
	Ref       string                       `json:"ref,omitempty"`
	EditRoute string                       `json:"edit_route,omitempty"`
	Deletable bool                         `json:"deletable,omitempty"`
	Cells     map[string]*field.Descriptor `json:"cells"`
	Menu      []MenuEntryDescriptor        `json:"menu,omitempty"`
	// Buttons are the inline buttons of a cell, keyed by column.
	Buttons map[string][]MenuEntryDescriptor `json:"buttons,omitempty"`
}

// MenuEntryDescriptor is a context-menu entry visible for a row.
type MenuEntryDescriptor struct {
	Label   string `json:"label"`
	Icon    string `json:"icon,omitempty"`
	Action  string `json:"action"`
	Confirm string `json:"confirm,omitempty"`
	// Route is the resolved target of a link entry.
	Route string `json:"route,omitempty"`
	// Endpoint executes a patch entry.
	Endpoint string `json:"endpoint,omitempty"`
	Dialog   string `json:"dialog,omitempty"`
}

// Form modes.
const (
	FormCreate = "create"
	FormEdit   = "edit"
	FormView   = "view"
)

// FormDescriptor is a resolved resource form.
type FormDescriptor struct {
	Path             string              `json:"path"`
	SchemaPath       string              `json:"schema_path"`
	Mode             string              `json:"mode"`
	Title            string              `json:"title"`
	SubmitEndpoint   string              `json:"submit_endpoint,omitempty"`
	ValidateEndpoint string              `json:"validate_endpoint,omitempty"`
	Query            []*field.Descriptor `json:"query,omitempty"`
	Sections         []SectionDescriptor `json:"sections"`
	State            *field.State        `json:"state"`
	Focus            string              `json:"focus,omitempty"`
	// ListRoute is where the browser goes after a submit or close.
	ListRoute string `json:"list_route"`
}

// SectionDescriptor groups form fields. The untitled section is never
// collapsible.
type SectionDescriptor struct {
	Title       string              `json:"title,omitempty"`
	Collapsible bool                `json:"collapsible,omitempty"`
	Fields      []*field.Descriptor `json:"fields"`
}

// ValidationResult is the outcome of validating posted form values.
type ValidationResult struct {
	Valid  bool         `json:"valid"`
	Errors field.Errors `json:"errors"`
	State  *field.State `json:"state"`
}

// SubmitResult is returned after a form was accepted by the control plane.
// Reload is set when no live event stream watches the resource or its
// list, so the browser must read them again to see the change.
type SubmitResult struct {
	Path      string         `json:"path"`
	ListRoute string         `json:"list_route"`
	Resource  map[string]any `json:"resource,omitempty"`
	Reload    bool           `json:"reload"`
}

// ActionResult is returned after a context-menu action ran.
type ActionResult struct {
	Path     string         `json:"path"`
	Resource map[string]any `json:"resource,omitempty"`
	Reload   bool           `json:"reload"`
}
