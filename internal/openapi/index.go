// Package openapi indexes the control plane's OpenAPI document by path and
// method, exposes its x-ui navigation entries and validates request bodies
// against their declared schemas.
package openapi

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/getkin/kin-openapi/openapi3"
)

// NavigationExtension marks operations that appear in the console menu.
const NavigationExtension = "x-ui"

// IndexedOperation holds a resolved OpenAPI operation with its context.
type IndexedOperation struct {
	OperationID  string
	Method       string
	PathTemplate string
	Summary      string
	Tags         []string
	Navigation   any
	Parameters   []*openapi3.Parameter
	RequestBody  *openapi3.RequestBody
}

// NavigationEntry is an operation flagged with the x-ui extension.
type NavigationEntry struct {
	Path    string   `json:"path"`
	Method  string   `json:"method"`
	Label   string   `json:"label"`
	Tags    []string `json:"tags,omitempty"`
	Options any      `json:"options,omitempty"`
}

// ValidationError describes a schema validation error.
type ValidationError struct {
	Field   string
	Message string
}

// Index is an in-memory index of operations keyed by "METHOD path".
type Index struct {
	operations map[string]IndexedOperation
	validation error
}

func operationKey(method, path string) string {
	return strings.ToUpper(method) + " " + path
}

// Load parses an OpenAPI document and indexes all operations. Semantic
// validation problems do not fail the load; they are kept for
// ValidationErr because the console can still render a slightly
// non-conforming document.
func Load(ctx context.Context, data []byte) (*Index, error) {
	loader := openapi3.NewLoader()
	loader.IsExternalRefsAllowed = false

	doc, err := loader.LoadFromData(data)
	if err != nil {
		return nil, fmt.Errorf("openapi: loading document: %w", err)
	}

	idx := &Index{operations: make(map[string]IndexedOperation)}
	if err := doc.Validate(ctx); err != nil {
		idx.validation = fmt.Errorf("openapi: validating document: %w", err)
	}
	if doc.Paths == nil {
		return idx, nil
	}

	for path, pathItem := range doc.Paths.Map() {
		for method, op := range pathItem.Operations() {
			params := make([]*openapi3.Parameter, 0)
			for _, ref := range pathItem.Parameters {
				if ref.Value != nil {
					params = append(params, ref.Value)
				}
			}
			for _, ref := range op.Parameters {
				if ref.Value != nil {
					params = append(params, ref.Value)
				}
			}

			var reqBody *openapi3.RequestBody
			if op.RequestBody != nil && op.RequestBody.Value != nil {
				reqBody = op.RequestBody.Value
			}

			idx.operations[operationKey(method, path)] = IndexedOperation{
				OperationID:  op.OperationID,
				Method:       strings.ToUpper(method),
				PathTemplate: path,
				Summary:      op.Summary,
				Tags:         op.Tags,
				Navigation:   op.Extensions[NavigationExtension],
				Parameters:   params,
				RequestBody:  reqBody,
			}
		}
	}
	return idx, nil
}

// ValidationErr returns the semantic validation error found during Load.
func (idx *Index) ValidationErr() error {
	return idx.validation
}

// Len returns the number of indexed operations.
func (idx *Index) Len() int {
	return len(idx.operations)
}

// GetOperation returns the operation for method on the path template.
func (idx *Index) GetOperation(method, path string) (IndexedOperation, bool) {
	op, ok := idx.operations[operationKey(method, path)]
	return op, ok
}

// Navigation returns the x-ui flagged operations sorted by path and method.
func (idx *Index) Navigation() []NavigationEntry {
	var out []NavigationEntry
	for _, op := range idx.operations {
		if op.Navigation == nil {
			continue
		}
		label := op.Summary
		if label == "" {
			label = op.PathTemplate
		}
		out = append(out, NavigationEntry{
			Path:    op.PathTemplate,
			Method:  op.Method,
			Label:   label,
			Tags:    op.Tags,
			Options: op.Navigation,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Path != out[j].Path {
			return out[i].Path < out[j].Path
		}
		return out[i].Method < out[j].Method
	})
	return out
}

// ValidateRequest validates a JSON request body against the operation's
// application/json schema. It returns nil when the body is valid or the
// operation declares no schema.
func (idx *Index) ValidateRequest(method, path string, body map[string]any) []ValidationError {
	op, ok := idx.GetOperation(method, path)
	if !ok {
		return []ValidationError{{Message: fmt.Sprintf("operation %s %s not found", method, path)}}
	}
	if op.RequestBody == nil {
		return nil
	}

	ct := op.RequestBody.Content.Get("application/json")
	if ct == nil || ct.Schema == nil || ct.Schema.Value == nil {
		return nil
	}

	err := ct.Schema.Value.VisitJSON(body, openapi3.MultiErrors())
	if err == nil {
		return nil
	}

	var errs []ValidationError
	collect(err, &errs)
	return errs
}

func collect(err error, out *[]ValidationError) {
	switch e := err.(type) {
	case openapi3.MultiError:
		for _, inner := range e {
			collect(inner, out)
		}
	case *openapi3.SchemaError:
		*out = append(*out, ValidationError{
			Field:   strings.Join(e.JSONPointer(), "."),
			Message: e.Reason,
		})
	default:
		*out = append(*out, ValidationError{Message: err.Error()})
	}
}
