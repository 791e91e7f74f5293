package metadata

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/pitabwire/dbconsole/internal/field"
	"github.com/pitabwire/dbconsole/internal/openapi"
	"github.com/pitabwire/dbconsole/internal/schema"
	"github.com/pitabwire/dbconsole/model"
)

// ErrIncompletePath is returned when a submit leaves a path placeholder
// without a value.
var ErrIncompletePath = errors.New("metadata: path placeholder without value")

// BuildSubmit turns form values into the PUT request of a form. The last
// placeholder of path is the resource name and is renamed to {name};
// query parameters declared by urlParams are appended; values fill the
// placeholders; values that are not form parameters are dropped and empty
// values pruned. A query parameter without a value is left out.
func BuildSubmit(urlParams, formParams map[string]any, path string, values map[string]any) (string, map[string]any, error) {
	start, end := strings.LastIndexByte(path, '{'), strings.LastIndexByte(path, '}')
	if start >= 0 && end > start {
		path = path[:start+1] + "name" + path[end:]
	}

	var query []string
	for _, k := range sortedKeys(urlParams) {
		param, _ := urlParams[k].(map[string]any)
		if param["in"] != "query" {
			continue
		}
		if v, ok := values[k]; ok && v != nil && v != "" {
			query = append(query, url.QueryEscape(k)+"="+url.QueryEscape(field.Stringify(v)))
		}
	}

	body := make(map[string]any, len(values))
	for _, k := range sortedKeys(values) {
		path = strings.ReplaceAll(path, "{"+k+"}", url.PathEscape(field.Stringify(values[k])))
		if _, ok := formParams[k]; ok {
			body[k] = values[k]
		}
	}
	if i := strings.IndexByte(path, '{'); i >= 0 {
		return "", nil, fmt.Errorf("%w: %s", ErrIncompletePath, path)
	}
	if len(query) > 0 {
		path += "?" + strings.Join(query, "&")
	}
	return path, schema.PruneEmpty(body), nil
}

// Submit validates values and PUTs them to the form's target.
func (p *Provider) Submit(ctx context.Context, sc *Scope, path, mode string, values map[string]any) (model.SubmitResult, error) {
	if mode == model.FormView {
		return model.SubmitResult{}, model.NewBadRequestError("a view form cannot be submitted")
	}
	spec, err := p.formSpec(sc, path, mode)
	if err != nil {
		return model.SubmitResult{}, err
	}
	st := field.NewState(values)
	if !field.ValidateAll(p.fields(sc, spec, st, mode)...) {
		return model.SubmitResult{}, model.NewValidationError(validationDetails(st.Errors))
	}

	target, body, err := BuildSubmit(spec.urlParams, spec.params, spec.createPath, st.Values)
	if err != nil {
		return model.SubmitResult{}, model.NewBadRequestError(err.Error())
	}
	if details := checkBody(sc.Index, spec.schemaPath, body); len(details) > 0 {
		return model.SubmitResult{}, model.NewValidationError(details)
	}
	var out map[string]any
	if err := sc.Backend.Put(ctx, target, body, &out); err != nil {
		return model.SubmitResult{}, err
	}
	resourcePath, _, _ := strings.Cut(target, "?")
	p.logger.Info("resource submitted", zap.String("path", resourcePath), zap.String("mode", mode))

	res := model.SubmitResult{Path: resourcePath, Resource: out}
	if mode == model.FormCreate {
		res.ListRoute = ListRoute + path
	} else {
		res.ListRoute = ListRoute + parentPath(path)
	}
	return res, nil
}

// checkBody validates body against the PUT request schema of the
// document. Field checks only cover what the form renders; this catches
// the constraints they do not know about, such as bounds and formats.
func checkBody(idx *openapi.Index, schemaPath string, body map[string]any) []model.FieldError {
	if idx == nil {
		return nil
	}
	if _, ok := idx.GetOperation(http.MethodPut, schemaPath); !ok {
		return nil
	}
	var out []model.FieldError
	for _, e := range idx.ValidateRequest(http.MethodPut, schemaPath, body) {
		out = append(out, model.FieldError{Field: e.Field, Code: "SCHEMA", Message: e.Message})
	}
	return out
}

// PasswordSuffix is the sub-resource that changes a database's DBA
// password.
const PasswordSuffix = "/dbaPassword"

// ChangePassword validates change and POSTs it to path, which must be a
// password sub-resource the session may write.
func (p *Provider) ChangePassword(ctx context.Context, sc *Scope, path string, change field.PasswordChange) error {
	if !strings.HasSuffix(path, PasswordSuffix) {
		return model.NewNotFoundError(fmt.Sprintf("%s is not a password resource", path))
	}
	key, err := sc.Paths.SchemaPath(path)
	if err != nil {
		return err
	}
	if _, ok := sc.Paths[key]["post"]; key == "" || !ok {
		return model.NewNotFoundError(fmt.Sprintf("%s cannot be changed", path))
	}
	if errs := change.Validate(sc.Env); len(errs) > 0 {
		return model.NewValidationError(validationDetails(errs))
	}
	if err := sc.Backend.Post(ctx, path, change.Body(), nil); err != nil {
		return err
	}
	p.logger.Info("database password changed", zap.String("path", strings.TrimSuffix(path, PasswordSuffix)))
	return nil
}
