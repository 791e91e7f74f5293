package metadata

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/pitabwire/dbconsole/internal/customization"
	"github.com/pitabwire/dbconsole/model"
)

var (
	// ErrNotPatch is returned for a menu entry that does not patch.
	ErrNotPatch = errors.New("metadata: menu entry is not a patch action")
	// ErrHidden is returned when the entry's visibility formula rejects
	// the row.
	ErrHidden = errors.New("metadata: menu entry is not visible for row")
)

// BuildMenuPatch converts a patch menu entry into the JSON Patch request
// for row. The target is the row's resource under the list path, or the
// list path itself for rows without $ref.
func BuildMenuPatch(path string, row map[string]any, entry customization.MenuEntry) (string, []customization.PatchOp, error) {
	if entry.Action() != customization.ActionPatch {
		return "", nil, ErrNotPatch
	}
	if !entry.IsVisible(row) {
		return "", nil, ErrHidden
	}
	ops, err := entry.PatchOps()
	if err != nil {
		return "", nil, err
	}
	target := path
	if ref, _ := row[RefColumn].(string); ref != "" {
		target = path + "/" + ref
	}
	return target, ops, nil
}

// validRef rejects refs that would leave the list's subtree.
func validRef(ref string) bool {
	if strings.ContainsAny(ref, "?#") {
		return false
	}
	for _, seg := range strings.Split(ref, "/") {
		if seg == "" || seg == "." || seg == ".." {
			return false
		}
	}
	return true
}

// Action runs the patch entry labelled label of path's view on the row
// ref. The row is read from the control plane so the visibility formula
// sees the current resource.
func (p *Provider) Action(ctx context.Context, sc *Scope, path, label, ref string) (model.ActionResult, error) {
	view, ok := sc.Custom.View(path)
	if !ok {
		return model.ActionResult{}, model.NewNotFoundError(fmt.Sprintf("no view for %s", path))
	}
	entry, ok := view.Entry(label)
	if !ok {
		return model.ActionResult{}, model.NewNotFoundError(fmt.Sprintf("no menu entry %q for %s", label, path))
	}

	rowPath := path
	if ref != "" {
		if !validRef(ref) {
			return model.ActionResult{}, model.NewBadRequestError(fmt.Sprintf("invalid ref %q", ref))
		}
		rowPath = path + "/" + ref
	}
	var row map[string]any
	if err := sc.Backend.Get(ctx, rowPath, &row); err != nil {
		return model.ActionResult{}, err
	}
	if row == nil {
		row = map[string]any{}
	}
	if ref != "" {
		row[RefColumn] = ref
	}

	target, ops, err := BuildMenuPatch(path, row, entry)
	switch {
	case errors.Is(err, ErrHidden):
		return model.ActionResult{}, model.NewConflictError(fmt.Sprintf("%q is not available for %s", label, rowPath))
	case err != nil:
		return model.ActionResult{}, model.NewBadRequestError(err.Error())
	}

	var out map[string]any
	if err := sc.Backend.Patch(ctx, target, ops, &out); err != nil {
		return model.ActionResult{}, err
	}
	p.logger.Info("menu action applied",
		zap.String("path", target),
		zap.String("label", label),
		zap.Int("operations", len(ops)),
	)
	return model.ActionResult{Path: target, Resource: out}, nil
}
