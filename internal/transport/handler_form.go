package transport

import (
	"fmt"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/pitabwire/dbconsole/internal/field"
	"github.com/pitabwire/dbconsole/internal/metadata"
	"github.com/pitabwire/dbconsole/internal/observability"
	"github.com/pitabwire/dbconsole/model"
)

// formMode reads ?mode, defaulting to edit.
func formMode(r *http.Request) (string, error) {
	switch mode := r.URL.Query().Get("mode"); mode {
	case "":
		return model.FormEdit, nil
	case model.FormCreate, model.FormEdit, model.FormView:
		return mode, nil
	default:
		return "", model.NewBadRequestError(fmt.Sprintf("unknown form mode %q", mode))
	}
}

func (h *Handlers) handleForm(w http.ResponseWriter, r *http.Request) {
	mode, err := formMode(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.renderForm(w, r, mode)
}

// handleView renders the read-only form of a resource.
func (h *Handlers) handleView(w http.ResponseWriter, r *http.Request) {
	h.renderForm(w, r, model.FormView)
}

func (h *Handlers) renderForm(w http.ResponseWriter, r *http.Request, mode string) {
	path, err := resourcePath(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	sc, err := h.scope(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	desc, err := h.provider.Form(r.Context(), sc, path, mode)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, desc)
}

type inputRequest struct {
	State *field.State `json:"state"`
	Input field.Input  `json:"input"`
}

// handleFormAction serves POST /ui/forms/{path}/{validate|submit|input}.
func (h *Handlers) handleFormAction(w http.ResponseWriter, r *http.Request) {
	full, err := resourcePath(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	i := strings.LastIndexByte(full, '/')
	path, action := full[:i], full[i+1:]
	if path == "" {
		h.fail(w, r, model.NewNotFoundError(fmt.Sprintf("no form action at %s", full)))
		return
	}
	mode, err := formMode(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	switch action {
	case "validate", "submit":
		var values map[string]any
		if err := decodeJSON(r, &values); err != nil {
			h.fail(w, r, err)
			return
		}
		sc, err := h.scope(r)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		if action == "validate" {
			res, err := h.provider.Validate(sc, path, mode, values)
			if err != nil {
				h.fail(w, r, err)
				return
			}
			WriteJSON(w, http.StatusOK, res)
			return
		}

		observability.RequestLogger(r.Context(), h.logger).Debug("form submitted",
			zap.String("path", path),
			zap.String("mode", mode),
			zap.Any("values", observability.Redact(values)),
		)
		ctx, span := observability.StartSpan(r.Context(), "form.submit",
			observability.AttrResourcePath.String(path),
			observability.AttrFormMode.String(mode),
		)
		res, err := h.provider.Submit(ctx, sc, path, mode, values)
		observability.EndSpanWithError(span, err)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		res.Reload = !h.monitored(res.Path, strings.TrimPrefix(res.ListRoute, metadata.ListRoute))
		status := http.StatusOK
		if mode == model.FormCreate {
			status = http.StatusCreated
		}
		WriteJSON(w, status, res)

	case "input":
		var req inputRequest
		if err := decodeJSON(r, &req); err != nil {
			h.fail(w, r, err)
			return
		}
		if req.Input.Prefix == "" {
			h.fail(w, r, model.NewBadRequestError("input.prefix is required"))
			return
		}
		if req.Input.Op == "" {
			req.Input.Op = field.OpChange
		}
		sc, err := h.scope(r)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		desc, err := h.provider.Input(sc, path, mode, req.State, req.Input)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		WriteJSON(w, http.StatusOK, desc)

	default:
		h.fail(w, r, model.NewNotFoundError(fmt.Sprintf("unknown form action %q", action)))
	}
}

// handlePassword changes a database's DBA password through its
// dbaPassword sub-resource.
func (h *Handlers) handlePassword(w http.ResponseWriter, r *http.Request) {
	path, err := resourcePath(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var change field.PasswordChange
	if err := decodeJSON(r, &change); err != nil {
		h.fail(w, r, err)
		return
	}
	sc, err := h.scope(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	ctx, span := observability.StartSpan(r.Context(), "password.change",
		observability.AttrResourcePath.String(path),
	)
	err = h.provider.ChangePassword(ctx, sc, path, change)
	observability.EndSpanWithError(span, err)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
