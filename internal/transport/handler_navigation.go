package transport

import (
	"fmt"
	"net/http"
	pathpkg "path"
	"strconv"

	"go.uber.org/zap"

	"github.com/pitabwire/dbconsole/internal/observability"
	"github.com/pitabwire/dbconsole/model"
)

func (h *Handlers) handleNavigation(w http.ResponseWriter, r *http.Request) {
	sc, err := h.scope(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, h.provider.Navigation(sc))
}

func (h *Handlers) handleResource(w http.ResponseWriter, r *http.Request) {
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
	desc, err := h.provider.Resource(sc, path)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, desc)
}

// handleDelete deletes a resource the session may delete.
func (h *Handlers) handleDelete(w http.ResponseWriter, r *http.Request) {
	path, err := resourcePath(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	rctx, err := session(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	_, paths, err := h.paths(r.Context(), rctx)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	key, err := paths.SchemaPath(path)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if _, ok := paths[key]["delete"]; key == "" || !ok {
		h.fail(w, r, model.NewForbiddenError(fmt.Sprintf("%s cannot be deleted", path)))
		return
	}

	ctx, span := observability.StartSpan(r.Context(), "resource.delete",
		observability.AttrResourcePath.String(path),
	)
	err = h.cp.Session(rctx.Token).Delete(ctx, path)
	observability.EndSpanWithError(span, err)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	observability.RequestLogger(r.Context(), h.logger).Info("resource deleted", zap.String("path", path))
	w.Header().Set(ReloadHeader, strconv.FormatBool(!h.monitored(path, pathpkg.Dir(path))))
	w.WriteHeader(http.StatusNoContent)
}
