package transport

import (
	"net/http"
	"strconv"

	"github.com/pitabwire/dbconsole/internal/metadata"
	"github.com/pitabwire/dbconsole/internal/observability"
	"github.com/pitabwire/dbconsole/model"
)

func (h *Handlers) handlePage(w http.ResponseWriter, r *http.Request) {
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
	q := r.URL.Query()
	desc, err := h.provider.Page(r.Context(), sc, path, metadata.ListQuery{
		Page:  queryInt(r, "page", 1),
		Name:  q.Get("name"),
		Label: q.Get("label"),
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, desc)
}

// handleAction runs a row menu patch action.
func (h *Handlers) handleAction(w http.ResponseWriter, r *http.Request) {
	path, err := resourcePath(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	label := r.URL.Query().Get("label")
	if label == "" {
		h.fail(w, r, model.NewBadRequestError("label is required"))
		return
	}
	sc, err := h.scope(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	ctx, span := observability.StartSpan(r.Context(), "menu.action",
		observability.AttrResourcePath.String(path),
		observability.AttrMenuLabel.String(label),
	)
	res, err := h.provider.Action(ctx, sc, path, label, r.URL.Query().Get("ref"))
	observability.EndSpanWithError(span, err)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	res.Reload = !h.monitored(path, res.Path)
	WriteJSON(w, http.StatusOK, res)
}

// queryInt extracts an integer query param with a default.
func queryInt(r *http.Request, key string, def int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return def
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return v
}
