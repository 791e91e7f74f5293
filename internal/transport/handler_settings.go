package transport

import (
	"net/http"
)

// handleGetSettings returns the user's effective customizations.
func (h *Handlers) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	rctx, err := session(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	eff, err := h.settings.Effective(r.Context(), rctx.Subject)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, eff.Data)
}

// handlePutSettings merges the body into the user's layer.
func (h *Handlers) handlePutSettings(w http.ResponseWriter, r *http.Request) {
	rctx, err := session(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var patch map[string]any
	if err := decodeJSON(r, &patch); err != nil {
		h.fail(w, r, err)
		return
	}
	eff, err := h.settings.Update(r.Context(), rctx.Subject, patch)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, eff.Data)
}
