package transport

import (
	"errors"
	"net/http"

	"github.com/pitabwire/dbconsole/internal/observability"
	"github.com/pitabwire/dbconsole/internal/sqlbridge"
	"github.com/pitabwire/dbconsole/model"
)

// DatabaseAuthorizationHeader carries the database user's credentials,
// forwarded to the bridge as its Authorization header. The request's own
// Authorization header holds the console session.
const DatabaseAuthorizationHeader = "X-Database-Authorization"

// handleSQL relays one statement to the SQL bridge. A FAILURE answer is
// the bridge's verdict on the statement and is passed through with 200.
func (h *Handlers) handleSQL(w http.ResponseWriter, r *http.Request) {
	if h.sql == nil {
		h.fail(w, r, model.NewNotFoundError("the SQL bridge is not configured"))
		return
	}
	target := sqlTarget(r)
	var req sqlbridge.Request
	if err := decodeJSON(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	if !req.Operation.Valid() {
		h.fail(w, r, model.NewBadRequestError("unknown SQL operation "+string(req.Operation)))
		return
	}
	auth := r.Header.Get(DatabaseAuthorizationHeader)
	if auth == "" {
		h.fail(w, r, model.NewBadRequestError(DatabaseAuthorizationHeader+" is required"))
		return
	}

	ctx, span := observability.StartSpan(r.Context(), "sql.forward",
		observability.AttrSQLTarget.String(target.String()),
	)
	res, err := h.sql.Forward(ctx, target, auth, req)
	failed := errors.Is(err, sqlbridge.ErrFailure) && res != nil
	h.metrics.RecordSQL("http", string(req.Operation), err, failed)
	switch {
	case failed:
		span.End()
		WriteJSON(w, http.StatusOK, res)
		return
	case err != nil:
		observability.EndSpanWithError(span, err)
		switch status := sqlbridge.StatusCode(err); {
		case status == http.StatusUnauthorized || status == http.StatusForbidden:
			h.fail(w, r, model.NewForbiddenError("The database rejected the credentials"))
		case status == http.StatusNotFound:
			h.fail(w, r, model.NewNotFoundError("no database at "+target.String()))
		case errors.Is(err, sqlbridge.ErrInvalidTarget):
			h.fail(w, r, err)
		default:
			h.fail(w, r, model.NewBackendUnavailableError())
		}
		return
	}
	span.End()
	WriteJSON(w, http.StatusOK, res)
}
