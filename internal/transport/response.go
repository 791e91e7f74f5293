// Package transport contains the HTTP router, middleware chain, and all
// request handlers of the console API.
package transport

import (
	"context"
	"errors"
	"net/http"

	json "github.com/goccy/go-json"

	"github.com/pitabwire/dbconsole/internal/controlplane"
	"github.com/pitabwire/dbconsole/internal/customization"
	"github.com/pitabwire/dbconsole/internal/schema"
	"github.com/pitabwire/dbconsole/internal/sqlbridge"
	"github.com/pitabwire/dbconsole/model"
)

// WriteJSON writes a JSON response with the given status code.
func WriteJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	if body != nil {
		json.NewEncoder(w).Encode(body)
	}
}

// WriteError writes err as an ErrorEnvelope with the matching HTTP status.
// Errors that are not envelopes are translated with Envelope.
func WriteError(w http.ResponseWriter, err error) {
	ee := Envelope(err, "")
	type errorResponse struct {
		Error *model.ErrorEnvelope `json:"error"`
	}
	WriteJSON(w, ee.Status(), errorResponse{Error: ee})
}

// Envelope translates an error from the console's packages into the
// envelope the browser sees. originalPath is where an expired session
// returns to after signing in again.
func Envelope(err error, originalPath string) *model.ErrorEnvelope {
	var ee *model.ErrorEnvelope
	if errors.As(err, &ee) {
		return ee
	}

	switch {
	case errors.Is(err, controlplane.ErrSessionExpired):
		return model.NewSessionExpiredError(originalPath)
	case errors.Is(err, controlplane.ErrLoginRejected):
		return model.NewUnauthorizedError("The control plane rejected the login")
	case errors.Is(err, schema.ErrDuplicateMatch):
		return model.NewInternalError()
	case errors.Is(err, customization.ErrUnknownTheme):
		return model.NewBadRequestError(err.Error())
	case errors.Is(err, sqlbridge.ErrInvalidTarget):
		return model.NewBadRequestError(err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return model.NewBackendTimeoutError()
	case controlplane.IsUnavailable(err):
		return model.NewBackendUnavailableError()
	}

	switch status := controlplane.StatusCode(err); {
	case status == http.StatusUnauthorized:
		return model.NewSessionExpiredError(originalPath)
	case status == http.StatusForbidden:
		return model.NewForbiddenError(controlplane.ErrorMessage(err))
	case status == http.StatusNotFound:
		return model.NewNotFoundError(controlplane.ErrorMessage(err))
	case status == http.StatusConflict:
		return model.NewConflictError(controlplane.ErrorMessage(err))
	case status == http.StatusBadRequest || status == http.StatusUnprocessableEntity:
		return model.NewBadRequestError(controlplane.ErrorMessage(err))
	case status == http.StatusTooManyRequests:
		return model.NewRateLimitedError()
	case status == http.StatusGatewayTimeout:
		return model.NewBackendTimeoutError()
	case status >= 500:
		return model.NewBackendUnavailableError()
	}
	return model.NewInternalError()
}
