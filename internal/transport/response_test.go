package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/pitabwire/dbconsole/internal/controlplane"
	"github.com/pitabwire/dbconsole/internal/customization"
	"github.com/pitabwire/dbconsole/internal/schema"
	"github.com/pitabwire/dbconsole/internal/sqlbridge"
	"github.com/pitabwire/dbconsole/model"
)

func TestWriteJSON(t *testing.T) {
	w := httptest.NewRecorder()
	WriteJSON(w, http.StatusOK, map[string]string{"hello": "world"})

	if w.Code != 200 {
		t.Errorf("status = %d, want 200", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json; charset=utf-8" {
		t.Errorf("Content-Type = %q", ct)
	}
	if xct := w.Header().Get("X-Content-Type-Options"); xct != "nosniff" {
		t.Errorf("X-Content-Type-Options = %q", xct)
	}

	var body map[string]string
	json.NewDecoder(w.Body).Decode(&body)
	if body["hello"] != "world" {
		t.Errorf("body = %v", body)
	}
}

func TestWriteError_envelope(t *testing.T) {
	w := httptest.NewRecorder()
	WriteError(w, model.NewNotFoundError("no database db9"))

	if w.Code != 404 {
		t.Errorf("status = %d, want 404", w.Code)
	}

	var resp struct {
		Error model.ErrorEnvelope `json:"error"`
	}
	json.NewDecoder(w.Body).Decode(&resp)
	if resp.Error.Code != "NOT_FOUND" {
		t.Errorf("code = %q, want NOT_FOUND", resp.Error.Code)
	}
	if resp.Error.Message != "no database db9" {
		t.Errorf("message = %q", resp.Error.Message)
	}
}

func TestWriteError_nonEnvelope(t *testing.T) {
	w := httptest.NewRecorder()
	WriteError(w, fmt.Errorf("something went wrong"))

	if w.Code != 500 {
		t.Errorf("status = %d, want 500 for non-envelope error", w.Code)
	}
}

func TestWriteError_statusPerCode(t *testing.T) {
	codes := []struct {
		code   string
		status int
	}{
		{model.ErrBadRequest, 400},
		{model.ErrUnauthorized, 401},
		{model.ErrForbidden, 403},
		{model.ErrNotFound, 404},
		{model.ErrConflict, 409},
		{model.ErrValidationError, 422},
		{model.ErrRateLimited, 429},
		{model.ErrInternalError, 500},
		{model.ErrBackendUnavailable, 502},
		{model.ErrBackendTimeout, 504},
		{"SOMETHING_NEW", 500},
	}
	for _, tc := range codes {
		t.Run(tc.code, func(t *testing.T) {
			w := httptest.NewRecorder()
			WriteError(w, &model.ErrorEnvelope{Code: tc.code, Message: "test"})
			if w.Code != tc.status {
				t.Errorf("status for %s = %d, want %d", tc.code, w.Code, tc.status)
			}
		})
	}
}

func statusErr(status int, detail string) error {
	return fmt.Errorf("wrapped: %w", &controlplane.StatusError{Method: "GET", Path: "/databases", Status: status, Detail: detail})
}

func TestEnvelope(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		code    string
		message string
	}{
		{"envelope passes through", model.NewConflictError("busy"), model.ErrConflict, "busy"},
		{"session expired", errors.Join(controlplane.ErrSessionExpired, statusErr(401, "")), model.ErrUnauthorized, "The session has expired"},
		{"login rejected", controlplane.ErrLoginRejected, model.ErrUnauthorized, ""},
		{"duplicate match", fmt.Errorf("x: %w", schema.ErrDuplicateMatch), model.ErrInternalError, ""},
		{"unknown theme", fmt.Errorf("%w: %q", customization.ErrUnknownTheme, "neon"), model.ErrBadRequest, ""},
		{"invalid sql target", sqlbridge.ErrInvalidTarget, model.ErrBadRequest, ""},
		{"deadline", fmt.Errorf("call: %w", context.DeadlineExceeded), model.ErrBackendTimeout, ""},
		{"breaker open", controlplane.ErrBreakerOpen, model.ErrBackendUnavailable, ""},
		{"connection refused", errors.New("dial tcp: connection refused"), model.ErrBackendUnavailable, ""},
		{"401 unconfirmed", statusErr(401, ""), model.ErrUnauthorized, "The session has expired"},
		{"403", statusErr(403, "not allowed"), model.ErrForbidden, "not allowed"},
		{"404", statusErr(404, ""), model.ErrNotFound, "unknown error"},
		{"409", statusErr(409, "version mismatch"), model.ErrConflict, "version mismatch"},
		{"400", statusErr(400, "bad tier"), model.ErrBadRequest, "bad tier"},
		{"422", statusErr(422, "bad tier"), model.ErrBadRequest, "bad tier"},
		{"429", statusErr(429, ""), model.ErrRateLimited, ""},
		{"504", statusErr(504, ""), model.ErrBackendTimeout, ""},
		{"503", statusErr(503, ""), model.ErrBackendUnavailable, ""},
		{"canceled", context.Canceled, model.ErrInternalError, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ee := Envelope(tt.err, "/ui/navigation")
			if ee.Code != tt.code {
				t.Errorf("code = %q, want %q", ee.Code, tt.code)
			}
			if tt.message != "" && ee.Message != tt.message {
				t.Errorf("message = %q, want %q", ee.Message, tt.message)
			}
		})
	}
}

func TestEnvelope_sessionExpiredRedirect(t *testing.T) {
	ee := Envelope(controlplane.ErrSessionExpired, "/ui/pages/databases/acme?page=2")
	want := "/ui/login?redirect=%2Fui%2Fpages%2Fdatabases%2Facme%3Fpage%3D2"
	if got := ee.Redirect(); got != want {
		t.Errorf("redirect = %q, want %q", got, want)
	}
}
