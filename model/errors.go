package model

import (
	"fmt"
	"net/http"
	"net/url"
)

// Error codes of the console API.
const (
	ErrBadRequest         = "BAD_REQUEST"
	ErrUnauthorized       = "UNAUTHORIZED"
	ErrForbidden          = "FORBIDDEN"
	ErrNotFound           = "NOT_FOUND"
	ErrConflict           = "CONFLICT"
	ErrValidationError    = "VALIDATION_ERROR"
	ErrRateLimited        = "RATE_LIMITED"
	ErrInternalError      = "INTERNAL_ERROR"
	ErrBackendUnavailable = "BACKEND_UNAVAILABLE"
	ErrBackendTimeout     = "BACKEND_TIMEOUT"
)

var codeStatus = map[string]int{
	ErrBadRequest:         http.StatusBadRequest,
	ErrUnauthorized:       http.StatusUnauthorized,
	ErrForbidden:          http.StatusForbidden,
	ErrNotFound:           http.StatusNotFound,
	ErrConflict:           http.StatusConflict,
	ErrValidationError:    http.StatusUnprocessableEntity,
	ErrRateLimited:        http.StatusTooManyRequests,
	ErrInternalError:      http.StatusInternalServerError,
	ErrBackendUnavailable: http.StatusBadGateway,
	ErrBackendTimeout:     http.StatusGatewayTimeout,
}

// LoginRoute is where the browser signs in again.
const LoginRoute = "/ui/login"

// redirectField names the detail that carries the login redirect.
const redirectField = "redirect"

// ErrorEnvelope is the error body of every failed console call.
type ErrorEnvelope struct {
	Code    string       `json:"code"`
	Message string       `json:"message"`
	Details []FieldError `json:"details,omitempty"`
	TraceID string       `json:"trace_id"`
}

func (e *ErrorEnvelope) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Status returns the HTTP status for e.Code; unknown codes are 500.
func (e *ErrorEnvelope) Status() int {
	if s, ok := codeStatus[e.Code]; ok {
		return s
	}
	return http.StatusInternalServerError
}

// Redirect returns the login URL of a session-expired error, "" for any
// other error.
func (e *ErrorEnvelope) Redirect() string {
	for _, d := range e.Details {
		if d.Field == redirectField {
			return d.Message
		}
	}
	return ""
}

// WithTrace returns a copy of e stamped with traceID. Details are shared.
func (e *ErrorEnvelope) WithTrace(traceID string) *ErrorEnvelope {
	c := *e
	c.TraceID = traceID
	return &c
}

// FieldError is one problem with a form value. Field is the dotted value
// prefix of the form field.
type FieldError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func newError(code, msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: code, Message: msg}
}

func NewBadRequestError(msg string) *ErrorEnvelope   { return newError(ErrBadRequest, msg) }
func NewUnauthorizedError(msg string) *ErrorEnvelope { return newError(ErrUnauthorized, msg) }
func NewForbiddenError(msg string) *ErrorEnvelope    { return newError(ErrForbidden, msg) }
func NewNotFoundError(msg string) *ErrorEnvelope     { return newError(ErrNotFound, msg) }
func NewConflictError(msg string) *ErrorEnvelope     { return newError(ErrConflict, msg) }

// NewSessionExpiredError sends the browser to the login page, which
// returns it to originalPath afterwards.
func NewSessionExpiredError(originalPath string) *ErrorEnvelope {
	e := newError(ErrUnauthorized, "The session has expired")
	e.Details = []FieldError{{
		Field:   redirectField,
		Code:    "LOGIN",
		Message: LoginRoute + "?redirect=" + url.QueryEscape(originalPath),
	}}
	return e
}

// NewValidationError reports the invalid values of a submitted form.
func NewValidationError(details []FieldError) *ErrorEnvelope {
	e := newError(ErrValidationError, "One or more fields are invalid")
	e.Details = details
	return e
}

func NewInternalError() *ErrorEnvelope {
	return newError(ErrInternalError, "An unexpected error occurred")
}

func NewBackendUnavailableError() *ErrorEnvelope {
	return newError(ErrBackendUnavailable, "The control plane is temporarily unavailable")
}

func NewBackendTimeoutError() *ErrorEnvelope {
	return newError(ErrBackendTimeout, "The control plane did not respond in time")
}

func NewRateLimitedError() *ErrorEnvelope {
	return newError(ErrRateLimited, "The control plane is rate limiting this session, try again later")
}
