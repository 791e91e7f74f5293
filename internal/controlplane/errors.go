package controlplane

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	json "github.com/goccy/go-json"
)

var (
	// ErrSessionExpired is a 401 confirmed by a second 401 from the
	// /openapi probe. The browser must log in again.
	ErrSessionExpired = errors.New("controlplane: session expired")
	// ErrBreakerOpen is returned without contacting the control plane.
	ErrBreakerOpen = errors.New("controlplane: circuit breaker is open")
	// ErrLoginRejected is a login answer without token or expiry.
	ErrLoginRejected = errors.New("controlplane: login response carried no token")
)

const unknownError = "unknown error"

// maxErrorBody caps how much of an error answer is kept.
const maxErrorBody = 64 * 1024

// StatusError is a non-2xx answer from the control plane.
type StatusError struct {
	Method string
	Path   string
	Status int
	// Detail is the server's detail or message field, if any.
	Detail string
	Body   []byte
}

func (e *StatusError) Error() string {
	msg := fmt.Sprintf("controlplane: %s %s: %d %s", e.Method, e.Path, e.Status, http.StatusText(e.Status))
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	return msg
}

// StatusCode returns the HTTP status of err, or 0 when err is not a StatusError.
func StatusCode(err error) int {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Status
	}
	return 0
}

// ErrorMessage returns the most useful text for showing err to a user:
// the server's detail, then its message, then "unknown error".
func ErrorMessage(err error) string {
	var se *StatusError
	if errors.As(err, &se) && se.Detail != "" {
		return se.Detail
	}
	return unknownError
}

// statusValidator turns a non-2xx answer into a *StatusError. It replaces
// the requests package's default status check.
func statusValidator(method, path string) func(*http.Response) error {
	return func(res *http.Response) error {
		if res.StatusCode >= 200 && res.StatusCode < 300 {
			return nil
		}
		body, _ := io.ReadAll(io.LimitReader(res.Body, maxErrorBody))
		return &StatusError{
			Method: method,
			Path:   path,
			Status: res.StatusCode,
			Detail: detailOf(body),
			Body:   body,
		}
	}
}

func detailOf(body []byte) string {
	var payload struct {
		Detail  string `json:"detail"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return ""
	}
	if payload.Detail != "" {
		return payload.Detail
	}
	return strings.TrimSpace(payload.Message)
}

// countsAsFailure reports whether err says something about upstream health.
func countsAsFailure(err error) bool {
	if err == nil || errors.Is(err, ErrBreakerOpen) {
		return false
	}
	if code := StatusCode(err); code != 0 {
		return code >= 500
	}
	return !isCanceled(err)
}
