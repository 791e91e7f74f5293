// Package sqlbridge talks to the SQL bridge that runs statements against a
// DBaaS database, either one POST per statement or over a multiplexed
// websocket session.
package sqlbridge

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

// Operation names a bridge operation.
type Operation string

// Bridge operations.
const (
	SetCredentials        Operation = "SET_CREDENTIALS"
	Execute               Operation = "EXECUTE"
	ExecuteQuery          Operation = "EXECUTE_QUERY"
	ExecuteBatch          Operation = "EXECUTE_BATCH"
	ExecuteUpdate         Operation = "EXECUTE_UPDATE"
	PreparedExecute       Operation = "PREPARED_EXECUTE"
	PreparedExecuteQuery  Operation = "PREPARED_EXECUTE_QUERY"
	PreparedExecuteUpdate Operation = "PREPARED_EXECUTE_UPDATE"
	SetSavepoint          Operation = "SET_SAVEPOINT"
	Rollback              Operation = "ROLLBACK"
	ReleaseSavepoint      Operation = "RELEASE_SAVEPOINT"
	Commit                Operation = "COMMIT"
)

var operations = map[Operation]bool{
	SetCredentials: true, Execute: true, ExecuteQuery: true, ExecuteBatch: true,
	ExecuteUpdate: true, PreparedExecute: true, PreparedExecuteQuery: true,
	PreparedExecuteUpdate: true, SetSavepoint: true, Rollback: true,
	ReleaseSavepoint: true, Commit: true,
}

// Valid reports whether o is a known operation.
func (o Operation) Valid() bool { return operations[o] }

// Response statuses.
const (
	StatusSuccess = "SUCCESS"
	StatusFailure = "FAILURE"
)

var (
	// ErrFailure wraps the error text of a FAILURE response.
	ErrFailure = errors.New("sqlbridge: statement failed")
	// ErrInvalidOperation is returned before sending an unknown operation.
	ErrInvalidOperation = errors.New("sqlbridge: invalid operation")
	// ErrInvalidTarget is returned for a target with an empty segment.
	ErrInvalidTarget = errors.New("sqlbridge: invalid target")
	// ErrClosed is returned by a closed session.
	ErrClosed = errors.New("sqlbridge: session closed")
)

// Request is one operation sent to the bridge.
type Request struct {
	RequestID string    `json:"requestId,omitempty"`
	Operation Operation `json:"operation"`
	Args      []any     `json:"args,omitempty"`
}

// Column describes one result column.
type Column struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// Row is one result row.
type Row struct {
	Values []any `json:"values"`
}

// Response is the bridge's answer to one request.
type Response struct {
	RequestID string   `json:"requestId"`
	Status    string   `json:"status"`
	Error     string   `json:"error,omitempty"`
	Columns   []Column `json:"columns,omitempty"`
	Rows      []Row    `json:"rows,omitempty"`
}

// Err returns ErrFailure with the bridge's message for a FAILURE response.
func (r *Response) Err() error {
	if r == nil || r.Status != StatusFailure {
		return nil
	}
	return fmt.Errorf("%w: %s", ErrFailure, r.Error)
}

// Target addresses one schema of one database.
type Target struct {
	Organization string
	Project      string
	Database     string
	Schema       string
}

// Validate rejects targets with an empty segment.
func (t Target) Validate() error {
	for _, s := range []string{t.Organization, t.Project, t.Database, t.Schema} {
		if strings.TrimSpace(s) == "" {
			return fmt.Errorf("%w: %s", ErrInvalidTarget, t)
		}
	}
	return nil
}

func (t Target) String() string {
	return t.Organization + "/" + t.Project + "/" + t.Database + "/" + t.Schema
}

// path joins prefix and the escaped target segments.
func (t Target) path(prefix string) string {
	return prefix + "/" + url.PathEscape(t.Organization) + "/" + url.PathEscape(t.Project) +
		"/" + url.PathEscape(t.Database) + "/" + url.PathEscape(t.Schema)
}

// Credentials are the database user's login.
type Credentials struct {
	Username string
	Password string
}

// StatusError is a non-2xx answer from the bridge.
type StatusError struct {
	Status int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("sqlbridge: bridge answered %d %s", e.Status, http.StatusText(e.Status))
}

// StatusCode returns the HTTP status of err, or 0 when the bridge did not
// answer.
func StatusCode(err error) int {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Status
	}
	return 0
}

func checkStatus(res *http.Response) error {
	if res.StatusCode >= 200 && res.StatusCode < 300 {
		return nil
	}
	return &StatusError{Status: res.StatusCode}
}
