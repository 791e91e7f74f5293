package field

import (
	"strings"
	"time"

	"github.com/pitabwire/dbconsole/internal/schema"
)

// Translator returns the localized text for key, or fallback.
type Translator func(key, fallback string) string

// RoleVariables resolves the path variables a role template requires.
// The bool is false when the role is unknown.
type RoleVariables interface {
	RoleVariables(role string) ([]string, bool)
}

// Env carries the rendering context shared by all fields of a request.
type Env struct {
	// Production suppresses diagnostic message fields.
	Production bool
	Translate  Translator
	Roles      RoleVariables
	// CrontabPaths are resource path prefixes whose "frequency" field is
	// a cron schedule.
	CrontabPaths []string
	// PasswordChangePaths are path templates whose "dbaPassword" field is
	// changed through a dedicated sub-resource.
	PasswordChangePaths []string
	Location            *time.Location
	DateLayout          string
}

// DefaultEnv returns the context used when none is configured.
func DefaultEnv() *Env {
	return &Env{
		CrontabPaths:        []string{"/backuppolicies/"},
		PasswordChangePaths: []string{"/databases/{organization}/{project}/{database}"},
		Location:            time.UTC,
		DateLayout:          "2006-01-02 15:04:05 MST",
	}
}

func (e *Env) t(key, fallback string) string {
	if e == nil || e.Translate == nil {
		return fallback
	}
	return e.Translate(key, fallback)
}

func (e *Env) production() bool {
	return e != nil && e.Production
}

func (e *Env) location() *time.Location {
	if e == nil || e.Location == nil {
		return time.UTC
	}
	return e.Location
}

func (e *Env) layout() string {
	if e == nil || e.DateLayout == "" {
		return "2006-01-02 15:04:05 MST"
	}
	return e.DateLayout
}

func (e *Env) crontab(path string) bool {
	if e == nil {
		return false
	}
	for _, p := range e.CrontabPaths {
		if strings.HasPrefix(path, p) {
			return true
		}
	}
	return false
}

func (e *Env) passwordChange(path string) bool {
	if e == nil {
		return false
	}
	for _, t := range e.PasswordChangePaths {
		if schema.MatchesPath(path, t) {
			return true
		}
	}
	return false
}
