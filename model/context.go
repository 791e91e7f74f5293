package model

import (
	"context"
	"strings"
	"time"
)

// RequestContext is the console session behind an authenticated request.
// It is built once by the session middleware and only read afterwards.
type RequestContext struct {
	// Subject is "organization/user" for organization users and "user"
	// for system users.
	Subject string
	// Token is the control plane bearer token, forwarded verbatim.
	Token string
	// ExpiresAt is zero when the session carries no expiry.
	ExpiresAt     time.Time
	CorrelationID string
	TraceID       string
}

// Organization returns the organization part of Subject, "" for system
// users.
func (rc *RequestContext) Organization() string {
	if org, _, ok := strings.Cut(rc.Subject, "/"); ok {
		return org
	}
	return ""
}

// Username returns the user part of Subject.
func (rc *RequestContext) Username() string {
	if _, user, ok := strings.Cut(rc.Subject, "/"); ok {
		return user
	}
	return rc.Subject
}

// Expired reports whether the session ended at or before now.
func (rc *RequestContext) Expired(now time.Time) bool {
	return !rc.ExpiresAt.IsZero() && !now.Before(rc.ExpiresAt)
}

type requestContextKey struct{}

func WithRequestContext(ctx context.Context, rctx *RequestContext) context.Context {
	return context.WithValue(ctx, requestContextKey{}, rctx)
}

// RequestContextFrom returns the session of ctx, nil outside the session
// middleware.
func RequestContextFrom(ctx context.Context) *RequestContext {
	rctx, _ := ctx.Value(requestContextKey{}).(*RequestContext)
	return rctx
}
