package model

import (
	"context"
	"testing"
	"time"
)

func TestRequestContext_subjectParts(t *testing.T) {
	tests := []struct {
		subject, org, user string
	}{
		{"acme/dba", "acme", "dba"},
		{"acme/ops/extra", "acme", "ops/extra"},
		{"system", "", "system"},
		{"", "", ""},
	}
	for _, tt := range tests {
		rc := &RequestContext{Subject: tt.subject}
		if got := rc.Organization(); got != tt.org {
			t.Errorf("Organization(%q) = %q, want %q", tt.subject, got, tt.org)
		}
		if got := rc.Username(); got != tt.user {
			t.Errorf("Username(%q) = %q, want %q", tt.subject, got, tt.user)
		}
	}
}

func TestRequestContext_Expired(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		name    string
		expires time.Time
		want    bool
	}{
		{"no expiry", time.Time{}, false},
		{"future", now.Add(time.Minute), false},
		{"exactly now", now, true},
		{"past", now.Add(-time.Second), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := (&RequestContext{ExpiresAt: tt.expires}).Expired(now); got != tt.want {
				t.Errorf("Expired = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRequestContextFrom(t *testing.T) {
	if got := RequestContextFrom(context.Background()); got != nil {
		t.Errorf("empty context = %v, want nil", got)
	}
	rctx := &RequestContext{Subject: "acme/dba", Token: "tok"}
	ctx := WithRequestContext(context.Background(), rctx)
	if got := RequestContextFrom(ctx); got != rctx {
		t.Errorf("RequestContextFrom = %v, want %v", got, rctx)
	}
}
