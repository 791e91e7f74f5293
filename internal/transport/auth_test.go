package transport

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/pitabwire/dbconsole/internal/access"
	"github.com/pitabwire/dbconsole/model"
)

func signToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-key"))
	if err != nil {
		t.Fatalf("signing token: %v", err)
	}
	return s
}

// authRequest runs the middleware and returns the recorded response and
// the request context the next handler saw, if any.
func authRequest(a *SessionAuthenticator, authHeader string) (*httptest.ResponseRecorder, *model.RequestContext) {
	var seen *model.RequestContext
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = model.RequestContextFrom(r.Context())
		w.WriteHeader(http.StatusOK)
	})
	r := httptest.NewRequest("GET", "/ui/navigation", nil)
	if authHeader != "" {
		r.Header.Set("Authorization", authHeader)
	}
	w := httptest.NewRecorder()
	a.Middleware(next).ServeHTTP(w, r)
	return w, seen
}

func TestBearerToken(t *testing.T) {
	tests := []struct {
		header string
		want   string
		ok     bool
	}{
		{"Bearer abc", "abc", true},
		{"bearer abc", "abc", true},
		{"Bearer   abc  ", "abc", true},
		{"Bearer ", "", false},
		{"Basic YWJjOmRlZg==", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		r := httptest.NewRequest("GET", "/", nil)
		if tt.header != "" {
			r.Header.Set("Authorization", tt.header)
		}
		got, ok := BearerToken(r)
		if got != tt.want || ok != tt.ok {
			t.Errorf("BearerToken(%q) = %q, %v; want %q, %v", tt.header, got, ok, tt.want, tt.ok)
		}
	}
}

func TestSessionAuthenticator_missingToken(t *testing.T) {
	a := NewSessionAuthenticator(access.NewResolver(access.DefaultRule(), time.Hour), zap.NewNop())
	w, seen := authRequest(a, "")

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", w.Code)
	}
	if seen != nil {
		t.Error("next handler should not run")
	}
	ee := decodeError(t, w)
	if len(ee.Details) != 1 || ee.Details[0].Message != "/ui/login?redirect=%2Fui%2Fnavigation" {
		t.Errorf("details = %+v, want a login redirect", ee.Details)
	}
}

func TestSessionAuthenticator_opaqueUnknownToken(t *testing.T) {
	a := NewSessionAuthenticator(access.NewResolver(access.DefaultRule(), time.Hour), zap.NewNop())
	w, seen := authRequest(a, "Bearer not-a-jwt")

	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", w.Code)
	}
	if seen != nil {
		t.Error("next handler should not run")
	}
}

func TestSessionAuthenticator_rememberedSession(t *testing.T) {
	resolver := access.NewResolver(access.DefaultRule(), time.Hour)
	expires := time.Now().Add(time.Hour)
	resolver.RememberSession("opaque", "acme/dba", access.DefaultRule(), expires)
	a := NewSessionAuthenticator(resolver, zap.NewNop())

	w, seen := authRequest(a, "Bearer opaque")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if seen.Subject != "acme/dba" {
		t.Errorf("subject = %q, want acme/dba", seen.Subject)
	}
	if seen.Organization() != "acme" || seen.Username() != "dba" {
		t.Errorf("organization/username = %q/%q", seen.Organization(), seen.Username())
	}
	if seen.Token != "opaque" {
		t.Errorf("token = %q", seen.Token)
	}
	if !seen.ExpiresAt.Equal(expires) {
		t.Errorf("expiresAt = %v, want %v", seen.ExpiresAt, expires)
	}
}

func TestSessionAuthenticator_jwtClaims(t *testing.T) {
	a := NewSessionAuthenticator(access.NewResolver(access.DefaultRule(), time.Hour), zap.NewNop())
	exp := time.Now().Add(time.Hour).Truncate(time.Second)
	token := signToken(t, jwt.MapClaims{
		"sub": "acme/ops",
		"exp": exp.Unix(),
	})

	w, seen := authRequest(a, "Bearer "+token)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if seen.Subject != "acme/ops" {
		t.Errorf("subject = %q, want acme/ops", seen.Subject)
	}
	if !seen.ExpiresAt.Equal(exp) {
		t.Errorf("expiresAt = %v, want %v", seen.ExpiresAt, exp)
	}
}

func TestSessionAuthenticator_accessTokenParam(t *testing.T) {
	resolver := access.NewResolver(access.DefaultRule(), time.Hour)
	resolver.RememberSession("opaque", "acme/dba", access.DefaultRule(), time.Now().Add(time.Hour))
	a := NewSessionAuthenticator(resolver, zap.NewNop())

	tests := []struct {
		method string
		code   int
	}{
		{http.MethodGet, http.StatusOK},
		{http.MethodPost, http.StatusUnauthorized},
	}
	for _, tt := range tests {
		var seen *model.RequestContext
		next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			seen = model.RequestContextFrom(r.Context())
		})
		r := httptest.NewRequest(tt.method, "/ui/events/databases/acme?"+AccessTokenParam+"=opaque", nil)
		w := httptest.NewRecorder()
		a.Middleware(next).ServeHTTP(w, r)

		if w.Code != tt.code {
			t.Errorf("%s: status = %d, want %d", tt.method, w.Code, tt.code)
		}
		if tt.code == http.StatusOK && (seen == nil || seen.Token != "opaque") {
			t.Errorf("%s: request context = %+v", tt.method, seen)
		}
	}
}

func TestSessionAuthenticator_jwtWithoutSubject(t *testing.T) {
	a := NewSessionAuthenticator(access.NewResolver(access.DefaultRule(), time.Hour), zap.NewNop())
	token := signToken(t, jwt.MapClaims{"exp": time.Now().Add(time.Hour).Unix()})

	w, _ := authRequest(a, "Bearer "+token)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", w.Code)
	}
}

func TestSessionAuthenticator_expired(t *testing.T) {
	resolver := access.NewResolver(access.DefaultRule(), time.Hour)
	a := NewSessionAuthenticator(resolver, zap.NewNop())
	token := signToken(t, jwt.MapClaims{
		"sub": "acme/ops",
		"exp": time.Now().Add(-time.Minute).Unix(),
	})

	w, seen := authRequest(a, "Bearer "+token)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", w.Code)
	}
	if seen != nil {
		t.Error("next handler should not run")
	}
}

func TestSessionAuthenticator_clockPastRememberedExpiry(t *testing.T) {
	resolver := access.NewResolver(access.DefaultRule(), time.Hour)
	resolver.RememberSession("opaque", "acme/dba", access.DefaultRule(), time.Now().Add(time.Minute))
	a := NewSessionAuthenticator(resolver, zap.NewNop())
	a.now = func() time.Time { return time.Now().Add(2 * time.Minute) }

	w, _ := authRequest(a, "Bearer opaque")
	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", w.Code)
	}
	if _, _, ok := resolver.Lookup("opaque"); ok {
		t.Error("expired session should be forgotten")
	}
}
