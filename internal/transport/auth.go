package transport

import (
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/pitabwire/dbconsole/internal/access"
	"github.com/pitabwire/dbconsole/internal/observability"
	"github.com/pitabwire/dbconsole/model"
)

// SessionAuthenticator builds the request context from the control plane
// bearer token. The token is not verified here: the control plane checks
// it on every forwarded call. The subject comes from the console login
// that issued the token, else from the token's own claims.
type SessionAuthenticator struct {
	resolver *access.Resolver
	logger   *zap.Logger
	parser   *jwt.Parser
	now      func() time.Time
}

// NewSessionAuthenticator creates a SessionAuthenticator.
func NewSessionAuthenticator(resolver *access.Resolver, logger *zap.Logger) *SessionAuthenticator {
	return &SessionAuthenticator{
		resolver: resolver,
		logger:   logger,
		parser:   jwt.NewParser(),
		now:      time.Now,
	}
}

// AccessTokenParam carries the session token on GET requests from browser
// clients that cannot set headers: EventSource and WebSocket.
const AccessTokenParam = "access_token"

// BearerToken returns the token of an "Authorization: Bearer" header.
func BearerToken(r *http.Request) (string, bool) {
	auth := r.Header.Get("Authorization")
	if len(auth) < 7 || !strings.EqualFold(auth[:7], "Bearer ") {
		return "", false
	}
	token := strings.TrimSpace(auth[7:])
	return token, token != ""
}

// Middleware rejects requests without a live session and stores the
// model.RequestContext and a request-scoped logger in the context.
func (a *SessionAuthenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := BearerToken(r)
		if !ok && r.Method == http.MethodGet {
			token = r.URL.Query().Get(AccessTokenParam)
			ok = token != ""
		}
		if !ok {
			WriteError(w, model.NewSessionExpiredError(r.URL.RequestURI()))
			return
		}

		subject, expiresAt := a.identify(token)
		if subject == "" {
			a.logger.Debug("unknown session token", zap.String("path", r.URL.Path))
			WriteError(w, model.NewSessionExpiredError(r.URL.RequestURI()))
			return
		}

		rctx := &model.RequestContext{
			Subject:       subject,
			Token:         token,
			ExpiresAt:     expiresAt,
			CorrelationID: CorrelationIDFrom(r.Context()),
			TraceID:       observability.TraceIDFromContext(r.Context()),
		}
		if rctx.Expired(a.now()) {
			a.resolver.Forget(token)
			WriteError(w, model.NewSessionExpiredError(r.URL.RequestURI()))
			return
		}

		observability.AnnotateSession(r.Context(), rctx)
		ctx := model.WithRequestContext(r.Context(), rctx)
		ctx = observability.WithLogger(ctx, observability.RequestLogger(ctx, a.logger))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// identify returns the subject and expiry of token. An empty subject
// means the token is unknown.
func (a *SessionAuthenticator) identify(token string) (string, time.Time) {
	if user, expiresAt, ok := a.resolver.Lookup(token); ok {
		return user, expiresAt
	}

	claims := jwt.MapClaims{}
	if _, _, err := a.parser.ParseUnverified(token, claims); err != nil {
		return "", time.Time{}
	}
	subject, _ := claims.GetSubject()
	var expiresAt time.Time
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		expiresAt = exp.Time
	}
	return subject, expiresAt
}
