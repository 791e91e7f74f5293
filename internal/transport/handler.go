package transport

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	json "github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/pitabwire/dbconsole/internal/access"
	"github.com/pitabwire/dbconsole/internal/controlplane"
	"github.com/pitabwire/dbconsole/internal/customization"
	"github.com/pitabwire/dbconsole/internal/events"
	"github.com/pitabwire/dbconsole/internal/field"
	"github.com/pitabwire/dbconsole/internal/metadata"
	"github.com/pitabwire/dbconsole/internal/observability"
	"github.com/pitabwire/dbconsole/internal/schema"
	"github.com/pitabwire/dbconsole/internal/sqlbridge"
	"github.com/pitabwire/dbconsole/model"
)

// maxBodyBytes caps JSON request bodies.
const maxBodyBytes = 1 << 20

// Handlers serves the console API for authenticated sessions.
type Handlers struct {
	schemas     *schema.Store
	cp          *controlplane.Client
	resolver    *access.Resolver
	settings    *customization.Service
	provider    *metadata.Provider
	hub         *events.Hub
	sql         *sqlbridge.Client
	metrics     *observability.Metrics
	logger      *zap.Logger
	production  bool
	expiresIn   string
	keepalive   time.Duration
	sqlSessions bool
	origins     []string
}

// NewHandlers creates the handlers from deps.
func NewHandlers(deps Dependencies) *Handlers {
	h := &Handlers{
		schemas:   deps.Schemas,
		cp:        deps.ControlPlane,
		resolver:  deps.Access,
		settings:  deps.Settings,
		provider:  deps.Provider,
		hub:       deps.Events,
		sql:       deps.SQL,
		metrics:   deps.Metrics,
		logger:    deps.Logger,
		keepalive: 15 * time.Second,
	}
	if h.logger == nil {
		h.logger = zap.NewNop()
	}
	if cfg := deps.Config; cfg != nil {
		h.production = cfg.Server.Production
		h.expiresIn = cfg.ControlPlane.LoginExpiresIn
		h.sqlSessions = cfg.SQL.WebSocket
		h.origins = originHosts(cfg.Server.CORS.AllowedOrigins)
		if cfg.Events.Keepalive > 0 {
			h.keepalive = cfg.Events.Keepalive
		}
	}
	return h
}

// session returns the request context set by SessionAuthenticator.
func session(r *http.Request) (*model.RequestContext, error) {
	rctx := model.RequestContextFrom(r.Context())
	if rctx == nil {
		return nil, model.NewSessionExpiredError(r.URL.RequestURI())
	}
	return rctx, nil
}

// paths returns the schema path table the session may see.
func (h *Handlers) paths(ctx context.Context, rctx *model.RequestContext) (*schema.Snapshot, schema.Paths, error) {
	snap, err := h.schemas.Get(ctx, rctx.Token)
	if err != nil {
		return nil, nil, fmt.Errorf("loading schema: %w", err)
	}
	return snap, snap.Paths.FilterAccess(h.resolver.Resolve(rctx.Token)), nil
}

// scope assembles what one request renders against.
func (h *Handlers) scope(r *http.Request) (*metadata.Scope, error) {
	rctx, err := session(r)
	if err != nil {
		return nil, err
	}
	ctx := r.Context()
	snap, paths, err := h.paths(ctx, rctx)
	if err != nil {
		return nil, err
	}

	logger := observability.RequestLogger(ctx, h.logger)
	custom, err := h.settings.Effective(ctx, rctx.Subject)
	if err != nil {
		logger.Warn("customizations unavailable, rendering without them", zap.Error(err))
		if custom, err = customization.Combine(); err != nil {
			return nil, err
		}
	}

	sess := h.cp.Session(rctx.Token)
	env := field.DefaultEnv()
	env.Production = h.production
	env.Roles = &sessionRoles{ctx: ctx, sess: sess, logger: logger}

	return &metadata.Scope{
		Paths:   paths,
		Index:   snap.Index,
		Custom:  custom,
		Backend: sess,
		Env:     env,
	}, nil
}

// sessionRoles loads the role templates on first use.
type sessionRoles struct {
	ctx     context.Context
	sess    *controlplane.Session
	logger  *zap.Logger
	catalog field.RoleCatalog
	loaded  bool
}

func (s *sessionRoles) RoleVariables(role string) ([]string, bool) {
	if !s.loaded {
		s.loaded = true
		catalog, err := s.sess.RoleTemplates(s.ctx)
		if err != nil {
			s.logger.Warn("role templates unavailable", zap.Error(err))
		}
		s.catalog = catalog
	}
	return s.catalog.RoleVariables(role)
}

// resourcePath returns the control plane path captured by the route's
// wildcard. Paths that would climb out of the API are refused.
func resourcePath(r *http.Request) (string, error) {
	p := strings.Trim(chi.URLParam(r, "*"), "/")
	if p == "" {
		return "", model.NewBadRequestError("a resource path is required")
	}
	for _, seg := range strings.Split(p, "/") {
		if seg == "" || seg == "." || seg == ".." {
			return "", model.NewBadRequestError(fmt.Sprintf("invalid resource path %q", p))
		}
	}
	return "/" + p, nil
}

// decodeJSON reads a bounded JSON body into v.
func decodeJSON(r *http.Request, v any) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
	if err != nil {
		return model.NewBadRequestError("could not read request body")
	}
	if len(body) > maxBodyBytes {
		return model.NewBadRequestError("request body is too large")
	}
	if len(body) == 0 {
		return model.NewBadRequestError("request body is required")
	}
	if err := json.Unmarshal(body, v); err != nil {
		return model.NewBadRequestError("request body is not valid JSON")
	}
	return nil
}

// fail writes err for r. Server-side failures are logged at error level.
func (h *Handlers) fail(w http.ResponseWriter, r *http.Request, err error) {
	traceID := observability.TraceIDFromContext(r.Context())
	if traceID == "" {
		traceID = CorrelationIDFrom(r.Context())
	}
	ee := Envelope(err, r.URL.RequestURI()).WithTrace(traceID)

	logger := observability.RequestLogger(r.Context(), h.logger)
	if ee.Status() >= 500 {
		logger.Error("request failed", zap.String("path", r.URL.Path), zap.String("code", ee.Code), zap.Error(err))
	} else {
		logger.Debug("request rejected", zap.String("path", r.URL.Path), zap.String("code", ee.Code), zap.Error(err))
	}
	WriteError(w, ee)
}
