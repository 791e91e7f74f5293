package transport

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/pitabwire/dbconsole/internal/access"
	"github.com/pitabwire/dbconsole/internal/config"
	"github.com/pitabwire/dbconsole/internal/controlplane"
	"github.com/pitabwire/dbconsole/internal/customization"
	"github.com/pitabwire/dbconsole/internal/events"
	"github.com/pitabwire/dbconsole/internal/metadata"
	"github.com/pitabwire/dbconsole/internal/observability"
	"github.com/pitabwire/dbconsole/internal/schema"
	"github.com/pitabwire/dbconsole/internal/sqlbridge"
	"github.com/pitabwire/dbconsole/model"
)

// Dependencies holds all injected dependencies for the HTTP transport layer.
type Dependencies struct {
	Config       *config.Config
	Logger       *zap.Logger
	Metrics      *observability.Metrics
	Readiness    observability.ReadinessChecks
	Schemas      *schema.Store
	ControlPlane *controlplane.Client
	Access       *access.Resolver
	Settings     *customization.Service
	Provider     *metadata.Provider
	Events       *events.Hub
	// SQL is optional; without it the SQL routes answer 404.
	SQL *sqlbridge.Client
}

// NewRouter creates a chi.Router with the full middleware pipeline and all
// route registrations. Health, readiness, metrics and login bypass the
// session middleware.
func NewRouter(deps Dependencies) chi.Router {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
		deps.Logger = logger
	}
	cfg := deps.Config
	if cfg == nil {
		cfg = config.Defaults()
		deps.Config = cfg
	}
	h := NewHandlers(deps)

	r := chi.NewRouter()

	// Global middleware: applied to all routes including health.
	r.Use(Recovery(logger))
	r.Use(observability.TracingMiddleware)
	r.Use(CORS(cfg.Server.CORS))
	r.Use(RequestID)
	r.Use(SecurityHeaders)
	if deps.Metrics != nil {
		r.Use(deps.Metrics.MetricsMiddleware)
	}

	r.NotFound(notFound)

	// Public routes.
	r.Get("/ui/health", observability.HandleHealth())
	r.Get("/ui/ready", observability.HandleReady(deps.Readiness))
	if cfg.Observability.Metrics.Enabled {
		path := cfg.Observability.Metrics.Path
		if path == "" {
			path = "/metrics"
		}
		r.Handle(path, observability.Handler())
	}
	r.With(RequestLogging(logger)).Post("/ui/login", h.handleLogin)

	// Session routes.
	auth := NewSessionAuthenticator(deps.Access, logger)
	r.Group(func(r chi.Router) {
		r.Use(auth.Middleware)
		r.Use(HandlerTimeout(cfg.Server.HandlerTimeout))
		r.Use(RequestLogging(logger))

		r.Post("/ui/logout", h.handleLogout)
		r.Get("/ui/navigation", h.handleNavigation)
		r.Get("/ui/resources/*", h.handleResource)
		r.Delete("/ui/resources/*", h.handleDelete)
		r.Get("/ui/forms/*", h.handleForm)
		r.Post("/ui/forms/*", h.handleFormAction)
		r.Get("/ui/views/*", h.handleView)
		r.Get("/ui/pages/*", h.handlePage)
		r.Post("/ui/actions/*", h.handleAction)
		r.Post("/ui/password/*", h.handlePassword)
		r.Get("/ui/events/*", h.handleEvents)
		r.Get("/ui/settings", h.handleGetSettings)
		r.Put("/ui/settings", h.handlePutSettings)
		r.Post("/ui/sql/{organization}/{project}/{database}/{schema}", h.handleSQL)
		r.Get("/ui/sql/{organization}/{project}/{database}/{schema}/session", h.handleSQLSession)
	})

	return r
}

// notFound answers unknown routes with the JSON envelope.
func notFound(w http.ResponseWriter, r *http.Request) {
	WriteError(w, model.NewNotFoundError("no route for "+r.Method+" "+r.URL.Path))
}
