package transport

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/pitabwire/dbconsole/internal/config"
	"github.com/pitabwire/dbconsole/internal/observability"
	"github.com/pitabwire/dbconsole/model"
)

// CorrelationHeader carries the correlation id in both directions.
const CorrelationHeader = "X-Correlation-Id"

// ReloadHeader tells the browser whether a delete needs a full reload.
const ReloadHeader = "X-Console-Reload"

// exposedHeaders are readable by the console front end across origins.
var exposedHeaders = strings.Join([]string{CorrelationHeader, ReloadHeader, "Retry-After"}, ", ")

const maxCorrelationID = 128

type correlationIDKey struct{}

// CorrelationIDFrom extracts the correlation ID from the request context.
func CorrelationIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(correlationIDKey{}).(string)
	return id
}

// Recovery turns a handler panic into an INTERNAL_ERROR envelope stamped
// with the request's trace id. http.ErrAbortHandler is re-raised so the
// server can drop the connection.
func Recovery(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				traceID := observability.TraceIDFromContext(r.Context())
				observability.RequestLogger(r.Context(), logger).Error("panic recovered",
					zap.Any("error", rec),
					zap.String("method", r.Method),
					zap.String("route", observability.RoutePattern(r)),
					zap.String("trace_id", traceID),
					zap.Stack("stacktrace"),
				)
				WriteError(w, model.NewInternalError().WithTrace(traceID))
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// CORS answers preflights and tags responses for the configured console
// origins. Requests from other origins pass through untagged.
func CORS(cfg config.CORSConfig) func(http.Handler) http.Handler {
	origins := make(map[string]bool, len(cfg.AllowedOrigins))
	for _, o := range cfg.AllowedOrigins {
		origins[o] = true
	}
	allow := map[string]string{
		"Access-Control-Allow-Methods":  strings.Join(cfg.AllowedMethods, ", "),
		"Access-Control-Allow-Headers":  strings.Join(cfg.AllowedHeaders, ", "),
		"Access-Control-Max-Age":        strconv.Itoa(cfg.MaxAge),
		"Access-Control-Expose-Headers": exposedHeaders,
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Add("Vary", "Origin")
			if origin := r.Header.Get("Origin"); origins[origin] {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				for k, v := range allow {
					w.Header().Set(k, v)
				}
			}
			if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// validCorrelationID accepts ids the front end or a proxy could have
// generated; anything else is replaced so it never reaches the logs.
func validCorrelationID(id string) bool {
	if id == "" || len(id) > maxCorrelationID {
		return false
	}
	for _, c := range id {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		case c == '-', c == '_', c == '.', c == ':':
		default:
			return false
		}
	}
	return true
}

// RequestID adopts the caller's correlation id, or mints one, and echoes
// it on the response.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(CorrelationHeader)
		if !validCorrelationID(id) {
			id = uuid.NewString()
		}
		w.Header().Set(CorrelationHeader, id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), correlationIDKey{}, id)))
	})
}

var securityHeaders = map[string]string{
	"Strict-Transport-Security": "max-age=31536000; includeSubDomains",
	"X-Content-Type-Options":    "nosniff",
	"X-Frame-Options":           "DENY",
	"X-XSS-Protection":          "0",
	"Cache-Control":             "no-store",
	"Referrer-Policy":           "strict-origin-when-cross-origin",
}

// SecurityHeaders marks every answer as uncacheable and unframeable.
// Console answers carry tenant data and credentials in forms.
func SecurityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		for k, v := range securityHeaders {
			w.Header().Set(k, v)
		}
		next.ServeHTTP(w, r)
	})
}

// longLived reports whether r is an event stream or a SQL session, which
// stay open as long as the browser keeps them.
func longLived(r *http.Request) bool {
	p := r.URL.Path
	return strings.HasPrefix(p, "/ui/events/") ||
		(strings.HasPrefix(p, "/ui/sql/") && strings.HasSuffix(p, "/session"))
}

// HandlerTimeout bounds each console call by d. Event streams and SQL
// sessions are left open-ended.
func HandlerTimeout(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if d <= 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if longLived(r) {
				next.ServeHTTP(w, r)
				return
			}
			ctx, cancel := context.WithTimeout(r.Context(), d)
			defer cancel()
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequestLogging writes one "request" line when a console call ends.
// 5xx answers log at error level, 4xx at warn. The route pattern is logged
// next to the path so resource paths group by endpoint.
func RequestLogging(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &statusWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(ww, r)

			level := zapcore.InfoLevel
			switch {
			case ww.status >= 500:
				level = zapcore.ErrorLevel
			case ww.status >= 400:
				level = zapcore.WarnLevel
			}
			fallback := logger.With(zap.String("correlation_id", CorrelationIDFrom(r.Context())))
			observability.RequestLogger(r.Context(), fallback).Log(level, "request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.String("route", observability.RoutePattern(r)),
				zap.Int("status", ww.status),
				zap.Int64("bytes", ww.bytes),
				zap.Duration("duration", time.Since(start)),
			)
		})
	}
}

// statusWriter records the status and body size of an answer. Unwrap
// lets the websocket upgrade reach the underlying connection.
type statusWriter struct {
	http.ResponseWriter
	status  int
	bytes   int64
	written bool
}

func (w *statusWriter) WriteHeader(code int) {
	if !w.written {
		w.status = code
		w.written = true
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	w.written = true
	n, err := w.ResponseWriter.Write(b)
	w.bytes += int64(n)
	return n, err
}

func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (w *statusWriter) Unwrap() http.ResponseWriter { return w.ResponseWriter }
