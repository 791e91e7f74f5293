package observability

import (
	"context"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/pitabwire/dbconsole/internal/config"
	"github.com/pitabwire/dbconsole/model"
)

type loggerKey struct{}

// Redacted replaces secret values in logged payloads.
const Redacted = "[REDACTED]"

// NewLogger builds the process logger. cfg.LogFormat selects "json"
// (default) or "console"; an unparsable level falls back to info.
//
// Level conventions:
//   - error: panics, 5xx answers, ambiguous schema matches
//   - warn:  4xx answers, breaker transitions, stream fallbacks
//   - info:  request end, logins, submits, menu actions, schema loads
//   - debug: read cache, event records, SQL bridge frames, submitted values
func NewLogger(cfg config.ObservabilityConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zapcore.InfoLevel
	}

	enc := zapcore.EncoderConfig{
		TimeKey:        "timestamp",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		MessageKey:     "msg",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.MillisDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}
	encoding := "json"
	if cfg.LogFormat == "console" {
		encoding = "console"
		enc.EncodeLevel = zapcore.CapitalColorLevelEncoder
		enc.EncodeDuration = zapcore.StringDurationEncoder
	}

	zapCfg := zap.Config{
		Level:            zap.NewAtomicLevelAt(level),
		Encoding:         encoding,
		EncoderConfig:    enc,
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
	}
	logger, err := zapCfg.Build()
	if err != nil {
		return nil, err
	}
	return logger.With(zap.String("service", "dbconsole"), zap.String("version", Version)), nil
}

// WithLogger stores a logger in the context.
func WithLogger(ctx context.Context, logger *zap.Logger) context.Context {
	return context.WithValue(ctx, loggerKey{}, logger)
}

// LoggerFrom returns the context logger, or fallback.
func LoggerFrom(ctx context.Context, fallback *zap.Logger) *zap.Logger {
	if l, ok := ctx.Value(loggerKey{}).(*zap.Logger); ok && l != nil {
		return l
	}
	return fallback
}

// RequestLogger returns the request-scoped logger. A logger stored with
// WithLogger is already scoped and is returned as is; otherwise fallback is
// tagged with the console session of the request. System users carry no
// organization field.
func RequestLogger(ctx context.Context, fallback *zap.Logger) *zap.Logger {
	if l := LoggerFrom(ctx, nil); l != nil {
		return l
	}
	rctx := model.RequestContextFrom(ctx)
	if rctx == nil {
		return fallback
	}

	fields := make([]zap.Field, 0, 5)
	fields = append(fields,
		zap.String("user", rctx.Username()),
		zap.String("correlation_id", rctx.CorrelationID),
	)
	if org := rctx.Organization(); org != "" {
		fields = append(fields, zap.String("organization", org))
	}
	if rctx.TraceID != "" {
		fields = append(fields, zap.String("trace_id", rctx.TraceID))
	}
	if !rctx.ExpiresAt.IsZero() {
		fields = append(fields, zap.Time("session_expires", rctx.ExpiresAt))
	}
	return fallback.With(fields...)
}

var secretKeys = map[string]bool{
	"secret":        true,
	"token":         true,
	"access_token":  true,
	"refresh_token": true,
	"authorization": true,
	"privatekey":    true,
	"private_key":   true,
	"credentials":   true,
}

// IsSecretKey reports whether a value stored under key must not be
// logged. Any key ending in "password" matches, so dbaPassword and
// newPassword are covered along with the fixed set above.
func IsSecretKey(key string) bool {
	k := strings.ToLower(key)
	return strings.HasSuffix(k, "password") || secretKeys[k]
}

// Redact returns a copy of v in which every value under a secret key is
// replaced by Redacted. Objects and arrays are walked; other values are
// returned as is.
func Redact(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			if IsSecretKey(k) {
				out[k] = Redacted
				continue
			}
			out[k] = Redact(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = Redact(val)
		}
		return out
	default:
		return v
	}
}
