package observability

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/pitabwire/dbconsole/internal/config"
	"github.com/pitabwire/dbconsole/model"
)

func observed() (*zap.Logger, *observer.ObservedLogs) {
	core, logs := observer.New(zapcore.DebugLevel)
	return zap.New(core), logs
}

func TestNewLogger_levels(t *testing.T) {
	tests := []struct {
		level   string
		enabled zapcore.Level
		off     zapcore.Level
	}{
		{"debug", zapcore.DebugLevel, zapcore.InvalidLevel},
		{"info", zapcore.InfoLevel, zapcore.DebugLevel},
		{"warn", zapcore.WarnLevel, zapcore.InfoLevel},
		{"error", zapcore.ErrorLevel, zapcore.WarnLevel},
		{"chatty", zapcore.InfoLevel, zapcore.DebugLevel},
	}
	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			logger, err := NewLogger(config.ObservabilityConfig{LogLevel: tt.level})
			require.NoError(t, err)
			defer logger.Sync()

			require.True(t, logger.Core().Enabled(tt.enabled))
			if tt.off != zapcore.InvalidLevel {
				require.False(t, logger.Core().Enabled(tt.off))
			}
		})
	}
}

func TestNewLogger_consoleFormat(t *testing.T) {
	logger, err := NewLogger(config.ObservabilityConfig{LogLevel: "warn", LogFormat: "console"})
	require.NoError(t, err)
	defer logger.Sync()
	require.True(t, logger.Core().Enabled(zapcore.WarnLevel))
}

func TestLoggerFrom(t *testing.T) {
	fallback := zap.NewNop()
	require.Same(t, fallback, LoggerFrom(context.Background(), fallback))

	stored, _ := observed()
	ctx := WithLogger(context.Background(), stored)
	require.Same(t, stored, LoggerFrom(ctx, fallback))
}

func TestRequestLogger_organizationUser(t *testing.T) {
	logger, logs := observed()
	expires := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	ctx := model.WithRequestContext(context.Background(), &model.RequestContext{
		Subject:       "acme/dba",
		CorrelationID: "corr-abc",
		TraceID:       "trace-xyz",
		ExpiresAt:     expires,
	})

	RequestLogger(ctx, logger).Info("navigation built")

	require.Equal(t, 1, logs.Len())
	fields := logs.All()[0].ContextMap()
	require.Equal(t, "dba", fields["user"])
	require.Equal(t, "acme", fields["organization"])
	require.Equal(t, "corr-abc", fields["correlation_id"])
	require.Equal(t, "trace-xyz", fields["trace_id"])
	got, ok := fields["session_expires"].(time.Time)
	require.True(t, ok)
	require.True(t, expires.Equal(got))
}

func TestRequestLogger_systemUser(t *testing.T) {
	logger, logs := observed()
	ctx := model.WithRequestContext(context.Background(), &model.RequestContext{
		Subject:       "admin",
		CorrelationID: "corr-abc",
	})

	RequestLogger(ctx, logger).Info("login")

	fields := logs.All()[0].ContextMap()
	require.Equal(t, "admin", fields["user"])
	require.NotContains(t, fields, "organization")
	require.NotContains(t, fields, "trace_id")
	require.NotContains(t, fields, "session_expires")
}

func TestRequestLogger_prefersContextLogger(t *testing.T) {
	fallback, fallbackLogs := observed()
	stored, storedLogs := observed()
	ctx := WithLogger(context.Background(), stored)

	RequestLogger(ctx, fallback).Info("no session")

	require.Equal(t, 0, fallbackLogs.Len())
	require.Equal(t, 1, storedLogs.Len())
	require.Empty(t, storedLogs.All()[0].ContextMap())
}

func TestRequestLogger_scopesOnce(t *testing.T) {
	base, logs := observed()
	ctx := model.WithRequestContext(context.Background(), &model.RequestContext{
		Subject:       "acme/dba",
		CorrelationID: "corr-abc",
	})
	ctx = WithLogger(ctx, RequestLogger(ctx, base))

	RequestLogger(ctx, base).Info("resource deleted")

	require.Equal(t, 1, logs.Len())
	var users int
	for _, f := range logs.All()[0].Context {
		if f.Key == "user" {
			users++
		}
	}
	require.Equal(t, 1, users)
}

func TestIsSecretKey(t *testing.T) {
	for _, key := range []string{"password", "dbaPassword", "newPassword", "Token", "access_token", "Authorization", "privateKey"} {
		require.True(t, IsSecretKey(key), key)
	}
	for _, key := range []string{"name", "dbaUsername", "passwordPolicy", "tier", "tokens"} {
		require.False(t, IsSecretKey(key), key)
	}
}

func TestRedact(t *testing.T) {
	values := map[string]any{
		"name":        "sales",
		"tier":        "n0.small",
		"dbaPassword": "s3cret",
		"labels":      map[string]any{"team": "billing", "token": "abc"},
		"users": []any{
			map[string]any{"name": "ops", "password": "x"},
			"plain",
		},
	}

	got := Redact(values).(map[string]any)

	require.Equal(t, "sales", got["name"])
	require.Equal(t, Redacted, got["dbaPassword"])
	require.Equal(t, map[string]any{"team": "billing", "token": Redacted}, got["labels"])
	require.Equal(t, []any{map[string]any{"name": "ops", "password": Redacted}, "plain"}, got["users"])

	require.Equal(t, "s3cret", values["dbaPassword"], "input must not change")
	require.Equal(t, "abc", values["labels"].(map[string]any)["token"])
}

func TestRedact_scalars(t *testing.T) {
	require.Nil(t, Redact(nil))
	require.Equal(t, 3.0, Redact(3.0))
	require.Equal(t, "text", Redact("text"))
}
