// Package main is the entry point for the database console backend.
// It wires all dependencies together and starts the HTTP server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
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
	"github.com/pitabwire/dbconsole/internal/transport"
)

// Build-time variables set via ldflags:
//
//	go build -ldflags "-X main.version=1.0.0 -X main.commit=abc1234"
var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "config.yaml", "path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		return 1
	}

	observability.Version = version
	observability.Commit = commit

	logger, err := observability.NewLogger(cfg.Observability)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger error: %v\n", err)
		return 1
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	tracingShutdown, err := observability.InitTracing(ctx, cfg.Observability.Tracing, "dbconsole", version)
	if err != nil {
		logger.Error("tracing initialization failed", zap.Error(err))
		return 1
	}

	metrics := observability.InitMetrics(prometheus.DefaultRegisterer)

	// Control plane client, shared by every session.
	cp := controlplane.New(controlplane.Config{
		BaseURL:  cfg.ControlPlane.BaseURL,
		Prefix:   cfg.ControlPlane.Prefix,
		Timeout:  cfg.ControlPlane.Timeout,
		CacheTTL: cfg.ControlPlane.CacheTTL,
		Breaker: controlplane.BreakerConfig{
			FailureThreshold: cfg.ControlPlane.CircuitBreaker.FailureThreshold,
			SuccessThreshold: cfg.ControlPlane.CircuitBreaker.SuccessThreshold,
			Timeout:          cfg.ControlPlane.CircuitBreaker.Timeout,
			ErrorRate:        cfg.ControlPlane.CircuitBreaker.ErrorRateThreshold,
			Window:           cfg.ControlPlane.CircuitBreaker.ErrorRateWindow,
		},
	},
		controlplane.WithHTTPClient(&http.Client{
			Timeout:   cfg.ControlPlane.Timeout,
			Transport: observability.TracingTransport(nil),
		}),
		controlplane.WithLogger(logger),
		controlplane.WithObserver(metrics.ControlPlane()),
	)

	schemas := schema.NewStore(cp, logger,
		schema.WithFetchTimeout(cfg.ControlPlane.SchemaTimeout),
		schema.WithFetchObserver(metrics.RecordSchemaFetch),
	)

	fallback := access.DefaultRule()
	if cfg.Access.RuleFile != "" {
		fallback, err = access.LoadRuleFile(cfg.Access.RuleFile)
		if err != nil {
			logger.Error("access rule loading failed", zap.Error(err))
			return 1
		}
	}
	resolver := access.NewResolver(fallback, cfg.Access.TTL)

	store, storeCloser, err := buildSettingsStore(ctx, cfg.Settings, logger)
	if err != nil {
		logger.Error("settings store initialization failed", zap.Error(err))
		return 1
	}

	themes := customization.DefaultThemes()
	if cfg.Customizations.ThemeDir != "" {
		themes = os.DirFS(cfg.Customizations.ThemeDir)
		if _, err := fs.Stat(themes, "."); err != nil {
			logger.Error("theme directory unreadable", zap.Error(err))
			return 1
		}
	}
	settings := customization.NewService(themes, store, cfg.Customizations.DefaultTheme, logger)

	hub := events.NewHub(events.NewRegistry(), metrics.Events(), logger)

	var sql *sqlbridge.Client
	if cfg.SQL.BaseURL != "" {
		sql = sqlbridge.NewClient(cfg.SQL.BaseURL,
			sqlbridge.WithHTTPClient(&http.Client{
				Timeout:   cfg.SQL.Timeout,
				Transport: observability.TracingTransport(nil),
			}),
			sqlbridge.WithLogger(logger),
		)
	}

	readiness := observability.ReadinessChecks{
		ControlPlane: func() error {
			if cp.Breaker().State() == controlplane.BreakerOpen {
				return controlplane.ErrBreakerOpen
			}
			return nil
		},
		Info: func() map[string]any {
			return map[string]any{
				"breaker":      cp.Breaker().State().String(),
				"event_relays": hub.Active(),
			}
		},
	}
	if hc, ok := store.(observability.HealthChecker); ok {
		readiness.SettingsStore = hc
	}

	router := transport.NewRouter(transport.Dependencies{
		Config:       cfg,
		Logger:       logger,
		Metrics:      metrics,
		Readiness:    readiness,
		Schemas:      schemas,
		ControlPlane: cp,
		Access:       resolver,
		Settings:     settings,
		Provider:     metadata.NewProvider(logger, metadata.WithPageSize(cfg.Pages.PageSize)),
		Events:       hub,
		SQL:          sql,
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	logger.Info("server started",
		zap.Int("port", cfg.Server.Port),
		zap.String("version", version),
		zap.String("commit", commit),
		zap.String("control_plane", cp.URL("")),
		zap.String("settings_store", cfg.Settings.Driver),
		zap.Bool("sql_bridge", sql != nil),
	)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown initiated")
	case err := <-errCh:
		logger.Error("server error", zap.Error(err))
		return 1
	}

	shutdownTimeout := cfg.Server.ShutdownTimeout
	if shutdownTimeout == 0 {
		shutdownTimeout = 30 * time.Second
	}
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	// Event relays never finish on their own; abort them before draining.
	hub.Shutdown()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", zap.Error(err))
	}

	if storeCloser != nil {
		storeCloser()
	}

	if err := tracingShutdown(shutdownCtx); err != nil {
		logger.Error("tracing shutdown error", zap.Error(err))
	}

	logger.Info("shutdown complete")
	return 0
}

// buildSettingsStore creates the user-settings store named by cfg.Driver.
// The returned closer is nil for the in-memory store.
func buildSettingsStore(ctx context.Context, cfg config.SettingsConfig, logger *zap.Logger) (customization.SettingsStore, func(), error) {
	switch cfg.Driver {
	case "memory", "":
		logger.Info("using in-memory settings store")
		return customization.NewMemorySettingsStore(), nil, nil
	case "redis":
		addr := os.Getenv(cfg.AddrEnv)
		if addr == "" {
			return nil, nil, fmt.Errorf("settings store: %s environment variable not set", cfg.AddrEnv)
		}
		client := redis.NewClient(&redis.Options{Addr: addr, DB: cfg.DB})
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			return nil, nil, fmt.Errorf("settings store: ping: %w", err)
		}
		return customization.NewRedisSettingsStore(client), func() { client.Close() }, nil
	case "postgres":
		dsn := os.Getenv(cfg.DSNEnv)
		if dsn == "" {
			return nil, nil, fmt.Errorf("settings store: %s environment variable not set", cfg.DSNEnv)
		}
		poolCfg, err := pgxpool.ParseConfig(dsn)
		if err != nil {
			return nil, nil, fmt.Errorf("settings store: parse DSN: %w", err)
		}
		if cfg.MaxConns > 0 {
			poolCfg.MaxConns = cfg.MaxConns
		}
		pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
		if err != nil {
			return nil, nil, fmt.Errorf("settings store: connect: %w", err)
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("settings store: ping: %w", err)
		}
		return customization.NewPgSettingsStore(pool), pool.Close, nil
	default:
		return nil, nil, fmt.Errorf("unsupported settings store driver: %q", cfg.Driver)
	}
}
