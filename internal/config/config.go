// Package config loads and validates application configuration from YAML files
// and environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root application configuration.
type Config struct {
	Server         ServerConfig         `yaml:"server"`
	ControlPlane   ControlPlaneConfig   `yaml:"controlplane"`
	SQL            SQLConfig            `yaml:"sql"`
	Customizations CustomizationsConfig `yaml:"customizations"`
	Settings       SettingsConfig       `yaml:"settings"`
	Events         EventsConfig         `yaml:"events"`
	Access         AccessConfig         `yaml:"access"`
	Pages          PagesConfig          `yaml:"pages"`
	Observability  ObservabilityConfig  `yaml:"observability"`
}

// ServerConfig describes HTTP server settings.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	HandlerTimeout  time.Duration `yaml:"handler_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	CORS            CORSConfig    `yaml:"cors"`
	// Production hides malformed-field messages from descriptors.
	Production bool `yaml:"production"`
}

// CORSConfig describes Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers"`
	MaxAge         int      `yaml:"max_age"`
}

// ControlPlaneConfig describes the DBaaS control plane REST API.
type ControlPlaneConfig struct {
	BaseURL        string               `yaml:"base_url"`
	Prefix         string               `yaml:"prefix"`
	Timeout        time.Duration        `yaml:"timeout"`
	CacheTTL       time.Duration        `yaml:"cache_ttl"`
	SchemaTimeout  time.Duration        `yaml:"schema_timeout"`
	LoginExpiresIn string               `yaml:"login_expires_in"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
}

// CircuitBreakerConfig describes the control plane circuit breaker.
type CircuitBreakerConfig struct {
	FailureThreshold   int           `yaml:"failure_threshold"`
	SuccessThreshold   int           `yaml:"success_threshold"`
	Timeout            time.Duration `yaml:"timeout"`
	ErrorRateThreshold float64       `yaml:"error_rate_threshold"`
	ErrorRateWindow    time.Duration `yaml:"error_rate_window"`
}

// SQLConfig describes the SQL bridge.
type SQLConfig struct {
	BaseURL   string        `yaml:"base_url"`
	Timeout   time.Duration `yaml:"timeout"`
	WebSocket bool          `yaml:"websocket"`
}

// CustomizationsConfig describes where themes are loaded from.
type CustomizationsConfig struct {
	// ThemeDir overrides the embedded themes when set.
	ThemeDir     string `yaml:"theme_dir"`
	DefaultTheme string `yaml:"default_theme"`
}

// SettingsConfig describes the user-settings store.
type SettingsConfig struct {
	Driver   string `yaml:"driver"`
	AddrEnv  string `yaml:"addr_env"`
	DB       int    `yaml:"db"`
	DSNEnv   string `yaml:"dsn_env"`
	MaxConns int32  `yaml:"max_conns"`
}

// EventsConfig describes the browser event relay.
type EventsConfig struct {
	// Keepalive is the interval of SSE comment lines on idle relays.
	Keepalive time.Duration `yaml:"keepalive"`
}

// AccessConfig describes access rule handling.
type AccessConfig struct {
	// RuleFile holds the fallback rule for tokens that did not log in
	// through the console. Empty means allow all.
	RuleFile string `yaml:"rule_file"`
	// TTL bounds how long a login's access rule is remembered.
	TTL time.Duration `yaml:"ttl"`
}

// PagesConfig describes list pages.
type PagesConfig struct {
	PageSize int `yaml:"page_size"`
}

// ObservabilityConfig describes logging, tracing, and metrics settings.
type ObservabilityConfig struct {
	LogLevel string `yaml:"log_level"`
	// LogFormat is "json" or "console".
	LogFormat string        `yaml:"log_format"`
	Tracing   TracingConfig `yaml:"tracing"`
	Metrics   MetricsConfig `yaml:"metrics"`
}

// TracingConfig describes distributed tracing settings.
type TracingConfig struct {
	Enabled      bool    `yaml:"enabled"`
	Exporter     string  `yaml:"exporter"`
	Endpoint     string  `yaml:"endpoint"`
	SamplingRate float64 `yaml:"sampling_rate"`
}

// MetricsConfig describes Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// Defaults returns a Config with sensible default values.
func Defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    0,
			HandlerTimeout:  25 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			CORS: CORSConfig{
				AllowedMethods: []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
				AllowedHeaders: []string{"Authorization", "Content-Type", "X-Correlation-Id", "X-Database-Authorization"},
				MaxAge:         86400,
			},
		},
		ControlPlane: ControlPlaneConfig{
			Prefix:         "/nuodb-cp",
			Timeout:        30 * time.Second,
			CacheTTL:       60 * time.Second,
			SchemaTimeout:  30 * time.Second,
			LoginExpiresIn: "24h",
			CircuitBreaker: CircuitBreakerConfig{
				FailureThreshold:   5,
				SuccessThreshold:   2,
				Timeout:            30 * time.Second,
				ErrorRateThreshold: 0.5,
				ErrorRateWindow:    60 * time.Second,
			},
		},
		SQL: SQLConfig{
			Timeout: 60 * time.Second,
		},
		Customizations: CustomizationsConfig{
			DefaultTheme: "material",
		},
		Settings: SettingsConfig{
			Driver:   "memory",
			AddrEnv:  "DBCONSOLE_REDIS_ADDR",
			DSNEnv:   "DBCONSOLE_DATABASE_URL",
			MaxConns: 5,
		},
		Events: EventsConfig{
			Keepalive: 15 * time.Second,
		},
		Access: AccessConfig{
			TTL: 24 * time.Hour,
		},
		Pages: PagesConfig{
			PageSize: 20,
		},
		Observability: ObservabilityConfig{
			LogLevel:  "info",
			LogFormat: "json",
			Tracing: TracingConfig{
				Exporter:     "otlp",
				SamplingRate: 0.1,
			},
			Metrics: MetricsConfig{
				Enabled: true,
				Path:    "/metrics",
			},
		},
	}
}

// Load reads a YAML config file, applies environment variable overrides,
// and validates required fields.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: validation: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required fields are present and valid.
func (c *Config) Validate() error {
	var errs []string

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, "server.port must be between 1 and 65535")
	}
	if c.ControlPlane.BaseURL == "" {
		errs = append(errs, "controlplane.base_url is required")
	}
	if c.ControlPlane.Prefix != "" && !strings.HasPrefix(c.ControlPlane.Prefix, "/") {
		errs = append(errs, "controlplane.prefix must start with /")
	}
	if c.ControlPlane.CacheTTL < 0 {
		errs = append(errs, "controlplane.cache_ttl must not be negative")
	}
	switch c.Settings.Driver {
	case "memory", "redis", "postgres":
	default:
		errs = append(errs, fmt.Sprintf("settings.driver %q is not one of memory, redis, postgres", c.Settings.Driver))
	}
	switch c.Observability.LogFormat {
	case "json", "console":
	default:
		errs = append(errs, fmt.Sprintf("observability.log_format %q is not one of json, console", c.Observability.LogFormat))
	}
	if c.Pages.PageSize < 1 {
		errs = append(errs, "pages.page_size must be positive")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

// applyEnvOverrides reads DBCONSOLE_* environment variables and overrides
// config values. Only the most commonly overridden fields are supported.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("DBCONSOLE_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("DBCONSOLE_SERVER_PRODUCTION"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Server.Production = b
		}
	}
	if v := os.Getenv("DBCONSOLE_CONTROLPLANE_BASE_URL"); v != "" {
		cfg.ControlPlane.BaseURL = v
	}
	if v := os.Getenv("DBCONSOLE_CONTROLPLANE_PREFIX"); v != "" {
		cfg.ControlPlane.Prefix = v
	}
	if v := os.Getenv("DBCONSOLE_SQL_BASE_URL"); v != "" {
		cfg.SQL.BaseURL = v
	}
	if v := os.Getenv("DBCONSOLE_SETTINGS_DRIVER"); v != "" {
		cfg.Settings.Driver = v
	}
	if v := os.Getenv("DBCONSOLE_CUSTOMIZATIONS_DEFAULT_THEME"); v != "" {
		cfg.Customizations.DefaultTheme = v
	}
	if v := os.Getenv("DBCONSOLE_OBSERVABILITY_LOG_LEVEL"); v != "" {
		cfg.Observability.LogLevel = v
	}
	if v := os.Getenv("DBCONSOLE_OBSERVABILITY_LOG_FORMAT"); v != "" {
		cfg.Observability.LogFormat = v
	}
}
