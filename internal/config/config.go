package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Version is set at build time via -ldflags.
var Version = "dev"

// Defaults shared by flag registration and tests.
const (
	DefaultPort            = 5050
	DefaultSpecPath        = "api/openapi.yaml"
	DefaultDocsPath        = "/api-docs"
	DefaultSwaggerUIURL    = "https://cdn.jsdelivr.net/npm/swagger-ui-dist@5"
	DefaultShutdownTimeout = 5 * time.Second
)

// ErrInvalid marks configuration values that cannot be used to start the service.
var ErrInvalid = errors.New("invalid configuration")

// Config holds all runtime configuration for the transaction service.
type Config struct {
	Port             int
	SpecPath         string
	DocsPath         string
	SwaggerUIURL     string
	LogLevel         string
	LogFormat        string
	ShutdownTimeout  time.Duration
	ValidateRequests bool
}

// Load reads configuration from v, which merges flag values, env vars,
// and defaults (set up by the cobra command in cmd/transactionsvc).
func Load(v *viper.Viper) (Config, error) {
	// PORT is read as a string so an unparsable value surfaces as an error
	// instead of silently becoming 0.
	port := DefaultPort
	if raw := strings.TrimSpace(v.GetString("port")); raw != "" {
		var err error
		if port, err = parsePort(raw); err != nil {
			return Config{}, err
		}
	}

	cfg := Config{
		Port:             port,
		SpecPath:         v.GetString("spec"),
		DocsPath:         v.GetString("docs_path"),
		SwaggerUIURL:     v.GetString("swagger_ui_url"),
		LogLevel:         v.GetString("log_level"),
		LogFormat:        v.GetString("log_format"),
		ShutdownTimeout:  v.GetDuration("shutdown_timeout"),
		ValidateRequests: v.GetBool("validate_requests"),
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks that every field holds a usable value.
func (c Config) Validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("%w: port %d out of range", ErrInvalid, c.Port)
	}
	if strings.TrimSpace(c.SpecPath) == "" {
		return fmt.Errorf("%w: spec path is empty", ErrInvalid)
	}
	if !strings.HasPrefix(c.DocsPath, "/") || c.DocsPath == "/" || strings.HasSuffix(c.DocsPath, "/") {
		return fmt.Errorf("%w: docs path %q must start with / and not end with /", ErrInvalid, c.DocsPath)
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("%w: log format %q", ErrInvalid, c.LogFormat)
	}
	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("%w: log level %q", ErrInvalid, c.LogLevel)
	}
	if c.ShutdownTimeout <= 0 {
		return fmt.Errorf("%w: shutdown timeout must be positive", ErrInvalid)
	}
	return nil
}

// Addr returns the listen address for the configured port.
func (c Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

func parsePort(raw string) (int, error) {
	port, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: port %q is not an integer", ErrInvalid, raw)
	}
	if port < 0 || port > 65535 {
		return 0, fmt.Errorf("%w: port %d out of range", ErrInvalid, port)
	}
	return port, nil
}

// RegisterFlags adds the service flags to f and binds them, plus their
// environment variables, to v. Flag names use hyphens; viper keys use
// underscores so they match the TXSVC_* env var suffix. PORT is also read
// unprefixed, the way hosting platforms inject it.
func RegisterFlags(f *pflag.FlagSet, v *viper.Viper) {
	f.Int("port", DefaultPort, "HTTP port to listen on (env PORT)")
	f.String("spec", DefaultSpecPath, "path to the OpenAPI document")
	f.String("docs-path", DefaultDocsPath, "URL path the documentation UI is mounted at")
	f.String("swagger-ui-url", DefaultSwaggerUIURL, "base URL of the swagger-ui-dist files (swagger-ui.css, swagger-ui-bundle.js, swagger-ui-standalone-preset.js); point at a self-hosted copy, e.g. http://assets.internal/swagger-ui, for offline use")
	f.String("log-level", "info", "log level (debug, info, warn, error)")
	f.String("log-format", "text", "log format (text, json)")
	f.Duration("shutdown-timeout", DefaultShutdownTimeout, "grace period for in-flight requests on shutdown")
	f.Bool("validate-requests", true, "validate requests to declared operations against the document")

	bindFlag := func(key, flagName string) {
		_ = v.BindPFlag(key, f.Lookup(flagName))
	}
	bindFlag("port", "port")
	bindFlag("spec", "spec")
	bindFlag("docs_path", "docs-path")
	bindFlag("swagger_ui_url", "swagger-ui-url")
	bindFlag("log_level", "log-level")
	bindFlag("log_format", "log-format")
	bindFlag("shutdown_timeout", "shutdown-timeout")
	bindFlag("validate_requests", "validate-requests")

	v.SetEnvPrefix("TXSVC")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	_ = v.BindEnv("port", "TXSVC_PORT", "PORT")
}
