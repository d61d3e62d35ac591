package config

import (
	"fmt"
	"net/url"
	"strings"
)

// ValidationError is a fatal configuration problem.
type ValidationError struct {
	Field   string
	Message string
	Hint    string
}

func (e ValidationError) Error() string {
	if e.Hint != "" {
		return fmt.Sprintf("%s: %s (hint: %s)", e.Field, e.Message, e.Hint)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationWarning is a non-fatal configuration issue.
type ValidationWarning struct {
	Field   string
	Message string
}

// ValidationResult collects validation errors and warnings.
type ValidationResult struct {
	Errors   []ValidationError
	Warnings []ValidationWarning
}

// HasErrors reports whether validation found fatal problems.
func (r *ValidationResult) HasErrors() bool {
	return len(r.Errors) > 0
}

// Error joins all fatal problems into one message.
func (r *ValidationResult) Error() string {
	if !r.HasErrors() {
		return ""
	}
	msgs := make([]string, 0, len(r.Errors))
	for _, e := range r.Errors {
		msgs = append(msgs, e.Error())
	}
	return strings.Join(msgs, "; ")
}

// Validate checks the configuration and returns errors and warnings.
func (c *Config) Validate() *ValidationResult {
	result := &ValidationResult{}
	c.Database.validate(result)
	c.Server.validate(result)
	c.Observability.validate(result)
	return result
}

func (d *DatabaseConfig) validate(result *ValidationResult) {
	if _, err := d.EffectiveDatabaseName(); err != nil {
		result.Errors = append(result.Errors, ValidationError{
			Field:   "database",
			Message: err.Error(),
		})
	}
	if d.ConnectionString == "" {
		if d.Port < 1 || d.Port > 65535 {
			result.Errors = append(result.Errors, ValidationError{
				Field:   "database.port",
				Message: fmt.Sprintf("port %d is out of range", d.Port),
			})
		}
		if d.Host == "" {
			result.Errors = append(result.Errors, ValidationError{
				Field:   "database.host",
				Message: "host cannot be empty when no DSN is configured",
			})
		}
	}

	switch d.TLS.Mode {
	case "", "off", "skip-verify", "verify-ca", "verify-full":
	default:
		result.Errors = append(result.Errors, ValidationError{
			Field:   "database.tls.mode",
			Message: fmt.Sprintf("unknown mode %q", d.TLS.Mode),
			Hint:    "use off, skip-verify, verify-ca, or verify-full",
		})
	}
	if (d.TLS.Mode == "verify-ca" || d.TLS.Mode == "verify-full") && d.TLS.CAFile == "" {
		result.Errors = append(result.Errors, ValidationError{
			Field:   "database.tls.ca_file",
			Message: fmt.Sprintf("required for %s mode", d.TLS.Mode),
		})
	}
	if d.TLS.Mode == "skip-verify" {
		result.Warnings = append(result.Warnings, ValidationWarning{
			Field:   "database.tls.mode",
			Message: "skip-verify does not authenticate the server",
		})
	}

	if d.Pool.MaxOpen < 0 || d.Pool.MaxIdle < 0 {
		result.Errors = append(result.Errors, ValidationError{
			Field:   "database.pool",
			Message: "pool sizes cannot be negative",
		})
	}
	if d.Pool.MaxIdle > d.Pool.MaxOpen && d.Pool.MaxOpen > 0 {
		result.Warnings = append(result.Warnings, ValidationWarning{
			Field:   "database.pool.max_idle",
			Message: "max_idle above max_open has no effect",
		})
	}
}

func (s *ServerConfig) validate(result *ValidationResult) {
	if s.Port < 1 || s.Port > 65535 {
		result.Errors = append(result.Errors, ValidationError{
			Field:   "server.port",
			Message: fmt.Sprintf("port %d is out of range", s.Port),
		})
	}
	if s.GraphQLMaxDepth < 1 {
		result.Errors = append(result.Errors, ValidationError{
			Field:   "server.graphql_max_depth",
			Message: "must be at least 1",
		})
	}
	if s.GraphQLMaxPageSize < 1 {
		result.Errors = append(result.Errors, ValidationError{
			Field:   "server.graphql_max_page_size",
			Message: "must be at least 1",
		})
	}
	if s.GraphQLMaxCost < 0 {
		result.Errors = append(result.Errors, ValidationError{
			Field:   "server.graphql_max_cost",
			Message: "cannot be negative",
		})
	}
	if s.SchemaRefreshMinInterval > s.SchemaRefreshMaxInterval && s.SchemaRefreshMaxInterval > 0 {
		result.Errors = append(result.Errors, ValidationError{
			Field:   "server.schema_refresh_min_interval",
			Message: "cannot exceed schema_refresh_max_interval",
		})
	}

	if s.Auth.OIDCEnabled {
		if s.Auth.OIDCIssuerURL == "" {
			result.Errors = append(result.Errors, ValidationError{
				Field:   "server.auth.oidc_issuer_url",
				Message: "required when oidc_enabled is true",
			})
		} else if u, err := url.Parse(s.Auth.OIDCIssuerURL); err != nil || u.Scheme == "" || u.Host == "" {
			result.Errors = append(result.Errors, ValidationError{
				Field:   "server.auth.oidc_issuer_url",
				Message: fmt.Sprintf("%q is not a valid URL", s.Auth.OIDCIssuerURL),
			})
		}
		if s.Auth.OIDCAudience == "" {
			result.Errors = append(result.Errors, ValidationError{
				Field:   "server.auth.oidc_audience",
				Message: "required when oidc_enabled is true",
			})
		}
		if s.Auth.OIDCSkipTLSVerify {
			result.Warnings = append(result.Warnings, ValidationWarning{
				Field:   "server.auth.oidc_skip_tls_verify",
				Message: "OIDC provider TLS verification is disabled",
			})
		}
	}

	if s.Admin.SchemaReloadEnabled && !s.Auth.OIDCEnabled && s.Admin.AuthToken == "" {
		result.Errors = append(result.Errors, ValidationError{
			Field:   "server.admin.auth_token",
			Message: "required when schema_reload_enabled is true without OIDC",
			Hint:    "set server.admin.auth_token or server.admin.auth_token_file",
		})
	}

	if s.CORSEnabled && len(s.CORSAllowedOrigins) == 0 {
		result.Warnings = append(result.Warnings, ValidationWarning{
			Field:   "server.cors_allowed_origins",
			Message: "CORS is enabled with no allowed origins",
		})
	}
	for _, origin := range s.CORSAllowedOrigins {
		if origin == "*" && s.CORSAllowCredentials {
			result.Errors = append(result.Errors, ValidationError{
				Field:   "server.cors_allowed_origins",
				Message: "wildcard origin cannot be combined with allow_credentials",
			})
		}
	}
}

func (o *ObservabilityConfig) validate(result *ValidationResult) {
	switch o.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		result.Errors = append(result.Errors, ValidationError{
			Field:   "observability.logging.level",
			Message: fmt.Sprintf("unknown level %q", o.Logging.Level),
			Hint:    "use debug, info, warn, or error",
		})
	}
	switch o.Logging.Format {
	case "json", "text":
	default:
		result.Errors = append(result.Errors, ValidationError{
			Field:   "observability.logging.format",
			Message: fmt.Sprintf("unknown format %q", o.Logging.Format),
			Hint:    "use json or text",
		})
	}
	if o.TraceSampleRatio < 0 || o.TraceSampleRatio > 1 {
		result.Errors = append(result.Errors, ValidationError{
			Field:   "observability.trace_sample_ratio",
			Message: "must be between 0.0 and 1.0",
		})
	}
	switch o.OTLP.Protocol {
	case "", "grpc", "http", "http/protobuf":
	default:
		result.Errors = append(result.Errors, ValidationError{
			Field:   "observability.otlp.protocol",
			Message: fmt.Sprintf("unknown protocol %q", o.OTLP.Protocol),
			Hint:    "use grpc or http/protobuf",
		})
	}
	switch o.OTLP.Compression {
	case "", "none", "gzip":
	default:
		result.Errors = append(result.Errors, ValidationError{
			Field:   "observability.otlp.compression",
			Message: fmt.Sprintf("unknown compression %q", o.OTLP.Compression),
		})
	}
	if (o.TracingEnabled || o.Logging.ExportsEnabled) && o.OTLP.Endpoint == "" {
		result.Errors = append(result.Errors, ValidationError{
			Field:   "observability.otlp.endpoint",
			Message: "required when tracing or log export is enabled",
		})
	}
}
