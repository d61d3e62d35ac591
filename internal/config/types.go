// Package config loads and validates the server configuration from flags,
// environment variables, and an optional YAML file.
package config

import (
	"time"

	"relgraph/internal/junction"
	"relgraph/internal/naming"
)

// Config holds the application configuration.
type Config struct {
	Database      DatabaseConfig      `mapstructure:"database"`
	Server        ServerConfig        `mapstructure:"server"`
	Observability ObservabilityConfig `mapstructure:"observability"`
	Naming        naming.Config       `mapstructure:"naming"`
	Junctions     junction.Overrides  `mapstructure:"junctions"`
}

// PoolConfig holds connection pool parameters.
type PoolConfig struct {
	MaxOpen     int           `mapstructure:"max_open"`
	MaxIdle     int           `mapstructure:"max_idle"`
	MaxLifetime time.Duration `mapstructure:"max_lifetime"`
}

// DatabaseTLSConfig holds TLS settings for the database connection.
type DatabaseTLSConfig struct {
	// Mode is one of "off", "skip-verify", "verify-ca", "verify-full".
	// Empty means no TLS parameter is added to the DSN.
	Mode string `mapstructure:"mode"`

	// CAFile verifies the server certificate in verify-ca and verify-full
	// modes.
	CAFile string `mapstructure:"ca_file"`
	// CertFile and KeyFile enable client certificate authentication.
	CertFile string `mapstructure:"cert_file"`
	KeyFile  string `mapstructure:"key_file"`
	// ServerName overrides the hostname used for verification.
	ServerName string `mapstructure:"server_name"`
}

// DatabaseConfig holds database connection parameters.
type DatabaseConfig struct {
	// ConnectionString is a complete go-sql-driver/mysql DSN
	// (user:password@tcp(host:port)/database?params). When set it overrides
	// the discrete fields.
	ConnectionString string `mapstructure:"dsn"`
	// ConnectionStringFile is a path to a file containing the DSN. Supports
	// "@-" to read from stdin.
	ConnectionStringFile string `mapstructure:"dsn_file"`

	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	User         string `mapstructure:"user"`
	Password     string `mapstructure:"password"`
	PasswordFile string `mapstructure:"password_file"`
	Database     string `mapstructure:"database"`

	TLS  DatabaseTLSConfig `mapstructure:"tls"`
	Pool PoolConfig        `mapstructure:"pool"`

	// ConnectTimeout bounds the startup wait for the database.
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	// ConnectRetryInterval is the initial interval between startup retries.
	ConnectRetryInterval time.Duration `mapstructure:"connect_retry_interval"`
}

// AuthConfig holds OIDC bearer token authentication parameters.
type AuthConfig struct {
	OIDCEnabled       bool          `mapstructure:"oidc_enabled"`
	OIDCIssuerURL     string        `mapstructure:"oidc_issuer_url"`
	OIDCAudience      string        `mapstructure:"oidc_audience"`
	OIDCClockSkew     time.Duration `mapstructure:"oidc_clock_skew"`
	OIDCSkipTLSVerify bool          `mapstructure:"oidc_skip_tls_verify"`
}

// AdminConfig controls the administrative endpoints.
type AdminConfig struct {
	SchemaReloadEnabled bool   `mapstructure:"schema_reload_enabled"`
	AuthToken           string `mapstructure:"auth_token"`
	AuthTokenFile       string `mapstructure:"auth_token_file"`
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Port int `mapstructure:"port"`

	GraphQLMaxDepth    int `mapstructure:"graphql_max_depth"`
	GraphQLMaxPageSize int `mapstructure:"graphql_max_page_size"`
	GraphQLMaxCost     int `mapstructure:"graphql_max_cost"`

	SchemaRefreshMinInterval time.Duration `mapstructure:"schema_refresh_min_interval"`
	SchemaRefreshMaxInterval time.Duration `mapstructure:"schema_refresh_max_interval"`

	GraphiQLEnabled bool `mapstructure:"graphiql_enabled"`

	Auth  AuthConfig  `mapstructure:"auth"`
	Admin AdminConfig `mapstructure:"admin"`

	CORSEnabled          bool     `mapstructure:"cors_enabled"`
	CORSAllowedOrigins   []string `mapstructure:"cors_allowed_origins"`
	CORSAllowedMethods   []string `mapstructure:"cors_allowed_methods"`
	CORSAllowedHeaders   []string `mapstructure:"cors_allowed_headers"`
	CORSAllowCredentials bool     `mapstructure:"cors_allow_credentials"`
	CORSMaxAge           int      `mapstructure:"cors_max_age"`

	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// LoggingConfig holds logging parameters.
type LoggingConfig struct {
	Level          string `mapstructure:"level"`  // debug, info, warn, error
	Format         string `mapstructure:"format"` // json, text
	ExportsEnabled bool   `mapstructure:"exports_enabled"`
}

// ObservabilityConfig holds observability parameters.
type ObservabilityConfig struct {
	ServiceName      string        `mapstructure:"service_name"`
	ServiceVersion   string        `mapstructure:"service_version"`
	Environment      string        `mapstructure:"environment"`
	MetricsEnabled   bool          `mapstructure:"metrics_enabled"`
	TracingEnabled   bool          `mapstructure:"tracing_enabled"`
	TraceSampleRatio float64       `mapstructure:"trace_sample_ratio"`
	Logging          LoggingConfig `mapstructure:"logging"`
	OTLP             OTLPConfig    `mapstructure:"otlp"`
}

// OTLPConfig holds OTLP exporter settings shared by traces and logs.
type OTLPConfig struct {
	Endpoint    string            `mapstructure:"endpoint"`
	Protocol    string            `mapstructure:"protocol"` // grpc, http/protobuf
	Insecure    bool              `mapstructure:"insecure"`
	CAFile      string            `mapstructure:"ca_file"`
	CertFile    string            `mapstructure:"cert_file"`
	KeyFile     string            `mapstructure:"key_file"`
	Headers     map[string]string `mapstructure:"headers"`
	Timeout     time.Duration     `mapstructure:"timeout"`
	Compression string            `mapstructure:"compression"` // none, gzip
}
