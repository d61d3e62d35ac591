package config

import (
	"fmt"
	"io"
	"os"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

var defineFlagsOnce sync.Once

// Load reads configuration with the following precedence: explicit overrides
// (file-backed secrets), command line flags, environment variables, config
// file, defaults.
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	defineFlags()
	if !pflag.Parsed() {
		pflag.Parse()
	}

	cfgPath, _ := pflag.CommandLine.GetString("config")
	if cfgPath != "" {
		v.SetConfigFile(cfgPath)
	} else {
		v.SetConfigName("relgraph")
		v.SetConfigType("yaml")
		v.AddConfigPath("/etc/relgraph/")
		v.AddConfigPath("$HOME/.relgraph")
		v.AddConfigPath(".")
	}
	if err := v.ReadInConfig(); err != nil {
		if cfgPath != "" {
			return nil, fmt.Errorf("read config file %q: %w", cfgPath, err)
		}
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	// Env vars follow the canonical keys: RELGRAPH_DATABASE_POOL_MAX_OPEN.
	v.SetEnvPrefix("RELGRAPH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	bindChangedFlagsToViper(v)

	if err := validateSingleStdinSource(v); err != nil {
		return nil, err
	}

	// File-backed secrets load last so they never mask an explicit value.
	if v.GetString("database.dsn") == "" && v.GetString("database.dsn_file") != "" {
		dsn, err := readSecretFile(v.GetString("database.dsn_file"))
		if err != nil {
			return nil, fmt.Errorf("read database DSN file: %w", err)
		}
		v.Set("database.dsn", dsn)
	}
	if v.GetString("database.password") == "" && v.GetString("database.password_file") != "" {
		pwd, err := readSecretFile(v.GetString("database.password_file"))
		if err != nil {
			return nil, fmt.Errorf("read database password file: %w", err)
		}
		v.Set("database.password", pwd)
	}
	if v.GetString("server.admin.auth_token") == "" && v.GetString("server.admin.auth_token_file") != "" {
		path := v.GetString("server.admin.auth_token_file")
		token, err := readSecretFile(path)
		if err != nil {
			return nil, fmt.Errorf("read admin auth token file: %w", err)
		}
		if token == "" {
			return nil, fmt.Errorf("admin auth token file %q is empty", path)
		}
		v.Set("server.admin.auth_token", token)
	}

	var cfg Config
	if err := v.UnmarshalExact(
		&cfg,
		viper.DecodeHook(
			mapstructure.ComposeDecodeHookFunc(
				mapstructure.StringToTimeDurationHookFunc(),
				stringToStringSliceHookFunc(","),
			),
		),
	); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if result := cfg.Validate(); result.HasErrors() {
		return nil, fmt.Errorf("invalid configuration: %s", result.Error())
	}
	return &cfg, nil
}

// bindChangedFlagsToViper copies only explicitly set flags into Viper so the
// precedence flags > env > file > defaults holds.
func bindChangedFlagsToViper(v *viper.Viper) {
	pflag.CommandLine.Visit(func(f *pflag.Flag) {
		if f.Name == "config" || f.Name == "version" {
			return
		}
		switch f.Value.Type() {
		case "string":
			val, _ := pflag.CommandLine.GetString(f.Name)
			v.Set(f.Name, val)
		case "int":
			val, _ := pflag.CommandLine.GetInt(f.Name)
			v.Set(f.Name, val)
		case "bool":
			val, _ := pflag.CommandLine.GetBool(f.Name)
			v.Set(f.Name, val)
		case "float64":
			val, _ := pflag.CommandLine.GetFloat64(f.Name)
			v.Set(f.Name, val)
		case "duration":
			val, _ := pflag.CommandLine.GetDuration(f.Name)
			v.Set(f.Name, val)
		case "stringSlice":
			val, _ := pflag.CommandLine.GetStringSlice(f.Name)
			v.Set(f.Name, val)
		default:
			v.Set(f.Name, f.Value.String())
		}
	})
}

// defineFlags defines command line flags using the canonical snake_case keys.
func defineFlags() {
	defineFlagsOnce.Do(func() {
		pflag.String("database.dsn", "", "Complete MySQL DSN (user:pass@tcp(host:port)/db)")
		pflag.String("database.dsn_file", "", "Path to file containing the database DSN (use @- for stdin)")
		pflag.String("database.host", "", "Database host")
		pflag.Int("database.port", 0, "Database port")
		pflag.String("database.user", "", "Database user")
		pflag.String("database.password", "", "Database password")
		pflag.String("database.password_file", "", "Path to file containing the database password (use @- for stdin)")
		pflag.String("database.database", "", "Database name")

		pflag.String("database.tls.mode", "", "Database TLS mode (off, skip-verify, verify-ca, verify-full)")
		pflag.String("database.tls.ca_file", "", "Path to CA certificate for server verification")
		pflag.String("database.tls.cert_file", "", "Path to client certificate for mTLS")
		pflag.String("database.tls.key_file", "", "Path to client private key for mTLS")
		pflag.String("database.tls.server_name", "", "Override TLS server name for verification")

		pflag.Int("database.pool.max_open", 0, "Maximum open database connections")
		pflag.Int("database.pool.max_idle", 0, "Maximum idle connections in the pool")
		pflag.Duration("database.pool.max_lifetime", 0, "Connection max lifetime (e.g. 5m)")
		pflag.Duration("database.connect_timeout", 0, "Max time to wait for the database on startup")
		pflag.Duration("database.connect_retry_interval", 0, "Initial interval between startup connection retries")

		pflag.Int("server.port", 0, "HTTP server port")
		pflag.Int("server.graphql_max_depth", 0, "Maximum relation nesting depth per query")
		pflag.Int("server.graphql_max_page_size", 0, "Maximum page size (first) on any connection")
		pflag.Int("server.graphql_max_cost", 0, "Maximum estimated row fan-out per query")
		pflag.Duration("server.schema_refresh_min_interval", 0, "Minimum interval between catalog drift checks")
		pflag.Duration("server.schema_refresh_max_interval", 0, "Maximum interval between catalog drift checks")
		pflag.Bool("server.graphiql_enabled", false, "Enable the GraphiQL UI on /graphql (dev only)")

		pflag.Bool("server.auth.oidc_enabled", false, "Enable OIDC bearer token authentication")
		pflag.String("server.auth.oidc_issuer_url", "", "OIDC issuer URL for discovery and JWKS")
		pflag.String("server.auth.oidc_audience", "", "Expected JWT audience")
		pflag.Duration("server.auth.oidc_clock_skew", 0, "Allowed JWT clock skew (e.g. 2m)")
		pflag.Bool("server.auth.oidc_skip_tls_verify", false, "Skip TLS verification for the OIDC provider (dev only)")

		pflag.Bool("server.admin.schema_reload_enabled", false, "Enable the /admin/reload-schema endpoint")
		pflag.String("server.admin.auth_token", "", "Shared secret required in X-Admin-Token for admin endpoints")
		pflag.String("server.admin.auth_token_file", "", "Path to file containing the admin auth token (use @- for stdin)")

		pflag.Bool("server.cors_enabled", false, "Enable CORS")
		pflag.StringSlice("server.cors_allowed_origins", nil, "Allowed CORS origins")
		pflag.StringSlice("server.cors_allowed_methods", nil, "Allowed CORS methods")
		pflag.StringSlice("server.cors_allowed_headers", nil, "Allowed CORS headers")
		pflag.Bool("server.cors_allow_credentials", false, "Allow credentials in CORS requests")
		pflag.Int("server.cors_max_age", 0, "CORS preflight cache duration in seconds")

		pflag.Duration("server.read_timeout", 0, "HTTP server read timeout")
		pflag.Duration("server.write_timeout", 0, "HTTP server write timeout")
		pflag.Duration("server.idle_timeout", 0, "HTTP server idle timeout")
		pflag.Duration("server.shutdown_timeout", 0, "Graceful shutdown timeout")

		pflag.String("observability.service_name", "", "Service name reported in telemetry")
		pflag.String("observability.service_version", "", "Service version reported in telemetry")
		pflag.String("observability.environment", "", "Environment name (dev, staging, prod)")
		pflag.Bool("observability.metrics_enabled", false, "Enable the Prometheus metrics endpoint")
		pflag.Bool("observability.tracing_enabled", false, "Enable distributed tracing")
		pflag.Float64("observability.trace_sample_ratio", 0, "Trace sampling ratio from 0.0 to 1.0")
		pflag.String("observability.logging.level", "", "Log level (debug, info, warn, error)")
		pflag.String("observability.logging.format", "", "Log format (json, text)")
		pflag.Bool("observability.logging.exports_enabled", false, "Enable OTLP log export")
		pflag.String("observability.otlp.endpoint", "", "OTLP endpoint (e.g. localhost:4317)")
		pflag.String("observability.otlp.protocol", "", "OTLP protocol (grpc, http/protobuf)")
		pflag.Bool("observability.otlp.insecure", false, "Use an insecure OTLP connection")
		pflag.String("observability.otlp.ca_file", "", "Path to CA certificate for OTLP server verification")
		pflag.String("observability.otlp.cert_file", "", "Path to client certificate for OTLP mTLS")
		pflag.String("observability.otlp.key_file", "", "Path to client key for OTLP mTLS")
		pflag.Duration("observability.otlp.timeout", 0, "OTLP export timeout")
		pflag.String("observability.otlp.compression", "", "OTLP compression (none, gzip)")

		pflag.StringP("config", "c", "", "Config file path")
	})
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("database.dsn", "")
	v.SetDefault("database.dsn_file", "")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 3306)
	v.SetDefault("database.user", "relgraph")
	v.SetDefault("database.password", "")
	v.SetDefault("database.password_file", "")
	v.SetDefault("database.database", "")

	v.SetDefault("database.tls.mode", "")
	v.SetDefault("database.tls.ca_file", "")
	v.SetDefault("database.tls.cert_file", "")
	v.SetDefault("database.tls.key_file", "")
	v.SetDefault("database.tls.server_name", "")

	v.SetDefault("database.pool.max_open", 25)
	v.SetDefault("database.pool.max_idle", 5)
	v.SetDefault("database.pool.max_lifetime", 5*time.Minute)
	v.SetDefault("database.connect_timeout", 60*time.Second)
	v.SetDefault("database.connect_retry_interval", 2*time.Second)

	v.SetDefault("server.port", 8080)
	v.SetDefault("server.graphql_max_depth", 8)
	v.SetDefault("server.graphql_max_page_size", 500)
	v.SetDefault("server.graphql_max_cost", 100000)
	v.SetDefault("server.schema_refresh_min_interval", 30*time.Second)
	v.SetDefault("server.schema_refresh_max_interval", 5*time.Minute)
	v.SetDefault("server.graphiql_enabled", false)

	v.SetDefault("server.auth.oidc_enabled", false)
	v.SetDefault("server.auth.oidc_issuer_url", "")
	v.SetDefault("server.auth.oidc_audience", "")
	v.SetDefault("server.auth.oidc_clock_skew", 2*time.Minute)
	v.SetDefault("server.auth.oidc_skip_tls_verify", false)

	v.SetDefault("server.admin.schema_reload_enabled", false)
	v.SetDefault("server.admin.auth_token", "")
	v.SetDefault("server.admin.auth_token_file", "")

	v.SetDefault("server.cors_enabled", false)
	v.SetDefault("server.cors_allowed_origins", []string{})
	v.SetDefault("server.cors_allowed_methods", []string{"GET", "POST", "OPTIONS"})
	v.SetDefault("server.cors_allowed_headers", []string{"Content-Type", "Authorization"})
	v.SetDefault("server.cors_allow_credentials", false)
	v.SetDefault("server.cors_max_age", 86400)

	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 15*time.Second)
	v.SetDefault("server.idle_timeout", 60*time.Second)
	v.SetDefault("server.shutdown_timeout", 30*time.Second)

	v.SetDefault("observability.service_name", "relgraph")
	v.SetDefault("observability.service_version", "")
	v.SetDefault("observability.environment", "development")
	v.SetDefault("observability.metrics_enabled", true)
	v.SetDefault("observability.tracing_enabled", false)
	v.SetDefault("observability.trace_sample_ratio", 1.0)
	v.SetDefault("observability.logging.level", "info")
	v.SetDefault("observability.logging.format", "json")
	v.SetDefault("observability.logging.exports_enabled", false)
	v.SetDefault("observability.otlp.endpoint", "localhost:4317")
	v.SetDefault("observability.otlp.protocol", "grpc")
	v.SetDefault("observability.otlp.insecure", false)
	v.SetDefault("observability.otlp.ca_file", "")
	v.SetDefault("observability.otlp.cert_file", "")
	v.SetDefault("observability.otlp.key_file", "")
	v.SetDefault("observability.otlp.timeout", 10*time.Second)
	v.SetDefault("observability.otlp.compression", "gzip")

	v.SetDefault("naming.irregulars", map[string]string{})
	v.SetDefault("junctions.force", []string{})
	v.SetDefault("junctions.deny", []string{})
}

func readSecretFile(path string) (string, error) {
	var data []byte
	var err error
	if path == "@-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

// validateSingleStdinSource rejects configurations where more than one
// file-backed secret tries to read stdin.
func validateSingleStdinSource(v *viper.Viper) error {
	stdinBackedKeys := []string{
		"database.dsn_file",
		"database.password_file",
		"server.admin.auth_token_file",
	}
	var configured []string
	for _, key := range stdinBackedKeys {
		if strings.TrimSpace(v.GetString(key)) == "@-" {
			configured = append(configured, key)
		}
	}
	if len(configured) > 1 {
		return fmt.Errorf("multiple stdin-backed file settings use @- (%s); only one @- source is allowed",
			strings.Join(configured, ", "))
	}
	return nil
}

func stringToStringSliceHookFunc(sep string) mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if from.Kind() != reflect.String || to != reflect.TypeOf([]string{}) {
			return data, nil
		}
		raw := strings.TrimSpace(data.(string))
		if raw == "" {
			return []string{}, nil
		}
		parts := strings.Split(raw, sep)
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		return parts, nil
	}
}
