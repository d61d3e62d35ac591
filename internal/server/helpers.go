package server

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"relgraph/internal/config"
	"relgraph/internal/logging"
	"relgraph/internal/middleware"
	"relgraph/internal/observability"
	"relgraph/internal/planner"
	"relgraph/internal/refresh"
	"relgraph/internal/schema"

	"github.com/XSAM/otelsql"
	_ "github.com/go-sql-driver/mysql"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

const (
	healthCheckTimeout  = 5 * time.Second
	schemaReloadTimeout = 15 * time.Second
)

// InitLogger builds the process logger and, when log export is enabled, the
// OTLP logger provider feeding the otelslog bridge.
func InitLogger(cfg *config.Config) (*logging.Logger, *observability.LoggerProvider, error) {
	loggerCfg := logging.Config{
		Level:  cfg.Observability.Logging.Level,
		Format: cfg.Observability.Logging.Format,
	}
	logger := logging.New(loggerCfg)
	slog.SetDefault(logger.Logger)

	if !cfg.Observability.Logging.ExportsEnabled {
		return logger, nil, nil
	}

	logger.Info("initializing OpenTelemetry logging",
		slog.String("service_name", cfg.Observability.ServiceName),
		slog.String("service_version", cfg.Observability.ServiceVersion),
		slog.String("environment", cfg.Observability.Environment),
		slog.String("otlp_endpoint", cfg.Observability.OTLP.Endpoint),
		slog.String("otlp_protocol", cfg.Observability.OTLP.Protocol),
		slog.Bool("insecure", cfg.Observability.OTLP.Insecure),
	)

	loggerProvider, err := observability.InitLoggerProvider(observabilityConfig(cfg))
	if err != nil {
		return nil, nil, err
	}

	loggerCfg.LoggerProvider = loggerProvider.Provider()
	logger = logging.New(loggerCfg)
	slog.SetDefault(logger.Logger)

	return logger, loggerProvider, nil
}

func observabilityConfig(cfg *config.Config) observability.Config {
	return observability.Config{
		ServiceName:      cfg.Observability.ServiceName,
		ServiceVersion:   cfg.Observability.ServiceVersion,
		Environment:      cfg.Observability.Environment,
		TraceSampleRatio: cfg.Observability.TraceSampleRatio,
		OTLP: observability.OTLPConfig{
			Endpoint:    cfg.Observability.OTLP.Endpoint,
			Protocol:    cfg.Observability.OTLP.Protocol,
			Insecure:    cfg.Observability.OTLP.Insecure,
			CAFile:      cfg.Observability.OTLP.CAFile,
			CertFile:    cfg.Observability.OTLP.CertFile,
			KeyFile:     cfg.Observability.OTLP.KeyFile,
			Headers:     cfg.Observability.OTLP.Headers,
			Timeout:     cfg.Observability.OTLP.Timeout,
			Compression: cfg.Observability.OTLP.Compression,
		},
	}
}

func initMetrics(cfg *config.Config, logger *logging.Logger) (*observability.MeterProvider, *observability.QueryMetrics, *observability.RefreshMetrics, error) {
	if !cfg.Observability.MetricsEnabled {
		return nil, nil, nil, nil
	}

	logger.Info("initializing OpenTelemetry metrics",
		slog.String("service_name", cfg.Observability.ServiceName),
		slog.String("service_version", cfg.Observability.ServiceVersion),
		slog.String("environment", cfg.Observability.Environment),
	)

	meterProvider, err := observability.InitMeterProvider(observabilityConfig(cfg))
	if err != nil {
		return nil, nil, nil, err
	}

	queryMetrics, err := observability.InitQueryMetrics()
	if err != nil {
		return nil, nil, nil, err
	}

	refreshMetrics, err := observability.InitRefreshMetrics()
	if err != nil {
		return nil, nil, nil, err
	}

	return meterProvider, queryMetrics, refreshMetrics, nil
}

func initTracing(cfg *config.Config, logger *logging.Logger) (*observability.TracerProvider, error) {
	if !cfg.Observability.TracingEnabled {
		return nil, nil
	}

	logger.Info("initializing OpenTelemetry tracing",
		slog.String("service_name", cfg.Observability.ServiceName),
		slog.String("otlp_endpoint", cfg.Observability.OTLP.Endpoint),
		slog.String("otlp_protocol", cfg.Observability.OTLP.Protocol),
		slog.Float64("sample_ratio", cfg.Observability.TraceSampleRatio),
	)

	return observability.InitTracerProvider(observabilityConfig(cfg))
}

func connectDB(cfg *config.Config, logger *logging.Logger) (*sql.DB, interface{ Unregister() error }, error) {
	// Custom TLS configs must be registered with the driver before Open.
	if err := cfg.Database.RegisterTLS(); err != nil {
		return nil, nil, fmt.Errorf("failed to register database TLS config: %w", err)
	}

	dsn := cfg.Database.DSN()

	if !cfg.Observability.MetricsEnabled && !cfg.Observability.TracingEnabled {
		db, err := sql.Open("mysql", dsn)
		if err != nil {
			return nil, nil, err
		}
		return db, nil, nil
	}

	opts := []otelsql.Option{
		otelsql.WithAttributes(semconv.DBSystemMySQL),
	}
	if cfg.Observability.TracingEnabled {
		opts = append(opts, otelsql.WithSpanOptions(otelsql.SpanOptions{
			DisableErrSkip: true,
		}))
	}

	db, err := otelsql.Open("mysql", dsn, opts...)
	if err != nil {
		return nil, nil, err
	}

	var dbStatsReg interface{ Unregister() error }
	if cfg.Observability.MetricsEnabled {
		dbStatsReg, err = otelsql.RegisterDBStatsMetrics(db, otelsql.WithAttributes(semconv.DBSystemMySQL))
		if err != nil {
			logger.Warn("failed to register DB stats metrics", slog.String("error", err.Error()))
		}
	}

	logger.Info("database instrumentation enabled",
		slog.Bool("metrics", cfg.Observability.MetricsEnabled),
		slog.Bool("tracing", cfg.Observability.TracingEnabled),
	)
	return db, dbStatsReg, nil
}

func configureDatabase(ctx context.Context, cfg *config.Config, logger *logging.Logger, db *sql.DB, effectiveDatabase string, dsnPresent bool) error {
	if ctx == nil {
		ctx = context.Background()
	}
	db.SetMaxOpenConns(cfg.Database.Pool.MaxOpen)
	db.SetMaxIdleConns(cfg.Database.Pool.MaxIdle)
	db.SetConnMaxLifetime(cfg.Database.Pool.MaxLifetime)

	if err := waitForDatabase(ctx, cfg, logger, db); err != nil {
		return err
	}

	logger.Info("connected to database",
		slog.String("database", effectiveDatabase),
		slog.Bool("dsn_present", dsnPresent),
		slog.Int("pool_max_open", cfg.Database.Pool.MaxOpen),
		slog.Int("pool_max_idle", cfg.Database.Pool.MaxIdle),
		slog.Duration("pool_max_lifetime", cfg.Database.Pool.MaxLifetime),
	)
	return nil
}

func waitForDatabase(ctx context.Context, cfg *config.Config, logger *logging.Logger, db *sql.DB) error {
	if ctx == nil {
		ctx = context.Background()
	}
	timeout := cfg.Database.ConnectTimeout
	interval := cfg.Database.ConnectRetryInterval

	// A zero timeout means a single attempt.
	if timeout == 0 {
		return db.PingContext(ctx)
	}
	if interval <= 0 {
		interval = 2 * time.Second
	}

	deadline := time.Now().Add(timeout)
	attempt := 0

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		attempt++
		err := db.PingContext(ctx)
		if err == nil {
			if attempt > 1 {
				logger.Info("database connection established", slog.Int("attempts", attempt))
			}
			return nil
		}

		if time.Now().After(deadline) {
			return fmt.Errorf("database not available after %v: %w", timeout, err)
		}

		logger.Warn("database not ready, retrying...",
			slog.Int("attempt", attempt),
			slog.Duration("retry_in", interval),
			slog.String("error", err.Error()),
		)
		time.Sleep(interval)

		interval = min(interval*2, 30*time.Second)
	}
}

func startSchemaManager(ctx context.Context, cfg *config.Config, logger *logging.Logger, db *sql.DB, metrics *observability.RefreshMetrics, effectiveDatabase string) (*refresh.Manager, context.CancelFunc, error) {
	manager, err := refresh.NewManager(ctx, refresh.Config{
		DB:       db,
		Database: effectiveDatabase,
		Build: schema.Options{
			Naming:    cfg.Naming,
			Junctions: cfg.Junctions,
			Limits: planner.Limits{
				MaxDepth:    cfg.Server.GraphQLMaxDepth,
				MaxPageSize: cfg.Server.GraphQLMaxPageSize,
				MaxCost:     cfg.Server.GraphQLMaxCost,
			},
			Logger: logger.Logger,
		},
		Handler: schema.HandlerOptions{
			GraphiQL: cfg.Server.GraphiQLEnabled,
		},
		MinInterval: cfg.Server.SchemaRefreshMinInterval,
		MaxInterval: cfg.Server.SchemaRefreshMaxInterval,
		Logger:      logger,
		Metrics:     metrics,
	})
	if err != nil {
		return nil, nil, err
	}

	// The refresh loop outlives the Init context; its own cancel func is the
	// shutdown hook.
	schemaCtx, schemaCancel := context.WithCancel(context.Background())
	manager.Start(schemaCtx)

	return manager, schemaCancel, nil
}

func oidcConfig(cfg *config.Config) middleware.OIDCConfig {
	return middleware.OIDCConfig{
		Enabled:       cfg.Server.Auth.OIDCEnabled,
		IssuerURL:     cfg.Server.Auth.OIDCIssuerURL,
		Audience:      cfg.Server.Auth.OIDCAudience,
		ClockSkew:     cfg.Server.Auth.OIDCClockSkew,
		SkipTLSVerify: cfg.Server.Auth.OIDCSkipTLSVerify,
	}
}

// buildGraphQLHandler assembles the query endpoint. The manager serves
// whichever snapshot is active at request time, so hot swaps need no remount.
// Middleware order: logging outermost, then auth, then metrics.
func buildGraphQLHandler(cfg *config.Config, logger *logging.Logger, manager *refresh.Manager, queryMetrics *observability.QueryMetrics) (http.Handler, error) {
	var handler http.Handler = manager

	if cfg.Observability.MetricsEnabled && queryMetrics != nil {
		handler = middleware.QueryMetrics(queryMetrics)(handler)
		logger.Info("GraphQL metrics middleware enabled")
	}

	if cfg.Server.Auth.OIDCEnabled {
		authMiddleware, err := middleware.OIDCAuth(oidcConfig(cfg), logger)
		if err != nil {
			return nil, err
		}
		handler = authMiddleware(handler)
		logger.Info("OIDC auth middleware enabled")
	}

	return middleware.Logging(logger)(handler), nil
}

// buildAdminHandler returns the reload endpoint, or nil when it is disabled.
// OIDC guards it when enabled; otherwise a shared admin token is required.
func buildAdminHandler(cfg *config.Config, logger *logging.Logger, manager *refresh.Manager) (http.Handler, error) {
	if !cfg.Server.Admin.SchemaReloadEnabled {
		return nil, nil
	}

	var adminHandler http.Handler = schemaReloadHandler(manager)
	if cfg.Server.Auth.OIDCEnabled {
		authMiddleware, err := middleware.OIDCAuth(oidcConfig(cfg), logger)
		if err != nil {
			return nil, err
		}
		adminHandler = authMiddleware(adminHandler)
		logger.Info("admin endpoints require OIDC authentication")
	} else {
		tokenMiddleware, err := middleware.AdminTokenAuth(cfg.Server.Admin.AuthToken)
		if err != nil {
			return nil, fmt.Errorf("schema reload endpoint enabled without OIDC: %w", err)
		}
		adminHandler = tokenMiddleware(adminHandler)
		logger.Info("admin endpoints require the admin token")
	}

	return middleware.Logging(logger)(adminHandler), nil
}

func buildRouter(cfg *config.Config, logger *logging.Logger, db *sql.DB, graphqlHandler http.Handler, adminHandler http.Handler, meterProvider *observability.MeterProvider) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/graphql", graphqlHandler)
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/" {
			http.Redirect(w, r, "/graphql", http.StatusFound)
			return
		}
		http.NotFound(w, r)
	})

	mux.HandleFunc("/healthz", healthHandler(db))

	if adminHandler != nil {
		mux.Handle("/admin/reload-schema", adminHandler)
		logger.Info("schema reload endpoint enabled", slog.String("path", "/admin/reload-schema"))
	}

	if cfg.Observability.MetricsEnabled && meterProvider != nil {
		mux.Handle("/metrics", promhttp.Handler())
		logger.Info("metrics endpoint enabled", slog.String("path", "/metrics"))
	}

	return mux
}

func wrapHTTPHandler(cfg *config.Config, logger *logging.Logger, handler http.Handler) http.Handler {
	if cfg.Observability.MetricsEnabled || cfg.Observability.TracingEnabled {
		handler = otelhttp.NewHandler(handler, "http.server",
			otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
				return httpRootSpanName(r)
			}),
		)
		logger.Info("HTTP instrumentation enabled")
	}

	if cfg.Server.CORSEnabled {
		handler = middleware.CORS(middleware.CORSConfig{
			Enabled:          cfg.Server.CORSEnabled,
			AllowedOrigins:   cfg.Server.CORSAllowedOrigins,
			AllowedMethods:   cfg.Server.CORSAllowedMethods,
			AllowedHeaders:   cfg.Server.CORSAllowedHeaders,
			AllowCredentials: cfg.Server.CORSAllowCredentials,
			MaxAge:           cfg.Server.CORSMaxAge,
		})(handler)
	}

	return handler
}

func httpRootSpanName(r *http.Request) string {
	if r == nil {
		return "HTTP /*"
	}

	method := strings.TrimSpace(r.Method)
	if method == "" {
		method = "HTTP"
	}

	return method + " " + normalizeHTTPSpanRoute(r.URL.Path)
}

// normalizeHTTPSpanRoute keeps span cardinality bounded to the known routes.
func normalizeHTTPSpanRoute(rawPath string) string {
	switch rawPath {
	case "/", "/graphql", "/healthz", "/metrics", "/admin/reload-schema":
		return rawPath
	default:
		return "/*"
	}
}

func buildServer(cfg *config.Config, handler http.Handler, serverAddr string) *http.Server {
	return &http.Server{
		Addr:         serverAddr,
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}
}

func startServer(cfg *config.Config, logger *logging.Logger, srv *http.Server, serverAddr string) chan error {
	serverErrors := make(chan error, 1)
	go func() {
		logAttrs := []any{
			slog.String("address", serverAddr),
			slog.String("graphql_endpoint", "/graphql"),
			slog.String("health_endpoint", "/healthz"),
			slog.Int("graphql_max_depth", cfg.Server.GraphQLMaxDepth),
			slog.String("log_level", cfg.Observability.Logging.Level),
			slog.String("log_format", cfg.Observability.Logging.Format),
		}
		if cfg.Observability.MetricsEnabled {
			logAttrs = append(logAttrs, slog.String("metrics_endpoint", "/metrics"))
		}
		logger.Info("server starting", logAttrs...)

		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrors <- fmt.Errorf("server failed: %w", err)
		}
	}()
	return serverErrors
}

// healthHandler reports liveness of the database connection.
func healthHandler(db *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		reqLogger := logging.FromContext(r.Context())
		w.Header().Set("Content-Type", "application/json")

		ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
		defer cancel()

		if err := db.PingContext(ctx); err != nil {
			reqLogger.Error("health check failed",
				slog.String("error", err.Error()),
				slog.String("check", "database"),
			)
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = fmt.Fprint(w, `{"status":"unhealthy","database":"failed"}`)
			return
		}

		w.WriteHeader(http.StatusOK)
		_, _ = fmt.Fprint(w, `{"status":"healthy","database":"ok"}`)
	}
}

func schemaReloadHandler(manager *refresh.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		reqLogger := logging.FromContext(r.Context())
		w.Header().Set("Content-Type", "application/json")

		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			_, _ = fmt.Fprint(w, `{"error":"method not allowed"}`)
			return
		}

		authCtx, authenticated := middleware.AuthFromContext(r.Context())
		logAttrs := []any{
			slog.String("operation", "schema_reload"),
			slog.String("remote_addr", r.RemoteAddr),
		}
		if authenticated {
			logAttrs = append(logAttrs, slog.String("authenticated_user", authCtx.Subject))
		}
		reqLogger.Info("admin endpoint accessed", logAttrs...)

		refreshCtx, refreshCancel := context.WithTimeout(r.Context(), schemaReloadTimeout)
		defer refreshCancel()

		if err := manager.RefreshNow(refreshCtx); err != nil {
			reqLogger.Error("schema reload failed", slog.String("error", err.Error()))
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = fmt.Fprint(w, `{"status":"error","message":"schema reload failed"}`)
			return
		}

		snap := manager.Snapshot()
		reqLogger.Info("schema reloaded", slog.Uint64("version", snap.Version))
		w.WriteHeader(http.StatusOK)
		_, _ = fmt.Fprintf(w, `{"status":"ok","version":%d}`, snap.Version)
	}
}
