// Package server wires configuration, observability, the database pool, and
// the schema refresh manager into a runnable HTTP server.
package server

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"relgraph/internal/config"
	"relgraph/internal/logging"
	"relgraph/internal/observability"
	"relgraph/internal/refresh"
)

// App owns runtime resources for the server lifecycle.
type App struct {
	cfg    *config.Config
	logger *logging.Logger

	loggerProvider *observability.LoggerProvider

	effectiveDatabase string
	dsnPresent        bool

	meterProvider  *observability.MeterProvider
	queryMetrics   *observability.QueryMetrics
	refreshMetrics *observability.RefreshMetrics
	tracerProvider *observability.TracerProvider

	db         *sql.DB
	dbStatsReg interface{ Unregister() error }

	manager      *refresh.Manager
	schemaCancel context.CancelFunc

	graphqlHandler http.Handler
	adminHandler   http.Handler
	mux            *http.ServeMux
	handler        http.Handler

	serverAddr string
	srv        *http.Server

	teardown teardown

	stateMu      sync.Mutex
	initialized  bool
	started      bool
	serverErrors chan error

	shutdownOnce sync.Once
}

// New creates an App lifecycle wrapper.
func New(cfg *config.Config, logger *logging.Logger) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	effectiveDatabase, err := cfg.Database.EffectiveDatabaseName()
	if err != nil {
		return nil, fmt.Errorf("failed to resolve effective database configuration: %w", err)
	}

	return &App{
		cfg:               cfg,
		logger:            logger,
		effectiveDatabase: effectiveDatabase,
		dsnPresent:        strings.TrimSpace(cfg.Database.ConnectionString) != "",
	}, nil
}

// AttachLoggerProvider registers an optional logger provider for shutdown cleanup.
func (a *App) AttachLoggerProvider(provider *observability.LoggerProvider) {
	a.stateMu.Lock()
	defer a.stateMu.Unlock()
	a.loggerProvider = provider
}
