package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// Init acquires every runtime resource in dependency order. It is idempotent;
// a failed call releases whatever it had already acquired.
func (a *App) Init(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	a.stateMu.Lock()
	if a.initialized {
		a.stateMu.Unlock()
		return nil
	}
	loggerProvider := a.loggerProvider
	a.stateMu.Unlock()

	cfg := a.cfg
	logger := a.logger

	var td teardown
	success := false
	defer func() {
		if !success {
			td.release(context.Background(), logger)
		}
	}()

	if loggerProvider != nil {
		td.add("logger provider", func(ctx context.Context) error {
			return loggerProvider.Shutdown(ctx, logger.Logger)
		})
	}

	meterProvider, queryMetrics, refreshMetrics, err := initMetrics(cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize metrics: %w", err)
	}
	if meterProvider != nil {
		td.add("meter provider", func(ctx context.Context) error {
			return meterProvider.Shutdown(ctx, logger.Logger)
		})
	}

	tracerProvider, err := initTracing(cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}
	if tracerProvider != nil {
		td.add("tracer provider", func(ctx context.Context) error {
			return tracerProvider.Shutdown(ctx, logger.Logger)
		})
	}

	db, dbStatsReg, err := connectDB(cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	td.add("database pool", func(context.Context) error {
		if dbStatsReg != nil {
			if err := dbStatsReg.Unregister(); err != nil {
				logger.Warn("failed to unregister DB stats metrics", slog.String("error", err.Error()))
			}
		}
		return db.Close()
	})

	if err := configureDatabase(ctx, cfg, logger, db, a.effectiveDatabase, a.dsnPresent); err != nil {
		return err
	}

	manager, schemaCancel, err := startSchemaManager(ctx, cfg, logger, db, refreshMetrics, a.effectiveDatabase)
	if err != nil {
		return fmt.Errorf("failed to start schema manager: %w", err)
	}
	td.add("schema refresh manager", func(ctx context.Context) error {
		schemaCancel()
		waitCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		return manager.Wait(waitCtx)
	})

	graphqlHandler, err := buildGraphQLHandler(cfg, logger, manager, queryMetrics)
	if err != nil {
		return fmt.Errorf("failed to build GraphQL handler: %w", err)
	}

	adminHandler, err := buildAdminHandler(cfg, logger, manager)
	if err != nil {
		return fmt.Errorf("failed to build admin handler: %w", err)
	}

	mux := buildRouter(cfg, logger, db, graphqlHandler, adminHandler, meterProvider)
	handler := wrapHTTPHandler(cfg, logger, mux)

	serverAddr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := buildServer(cfg, handler, serverAddr)
	td.add("http server", func(ctx context.Context) error {
		if err := srv.Shutdown(ctx); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})

	a.stateMu.Lock()
	a.meterProvider = meterProvider
	a.queryMetrics = queryMetrics
	a.refreshMetrics = refreshMetrics
	a.tracerProvider = tracerProvider
	a.db = db
	a.dbStatsReg = dbStatsReg
	a.manager = manager
	a.schemaCancel = schemaCancel
	a.graphqlHandler = graphqlHandler
	a.adminHandler = adminHandler
	a.mux = mux
	a.handler = handler
	a.serverAddr = serverAddr
	a.srv = srv
	a.teardown = td
	a.initialized = true
	a.stateMu.Unlock()

	success = true
	return nil
}
