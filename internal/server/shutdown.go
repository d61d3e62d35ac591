package server

import (
	"context"
	"log/slog"

	"relgraph/internal/logging"
)

// teardown accumulates release functions as Init brings resources up. Release
// order is the reverse of registration order, so nothing closes while a
// later-acquired resource still depends on it.
type teardown struct {
	names    []string
	releases []func(context.Context) error
}

func (t *teardown) add(name string, release func(context.Context) error) {
	t.names = append(t.names, name)
	t.releases = append(t.releases, release)
}

// release walks the registered functions back to front. A failing release is
// logged and skipped; the remaining resources still get closed.
func (t *teardown) release(ctx context.Context, logger *logging.Logger) {
	for i := len(t.releases) - 1; i >= 0; i-- {
		if logger != nil {
			logger.Info("closing " + t.names[i])
		}
		if err := t.releases[i](ctx); err != nil && logger != nil {
			logger.Warn("close failed",
				slog.String("component", t.names[i]),
				slog.String("error", err.Error()),
			)
		}
	}
}

// Shutdown releases everything Init acquired. Repeat calls are no-ops; only
// the first caller runs the teardown.
func (a *App) Shutdown(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	a.shutdownOnce.Do(func() {
		a.stateMu.Lock()
		td := a.teardown
		a.started = false
		a.stateMu.Unlock()

		td.release(ctx, a.logger)
	})

	return nil
}
