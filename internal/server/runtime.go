package server

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
)

// Start begins serving on the configured address. Init must have succeeded
// first; a second Start returns the error channel from the first.
func (a *App) Start() (<-chan error, error) {
	a.stateMu.Lock()
	defer a.stateMu.Unlock()

	switch {
	case !a.initialized:
		return nil, errors.New("start called before init")
	case a.started:
		return a.serverErrors, nil
	}

	a.serverErrors = startServer(a.cfg, a.logger, a.srv, a.serverAddr)
	a.started = true
	return a.serverErrors, nil
}

// WaitForStop blocks until a shutdown signal arrives or the server fails,
// returning "signal" or "server_error" as the reason. A nil serverErrors falls
// back to the channel Start produced.
func (a *App) WaitForStop(stop <-chan os.Signal, serverErrors <-chan error) (string, error) {
	if serverErrors == nil {
		a.stateMu.Lock()
		serverErrors = a.serverErrors
		a.stateMu.Unlock()
	}
	if stop == nil && serverErrors == nil {
		return "", errors.New("nothing to wait on: no signal channel and the server never started")
	}

	// A nil channel blocks forever in select, which stands in for whichever
	// source is absent.
	select {
	case sig := <-stop:
		if a.logger != nil {
			a.logger.Info("received shutdown signal", slog.String("signal", sig.String()))
		}
		return "signal", nil
	case err := <-serverErrors:
		if err == nil {
			err = fmt.Errorf("server exited without reporting an error")
		}
		return "server_error", err
	}
}
