package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/oshokin/guardian-engine/internal/config"
	"github.com/oshokin/guardian-engine/internal/logger"
	"github.com/oshokin/guardian-engine/internal/service/common"
)

const (
	// readHeaderTimeout bounds slow-header attacks on the listener.
	readHeaderTimeout = 10 * time.Second
	// shutdownTimeout is how long in-flight requests get to finish.
	shutdownTimeout = 10 * time.Second
)

// Options controls the guardian-server process and configuration.
type Options struct {
	// ConfigPath specifies the path to the settings YAML file.
	ConfigPath string
	// ListenAddress provides an optional listen address override.
	ListenAddress string
	// SessionFile overrides the session snapshot path for the file backend.
	SessionFile string
}

// Run starts the HTTP server and blocks until the context is canceled or the
// server stops. Configuration is loaded first, then the store, the audit sink
// and the engine are wired together.
func Run(ctx context.Context, opts *Options) error {
	// Set context with logger name for tracking.
	ctx = logger.WithName(ctx, "guardian-server")

	// A second daemon against the same session file corrupts snapshots.
	if err := common.EnsureSingleInstance(); err != nil {
		return err
	}

	settings, err := config.Load(opts.ConfigPath)
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}

	if opts.SessionFile != "" {
		settings.SessionFile = opts.SessionFile
	}

	listenAddress := settings.ListenAddress
	if opts.ListenAddress != "" {
		listenAddress = opts.ListenAddress
	}

	svc, err := newService(ctx, settings)
	if err != nil {
		return fmt.Errorf("initialise service: %w", err)
	}
	defer svc.Close(ctx)

	httpServer := &http.Server{
		Addr:              listenAddress,
		Handler:           svc.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
	}

	logger.InfoKV(ctx, "Guardian server listening",
		"listen_address", listenAddress,
		"store_backend", string(settings.StoreBackend),
	)

	// Done channel is closed after Shutdown finishes to ensure we block
	// until the server fully stops before returning.
	done := make(chan struct{})

	go func() {
		<-ctx.Done()
		logger.Info(ctx, "Shutting down HTTP server")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.ErrorKV(ctx, "HTTP server shutdown failed", "error", err)
		}

		close(done)
	}()

	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve HTTP: %w", err)
	}

	<-done
	logger.Info(ctx, "HTTP server stopped")

	return nil
}
