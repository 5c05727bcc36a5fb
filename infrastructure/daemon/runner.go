package daemon

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/r3e-network/mgmtctl/infrastructure/logging"
	"github.com/r3e-network/mgmtctl/infrastructure/metrics"
	"github.com/r3e-network/mgmtctl/infrastructure/middleware"
)

// ApplyStandardMiddleware wires the daemon's router with the same logging,
// recovery, metrics, and body-limit middleware every mgmtctl process uses.
func ApplyStandardMiddleware(b *BaseDaemon, bodyLimitBytes int64) {
	router := b.Router()
	logger := b.Logger()

	router.Use(middleware.LoggingMiddleware(logger))
	router.Use(middleware.NewRecoveryMiddleware(logger).Handler)
	if metrics.Enabled() {
		collector := metrics.Init(b.Name())
		router.Use(middleware.MetricsMiddleware(b.Name(), collector))
		router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	}
	router.Use(middleware.NewBodyLimitMiddleware(bodyLimitBytes).Handler)
}

// Serve starts the daemon, listens on addr with its router, and blocks until
// SIGINT/SIGTERM, at which point it gracefully shuts down the HTTP server
// and stops the daemon. shutdownTimeout bounds how long in-flight requests
// and the daemon's own Stop are given before the process exits anyway.
func Serve(ctx context.Context, b *BaseDaemon, addr string, shutdownTimeout time.Duration) error {
	if err := b.Start(ctx); err != nil {
		return err
	}

	server := &http.Server{
		Addr:              addr,
		Handler:           b.Router(),
		ReadTimeout:       30 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}

	serveErrCh := make(chan error, 1)
	go func() {
		b.Logger().WithFields(map[string]interface{}{"addr": addr}).Info("daemon listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serveErrCh <- err
			return
		}
		serveErrCh <- nil
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serveErrCh:
		if err != nil {
			return err
		}
	case <-sigCh:
		log.Println("shutting down...")
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		b.Logger().WithError(err).Warn("http server shutdown")
	}
	if err := b.Stop(); err != nil {
		b.Logger().WithError(err).Warn("daemon stop")
	}
	return nil
}
