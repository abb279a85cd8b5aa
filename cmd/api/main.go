package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-logr/logr"
	"github.com/go-logr/stdr"

	"github.com/01moynul/edu-content-api/internal/config"
	"github.com/01moynul/edu-content-api/internal/database"
	"github.com/01moynul/edu-content-api/internal/handlers"
	"github.com/01moynul/edu-content-api/internal/router"
	"github.com/01moynul/edu-content-api/internal/routes"
)

const shutdownTimeout = 15 * time.Second

func main() {
	// 0. --- Load Environment Variables (.env) ---
	if !config.LoadDotEnv() {
		log.Println("WARNING: Could not find or load .env file. Relying on system environment variables.")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	stdr.SetVerbosity(cfg.LogVerbosity)
	logger := stdr.New(log.New(os.Stderr, "", log.LstdFlags))

	// 1. --- Database Router (primary for writes, replica for reads) ---
	// Connections are opened lazily on first use.
	dbRouter := router.New(
		database.NewOpener(cfg.Primary.DSN(), cfg.ConnectTimeout),
		database.NewOpener(cfg.Replica.DSN(), cfg.ConnectTimeout),
		router.WithLogger(logger.WithName("router")),
		router.WithQueryTimeout(cfg.QueryTimeout),
		router.WithProbeTimeout(cfg.ConnectTimeout),
	)
	defer dbRouter.Close()

	logger.Info("database router configured",
		"primary", cfg.Primary.Redacted(),
		"replica", cfg.Replica.Redacted())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. --- Background Worker: replica health probe ---
	if cfg.ProbeInterval > 0 {
		go dbRouter.WatchReplica(ctx, cfg.ProbeInterval)
		logger.Info("replica probe started", "interval", cfg.ProbeInterval.String())
	}

	// --- Application Setup ---
	app := handlers.New(dbRouter, logger.WithName("api"))

	// --- Router Setup ---
	engine := routes.SetupRouter(app, routes.Options{
		AllowedOrigin: cfg.AllowedOrigin,
		JWTSecret:     []byte(cfg.JWTSecret),
	})
	if cfg.JWTSecret == "" {
		logger.Info("JWT_SECRET not set, write routes are unauthenticated")
	}

	// --- Start Server ---
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	if err := serve(ctx, srv, logger); err != nil {
		logger.Error(err, "server stopped")
	}
}

// serve runs srv until ctx is done, then lets in-flight requests finish
// before returning, so the deferred dbRouter.Close() never pulls a
// connection out from under a request.
func serve(ctx context.Context, srv *http.Server, logger logr.Logger) error {
	serverErr := make(chan error, 1)
	go func() {
		logger.Info("starting content API server", "addr", srv.Addr)
		serverErr <- srv.ListenAndServe()
	}()

	select {
	case err := <-serverErr:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		logger.Info("shutting down")
	}

	// --- Graceful Shutdown ---
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
