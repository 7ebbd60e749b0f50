// Package server runs the Bookline billing control plane: configuration,
// component wiring, HTTP routes and background loops.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/rcourtman/bookline/internal/logging"
)

const shutdownTimeout = 30 * time.Second

// Run starts the control plane HTTP server with graceful shutdown.
func Run(ctx context.Context, version string) error {
	cfg, err := LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logging.Init(logging.Config{
		Format:    cfg.LogFormat,
		Level:     cfg.LogLevel,
		Component: "bookline",
	})
	log.Info().Str("version", version).Msg("Starting Bookline billing control plane")

	comps, err := Open(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := comps.Close(); err != nil {
			log.Error().Err(err).Msg("Close components failed")
		}
	}()

	limiter := NewRateLimiter(cfg.WebhookRateLimit, time.Minute)
	mux := http.NewServeMux()
	RegisterRoutes(mux, &Deps{
		Config:         cfg,
		Components:     comps,
		WebhookLimiter: limiter,
		Version:        version,
	})

	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           logging.Middleware(mux),
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		runEntitlementStateMetrics(gctx, comps.Accounts)
		return nil
	})
	g.Go(func() error {
		limiter.Run(gctx)
		return nil
	})
	g.Go(func() error {
		log.Info().Str("addr", srv.Addr).Msg("Control plane listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("Shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Server shutdown error")
		}
		if err := comps.Email.Wait(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("Gave up waiting for in-flight emails")
		}
		return nil
	})

	err = g.Wait()
	log.Info().Msg("Control plane stopped")
	return err
}
