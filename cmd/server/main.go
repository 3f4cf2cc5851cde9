package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"golang.org/x/sync/errgroup"

	"certledger/internal/certificate/handler"
	"certledger/internal/platform/config"
	"certledger/internal/platform/httpserver"
	"certledger/internal/platform/logger"
	platformmetrics "certledger/internal/platform/metrics"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

// main wires high-level dependencies, exposes the HTTP router, and keeps the
// server lifecycle small. Business logic lives in internal services packages.
func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "certledger: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.FromEnv()
	if err != nil {
		return err
	}
	log := logger.New(cfg.LogLevel)
	pm := platformmetrics.New(version)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := build(ctx, cfg, log, pm.Registry)
	if err != nil {
		return err
	}
	defer app.close()

	router := chi.NewRouter()
	router.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	router.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if err := app.ready(r.Context()); err != nil {
			log.WarnContext(r.Context(), "readiness check failed", "error", err)
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	router.Handle("/metrics", pm.Handler())
	handler.New(app.service, cfg.Server.AdminToken,
		handler.WithLogger(log),
		handler.WithTimeout(cfg.Server.RequestTimeout),
	).Register(router)

	srv := httpserver.New(cfg.Server.Addr, router)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("starting certledger", "addr", cfg.Server.Addr, "version", version)
		return httpserver.Run(gctx, srv, cfg.Server.ShutdownTimeout)
	})
	if app.relay != nil {
		g.Go(func() error {
			if err := app.relay.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		})
	}
	g.Go(func() error {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		for {
			pm.SetBreakerOpen(app.breaker.Name(), app.breaker.IsOpen())
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
			}
		}
	})

	if err := g.Wait(); err != nil {
		log.Error("certledger stopped with error", "error", err)
		return err
	}
	log.Info("certledger stopped")
	return nil
}
