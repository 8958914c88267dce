// Package main is the entry point for the osiris API server.
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

	"osiris/internal/app"
	"osiris/internal/config"
	v1 "osiris/internal/infrastructure/http/v1"
	"osiris/internal/infrastructure/http/v1/handlers"
	"osiris/internal/infrastructure/storage/postgres"
	"osiris/pkg/logger"
)

const idempotencyTTL = 24 * time.Hour

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(logger.Config{
		Level:       cfg.Log.Level,
		Development: cfg.Log.Development,
	})
	if err != nil {
		fmt.Printf("failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx = logger.WithLogger(ctx, log)

	log.Infow("starting osiris server", "env", cfg.App.Env, "sri_environment", cfg.SRI.Environment)

	a, err := app.Build(ctx, cfg, app.Options{Migrate: true})
	if err != nil {
		log.Fatalw("failed to build application", "error", err)
	}
	defer a.Close()

	a.Refs.Start(ctx)

	if err := a.CheckEnvironment(ctx); err != nil {
		log.Fatalw("issuer settings and SRI endpoints disagree", "error", err)
	}

	idempotency := postgres.NewIdempotencyStore(a.TxM, idempotencyTTL)
	go cleanupIdempotency(ctx, idempotency, log)

	checks := map[string]handlers.Pinger{"database": a.Pool}
	if a.Redis != nil {
		checks["redis"] = handlers.PingFunc(func(ctx context.Context) error {
			return a.Redis.Ping(ctx).Err()
		})
	}

	services := v1.Services{
		Sales:        a.Sales,
		Purchases:    a.Purchases,
		Withholdings: a.Withholdings,
		Accounts:     a.Accounts,
		Kardex:       a.Kardex,
		Sequences:    a.Sequences,
		Queue:        a.QueueService(nil),
		Audit:        a.Audit,
		Recorder:     a.Recorder,
	}
	if a.Notifier != nil {
		services.DeadLetters = a.Notifier
	}

	router := v1.NewRouter(v1.RouterConfig{
		Services:     services,
		Logger:       log,
		Idempotency:  idempotency,
		HealthChecks: checks,
		Debug:        cfg.Log.Development,
	})

	server := &http.Server{
		Addr:         cfg.HTTP.Addr(),
		Handler:      router,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Infow("server starting", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalw("server failed", "error", err)
		}
	}()

	<-ctx.Done()
	log.Info("shutting down server...")

	// Give outstanding requests 30 seconds to complete
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Errorw("server forced to shutdown", "error", err)
	}
	log.Info("server stopped")
}

// cleanupIdempotency drops expired idempotency keys once an hour.
func cleanupIdempotency(ctx context.Context, store *postgres.IdempotencyStore, log *logger.Logger) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := store.CleanupExpired(ctx)
			if err != nil {
				log.Warnw("idempotency cleanup failed", "error", err)
				continue
			}
			if n > 0 {
				log.Infow("expired idempotency keys removed", "count", n)
			}
		}
	}
}
