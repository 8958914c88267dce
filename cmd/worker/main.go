// Package main is the entry point for the osiris SRI submission worker.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"osiris/internal/app"
	"osiris/internal/config"
	"osiris/internal/infrastructure/sri"
	"osiris/pkg/logger"
)

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

	ctx, cancel := context.WithCancel(logger.WithLogger(context.Background(), log))
	defer cancel()

	log.Infow("starting osiris worker", "sri_environment", cfg.SRI.Environment)

	a, err := app.Build(ctx, cfg, app.Options{})
	if err != nil {
		log.Fatalw("failed to build application", "error", err)
	}
	defer a.Close()
	a.Refs.Start(ctx)

	if err := a.CheckEnvironment(ctx); err != nil {
		log.Fatalw("issuer settings and SRI endpoints disagree", "error", err)
	}

	authority, err := sri.NewAuthorityFromConfig(cfg.SRI)
	if err != nil {
		log.Fatalw("failed to load signing certificate", "error", err)
	}

	w := NewQueueWorker(a.QueueService(authority), WorkerConfig{
		PollInterval: cfg.Queue.PollInterval,
		BatchSize:    cfg.Queue.BatchSize,
	}, log)

	if a.Notifier != nil {
		wake, err := a.Notifier.Subscribe(ctx)
		if err != nil {
			log.Warnw("redis wake-up subscription failed, polling only", "error", err)
		} else {
			w.WakeOn(wake)
		}
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		w.Run(ctx)
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down worker...")
	cancel()

	<-done
	log.Info("worker stopped")
}
