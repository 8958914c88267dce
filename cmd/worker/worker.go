package main

import (
	"context"
	"time"

	"osiris/internal/domain/sriqueue"
	"osiris/pkg/logger"
)

// batchProcessor is the part of sriqueue.Service the worker drives.
type batchProcessor interface {
	ProcessDue(ctx context.Context, now time.Time) (sriqueue.ProcessResult, error)
}

// WorkerConfig tunes the polling loop.
type WorkerConfig struct {
	PollInterval time.Duration
	// BatchSize is the claim size of the queue service. A full batch means
	// more work is likely due, so the loop runs again without waiting.
	BatchSize int
}

// QueueWorker polls the SRI submission queue. Besides the ticker it can be
// woken early by a notification channel.
type QueueWorker struct {
	svc  batchProcessor
	cfg  WorkerConfig
	log  *logger.Logger
	wake <-chan struct{}
	now  func() time.Time
}

// NewQueueWorker creates a worker for svc.
func NewQueueWorker(svc batchProcessor, cfg WorkerConfig, log *logger.Logger) *QueueWorker {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}
	if cfg.BatchSize < 1 {
		cfg.BatchSize = 10
	}
	return &QueueWorker{
		svc: svc,
		cfg: cfg,
		log: log.WithComponent("sri-worker"),
		now: func() time.Time { return time.Now().UTC() },
	}
}

// WakeOn makes every receive on ch trigger an immediate run.
func (w *QueueWorker) WakeOn(ch <-chan struct{}) {
	w.wake = ch
}

// Run blocks until ctx is cancelled.
func (w *QueueWorker) Run(ctx context.Context) {
	w.log.Infow("queue worker started", "poll_interval", w.cfg.PollInterval.String())

	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	// Run immediately on start
	w.drain(ctx)

	wake := w.wake
	for {
		select {
		case <-ctx.Done():
			w.log.Info("queue worker stopped")
			return
		case <-ticker.C:
			w.drain(ctx)
		case _, ok := <-wake:
			if !ok {
				// subscription closed; keep polling
				wake = nil
				continue
			}
			w.drain(ctx)
		}
	}
}

// drain processes batches until one comes back short.
func (w *QueueWorker) drain(ctx context.Context) {
	for ctx.Err() == nil {
		res, err := w.svc.ProcessDue(ctx, w.now())
		if err != nil {
			if ctx.Err() == nil {
				w.log.Errorw("queue run failed", "error", err)
			}
			return
		}
		if res.Claimed < w.cfg.BatchSize {
			return
		}
	}
}
