package sriqueue

import (
	"context"
	"fmt"
	"time"

	"osiris/internal/core/id"
	"osiris/internal/core/tx"
	"osiris/internal/domain/electronic"
	"osiris/pkg/logger"
)

var _ electronic.Enqueuer = (*Queue)(nil)

// Queue is the producer side. It implements electronic.Enqueuer.
type Queue struct {
	repo        Repository
	notifier    Notifier
	maxAttempts int
	now         func() time.Time
}

// NewQueue creates the producer. notifier may be nil.
func NewQueue(repo Repository, notifier Notifier, maxAttempts int) *Queue {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &Queue{
		repo:        repo,
		notifier:    notifier,
		maxAttempts: maxAttempts,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// Enqueue stores a PENDIENTE item in the caller's transaction and wakes the
// worker once that transaction commits.
func (q *Queue) Enqueue(ctx context.Context, s electronic.Submission) error {
	now := q.now()
	item := &Item{
		ID:            id.New(),
		EntityID:      s.EntityID,
		DocumentType:  s.DocumentType,
		State:         StatePending,
		MaxAttempts:   q.maxAttempts,
		NextAttemptAt: now,
		Payload:       s.Payload,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := q.repo.Insert(ctx, item); err != nil {
		return fmt.Errorf("enqueue %s: %w", s.EntityID, err)
	}
	wake(ctx, q.notifier, item.ID)
	return nil
}

func wake(ctx context.Context, n Notifier, itemID id.ID) {
	if n == nil {
		return
	}
	tx.AfterCommit(ctx, func(ctx context.Context) {
		if err := n.Wake(ctx, itemID); err != nil {
			logger.Warn(ctx, "queue wake-up not published", "item_id", itemID, "error", err)
		}
	})
}
