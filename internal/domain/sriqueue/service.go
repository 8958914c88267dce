package sriqueue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"osiris/internal/core/apperror"
	"osiris/internal/core/id"
	"osiris/internal/core/tx"
	"osiris/internal/domain/audit"
	"osiris/internal/domain/electronic"
	"osiris/pkg/logger"
)

const auditEntity = "sri_queue_item"

// Config tunes the consumer side.
type Config struct {
	BatchSize   int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
	// Lease bounds how long a claimed item may stay PROCESANDO.
	Lease time.Duration
	// ItemTimeout bounds the authority calls of one item.
	ItemTimeout time.Duration
	// Environment is the access-key environment digit of the endpoints the
	// Authority talks to. Documents keyed for another environment are not sent.
	// Empty skips the check.
	Environment string
}

// ServiceConfig wires the collaborators of the queue service.
type ServiceConfig struct {
	Repo       Repository
	TxManager  tx.Manager
	Electronic *electronic.Service
	Authority  Authority
	Audit      *audit.Service
	DeadLetter DeadLetter
	Notifier   Notifier
	Config     Config
}

// Service is the consumer side: it drives queued documents through the
// authority and keeps the items' bookkeeping.
type Service struct {
	repo       Repository
	txm        tx.Manager
	electronic *electronic.Service
	authority  Authority
	audit      *audit.Service
	deadLetter DeadLetter
	notifier   Notifier
	cfg        Config
}

// NewService creates the queue service.
func NewService(c ServiceConfig) *Service {
	cfg := c.Config
	if cfg.BatchSize < 1 {
		cfg.BatchSize = 10
	}
	if cfg.BaseBackoff <= 0 {
		cfg.BaseBackoff = 30 * time.Second
	}
	if cfg.Lease <= 0 {
		cfg.Lease = 2 * time.Minute
	}
	if cfg.ItemTimeout <= 0 || cfg.ItemTimeout > cfg.Lease {
		cfg.ItemTimeout = cfg.Lease / 2
	}
	return &Service{
		repo:       c.Repo,
		txm:        c.TxManager,
		electronic: c.Electronic,
		authority:  c.Authority,
		audit:      c.Audit,
		deadLetter: c.DeadLetter,
		notifier:   c.Notifier,
		cfg:        cfg,
	}
}

// ProcessDue recovers expired leases, claims due items and processes each
// one independently. Errors of single items are recorded on the item.
func (s *Service) ProcessDue(ctx context.Context, now time.Time) (ProcessResult, error) {
	var res ProcessResult
	if _, err := s.RecoverExpired(ctx, now); err != nil {
		return res, err
	}

	var items []*Item
	err := s.txm.RunInTransaction(ctx, func(ctx context.Context) error {
		var err error
		items, err = s.repo.ClaimDue(ctx, now, s.cfg.BatchSize, now.Add(s.cfg.Lease))
		return err
	})
	if err != nil {
		return res, fmt.Errorf("claim due items: %w", err)
	}
	res.Claimed = len(items)

	for _, item := range items {
		switch s.processItem(ctx, item, now) {
		case StateCompleted:
			res.Completed++
		case StateRetry:
			res.Retried++
		case StateFailed:
			res.Failed++
		}
	}
	if res.Claimed > 0 {
		logger.Info(ctx, "queue batch processed",
			"claimed", res.Claimed, "completed", res.Completed, "retried", res.Retried, "failed", res.Failed)
	}
	return res, nil
}

// RecoverExpired settles items left PROCESANDO by a crashed worker: they are
// rescheduled, or failed when no attempt is left.
func (s *Service) RecoverExpired(ctx context.Context, now time.Time) (int, error) {
	recovered := 0
	err := s.txm.RunInTransaction(ctx, func(ctx context.Context) error {
		items, err := s.repo.ExpiredLeases(ctx, now, s.cfg.BatchSize)
		if err != nil {
			return err
		}
		for _, item := range items {
			cause := errors.New("processing lease expired")
			if err := s.settleFailure(ctx, item, cause, now); err != nil {
				return err
			}
			recovered++
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("recover expired leases: %w", err)
	}
	if recovered > 0 {
		logger.Warn(ctx, "recovered expired queue leases", "count", recovered)
	}
	return recovered, nil
}

// processItem runs one item and stores its outcome. It returns the final item state.
func (s *Service) processItem(ctx context.Context, item *Item, now time.Time) State {
	callCtx, cancel := context.WithTimeout(ctx, s.cfg.ItemTimeout)
	outcome, procErr := s.drive(callCtx, item)
	cancel()

	err := s.txm.RunInTransaction(ctx, func(ctx context.Context) error {
		current, err := s.repo.GetForUpdate(ctx, item.ID)
		if err != nil {
			return err
		}
		if current.State != StateProcessing || current.AttemptsMade != item.AttemptsMade {
			// Someone else already settled or reclaimed it.
			return nil
		}
		if procErr != nil {
			return s.settleFailure(ctx, current, procErr, now)
		}
		done := s.nowUTC()
		current.State = StateCompleted
		current.LeaseUntil = nil
		current.LastError = outcome
		current.CompletedAt = &done
		current.UpdatedAt = done
		return s.repo.Update(ctx, current)
	})
	if err != nil {
		logger.Error(ctx, "queue item outcome not stored", "item_id", item.ID, "error", err)
		return StateProcessing
	}
	switch {
	case procErr == nil:
		return StateCompleted
	case item.Exhausted():
		return StateFailed
	default:
		return StateRetry
	}
}

// drive pushes the electronic document forward until it reaches a state the
// queue has nothing more to do for. The current document state decides each
// step, so a retried item never resubmits an accepted document. The returned
// string is an informational note for the completed item.
func (s *Service) drive(ctx context.Context, item *Item) (string, error) {
	doc, err := s.electronic.Get(ctx, item.EntityID)
	if err != nil {
		return "", err
	}
	if err := s.checkTarget(doc); err != nil {
		return "", err
	}

	for {
		switch doc.State {
		case electronic.StateAuthorized, electronic.StateRejected:
			return "", nil

		case electronic.StateReturned:
			return "documento devuelto: " + doc.Messages, nil

		case electronic.StateQueued:
			payload := item.Payload
			if payload == "" {
				payload = doc.Payload
			}
			key, err := electronic.AccessKeyOf(payload)
			if err != nil {
				return "", err
			}
			if key != doc.AccessKey {
				return "", apperror.NewConflict("queued payload belongs to another access key").
					WithDetail("document_key", doc.AccessKey).
					WithDetail("payload_key", key)
			}
			signed, err := s.authority.Sign(ctx, payload)
			if err != nil {
				return "", asExternal("sign", err)
			}
			if doc, err = s.electronic.MarkSigned(ctx, doc.ID, signed); err != nil {
				return "", err
			}

		case electronic.StateSigned:
			rec, err := s.authority.Submit(ctx, doc.SignedXML)
			if err != nil {
				return "", asExternal("reception", err)
			}
			if rec.Status == ReceptionReturned && !rec.AlreadyReceived() {
				doc, err = s.electronic.MarkReturned(ctx, doc.ID, FormatMessages(rec.Messages))
			} else {
				doc, err = s.electronic.MarkSent(ctx, doc.ID)
			}
			if err != nil {
				return "", err
			}

		case electronic.StateSent:
			auth, err := s.authority.Authorize(ctx, doc.AccessKey)
			if err != nil {
				return "", asExternal("authorization", err)
			}
			switch auth.Status {
			case AuthorizationGranted:
				doc, err = s.electronic.MarkAuthorized(ctx, doc.ID, electronic.Authorization{
					Number:   auth.Number,
					At:       auth.AuthorizedAt,
					Messages: FormatMessages(auth.Messages),
				})
			case AuthorizationDenied:
				doc, err = s.electronic.MarkRejected(ctx, doc.ID, FormatMessages(auth.Messages))
			default:
				return "", apperror.NewExternalSubmission("authorization",
					fmt.Errorf("authorization still %q", auth.Status))
			}
			if err != nil {
				return "", err
			}

		default:
			return "", fmt.Errorf("electronic document %s in unknown state %q", doc.ID, doc.State)
		}
	}
}

// checkTarget refuses documents that would go to the wrong environment:
// a production key must never reach the test endpoints and vice versa.
func (s *Service) checkTarget(doc *electronic.Document) error {
	if s.cfg.Environment == "" || doc.State == electronic.StateAuthorized || doc.State == electronic.StateRejected {
		return nil
	}
	if env := electronic.AccessKeyEnvironment(doc.AccessKey); env != s.cfg.Environment {
		return apperror.NewPreconditionFailed("electronic document", doc.ID,
			fmt.Sprintf("keyed for environment %q but the authority serves %q", env, s.cfg.Environment))
	}
	return nil
}

// settleFailure schedules the next attempt or fails the item for good.
// Must run inside a transaction holding the item row.
func (s *Service) settleFailure(ctx context.Context, item *Item, cause error, now time.Time) error {
	before := item.Snapshot()
	item.LastError = cause.Error()
	item.LeaseUntil = nil
	item.UpdatedAt = s.nowUTC()

	if !item.Exhausted() {
		item.State = StateRetry
		item.NextAttemptAt = now.Add(Backoff(s.cfg.BaseBackoff, s.cfg.MaxBackoff, item.AttemptsMade))
		logger.Warn(ctx, "queue item scheduled for retry",
			"item_id", item.ID, "entity_id", item.EntityID, "attempt", item.AttemptsMade,
			"next_attempt_at", item.NextAttemptAt, "error", cause)
		return s.repo.Update(ctx, item)
	}

	item.State = StateFailed
	if err := s.repo.Update(ctx, item); err != nil {
		return err
	}
	failure := apperror.NewMaxAttemptsExceeded(item.ID, item.AttemptsMade).WithCause(cause)
	logger.Error(ctx, "queue item failed", "item_id", item.ID, "entity_id", item.EntityID, "error", failure)
	if err := s.audit.Record(ctx, auditEntity, item.ID, audit.ActionUpdate, before, item.Snapshot()); err != nil {
		return err
	}
	if s.deadLetter != nil {
		failed := *item
		tx.AfterCommit(ctx, func(ctx context.Context) {
			if err := s.deadLetter.Push(ctx, &failed); err != nil {
				logger.Warn(ctx, "dead letter not published", "item_id", failed.ID, "error", err)
			}
		})
	}
	return nil
}

// Requeue gives a failed item, or a completed one whose document was
// returned, a fresh set of attempts. Returned documents go back to EN_COLA.
func (s *Service) Requeue(ctx context.Context, itemID id.ID, reason string) (*Item, error) {
	var out *Item
	err := s.txm.RunInTransaction(ctx, func(ctx context.Context) error {
		item, err := s.repo.GetForUpdate(ctx, itemID)
		if err != nil {
			return err
		}
		doc, err := s.electronic.Get(ctx, item.EntityID)
		if err != nil {
			return err
		}
		returned := doc.State == electronic.StateReturned
		if item.State != StateFailed && !(item.State == StateCompleted && returned) {
			return apperror.NewConflict("only failed items or returned documents can be requeued").
				WithDetail("state", string(item.State)).
				WithDetail("electronic_state", string(doc.State))
		}
		if returned {
			if _, err := s.electronic.Requeue(ctx, doc.ID, reason); err != nil {
				return err
			}
		}

		before := item.Snapshot()
		now := s.nowUTC()
		item.State = StatePending
		item.AttemptsMade = 0
		item.NextAttemptAt = now
		item.LeaseUntil = nil
		item.LastError = ""
		item.CompletedAt = nil
		item.UpdatedAt = now
		if err := s.repo.Update(ctx, item); err != nil {
			return err
		}
		if err := s.audit.Record(ctx, auditEntity, item.ID, audit.ActionUpdate, before, item.Snapshot()); err != nil {
			return err
		}
		wake(ctx, s.notifier, item.ID)
		out = item
		return nil
	})
	if err != nil {
		return nil, err
	}
	logger.Info(ctx, "queue item requeued", "item_id", out.ID, "entity_id", out.EntityID)
	return out, nil
}

// Get returns one item.
func (s *Service) Get(ctx context.Context, itemID id.ID) (*Item, error) {
	return s.repo.GetByID(ctx, itemID)
}

// List returns items for operators, newest first, with the total count.
func (s *Service) List(ctx context.Context, f Filter) ([]*Item, int, error) {
	if err := f.Normalize(); err != nil {
		return nil, 0, err
	}
	return s.repo.List(ctx, f)
}

// Stats counts items per state.
func (s *Service) Stats(ctx context.Context) (Stats, error) {
	return s.repo.CountByState(ctx)
}

func (s *Service) nowUTC() time.Time { return time.Now().UTC() }

func asExternal(op string, err error) error {
	if apperror.IsExternalSubmission(err) {
		return err
	}
	return apperror.NewExternalSubmission(op, err)
}
