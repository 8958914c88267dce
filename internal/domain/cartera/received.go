package cartera

import (
	"context"
	"fmt"
	"strings"

	"osiris/internal/core/apperror"
	appctx "osiris/internal/core/context"
	"osiris/internal/core/id"
	"osiris/internal/domain"
	"osiris/internal/domain/audit"
	"osiris/internal/domain/electronic"
	"osiris/pkg/logger"
)

// RegisterReceived stores a draft withholding receipt handed over by the
// customer of an issued sale. The sale is identified through its receivable.
func (s *Service) RegisterReceived(ctx context.Context, r *ReceivedWithholding) error {
	if err := r.Validate(); err != nil {
		return err
	}
	if r.AccessKey != "" {
		if err := electronic.ValidateAccessKey(r.AccessKey); err != nil {
			return err
		}
	}

	err := s.txm.RunInTransaction(ctx, func(ctx context.Context) error {
		account, err := s.repo.GetAccountByDocument(ctx, KindReceivable, r.SaleID)
		if apperror.IsNotFound(err) {
			return apperror.NewPreconditionFailed("sale", r.SaleID, "is not issued")
		}
		if err != nil {
			return err
		}
		if account.State == AccountVoided {
			return apperror.NewPreconditionFailed("sale", r.SaleID, "is voided")
		}
		if id.IsNil(r.CustomerID) {
			r.CustomerID = account.PartyID
		}
		if r.CustomerID != account.PartyID {
			return apperror.NewValidation("customer does not match the sale").
				WithDetail("customer_id", r.CustomerID.String())
		}
		if r.Total.GreaterThan(account.Total) {
			return apperror.NewValidation("withheld total exceeds the sale total")
		}
		taken, err := s.repo.ReceivedNumberTaken(ctx, r.CustomerID, r.Number)
		if err != nil {
			return err
		}
		if taken {
			return apperror.NewDuplicate("received withholding", "number", r.Number)
		}

		now := s.now()
		actor := appctx.GetActorID(ctx)
		r.CreatedAt, r.UpdatedAt = now, now
		r.CreatedBy, r.UpdatedBy = actor, actor
		if err := s.repo.CreateReceived(ctx, r); err != nil {
			return fmt.Errorf("create received withholding: %w", err)
		}
		return s.audit.Record(ctx, auditReceived, r.ID, audit.ActionCreate, nil, r.Snapshot())
	})
	if err != nil {
		return err
	}

	logger.Info(ctx, "received withholding registered", "id", r.ID, "sale_id", r.SaleID, "total", r.Total.StringFixed(2))
	return nil
}

// ApplyReceived moves a draft receipt to APLICADA and lowers the sale's receivable.
func (s *Service) ApplyReceived(ctx context.Context, receivedID id.ID) (*ReceivedWithholding, error) {
	var out *ReceivedWithholding
	err := s.txm.RunInTransaction(ctx, func(ctx context.Context) error {
		r, err := s.repo.LockReceived(ctx, receivedID)
		if err != nil {
			return err
		}
		if r.State != ReceivedDraft {
			return apperror.NewInvalidStateTransition("received withholding", string(r.State), "aplicar")
		}
		if err := s.ApplyWithholding(ctx, KindReceivable, r.SaleID, r.Total); err != nil {
			return err
		}
		before := r.Snapshot()
		r.State = ReceivedApplied
		if err := s.saveReceived(ctx, r, audit.ActionTransition, before); err != nil {
			return err
		}
		out = r
		return nil
	})
	if err != nil {
		return nil, err
	}

	logger.Info(ctx, "received withholding applied", "id", out.ID, "sale_id", out.SaleID)
	return out, nil
}

// VoidReceived annuls a receipt. An applied one gives its amount back to the
// sale's receivable.
func (s *Service) VoidReceived(ctx context.Context, receivedID id.ID, reason string) (*ReceivedWithholding, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, apperror.NewValidation("void reason is required").WithDetail("field", "reason")
	}

	var out *ReceivedWithholding
	err := s.txm.RunInTransaction(ctx, func(ctx context.Context) error {
		r, err := s.repo.LockReceived(ctx, receivedID)
		if err != nil {
			return err
		}
		if r.State == ReceivedVoided {
			return apperror.NewInvalidStateTransition("received withholding", string(r.State), "anular")
		}
		if r.State == ReceivedApplied {
			if err := s.RevertWithholding(ctx, KindReceivable, r.SaleID, r.Total); err != nil {
				return err
			}
		}
		before := r.Snapshot()
		r.State = ReceivedVoided
		r.VoidReason = reason
		if err := s.saveReceived(ctx, r, audit.ActionVoid, before); err != nil {
			return err
		}
		out = r
		return nil
	})
	if err != nil {
		return nil, err
	}

	logger.Info(ctx, "received withholding voided", "id", out.ID, "sale_id", out.SaleID)
	return out, nil
}

// GetReceived returns a receipt with lines.
func (s *Service) GetReceived(ctx context.Context, receivedID id.ID) (*ReceivedWithholding, error) {
	return s.repo.GetReceived(ctx, receivedID)
}

// ListReceived returns receipts, newest first.
func (s *Service) ListReceived(ctx context.Context, f ReceivedFilter) (domain.ListResult[*ReceivedWithholding], error) {
	if err := f.Normalize(); err != nil {
		return domain.ListResult[*ReceivedWithholding]{}, err
	}
	return s.repo.ListReceived(ctx, f)
}

func (s *Service) saveReceived(ctx context.Context, r *ReceivedWithholding, action audit.Action, before map[string]any) error {
	r.UpdatedAt = s.now()
	r.UpdatedBy = appctx.GetActorID(ctx)
	if err := s.repo.UpdateReceived(ctx, r); err != nil {
		return fmt.Errorf("update received withholding: %w", err)
	}
	return s.audit.Record(ctx, auditReceived, r.ID, action, before, r.Snapshot())
}
