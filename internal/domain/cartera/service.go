package cartera

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"osiris/internal/core/apperror"
	appctx "osiris/internal/core/context"
	"osiris/internal/core/id"
	"osiris/internal/core/tx"
	"osiris/internal/core/types"
	"osiris/internal/domain"
	"osiris/internal/domain/audit"
	"osiris/internal/domain/electronic"
	"osiris/pkg/logger"
)

const (
	auditAccount  = "account"
	auditReceived = "received_withholding"
)

// Service manages receivables, payables and received withholdings.
// Document services call Open, VoidFor and the withholding methods inside
// their own transaction, after locking the document row; the account row is
// always the last one locked.
type Service struct {
	repo  Repository
	txm   tx.Manager
	audit *audit.Service
	now   func() time.Time
}

func NewService(repo Repository, txm tx.Manager, auditSvc *audit.Service) *Service {
	return &Service{
		repo:  repo,
		txm:   txm,
		audit: auditSvc,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// Open creates the account of an issued sale or registered purchase.
// Opening it again returns the existing account.
func (s *Service) Open(ctx context.Context, kind Kind, documentID, partyID id.ID, total decimal.Decimal) (*Account, error) {
	if !kind.Valid() {
		return nil, apperror.NewValidation("unknown account kind").WithDetail("kind", string(kind))
	}
	var out *Account
	err := s.txm.RunInTransaction(ctx, func(ctx context.Context) error {
		existing, err := s.repo.GetAccountByDocument(ctx, kind, documentID)
		if err == nil {
			out = existing
			return nil
		}
		if !apperror.IsNotFound(err) {
			return err
		}

		a := newAccount(kind, documentID, partyID, total, s.now())
		a.UpdatedBy = appctx.GetActorID(ctx)
		if err := s.repo.CreateAccount(ctx, a); err != nil {
			return fmt.Errorf("create account: %w", err)
		}
		out = a
		return s.audit.Record(ctx, auditAccount, a.ID, audit.ActionCreate, nil, a.Snapshot())
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// VoidFor closes the account of a document being voided. Documents that
// never opened one are ignored. Fails with PreconditionFailed once payments
// or withholdings were applied.
func (s *Service) VoidFor(ctx context.Context, kind Kind, documentID id.ID) error {
	return s.txm.RunInTransaction(ctx, func(ctx context.Context) error {
		a, err := s.repo.LockAccountByDocument(ctx, kind, documentID)
		if apperror.IsNotFound(err) {
			return nil
		}
		if err != nil {
			return err
		}
		if a.State == AccountVoided {
			return nil
		}
		before := a.Snapshot()
		if err := a.void(); err != nil {
			return err
		}
		return s.save(ctx, a, audit.ActionVoid, before)
	})
}

// ApplyWithholding lowers the balance of a document's account by amount.
func (s *Service) ApplyWithholding(ctx context.Context, kind Kind, documentID id.ID, amount decimal.Decimal) error {
	return s.txm.RunInTransaction(ctx, func(ctx context.Context) error {
		a, err := s.lockForDocument(ctx, kind, documentID)
		if err != nil {
			return err
		}
		before := a.Snapshot()
		if err := a.applyWithholding(amount); err != nil {
			return err
		}
		return s.save(ctx, a, audit.ActionUpdate, before)
	})
}

// RevertWithholding gives back a withholding applied earlier.
func (s *Service) RevertWithholding(ctx context.Context, kind Kind, documentID id.ID, amount decimal.Decimal) error {
	return s.txm.RunInTransaction(ctx, func(ctx context.Context) error {
		a, err := s.lockForDocument(ctx, kind, documentID)
		if err != nil {
			return err
		}
		before := a.Snapshot()
		if err := a.revertWithholding(amount); err != nil {
			return err
		}
		return s.save(ctx, a, audit.ActionUpdate, before)
	})
}

// RegisterPayment applies a payment of at most the pending balance.
func (s *Service) RegisterPayment(ctx context.Context, req PaymentRequest) (*Payment, *Account, error) {
	if req.Method == "" {
		req.Method = electronic.PaymentCash
	}
	if !electronic.ValidPaymentMethod(req.Method) {
		return nil, nil, apperror.NewValidation("unknown payment method").WithDetail("method", req.Method)
	}
	if req.PaidOn.IsZero() {
		req.PaidOn = s.now()
	}

	var (
		payment *Payment
		account *Account
	)
	err := s.txm.RunInTransaction(ctx, func(ctx context.Context) error {
		a, err := s.repo.LockAccount(ctx, req.AccountID)
		if err != nil {
			return err
		}
		before := a.Snapshot()
		if err := a.applyPayment(req.Amount); err != nil {
			return err
		}
		p := &Payment{
			ID:        id.New(),
			AccountID: a.ID,
			Amount:    types.Q2(req.Amount),
			PaidOn:    req.PaidOn,
			Method:    req.Method,
			ActorID:   appctx.GetActorID(ctx),
			CreatedAt: s.now(),
		}
		if err := s.repo.AddPayment(ctx, p); err != nil {
			return fmt.Errorf("add payment: %w", err)
		}
		if err := s.save(ctx, a, audit.ActionUpdate, before); err != nil {
			return err
		}
		payment, account = p, a
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	logger.Info(ctx, "payment registered",
		"account_id", account.ID, "kind", account.Kind, "amount", types.Fixed2(payment.Amount),
		"balance", types.Fixed2(account.Balance))
	return payment, account, nil
}

// Get returns an account with its payments.
func (s *Service) Get(ctx context.Context, accountID id.ID) (*Account, []Payment, error) {
	a, err := s.repo.GetAccount(ctx, accountID)
	if err != nil {
		return nil, nil, err
	}
	payments, err := s.repo.ListPayments(ctx, accountID)
	if err != nil {
		return nil, nil, err
	}
	return a, payments, nil
}

// ForDocument returns the account opened by a sale or purchase.
func (s *Service) ForDocument(ctx context.Context, kind Kind, documentID id.ID) (*Account, error) {
	return s.repo.GetAccountByDocument(ctx, kind, documentID)
}

// List returns accounts, newest first.
func (s *Service) List(ctx context.Context, f AccountFilter) (domain.ListResult[*Account], error) {
	if f.Kind != "" && !f.Kind.Valid() {
		return domain.ListResult[*Account]{}, apperror.NewValidation("unknown account kind").WithDetail("kind", string(f.Kind))
	}
	if err := f.Normalize(); err != nil {
		return domain.ListResult[*Account]{}, err
	}
	return s.repo.ListAccounts(ctx, f)
}

func (s *Service) lockForDocument(ctx context.Context, kind Kind, documentID id.ID) (*Account, error) {
	a, err := s.repo.LockAccountByDocument(ctx, kind, documentID)
	if apperror.IsNotFound(err) {
		return nil, apperror.NewPreconditionFailed(string(kind), documentID, "has no open account")
	}
	return a, err
}

func (s *Service) save(ctx context.Context, a *Account, action audit.Action, before map[string]any) error {
	a.UpdatedAt = s.now()
	a.UpdatedBy = appctx.GetActorID(ctx)
	if err := s.repo.UpdateAccount(ctx, a); err != nil {
		return fmt.Errorf("update account: %w", err)
	}
	return s.audit.Record(ctx, auditAccount, a.ID, action, before, a.Snapshot())
}
