package purchase

import (
	"context"
	"fmt"
	"strings"

	"osiris/internal/core/apperror"
	appctx "osiris/internal/core/context"
	"osiris/internal/core/id"
	"osiris/internal/core/statemachine"
	"osiris/internal/core/tx"
	"osiris/internal/domain"
	"osiris/internal/domain/audit"
	"osiris/internal/domain/cartera"
	"osiris/internal/domain/documents"
	"osiris/internal/domain/history"
	"osiris/internal/domain/kardex"
	"osiris/internal/domain/reference"
	"osiris/internal/domain/sequence"
	"osiris/pkg/logger"
)

// ServiceConfig wires the collaborators of the purchase service.
type ServiceConfig struct {
	Repo      Repository
	Refs      reference.Checker
	TxManager tx.Manager
	Sequences *sequence.Service
	Kardex    *kardex.Service
	Recorder  *history.Recorder
	Audit     *audit.Service
	Accounts  *cartera.Service
}

// Service provides business operations for purchases.
type Service struct {
	repo         Repository
	refs         reference.Checker
	txm          tx.Manager
	sequences    *sequence.Service
	kardex       *kardex.Service
	audit        *audit.Service
	accounts     *cartera.Service
	lifecycle    *domain.Lifecycle[State, Action]
	withholdings WithholdingLookup
}

// NewService creates a new purchase service.
func NewService(cfg ServiceConfig) *Service {
	return &Service{
		repo:      cfg.Repo,
		refs:      cfg.Refs,
		txm:       cfg.TxManager,
		sequences: cfg.Sequences,
		kardex:    cfg.Kardex,
		audit:     cfg.Audit,
		accounts:  cfg.Accounts,
		lifecycle: domain.NewLifecycle(history.KindPurchase, Machine, cfg.Recorder, StateDraft).
			VoidStates(StateVoided),
	}
}

// SetWithholdingLookup breaks the construction cycle with the withholding service.
func (s *Service) SetWithholdingLookup(l WithholdingLookup) {
	s.withholdings = l
}

// VoidRequest asks to annul a purchase.
type VoidRequest struct {
	PurchaseID      id.ID
	Reason          string
	ExpectedVersion int
}

// Create stores a draft purchase.
func (s *Service) Create(ctx context.Context, p *Purchase) error {
	if err := p.Validate(ctx); err != nil {
		return err
	}
	if err := documents.RequireReferences(ctx, s.refs, p.References()); err != nil {
		return err
	}

	err := s.txm.RunInTransaction(ctx, func(ctx context.Context) error {
		if err := s.repo.Create(ctx, p); err != nil {
			return fmt.Errorf("create purchase: %w", err)
		}
		return s.audit.Record(ctx, string(history.KindPurchase), p.ID, audit.ActionCreate, nil, p.Snapshot())
	})
	if err != nil {
		return err
	}

	logger.Info(ctx, "purchase created", "id", p.ID, "total", p.Total.StringFixed(2))
	return nil
}

// Register books the purchase: numbers it when self-issued, puts every
// line into stock at its unit cost and opens its payable. Registering twice returns it unchanged.
func (s *Service) Register(ctx context.Context, purchaseID id.ID, expectedVersion int) (*Purchase, error) {
	current, err := s.repo.GetByID(ctx, purchaseID)
	if err != nil {
		return nil, err
	}
	if current.State == StateRegistered {
		return current, nil
	}
	if !Machine.Can(current.State, ActionRegister) {
		return nil, apperror.NewInvalidStateTransition(Machine.Entity(), string(current.State), string(ActionRegister))
	}
	if !current.SelfIssued && strings.TrimSpace(current.SupplierDocumentNumber) == "" {
		return nil, apperror.NewValidation("supplier document number is required").
			WithDetail("field", "supplierDocumentNumber")
	}
	if err := documents.RequireReferences(ctx, s.refs, current.References()); err != nil {
		return nil, err
	}

	var alloc *sequence.Allocation
	if current.SelfIssued {
		alloc, err = s.sequences.Allocate(ctx, sequence.AllocateRequest{
			EmissionPointID: current.EmissionPointID,
			DocumentType:    sequence.TypePurchaseSettlement,
			EntityID:        current.ID,
		})
		if err != nil {
			return nil, err
		}
	}

	var out *Purchase
	err = s.txm.RunInTransaction(ctx, func(ctx context.Context) error {
		p, err := s.repo.GetForUpdate(ctx, purchaseID)
		if err != nil {
			return err
		}
		if p.State == StateRegistered {
			out = p
			return nil
		}
		if err := domain.CheckVersion[State](p, Machine.Entity(), expectedVersion); err != nil {
			return err
		}

		_, err = s.lifecycle.Apply(ctx, p, ActionRegister, "",
			func(ctx context.Context, _ statemachine.Result[State]) error {
				for _, l := range p.Lines {
					_, err := s.kardex.RecordIngress(ctx, kardex.IngressRequest{
						WarehouseID: p.WarehouseID,
						ProductID:   l.ProductID,
						Quantity:    l.Quantity,
						UnitCost:    l.UnitCost,
						Reference:   p.InventoryReference(),
					})
					if err != nil {
						return err
					}
				}
				if _, err := s.accounts.Open(ctx, cartera.KindPayable, p.ID, p.SupplierID, p.Total); err != nil {
					return err
				}
				if alloc == nil {
					return nil
				}
				p.AssignNumber(alloc.Value, alloc.Formatted)
				return s.sequences.MarkConsumed(ctx, p.ID)
			},
			func(ctx context.Context) error {
				p.Touch(appctx.GetActorID(ctx))
				return s.repo.Update(ctx, p)
			})
		if err != nil {
			return err
		}
		out = p
		return nil
	})
	if err != nil {
		return nil, err
	}

	logger.Info(ctx, "purchase registered", "id", out.ID, "number", out.FormattedNumber)
	return out, nil
}

// Void annuls a purchase. A registered purchase takes its goods back out of
// stock, which fails with NegativeStock once they were sold.
func (s *Service) Void(ctx context.Context, req VoidRequest) (*Purchase, error) {
	var out *Purchase
	err := s.txm.RunInTransaction(ctx, func(ctx context.Context) error {
		p, err := s.repo.GetForUpdate(ctx, req.PurchaseID)
		if err != nil {
			return err
		}
		if err := domain.CheckVersion[State](p, Machine.Entity(), req.ExpectedVersion); err != nil {
			return err
		}
		// Withholding emission locks the purchase too, so this check sees
		// every receipt emitted before the lock was granted.
		if s.withholdings != nil {
			active, err := s.withholdings.HasActiveWithholding(ctx, req.PurchaseID)
			if err != nil {
				return err
			}
			if active {
				return apperror.NewConflict("purchase has an active withholding receipt; void it first").
					WithDetail("purchase_id", req.PurchaseID.String())
			}
		}
		if p.State == StateRegistered {
			if err := s.accounts.VoidFor(ctx, cartera.KindPayable, p.ID); err != nil {
				return err
			}
		}

		_, err = s.lifecycle.Apply(ctx, p, ActionVoid, req.Reason,
			func(ctx context.Context, res statemachine.Result[State]) error {
				p.VoidReason = res.Reason
				if res.From != StateRegistered {
					return nil
				}
				_, err := s.kardex.Reverse(ctx, p.InventoryReference(), res.Reason)
				return err
			},
			func(ctx context.Context) error {
				p.Touch(appctx.GetActorID(ctx))
				return s.repo.Update(ctx, p)
			})
		if err != nil {
			return err
		}
		out = p
		return nil
	})
	if err != nil {
		return nil, err
	}

	logger.Info(ctx, "purchase voided", "id", out.ID)
	return out, nil
}

// Lock loads a purchase and locks its row until the surrounding transaction ends.
func (s *Service) Lock(ctx context.Context, purchaseID id.ID) (*Purchase, error) {
	return s.repo.GetForUpdate(ctx, purchaseID)
}

// Get retrieves a purchase with lines.
func (s *Service) Get(ctx context.Context, purchaseID id.ID) (*Purchase, error) {
	return s.repo.GetByID(ctx, purchaseID)
}

// List retrieves purchases with filtering.
func (s *Service) List(ctx context.Context, filter ListFilter) (domain.ListResult[*Purchase], error) {
	if err := filter.Normalize(); err != nil {
		return domain.ListResult[*Purchase]{}, err
	}
	return s.repo.List(ctx, filter)
}

// VerifyHistory replays the state history of a purchase against its state.
func (s *Service) VerifyHistory(ctx context.Context, purchaseID id.ID) (bool, error) {
	p, err := s.repo.GetByID(ctx, purchaseID)
	if err != nil {
		return false, err
	}
	_, ok, err := s.lifecycle.Replay(ctx, p)
	return ok, err
}
