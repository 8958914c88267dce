package withholding

import (
	"context"
	"fmt"

	"osiris/internal/core/apperror"
	appctx "osiris/internal/core/context"
	"osiris/internal/core/id"
	"osiris/internal/core/statemachine"
	"osiris/internal/core/tx"
	"osiris/internal/domain"
	"osiris/internal/domain/audit"
	"osiris/internal/domain/cartera"
	"osiris/internal/domain/documents"
	"osiris/internal/domain/electronic"
	"osiris/internal/domain/history"
	"osiris/internal/domain/reference"
	"osiris/internal/domain/sequence"
	"osiris/pkg/logger"
)

// ServiceConfig wires the collaborators of the withholding service.
type ServiceConfig struct {
	Repo       Repository
	Purchases  PurchaseReader
	Refs       reference.Checker
	TxManager  tx.Manager
	Sequences  *sequence.Service
	Electronic *electronic.Service
	Recorder   *history.Recorder
	Audit      *audit.Service
	Accounts   *cartera.Service
}

// Service provides business operations for withholding receipts.
type Service struct {
	repo       Repository
	purchases  PurchaseReader
	refs       reference.Checker
	txm        tx.Manager
	sequences  *sequence.Service
	electronic *electronic.Service
	audit      *audit.Service
	accounts   *cartera.Service
	lifecycle  *domain.Lifecycle[State, Action]
}

// NewService creates a new withholding service.
func NewService(cfg ServiceConfig) *Service {
	return &Service{
		repo:       cfg.Repo,
		purchases:  cfg.Purchases,
		refs:       cfg.Refs,
		txm:        cfg.TxManager,
		sequences:  cfg.Sequences,
		electronic: cfg.Electronic,
		audit:      cfg.Audit,
		accounts:   cfg.Accounts,
		lifecycle: domain.NewLifecycle(history.KindWithholding, Machine, cfg.Recorder, StateDraft).
			VoidStates(StateVoided),
	}
}

// VoidRequest asks to annul a receipt.
type VoidRequest struct {
	WithholdingID   id.ID
	Reason          string
	PortalConfirmed bool
	ExpectedVersion int
}

// Create stores a draft receipt against a registered purchase.
func (s *Service) Create(ctx context.Context, w *Withholding) error {
	if err := w.Validate(ctx); err != nil {
		return err
	}
	p, err := s.purchases.Get(ctx, w.PurchaseID)
	if err != nil {
		return err
	}
	if err := w.CheckAgainst(p); err != nil {
		return err
	}
	if err := documents.RequireReferences(ctx, s.refs, w.References()); err != nil {
		return err
	}

	err = s.txm.RunInTransaction(ctx, func(ctx context.Context) error {
		if err := s.repo.Create(ctx, w); err != nil {
			return fmt.Errorf("create withholding: %w", err)
		}
		return s.audit.Record(ctx, string(history.KindWithholding), w.ID, audit.ActionCreate, nil, w.Snapshot())
	})
	if err != nil {
		return err
	}

	logger.Info(ctx, "withholding created", "id", w.ID, "purchase_id", w.PurchaseID)
	return nil
}

// Emit numbers the receipt. Physical receipts become EMITIDA; electronic
// ones become ENCOLADA and their electronic document is queued. Emitting a
// receipt that already left BORRADOR returns it unchanged.
func (s *Service) Emit(ctx context.Context, withholdingID id.ID, expectedVersion int) (*Withholding, error) {
	current, err := s.repo.GetByID(ctx, withholdingID)
	if err != nil {
		return nil, err
	}
	if current.State == StateIssued || current.State == StateQueued {
		return current, nil
	}
	action := current.emitAction()
	if !Machine.Can(current.State, action) {
		return nil, apperror.NewInvalidStateTransition(Machine.Entity(), string(current.State), string(action))
	}
	p, err := s.purchases.Get(ctx, current.PurchaseID)
	if err != nil {
		return nil, err
	}
	if err := current.CheckAgainst(p); err != nil {
		return nil, err
	}
	if err := documents.RequireReferences(ctx, s.refs, current.References()); err != nil {
		return nil, err
	}

	alloc, err := s.sequences.Allocate(ctx, sequence.AllocateRequest{
		EmissionPointID: current.EmissionPointID,
		DocumentType:    sequence.TypeWithholding,
		EntityID:        current.ID,
	})
	if err != nil {
		return nil, err
	}

	var out *Withholding
	err = s.txm.RunInTransaction(ctx, func(ctx context.Context) error {
		w, err := s.repo.GetForUpdate(ctx, withholdingID)
		if err != nil {
			return err
		}
		if w.State != StateDraft {
			out = w
			return nil
		}
		if err := domain.CheckVersion[State](w, Machine.Entity(), expectedVersion); err != nil {
			return err
		}
		// the purchase may have been voided since the check above
		locked, err := s.purchases.Lock(ctx, w.PurchaseID)
		if err != nil {
			return err
		}
		if err := w.CheckAgainst(locked); err != nil {
			return err
		}
		p = locked

		_, err = s.lifecycle.Apply(ctx, w, w.emitAction(), "",
			func(ctx context.Context, _ statemachine.Result[State]) error {
				w.AssignNumber(alloc.Value, alloc.Formatted)
				if err := s.accounts.ApplyWithholding(ctx, cartera.KindPayable, w.PurchaseID, w.TotalWithheld); err != nil {
					return err
				}
				return s.sequences.MarkConsumed(ctx, w.ID)
			},
			func(ctx context.Context) error {
				w.Touch(appctx.GetActorID(ctx))
				return s.repo.Update(ctx, w)
			})
		if err != nil {
			return err
		}

		if w.Electronic {
			subject, err := s.refs.Party(ctx, reference.KindSupplier, w.SupplierID)
			if err != nil {
				return fmt.Errorf("load withheld supplier: %w", err)
			}
			_, err = s.electronic.Issue(ctx, electronic.IssueRequest{
				ParentKind:      electronic.ParentWithholding,
				ParentID:        w.ID,
				DocumentType:    sequence.TypeWithholding,
				EmissionPointID: w.EmissionPointID,
				Sequential:      alloc.Value,
				IssueDate:       w.IssueDate,
				Voucher:         w.Voucher(p, subject),
			})
			if err != nil {
				return fmt.Errorf("issue electronic document: %w", err)
			}
		}
		out = w
		return nil
	})
	if err != nil {
		return nil, err
	}

	logger.Info(ctx, "withholding emitted", "id", out.ID, "number", out.FormattedNumber, "state", out.State)
	return out, nil
}

func (w *Withholding) emitAction() Action {
	if w.Electronic {
		return ActionEnqueue
	}
	return ActionEmit
}

// ElectronicAuthorized implements electronic.AuthorizationListener: an
// authorized receipt moves from ENCOLADA to EMITIDA in the same transaction.
func (s *Service) ElectronicAuthorized(ctx context.Context, doc *electronic.Document) error {
	w, err := s.repo.GetForUpdate(ctx, doc.ParentID)
	if err != nil {
		return err
	}
	if w.State != StateQueued {
		logger.Warn(ctx, "authorization for a receipt not waiting for it",
			"id", w.ID, "state", w.State, "access_key", doc.AccessKey)
		return nil
	}
	_, err = s.lifecycle.Apply(ctx, w, ActionAuthorize, "Autorizado por el SRI: "+doc.AuthorizationNumber,
		nil,
		func(ctx context.Context) error {
			w.Touch(appctx.GetActorID(ctx))
			return s.repo.Update(ctx, w)
		})
	return err
}

// HasActiveWithholding implements purchase.WithholdingLookup.
func (s *Service) HasActiveWithholding(ctx context.Context, purchaseID id.ID) (bool, error) {
	list, err := s.repo.ListByPurchase(ctx, purchaseID)
	if err != nil {
		return false, err
	}
	for _, w := range list {
		if w.Withholds() {
			return true, nil
		}
	}
	return false, nil
}

// Void annuls a receipt from BORRADOR, ENCOLADA or EMITIDA.
func (s *Service) Void(ctx context.Context, req VoidRequest) (*Withholding, error) {
	var out *Withholding
	err := s.txm.RunInTransaction(ctx, func(ctx context.Context) error {
		w, err := s.repo.GetForUpdate(ctx, req.WithholdingID)
		if err != nil {
			return err
		}
		if err := domain.CheckVersion[State](w, Machine.Entity(), req.ExpectedVersion); err != nil {
			return err
		}
		if w.Electronic && w.State != StateDraft {
			if err := s.checkElectronic(ctx, w, req.PortalConfirmed); err != nil {
				return err
			}
		}

		_, err = s.lifecycle.Apply(ctx, w, ActionVoid, req.Reason,
			func(ctx context.Context, res statemachine.Result[State]) error {
				w.VoidReason = res.Reason
				if res.From == StateDraft {
					return nil
				}
				return s.accounts.RevertWithholding(ctx, cartera.KindPayable, w.PurchaseID, w.TotalWithheld)
			},
			func(ctx context.Context) error {
				w.Touch(appctx.GetActorID(ctx))
				return s.repo.Update(ctx, w)
			})
		if err != nil {
			return err
		}
		out = w
		return nil
	})
	if err != nil {
		return nil, err
	}

	logger.Info(ctx, "withholding voided", "id", out.ID, "number", out.FormattedNumber)
	return out, nil
}

func (s *Service) checkElectronic(ctx context.Context, w *Withholding, portalConfirmed bool) error {
	ed, err := s.electronic.GetByParent(ctx, electronic.ParentWithholding, w.ID)
	if apperror.IsNotFound(err) {
		return nil
	}
	if err != nil {
		return err
	}
	if ed.InFlight() {
		return apperror.NewConflict("electronic receipt is still being processed by the tax authority").
			WithDetail("electronic_state", string(ed.State))
	}
	if ed.State == electronic.StateAuthorized && !portalConfirmed {
		return apperror.NewConflict("authorized receipt must be annulled in the tax authority portal first").
			WithDetail("access_key", ed.AccessKey)
	}
	return nil
}

// Get retrieves a receipt with lines.
func (s *Service) Get(ctx context.Context, withholdingID id.ID) (*Withholding, error) {
	return s.repo.GetByID(ctx, withholdingID)
}

// List retrieves receipts with filtering.
func (s *Service) List(ctx context.Context, filter ListFilter) (domain.ListResult[*Withholding], error) {
	if err := filter.Normalize(); err != nil {
		return domain.ListResult[*Withholding]{}, err
	}
	return s.repo.List(ctx, filter)
}

// VerifyHistory replays the state history of a receipt against its state.
func (s *Service) VerifyHistory(ctx context.Context, withholdingID id.ID) (bool, error) {
	w, err := s.repo.GetByID(ctx, withholdingID)
	if err != nil {
		return false, err
	}
	_, ok, err := s.lifecycle.Replay(ctx, w)
	return ok, err
}
