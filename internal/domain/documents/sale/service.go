package sale

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
	"osiris/internal/domain/kardex"
	"osiris/internal/domain/reference"
	"osiris/internal/domain/sequence"
	"osiris/pkg/logger"
)

// ServiceConfig wires the collaborators of the sale service.
type ServiceConfig struct {
	Repo       Repository
	Refs       reference.Checker
	TxManager  tx.Manager
	Sequences  *sequence.Service
	Kardex     *kardex.Service
	Electronic *electronic.Service
	Recorder   *history.Recorder
	Audit      *audit.Service
	Accounts   *cartera.Service
}

// Service provides business operations for sales.
type Service struct {
	repo       Repository
	refs       reference.Checker
	txm        tx.Manager
	sequences  *sequence.Service
	kardex     *kardex.Service
	electronic *electronic.Service
	audit      *audit.Service
	accounts   *cartera.Service
	lifecycle  *domain.Lifecycle[State, Action]
}

// NewService creates a new sale service.
func NewService(cfg ServiceConfig) *Service {
	return &Service{
		repo:       cfg.Repo,
		refs:       cfg.Refs,
		txm:        cfg.TxManager,
		sequences:  cfg.Sequences,
		kardex:     cfg.Kardex,
		electronic: cfg.Electronic,
		audit:      cfg.Audit,
		accounts:   cfg.Accounts,
		lifecycle: domain.NewLifecycle(history.KindSale, Machine, cfg.Recorder, StateDraft).
			VoidStates(StateVoided),
	}
}

// VoidRequest asks to annul a sale.
type VoidRequest struct {
	SaleID id.ID
	Reason string
	// PortalConfirmed must be set when the invoice was already authorized:
	// the operator confirms it was annulled in the authority's portal.
	PortalConfirmed bool
	ExpectedVersion int
}

// Create stores a draft sale.
func (s *Service) Create(ctx context.Context, doc *Sale) error {
	if err := doc.Validate(ctx); err != nil {
		return err
	}
	if err := documents.RequireReferences(ctx, s.refs, doc.References()); err != nil {
		return err
	}

	err := s.txm.RunInTransaction(ctx, func(ctx context.Context) error {
		if err := s.repo.Create(ctx, doc); err != nil {
			return fmt.Errorf("create sale: %w", err)
		}
		return s.audit.Record(ctx, string(history.KindSale), doc.ID, audit.ActionCreate, nil, doc.Snapshot())
	})
	if err != nil {
		return err
	}

	logger.Info(ctx, "sale created", "id", doc.ID, "total", doc.Total.StringFixed(2))
	return nil
}

// Emit issues the sale: allocates its FACTURA number, takes the goods out of
// stock freezing their unit cost, opens its receivable and, for electronic
// sales, queues the electronic document. Emitting an issued sale returns it unchanged.
func (s *Service) Emit(ctx context.Context, saleID id.ID, expectedVersion int) (*Sale, error) {
	current, err := s.repo.GetByID(ctx, saleID)
	if err != nil {
		return nil, err
	}
	if current.State == StateIssued {
		return current, nil
	}
	if !Machine.Can(current.State, ActionEmit) {
		return nil, apperror.NewInvalidStateTransition(Machine.Entity(), string(current.State), string(ActionEmit))
	}
	if err := documents.RequireReferences(ctx, s.refs, current.References()); err != nil {
		return nil, err
	}

	// The number is allocated in its own transaction before the document
	// transaction starts, so the counter lock is never held across it.
	alloc, err := s.sequences.Allocate(ctx, sequence.AllocateRequest{
		EmissionPointID: current.EmissionPointID,
		DocumentType:    sequence.TypeInvoice,
		EntityID:        current.ID,
	})
	if err != nil {
		return nil, err
	}

	var out *Sale
	err = s.txm.RunInTransaction(ctx, func(ctx context.Context) error {
		doc, err := s.repo.GetForUpdate(ctx, saleID)
		if err != nil {
			return err
		}
		if doc.State == StateIssued {
			out = doc
			return nil
		}
		if err := domain.CheckVersion[State](doc, Machine.Entity(), expectedVersion); err != nil {
			return err
		}

		_, err = s.lifecycle.Apply(ctx, doc, ActionEmit, "",
			func(ctx context.Context, _ statemachine.Result[State]) error {
				doc.AssignNumber(alloc.Value, alloc.Formatted)
				for i := range doc.Lines {
					cost, err := s.kardex.RecordEgress(ctx, kardex.EgressRequest{
						WarehouseID: doc.WarehouseID,
						ProductID:   doc.Lines[i].ProductID,
						Quantity:    doc.Lines[i].Quantity,
						Reference:   doc.InventoryReference(),
					})
					if err != nil {
						return err
					}
					doc.Lines[i].UnitCost = cost
				}
				if _, err := s.accounts.Open(ctx, cartera.KindReceivable, doc.ID, doc.CustomerID, doc.Total); err != nil {
					return err
				}
				return s.sequences.MarkConsumed(ctx, doc.ID)
			},
			func(ctx context.Context) error {
				doc.Touch(appctx.GetActorID(ctx))
				return s.repo.Update(ctx, doc)
			})
		if err != nil {
			return err
		}

		if doc.Electronic {
			voucher, err := s.voucher(ctx, doc)
			if err != nil {
				return err
			}
			_, err = s.electronic.Issue(ctx, electronic.IssueRequest{
				ParentKind:      electronic.ParentSale,
				ParentID:        doc.ID,
				DocumentType:    sequence.TypeInvoice,
				EmissionPointID: doc.EmissionPointID,
				Sequential:      alloc.Value,
				IssueDate:       doc.IssueDate,
				Voucher:         voucher,
			})
			if err != nil {
				return fmt.Errorf("issue electronic document: %w", err)
			}
		}
		out = doc
		return nil
	})
	if err != nil {
		return nil, err
	}

	logger.Info(ctx, "sale emitted", "id", out.ID, "number", out.FormattedNumber)
	return out, nil
}

// voucher reads the buyer and product records printed on the factura.
func (s *Service) voucher(ctx context.Context, doc *Sale) (electronic.Voucher, error) {
	buyer, err := s.refs.Party(ctx, reference.KindCustomer, doc.CustomerID)
	if err != nil {
		return electronic.Voucher{}, fmt.Errorf("load buyer: %w", err)
	}
	products := make(map[id.ID]reference.Product, len(doc.Lines))
	for _, l := range doc.Lines {
		if _, ok := products[l.ProductID]; ok {
			continue
		}
		p, err := s.refs.Product(ctx, l.ProductID)
		if err != nil {
			return electronic.Voucher{}, fmt.Errorf("load product: %w", err)
		}
		products[l.ProductID] = p
	}
	return doc.Voucher(buyer, products), nil
}

// Void annuls a draft or issued sale. Issued sales give their goods back to
// stock at the cost frozen when they left.
func (s *Service) Void(ctx context.Context, req VoidRequest) (*Sale, error) {
	var out *Sale
	err := s.txm.RunInTransaction(ctx, func(ctx context.Context) error {
		doc, err := s.repo.GetForUpdate(ctx, req.SaleID)
		if err != nil {
			return err
		}
		if err := domain.CheckVersion[State](doc, Machine.Entity(), req.ExpectedVersion); err != nil {
			return err
		}
		if doc.State == StateIssued && doc.Electronic {
			if err := s.checkElectronic(ctx, doc, req.PortalConfirmed); err != nil {
				return err
			}
		}
		if doc.State == StateIssued {
			// collected or withheld sales stay issued
			if err := s.accounts.VoidFor(ctx, cartera.KindReceivable, doc.ID); err != nil {
				return err
			}
		}

		_, err = s.lifecycle.Apply(ctx, doc, ActionVoid, req.Reason,
			func(ctx context.Context, res statemachine.Result[State]) error {
				doc.VoidReason = res.Reason
				if res.From != StateIssued {
					return nil
				}
				_, err := s.kardex.Reverse(ctx, doc.InventoryReference(), res.Reason)
				return err
			},
			func(ctx context.Context) error {
				doc.Touch(appctx.GetActorID(ctx))
				return s.repo.Update(ctx, doc)
			})
		if err != nil {
			return err
		}
		out = doc
		return nil
	})
	if err != nil {
		return nil, err
	}

	logger.Info(ctx, "sale voided", "id", out.ID, "number", out.FormattedNumber)
	return out, nil
}

func (s *Service) checkElectronic(ctx context.Context, doc *Sale, portalConfirmed bool) error {
	ed, err := s.electronic.GetByParent(ctx, electronic.ParentSale, doc.ID)
	if apperror.IsNotFound(err) {
		return nil
	}
	if err != nil {
		return err
	}
	if ed.InFlight() {
		return apperror.NewConflict("electronic invoice is still being processed by the tax authority").
			WithDetail("electronic_state", string(ed.State))
	}
	if ed.State == electronic.StateAuthorized && !portalConfirmed {
		return apperror.NewConflict("authorized invoice must be annulled in the tax authority portal first").
			WithDetail("access_key", ed.AccessKey)
	}
	return nil
}

// Get retrieves a sale with lines.
func (s *Service) Get(ctx context.Context, saleID id.ID) (*Sale, error) {
	return s.repo.GetByID(ctx, saleID)
}

// List retrieves sales with filtering.
func (s *Service) List(ctx context.Context, filter ListFilter) (domain.ListResult[*Sale], error) {
	if err := filter.Normalize(); err != nil {
		return domain.ListResult[*Sale]{}, err
	}
	return s.repo.List(ctx, filter)
}

// VerifyHistory replays the state history of a sale against its state.
func (s *Service) VerifyHistory(ctx context.Context, saleID id.ID) (bool, error) {
	doc, err := s.repo.GetByID(ctx, saleID)
	if err != nil {
		return false, err
	}
	_, ok, err := s.lifecycle.Replay(ctx, doc)
	return ok, err
}
