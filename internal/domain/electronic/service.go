package electronic

import (
	"context"
	"fmt"
	"strings"
	"time"

	"osiris/internal/core/apperror"
	appctx "osiris/internal/core/context"
	"osiris/internal/core/entity"
	"osiris/internal/core/id"
	"osiris/internal/core/statemachine"
	"osiris/internal/core/tx"
	"osiris/internal/domain"
	"osiris/internal/domain/audit"
	"osiris/internal/domain/history"
	"osiris/internal/domain/reference"
	"osiris/internal/domain/sequence"
	"osiris/pkg/logger"
)

// Repository defines persistence of electronic documents.
type Repository interface {
	// Create fails with Duplicate when the access key or the parent is taken.
	Create(ctx context.Context, doc *Document) error
	GetByID(ctx context.Context, docID id.ID) (*Document, error)
	GetForUpdate(ctx context.Context, docID id.ID) (*Document, error)
	GetByParent(ctx context.Context, kind ParentKind, parentID id.ID) (*Document, error)
	// Update persists doc if the stored version is doc.Version-1.
	Update(ctx context.Context, doc *Document) error
	List(ctx context.Context, filter ListFilter) (domain.ListResult[*Document], error)
}

// ListFilter for filtering electronic documents.
type ListFilter struct {
	domain.ListFilter

	State      State
	ParentKind ParentKind
}

// Submission is what the submission queue stores for one document.
type Submission struct {
	EntityID     id.ID
	DocumentType sequence.DocumentType
	Payload      string
}

// Enqueuer hands a document to the submission queue inside the caller's transaction.
type Enqueuer interface {
	Enqueue(ctx context.Context, s Submission) error
}

// AuthorizationListener is notified, in the same transaction, when a
// document of its parent kind is authorized.
type AuthorizationListener interface {
	ElectronicAuthorized(ctx context.Context, doc *Document) error
}

// IssueRequest creates the electronic twin of an issued parent document.
type IssueRequest struct {
	ParentKind      ParentKind
	ParentID        id.ID
	DocumentType    sequence.DocumentType
	EmissionPointID id.ID
	Sequential      int64
	IssueDate       time.Time
	Voucher         Voucher
}

// Authorization is the authority's positive verdict.
type Authorization struct {
	Number   string
	At       time.Time
	Messages string
}

// Service manages electronic documents.
type Service struct {
	repo      Repository
	refs      reference.Checker
	txm       tx.Manager
	audit     *audit.Service
	lifecycle *domain.Lifecycle[State, Action]
	enqueuer  Enqueuer
	listeners map[ParentKind]AuthorizationListener
}

// NewService creates a new electronic document service.
func NewService(
	repo Repository,
	refs reference.Checker,
	txm tx.Manager,
	recorder *history.Recorder,
	auditSvc *audit.Service,
	enqueuer Enqueuer,
) *Service {
	return &Service{
		repo:      repo,
		refs:      refs,
		txm:       txm,
		audit:     auditSvc,
		lifecycle: domain.NewLifecycle(history.KindElectronic, Machine, recorder, StateQueued),
		enqueuer:  enqueuer,
		listeners: make(map[ParentKind]AuthorizationListener),
	}
}

// Subscribe registers the listener of a parent kind. Call during wiring only.
func (s *Service) Subscribe(kind ParentKind, l AuthorizationListener) {
	s.listeners[kind] = l
}

// Issue creates the document in EN_COLA and enqueues it. Issuing twice for
// the same parent returns the first document.
func (s *Service) Issue(ctx context.Context, req IssueRequest) (*Document, error) {
	if err := req.DocumentType.Validate(); err != nil {
		return nil, err
	}

	var out *Document
	err := s.txm.RunInTransaction(ctx, func(ctx context.Context) error {
		existing, err := s.repo.GetByParent(ctx, req.ParentKind, req.ParentID)
		if err == nil {
			out = existing
			return nil
		}
		if !apperror.IsNotFound(err) {
			return fmt.Errorf("find electronic document: %w", err)
		}

		ep, err := reference.RequireEmissionPoint(ctx, s.refs, req.EmissionPointID)
		if err != nil {
			return err
		}
		settings, err := s.refs.Settings(ctx)
		if err != nil {
			return fmt.Errorf("load settings: %w", err)
		}

		key, err := GenerateAccessKey(AccessKeyParams{
			IssueDate:    req.IssueDate,
			DocumentCode: req.DocumentType.Code(),
			RUC:          settings.RUC,
			Environment:  settings.Environment,
			Series:       ep.Series(),
			Sequential:   req.Sequential,
			NumericCode:  NumericCode(req.ParentID),
			EmissionType: settings.EmissionType,
		})
		if err != nil {
			return err
		}

		payload, err := BuildPayload(TaxInfo{
			Environment:   settings.Environment,
			EmissionType:  settings.EmissionType,
			BusinessName:  settings.BusinessName,
			RUC:           settings.RUC,
			AccessKey:     key,
			DocumentCode:  req.DocumentType.Code(),
			Establishment: ep.EstablishmentCode,
			Point:         ep.PointCode,
			Sequential:    sequence.Pad(req.Sequential),
			Address:       settings.Address,
		}, req.Voucher)
		if err != nil {
			return fmt.Errorf("build payload: %w", err)
		}
		if err := ValidateAccessKey(key); err != nil {
			return err
		}

		doc := &Document{
			BaseEntity:   entity.NewBaseEntity(appctx.GetActorID(ctx)),
			ParentKind:   req.ParentKind,
			ParentID:     req.ParentID,
			DocumentType: req.DocumentType,
			AccessKey:    key,
			Environment:  settings.Environment,
			State:        StateQueued,
			Payload:      payload,
		}
		if err := s.repo.Create(ctx, doc); err != nil {
			return err
		}
		if err := s.audit.Record(ctx, string(history.KindElectronic), doc.ID, audit.ActionCreate, nil, doc.Snapshot()); err != nil {
			return err
		}
		if err := s.enqueuer.Enqueue(ctx, Submission{EntityID: doc.ID, DocumentType: doc.DocumentType, Payload: payload}); err != nil {
			return fmt.Errorf("enqueue: %w", err)
		}
		out = doc
		return nil
	})
	if err != nil {
		return nil, err
	}

	logger.Info(ctx, "electronic document queued", "id", out.ID, "access_key", out.AccessKey)
	return out, nil
}

// MarkSigned stores the signed XML and moves EN_COLA -> FIRMADO.
func (s *Service) MarkSigned(ctx context.Context, docID id.ID, signedXML string) (*Document, error) {
	if strings.TrimSpace(signedXML) == "" {
		return nil, apperror.NewValidation("signed XML is empty")
	}
	return s.transition(ctx, docID, ActionSign, "", func(d *Document) { d.SignedXML = signedXML })
}

// MarkSent records that reception accepted the document.
func (s *Service) MarkSent(ctx context.Context, docID id.ID) (*Document, error) {
	return s.transition(ctx, docID, ActionSend, "", nil)
}

// MarkReturned records that reception returned the document (DEVUELTA).
func (s *Service) MarkReturned(ctx context.Context, docID id.ID, messages string) (*Document, error) {
	return s.transition(ctx, docID, ActionReturn, verdictReason("Devuelto por el SRI", messages),
		func(d *Document) { d.Messages = messages })
}

// MarkAuthorized stores the authorization and notifies the parent's listener.
func (s *Service) MarkAuthorized(ctx context.Context, docID id.ID, a Authorization) (*Document, error) {
	return s.transition(ctx, docID, ActionAuthorize, "", func(d *Document) {
		at := a.At.UTC()
		d.AuthorizationNumber = a.Number
		d.AuthorizedAt = &at
		d.Messages = a.Messages
	})
}

// MarkRejected records a permanent rejection.
func (s *Service) MarkRejected(ctx context.Context, docID id.ID, messages string) (*Document, error) {
	return s.transition(ctx, docID, ActionReject, verdictReason("No autorizado por el SRI", messages),
		func(d *Document) { d.Messages = messages })
}

// Requeue sends a returned document back to EN_COLA after an operator fixed it.
func (s *Service) Requeue(ctx context.Context, docID id.ID, reason string) (*Document, error) {
	return s.transition(ctx, docID, ActionRequeue, reason, func(d *Document) {
		d.SignedXML = ""
		d.Messages = ""
	})
}

func (s *Service) transition(ctx context.Context, docID id.ID, action Action, reason string, change func(*Document)) (*Document, error) {
	var out *Document
	err := s.txm.RunInTransaction(ctx, func(ctx context.Context) error {
		doc, err := s.repo.GetForUpdate(ctx, docID)
		if err != nil {
			return err
		}
		_, err = s.lifecycle.Apply(ctx, doc, action, reason,
			func(context.Context, statemachine.Result[State]) error {
				if change != nil {
					change(doc)
				}
				return nil
			},
			func(ctx context.Context) error {
				doc.Touch(appctx.GetActorID(ctx))
				return s.repo.Update(ctx, doc)
			})
		if err != nil {
			return err
		}
		if action == ActionAuthorize {
			if l, ok := s.listeners[doc.ParentKind]; ok {
				if err := l.ElectronicAuthorized(ctx, doc); err != nil {
					return fmt.Errorf("notify %s: %w", doc.ParentKind, err)
				}
			}
		}
		out = doc
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Get returns a document by id.
func (s *Service) Get(ctx context.Context, docID id.ID) (*Document, error) {
	return s.repo.GetByID(ctx, docID)
}

// GetByParent returns the electronic document of a parent, NotFound if none.
func (s *Service) GetByParent(ctx context.Context, kind ParentKind, parentID id.ID) (*Document, error) {
	return s.repo.GetByParent(ctx, kind, parentID)
}

// List retrieves electronic documents with filtering.
func (s *Service) List(ctx context.Context, filter ListFilter) (domain.ListResult[*Document], error) {
	if err := filter.Normalize(); err != nil {
		return domain.ListResult[*Document]{}, err
	}
	return s.repo.List(ctx, filter)
}

// VerifyHistory replays the state history of a document against its state.
func (s *Service) VerifyHistory(ctx context.Context, docID id.ID) (bool, error) {
	doc, err := s.repo.GetByID(ctx, docID)
	if err != nil {
		return false, err
	}
	_, ok, err := s.lifecycle.Replay(ctx, doc)
	return ok, err
}

func verdictReason(prefix, messages string) string {
	if messages == "" {
		return prefix
	}
	return prefix + ": " + messages
}
