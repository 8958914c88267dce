package sequence

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"osiris/internal/core/apperror"
	appctx "osiris/internal/core/context"
	"osiris/internal/core/id"
	"osiris/internal/core/tx"
	"osiris/internal/domain/audit"
	"osiris/internal/domain/reference"
	"osiris/pkg/logger"
)

var tracer = otel.Tracer("osiris/sequence")

// Repository is the persistence contract of the issuer.
type Repository interface {
	// FindAllocation returns the allocation of entityID or a NotFound error.
	FindAllocation(ctx context.Context, entityID id.ID) (*Allocation, error)
	// Increment atomically bumps the counter (creating it at 0 first) and returns the new value.
	// It fails with PreconditionFailed unless the emission point is active at that moment.
	Increment(ctx context.Context, pointID id.ID, docType DocumentType) (int64, error)
	// SaveAllocation inserts the allocation; a second allocation for the same
	// entity fails with a Duplicate error.
	SaveAllocation(ctx context.Context, a *Allocation) error
	MarkConsumed(ctx context.Context, entityID id.ID, at time.Time) error
	Current(ctx context.Context, pointID id.ID, docType DocumentType) (int64, error)
	// SetForward locks the counter row and raises it to value, returning the previous value.
	SetForward(ctx context.Context, pointID id.ID, docType DocumentType, value int64) (int64, error)
	Unconsumed(ctx context.Context, f GapFilter, before time.Time) ([]Allocation, error)
	Missing(ctx context.Context, f GapFilter) ([]MissingRange, error)
}

// Service is the Sequence Issuer.
type Service struct {
	repo  Repository
	refs  reference.Checker
	txm   tx.Manager
	audit *audit.Service
	now   func() time.Time
}

func NewService(repo Repository, refs reference.Checker, txm tx.Manager, auditSvc *audit.Service) *Service {
	return &Service{
		repo:  repo,
		refs:  refs,
		txm:   txm,
		audit: auditSvc,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// Allocate returns the number bound to req.EntityID, issuing a new one if needed.
//
// The counter increment and the allocation record commit in their own short
// transaction, independent of any transaction in ctx: once issued, a number
// is never handed out again, even if the caller later rolls back.
func (s *Service) Allocate(ctx context.Context, req AllocateRequest) (*Allocation, error) {
	ctx, span := tracer.Start(ctx, "sequence.allocate", trace.WithAttributes(
		attribute.String("document_type", string(req.DocumentType)),
		attribute.String("emission_point_id", req.EmissionPointID.String()),
	))
	defer span.End()

	if err := req.DocumentType.Validate(); err != nil {
		return nil, err
	}
	if id.IsNil(req.EntityID) {
		return nil, apperror.NewValidation("allocation requires the owning entity id")
	}

	ep, err := reference.RequireEmissionPoint(ctx, s.refs, req.EmissionPointID)
	if err != nil {
		return nil, err
	}

	if existing, err := s.repo.FindAllocation(ctx, req.EntityID); err == nil {
		return existing, s.checkSameCounter(existing, req)
	} else if !apperror.IsNotFound(err) {
		return nil, fmt.Errorf("find allocation: %w", err)
	}

	var alloc *Allocation
	err = s.txm.RunIndependent(ctx, func(ctx context.Context) error {
		value, err := s.repo.Increment(ctx, req.EmissionPointID, req.DocumentType)
		if err != nil {
			return fmt.Errorf("increment counter: %w", err)
		}
		if value > MaxValue {
			return apperror.NewBusinessRule(apperror.CodeConflict, "sequence exhausted for emission point").
				WithDetail("document_type", string(req.DocumentType))
		}
		alloc = &Allocation{
			EntityID:        req.EntityID,
			EmissionPointID: req.EmissionPointID,
			DocumentType:    req.DocumentType,
			Value:           value,
			Formatted:       Format(ep.EstablishmentCode, ep.PointCode, value),
			AllocatedAt:     s.now(),
		}
		return s.repo.SaveAllocation(ctx, alloc)
	})
	if err != nil {
		// A concurrent retry for the same entity won the race; its increment
		// committed and ours rolled back together with the duplicate insert.
		if apperror.IsDuplicate(err) {
			existing, findErr := s.repo.FindAllocation(ctx, req.EntityID)
			if findErr != nil {
				return nil, fmt.Errorf("reload allocation: %w", findErr)
			}
			return existing, s.checkSameCounter(existing, req)
		}
		return nil, err
	}

	logger.Info(ctx, "fiscal number allocated",
		"document_type", alloc.DocumentType,
		"number", alloc.Formatted,
		"entity_id", alloc.EntityID,
	)
	return alloc, nil
}

func (s *Service) checkSameCounter(a *Allocation, req AllocateRequest) error {
	if a.EmissionPointID != req.EmissionPointID || a.DocumentType != req.DocumentType {
		return apperror.NewConflict("entity already holds a number from another counter").
			WithDetail("entity_id", req.EntityID.String()).
			WithDetail("number", a.Formatted)
	}
	return nil
}

// MarkConsumed records that the owning document committed with its number.
// Call it inside the document transaction.
func (s *Service) MarkConsumed(ctx context.Context, entityID id.ID) error {
	return s.repo.MarkConsumed(ctx, entityID, s.now())
}

// Current returns the last issued value of a counter (0 when never used).
func (s *Service) Current(ctx context.Context, pointID id.ID, docType DocumentType) (int64, error) {
	if err := docType.Validate(); err != nil {
		return 0, err
	}
	return s.repo.Current(ctx, pointID, docType)
}

// AdjustManual raises a counter to a value set by an administrator, for example
// when numbering continues from a previous system. Counters never move back.
func (s *Service) AdjustManual(ctx context.Context, req AdjustRequest) (int64, error) {
	if !appctx.IsAdmin(ctx) {
		return 0, apperror.NewForbidden("manual sequence adjustment requires an administrator")
	}
	if strings.TrimSpace(req.Justification) == "" {
		return 0, apperror.NewValidation("justification is required").WithDetail("field", "justification")
	}
	if err := req.DocumentType.Validate(); err != nil {
		return 0, err
	}
	if req.NewValue < 1 || req.NewValue > MaxValue {
		return 0, apperror.NewValidation("new value out of range").WithDetail("new_value", req.NewValue)
	}
	if _, err := reference.RequireEmissionPoint(ctx, s.refs, req.EmissionPointID); err != nil {
		return 0, err
	}

	var previous int64
	err := s.txm.RunInTransaction(ctx, func(ctx context.Context) error {
		var err error
		previous, err = s.repo.SetForward(ctx, req.EmissionPointID, req.DocumentType, req.NewValue)
		if err != nil {
			return err
		}
		if req.NewValue <= previous {
			return apperror.NewValidation("sequence can only move forward").
				WithDetail("current", previous).
				WithDetail("new_value", req.NewValue)
		}
		return s.audit.Record(ctx, "emission_point_sequence", req.EmissionPointID, audit.ActionManualAdjust,
			map[string]any{"document_type": string(req.DocumentType), "current_value": previous},
			map[string]any{
				"document_type": string(req.DocumentType),
				"current_value": req.NewValue,
				"delta":         req.NewValue - previous,
				"justification": req.Justification,
			})
	})
	if err != nil {
		return 0, err
	}

	logger.Warn(ctx, "fiscal sequence adjusted manually",
		"emission_point_id", req.EmissionPointID,
		"document_type", req.DocumentType,
		"from", previous,
		"to", req.NewValue,
	)
	return previous, nil
}

// Gaps reports numbers issued but never used by a committed document, and
// counter ranges with no allocation at all.
func (s *Service) Gaps(ctx context.Context, f GapFilter) (*GapReport, error) {
	if f.DocumentType != "" {
		if err := f.DocumentType.Validate(); err != nil {
			return nil, err
		}
	}
	if f.OlderThan <= 0 {
		f.OlderThan = 5 * time.Minute
	}
	if f.Limit <= 0 || f.Limit > 1000 {
		f.Limit = 1000
	}

	unconsumed, err := s.repo.Unconsumed(ctx, f, s.now().Add(-f.OlderThan))
	if err != nil {
		return nil, fmt.Errorf("list unconsumed allocations: %w", err)
	}
	missing, err := s.repo.Missing(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("list missing ranges: %w", err)
	}
	return &GapReport{Unconsumed: unconsumed, Missing: missing}, nil
}
