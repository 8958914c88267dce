package audit

import (
	"context"
	"strings"
	"time"

	"osiris/internal/core/apperror"
	appctx "osiris/internal/core/context"
	"osiris/internal/core/id"
)

// Repository persists audit entries. Append must run inside the caller's
// transaction so an aborted change leaves no audit row behind.
type Repository interface {
	Append(ctx context.Context, e *Entry) error
	List(ctx context.Context, f Filter) ([]Entry, error)
}

// Service is the Audit Log.
type Service struct {
	repo Repository
	now  func() time.Time
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo, now: func() time.Time { return time.Now().UTC() }}
}

// Record appends one entry. The actor is taken from ctx.
func (s *Service) Record(ctx context.Context, entityType string, entityID id.ID, action Action, before, after map[string]any) error {
	if strings.TrimSpace(entityType) == "" || id.IsNil(entityID) {
		return apperror.NewValidation("audit entry requires entity type and id")
	}
	e := &Entry{
		ID:         id.New(),
		EntityType: entityType,
		EntityID:   entityID,
		Action:     action,
		Before:     before,
		After:      after,
		ActorID:    appctx.GetActorID(ctx),
		CreatedAt:  s.now(),
	}
	return s.repo.Append(ctx, e)
}

// List returns entries newest first.
func (s *Service) List(ctx context.Context, f Filter) ([]Entry, error) {
	if err := f.Normalize(); err != nil {
		return nil, apperror.NewValidation(err.Error())
	}
	return s.repo.List(ctx, f)
}
