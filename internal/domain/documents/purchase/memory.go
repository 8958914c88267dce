package purchase

import (
	"context"
	"sort"
	"sync"

	"osiris/internal/core/apperror"
	"osiris/internal/core/id"
	"osiris/internal/domain"
)

// MemoryRepository is an in-process Repository for service tests.
type MemoryRepository struct {
	mu        sync.Mutex
	purchases map[id.ID]Purchase
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{purchases: make(map[id.ID]Purchase)}
}

func clone(p Purchase) *Purchase {
	p.Lines = append([]Line(nil), p.Lines...)
	return &p
}

func (r *MemoryRepository) Create(_ context.Context, s *Purchase) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.purchases[s.ID]; ok {
		return apperror.NewDuplicate("purchase", "id", s.ID.String())
	}
	r.purchases[s.ID] = *clone(*s)
	return nil
}

func (r *MemoryRepository) GetByID(_ context.Context, purchaseID id.ID) (*Purchase, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.purchases[purchaseID]
	if !ok {
		return nil, apperror.NewNotFound("purchase", purchaseID)
	}
	return clone(s), nil
}

func (r *MemoryRepository) GetForUpdate(ctx context.Context, purchaseID id.ID) (*Purchase, error) {
	return r.GetByID(ctx, purchaseID)
}

func (r *MemoryRepository) Update(_ context.Context, s *Purchase) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.purchases[s.ID]
	if !ok {
		return apperror.NewNotFound("purchase", s.ID)
	}
	if cur.Version != s.Version-1 {
		return apperror.NewConcurrentModification("purchase", s.ID)
	}
	r.purchases[s.ID] = *clone(*s)
	return nil
}

func (r *MemoryRepository) List(_ context.Context, f ListFilter) (domain.ListResult[*Purchase], error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*Purchase
	for _, s := range r.purchases {
		if !f.IncludeInactive && !s.Active {
			continue
		}
		if f.State != "" && s.State != f.State {
			continue
		}
		if f.SupplierID != nil && s.SupplierID != *f.SupplierID {
			continue
		}
		out = append(out, clone(s))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return domain.Page(out, f.ListFilter), nil
}
